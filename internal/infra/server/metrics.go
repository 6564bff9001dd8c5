package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes a Prometheus gatherer on /metrics.
type MetricsServer struct {
	addr     string
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewMetricsServer creates a metrics server. A nil gatherer means the
// default registry.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *MetricsServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsServer{addr: addr, gatherer: gatherer, logger: logger}
}

// Handler returns the /metrics handler.
func (m *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{
		ErrorLog:          slog.NewLogLogger(m.logger.Handler(), slog.LevelError),
		EnableOpenMetrics: true,
	}))
	return mux
}

// Start serves until ctx is done. It returns nil after a graceful shutdown.
func (m *MetricsServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              m.addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return serve(ctx, srv, "metrics", m.logger)
}
