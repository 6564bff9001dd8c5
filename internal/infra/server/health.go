package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"changewatch/internal/domain/entity"
	"changewatch/internal/usecase/monitor"
	"changewatch/internal/usecase/notify"
)

// MonitorSource is the part of monitor.Service the health server reads.
type MonitorSource interface {
	Health() monitor.Health
	Stats() monitor.Stats
	List() []*entity.MonitoredResource
}

// ChannelSource reports notification channel health.
type ChannelSource interface {
	GetChannelHealth() []notify.ChannelHealthStatus
}

// HealthServer serves:
//   - GET /health: monitor health classification, always 200 while the process is alive
//   - GET /health/ready: 200 once SetReady(true), otherwise 503
//   - GET /health/monitors: per-resource status
//   - GET /stats: monitor, pool, cache, breaker and limiter counters
type HealthServer struct {
	addr     string
	logger   *slog.Logger
	monitors MonitorSource
	channels ChannelSource
	isReady  atomic.Bool
}

type statusResponse struct {
	Status string `json:"status"`
}

// resourceStatus is one entry of /health/monitors.
type resourceStatus struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Locator           string    `json:"locator"`
	Status            string    `json:"status"` // ok|failing|disabled|pending
	Circuit           string    `json:"circuit"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
	LastCheckedAt     time.Time `json:"last_checked_at,omitempty"`
	LastChangedAt     time.Time `json:"last_changed_at,omitempty"`
	ChangeCount       int       `json:"change_count"`
}

type statsResponse struct {
	monitor.Stats
	Channels []notify.ChannelHealthStatus `json:"channels,omitempty"`
}

// NewHealthServer creates a health server for monitors. channels may be nil.
func NewHealthServer(addr string, monitors MonitorSource, channels ChannelSource, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthServer{
		addr:     addr,
		logger:   logger,
		monitors: monitors,
		channels: channels,
	}
}

// Handler returns the routed, instrumented handler.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", instrument("/health", http.HandlerFunc(h.handleHealth)))
	mux.Handle("GET /health/ready", instrument("/health/ready", http.HandlerFunc(h.handleReadiness)))
	mux.Handle("GET /health/monitors", instrument("/health/monitors", http.HandlerFunc(h.handleMonitors)))
	mux.Handle("GET /stats", instrument("/stats", http.HandlerFunc(h.handleStats)))
	return mux
}

// Start serves until ctx is done. It returns nil after a graceful shutdown.
func (h *HealthServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serve(ctx, srv, "health", h.logger)
}

// SetReady sets the readiness reported by /health/ready.
func (h *HealthServer) SetReady(ready bool) {
	h.isReady.Store(ready)
	h.logger.Info("health server readiness changed", slog.Bool("ready", ready))
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.monitors.Health())
}

func (h *HealthServer) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if h.isReady.Load() {
		h.writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
		return
	}
	h.writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "not ready"})
}

func (h *HealthServer) handleMonitors(w http.ResponseWriter, _ *http.Request) {
	circuits := make(map[string]string)
	for _, c := range h.monitors.Stats().Circuits {
		circuits[c.Name] = c.State
	}

	resources := h.monitors.List()
	out := make([]resourceStatus, 0, len(resources))
	for _, r := range resources {
		circuit := circuits[r.ID]
		if circuit == "" {
			circuit = "closed"
		}
		out = append(out, resourceStatus{
			ID:                r.ID,
			Name:              r.Name,
			Locator:           r.Locator,
			Status:            resourceState(r, circuit),
			Circuit:           circuit,
			ConsecutiveErrors: r.ConsecutiveErrors,
			LastError:         r.LastError,
			LastCheckedAt:     r.LastCheckedAt,
			LastChangedAt:     r.LastChangedAt,
			ChangeCount:       r.ChangeCount,
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func resourceState(r *entity.MonitoredResource, circuit string) string {
	switch {
	case !r.Enabled:
		return "disabled"
	case r.ConsecutiveErrors > 0 || circuit == "open":
		return "failing"
	case r.CheckCount == 0:
		return "pending"
	default:
		return "ok"
	}
}

func (h *HealthServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{Stats: h.monitors.Stats()}
	if h.channels != nil {
		resp.Channels = h.channels.GetChannelHealth()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *HealthServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", slog.Any("error", err))
	}
}
