package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"changewatch/internal/config"
	"changewatch/internal/domain/entity"
	"changewatch/internal/infra/cache"
	"changewatch/internal/infra/fetcher"
	"changewatch/internal/infra/server"
	"changewatch/internal/infra/workerpool"
	"changewatch/internal/observability/logging"
	"changewatch/internal/observability/metrics"
	"changewatch/internal/observability/tracing"
	pkgconfig "changewatch/internal/pkg/config"
	"changewatch/internal/resilience/circuitbreaker"
	"changewatch/internal/resilience/ratelimit"
	"changewatch/internal/usecase/monitor"
	"changewatch/internal/usecase/notify"
)

const (
	shutdownTimeout = 30 * time.Second
	eventBuffer     = 256
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start watching the configured resources",
	Long: `Start the change monitor daemon.

The daemon will:
  - Read component settings from the environment
  - Load the resources from the monitors file
  - Check every resource once, then on its own interval
  - Send change and failure notifications to the enabled webhooks
  - Serve /health, /health/ready, /health/monitors and /stats on HEALTH_PORT
  - Serve /metrics on METRICS_PORT

It runs until interrupted (Ctrl+C) or it receives SIGTERM.

Example:
  changewatch run -c monitors.yaml
  MONITORS_FILE=/etc/changewatch/monitors.yaml changewatch run`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "", "path to the monitors file (default $MONITORS_FILE or monitors.yaml)")
}

// daemon holds the wired components of a running instance.
type daemon struct {
	logger     *slog.Logger
	pool       *workerpool.Pool
	notifyPool *workerpool.Pool
	monitor    *monitor.Service
	notifier notify.Service
	health   *server.HealthServer
	metrics  *server.MetricsServer
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	cfg, warnings := config.Load(pkgconfig.NewConfigMetrics("daemon"))
	for _, w := range warnings {
		logger.Warn("configuration fallback applied", slog.String("detail", w))
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg.MonitorsFile = path
	}

	resources, err := loadResources(cfg.MonitorsFile, cfg.DefaultInterval)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded",
		slog.String("monitors_file", cfg.MonitorsFile),
		slog.Int("resources", len(resources)),
		slog.Int("pool_workers", cfg.Pool.MaxWorkers),
		slog.Int("health_port", cfg.Server.HealthPort),
		slog.Int("metrics_port", cfg.Server.MetricsPort))

	cfg.Tracing.Version = version
	shutdownTracing, err := tracing.Init(cfg.Tracing, logger)
	if err != nil {
		return err
	}

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.run(ctx, resources, shutdownTracing)
}

func loadResources(path string, defaultInterval time.Duration) ([]entity.ResourceConfig, error) {
	file, err := config.LoadMonitors(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load monitors: %w", err)
	}
	resources, err := file.ResourceConfigs(defaultInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid monitors file %s: %w", path, err)
	}
	if len(resources) == 0 {
		return nil, errors.New("no monitors configured")
	}
	return resources, nil
}

func newDaemon(cfg *config.AppConfig, logger *slog.Logger) (*daemon, error) {
	cfg.Pool.Metrics = metrics.Pool{Name: "checks"}
	cfg.Pool.Logger = logger
	pool := workerpool.New(cfg.Pool)

	cfg.NotifyPool.Metrics = metrics.Pool{Name: "notify"}
	cfg.NotifyPool.Logger = logger
	notifyPool := workerpool.New(cfg.NotifyPool)

	cfg.Breaker.OnStateChange = metrics.RecordCircuitState
	cfg.Breaker.Logger = logger
	breakers := circuitbreaker.NewRegistry(cfg.Breaker)
	limiters := ratelimit.NewRegistry(cfg.Limiter, metrics.SetLimiterRate)

	hashes, err := cache.New[string, monitor.Baseline](cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("baseline cache: %w", err)
	}
	if err := prometheus.Register(metrics.NewCacheCollector("baselines", hashes.Stats)); err != nil {
		return nil, fmt.Errorf("register cache metrics: %w", err)
	}

	fetch, err := fetcher.NewHTTPFetcher(cfg.Fetch, logger)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}

	mon, err := monitor.New(cfg.Monitor, monitor.Dependencies{
		Fetcher:  fetch,
		Pool:     pool,
		Breakers: breakers,
		Limiters: limiters,
		Hashes:   hashes,
		Metrics:  metrics.Monitor{},
		Tracer:   otel.Tracer("changewatch/monitor"),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	var channels []notify.Channel
	if cfg.Slack.Enabled {
		channels = append(channels, notify.NewSlackChannel(cfg.Slack))
		logger.Info("Slack channel initialized", slog.String("status", "enabled"))
	} else {
		logger.Info("Slack channel disabled")
	}
	if cfg.Discord.Enabled {
		channels = append(channels, notify.NewDiscordChannel(cfg.Discord))
		logger.Info("Discord channel initialized", slog.String("status", "enabled"))
	} else {
		logger.Info("Discord channel disabled")
	}
	notifier := notify.NewService(channels, notifyPool, cfg.Notify)

	return &daemon{
		logger:     logger,
		pool:       pool,
		notifyPool: notifyPool,
		monitor:    mon,
		notifier:   notifier,
		health: server.NewHealthServer(
			fmt.Sprintf(":%d", cfg.Server.HealthPort), mon, notifier, logger),
		metrics: server.NewMetricsServer(
			fmt.Sprintf(":%d", cfg.Server.MetricsPort), nil, logger),
	}, nil
}

// run serves until ctx is done or a listener fails, then shuts down in
// dependency order: monitor, notifications, pools, tracing.
func (d *daemon) run(ctx context.Context, resources []entity.ResourceConfig, shutdownTracing func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.health.Start(gctx) })
	g.Go(func() error { return d.metrics.Start(gctx) })

	events, _ := d.monitor.Subscribe(eventBuffer, monitor.EventChangeDetected, monitor.EventMonitorError)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		// Ends when the monitor stops and closes events.
		d.notifier.Run(context.Background(), events)
	}()

	d.monitor.Start()
	added := d.addMonitors(gctx, resources)
	d.health.SetReady(true)
	d.logger.Info("changewatch started",
		slog.String("version", version),
		slog.Int("monitors", added))

	<-gctx.Done()
	d.health.SetReady(false)
	d.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := d.monitor.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	select {
	case <-dispatched:
	case <-shutdownCtx.Done():
	}
	if err := d.notifier.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("notify: %w", err))
	}
	if err := d.notifyPool.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("notify pool: %w", err))
	}
	if err := d.pool.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool: %w", err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		d.logger.Error("shutdown completed with errors", slog.Any("error", err))
		return err
	}
	d.logger.Info("shutdown complete")
	return nil
}

// addMonitors registers resources concurrently. Each registration runs the
// first check, so the worker count bounds the fan-out.
func (d *daemon) addMonitors(ctx context.Context, resources []entity.ResourceConfig) int {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, d.pool.Stats().MaxWorkers))

	ids := make([]string, len(resources))
	for i, rc := range resources {
		g.Go(func() error {
			id, err := d.monitor.AddMonitor(gctx, rc)
			if err != nil {
				d.logger.Error("failed to add monitor",
					slog.String("locator", rc.Locator),
					slog.Any("error", err))
				return nil
			}
			ids[i] = id
			return nil
		})
	}
	_ = g.Wait()

	added := 0
	for _, id := range ids {
		if id != "" {
			added++
		}
	}
	return added
}
