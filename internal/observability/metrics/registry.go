// Package metrics provides centralized Prometheus metrics for the application.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics track requests to the health and metrics servers.
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "changewatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "changewatch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Monitor metrics track checks and detected changes.
var (
	// ChecksTotal counts completed checks by outcome
	ChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "changewatch_checks_total",
			Help: "Total number of completed checks",
		},
		[]string{"outcome"}, // outcome: new|modified|unchanged|error
	)

	// CheckDuration measures check duration, retries included
	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "changewatch_check_duration_seconds",
			Help:    "Check duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	// ChangesTotal counts detected modifications by resource category
	ChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "changewatch_changes_total",
			Help: "Total number of detected content changes",
		},
		[]string{"category"},
	)

	// FetchErrorsTotal counts failed checks by error kind
	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "changewatch_fetch_errors_total",
			Help: "Total number of failed fetches",
		},
		[]string{"kind"},
	)

	// MonitorsTotal tracks monitored resources
	MonitorsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "changewatch_monitors",
			Help: "Number of monitored resources",
		},
	)

	// MonitorsEnabled tracks enabled monitored resources
	MonitorsEnabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "changewatch_monitors_enabled",
			Help: "Number of enabled monitored resources",
		},
	)

	// DroppedEventsTotal counts events a slow subscriber missed
	DroppedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "changewatch_dropped_events_total",
			Help: "Total number of events dropped for slow subscribers",
		},
		[]string{"type"},
	)
)

// Resilience metrics track per-resource breakers and limiters.
var (
	// CircuitState is 0 closed, 1 half-open, 2 open
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "changewatch_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	// CircuitTransitionsTotal counts breaker transitions by target state
	CircuitTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "changewatch_circuit_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "to"},
	)

	// LimiterRate tracks the current adaptive rate per resource
	LimiterRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "changewatch_limiter_rate",
			Help: "Current adaptive rate limit in requests per second",
		},
		[]string{"name"},
	)
)

// Worker pool metrics.
var (
	// PoolTasksTotal counts task attempts by pool and outcome
	PoolTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "changewatch_pool_tasks_total",
			Help: "Total number of worker pool task attempts",
		},
		[]string{"pool", "outcome"},
	)

	// PoolTaskDuration measures task attempt duration
	PoolTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "changewatch_pool_task_duration_seconds",
			Help:    "Worker pool task attempt duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"pool"},
	)

	// PoolActive tracks running tasks
	PoolActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "changewatch_pool_active_tasks",
			Help: "Number of running worker pool tasks",
		},
		[]string{"pool"},
	)

	// PoolQueued tracks waiting tasks
	PoolQueued = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "changewatch_pool_queued_tasks",
			Help: "Number of queued worker pool tasks",
		},
		[]string{"pool"},
	)
)

// RecordHTTPRequest records an HTTP request with its metadata
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
