package metrics

import (
	"time"

	"github.com/sony/gobreaker"
)

// Monitor reports monitor measurements to Prometheus.
type Monitor struct{}

// ObserveCheck records a completed check.
func (Monitor) ObserveCheck(outcome string, d time.Duration) {
	ChecksTotal.WithLabelValues(outcome).Inc()
	CheckDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordChange records a detected modification.
func (Monitor) RecordChange(category string) {
	if category == "" {
		category = "uncategorized"
	}
	ChangesTotal.WithLabelValues(category).Inc()
}

// RecordFetchError records a failed check by kind.
func (Monitor) RecordFetchError(kind string) {
	FetchErrorsTotal.WithLabelValues(kind).Inc()
}

// SetMonitors updates the resource gauges.
func (Monitor) SetMonitors(total, enabled int) {
	MonitorsTotal.Set(float64(total))
	MonitorsEnabled.Set(float64(enabled))
}

// RecordDroppedEvent records an event a subscriber could not take.
func (Monitor) RecordDroppedEvent(eventType string) {
	DroppedEventsTotal.WithLabelValues(eventType).Inc()
}

// ForgetResource drops the breaker and limiter series of a removed resource.
func (Monitor) ForgetResource(id string) { ForgetResource(id) }

// Pool reports worker pool telemetry to Prometheus under the pool label Name.
type Pool struct {
	Name string
}

// ObserveTask records one task attempt.
func (p Pool) ObserveTask(outcome string, d time.Duration) {
	PoolTasksTotal.WithLabelValues(p.Name, outcome).Inc()
	if d > 0 {
		PoolTaskDuration.WithLabelValues(p.Name).Observe(d.Seconds())
	}
}

// SetActive sets the running task gauge.
func (p Pool) SetActive(n int) { PoolActive.WithLabelValues(p.Name).Set(float64(n)) }

// SetQueued sets the queued task gauge.
func (p Pool) SetQueued(n int) { PoolQueued.WithLabelValues(p.Name).Set(float64(n)) }

// RecordCircuitState is a circuitbreaker OnStateChange hook.
func RecordCircuitState(name string, _, to gobreaker.State) {
	CircuitState.WithLabelValues(name).Set(circuitStateValue(to))
	CircuitTransitionsTotal.WithLabelValues(name, to.String()).Inc()
}

func circuitStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// SetLimiterRate is a ratelimit registry rate hook.
func SetLimiterRate(name string, rate float64) {
	LimiterRate.WithLabelValues(name).Set(rate)
}

// ForgetResource drops the per-resource series of a removed resource.
func ForgetResource(name string) {
	CircuitState.DeleteLabelValues(name)
	LimiterRate.DeleteLabelValues(name)
	for _, to := range []gobreaker.State{gobreaker.StateClosed, gobreaker.StateHalfOpen, gobreaker.StateOpen} {
		CircuitTransitionsTotal.DeleteLabelValues(name, to.String())
	}
}
