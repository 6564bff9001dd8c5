package workerpool

import "time"

// Task outcomes reported to Metrics.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeTimeout  = "timeout"
	OutcomePanic    = "panic"
	OutcomeRetry    = "retry"
	OutcomeRejected = "rejected"
)

// Metrics receives pool telemetry. Implementations must not block; some
// methods are called with the pool lock held.
type Metrics interface {
	ObserveTask(outcome string, duration time.Duration)
	SetActive(n int)
	SetQueued(n int)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) ObserveTask(string, time.Duration) {}
func (NoopMetrics) SetActive(int)                     {}
func (NoopMetrics) SetQueued(int)                     {}
