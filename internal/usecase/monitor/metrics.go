package monitor

import "time"

// Check outcomes, used as metric labels and in CheckResult.
const (
	OutcomeNew       = "new"
	OutcomeModified  = "modified"
	OutcomeUnchanged = "unchanged"
	OutcomeError     = "error"
)

// Metrics receives monitor measurements.
type Metrics interface {
	ObserveCheck(outcome string, d time.Duration)
	RecordChange(category string)
	RecordFetchError(kind string)
	SetMonitors(total, enabled int)
	RecordDroppedEvent(eventType string)
	// ForgetResource drops per-resource series once a resource is removed.
	ForgetResource(id string)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) ObserveCheck(string, time.Duration) {}
func (NoopMetrics) RecordChange(string)                {}
func (NoopMetrics) RecordFetchError(string)            {}
func (NoopMetrics) SetMonitors(int, int)               {}
func (NoopMetrics) RecordDroppedEvent(string)          {}
func (NoopMetrics) ForgetResource(string)              {}
