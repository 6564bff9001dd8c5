package monitor

import "errors"

var (
	// ErrNotFound is returned for operations on an unknown resource id.
	ErrNotFound = errors.New("monitor: resource not found")

	// ErrDuplicate is returned when a resource with the same canonical
	// locator and extractor is already monitored.
	ErrDuplicate = errors.New("monitor: resource already monitored")

	// ErrCheckDiscarded is returned when a resource was removed or retargeted
	// while its check was in flight. The result is not applied.
	ErrCheckDiscarded = errors.New("monitor: check result discarded")

	// ErrStopped is returned by mutating operations after Stop.
	ErrStopped = errors.New("monitor: service stopped")
)
