package notify

import "errors"

// Sentinel errors for notify use case operations.
var (
	// ErrChannelDisabled indicates that Send() was called on a disabled channel.
	ErrChannelDisabled = errors.New("channel is disabled")

	// ErrNotificationDropped indicates that a notification was dropped because
	// every dispatch slot stayed busy, the pool refused the task, or the
	// service is shutting down.
	ErrNotificationDropped = errors.New("notification dropped")

	// ErrCircuitBreakerOpen indicates that the channel's circuit breaker is
	// open and notifications are rejected until it half-opens.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open for this channel")
)
