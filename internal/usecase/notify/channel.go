// Package notify turns monitor events into webhook notifications. Each
// enabled channel receives every notification as a worker pool task, behind
// a per-channel circuit breaker.
package notify

import (
	"context"

	"changewatch/internal/infra/notifier"
)

// Channel is a notification destination (Slack, Discord, ...).
//
// Implementations handle their own pacing and retries and must be safe for
// concurrent use. Send must respect ctx cancellation.
type Channel interface {
	// Name is the lowercase channel identifier used in logs and metrics.
	Name() string

	// IsEnabled reports whether the channel should receive notifications.
	IsEnabled() bool

	// Send delivers n. It returns ErrChannelDisabled on a disabled channel.
	Send(ctx context.Context, n *notifier.Notification) error
}

// notifierChannel adapts a notifier.Notifier to Channel. Disabled channels
// hold a NoOpNotifier.
type notifierChannel struct {
	name     string
	notifier notifier.Notifier
	enabled  bool
}

func (c *notifierChannel) Name() string    { return c.name }
func (c *notifierChannel) IsEnabled() bool { return c.enabled }

func (c *notifierChannel) Send(ctx context.Context, n *notifier.Notification) error {
	if !c.enabled {
		return ErrChannelDisabled
	}
	if err := n.Validate(); err != nil {
		return err
	}
	return c.notifier.Notify(ctx, n)
}
