package notifier

import "context"

// NoOpNotifier discards notifications. It stands in for disabled channels.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier instance.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Notify does nothing and returns nil.
func (n *NoOpNotifier) Notify(context.Context, *Notification) error {
	return nil
}
