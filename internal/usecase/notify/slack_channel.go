package notify

import "changewatch/internal/infra/notifier"

// NewSlackChannel creates the "slack" channel. A disabled config yields a
// channel that is skipped during dispatch.
func NewSlackChannel(config notifier.SlackConfig) Channel {
	var n notifier.Notifier = notifier.NewNoOpNotifier()
	if config.Enabled {
		n = notifier.NewSlackNotifier(config)
	}
	return &notifierChannel{name: "slack", notifier: n, enabled: config.Enabled}
}
