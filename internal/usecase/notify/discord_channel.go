package notify

import "changewatch/internal/infra/notifier"

// NewDiscordChannel creates the "discord" channel. A disabled config yields
// a channel that is skipped during dispatch.
func NewDiscordChannel(config notifier.DiscordConfig) Channel {
	var n notifier.Notifier = notifier.NewNoOpNotifier()
	if config.Enabled {
		n = notifier.NewDiscordNotifier(config)
	}
	return &notifierChannel{name: "discord", notifier: n, enabled: config.Enabled}
}
