package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DiscordConfig contains configuration for Discord webhook notifications.
type DiscordConfig struct {
	// Enabled indicates whether Discord notifications are enabled
	Enabled bool

	// WebhookURL is the Discord webhook URL (includes authentication token)
	WebhookURL string

	// Timeout is the HTTP request timeout for Discord API calls
	Timeout time.Duration

	// MaxAttempts and RetryBaseDelay override the retry policy (2 attempts, 5s).
	MaxAttempts    int
	RetryBaseDelay time.Duration

	// RequestsPerSecond overrides the webhook pacing (0.5 req/s, burst 3).
	RequestsPerSecond float64
}

// DiscordNotifier sends change notifications to Discord via webhook.
type DiscordNotifier struct {
	webhook     webhookClient
	policy      retryPolicy
	rateLimiter *RateLimiter
}

// NewDiscordNotifier creates a DiscordNotifier. Pacing defaults to Discord's
// webhook limit of 30 requests per minute with a burst of 3.
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 0.5
	}
	return &DiscordNotifier{
		webhook: webhookClient{
			service:    "Discord",
			url:        config.WebhookURL,
			httpClient: &http.Client{Timeout: config.Timeout},
		},
		policy:      newRetryPolicy(config.MaxAttempts, config.RetryBaseDelay),
		rateLimiter: NewRateLimiter(rps, 3),
	}
}

// DiscordWebhookPayload represents the JSON payload sent to Discord webhook.
type DiscordWebhookPayload struct {
	Embeds []DiscordEmbed `json:"embeds"`
}

// DiscordEmbed represents a Discord embed message.
type DiscordEmbed struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	URL         string             `json:"url"`
	Color       int                `json:"color"`
	Footer      DiscordEmbedFooter `json:"footer"`
	Timestamp   string             `json:"timestamp"`
}

// DiscordEmbedFooter represents the footer of a Discord embed.
type DiscordEmbedFooter struct {
	Text string `json:"text"`
}

const (
	// Discord limits
	maxTitleLength       = 256
	maxDescriptionLength = 4096

	discordBlueColor = 5793266  // #5865F2
	discordRedColor  = 15548997 // #ED4245
)

// buildEmbedPayload renders n as a single embed linking to the resource.
// Failures are red, changes blue.
func (d *DiscordNotifier) buildEmbedPayload(n *Notification) DiscordWebhookPayload {
	color := discordBlueColor
	if n.Kind == KindError {
		color = discordRedColor
	}

	embed := DiscordEmbed{
		Title:       truncate(n.Title(), maxTitleLength, ""),
		Description: truncate(n.Body(), maxDescriptionLength, truncationSuffix),
		URL:         n.Resource.Locator,
		Color:       color,
		Footer:      DiscordEmbedFooter{Text: n.Label()},
		Timestamp:   n.at().UTC().Format(time.RFC3339),
	}

	return DiscordWebhookPayload{Embeds: []DiscordEmbed{embed}}
}

// Notify paces, then posts n with retries.
func (d *DiscordNotifier) Notify(ctx context.Context, n *Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if requestID(ctx) == "" {
		ctx = WithRequestID(ctx, uuid.New().String())
	}

	slog.Info("Starting Discord notification",
		slog.String("request_id", requestID(ctx)),
		slog.String("resource_id", n.Resource.ID),
		slog.String("kind", string(n.Kind)))

	if _, err := d.rateLimiter.Allow(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	payload := d.buildEmbedPayload(n)
	return sendWithRetry(ctx, "Discord", n, d.policy, func(ctx context.Context) error {
		return d.webhook.post(ctx, payload)
	})
}
