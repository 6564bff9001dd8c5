package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SlackConfig contains configuration for Slack webhook notifications.
type SlackConfig struct {
	// Enabled indicates whether Slack notifications are enabled
	Enabled bool

	// WebhookURL is the Slack Incoming Webhook URL (includes authentication token)
	WebhookURL string

	// Timeout is the HTTP request timeout for Slack API calls
	Timeout time.Duration

	// MaxAttempts and RetryBaseDelay override the retry policy (2 attempts, 5s).
	MaxAttempts    int
	RetryBaseDelay time.Duration

	// RequestsPerSecond overrides the webhook pacing (1 req/s).
	RequestsPerSecond float64
}

// SlackNotifier sends change notifications to Slack via Incoming Webhook.
type SlackNotifier struct {
	webhook     webhookClient
	policy      retryPolicy
	rateLimiter *RateLimiter
}

// NewSlackNotifier creates a SlackNotifier. Pacing defaults to Slack's
// webhook limit of one message per second.
func NewSlackNotifier(config SlackConfig) *SlackNotifier {
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 1.0
	}
	return &SlackNotifier{
		webhook: webhookClient{
			service:    "Slack",
			url:        config.WebhookURL,
			httpClient: &http.Client{Timeout: config.Timeout},
		},
		policy:      newRetryPolicy(config.MaxAttempts, config.RetryBaseDelay),
		rateLimiter: NewRateLimiter(rps, 1),
	}
}

// SlackWebhookPayload represents the JSON payload sent to Slack webhook using Block Kit.
type SlackWebhookPayload struct {
	Text   string       `json:"text"`   // Fallback text (required)
	Blocks []SlackBlock `json:"blocks"` // Rich formatting blocks
}

// SlackBlock represents a Slack Block Kit block.
type SlackBlock struct {
	Type     string            `json:"type"`               // "section", "context", "divider"
	Text     *SlackTextObject  `json:"text,omitempty"`     // Text content (for section)
	Elements []SlackTextObject `json:"elements,omitempty"` // Elements (for context)
}

// SlackTextObject represents a text object in Slack Block Kit.
type SlackTextObject struct {
	Type string `json:"type"` // "mrkdwn" or "plain_text"
	Text string `json:"text"` // Actual text content
}

const (
	// Slack Block Kit limits
	maxSectionTextLength = 3000
	maxFallbackLength    = 150
)

// buildBlockKitPayload renders n as a section block (linked title and body)
// followed by a context block (label and timestamp).
func (s *SlackNotifier) buildBlockKitPayload(n *Notification) SlackWebhookPayload {
	fallbackText := truncate(fmt.Sprintf("%s - %s", n.Title(), n.Label()), maxFallbackLength, truncationSuffix)

	titleLink := fmt.Sprintf("*<%s|%s>*", n.Resource.Locator, n.Title())
	sectionText := truncate(fmt.Sprintf("%s\n\n%s", titleLink, n.Body()), maxSectionTextLength, truncationSuffix)

	contextText := fmt.Sprintf("%s • %s", n.Label(), n.at().UTC().Format(time.RFC3339))

	return SlackWebhookPayload{
		Text: fallbackText,
		Blocks: []SlackBlock{
			{
				Type: "section",
				Text: &SlackTextObject{Type: "mrkdwn", Text: sectionText},
			},
			{
				Type:     "context",
				Elements: []SlackTextObject{{Type: "mrkdwn", Text: contextText}},
			},
		},
	}
}

// Notify paces, then posts n with retries.
func (s *SlackNotifier) Notify(ctx context.Context, n *Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if requestID(ctx) == "" {
		ctx = WithRequestID(ctx, uuid.New().String())
	}

	slog.Info("Starting Slack notification",
		slog.String("request_id", requestID(ctx)),
		slog.String("resource_id", n.Resource.ID),
		slog.String("kind", string(n.Kind)))

	if _, err := s.rateLimiter.Allow(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	payload := s.buildBlockKitPayload(n)
	return sendWithRetry(ctx, "Slack", n, s.policy, func(ctx context.Context) error {
		return s.webhook.post(ctx, payload)
	})
}
