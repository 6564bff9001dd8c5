// Package notifier delivers change notifications to chat webhooks (Slack,
// Discord). Each notifier paces itself with a token bucket and retries
// transient webhook failures.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"changewatch/internal/domain/entity"
)

// ErrInvalidNotification is returned for notifications missing their subject.
var ErrInvalidNotification = errors.New("invalid notification")

// Kind is what a notification is about.
type Kind string

const (
	// KindChange reports a content change of a monitored resource.
	KindChange Kind = "change"
	// KindError reports that a resource started failing its checks.
	KindError Kind = "error"
)

// maxExcerptLength bounds the snapshot excerpt carried in a message body.
const maxExcerptLength = 500

// Notification is one message to deliver.
type Notification struct {
	Kind      Kind
	Resource  *entity.MonitoredResource
	Change    *entity.ChangeRecord
	Error     string
	Timestamp time.Time
}

// Validate checks that the notification has what its kind needs.
func (n *Notification) Validate() error {
	if n == nil || n.Resource == nil {
		return fmt.Errorf("%w: missing resource", ErrInvalidNotification)
	}
	switch n.Kind {
	case KindChange:
		if n.Change == nil {
			return fmt.Errorf("%w: change notification without record", ErrInvalidNotification)
		}
	case KindError:
		if n.Error == "" {
			return fmt.Errorf("%w: error notification without message", ErrInvalidNotification)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidNotification, n.Kind)
	}
	return nil
}

// Title is the one-line headline.
func (n *Notification) Title() string {
	if n.Kind == KindError {
		return "Check failing: " + n.Resource.Name
	}
	return "Change detected: " + n.Resource.Name
}

// Body is the message text: change summary and excerpt, or the failure.
func (n *Notification) Body() string {
	var b strings.Builder
	if n.Kind == KindError {
		fmt.Fprintf(&b, "%s\nConsecutive failures: %d", n.Error, n.Resource.ConsecutiveErrors)
		return b.String()
	}
	fmt.Fprintf(&b, "Change #%d (%s)\n", n.Resource.ChangeCount, n.Change.ChangeType)
	if n.Change.PreviousHash != "" {
		fmt.Fprintf(&b, "%s → %s\n", shortHash(n.Change.PreviousHash), shortHash(n.Change.CurrentHash))
	}
	if excerpt := strings.TrimSpace(n.Change.CurrentSnapshot); excerpt != "" {
		b.WriteString("\n")
		b.WriteString(truncate(excerpt, maxExcerptLength, truncationSuffix))
	}
	return b.String()
}

// Label is the category if set, otherwise the resource name.
func (n *Notification) Label() string {
	if n.Resource.Category != "" {
		return n.Resource.Category
	}
	return n.Resource.Name
}

func (n *Notification) at() time.Time {
	if !n.Timestamp.IsZero() {
		return n.Timestamp
	}
	if n.Change != nil {
		return n.Change.Timestamp
	}
	return time.Now()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Notifier sends notifications to one destination.
// Implementations handle rate limiting, retries and logging internally.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}
