package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"changewatch/internal/domain/entity"
	"changewatch/internal/infra/notifier"
	"changewatch/internal/infra/workerpool"
	"changewatch/internal/resilience/circuitbreaker"
	"changewatch/internal/usecase/monitor"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
)

// Config tunes dispatching.
type Config struct {
	// MaxConcurrent bounds notifications in flight across all channels.
	MaxConcurrent int
	// Timeout bounds one channel send, retries included.
	Timeout time.Duration
	// AcquireTimeout is how long a notification waits for a dispatch slot
	// before it is dropped.
	AcquireTimeout time.Duration
	// Priority is the worker pool priority of send tasks.
	Priority int
	// NotifyBaseline also notifies the first content seen for a resource.
	NotifyBaseline bool
	// NotifyErrors notifies when a resource starts failing its checks.
	NotifyErrors bool
}

// DefaultConfig returns the dispatch settings used by the daemon.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  10,
		Timeout:        30 * time.Second,
		AcquireTimeout: 5 * time.Second,
		Priority:       -1,
		NotifyErrors:   true,
	}
}

// Service dispatches notifications to every enabled channel without
// blocking the caller.
type Service interface {
	// Notify dispatches n to all enabled channels in the background.
	// It only fails for invalid input or after Shutdown.
	Notify(ctx context.Context, n *notifier.Notification) error

	// Run converts monitor events into notifications until events is closed
	// or ctx is done.
	Run(ctx context.Context, events <-chan monitor.Event)

	// GetChannelHealth returns the breaker state of every channel.
	GetChannelHealth() []ChannelHealthStatus

	// Shutdown stops accepting notifications and waits for in-flight sends.
	// When ctx expires first, in-flight sends are canceled.
	Shutdown(ctx context.Context) error
}

// ChannelHealthStatus represents the health status of a notification channel.
type ChannelHealthStatus struct {
	Name               string     `json:"name"`
	Enabled            bool       `json:"enabled"`
	CircuitBreakerOpen bool       `json:"circuit_breaker_open"`
	State              string     `json:"state"`
	OpenedAt           *time.Time `json:"opened_at,omitempty"`
}

type service struct {
	cfg            Config
	channels       []Channel
	pool           *workerpool.Pool
	slots          *semaphore.Weighted
	breakers       *circuitbreaker.Registry
	wg             sync.WaitGroup
	closed         atomic.Bool
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewService creates a notification service that sends through pool.
func NewService(channels []Channel, pool *workerpool.Pool, cfg Config) Service {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}

	base := circuitbreaker.WebhookConfig("")
	base.OnStateChange = func(name string, _, to gobreaker.State) {
		if to == gobreaker.StateOpen {
			RecordCircuitBreakerOpen(name)
		}
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	svc := &service{
		cfg:            cfg,
		channels:       channels,
		pool:           pool,
		slots:          semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		breakers:       circuitbreaker.NewRegistry(base),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}

	enabled := 0
	for _, ch := range channels {
		if ch.IsEnabled() {
			enabled++
		}
	}
	SetChannelsEnabled(float64(enabled))
	return svc
}

// Notify implements Service.Notify.
func (s *service) Notify(ctx context.Context, n *notifier.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrNotificationDropped
	}

	requestID := uuid.New().String()
	dispatched := 0
	for _, ch := range s.channels {
		if !ch.IsEnabled() {
			continue
		}
		dispatched++
		s.wg.Add(1)
		go s.notifyChannel(requestID, ch, n)
	}

	if dispatched == 0 {
		slog.Debug("No notification channels enabled",
			slog.String("request_id", requestID),
			slog.String("resource_id", n.Resource.ID))
		return nil
	}
	slog.Info("Dispatching notification",
		slog.String("request_id", requestID),
		slog.String("resource_id", n.Resource.ID),
		slog.String("kind", string(n.Kind)),
		slog.Int("enabled_channels", dispatched))
	return nil
}

// notifyChannel waits for a dispatch slot and runs the send as a pool task.
func (s *service) notifyChannel(requestID string, ch Channel, n *notifier.Notification) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in notification channel",
				slog.String("request_id", requestID),
				slog.String("channel", ch.Name()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	acquireCtx, cancel := context.WithTimeout(s.shutdownCtx, s.cfg.AcquireTimeout)
	defer cancel()
	if err := s.slots.Acquire(acquireCtx, 1); err != nil {
		slog.Warn("Notification dropped: no dispatch slot",
			slog.String("request_id", requestID),
			slog.String("channel", ch.Name()))
		RecordDropped(ch.Name(), "pool_full")
		return
	}
	defer s.slots.Release(1)

	future, err := s.pool.Submit(func(taskCtx context.Context) (any, error) {
		return nil, s.send(taskCtx, requestID, ch, n)
	},
		workerpool.WithPriority(s.cfg.Priority),
		workerpool.WithMaxRetries(0),
		workerpool.WithTimeout(s.cfg.Timeout),
		workerpool.WithMetadata("channel", ch.Name()),
	)
	if err != nil {
		slog.Warn("Notification dropped: worker pool rejected task",
			slog.String("request_id", requestID),
			slog.String("channel", ch.Name()),
			slog.Any("error", err))
		RecordDropped(ch.Name(), "pool_full")
		return
	}
	<-future.Done()
}

// send delivers n through the channel's circuit breaker.
func (s *service) send(taskCtx context.Context, requestID string, ch Channel, n *notifier.Notification) error {
	ctx, cancel := context.WithCancel(taskCtx)
	defer cancel()
	stop := context.AfterFunc(s.shutdownCtx, cancel)
	defer stop()
	ctx = notifier.WithRequestID(ctx, requestID)

	IncrementActive()
	defer DecrementActive()

	name := ch.Name()
	RecordDispatch(name, string(n.Kind))
	start := time.Now()
	_, err := s.breakers.Get(name).Execute(func() (interface{}, error) {
		return nil, ch.Send(ctx, n)
	})
	duration := time.Since(start)

	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		slog.Warn("Channel temporarily disabled due to circuit breaker",
			slog.String("request_id", requestID),
			slog.String("channel", name))
		RecordDropped(name, "circuit_open")
		return fmt.Errorf("%w: %s", ErrCircuitBreakerOpen, name)
	case err != nil:
		RecordFailure(name, duration)
		slog.Warn("Channel notification failed",
			slog.String("request_id", requestID),
			slog.String("channel", name),
			slog.String("resource_id", n.Resource.ID),
			slog.String("locator", n.Resource.Locator),
			slog.Duration("send_duration", duration),
			slog.Any("error", err))
		return err
	}

	RecordSuccess(name, duration)
	slog.Info("Channel notification sent successfully",
		slog.String("request_id", requestID),
		slog.String("channel", name),
		slog.String("resource_id", n.Resource.ID),
		slog.Duration("send_duration", duration))
	return nil
}

// Run implements Service.Run.
func (s *service) Run(ctx context.Context, events <-chan monitor.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			n := s.fromEvent(e)
			if n == nil {
				continue
			}
			if err := s.Notify(ctx, n); err != nil {
				slog.Warn("Notification not dispatched",
					slog.String("event", string(e.Type)),
					slog.String("resource_id", e.ResourceID),
					slog.Any("error", err))
			}
		}
	}
}

// fromEvent returns the notification for e, or nil when e is not notified.
// Failures notify only on the transition into failing.
func (s *service) fromEvent(e monitor.Event) *notifier.Notification {
	if e.Resource == nil {
		return nil
	}
	switch e.Type {
	case monitor.EventChangeDetected:
		if e.Change == nil {
			return nil
		}
		if e.Change.ChangeType == entity.ChangeNew && !s.cfg.NotifyBaseline {
			return nil
		}
		return &notifier.Notification{
			Kind:      notifier.KindChange,
			Resource:  e.Resource,
			Change:    e.Change,
			Timestamp: e.Timestamp,
		}
	case monitor.EventMonitorError:
		if !s.cfg.NotifyErrors || e.Resource.ConsecutiveErrors != 1 {
			return nil
		}
		return &notifier.Notification{
			Kind:      notifier.KindError,
			Resource:  e.Resource,
			Error:     e.Error,
			Timestamp: e.Timestamp,
		}
	}
	return nil
}

// GetChannelHealth implements Service.GetChannelHealth.
func (s *service) GetChannelHealth() []ChannelHealthStatus {
	statuses := make([]ChannelHealthStatus, 0, len(s.channels))
	for _, ch := range s.channels {
		st := s.breakers.Get(ch.Name()).Stats()
		status := ChannelHealthStatus{
			Name:               ch.Name(),
			Enabled:            ch.IsEnabled(),
			CircuitBreakerOpen: st.State == gobreaker.StateOpen.String(),
			State:              st.State,
		}
		if !st.OpenedAt.IsZero() {
			openedAt := st.OpenedAt
			status.OpenedAt = &openedAt
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Shutdown implements Service.Shutdown.
func (s *service) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down notification service")
	s.closed.Store(true)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.shutdownCancel()
		slog.Info("Notification service shutdown complete")
		return nil
	case <-ctx.Done():
		s.shutdownCancel()
		slog.Warn("Notification service shutdown timeout")
		return ctx.Err()
	}
}
