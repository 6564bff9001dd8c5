package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"changewatch/internal/domain/entity"
	"changewatch/internal/infra/notifier"
	"changewatch/internal/infra/workerpool"
	"changewatch/internal/usecase/monitor"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	name    string
	enabled bool
	err     error
	delay   time.Duration

	mu   sync.Mutex
	sent []*notifier.Notification
}

func (c *fakeChannel) Name() string    { return c.name }
func (c *fakeChannel) IsEnabled() bool { return c.enabled }

func (c *fakeChannel) Send(ctx context.Context, n *notifier.Notification) error {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return c.err
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func newTestPool(t *testing.T) *workerpool.Pool {
	t.Helper()
	cfg := workerpool.DefaultConfig()
	cfg.MaxWorkers = 4
	pool := workerpool.New(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return pool
}

func testResource() *entity.MonitoredResource {
	return &entity.MonitoredResource{
		ID:       "res-1",
		Name:     "Status page",
		Locator:  "https://status.example.com",
		Category: "ops",
		Enabled:  true,
	}
}

func changeEvent(changeType entity.ChangeType) monitor.Event {
	res := testResource()
	return monitor.Event{
		Type:       monitor.EventChangeDetected,
		ResourceID: res.ID,
		Timestamp:  time.Now(),
		Resource:   res,
		Change: &entity.ChangeRecord{
			ID:           "chg-1",
			ResourceID:   res.ID,
			ChangeType:   changeType,
			PreviousHash: "aaaa",
			CurrentHash:  "bbbb",
		},
	}
}

func errorEvent(consecutive int) monitor.Event {
	res := testResource()
	res.ConsecutiveErrors = consecutive
	return monitor.Event{
		Type:       monitor.EventMonitorError,
		ResourceID: res.ID,
		Timestamp:  time.Now(),
		Resource:   res,
		Error:      "connection refused",
	}
}

func runEvents(t *testing.T, svc Service, events ...monitor.Event) {
	t.Helper()
	ch := make(chan monitor.Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	svc.Run(context.Background(), ch)
}

func TestService_RunDispatchesModifiedChanges(t *testing.T) {
	slack := &fakeChannel{name: "slack", enabled: true}
	discord := &fakeChannel{name: "discord", enabled: true}
	off := &fakeChannel{name: "off", enabled: false}
	svc := NewService([]Channel{slack, discord, off}, newTestPool(t), DefaultConfig())

	runEvents(t, svc,
		changeEvent(entity.ChangeModified),
		changeEvent(entity.ChangeNew),
		monitor.Event{Type: monitor.EventMonitorChecked, Resource: testResource()},
	)

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Equal(t, 1, slack.count())
	assert.Equal(t, 1, discord.count())
	assert.Equal(t, 0, off.count())
	assert.Equal(t, notifier.KindChange, slack.sent[0].Kind)
	assert.Equal(t, entity.ChangeModified, slack.sent[0].Change.ChangeType)
}

func TestService_RunNotifiesBaselineWhenConfigured(t *testing.T) {
	ch := &fakeChannel{name: "slack", enabled: true}
	cfg := DefaultConfig()
	cfg.NotifyBaseline = true
	svc := NewService([]Channel{ch}, newTestPool(t), cfg)

	runEvents(t, svc, changeEvent(entity.ChangeNew))

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Equal(t, 1, ch.count())
}

func TestService_RunNotifiesFirstFailureOnly(t *testing.T) {
	ch := &fakeChannel{name: "slack", enabled: true}
	svc := NewService([]Channel{ch}, newTestPool(t), DefaultConfig())

	runEvents(t, svc, errorEvent(1), errorEvent(2), errorEvent(3))

	require.NoError(t, svc.Shutdown(context.Background()))
	require.Equal(t, 1, ch.count())
	assert.Equal(t, notifier.KindError, ch.sent[0].Kind)
	assert.Equal(t, "connection refused", ch.sent[0].Error)
}

func TestService_RunSkipsFailuresWhenDisabled(t *testing.T) {
	ch := &fakeChannel{name: "slack", enabled: true}
	cfg := DefaultConfig()
	cfg.NotifyErrors = false
	svc := NewService([]Channel{ch}, newTestPool(t), cfg)

	runEvents(t, svc, errorEvent(1))

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Equal(t, 0, ch.count())
}

func TestService_NotifyRejectsInvalid(t *testing.T) {
	svc := NewService(nil, newTestPool(t), DefaultConfig())

	err := svc.Notify(context.Background(), &notifier.Notification{Kind: notifier.KindChange})
	assert.ErrorIs(t, err, notifier.ErrInvalidNotification)
}

func TestService_CircuitOpensAfterFailures(t *testing.T) {
	failing := &fakeChannel{name: "flaky", enabled: true, err: errors.New("webhook down")}
	svc := NewService([]Channel{failing}, newTestPool(t), DefaultConfig())
	n := &notifier.Notification{
		Kind:     notifier.KindChange,
		Resource: testResource(),
		Change:   changeEvent(entity.ChangeModified).Change,
	}

	// Sequential sends so each failure lands before the next dispatch.
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Notify(context.Background(), n))
		want := i + 1
		require.Eventually(t, func() bool { return failing.count() == want }, 2*time.Second, 5*time.Millisecond)
	}
	require.Eventually(t, func() bool {
		return svc.GetChannelHealth()[0].CircuitBreakerOpen
	}, 2*time.Second, 5*time.Millisecond)

	before := testutil.ToFloat64(notificationDroppedTotal.WithLabelValues("flaky", "circuit_open"))
	require.NoError(t, svc.Notify(context.Background(), n))
	require.NoError(t, svc.Shutdown(context.Background()))

	assert.Equal(t, 3, failing.count(), "open circuit must not reach the channel")
	assert.Equal(t, before+1, testutil.ToFloat64(notificationDroppedTotal.WithLabelValues("flaky", "circuit_open")))

	health := svc.GetChannelHealth()
	require.Len(t, health, 1)
	assert.Equal(t, "open", health[0].State)
	assert.NotNil(t, health[0].OpenedAt)
}

func TestService_GetChannelHealthClosed(t *testing.T) {
	svc := NewService([]Channel{
		&fakeChannel{name: "slack", enabled: true},
		&fakeChannel{name: "discord", enabled: false},
	}, newTestPool(t), DefaultConfig())

	health := svc.GetChannelHealth()
	require.Len(t, health, 2)
	assert.Equal(t, "slack", health[0].Name)
	assert.True(t, health[0].Enabled)
	assert.False(t, health[0].CircuitBreakerOpen)
	assert.Equal(t, "closed", health[0].State)
	assert.Nil(t, health[0].OpenedAt)
	assert.False(t, health[1].Enabled)
}

func TestService_ShutdownWaitsForInFlight(t *testing.T) {
	slow := &fakeChannel{name: "slow", enabled: true, delay: 100 * time.Millisecond}
	svc := NewService([]Channel{slow}, newTestPool(t), DefaultConfig())

	require.NoError(t, svc.Notify(context.Background(), &notifier.Notification{
		Kind:     notifier.KindError,
		Resource: testResource(),
		Error:    "boom",
	}))
	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Equal(t, 1, slow.count())

	err := svc.Notify(context.Background(), &notifier.Notification{
		Kind:     notifier.KindError,
		Resource: testResource(),
		Error:    "boom",
	})
	assert.ErrorIs(t, err, ErrNotificationDropped)
}

func TestService_ShutdownTimeoutCancelsSends(t *testing.T) {
	slow := &fakeChannel{name: "stuck", enabled: true, delay: time.Minute}
	svc := NewService([]Channel{slow}, newTestPool(t), DefaultConfig())

	require.NoError(t, svc.Notify(context.Background(), &notifier.Notification{
		Kind:     notifier.KindError,
		Resource: testResource(),
		Error:    "boom",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := svc.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, slow.count())
}

func TestNotifierChannel_Disabled(t *testing.T) {
	ch := NewSlackChannel(notifier.SlackConfig{Enabled: false})
	assert.Equal(t, "slack", ch.Name())
	assert.False(t, ch.IsEnabled())

	err := ch.Send(context.Background(), &notifier.Notification{
		Kind:     notifier.KindError,
		Resource: testResource(),
		Error:    "boom",
	})
	assert.ErrorIs(t, err, ErrChannelDisabled)

	discord := NewDiscordChannel(notifier.DiscordConfig{Enabled: false})
	assert.Equal(t, "discord", discord.Name())
	assert.False(t, discord.IsEnabled())
}
