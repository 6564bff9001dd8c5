package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"changewatch/internal/domain/entity"

	"github.com/google/uuid"
)

// EventType names a monitor event.
type EventType string

const (
	EventChangeDetected EventType = "change:detected"
	EventMonitorAdded   EventType = "monitor:added"
	EventMonitorRemoved EventType = "monitor:removed"
	EventMonitorUpdated EventType = "monitor:updated"
	EventMonitorToggled EventType = "monitor:toggled"
	EventMonitorError   EventType = "monitor:error"
	EventMonitorChecked EventType = "monitor:checked"
)

// Event is published on the monitor's event bus. Resource is a snapshot
// taken when the event was raised.
type Event struct {
	ID         string                    `json:"id"`
	Type       EventType                 `json:"type"`
	ResourceID string                    `json:"resource_id"`
	Timestamp  time.Time                 `json:"timestamp"`
	Resource   *entity.MonitoredResource `json:"resource,omitempty"`
	Change     *entity.ChangeRecord      `json:"change,omitempty"`
	Outcome    string                    `json:"outcome,omitempty"`
	Error      string                    `json:"error,omitempty"`
	ErrorKind  string                    `json:"error_kind,omitempty"`
}

type subscription struct {
	ch    chan Event
	types map[EventType]struct{}
}

func (s *subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// EventBus fans events out to subscribers. Publish never blocks: an event
// that does not fit a subscriber's buffer is dropped for that subscriber.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool

	dropped atomic.Uint64
	onDrop  func(EventType)
}

// NewEventBus creates a bus. onDrop, if non-nil, is called for each dropped delivery.
func NewEventBus(onDrop func(EventType)) *EventBus {
	return &EventBus{subs: make(map[uint64]*subscription), onDrop: onDrop}
}

// Subscribe registers a subscriber for the given types (all types when none
// are given). The returned cancel func closes the channel and is idempotent.
func (b *EventBus) Subscribe(buffer int, types ...EventType) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	sub := &subscription{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

// Publish delivers e to every interested subscriber. ID and Timestamp are
// filled in when empty.
func (b *EventBus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(e.Type)
			}
		}
	}
}

// Dropped returns the number of deliveries dropped so far.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the current subscriber count.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
