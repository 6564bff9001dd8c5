// Package monitor polls registered resources on their own cadence, hashes
// their content and records a change whenever the hash moves.
//
// Each check runs as a worker pool task: the resource's adaptive limiter is
// awaited, then the fetch is retried through the resource's circuit breaker.
// Baselines live in a bounded cache keyed by resource id, change records in
// a ring buffer, and every state transition is published on an event bus.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"changewatch/internal/domain/entity"
	"changewatch/internal/infra/cache"
	"changewatch/internal/infra/workerpool"
	"changewatch/internal/resilience/circuitbreaker"
	"changewatch/internal/resilience/ratelimit"
	"changewatch/internal/resilience/retry"
	"changewatch/internal/usecase/fetch"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultHistorySize is the change record ring capacity.
const DefaultHistorySize = 1000

// Config tunes the service.
type Config struct {
	// HistorySize is the number of change records kept in memory.
	HistorySize int
	// CheckTimeout bounds one check, retries included.
	CheckTimeout time.Duration
	// TaskPriority is the pool priority of check tasks.
	TaskPriority int
	// Retry governs fetch retries. IsRetryable is always fetch.IsRetryable.
	Retry retry.Config
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		HistorySize:  DefaultHistorySize,
		CheckTimeout: 2 * time.Minute,
		Retry:        retry.FetchConfig(),
	}
}

// Baseline is the last content seen for a resource.
type Baseline struct {
	Hash     string
	Snapshot string
}

// Dependencies are the collaborators the service composes. Fetcher and Pool
// are required; the rest default when nil.
type Dependencies struct {
	Fetcher  fetch.ContentFetcher
	Pool     *workerpool.Pool
	Breakers *circuitbreaker.Registry
	Limiters *ratelimit.Registry
	Hashes   *cache.BoundedCache[string, Baseline]
	Metrics  Metrics
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// forgetter is implemented by fetchers that remember per-resource state
// under fetch.Request.Key.
type forgetter interface {
	Forget(key string)
}

type monitorState struct {
	// checkMu serializes checks of this resource.
	checkMu sync.Mutex

	mu      sync.Mutex
	res     *entity.MonitoredResource
	key     string
	entry   cron.EntryID
	gen     uint64
	removed bool
}

func (st *monitorState) snapshot() *entity.MonitoredResource {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.res.Clone()
}

// Service is the change monitor.
type Service struct {
	cfg      Config
	fetcher  fetch.ContentFetcher
	pool     *workerpool.Pool
	breakers *circuitbreaker.Registry
	limiters *ratelimit.Registry
	hashes   *cache.BoundedCache[string, Baseline]
	history  *History
	bus      *EventBus
	metrics  Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	cron     *cron.Cron

	runCtx    context.Context
	cancelRun context.CancelFunc

	mu       sync.RWMutex
	monitors map[string]*monitorState
	byKey    map[string]string
	stopped  bool

	totalChecks  atomic.Uint64
	totalChanges atomic.Uint64
	totalErrors  atomic.Uint64
}

// New builds a service. Call Start to begin scheduled checks.
func New(cfg Config, deps Dependencies) (*Service, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("monitor: fetcher is required")
	}
	if deps.Pool == nil {
		return nil, errors.New("monitor: worker pool is required")
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = retry.FetchConfig()
	}
	cfg.Retry.IsRetryable = fetch.IsRetryable

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = NoopMetrics{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("changewatch/monitor")
	}
	if deps.Breakers == nil {
		deps.Breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(""))
	}
	if deps.Limiters == nil {
		deps.Limiters = ratelimit.NewRegistry(ratelimit.DefaultConfig(), nil)
	}
	if deps.Hashes == nil {
		hashes, err := cache.New[string, Baseline](cache.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("monitor: hash cache: %w", err)
		}
		deps.Hashes = hashes
	}

	cl := cronLogger{logger: deps.Logger}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:      cfg,
		fetcher:  deps.Fetcher,
		pool:     deps.Pool,
		breakers: deps.Breakers,
		limiters: deps.Limiters,
		hashes:   deps.Hashes,
		history:  NewHistory(cfg.HistorySize),
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		logger:   deps.Logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runCtx:    runCtx,
		cancelRun: cancel,
		monitors:  make(map[string]*monitorState),
		byKey:     make(map[string]string),
	}
	s.bus = NewEventBus(func(t EventType) { s.metrics.RecordDroppedEvent(string(t)) })
	return s, nil
}

// Start begins running scheduled checks.
func (s *Service) Start() {
	s.cron.Start()
	s.logger.Info("change monitor started", slog.Int("resources", s.count()))
}

// Stop halts scheduling and waits for in-flight checks. When ctx expires
// first, in-flight checks are canceled. Subscriber channels are closed.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	done := s.cron.Stop()
	var err error
	select {
	case <-done.Done():
	case <-ctx.Done():
		err = fmt.Errorf("monitor: stop: %w", ctx.Err())
	}
	s.cancelRun()
	s.bus.Close()
	s.logger.Info("change monitor stopped", slog.Any("error", err))
	return err
}

// Subscribe registers for events of the given types, or all types when none
// are given. Call cancel to unsubscribe; it closes the channel.
func (s *Service) Subscribe(buffer int, types ...EventType) (<-chan Event, func()) {
	return s.bus.Subscribe(buffer, types...)
}

// AddMonitor registers a resource, checks it once, then schedules it.
// The immediate check's outcome does not affect registration; failures
// show up in the resource's error counters and a monitor:error event.
func (s *Service) AddMonitor(ctx context.Context, rc entity.ResourceConfig) (string, error) {
	if err := rc.Validate(); err != nil {
		return "", err
	}
	key, err := resourceKey(rc.Locator, rc.Extractor)
	if err != nil {
		return "", err
	}

	res := &entity.MonitoredResource{
		ID:            uuid.NewString(),
		Locator:       rc.Locator,
		Name:          rc.Name,
		Category:      rc.Category,
		Extractor:     rc.Extractor,
		CheckInterval: rc.CheckInterval,
		Metadata:      copyMetadata(rc.Metadata),
		Enabled:       !rc.Disabled,
		CreatedAt:     time.Now(),
	}
	st := &monitorState{res: res, key: key}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", ErrStopped
	}
	if other, ok := s.byKey[key]; ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s (id %s)", ErrDuplicate, rc.Locator, other)
	}
	s.monitors[res.ID] = st
	s.byKey[key] = res.ID
	s.mu.Unlock()

	s.logger.Info("monitor added",
		slog.String("resource_id", res.ID),
		slog.String("locator", res.Locator),
		slog.String("extractor", res.Extractor),
		slog.Duration("interval", res.CheckInterval),
		slog.Bool("enabled", res.Enabled))
	s.publish(EventMonitorAdded, res.Clone(), nil)
	s.reportMonitors()

	if res.Enabled {
		_, _ = s.check(ctx, st)
		s.schedule(st)
	}
	return res.ID, nil
}

// RemoveMonitor unschedules a resource and drops its state. In-flight
// checks complete but their result is discarded.
func (s *Service) RemoveMonitor(id string) bool {
	s.mu.Lock()
	st, ok := s.monitors[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.monitors, id)
	delete(s.byKey, st.key)
	s.mu.Unlock()

	st.mu.Lock()
	st.removed = true
	s.unscheduleLocked(st)
	res := st.res.Clone()
	st.mu.Unlock()

	s.hashes.Delete(id)
	s.breakers.Remove(id)
	s.limiters.Remove(id)
	s.metrics.ForgetResource(id)
	s.forget(id)

	s.logger.Info("monitor removed",
		slog.String("resource_id", id),
		slog.String("locator", res.Locator))
	s.publish(EventMonitorRemoved, res, nil)
	s.reportMonitors()
	return true
}

// SetEnabled toggles scheduling. Disabling keeps the baseline and counters;
// enabling checks immediately and reschedules.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	st, err := s.lookup(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	if st.res.Enabled == enabled {
		st.mu.Unlock()
		return nil
	}
	st.res.Enabled = enabled
	if !enabled {
		s.unscheduleLocked(st)
	}
	res := st.res.Clone()
	st.mu.Unlock()

	s.logger.Info("monitor toggled",
		slog.String("resource_id", id),
		slog.Bool("enabled", enabled))
	s.publish(EventMonitorToggled, res, nil)
	s.reportMonitors()

	if enabled {
		_, _ = s.check(ctx, st)
		s.schedule(st)
	}
	return nil
}

// UpdateMonitor applies upd. Changing the locator or extractor resets the
// baseline so the next check records a new entry rather than a modification.
func (s *Service) UpdateMonitor(ctx context.Context, id string, upd entity.ResourceUpdate) (*entity.MonitoredResource, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	st, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	if upd.ResetsBaseline() {
		cur := st.snapshot()
		locator, extractor := cur.Locator, cur.Extractor
		if upd.Locator != nil {
			locator = *upd.Locator
		}
		if upd.Extractor != nil {
			extractor = *upd.Extractor
		}
		key, err := resourceKey(locator, extractor)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if other, ok := s.byKey[key]; ok && other != id {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s (id %s)", ErrDuplicate, locator, other)
		}
		delete(s.byKey, st.key)
		s.byKey[key] = id
		st.mu.Lock()
		st.key = key
		st.mu.Unlock()
		s.mu.Unlock()
	}

	st.mu.Lock()
	if st.removed {
		st.mu.Unlock()
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		st.res.Name = *upd.Name
	}
	if upd.Category != nil {
		st.res.Category = *upd.Category
	}
	if upd.Metadata != nil {
		st.res.Metadata = copyMetadata(upd.Metadata)
	}
	if upd.Locator != nil {
		st.res.Locator = *upd.Locator
	}
	if upd.Extractor != nil {
		st.res.Extractor = *upd.Extractor
	}
	if upd.ResetsBaseline() {
		st.gen++
		s.hashes.Delete(id)
	}
	reschedule := upd.CheckInterval != nil && *upd.CheckInterval != st.res.CheckInterval
	if upd.CheckInterval != nil {
		st.res.CheckInterval = *upd.CheckInterval
	}
	if reschedule && st.res.Enabled {
		s.unscheduleLocked(st)
	}
	res := st.res.Clone()
	st.mu.Unlock()

	if upd.ResetsBaseline() {
		s.breakers.Get(id).Reset()
		s.forget(id)
	}
	if reschedule && res.Enabled {
		s.schedule(st)
	}

	s.logger.Info("monitor updated",
		slog.String("resource_id", id),
		slog.Bool("baseline_reset", upd.ResetsBaseline()),
		slog.Duration("interval", res.CheckInterval))
	s.publish(EventMonitorUpdated, res, nil)
	return res, nil
}

// ForceCheck runs one check now, regardless of schedule or enabled state.
// On fetch failure both a result with OutcomeError and the error are returned.
func (s *Service) ForceCheck(ctx context.Context, id string) (*CheckResult, error) {
	st, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.check(ctx, st)
}

// Get returns a snapshot of one resource.
func (s *Service) Get(id string) (*entity.MonitoredResource, error) {
	st, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return st.snapshot(), nil
}

// List returns snapshots of every resource ordered by creation time.
func (s *Service) List() []*entity.MonitoredResource {
	s.mu.RLock()
	states := make([]*monitorState, 0, len(s.monitors))
	for _, st := range s.monitors {
		states = append(states, st)
	}
	s.mu.RUnlock()

	out := make([]*entity.MonitoredResource, 0, len(states))
	for _, st := range states {
		out = append(out, st.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// RecentChanges returns up to limit change records, most recent first.
func (s *Service) RecentChanges(limit int) []entity.ChangeRecord {
	return s.history.Recent(limit)
}

// ChangesForResource returns up to limit change records of one resource,
// most recent first.
func (s *Service) ChangesForResource(id string, limit int) []entity.ChangeRecord {
	return s.history.ForResource(id, limit)
}

func (s *Service) lookup(id string) (*monitorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.monitors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return st, nil
}

func (s *Service) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.monitors)
}

// schedule registers the resource's cron entry unless it already has one.
func (s *Service) schedule(st *monitorState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.removed || !st.res.Enabled || st.entry != 0 {
		return
	}
	id := st.res.ID
	st.entry = s.cron.Schedule(cron.Every(st.res.CheckInterval), cron.FuncJob(func() {
		s.runScheduled(id)
	}))
}

// unscheduleLocked must be called with st.mu held.
func (s *Service) unscheduleLocked(st *monitorState) {
	if st.entry != 0 {
		s.cron.Remove(st.entry)
		st.entry = 0
	}
}

func (s *Service) runScheduled(id string) {
	st, err := s.lookup(id)
	if err != nil {
		return
	}
	st.mu.Lock()
	enabled := st.res.Enabled
	st.mu.Unlock()
	if !enabled {
		return
	}
	_, _ = s.check(s.runCtx, st)
}

func (s *Service) forget(id string) {
	if f, ok := s.fetcher.(forgetter); ok {
		f.Forget(id)
	}
}

func (s *Service) publish(t EventType, res *entity.MonitoredResource, fill func(*Event)) {
	e := Event{Type: t, ResourceID: res.ID, Resource: res}
	if fill != nil {
		fill(&e)
	}
	s.bus.Publish(e)
}

func (s *Service) reportMonitors() {
	s.mu.RLock()
	states := make([]*monitorState, 0, len(s.monitors))
	for _, st := range s.monitors {
		states = append(states, st)
	}
	s.mu.RUnlock()

	enabled := 0
	for _, st := range states {
		st.mu.Lock()
		if st.res.Enabled {
			enabled++
		}
		st.mu.Unlock()
	}
	s.metrics.SetMonitors(len(states), enabled)
}

// resourceKey identifies a resource for duplicate detection.
func resourceKey(locator, extractor string) (string, error) {
	canonical, err := entity.CanonicalLocator(locator)
	if err != nil {
		return "", err
	}
	if extractor == "" {
		extractor = entity.ExtractorRaw
	}
	return canonical + "|" + extractor, nil
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
