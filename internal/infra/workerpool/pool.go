// Package workerpool runs prioritized tasks under a fixed concurrency budget
// with per-attempt timeouts and retry with backoff.
package workerpool

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Config controls a Pool.
type Config struct {
	// MaxWorkers bounds concurrently running tasks. Zero derives it from GOMAXPROCS.
	MaxWorkers int
	// TaskTimeout bounds each attempt of tasks without their own Timeout. Zero disables it.
	TaskTimeout time.Duration
	// MaxRetries is the retry count Submit gives new tasks.
	MaxRetries int
	// QueueSize bounds queued tasks. Zero means unbounded.
	QueueSize int
	// RetryDelay is the backoff before the first retry; it doubles per retry.
	RetryDelay time.Duration
	// MaxRetryDelay caps the retry backoff.
	MaxRetryDelay time.Duration

	Metrics Metrics
	Logger  *slog.Logger
}

// DefaultMaxWorkers is one less than the usable CPUs, but at least two.
func DefaultMaxWorkers() int {
	n := runtime.GOMAXPROCS(0) - 1
	if n < 2 {
		return 2
	}
	return n
}

// DefaultConfig returns the pool settings used by the monitor.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:    DefaultMaxWorkers(),
		TaskTimeout:   30 * time.Second,
		MaxRetries:    2,
		QueueSize:     0,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	MaxWorkers     int    `json:"max_workers"`
	ActiveWorkers  int    `json:"active_workers"`
	QueuedTasks    int    `json:"queued_tasks"`
	WaitingRetry   int    `json:"waiting_retry"`
	CompletedTasks uint64 `json:"completed_tasks"`
	FailedTasks    uint64 `json:"failed_tasks"`
	RetriedTasks   uint64 `json:"retried_tasks"`
	TimedOutTasks  uint64 `json:"timed_out_tasks"`
	PanickedTasks  uint64 `json:"panicked_tasks"`
}

// Pool is a priority worker pool. The zero value is not usable; call New.
type Pool struct {
	cfg     Config
	logger  *slog.Logger
	metrics Metrics
	sem     *semaphore.Weighted

	// dispatchCtx stops the dispatcher; taskCtx is the parent of every attempt
	// and is only canceled when Shutdown gives up waiting.
	dispatchCtx    context.Context
	stopDispatch   context.CancelFunc
	taskCtx        context.Context
	cancelTasks    context.CancelFunc
	dispatcherDone chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	queue   taskQueue
	waiting map[*queuedTask]*time.Timer
	seq     uint64
	closed  bool
	active  int
	running sync.WaitGroup

	completed uint64
	failed    uint64
	retried   uint64
	timedOut  uint64
	panicked  uint64
}

// New creates a pool and starts its dispatcher.
func New(cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = NoopMetrics{}
	}

	p := &Pool{
		cfg:            cfg,
		logger:         logger,
		metrics:        m,
		sem:            semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		waiting:        make(map[*queuedTask]*time.Timer),
		dispatcherDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.dispatchCtx, p.stopDispatch = context.WithCancel(context.Background())
	p.taskCtx, p.cancelTasks = context.WithCancel(context.Background())

	go p.dispatch()
	return p
}

// AddTask queues t and returns its future.
func (p *Pool) AddTask(t Task) (*Future, error) {
	if t.Run == nil {
		return nil, ErrNilTask
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.MaxRetries < 0 {
		t.MaxRetries = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if p.cfg.QueueSize > 0 && len(p.queue) >= p.cfg.QueueSize {
		p.metrics.ObserveTask(OutcomeRejected, 0)
		return nil, ErrQueueFull
	}

	qt := &queuedTask{task: t, future: newFuture(t.ID)}
	p.pushLocked(qt)
	return qt.future, nil
}

// Submit wraps fn in a task with the pool's defaults and queues it.
func (p *Pool) Submit(fn func(ctx context.Context) (any, error), opts ...Option) (*Future, error) {
	t := Task{MaxRetries: p.cfg.MaxRetries, Run: fn}
	for _, opt := range opts {
		opt(&t)
	}
	return p.AddTask(t)
}

// pushLocked must be called with p.mu held.
func (p *Pool) pushLocked(qt *queuedTask) {
	p.seq++
	qt.seq = p.seq
	heap.Push(&p.queue, qt)
	p.metrics.SetQueued(len(p.queue))
	p.cond.Signal()
}

func (p *Pool) dispatch() {
	defer close(p.dispatcherDone)

	for {
		if err := p.sem.Acquire(p.dispatchCtx, 1); err != nil {
			return
		}

		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			p.sem.Release(1)
			return
		}
		qt := heap.Pop(&p.queue).(*queuedTask)
		p.active++
		p.running.Add(1)
		p.metrics.SetQueued(len(p.queue))
		p.metrics.SetActive(p.active)
		p.mu.Unlock()

		go p.run(qt)
	}
}

type attemptResult struct {
	value any
	err   error
}

func (p *Pool) run(qt *queuedTask) {
	defer p.running.Done()

	start := time.Now()
	res, outcome := p.attempt(qt)
	elapsed := time.Since(start)

	p.sem.Release(1)

	p.mu.Lock()
	p.active--
	p.metrics.SetActive(p.active)
	switch outcome {
	case OutcomeTimeout:
		p.timedOut++
	case OutcomePanic:
		p.panicked++
	}
	p.mu.Unlock()

	if res.err == nil {
		p.mu.Lock()
		p.completed++
		p.mu.Unlock()
		p.metrics.ObserveTask(OutcomeSuccess, elapsed)
		qt.future.resolve(res.value)
		return
	}
	p.metrics.ObserveTask(outcome, elapsed)

	if qt.retries < qt.task.MaxRetries && p.scheduleRetry(qt, res.err) {
		return
	}

	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
	p.logger.Warn("task failed",
		slog.String("task_id", qt.task.ID),
		slog.Int("attempts", qt.retries+1),
		slog.Any("error", res.err))
	qt.future.reject(&TaskError{TaskID: qt.task.ID, Attempts: qt.retries + 1, Err: res.err})
}

// attempt runs one try under the task timeout. A result arriving after the
// timeout is dropped; the slot is freed at the deadline.
func (p *Pool) attempt(qt *queuedTask) (attemptResult, string) {
	timeout := qt.task.Timeout
	if timeout <= 0 {
		timeout = p.cfg.TaskTimeout
	}
	ctx, cancel := p.taskCtx, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(p.taskCtx, timeout)
	}
	defer cancel()

	done := make(chan attemptResult, 1)
	panicked := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("task panic recovered",
					slog.String("task_id", qt.task.ID),
					slog.Any("panic", r))
				close(panicked)
				done <- attemptResult{err: fmt.Errorf("%w: %v", ErrTaskPanic, r)}
			}
		}()
		v, err := qt.task.Run(ctx)
		done <- attemptResult{value: v, err: err}
	}()

	select {
	case r := <-done:
		select {
		case <-panicked:
			return r, OutcomePanic
		default:
		}
		if r.err != nil {
			return r, OutcomeFailure
		}
		return r, OutcomeSuccess
	case <-ctx.Done():
		if err := p.taskCtx.Err(); err != nil {
			return attemptResult{err: err}, OutcomeFailure
		}
		return attemptResult{err: fmt.Errorf("%w after %s", ErrTaskTimeout, timeout)}, OutcomeTimeout
	}
}

// scheduleRetry re-enqueues qt at the back of the queue after a backoff.
// It reports false if the pool is closed.
func (p *Pool) scheduleRetry(qt *queuedTask, cause error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	qt.retries++
	p.retried++
	delay := p.retryDelay(qt.retries)

	p.logger.Debug("task retry scheduled",
		slog.String("task_id", qt.task.ID),
		slog.Int("retry", qt.retries),
		slog.Int("max_retries", qt.task.MaxRetries),
		slog.Duration("delay", delay),
		slog.Any("error", cause))
	p.metrics.ObserveTask(OutcomeRetry, 0)

	p.waiting[qt] = time.AfterFunc(delay, func() { p.requeue(qt) })
	return true
}

func (p *Pool) requeue(qt *queuedTask) {
	p.mu.Lock()
	delete(p.waiting, qt)
	if p.closed {
		p.mu.Unlock()
		qt.future.reject(ErrPoolClosed)
		return
	}
	p.pushLocked(qt)
	p.mu.Unlock()
}

func (p *Pool) retryDelay(retry int) time.Duration {
	d := p.cfg.RetryDelay
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= p.cfg.MaxRetryDelay {
			return p.cfg.MaxRetryDelay
		}
	}
	if d > p.cfg.MaxRetryDelay {
		return p.cfg.MaxRetryDelay
	}
	return d
}

// Shutdown stops dispatching, rejects queued and retry-waiting tasks with
// ErrPoolClosed, and waits for running tasks. If ctx ends first, running
// tasks are canceled and ctx.Err() is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	discarded := make([]*queuedTask, 0, len(p.queue)+len(p.waiting))
	for len(p.queue) > 0 {
		discarded = append(discarded, heap.Pop(&p.queue).(*queuedTask))
	}
	for qt, timer := range p.waiting {
		// A timer that already fired rejects its own task in requeue.
		if timer.Stop() {
			discarded = append(discarded, qt)
		}
		delete(p.waiting, qt)
	}
	p.metrics.SetQueued(0)
	p.cond.Broadcast()
	p.mu.Unlock()

	p.stopDispatch()
	for _, qt := range discarded {
		qt.future.reject(ErrPoolClosed)
	}
	if len(discarded) > 0 {
		p.logger.Info("worker pool discarded queued tasks", slog.Int("count", len(discarded)))
	}

	idle := make(chan struct{})
	go func() {
		<-p.dispatcherDone
		p.running.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		p.cancelTasks()
		return nil
	case <-ctx.Done():
		p.cancelTasks()
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}

// Stats returns a consistent snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxWorkers:     p.cfg.MaxWorkers,
		ActiveWorkers:  p.active,
		QueuedTasks:    len(p.queue),
		WaitingRetry:   len(p.waiting),
		CompletedTasks: p.completed,
		FailedTasks:    p.failed,
		RetriedTasks:   p.retried,
		TimedOutTasks:  p.timedOut,
		PanickedTasks:  p.panicked,
	}
}
