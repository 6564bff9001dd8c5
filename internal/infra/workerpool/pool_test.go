package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 5 * time.Millisecond
	}
	p := New(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func waitAll(t *testing.T, futures ...*Future) []error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs := make([]error, len(futures))
	for i, f := range futures {
		_, errs[i] = f.Wait(ctx)
		require.NotErrorIs(t, errs[i], context.DeadlineExceeded, "future %d did not settle", i)
	}
	return errs
}

func TestDefaultMaxWorkers(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultMaxWorkers(), 2)
}

func TestPool_NeverExceedsMaxWorkers(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 2})

	var running, peak atomic.Int32
	var futures []*Future
	for i := 0; i < 5; i++ {
		f, err := p.Submit(func(ctx context.Context) (any, error) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil, nil
		})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	for _, err := range waitAll(t, futures...) {
		assert.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, uint64(5), p.Stats().CompletedTasks)
}

func TestPool_PriorityThenArrival(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	blocker, err := p.Submit(func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) (any, error) {
		return func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	var futures []*Future
	for _, tc := range []struct {
		name string
		prio int
	}{{"low", 1}, {"high-a", 5}, {"mid", 3}, {"high-b", 5}} {
		f, err := p.AddTask(Task{ID: tc.name, Priority: tc.prio, Run: record(tc.name)})
		require.NoError(t, err)
		futures = append(futures, f)
	}
	assert.Equal(t, 4, p.Stats().QueuedTasks)

	close(release)
	waitAll(t, append(futures, blocker)...)

	assert.Equal(t, []string{"high-a", "high-b", "mid", "low"}, order)
}

func TestPool_ResolvesValue(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 2})

	f, err := p.Submit(func(ctx context.Context) (any, error) { return 42, nil }, WithID("answer"))
	require.NoError(t, err)
	assert.Equal(t, "answer", f.ID())

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestPool_TimeoutFailsAttemptAndDropsLateResult(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 1, TaskTimeout: 20 * time.Millisecond})

	f, err := p.AddTask(Task{
		ID: "slow",
		Run: func(ctx context.Context) (any, error) {
			time.Sleep(100 * time.Millisecond)
			return "late", nil
		},
	})
	require.NoError(t, err)

	v, err := f.Wait(context.Background())
	assert.Nil(t, v)
	require.ErrorIs(t, err, ErrTaskTimeout)
	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "slow", taskErr.TaskID)
	assert.Equal(t, 1, taskErr.Attempts)

	// The slot is free again while the late attempt is still sleeping.
	next, err := p.Submit(func(ctx context.Context) (any, error) { return "next", nil })
	require.NoError(t, err)
	v, err = next.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "next", v)

	assert.Equal(t, uint64(1), p.Stats().TimedOutTasks)
}

func TestPool_TaskTimeoutOverridesPoolTimeout(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 1, TaskTimeout: time.Millisecond})

	f, err := p.Submit(func(ctx context.Context) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	}, WithTimeout(time.Second))
	require.NoError(t, err)

	_, err = f.Wait(context.Background())
	assert.NoError(t, err)
}

func TestPool_RetriesUntilSuccess(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 2})

	var attempts atomic.Int32
	f, err := p.Submit(func(ctx context.Context) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("flaky")
		}
		return "done", nil
	}, WithMaxRetries(3))
	require.NoError(t, err)

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, int32(3), attempts.Load())

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.RetriedTasks)
	assert.Equal(t, uint64(0), stats.FailedTasks)
}

func TestPool_RetriesExhausted(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 2})

	boom := errors.New("boom")
	var attempts atomic.Int32
	f, err := p.AddTask(Task{
		MaxRetries: 2,
		Run: func(ctx context.Context) (any, error) {
			attempts.Add(1)
			return nil, boom
		},
	})
	require.NoError(t, err)

	_, err = f.Wait(context.Background())
	require.ErrorIs(t, err, boom)
	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, 3, taskErr.Attempts)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, uint64(1), p.Stats().FailedTasks)
}

func TestPool_PanicIsIsolated(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 1})

	bad, err := p.Submit(func(ctx context.Context) (any, error) { panic("kaboom") })
	require.NoError(t, err)
	good, err := p.Submit(func(ctx context.Context) (any, error) { return "fine", nil })
	require.NoError(t, err)

	errs := waitAll(t, bad, good)
	assert.ErrorIs(t, errs[0], ErrTaskPanic)
	assert.NoError(t, errs[1])
	assert.Equal(t, uint64(1), p.Stats().PanickedTasks)
}

func TestPool_AddTaskValidation(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 1})

	_, err := p.AddTask(Task{ID: "nil"})
	assert.ErrorIs(t, err, ErrNilTask)

	f, err := p.AddTask(Task{Run: func(ctx context.Context) (any, error) { return nil, nil }})
	require.NoError(t, err)
	assert.NotEmpty(t, f.ID(), "missing ids are generated")
}

func TestPool_QueueFull(t *testing.T) {
	p := newTestPool(t, Config{MaxWorkers: 1, QueueSize: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	_, err := p.Submit(func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	_, err = p.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	_, err = p.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestPool_ShutdownDiscardsQueuedAndWaitsForActive(t *testing.T) {
	p := New(Config{MaxWorkers: 1, RetryDelay: time.Hour})

	started := make(chan struct{})
	release := make(chan struct{})
	active, err := p.Submit(func(ctx context.Context) (any, error) {
		close(started)
		<-release
		return "finished", nil
	})
	require.NoError(t, err)
	<-started

	queued, err := p.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- p.Shutdown(context.Background()) }()

	_, err = queued.Wait(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	select {
	case <-shutdownErr:
		t.Fatal("shutdown returned while a task was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-shutdownErr)

	v, err := active.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "finished", v)

	_, err = p.Submit(func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.NoError(t, p.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestPool_ShutdownRejectsTasksWaitingForRetry(t *testing.T) {
	p := New(Config{MaxWorkers: 1, RetryDelay: time.Hour})

	f, err := p.Submit(func(ctx context.Context) (any, error) {
		return nil, errors.New("fail once")
	}, WithMaxRetries(1))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return p.Stats().WaitingRetry == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Shutdown(context.Background()))

	_, err = f.Wait(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_ShutdownDeadlineCancelsRunningTasks(t *testing.T) {
	p := New(Config{MaxWorkers: 1})

	started := make(chan struct{})
	f, err := p.Submit(func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, WithMaxRetries(0))
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = f.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *recordingMetrics) ObserveTask(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}
func (r *recordingMetrics) SetActive(int) {}
func (r *recordingMetrics) SetQueued(int) {}

func TestPool_ReportsMetrics(t *testing.T) {
	m := &recordingMetrics{}
	p := newTestPool(t, Config{MaxWorkers: 1, Metrics: m})

	var attempts atomic.Int32
	f, err := p.Submit(func(ctx context.Context) (any, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("once")
		}
		return nil, nil
	}, WithMaxRetries(1))
	require.NoError(t, err)
	waitAll(t, f)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 1, m.outcomes[OutcomeFailure])
	assert.Equal(t, 1, m.outcomes[OutcomeRetry])
	assert.Equal(t, 1, m.outcomes[OutcomeSuccess])
}
