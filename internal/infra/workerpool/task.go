package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrPoolClosed is returned by AddTask after Shutdown, and rejects tasks
	// still queued when the pool shuts down.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrQueueFull is returned when QueueSize pending tasks are already queued.
	ErrQueueFull = errors.New("worker pool queue is full")
	// ErrTaskTimeout fails an attempt that outlived its timeout.
	ErrTaskTimeout = errors.New("task timed out")
	// ErrTaskPanic fails an attempt whose function panicked.
	ErrTaskPanic = errors.New("task panicked")
	// ErrNilTask is returned when a task has no function.
	ErrNilTask = errors.New("task has no function")
)

// Task is a unit of work submitted to the pool.
type Task struct {
	ID         string
	Priority   int
	MaxRetries int
	// Timeout bounds each attempt. Zero uses the pool's TaskTimeout.
	Timeout  time.Duration
	Run      func(ctx context.Context) (any, error)
	Metadata map[string]string
}

// TaskError rejects a future once a task has no retries left.
type TaskError struct {
	TaskID   string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempt(s): %v", e.TaskID, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *TaskError) Unwrap() error { return e.Err }

// Future is the eventual outcome of a task.
type Future struct {
	id   string
	done chan struct{}
	once sync.Once

	value any
	err   error
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// ID returns the task id.
func (f *Future) ID() string { return f.id }

// Done is closed once the task succeeded or was rejected.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) resolve(v any) {
	f.once.Do(func() {
		f.value = v
		close(f.done)
	})
}

func (f *Future) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Option customizes a task built by Submit.
type Option func(*Task)

// WithID sets the task id.
func WithID(id string) Option {
	return func(t *Task) { t.ID = id }
}

// WithPriority sets the task priority. Higher runs first.
func WithPriority(p int) Option {
	return func(t *Task) { t.Priority = p }
}

// WithMaxRetries overrides the pool's default retry count.
func WithMaxRetries(n int) Option {
	return func(t *Task) { t.MaxRetries = n }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Task) { t.Timeout = d }
}

// WithMetadata attaches a key/value pair to the task.
func WithMetadata(key, value string) Option {
	return func(t *Task) {
		if t.Metadata == nil {
			t.Metadata = make(map[string]string)
		}
		t.Metadata[key] = value
	}
}
