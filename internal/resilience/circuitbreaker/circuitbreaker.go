// Package circuitbreaker provides per-resource circuit breakers for guarded fetches.
// It uses the github.com/sony/gobreaker library to prevent cascading failures.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned without invoking the wrapped operation while the
// circuit is open, or while a half-open trial is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name is the circuit breaker name for logging and metrics
	Name string

	// FailureThreshold is the number of consecutive failures that trips the circuit
	FailureThreshold uint32

	// ResetTimeout is how long to wait in open state before allowing a trial call
	ResetTimeout time.Duration

	// OnStateChange is called after every transition. It must not call back
	// into the breaker.
	OnStateChange func(name string, from, to gobreaker.State)

	// Logger receives state transition warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a default configuration for circuit breakers.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// WebhookConfig returns configuration for outbound notification webhooks.
// Webhooks recover faster than monitored sites, so the reset window is shorter.
func WebhookConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
	}
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	TotalFailures       uint64    `json:"total_failures"`
	TotalSuccesses      uint64    `json:"total_successes"`
	Rejected            uint64    `json:"rejected"`
	Requests            uint64    `json:"requests"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// CircuitBreaker wraps gobreaker.TwoStepCircuitBreaker with a
// consecutive-failure trip rule, a single half-open trial, reset support and
// lifetime counters. A call that ends in context.Canceled is neither a
// success nor a failure.
type CircuitBreaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	breaker  *gobreaker.TwoStepCircuitBreaker
	openedAt time.Time
	// abandoned is the done callback of a canceled half-open trial. The
	// next caller takes it over instead of being rejected.
	abandoned func(success bool)

	successes atomic.Uint64
	failures  atomic.Uint64
	rejected  atomic.Uint64
}

// New creates a new circuit breaker with the given configuration.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cb := &CircuitBreaker{
		name:   cfg.Name,
		cfg:    cfg,
		logger: logger,
	}
	cb.breaker = cb.newBreaker()
	return cb
}

func (cb *CircuitBreaker) newBreaker() *gobreaker.TwoStepCircuitBreaker {
	threshold := cb.cfg.FailureThreshold
	settings := gobreaker.Settings{
		Name: cb.cfg.Name,
		// One trial call in half-open; its success closes the circuit.
		MaxRequests: 1,
		// Counts in the closed state are never cleared on a timer.
		Interval: 0,
		Timeout:  cb.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				cb.mu.Lock()
				cb.openedAt = time.Now()
				cb.mu.Unlock()
			}
			cb.logger.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			if cb.cfg.OnStateChange != nil {
				cb.cfg.OnStateChange(name, from, to)
			}
		},
	}
	return gobreaker.NewTwoStepCircuitBreaker(settings)
}

func (cb *CircuitBreaker) current() *gobreaker.TwoStepCircuitBreaker {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.breaker
}

// Execute runs the given function through the circuit breaker.
// If the circuit is open, it returns an error matching ErrCircuitOpen
// immediately and fn is not called.
func (cb *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	b := cb.current()
	done, err := b.Allow()
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		if d := cb.takeAbandoned(b); d != nil {
			done, err = d, nil
		}
	}
	if err != nil {
		cb.rejected.Add(1)
		return nil, fmt.Errorf("circuit %q: %w: %w", cb.name, ErrCircuitOpen, err)
	}
	// With MaxRequests 1 the state cannot leave half-open while this trial
	// is outstanding.
	trial := b.State() == gobreaker.StateHalfOpen

	settled := false
	defer func() {
		if !settled {
			done(false)
		}
	}()

	result, err := fn()
	settled = true
	switch {
	case err == nil:
		cb.successes.Add(1)
		done(true)
	case errors.Is(err, context.Canceled):
		if trial {
			cb.abandon(b, done)
		}
	default:
		cb.failures.Add(1)
		done(false)
	}
	return result, err
}

func (cb *CircuitBreaker) abandon(b *gobreaker.TwoStepCircuitBreaker, done func(bool)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.breaker == b {
		cb.abandoned = done
	}
}

func (cb *CircuitBreaker) takeAbandoned(b *gobreaker.TwoStepCircuitBreaker) func(bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.breaker != b || cb.abandoned == nil {
		return nil
	}
	done := cb.abandoned
	cb.abandoned = nil
	return done
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.current().State()
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen returns true if the circuit breaker is in the open state.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == gobreaker.StateOpen
}

// Reset forces the breaker back to closed with cleared counts.
func (cb *CircuitBreaker) Reset() {
	fresh := cb.newBreaker()
	// State may fire OnStateChange, which takes cb.mu.
	prev := cb.State()

	cb.mu.Lock()
	cb.breaker = fresh
	cb.openedAt = time.Time{}
	cb.abandoned = nil
	cb.mu.Unlock()

	if prev != gobreaker.StateClosed {
		cb.logger.Info("circuit breaker reset",
			slog.String("circuit", cb.name),
			slog.String("from", prev.String()))
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(cb.name, prev, gobreaker.StateClosed)
		}
	}
}

// Stats returns a snapshot without invoking anything through the breaker.
func (cb *CircuitBreaker) Stats() Stats {
	b := cb.current()
	state := b.State()
	counts := b.Counts()

	cb.mu.RLock()
	openedAt := cb.openedAt
	cb.mu.RUnlock()
	if state == gobreaker.StateClosed {
		openedAt = time.Time{}
	}

	return Stats{
		Name:                cb.name,
		State:               state.String(),
		ConsecutiveFailures: counts.ConsecutiveFailures,
		TotalFailures:       cb.failures.Load(),
		TotalSuccesses:      cb.successes.Load(),
		Rejected:            cb.rejected.Load(),
		Requests:            cb.failures.Load() + cb.successes.Load(),
		OpenedAt:            openedAt,
	}
}
