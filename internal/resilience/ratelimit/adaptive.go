// Package ratelimit provides a self-tuning token bucket for per-resource
// request pacing. It wraps golang.org/x/time/rate and moves the refill rate
// between a floor and a ceiling based on observed outcomes.
package ratelimit

import (
	"context"
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// Config controls an AdaptiveLimiter.
type Config struct {
	// InitialRate is the starting refill rate in requests per second.
	InitialRate float64
	// MinRate is the floor the rate never drops below.
	MinRate float64
	// MaxRate is the ceiling the rate never exceeds.
	MaxRate float64

	// BurstFactor scales bucket capacity with the current rate.
	BurstFactor float64
	// SuccessesPerStep is how many consecutive successes earn one increase.
	SuccessesPerStep int
	// IncreaseStep is added to the rate per step. Zero means (MaxRate-MinRate)/10.
	IncreaseStep float64
	// DecreaseFactor multiplies the rate on every error.
	DecreaseFactor float64

	// OnRateChange observes every applied rate. It runs under the limiter lock.
	OnRateChange func(rate float64)
}

// DefaultConfig returns the pacing used for monitored resources:
// one request per second, between one every ten seconds and five per second.
func DefaultConfig() Config {
	return Config{
		InitialRate:      1.0,
		MinRate:          0.1,
		MaxRate:          5.0,
		BurstFactor:      1.0,
		SuccessesPerStep: 5,
		DecreaseFactor:   0.5,
	}
}

func (c Config) normalized() Config {
	if c.MinRate <= 0 {
		c.MinRate = 0.1
	}
	if c.MaxRate < c.MinRate {
		c.MaxRate = c.MinRate
	}
	if c.InitialRate <= 0 {
		c.InitialRate = c.MaxRate
	}
	c.InitialRate = clamp(c.InitialRate, c.MinRate, c.MaxRate)
	if c.BurstFactor <= 0 {
		c.BurstFactor = 1.0
	}
	if c.SuccessesPerStep <= 0 {
		c.SuccessesPerStep = 5
	}
	if c.IncreaseStep <= 0 {
		c.IncreaseStep = (c.MaxRate - c.MinRate) / 10
	}
	if c.DecreaseFactor <= 0 || c.DecreaseFactor >= 1 {
		c.DecreaseFactor = 0.5
	}
	return c
}

// Stats is a snapshot of a limiter.
type Stats struct {
	Rate      float64 `json:"rate"`
	MinRate   float64 `json:"min_rate"`
	MaxRate   float64 `json:"max_rate"`
	Burst     int     `json:"burst"`
	Tokens    float64 `json:"tokens"`
	Successes uint64  `json:"successes"`
	Errors    uint64  `json:"errors"`
}

// AdaptiveLimiter is a token bucket whose refill rate follows
// additive-increase / multiplicative-decrease within [MinRate, MaxRate].
type AdaptiveLimiter struct {
	limiter *rate.Limiter

	mu        sync.Mutex
	cfg       Config
	current   float64
	streak    int
	successes uint64
	errors    uint64
}

// NewAdaptiveLimiter creates a limiter starting at cfg.InitialRate.
func NewAdaptiveLimiter(cfg Config) *AdaptiveLimiter {
	cfg = cfg.normalized()
	l := &AdaptiveLimiter{
		cfg:     cfg,
		current: cfg.InitialRate,
	}
	l.limiter = rate.NewLimiter(rate.Limit(cfg.InitialRate), l.burstFor(cfg.InitialRate))
	return l
}

// Wait blocks until a token is available. It returns an error only when ctx
// is done or its deadline makes the wait impossible.
func (l *AdaptiveLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// RecordSuccess counts a success; every SuccessesPerStep consecutive
// successes raise the rate by IncreaseStep.
func (l *AdaptiveLimiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.successes++
	l.streak++
	if l.streak < l.cfg.SuccessesPerStep {
		return
	}
	l.streak = 0
	l.apply(l.current + l.cfg.IncreaseStep)
}

// RecordError cuts the rate by DecreaseFactor and resets the success streak.
func (l *AdaptiveLimiter) RecordError() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.errors++
	l.streak = 0
	l.apply(l.current * l.cfg.DecreaseFactor)
}

// Rate returns the current refill rate.
func (l *AdaptiveLimiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Stats returns a consistent snapshot.
func (l *AdaptiveLimiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Rate:      l.current,
		MinRate:   l.cfg.MinRate,
		MaxRate:   l.cfg.MaxRate,
		Burst:     l.limiter.Burst(),
		Tokens:    l.limiter.Tokens(),
		Successes: l.successes,
		Errors:    l.errors,
	}
}

// apply must be called with l.mu held.
func (l *AdaptiveLimiter) apply(next float64) {
	next = clamp(next, l.cfg.MinRate, l.cfg.MaxRate)
	if next == l.current {
		return
	}
	l.current = next
	l.limiter.SetLimit(rate.Limit(next))
	l.limiter.SetBurst(l.burstFor(next))
	if l.cfg.OnRateChange != nil {
		l.cfg.OnRateChange(next)
	}
}

func (l *AdaptiveLimiter) burstFor(r float64) int {
	b := int(math.Ceil(r * l.cfg.BurstFactor))
	if b < 1 {
		return 1
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
