package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		InitialRate:      2.0,
		MinRate:          1.0,
		MaxRate:          5.0,
		BurstFactor:      1.0,
		SuccessesPerStep: 2,
		IncreaseStep:     1.0,
		DecreaseFactor:   0.5,
	}
}

func TestNewAdaptiveLimiter_Normalizes(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want float64
	}{
		{name: "initial above max is clamped", cfg: Config{InitialRate: 50, MinRate: 1, MaxRate: 10}, want: 10},
		{name: "initial below min is clamped", cfg: Config{InitialRate: 0.01, MinRate: 1, MaxRate: 10}, want: 1},
		{name: "missing initial starts at max", cfg: Config{MinRate: 1, MaxRate: 4}, want: 4},
		{name: "max below min collapses to min", cfg: Config{InitialRate: 3, MinRate: 2, MaxRate: 1}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewAdaptiveLimiter(tt.cfg)
			assert.Equal(t, tt.want, l.Rate())
		})
	}
}

func TestAdaptiveLimiter_SuccessIncreasesInSteps(t *testing.T) {
	l := NewAdaptiveLimiter(testConfig())

	l.RecordSuccess()
	assert.Equal(t, 2.0, l.Rate(), "one success is below the step threshold")

	l.RecordSuccess()
	assert.Equal(t, 3.0, l.Rate())

	for i := 0; i < 10; i++ {
		l.RecordSuccess()
	}
	assert.Equal(t, 5.0, l.Rate(), "rate must stop at MaxRate")
}

func TestAdaptiveLimiter_ErrorHalvesAndResetsStreak(t *testing.T) {
	l := NewAdaptiveLimiter(testConfig())
	l.RecordSuccess()
	l.RecordError()
	assert.Equal(t, 1.0, l.Rate())

	l.RecordSuccess()
	assert.Equal(t, 1.0, l.Rate(), "streak restarts after an error")

	l.RecordError()
	l.RecordError()
	assert.Equal(t, 1.0, l.Rate(), "rate must stop at MinRate")

	stats := l.Stats()
	assert.Equal(t, uint64(2), stats.Successes)
	assert.Equal(t, uint64(3), stats.Errors)
}

func TestAdaptiveLimiter_RateStaysInBounds(t *testing.T) {
	cfg := testConfig()
	l := NewAdaptiveLimiter(cfg)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		if rng.Intn(3) == 0 {
			l.RecordError()
		} else {
			l.RecordSuccess()
		}
		r := l.Rate()
		require.GreaterOrEqual(t, r, cfg.MinRate)
		require.LessOrEqual(t, r, cfg.MaxRate)
	}
}

func TestAdaptiveLimiter_BurstFollowsRate(t *testing.T) {
	cfg := testConfig()
	cfg.BurstFactor = 2.0
	l := NewAdaptiveLimiter(cfg)
	assert.Equal(t, 4, l.Stats().Burst)

	l.RecordError()
	assert.Equal(t, 2, l.Stats().Burst)
}

func TestAdaptiveLimiter_OnRateChange(t *testing.T) {
	var seen []float64
	cfg := testConfig()
	cfg.OnRateChange = func(r float64) { seen = append(seen, r) }
	l := NewAdaptiveLimiter(cfg)

	l.RecordError()
	l.RecordError()
	l.RecordSuccess()
	l.RecordSuccess()

	assert.Equal(t, []float64{1.0, 2.0}, seen, "unchanged rates are not reported")
}

func TestAdaptiveLimiter_Wait(t *testing.T) {
	t.Run("burst is granted immediately", func(t *testing.T) {
		l := NewAdaptiveLimiter(Config{InitialRate: 3, MinRate: 1, MaxRate: 3, BurstFactor: 1})
		start := time.Now()
		for i := 0; i < 3; i++ {
			require.NoError(t, l.Wait(context.Background()))
		}
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("waits for refill", func(t *testing.T) {
		l := NewAdaptiveLimiter(Config{InitialRate: 20, MinRate: 20, MaxRate: 20, BurstFactor: 0.05})
		require.NoError(t, l.Wait(context.Background()))

		start := time.Now()
		require.NoError(t, l.Wait(context.Background()))
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("context cancellation ends the wait", func(t *testing.T) {
		l := NewAdaptiveLimiter(Config{InitialRate: 0.1, MinRate: 0.1, MaxRate: 0.1})
		require.NoError(t, l.Wait(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := l.Wait(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestRegistry(t *testing.T) {
	rates := map[string]float64{}
	reg := NewRegistry(testConfig(), func(name string, r float64) { rates[name] = r })

	a := reg.Get("a")
	assert.Same(t, a, reg.Get("a"))
	assert.Equal(t, 2.0, rates["a"], "initial rate is reported")

	reg.Get("b").RecordError()
	assert.Equal(t, 1.0, rates["b"])
	assert.Equal(t, 2.0, a.Rate(), "limiters are independent")

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, uint64(1), snap["b"].Errors)

	assert.True(t, reg.Remove("a"))
	assert.False(t, reg.Remove("a"))
}
