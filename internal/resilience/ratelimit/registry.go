package ratelimit

import "sync"

// Registry holds one AdaptiveLimiter per resource.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
	base     Config
	onRate   func(name string, rate float64)
}

// NewRegistry creates a registry. onRate, if non-nil, observes rate changes
// of every limiter it creates, including the initial rate.
func NewRegistry(base Config, onRate func(name string, rate float64)) *Registry {
	return &Registry{
		limiters: make(map[string]*AdaptiveLimiter),
		base:     base,
		onRate:   onRate,
	}
}

// Get returns the limiter for name, creating it on first use.
func (r *Registry) Get(name string) *AdaptiveLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[name]; ok {
		return l
	}
	cfg := r.base
	if r.onRate != nil {
		cfg.OnRateChange = func(rate float64) { r.onRate(name, rate) }
	}
	l := NewAdaptiveLimiter(cfg)
	r.limiters[name] = l
	if r.onRate != nil {
		r.onRate(name, l.current)
	}
	return l
}

// Remove drops the limiter for name.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.limiters[name]; !ok {
		return false
	}
	delete(r.limiters, name)
	return true
}

// Snapshot returns stats keyed by resource name.
func (r *Registry) Snapshot() map[string]Stats {
	r.mu.Lock()
	list := make(map[string]*AdaptiveLimiter, len(r.limiters))
	for k, v := range r.limiters {
		list[k] = v
	}
	r.mu.Unlock()

	out := make(map[string]Stats, len(list))
	for k, v := range list {
		out[k] = v.Stats()
	}
	return out
}
