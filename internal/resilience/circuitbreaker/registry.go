package circuitbreaker

import (
	"sort"
	"sync"
)

// Registry hands out one breaker per resource name.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	base     Config
}

// NewRegistry creates a registry whose breakers share base, except for Name.
func NewRegistry(base Config) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		base:     base,
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cfg := r.base
	cfg.Name = name
	cb := New(cfg)
	r.breakers[name] = cb
	return cb
}

// Remove drops the breaker for name. It reports whether one existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.breakers[name]; !ok {
		return false
	}
	delete(r.breakers, name)
	return true
}

// Len returns the number of tracked breakers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.breakers)
}

// Snapshot returns stats for every breaker, sorted by name.
func (r *Registry) Snapshot() []Stats {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		list = append(list, cb)
	}
	r.mu.Unlock()

	out := make([]Stats, 0, len(list))
	for _, cb := range list {
		out = append(out, cb.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
