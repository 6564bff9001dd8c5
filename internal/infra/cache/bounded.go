// Package cache provides a size-bounded, TTL-aware LRU cache.
package cache

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// ErrInvalidSize is returned when MaxSize is not positive.
var ErrInvalidSize = errors.New("cache: max size must be positive")

// Config controls a BoundedCache.
type Config struct {
	// MaxSize is the number of entries kept before the least recently used is evicted.
	MaxSize int
	// DefaultTTL applies to Set. Zero means entries never expire.
	DefaultTTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultConfig returns a cache sized for per-resource content hashes.
func DefaultConfig() Config {
	return Config{
		MaxSize:    1000,
		DefaultTTL: 0,
	}
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Size      int    `json:"size"`
	MaxSize   int    `json:"max_size"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
}

type entry[V any] struct {
	value          V
	insertedAt     time.Time
	lastAccessedAt time.Time
	ttl            time.Duration
}

func (e *entry[V]) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.insertedAt) >= e.ttl
}

// BoundedCache is an LRU cache with per-entry TTL. All methods are safe for
// concurrent use; every mutation is serialized by a single mutex.
type BoundedCache[K comparable, V any] struct {
	mu  sync.Mutex
	lru *simplelru.LRU[K, *entry[V]]
	cfg Config
	now func() time.Time

	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64
}

// New creates a BoundedCache.
func New[K comparable, V any](cfg Config) (*BoundedCache[K, V], error) {
	if cfg.MaxSize <= 0 {
		return nil, ErrInvalidSize
	}
	l, err := simplelru.NewLRU[K, *entry[V]](cfg.MaxSize, nil)
	if err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &BoundedCache[K, V]{lru: l, cfg: cfg, now: now}, nil
}

// Get returns the live value for key and marks it most recently used.
// An expired entry is removed and reported as a miss.
func (c *BoundedCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return zero, false
	}
	now := c.now()
	if e.expired(now) {
		c.lru.Remove(key)
		c.expired++
		c.misses++
		return zero, false
	}
	e.lastAccessedAt = now
	c.hits++
	return e.value, true
}

// Peek returns the live value for key without touching recency or counters.
func (c *BoundedCache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lru.Peek(key)
	if !ok || e.expired(c.now()) {
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *BoundedCache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.cfg.DefaultTTL)
}

// SetWithTTL stores value under key. A ttl of zero never expires.
// Inserting a new key into a full cache evicts the least recently used entry.
func (c *BoundedCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.lru.Add(key, &entry[V]{value: value, insertedAt: now, lastAccessedAt: now, ttl: ttl}) {
		c.evictions++
	}
}

// Delete removes key. It reports whether the key was present.
func (c *BoundedCache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Clear drops every entry. Counters are kept.
func (c *BoundedCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of stored entries, including expired ones not yet collected.
func (c *BoundedCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns stored keys from least to most recently used.
func (c *BoundedCache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Stats returns a snapshot of the counters.
func (c *BoundedCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      c.lru.Len(),
		MaxSize:   c.cfg.MaxSize,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
}
