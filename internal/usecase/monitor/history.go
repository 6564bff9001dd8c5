package monitor

import (
	"sync"

	"changewatch/internal/domain/entity"
)

// History is a fixed-capacity ring of change records. Once full, each Add
// overwrites the oldest record.
type History struct {
	mu   sync.RWMutex
	buf  []entity.ChangeRecord
	next int
	full bool
}

// NewHistory creates a ring holding up to capacity records (minimum 1).
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]entity.ChangeRecord, capacity)}
}

// Add appends rec.
func (h *History) Add(rec entity.ChangeRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = rec
	h.next++
	if h.next == len(h.buf) {
		h.next = 0
		h.full = true
	}
}

// Len returns the number of stored records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lenLocked()
}

// Cap returns the ring capacity.
func (h *History) Cap() int {
	return len(h.buf)
}

func (h *History) lenLocked() int {
	if h.full {
		return len(h.buf)
	}
	return h.next
}

// Recent returns up to limit records, most recent first. limit <= 0 means all.
func (h *History) Recent(limit int) []entity.ChangeRecord {
	return h.collect(limit, func(*entity.ChangeRecord) bool { return true })
}

// ForResource is Recent filtered to one resource.
func (h *History) ForResource(id string, limit int) []entity.ChangeRecord {
	return h.collect(limit, func(r *entity.ChangeRecord) bool { return r.ResourceID == id })
}

func (h *History) collect(limit int, keep func(*entity.ChangeRecord) bool) []entity.ChangeRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.lenLocked()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]entity.ChangeRecord, 0, limit)
	for i := 1; i <= n && len(out) < limit; i++ {
		idx := (h.next - i + len(h.buf)) % len(h.buf)
		if keep(&h.buf[idx]) {
			out = append(out, h.buf[idx])
		}
	}
	return out
}
