package monitor

import (
	"sort"
	"time"

	"changewatch/internal/infra/cache"
	"changewatch/internal/infra/workerpool"
	"changewatch/internal/resilience/circuitbreaker"
	"changewatch/internal/resilience/ratelimit"
)

// Stats aggregates counters from the monitor and its collaborators.
type Stats struct {
	TotalMonitored int                        `json:"total_monitored"`
	ActiveMonitors int                        `json:"active_monitors"`
	TotalChecks    uint64                     `json:"total_checks"`
	TotalChanges   uint64                     `json:"total_changes"`
	TotalErrors    uint64                     `json:"total_errors"`
	HistorySize    int                        `json:"history_size"`
	DroppedEvents  uint64                     `json:"dropped_events"`
	Cache          cache.Stats                `json:"cache"`
	Pool           workerpool.Stats           `json:"pool"`
	Circuits       []circuitbreaker.Stats     `json:"circuits"`
	Limiters       map[string]ratelimit.Stats `json:"limiters"`
}

// Stats returns a point-in-time snapshot.
func (s *Service) Stats() Stats {
	resources := s.List()
	active := 0
	for _, r := range resources {
		if r.Enabled {
			active++
		}
	}
	return Stats{
		TotalMonitored: len(resources),
		ActiveMonitors: active,
		TotalChecks:    s.totalChecks.Load(),
		TotalChanges:   s.totalChanges.Load(),
		TotalErrors:    s.totalErrors.Load(),
		HistorySize:    s.history.Len(),
		DroppedEvents:  s.bus.Dropped(),
		Cache:          s.hashes.Stats(),
		Pool:           s.pool.Stats(),
		Circuits:       s.breakers.Snapshot(),
		Limiters:       s.limiters.Snapshot(),
	}
}

// HealthStatus is the overall monitor condition.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Health classifies the monitor by its enabled resources. A resource is
// failing when its last check errored or its circuit is open.
type Health struct {
	Status           HealthStatus `json:"status"`
	TotalMonitored   int          `json:"total_monitored"`
	EnabledMonitors  int          `json:"enabled_monitors"`
	FailingResources []string     `json:"failing_resources"`
	OpenCircuits     []string     `json:"open_circuits"`
	CheckedAt        time.Time    `json:"checked_at"`
}

// Health evaluates the current condition. With no enabled resources the
// monitor is healthy.
func (s *Service) Health() Health {
	open := make(map[string]bool)
	openList := []string{}
	for _, cs := range s.breakers.Snapshot() {
		if cs.State == "open" {
			open[cs.Name] = true
			openList = append(openList, cs.Name)
		}
	}

	h := Health{
		FailingResources: []string{},
		OpenCircuits:     openList,
		CheckedAt:        time.Now(),
	}
	for _, r := range s.List() {
		h.TotalMonitored++
		if !r.Enabled {
			continue
		}
		h.EnabledMonitors++
		if r.ConsecutiveErrors > 0 || open[r.ID] {
			h.FailingResources = append(h.FailingResources, r.ID)
		}
	}
	sort.Strings(h.FailingResources)

	switch {
	case len(h.FailingResources) == 0:
		h.Status = StatusHealthy
	case len(h.FailingResources) == h.EnabledMonitors:
		h.Status = StatusUnhealthy
	default:
		h.Status = StatusDegraded
	}
	return h
}
