package metrics

import (
	"changewatch/internal/infra/cache"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheCollector exports BoundedCache counters at scrape time.
type CacheCollector struct {
	stats func() cache.Stats

	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
	expired   *prometheus.Desc
	size      *prometheus.Desc
	maxSize   *prometheus.Desc
}

var _ prometheus.Collector = (*CacheCollector)(nil)

// NewCacheCollector creates a collector for the cache named name.
func NewCacheCollector(name string, stats func() cache.Stats) *CacheCollector {
	labels := prometheus.Labels{"cache": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc("changewatch_cache_"+metric, help, nil, labels)
	}
	return &CacheCollector{
		stats:     stats,
		hits:      desc("hits_total", "Total number of cache hits"),
		misses:    desc("misses_total", "Total number of cache misses"),
		evictions: desc("evictions_total", "Total number of capacity evictions"),
		expired:   desc("expired_total", "Total number of entries dropped on expiry"),
		size:      desc("entries", "Number of cached entries"),
		maxSize:   desc("max_entries", "Cache capacity"),
	}
}

// Describe implements prometheus.Collector.
func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.expired
	ch <- c.size
	ch <- c.maxSize
}

// Collect implements prometheus.Collector.
func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.expired, prometheus.CounterValue, float64(s.Expired))
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(c.maxSize, prometheus.GaugeValue, float64(s.MaxSize))
}
