package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/objectfs/iconcache/pkg/types"
)

// tierCollector reads cache tier statistics at scrape time.
type tierCollector struct {
	mu     sync.RWMutex
	stats  map[string]func() types.CacheStats
	hits   *prometheus.Desc
	misses *prometheus.Desc
	evicts *prometheus.Desc
	items  *prometheus.Desc
	bytes  *prometheus.Desc
	budget *prometheus.Desc
}

func newTierCollector(config *Config) *tierCollector {
	name := func(n string) string {
		return prometheus.BuildFQName(config.Namespace, config.Subsystem, n)
	}
	labels := []string{"tier"}
	return &tierCollector{
		stats:  make(map[string]func() types.CacheStats),
		hits:   prometheus.NewDesc(name("cache_hits_total"), "Cache hits per tier", labels, config.Labels),
		misses: prometheus.NewDesc(name("cache_misses_total"), "Cache misses per tier", labels, config.Labels),
		evicts: prometheus.NewDesc(name("cache_evictions_total"), "Cache evictions per tier", labels, config.Labels),
		items:  prometheus.NewDesc(name("cache_entries"), "Entries currently held per tier", labels, config.Labels),
		bytes:  prometheus.NewDesc(name("cache_size_bytes"), "Current cache size in bytes per tier", labels, config.Labels),
		budget: prometheus.NewDesc(name("cache_budget_bytes"), "Configured cache budget in bytes per tier", labels, config.Labels),
	}
}

func (t *tierCollector) add(tier string, stats func() types.CacheStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats[tier] = stats
}

// Describe implements prometheus.Collector.
func (t *tierCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- t.hits
	ch <- t.misses
	ch <- t.evicts
	ch <- t.items
	ch <- t.bytes
	ch <- t.budget
}

// Collect implements prometheus.Collector.
func (t *tierCollector) Collect(ch chan<- prometheus.Metric) {
	t.mu.RLock()
	tiers := make([]string, 0, len(t.stats))
	for tier := range t.stats {
		tiers = append(tiers, tier)
	}
	fns := make(map[string]func() types.CacheStats, len(t.stats))
	for k, v := range t.stats {
		fns[k] = v
	}
	t.mu.RUnlock()
	sort.Strings(tiers)

	for _, tier := range tiers {
		s := fns[tier]()
		ch <- prometheus.MustNewConstMetric(t.hits, prometheus.CounterValue, float64(s.Hits), tier)
		ch <- prometheus.MustNewConstMetric(t.misses, prometheus.CounterValue, float64(s.Misses), tier)
		ch <- prometheus.MustNewConstMetric(t.evicts, prometheus.CounterValue, float64(s.Evictions), tier)
		ch <- prometheus.MustNewConstMetric(t.items, prometheus.GaugeValue, float64(s.Entries), tier)
		ch <- prometheus.MustNewConstMetric(t.bytes, prometheus.GaugeValue, float64(s.Size), tier)
		ch <- prometheus.MustNewConstMetric(t.budget, prometheus.GaugeValue, float64(s.Capacity), tier)
	}
}
