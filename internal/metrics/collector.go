package metrics

import (
	stderrors "errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectfs/iconcache/pkg/errors"
	"github.com/objectfs/iconcache/pkg/types"
)

// Collector implements metrics collection for the icon cache
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	// Prometheus metrics
	loadCounter    *prometheus.CounterVec
	loadDuration   *prometheus.HistogramVec
	preloadCounter *prometheus.CounterVec
	errorCounter   *prometheus.CounterVec
	tiers          *tierCollector

	// Internal tracking
	loads     map[string]*OperationMetrics
	lastReset time.Time
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Path:      "/metrics",
		Namespace: "iconcache",
		Labels:    make(map[string]string),
	}
}

// OperationMetrics tracks loads served from one source
type OperationMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastOperation time.Time     `json:"last_operation"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Collector{config: config, loads: make(map[string]*OperationMetrics), lastReset: time.Now()}, nil
	}

	collector := &Collector{
		config:    config,
		registry:  prometheus.NewRegistry(),
		loads:     make(map[string]*OperationMetrics),
		lastReset: time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to register metrics").
			WithComponent("metrics")
	}

	return collector, nil
}

// Enabled reports whether metrics are collected.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Registry returns the Prometheus registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.config.Enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics disabled", http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// ObserveLoad records one completed background load. It satisfies the
// loader's Observer interface.
func (c *Collector) ObserveLoad(source string, duration time.Duration, success bool) {
	if !c.config.Enabled {
		return
	}
	if source == "" {
		source = "none"
	}

	c.mu.Lock()
	m, ok := c.loads[source]
	if !ok {
		m = &OperationMetrics{}
		c.loads[source] = m
	}
	m.Count++
	m.TotalDuration += duration
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	m.LastOperation = time.Now()
	if !success {
		m.Errors++
	}
	c.mu.Unlock()

	c.loadCounter.With(prometheus.Labels{
		"source": source,
		"status": statusLabel(success),
	}).Inc()
	c.loadDuration.With(prometheus.Labels{
		"source": source,
	}).Observe(duration.Seconds())
}

// ObservePreloadItem records one preloaded icon. It satisfies the
// preloader's Observer interface.
func (c *Collector) ObservePreloadItem(outcome string) {
	if !c.config.Enabled {
		return
	}
	c.preloadCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordError records an error by operation and error code.
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled || err == nil {
		return
	}

	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"type":      classifyError(err),
	}).Inc()
}

// RegisterTier exports size and hit counters for a cache tier. stats is
// called on every scrape.
func (c *Collector) RegisterTier(tier string, stats func() types.CacheStats) {
	if !c.config.Enabled {
		return
	}
	c.tiers.add(tier, stats)
}

// RegisterGaugeFunc exports fn as a gauge.
func (c *Collector) RegisterGaugeFunc(name, help string, fn func() float64) error {
	if !c.config.Enabled {
		return nil
	}
	return c.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: c.config.Labels,
	}, fn))
}

// RegisterCounterFunc exports fn as a counter. fn must be monotonic.
func (c *Collector) RegisterCounterFunc(name, help string, fn func() float64) error {
	if !c.config.Enabled {
		return nil
	}
	return c.registry.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   c.config.Namespace,
		Subsystem:   c.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: c.config.Labels,
	}, fn))
}

// GetMetrics returns the per-source load summary.
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	loads := make(map[string]OperationMetrics, len(c.loads))
	for k, v := range c.loads {
		loads[k] = *v
	}

	return map[string]interface{}{
		"loads":      loads,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset),
	}
}

// Sources returns the load sources seen so far, sorted.
func (c *Collector) Sources() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.loads))
	for k := range c.loads {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ResetMetrics resets the internal load summary. Prometheus counters are
// monotonic and are not reset.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loads = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() {
	c.loadCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "loads_total",
			Help:        "Total number of background icon loads",
			ConstLabels: c.config.Labels,
		},
		[]string{"source", "status"},
	)

	c.loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "load_duration_seconds",
			Help:        "Duration of background icon loads in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 15), // 100µs to ~1.6s
			ConstLabels: c.config.Labels,
		},
		[]string{"source"},
	)

	c.preloadCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "preload_items_total",
			Help:        "Total number of icons processed by preloads",
			ConstLabels: c.config.Labels,
		},
		[]string{"outcome"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.config.Namespace,
			Subsystem:   c.config.Subsystem,
			Name:        "errors_total",
			Help:        "Total number of errors",
			ConstLabels: c.config.Labels,
		},
		[]string{"operation", "type"},
	)

	c.tiers = newTierCollector(c.config)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.loadCounter,
		c.loadDuration,
		c.preloadCounter,
		c.errorCounter,
		c.tiers,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func classifyError(err error) string {
	var ice *errors.IconCacheError
	if stderrors.As(err, &ice) {
		return string(ice.Code)
	}
	return "other"
}
