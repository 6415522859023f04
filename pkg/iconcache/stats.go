package iconcache

import (
	"fmt"
	"time"

	"github.com/objectfs/iconcache/internal/buffer"
	"github.com/objectfs/iconcache/internal/cache"
	"github.com/objectfs/iconcache/internal/loader"
	"github.com/objectfs/iconcache/internal/metrics"
	"github.com/objectfs/iconcache/internal/worker"
	"github.com/objectfs/iconcache/pkg/errors"
	"github.com/objectfs/iconcache/pkg/health"
	"github.com/objectfs/iconcache/pkg/types"
)

// DiskStats extends the tier counters with the tier's availability.
type DiskStats struct {
	types.CacheStats
	Enabled bool `json:"enabled"`
	Failed  bool `json:"failed"`
}

// UsageStats summarises usage tracking.
type UsageStats struct {
	Enabled    bool  `json:"enabled"`
	Persistent bool  `json:"persistent"`
	Icons      int   `json:"icons"`
	Accesses   int64 `json:"accesses"`
}

// PreloadStatus describes the preloader.
type PreloadStatus struct {
	Running     bool   `json:"running"`
	JobID       string `json:"job_id,omitempty"`
	AutoEnabled bool   `json:"auto_enabled"`
	AutoCount   int    `json:"auto_count"`
}

// Stats is a consolidated snapshot of every component.
type Stats struct {
	Memory  types.CacheStats   `json:"memory"`
	Gpu     cache.GpuStats     `json:"gpu"`
	Disk    DiskStats          `json:"disk"`
	Buffers buffer.Stats       `json:"buffers"`
	Loader  loader.Stats       `json:"loader"`
	Workers worker.Stats       `json:"workers"`
	Usage   UsageStats         `json:"usage"`
	Preload PreloadStatus      `json:"preload"`
	Health  health.HealthState `json:"health"`
	Taken   time.Time          `json:"taken"`
}

// Stats returns a snapshot. Each component is read under its own lock,
// so the snapshot is not atomic across components.
func (p *Provider) Stats() Stats {
	s := Stats{
		Memory: p.memory.Stats(),
		Gpu:    p.gpu.Stats(),
		Disk: DiskStats{
			CacheStats: p.disk.Stats(),
			Enabled:    p.disk.Enabled(),
			Failed:     p.disk.Failed(),
		},
		Buffers: p.buffers.Stats(),
		Loader:  p.loader.Stats(),
		Workers: p.pool.Stats(),
		Usage: UsageStats{
			Enabled:    p.usage.Enabled(),
			Persistent: p.usage.Persistent(),
			Icons:      p.usage.TotalIconCount(),
			Accesses:   p.usage.TotalAccessCount(),
		},
		Preload: PreloadStatus{
			Running:     p.preloader.IsPreloading(),
			AutoEnabled: p.preloader.AutoEnabled(),
			AutoCount:   p.preloader.AutoCount(),
		},
		Health: p.health.GetOverallHealth(),
		Taken:  time.Now(),
	}
	if job := p.preloader.Current(); job != nil {
		s.Preload.JobID = job.ID()
	}
	return s
}

// String renders the snapshot on a few lines for logs.
func (s Stats) String() string {
	return fmt.Sprintf(
		"memory: %d items, %d bytes, hit rate %.1f%%\n"+
			"gpu: %s\n"+
			"disk: enabled=%t %d items, %d/%d bytes\n"+
			"loader: %d requests, %d fast hits, %d failed\n"+
			"usage: %d icons, %d accesses",
		s.Memory.Entries, s.Memory.Size, s.Memory.HitRate*100,
		s.Gpu,
		s.Disk.Enabled, s.Disk.Entries, s.Disk.Size, s.Disk.Capacity,
		s.Loader.Requests, s.Loader.FastHits, s.Loader.Failed,
		s.Usage.Icons, s.Usage.Accesses,
	)
}

// HealthReport is the result of a health check.
type HealthReport struct {
	Status     health.HealthState                 `json:"status"`
	Components map[string]*health.ComponentHealth `json:"components"`
}

// Health checks every component and reports the result.
func (p *Provider) Health() HealthReport {
	p.health.Check(p.checkComponent)
	return HealthReport{
		Status:     p.health.GetOverallHealth(),
		Components: p.health.GetAllComponents(),
	}
}

// HealthTracker exposes the tracker for periodic checks and callbacks.
func (p *Provider) HealthTracker() *health.Tracker {
	return p.health
}

// CheckComponent runs the health check for one component. It is the
// check function passed to health.Tracker.StartHealthChecks.
func (p *Provider) CheckComponent(component string) error {
	return p.checkComponent(component)
}

func (p *Provider) registerHealth() {
	p.health.RegisterComponent(ComponentMemory)
	p.health.RegisterComponent(ComponentWorkers)
	p.health.RegisterOptionalComponent(ComponentGpu)
	p.health.RegisterOptionalComponent(ComponentDisk)
	p.health.RegisterOptionalComponent(ComponentUsage)
	p.health.RegisterOptionalComponent(ComponentResolver)
	p.refreshPermanentStates()
}

// refreshPermanentStates records conditions that last for the session.
func (p *Provider) refreshPermanentStates() {
	if p.disk.Failed() {
		p.health.SetState(ComponentDisk, health.StateUnavailable,
			errors.NewError(errors.ErrCodeStorageUnavailable, "disk cache disabled for this session"))
	}
	if p.storage != "" && !p.usage.Persistent() {
		p.health.SetState(ComponentUsage, health.StateReadOnly,
			errors.NewError(errors.ErrCodeStorageWrite, "usage statistics cannot be saved"))
	}
	p.health.SetComponentMetadata(ComponentDisk, "enabled", p.disk.Enabled())
	p.health.SetComponentMetadata(ComponentDisk, "location", p.storage)
	p.health.SetComponentMetadata(ComponentGpu, "renderer", p.renderer != nil)
	p.health.SetComponentMetadata(ComponentUsage, "persistent", p.usage.Persistent())
}

// checkComponent checks one component. Session-long storage failures
// are applied as fixed states by refreshPermanentStates; the resolver and
// GPU are judged by recorded outcomes only.
func (p *Provider) checkComponent(component string) error {
	if component == ComponentWorkers {
		return p.pool.Submit(func() {})
	}
	if component == ComponentDisk {
		p.refreshPermanentStates()
	}
	return nil
}

// registerMetrics exports tier statistics and pool gauges.
func (p *Provider) registerMetrics(c *metrics.Collector) error {
	c.RegisterTier("memory", p.memory.Stats)
	c.RegisterTier("disk", p.disk.Stats)
	c.RegisterTier("gpu", func() types.CacheStats {
		g := p.gpu.Stats()
		return types.CacheStats{
			Hits:      g.Reuses,
			Misses:    g.Uploads,
			Evictions: g.Evictions,
			Entries:   g.Entries,
			Size:      g.Bytes,
			Capacity:  g.Budget,
			HitRate:   g.ReuseRate,
		}
	})

	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"worker_active", "Tasks currently running on the worker pool", func() float64 { return float64(p.pool.Stats().Active) }},
		{"worker_queued", "Tasks waiting for a worker", func() float64 { return float64(p.pool.Stats().Queued) }},
		{"worker_pool_size", "Configured worker pool size", func() float64 { return float64(p.pool.Size()) }},
		{"usage_tracked_icons", "Distinct icon usages tracked", func() float64 { return float64(p.usage.TotalIconCount()) }},
		{"gpu_contexts", "Rendering contexts holding textures", func() float64 { return float64(p.gpu.Stats().Contexts) }},
		{"preloading", "1 while a preload is running", func() float64 {
			if p.preloader.IsPreloading() {
				return 1
			}
			return 0
		}},
	}
	for _, g := range gauges {
		if err := c.RegisterGaugeFunc(g.name, g.help, g.fn); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternalError, "failed to register gauge").
				WithComponent("provider").WithContext("metric", g.name)
		}
	}

	counters := []struct {
		name, help string
		fn         func() float64
	}{
		{"requests_total", "Image requests received", func() float64 { return float64(p.loader.Stats().Requests) }},
		{"fast_hits_total", "Requests answered from the memory tier", func() float64 { return float64(p.loader.Stats().FastHits) }},
		{"coalesced_total", "Requests served by a shared background load", func() float64 { return float64(p.loader.Stats().Coalesced) }},
		{"usage_accesses_total", "Icon accesses recorded", func() float64 { return float64(p.usage.TotalAccessCount()) }},
	}
	for _, ctr := range counters {
		if err := c.RegisterCounterFunc(ctr.name, ctr.help, ctr.fn); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternalError, "failed to register counter").
				WithComponent("provider").WithContext("metric", ctr.name)
		}
	}
	return nil
}
