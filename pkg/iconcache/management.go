package iconcache

import (
	"image"

	"github.com/objectfs/iconcache/internal/cache"
	"github.com/objectfs/iconcache/internal/preload"
	"github.com/objectfs/iconcache/pkg/status"
	"github.com/objectfs/iconcache/pkg/types"
)

// JobTypePreload is the status type of preload jobs.
const JobTypePreload = "preload"

// Memory tier

// ClearMemoryCache drops every decoded image.
func (p *Provider) ClearMemoryCache() {
	p.memory.Clear()
}

// SetMemoryBudget changes the memory tier budget in bytes, evicting as
// needed.
func (p *Provider) SetMemoryBudget(bytes int64) {
	p.memory.SetBudget(bytes)
}

// MemoryBudget returns the memory tier budget in bytes.
func (p *Provider) MemoryBudget() int64 {
	return p.memory.Budget()
}

// GPU tier

// ClearGpuCache forgets every cached texture in every context.
func (p *Provider) ClearGpuCache() {
	p.gpu.ClearAll()
}

// SetGpuBudget changes the per-context texture budget in bytes.
func (p *Provider) SetGpuBudget(bytes int64) {
	p.gpu.SetBudget(bytes)
}

// GpuBudget returns the per-context texture budget in bytes.
func (p *Provider) GpuBudget() int64 {
	return p.gpu.Budget()
}

// GpuContexts lists the rendering contexts holding textures.
func (p *Provider) GpuContexts() []cache.ContextID {
	return p.gpu.Contexts()
}

// Disk tier

// ClearDiskCache deletes every stored file and the index contents.
func (p *Provider) ClearDiskCache() error {
	err := p.disk.Clear()
	if err != nil {
		p.recordError("clear_disk", err)
	}
	return err
}

// SetDiskCacheEnabled turns the disk tier on or off. A tier disabled by
// a storage failure stays off.
func (p *Provider) SetDiskCacheEnabled(enabled bool) {
	p.disk.SetEnabled(enabled)
}

// DiskCacheEnabled reports whether the disk tier is usable.
func (p *Provider) DiskCacheEnabled() bool {
	return p.disk.Enabled()
}

// SetDiskCacheMaxSize changes the disk budget in bytes, evicting as
// needed.
func (p *Provider) SetDiskCacheMaxSize(bytes int64) {
	p.disk.SetMaxSize(bytes)
}

// DiskCacheMaxSize returns the disk budget in bytes.
func (p *Provider) DiskCacheMaxSize() int64 {
	return p.disk.MaxSize()
}

// All tiers

// ClearAllCaches empties the memory, GPU and disk tiers.
func (p *Provider) ClearAllCaches() error {
	p.ClearMemoryCache()
	p.ClearGpuCache()
	return p.ClearDiskCache()
}

// ResetStats zeroes the hit, miss and upload counters of every tier.
func (p *Provider) ResetStats() {
	p.memory.ResetStats()
	p.gpu.ResetStats()
	p.disk.ResetStats()
	if p.metrics != nil {
		p.metrics.ResetMetrics()
	}
}

// Loader

// SetWorkers resizes the worker pool. Zero selects the default size.
func (p *Provider) SetWorkers(n int) {
	p.pool.Resize(n)
}

// Workers returns the worker pool size.
func (p *Provider) Workers() int {
	return p.pool.Size()
}

// SetCoalesce toggles sharing one background load between concurrent
// requests for the same icon.
func (p *Provider) SetCoalesce(enabled bool) {
	p.loader.SetCoalesce(enabled)
}

// Usage statistics

// TopUsedIcons returns up to n icon names, most requested first.
func (p *Provider) TopUsedIcons(n int) []string {
	return p.usage.TopUsed(n)
}

// RecentlyUsedIcons returns up to n icon names, most recent first.
func (p *Provider) RecentlyUsedIcons(n int) []string {
	return p.usage.RecentlyUsed(n)
}

// UsageEntries returns every usage record.
func (p *Provider) UsageEntries() []types.UsageEntry {
	return p.usage.Entries()
}

// ClearUsageStats forgets all usage data and persists the empty set.
func (p *Provider) ClearUsageStats() error {
	return p.usage.ClearStats()
}

// SetUsageTracking turns usage recording on or off.
func (p *Provider) SetUsageTracking(enabled bool) {
	p.usage.SetEnabled(enabled)
}

// UsageTracking reports whether usage is recorded.
func (p *Provider) UsageTracking() bool {
	return p.usage.Enabled()
}

// Preloading

// PreloadIcons warms the caches with names at size and state. It fails
// with ALREADY_PRELOADING while another preload runs.
func (p *Provider) PreloadIcons(names []string, size image.Point, state types.IconState) (*preload.Job, error) {
	if size.X <= 0 || size.Y <= 0 {
		size = preload.DefaultSize
	}
	job, err := p.preloader.PreloadMany(names, size, state)
	if err != nil {
		return nil, err
	}
	p.jobs.Begin(job.ID(), JobTypePreload, job.Total(), map[string]interface{}{
		"trigger": "manual",
		"size":    size.X,
		"state":   state.String(),
	})
	return job, nil
}

// CancelPreload stops the running preload before its next icon.
func (p *Provider) CancelPreload() {
	p.preloader.Cancel()
}

// IsPreloading reports whether a preload is running.
func (p *Provider) IsPreloading() bool {
	return p.preloader.IsPreloading()
}

// SetPreloadCallbacks sets the progress and completion callbacks. They
// run on the Provider's dispatcher.
func (p *Provider) SetPreloadCallbacks(cb preload.Callbacks) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.callbacks = cb
}

// PreloadJob returns the status of a running or recently finished
// preload.
func (p *Provider) PreloadJob(id string) (*status.Operation, error) {
	return p.jobs.GetOperation(id)
}

// PreloadJobs returns the running preloads and up to limit finished ones.
func (p *Provider) PreloadJobs(limit int) (active, history []*status.Operation) {
	return p.jobs.Active(), p.jobs.History(limit)
}

func (p *Provider) userCallbacks() preload.Callbacks {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	return p.callbacks
}

func (p *Provider) onPreloadProgress(jobID string, current, total int) {
	p.jobs.Begin(jobID, JobTypePreload, total, nil)
	p.jobs.UpdateProgress(jobID, current, total)
	if cb := p.userCallbacks().Progress; cb != nil {
		cb(jobID, current, total)
	}
}

func (p *Provider) onPreloadComplete(res preload.Result) {
	p.jobs.Begin(res.JobID, JobTypePreload, res.Total, nil)
	p.jobs.Finish(res.JobID, status.Summary{
		Processed: res.Processed,
		Succeeded: res.Success,
		Failed:    res.Failed,
		Duration:  res.Duration,
	}, res.Cancelled)
	if cb := p.userCallbacks().Complete; cb != nil {
		cb(res)
	}
}

// SetAutoPreload turns usage-driven preloading on or off.
func (p *Provider) SetAutoPreload(enabled bool) {
	p.preloader.SetAutoEnabled(enabled)
}

// AutoPreload reports whether usage-driven preloading is on.
func (p *Provider) AutoPreload() bool {
	return p.preloader.AutoEnabled()
}

// SetAutoPreloadCount sets how many top icons an automatic preload
// loads, clamped to [1, 100].
func (p *Provider) SetAutoPreloadCount(n int) {
	p.preloader.SetAutoCount(n)
}

// AutoPreloadCount returns the automatic preload count.
func (p *Provider) AutoPreloadCount() int {
	return p.preloader.AutoCount()
}

// TriggerAutoPreload preloads the most used icons now. It returns nil
// when there is nothing to do.
func (p *Provider) TriggerAutoPreload() *preload.Job {
	job := p.preloader.TriggerAutoPreload()
	if job != nil {
		p.jobs.Begin(job.ID(), JobTypePreload, job.Total(), map[string]interface{}{"trigger": "auto"})
	}
	return job
}
