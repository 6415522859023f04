// Package preload warms the memory and disk tiers ahead of requests,
// driven by usage statistics.
package preload

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/objectfs/iconcache/internal/cache"
	"github.com/objectfs/iconcache/internal/dispatch"
	"github.com/objectfs/iconcache/internal/loader"
	"github.com/objectfs/iconcache/internal/usage"
	"github.com/objectfs/iconcache/internal/worker"
	"github.com/objectfs/iconcache/pkg/errors"
	"github.com/objectfs/iconcache/pkg/types"
	"github.com/objectfs/iconcache/pkg/utils"
)

const (
	DefaultAutoCount    = 30
	MaxAutoCount        = 100
	DefaultStartupDelay = 500 * time.Millisecond
)

// DefaultSize is the size used by automatic preloads.
var DefaultSize = image.Pt(types.DefaultIconWidth, types.DefaultIconHeight)

// Item outcomes reported to the Observer.
const (
	OutcomeMemory   = "memory"
	OutcomeDisk     = "disk"
	OutcomeResolved = "resolved"
	OutcomeFailed   = "failed"
)

// Observer receives per-item outcomes. internal/metrics implements it.
type Observer interface {
	ObservePreloadItem(outcome string)
}

// Result summarises a finished preload.
type Result struct {
	JobID     string        `json:"job_id"`
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Cancelled bool          `json:"cancelled"`
	Duration  time.Duration `json:"duration"`
}

// Callbacks are invoked on the dispatcher. Progress fires once per
// processed item, in list order. Complete fires once per job, including
// cancelled ones.
type Callbacks struct {
	Progress func(jobID string, current, total int)
	Complete func(Result)
}

// Job is a handle to a running preload.
type Job struct {
	id     string
	total  int
	done   chan struct{}
	result Result
}

// ID returns the job identifier.
func (j *Job) ID() string { return j.id }

// Total returns the number of names in the job.
func (j *Job) Total() int { return j.total }

// Done is closed after the completion callback has run.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job completes or ctx is done.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Options wires a Preloader. Memory, Resolver, Pool and Dispatcher are
// required.
type Options struct {
	Memory     *cache.MemoryCache
	Disk       *cache.DiskCache
	Usage      *usage.Tracker
	Resolver   types.Resolver
	Pool       *worker.Pool
	Dispatcher dispatch.Dispatcher
	Observer   Observer

	AutoEnabled bool
	AutoCount   int

	Logger logrus.FieldLogger
}

// Preloader runs at most one bulk preload at a time.
type Preloader struct {
	memory     *cache.MemoryCache
	disk       *cache.DiskCache
	usage      *usage.Tracker
	resolver   types.Resolver
	pool       *worker.Pool
	dispatcher dispatch.Dispatcher
	observer   Observer

	mu          sync.Mutex
	running     bool
	current     *Job
	autoEnabled bool
	autoCount   int
	callbacks   Callbacks
	timer       *time.Timer

	cancelled atomic.Bool
	ctx       context.Context
	stop      context.CancelFunc

	logger logrus.FieldLogger
}

// New creates a Preloader.
func New(opts Options) (*Preloader, error) {
	if opts.Memory == nil || opts.Resolver == nil || opts.Pool == nil || opts.Dispatcher == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "preloader requires memory cache, resolver, pool and dispatcher").
			WithComponent("preloader")
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	count := opts.AutoCount
	if count == 0 {
		count = DefaultAutoCount
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Preloader{
		memory:      opts.Memory,
		disk:        opts.Disk,
		usage:       opts.Usage,
		resolver:    opts.Resolver,
		pool:        opts.Pool,
		dispatcher:  opts.Dispatcher,
		observer:    opts.Observer,
		autoEnabled: opts.AutoEnabled,
		autoCount:   clampCount(count),
		ctx:         ctx,
		stop:        stop,
		logger:      logger.WithField("component", "preloader"),
	}, nil
}

func clampCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxAutoCount {
		return MaxAutoCount
	}
	return n
}

// SetCallbacks replaces the progress and completion callbacks.
func (p *Preloader) SetCallbacks(cb Callbacks) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = cb
}

// PreloadMany loads names sequentially on one pool worker. It fails with
// ALREADY_PRELOADING if another preload is running; calls are never
// queued.
func (p *Preloader) PreloadMany(names []string, size image.Point, state types.IconState) (*Job, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.logger.Warn("Preload already in progress, ignoring request")
		return nil, errors.NewError(errors.ErrCodePreloadBusy, "a preload is already running").
			WithComponent("preloader").WithOperation("PreloadMany")
	}
	job := &Job{id: uuid.NewString(), total: len(names), done: make(chan struct{})}
	p.running = true
	p.current = job
	p.cancelled.Store(false)
	cb := p.callbacks
	p.mu.Unlock()

	list := append([]string(nil), names...)
	err := p.pool.Submit(func() { p.run(job, list, size, state, cb) })
	if err != nil {
		p.mu.Lock()
		p.running = false
		p.current = nil
		p.mu.Unlock()
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"job":   job.id,
		"count": len(list),
		"size":  size,
		"state": state,
	}).Info("Starting icon preload")
	return job, nil
}

func (p *Preloader) run(job *Job, names []string, size image.Point, state types.IconState, cb Callbacks) {
	start := time.Now()
	res := Result{JobID: job.id, Total: len(names)}

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("Recovered panic during preload")
			res.Failed += len(names) - res.Processed
		}
		res.Duration = time.Since(start)
		res.Cancelled = p.cancelled.Load()

		p.mu.Lock()
		p.running = false
		p.current = nil
		p.mu.Unlock()

		p.dispatcher.Dispatch(func() {
			job.result = res
			if cb.Complete != nil {
				cb.Complete(res)
			}
			close(job.done)
		})

		p.logger.WithFields(logrus.Fields{
			"job":       job.id,
			"success":   res.Success,
			"failed":    res.Failed,
			"cancelled": res.Cancelled,
		}).Info("Preload completed")
	}()

	total := len(names)
	for i, name := range names {
		if p.cancelled.Load() {
			p.logger.WithFields(logrus.Fields{"at": i, "total": total}).Info("Preload cancelled")
			break
		}

		if p.preloadOne(name, size, state) {
			res.Success++
		} else {
			res.Failed++
		}
		res.Processed++

		if cb.Progress != nil {
			current := i + 1
			p.dispatcher.Dispatch(func() { cb.Progress(job.id, current, total) })
		}
	}
}

func (p *Preloader) preloadOne(name string, size image.Point, state types.IconState) bool {
	key := types.NewCacheKey(name, size.X, size.Y, state)

	if p.memory.Contains(key) {
		p.observe(OutcomeMemory)
		return true
	}

	if p.disk != nil {
		if img, ok := p.disk.Load(key); ok {
			p.memory.Put(key, img)
			p.observe(OutcomeDisk)
			return true
		}
	}

	img, _, err := loader.RenderFirst(p.ctx, p.resolver, key, name)
	if err != nil {
		p.observe(OutcomeFailed)
		p.logger.WithField("icon", name).Debug("Preload could not resolve icon")
		return false
	}

	p.memory.Put(key, img)
	if p.disk != nil {
		p.disk.Save(key, img)
	}
	p.observe(OutcomeResolved)
	return true
}

func (p *Preloader) observe(outcome string) {
	if p.observer != nil {
		p.observer.ObservePreloadItem(outcome)
	}
}

// Cancel asks the running preload to stop before its next item.
func (p *Preloader) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.cancelled.Store(true)
		p.logger.Debug("Preload cancel requested")
	}
}

// IsPreloading reports whether a preload is running.
func (p *Preloader) IsPreloading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Current returns the running job, or nil.
func (p *Preloader) Current() *Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// SetAutoEnabled turns automatic preloading on or off.
func (p *Preloader) SetAutoEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoEnabled = enabled
}

// AutoEnabled reports whether automatic preloading is on.
func (p *Preloader) AutoEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoEnabled
}

// SetAutoCount sets how many top-used icons an automatic preload loads,
// clamped to [1, 100].
func (p *Preloader) SetAutoCount(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoCount = clampCount(n)
}

// AutoCount returns the automatic preload count.
func (p *Preloader) AutoCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoCount
}

// TriggerAutoPreload preloads the most used icons at 32x32 in the normal
// state. It returns nil when automatic preloading is disabled, usage
// tracking is off or empty, or a preload is already running.
func (p *Preloader) TriggerAutoPreload() *Job {
	p.mu.Lock()
	enabled, running, count := p.autoEnabled, p.running, p.autoCount
	p.mu.Unlock()

	switch {
	case !enabled:
		p.logger.Debug("Auto-preload skipped: disabled")
		return nil
	case running:
		p.logger.Debug("Auto-preload skipped: already preloading")
		return nil
	case p.usage == nil || !p.usage.Enabled() || p.usage.TotalIconCount() == 0:
		p.logger.Debug("Auto-preload skipped: no usage data available")
		return nil
	}

	names := p.usage.TopUsed(count)
	if len(names) == 0 {
		return nil
	}

	job, err := p.PreloadMany(names, DefaultSize, types.StateNormal)
	if err != nil {
		p.logger.WithError(err).Debug("Auto-preload skipped")
		return nil
	}
	p.logger.WithFields(logrus.Fields{
		"icons":    len(names),
		"top_icon": names[0],
	}).Info("Auto-preload triggered")
	return job
}

// ScheduleAutoPreload runs TriggerAutoPreload once after delay. A
// non-positive delay selects DefaultStartupDelay. Scheduling again
// replaces the pending trigger.
func (p *Preloader) ScheduleAutoPreload(delay time.Duration) {
	if delay <= 0 {
		delay = DefaultStartupDelay
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(delay, func() { p.TriggerAutoPreload() })
}

// Close stops a pending automatic trigger and cancels a running preload.
func (p *Preloader) Close() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.running {
		p.cancelled.Store(true)
	}
	p.mu.Unlock()
	p.stop()
}
