package iconcache

import (
	"context"
	stderrors "errors"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/objectfs/iconcache/internal/buffer"
	"github.com/objectfs/iconcache/internal/cache"
	"github.com/objectfs/iconcache/internal/config"
	"github.com/objectfs/iconcache/internal/dispatch"
	"github.com/objectfs/iconcache/internal/loader"
	"github.com/objectfs/iconcache/internal/metrics"
	"github.com/objectfs/iconcache/internal/preload"
	"github.com/objectfs/iconcache/internal/storage"
	"github.com/objectfs/iconcache/internal/usage"
	"github.com/objectfs/iconcache/internal/worker"
	"github.com/objectfs/iconcache/pkg/errors"
	"github.com/objectfs/iconcache/pkg/health"
	"github.com/objectfs/iconcache/pkg/status"
	"github.com/objectfs/iconcache/pkg/types"
	"github.com/objectfs/iconcache/pkg/utils"
)

// ImagesDir is the disk tier directory below the storage root.
const ImagesDir = "images"

// Component names used for health tracking.
const (
	ComponentMemory   = "memory"
	ComponentGpu      = "gpu"
	ComponentDisk     = "disk"
	ComponentUsage    = "usage"
	ComponentWorkers  = "workers"
	ComponentResolver = "resolver"
)

// Options configures a Provider. Only Resolver is required.
type Options struct {
	Resolver types.Resolver
	// Renderer uploads textures. Without one, Texture fails.
	Renderer cache.Renderer

	// Storage overrides CacheDir.
	Storage *storage.Root
	// CacheDir holds the disk tier and usage statistics. Empty keeps
	// both in memory only.
	CacheDir string

	MemoryBudget int64
	GpuBudget    int64
	DiskBudget   int64
	DisableDisk  bool

	Workers     int
	Coalesce    bool
	DefaultIcon string

	DisableUsage bool

	AutoPreload  bool
	PreloadCount int
	StartupDelay time.Duration

	// Dispatcher receives completions. Nil starts a private serial
	// dispatcher.
	Dispatcher dispatch.Dispatcher
	Metrics    *metrics.Collector
	Logger     logrus.FieldLogger
}

// OptionsFromConfig maps a validated configuration onto Options.
func OptionsFromConfig(cfg *config.Configuration) (Options, error) {
	sizes, err := cfg.Sizes()
	if err != nil {
		return Options{}, err
	}
	return Options{
		CacheDir:     cfg.Cache.Directory,
		MemoryBudget: sizes.Memory,
		GpuBudget:    sizes.Gpu,
		DiskBudget:   sizes.Disk,
		DisableDisk:  !cfg.Cache.DiskEnabled,
		Workers:      cfg.Loader.Workers,
		Coalesce:     cfg.Loader.Coalesce,
		DefaultIcon:  cfg.Loader.DefaultIcon,
		DisableUsage: !cfg.Usage.Enabled,
		AutoPreload:  cfg.Preload.AutoEnabled,
		PreloadCount: cfg.Preload.Count,
		StartupDelay: cfg.Preload.StartupDelay,
	}, nil
}

// Provider is the icon cache context object.
type Provider struct {
	memory    *cache.MemoryCache
	gpu       *cache.GpuCache
	disk      *cache.DiskCache
	buffers   *buffer.Pool
	usage     *usage.Tracker
	pool      *worker.Pool
	loader    *loader.Loader
	preloader *preload.Preloader

	dispatcher dispatch.Dispatcher
	serial     *dispatch.Serial
	renderer   cache.Renderer
	metrics    *metrics.Collector
	health     *health.Tracker
	jobs       *status.Tracker
	storage    string

	cbMu      sync.Mutex
	callbacks preload.Callbacks

	closeOnce sync.Once
	closeErr  error

	logger logrus.FieldLogger
}

// New builds a Provider. Storage problems never fail construction: the
// disk tier and usage persistence are disabled instead.
func New(opts Options) (*Provider, error) {
	if opts.Resolver == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "a resolver is required").
			WithComponent("provider")
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.DiscardLogger()
	}

	p := &Provider{
		renderer: opts.Renderer,
		metrics:  opts.Metrics,
		health:   health.NewTracker(health.DefaultConfig()),
		jobs:     status.NewTracker(status.DefaultTrackerConfig()),
		buffers:  buffer.NewPool(buffer.DefaultMaxRetained),
		logger:   logger.WithField("component", "provider"),
	}

	root := opts.Storage
	if root == nil && opts.CacheDir != "" {
		var err error
		if root, err = storage.NewOSRoot(opts.CacheDir); err != nil {
			p.logger.WithError(err).Warn("Cache directory unavailable, continuing without persistence")
			root = nil
		}
	}
	if root != nil {
		p.storage = root.String()
	}

	var images *storage.Root
	if root != nil {
		var err error
		if images, err = root.Sub(ImagesDir); err != nil {
			p.logger.WithError(err).Warn("Disk cache directory unavailable")
			images = nil
		}
	}

	p.memory = cache.NewMemoryCache(opts.MemoryBudget, logger)
	p.gpu = cache.NewGpuCache(opts.Renderer, opts.GpuBudget, logger)
	p.disk = cache.OpenDiskCache(images, opts.DiskBudget, p.buffers, logger)
	p.disk.SetEnabled(!opts.DisableDisk)
	p.usage = usage.Open(root, logger)
	p.usage.SetEnabled(!opts.DisableUsage)
	p.pool = worker.NewPool(opts.Workers, logger)

	p.dispatcher = opts.Dispatcher
	if p.dispatcher == nil {
		p.serial = dispatch.NewSerial(logger)
		p.dispatcher = p.serial
	}

	var err error
	p.loader, err = loader.New(loader.Options{
		Memory:      p.memory,
		Disk:        p.disk,
		Usage:       p.usage,
		Resolver:    opts.Resolver,
		Pool:        p.pool,
		Dispatcher:  p.dispatcher,
		Observer:    p,
		Coalesce:    opts.Coalesce,
		DefaultIcon: opts.DefaultIcon,
		Logger:      logger,
	})
	if err != nil {
		p.shutdownPartial()
		return nil, err
	}

	var preloadObserver preload.Observer
	if opts.Metrics != nil {
		preloadObserver = opts.Metrics
	}
	p.preloader, err = preload.New(preload.Options{
		Memory:      p.memory,
		Disk:        p.disk,
		Usage:       p.usage,
		Resolver:    opts.Resolver,
		Pool:        p.pool,
		Dispatcher:  p.dispatcher,
		Observer:    preloadObserver,
		AutoEnabled: opts.AutoPreload,
		AutoCount:   opts.PreloadCount,
		Logger:      logger,
	})
	if err != nil {
		p.shutdownPartial()
		return nil, err
	}

	p.preloader.SetCallbacks(preload.Callbacks{
		Progress: p.onPreloadProgress,
		Complete: p.onPreloadComplete,
	})

	p.registerHealth()
	if opts.Metrics != nil {
		if err := p.registerMetrics(opts.Metrics); err != nil {
			p.shutdownPartial()
			return nil, err
		}
	}

	if opts.AutoPreload {
		p.preloader.ScheduleAutoPreload(opts.StartupDelay)
	}

	p.logger.WithFields(logrus.Fields{
		"storage":       p.storage,
		"memory_budget": utils.FormatBytes(p.memory.Budget()),
		"gpu_budget":    utils.FormatBytes(p.gpu.Budget()),
		"disk_budget":   utils.FormatBytes(p.disk.MaxSize()),
		"disk_enabled":  p.disk.Enabled(),
		"workers":       p.pool.Size(),
	}).Info("Icon provider ready")
	return p, nil
}

func (p *Provider) shutdownPartial() {
	_ = p.pool.Close(context.Background())
	if p.serial != nil {
		p.serial.Close()
	}
}

// RequestImage parses id, starts loading it at size and returns the
// response. It never blocks on I/O.
func (p *Provider) RequestImage(id string, size image.Point) *loader.Response {
	return p.loader.LoadID(id, size)
}

// Texture returns a texture for a completed response in the rendering
// context ctx, uploading it on first use. It must be called from the
// rendering thread of ctx.
func (p *Provider) Texture(ctx cache.ContextID, resp *loader.Response) (*cache.Texture, error) {
	if p.renderer == nil {
		return nil, errors.NewError(errors.ErrCodeRendererFailed, "no renderer configured").
			WithComponent("provider").WithOperation("Texture")
	}
	if resp == nil || !resp.Finished() {
		return nil, errors.NewError(errors.ErrCodeValidationFailed, "response has not completed").
			WithComponent("provider").WithOperation("Texture")
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	tex, err := p.gpu.Materialize(ctx, resp.Key(), resp.Image())
	if err != nil {
		p.health.RecordError(ComponentGpu, err)
		p.recordError("texture", err)
		return nil, err
	}
	p.health.RecordSuccess(ComponentGpu)
	return tex, nil
}

// ReleaseContext forgets the textures cached for ctx, typically when its
// window closes.
func (p *Provider) ReleaseContext(ctx cache.ContextID) {
	p.gpu.Clear(ctx)
}

// ObserveLoad implements loader.Observer. Resolver outcomes feed the
// health tracker; every outcome is forwarded to metrics.
func (p *Provider) ObserveLoad(source string, d time.Duration, ok bool) {
	if p.metrics != nil {
		p.metrics.ObserveLoad(source, d, ok)
	}
	switch {
	case ok && source == string(loader.SourceResolver):
		p.health.RecordSuccess(ComponentResolver)
	case !ok:
		p.health.RecordError(ComponentResolver, errors.NewError(errors.ErrCodeIconNotFound, "load failed"))
	}
}

func (p *Provider) recordError(operation string, err error) {
	if p.metrics != nil {
		p.metrics.RecordError(operation, err)
	}
}

// Close cancels preloads, waits for in-flight work up to ctx, flushes
// the disk index and usage statistics and stops the private dispatcher.
// It is safe to call more than once.
func (p *Provider) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.preloader.Close()
		p.loader.Close()

		var errs []error
		if err := p.pool.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if p.serial != nil {
			p.serial.Close()
		}
		if err := p.disk.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := p.usage.Close(); err != nil {
			errs = append(errs, err)
		}
		p.closeErr = stderrors.Join(errs...)
		p.health.SetState(ComponentWorkers, health.StateUnavailable,
			errors.NewError(errors.ErrCodeComponentStopped, "provider closed"))
		p.logger.Info("Icon provider closed")
	})
	return p.closeErr
}
