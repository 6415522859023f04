// Package loader runs the icon load pipeline.
//
// Load checks the memory tier on the caller's goroutine. On a hit the
// response is completed through the dispatcher, never inline. On a miss
// a background task checks the disk tier, then resolves the icon through
// the fallback chain (requested name, caller fallback, generic default),
// renders it in the mode matching the requested state and saves it to
// disk. The dispatcher then stores the image in the memory tier and
// completes the response.
package loader

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/objectfs/iconcache/internal/cache"
	"github.com/objectfs/iconcache/internal/dispatch"
	"github.com/objectfs/iconcache/internal/router"
	"github.com/objectfs/iconcache/internal/usage"
	"github.com/objectfs/iconcache/internal/worker"
	"github.com/objectfs/iconcache/pkg/errors"
	"github.com/objectfs/iconcache/pkg/types"
	"github.com/objectfs/iconcache/pkg/utils"
)

// DefaultIconName is the last entry of every fallback chain.
const DefaultIconName = "application-x-executable"

// Observer receives load timings. internal/metrics implements it.
type Observer interface {
	ObserveLoad(source string, duration time.Duration, ok bool)
}

// Options wires a Loader. Memory, Resolver, Pool and Dispatcher are
// required; Disk and Usage may be nil.
type Options struct {
	Memory     *cache.MemoryCache
	Disk       *cache.DiskCache
	Usage      *usage.Tracker
	Resolver   types.Resolver
	Pool       *worker.Pool
	Dispatcher dispatch.Dispatcher
	Observer   Observer

	// Coalesce shares one background task between concurrent requests
	// for the same key and fallback.
	Coalesce bool
	// DefaultIcon overrides DefaultIconName.
	DefaultIcon string

	Logger logrus.FieldLogger
}

// Stats are loader counters.
type Stats struct {
	Requests  uint64 `json:"requests"`
	FastHits  uint64 `json:"fast_hits"`
	Scheduled uint64 `json:"scheduled"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	DiskHits  uint64 `json:"disk_hits"`
	Resolved  uint64 `json:"resolved"`
	// Coalesced counts requests served by a task shared with another
	// request.
	Coalesced uint64 `json:"coalesced"`
}

// Loader orchestrates icon loads across the cache tiers.
type Loader struct {
	memory     *cache.MemoryCache
	disk       *cache.DiskCache
	usage      *usage.Tracker
	resolver   types.Resolver
	pool       *worker.Pool
	dispatcher dispatch.Dispatcher
	observer   Observer
	group      singleflight.Group

	coalesce    atomic.Bool
	defaultIcon string

	ctx    context.Context
	cancel context.CancelFunc

	requests, fastHits, scheduled atomic.Uint64
	completed, failed             atomic.Uint64
	diskHits, resolved, coalesced atomic.Uint64

	logger logrus.FieldLogger
}

// New creates a Loader.
func New(opts Options) (*Loader, error) {
	if opts.Memory == nil || opts.Resolver == nil || opts.Pool == nil || opts.Dispatcher == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "loader requires memory cache, resolver, pool and dispatcher").
			WithComponent("loader")
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	defaultIcon := opts.DefaultIcon
	if defaultIcon == "" {
		defaultIcon = DefaultIconName
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		memory:      opts.Memory,
		disk:        opts.Disk,
		usage:       opts.Usage,
		resolver:    opts.Resolver,
		pool:        opts.Pool,
		dispatcher:  opts.Dispatcher,
		observer:    opts.Observer,
		defaultIcon: defaultIcon,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.WithField("component", "loader"),
	}
	l.coalesce.Store(opts.Coalesce)
	return l, nil
}

// Load starts loading req and returns its response. It never blocks on
// disk or resolver work and never completes the response inline.
func (l *Loader) Load(req router.Request) *Response {
	resp := newResponse(req)
	l.requests.Add(1)
	key := req.Key

	if img, ok := l.memory.Get(key); ok {
		l.fastHits.Add(1)
		resp.setState(StateFastHit)
		l.observe(SourceMemory, 0, true)

		if l.usage != nil {
			if err := l.pool.Submit(func() { l.recordUsage(key) }); err != nil {
				l.logger.WithError(err).Debug("Usage record for memory hit dropped")
			}
		}
		l.dispatcher.Dispatch(func() { l.finish(resp, img, nil, SourceMemory) })
		return resp
	}

	resp.setState(StateScheduled)
	l.scheduled.Add(1)

	if err := l.pool.Submit(func() { l.run(resp) }); err != nil {
		l.dispatcher.Dispatch(func() { l.finish(resp, nil, err, SourceNone) })
	}
	return resp
}

// LoadID parses id and loads it at size.
func (l *Loader) LoadID(id string, size image.Point) *Response {
	return l.Load(router.Parse(id, size))
}

type result struct {
	img    *image.NRGBA
	source Source
}

func (l *Loader) run(resp *Response) {
	req := resp.Request()
	start := time.Now()

	var (
		img    *image.NRGBA
		source Source
		err    error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = errors.NewError(errors.ErrCodePanicRecovered, fmt.Sprintf("panic while loading icon: %v", r)).
					WithComponent("loader").WithOperation("Load").
					WithContext("icon", req.Key.Name()).WithStack()
			}
		}()

		l.recordUsage(req.Key)

		if !l.coalesce.Load() {
			img, source, err = l.produce(req)
			return
		}

		flightKey := req.Key.String() + "\x00" + req.Fallback
		v, ferr, shared := l.group.Do(flightKey, func() (interface{}, error) {
			img, src, err := l.produce(req)
			return result{img: img, source: src}, err
		})
		if shared {
			l.coalesced.Add(1)
		}
		if ferr != nil {
			err = ferr
			return
		}
		res := v.(result)
		img, source = res.img, res.source
		if shared {
			img = types.CloneNRGBA(img)
		}
	}()

	l.observe(source, time.Since(start), err == nil)
	l.dispatcher.Dispatch(func() { l.finish(resp, img, err, source) })
}

// produce runs the disk check, resolution and disk save for req.
func (l *Loader) produce(req router.Request) (*image.NRGBA, Source, error) {
	key := req.Key

	if l.disk != nil {
		if img, ok := l.disk.Load(key); ok {
			l.diskHits.Add(1)
			return img, SourceDisk, nil
		}
	}

	img, name, err := RenderFirst(l.ctx, l.resolver, key, l.chain(key.Name(), req.Fallback)...)
	if err != nil {
		return nil, SourceNone, err
	}
	l.resolved.Add(1)

	if name != key.Name() {
		l.logger.WithFields(logrus.Fields{
			"icon": key.Name(),
			"used": name,
		}).Debug("Icon resolved through fallback")
	}

	if l.disk != nil {
		l.disk.Save(key, img)
	}
	return img, SourceResolver, nil
}

func (l *Loader) chain(name, fallback string) []string {
	names := []string{name}
	if fallback != "" && fallback != name {
		names = append(names, fallback)
	}
	if l.defaultIcon != name && l.defaultIcon != fallback {
		names = append(names, l.defaultIcon)
	}
	return names
}

// finish runs on the dispatcher.
func (l *Loader) finish(resp *Response, img *image.NRGBA, err error, source Source) {
	if err == nil && !types.IsEmpty(img) && source != SourceMemory {
		l.memory.Put(resp.Key(), img)
	}
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeIconNotFound) {
			l.logger.WithField("icon", resp.Key().Name()).Debug("Icon not found")
		} else {
			l.logger.WithError(err).WithField("icon", resp.Key().Name()).Warn("Icon load failed")
		}
	}
	if err == nil && !types.IsEmpty(img) {
		l.completed.Add(1)
	} else {
		l.failed.Add(1)
	}
	resp.complete(img, err, source)
}

func (l *Loader) recordUsage(key types.CacheKey) {
	if l.usage != nil {
		l.usage.RecordAccess(key.Name(), key.Width(), key.State())
	}
}

func (l *Loader) observe(source Source, d time.Duration, ok bool) {
	if l.observer == nil {
		return
	}
	name := string(source)
	if name == "" {
		name = "none"
	}
	l.observer.ObserveLoad(name, d, ok)
}

// SetCoalesce toggles single-flight coalescing for tasks started later.
func (l *Loader) SetCoalesce(enabled bool) { l.coalesce.Store(enabled) }

// Coalescing reports whether single-flight coalescing is on.
func (l *Loader) Coalescing() bool { return l.coalesce.Load() }

// Stats returns a snapshot of loader counters.
func (l *Loader) Stats() Stats {
	return Stats{
		Requests:  l.requests.Load(),
		FastHits:  l.fastHits.Load(),
		Scheduled: l.scheduled.Load(),
		Completed: l.completed.Load(),
		Failed:    l.failed.Load(),
		DiskHits:  l.diskHits.Load(),
		Resolved:  l.resolved.Load(),
		Coalesced: l.coalesced.Load(),
	}
}

// Close cancels the context handed to the resolver. Tasks already running
// finish; the pool is owned by the caller.
func (l *Loader) Close() {
	l.cancel()
}

// RenderFirst resolves each name in turn and renders it at key's size in
// the mode for key's state. It returns the first non-empty rendering and
// the name that produced it.
func RenderFirst(ctx context.Context, resolver types.Resolver, key types.CacheKey, names ...string) (*image.NRGBA, string, error) {
	size := image.Pt(key.Width(), key.Height())
	mode := key.State().RenderMode()

	for _, name := range names {
		if name == "" {
			continue
		}
		raw, ok := resolver.Resolve(ctx, name)
		if !ok || raw == nil {
			continue
		}
		if img := types.ToNRGBA(raw.Render(size, mode)); img != nil {
			return img, name, nil
		}
	}

	return nil, "", errors.NewError(errors.ErrCodeIconNotFound, "icon not found in any theme").
		WithComponent("loader").WithOperation("Resolve").
		WithContext("icon", key.Name()).
		WithDetail("tried", names)
}
