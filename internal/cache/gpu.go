package cache

import (
	"fmt"
	"image"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/sirupsen/logrus"

	"github.com/objectfs/iconcache/pkg/errors"
	"github.com/objectfs/iconcache/pkg/types"
	"github.com/objectfs/iconcache/pkg/utils"
)

// DefaultGpuBudget is the default Tier 1 budget per rendering context.
const DefaultGpuBudget int64 = 64 * 1024 * 1024

// ContextID identifies a rendering context such as a window or surface.
type ContextID string

// Texture is a handle to pixels uploaded by the rendering subsystem. The
// subsystem owns it; the GPU tier only observes it.
type Texture struct {
	id       uint64
	size     image.Point
	handle   any
	released atomic.Bool
}

// NewTexture is called by Renderer implementations.
func NewTexture(id uint64, size image.Point, handle any) *Texture {
	return &Texture{id: id, size: size, handle: handle}
}

// ID returns the renderer-assigned identifier.
func (t *Texture) ID() uint64 { return t.id }

// Size returns the texture dimensions.
func (t *Texture) Size() image.Point { return t.size }

// Handle returns the renderer-specific payload.
func (t *Texture) Handle() any { return t.handle }

// ByteCost estimates the RGBA8 footprint of the texture.
func (t *Texture) ByteCost() int64 { return int64(t.size.X) * int64(t.size.Y) * 4 }

// Release marks the texture destroyed. Only the rendering subsystem calls
// this.
func (t *Texture) Release() { t.released.Store(true) }

// Released reports whether Release has been called.
func (t *Texture) Released() bool { return t.released.Load() }

// Renderer uploads images into a rendering context. Upload must be called
// on whatever thread the rendering subsystem requires; the GPU tier calls
// it from the goroutine that called Materialize.
type Renderer interface {
	Upload(ctx ContextID, img *image.NRGBA) (*Texture, error)
}

// GpuStats are the Tier 1 counters.
type GpuStats struct {
	Contexts  int     `json:"contexts"`
	Entries   int     `json:"entries"`
	Bytes     int64   `json:"bytes"`
	Budget    int64   `json:"budget"`
	Uploads   uint64  `json:"uploads"`
	Reuses    uint64  `json:"reuses"`
	Evictions uint64  `json:"evictions"`
	Stale     uint64  `json:"stale"`
	ReuseRate float64 `json:"reuse_rate"`
}

type gpuEntry struct {
	key          string
	texture      weak.Pointer[Texture]
	cost         int64
	lastAccessed int64
	seq          uint64
	reuseCount   int64
}

type gpuContext struct {
	entries map[string]*gpuEntry
	bytes   int64
}

// GpuCache caches texture handles per rendering context.
type GpuCache struct {
	mu       sync.Mutex
	renderer Renderer
	budget   int64
	contexts map[ContextID]*gpuContext
	seq      uint64

	uploads   uint64
	reuses    uint64
	evictions uint64
	stale     uint64

	now    func() time.Time
	logger logrus.FieldLogger
}

// NewGpuCache creates a GPU tier. A non-positive budget selects
// DefaultGpuBudget.
func NewGpuCache(renderer Renderer, budget int64, logger logrus.FieldLogger) *GpuCache {
	if budget <= 0 {
		budget = DefaultGpuBudget
	}
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &GpuCache{
		renderer: renderer,
		budget:   budget,
		contexts: make(map[ContextID]*gpuContext),
		now:      time.Now,
		logger:   logger.WithField("tier", "gpu"),
	}
}

// Materialize returns the live texture cached for (ctx, key), or uploads
// img and caches a weak reference to the result. It must be called from
// the rendering thread of ctx.
func (c *GpuCache) Materialize(ctx ContextID, key types.CacheKey, img image.Image) (*Texture, error) {
	tkey := key.TextureKey()

	c.mu.Lock()
	if tex := c.lookupLocked(ctx, tkey, true); tex != nil {
		c.mu.Unlock()
		return tex, nil
	}
	if types.IsEmpty(img) {
		c.mu.Unlock()
		return nil, errors.NewError(errors.ErrCodeIconEmpty, "cannot upload an empty image").
			WithComponent("gpu-cache").WithOperation("Materialize").WithContext("icon", key.Name())
	}
	cost := types.ImageByteCost(img)
	if cost <= c.budget {
		c.makeRoomLocked(ctx, cost)
	}
	c.mu.Unlock()

	tex, err := c.renderer.Upload(ctx, types.ToNRGBA(img))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeRendererFailed, "texture upload failed").
			WithComponent("gpu-cache").WithOperation("Materialize").WithContext("icon", key.Name())
	}
	if tex == nil {
		return nil, errors.NewError(errors.ErrCodeRendererFailed, "renderer returned no texture").
			WithComponent("gpu-cache").WithOperation("Materialize").WithContext("icon", key.Name())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have uploaded the same key while we were unlocked.
	// This call still uploaded, so it does not count as a reuse.
	c.uploads++
	if existing := c.lookupLocked(ctx, tkey, false); existing != nil {
		return existing, nil
	}

	if cost > c.budget {
		c.logger.WithFields(logrus.Fields{
			"context": ctx,
			"key":     tkey,
			"cost":    cost,
		}).Debug("Texture larger than GPU budget, not cached")
		return tex, nil
	}

	c.makeRoomLocked(ctx, cost)
	gc := c.contextLocked(ctx)
	c.seq++
	gc.entries[tkey] = &gpuEntry{
		key:          tkey,
		texture:      weak.Make(tex),
		cost:         cost,
		lastAccessed: c.now().UnixNano(),
		seq:          c.seq,
	}
	gc.bytes += cost
	return tex, nil
}

// Lookup returns the live texture for (ctx, key) without uploading.
func (c *GpuCache) Lookup(ctx ContextID, key types.CacheKey) (*Texture, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tex := c.lookupLocked(ctx, key.TextureKey(), true)
	return tex, tex != nil
}

// Clear forgets every entry of ctx. Textures are not released.
func (c *GpuCache) Clear(ctx ContextID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.contexts, ctx)
}

// ClearAll forgets every entry of every context.
func (c *GpuCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contexts = make(map[ContextID]*gpuContext)
}

// SetBudget changes the per-context budget and evicts contexts that no
// longer fit.
func (c *GpuCache) SetBudget(bytes int64) {
	if bytes <= 0 {
		bytes = DefaultGpuBudget
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.budget = bytes
	for ctx := range c.contexts {
		c.makeRoomLocked(ctx, 0)
	}
}

// Budget returns the per-context budget.
func (c *GpuCache) Budget() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// Contexts returns the contexts that currently hold entries.
func (c *GpuCache) Contexts() []ContextID {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]ContextID, 0, len(c.contexts))
	for id := range c.contexts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Stats returns the tier counters. Bytes and Entries include stale
// entries that have not been pruned yet.
func (c *GpuCache) Stats() GpuStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := GpuStats{
		Contexts:  len(c.contexts),
		Budget:    c.budget,
		Uploads:   c.uploads,
		Reuses:    c.reuses,
		Evictions: c.evictions,
		Stale:     c.stale,
	}
	for _, gc := range c.contexts {
		stats.Entries += len(gc.entries)
		stats.Bytes += gc.bytes
	}
	if total := c.reuses + c.uploads; total > 0 {
		stats.ReuseRate = float64(c.reuses) / float64(total)
	}
	return stats
}

// ResetStats zeroes the upload, reuse, eviction and stale counters.
func (c *GpuCache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads, c.reuses, c.evictions, c.stale = 0, 0, 0, 0
}

func (c *GpuCache) contextLocked(ctx ContextID) *gpuContext {
	gc, ok := c.contexts[ctx]
	if !ok {
		gc = &gpuContext{entries: make(map[string]*gpuEntry)}
		c.contexts[ctx] = gc
	}
	return gc
}

// lookupLocked returns a live texture and refreshes its entry, or drops
// the entry if the texture is gone. reuse counts the hit in the stats.
func (c *GpuCache) lookupLocked(ctx ContextID, tkey string, reuse bool) *Texture {
	gc, ok := c.contexts[ctx]
	if !ok {
		return nil
	}
	entry, ok := gc.entries[tkey]
	if !ok {
		return nil
	}

	tex := entry.texture.Value()
	if tex == nil || tex.Released() {
		c.dropLocked(ctx, gc, entry)
		c.stale++
		return nil
	}

	c.seq++
	entry.seq = c.seq
	entry.lastAccessed = c.now().UnixNano()
	if reuse {
		entry.reuseCount++
		c.reuses++
	}
	return tex
}

// makeRoomLocked prunes stale entries of ctx and then evicts the least
// recently used ones until incoming more bytes fit in the budget.
// Entries of other contexts are never touched.
func (c *GpuCache) makeRoomLocked(ctx ContextID, incoming int64) {
	gc, ok := c.contexts[ctx]
	if !ok {
		return
	}

	for _, entry := range gc.entries {
		if tex := entry.texture.Value(); tex == nil || tex.Released() {
			c.dropLocked(ctx, gc, entry)
			c.stale++
		}
	}

	if gc.bytes+incoming <= c.budget {
		return
	}

	candidates := make([]*gpuEntry, 0, len(gc.entries))
	for _, entry := range gc.entries {
		candidates = append(candidates, entry)
	}
	sortOldestFirst(candidates, func(e *gpuEntry) entryOrder {
		return entryOrder{lastAccessed: e.lastAccessed, seq: e.seq}
	})

	for _, entry := range candidates {
		if gc.bytes+incoming <= c.budget {
			break
		}
		c.dropLocked(ctx, gc, entry)
		c.evictions++
		c.logger.WithFields(logrus.Fields{
			"context": ctx,
			"key":     entry.key,
		}).Debug("Evicted texture")
	}
}

func (c *GpuCache) dropLocked(ctx ContextID, gc *gpuContext, entry *gpuEntry) {
	delete(gc.entries, entry.key)
	gc.bytes -= entry.cost
	if len(gc.entries) == 0 {
		delete(c.contexts, ctx)
	}
}

func (s GpuStats) String() string {
	return fmt.Sprintf("entries=%d bytes=%d uploads=%d reuses=%d reuse_rate=%.2f",
		s.Entries, s.Bytes, s.Uploads, s.Reuses, s.ReuseRate)
}
