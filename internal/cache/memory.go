package cache

import (
	"container/list"
	"image"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/objectfs/iconcache/pkg/types"
	"github.com/objectfs/iconcache/pkg/utils"
)

// DefaultMemoryBudget is the default Tier 2 budget.
const DefaultMemoryBudget int64 = 128 * 1024 * 1024

// MemoryCache is a thread-safe LRU cache of decoded images bounded by
// total pixel byte cost.
type MemoryCache struct {
	mu        sync.Mutex
	budget    int64
	size      int64
	items     map[string]*memoryItem
	evictList *list.List

	stats  types.CacheStats
	logger logrus.FieldLogger
}

type memoryItem struct {
	key     types.CacheKey
	img     *image.NRGBA
	cost    int64
	element *list.Element
}

// NewMemoryCache creates a memory tier. A non-positive budget selects
// DefaultMemoryBudget.
func NewMemoryCache(budget int64, logger logrus.FieldLogger) *MemoryCache {
	if budget <= 0 {
		budget = DefaultMemoryBudget
	}
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &MemoryCache{
		budget:    budget,
		items:     make(map[string]*memoryItem),
		evictList: list.New(),
		logger:    logger.WithField("tier", "memory"),
	}
}

// Get returns a copy of the cached image and records a hit or miss.
func (c *MemoryCache) Get(key types.CacheKey) (*image.NRGBA, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key.String()]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	c.evictList.MoveToFront(item.element)
	c.stats.Hits++
	return types.CloneNRGBA(item.img), true
}

// Contains reports whether key is cached without touching counters or
// recency.
func (c *MemoryCache) Contains(key types.CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key.String()]
	return ok
}

// Put stores a copy of img under key. Empty images are ignored.
func (c *MemoryCache) Put(key types.CacheKey, img image.Image) {
	data := types.ToNRGBA(img)
	if data == nil {
		return
	}
	cost := int64(len(data.Pix))

	c.mu.Lock()
	defer c.mu.Unlock()

	skey := key.String()
	if existing, ok := c.items[skey]; ok {
		c.removeItem(existing)
	}

	if cost > c.budget {
		c.logger.WithFields(logrus.Fields{
			"key":    skey,
			"cost":   cost,
			"budget": c.budget,
		}).Debug("Image larger than memory budget, not cached")
		return
	}

	item := &memoryItem{key: key, img: data, cost: cost}
	item.element = c.evictList.PushFront(item)
	c.items[skey] = item
	c.size += cost

	c.evictIfNeeded()
}

// Remove drops key from the cache.
func (c *MemoryCache) Remove(key types.CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key.String()]
	if ok {
		c.removeItem(item)
	}
	return ok
}

// SetBudget changes the budget and evicts until the cache fits.
func (c *MemoryCache) SetBudget(bytes int64) {
	if bytes <= 0 {
		bytes = DefaultMemoryBudget
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.budget = bytes
	c.evictIfNeeded()
}

// Budget returns the configured budget in bytes.
func (c *MemoryCache) Budget() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// Clear removes every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*memoryItem)
	c.evictList.Init()
	c.size = 0
}

// Len returns the number of cached images.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the total byte cost of cached images.
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Keys returns the cached keys, most recently used first.
func (c *MemoryCache) Keys() []types.CacheKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]types.CacheKey, 0, len(c.items))
	for e := c.evictList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*memoryItem).key)
	}
	return keys
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = len(c.items)
	stats.Size = c.size
	stats.Capacity = c.budget
	stats.HitRate = hitRate(stats.Hits, stats.Misses)
	stats.Utilization = float64(c.size) / float64(c.budget)
	return stats
}

// ResetStats zeroes the hit, miss and eviction counters.
func (c *MemoryCache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = types.CacheStats{}
}

func (c *MemoryCache) evictIfNeeded() {
	for c.size > c.budget && c.evictList.Len() > 0 {
		item := c.evictList.Back().Value.(*memoryItem)
		c.removeItem(item)
		c.stats.Evictions++
		c.logger.WithField("key", item.key.String()).Debug("Evicted image")
	}
}

func (c *MemoryCache) removeItem(item *memoryItem) {
	c.evictList.Remove(item.element)
	delete(c.items, item.key.String())
	c.size -= item.cost
}
