package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"image"
	"image/png"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/objectfs/iconcache/internal/buffer"
	"github.com/objectfs/iconcache/internal/storage"
	"github.com/objectfs/iconcache/pkg/errors"
	"github.com/objectfs/iconcache/pkg/types"
	"github.com/objectfs/iconcache/pkg/utils"
)

const (
	// DefaultDiskBudget is the default Tier 3 budget.
	DefaultDiskBudget int64 = 512 * 1024 * 1024

	// DiskIndexFile is the sidecar index name inside the cache directory.
	DiskIndexFile = "cache-index.json"

	diskIndexVersion = 1
)

// DiskEntry is one index record.
type DiskEntry struct {
	Key          string    `json:"key"`
	FilePath     string    `json:"filePath"`
	FileSize     int64     `json:"fileSize"`
	LastAccessed time.Time `json:"lastAccessed"`

	seq uint64
}

type diskIndex struct {
	Version int          `json:"version"`
	Entries []*DiskEntry `json:"entries"`
}

// DiskCache stores PNG encoded images below a storage root and keeps an
// in-memory index that is persisted to cache-index.json.
type DiskCache struct {
	mu      sync.Mutex
	root    *storage.Root
	enabled bool
	failed  bool
	closed  bool
	dirty   bool
	maxSize int64
	size    int64
	index   map[string]*DiskEntry
	seq     uint64

	stats         types.CacheStats
	writeFailures uint64
	buffers       *buffer.Pool

	now    func() time.Time
	logger logrus.FieldLogger
}

// OpenDiskCache loads the index found in root. A nil root yields a tier
// that is permanently unavailable. A missing or unparsable index starts
// the tier empty. An index larger than maxSize is shrunk immediately.
// PNG encoding borrows from buffers; nil gives the tier a pool of its own.
func OpenDiskCache(root *storage.Root, maxSize int64, buffers *buffer.Pool, logger logrus.FieldLogger) *DiskCache {
	if maxSize <= 0 {
		maxSize = DefaultDiskBudget
	}
	if buffers == nil {
		buffers = buffer.NewPool(buffer.DefaultMaxRetained)
	}
	if logger == nil {
		logger = utils.DiscardLogger()
	}

	c := &DiskCache{
		root:    root,
		enabled: true,
		maxSize: maxSize,
		index:   make(map[string]*DiskEntry),
		buffers: buffers,
		now:     time.Now,
		logger:  logger.WithField("tier", "disk"),
	}

	if root == nil {
		c.failed = true
		c.logger.Warn("No storage root, disk cache disabled for this session")
		return c
	}

	c.loadIndex()
	if c.size > c.maxSize {
		c.mu.Lock()
		c.evictLocked()
		c.mu.Unlock()
	}
	return c
}

// FileName returns the file name used for key: the hex SHA-256 of its
// canonical string plus ".png".
func FileName(key types.CacheKey) string {
	sum := sha256.Sum256([]byte(key.String()))
	return hex.EncodeToString(sum[:]) + ".png"
}

// Load returns the image stored for key. Files that are missing or do not
// decode are purged from the index and reported as a miss.
func (c *DiskCache) Load(key types.CacheKey) (*image.NRGBA, bool) {
	skey := key.String()

	c.mu.Lock()
	if !c.usableLocked() {
		c.mu.Unlock()
		return nil, false
	}
	entry, ok := c.index[skey]
	if !ok {
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}
	path := entry.FilePath
	c.mu.Unlock()

	img, err := c.readImage(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if c.index[skey] == entry {
			c.removeLocked(entry)
			c.dirty = true
		}
		c.stats.Misses++
		c.logger.WithError(err).WithField("key", skey).Warn("Purged unreadable disk cache entry")
		return nil, false
	}

	if c.index[skey] == entry {
		c.seq++
		entry.seq = c.seq
		entry.LastAccessed = c.now()
		c.dirty = true
	}
	c.stats.Hits++
	return img, true
}

// Save encodes img as PNG and stores it under key. It reports whether the
// entry is present in the index afterwards. A write failure disables the
// tier for the rest of the session.
func (c *DiskCache) Save(key types.CacheKey, img image.Image) bool {
	if types.IsEmpty(img) {
		return false
	}

	c.mu.Lock()
	usable := c.usableLocked()
	c.mu.Unlock()
	if !usable {
		return false
	}

	buf, err := c.buffers.EncodePNG(img)
	if err != nil {
		c.logger.WithError(errors.Wrap(err, errors.ErrCodeEncodeFailed, "png encode failed")).
			WithField("key", key.String()).Warn("Failed to encode image for disk cache")
		return false
	}
	defer c.buffers.Put(buf)

	skey := key.String()
	name := FileName(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.usableLocked() {
		return false
	}

	if err := c.root.WriteFileAtomic(name, buf.Bytes()); err != nil {
		c.failed = true
		c.writeFailures++
		c.logger.WithError(errors.Wrap(err, errors.ErrCodeStorageWrite, "disk cache write failed")).
			WithField("key", skey).Warn("Disk cache disabled for this session")
		return false
	}

	if existing, ok := c.index[skey]; ok {
		c.size -= existing.FileSize
		delete(c.index, skey)
	}

	c.seq++
	entry := &DiskEntry{
		Key:          skey,
		FilePath:     name,
		FileSize:     int64(buf.Len()),
		LastAccessed: c.now(),
		seq:          c.seq,
	}
	c.index[skey] = entry
	c.size += entry.FileSize
	c.dirty = true

	c.evictLocked()

	_, kept := c.index[skey]
	return kept
}

// Contains reports whether key is indexed, without touching counters.
func (c *DiskCache) Contains(key types.CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.usableLocked() {
		return false
	}
	_, ok := c.index[key.String()]
	return ok
}

// Remove deletes key and its file.
func (c *DiskCache) Remove(key types.CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.index[key.String()]
	if ok {
		c.removeLocked(entry)
		c.dirty = true
	}
	return ok
}

// SetEnabled toggles the tier. While disabled Load misses and Save does
// nothing; files already on disk are left alone.
func (c *DiskCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Enabled reports whether the tier serves requests. It is false after a
// storage failure even if SetEnabled(true) was called.
func (c *DiskCache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usableLocked()
}

// Failed reports whether a storage failure disabled the tier.
func (c *DiskCache) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// SetMaxSize changes the budget and evicts until the index fits.
func (c *DiskCache) SetMaxSize(bytes int64) {
	if bytes <= 0 {
		bytes = DefaultDiskBudget
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.maxSize = bytes
	c.evictLocked()
}

// MaxSize returns the budget in bytes.
func (c *DiskCache) MaxSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

// Clear removes every cached file and writes an empty index.
func (c *DiskCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.root == nil {
		return nil
	}
	for _, entry := range c.index {
		if err := c.root.Remove(entry.FilePath); err != nil {
			c.logger.WithError(err).WithField("file", entry.FilePath).Debug("Failed to remove cache file")
		}
	}
	c.index = make(map[string]*DiskEntry)
	c.size = 0
	c.dirty = true
	return c.saveIndexLocked()
}

// Len returns the number of indexed entries.
func (c *DiskCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Size returns the total size of indexed files.
func (c *DiskCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Entries returns a copy of the index, least recently used first.
func (c *DiskCache) Entries() []DiskEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.sortedLocked()
	out := make([]DiskEntry, len(entries))
	for i, e := range entries {
		out[i] = *e
	}
	return out
}

// SaveIndex writes cache-index.json.
func (c *DiskCache) SaveIndex() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveIndexLocked()
}

// Close writes the index and stops serving requests.
func (c *DiskCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if !c.dirty {
		return nil
	}
	return c.saveIndexLocked()
}

// Stats returns cache statistics
func (c *DiskCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = len(c.index)
	stats.Size = c.size
	stats.Capacity = c.maxSize
	stats.HitRate = hitRate(stats.Hits, stats.Misses)
	stats.Utilization = float64(c.size) / float64(c.maxSize)
	return stats
}

// ResetStats zeroes the hit, miss and eviction counters.
func (c *DiskCache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = types.CacheStats{}
}

func (c *DiskCache) usableLocked() bool {
	return c.enabled && !c.failed && !c.closed
}

func (c *DiskCache) readImage(path string) (*image.NRGBA, error) {
	data, err := c.root.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to read cache file").
			WithContext("file", path)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDecodeFailed, "failed to decode cache file").
			WithContext("file", path)
	}
	if types.IsEmpty(img) {
		return nil, errors.NewError(errors.ErrCodeDecodeFailed, "cache file holds an empty image").
			WithContext("file", path)
	}
	return types.ToNRGBA(img), nil
}

func (c *DiskCache) loadIndex() {
	data, err := c.root.ReadFile(DiskIndexFile)
	if err != nil {
		if c.root.Exists(DiskIndexFile) {
			c.logger.WithError(err).Warn("Failed to read disk cache index, starting empty")
		}
		return
	}

	var idx diskIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		c.logger.WithError(errors.Wrap(err, errors.ErrCodeIndexCorrupt, "unparsable index")).
			Warn("Disk cache index corrupt, starting empty")
		return
	}
	if idx.Version != diskIndexVersion {
		c.logger.WithField("version", idx.Version).Warn("Unsupported disk cache index version, starting empty")
		return
	}

	entries := make([]*DiskEntry, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		if e == nil || e.Key == "" || e.FilePath == "" || e.FileSize < 0 {
			continue
		}
		key, err := types.ParseCacheKey(e.Key)
		if err != nil || e.FilePath != FileName(key) {
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LastAccessed.Before(entries[j].LastAccessed)
	})

	for _, e := range entries {
		if old, ok := c.index[e.Key]; ok {
			c.size -= old.FileSize
		}
		c.seq++
		e.seq = c.seq
		c.index[e.Key] = e
		c.size += e.FileSize
	}

	c.logger.WithFields(logrus.Fields{
		"entries": len(c.index),
		"size":    c.size,
	}).Debug("Loaded disk cache index")
}

func (c *DiskCache) saveIndexLocked() error {
	if c.root == nil {
		return errors.NewError(errors.ErrCodeStorageUnavailable, "disk cache has no storage root").
			WithComponent("disk-cache").WithOperation("SaveIndex")
	}

	entries := c.sortedLocked()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	data, err := json.MarshalIndent(diskIndex{Version: diskIndexVersion, Entries: entries}, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to marshal disk cache index")
	}
	if err := c.root.WriteFileAtomic(DiskIndexFile, data); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to write disk cache index").
			WithComponent("disk-cache").WithOperation("SaveIndex")
	}
	c.dirty = false
	return nil
}

func (c *DiskCache) sortedLocked() []*DiskEntry {
	entries := make([]*DiskEntry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, e)
	}
	sortOldestFirst(entries, func(e *DiskEntry) entryOrder {
		return entryOrder{lastAccessed: e.LastAccessed.UnixNano(), seq: e.seq}
	})
	return entries
}

func (c *DiskCache) evictLocked() {
	if c.size <= c.maxSize {
		return
	}
	for _, entry := range c.sortedLocked() {
		if c.size <= c.maxSize {
			break
		}
		c.removeLocked(entry)
		c.stats.Evictions++
		c.dirty = true
		c.logger.WithField("key", entry.Key).Debug("Evicted disk cache entry")
	}
}

func (c *DiskCache) removeLocked(entry *DiskEntry) {
	delete(c.index, entry.Key)
	c.size -= entry.FileSize
	if c.root != nil {
		if err := c.root.Remove(entry.FilePath); err != nil {
			c.logger.WithError(err).WithField("file", entry.FilePath).Debug("Failed to remove cache file")
		}
	}
}
