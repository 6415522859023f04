// Package usage records how often and how recently icons are requested
// and persists the counts to icon-usage.json.
package usage

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/objectfs/iconcache/internal/storage"
	"github.com/objectfs/iconcache/pkg/errors"
	"github.com/objectfs/iconcache/pkg/types"
	"github.com/objectfs/iconcache/pkg/utils"
)

const (
	// StatsFile is the usage file name inside the storage root.
	StatsFile = "icon-usage.json"

	// FlushEvery is the number of recorded accesses between automatic
	// saves.
	FlushEvery = 50

	statsVersion = 1
)

type statsFile struct {
	Version int                `json:"version"`
	Entries []types.UsageEntry `json:"entries"`
}

// Key returns the usage key for an (icon, size, state) triple.
func Key(name string, size int, state types.IconState) string {
	return fmt.Sprintf("%s@%d_%d", name, size, int(state))
}

// Tracker counts icon accesses. A Tracker without a storage root keeps
// counts in memory only.
type Tracker struct {
	mu            sync.Mutex
	root          *storage.Root
	enabled       bool
	dirty         bool
	persistFailed bool
	entries       map[string]*types.UsageEntry
	sinceFlush    int

	now    func() time.Time
	logger logrus.FieldLogger
}

// Open loads the usage file from root. A missing or unparsable file
// starts with no data.
func Open(root *storage.Root, logger logrus.FieldLogger) *Tracker {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	t := &Tracker{
		root:    root,
		enabled: true,
		entries: make(map[string]*types.UsageEntry),
		now:     time.Now,
		logger:  logger.WithField("component", "usage-tracker"),
	}
	t.load()
	return t
}

// RecordAccess counts one request for name at size and state. Every
// FlushEvery recorded accesses the stats are saved.
func (t *Tracker) RecordAccess(name string, size int, state types.IconState) {
	if name == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}

	key := Key(name, size, state)
	now := t.now()
	if entry, ok := t.entries[key]; ok {
		entry.AccessCount++
		entry.LastAccessed = now
	} else {
		t.entries[key] = &types.UsageEntry{
			Key:           key,
			IconName:      name,
			Size:          size,
			State:         state,
			AccessCount:   1,
			FirstAccessed: now,
			LastAccessed:  now,
		}
	}
	t.dirty = true

	t.sinceFlush++
	if t.sinceFlush >= FlushEvery {
		t.sinceFlush = 0
		if err := t.saveLocked(); err != nil {
			t.logger.WithError(err).Warn("Failed to save usage stats")
		}
	}
}

// TopUsed returns up to n distinct icon names ordered by descending
// access count. Ties are broken by key.
func (t *Tracker) TopUsed(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.rankLocked(n, func(a, b *types.UsageEntry) bool {
		if a.AccessCount != b.AccessCount {
			return a.AccessCount > b.AccessCount
		}
		return a.Key < b.Key
	})
}

// RecentlyUsed returns up to n distinct icon names ordered by descending
// last access time. Ties are broken by key.
func (t *Tracker) RecentlyUsed(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.rankLocked(n, func(a, b *types.UsageEntry) bool {
		if !a.LastAccessed.Equal(b.LastAccessed) {
			return a.LastAccessed.After(b.LastAccessed)
		}
		return a.Key < b.Key
	})
}

func (t *Tracker) rankLocked(n int, less func(a, b *types.UsageEntry) bool) []string {
	if n <= 0 || len(t.entries) == 0 {
		return nil
	}

	sorted := make([]*types.UsageEntry, 0, len(t.entries))
	for _, e := range t.entries {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	names := make([]string, 0, n)
	seen := make(map[string]bool, n)
	for _, e := range sorted {
		if len(names) == n {
			break
		}
		if seen[e.IconName] {
			continue
		}
		seen[e.IconName] = true
		names = append(names, e.IconName)
	}
	return names
}

// Entry returns the record for key.
func (t *Tracker) Entry(key string) (types.UsageEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return types.UsageEntry{}, false
	}
	return *e, true
}

// Entries returns every record sorted by key.
func (t *Tracker) Entries() []types.UsageEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedLocked()
}

// TotalIconCount returns the number of tracked (icon, size, state)
// triples.
func (t *Tracker) TotalIconCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// TotalAccessCount returns the sum of all access counts.
func (t *Tracker) TotalAccessCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total int64
	for _, e := range t.entries {
		total += e.AccessCount
	}
	return total
}

// ClearStats drops every record and saves the empty state immediately.
func (t *Tracker) ClearStats() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string]*types.UsageEntry)
	t.sinceFlush = 0
	t.dirty = true
	t.logger.Info("Usage stats cleared")
	return t.saveLocked()
}

// SetEnabled turns recording on or off. Queries keep working.
func (t *Tracker) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// Enabled reports whether accesses are recorded.
func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Persistent reports whether stats are being written to storage. It
// turns false after the first write failure.
func (t *Tracker) Persistent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root != nil && !t.persistFailed
}

// Save writes the stats file if anything changed.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

// Close saves pending changes.
func (t *Tracker) Close() error {
	return t.Save()
}

func (t *Tracker) sortedLocked() []types.UsageEntry {
	out := make([]types.UsageEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (t *Tracker) saveLocked() error {
	if !t.dirty || t.root == nil || t.persistFailed {
		return nil
	}

	data, err := json.MarshalIndent(statsFile{Version: statsVersion, Entries: t.sortedLocked()}, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to marshal usage stats")
	}
	if err := t.root.WriteFileAtomic(StatsFile, data); err != nil {
		t.persistFailed = true
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to write usage stats").
			WithComponent("usage-tracker").WithOperation("Save")
	}

	t.dirty = false
	t.logger.WithField("entries", len(t.entries)).Debug("Saved usage stats")
	return nil
}

func (t *Tracker) load() {
	if t.root == nil {
		return
	}

	data, err := t.root.ReadFile(StatsFile)
	if err != nil {
		t.logger.Debug("No usage stats file, starting fresh")
		return
	}

	var file statsFile
	if err := json.Unmarshal(data, &file); err != nil {
		t.logger.WithError(errors.Wrap(err, errors.ErrCodeIndexCorrupt, "unparsable usage stats")).
			Warn("Usage stats file corrupt, starting fresh")
		return
	}

	for _, e := range file.Entries {
		if e.IconName == "" {
			continue
		}
		if !e.State.Valid() {
			e.State = types.StateNormal
		}
		if e.Key == "" {
			e.Key = Key(e.IconName, e.Size, e.State)
		}
		entry := e
		t.entries[entry.Key] = &entry
	}

	t.logger.WithField("entries", len(t.entries)).Debug("Loaded usage stats")
}
