package cache

import (
	"encoding/json"
	"image/color"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/iconcache/internal/buffer"
	"github.com/objectfs/iconcache/internal/storage"
	"github.com/objectfs/iconcache/pkg/types"
)

var blue = color.NRGBA{B: 255, A: 255}

func newDisk(t *testing.T, maxSize int64) (*DiskCache, *storage.Root) {
	t.Helper()
	root := storage.NewMemoryRoot()
	return OpenDiskCache(root, maxSize, nil, nil), root
}

func TestDiskCache_RoundTrip(t *testing.T) {
	c, root := newDisk(t, 0)
	assert.Equal(t, DefaultDiskBudget, c.MaxSize())

	k := key("document-save", 24)
	img := solidImage(24, 24, blue)
	require.True(t, c.Save(k, img))

	assert.True(t, root.Exists(FileName(k)))
	assert.Len(t, FileName(k), 64+len(".png"))

	got, ok := c.Load(k)
	require.True(t, ok)
	assert.True(t, types.SameDimensions(img, got))
	assert.True(t, types.EqualPixels(img, got))

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, c.Size(), stats.Size)
}

func TestDiskCache_UsesGivenBufferPool(t *testing.T) {
	buffers := buffer.NewPool(buffer.DefaultMaxRetained)
	c := OpenDiskCache(storage.NewMemoryRoot(), 0, buffers, nil)

	require.True(t, c.Save(key("edit-copy", 16), solidImage(16, 16, blue)))
	require.True(t, c.Save(key("edit-cut", 16), solidImage(16, 16, blue)))

	stats := buffers.Stats()
	assert.EqualValues(t, 2, stats.Gets)
	assert.EqualValues(t, 2, stats.Puts)
}

func TestDiskCache_Miss(t *testing.T) {
	c, _ := newDisk(t, 0)
	_, ok := c.Load(key("nothing", 16))
	assert.False(t, ok)
	assert.EqualValues(t, 1, c.Stats().Misses)
}

func TestDiskCache_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	root, err := storage.NewOSRoot(dir)
	require.NoError(t, err)

	k := key("folder", 32)
	first := OpenDiskCache(root, 0, nil, nil)
	require.True(t, first.Save(k, solidImage(32, 32, blue)))
	require.NoError(t, first.Close())

	root2, err := storage.NewOSRoot(dir)
	require.NoError(t, err)
	second := OpenDiskCache(root2, 0, nil, nil)
	assert.Equal(t, 1, second.Len())

	got, ok := second.Load(k)
	require.True(t, ok)
	assert.Equal(t, 32, got.Bounds().Dx())
	assert.Equal(t, 32, got.Bounds().Dy())
}

func TestDiskCache_CorruptFilePurged(t *testing.T) {
	c, root := newDisk(t, 0)
	k := key("broken", 16)
	require.True(t, c.Save(k, solidImage(16, 16, blue)))

	require.NoError(t, root.WriteFileAtomic(FileName(k), []byte("not a png")))

	_, ok := c.Load(k)
	assert.False(t, ok)
	assert.False(t, c.Contains(k))
	assert.Zero(t, c.Size())
	assert.False(t, root.Exists(FileName(k)))
}

func TestDiskCache_MissingFilePurged(t *testing.T) {
	c, root := newDisk(t, 0)
	k := key("gone", 16)
	require.True(t, c.Save(k, solidImage(16, 16, blue)))
	require.NoError(t, root.Remove(FileName(k)))

	_, ok := c.Load(k)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestDiskCache_EvictsOldestFirst(t *testing.T) {
	c, root := newDisk(t, 0)
	base := time.Unix(1700000000, 0)
	tick := 0
	c.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }

	k1, k2, k3 := key("one", 16), key("two", 16), key("three", 16)
	require.True(t, c.Save(k1, solidImage(16, 16, blue)))
	require.True(t, c.Save(k2, solidImage(16, 16, blue)))

	// Touch k1 so k2 is the eviction candidate.
	_, ok := c.Load(k1)
	require.True(t, ok)

	c.SetMaxSize(c.Size())
	require.True(t, c.Save(k3, solidImage(16, 16, blue)))

	assert.True(t, c.Contains(k1))
	assert.False(t, c.Contains(k2))
	assert.True(t, c.Contains(k3))
	assert.False(t, root.Exists(FileName(k2)))
	assert.LessOrEqual(t, c.Size(), c.MaxSize())
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestDiskCache_SetMaxSizeShrinks(t *testing.T) {
	c, _ := newDisk(t, 0)
	for _, name := range []string{"a", "b", "c"} {
		require.True(t, c.Save(key(name, 16), solidImage(16, 16, blue)))
	}
	one := c.Size() / 3

	c.SetMaxSize(one)
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Contains(key("c", 16)))
}

func TestDiskCache_Disabled(t *testing.T) {
	c, _ := newDisk(t, 0)
	k := key("a", 16)
	require.True(t, c.Save(k, solidImage(16, 16, blue)))

	c.SetEnabled(false)
	assert.False(t, c.Enabled())
	_, ok := c.Load(k)
	assert.False(t, ok)
	assert.False(t, c.Save(key("b", 16), solidImage(16, 16, blue)))

	c.SetEnabled(true)
	_, ok = c.Load(k)
	assert.True(t, ok)
	assert.False(t, c.Contains(key("b", 16)))
}

func TestDiskCache_WriteFailureDisablesTier(t *testing.T) {
	root := storage.NewRoot(failingFS{memfs.New()})
	c := OpenDiskCache(root, 0, nil, nil)

	assert.False(t, c.Save(key("a", 16), solidImage(16, 16, blue)))
	assert.True(t, c.Failed())
	assert.False(t, c.Enabled())

	c.SetEnabled(true)
	assert.False(t, c.Enabled())
}

func TestDiskCache_NilRootUnavailable(t *testing.T) {
	c := OpenDiskCache(nil, 0, nil, nil)
	assert.False(t, c.Enabled())
	assert.False(t, c.Save(key("a", 16), solidImage(16, 16, blue)))
	assert.Error(t, c.SaveIndex())
	assert.NoError(t, c.Close())
}

func TestDiskCache_CorruptIndexStartsEmpty(t *testing.T) {
	root := storage.NewMemoryRoot()
	require.NoError(t, root.WriteFileAtomic(DiskIndexFile, []byte("{not json")))

	c := OpenDiskCache(root, 0, nil, nil)
	assert.Zero(t, c.Len())
	assert.True(t, c.Enabled())
}

func TestDiskCache_IndexFormat(t *testing.T) {
	c, root := newDisk(t, 0)
	k := key("text-plain", 16)
	require.True(t, c.Save(k, solidImage(16, 16, blue)))
	require.NoError(t, c.SaveIndex())

	data, err := root.ReadFile(DiskIndexFile)
	require.NoError(t, err)

	var raw struct {
		Version int `json:"version"`
		Entries []struct {
			Key          string    `json:"key"`
			FilePath     string    `json:"filePath"`
			FileSize     int64     `json:"fileSize"`
			LastAccessed time.Time `json:"lastAccessed"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 1, raw.Version)
	require.Len(t, raw.Entries, 1)
	assert.Equal(t, "text-plain@16x16s0", raw.Entries[0].Key)
	assert.Equal(t, FileName(k), raw.Entries[0].FilePath)
	assert.Equal(t, c.Size(), raw.Entries[0].FileSize)
}

func TestDiskCache_IndexRejectsForeignPaths(t *testing.T) {
	root := storage.NewMemoryRoot()
	index := `{"version":1,"entries":[
		{"key":"a@16x16s0","filePath":"../../etc/passwd","fileSize":10},
		{"key":"garbage","filePath":"x.png","fileSize":10}
	]}`
	require.NoError(t, root.WriteFileAtomic(DiskIndexFile, []byte(index)))

	c := OpenDiskCache(root, 0, nil, nil)
	assert.Zero(t, c.Len())
}

func TestDiskCache_OversizedIndexShrunkAtOpen(t *testing.T) {
	root := storage.NewMemoryRoot()
	c := OpenDiskCache(root, 0, nil, nil)
	for _, name := range []string{"a", "b", "c", "d"} {
		require.True(t, c.Save(key(name, 16), solidImage(16, 16, blue)))
	}
	total := c.Size()
	require.NoError(t, c.Close())

	reopened := OpenDiskCache(root, total/2, nil, nil)
	assert.LessOrEqual(t, reopened.Size(), total/2)
	assert.Equal(t, 2, reopened.Len())
	assert.True(t, reopened.Contains(key("d", 16)))
}

func TestDiskCache_Clear(t *testing.T) {
	c, root := newDisk(t, 0)
	k := key("a", 16)
	require.True(t, c.Save(k, solidImage(16, 16, blue)))

	require.NoError(t, c.Clear())
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Size())
	assert.False(t, root.Exists(FileName(k)))
	assert.True(t, root.Exists(DiskIndexFile))
}

func TestDiskCache_ClosedStopsServing(t *testing.T) {
	c, _ := newDisk(t, 0)
	k := key("a", 16)
	require.True(t, c.Save(k, solidImage(16, 16, blue)))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, ok := c.Load(k)
	assert.False(t, ok)
}
