package cache

import (
	"fmt"
	"image"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/iconcache/pkg/errors"
	"github.com/objectfs/iconcache/pkg/types"
)

func TestGpuCache_ReusesLiveTexture(t *testing.T) {
	r := &fakeRenderer{}
	c := NewGpuCache(r, 0, nil)
	k := key("document-open", 24)
	img := solidImage(24, 24, red)

	t1, err := c.Materialize("win-1", k, img)
	require.NoError(t, err)
	t2, err := c.Materialize("win-1", k, img)
	require.NoError(t, err)

	assert.Same(t, t1, t2)
	assert.Equal(t, 1, r.Uploads())

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Uploads)
	assert.EqualValues(t, 1, stats.Reuses)
	assert.InDelta(t, 0.5, stats.ReuseRate, 1e-9)
	assert.Equal(t, 1, stats.Entries)
	assert.EqualValues(t, 24*24*4, stats.Bytes)
	runtime.KeepAlive(t1)
}

// racingRenderer materializes the same key from inside the first upload,
// as a second render thread would while the first one is unlocked.
type racingRenderer struct {
	fakeRenderer
	cache  *GpuCache
	key    types.CacheKey
	winner *Texture
	raced  bool
}

func (r *racingRenderer) Upload(ctx ContextID, img *image.NRGBA) (*Texture, error) {
	if !r.raced {
		r.raced = true
		tex, err := r.cache.Materialize(ctx, r.key, img)
		if err != nil {
			return nil, err
		}
		r.winner = tex
	}
	return r.fakeRenderer.Upload(ctx, img)
}

func TestGpuCache_LostUploadRaceIsNotAReuse(t *testing.T) {
	k := key("edit-paste", 16)
	r := &racingRenderer{key: k}
	c := NewGpuCache(r, 0, nil)
	r.cache = c

	tex, err := c.Materialize("win-1", k, solidImage(16, 16, red))
	require.NoError(t, err)

	assert.Same(t, r.winner, tex)
	assert.Equal(t, 2, r.Uploads())

	stats := c.Stats()
	assert.EqualValues(t, 2, stats.Uploads)
	assert.EqualValues(t, 0, stats.Reuses)
	assert.Zero(t, stats.ReuseRate)
	assert.Equal(t, 1, stats.Entries)
	runtime.KeepAlive(tex)
}

func TestGpuCache_ContextsAreIndependent(t *testing.T) {
	r := &fakeRenderer{}
	c := NewGpuCache(r, 0, nil)
	k := key("edit-paste", 16)
	img := solidImage(16, 16, red)

	a, err := c.Materialize("win-1", k, img)
	require.NoError(t, err)
	b, err := c.Materialize("win-2", k, img)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, r.Uploads())
	assert.Equal(t, []ContextID{"win-1", "win-2"}, c.Contexts())
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestGpuCache_EvictsOldestBeforeInsert(t *testing.T) {
	// Budget of N bytes, three textures of N/2 each.
	const n = 2 * 16 * 16 * 4
	r := &fakeRenderer{}
	c := NewGpuCache(r, n, nil)
	img := solidImage(16, 16, red)

	k1, k2, k3 := key("t1", 16), key("t2", 16), key("t3", 16)
	t1, err := c.Materialize("win", k1, img)
	require.NoError(t, err)
	t2, err := c.Materialize("win", k2, img)
	require.NoError(t, err)
	t3, err := c.Materialize("win", k3, img)
	require.NoError(t, err)

	_, ok := c.Lookup("win", k1)
	assert.False(t, ok, "T1 should have been evicted")
	_, ok = c.Lookup("win", k2)
	assert.True(t, ok)
	_, ok = c.Lookup("win", k3)
	assert.True(t, ok)

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Bytes, int64(n))
	assert.EqualValues(t, 1, stats.Evictions)
	runtime.KeepAlive([]*Texture{t1, t2, t3})
}

func TestGpuCache_EvictionUsesRecency(t *testing.T) {
	const n = 2 * 16 * 16 * 4
	c := NewGpuCache(&fakeRenderer{}, n, nil)
	img := solidImage(16, 16, red)

	base := time.Unix(1700000000, 0)
	tick := 0
	c.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }

	k1, k2, k3 := key("t1", 16), key("t2", 16), key("t3", 16)
	t1, _ := c.Materialize("win", k1, img)
	t2, _ := c.Materialize("win", k2, img)
	// Reusing t1 makes t2 the least recently used.
	_, _ = c.Materialize("win", k1, img)
	t3, _ := c.Materialize("win", k3, img)

	_, ok := c.Lookup("win", k1)
	assert.True(t, ok)
	_, ok = c.Lookup("win", k2)
	assert.False(t, ok)
	runtime.KeepAlive([]*Texture{t1, t2, t3})
}

func TestGpuCache_NeverEvictsOtherContexts(t *testing.T) {
	const n = 16 * 16 * 4
	c := NewGpuCache(&fakeRenderer{}, n, nil)
	img := solidImage(16, 16, red)

	a, _ := c.Materialize("win-1", key("a", 16), img)
	b, _ := c.Materialize("win-2", key("b", 16), img)
	d, _ := c.Materialize("win-2", key("d", 16), img)

	_, ok := c.Lookup("win-1", key("a", 16))
	assert.True(t, ok)
	_, ok = c.Lookup("win-2", key("b", 16))
	assert.False(t, ok)
	runtime.KeepAlive([]*Texture{a, b, d})
}

func TestGpuCache_ReleasedTextureIsStale(t *testing.T) {
	r := &fakeRenderer{}
	c := NewGpuCache(r, 0, nil)
	k := key("media-play", 16)
	img := solidImage(16, 16, red)

	first, err := c.Materialize("win", k, img)
	require.NoError(t, err)
	first.Release()

	second, err := c.Materialize("win", k, img)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.False(t, second.Released())
	assert.Equal(t, 2, r.Uploads())
	assert.EqualValues(t, 1, c.Stats().Stale)
	assert.Equal(t, 1, c.Stats().Entries)
}

func materializeAndDrop(t *testing.T, c *GpuCache, k string) {
	t.Helper()
	_, err := c.Materialize("win", key(k, 16), solidImage(16, 16, red))
	require.NoError(t, err)
}

func TestGpuCache_CollectedTextureIsStale(t *testing.T) {
	r := &fakeRenderer{}
	c := NewGpuCache(r, 0, nil)

	materializeAndDrop(t, c, "collected")
	for i := 0; i < 5; i++ {
		runtime.GC()
		if _, ok := c.Lookup("win", key("collected", 16)); !ok {
			break
		}
	}

	_, ok := c.Lookup("win", key("collected", 16))
	assert.False(t, ok)
	assert.Zero(t, c.Stats().Entries)
}

func TestGpuCache_ClearDoesNotRelease(t *testing.T) {
	c := NewGpuCache(&fakeRenderer{}, 0, nil)
	tex, err := c.Materialize("win", key("a", 16), solidImage(16, 16, red))
	require.NoError(t, err)
	_, err = c.Materialize("other", key("a", 16), solidImage(16, 16, red))
	require.NoError(t, err)

	c.Clear("win")
	assert.False(t, tex.Released())
	assert.Equal(t, 1, c.Stats().Contexts)

	c.ClearAll()
	assert.Zero(t, c.Stats().Entries)
	assert.False(t, tex.Released())
}

func TestGpuCache_UploadFailure(t *testing.T) {
	r := &fakeRenderer{fail: fmt.Errorf("device lost")}
	c := NewGpuCache(r, 0, nil)

	_, err := c.Materialize("win", key("a", 16), solidImage(16, 16, red))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeRendererFailed))
	assert.Zero(t, c.Stats().Entries)

	_, err = c.Materialize("win", key("a", 16), nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeIconEmpty))
}

func TestGpuCache_OversizedTextureNotCached(t *testing.T) {
	r := &fakeRenderer{}
	c := NewGpuCache(r, 100, nil)

	keep, _ := c.Materialize("win", key("small", 4), solidImage(4, 4, red))
	tex, err := c.Materialize("win", key("big", 64), solidImage(64, 64, red))
	require.NoError(t, err)
	assert.NotNil(t, tex)

	_, ok := c.Lookup("win", key("small", 4))
	assert.True(t, ok, "oversized upload must not evict entries")
	_, ok = c.Lookup("win", key("big", 64))
	assert.False(t, ok)
	runtime.KeepAlive(keep)
}

func TestGpuCache_SetBudgetEvicts(t *testing.T) {
	const cost = 16 * 16 * 4
	c := NewGpuCache(&fakeRenderer{}, 4*cost, nil)
	var live []*Texture
	for _, name := range []string{"a", "b", "c", "d"} {
		tex, err := c.Materialize("win", key(name, 16), solidImage(16, 16, red))
		require.NoError(t, err)
		live = append(live, tex)
	}

	c.SetBudget(cost)
	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.LessOrEqual(t, stats.Bytes, int64(cost))
	_, ok := c.Lookup("win", key("d", 16))
	assert.True(t, ok)
	runtime.KeepAlive(live)
}
