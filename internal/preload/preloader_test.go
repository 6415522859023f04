package preload

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/iconcache/internal/cache"
	"github.com/objectfs/iconcache/internal/dispatch"
	"github.com/objectfs/iconcache/internal/loader"
	"github.com/objectfs/iconcache/internal/storage"
	"github.com/objectfs/iconcache/internal/usage"
	"github.com/objectfs/iconcache/internal/worker"
	"github.com/objectfs/iconcache/pkg/errors"
	"github.com/objectfs/iconcache/pkg/types"
)

type stubResolver struct {
	mu    sync.Mutex
	known map[string]bool
	calls map[string]int
	gate  chan struct{}
}

func newStubResolver(names ...string) *stubResolver {
	r := &stubResolver{known: map[string]bool{}, calls: map[string]int{}}
	for _, n := range names {
		r.known[n] = true
	}
	return r
}

func (r *stubResolver) Resolve(_ context.Context, name string) (types.RawImage, bool) {
	r.mu.Lock()
	r.calls[name]++
	ok := r.known[name]
	gate := r.gate
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if !ok {
		return nil, false
	}
	return types.RawImageFunc(func(size image.Point, _ types.RenderMode) image.Image {
		img := image.NewNRGBA(image.Rect(0, 0, size.X, size.Y))
		img.Set(0, 0, color.NRGBA{R: 200, A: 255})
		return img
	}), true
}

func (r *stubResolver) Calls(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

type recorder struct {
	mu       sync.Mutex
	progress [][2]int
	outcomes []string
}

func (r *recorder) onProgress(_ string, current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, [2]int{current, total})
}

func (r *recorder) ObservePreloadItem(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

type fixture struct {
	memory   *cache.MemoryCache
	disk     *cache.DiskCache
	tracker  *usage.Tracker
	resolver *stubResolver
	pool     *worker.Pool
	rec      *recorder
	p        *Preloader
}

func newFixture(t *testing.T, resolver *stubResolver) *fixture {
	t.Helper()
	root := storage.NewMemoryRoot()
	sub, err := root.Sub("images")
	require.NoError(t, err)

	f := &fixture{
		memory:   cache.NewMemoryCache(cache.DefaultMemoryBudget, nil),
		disk:     cache.OpenDiskCache(sub, cache.DefaultDiskBudget, nil, nil),
		tracker:  usage.Open(root, nil),
		resolver: resolver,
		pool:     worker.NewPool(2, nil),
		rec:      &recorder{},
	}
	serial := dispatch.NewSerial(nil)
	t.Cleanup(func() {
		_ = f.pool.Close(context.Background())
		serial.Close()
	})

	f.p, err = New(Options{
		Memory:      f.memory,
		Disk:        f.disk,
		Usage:       f.tracker,
		Resolver:    resolver,
		Pool:        f.pool,
		Dispatcher:  serial,
		Observer:    f.rec,
		AutoEnabled: true,
	})
	require.NoError(t, err)
	f.p.SetCallbacks(Callbacks{Progress: f.rec.onProgress})
	t.Cleanup(f.p.Close)
	return f
}

func waitJob(t *testing.T, job *Job) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := job.Wait(ctx)
	require.NoError(t, err)
	return res
}

func TestPreloadManyCountsSuccessAndFailure(t *testing.T) {
	f := newFixture(t, newStubResolver("folder", "text-plain"))
	size := image.Pt(32, 32)

	job, err := f.p.PreloadMany([]string{"folder", "missing", "text-plain"}, size, types.StateNormal)
	require.NoError(t, err)
	res := waitJob(t, job)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 1, res.Failed)
	assert.False(t, res.Cancelled)
	assert.False(t, f.p.IsPreloading())

	assert.True(t, f.memory.Contains(types.NewCacheKey("folder", 32, 32, types.StateNormal)))
	assert.True(t, f.disk.Contains(types.NewCacheKey("text-plain", 32, 32, types.StateNormal)))

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, f.rec.progress)
	assert.Equal(t, []string{OutcomeResolved, OutcomeFailed, OutcomeResolved}, f.rec.outcomes)
}

func TestPreloadDoesNotUseFallbackChain(t *testing.T) {
	f := newFixture(t, newStubResolver(loader.DefaultIconName))

	job, err := f.p.PreloadMany([]string{"unknown-icon"}, image.Pt(16, 16), types.StateNormal)
	require.NoError(t, err)
	res := waitJob(t, job)

	assert.Equal(t, 0, res.Success)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 0, f.resolver.Calls(loader.DefaultIconName))
}

func TestPreloadMemoryHitCountsAsSuccess(t *testing.T) {
	f := newFixture(t, newStubResolver())
	key := types.NewCacheKey("folder", 32, 32, types.StateNormal)
	f.memory.Put(key, image.NewNRGBA(image.Rect(0, 0, 32, 32)))

	job, err := f.p.PreloadMany([]string{"folder"}, image.Pt(32, 32), types.StateNormal)
	require.NoError(t, err)
	res := waitJob(t, job)

	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 0, f.resolver.Calls("folder"))
}

func TestPreloadWarmsMemoryFromDisk(t *testing.T) {
	f := newFixture(t, newStubResolver())
	key := types.NewCacheKey("folder", 32, 32, types.StateNormal)
	require.True(t, f.disk.Save(key, image.NewNRGBA(image.Rect(0, 0, 32, 32))))

	job, err := f.p.PreloadMany([]string{"folder"}, image.Pt(32, 32), types.StateNormal)
	require.NoError(t, err)
	res := waitJob(t, job)

	assert.Equal(t, 1, res.Success)
	assert.True(t, f.memory.Contains(key))
	assert.Equal(t, 0, f.resolver.Calls("folder"))
}

func TestPreloadRejectsConcurrentCall(t *testing.T) {
	r := newStubResolver("a", "b")
	r.gate = make(chan struct{})
	f := newFixture(t, r)

	job, err := f.p.PreloadMany([]string{"a", "b"}, image.Pt(32, 32), types.StateNormal)
	require.NoError(t, err)
	assert.True(t, f.p.IsPreloading())
	assert.Equal(t, job, f.p.Current())

	_, err = f.p.PreloadMany([]string{"c"}, image.Pt(32, 32), types.StateNormal)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePreloadBusy))

	close(r.gate)
	res := waitJob(t, job)
	assert.Equal(t, 2, res.Success)
	assert.Nil(t, f.p.Current())
}

func TestCancelStopsBeforeNextItem(t *testing.T) {
	r := newStubResolver("a", "b", "c", "d")
	r.gate = make(chan struct{})
	f := newFixture(t, r)

	var completed Result
	done := make(chan struct{})
	f.p.SetCallbacks(Callbacks{Complete: func(res Result) {
		completed = res
		close(done)
	}})

	names := []string{"a", "b", "c", "d"}
	job, err := f.p.PreloadMany(names, image.Pt(32, 32), types.StateNormal)
	require.NoError(t, err)

	f.p.Cancel()
	close(r.gate)

	res := waitJob(t, job)
	<-done
	assert.True(t, res.Cancelled)
	assert.Equal(t, res, completed)
	assert.LessOrEqual(t, res.Success+res.Failed, len(names))
	assert.Less(t, res.Processed, len(names))
	assert.False(t, f.p.IsPreloading())
}

func TestEmptyListStillCompletes(t *testing.T) {
	f := newFixture(t, newStubResolver())

	job, err := f.p.PreloadMany(nil, image.Pt(32, 32), types.StateNormal)
	require.NoError(t, err)
	res := waitJob(t, job)

	assert.Equal(t, Result{JobID: job.ID(), Duration: res.Duration}, res)
	assert.False(t, f.p.IsPreloading())
}

func TestAutoCountIsClamped(t *testing.T) {
	f := newFixture(t, newStubResolver())
	assert.Equal(t, DefaultAutoCount, f.p.AutoCount())

	f.p.SetAutoCount(0)
	assert.Equal(t, 1, f.p.AutoCount())
	f.p.SetAutoCount(500)
	assert.Equal(t, MaxAutoCount, f.p.AutoCount())
	f.p.SetAutoCount(12)
	assert.Equal(t, 12, f.p.AutoCount())
}

func TestTriggerAutoPreloadSkips(t *testing.T) {
	f := newFixture(t, newStubResolver("folder"))

	// No usage data yet.
	assert.Nil(t, f.p.TriggerAutoPreload())

	f.tracker.RecordAccess("folder", 32, types.StateNormal)
	f.p.SetAutoEnabled(false)
	assert.Nil(t, f.p.TriggerAutoPreload())

	f.p.SetAutoEnabled(true)
	f.tracker.SetEnabled(false)
	assert.Nil(t, f.p.TriggerAutoPreload())
}

func TestTriggerAutoPreloadLoadsTopUsed(t *testing.T) {
	f := newFixture(t, newStubResolver("folder", "text-plain", "image-png"))
	for i := 0; i < 3; i++ {
		f.tracker.RecordAccess("folder", 48, types.StateNormal)
	}
	f.tracker.RecordAccess("text-plain", 16, types.StateHover)
	f.tracker.RecordAccess("image-png", 16, types.StateNormal)
	f.p.SetAutoCount(2)

	job := f.p.TriggerAutoPreload()
	require.NotNil(t, job)
	res := waitJob(t, job)

	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Success)
	assert.True(t, f.memory.Contains(types.NewCacheKey("folder", 32, 32, types.StateNormal)))
}

func TestScheduleAutoPreloadRunsOnce(t *testing.T) {
	f := newFixture(t, newStubResolver("folder"))
	f.tracker.RecordAccess("folder", 32, types.StateNormal)

	f.p.ScheduleAutoPreload(10 * time.Millisecond)

	key := types.NewCacheKey("folder", 32, 32, types.StateNormal)
	assert.Eventually(t, func() bool {
		return f.memory.Contains(key) && !f.p.IsPreloading()
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.resolver.Calls("folder"))
}

func TestCloseStopsPendingTrigger(t *testing.T) {
	f := newFixture(t, newStubResolver("folder"))
	f.tracker.RecordAccess("folder", 32, types.StateNormal)

	f.p.ScheduleAutoPreload(50 * time.Millisecond)
	f.p.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, f.resolver.Calls("folder"))
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
}
