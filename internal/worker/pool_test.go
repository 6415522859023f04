package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/iconcache/pkg/errors"
)

func TestDefaultSize(t *testing.T) {
	tests := []struct {
		cpus int
		want int
	}{
		{1, 2},
		{2, 2},
		{4, 2},
		{6, 3},
		{8, 4},
		{64, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, defaultSizeFor(tt.cpus), "cpus=%d", tt.cpus)
	}
	assert.GreaterOrEqual(t, DefaultSize(), 2)
	assert.LessOrEqual(t, DefaultSize(), 4)
}

func TestClampSize(t *testing.T) {
	assert.Equal(t, DefaultSize(), ClampSize(0))
	assert.Equal(t, DefaultSize(), ClampSize(-3))
	assert.Equal(t, 1, ClampSize(1))
	assert.Equal(t, 8, ClampSize(8))
	assert.Equal(t, MaxSize, ClampSize(100))
}

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(2, nil)

	var count atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(func() { count.Add(1) }))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))

	assert.EqualValues(t, 20, count.Load())
	assert.EqualValues(t, 20, p.Stats().Completed)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(3, nil)

	var running, peak, entered atomic.Int32
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(3)

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func() {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			if entered.Add(1) <= 3 {
				started.Done()
			}
			<-release
			running.Add(-1)
		}))
	}

	started.Wait()
	assert.EqualValues(t, 3, p.Stats().Active)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool(1, nil)
	require.NoError(t, p.Submit(func() { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool stopped after panic")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	assert.EqualValues(t, 1, p.Stats().Panics)
}

func TestPoolResize(t *testing.T) {
	p := NewPool(2, nil)
	p.Resize(6)
	assert.Equal(t, 6, p.Size())
	p.Resize(50)
	assert.Equal(t, MaxSize, p.Size())
}

func TestPoolResizeKeepsHardCap(t *testing.T) {
	p := NewPool(MaxSize, nil)

	var running, peak atomic.Int32
	release := make(chan struct{})
	task := func() {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		running.Add(-1)
	}

	for i := 0; i < MaxSize; i++ {
		require.NoError(t, p.Submit(task))
	}
	require.Eventually(t, func() bool { return running.Load() == MaxSize },
		5*time.Second, time.Millisecond)

	p.Resize(MaxSize - 1)
	for i := 0; i < MaxSize; i++ {
		require.NoError(t, p.Submit(task))
	}

	// Give the late submissions a chance to start if the cap leaked.
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, MaxSize, running.Load())
	assert.EqualValues(t, MaxSize, p.Stats().Active)
	assert.EqualValues(t, MaxSize, p.Stats().Queued)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	assert.EqualValues(t, MaxSize, peak.Load())
	assert.EqualValues(t, 2*MaxSize, p.Stats().Completed)
}

func TestPoolShrinkLimitsLaterTasks(t *testing.T) {
	p := NewPool(4, nil)

	var running, peak atomic.Int32
	release := make(chan struct{})
	first := make(chan struct{})
	blockFirst := func() {
		running.Add(1)
		<-first
		running.Add(-1)
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Submit(blockFirst))
	}
	require.Eventually(t, func() bool { return running.Load() == 4 },
		5*time.Second, time.Millisecond)

	p.Resize(2)
	for i := 0; i < 6; i++ {
		require.NoError(t, p.Submit(func() {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		}))
	}

	close(first)
	require.Eventually(t, func() bool { return running.Load() == 2 },
		5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 2, running.Load())

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	assert.EqualValues(t, 2, peak.Load())
}

func TestPoolClose(t *testing.T) {
	p := NewPool(1, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))

	err := p.Submit(func() {})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeComponentStopped))
	assert.Error(t, p.Submit(nil))
}
