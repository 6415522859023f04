package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialPreservesOrder(t *testing.T) {
	s := NewSerial(nil)
	defer s.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		s.Dispatch(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSerialNeverRunsInline(t *testing.T) {
	s := NewSerial(nil)
	defer s.Close()

	release := make(chan struct{})
	s.Dispatch(func() { <-release })

	ran := false
	s.Dispatch(func() { ran = true })
	assert.False(t, ran)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
	assert.True(t, ran)
}

func TestSerialSurvivesPanics(t *testing.T) {
	s := NewSerial(nil)
	defer s.Close()

	s.Dispatch(func() { panic("callback") })
	done := make(chan struct{})
	s.Dispatch(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher stopped after panic")
	}
}

func TestSerialCloseDrains(t *testing.T) {
	s := NewSerial(nil)
	var count int
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		s.Dispatch(func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	s.Close()
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, count)
}

func TestSerialDispatchAfterCloseStillRuns(t *testing.T) {
	s := NewSerial(nil)
	s.Close()

	done := make(chan struct{})
	s.Dispatch(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callback dispatched after Close never ran")
	}
}

func TestLoopDrainOnCaller(t *testing.T) {
	l := NewLoop(nil)

	var order []string
	l.Dispatch(func() { order = append(order, "a") })
	l.Dispatch(func() {
		order = append(order, "b")
		l.Dispatch(func() { order = append(order, "c") })
	})
	assert.Equal(t, 2, l.Pending())
	assert.Empty(t, order)

	select {
	case <-l.Ready():
	default:
		t.Fatal("Ready not signalled")
	}

	assert.Equal(t, 3, l.Drain())
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Zero(t, l.Pending())
}

func TestLoopRun(t *testing.T) {
	l := NewLoop(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go l.Run(ctx)

	done := make(chan struct{})
	l.Dispatch(func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not run callback")
	}
}
