// Package worker runs background icon work on a bounded pool.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/objectfs/iconcache/pkg/errors"
	"github.com/objectfs/iconcache/pkg/utils"
)

// MaxSize is the hard cap on pool concurrency.
const MaxSize = 8

// DefaultSize returns clamp(NumCPU/2, 2, 4).
func DefaultSize() int {
	return defaultSizeFor(runtime.NumCPU())
}

func defaultSizeFor(cpus int) int {
	n := cpus / 2
	if n < 2 {
		n = 2
	}
	if n > 4 {
		n = 4
	}
	return n
}

// ClampSize maps a configured size into [1, MaxSize]. Zero or negative
// selects DefaultSize.
func ClampSize(n int) int {
	if n <= 0 {
		return DefaultSize()
	}
	if n > MaxSize {
		return MaxSize
	}
	return n
}

// Stats describes pool activity.
type Stats struct {
	Size      int    `json:"size"`
	Active    int64  `json:"active"`
	Queued    int64  `json:"queued"`
	Completed uint64 `json:"completed"`
	Panics    uint64 `json:"panics"`
}

// Pool runs submitted tasks with at most Size running at once. Submit
// never blocks the caller and gives no FIFO guarantee.
//
// A task first takes a slot under the current size, then a unit of the
// MaxSize semaphore. Resizing only changes the slot limit, so tasks
// submitted before and after a resize share both limits.
type Pool struct {
	mu      sync.Mutex
	slots   *sync.Cond
	running int
	size    int
	closed  bool
	sem     *semaphore.Weighted
	wg      sync.WaitGroup

	active    atomic.Int64
	queued    atomic.Int64
	completed atomic.Uint64
	panics    atomic.Uint64

	logger logrus.FieldLogger
}

// NewPool creates a pool. See ClampSize for how size is interpreted.
func NewPool(size int, logger logrus.FieldLogger) *Pool {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	p := &Pool{
		sem:    semaphore.NewWeighted(MaxSize),
		size:   ClampSize(size),
		logger: logger.WithField("component", "worker-pool"),
	}
	p.slots = sync.NewCond(&p.mu)
	return p
}

// Submit schedules task. It fails only after Close.
func (p *Pool) Submit(task func()) error {
	if task == nil {
		return fmt.Errorf("nil task")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.NewError(errors.ErrCodeComponentStopped, "worker pool is closed").
			WithComponent("worker-pool").WithOperation("Submit")
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.queued.Add(1)
	go p.run(task)
	return nil
}

func (p *Pool) acquireSlot() {
	p.mu.Lock()
	for p.running >= p.size {
		p.slots.Wait()
	}
	p.running++
	p.mu.Unlock()
}

func (p *Pool) releaseSlot() {
	p.mu.Lock()
	p.running--
	p.mu.Unlock()
	p.slots.Signal()
}

func (p *Pool) run(task func()) {
	defer p.wg.Done()

	p.acquireSlot()
	defer p.releaseSlot()
	// Acquire cannot fail with a background context.
	_ = p.sem.Acquire(context.Background(), 1)
	defer p.sem.Release(1)

	p.queued.Add(-1)
	p.active.Add(1)
	defer p.active.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.WithField("panic", r).
				WithField("stack", errors.CaptureStack(3)).
				Error("Recovered panic in background task")
		}
		p.completed.Add(1)
	}()

	task()
}

// Resize changes the concurrency limit for every task that has not
// started yet. Running tasks are not interrupted; after a shrink no new
// task starts until fewer than size are running.
func (p *Pool) Resize(size int) {
	size = ClampSize(size)

	p.mu.Lock()
	if size == p.size {
		p.mu.Unlock()
		return
	}
	p.size = size
	p.mu.Unlock()

	p.slots.Broadcast()
	p.logger.WithField("size", size).Info("Worker pool resized")
}

// Size returns the current concurrency limit.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Size:      p.Size(),
		Active:    p.active.Load(),
		Queued:    p.queued.Load(),
		Completed: p.completed.Load(),
		Panics:    p.panics.Load(),
	}
}

// Wait blocks until every submitted task has finished or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for running ones.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Wait(ctx)
}
