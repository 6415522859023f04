// Package dispatch delivers completion callbacks to the execution context
// that issued a request.
//
// Workers never call back into UI code directly. They hand a closure to a
// Dispatcher, which runs it later on the requester's side: either a
// dedicated FIFO goroutine (Serial) or a queue that the owning thread
// pumps itself (Loop).
package dispatch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/objectfs/iconcache/pkg/utils"
)

// Dispatcher runs fn at some later point in its own execution context.
// Dispatch must not block and must not run fn synchronously.
type Dispatcher interface {
	Dispatch(fn func())
}

// queue is an unbounded FIFO of callbacks.
type queue struct {
	mu     sync.Mutex
	items  []func()
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) take() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func runSafely(fn func(), logger logrus.FieldLogger) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Recovered panic in completion callback")
		}
	}()
	fn()
}

// Serial runs callbacks one at a time, in submission order, on a single
// goroutine.
type Serial struct {
	q      *queue
	mu     sync.Mutex
	closed bool
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
	logger logrus.FieldLogger
}

// NewSerial starts a serial dispatcher.
func NewSerial(logger logrus.FieldLogger) *Serial {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	s := &Serial{
		q:      newQueue(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger.WithField("component", "dispatcher"),
	}
	go s.loop()
	return s
}

// Dispatch queues fn. After Close, fn runs on a goroutine of its own so
// late completions are not lost.
func (s *Serial) Dispatch(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		go runSafely(fn, s.logger)
		return
	}
	s.q.push(fn)
}

// Flush blocks until every callback queued before the call has run.
func (s *Serial) Flush(ctx context.Context) error {
	done := make(chan struct{})
	s.Dispatch(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return context.Canceled
	}
}

// Close runs the callbacks already queued and stops the goroutine.
func (s *Serial) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stopCh)
	})
	<-s.doneCh
}

func (s *Serial) loop() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.q.notify:
			s.drain()
		case <-s.stopCh:
			s.drain()
			return
		}
	}
}

func (s *Serial) drain() {
	for {
		items := s.q.take()
		if len(items) == 0 {
			return
		}
		for _, fn := range items {
			runSafely(fn, s.logger)
		}
	}
}

// Loop queues callbacks until the owning goroutine drains them, the way a
// UI toolkit's event loop would.
type Loop struct {
	q      *queue
	logger logrus.FieldLogger
}

// NewLoop creates a caller-driven dispatcher.
func NewLoop(logger logrus.FieldLogger) *Loop {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Loop{q: newQueue(), logger: logger.WithField("component", "dispatcher")}
}

// Dispatch queues fn.
func (l *Loop) Dispatch(fn func()) {
	if fn != nil {
		l.q.push(fn)
	}
}

// Ready is signalled after callbacks are queued.
func (l *Loop) Ready() <-chan struct{} { return l.q.notify }

// Pending returns the number of queued callbacks.
func (l *Loop) Pending() int { return l.q.len() }

// Drain runs every queued callback on the calling goroutine and returns
// how many ran. Callbacks queued while draining also run.
func (l *Loop) Drain() int {
	n := 0
	for {
		items := l.q.take()
		if len(items) == 0 {
			return n
		}
		for _, fn := range items {
			runSafely(fn, l.logger)
			n++
		}
	}
}

// Run drains callbacks as they arrive until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-l.q.notify:
			l.Drain()
		case <-ctx.Done():
			return
		}
	}
}
