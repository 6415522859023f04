package loader

import (
	"context"
	stderrors "errors"
	"image"
	"sync"

	"github.com/google/uuid"

	"github.com/objectfs/iconcache/internal/router"
	"github.com/objectfs/iconcache/pkg/errors"
	"github.com/objectfs/iconcache/pkg/types"
)

// State is the lifecycle state of a Response.
type State int

const (
	StateCreated State = iota
	StateFastHit
	StateScheduled
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateFastHit:
		return "fast-hit"
	case StateScheduled:
		return "scheduled"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Source records which stage produced a result.
type Source string

const (
	SourceNone     Source = ""
	SourceMemory   Source = "memory"
	SourceDisk     Source = "disk"
	SourceResolver Source = "resolver"
)

// Response is the per-request handle returned by Loader.Load. It
// completes exactly once, on the loader's dispatcher.
type Response struct {
	id  string
	req router.Request

	mu        sync.Mutex
	state     State
	img       *image.NRGBA
	err       error
	source    Source
	callbacks []func(*Response)
	done      chan struct{}
}

func newResponse(req router.Request) *Response {
	return &Response{
		id:    uuid.NewString(),
		req:   req,
		state: StateCreated,
		done:  make(chan struct{}),
	}
}

// ID uniquely identifies this response.
func (r *Response) ID() string { return r.id }

// Request returns the parsed request.
func (r *Response) Request() router.Request { return r.req }

// Key returns the cache key of the request.
func (r *Response) Key() types.CacheKey { return r.req.Key }

// Done is closed once the response has completed.
func (r *Response) Done() <-chan struct{} { return r.done }

// State returns the current state.
func (r *Response) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Finished reports whether the response has completed.
func (r *Response) Finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Image returns the loaded image, or nil before completion and on
// failure. The caller owns the returned image.
func (r *Response) Image() *image.NRGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.img
}

// Err returns the failure, if any.
func (r *Response) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// ErrorString returns a human-readable failure message, or "" on success.
func (r *Response) ErrorString() string {
	err := r.Err()
	if err == nil {
		return ""
	}
	var ice *errors.IconCacheError
	if stderrors.As(err, &ice) {
		return ice.UserFacingMessage()
	}
	return err.Error()
}

// Source returns the stage that produced the image.
func (r *Response) Source() Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.source
}

// Wait blocks until the response completes or ctx is done.
func (r *Response) Wait(ctx context.Context) (*image.NRGBA, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.img, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnFinished registers fn to run after completion. Callbacks registered
// before completion run on the dispatcher right after Done is closed;
// callbacks registered later run immediately on the caller.
func (r *Response) OnFinished(fn func(*Response)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	if r.state == StateCompleted || r.state == StateFailed {
		r.mu.Unlock()
		fn(r)
		return
	}
	r.callbacks = append(r.callbacks, fn)
	r.mu.Unlock()
}

func (r *Response) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// complete transitions to Completed or Failed. Only the first call has an
// effect.
func (r *Response) complete(img *image.NRGBA, err error, source Source) bool {
	r.mu.Lock()
	if r.state == StateCompleted || r.state == StateFailed {
		r.mu.Unlock()
		return false
	}
	if err == nil && types.IsEmpty(img) {
		err = errors.NewError(errors.ErrCodeIconNotFound, "no image produced").
			WithContext("icon", r.req.Key.Name())
	}
	if err != nil {
		r.state = StateFailed
		r.img = nil
	} else {
		r.state = StateCompleted
		r.img = img
		r.source = source
	}
	r.err = err
	callbacks := r.callbacks
	r.callbacks = nil
	r.mu.Unlock()

	close(r.done)
	for _, fn := range callbacks {
		fn(r)
	}
	return true
}
