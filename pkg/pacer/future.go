package pacer

import (
	"context"
	"errors"
	"sync"
)

// ErrFailedNilError is recorded when a Future is failed with a nil error.
var ErrFailedNilError = errors.New("pacer: future failed with nil error")

// Future is a one-shot completion handle. The Scheduler settles the Future
// returned by Add exactly once with the operation's outcome; operations
// built with Async settle their own Future when the background work ends.
//
// A Future is safe for concurrent use. Settling more than once is a no-op.
type Future struct {
	mu      sync.Mutex
	done    chan struct{}
	val     any
	err     error
	settled bool
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Fulfill settles the Future with a value. It reports whether this call
// performed the settle.
func (f *Future) Fulfill(v any) bool { return f.settle(v, nil) }

// Fail settles the Future with an error.
func (f *Future) Fail(err error) bool {
	if err == nil {
		err = ErrFailedNilError
	}
	return f.settle(nil, err)
}

func (f *Future) settle(v any, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.val, f.err, f.settled = v, err, true
	close(f.done)
	return true
}

// Done is closed once the Future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Result returns the outcome. It is only meaningful after Done is closed;
// before that it returns (nil, nil).
func (f *Future) Result() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val, f.err
}

// Wait blocks until the Future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
