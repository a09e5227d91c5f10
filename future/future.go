package future

import (
	"context"
	"fmt"
	"sync"
)

// Status is the terminal state of a settled future.
type Status int

const (
	// Fulfilled means the future settled with a value.
	Fulfilled Status = iota + 1
	// Rejected means the future settled with an error.
	Rejected
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Settlement is the outcome of a settled future.
// Exactly one of Value or Err is meaningful, selected by Status.
type Settlement struct {
	Status Status
	Value  any
	Err    error
}

// Fulfilled reports whether the settlement carries a value.
func (s Settlement) Fulfilled() bool {
	return s.Status == Fulfilled
}

// Rejected reports whether the settlement carries an error.
func (s Settlement) Rejected() bool {
	return s.Status == Rejected
}

// Future is a read-only handle on a value that becomes available later.
//
// Thread-safety: all methods are safe for concurrent use.
type Future struct {
	done chan struct{}
	once sync.Once
	res  Settlement
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done returns a channel that is closed once the future has settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx is done.
// A rejected future returns its error unchanged, so errors.Is keeps working.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.res.Value, f.res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Peek returns the settlement without blocking.
// The boolean is false while the future is still pending.
func (f *Future) Peek() (Settlement, bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return Settlement{}, false
	}
}

// settle stores the outcome once; later calls are no-ops.
func (f *Future) settle(s Settlement) bool {
	settled := false
	f.once.Do(func() {
		f.res = s
		close(f.done)
		settled = true
	})
	return settled
}

// Promise is the writing side of a Future.
type Promise struct {
	f *Future
}

// NewPromise returns a pending promise.
func NewPromise() *Promise {
	return &Promise{f: newFuture()}
}

// Future returns the read side of the promise.
func (p *Promise) Future() *Future {
	return p.f
}

// Resolve fulfils the promise with v.
// Returns false if the promise had already settled.
func (p *Promise) Resolve(v any) bool {
	return p.f.settle(Settlement{Status: Fulfilled, Value: v})
}

// Reject settles the promise with err.
// Returns false if the promise had already settled.
func (p *Promise) Reject(err error) bool {
	return p.f.settle(Settlement{Status: Rejected, Err: err})
}

// Settle applies a settlement produced elsewhere.
func (p *Promise) Settle(s Settlement) bool {
	if s.Status == Rejected {
		return p.Reject(s.Err)
	}
	return p.Resolve(s.Value)
}

// Resolved returns a future already fulfilled with v.
func Resolved(v any) *Future {
	p := NewPromise()
	p.Resolve(v)
	return p.f
}

// RejectedWith returns a future already rejected with err.
func RejectedWith(err error) *Future {
	p := NewPromise()
	p.Reject(err)
	return p.f
}
