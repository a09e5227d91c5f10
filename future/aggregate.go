package future

import (
	"fmt"
	"strings"
)

// AggregateError is the rejection of Any when no input fulfils.
// Errors are kept in input order.
type AggregateError struct {
	Errors []error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "all futures were rejected (no inputs)"
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("all %d futures were rejected: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual rejections to errors.Is / errors.As.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// indexed pairs an input position with its settlement.
type indexed struct {
	idx int
	res Settlement
}

// watch reports every input settlement on a channel sized for all inputs.
// A watcher exits early once stop is closed, so inputs that are still
// pending after the aggregate has settled do not hold goroutines.
func watch(fs []*Future, stop <-chan struct{}) <-chan indexed {
	ch := make(chan indexed, len(fs))
	for i, f := range fs {
		go func(i int, f *Future) {
			select {
			case <-f.done:
				ch <- indexed{idx: i, res: f.res}
			case <-stop:
			}
		}(i, f)
	}
	return ch
}

// All fulfils with the values of every input, in input order.
// It rejects with the first rejection to arrive. No inputs fulfils with an empty slice.
//
// Every aggregate keeps a goroutine per input until it settles. An aggregate
// over an input that never settles (a call still queued on a throttle that is
// never closed) keeps them for good.
func All(fs ...*Future) *Future {
	p := NewPromise()
	if len(fs) == 0 {
		p.Resolve([]any{})
		return p.f
	}
	ch := watch(fs, p.f.done)
	go func() {
		values := make([]any, len(fs))
		for range fs {
			r := <-ch
			if r.res.Status == Rejected {
				p.Reject(r.res.Err)
				return
			}
			values[r.idx] = r.res.Value
		}
		p.Resolve(values)
	}()
	return p.f
}

// AllSettled fulfils with every input's Settlement, in input order, once all
// inputs have settled. It never rejects.
func AllSettled(fs ...*Future) *Future {
	p := NewPromise()
	if len(fs) == 0 {
		p.Resolve([]Settlement{})
		return p.f
	}
	ch := watch(fs, p.f.done)
	go func() {
		out := make([]Settlement, len(fs))
		for range fs {
			r := <-ch
			out[r.idx] = r.res
		}
		p.Resolve(out)
	}()
	return p.f
}

// Any fulfils with the first input to fulfil. If every input rejects, or
// there are no inputs, it rejects with *AggregateError.
func Any(fs ...*Future) *Future {
	p := NewPromise()
	if len(fs) == 0 {
		p.Reject(&AggregateError{})
		return p.f
	}
	ch := watch(fs, p.f.done)
	go func() {
		errs := make([]error, len(fs))
		for range fs {
			r := <-ch
			if r.res.Status == Fulfilled {
				p.Resolve(r.res.Value)
				return
			}
			errs[r.idx] = r.res.Err
		}
		p.Reject(&AggregateError{Errors: errs})
	}()
	return p.f
}

// Race settles like the first input to settle; watchers of the other
// inputs exit then. With no inputs the returned future never settles.
func Race(fs ...*Future) *Future {
	p := NewPromise()
	if len(fs) == 0 {
		return p.f
	}
	ch := watch(fs, p.f.done)
	go func() {
		r := <-ch
		p.Settle(r.res)
	}()
	return p.f
}
