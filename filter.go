package throttle

import (
	"github.com/roach88/throttle/future"
)

// ResultFunc receives a matching call's value and its arguments.
type ResultFunc func(value any, args []any)

// RejectFunc receives a matching call's error and its arguments.
type RejectFunc func(err error, args []any)

// filterState is the mutable part of a Filter. The registry holds it
// weakly; the Filter handle holds it strongly.
//
// Guarded by the owning Throttle's mutex.
type filterState struct {
	tracked    map[*future.Promise]struct{}
	order      []*future.Promise
	results    []any
	rejections []error
	onResult   ResultFunc
	onReject   RejectFunc
	deleted    bool
}

// track adds p to the tracked set. Adding a member again is a no-op.
func (s *filterState) track(p *future.Promise) {
	if _, ok := s.tracked[p]; ok {
		return
	}
	s.tracked[p] = struct{}{}
	s.order = append(s.order, p)
}

// clear empties the state and detaches the callbacks.
func (s *filterState) clear() {
	s.tracked = nil
	s.order = nil
	s.results = nil
	s.rejections = nil
	s.onResult = nil
	s.onReject = nil
	s.deleted = true
}

// FilterOption configures a Filter.
type FilterOption func(*filterConfig)

type filterConfig struct {
	selector Selector
	onResult ResultFunc
	onReject RejectFunc
}

// WithSelector sets the predicate choosing which calls the filter observes.
// The default matches every call.
func WithSelector(sel Selector) FilterOption {
	return func(c *filterConfig) {
		if sel != nil {
			c.selector = sel
		}
	}
}

// OnResult sets the callback run for each matching fulfilled call.
func OnResult(fn ResultFunc) FilterOption {
	return func(c *filterConfig) {
		c.onResult = fn
	}
}

// OnReject sets the callback run for each matching rejected call.
func OnReject(fn RejectFunc) FilterOption {
	return func(c *filterConfig) {
		c.onReject = fn
	}
}

// Filter observes the calls of a Throttle picked by its selector and
// aggregates their outcomes.
//
// A call is tracked when the selector matches at arrival or at completion.
// Results and rejections are only captured, and callbacks only run, when
// the completion-time evaluation matches. Callbacks run on the throttle's
// run loop, one at a time, and must not wait on throttle futures.
//
// Delete releases the filter. After Delete every method returns an error
// with ErrCodeFilterDeleted. A Filter that is dropped without Delete may be
// pruned once the garbage collector reclaims it, but that is not
// guaranteed to happen at any particular time.
type Filter struct {
	t     *Throttle
	state *filterState
	token uint64
}

// NewFilter registers a filter on t.
func NewFilter(t *Throttle, opts ...FilterOption) (*Filter, error) {
	if t == nil {
		return nil, newError(ErrCodeInvalidThrottle, "throttle is nil")
	}

	cfg := filterConfig{selector: matchAll}
	for _, opt := range opts {
		opt(&cfg)
	}

	state := &filterState{
		tracked:  make(map[*future.Promise]struct{}),
		onResult: cfg.onResult,
		onReject: cfg.onReject,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, newError(ErrCodeInvalidThrottle, "throttle %q is closed", t.name)
	}
	f := &Filter{t: t, state: state}
	f.token = t.reg.register(cfg.selector, state)
	t.metrics.setFilters(t.name, t.reg.Len())

	t.logger.Debug("filter registered", "throttle", t.name, "filter", f.token)
	return f, nil
}

// snapshot returns the tracked futures under the lock.
func (f *Filter) snapshot() ([]*future.Future, error) {
	f.t.mu.Lock()
	defer f.t.mu.Unlock()

	if f.state.deleted {
		return nil, f.deletedError()
	}
	out := make([]*future.Future, 0, len(f.state.order))
	for _, p := range f.state.order {
		out = append(out, p.Future())
	}
	return out, nil
}

// All settles once every call tracked so far has settled. It fulfils with
// their values and rejects on the first rejection.
func (f *Filter) All() (*future.Future, error) {
	fs, err := f.snapshot()
	if err != nil {
		return nil, err
	}
	return future.All(fs...), nil
}

// AllSettled fulfils with the settlement of every call tracked so far.
func (f *Filter) AllSettled() (*future.Future, error) {
	fs, err := f.snapshot()
	if err != nil {
		return nil, err
	}
	return future.AllSettled(fs...), nil
}

// Any fulfils with the first tracked call to fulfil.
func (f *Filter) Any() (*future.Future, error) {
	fs, err := f.snapshot()
	if err != nil {
		return nil, err
	}
	return future.Any(fs...), nil
}

// Race settles like the first tracked call to settle.
func (f *Filter) Race() (*future.Future, error) {
	fs, err := f.snapshot()
	if err != nil {
		return nil, err
	}
	return future.Race(fs...), nil
}

// Results returns a copy of the captured values in capture order.
func (f *Filter) Results() ([]any, error) {
	f.t.mu.Lock()
	defer f.t.mu.Unlock()

	if f.state.deleted {
		return nil, f.deletedError()
	}
	out := make([]any, len(f.state.results))
	copy(out, f.state.results)
	return out, nil
}

// Rejections returns a copy of the captured errors in capture order.
func (f *Filter) Rejections() ([]error, error) {
	f.t.mu.Lock()
	defer f.t.mu.Unlock()

	if f.state.deleted {
		return nil, f.deletedError()
	}
	out := make([]error, len(f.state.rejections))
	copy(out, f.state.rejections)
	return out, nil
}

// Tracked returns the number of calls in the tracked set.
func (f *Filter) Tracked() (int, error) {
	f.t.mu.Lock()
	defer f.t.mu.Unlock()

	if f.state.deleted {
		return 0, f.deletedError()
	}
	return len(f.state.tracked), nil
}

// Delete clears the filter, detaches its callbacks and removes it from the
// throttle. The filter is inert afterwards: a second Delete changes nothing
// and, like every other method, returns an ErrCodeFilterDeleted error.
func (f *Filter) Delete() error {
	f.t.mu.Lock()
	defer f.t.mu.Unlock()

	if f.state.deleted {
		return f.deletedError()
	}
	f.state.clear()
	f.t.reg.deregister(f.token)
	f.t.metrics.setFilters(f.t.name, f.t.reg.Len())

	f.t.logger.Debug("filter deleted", "throttle", f.t.name, "filter", f.token)
	return nil
}

func (f *Filter) deletedError() error {
	return newError(ErrCodeFilterDeleted, "filter %d was deleted", f.token)
}
