package throttle

import (
	"weak"

	"github.com/roach88/throttle/future"
)

// Selector decides whether a filter observes a call.
//
// It is evaluated twice per call: at arrival with end == nil, and at
// completion with end holding the call's settlement. Selectors run outside
// the throttle lock, possibly concurrently with each other, and must not
// block on the throttle.
type Selector func(args []any, end *future.Settlement) bool

// matchAll is the default selector.
func matchAll([]any, *future.Settlement) bool { return true }

// registration is one filter's entry in the registry.
//
// The state is held weakly: an abandoned Filter can be collected, after
// which the entry is pruned the next time a pass visits it.
type registration struct {
	token    uint64
	selector Selector
	state    weak.Pointer[filterState]
}

// live returns the filter state if it is still reachable and not deleted.
func (r *registration) live() (*filterState, bool) {
	s := r.state.Value()
	if s == nil || s.deleted {
		return nil, false
	}
	return s, true
}

// registry holds filter registrations in registration order.
//
// Not safe for concurrent use; the Throttle mutex guards it.
type registry struct {
	next    uint64
	entries []*registration
}

func newRegistry() *registry {
	return &registry{}
}

// register adds a selector for state and returns its token.
// Two registrations of the same selector func are distinct.
func (r *registry) register(sel Selector, state *filterState) uint64 {
	r.next++
	r.entries = append(r.entries, &registration{
		token:    r.next,
		selector: sel,
		state:    weak.Make(state),
	})
	return r.next
}

// deregister removes the entry for token. Returns false if it was absent.
func (r *registry) deregister(token uint64) bool {
	for i, e := range r.entries {
		if e.token == token {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot prunes stale entries and returns the live ones.
func (r *registry) snapshot() []*registration {
	kept := r.entries[:0]
	for _, e := range r.entries {
		if _, ok := e.live(); ok {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(r.entries); i++ {
		r.entries[i] = nil
	}
	r.entries = kept

	out := make([]*registration, len(kept))
	copy(out, kept)
	return out
}

// Len returns the number of entries, stale ones included.
func (r *registry) Len() int {
	return len(r.entries)
}

// match evaluates every selector against args, without holding any lock.
// A panicking selector counts as a non-match; onPanic reports it.
func match(entries []*registration, args []any, end *future.Settlement, onPanic func(token uint64, v any)) []*registration {
	var hits []*registration
	for _, e := range entries {
		if safeSelect(e, args, end, onPanic) {
			hits = append(hits, e)
		}
	}
	return hits
}

func safeSelect(e *registration, args []any, end *future.Settlement, onPanic func(uint64, any)) (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			ok = false
			if onPanic != nil {
				onPanic(e.token, v)
			}
		}
	}()
	return e.selector(args, end)
}

// trackArrival adds rec to the tracked set of every hit still live.
// It never touches results, rejections or callbacks.
func trackArrival(hits []*registration, rec *callRecord) {
	for _, e := range hits {
		if s, ok := e.live(); ok {
			s.track(rec.visible)
		}
	}
}

// observed is a callback owed to a filter after a completion pass.
type observed struct {
	state *filterState
	fn    func()
}

// recordCompletion applies a completion to every hit still live: the record
// is tracked and its outcome appended. The returned callbacks must be run
// after the lock is released.
func recordCompletion(hits []*registration, rec *callRecord, end future.Settlement) []observed {
	var calls []observed
	for _, e := range hits {
		s, ok := e.live()
		if !ok {
			continue
		}
		s.track(rec.visible)
		if end.Fulfilled() {
			s.results = append(s.results, end.Value)
			if cb := s.onResult; cb != nil {
				v, args := end.Value, rec.args
				calls = append(calls, observed{state: s, fn: func() { cb(v, args) }})
			}
		} else {
			s.rejections = append(s.rejections, end.Err)
			if cb := s.onReject; cb != nil {
				err, args := end.Err, rec.args
				calls = append(calls, observed{state: s, fn: func() { cb(err, args) }})
			}
		}
	}
	return calls
}
