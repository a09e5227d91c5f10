package throttle

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/throttle/future"
)

func newTestState() *filterState {
	return &filterState{tracked: make(map[*future.Promise]struct{})}
}

func TestRegistry_RegisterDeregister(t *testing.T) {
	r := newRegistry()
	s1, s2 := newTestState(), newTestState()

	tok1 := r.register(matchAll, s1)
	tok2 := r.register(matchAll, s2)
	assert.NotEqual(t, tok1, tok2)
	assert.Equal(t, 2, r.Len())

	assert.True(t, r.deregister(tok1))
	assert.False(t, r.deregister(tok1), "second deregister is a no-op")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_SnapshotPrunesDeleted(t *testing.T) {
	r := newRegistry()
	live, gone := newTestState(), newTestState()
	r.register(matchAll, live)
	r.register(matchAll, gone)

	gone.clear()

	entries := r.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, r.Len())

	s, ok := entries[0].live()
	require.True(t, ok)
	assert.Same(t, live, s)
}

func TestRegistry_TrackArrivalDoesNotCapture(t *testing.T) {
	r := newRegistry()
	s := newTestState()
	r.register(matchAll, s)

	rec := newCallRecord("id", "m", []any{1})
	hits := match(r.snapshot(), rec.args, nil, nil)
	trackArrival(hits, rec)
	trackArrival(hits, rec)

	assert.Len(t, s.tracked, 1, "tracking is a set")
	assert.Empty(t, s.results)
	assert.Empty(t, s.rejections)
}

func TestRegistry_RecordCompletion(t *testing.T) {
	r := newRegistry()
	var got []any
	s := newTestState()
	s.onResult = func(v any, args []any) { got = append(got, v, args[0]) }
	s.onReject = func(err error, args []any) { got = append(got, err) }
	r.register(matchAll, s)

	ok := newCallRecord("1", "m", []any{"a"})
	calls := recordCompletion(r.snapshot(), ok, future.Settlement{Status: future.Fulfilled, Value: 10})
	for _, c := range calls {
		c.fn()
	}

	sentinel := errors.New("x")
	bad := newCallRecord("2", "m", []any{"b"})
	calls = recordCompletion(r.snapshot(), bad, future.Settlement{Status: future.Rejected, Err: sentinel})
	for _, c := range calls {
		c.fn()
	}

	assert.Equal(t, []any{10}, s.results)
	assert.Equal(t, []error{sentinel}, s.rejections)
	assert.Len(t, s.tracked, 2)
	assert.Equal(t, []any{10, "a", sentinel}, got)
}

func TestMatch_EvaluatesEverySelector(t *testing.T) {
	a, b := newTestState(), newTestState()
	r := newRegistry()
	r.register(func(args []any, _ *future.Settlement) bool { return args[0] == "x" }, a)
	r.register(matchAll, b)

	hits := match(r.snapshot(), []any{"x"}, nil, nil)
	assert.Len(t, hits, 2)

	hits = match(r.snapshot(), []any{"y"}, nil, nil)
	assert.Len(t, hits, 1)

	// The registry only holds weak references.
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestMatch_RecoversSelectorPanic(t *testing.T) {
	r := newRegistry()
	s := newTestState()
	tok := r.register(func([]any, *future.Settlement) bool { panic("boom") }, s)

	var reported uint64
	hits := match(r.snapshot(), nil, nil, func(token uint64, v any) {
		reported = token
		assert.Equal(t, "boom", v)
	})

	assert.Empty(t, hits)
	assert.Equal(t, tok, reported)
	runtime.KeepAlive(s)
}
