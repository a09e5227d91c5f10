package throttle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallQueue_FIFO(t *testing.T) {
	q := newCallQueue()

	// Push three records
	for _, m := range []string{"A", "B", "C"} {
		q.Push(newCallRecord("id-"+m, m, nil))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		rec, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, rec.method)
	}
	assert.Equal(t, 0, q.Len())
}

func TestCallQueue_PopEmpty(t *testing.T) {
	q := newCallQueue()

	rec, ok := q.Pop()
	assert.False(t, ok, "pop from empty queue should return false")
	assert.Nil(t, rec)
}

func TestCallQueue_Drain(t *testing.T) {
	q := newCallQueue()
	q.Push(newCallRecord("1", "a", nil))
	q.Push(newCallRecord("2", "b", nil))

	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "1", drained[0].id)
	assert.Equal(t, "2", drained[1].id)
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Drain())
}

func TestCallRecord_CopiesArgs(t *testing.T) {
	args := []any{"x", 1}
	rec := newCallRecord("id", "m", args)
	args[0] = "changed"

	assert.Equal(t, []any{"x", 1}, rec.args)
	assert.NotSame(t, rec.outer, rec.visible)
}

func TestSlots_Bounds(t *testing.T) {
	s := newSlots(2)

	assert.True(t, s.Acquire())
	assert.True(t, s.Acquire())
	assert.False(t, s.Acquire(), "cap reached")
	assert.Equal(t, 2, s.InUse())
	assert.False(t, s.Available())

	s.Release()
	assert.True(t, s.Available())
	assert.Equal(t, 1, s.InUse())
	assert.Equal(t, 2, s.Peak())
}

func TestSlots_ReleaseUnderflowPanics(t *testing.T) {
	s := newSlots(1)
	assert.Panics(t, s.Release)
}

func TestSlots_Unbounded(t *testing.T) {
	s := newSlots(Unbounded)
	for i := 0; i < 1000; i++ {
		require.True(t, s.Acquire())
	}
	assert.Equal(t, 1000, s.Peak())
}
