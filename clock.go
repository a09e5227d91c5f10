package throttle

import "sync/atomic"

// Clock stamps call records with a strictly increasing sequence number.
//
// Seq is taken when a call is intercepted, so it reflects enqueue order and
// therefore dispatch order. Wall-clock time is never used for ordering.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next() returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
