package throttle

import (
	"fmt"
	"math"
)

// Unbounded is the parallelism cap used when none is configured.
const Unbounded = math.MaxInt

// slots tracks in-flight operations against the parallelism cap.
//
// The counter stays within [0, limit]. Not safe for concurrent use; the
// Throttle mutex guards it.
type slots struct {
	limit int
	inUse int
	peak  int
}

func newSlots(limit int) *slots {
	return &slots{limit: limit}
}

// Available reports whether another operation may start.
func (s *slots) Available() bool {
	return s.inUse < s.limit
}

// Acquire takes a slot. Returns false when the cap is reached.
func (s *slots) Acquire() bool {
	if !s.Available() {
		return false
	}
	s.inUse++
	if s.inUse > s.peak {
		s.peak = s.inUse
	}
	return true
}

// Release returns a slot taken by Acquire.
//
// Panics on underflow: a release without a matching acquire means a record
// completed twice.
func (s *slots) Release() {
	if s.inUse == 0 {
		panic(fmt.Sprintf("throttle: slot released with none in use (limit=%d)", s.limit))
	}
	s.inUse--
}

// InUse returns the number of operations in flight.
func (s *slots) InUse() int {
	return s.inUse
}

// Peak returns the highest InUse value seen.
func (s *slots) Peak() int {
	return s.peak
}
