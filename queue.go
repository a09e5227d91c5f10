package throttle

import "github.com/gammazero/deque"

// callQueue is the FIFO of records awaiting dispatch.
//
// Not safe for concurrent use; the Throttle mutex guards it. Records are
// only ever appended at the tail and removed from the head.
type callQueue struct {
	records deque.Deque[*callRecord]
}

func newCallQueue() *callQueue {
	q := &callQueue{}
	q.records.SetBaseCap(64)
	return q
}

// Push appends rec at the tail.
func (q *callQueue) Push(rec *callRecord) {
	q.records.PushBack(rec)
}

// Pop removes the head record. Returns (nil, false) when empty.
func (q *callQueue) Pop() (*callRecord, bool) {
	if q.records.Len() == 0 {
		return nil, false
	}
	return q.records.PopFront(), true
}

// Len returns the number of queued records.
func (q *callQueue) Len() int {
	return q.records.Len()
}

// Drain removes every queued record, head first.
func (q *callQueue) Drain() []*callRecord {
	out := make([]*callRecord, 0, q.records.Len())
	for q.records.Len() > 0 {
		out = append(out, q.records.PopFront())
	}
	return out
}
