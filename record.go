package throttle

import "github.com/roach88/throttle/future"

// callRecord is one intercepted invocation.
//
// method and args are fixed at creation. outer belongs to the caller;
// visible is only ever handed to filters.
type callRecord struct {
	id      string
	seq     int64
	method  string
	args    []any
	outer   *future.Promise
	visible *future.Promise
}

func newCallRecord(id, method string, args []any) *callRecord {
	cp := make([]any, len(args))
	copy(cp, args)
	return &callRecord{
		id:      id,
		method:  method,
		args:    cp,
		outer:   future.NewPromise(),
		visible: future.NewPromise(),
	}
}

// completion carries a finished operation back to the run loop.
type completion struct {
	rec *callRecord
	end future.Settlement
}
