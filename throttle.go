package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/roach88/throttle/future"
)

// DefaultName is the throttle name used when WithName is not given.
const DefaultName = "default"

// Func is an operation bound to a throttle. See Throttle.Op.
type Func func(args ...any) (*future.Future, error)

// Throttle dispatches calls against an API no faster than its rate limit
// and with no more than its parallelism cap in flight.
//
// Every call is queued and answered with a future. A single run-loop
// goroutine starts queued calls in FIFO order, at most one per tick, and
// fans each completion out to matching filters before settling the
// caller's future.
//
// Thread-safety: all exported methods are safe for concurrent use, except
// that Close must not be called from a selector or filter callback.
type Throttle struct {
	name        string
	logger      *slog.Logger
	metrics     *Metrics
	ids         IDGenerator
	clock       *Clock
	baseCtx     context.Context
	maxParallel int
	perSecond   float64

	target any
	table  *dispatchTable
	pacer  *pacer

	mu     sync.Mutex
	queue  *callQueue
	slots  *slots
	reg    *registry
	closed bool
	stats  Stats

	wake        chan struct{}
	completions chan completion
	stop        chan struct{}
	stopped     chan struct{}
	closeOnce   sync.Once
}

// Stats is a point-in-time view of a throttle's counters.
type Stats struct {
	Queued       int
	InFlight     int
	PeakInFlight int
	Filters      int

	// Dispatched counts calls handed to their operation.
	Dispatched int64
	// Completed counts fulfilled calls.
	Completed int64
	// Failed counts rejected calls, including calls rejected by Close.
	Failed int64
}

// New wraps api and starts the run loop.
//
// api must be a struct, a pointer to a struct or a map with string keys;
// see Operation for how its members become operations. Call Close to stop
// the run loop.
func New(api any, opts ...Option) (*Throttle, error) {
	table, err := buildDispatchTable(api)
	if err != nil {
		return nil, err
	}

	t := &Throttle{
		name:        DefaultName,
		logger:      slog.Default(),
		ids:         UUIDv7Generator{},
		clock:       NewClock(),
		baseCtx:     context.Background(),
		maxParallel: Unbounded,
		perSecond:   math.Inf(1),
		target:      api,
		table:       table,
		queue:       newCallQueue(),
		reg:         newRegistry(),
		wake:        make(chan struct{}, 1),
		completions: make(chan completion),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	t.slots = newSlots(t.maxParallel)
	t.pacer = newPacer(t.perSecond)

	t.logger.Info("throttle starting",
		"throttle", t.name,
		"operations", len(table.ops),
		"max_parallel_calls", t.maxParallel,
		"interval", t.pacer.Interval(),
	)

	go t.run()
	return t, nil
}

// Name returns the throttle's name.
func (t *Throttle) Name() string {
	return t.name
}

// MaxParallelCalls returns the parallelism cap.
func (t *Throttle) MaxParallelCalls() int {
	return t.maxParallel
}

// Interval returns the minimum spacing between dispatches, 0 when unpaced.
func (t *Throttle) Interval() time.Duration {
	return t.pacer.Interval()
}

// Target returns the wrapped API value.
func (t *Throttle) Target() any {
	return t.target
}

// Property returns a non-callable member of the API.
func (t *Throttle) Property(name string) (any, bool) {
	v, ok := t.table.props[name]
	return v, ok
}

// Operations returns the names of the dispatchable operations, sorted.
func (t *Throttle) Operations() []string {
	return t.table.names()
}

// Op returns method bound to the throttle.
func (t *Throttle) Op(method string) (Func, bool) {
	if _, ok := t.table.ops[method]; !ok {
		return nil, false
	}
	return func(args ...any) (*future.Future, error) {
		return t.Call(method, args...)
	}, true
}

// Call queues an invocation of method and returns a future for its outcome.
//
// The operation does not run before Call returns. Its value or error is
// delivered to the future unchanged once it settles.
func (t *Throttle) Call(method string, args ...any) (*future.Future, error) {
	if _, ok := t.table.ops[method]; !ok {
		return nil, &Error{Code: ErrCodeUnknownOperation, Message: "no such operation", Method: method}
	}
	rec := newCallRecord(t.ids.Generate(), method, args)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, t.closedError(method)
	}
	entries := t.reg.snapshot()
	t.mu.Unlock()

	hits := match(entries, rec.args, nil, t.selectorPanicked)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, t.closedError(method)
	}
	trackArrival(hits, rec)
	rec.seq = t.clock.Next()
	t.queue.Push(rec)
	queued := t.queue.Len()
	t.mu.Unlock()

	t.metrics.setQueued(t.name, queued)
	t.logger.Debug("call queued",
		"throttle", t.name,
		"call_id", rec.id,
		"seq", rec.seq,
		"method", method,
		"filters_matched", len(hits),
	)

	t.signal()
	return rec.outer.Future(), nil
}

// Stats returns the current counters.
func (t *Throttle) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats
	s.Queued = t.queue.Len()
	s.InFlight = t.slots.InUse()
	s.PeakInFlight = t.slots.Peak()
	s.Filters = t.reg.Len()
	return s
}

// Close stops the throttle. Calls still queued are rejected with
// ErrCodeClosed after filters have observed them; calls in flight are
// waited for and delivered normally. Later Calls fail with ErrCodeClosed.
// Close is idempotent and always returns nil.
func (t *Throttle) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.stop)
	})
	<-t.stopped
	return nil
}

// signal wakes the run loop. The buffer of 1 coalesces signals.
func (t *Throttle) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// run is the dispatch loop. Each iteration is one tick: at most one record
// is dispatched, then the loop waits for the next event.
//
// A tick that finds work either dispatches at once and re-signals itself,
// or arms a timer for the pacer's delay. A tick with no work sleeps until a
// Call or a completion wakes it.
func (t *Throttle) run() {
	defer close(t.stopped)

	var timerC <-chan time.Time
	for {
		if timerC == nil && t.ready() {
			if d := t.pacer.Reserve(time.Now()); d > 0 {
				timerC = time.After(d)
			} else {
				t.dispatchNext()
				t.signal()
			}
		}

		select {
		case <-t.stop:
			t.shutdown()
			return

		case c := <-t.completions:
			t.complete(c)

		case <-t.wake:

		case <-timerC:
			timerC = nil
			t.dispatchNext()
			t.signal()
		}
	}
}

// ready reports whether a record is queued and a slot is free.
func (t *Throttle) ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.Len() > 0 && t.slots.Available()
}

// dispatchNext pops the head record and starts its operation.
// Called only from the run loop.
func (t *Throttle) dispatchNext() bool {
	t.mu.Lock()
	if !t.slots.Available() || t.queue.Len() == 0 {
		t.mu.Unlock()
		return false
	}
	rec, _ := t.queue.Pop()
	t.slots.Acquire()
	t.stats.Dispatched++
	queued, inFlight := t.queue.Len(), t.slots.InUse()
	t.mu.Unlock()

	t.metrics.setQueued(t.name, queued)
	t.metrics.setInFlight(t.name, inFlight)
	t.metrics.incDispatched(t.name)
	t.logger.Debug("call dispatched",
		"throttle", t.name,
		"call_id", rec.id,
		"seq", rec.seq,
		"method", rec.method,
		"in_flight", inFlight,
	)

	op := t.table.ops[rec.method]
	go func() {
		t.completions <- completion{rec: rec, end: invoke(t.baseCtx, op, rec)}
	}()
	return true
}

// invoke runs op and converts its outcome, or its panic, to a settlement.
func invoke(ctx context.Context, op Operation, rec *callRecord) (end future.Settlement) {
	defer func() {
		if v := recover(); v != nil {
			end = future.Settlement{
				Status: future.Rejected,
				Err:    &Error{Code: ErrCodeOperationPanic, Message: fmt.Sprint(v), Method: rec.method},
			}
		}
	}()

	args := make([]any, len(rec.args))
	copy(args, rec.args)

	v, err := op(ctx, args...)
	if err != nil {
		return future.Settlement{Status: future.Rejected, Err: err}
	}
	return future.Settlement{Status: future.Fulfilled, Value: v}
}

// complete handles a finished operation: release its slot, fan out to
// filters, then settle the caller's future. Called only from the run loop.
func (t *Throttle) complete(c completion) {
	t.mu.Lock()
	t.slots.Release()
	inFlight := t.slots.InUse()
	t.mu.Unlock()

	t.metrics.setInFlight(t.name, inFlight)
	t.settle(c.rec, c.end)
}

// settle runs the completion-time pass for rec and settles its futures.
func (t *Throttle) settle(rec *callRecord, end future.Settlement) {
	t.mu.Lock()
	entries := t.reg.snapshot()
	if end.Fulfilled() {
		t.stats.Completed++
	} else {
		t.stats.Failed++
	}
	t.mu.Unlock()

	outcome := OutcomeFulfilled
	if end.Rejected() {
		outcome = OutcomeRejected
	}
	t.metrics.incCompleted(t.name, outcome)

	view := end
	hits := match(entries, rec.args, &view, t.selectorPanicked)

	t.mu.Lock()
	calls := recordCompletion(hits, rec, end)
	t.mu.Unlock()

	for _, c := range calls {
		t.mu.Lock()
		deleted := c.state.deleted
		t.mu.Unlock()
		if !deleted {
			t.runCallback(rec, c.fn)
		}
	}

	rec.visible.Settle(end)
	rec.outer.Settle(end)

	t.logger.Debug("call settled",
		"throttle", t.name,
		"call_id", rec.id,
		"seq", rec.seq,
		"method", rec.method,
		"outcome", outcome,
		"filters_matched", len(hits),
	)
}

// shutdown rejects everything still queued and waits for in-flight
// operations. Called only from the run loop.
func (t *Throttle) shutdown() {
	t.mu.Lock()
	pending := t.queue.Drain()
	t.mu.Unlock()
	t.metrics.setQueued(t.name, 0)

	for _, rec := range pending {
		end := future.Settlement{
			Status: future.Rejected,
			Err:    &Error{Code: ErrCodeClosed, Message: "throttle closed before dispatch", Method: rec.method},
		}
		t.settle(rec, end)
	}

	for {
		t.mu.Lock()
		n := t.slots.InUse()
		t.mu.Unlock()
		if n == 0 {
			break
		}
		t.complete(<-t.completions)
	}

	t.logger.Info("throttle closed",
		"throttle", t.name,
		"rejected_queued", len(pending),
	)
}

func (t *Throttle) runCallback(rec *callRecord, fn func()) {
	defer func() {
		if v := recover(); v != nil {
			t.logger.Error("filter callback panicked",
				"throttle", t.name,
				"call_id", rec.id,
				"method", rec.method,
				"panic", v,
			)
		}
	}()
	fn()
}

func (t *Throttle) selectorPanicked(token uint64, v any) {
	t.logger.Error("filter selector panicked",
		"throttle", t.name,
		"filter", token,
		"panic", v,
	)
}

func (t *Throttle) closedError(method string) error {
	return &Error{Code: ErrCodeClosed, Message: fmt.Sprintf("throttle %q is closed", t.name), Method: method}
}
