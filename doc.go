// Package throttle dispatches calls against an API under a parallelism cap
// and a rate limit, and lets filters observe chosen calls.
//
// # Dispatch
//
// New wraps an API value and builds a dispatch table from its members:
//
//	api := map[string]throttle.Operation{
//	    "fetch": func(ctx context.Context, args ...any) (any, error) { ... },
//	}
//	t, err := throttle.New(api,
//	    throttle.WithMaxParallelCalls(4),
//	    throttle.WithMaxCallsPerSecond(10),
//	)
//	defer t.Close()
//
//	f, err := t.Call("fetch", "https://example.com")
//	v, err := f.Wait(ctx)
//
// Call never runs the operation itself. It queues a call record and returns
// a future. The run loop starts queued records in FIFO order, one per tick,
// while fewer than the cap are in flight. With a rate of r calls per second
// ticks are at least 1000/r ms apart; with no rate, or an interval that
// rounds below a millisecond, the loop reschedules itself immediately.
//
// # Filters
//
// A Filter observes the calls its selector matches:
//
//	xs, err := throttle.NewFilter(t, throttle.WithSelector(
//	    func(args []any, end *future.Settlement) bool { return args[0] == "x" },
//	))
//	all, err := xs.All()
//
// The selector is evaluated when a call arrives (end == nil) and again when
// it completes. Either match adds the call to the filter's tracked set,
// which All, AllSettled, Any and Race aggregate. Only a completion match
// captures the outcome in Results or Rejections and runs the callbacks.
//
// Filters are released with Delete. Abandoned filters may be pruned after
// garbage collection, but code must not rely on it.
//
// # Errors
//
// Errors raised by operations reach callers and filters unchanged. Errors
// raised by the throttle itself are *Error values; use CodeOf or the Is*
// helpers to classify them.
package throttle
