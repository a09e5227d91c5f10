package testutil

import (
	"context"
	"sync"
	"time"
)

// Behavior decides how one call to a recorded operation behaves.
type Behavior func(args []any) (latency time.Duration, value any, err error)

// Reply returns a Behavior that waits latency and then returns value.
func Reply(latency time.Duration, value any) Behavior {
	return func([]any) (time.Duration, any, error) {
		return latency, value, nil
	}
}

// Fail returns a Behavior that waits latency and then returns err.
func Fail(latency time.Duration, err error) Behavior {
	return func([]any) (time.Duration, any, error) {
		return latency, nil, err
	}
}

// Echo returns a Behavior that waits latency and returns its first argument.
func Echo(latency time.Duration) Behavior {
	return func(args []any) (time.Duration, any, error) {
		if len(args) == 0 {
			return latency, nil, nil
		}
		return latency, args[0], nil
	}
}

// Start is one recorded operation start.
type Start struct {
	Index  int
	Method string
	Args   []any
	At     time.Time

	// Concurrent is the number of calls running when this one started, itself included.
	Concurrent int
}

// RecordingAPI is a fake API whose operations record when they start and
// how many of them overlap.
//
// Safe for concurrent use.
type RecordingAPI struct {
	mu        sync.Mutex
	behaviors map[string]Behavior
	starts    []Start
	inFlight  int
	peak      int
	finished  int
}

// NewRecordingAPI creates an API with no operations.
func NewRecordingAPI() *RecordingAPI {
	return &RecordingAPI{behaviors: make(map[string]Behavior)}
}

// Handle adds the operation name with behavior b.
func (a *RecordingAPI) Handle(name string, b Behavior) *RecordingAPI {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.behaviors[name] = b
	return a
}

// Operations returns the operations as a map suitable for throttle.New.
func (a *RecordingAPI) Operations() map[string]func(context.Context, ...any) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]func(context.Context, ...any) (any, error), len(a.behaviors))
	for name, b := range a.behaviors {
		out[name] = a.operation(name, b)
	}
	return out
}

func (a *RecordingAPI) operation(name string, b Behavior) func(context.Context, ...any) (any, error) {
	return func(ctx context.Context, args ...any) (any, error) {
		a.begin(name, args)
		defer a.end()

		latency, value, err := b(args)
		if latency > 0 {
			timer := time.NewTimer(latency)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return value, err
	}
}

func (a *RecordingAPI) begin(name string, args []any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cp := make([]any, len(args))
	copy(cp, args)
	a.inFlight++
	a.starts = append(a.starts, Start{
		Index:      len(a.starts),
		Method:     name,
		Args:       cp,
		At:         time.Now(),
		Concurrent: a.inFlight,
	})
	if a.inFlight > a.peak {
		a.peak = a.inFlight
	}
}

func (a *RecordingAPI) end() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight--
	a.finished++
}

// Starts returns the recorded starts in start order.
func (a *RecordingAPI) Starts() []Start {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Start, len(a.starts))
	copy(out, a.starts)
	return out
}

// FirstArgs returns the first argument of every start, in start order.
func (a *RecordingAPI) FirstArgs() []any {
	starts := a.Starts()
	out := make([]any, 0, len(starts))
	for _, s := range starts {
		if len(s.Args) > 0 {
			out = append(out, s.Args[0])
		} else {
			out = append(out, nil)
		}
	}
	return out
}

// Gaps returns the time between consecutive starts, in start order.
func (a *RecordingAPI) Gaps() []time.Duration {
	starts := a.Starts()
	var out []time.Duration
	for i := 1; i < len(starts); i++ {
		out = append(out, starts[i].At.Sub(starts[i-1].At))
	}
	return out
}

// Peak returns the highest number of overlapping calls seen.
func (a *RecordingAPI) Peak() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peak
}

// InFlight returns the number of calls currently running.
func (a *RecordingAPI) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight
}

// Finished returns the number of calls that have returned.
func (a *RecordingAPI) Finished() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished
}
