package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/throttle"
	"github.com/roach88/throttle/future"
	"github.com/roach88/throttle/internal/testutil"
)

// Harness runs one scenario against a recording API through a real
// throttle.
type Harness struct {
	scenario *Scenario
	api      *testutil.RecordingAPI
	throttle *throttle.Throttle
	filters  []*throttle.Filter
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Build the fake API from the scenario's operations
//  2. Create the throttle and register the filters
//  3. Issue every call, then wait for all of them to settle
//  4. Snapshot the filters, close the throttle and evaluate assertions
//
// opts are applied after the scenario's limits; use them to attach a
// logger or metrics. The returned error reports a harness failure, not a
// failed assertion.
func Run(ctx context.Context, scenario *Scenario, opts ...throttle.Option) (*Result, error) {
	h, err := newHarness(scenario, opts)
	if err != nil {
		return nil, err
	}
	defer h.throttle.Close()

	ctx, cancel := context.WithTimeout(ctx, scenario.timeout())
	defer cancel()

	result := NewResult()
	result.Trace.Scenario = scenario.Name

	calls, futures := h.issue()
	if err := h.await(ctx, calls, futures); err != nil {
		return nil, err
	}
	result.Trace.Calls = calls

	filters, err := h.snapshotFilters()
	if err != nil {
		return nil, err
	}
	result.Trace.Filters = filters

	// Close before reading the API so every operation has returned.
	if err := h.throttle.Close(); err != nil {
		return nil, fmt.Errorf("close throttle: %w", err)
	}
	result.Trace.StartOrder = startOrder(scenario.Calls, h.api.Starts())
	result.Trace.PeakInFlight = max(h.throttle.Stats().PeakInFlight, h.api.Peak())
	result.Trace.Gaps = h.api.Gaps()

	for _, msg := range EvaluateAssertions(&result.Trace, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Debug("scenario finished",
		"scenario", scenario.Name,
		"pass", result.Pass,
		"calls", len(calls),
		"peak_in_flight", result.Trace.PeakInFlight,
	)
	return result, nil
}

func newHarness(scenario *Scenario, opts []throttle.Option) (*Harness, error) {
	api := testutil.NewRecordingAPI()
	for name, spec := range scenario.Operations {
		api.Handle(name, behavior(spec))
	}

	ids := make([]string, len(scenario.Calls))
	for i := range scenario.Calls {
		ids[i] = fmt.Sprintf("%s-%d", scenario.Name, i)
	}

	all := []throttle.Option{
		throttle.WithName(scenario.Name),
		throttle.WithIDGenerator(throttle.NewFixedGenerator(ids...)),
	}
	if n := scenario.Throttle.MaxParallelCalls; n > 0 {
		all = append(all, throttle.WithMaxParallelCalls(n))
	}
	if r := scenario.Throttle.MaxCallsPerSecond; r > 0 {
		all = append(all, throttle.WithMaxCallsPerSecond(r))
	}
	all = append(all, opts...)

	th, err := throttle.New(api.Operations(), all...)
	if err != nil {
		return nil, fmt.Errorf("create throttle: %w", err)
	}

	h := &Harness{
		scenario: scenario,
		api:      api,
		throttle: th,
		logger:   slog.Default(),
	}
	for _, spec := range scenario.Filters {
		f, err := throttle.NewFilter(th, throttle.WithSelector(selector(spec)))
		if err != nil {
			th.Close()
			return nil, fmt.Errorf("filter %s: %w", spec.Name, err)
		}
		h.filters = append(h.filters, f)
	}
	return h, nil
}

// issue makes every call without waiting. Refused calls get a nil future.
func (h *Harness) issue() ([]CallTrace, []*future.Future) {
	calls := make([]CallTrace, len(h.scenario.Calls))
	futures := make([]*future.Future, len(h.scenario.Calls))
	for i, step := range h.scenario.Calls {
		calls[i] = CallTrace{Index: i, Method: step.Method, Args: argsOrEmpty(step.Args)}

		f, err := h.throttle.Call(step.Method, step.Args...)
		if err != nil {
			calls[i].Outcome = OutcomeRefused
			calls[i].Error = err.Error()
			continue
		}
		futures[i] = f
	}
	return calls, futures
}

func (h *Harness) await(ctx context.Context, calls []CallTrace, futures []*future.Future) error {
	for i, f := range futures {
		if f == nil {
			continue
		}
		v, err := f.Wait(ctx)
		if err != nil && ctx.Err() != nil {
			return fmt.Errorf("call %d did not settle: %w", i, err)
		}
		if err != nil {
			calls[i].Outcome = OutcomeRejected
			calls[i].Error = err.Error()
			continue
		}
		calls[i].Outcome = OutcomeFulfilled
		calls[i].Value = v
	}
	return nil
}

func (h *Harness) snapshotFilters() ([]FilterTrace, error) {
	out := make([]FilterTrace, len(h.filters))
	for i, f := range h.filters {
		name := h.scenario.Filters[i].Name

		tracked, err := f.Tracked()
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
		results, err := f.Results()
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
		rejections, err := f.Rejections()
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}

		msgs := make([]string, len(rejections))
		for j, e := range rejections {
			msgs[j] = e.Error()
		}
		out[i] = FilterTrace{
			Name:       name,
			Tracked:    tracked,
			Results:    argsOrEmpty(results),
			Rejections: msgs,
		}
	}
	return out, nil
}

// behavior turns an operation spec into a recorded behavior.
func behavior(spec OperationSpec) testutil.Behavior {
	return func(args []any) (latency time.Duration, value any, err error) {
		latency = parseLatency(spec.Latency)
		msg := spec.Error
		value = spec.Value
		if value == nil && len(args) > 0 {
			value = args[0]
		}

		if len(args) > 0 {
			for _, c := range spec.Cases {
				if !sameValue(c.When, args[0]) {
					continue
				}
				if c.Latency != "" {
					latency = parseLatency(c.Latency)
				}
				if c.Error != "" {
					msg = c.Error
				}
				if c.Value != nil {
					value = c.Value
				}
				break
			}
		}

		if msg != "" {
			return latency, nil, errors.New(msg)
		}
		return latency, value, nil
	}
}

// selector builds the filter's match function.
func selector(spec FilterSpec) throttle.Selector {
	return func(args []any, end *future.Settlement) bool {
		switch spec.Phase {
		case PhaseArrival:
			if end != nil {
				return false
			}
		case PhaseCompletion:
			if end == nil {
				return false
			}
		}
		return spec.ArgIndex < len(args) && sameValue(args[spec.ArgIndex], spec.Equals)
	}
}

// sameValue compares scenario values by their printed form, so 1 from YAML
// matches an int64 1 returned by an operation.
func sameValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// startOrder maps recorded starts back to call indices. Calls with the same
// method and arguments are assigned in call order.
func startOrder(calls []CallStep, starts []testutil.Start) []int {
	used := make([]bool, len(calls))
	order := make([]int, 0, len(starts))
	for _, s := range starts {
		for i, c := range calls {
			if used[i] || c.Method != s.Method || !sameArgs(c.Args, s.Args) {
				continue
			}
			used[i] = true
			order = append(order, i)
			break
		}
	}
	return order
}

func sameArgs(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameValue(a[i], b[i]) {
			return false
		}
	}
	return true
}

func argsOrEmpty(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}
