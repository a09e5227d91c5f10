package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Diff     string // cmp.Diff output, if any
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if e.Diff != "" {
		fmt.Fprintf(&buf, "  Diff (-want +got):\n%s", e.Diff)
	}
	return buf.String()
}

func assertStartOrder(trace *Trace, a Assertion) error {
	if diff := cmp.Diff(a.Calls, trace.StartOrder); diff != "" {
		return &AssertionError{
			Type:     AssertStartOrder,
			Expected: fmt.Sprintf("calls start in order %v", a.Calls),
			Actual:   fmt.Sprintf("started in order %v", trace.StartOrder),
			Diff:     diff,
		}
	}
	return nil
}

func assertMaxInFlight(trace *Trace, a Assertion) error {
	if trace.PeakInFlight > a.Max {
		return &AssertionError{
			Type:     AssertMaxInFlight,
			Expected: fmt.Sprintf("at most %d calls in flight", a.Max),
			Actual:   fmt.Sprintf("peak of %d", trace.PeakInFlight),
		}
	}
	return nil
}

func assertOutcome(trace *Trace, a Assertion) error {
	call := trace.Calls[*a.Call]

	if a.Error != "" {
		if call.Outcome != OutcomeRejected || call.Error != a.Error {
			return &AssertionError{
				Type:     AssertOutcome,
				Expected: fmt.Sprintf("call %d rejected with %q", call.Index, a.Error),
				Actual:   describeCall(call),
			}
		}
		return nil
	}

	if call.Outcome != OutcomeFulfilled || !sameValue(call.Value, a.Value) {
		return &AssertionError{
			Type:     AssertOutcome,
			Expected: fmt.Sprintf("call %d fulfilled with %v", call.Index, a.Value),
			Actual:   describeCall(call),
		}
	}
	return nil
}

func assertFilterResults(trace *Trace, a Assertion) error {
	f, _ := trace.filter(a.Filter)

	opts := []cmp.Option{cmpopts.EquateEmpty()}
	if a.Unordered {
		opts = append(opts, cmpopts.SortSlices(func(x, y string) bool { return x < y }))
	}
	if diff := cmp.Diff(printAll(a.Values), printAll(f.Results), opts...); diff != "" {
		return &AssertionError{
			Type:     AssertFilterResults,
			Expected: fmt.Sprintf("filter %s captured %v", a.Filter, a.Values),
			Actual:   fmt.Sprintf("captured %v", f.Results),
			Diff:     diff,
		}
	}
	return nil
}

func assertFilterRejections(trace *Trace, a Assertion) error {
	f, _ := trace.filter(a.Filter)

	opts := []cmp.Option{cmpopts.EquateEmpty()}
	if a.Unordered {
		opts = append(opts, cmpopts.SortSlices(func(x, y string) bool { return x < y }))
	}
	if diff := cmp.Diff(a.Errors, f.Rejections, opts...); diff != "" {
		return &AssertionError{
			Type:     AssertFilterRejections,
			Expected: fmt.Sprintf("filter %s captured rejections %q", a.Filter, a.Errors),
			Actual:   fmt.Sprintf("captured %q", f.Rejections),
			Diff:     diff,
		}
	}
	return nil
}

func assertFilterTracked(trace *Trace, a Assertion) error {
	f, _ := trace.filter(a.Filter)
	if f.Tracked != *a.Count {
		return &AssertionError{
			Type:     AssertFilterTracked,
			Expected: fmt.Sprintf("filter %s tracks %d calls", a.Filter, *a.Count),
			Actual:   fmt.Sprintf("tracks %d", f.Tracked),
		}
	}
	return nil
}

// spacingSlack absorbs timer and scheduling jitter between a dispatch and
// the operation recording its start.
const spacingSlack = 3 * time.Millisecond

func assertMinSpacing(trace *Trace, a Assertion) error {
	want := time.Duration(a.MS) * time.Millisecond
	for i, gap := range trace.Gaps {
		if gap+spacingSlack < want {
			return &AssertionError{
				Type:     AssertMinSpacing,
				Expected: fmt.Sprintf("starts at least %v apart", want),
				Actual:   fmt.Sprintf("starts %d and %d were %v apart", i, i+1, gap),
			}
		}
	}
	return nil
}

// printAll renders values by their printed form; see sameValue.
func printAll(vs []any) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = fmt.Sprint(v)
	}
	return out
}

func describeCall(c CallTrace) string {
	switch c.Outcome {
	case OutcomeFulfilled:
		return fmt.Sprintf("call %d fulfilled with %v", c.Index, c.Value)
	case OutcomeRejected:
		return fmt.Sprintf("call %d rejected with %q", c.Index, c.Error)
	default:
		return fmt.Sprintf("call %d %s: %s", c.Index, c.Outcome, c.Error)
	}
}

// EvaluateAssertions evaluates all assertions against the trace.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(trace *Trace, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertStartOrder:
			err = assertStartOrder(trace, assertion)
		case AssertMaxInFlight:
			err = assertMaxInFlight(trace, assertion)
		case AssertOutcome:
			err = assertOutcome(trace, assertion)
		case AssertFilterResults:
			err = assertFilterResults(trace, assertion)
		case AssertFilterRejections:
			err = assertFilterRejections(trace, assertion)
		case AssertFilterTracked:
			err = assertFilterTracked(trace, assertion)
		case AssertMinSpacing:
			err = assertMinSpacing(trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
