package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(n int) *int { return &n }

func sampleTrace() *Trace {
	return &Trace{
		Calls: []CallTrace{
			{Index: 0, Method: "get", Outcome: OutcomeFulfilled, Value: int64(1)},
			{Index: 1, Method: "get", Outcome: OutcomeRejected, Error: "boom"},
			{Index: 2, Method: "put", Outcome: OutcomeRefused, Error: "UNKNOWN_OPERATION"},
		},
		StartOrder:   []int{0, 1},
		PeakInFlight: 2,
		Filters: []FilterTrace{
			{Name: "f", Tracked: 3, Results: []any{"b", int64(1)}, Rejections: []string{"x", "y"}},
		},
		Gaps: []time.Duration{25 * time.Millisecond, 19 * time.Millisecond},
	}
}

func TestEvaluateAssertions_AllPass(t *testing.T) {
	assertions := []Assertion{
		{Type: AssertStartOrder, Calls: []int{0, 1}},
		{Type: AssertMaxInFlight, Max: 2},
		{Type: AssertOutcome, Call: intPtr(0), Value: 1},
		{Type: AssertOutcome, Call: intPtr(1), Error: "boom"},
		{Type: AssertFilterResults, Filter: "f", Values: []any{"b", 1}},
		{Type: AssertFilterResults, Filter: "f", Values: []any{1, "b"}, Unordered: true},
		{Type: AssertFilterRejections, Filter: "f", Errors: []string{"y", "x"}, Unordered: true},
		{Type: AssertFilterTracked, Filter: "f", Count: intPtr(3)},
		{Type: AssertMinSpacing, MS: 20},
	}

	assert.Empty(t, EvaluateAssertions(sampleTrace(), assertions))
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{"start order", Assertion{Type: AssertStartOrder, Calls: []int{1, 0}}, "started in order [0 1]"},
		{"max in flight", Assertion{Type: AssertMaxInFlight, Max: 1}, "peak of 2"},
		{"wrong value", Assertion{Type: AssertOutcome, Call: intPtr(0), Value: 2}, "call 0 fulfilled with 1"},
		{"expected rejection", Assertion{Type: AssertOutcome, Call: intPtr(0), Error: "boom"}, "rejected with \"boom\""},
		{"refused", Assertion{Type: AssertOutcome, Call: intPtr(2), Value: 1}, "call 2 refused"},
		{"ordered results", Assertion{Type: AssertFilterResults, Filter: "f", Values: []any{1, "b"}}, "Diff (-want +got)"},
		{"rejections", Assertion{Type: AssertFilterRejections, Filter: "f", Errors: []string{"x"}}, "captured [\"x\" \"y\"]"},
		{"tracked", Assertion{Type: AssertFilterTracked, Filter: "f", Count: intPtr(1)}, "tracks 3"},
		{"spacing", Assertion{Type: AssertMinSpacing, MS: 25}, "starts 1 and 2 were 19ms apart"},
		{"unknown", Assertion{Type: "eventually"}, "unknown assertion type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(sampleTrace(), []Assertion{tt.assertion})
			if assert.Len(t, errs, 1) {
				assert.Contains(t, errs[0], tt.want)
			}
		})
	}
}

func TestEvaluateAssertions_EmptyResultsEquateNil(t *testing.T) {
	trace := &Trace{Filters: []FilterTrace{{Name: "f", Results: []any{}, Rejections: []string{}}}}
	errs := EvaluateAssertions(trace, []Assertion{
		{Type: AssertFilterResults, Filter: "f"},
		{Type: AssertFilterRejections, Filter: "f"},
	})
	assert.Empty(t, errs)
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertMaxInFlight,
		Expected: "at most 1 calls in flight",
		Actual:   "peak of 3",
	}

	assert.Equal(t,
		"Assertion failed: max_in_flight\n  Expected: at most 1 calls in flight\n  Actual: peak of 3\n",
		err.Error())
}
