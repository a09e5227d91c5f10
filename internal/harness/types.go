package harness

import "time"

// Call outcomes recorded in a CallTrace.
const (
	OutcomeFulfilled = "fulfilled"
	OutcomeRejected  = "rejected"

	// OutcomeRefused means Call returned an error and nothing was queued.
	OutcomeRefused = "refused"
)

// Trace is what a scenario run observed.
type Trace struct {
	Scenario string `json:"scenario"`

	// Calls holds one entry per scenario call, in call order.
	Calls []CallTrace `json:"calls"`

	// StartOrder lists call indices in the order their operations started.
	StartOrder []int `json:"start_order"`

	// PeakInFlight is the highest number of concurrently running calls.
	PeakInFlight int `json:"peak_in_flight"`

	// Filters holds one snapshot per scenario filter, in declaration order.
	Filters []FilterTrace `json:"filters"`

	// Gaps are the times between consecutive starts. Not part of the
	// canonical trace.
	Gaps []time.Duration `json:"-"`
}

// CallTrace is the outcome of one call.
type CallTrace struct {
	Index   int    `json:"index"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
	Outcome string `json:"outcome"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

// FilterTrace is a filter's state after every call settled.
type FilterTrace struct {
	Name       string   `json:"name"`
	Tracked    int      `json:"tracked"`
	Results    []any    `json:"results"`
	Rejections []string `json:"rejections"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Trace Trace `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// filter returns the named filter snapshot.
func (t *Trace) filter(name string) (FilterTrace, bool) {
	for _, f := range t.Filters {
		if f.Name == name {
			return f, true
		}
	}
	return FilterTrace{}, false
}
