package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario drives one throttle through a fixed sequence of calls and checks
// what happened.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Throttle holds the limits; zero means unbounded.
	Throttle Limits `yaml:"throttle"`

	// Operations are the fake API's operations, keyed by method name.
	Operations map[string]OperationSpec `yaml:"operations"`

	// Calls are issued in order, all before any of them is awaited.
	Calls []CallStep `yaml:"calls"`

	// Filters are registered before the first call.
	Filters []FilterSpec `yaml:"filters,omitempty"`

	// Assertions validate the trace.
	Assertions []Assertion `yaml:"assertions"`

	// Timeout bounds the whole run. Defaults to DefaultTimeout.
	Timeout string `yaml:"timeout,omitempty"`
}

// Limits configures the throttle under test.
type Limits struct {
	MaxParallelCalls  int     `yaml:"max_parallel_calls"`
	MaxCallsPerSecond float64 `yaml:"max_calls_per_second"`
}

// OperationSpec describes how a fake operation behaves.
//
// Without a Value the operation returns its first argument. A non-empty
// Error rejects the call with that message.
type OperationSpec struct {
	Latency string `yaml:"latency,omitempty"`
	Error   string `yaml:"error,omitempty"`
	Value   any    `yaml:"value,omitempty"`
	Cases   []Case `yaml:"cases,omitempty"`
}

// Case overrides an operation's behavior for calls whose first argument
// equals When. The first matching case wins; unset fields fall back to the
// operation's.
type Case struct {
	When    any    `yaml:"when"`
	Latency string `yaml:"latency,omitempty"`
	Error   string `yaml:"error,omitempty"`
	Value   any    `yaml:"value,omitempty"`
}

// CallStep is one call made through the throttle.
type CallStep struct {
	Method string `yaml:"method"`
	Args   []any  `yaml:"args,omitempty"`
}

// FilterSpec registers a filter matching calls whose argument at ArgIndex
// equals Equals.
type FilterSpec struct {
	Name     string `yaml:"name"`
	ArgIndex int    `yaml:"arg_index"`
	Equals   any    `yaml:"equals"`
	Phase    string `yaml:"phase,omitempty"`
}

// Filter phases. An empty phase means PhaseAny.
const (
	PhaseAny        = "any"
	PhaseArrival    = "arrival"
	PhaseCompletion = "completion"
)

// Assertion validates one aspect of the trace. Which fields apply depends
// on Type.
type Assertion struct {
	Type string `yaml:"type"`

	// Calls is the expected start order, as call indices (start_order).
	Calls []int `yaml:"calls,omitempty"`

	// Max bounds the peak number of concurrent calls (max_in_flight).
	Max int `yaml:"max,omitempty"`

	// Call is the index of the call to check (outcome).
	Call *int `yaml:"call,omitempty"`

	// Value is the expected fulfilment value (outcome).
	Value any `yaml:"value,omitempty"`

	// Error is the expected rejection message (outcome).
	Error string `yaml:"error,omitempty"`

	// Filter names the filter to inspect (filter_*).
	Filter string `yaml:"filter,omitempty"`

	// Values are the expected captured results (filter_results).
	Values []any `yaml:"values,omitempty"`

	// Errors are the expected captured rejection messages (filter_rejections).
	Errors []string `yaml:"errors,omitempty"`

	// Unordered compares Values or Errors as multisets.
	Unordered bool `yaml:"unordered,omitempty"`

	// Count is the expected number of tracked calls (filter_tracked).
	Count *int `yaml:"count,omitempty"`

	// MS is the minimum gap between consecutive starts (min_spacing).
	MS int `yaml:"ms,omitempty"`
}

// Assertion type constants.
const (
	AssertStartOrder       = "start_order"
	AssertMaxInFlight      = "max_in_flight"
	AssertOutcome          = "outcome"
	AssertFilterResults    = "filter_results"
	AssertFilterRejections = "filter_rejections"
	AssertFilterTracked    = "filter_tracked"
	AssertMinSpacing       = "min_spacing"
)

// DefaultTimeout bounds a scenario without its own timeout.
const DefaultTimeout = 10 * time.Second

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// timeout returns the scenario's run bound.
func (s *Scenario) timeout() time.Duration {
	if s.Timeout == "" {
		return DefaultTimeout
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return DefaultTimeout
	}
	return d
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Calls) == 0 {
		return fmt.Errorf("calls list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Throttle.MaxParallelCalls < 0 {
		return fmt.Errorf("throttle.max_parallel_calls must be >= 0")
	}
	if s.Throttle.MaxCallsPerSecond < 0 {
		return fmt.Errorf("throttle.max_calls_per_second must be >= 0")
	}
	if s.Timeout != "" {
		if _, err := time.ParseDuration(s.Timeout); err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
	}

	for name, op := range s.Operations {
		if err := checkDuration(op.Latency); err != nil {
			return fmt.Errorf("operations.%s.latency: %w", name, err)
		}
		for i, c := range op.Cases {
			if c.When == nil {
				return fmt.Errorf("operations.%s.cases[%d]: when is required", name, i)
			}
			if err := checkDuration(c.Latency); err != nil {
				return fmt.Errorf("operations.%s.cases[%d].latency: %w", name, i, err)
			}
		}
	}

	for i, call := range s.Calls {
		if call.Method == "" {
			return fmt.Errorf("calls[%d]: method is required", i)
		}
	}

	filters := make(map[string]bool, len(s.Filters))
	for i, f := range s.Filters {
		if f.Name == "" {
			return fmt.Errorf("filters[%d]: name is required", i)
		}
		if filters[f.Name] {
			return fmt.Errorf("filters[%d]: duplicate name %q", i, f.Name)
		}
		filters[f.Name] = true
		if f.ArgIndex < 0 {
			return fmt.Errorf("filters[%d]: arg_index must be >= 0", i)
		}
		switch f.Phase {
		case "", PhaseAny, PhaseArrival, PhaseCompletion:
		default:
			return fmt.Errorf("filters[%d]: unknown phase %q", i, f.Phase)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], len(s.Calls), filters); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion, calls int, filters map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStartOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for start_order", index)
		}
		for _, c := range a.Calls {
			if c < 0 || c >= calls {
				return fmt.Errorf("assertions[%d]: call index %d out of range", index, c)
			}
		}
	case AssertMaxInFlight:
		if a.Max < 1 {
			return fmt.Errorf("assertions[%d]: max must be >= 1 for max_in_flight", index)
		}
	case AssertOutcome:
		if a.Call == nil {
			return fmt.Errorf("assertions[%d]: call is required for outcome", index)
		}
		if *a.Call < 0 || *a.Call >= calls {
			return fmt.Errorf("assertions[%d]: call index %d out of range", index, *a.Call)
		}
	case AssertFilterResults, AssertFilterRejections, AssertFilterTracked:
		if a.Filter == "" {
			return fmt.Errorf("assertions[%d]: filter is required for %s", index, a.Type)
		}
		if !filters[a.Filter] {
			return fmt.Errorf("assertions[%d]: unknown filter %q", index, a.Filter)
		}
		if a.Type == AssertFilterTracked && a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for filter_tracked", index)
		}
	case AssertMinSpacing:
		if a.MS < 1 {
			return fmt.Errorf("assertions[%d]: ms must be >= 1 for min_spacing", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func checkDuration(s string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

// parseLatency returns s as a duration. Validation has already run.
func parseLatency(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, _ := time.ParseDuration(s)
	return d
}
