// Package harness runs throttle scenarios described in YAML.
//
// A scenario configures a throttle, a fake API with scripted latencies and
// failures, a list of calls and a set of filters. The harness issues every
// call through a real throttle, waits for all of them, and checks
// assertions against the resulting trace.
//
// # Scenario Format
//
//	name: serial_fifo
//	description: "Calls start in arrival order with one slot"
//	throttle:
//	  max_parallel_calls: 1
//	  max_calls_per_second: 0
//	operations:
//	  get:
//	    latency: 2ms
//	    cases:
//	      - when: missing
//	        error: not found
//	calls:
//	  - method: get
//	    args: [a]
//	  - method: get
//	    args: [missing]
//	filters:
//	  - name: misses
//	    arg_index: 0
//	    equals: missing
//	    phase: any
//	assertions:
//	  - type: start_order
//	    calls: [0, 1]
//	  - type: filter_rejections
//	    filter: misses
//	    errors: ["not found"]
//
// An operation without a value returns its first argument. Values are
// compared by their printed form, so YAML 1 matches an int64 1.
//
// # Assertion Types
//
//   - start_order: operations started in this order of call indices
//   - max_in_flight: the peak concurrency stayed at or below max
//   - outcome: a call fulfilled with value, or rejected with error
//   - filter_results: a filter captured these values
//   - filter_rejections: a filter captured these rejection messages
//   - filter_tracked: a filter tracks count calls
//   - min_spacing: consecutive starts were at least ms apart
//
// # Golden Traces
//
// The canonical trace (see Trace.Canonical) holds per-call outcomes, start
// order, peak concurrency and filter snapshots. It is compared byte for
// byte with golden/<scenario>.golden, so golden files only suit scenarios
// whose start order does not depend on scheduling: one slot, or a rate
// limit wider than every latency.
package harness
