package cli

import (
	"fmt"
	"math"
	"time"

	"github.com/roach88/throttle/internal/config"
	"github.com/roach88/throttle/internal/testutil"
)

// newWorkloadAPI returns the synthetic API driven by `throttle run`. Its one
// operation is w.Method; it waits w.Latency and returns its first argument,
// or fails for the calls picked by failsAt.
func newWorkloadAPI(w config.Workload) *testutil.RecordingAPI {
	latency := w.LatencyDuration()
	rate := w.ErrorRate

	return testutil.NewRecordingAPI().Handle(w.Method, func(args []any) (time.Duration, any, error) {
		if len(args) < 2 {
			return 0, nil, fmt.Errorf("want key and index, got %d args", len(args))
		}
		i, _ := args[1].(int)
		if failsAt(i, rate) {
			return latency, nil, fmt.Errorf("call %d failed", i)
		}
		return latency, args[0], nil
	})
}

// failsAt spreads failures evenly: call i fails when the running count of
// expected failures crosses an integer.
func failsAt(i int, rate float64) bool {
	if rate <= 0 {
		return false
	}
	return math.Floor(float64(i+1)*rate) > math.Floor(float64(i)*rate)
}

// workloadArgs returns the arguments of call i: its key and its index.
func workloadArgs(w config.Workload, i int) []any {
	return []any{w.Key(i), i}
}
