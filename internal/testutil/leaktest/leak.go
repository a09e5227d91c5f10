// Package leaktest fails tests that leave goroutines running.
package leaktest

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// LeakCheckContext returns a context cancelled at the end of the test.
// If the test passed, goroutines started after this call and still running
// once the context is cancelled fail the test.
func LeakCheckContext(t testing.TB) context.Context {
	baseline := goleak.IgnoreCurrent()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		ensureNoLeaks(t, baseline)
	})
	return ctx
}

// EnsureNoLeaks fails the test if any goroutine besides the test runner's is
// still running. Skipped when the test has already failed.
func EnsureNoLeaks(t testing.TB) {
	ensureNoLeaks(t)
}

func ensureNoLeaks(t testing.TB, extra ...goleak.Option) {
	if t.Failed() {
		return
	}
	if err := findLeaks(extra...); err != nil {
		t.Fatal(err)
	}
}

// findLeaks retries a few times so goroutines that are finishing get a chance to exit.
func findLeaks(extra ...goleak.Option) error {
	ignored := append([]goleak.Option{
		goleak.IgnoreTopFunction("testing.tRunner.func1"),
	}, extra...)

	var err error
	for i := 0; i < 5; i++ {
		if err = goleak.Find(ignored...); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return err
}
