package throttle

import (
	"context"
	"log/slog"
	"math"
)

// Option configures a Throttle.
type Option func(*Throttle) error

// WithMaxParallelCalls caps the number of operations in flight at once.
// n must be at least 1. The default is Unbounded.
func WithMaxParallelCalls(n int) Option {
	return func(t *Throttle) error {
		if n < 1 {
			return newError(ErrCodeInvalidArgument, "max parallel calls must be >= 1, got %d", n)
		}
		t.maxParallel = n
		return nil
	}
}

// WithMaxCallsPerSecond limits how often a new operation may start.
// r must be positive; math.Inf(1) means no limit, which is the default.
// Rates above 2000 per second round to an interval below one millisecond
// and are treated as unbounded.
func WithMaxCallsPerSecond(r float64) Option {
	return func(t *Throttle) error {
		if math.IsNaN(r) || r <= 0 {
			return newError(ErrCodeInvalidArgument, "max calls per second must be > 0, got %v", r)
		}
		t.perSecond = r
		return nil
	}
}

// WithName sets the name used in log lines and metric labels.
func WithName(name string) Option {
	return func(t *Throttle) error {
		if name == "" {
			return newError(ErrCodeInvalidArgument, "name must not be empty")
		}
		t.name = name
		return nil
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Throttle) error {
		if l != nil {
			t.logger = l
		}
		return nil
	}
}

// WithMetrics exports the throttle's activity through m.
func WithMetrics(m *Metrics) Option {
	return func(t *Throttle) error {
		t.metrics = m
		return nil
	}
}

// WithIDGenerator sets the generator for call IDs. The default is UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(t *Throttle) error {
		if g != nil {
			t.ids = g
		}
		return nil
	}
}

// WithContext sets the context passed to every operation. The throttle
// never cancels it. The default is context.Background().
func WithContext(ctx context.Context) Option {
	return func(t *Throttle) error {
		if ctx == nil {
			return newError(ErrCodeInvalidArgument, "context must not be nil")
		}
		t.baseCtx = ctx
		return nil
	}
}
