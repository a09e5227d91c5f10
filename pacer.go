package throttle

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces dispatches so that at most one starts per interval.
//
// It is a token bucket with burst 1: an idle throttle may dispatch
// immediately, a busy one waits out the remainder of the interval.
type pacer struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// newPacer derives the interval from perSecond. An interval that rounds
// below one millisecond, or a non-finite rate, means no pacing at all.
func newPacer(perSecond float64) *pacer {
	interval := pacingInterval(perSecond)
	if interval == 0 {
		return &pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &pacer{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// pacingInterval returns the dispatch interval for perSecond, or 0 when
// dispatch should not be paced.
func pacingInterval(perSecond float64) time.Duration {
	if math.IsInf(perSecond, 1) || math.IsNaN(perSecond) || perSecond <= 0 {
		return 0
	}
	ms := 1000 / perSecond
	if math.Round(ms) < 1 {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// Reserve claims the next dispatch token and returns how long to wait
// before using it. Zero means dispatch now.
func (p *pacer) Reserve(now time.Time) time.Duration {
	return p.limiter.ReserveN(now, 1).DelayFrom(now)
}

// Interval returns the configured spacing, 0 when unpaced.
func (p *pacer) Interval() time.Duration {
	return p.interval
}
