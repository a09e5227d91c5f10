package throttle

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/throttle/future"
	"github.com/roach88/throttle/internal/testutil"
	"github.com/roach88/throttle/internal/testutil/leaktest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestThrottle starts a throttle with leak checking and closes it at cleanup.
func newTestThrottle(t *testing.T, api any, opts ...Option) *Throttle {
	t.Helper()
	leaktest.LeakCheckContext(t)

	th, err := New(api, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = th.Close() })
	return th
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustCall(t *testing.T, th *Throttle, method string, args ...any) *future.Future {
	t.Helper()
	f, err := th.Call(method, args...)
	require.NoError(t, err)
	return f
}

func TestNew_InvalidTarget(t *testing.T) {
	var nilStruct *struct{ A int }
	targets := map[string]any{
		"nil":            nil,
		"int":            42,
		"string":         "api",
		"slice":          []int{1},
		"func":           func() {},
		"nil pointer":    nilStruct,
		"pointer to int": new(int),
		"int keyed map":  map[int]any{1: func() {}},
	}

	for name, target := range targets {
		t.Run(name, func(t *testing.T) {
			_, err := New(target, WithLogger(quietLogger()))
			require.Error(t, err)
			assert.Equal(t, ErrCodeInvalidTarget, CodeOf(err))
			assert.True(t, IsConstructionError(err))
		})
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	api := map[string]Operation{}
	cases := map[string]Option{
		"zero parallel":     WithMaxParallelCalls(0),
		"negative parallel": WithMaxParallelCalls(-1),
		"zero rate":         WithMaxCallsPerSecond(0),
		"negative rate":     WithMaxCallsPerSecond(-5),
		"nan rate":          WithMaxCallsPerSecond(math.NaN()),
		"empty name":        WithName(""),
		"nil context":       WithContext(nil),
	}

	for name, opt := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(api, WithLogger(quietLogger()), opt)
			require.Error(t, err)
			assert.Equal(t, ErrCodeInvalidArgument, CodeOf(err))
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	th := newTestThrottle(t, map[string]Operation{})

	assert.Equal(t, DefaultName, th.Name())
	assert.Equal(t, Unbounded, th.MaxParallelCalls())
	assert.Equal(t, time.Duration(0), th.Interval())
}

func TestThrottle_OutcomeFidelity(t *testing.T) {
	sentinel := errors.New("upstream unavailable")
	api := testutil.NewRecordingAPI().
		Handle("ok", reply(42)).
		Handle("fail", testutil.Fail(0, sentinel))
	th := newTestThrottle(t, api.Operations())

	v, err := mustCall(t, th, "ok").Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = mustCall(t, th, "fail").Wait(waitCtx(t))
	assert.Same(t, sentinel, err)
}

func TestThrottle_CallIsDeferred(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	api := map[string]Operation{
		"block": func(ctx context.Context, args ...any) (any, error) {
			started <- struct{}{}
			<-release
			return "done", nil
		},
	}
	th := newTestThrottle(t, api)

	f := mustCall(t, th, "block")
	_, settled := f.Peek()
	assert.False(t, settled, "Call must return before the operation settles")

	<-started
	close(release)
	v, err := f.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestThrottle_UnknownOperation(t *testing.T) {
	th := newTestThrottle(t, map[string]Operation{})

	_, err := th.Call("missing")
	require.Error(t, err)
	assert.True(t, IsUnknownOperation(err))

	_, ok := th.Op("missing")
	assert.False(t, ok)
}

func TestThrottle_OperationPanicRejectsCall(t *testing.T) {
	api := map[string]Operation{
		"explode": func(context.Context, ...any) (any, error) {
			panic("kaboom")
		},
	}
	th := newTestThrottle(t, api)

	_, err := mustCall(t, th, "explode").Wait(waitCtx(t))
	require.Error(t, err)
	assert.Equal(t, ErrCodeOperationPanic, CodeOf(err))
	assert.Contains(t, err.Error(), "kaboom")

	// The loop survives the panic.
	assert.Equal(t, int64(1), th.Stats().Failed)
}

func TestThrottle_ParallelismBound(t *testing.T) {
	api := testutil.NewRecordingAPI().Handle("work", testutil.Echo(5*time.Millisecond))
	th := newTestThrottle(t, api.Operations(), WithMaxParallelCalls(3))

	var fs []*future.Future
	for i := 0; i < 20; i++ {
		fs = append(fs, mustCall(t, th, "work", i))
	}
	_, err := future.All(fs...).Wait(waitCtx(t))
	require.NoError(t, err)

	assert.LessOrEqual(t, api.Peak(), 3)
	assert.LessOrEqual(t, th.Stats().PeakInFlight, 3)
	for _, s := range api.Starts() {
		assert.LessOrEqual(t, s.Concurrent, 3)
	}
}

func TestThrottle_FIFOStartOrder(t *testing.T) {
	api := testutil.NewRecordingAPI().Handle("work", testutil.Echo(time.Millisecond))
	th := newTestThrottle(t, api.Operations(), WithMaxParallelCalls(1))

	var fs []*future.Future
	want := make([]any, 0, 10)
	for i := 0; i < 10; i++ {
		fs = append(fs, mustCall(t, th, "work", i))
		want = append(want, i)
	}
	_, err := future.All(fs...).Wait(waitCtx(t))
	require.NoError(t, err)

	assert.Equal(t, want, api.FirstArgs())
}

func TestThrottle_RateBound(t *testing.T) {
	api := testutil.NewRecordingAPI().Handle("work", testutil.Echo(0))
	th := newTestThrottle(t, api.Operations(), WithMaxCallsPerSecond(50))
	require.Equal(t, 20*time.Millisecond, th.Interval())

	var fs []*future.Future
	for i := 0; i < 5; i++ {
		fs = append(fs, mustCall(t, th, "work", i))
	}
	_, err := future.All(fs...).Wait(waitCtx(t))
	require.NoError(t, err)

	assert.Equal(t, []any{0, 1, 2, 3, 4}, api.FirstArgs())
	for i, gap := range api.Gaps() {
		assert.GreaterOrEqual(t, gap, 15*time.Millisecond, "gap %d", i)
	}
}

// Two slots, no rate limit, latencies 50/10/10 ms: the first two calls start
// straight away and the third only once one of them has settled.
func TestThrottle_ThirdCallWaitsForSlot(t *testing.T) {
	latency := map[int]time.Duration{1: 50 * time.Millisecond, 2: 10 * time.Millisecond, 3: 10 * time.Millisecond}
	api := testutil.NewRecordingAPI().Handle("work", func(args []any) (time.Duration, any, error) {
		n := args[0].(int)
		return latency[n], n, nil
	})
	th := newTestThrottle(t, api.Operations(), WithMaxParallelCalls(2))

	f1 := mustCall(t, th, "work", 1)
	f2 := mustCall(t, th, "work", 2)
	f3 := mustCall(t, th, "work", 3)

	_, err := future.All(f1, f2, f3).Wait(waitCtx(t))
	require.NoError(t, err)

	starts := api.Starts()
	require.Len(t, starts, 3)
	assert.ElementsMatch(t, []any{1, 2}, []any{starts[0].Args[0], starts[1].Args[0]})
	assert.Equal(t, 3, starts[2].Args[0])
	assert.LessOrEqual(t, starts[2].Concurrent, 2)
	assert.GreaterOrEqual(t, starts[2].At.Sub(starts[0].At), 9*time.Millisecond)
	assert.Equal(t, 2, api.Peak())
}

func TestThrottle_Op(t *testing.T) {
	api := testutil.NewRecordingAPI().Handle("echo", testutil.Echo(0))
	th := newTestThrottle(t, api.Operations())

	echo, ok := th.Op("echo")
	require.True(t, ok)

	f, err := echo("hello")
	require.NoError(t, err)
	v, err := f.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	assert.Equal(t, []string{"echo"}, th.Operations())
}

func TestThrottle_ArgsAreCopied(t *testing.T) {
	api := testutil.NewRecordingAPI().Handle("echo", testutil.Echo(0))
	th := newTestThrottle(t, api.Operations(), WithMaxParallelCalls(1))

	args := []any{"original"}
	f := mustCall(t, th, "echo", args...)
	args[0] = "mutated"

	v, err := f.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "original", v)
}

func TestThrottle_OperationsReceiveBaseContext(t *testing.T) {
	type key struct{}
	api := map[string]Operation{
		"peek": func(ctx context.Context, args ...any) (any, error) {
			return ctx.Value(key{}), nil
		},
	}
	base := context.WithValue(context.Background(), key{}, "base")
	th := newTestThrottle(t, api, WithContext(base))

	v, err := mustCall(t, th, "peek").Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "base", v)
}

func TestThrottle_Stats(t *testing.T) {
	api := testutil.NewRecordingAPI().
		Handle("ok", testutil.Echo(0)).
		Handle("fail", testutil.Fail(0, errors.New("nope")))
	th := newTestThrottle(t, api.Operations(), WithIDGenerator(NewFixedGenerator("a", "b", "c")))

	f1 := mustCall(t, th, "ok", 1)
	f2 := mustCall(t, th, "fail")
	f3 := mustCall(t, th, "ok", 3)
	_, _ = future.AllSettled(f1, f2, f3).Wait(waitCtx(t))

	s := th.Stats()
	assert.Equal(t, int64(3), s.Dispatched)
	assert.Equal(t, int64(2), s.Completed)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, 0, s.Queued)
	assert.Equal(t, 0, s.InFlight)
}

func TestThrottle_CloseRejectsQueued(t *testing.T) {
	release := make(chan struct{})
	api := map[string]Operation{
		"block": func(ctx context.Context, args ...any) (any, error) {
			<-release
			return args[0], nil
		},
	}
	th := newTestThrottle(t, api, WithMaxParallelCalls(1))

	var rejected []any
	f, err := NewFilter(th, OnReject(func(err error, args []any) {
		rejected = append(rejected, args[0])
	}))
	require.NoError(t, err)

	first := mustCall(t, th, "block", 1)
	queued := mustCall(t, th, "block", 2)

	require.Eventually(t, func() bool { return th.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = th.Close()
		close(closed)
	}()

	_, err = queued.Wait(waitCtx(t))
	assert.True(t, IsClosed(err))

	close(release)
	<-closed

	v, err := first.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	rejections, err := f.Rejections()
	require.NoError(t, err)
	require.Len(t, rejections, 1)
	assert.True(t, IsClosed(rejections[0]))
	assert.Equal(t, []any{2}, rejected)
}

func TestThrottle_CallAfterClose(t *testing.T) {
	th := newTestThrottle(t, map[string]Operation{
		"noop": func(context.Context, ...any) (any, error) { return nil, nil },
	})

	require.NoError(t, th.Close())
	require.NoError(t, th.Close(), "Close is idempotent")

	_, err := th.Call("noop")
	assert.True(t, IsClosed(err))

	_, err = NewFilter(th)
	assert.Equal(t, ErrCodeInvalidThrottle, CodeOf(err))
}

func TestPacingInterval(t *testing.T) {
	cases := []struct {
		perSecond float64
		want      time.Duration
	}{
		{math.Inf(1), 0},
		{10, 100 * time.Millisecond},
		{1000, time.Millisecond},
		{2000, 500 * time.Microsecond},
		{2001, 0},
		{1e6, 0},
		{0.5, 2 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, pacingInterval(tc.perSecond), "perSecond=%v", tc.perSecond)
	}
}

func TestPacer_SpacesReservations(t *testing.T) {
	p := newPacer(10)
	now := time.Now()

	assert.Equal(t, time.Duration(0), p.Reserve(now), "first token is free")
	assert.InDelta(t, float64(100*time.Millisecond), float64(p.Reserve(now)), float64(time.Millisecond))
}

func TestPacer_Unbounded(t *testing.T) {
	p := newPacer(math.Inf(1))
	now := time.Now()
	for i := 0; i < 100; i++ {
		assert.Equal(t, time.Duration(0), p.Reserve(now))
	}
}

// reply is shorthand for an immediate testutil.Reply.
func reply(v any) testutil.Behavior {
	return testutil.Reply(0, v)
}
