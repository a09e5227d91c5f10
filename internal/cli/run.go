package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/throttle"
	"github.com/roach88/throttle/future"
	"github.com/roach88/throttle/internal/config"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config      string
	MetricsAddr string
}

// RunSummary is what `throttle run` reports.
type RunSummary struct {
	Throttle       string         `json:"throttle"`
	Calls          int            `json:"calls"`
	Fulfilled      int            `json:"fulfilled"`
	Rejected       int            `json:"rejected"`
	PeakInFlight   int            `json:"peak_in_flight"`
	Elapsed        time.Duration  `json:"elapsed_ns"`
	CallsPerSecond float64        `json:"calls_per_second"`
	Interrupted    bool           `json:"interrupted,omitempty"`
	Filter         *FilterSummary `json:"filter,omitempty"`
}

// FilterSummary reports the workload filter.
type FilterSummary struct {
	Key        string `json:"key"`
	Tracked    int    `json:"tracked"`
	Results    int    `json:"results"`
	Rejections int    `json:"rejections"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the configured workload through a throttle",
		Long: `Build a throttle from a config file and push its synthetic workload
through it, then report what happened.

With --metrics-addr, Prometheus metrics are served on /metrics while the
workload runs. Ctrl-C closes the throttle: queued calls are rejected and
in-flight calls are cancelled.

Example:
  throttle run --config throttle.yaml
  throttle run --config throttle.cue --metrics-addr :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkload(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to YAML or CUE config (required)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runWorkload(opts *RunOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("config file not found: %s", opts.Config), nil)
			return WrapExitError(ExitCommandError, "config file not found", err)
		}
		_ = formatter.Error(ErrCodeInvalidConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	logger := opts.logger(cmd.ErrOrStderr(), cfg.LogLevel())

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics, err := throttle.NewMetrics(reg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	api := newWorkloadAPI(cfg.Workload)
	th, err := throttle.New(api.Operations(), append(cfg.ThrottleOptions(),
		throttle.WithLogger(logger),
		throttle.WithMetrics(metrics),
		throttle.WithContext(ctx),
	)...)
	if err != nil {
		_ = formatter.Error(ErrCodeThrottle, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to build throttle", err)
	}
	defer th.Close()

	filter, err := workloadFilter(th, cfg.Workload, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register filter", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: opts.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("serving metrics", "addr", opts.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	var summary RunSummary
	g.Go(func() error {
		if srv != nil {
			defer srv.Shutdown(context.Background())
		}
		summary = drive(gctx, th, cfg.Workload)
		return nil
	})

	if err := g.Wait(); err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "run failed", err)
	}

	summary.PeakInFlight = th.Stats().PeakInFlight
	if filter != nil {
		summary.Filter, err = summarizeFilter(filter, cfg.Workload.FilterKey)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read filter", err)
		}
	}

	logger.Debug("workload finished",
		"throttle", summary.Throttle,
		"calls", summary.Calls,
		"rejected", summary.Rejected,
		"elapsed", summary.Elapsed,
	)

	if opts.Format == "json" {
		return formatter.Success(summary)
	}
	writeRunText(cmd.OutOrStdout(), summary)
	return nil
}

// drive issues every workload call and waits for them to settle. If ctx ends
// first the throttle is closed, which settles whatever is left.
func drive(ctx context.Context, th *throttle.Throttle, w config.Workload) RunSummary {
	summary := RunSummary{Throttle: th.Name(), Calls: w.Calls}
	start := time.Now()

	futures := make([]*future.Future, 0, w.Calls)
	for i := 0; i < w.Calls; i++ {
		f, err := th.Call(w.Method, workloadArgs(w, i)...)
		if err != nil {
			// Only a concurrent Close refuses calls here.
			futures = append(futures, future.RejectedWith(err))
			continue
		}
		futures = append(futures, f)
	}

	all := future.AllSettled(futures...)
	select {
	case <-all.Done():
	case <-ctx.Done():
		summary.Interrupted = true
		th.Close()
		<-all.Done()
	}

	res, _ := all.Peek()
	for _, s := range res.Value.([]future.Settlement) {
		if s.Fulfilled() {
			summary.Fulfilled++
		} else {
			summary.Rejected++
		}
	}

	summary.Elapsed = time.Since(start)
	if secs := summary.Elapsed.Seconds(); secs > 0 {
		summary.CallsPerSecond = float64(w.Calls) / secs
	}
	return summary
}

// workloadFilter tracks calls whose key is w.FilterKey. It returns nil when
// no key is configured.
func workloadFilter(th *throttle.Throttle, w config.Workload, logger *slog.Logger) (*throttle.Filter, error) {
	if w.FilterKey == "" {
		return nil, nil
	}
	key := w.FilterKey
	return throttle.NewFilter(th,
		throttle.WithSelector(func(args []any, _ *future.Settlement) bool {
			return len(args) > 0 && args[0] == key
		}),
		throttle.OnResult(func(v any, args []any) {
			logger.Debug("filtered call fulfilled", "key", key, "call", args[1], "value", v)
		}),
		throttle.OnReject(func(err error, args []any) {
			logger.Debug("filtered call rejected", "key", key, "call", args[1], "error", err)
		}),
	)
}

func summarizeFilter(f *throttle.Filter, key string) (*FilterSummary, error) {
	tracked, err := f.Tracked()
	if err != nil {
		return nil, err
	}
	results, err := f.Results()
	if err != nil {
		return nil, err
	}
	rejections, err := f.Rejections()
	if err != nil {
		return nil, err
	}
	return &FilterSummary{
		Key:        key,
		Tracked:    tracked,
		Results:    len(results),
		Rejections: len(rejections),
	}, nil
}

func writeRunText(w io.Writer, s RunSummary) {
	status := "✓"
	if s.Interrupted {
		status = "✗ interrupted:"
	}
	fmt.Fprintf(w, "%s %s ran %s calls in %s (%s calls/s)\n",
		status,
		s.Throttle,
		humanize.Comma(int64(s.Calls)),
		s.Elapsed.Round(time.Millisecond),
		humanize.CommafWithDigits(s.CallsPerSecond, 1),
	)
	fmt.Fprintf(w, "  fulfilled:     %s\n", humanize.Comma(int64(s.Fulfilled)))
	fmt.Fprintf(w, "  rejected:      %s\n", humanize.Comma(int64(s.Rejected)))
	fmt.Fprintf(w, "  peak parallel: %d\n", s.PeakInFlight)
	if s.Filter != nil {
		fmt.Fprintf(w, "  filter %q: tracked %d, %d results, %d rejections\n",
			s.Filter.Key, s.Filter.Tracked, s.Filter.Results, s.Filter.Rejections)
	}
}
