package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/throttle"
	"github.com/roach88/throttle/internal/config"
)

// ValidationResult is the JSON payload of a successful validate.
type ValidationResult struct {
	Valid    bool           `json:"valid"`
	Config   *config.Config `json:"config"`
	Interval string         `json:"interval"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a throttle config file",
		Long: `Validate a YAML or CUE throttle config against the schema and
check that it builds a throttle.

Exit codes:
  0 - Config is valid
  1 - Config is invalid
  2 - Config file could not be read`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("config file not found: %s", path), nil)
			return WrapExitError(ExitCommandError, "config file not found", err)
		}
		_ = formatter.Error(ErrCodeInvalidConfig, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid config", err)
	}
	formatter.VerboseLog("Loaded %s", path)

	logger := opts.logger(cmd.ErrOrStderr(), cfg.LogLevel())
	th, err := throttle.New(newWorkloadAPI(cfg.Workload).Operations(),
		append(cfg.ThrottleOptions(), throttle.WithLogger(logger))...)
	if err != nil {
		_ = formatter.Error(ErrCodeThrottle, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid config", err)
	}
	defer th.Close()

	result := ValidationResult{Valid: true, Config: cfg, Interval: th.Interval().String()}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	writeValidateText(cmd.OutOrStdout(), path, th, cfg)
	return nil
}

func writeValidateText(w io.Writer, path string, th *throttle.Throttle, cfg *config.Config) {
	fmt.Fprintf(w, "✓ %s is valid\n", path)
	fmt.Fprintf(w, "  throttle:      %s\n", th.Name())
	fmt.Fprintf(w, "  max parallel:  %s\n", limitText(cfg.MaxParallelCalls > 0, fmt.Sprint(th.MaxParallelCalls())))
	fmt.Fprintf(w, "  max per sec:   %s\n", limitText(cfg.MaxCallsPerSecond > 0, fmt.Sprint(cfg.MaxCallsPerSecond)))
	fmt.Fprintf(w, "  interval:      %s\n", th.Interval())
	fmt.Fprintf(w, "  operations:    %s\n", strings.Join(th.Operations(), ", "))
}

func limitText(set bool, v string) string {
	if !set {
		return "unbounded"
	}
	return v
}
