package cli

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// quietLevel hides the throttle's lifecycle logs unless --verbose is set.
const quietLevel = slog.LevelWarn

// newLogger builds the CLI logger. JSON output gets a JSON log handler so
// both streams stay machine-readable; text output gets tint, coloured only
// when w is a terminal. Verbose lowers the level to Debug.
func newLogger(w io.Writer, format string, verbose bool, level slog.Level) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerminal(w),
	}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// logger returns the logger for a command, writing to its error stream.
func (o *RootOptions) logger(w io.Writer, level slog.Level) *slog.Logger {
	return newLogger(w, o.Format, o.Verbose, level)
}
