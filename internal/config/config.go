// Package config loads throttle configuration files.
//
// Files are YAML (.yaml, .yml) or CUE (.cue). Both are checked against the
// embedded CUE schema, which also supplies defaults, before being decoded
// into a Config.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/throttle"
)

//go:embed schema.cue
var schemaSource string

// Config describes one throttle and the synthetic workload the CLI drives
// through it.
type Config struct {
	Name              string   `yaml:"name" json:"name"`
	MaxParallelCalls  int      `yaml:"max_parallel_calls" json:"max_parallel_calls"`
	MaxCallsPerSecond float64  `yaml:"max_calls_per_second" json:"max_calls_per_second"`
	Log               Log      `yaml:"log" json:"log"`
	Workload          Workload `yaml:"workload" json:"workload"`
}

// Log configures the CLI logger.
type Log struct {
	Level string `yaml:"level" json:"level"`
}

// Workload describes the calls issued by `throttle run`.
//
// Call i uses Keys[i % len(Keys)] as its first argument, or "k<i>" when no
// keys are given. A filter tracks calls whose key equals FilterKey.
type Workload struct {
	Calls     int      `yaml:"calls" json:"calls"`
	Method    string   `yaml:"method" json:"method"`
	Latency   string   `yaml:"latency" json:"latency"`
	ErrorRate float64  `yaml:"error_rate" json:"error_rate"`
	Keys      []string `yaml:"keys" json:"keys"`
	FilterKey string   `yaml:"filter_key" json:"filter_key"`
}

// Error reports a configuration file that could not be loaded.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrUnsupportedFormat is returned for files that are neither YAML nor CUE.
var ErrUnsupportedFormat = errors.New("unsupported config format (want .yaml, .yml or .cue)")

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return cfg, nil
}

// Parse validates data in the format named by ext (".yaml", ".yml" or ".cue").
func Parse(data []byte, ext string) (*Config, error) {
	ctx := cuecontext.New()

	var v cue.Value
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		raw, err := decodeYAML(data)
		if err != nil {
			return nil, err
		}
		v = ctx.Encode(raw)
	case ".cue":
		v = ctx.CompileBytes(data)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	schema := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &cfg, nil
}

// decodeYAML checks data strictly against Config, then returns it as a
// generic map for schema validation.
func decodeYAML(data []byte) (map[string]any, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var strict Config
	if err := dec.Decode(&strict); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return raw, nil
}

// ThrottleOptions maps the config to throttle options.
// Zero limits are left unset, which the throttle treats as unbounded.
func (c *Config) ThrottleOptions() []throttle.Option {
	opts := []throttle.Option{throttle.WithName(c.Name)}
	if c.MaxParallelCalls > 0 {
		opts = append(opts, throttle.WithMaxParallelCalls(c.MaxParallelCalls))
	}
	if c.MaxCallsPerSecond > 0 {
		opts = append(opts, throttle.WithMaxCallsPerSecond(c.MaxCallsPerSecond))
	}
	return opts
}

// LogLevel returns the configured slog level.
func (c *Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LatencyDuration returns the workload latency. The schema has already
// checked the format.
func (w Workload) LatencyDuration() time.Duration {
	d, err := time.ParseDuration(w.Latency)
	if err != nil {
		return 0
	}
	return d
}

// Key returns the first argument of call i.
func (w Workload) Key(i int) string {
	if len(w.Keys) == 0 {
		return fmt.Sprintf("k%d", i)
	}
	return w.Keys[i%len(w.Keys)]
}
