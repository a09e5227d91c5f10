package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "valid.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.Name)
	assert.Equal(t, 4, cfg.MaxParallelCalls)
	assert.Equal(t, 50.0, cfg.MaxCallsPerSecond)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
	assert.Equal(t, 12, cfg.Workload.Calls)
	assert.Equal(t, "fetch", cfg.Workload.Method)
	assert.Equal(t, 15*time.Millisecond, cfg.Workload.LatencyDuration())
	assert.Equal(t, 0.25, cfg.Workload.ErrorRate)
	assert.Equal(t, []string{"x", "y", "z"}, cfg.Workload.Keys)
	assert.Equal(t, "x", cfg.Workload.FilterKey)
}

func TestLoad_CUE(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "valid.cue"))
	require.NoError(t, err)

	assert.Equal(t, "inventory", cfg.Name)
	assert.Equal(t, 2, cfg.MaxParallelCalls)
	assert.Equal(t, 0.5, cfg.MaxCallsPerSecond)
	assert.Equal(t, 3, cfg.Workload.Calls)
	assert.Equal(t, time.Second, cfg.Workload.LatencyDuration())
	assert.Equal(t, "call", cfg.Workload.Method, "schema default")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "minimal.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "minimal", cfg.Name)
	assert.Zero(t, cfg.MaxParallelCalls)
	assert.Zero(t, cfg.MaxCallsPerSecond)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Workload.Calls)
	assert.Equal(t, "call", cfg.Workload.Method)
	assert.Equal(t, time.Duration(0), cfg.Workload.LatencyDuration())
	assert.Empty(t, cfg.Workload.Keys)
}

func TestParse_EmptyYAMLUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil, ".yaml")
	require.NoError(t, err)
	assert.Equal(t, "throttle", cfg.Name)
}

func TestLoad_Invalid(t *testing.T) {
	files := []string{
		"unknown_field.yaml",
		"negative_parallel.yaml",
		"bad_latency.cue",
		"bad_error_rate.yaml",
	}
	for _, name := range files {
		t.Run(name, func(t *testing.T) {
			_, err := Load(filepath.Join("testdata", name))
			require.Error(t, err)

			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, filepath.Join("testdata", name), cerr.Path)
		})
	}
}

func TestParse_CUERejectsUnknownField(t *testing.T) {
	_, err := Parse([]byte(`name: "a", burst: 3`), ".cue")
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParse_UnsupportedFormat(t *testing.T) {
	_, err := Parse([]byte(`{}`), ".json")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestConfig_ThrottleOptions(t *testing.T) {
	unbounded := &Config{Name: "a"}
	assert.Len(t, unbounded.ThrottleOptions(), 1, "zero limits add no options")

	limited := &Config{Name: "a", MaxParallelCalls: 3, MaxCallsPerSecond: 20}
	assert.Len(t, limited.ThrottleOptions(), 3)
}

func TestWorkload_Key(t *testing.T) {
	w := Workload{Keys: []string{"x", "y"}}
	assert.Equal(t, "x", w.Key(0))
	assert.Equal(t, "y", w.Key(1))
	assert.Equal(t, "x", w.Key(2))

	assert.Equal(t, "k7", Workload{}.Key(7))
}
