package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func executeValidate(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateCommand_Valid(t *testing.T) {
	path := writeConfig(t, "orders.yaml", `
name: orders
max_parallel_calls: 4
max_calls_per_second: 20
workload:
  method: fetch
`)

	out, err := executeValidate(t, "text", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "throttle:      orders")
	assert.Contains(t, out, "max parallel:  4")
	assert.Contains(t, out, "interval:      50ms")
	assert.Contains(t, out, "operations:    fetch")
}

func TestValidateCommand_UnboundedDefaults(t *testing.T) {
	path := writeConfig(t, "min.cue", `name: "min"`)

	out, err := executeValidate(t, "text", path)
	require.NoError(t, err)
	assert.Contains(t, out, "max parallel:  unbounded")
	assert.Contains(t, out, "max per sec:   unbounded")
	assert.Contains(t, out, "interval:      0s")
}

func TestValidateCommand_JSON(t *testing.T) {
	path := writeConfig(t, "orders.yaml", "name: orders\nmax_calls_per_second: 4\n")

	out, err := executeValidate(t, "json", path)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, "orders", resp.Data.Config.Name)
	assert.Equal(t, "250ms", resp.Data.Interval)
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := writeConfig(t, "bad.yaml", "name: orders\nmax_parallel_calls: -2\n")

	out, err := executeValidate(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E010]")
}

func TestValidateCommand_MissingFile(t *testing.T) {
	out, err := executeValidate(t, "json", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestValidateCommand_MissingArgs(t *testing.T) {
	_, err := executeValidate(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
