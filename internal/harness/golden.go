package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenPath returns where the golden trace for scenarioFile lives:
// golden/<name>.golden next to the scenario.
func GoldenPath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// WriteGolden stores the result's canonical trace as the golden file for
// scenarioFile.
func WriteGolden(scenarioFile string, result *Result) error {
	data, err := result.Trace.Canonical()
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}

	path := GoldenPath(scenarioFile)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden reports whether the result's canonical trace matches the
// golden file for scenarioFile. A missing golden file is reported through
// os.ErrNotExist.
func CompareGolden(scenarioFile string, result *Result) (bool, error) {
	want, err := os.ReadFile(GoldenPath(scenarioFile))
	if err != nil {
		return false, err
	}
	got, err := result.Trace.Canonical()
	if err != nil {
		return false, fmt.Errorf("failed to marshal trace: %w", err)
	}
	return string(want) == string(got), nil
}

// RunWithGolden executes a scenario and compares its canonical trace with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against
// testdata/golden/{name}.golden without re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := result.Trace.Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
