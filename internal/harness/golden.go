package harness

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
)

// textExtensions are output files snapshotted verbatim instead of as a
// hex dump.
var textExtensions = map[string]bool{".msil": true}

// Snapshot renders a scenario result for golden comparison: the
// dispatch outcome, then every output file in name order.
func Snapshot(scenario *Scenario, result *Result) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", scenario.Name)
	fmt.Fprintf(&buf, "target: %s\n", scenario.Target)

	if result.BuildError != nil && result.Backend == "" {
		code, _ := backend.CodeOf(result.BuildError)
		fmt.Fprintf(&buf, "error: %s\n", code)
		return buf.Bytes()
	}

	fmt.Fprintf(&buf, "backend: %s\n", result.Backend)
	if result.Record != nil {
		fmt.Fprintf(&buf, "program_hash: %s\n", result.Record.ProgramHash)
	}

	out := backend.Output{Files: result.Files}
	for _, name := range out.FileNames() {
		data := result.Files[name]
		fmt.Fprintf(&buf, "\n== %s (%d bytes, %s)\n", name, len(data), ir.ArtifactHash(data))
		if textExtensions[strings.ToLower(filepath.Ext(name))] {
			buf.Write(data)
			if len(data) > 0 && data[len(data)-1] != '\n' {
				buf.WriteByte('\n')
			}
			continue
		}
		buf.WriteString(hex.Dump(data))
	}
	return buf.Bytes()
}

// GoldenPath returns the golden file for a scenario file:
// <dir>/golden/<name>.golden.
func GoldenPath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// UpdateGolden writes snapshot as the golden file at path.
func UpdateGolden(path string, snapshot []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, snapshot, 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden reports whether snapshot matches the golden file at
// path. A missing golden file is reported as os.ErrNotExist.
func CompareGolden(path string, snapshot []byte) (bool, error) {
	golden, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return bytes.Equal(golden, snapshot), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, Snapshot(scenario, result))
	return result, nil
}

// AssertGolden compares a snapshot against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, snapshot []byte) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
}
