package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: const_wasi
target: wasi
program:
  name: Const
  functions:
    - name: _start
      returns: int32
      locals: [int32]
      body:
        - { op: load_constant, value: { int32: 42 } }
        - { op: store_local, index: 0 }
        - { op: load_local, index: 0 }
        - { op: return }
expect:
  backend: wasi
  file: Const.wasm
  contains_hex: ["41 2a 21 00 20 00 0f 0b"]
  functions: [_start]
`

const failingScenario = `name: wrong_backend
target: jvm
program:
  name: Const
  functions:
    - name: main
      body:
        - { op: return }
expect:
  backend: msil
`

const errorScenario = `name: no_arm
target: arm64
program:
  name: Const
  functions:
    - name: main
      body:
        - { op: return }
expect:
  error: UNSUPPORTED_TARGET
`

// scenarioDir writes the given files into a fresh directory.
func scenarioDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandPasses(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"const_wasi.yaml": passingScenario,
		"no_arm.yaml":     errorScenario,
	})

	out, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "const_wasi")
	assert.Contains(t, out, "no_arm")
	assert.Contains(t, out, "Test Summary: 2 passed, 0 failed, 2 total")
	assert.Contains(t, out, "All scenarios passed")
}

func TestTestCommandFailure(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"const_wasi.yaml":    passingScenario,
		"wrong_backend.yaml": failingScenario,
	})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Assertion failed: backend")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandJSON(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"const_wasi.yaml":    passingScenario,
		"wrong_backend.yaml": failingScenario,
	})

	out, err := execute(t, "test", dir, "--format", "json")
	require.Error(t, err)

	var result TestResult
	resp := decodeData(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Passed)
	require.Len(t, result.Scenarios, 2)
	assert.Equal(t, "const_wasi", result.Scenarios[0].Name)
	assert.True(t, result.Scenarios[0].Pass)
	assert.False(t, result.Scenarios[1].Pass)
}

func TestTestCommandFilter(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"const_wasi.yaml":    passingScenario,
		"wrong_backend.yaml": failingScenario,
	})

	out, err := execute(t, "test", dir, "--filter", "const_*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	_, err = execute(t, "test", dir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandGolden(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"const_wasi.yaml": passingScenario})
	golden := filepath.Join(dir, "golden", "const_wasi.golden")

	out, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "const_wasi (golden updated)")

	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), "scenario: const_wasi\ntarget: wasi\nbackend: wasi\n")

	_, err = execute(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte("stale\n"), 0644))
	out, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"broken.yaml": "name: broken\ntarget: wasi\n"})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "broken")
	assert.Contains(t, out, "failed to load scenario")
}

func TestFindScenarioFilesSkipsGolden(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"a.yaml": "", "b.yml": "", "c.txt": ""})
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "a.yaml"), nil, 0644))

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yml")}, files)
}
