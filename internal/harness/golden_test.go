package harness

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyasm/internal/backend"
)

func TestRunWithGolden_UnsupportedTarget(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/unsupported_target.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, sc)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSnapshot_Error(t *testing.T) {
	sc := &Scenario{Name: "bad", Target: "arm64"}
	result := NewResult()
	result.BuildError = backend.NewError(backend.ErrUnsupportedTarget, "", "no compatible backend")

	assert.Equal(t, "scenario: bad\ntarget: arm64\nerror: UNSUPPORTED_TARGET\n", string(Snapshot(sc, result)))
}

func TestSnapshot_Output(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/const42_wasi.yaml")
	require.NoError(t, err)
	result, err := Run(sc)
	require.NoError(t, err)

	snap := string(Snapshot(sc, result))
	assert.True(t, strings.HasPrefix(snap, "scenario: const42_wasi\ntarget: wasm32-wat-wasi\nbackend: wasi\nprogram_hash: "))
	assert.Contains(t, snap, "\n== Const42.wasm (")
	// hex.Dump of the module header
	assert.Contains(t, snap, "00 61 73 6d 01 00 00 00")

	again, err := Run(sc)
	require.NoError(t, err)
	assert.Equal(t, snap, string(Snapshot(sc, again)), "snapshots are deterministic")
}

func TestSnapshot_TextFilesVerbatim(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/hello_msil.yaml")
	require.NoError(t, err)
	result, err := Run(sc)
	require.NoError(t, err)

	snap := string(Snapshot(sc, result))
	assert.Contains(t, snap, "\n== Hello.msil (")
	assert.Contains(t, snap, ".entrypoint")
	assert.True(t, strings.HasSuffix(snap, "\n"))
}

func TestGoldenPath(t *testing.T) {
	got := GoldenPath(filepath.Join("testdata", "scenarios", "hello_pe.yaml"))
	assert.Equal(t, filepath.Join("testdata", "scenarios", "golden", "hello_pe.golden"), got)
}

func TestUpdateAndCompareGolden(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golden", "x.golden")

	_, err := CompareGolden(path, []byte("a"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, UpdateGolden(path, []byte("snapshot\n")))

	ok, err := CompareGolden(path, []byte("snapshot\n"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CompareGolden(path, []byte("changed\n"))
	require.NoError(t, err)
	assert.False(t, ok)
}
