package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetsListsBackends(t *testing.T) {
	out, err := execute(t, "targets")
	require.NoError(t, err)

	for _, s := range []string{"jvm", "msil", "pe-x64", "pe-x86", "wasi", "x86_64-pe-msvc", "wasm32-wat-wasi", ".class"} {
		assert.Contains(t, out, s)
	}
}

func TestTargetsJSON(t *testing.T) {
	out, err := execute(t, "targets", "--format", "json")
	require.NoError(t, err)

	var result TargetsResult
	decodeData(t, out, &result)
	require.Len(t, result.Backends, 5)
	assert.Equal(t, BackendInfo{Name: "jvm", Primary: "jvm-jasm-jvm8", Extension: "class"}, result.Backends[0])
	assert.Empty(t, result.Scores)
}

func TestTargetsScores(t *testing.T) {
	out, err := execute(t, "targets", "--target", "x86-pe", "--format", "json")
	require.NoError(t, err)

	var result TargetsResult
	decodeData(t, out, &result)
	assert.Equal(t, "pe-x86", result.Selected)
	require.Len(t, result.Scores, 5)
	for _, s := range result.Scores {
		if s.Backend == "pe-x86" {
			assert.Equal(t, float32(30), s.Score)
			assert.True(t, s.Selected)
			continue
		}
		assert.True(t, s.Refused, s.Backend)
		assert.False(t, s.Selected, s.Backend)
	}

	out, err = execute(t, "targets", "--target", "wasi")
	require.NoError(t, err)
	assert.Contains(t, out, "selected")
	assert.Contains(t, out, "wasm32-wat-wasi selects wasi")
}

func TestTargetsNoBackend(t *testing.T) {
	out, err := execute(t, "targets", "--target", "arm64")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "No backend accepts")
	assert.Contains(t, out, "UNSUPPORTED_TARGET")
}

func TestTargetsInvalidTarget(t *testing.T) {
	out, err := execute(t, "targets", "--target", "z80")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeInvalidTarget)
}
