package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes content to name inside dir and returns its path.
func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const inlineProgram = `
program:
  name: P
  functions:
    - name: main
      body:
        - { op: return }
`

func TestLoadScenario_Inline(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/hello_pe.yaml")
	require.NoError(t, err)

	assert.Equal(t, "hello_pe", sc.Name)
	assert.Equal(t, "x86_64-pe-msvc", sc.Target)
	require.NotNil(t, sc.Program)
	assert.Equal(t, "Hello", sc.Program.Name)
	assert.Empty(t, sc.ProgramFile)
	assert.Equal(t, "pe-x64", sc.Expect.Backend)
	assert.Equal(t, []string{"main"}, sc.Expect.Functions)
}

func TestLoadScenario_ResolvesRelativePaths(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/puts_override.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "programs", "polyasm.yaml"), sc.Config)

	sc, err = LoadScenario("testdata/scenarios/const42_wasi.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "programs", "const42.cue"), sc.ProgramFile)
	assert.Nil(t, sc.Program)
}

func TestLoadScenario_LoadsProgramFile(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/const42_wasi.yaml")
	require.NoError(t, err)

	p, err := sc.loadProgram()
	require.NoError(t, err)
	assert.Equal(t, "Const42", p.Name)
	require.Len(t, p.Functions, 1)
	assert.Equal(t, "_start", p.Functions[0].Name)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/does_not_exist.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: "name: x\ntarget: wasi\nexpect:\n  backend: wasi\n  contains_hexes: [\"00\"]\n" + inlineProgram,
			wantErr: "failed to parse YAML",
		},
		{
			name:    "missing name",
			content: "target: wasi\nexpect:\n  backend: wasi\n" + inlineProgram,
			wantErr: "name is required",
		},
		{
			name:    "missing target",
			content: "name: x\nexpect:\n  backend: wasi\n" + inlineProgram,
			wantErr: "target is required",
		},
		{
			name:    "bad target",
			content: "name: x\ntarget: z80-pe-msvc\nexpect:\n  backend: wasi\n" + inlineProgram,
			wantErr: "target:",
		},
		{
			name:    "no program",
			content: "name: x\ntarget: wasi\nexpect:\n  backend: wasi\n",
			wantErr: "one of program or program_file is required",
		},
		{
			name:    "both programs",
			content: "name: x\ntarget: wasi\nprogram_file: p.cue\nexpect:\n  backend: wasi\n" + inlineProgram,
			wantErr: "mutually exclusive",
		},
		{
			name:    "program file missing",
			content: "name: x\ntarget: wasi\nprogram_file: nowhere.cue\nexpect:\n  backend: wasi\n",
			wantErr: "program file not found",
		},
		{
			name:    "config missing",
			content: "name: x\ntarget: wasi\nconfig: nowhere.yaml\nexpect:\n  backend: wasi\n" + inlineProgram,
			wantErr: "config file not found",
		},
		{
			name:    "empty expect",
			content: "name: x\ntarget: wasi\n" + inlineProgram,
			wantErr: "at least one expectation",
		},
		{
			name:    "error with output expectations",
			content: "name: x\ntarget: wasi\nexpect:\n  error: UNKNOWN_SYMBOL\n  backend: wasi\n" + inlineProgram,
			wantErr: "cannot be combined",
		},
		{
			name:    "bad hex",
			content: "name: x\ntarget: wasi\nexpect:\n  contains_hex: [\"zz\"]\n" + inlineProgram,
			wantErr: "expect.contains_hex[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, t.TempDir(), "s.yaml", tt.content)
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_AllTestdataValid(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			sc, err := LoadScenario(f)
			require.NoError(t, err)
			base := filepath.Base(f)
			assert.Equal(t, base[:len(base)-len(filepath.Ext(base))], sc.Name, "file name matches scenario name")
		})
	}
}
