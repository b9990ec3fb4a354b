package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	for _, tt := range []Target{WindowsX64, WindowsX86, JVM8, CLR4, WASIP1} {
		t.Run(tt.String(), func(t *testing.T) {
			got, err := Parse(tt.String())
			require.NoError(t, err)
			assert.Equal(t, tt, got)
		})
	}
}

func TestParseAliasesAndPartials(t *testing.T) {
	tests := map[string]Target{
		"windows":          WindowsX64,
		"win32":            WindowsX86,
		"WASI":             WASIP1,
		"amd64-pe":         {Arch: ArchX86_64, Abi: AbiPE},
		"jvm-class-jvm":    {Arch: ArchJVM, Abi: AbiJavaAssembly, Api: JvmRuntime(0)},
		"clr-il-clr4":      CLR4,
		"arm64":            {Arch: ArchARM64},
		"wasm32-wasm-wasi": WASIP1,
	}
	for in, want := range tests {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "z80", "x86-coff", "jvm-jasm-jvmX", "a-b-c-d"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestScoreRubric(t *testing.T) {
	tests := []struct {
		name      string
		requested Target
		want      float32
	}{
		{"exact", JVM8, 100},
		{"any version", Target{Arch: ArchJVM, Abi: AbiJavaAssembly, Api: JvmRuntime(0)}, 100},
		{"other version", Target{Arch: ArchJVM, Abi: AbiJavaAssembly, Api: JvmRuntime(17)}, 30},
		{"api unknown", Target{Arch: ArchJVM, Abi: AbiJavaAssembly}, 30},
		{"abi unknown", Target{Arch: ArchJVM}, 10},
		{"abi mismatch", Target{Arch: ArchJVM, Abi: AbiPE}, -1},
		{"arch mismatch", WindowsX64, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(JVM8, tt.requested))
		})
	}
}
