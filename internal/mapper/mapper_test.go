package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/polyasm/internal/target"
)

func TestDefaultPrintMappings(t *testing.T) {
	m := Default()

	assert.Equal(t, "printf", m.Map(target.WindowsX64, "__builtin_print"))
	assert.Equal(t, "printf", m.Map(target.WindowsX86, "__builtin_print"))
	assert.Equal(t, "System.Console.WriteLine", m.Map(target.CLR4, "__builtin_print"))
	assert.Equal(t, "java.lang.System.out.println", m.Map(target.JVM8, "__builtin_print"))
	assert.Equal(t, "fd_write", m.Map(target.WASIP1, "__builtin_print"))
}

func TestDefaultHeapMappingsKeepArity(t *testing.T) {
	m := Default()

	// msvcrt malloc/free take the size or pointer alone, like the IR call.
	assert.Equal(t, "malloc", m.Map(target.WindowsX64, "malloc"))
	assert.Equal(t, "free", m.Map(target.WindowsX86, "free"))
	assert.Equal(t, "malloc", m.Map(target.WASIP1, "malloc"))
}

func TestMapFallsThrough(t *testing.T) {
	m := Default()

	assert.Equal(t, "my_helper", m.Map(target.WindowsX64, "my_helper"))
	assert.Equal(t, "free", m.Map(target.JVM8, "free"), "no JVM row for free")
	assert.Equal(t, "malloc", m.Map(target.Target{Arch: target.ArchARM64, Abi: target.AbiELF}, "malloc"))
}

func TestTagFor(t *testing.T) {
	tests := []struct {
		target target.Target
		tag    Tag
	}{
		{target.WindowsX64, TagPE},
		{target.WindowsX86, TagPE},
		{target.JVM8, TagJVM},
		{target.CLR4, TagMSIL},
		{target.WASIP1, TagWASI},
		{target.Target{Arch: target.ArchWASM64}, TagWASI},
	}
	for _, tt := range tests {
		got, ok := TagFor(tt.target)
		assert.True(t, ok, tt.target.String())
		assert.Equal(t, tt.tag, got, tt.target.String())
	}

	_, ok := TagFor(target.Target{Arch: target.ArchARM32, Abi: target.AbiELF})
	assert.False(t, ok)
}

func TestOverrideLayersWithoutMutating(t *testing.T) {
	base := Default()
	over := base.Override(map[string]map[Tag]string{
		"__builtin_print": {TagPE: "puts", TagWASI: ""},
		"sqrt":            {TagMSIL: "System.Math.Sqrt"},
	})

	assert.Equal(t, "puts", over.MapTag(TagPE, "__builtin_print"))
	assert.Equal(t, "__builtin_print", over.MapTag(TagWASI, "__builtin_print"))
	assert.Equal(t, "System.Math.Sqrt", over.MapTag(TagMSIL, "sqrt"))

	assert.Equal(t, "printf", base.MapTag(TagPE, "__builtin_print"))
	assert.False(t, base.IsCanonical("sqrt"))
}

func TestNewCopiesTable(t *testing.T) {
	table := map[string]map[Tag]string{"f": {TagPE: "g"}}
	m := New(table)
	table["f"][TagPE] = "changed"

	assert.Equal(t, "g", m.MapTag(TagPE, "f"))
	assert.Equal(t, []string{"f"}, m.Names())
	assert.True(t, ValidTag("jvm"))
	assert.False(t, ValidTag("elf"))
}
