package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int64", int64(42), "42"},
		{"negative int", -100, "-100"},
		{"uint32", uint32(7), "7"},
		{"bool true", true, "true"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"array", []any{int64(1), "a", false}, `[1,"a",false]`},
		{"no html escaping", "<a&b>", `"<a&b>"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": 1,
		"alpha": 2,
		"beta":  map[string]any{"y": 1, "x": 2},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"x":2,"y":1},"zebra":1}`, string(result))
}

func TestMarshalCanonicalRejects(t *testing.T) {
	_, err := MarshalCanonical(nil)
	require.Error(t, err)

	_, err = MarshalCanonical(1.5)
	require.Error(t, err)

	_, err = MarshalCanonical(struct{}{})
	require.Error(t, err)
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := "e\u0301"
	composed := "\u00e9"

	a, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	b, err := MarshalCanonical(composed)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(result))

	result, err = MarshalCanonical(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(result))
}

func TestProgramHashDeterministic(t *testing.T) {
	h1, err := ProgramHash(sampleProgram())
	require.NoError(t, err)
	h2, err := ProgramHash(sampleProgram())
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestProgramHashChangesWithBody(t *testing.T) {
	p := sampleProgram()
	base := MustProgramHash(p)

	p.Functions[0].Body[0] = LoadConstant(Int32Const(41))
	assert.NotEqual(t, base, MustProgramHash(p))
}

func TestProgramHashFloatConstants(t *testing.T) {
	p := &Program{Name: "F", Functions: []Function{{
		Name: "f",
		Body: []Instruction{LoadConstant(Float64Const(0.1)), Return()},
	}}}

	h, err := ProgramHash(p)
	require.NoError(t, err)
	assert.Len(t, h, 64)
}

func TestArtifactHashDomainSeparated(t *testing.T) {
	data := []byte{0xCA, 0xFE}
	assert.Equal(t, ArtifactHash(data), ArtifactHash(data))
	assert.NotEqual(t, hashWithDomain(DomainProgram, data), ArtifactHash(data))
}
