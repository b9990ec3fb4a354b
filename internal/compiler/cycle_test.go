package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/testutil"
)

func callProgram(edges map[string][]string, order ...string) *ir.Program {
	p := &ir.Program{Name: "Calls"}
	for _, name := range order {
		var body []ir.Instruction
		for _, callee := range edges[name] {
			body = append(body, ir.Call(callee))
		}
		body = append(body, ir.Return())
		p.Functions = append(p.Functions, ir.Function{Name: name, Body: body})
	}
	return p
}

func TestAnalyzeCycles_NoFunctions(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(&ir.Program{Name: "P"}))
}

func TestAnalyzeCycles_Fixtures(t *testing.T) {
	for _, p := range []*ir.Program{testutil.Countdown(), testutil.HelloPrint(), testutil.Arithmetic()} {
		assert.Empty(t, AnalyzeCycles(p), p.Name)
	}
}

func TestAnalyzeCycles_DAG(t *testing.T) {
	p := callProgram(map[string][]string{
		"main": {"a", "b"},
		"a":    {"b"},
	}, "main", "a", "b")
	assert.Empty(t, AnalyzeCycles(p))
}

func TestAnalyzeCycles_SelfRecursion(t *testing.T) {
	p := callProgram(map[string][]string{
		"main": {"fact"},
		"fact": {"fact", "fact"},
	}, "main", "fact")

	warnings := AnalyzeCycles(p)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"fact", "fact"}, warnings[0].Path)
	assert.Equal(t, "warning", warnings[0].Level)
	assert.Contains(t, warnings[0].Message, "Recursive function")
}

func TestAnalyzeCycles_MutualRecursion(t *testing.T) {
	p := callProgram(map[string][]string{
		"main": {"even"},
		"even": {"odd"},
		"odd":  {"even"},
	}, "main", "odd", "even")

	warnings := AnalyzeCycles(p)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"even", "odd", "even"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "even → odd → even")
}

func TestAnalyzeCycles_ExternalCallsIgnored(t *testing.T) {
	p := callProgram(map[string][]string{
		"main": {"__builtin_print", "printf"},
	}, "main")
	assert.Empty(t, AnalyzeCycles(p))
}

func TestAnalyzeCycles_MultipleSorted(t *testing.T) {
	p := callProgram(map[string][]string{
		"z": {"z"},
		"b": {"c"},
		"c": {"b"},
	}, "z", "b", "c")

	warnings := AnalyzeCycles(p)
	require.Len(t, warnings, 2)
	assert.Equal(t, "b", warnings[0].Path[0])
	assert.Equal(t, "z", warnings[1].Path[0])
}
