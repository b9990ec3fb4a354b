package compiler

import (
	"errors"
	"os"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/testutil"
)

func TestCompileProgramBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		program: {
			name: "Const42"
			functions: "_start": {
				returns: "int32"
				locals: ["int32"]
				body: [
					{op: "load_constant", value: int32: 42},
					{op: "store_local", index: 0},
					{op: "load_local", index: 0},
					{op: "return"},
				]
			}
		}
	`)
	require.NoError(t, v.Err())

	p, err := CompileProgram(v.LookupPath(cue.ParsePath("program")))
	require.NoError(t, err)
	assert.Equal(t, testutil.ConstReturn(), p)
	assert.Equal(t, ir.MustProgramHash(testutil.ConstReturn()), ir.MustProgramHash(p))
}

func TestCompileSourceFile(t *testing.T) {
	src, err := os.ReadFile("testdata/countdown.cue")
	require.NoError(t, err)

	p, err := CompileSource("countdown.cue", src)
	require.NoError(t, err)

	assert.Equal(t, "Countdown", p.Name)
	require.Len(t, p.Globals, 1)
	assert.Equal(t, ir.Global{Name: "ticks", Type: ir.Int64, Init: ir.Int64Const(0)}, p.Globals[0])

	require.Len(t, p.Functions, 2)
	assert.Equal(t, "tick", p.Functions[0].Name, "declaration order is kept")
	main := p.Functions[1]
	assert.Equal(t, "main", main.Name)
	assert.Nil(t, main.Return)
	assert.Equal(t, []ir.Type{ir.Int32}, main.Locals)
	assert.Equal(t, ir.Label("loop"), main.Body[2])
	assert.Equal(t, ir.BranchIfTrue("loop"), main.Body[9])
	assert.Equal(t, ir.Call("__builtin_exit"), main.Body[11])

	require.NoError(t, p.Validate())
	assert.Empty(t, Validate(p, nil))
}

func TestCompileOperands(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want ir.Instruction
	}{
		{"string", `{op: "string_constant", text: "hi\n"}`, ir.StringConstant("hi\n")},
		{"comment", `{op: "comment", text: "note"}`, ir.Comment("note")},
		{"argument", `{op: "load_argument", index: 1}`, ir.LoadArgument(1)},
		{"address", `{op: "load_address", index: 2}`, ir.LoadAddress(2)},
		{"branch", `{op: "branch", label: "end"}`, ir.Branch("end")},
		{"field", `{op: "store_field", symbol: "total"}`, ir.StoreField("total")},
		{"new object", `{op: "new_object", symbol: "Thing"}`, ir.NewObject("Thing")},
		{"indirect", `{op: "load_indirect", type: "int64"}`, ir.LoadIndirect(ir.Int64)},
		{"convert", `{op: "convert", from: "int32", type: "float64"}`, ir.Convert(ir.Int32, ir.Float64)},
		{"camel case op", `{op: "BitwiseXor"}`, ir.BitwiseXor()},
		{"int8", `{op: "load_constant", value: int8: -3}`, ir.LoadConstant(ir.Int8Const(-3))},
		{"int64", `{op: "load_constant", value: int64: 5000000000}`, ir.LoadConstant(ir.Int64Const(5000000000))},
		{"float64", `{op: "load_constant", value: float64: 2.5}`, ir.LoadConstant(ir.Float64Const(2.5))},
		{"bool", `{op: "load_constant", value: bool: true}`, ir.LoadConstant(ir.BoolConst(true))},
		{"string const", `{op: "load_constant", value: string: "x"}`, ir.LoadConstant(ir.StringConst("x"))},
		{"null", `{op: "load_constant", value: "null": true}`, ir.LoadConstant(ir.Null)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := `program: { name: "P", functions: f: { params: ["int32", "int32"], body: [` + tt.src + `] } }`
			p, err := CompileSource("op.cue", []byte(src))
			require.NoError(t, err)
			require.Len(t, p.Functions[0].Body, 1)
			assert.Equal(t, tt.want, p.Functions[0].Body[0])
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"no program", `other: 1`, "program"},
		{"no name", `program: functions: f: body: []`, "name"},
		{"no functions", `program: name: "P"`, "functions"},
		{"no body", `program: { name: "P", functions: f: {} }`, "functions.f.body"},
		{"unknown op", `program: { name: "P", functions: f: body: [{op: "jump"}] }`, "functions.f.body[0].op"},
		{"missing index", `program: { name: "P", functions: f: body: [{op: "load_local"}] }`, "functions.f.body[0].index"},
		{"missing label", `program: { name: "P", functions: f: body: [{op: "branch"}] }`, "functions.f.body[0].label"},
		{"negative index", `program: { name: "P", functions: f: body: [{op: "load_local", index: -1}] }`, "functions.f.body[0].index"},
		{"int8 overflow", `program: { name: "P", functions: f: body: [{op: "load_constant", value: int8: 300}] }`, "functions.f.body[0].value.int8"},
		{"two constants", `program: { name: "P", functions: f: body: [{op: "load_constant", value: {int32: 1, int64: 1}}] }`, "functions.f.body[0].value"},
		{"bad type", `program: { name: "P", functions: f: { returns: "quad", body: [] } }`, "functions.f.returns"},
		{"bad global", `program: { name: "P", globals: g: {}, functions: f: body: [] }`, "globals.g.type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSource("bad.cue", []byte(tt.src))
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %T: %v", err, err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileErrorPosition(t *testing.T) {
	src := "program: {\n\tname: \"P\"\n\tfunctions: f: {\n\t\treturns: \"quad\"\n\t\tbody: []\n\t}\n}\n"
	_, err := CompileSource("pos.cue", []byte(src))
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Pos.IsValid())
	assert.Equal(t, 4, ce.Pos.Line())
	assert.Contains(t, err.Error(), "pos.cue:4:")
}

func TestCompileSyntaxError(t *testing.T) {
	_, err := CompileSource("syntax.cue", []byte("program: {"))
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "cue", ce.Field)
}

func TestCompileErrorWithoutPosition(t *testing.T) {
	err := &CompileError{Field: "name", Message: "name is required"}
	assert.Equal(t, "name: name is required", err.Error())
}
