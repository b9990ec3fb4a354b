package msil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/testutil"
)

func TestImportInstruction(t *testing.T) {
	tests := []struct {
		line string
		want ir.Instruction
	}{
		{"ldc.i4 40", ir.LoadConstant(ir.Int32Const(40))},
		{"ldc.i4.s -5", ir.LoadConstant(ir.Int32Const(-5))},
		{"ldc.i4.7", ir.LoadConstant(ir.Int32Const(7))},
		{"ldc.i4.m1", ir.LoadConstant(ir.Int32Const(-1))},
		{"ldc.i8 1099511627776", ir.LoadConstant(ir.Int64Const(1 << 40))},
		{"ldc.r4 2.5", ir.LoadConstant(ir.Float32Const(2.5))},
		{"ldc.r8 0.25", ir.LoadConstant(ir.Float64Const(0.25))},
		{"ldnull", ir.LoadConstant(ir.Null)},
		{`ldstr "a\"b\n"`, ir.StringConstant("a\"b\n")},
		{"ldloc.2", ir.LoadLocal(2)},
		{"stloc.s 9", ir.StoreLocal(9)},
		{"ldloc 300", ir.LoadLocal(300)},
		{"ldarg.0", ir.LoadArgument(0)},
		{"starg.s 1", ir.StoreArgument(1)},
		{"ldloca.s 3", ir.LoadAddress(3)},
		{"add", ir.Add()},
		{"not", ir.BitwiseNot()},
		{"shr", ir.ShiftRight()},
		{"cgt", ir.CompareGreaterThan()},
		{"br.s done", ir.Branch("done")},
		{"brtrue loop", ir.BranchIfTrue("loop")},
		{"brfalse exit", ir.BranchIfFalse("exit")},
		{"loop:", ir.Label("loop")},
		{"call System.Console.WriteLine", ir.Call("System.Console.WriteLine")},
		{"call int32 compute(int32, int32)", ir.Call("compute")},
		{"ldsfld int32 steps", ir.LoadField("steps")},
		{"stsfld native int buffer", ir.StoreField("buffer")},
		{"ldfld class Foo::bar", ir.LoadField("class Foo::bar")},
		{"newobj instance void System.Text.StringBuilder::.ctor()", ir.NewObject("System.Text.StringBuilder")},
		{"ldind.i2", ir.LoadIndirect(ir.Int16)},
		{"stind.ref", ir.StoreIndirect(ir.Object)},
		{"conv.r8", ir.Convert(ir.Int32, ir.Float64)},
		{"box int32", ir.Box(ir.Int32)},
		{"unbox Geometry.Point", ir.Unbox(ir.Custom("Geometry.Point"))},
		{"castclass string", ir.Convert(ir.Object, ir.String)},
		{"ret", ir.Return()},
		{"dup", ir.Duplicate()},
		{"// note", ir.Comment("note")},
		{"ldloc.x", ir.Comment("ldloc.x")},
		{"ldc.i4 nope", ir.Comment("ldc.i4 nope")},
		{"switch (a, b)", ir.Comment("switch (a, b)")},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, ImportInstruction(tt.line))
		})
	}
}

func TestImportFloatByteForm(t *testing.T) {
	in := ImportInstruction("ldc.r8 (00 00 00 00 00 00 F0 7F)")
	require.Equal(t, ir.OpLoadConstant, in.Op)
	assert.True(t, math.IsInf(float64(in.Const.(ir.Float64Const)), 1))

	in = ImportInstruction("ldc.r4 (00 00 C0 7F)")
	require.Equal(t, ir.OpLoadConstant, in.Op)
	assert.True(t, math.IsNaN(float64(in.Const.(ir.Float32Const))))
}

func TestRoundTripCountdown(t *testing.T) {
	text, err := New(nil, DefaultOptions()).Compile(testutil.Countdown())
	require.NoError(t, err)

	p, err := NewReader().ImportProgram(text)
	require.NoError(t, err)
	assert.Equal(t, testutil.Countdown(), p)
}

func TestRoundTripArithmetic(t *testing.T) {
	text, err := New(nil, DefaultOptions()).Compile(testutil.Arithmetic())
	require.NoError(t, err)

	p, err := NewReader().ImportProgram(text)
	require.NoError(t, err)
	assert.Equal(t, testutil.Arithmetic(), p)
}

func TestImportFoldsNegatedComparisons(t *testing.T) {
	src := &ir.Program{
		Name: "Cmp",
		Functions: []ir.Function{{
			Name:   "le",
			Params: []ir.Type{ir.Int32, ir.Int32},
			Return: ir.Int32,
			Body: []ir.Instruction{
				ir.LoadArgument(0),
				ir.LoadArgument(1),
				ir.CompareLessEqual(),
				ir.LoadArgument(0),
				ir.LoadArgument(1),
				ir.CompareNotEqual(),
				ir.BitwiseAnd(),
				ir.Return(),
			},
		}},
	}
	text, err := New(nil, DefaultOptions()).Compile(src)
	require.NoError(t, err)

	p, err := NewReader().ImportProgram(text)
	require.NoError(t, err)
	assert.Equal(t, src, p)
}

func TestImportHandWritten(t *testing.T) {
	src := `
.assembly extern mscorlib {}
.assembly Sample {}

.method public static void main() cil managed
{
  .entrypoint
  .maxstack 2
  ldstr "hi"
  call void [mscorlib]System.Console::WriteLine(string)
  nop
  ret
}
`
	p, err := NewReader().ImportProgram([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, "Sample", p.Name)
	require.Len(t, p.Functions, 1)
	fn := p.Functions[0]
	assert.Equal(t, "main", fn.Name)
	assert.Nil(t, fn.Return)
	assert.Equal(t, []ir.Instruction{
		ir.StringConstant("hi"),
		ir.Call("[mscorlib]System.Console::WriteLine"),
		ir.Comment("nop"),
		ir.Return(),
	}, fn.Body)
}

func TestImportErrors(t *testing.T) {
	_, err := NewReader().ImportProgram([]byte(".method public static void f() cil managed\n{\n  ret\n"))
	assert.ErrorContains(t, err, "not terminated")

	_, err = NewReader().ImportProgram([]byte(".method public static void f() cil managed\n  ret\n}\n"))
	assert.ErrorContains(t, err, "expected '{'")

	_, err = NewReader().ImportProgram([]byte(".method broken\n"))
	assert.ErrorContains(t, err, "malformed method header")
}
