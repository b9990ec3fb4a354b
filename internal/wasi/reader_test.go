package wasi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/testutil"
)

func TestImportInstruction(t *testing.T) {
	tests := []struct {
		raw  []byte
		want ir.Instruction
		n    int
	}{
		{[]byte{0x41, 0x2A}, ir.LoadConstant(ir.Int32Const(42)), 2},
		{[]byte{0x41, 0x7F}, ir.LoadConstant(ir.Int32Const(-1)), 2},
		{[]byte{0x42, 0x80, 0x01}, ir.LoadConstant(ir.Int64Const(128)), 3},
		{[]byte{0x43, 0x00, 0x00, 0x80, 0x3F}, ir.LoadConstant(ir.Float32Const(1)), 5},
		{[]byte{0x20, 0x03}, ir.LoadLocal(3), 2},
		{[]byte{0x21, 0x00}, ir.StoreLocal(0), 2},
		{[]byte{0x6A}, ir.Add(), 1},
		{[]byte{0x7C}, ir.Add(), 1},
		{[]byte{0x6B}, ir.Subtract(), 1},
		{[]byte{0x6D}, ir.Divide(), 1},
		{[]byte{0x48}, ir.CompareLessThan(), 1},
		{[]byte{0x0F}, ir.Return(), 1},
		{[]byte{0x1A}, ir.Pop(), 1},
		{[]byte{0x10, 0x05}, ir.Call("func_5"), 2},
		{[]byte{0x28, 0x02, 0x00}, ir.LoadIndirect(ir.Int32), 3},
		{[]byte{0xAC}, ir.Convert(ir.Int32, ir.Int64), 1},
		{[]byte{0xFC}, ir.Comment("unknown opcode 0xFC"), 1},
	}
	for _, tt := range tests {
		got, n := ImportInstruction(tt.raw)
		assert.Equal(t, tt.want, got, "% X", tt.raw)
		assert.Equal(t, tt.n, n, "% X", tt.raw)
	}
}

func TestImportScenarioModule(t *testing.T) {
	out, err := New(nil, DefaultOptions()).Compile(testutil.ConstReturn())
	require.NoError(t, err)

	p, err := NewReader().ImportProgram(out)
	require.NoError(t, err)
	require.Len(t, p.Functions, 1)

	fn := p.Functions[0]
	assert.Equal(t, "_start", fn.Name)
	assert.Equal(t, ir.Int32, fn.Return)
	assert.Equal(t, []ir.Type{ir.Int32}, fn.Locals)
	assert.Equal(t, testutil.ConstReturn().Functions[0].Body, fn.Body)
}

func TestRoundTripConstantsOnly(t *testing.T) {
	values := []int32{0, 1, -1, 42, 63, 64, -65, 127, 128, 1 << 20, -(1 << 30), 2147483647, -2147483648}
	for n := 1; n <= len(values); n++ {
		body := make([]ir.Instruction, 0, n+1)
		for _, v := range values[:n] {
			body = append(body, ir.LoadConstant(ir.Int32Const(v)))
		}
		body = append(body, ir.Return())

		p := &ir.Program{Name: "Consts", Functions: []ir.Function{{Name: "main", Return: ir.Int32, Body: body}}}
		out, err := New(nil, DefaultOptions()).Compile(p)
		require.NoError(t, err)

		back, err := NewReader().ImportProgram(out)
		require.NoError(t, err)
		require.Len(t, back.Functions, 1)
		assert.Equal(t, body, back.Functions[0].Body)
	}
}

func TestRoundTripArguments(t *testing.T) {
	out, err := New(nil, DefaultOptions()).Compile(testutil.Arithmetic())
	require.NoError(t, err)

	p, err := NewReader().ImportProgram(out)
	require.NoError(t, err)
	require.Len(t, p.Functions, 2)

	compute := p.Functions[0]
	assert.Equal(t, []ir.Type{ir.Int32, ir.Int32}, compute.Params)
	assert.Equal(t, []ir.Instruction{
		ir.LoadArgument(0),
		ir.LoadArgument(1),
		ir.Add(),
		ir.LoadConstant(ir.Int32Const(3)),
		ir.Multiply(),
		ir.StoreLocal(0),
		ir.LoadLocal(0),
		ir.LoadArgument(0),
		ir.Subtract(),
		ir.Return(),
	}, compute.Body)
	assert.Equal(t, ir.Call("compute"), p.Functions[1].Body[2])
}

func TestImportProgramRejectsGarbage(t *testing.T) {
	_, err := NewReader().ImportProgram([]byte("not wasm"))
	assert.Error(t, err)

	_, err = NewReader().ImportProgram([]byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00, 0x01, 0x10})
	assert.Error(t, err, "section length beyond end of input")
}
