package pe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/testutil"
)

func TestImportInstruction(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		wide bool
		want ir.Instruction
		size int
	}{
		{"add rax, rbx", []byte{0x48, 0x01, 0xD8}, true, ir.Add(), 3},
		{"add eax, ebx", []byte{0x01, 0xD8}, false, ir.Add(), 2},
		{"imul", []byte{0x48, 0x0F, 0xAF, 0xC3}, true, ir.Multiply(), 4},
		{"setg", []byte{0x0F, 0x9F, 0xC0}, true, ir.CompareGreaterThan(), 3},
		{"sar", []byte{0x48, 0xD3, 0xF8}, true, ir.ShiftRight(), 3},
		{"neg", []byte{0x48, 0xF7, 0xD8}, true, ir.Negate(), 3},
		{"ret", []byte{0xC3}, true, ir.Return(), 1},
		{"jmp", []byte{0xE9, 0x10, 0x00, 0x00, 0x00}, true, ir.Branch("L15"), 5},
		{"jnz", []byte{0x0F, 0x85, 0x00, 0x00, 0x00, 0x00}, false, ir.BranchIfTrue("L6"), 6},
		{"call", []byte{0xE8, 0x00, 0x01, 0x00, 0x00}, true, ir.Call("sub_105"), 5},
		{"pop rax", []byte{0x58}, true, ir.Pop(), 1},
		{"push rcx", []byte{0x51}, true, ir.Comment("push rcx"), 1},
		{"push ecx", []byte{0x51}, false, ir.Comment("push ecx"), 1},
		{"mov from frame", []byte{0x48, 0x8B, 0x45, 0xF8}, true, ir.Comment("mov rax, [rbp-8]"), 4},
		{"nop", []byte{0x90}, true, ir.Comment("nop"), 1},
		{"unknown", []byte{0xCC}, true, ir.Comment("db 0xcc"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n := ImportInstruction(tt.code, tt.wide)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.size, n)
		})
	}
}

func TestReaderCountdownX64(t *testing.T) {
	out, err := NewX64(nil, DefaultOptions()).Compile(testutil.Countdown())
	require.NoError(t, err)

	p, err := NewReader().ImportProgram(out)
	require.NoError(t, err)
	require.Len(t, p.Functions, 2)

	main, helper := p.Functions[0], p.Functions[1]
	assert.Equal(t, "main", main.Name)
	assert.Equal(t, ir.Int64, main.Return)
	assert.Equal(t, []ir.Type{ir.Int64}, main.Locals)

	require.Len(t, main.Body, 12)
	loop := main.Body[2]
	require.Equal(t, ir.OpLabel, loop.Op)
	assert.Equal(t, []ir.Instruction{
		ir.LoadConstant(ir.Int32Const(10)),
		ir.StoreLocal(0),
		loop,
		ir.LoadLocal(0),
		ir.Call(helper.Name),
		ir.StoreLocal(0),
		ir.LoadLocal(0),
		ir.LoadConstant(ir.Int32Const(0)),
		ir.CompareGreaterThan(),
		ir.BranchIfTrue(loop.Label),
		ir.LoadLocal(0),
		ir.Return(),
	}, main.Body)

	assert.Equal(t, []ir.Type{ir.Int64}, helper.Params)
	assert.Equal(t, []ir.Instruction{
		ir.LoadArgument(0),
		ir.LoadConstant(ir.Int32Const(1)),
		ir.Subtract(),
		ir.Return(),
	}, helper.Body)

	require.NoError(t, p.Validate())
}

func TestReaderX86Imports(t *testing.T) {
	out, err := NewX86(nil, DefaultOptions()).Compile(testutil.ExitCall())
	require.NoError(t, err)

	p, err := NewReader().ImportProgram(out)
	require.NoError(t, err)
	require.Len(t, p.Functions, 1)
	assert.Equal(t, []ir.Instruction{
		ir.LoadConstant(ir.Int32Const(0)),
		ir.Call("ExitProcess"),
		ir.Return(),
	}, p.Functions[0].Body)
}

func TestReaderStringsAndGlobals(t *testing.T) {
	p := &ir.Program{
		Name:    "Hello",
		Globals: []ir.Global{{Name: "count", Type: ir.Int64, Init: ir.Int64Const(3)}},
		Functions: []ir.Function{{
			Name: "main",
			Body: []ir.Instruction{
				ir.StringConstant("hi\n"),
				ir.Call("__builtin_print"),
				ir.Pop(),
				ir.LoadField("count"),
				ir.LoadConstant(ir.Int32Const(1)),
				ir.Add(),
				ir.StoreField("count"),
				ir.Return(),
			},
		}},
	}
	out, err := NewX64(nil, DefaultOptions()).Compile(p)
	require.NoError(t, err)

	got, err := NewReader().ImportProgram(out)
	require.NoError(t, err)
	require.Len(t, got.Globals, 1)
	g := got.Globals[0]
	assert.Equal(t, ir.Int64Const(3), g.Init)
	assert.Equal(t, []ir.Instruction{
		ir.StringConstant("hi\n"),
		ir.Call("printf"),
		ir.Pop(),
		ir.LoadField(g.Name),
		ir.LoadConstant(ir.Int32Const(1)),
		ir.Add(),
		ir.StoreField(g.Name),
		ir.Return(),
	}, got.Functions[0].Body)
}

func TestReaderArithmeticX86(t *testing.T) {
	out, err := NewX86(nil, DefaultOptions()).Compile(testutil.Arithmetic())
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

	main := p.Functions[1]
	assert.Equal(t, "main", main.Name)
	assert.Equal(t, []ir.Instruction{
		ir.LoadConstant(ir.Int32Const(5)),
		ir.LoadConstant(ir.Int32Const(7)),
		ir.Call(compute.Name),
		ir.Return(),
	}, main.Body)
}

func TestReaderRejectsGarbage(t *testing.T) {
	_, err := NewReader().ImportProgram([]byte("MZ not really"))
	assert.Error(t, err)
}
