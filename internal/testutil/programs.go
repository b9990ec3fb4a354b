// Package testutil holds deterministic clocks, ID generators and the
// reference programs shared by backend, assembler and harness tests.
package testutil

import "github.com/roach88/polyasm/internal/ir"

// EmptyMain is a program whose main only returns.
func EmptyMain() *ir.Program {
	return &ir.Program{
		Name: "Empty",
		Functions: []ir.Function{
			{Name: "main", Body: []ir.Instruction{ir.Return()}},
		},
	}
}

// ConstReturn returns 42 from _start through a local.
func ConstReturn() *ir.Program {
	return &ir.Program{
		Name: "Const42",
		Functions: []ir.Function{
			{
				Name:   "_start",
				Return: ir.Int32,
				Locals: []ir.Type{ir.Int32},
				Body: []ir.Instruction{
					ir.LoadConstant(ir.Int32Const(42)),
					ir.StoreLocal(0),
					ir.LoadLocal(0),
					ir.Return(),
				},
			},
		},
	}
}

// Addition computes 40 + 2 in a main without a declared return type.
func Addition() *ir.Program {
	return &ir.Program{
		Name: "Addition",
		Functions: []ir.Function{
			{
				Name: "main",
				Body: []ir.Instruction{
					ir.LoadConstant(ir.Int32Const(40)),
					ir.LoadConstant(ir.Int32Const(2)),
					ir.Add(),
					ir.Return(),
				},
			},
		},
	}
}

// ExitCall calls ExitProcess(0).
func ExitCall() *ir.Program {
	return &ir.Program{
		Name: "Exit",
		Functions: []ir.Function{
			{
				Name: "main",
				Body: []ir.Instruction{
					ir.LoadConstant(ir.Int32Const(0)),
					ir.Call("ExitProcess"),
				},
			},
		},
	}
}

// HelloPrint prints a greeting through the portable print builtin.
func HelloPrint() *ir.Program {
	return &ir.Program{
		Name: "Hello",
		Functions: []ir.Function{
			{
				Name: "main",
				Body: []ir.Instruction{
					ir.StringConstant("hello, world\n"),
					ir.Call("__builtin_print"),
					ir.Return(),
				},
			},
		},
	}
}

// Countdown loops from 10 to 0 with a conditional branch and a helper call.
func Countdown() *ir.Program {
	return &ir.Program{
		Name:    "Countdown",
		Globals: []ir.Global{{Name: "steps", Type: ir.Int32, Init: ir.Int32Const(0)}},
		Functions: []ir.Function{
			{
				Name:   "main",
				Return: ir.Int32,
				Locals: []ir.Type{ir.Int32},
				Body: []ir.Instruction{
					ir.LoadConstant(ir.Int32Const(10)),
					ir.StoreLocal(0),
					ir.Label("loop"),
					ir.LoadLocal(0),
					ir.Call("decrement"),
					ir.StoreLocal(0),
					ir.LoadLocal(0),
					ir.LoadConstant(ir.Int32Const(0)),
					ir.CompareGreaterThan(),
					ir.BranchIfTrue("loop"),
					ir.LoadLocal(0),
					ir.Return(),
				},
			},
			{
				Name:   "decrement",
				Params: []ir.Type{ir.Int32},
				Return: ir.Int32,
				Body: []ir.Instruction{
					ir.LoadArgument(0),
					ir.LoadConstant(ir.Int32Const(1)),
					ir.Subtract(),
					ir.Return(),
				},
			},
		},
	}
}

// Arithmetic exercises a straight-line mix of integer operations without
// branches, usable on every backend.
func Arithmetic() *ir.Program {
	return &ir.Program{
		Name: "Arith",
		Functions: []ir.Function{
			{
				Name:   "compute",
				Params: []ir.Type{ir.Int32, ir.Int32},
				Return: ir.Int32,
				Locals: []ir.Type{ir.Int32},
				Body: []ir.Instruction{
					ir.Comment("(a + b) * 3 - a"),
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
				},
			},
			{
				Name:   "main",
				Return: ir.Int32,
				Body: []ir.Instruction{
					ir.LoadConstant(ir.Int32Const(5)),
					ir.LoadConstant(ir.Int32Const(7)),
					ir.Call("compute"),
					ir.Return(),
				},
			},
		},
	}
}
