package pe

import (
	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/mapper"
)

// callTarget is a resolved Call: a function of the program or an import.
type callTarget struct {
	name    string
	args    int
	returns bool
	imp     *importSpec
}

func (fc *funcCompiler) resolveCall(i int, symbol string) (callTarget, error) {
	mapped := fc.mapper.MapTag(mapper.TagPE, symbol)
	if fn, ok := fc.prog.Function(mapped); ok {
		return callTarget{name: mapped, args: len(fn.Params), returns: fn.Return != nil}, nil
	}
	if spec, ok := knownImports[mapped]; ok {
		return callTarget{name: mapped, args: spec.Args, returns: spec.Returns, imp: &spec}, nil
	}
	return callTarget{}, backend.NewInstructionError(backend.ErrUnknownSymbol, fc.arch.name, fc.fn.Name, i,
		"%q (mapped to %q) is neither a function of the program nor a known import", symbol, mapped)
}

func (fc *funcCompiler) call(i int, symbol string) error {
	t, err := fc.resolveCall(i, symbol)
	if err != nil {
		return err
	}
	if fc.depth < t.args {
		return backend.NewInstructionError(backend.ErrInvalidIR, fc.arch.name, fc.fn.Name, i,
			"call %s needs %d argument(s), stack holds %d", t.name, t.args, fc.depth)
	}
	if fc.arch.wide {
		fc.callWin64(i, t)
	} else {
		fc.callCdecl(i, t)
	}
	fc.depth -= t.args
	if t.returns {
		fc.push()
	}
	return nil
}

func (fc *funcCompiler) emitCall(i int, t callTarget) {
	c := fc.ctx
	c.logCall(t.name, t.imp != nil)
	if t.imp != nil {
		c.emit(0xFF, 0x15)
		c.referenceImport(t.name, fc.arch.wide, fc.fn.Name, i)
		return
	}
	c.emit(0xE8)
	c.referenceLabel(labelKey{label: t.name}, fc.fn.Name, i)
}

// callWin64 moves the arguments from the operand stack into rcx, rdx,
// r8, r9 and a fresh outgoing area for the rest, reserves shadow space
// and keeps rsp 16-byte aligned at the call.
func (fc *funcCompiler) callWin64(i int, t callTarget) {
	c, n := fc.ctx, t.args
	extra := max(n-len(win64ArgRegs), 0)
	pad := (fc.depth + extra) % 2
	area := 8 * (extra + pad)

	c.adjustSP(true, true, area)
	// argument k sits at rsp+area+8*(n-1-k)
	for j := 0; j < extra; j++ {
		c.stackAccess(true, 0x8B, regAX, area+8*(n-1-(len(win64ArgRegs)+j)))
		c.stackAccess(true, 0x89, regAX, 8*j)
	}
	for r := 0; r < n && r < len(win64ArgRegs); r++ {
		c.stackAccess(true, 0x8B, win64ArgRegs[r], area+8*(n-1-r))
	}
	c.emit(opShadowSP...)
	fc.emitCall(i, t)
	c.adjustSP(true, false, 32+area+8*n)
}

// callCdecl reverses the arguments into a fresh area so the first one
// is lowest, calls, and drops whatever the callee did not pop.
func (fc *funcCompiler) callCdecl(i int, t callTarget) {
	c, n := fc.ctx, t.args
	calleePops := t.imp != nil && t.imp.Stdcall

	if n >= 2 {
		c.adjustSP(false, true, 4*n)
		for j := 0; j < n; j++ {
			c.stackAccess(false, 0x8B, regAX, 4*n+4*(n-1-j))
			c.stackAccess(false, 0x89, regAX, 4*j)
		}
	}
	fc.emitCall(i, t)

	cleanup := 4 * n
	if n >= 2 {
		cleanup += 4 * n
	}
	if calleePops {
		cleanup -= 4 * n
	}
	c.adjustSP(false, false, cleanup)
}
