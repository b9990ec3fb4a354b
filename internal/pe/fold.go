package pe

import (
	"fmt"
	"math"
	"slices"

	"github.com/roach88/polyasm/internal/ir"
)

// folder turns the machine instructions of one function back into IR by
// matching the sequences the code generator emits.
type folder struct {
	v     *imageView
	insns []insn
	out   []ir.Instruction
	// starts holds the text offset each out entry was folded from.
	starts []int

	params  int
	args    int
	locals  map[int]uint32 // frame displacement -> local index
	returns bool
}

func (f *folder) at(i int, kinds ...kind) bool {
	if i+len(kinds) > len(f.insns) {
		return false
	}
	for j, k := range kinds {
		if f.insns[i+j].kind != k {
			return false
		}
	}
	return true
}

func (f *folder) emit(off int, in ir.Instruction) {
	f.out = append(f.out, in)
	f.starts = append(f.starts, off)
}

func (f *folder) argBase() int {
	if f.v.mode64 {
		return 16
	}
	return 8
}

func (f *folder) slot() int {
	if f.v.mode64 {
		return 8
	}
	return 4
}

// frameSlot classifies an rbp displacement as an argument or a local.
func (f *folder) frameSlot(disp int) (index uint32, argument bool) {
	if disp >= f.argBase() {
		i := (disp - f.argBase()) / f.slot()
		f.args = max(f.args, i+1)
		return uint32(i), true
	}
	if i, ok := f.locals[disp]; ok {
		return i, false
	}
	i := uint32(len(f.locals))
	f.locals[disp] = i
	return i, false
}

func (v *imageView) function(insns []insn) ir.Function {
	f := &folder{v: v, insns: insns, locals: make(map[int]uint32)}
	name := v.functionName(insns[0].off)

	i := 0
	if f.at(0, kPushBP, kMovBPSP) {
		i = 2
		if f.at(i, kSubSP) {
			i++
		}
	}
	for v.mode64 && i < len(insns) && insns[i].kind == kFrameStore && insns[i].reg != regAX && insns[i].disp >= f.argBase() {
		f.params++
		i++
	}
	for i < len(insns) {
		i = f.step(i)
	}

	fn := ir.Function{Name: name, Body: f.withLabels()}
	for range max(f.params, f.args) {
		fn.Params = append(fn.Params, v.slotType())
	}
	for range f.locals {
		fn.Locals = append(fn.Locals, v.slotType())
	}
	if f.returns {
		fn.Return = v.slotType()
	}
	return fn
}

// step folds the pattern starting at i and returns the index after it.
func (f *folder) step(i int) int {
	in := f.insns[i]
	off := in.off
	switch {
	case f.at(i, kPopAX, kMovSPBP, kPopBP, kRet):
		f.returns = true
		f.emitReturn(off)
		return i + 4
	case f.at(i, kMovSPBP, kPopBP, kRet):
		f.emitReturn(off)
		return i + 3
	case f.at(i, kPopAX, kPushAX, kPushAX):
		f.emit(off, ir.Duplicate())
		return i + 3
	case f.at(i, kPopAX, kFrameStore) && f.insns[i+1].reg == regAX:
		idx, arg := f.frameSlot(f.insns[i+1].disp)
		if arg {
			f.emit(off, ir.StoreArgument(idx))
		} else {
			f.emit(off, ir.StoreLocal(idx))
		}
		return i + 2
	case f.at(i, kPopAX, kNeg, kPushAX):
		f.emit(off, ir.Negate())
		return i + 3
	case f.at(i, kPopAX, kNot, kPushAX):
		f.emit(off, ir.BitwiseNot())
		return i + 3
	case f.at(i, kPopAX, kLoadInd, kPushAX):
		f.emit(off, ir.LoadIndirect(f.insns[i+1].typ))
		return i + 3
	case f.at(i, kPopAX, kExtend, kPushAX):
		f.emit(off, ir.Convert(f.v.slotType(), f.insns[i+1].typ))
		return i + 3
	case f.at(i, kPopAX, kTest, kJcc):
		j := f.insns[i+2]
		if j.op == ir.OpBranchIfTrue {
			f.emit(off, ir.BranchIfTrue(f.label(int(j.imm))))
		} else {
			f.emit(off, ir.BranchIfFalse(f.label(int(j.imm))))
		}
		return i + 3
	case f.at(i, kPopAX, kGlobalStore):
		f.emit(off, ir.StoreField(f.global(f.insns[i+1].imm)))
		return i + 2
	case f.at(i, kPopBX, kPopAX, kBinary, kPushAX):
		f.emit(off, ir.Instruction{Op: f.insns[i+2].op})
		return i + 4
	case f.at(i, kPopBX, kPopAX, kSignExt, kIdiv, kMovAXDX, kPushAX):
		f.emit(off, ir.Remainder())
		return i + 6
	case f.at(i, kPopBX, kPopAX, kSignExt, kIdiv, kPushAX):
		f.emit(off, ir.Divide())
		return i + 5
	case f.at(i, kPopBX, kPopAX, kMovCXBX, kShift, kPushAX):
		f.emit(off, ir.Instruction{Op: f.insns[i+3].op})
		return i + 5
	case f.at(i, kPopBX, kPopAX, kCmp, kSetcc, kMovzx, kPushAX):
		f.emit(off, ir.Instruction{Op: f.insns[i+3].op})
		return i + 6
	case f.at(i, kPopBX, kPopAX, kStoreInd):
		f.emit(off, ir.StoreIndirect(f.insns[i+2].typ))
		return i + 3
	case f.at(i, kPopAX):
		f.emit(off, ir.Pop())
		return i + 1
	case f.at(i, kMovImm, kPushAX):
		f.emit(off, f.constant(in))
		return i + 2
	case f.at(i, kFrameLoad, kPushAX) && in.reg == regAX:
		idx, arg := f.frameSlot(in.disp)
		if arg {
			f.emit(off, ir.LoadArgument(idx))
		} else {
			f.emit(off, ir.LoadLocal(idx))
		}
		return i + 2
	case f.at(i, kFrameLea, kPushAX):
		idx, _ := f.frameSlot(in.disp)
		f.emit(off, ir.LoadAddress(idx))
		return i + 2
	case f.at(i, kGlobalLoad, kPushAX):
		f.emit(off, ir.LoadField(f.global(in.imm)))
		return i + 2
	case in.kind == kJmp:
		f.emit(off, ir.Branch(f.label(int(in.imm))))
		return i + 1
	case in.kind == kNop:
		return i + 1
	}
	if next, ok := f.call(i); ok {
		return next
	}
	f.emit(off, ir.Comment(in.text))
	return i + 1
}

// call folds argument marshalling, the call itself, stack cleanup and
// the push of the result.
func (f *folder) call(i int) (int, bool) {
	j := i
	for j < len(f.insns) {
		switch f.insns[j].kind {
		case kSubSP, kStackLoad, kStackStore:
			j++
			continue
		}
		break
	}
	if j >= len(f.insns) {
		return 0, false
	}
	c := f.insns[j]
	var name string
	switch c.kind {
	case kCall:
		name = f.v.functionName(int(c.imm))
	case kCallImport:
		var ok bool
		if name, ok = f.v.imports[uint32(c.imm)]; !ok {
			name = fmt.Sprintf("import_%X", c.imm)
		}
	default:
		return 0, false
	}
	j++
	if f.at(j, kAddSP) {
		j++
	}
	if f.at(j, kPushAX) {
		j++
	}
	f.emit(f.insns[i].off, ir.Call(name))
	return j, true
}

// emitReturn collapses the trailing epilogue the generator appends after
// an explicit Return.
func (f *folder) emitReturn(off int) {
	if n := len(f.out); n > 0 && f.out[n-1].Op == ir.OpReturn && !f.isTarget(off) {
		return
	}
	f.emit(off, ir.Return())
}

func (f *folder) isTarget(off int) bool {
	for _, in := range f.insns {
		if (in.kind == kJmp || in.kind == kJcc) && int(in.imm) == off {
			return true
		}
	}
	return false
}

func (f *folder) constant(in insn) ir.Instruction {
	wideForm := in.rex && in.size == 10
	if wideForm || !f.v.mode64 {
		if s, ok := f.v.dataString(uint64(in.imm)); ok {
			return ir.StringConstant(s)
		}
	}
	if !f.v.mode64 {
		return ir.LoadConstant(ir.Int32Const(int32(uint32(in.imm))))
	}
	if in.imm >= math.MinInt32 && in.imm <= math.MaxInt32 {
		return ir.LoadConstant(ir.Int32Const(int32(in.imm)))
	}
	return ir.LoadConstant(ir.Int64Const(in.imm))
}

func (f *folder) global(rva int64) string {
	f.v.globals[uint32(rva)] = true
	return f.v.globalName(uint32(rva))
}

func (f *folder) label(off int) string {
	return fmt.Sprintf("L%X", f.v.textRVA+uint32(off))
}

// withLabels places a Label before the first folded instruction at or
// after every branch target.
func (f *folder) withLabels() []ir.Instruction {
	var targets []int
	for _, in := range f.insns {
		if (in.kind == kJmp || in.kind == kJcc) && !slices.Contains(targets, int(in.imm)) {
			targets = append(targets, int(in.imm))
		}
	}
	slices.Sort(targets)

	body := make([]ir.Instruction, 0, len(f.out)+len(targets))
	t := 0
	for k, in := range f.out {
		for t < len(targets) && targets[t] <= f.starts[k] {
			body = append(body, ir.Label(f.label(targets[t])))
			t++
		}
		body = append(body, in)
	}
	for ; t < len(targets); t++ {
		body = append(body, ir.Label(f.label(targets[t])))
	}
	return body
}

// ImportInstruction decodes the machine instruction at the start of code
// and returns its IR meaning with the number of bytes consumed.
// Instructions that only make sense as part of a sequence come back as
// comments carrying their disassembly.
func ImportInstruction(code []byte, wide bool) (ir.Instruction, int) {
	if len(code) == 0 {
		return ir.Comment(""), 0
	}
	d := &decoder{code: code, mode64: wide}
	in := d.decode(0)
	switch in.kind {
	case kBinary, kShift, kSetcc:
		return ir.Instruction{Op: in.op}, in.size
	case kNeg:
		return ir.Negate(), in.size
	case kNot:
		return ir.BitwiseNot(), in.size
	case kRet:
		return ir.Return(), in.size
	case kJmp:
		return ir.Branch(fmt.Sprintf("L%X", in.imm)), in.size
	case kJcc:
		return ir.Instruction{Op: in.op, Label: fmt.Sprintf("L%X", in.imm)}, in.size
	case kCall:
		return ir.Call(fmt.Sprintf("sub_%X", in.imm)), in.size
	case kPopAX:
		return ir.Pop(), in.size
	}
	return ir.Comment(in.text), in.size
}
