package pe

import (
	"math"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/mapper"
)

// funcCompiler lowers one function onto the machine stack: every IR
// value occupies one pointer-sized slot and rax/rbx are scratch.
type funcCompiler struct {
	arch   arch
	ctx    *Context
	data   *dataSection
	prog   *ir.Program
	mapper *mapper.Mapper
	fn     *ir.Function

	// depth is the number of operand slots pushed since the prologue.
	depth      int
	labelDepth map[string]int
}

func compileProgram(a arch, p *ir.Program, m *mapper.Mapper) (*Context, *dataSection, error) {
	ctx := newContext()
	data := newDataSection(p.Globals)
	for i := range p.Functions {
		fc := &funcCompiler{
			arch:       a,
			ctx:        ctx,
			data:       data,
			prog:       p,
			mapper:     m,
			fn:         &p.Functions[i],
			labelDepth: make(map[string]int),
		}
		if err := fc.compile(); err != nil {
			return nil, nil, err
		}
	}
	return ctx, data, nil
}

func (fc *funcCompiler) compile() error {
	c, wide := fc.ctx, fc.arch.wide
	c.beginFunction()
	c.defineLabel(labelKey{label: fc.fn.Name})

	c.ops(wide, opPushBP, opMovBPSP, []byte{rexW, 0x81, 0xEC})
	frameSite := c.offset()
	c.emitU32(0)
	if wide {
		// Home the register arguments so every argument lives at rbp+16+8i.
		for i := 0; i < len(fc.fn.Params) && i < len(win64ArgRegs); i++ {
			c.frameAccess(true, 0x89, win64ArgRegs[i], fc.argOffset(uint32(i)))
		}
	}

	for i, in := range fc.fn.Body {
		if err := fc.lower(i, in); err != nil {
			return err
		}
	}
	fc.epilogue()
	c.patchU32(frameSite, uint32(alignUp(c.frame, 16)))
	return nil
}

func (fc *funcCompiler) epilogue() {
	fc.ctx.ops(fc.arch.wide, opMovSPBP, opPopBP, opRet)
}

func (fc *funcCompiler) argOffset(i uint32) int {
	return fc.arch.argBase + fc.arch.slot*int(i)
}

func (fc *funcCompiler) push() {
	fc.ctx.emit(opPushAX...)
	fc.depth++
}

func (fc *funcCompiler) pop(reg []byte) {
	fc.ctx.emit(reg...)
	fc.depth = max(fc.depth-1, 0)
}

// need fails with INVALID_IR unless n operands are on the stack.
func (fc *funcCompiler) need(i, n int, in ir.Instruction) error {
	if fc.depth >= n {
		return nil
	}
	return backend.NewInstructionError(backend.ErrInvalidIR, fc.arch.name, fc.fn.Name, i,
		"%s needs %d operand(s), stack holds %d", in.Op, n, fc.depth)
}

func (fc *funcCompiler) unsupported(i int, in ir.Instruction) error {
	return backend.Unsupported(fc.arch.name, fc.fn.Name, i, in)
}

func (fc *funcCompiler) lower(i int, in ir.Instruction) error {
	c, wide := fc.ctx, fc.arch.wide
	if err := fc.need(i, operands(fc.fn, in), in); err != nil {
		return err
	}

	if seq, ok := binaryOps[in.Op]; ok {
		fc.pop(opPopBX)
		fc.pop(opPopAX)
		c.ops(wide, seq...)
		fc.push()
		return nil
	}
	if cc, ok := setccOps[in.Op]; ok {
		fc.pop(opPopBX)
		fc.pop(opPopAX)
		c.ops(wide, opCmpAXBX, []byte{0x0F, cc, 0xC0}, opMovzxAL)
		fc.push()
		return nil
	}

	switch in.Op {
	case ir.OpLoadConstant:
		return fc.constant(i, in)
	case ir.OpStringConstant:
		fc.stringAddress(i, in.Text)
	case ir.OpLoadLocal:
		c.frameAccess(wide, 0x8B, regAX, c.localOffset(in.Index, fc.arch.slot))
		fc.push()
	case ir.OpStoreLocal:
		fc.pop(opPopAX)
		c.frameAccess(wide, 0x89, regAX, c.localOffset(in.Index, fc.arch.slot))
	case ir.OpLoadArgument:
		c.frameAccess(wide, 0x8B, regAX, fc.argOffset(in.Index))
		fc.push()
	case ir.OpStoreArgument:
		fc.pop(opPopAX)
		c.frameAccess(wide, 0x89, regAX, fc.argOffset(in.Index))
	case ir.OpLoadAddress:
		c.frameAccess(wide, 0x8D, regAX, c.localOffset(in.Index, fc.arch.slot))
		fc.push()
	case ir.OpLoadIndirect:
		seq, ok := fc.loadIndirect(in.Type)
		if !ok {
			return fc.unsupported(i, in)
		}
		fc.pop(opPopAX)
		c.emit(seq...)
		fc.push()
	case ir.OpStoreIndirect:
		seq, ok := fc.storeIndirect(in.Type)
		if !ok {
			return fc.unsupported(i, in)
		}
		fc.pop(opPopBX)
		fc.pop(opPopAX)
		c.emit(seq...)
	case ir.OpNegate:
		fc.pop(opPopAX)
		c.ops(wide, opNegAX)
		fc.push()
	case ir.OpBitwiseNot:
		fc.pop(opPopAX)
		c.ops(wide, opNotAX)
		fc.push()
	case ir.OpBranch:
		c.emit(0xE9)
		c.referenceLabel(labelKey{fn: fc.fn.Name, label: in.Label}, fc.fn.Name, i)
		fc.labelDepth[in.Label] = fc.depth
		fc.depth = 0
	case ir.OpBranchIfTrue, ir.OpBranchIfFalse:
		fc.pop(opPopAX)
		c.ops(wide, opTestAX)
		jcc := byte(0x85) // jnz
		if in.Op == ir.OpBranchIfFalse {
			jcc = 0x84 // jz
		}
		c.emit(0x0F, jcc)
		c.referenceLabel(labelKey{fn: fc.fn.Name, label: in.Label}, fc.fn.Name, i)
		fc.labelDepth[in.Label] = fc.depth
	case ir.OpLabel:
		c.defineLabel(labelKey{fn: fc.fn.Name, label: in.Label})
		if d, ok := fc.labelDepth[in.Label]; ok {
			fc.depth = d
		} else {
			fc.labelDepth[in.Label] = fc.depth
		}
	case ir.OpCall:
		return fc.call(i, in.Symbol)
	case ir.OpReturn:
		if fc.depth > 0 {
			fc.pop(opPopAX)
		}
		fc.epilogue()
		fc.depth = 0
	case ir.OpDuplicate:
		fc.pop(opPopAX)
		fc.push()
		fc.push()
	case ir.OpPop:
		fc.pop(opPopAX)
	case ir.OpLoadField:
		off, ok := fc.data.global(in.Symbol)
		if !ok {
			return backend.NewInstructionError(backend.ErrUnknownSymbol, fc.arch.name, fc.fn.Name, i, "no global %q", in.Symbol)
		}
		if wide {
			c.emit(rexW, 0x8B, 0x05)
		} else {
			c.emit(0xA1)
		}
		c.referenceData(off, 4, wide, fc.fn.Name, i)
		fc.push()
	case ir.OpStoreField:
		off, ok := fc.data.global(in.Symbol)
		if !ok {
			return backend.NewInstructionError(backend.ErrUnknownSymbol, fc.arch.name, fc.fn.Name, i, "no global %q", in.Symbol)
		}
		fc.pop(opPopAX)
		if wide {
			c.emit(rexW, 0x89, 0x05)
		} else {
			c.emit(0xA3)
		}
		c.referenceData(off, 4, wide, fc.fn.Name, i)
	case ir.OpConvert:
		seq, ok := fc.convert(in.From, in.Type)
		if !ok {
			return fc.unsupported(i, in)
		}
		if len(seq) > 0 {
			fc.pop(opPopAX)
			c.emit(seq...)
			fc.push()
		}
	case ir.OpComment:
	default:
		return fc.unsupported(i, in)
	}
	return nil
}

// operands is the number of stack values that in consumes. Calls are
// checked once their callee is resolved.
func operands(fn *ir.Function, in ir.Instruction) int {
	if _, ok := binaryOps[in.Op]; ok {
		return 2
	}
	if _, ok := setccOps[in.Op]; ok {
		return 2
	}
	switch in.Op {
	case ir.OpStoreIndirect:
		return 2
	case ir.OpStoreLocal, ir.OpStoreArgument, ir.OpLoadIndirect, ir.OpNegate, ir.OpBitwiseNot,
		ir.OpBranchIfTrue, ir.OpBranchIfFalse, ir.OpDuplicate, ir.OpPop, ir.OpStoreField, ir.OpConvert:
		return 1
	case ir.OpReturn:
		if fn.Return != nil {
			return 1
		}
	}
	return 0
}

func (fc *funcCompiler) constant(i int, in ir.Instruction) error {
	c, wide := fc.ctx, fc.arch.wide
	switch v := in.Const.(type) {
	case ir.StringConst:
		fc.stringAddress(i, string(v))
		return nil
	case ir.NullConst:
		c.movImm(wide, 0)
	case ir.Float32Const:
		c.movImm(wide, int64(math.Float32bits(float32(v))))
	case ir.Float64Const:
		if !wide {
			return fc.unsupported(i, in)
		}
		c.movImm(wide, int64(math.Float64bits(float64(v))))
	default:
		n, ok := ir.IntValue(v)
		if !ok || (!wide && (n < math.MinInt32 || n > math.MaxInt32)) {
			return fc.unsupported(i, in)
		}
		c.movImm(wide, n)
	}
	fc.push()
	return nil
}

// stringAddress pushes the absolute address of an interned literal.
func (fc *funcCompiler) stringAddress(i int, s string) {
	c := fc.ctx
	off := fc.data.internString(s)
	width := 4
	if fc.arch.wide {
		c.emit(rexW)
		width = 8
	}
	c.emit(0xB8)
	c.referenceData(off, width, false, fc.fn.Name, i)
	fc.push()
}

func intBits(t ir.Type) int {
	switch v := t.(type) {
	case ir.IntegerType:
		return v.Bits
	case ir.BooleanType:
		return 32
	case ir.FloatType:
		return v.Bits
	}
	return 64
}

// loadIndirect replaces the address in rax with the value it points at,
// sign-extended to a full slot.
func (fc *funcCompiler) loadIndirect(t ir.Type) ([]byte, bool) {
	wide := fc.arch.wide
	_, float := t.(ir.FloatType)
	switch bits := intBits(t); {
	case bits == 8:
		return rexIf(wide, 0x0F, 0xBE, 0x00), true
	case bits == 16:
		return rexIf(wide, 0x0F, 0xBF, 0x00), true
	case bits == 32 && float:
		return []byte{0x8B, 0x00}, true
	case bits == 32 && wide:
		return []byte{rexW, 0x63, 0x00}, true
	case bits == 32:
		return []byte{0x8B, 0x00}, true
	case !wide && (ir.IsWide(t) || !isReference(t)):
		return nil, false
	case !wide:
		return []byte{0x8B, 0x00}, true
	}
	return []byte{rexW, 0x8B, 0x00}, true
}

// storeIndirect writes rbx to the address in rax.
func (fc *funcCompiler) storeIndirect(t ir.Type) ([]byte, bool) {
	wide := fc.arch.wide
	switch bits := intBits(t); {
	case bits == 8:
		return []byte{0x88, 0x18}, true
	case bits == 16:
		return []byte{0x66, 0x89, 0x18}, true
	case bits == 32:
		return []byte{0x89, 0x18}, true
	case !wide && (ir.IsWide(t) || !isReference(t)):
		return nil, false
	case !wide:
		return []byte{0x89, 0x18}, true
	}
	return []byte{rexW, 0x89, 0x18}, true
}

// isReference reports types held as a pointer-sized address.
func isReference(t ir.Type) bool {
	switch t.(type) {
	case ir.PointerType, ir.StringType, ir.ObjectType, ir.ArrayType:
		return true
	}
	return false
}

func rexIf(wide bool, b ...byte) []byte {
	if wide {
		return append([]byte{rexW}, b...)
	}
	return b
}

// convert handles integer narrowing and widening; floats have no
// lowering on the integer stack.
func (fc *funcCompiler) convert(from, to ir.Type) ([]byte, bool) {
	if !isInteger(from) || !isInteger(to) {
		return nil, false
	}
	switch intBits(to) {
	case 8:
		return rexIf(fc.arch.wide, 0x0F, 0xBE, 0xC0), true
	case 16:
		return rexIf(fc.arch.wide, 0x0F, 0xBF, 0xC0), true
	case 32:
		if fc.arch.wide {
			return []byte{rexW, 0x63, 0xC0}, true
		}
	}
	return nil, true
}

func isInteger(t ir.Type) bool {
	switch t.(type) {
	case ir.IntegerType, ir.BooleanType, ir.PointerType:
		return true
	}
	return false
}
