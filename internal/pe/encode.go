package pe

import "github.com/roach88/polyasm/internal/ir"

// Register numbers as encoded in ModR/M. r8 and r9 need REX.R.
const (
	regAX byte = 0
	regCX byte = 1
	regDX byte = 2
	regBX byte = 3
	regR8 byte = 8
	regR9 byte = 9
)

// win64ArgRegs carry the first four integer arguments.
var win64ArgRegs = [4]byte{regCX, regDX, regR8, regR9}

const rexW byte = 0x48

// Sequences are written with REX.W; 32-bit code drops the prefix.
var (
	opPushAX = []byte{0x50}
	opPopAX  = []byte{0x58}
	opPopBX  = []byte{0x5B}
	opPushBP = []byte{0x55}
	opPopBP  = []byte{0x5D}
	opRet    = []byte{0xC3}

	opMovBPSP  = []byte{rexW, 0x89, 0xE5}
	opMovSPBP  = []byte{rexW, 0x89, 0xEC}
	opTestAX   = []byte{rexW, 0x85, 0xC0}
	opCmpAXBX  = []byte{rexW, 0x39, 0xD8}
	opMovzxAL  = []byte{0x0F, 0xB6, 0xC0}
	opSignExt  = []byte{rexW, 0x99} // cqo / cdq
	opIdivBX   = []byte{rexW, 0xF7, 0xFB}
	opMovAXDX  = []byte{rexW, 0x89, 0xD0}
	opMovCXBX  = []byte{rexW, 0x89, 0xD9}
	opShlAXCL  = []byte{rexW, 0xD3, 0xE0}
	opSarAXCL  = []byte{rexW, 0xD3, 0xF8}
	opNegAX    = []byte{rexW, 0xF7, 0xD8}
	opNotAX    = []byte{rexW, 0xF7, 0xD0}
	opShadowSP = []byte{rexW, 0x83, 0xEC, 0x20}
)

// binaryOps run between "pop rbx; pop rax" and "push rax".
var binaryOps = map[ir.Op][][]byte{
	ir.OpAdd:        {{rexW, 0x01, 0xD8}},
	ir.OpSubtract:   {{rexW, 0x29, 0xD8}},
	ir.OpMultiply:   {{rexW, 0x0F, 0xAF, 0xC3}},
	ir.OpDivide:     {opSignExt, opIdivBX},
	ir.OpRemainder:  {opSignExt, opIdivBX, opMovAXDX},
	ir.OpBitwiseAnd: {{rexW, 0x21, 0xD8}},
	ir.OpBitwiseOr:  {{rexW, 0x09, 0xD8}},
	ir.OpBitwiseXor: {{rexW, 0x31, 0xD8}},
	ir.OpShiftLeft:  {opMovCXBX, opShlAXCL},
	ir.OpShiftRight: {opMovCXBX, opSarAXCL},
}

// setcc condition bytes (second opcode byte of 0F 9x).
var setccOps = map[ir.Op]byte{
	ir.OpCompareEqual:        0x94,
	ir.OpCompareNotEqual:     0x95,
	ir.OpCompareLessThan:     0x9C,
	ir.OpCompareGreaterThan:  0x9F,
	ir.OpCompareLessEqual:    0x9E,
	ir.OpCompareGreaterEqual: 0x9D,
}

// ops emits each instruction, dropping REX.W in 32-bit code.
func (c *Context) ops(wide bool, seq ...[]byte) {
	for _, in := range seq {
		if !wide && len(in) > 1 && in[0] == rexW {
			in = in[1:]
		}
		c.emit(in...)
	}
}

func (c *Context) rex(wide bool, reg byte) {
	if !wide {
		return
	}
	rex := rexW
	if reg >= 8 {
		rex |= 0x04
	}
	c.emit(rex)
}

// frameAccess emits opcode with a [rbp+disp] operand, using disp8 when
// it fits.
func (c *Context) frameAccess(wide bool, opcode, reg byte, disp int) {
	c.rex(wide, reg)
	if disp >= -128 && disp <= 127 {
		c.emit(opcode, 0x45|(reg&7)<<3, byte(int8(disp)))
		return
	}
	c.emit(opcode, 0x85|(reg&7)<<3)
	c.emitU32(uint32(int32(disp)))
}

// stackAccess emits opcode with a [rsp+disp32] operand.
func (c *Context) stackAccess(wide bool, opcode, reg byte, disp int) {
	c.rex(wide, reg)
	c.emit(opcode, 0x84|(reg&7)<<3, 0x24)
	c.emitU32(uint32(int32(disp)))
}

// adjustSP adds n to the stack pointer, or subtracts it when sub is set.
func (c *Context) adjustSP(wide, sub bool, n int) {
	if n == 0 {
		return
	}
	modrm := byte(0xC4)
	if sub {
		modrm = 0xEC
	}
	if wide {
		c.emit(rexW)
	}
	if n <= 127 {
		c.emit(0x83, modrm, byte(n))
		return
	}
	c.emit(0x81, modrm)
	c.emitU32(uint32(n))
}

// movImm loads v into rax/eax with the shortest encoding that preserves
// it: zero-extending imm32, sign-extending imm32 or imm64.
func (c *Context) movImm(wide bool, v int64) {
	switch {
	case !wide || (v >= 0 && v <= 0x7FFFFFFF):
		c.emit(0xB8)
		c.emitU32(uint32(v))
	case v >= -0x80000000 && v < 0:
		c.emit(rexW, 0xC7, 0xC0)
		c.emitU32(uint32(int32(v)))
	default:
		c.emit(rexW, 0xB8)
		c.emitU64(uint64(v))
	}
}
