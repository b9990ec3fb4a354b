package pe

import (
	"encoding/binary"
	"fmt"

	"github.com/roach88/polyasm/internal/ir"
)

// kind classifies one decoded machine instruction.
type kind uint8

const (
	kUnknown kind = iota
	kNop
	kPushAX
	kPopAX
	kPopBX
	kPushBP
	kPopBP
	kRet
	kMovBPSP
	kMovSPBP
	kSubSP
	kAddSP
	kMovImm
	kFrameLoad
	kFrameStore
	kFrameLea
	kStackLoad
	kStackStore
	kBinary // op holds the IR operation
	kCmp
	kSetcc // op holds the comparison
	kMovzx
	kTest
	kSignExt
	kIdiv
	kMovAXDX
	kMovCXBX
	kShift // op holds ShiftLeft or ShiftRight
	kNeg
	kNot
	kLoadInd  // typ holds the loaded type
	kStoreInd // typ holds the stored type
	kExtend   // typ holds the target type
	kJmp
	kJcc
	kCall
	kCallImport
	kGlobalLoad
	kGlobalStore
)

// insn is one decoded machine instruction.
type insn struct {
	kind kind
	off  int
	size int
	// rex reports a REX.W prefix: the operand is an R-register.
	rex  bool
	reg  byte
	disp int
	imm  int64 // immediate, branch target offset, or RVA for memory operands
	op   ir.Op
	typ  ir.Type
	text string
}

var (
	regs64 = [...]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi", "r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}
	regs32 = [...]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi", "r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d"}
)

// regName picks the register file from REX.W: R-registers with it,
// E-registers without.
func regName(reg byte, w bool) string {
	if w {
		return regs64[reg&15]
	}
	return regs32[reg&15]
}

var binaryOpcodes = map[byte]ir.Op{
	0x01: ir.OpAdd,
	0x29: ir.OpSubtract,
	0x21: ir.OpBitwiseAnd,
	0x09: ir.OpBitwiseOr,
	0x31: ir.OpBitwiseXor,
}

var binaryNames = map[ir.Op]string{
	ir.OpAdd:        "add",
	ir.OpSubtract:   "sub",
	ir.OpMultiply:   "imul",
	ir.OpBitwiseAnd: "and",
	ir.OpBitwiseOr:  "or",
	ir.OpBitwiseXor: "xor",
}

var setccNames = map[byte]string{
	0x94: "sete", 0x95: "setne", 0x9C: "setl", 0x9F: "setg", 0x9E: "setle", 0x9D: "setge",
}

// decoder walks .text. textRVA and imageBase turn relative and
// absolute operands into RVAs.
type decoder struct {
	code      []byte
	mode64    bool
	textRVA   uint32
	imageBase uint64
}

// decode reads the instruction at pos. Bytes outside the subset the
// backend emits decode as a one-byte kUnknown.
func (d *decoder) decode(pos int) insn {
	code := d.code
	start := pos
	unknown := insn{kind: kUnknown, off: start, size: 1, text: fmt.Sprintf("db 0x%02x", code[start])}

	var rex byte
	if d.mode64 && code[pos]&0xF0 == 0x40 {
		rex = code[pos]
		pos++
	}
	op16 := false
	if pos < len(code) && code[pos] == 0x66 {
		op16 = true
		pos++
	}
	if pos >= len(code) {
		return unknown
	}
	w := rex&0x08 != 0
	rexR := byte(0)
	if rex&0x04 != 0 {
		rexR = 8
	}
	avail := func(n int) bool { return pos+n <= len(code) }
	u32 := func(at int) int32 { return int32(binary.LittleEndian.Uint32(code[at:])) }
	done := func(in insn, end int) insn {
		in.off, in.size, in.rex = start, end-start, w
		return in
	}

	opcode := code[pos]
	pos++
	switch {
	case opcode == 0x90:
		return done(insn{kind: kNop, text: "nop"}, pos)
	case opcode == 0xC3:
		return done(insn{kind: kRet, text: "ret"}, pos)
	case opcode == 0x99:
		name := "cdq"
		if w {
			name = "cqo"
		}
		return done(insn{kind: kSignExt, text: name}, pos)
	case opcode >= 0x50 && opcode <= 0x5F:
		reg := opcode & 7
		push := opcode < 0x58
		name := regName(reg, d.mode64)
		in := insn{kind: kUnknown, reg: reg}
		switch {
		case push && reg == 0:
			in.kind = kPushAX
		case push && reg == 5:
			in.kind = kPushBP
		case !push && reg == 0:
			in.kind = kPopAX
		case !push && reg == 3:
			in.kind = kPopBX
		case !push && reg == 5:
			in.kind = kPopBP
		}
		if push {
			in.text = "push " + name
		} else {
			in.text = "pop " + name
		}
		return done(in, pos)
	case opcode == 0xB8:
		if w {
			if !avail(8) {
				return unknown
			}
			v := int64(binary.LittleEndian.Uint64(code[pos:]))
			return done(insn{kind: kMovImm, imm: v, text: fmt.Sprintf("mov rax, %#x", v)}, pos+8)
		}
		if !avail(4) {
			return unknown
		}
		v := int64(uint32(u32(pos)))
		return done(insn{kind: kMovImm, imm: v, text: fmt.Sprintf("mov %s, %#x", regName(0, d.mode64), v)}, pos+4)
	case opcode == 0xC7 && w:
		if !avail(5) || code[pos] != 0xC0 {
			return unknown
		}
		v := int64(u32(pos + 1))
		return done(insn{kind: kMovImm, imm: v, text: fmt.Sprintf("mov rax, %d", v)}, pos+5)
	case opcode == 0xE8 || opcode == 0xE9:
		if !avail(4) {
			return unknown
		}
		target := pos + 4 + int(u32(pos))
		in := insn{kind: kCall, imm: int64(target), text: fmt.Sprintf("call 0x%x", target)}
		if opcode == 0xE9 {
			in.kind, in.text = kJmp, fmt.Sprintf("jmp 0x%x", target)
		}
		return done(in, pos+4)
	case opcode == 0xFF:
		if !avail(5) || code[pos] != 0x15 {
			return unknown
		}
		slot := d.memoryRVA(pos+1, pos+5)
		return done(insn{kind: kCallImport, imm: int64(slot), text: fmt.Sprintf("call [%#x]", slot)}, pos+5)
	case (opcode == 0xA1 || opcode == 0xA3) && !d.mode64:
		if !avail(4) {
			return unknown
		}
		rva := int64(uint32(u32(pos))) - int64(d.imageBase)
		if opcode == 0xA1 {
			return done(insn{kind: kGlobalLoad, imm: rva, text: fmt.Sprintf("mov eax, [%#x]", rva)}, pos+4)
		}
		return done(insn{kind: kGlobalStore, imm: rva, text: fmt.Sprintf("mov [%#x], eax", rva)}, pos+4)
	case opcode == 0x81 || opcode == 0x83:
		if !avail(1) {
			return unknown
		}
		modrm := code[pos]
		size := 4
		if opcode == 0x83 {
			size = 1
		}
		if (modrm != 0xEC && modrm != 0xC4) || !avail(1+size) {
			return unknown
		}
		var n int64
		if size == 1 {
			n = int64(int8(code[pos+1]))
		} else {
			n = int64(u32(pos + 1))
		}
		sp := regName(4, d.mode64)
		if modrm == 0xEC {
			return done(insn{kind: kSubSP, imm: n, text: fmt.Sprintf("sub %s, %d", sp, n)}, pos+1+size)
		}
		return done(insn{kind: kAddSP, imm: n, text: fmt.Sprintf("add %s, %d", sp, n)}, pos+1+size)
	case opcode == 0xF7 || opcode == 0xD3:
		if !avail(1) {
			return unknown
		}
		a := regName(0, w)
		switch modrm := code[pos]; {
		case opcode == 0xF7 && modrm == 0xFB:
			return done(insn{kind: kIdiv, text: "idiv " + regName(3, w)}, pos+1)
		case opcode == 0xF7 && modrm == 0xD8:
			return done(insn{kind: kNeg, text: "neg " + a}, pos+1)
		case opcode == 0xF7 && modrm == 0xD0:
			return done(insn{kind: kNot, text: "not " + a}, pos+1)
		case opcode == 0xD3 && modrm == 0xE0:
			return done(insn{kind: kShift, op: ir.OpShiftLeft, text: "shl " + a + ", cl"}, pos+1)
		case opcode == 0xD3 && modrm == 0xF8:
			return done(insn{kind: kShift, op: ir.OpShiftRight, text: "sar " + a + ", cl"}, pos+1)
		}
		return unknown
	case opcode == 0x0F:
		return d.decode0F(pos, w, done, unknown)
	}
	return d.decodeModRM(opcode, pos, w, op16, rexR, done, unknown)
}

func (d *decoder) decode0F(pos int, w bool, done func(insn, int) insn, unknown insn) insn {
	code := d.code
	if pos+2 > len(code) {
		return unknown
	}
	second, modrm := code[pos], code[pos+1]
	a := regName(0, w)
	switch {
	case second == 0xAF && modrm == 0xC3:
		return done(insn{kind: kBinary, op: ir.OpMultiply, text: fmt.Sprintf("imul %s, %s", a, regName(3, w))}, pos+2)
	case second >= 0x90 && second <= 0x9F && modrm == 0xC0:
		for op, cc := range setccOps {
			if cc == second {
				return done(insn{kind: kSetcc, op: op, text: setccNames[cc] + " al"}, pos+2)
			}
		}
	case second == 0xB6 && modrm == 0xC0:
		return done(insn{kind: kMovzx, text: "movzx eax, al"}, pos+2)
	case (second == 0xBE || second == 0xBF) && (modrm == 0x00 || modrm == 0xC0):
		t, width := ir.Int8, "byte"
		if second == 0xBF {
			t, width = ir.Int16, "word"
		}
		if modrm == 0x00 {
			return done(insn{kind: kLoadInd, typ: t, text: fmt.Sprintf("movsx %s, %s [%s]", a, width, a)}, pos+2)
		}
		src := "ax"
		if second == 0xBE {
			src = "al"
		}
		return done(insn{kind: kExtend, typ: t, text: fmt.Sprintf("movsx %s, %s", a, src)}, pos+2)
	case (second == 0x84 || second == 0x85) && pos+5 <= len(code):
		target := pos + 5 + int(int32(binary.LittleEndian.Uint32(code[pos+1:])))
		name := "jz"
		if second == 0x85 {
			name = "jnz"
		}
		return done(insn{kind: kJcc, op: jccOp(second), imm: int64(target), text: fmt.Sprintf("%s 0x%x", name, target)}, pos+5)
	}
	return unknown
}

func jccOp(second byte) ir.Op {
	if second == 0x85 {
		return ir.OpBranchIfTrue
	}
	return ir.OpBranchIfFalse
}

// memoryRVA resolves the disp32 at field: RIP-relative in 64-bit mode,
// absolute in 32-bit mode.
func (d *decoder) memoryRVA(field, next int) uint32 {
	v := int32(binary.LittleEndian.Uint32(d.code[field:]))
	if d.mode64 {
		return uint32(int64(d.textRVA) + int64(next) + int64(v))
	}
	return uint32(uint64(uint32(v)) - d.imageBase)
}

func (d *decoder) decodeModRM(opcode byte, pos int, w, op16 bool, rexR byte, done func(insn, int) insn, unknown insn) insn {
	code := d.code
	if pos >= len(code) {
		return unknown
	}
	modrm := code[pos]
	mod, reg, rm := modrm>>6, (modrm>>3)&7|rexR, modrm&7
	pos++
	a, b := regName(0, w), regName(3, w)

	switch mod {
	case 3:
		switch {
		case opcode == 0x89 && reg == 2 && rm == 0:
			return done(insn{kind: kMovAXDX, text: fmt.Sprintf("mov %s, %s", a, regName(2, w))}, pos)
		case opcode == 0x89 && reg == 3 && rm == 1:
			return done(insn{kind: kMovCXBX, text: fmt.Sprintf("mov %s, %s", regName(1, w), b)}, pos)
		case opcode == 0x89 && reg == 4 && rm == 5:
			return done(insn{kind: kMovBPSP, text: fmt.Sprintf("mov %s, %s", regName(5, w), regName(4, w))}, pos)
		case opcode == 0x89 && reg == 5 && rm == 4:
			return done(insn{kind: kMovSPBP, text: fmt.Sprintf("mov %s, %s", regName(4, w), regName(5, w))}, pos)
		case opcode == 0x39 && reg == 3 && rm == 0:
			return done(insn{kind: kCmp, text: fmt.Sprintf("cmp %s, %s", a, b)}, pos)
		case opcode == 0x85 && reg == 0 && rm == 0:
			return done(insn{kind: kTest, text: fmt.Sprintf("test %s, %s", a, a)}, pos)
		case opcode == 0x63 && w && reg == 0 && rm == 0:
			return done(insn{kind: kExtend, typ: ir.Int32, text: "movsxd rax, eax"}, pos)
		case reg == 3 && rm == 0:
			if op, ok := binaryOpcodes[opcode]; ok {
				return done(insn{kind: kBinary, op: op, text: fmt.Sprintf("%s %s, %s", binaryNames[op], a, b)}, pos)
			}
		}
		return unknown

	case 0:
		switch {
		case rm == 0 && opcode == 0x8B && reg == 0:
			t := ir.Int32
			if w {
				t = ir.Int64
			}
			return done(insn{kind: kLoadInd, typ: t, text: fmt.Sprintf("mov %s, [%s]", a, regName(0, d.mode64))}, pos)
		case rm == 0 && opcode == 0x63 && w && reg == 0:
			return done(insn{kind: kLoadInd, typ: ir.Int32, text: "movsxd rax, dword [rax]"}, pos)
		case rm == 0 && opcode == 0x88 && reg == 3:
			return done(insn{kind: kStoreInd, typ: ir.Int8, text: "mov [" + regName(0, d.mode64) + "], bl"}, pos)
		case rm == 0 && opcode == 0x89 && reg == 3:
			t, src := ir.Int32, "ebx"
			switch {
			case w:
				t, src = ir.Int64, "rbx"
			case op16:
				t, src = ir.Int16, "bx"
			}
			return done(insn{kind: kStoreInd, typ: t, text: "mov [" + regName(0, d.mode64) + "], " + src}, pos)
		case rm == 5 && d.mode64 && (opcode == 0x8B || opcode == 0x89) && reg == 0 && pos+4 <= len(code):
			rva := d.memoryRVA(pos, pos+4)
			if opcode == 0x8B {
				return done(insn{kind: kGlobalLoad, imm: int64(rva), text: fmt.Sprintf("mov %s, [rip+%#x]", a, rva)}, pos+4)
			}
			return done(insn{kind: kGlobalStore, imm: int64(rva), text: fmt.Sprintf("mov [rip+%#x], %s", rva, a)}, pos+4)
		}
		return unknown

	default:
		var disp int
		switch {
		case rm == 4 && mod == 2:
			if pos+5 > len(code) || code[pos] != 0x24 {
				return unknown
			}
			disp = int(int32(binary.LittleEndian.Uint32(code[pos+1:])))
			k := kStackLoad
			text := fmt.Sprintf("mov %s, [%s+%d]", regName(reg, w), regName(4, d.mode64), disp)
			switch opcode {
			case 0x89:
				k = kStackStore
				text = fmt.Sprintf("mov [%s+%d], %s", regName(4, d.mode64), disp, regName(reg, w))
			case 0x8B:
			default:
				return unknown
			}
			return done(insn{kind: k, reg: reg, disp: disp, text: text}, pos+5)
		case rm == 5 && mod == 1:
			if pos+1 > len(code) {
				return unknown
			}
			disp = int(int8(code[pos]))
			pos++
		case rm == 5 && mod == 2:
			if pos+4 > len(code) {
				return unknown
			}
			disp = int(int32(binary.LittleEndian.Uint32(code[pos:])))
			pos += 4
		default:
			return unknown
		}
		bp := regName(5, d.mode64)
		switch opcode {
		case 0x8B:
			return done(insn{kind: kFrameLoad, reg: reg, disp: disp, text: fmt.Sprintf("mov %s, [%s%+d]", regName(reg, w), bp, disp)}, pos)
		case 0x89:
			return done(insn{kind: kFrameStore, reg: reg, disp: disp, text: fmt.Sprintf("mov [%s%+d], %s", bp, disp, regName(reg, w))}, pos)
		case 0x8D:
			return done(insn{kind: kFrameLea, reg: reg, disp: disp, text: fmt.Sprintf("lea %s, [%s%+d]", regName(reg, w), bp, disp)}, pos)
		}
		return unknown
	}
}
