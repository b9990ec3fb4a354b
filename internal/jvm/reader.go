package jvm

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
)

// Reader recovers IR from a class file. Attributes other than Code and
// ConstantValue are skipped.
type Reader struct{}

var _ backend.Importer = Reader{}

// NewReader returns the JVM import adapter.
func NewReader() Reader { return Reader{} }

func (Reader) Name() string { return Name }

// classFile is the parsed subset of a class file.
type classFile struct {
	major     uint16
	minor     uint16
	pool      []poolEntry // indexed by pool index; slot 0 and Long/Double tails are zero
	poolCount int
	thisClass string
	fields    []memberInfo
	methods   []memberInfo
}

type memberInfo struct {
	name       string
	descriptor string
	code       []byte
	constant   uint16
}

type byteReader struct {
	data []byte
	pos  int
	err  error
}

func (r *byteReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("truncated class file at offset %d", r.pos)
		return false
	}
	return true
}

func (r *byteReader) u1() byte {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

func (r *byteReader) u2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

func (r *byteReader) u4() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *byteReader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.data[r.pos : r.pos+n]
	r.pos += n
	return v
}

func parseClassFile(raw []byte) (*classFile, error) {
	r := &byteReader{data: raw}
	if magic := r.u4(); magic != classMagic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, fmt.Errorf("bad magic 0x%08X", magic)
	}
	cf := &classFile{minor: r.u2(), major: r.u2()}

	cf.poolCount = int(r.u2())
	cf.pool = make([]poolEntry, cf.poolCount)
	for i := 1; i < cf.poolCount && r.err == nil; i++ {
		e := poolEntry{Tag: r.u1()}
		switch e.Tag {
		case tagUtf8:
			e.Text = decodeModifiedUTF8(r.bytes(int(r.u2())))
		case tagClass, tagString:
			e.Refs[0] = r.u2()
		case tagNameAndType, tagMethodref, tagFieldref:
			e.Refs[0] = r.u2()
			e.Refs[1] = r.u2()
		case tagInteger, tagFloat:
			e.Value = uint64(r.u4())
		case tagLong, tagDouble:
			hi := uint64(r.u4())
			e.Value = hi<<32 | uint64(r.u4())
		case 11: // InterfaceMethodref
			r.u4()
		case 15: // MethodHandle
			r.u1()
			r.u2()
		case 16, 19, 20: // MethodType, Module, Package
			r.u2()
		case 17, 18: // Dynamic, InvokeDynamic
			r.u4()
		default:
			if r.err == nil {
				return nil, fmt.Errorf("unknown constant tag %d at index %d", e.Tag, i)
			}
		}
		cf.pool[i] = e
		if e.width() == 2 {
			i++
		}
	}

	r.u2() // access flags
	cf.thisClass = cf.className(r.u2())
	r.u2() // super class
	r.bytes(2 * int(r.u2()))

	cf.fields = cf.readMembers(r)
	cf.methods = cf.readMembers(r)
	if r.err != nil {
		return nil, r.err
	}
	return cf, nil
}

func (cf *classFile) entry(idx uint16) poolEntry {
	if int(idx) < len(cf.pool) {
		return cf.pool[idx]
	}
	return poolEntry{}
}

func (cf *classFile) utf8(idx uint16) string {
	return cf.entry(idx).Text
}

func (cf *classFile) className(idx uint16) string {
	return cf.utf8(cf.entry(idx).Refs[0])
}

// memberRef resolves a Fieldref or Methodref to (class, name, descriptor).
func (cf *classFile) memberRef(idx uint16) (class, name, desc string) {
	e := cf.entry(idx)
	nt := cf.entry(e.Refs[1])
	return cf.className(e.Refs[0]), cf.utf8(nt.Refs[0]), cf.utf8(nt.Refs[1])
}

func (cf *classFile) readMembers(r *byteReader) []memberInfo {
	count := int(r.u2())
	var out []memberInfo
	for i := 0; i < count && r.err == nil; i++ {
		r.u2() // access
		m := memberInfo{name: cf.utf8(r.u2()), descriptor: cf.utf8(r.u2())}
		attrs := int(r.u2())
		for j := 0; j < attrs && r.err == nil; j++ {
			name := cf.utf8(r.u2())
			body := r.bytes(int(r.u4()))
			switch name {
			case "Code":
				if len(body) >= 8 {
					n := int(binary.BigEndian.Uint32(body[4:]))
					if 8+n <= len(body) {
						m.code = body[8 : 8+n]
					}
				}
			case "ConstantValue":
				if len(body) == 2 {
					m.constant = binary.BigEndian.Uint16(body)
				}
			}
		}
		out = append(out, m)
	}
	return out
}

// ImportInstruction decodes the opcode at the start of raw without a
// constant pool; pool-referencing opcodes decode to comments.
func ImportInstruction(raw []byte) (ir.Instruction, int) {
	d := &codeDecoder{cf: &classFile{}, code: raw}
	in, n, _ := d.decode(0)
	return in, n
}

// codeDecoder turns one method body into IR.
type codeDecoder struct {
	cf         *classFile
	code       []byte
	argSlots   map[int]uint32
	paramSlots int
}

func (d *codeDecoder) u2(pos int) (uint16, bool) {
	if pos+2 > len(d.code) {
		return 0, false
	}
	return binary.BigEndian.Uint16(d.code[pos:]), true
}

func (d *codeDecoder) local(slot int, load bool) ir.Instruction {
	if idx, ok := d.argSlots[slot]; ok {
		if load {
			return ir.LoadArgument(idx)
		}
		return ir.StoreArgument(idx)
	}
	idx := uint32(slot - d.paramSlots)
	if slot < d.paramSlots {
		idx = uint32(slot)
	}
	if load {
		return ir.LoadLocal(idx)
	}
	return ir.StoreLocal(idx)
}

// decode returns the instruction at pos, its length, and the absolute
// branch target for jumps (-1 otherwise).
func (d *codeDecoder) decode(pos int) (ir.Instruction, int, int) {
	if pos >= len(d.code) {
		return ir.Comment("truncated"), 0, -1
	}
	op := d.code[pos]
	truncated := func() (ir.Instruction, int, int) {
		return ir.Comment(fmt.Sprintf("truncated opcode 0x%02X", op)), len(d.code) - pos, -1
	}

	switch {
	case op >= opIconstM1 && op <= opIconst5:
		return ir.LoadConstant(ir.Int32Const(int32(op) - int32(opIconst0))), 1, -1
	case op == opLconst0 || op == opLconst1:
		return ir.LoadConstant(ir.Int64Const(op - opLconst0)), 1, -1
	case op >= opFconst0 && op <= opFconst2:
		return ir.LoadConstant(ir.Float32Const(op - opFconst0)), 1, -1
	case op == opDconst0 || op == opDconst1:
		return ir.LoadConstant(ir.Float64Const(op - opDconst0)), 1, -1
	case op >= opIload0 && op < opIload0+20:
		return d.local(int(op-opIload0)%4, true), 1, -1
	case op >= opIstore0 && op < opIstore0+20:
		return d.local(int(op-opIstore0)%4, false), 1, -1
	case op >= opIload && op < opIload+5, op >= opIstore && op < opIstore+5:
		if pos+1 >= len(d.code) {
			return truncated()
		}
		return d.local(int(d.code[pos+1]), op < opIstore), 2, -1
	case op >= opIfeq && op <= opGoto || op == opIfnull || op == opIfnonnull:
		off, ok := d.u2(pos + 1)
		if !ok {
			return truncated()
		}
		target := pos + int(int16(off))
		return d.jump(op, target), 3, target
	case op == opGotoW:
		if pos+5 > len(d.code) {
			return truncated()
		}
		target := pos + int(int32(binary.BigEndian.Uint32(d.code[pos+1:])))
		return ir.Branch(labelName(target)), 5, target
	}

	if in, ok := simpleOpcodes[op]; ok {
		return in, 1, -1
	}

	switch op {
	case opBipush:
		if pos+1 >= len(d.code) {
			return truncated()
		}
		return ir.LoadConstant(ir.Int32Const(int8(d.code[pos+1]))), 2, -1
	case opSipush:
		v, ok := d.u2(pos + 1)
		if !ok {
			return truncated()
		}
		return ir.LoadConstant(ir.Int32Const(int16(v))), 3, -1
	case opLdc:
		if pos+1 >= len(d.code) {
			return truncated()
		}
		return d.loadConstant(uint16(d.code[pos+1])), 2, -1
	case opLdcW, opLdc2W:
		idx, ok := d.u2(pos + 1)
		if !ok {
			return truncated()
		}
		return d.loadConstant(idx), 3, -1
	case opGetstatic, opPutstatic, opGetfield, opPutfield:
		idx, ok := d.u2(pos + 1)
		if !ok {
			return truncated()
		}
		return d.field(op, idx), 3, -1
	case opInvokevirtual, opInvokespecial, opInvokestatic:
		idx, ok := d.u2(pos + 1)
		if !ok {
			return truncated()
		}
		return d.call(op, idx), 3, -1
	case opNew:
		idx, ok := d.u2(pos + 1)
		if !ok {
			return truncated()
		}
		return ir.NewObject(strings.ReplaceAll(d.cf.className(idx), "/", ".")), 3, -1
	case opCheckcast:
		return ir.Comment("checkcast"), 3, -1
	case opWide:
		if pos+4 > len(d.code) {
			return truncated()
		}
		inner := d.code[pos+1]
		slot, _ := d.u2(pos + 2)
		if inner >= opIload && inner < opIload+5 || inner >= opIstore && inner < opIstore+5 {
			return d.local(int(slot), inner < opIstore), 4, -1
		}
		return ir.Comment(fmt.Sprintf("wide opcode 0x%02X", inner)), 4, -1
	case opNop:
		return ir.Comment("nop"), 1, -1
	}
	return ir.Comment(fmt.Sprintf("unknown opcode 0x%02X", op)), 1, -1
}

func labelName(offset int) string {
	return fmt.Sprintf("L%d", offset)
}

func (d *codeDecoder) jump(op byte, target int) ir.Instruction {
	label := labelName(target)
	switch op {
	case opGoto:
		return ir.Branch(label)
	case opIfne, opIfnonnull:
		return ir.BranchIfTrue(label)
	case opIfeq, opIfnull:
		return ir.BranchIfFalse(label)
	}
	return ir.Comment(fmt.Sprintf("conditional 0x%02X to %s", op, label))
}

func (d *codeDecoder) loadConstant(idx uint16) ir.Instruction {
	e := d.cf.entry(idx)
	switch e.Tag {
	case tagInteger:
		return ir.LoadConstant(ir.Int32Const(int32(uint32(e.Value))))
	case tagFloat:
		return ir.LoadConstant(ir.Float32Const(math.Float32frombits(uint32(e.Value))))
	case tagLong:
		return ir.LoadConstant(ir.Int64Const(int64(e.Value)))
	case tagDouble:
		return ir.LoadConstant(ir.Float64Const(math.Float64frombits(e.Value)))
	case tagString:
		return ir.StringConstant(d.cf.utf8(e.Refs[0]))
	}
	return ir.Comment(fmt.Sprintf("ldc #%d", idx))
}

func (d *codeDecoder) field(op byte, idx uint16) ir.Instruction {
	class, name, desc := d.cf.memberRef(idx)
	symbol := name
	if class != d.cf.thisClass {
		symbol = strings.ReplaceAll(class, "/", ".") + "." + name + ":" + desc
	}
	if op == opGetstatic || op == opGetfield {
		return ir.LoadField(symbol)
	}
	return ir.StoreField(symbol)
}

func (d *codeDecoder) call(op byte, idx uint16) ir.Instruction {
	class, name, desc := d.cf.memberRef(idx)
	if class == d.cf.thisClass && op == opInvokestatic {
		return ir.Call(name)
	}
	if class == printStream {
		return ir.Call("java.lang.System.out." + name)
	}
	symbol := class + "." + name + ":" + desc
	if op == opInvokevirtual {
		symbol = "." + symbol
	}
	return ir.Call(symbol)
}

// simpleOpcodes are the operand-free opcodes with a direct IR form.
var simpleOpcodes = func() map[byte]ir.Instruction {
	m := map[byte]ir.Instruction{
		opAconstNull: ir.LoadConstant(ir.Null),
		opPop:        ir.Pop(),
		opPop2:       ir.Pop(),
		opDup:        ir.Duplicate(),
		opDup2:       ir.Duplicate(),
		opReturn:     ir.Return(),
	}
	for op, base := range arithmeticBase {
		for k := byte(0); k < 4; k++ {
			if k >= 2 && base >= opIshl {
				break
			}
			m[base+k] = ir.Instruction{Op: op}
		}
	}
	for k := byte(0); k < 4; k++ {
		m[opIneg+k] = ir.Negate()
	}
	for k := byte(0); k < 5; k++ {
		m[opIreturn+k] = ir.Return()
	}
	for pair, op := range conversionOps {
		m[op] = ir.Convert(kindType(pair[0]), kindType(pair[1]))
	}
	m[opI2b] = ir.Convert(ir.Int32, ir.Int8)
	m[opI2s] = ir.Convert(ir.Int32, ir.Int16)
	return m
}()

func kindType(k kind) ir.Type {
	switch k {
	case kindLong:
		return ir.Int64
	case kindFloat:
		return ir.Float32
	case kindDouble:
		return ir.Float64
	}
	return ir.Int32
}

// ImportProgram parses a class file into a program named after the class.
func (Reader) ImportProgram(raw []byte) (*ir.Program, error) {
	cf, err := parseClassFile(raw)
	if err != nil {
		return nil, fmt.Errorf("jvm: %w", err)
	}

	p := &ir.Program{Name: strings.ReplaceAll(cf.thisClass, "/", ".")}
	for _, f := range cf.fields {
		g := ir.Global{Name: f.name, Type: descriptorType(f.descriptor)}
		if f.constant != 0 {
			if in := (&codeDecoder{cf: cf}).loadConstant(f.constant); in.Op == ir.OpLoadConstant {
				g.Init = in.Const
			} else if in.Op == ir.OpStringConstant {
				g.Init = ir.StringConst(in.Text)
			}
		}
		p.Globals = append(p.Globals, g)
	}

	for _, m := range cf.methods {
		if m.code == nil {
			continue
		}
		params, ret, err := parseMethodDescriptor(m.descriptor)
		if err != nil {
			return nil, fmt.Errorf("jvm: method %s: %w", m.name, err)
		}
		fn := ir.Function{Name: m.name}
		d := &codeDecoder{cf: cf, code: m.code, argSlots: make(map[int]uint32)}
		for i, desc := range params {
			fn.Params = append(fn.Params, descriptorType(desc))
			d.argSlots[d.paramSlots] = uint32(i)
			d.paramSlots += descriptorKind(desc).slots()
		}
		if ret != "" {
			fn.Return = descriptorType(ret)
		}
		fn.Body = d.decodeAll()
		p.Functions = append(p.Functions, fn)
	}
	return p, nil
}

// decodeAll decodes the method and inserts a Label before every branch target.
func (d *codeDecoder) decodeAll() []ir.Instruction {
	type decoded struct {
		pos int
		in  ir.Instruction
	}
	var list []decoded
	targets := make(map[int]bool)
	for pos := 0; pos < len(d.code); {
		in, n, target := d.decode(pos)
		if n == 0 {
			break
		}
		if target >= 0 {
			targets[target] = true
		}
		list = append(list, decoded{pos, in})
		pos += n
	}

	var body []ir.Instruction
	for _, item := range list {
		if targets[item.pos] {
			body = append(body, ir.Label(labelName(item.pos)))
			delete(targets, item.pos)
		}
		body = append(body, item.in)
	}
	// Targets at the end of the code (or mid-instruction) still get a label.
	rest := make([]int, 0, len(targets))
	for t := range targets {
		rest = append(rest, t)
	}
	sort.Ints(rest)
	for _, t := range rest {
		body = append(body, ir.Label(labelName(t)))
	}
	return body
}
