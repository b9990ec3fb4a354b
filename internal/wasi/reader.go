package wasi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
)

// Reader recovers IR from a binary module. Only the function bodies and
// their signatures survive; memory, data and custom sections are skipped.
type Reader struct{}

var _ backend.Importer = Reader{}

// NewReader returns the WASI import adapter.
func NewReader() Reader { return Reader{} }

func (Reader) Name() string { return Name }

// irType maps a wasm value type back to IR.
func irType(vt byte) ir.Type {
	switch vt {
	case valI64:
		return ir.Int64
	case valF32:
		return ir.Float32
	case valF64:
		return ir.Float64
	}
	return ir.Int32
}

// decodeContext carries what a body decoder needs to name things.
type decodeContext struct {
	params    int
	funcNames []string
	globals   []string
}

// ImportInstruction decodes the instruction at the start of raw and
// returns it with the number of bytes consumed. Opcodes without an IR
// counterpart decode to a Comment naming the opcode.
func ImportInstruction(raw []byte) (ir.Instruction, int) {
	return decodeInstruction(raw, nil)
}

func decodeInstruction(raw []byte, ctx *decodeContext) (ir.Instruction, int) {
	if len(raw) == 0 {
		return ir.Comment("empty"), 0
	}
	op := raw[0]
	rest := raw[1:]

	uleb := func() (uint64, int, bool) {
		v, n, err := decodeLEB128U(rest)
		return v, n, err == nil
	}

	switch op {
	case opI32Const:
		v, n, err := decodeLEB128S(rest)
		if err != nil {
			return ir.Comment("truncated i32.const"), len(raw)
		}
		return ir.LoadConstant(ir.Int32Const(int32(v))), 1 + n
	case opI64Const:
		v, n, err := decodeLEB128S(rest)
		if err != nil {
			return ir.Comment("truncated i64.const"), len(raw)
		}
		return ir.LoadConstant(ir.Int64Const(v)), 1 + n
	case opF32Const:
		if len(rest) < 4 {
			return ir.Comment("truncated f32.const"), len(raw)
		}
		f := math.Float32frombits(binary.LittleEndian.Uint32(rest))
		return ir.LoadConstant(ir.Float32Const(f)), 5
	case opF64Const:
		if len(rest) < 8 {
			return ir.Comment("truncated f64.const"), len(raw)
		}
		f := math.Float64frombits(binary.LittleEndian.Uint64(rest))
		return ir.LoadConstant(ir.Float64Const(f)), 9
	case opLocalGet, opLocalSet:
		v, n, ok := uleb()
		if !ok {
			return ir.Comment("truncated local index"), len(raw)
		}
		params := 0
		if ctx != nil {
			params = ctx.params
		}
		get := op == opLocalGet
		if int(v) < params {
			if get {
				return ir.LoadArgument(uint32(v)), 1 + n
			}
			return ir.StoreArgument(uint32(v)), 1 + n
		}
		if get {
			return ir.LoadLocal(uint32(int(v) - params)), 1 + n
		}
		return ir.StoreLocal(uint32(int(v) - params)), 1 + n
	case opGlobalGet, opGlobalSet:
		v, n, ok := uleb()
		if !ok {
			return ir.Comment("truncated global index"), len(raw)
		}
		name := fmt.Sprintf("global_%d", v)
		if ctx != nil && int(v) < len(ctx.globals) {
			name = ctx.globals[v]
		}
		if op == opGlobalGet {
			return ir.LoadField(name), 1 + n
		}
		return ir.StoreField(name), 1 + n
	case opCall:
		v, n, ok := uleb()
		if !ok {
			return ir.Comment("truncated call"), len(raw)
		}
		name := fmt.Sprintf("func_%d", v)
		if ctx != nil && int(v) < len(ctx.funcNames) {
			name = ctx.funcNames[v]
		}
		return ir.Call(name), 1 + n
	case opReturn:
		return ir.Return(), 1
	case opDrop:
		return ir.Pop(), 1
	case opNop:
		return ir.Comment("nop"), 1
	}

	if in, ok := simpleOps[op]; ok {
		return in, 1
	}
	if t, ok := loadOps[op]; ok {
		return ir.LoadIndirect(t), 1 + skipMemarg(rest)
	}
	if t, ok := storeOps[op]; ok {
		return ir.StoreIndirect(t), 1 + skipMemarg(rest)
	}
	if conv, ok := convertOps[op]; ok {
		return ir.Convert(conv[0], conv[1]), 1
	}
	return ir.Comment(fmt.Sprintf("unknown opcode 0x%02X", op)), 1
}

func skipMemarg(rest []byte) int {
	_, n1, err := decodeLEB128U(rest)
	if err != nil {
		return len(rest)
	}
	_, n2, err := decodeLEB128U(rest[n1:])
	if err != nil {
		return len(rest)
	}
	return n1 + n2
}

var simpleOps = func() map[byte]ir.Instruction {
	m := make(map[byte]ir.Instruction)
	for op, ops := range binaryOps {
		for _, code := range ops {
			if code != 0 {
				m[code] = ir.Instruction{Op: op}
			}
		}
	}
	m[opF32Neg] = ir.Negate()
	m[opF64Neg] = ir.Negate()
	return m
}()

var loadOps = map[byte]ir.Type{
	opI32Load:    ir.Int32,
	opI64Load:    ir.Int64,
	opF32Load:    ir.Float32,
	opF64Load:    ir.Float64,
	opI32Load8S:  ir.Int8,
	opI32Load16S: ir.Int16,
}

var storeOps = map[byte]ir.Type{
	opI32Store:   ir.Int32,
	opI64Store:   ir.Int64,
	opF32Store:   ir.Float32,
	opF64Store:   ir.Float64,
	opI32Store8:  ir.Int8,
	opI32Store16: ir.Int16,
}

var convertOps = func() map[byte][2]ir.Type {
	m := make(map[byte][2]ir.Type)
	for pair, op := range conversions {
		m[op] = [2]ir.Type{irType(pair[0]), irType(pair[1])}
	}
	m[opI32Extend8S] = [2]ir.Type{ir.Int32, ir.Int8}
	m[opI32Extend16S] = [2]ir.Type{ir.Int32, ir.Int16}
	return m
}()

type rawModule struct {
	types     []funcSig
	imports   []string
	funcTypes []uint64
	globals   []byte
	exports   map[uint64]string
	bodies    [][]byte
}

// ImportProgram parses a binary module into a program. Exported functions
// keep their export names; the rest are named func_<index>.
func (Reader) ImportProgram(raw []byte) (*ir.Program, error) {
	if len(raw) < 8 || !bytes.Equal(raw[:4], wasmMagic) {
		return nil, fmt.Errorf("wasi: not a wasm module")
	}
	if !bytes.Equal(raw[4:8], wasmVersion) {
		return nil, fmt.Errorf("wasi: unsupported version % x", raw[4:8])
	}

	mod := &rawModule{exports: make(map[uint64]string)}
	data := raw[8:]
	for len(data) > 0 {
		id := data[0]
		size, n, err := decodeLEB128U(data[1:])
		if err != nil {
			return nil, fmt.Errorf("wasi: section %d size: %w", id, err)
		}
		start := 1 + n
		if uint64(len(data)-start) < size {
			return nil, fmt.Errorf("wasi: section %d declares %d bytes, %d remain", id, size, len(data)-start)
		}
		payload := data[start : start+int(size)]
		if err := mod.readSection(id, payload); err != nil {
			return nil, fmt.Errorf("wasi: section %d: %w", id, err)
		}
		data = data[start+int(size):]
	}
	return mod.program()
}

// sectionReader walks a section payload.
type sectionReader struct {
	buf []byte
	err error
}

func (r *sectionReader) u32() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := decodeLEB128U(r.buf)
	if err != nil {
		r.err = err
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *sectionReader) byte1() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) == 0 {
		r.err = errTruncated
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *sectionReader) bytesN(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if uint64(len(r.buf)) < n {
		r.err = errTruncated
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *sectionReader) name() string { return string(r.bytesN(r.u32())) }

// skipConstExpr advances past an init expression terminated by end.
func (r *sectionReader) skipConstExpr() {
	for r.err == nil {
		_, n := decodeInstruction(r.buf, nil)
		if n == 0 {
			r.err = errTruncated
			return
		}
		end := r.buf[0] == opEnd
		r.buf = r.buf[n:]
		if end {
			return
		}
	}
}

func (m *rawModule) readSection(id byte, payload []byte) error {
	r := &sectionReader{buf: payload}
	switch id {
	case sectionType:
		count := r.u32()
		for i := uint64(0); i < count && r.err == nil; i++ {
			if form := r.byte1(); form != funcTypeForm && r.err == nil {
				return fmt.Errorf("type %d: form 0x%02X", i, form)
			}
			params := append([]byte(nil), r.bytesN(r.u32())...)
			results := append([]byte(nil), r.bytesN(r.u32())...)
			m.types = append(m.types, funcSig{params: params, results: results})
		}
	case sectionImport:
		count := r.u32()
		for i := uint64(0); i < count && r.err == nil; i++ {
			r.name()
			field := r.name()
			switch kind := r.byte1(); kind {
			case kindFunc:
				r.u32()
				m.imports = append(m.imports, field)
			case kindMemory:
				if flags := r.byte1(); flags&1 != 0 {
					r.u32()
				}
				r.u32()
			case kindGlobal:
				r.byte1()
				r.byte1()
			default:
				r.u32()
				r.u32()
			}
		}
	case sectionFunction:
		count := r.u32()
		for i := uint64(0); i < count && r.err == nil; i++ {
			m.funcTypes = append(m.funcTypes, r.u32())
		}
	case sectionGlobal:
		count := r.u32()
		for i := uint64(0); i < count && r.err == nil; i++ {
			m.globals = append(m.globals, r.byte1())
			r.byte1()
			r.skipConstExpr()
		}
	case sectionExport:
		count := r.u32()
		for i := uint64(0); i < count && r.err == nil; i++ {
			name := r.name()
			kind := r.byte1()
			idx := r.u32()
			if kind == kindFunc {
				m.exports[idx] = name
			}
		}
	case sectionCode:
		count := r.u32()
		for i := uint64(0); i < count && r.err == nil; i++ {
			m.bodies = append(m.bodies, r.bytesN(r.u32()))
		}
	}
	return r.err
}

func (m *rawModule) program() (*ir.Program, error) {
	if len(m.bodies) != len(m.funcTypes) {
		return nil, fmt.Errorf("wasi: %d function declarations but %d bodies", len(m.funcTypes), len(m.bodies))
	}

	names := append([]string(nil), m.imports...)
	for i := range m.funcTypes {
		idx := uint64(len(m.imports) + i)
		name, ok := m.exports[idx]
		if !ok {
			name = fmt.Sprintf("func_%d", idx)
		}
		names = append(names, name)
	}
	globals := make([]string, len(m.globals))
	for i := range m.globals {
		globals[i] = fmt.Sprintf("global_%d", i)
	}

	p := &ir.Program{Name: "module"}
	for i, vt := range m.globals {
		p.Globals = append(p.Globals, ir.Global{Name: globals[i], Type: irType(vt)})
	}
	for i, typeIdx := range m.funcTypes {
		if typeIdx >= uint64(len(m.types)) {
			return nil, fmt.Errorf("wasi: function %d references type %d", i, typeIdx)
		}
		sig := m.types[typeIdx]
		fn := ir.Function{Name: names[len(m.imports)+i]}
		for _, vt := range sig.params {
			fn.Params = append(fn.Params, irType(vt))
		}
		if len(sig.results) > 0 {
			fn.Return = irType(sig.results[0])
		}
		ctx := &decodeContext{params: len(sig.params), funcNames: names, globals: globals}
		if err := decodeBody(&fn, m.bodies[i], ctx); err != nil {
			return nil, fmt.Errorf("wasi: function %s: %w", fn.Name, err)
		}
		p.Functions = append(p.Functions, fn)
	}
	return p, nil
}

// decodeBody fills Locals and Body. The trailing end opcode is dropped.
func decodeBody(fn *ir.Function, body []byte, ctx *decodeContext) error {
	r := &sectionReader{buf: body}
	groups := r.u32()
	for i := uint64(0); i < groups && r.err == nil; i++ {
		n := r.u32()
		vt := r.byte1()
		for j := uint64(0); j < n; j++ {
			fn.Locals = append(fn.Locals, irType(vt))
		}
	}
	if r.err != nil {
		return r.err
	}
	code := r.buf
	if len(code) > 0 && code[len(code)-1] == opEnd {
		code = code[:len(code)-1]
	}
	for len(code) > 0 {
		in, n := decodeInstruction(code, ctx)
		if n == 0 {
			break
		}
		fn.Body = append(fn.Body, in)
		code = code[n:]
	}
	return nil
}
