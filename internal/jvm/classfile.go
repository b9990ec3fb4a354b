package jvm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/mapper"
)

type fieldInfo struct {
	access     uint16
	name       uint16
	descriptor uint16
	constant   uint16 // ConstantValue index, 0 when absent
}

type methodInfo struct {
	access     uint16
	name       uint16
	descriptor uint16
	code       methodCode
}

// classBuilder holds all per-compile state for one class.
type classBuilder struct {
	prog      *ir.Program
	mapper    *mapper.Mapper
	opts      Options
	pool      *ConstantPool
	className string

	thisClass  uint16
	superClass uint16
	fields     []fieldInfo
	methods    []methodInfo
	codeName   uint16
	sourceName uint16
	sourceFile uint16
	valueName  uint16
}

func newClassBuilder(p *ir.Program, m *mapper.Mapper, opts Options) *classBuilder {
	name := p.Name
	if name == "" {
		name = "Main"
	}
	return &classBuilder{
		prog:      p,
		mapper:    m,
		opts:      opts,
		pool:      newConstantPool(),
		className: internalName(name),
	}
}

func (c *classBuilder) build() error {
	c.thisClass = c.pool.Class(c.className)
	c.superClass = c.pool.Class(objectClass)

	for _, g := range c.prog.Globals {
		f := fieldInfo{
			access:     accPublic | accStatic,
			name:       c.pool.Utf8(g.Name),
			descriptor: c.pool.Utf8(TypeDescriptor(g.Type)),
		}
		if g.Init != nil {
			idx, err := c.constantValue(g)
			if err != nil {
				return err
			}
			f.constant = idx
		}
		if f.constant != 0 && c.valueName == 0 {
			c.valueName = c.pool.Utf8("ConstantValue")
		}
		c.fields = append(c.fields, f)
	}

	for i := range c.prog.Functions {
		fn := &c.prog.Functions[i]
		m := methodInfo{
			access:     accPublic | accStatic,
			name:       c.pool.Utf8(fn.Name),
			descriptor: c.pool.Utf8(MethodDescriptor(fn.Params, fn.Return)),
		}
		code, err := compileMethod(c, fn)
		if err != nil {
			return err
		}
		m.code = code
		c.methods = append(c.methods, m)
	}
	if len(c.methods) > 0 {
		c.codeName = c.pool.Utf8("Code")
	}
	if c.opts.SourceFile != "" {
		c.sourceName = c.pool.Utf8("SourceFile")
		c.sourceFile = c.pool.Utf8(c.opts.SourceFile)
	}

	if err := c.pool.Err(); err != nil {
		return backend.NewError(backend.ErrPoolOverflow, Name, "%v", err)
	}
	return nil
}

// constantValue returns the ConstantValue pool index for a static
// field, converting the initializer to the field's type when the value
// survives exactly. A null initializer of a reference field needs no
// entry and yields 0.
func (c *classBuilder) constantValue(g ir.Global) (uint16, error) {
	k := kindOf(g.Type)
	mismatch := func() (uint16, error) {
		return 0, backend.NewError(backend.ErrInvalidIR, Name,
			"global %s: initializer %s does not fit type %s", g.Name, g.Init, g.Type)
	}

	if _, null := g.Init.(ir.NullConst); null {
		if k == kindRef || k == kindString {
			return 0, nil
		}
		return mismatch()
	}
	if v, ok := g.Init.(ir.StringConst); ok {
		if k != kindString {
			return mismatch()
		}
		return c.pool.String(string(v)), nil
	}

	n, isInt := ir.IntValue(g.Init)
	var f float64
	switch v := g.Init.(type) {
	case ir.Float32Const:
		f = float64(v)
	case ir.Float64Const:
		f = float64(v)
	default:
		if !isInt {
			return mismatch()
		}
		f = float64(n)
	}

	switch k {
	case kindInt, kindLong:
		if !isInt {
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				return mismatch()
			}
			n = int64(f)
		}
		if !fitsInteger(g.Type, n) {
			return mismatch()
		}
		if k == kindLong {
			return c.pool.Long(n), nil
		}
		return c.pool.Integer(int32(n)), nil
	case kindFloat:
		if isInt && int64(float32(n)) != n {
			return mismatch()
		}
		return c.pool.Float(float32(f)), nil
	case kindDouble:
		if isInt && int64(f) != n {
			return mismatch()
		}
		return c.pool.Double(f), nil
	}
	return mismatch()
}

// fitsInteger reports whether n is representable in t, an integer or
// boolean type.
func fitsInteger(t ir.Type, n int64) bool {
	switch v := t.(type) {
	case ir.BooleanType:
		return n == 0 || n == 1
	case ir.IntegerType:
		if v.Bits >= 64 {
			return true
		}
		limit := int64(1) << (v.Bits - 1)
		return n >= -limit && n < limit
	}
	return false
}

// classWriter serializes big-endian class file structures.
type classWriter struct {
	buf bytes.Buffer
}

func (w *classWriter) u1(v byte) { w.buf.WriteByte(v) }
func (w *classWriter) u2(v uint16) { w.buf.Write(binary.BigEndian.AppendUint16(nil, v)) }
func (w *classWriter) u4(v uint32) { w.buf.Write(binary.BigEndian.AppendUint32(nil, v)) }
func (w *classWriter) u8(v uint64) { w.buf.Write(binary.BigEndian.AppendUint64(nil, v)) }

func (c *classBuilder) bytes() ([]byte, error) {
	w := &classWriter{}
	w.u4(classMagic)
	w.u2(c.opts.MinorVersion)
	w.u2(c.opts.MajorVersion)

	w.u2(uint16(c.pool.Count()))
	for _, e := range c.pool.entries {
		if err := writeEntry(w, e); err != nil {
			return nil, err
		}
	}

	w.u2(accPublic | accSuper)
	w.u2(c.thisClass)
	w.u2(c.superClass)
	w.u2(0) // interfaces

	w.u2(uint16(len(c.fields)))
	for _, f := range c.fields {
		w.u2(f.access)
		w.u2(f.name)
		w.u2(f.descriptor)
		if f.constant == 0 {
			w.u2(0)
			continue
		}
		w.u2(1)
		w.u2(c.valueName)
		w.u4(2)
		w.u2(f.constant)
	}

	w.u2(uint16(len(c.methods)))
	for _, m := range c.methods {
		w.u2(m.access)
		w.u2(m.name)
		w.u2(m.descriptor)
		w.u2(1)
		w.u2(c.codeName)
		w.u4(uint32(12 + len(m.code.code)))
		w.u2(uint16(m.code.maxStack))
		w.u2(uint16(m.code.maxLocals))
		w.u4(uint32(len(m.code.code)))
		w.buf.Write(m.code.code)
		w.u2(0) // exception table
		w.u2(0) // attributes
	}

	if c.sourceFile != 0 {
		w.u2(1)
		w.u2(c.sourceName)
		w.u4(2)
		w.u2(c.sourceFile)
	} else {
		w.u2(0)
	}
	return w.buf.Bytes(), nil
}

func writeEntry(w *classWriter, e poolEntry) error {
	w.u1(e.Tag)
	switch e.Tag {
	case tagUtf8:
		data := encodeModifiedUTF8(e.Text)
		if len(data) > 0xFFFF {
			return backend.NewError(backend.ErrPoolOverflow, Name, "utf8 constant of %d bytes exceeds 65535", len(data))
		}
		w.u2(uint16(len(data)))
		w.buf.Write(data)
	case tagClass, tagString:
		w.u2(e.Refs[0])
	case tagNameAndType, tagMethodref, tagFieldref:
		w.u2(e.Refs[0])
		w.u2(e.Refs[1])
	case tagInteger, tagFloat:
		w.u4(uint32(e.Value))
	case tagLong, tagDouble:
		w.u8(e.Value)
	default:
		return fmt.Errorf("jvm: cannot write constant tag %d", e.Tag)
	}
	return nil
}

// encodeModifiedUTF8 encodes s the way class files store strings: NUL as
// two bytes and supplementary characters as surrogate pairs.
func encodeModifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r == 0:
			out = append(out, 0xC0, 0x80)
		case r < 0x80:
			out = append(out, byte(r))
		case r < 0x800:
			out = append(out, 0xC0|byte(r>>6), 0x80|byte(r&0x3F))
		case r < 0x10000:
			out = append(out, 0xE0|byte(r>>12), 0x80|byte((r>>6)&0x3F), 0x80|byte(r&0x3F))
		default:
			r -= 0x10000
			for _, half := range []rune{0xD800 + (r >> 10), 0xDC00 + (r & 0x3FF)} {
				out = append(out, 0xE0|byte(half>>12), 0x80|byte((half>>6)&0x3F), 0x80|byte(half&0x3F))
			}
		}
	}
	return out
}

// decodeModifiedUTF8 is the inverse of encodeModifiedUTF8.
func decodeModifiedUTF8(data []byte) string {
	var units []rune
	for i := 0; i < len(data); {
		b := data[i]
		switch {
		case b < 0x80:
			units = append(units, rune(b))
			i++
		case b&0xE0 == 0xC0 && i+1 < len(data):
			units = append(units, rune(b&0x1F)<<6|rune(data[i+1]&0x3F))
			i += 2
		case b&0xF0 == 0xE0 && i+2 < len(data):
			units = append(units, rune(b&0x0F)<<12|rune(data[i+1]&0x3F)<<6|rune(data[i+2]&0x3F))
			i += 3
		default:
			units = append(units, utf8.RuneError)
			i++
		}
	}
	out := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		r := units[i]
		if r >= 0xD800 && r < 0xDC00 && i+1 < len(units) && units[i+1] >= 0xDC00 && units[i+1] < 0xE000 {
			r = 0x10000 + (r-0xD800)<<10 + (units[i+1] - 0xDC00)
			i++
		}
		out = append(out, r)
	}
	return string(out)
}
