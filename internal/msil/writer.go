package msil

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/roach88/polyasm/internal/ir"
)

const indent = "  "

// writer accumulates IL text line by line.
type writer struct {
	opts Options
	b    strings.Builder
}

func newWriter(opts Options) *writer {
	return &writer{opts: opts}
}

func (w *writer) bytes() []byte { return []byte(w.b.String()) }

func (w *writer) line(format string, args ...any) {
	fmt.Fprintf(&w.b, format, args...)
	w.b.WriteByte('\n')
}

func (w *writer) blank() { w.b.WriteByte('\n') }

// op writes an indented instruction with optional operand.
func (w *writer) op(mnemonic string, operand ...string) {
	w.b.WriteString(indent)
	w.b.WriteString(mnemonic)
	for _, o := range operand {
		w.b.WriteByte(' ')
		w.b.WriteString(o)
	}
	w.b.WriteByte('\n')
}

func (w *writer) label(name string) { w.line("%s:", name) }

func (w *writer) comment(text string) {
	for _, l := range strings.Split(text, "\n") {
		w.line("%s// %s", indent, l)
	}
}

func (w *writer) header(assembly string, executable bool) {
	w.line(".assembly extern mscorlib { .ver %d:0:0:0 }", w.opts.RuntimeVersion)
	w.line(".assembly %s {}", assembly)
	ext := "dll"
	if executable {
		ext = "exe"
	}
	w.line(".module %s.%s", assembly, ext)
}

// typeName returns the IL spelling of t; nil is void.
func typeName(t ir.Type) string {
	switch v := t.(type) {
	case nil:
		return "void"
	case ir.IntegerType:
		return fmt.Sprintf("int%d", v.Bits)
	case ir.FloatType:
		return fmt.Sprintf("float%d", v.Bits)
	case ir.BooleanType:
		return "bool"
	case ir.StringType:
		return "string"
	case ir.PointerType:
		return "native int"
	case ir.CustomType:
		return v.Name
	}
	return "object"
}

// boxName is the value type named by box and unbox.
func boxName(t ir.Type) string {
	switch v := t.(type) {
	case ir.IntegerType:
		if v.Bits == 64 {
			return "int64"
		}
		return "int32"
	case ir.FloatType, ir.BooleanType, ir.CustomType:
		return typeName(t)
	}
	return "object"
}

// indirectSuffix selects the ldind/stind variant for t.
func indirectSuffix(t ir.Type) string {
	switch v := t.(type) {
	case ir.IntegerType:
		if v.Bits == 64 {
			return "i8"
		}
		return "i4"
	case ir.BooleanType:
		return "i4"
	case ir.FloatType:
		if v.Bits == 64 {
			return "r8"
		}
		return "r4"
	case ir.PointerType:
		return "i"
	}
	return "ref"
}

// quote renders s as an IL string literal.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\%03o`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// floatLiteral writes finite values as decimals and everything else as
// the raw little-endian bytes form ilasm accepts.
func floatLiteral(v float64, bits int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		var raw uint64
		n := 8
		if bits == 32 {
			raw, n = uint64(math.Float32bits(float32(v))), 4
		} else {
			raw = math.Float64bits(v)
		}
		parts := make([]string, n)
		for i := range parts {
			parts[i] = fmt.Sprintf("%02X", byte(raw>>(8*i)))
		}
		return "(" + strings.Join(parts, " ") + ")"
	}
	s := strconv.FormatFloat(v, 'g', -1, bits)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
