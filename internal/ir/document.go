package ir

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Document is the on-disk form of a Program. YAML and JSON share it:
// JSON input is read through the YAML decoder.
//
//	name: Const42
//	functions:
//	  - name: _start
//	    returns: int32
//	    locals: [int32]
//	    body:
//	      - { op: load_constant, value: { int32: 42 } }
//	      - { op: store_local, index: 0 }
//	      - { op: load_local, index: 0 }
//	      - { op: return }
type Document struct {
	Name      string        `yaml:"name" json:"name"`
	Globals   []GlobalDoc   `yaml:"globals,omitempty" json:"globals,omitempty"`
	Functions []FunctionDoc `yaml:"functions" json:"functions"`
}

// GlobalDoc is the document form of a Global.
type GlobalDoc struct {
	Name string       `yaml:"name" json:"name"`
	Type string       `yaml:"type" json:"type"`
	Init *ConstantDoc `yaml:"init,omitempty" json:"init,omitempty"`
}

// FunctionDoc is the document form of a Function.
type FunctionDoc struct {
	Name    string           `yaml:"name" json:"name"`
	Params  []string         `yaml:"params,omitempty" json:"params,omitempty"`
	Returns string           `yaml:"returns,omitempty" json:"returns,omitempty"`
	Locals  []string         `yaml:"locals,omitempty" json:"locals,omitempty"`
	Body    []InstructionDoc `yaml:"body" json:"body"`
}

// InstructionDoc is the document form of an Instruction.
type InstructionDoc struct {
	Op     string       `yaml:"op" json:"op"`
	Value  *ConstantDoc `yaml:"value,omitempty" json:"value,omitempty"`
	Index  *uint32      `yaml:"index,omitempty" json:"index,omitempty"`
	Label  string       `yaml:"label,omitempty" json:"label,omitempty"`
	Symbol string       `yaml:"symbol,omitempty" json:"symbol,omitempty"`
	Text   string       `yaml:"text,omitempty" json:"text,omitempty"`
	Type   string       `yaml:"type,omitempty" json:"type,omitempty"`
	From   string       `yaml:"from,omitempty" json:"from,omitempty"`
}

// ConstantDoc holds exactly one literal.
type ConstantDoc struct {
	Int8    *int8    `yaml:"int8,omitempty" json:"int8,omitempty"`
	Int16   *int16   `yaml:"int16,omitempty" json:"int16,omitempty"`
	Int32   *int32   `yaml:"int32,omitempty" json:"int32,omitempty"`
	Int64   *int64   `yaml:"int64,omitempty" json:"int64,omitempty"`
	Float32 *float32 `yaml:"float32,omitempty" json:"float32,omitempty"`
	Float64 *float64 `yaml:"float64,omitempty" json:"float64,omitempty"`
	Bool    *bool    `yaml:"bool,omitempty" json:"bool,omitempty"`
	String  *string  `yaml:"string,omitempty" json:"string,omitempty"`
	Null    bool     `yaml:"null,omitempty" json:"null,omitempty"`
}

// DecodeDocument reads a YAML or JSON program document.
// Unknown fields are rejected.
func DecodeDocument(r io.Reader) (*Program, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode program document: %w", err)
	}
	return doc.Program()
}

// EncodeDocument writes p as a YAML document.
func EncodeDocument(w io.Writer, p *Program) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewDocument(p)); err != nil {
		return fmt.Errorf("encode program document: %w", err)
	}
	return enc.Close()
}

// NewDocument converts a Program to its document form.
func NewDocument(p *Program) Document {
	doc := Document{Name: p.Name}
	for _, g := range p.Globals {
		gd := GlobalDoc{Name: g.Name, Type: typeString(g.Type)}
		if g.Init != nil {
			gd.Init = newConstantDoc(g.Init)
		}
		doc.Globals = append(doc.Globals, gd)
	}
	for _, fn := range p.Functions {
		fd := FunctionDoc{Name: fn.Name, Params: typeStrings(fn.Params), Locals: typeStrings(fn.Locals)}
		if fn.Return != nil {
			fd.Returns = fn.Return.String()
		}
		fd.Body = make([]InstructionDoc, len(fn.Body))
		for i, in := range fn.Body {
			fd.Body[i] = newInstructionDoc(in)
		}
		doc.Functions = append(doc.Functions, fd)
	}
	return doc
}

// Program converts the document to a Program.
func (d *Document) Program() (*Program, error) {
	p := &Program{Name: d.Name}

	for _, gd := range d.Globals {
		t, err := ParseType(gd.Type)
		if err != nil {
			return nil, fmt.Errorf("global %q: %w", gd.Name, err)
		}
		g := Global{Name: gd.Name, Type: t}
		if gd.Init != nil {
			if g.Init, err = gd.Init.Constant(); err != nil {
				return nil, fmt.Errorf("global %q: %w", gd.Name, err)
			}
		}
		p.Globals = append(p.Globals, g)
	}

	for _, fd := range d.Functions {
		fn, err := fd.function()
		if err != nil {
			return nil, fmt.Errorf("function %q: %w", fd.Name, err)
		}
		p.Functions = append(p.Functions, fn)
	}
	return p, nil
}

func (fd *FunctionDoc) function() (Function, error) {
	fn := Function{Name: fd.Name}
	var err error
	if fn.Params, err = parseTypes(fd.Params); err != nil {
		return fn, fmt.Errorf("params: %w", err)
	}
	if fn.Locals, err = parseTypes(fd.Locals); err != nil {
		return fn, fmt.Errorf("locals: %w", err)
	}
	if fd.Returns != "" && fd.Returns != "void" {
		if fn.Return, err = ParseType(fd.Returns); err != nil {
			return fn, fmt.Errorf("returns: %w", err)
		}
	}
	fn.Body = make([]Instruction, 0, len(fd.Body))
	for i, id := range fd.Body {
		in, err := id.Instruction()
		if err != nil {
			return fn, fmt.Errorf("body[%d]: %w", i, err)
		}
		fn.Body = append(fn.Body, in)
	}
	return fn, nil
}

// Instruction converts the document form to an Instruction.
func (d *InstructionDoc) Instruction() (Instruction, error) {
	op, err := ParseOp(d.Op)
	if err != nil {
		return Instruction{}, err
	}
	in := Instruction{Op: op, Label: d.Label, Symbol: d.Symbol, Text: d.Text}

	switch op {
	case OpLoadConstant:
		if d.Value == nil {
			return in, fmt.Errorf("%s requires value", op)
		}
		if in.Const, err = d.Value.Constant(); err != nil {
			return in, err
		}
	case OpLoadLocal, OpStoreLocal, OpLoadArgument, OpStoreArgument, OpLoadAddress:
		if d.Index == nil {
			return in, fmt.Errorf("%s requires index", op)
		}
		in.Index = *d.Index
	case OpLoadIndirect, OpStoreIndirect, OpBox, OpUnbox:
		if in.Type, err = ParseType(d.Type); err != nil {
			return in, fmt.Errorf("%s: %w", op, err)
		}
	case OpConvert:
		if in.From, err = ParseType(d.From); err != nil {
			return in, fmt.Errorf("convert from: %w", err)
		}
		if in.Type, err = ParseType(d.Type); err != nil {
			return in, fmt.Errorf("convert to: %w", err)
		}
	}
	return in, nil
}

// Constant converts the document form to a Constant.
func (c *ConstantDoc) Constant() (Constant, error) {
	var out []Constant
	if c.Int8 != nil {
		out = append(out, Int8Const(*c.Int8))
	}
	if c.Int16 != nil {
		out = append(out, Int16Const(*c.Int16))
	}
	if c.Int32 != nil {
		out = append(out, Int32Const(*c.Int32))
	}
	if c.Int64 != nil {
		out = append(out, Int64Const(*c.Int64))
	}
	if c.Float32 != nil {
		out = append(out, Float32Const(*c.Float32))
	}
	if c.Float64 != nil {
		out = append(out, Float64Const(*c.Float64))
	}
	if c.Bool != nil {
		out = append(out, BoolConst(*c.Bool))
	}
	if c.String != nil {
		out = append(out, StringConst(*c.String))
	}
	if c.Null {
		out = append(out, Null)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("constant must hold exactly one value, got %d", len(out))
	}
	return out[0], nil
}

func newInstructionDoc(in Instruction) InstructionDoc {
	d := InstructionDoc{Op: snakeCase(in.Op.String())}
	switch in.Op {
	case OpLoadConstant:
		d.Value = newConstantDoc(in.Const)
	case OpStringConstant, OpComment:
		d.Text = in.Text
	case OpLoadLocal, OpStoreLocal, OpLoadArgument, OpStoreArgument, OpLoadAddress:
		idx := in.Index
		d.Index = &idx
	case OpBranch, OpBranchIfTrue, OpBranchIfFalse, OpLabel:
		d.Label = in.Label
	case OpCall, OpLoadField, OpStoreField, OpNewObject:
		d.Symbol = in.Symbol
	case OpLoadIndirect, OpStoreIndirect, OpBox, OpUnbox:
		d.Type = typeString(in.Type)
	case OpConvert:
		d.From = typeString(in.From)
		d.Type = typeString(in.Type)
	}
	return d
}

func newConstantDoc(c Constant) *ConstantDoc {
	d := &ConstantDoc{}
	switch v := c.(type) {
	case Int8Const:
		x := int8(v)
		d.Int8 = &x
	case Int16Const:
		x := int16(v)
		d.Int16 = &x
	case Int32Const:
		x := int32(v)
		d.Int32 = &x
	case Int64Const:
		x := int64(v)
		d.Int64 = &x
	case Float32Const:
		x := float32(v)
		d.Float32 = &x
	case Float64Const:
		x := float64(v)
		d.Float64 = &x
	case BoolConst:
		x := bool(v)
		d.Bool = &x
	case StringConst:
		x := string(v)
		d.String = &x
	default:
		d.Null = true
	}
	return d
}

func parseTypes(names []string) ([]Type, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]Type, len(names))
	for i, n := range names {
		t, err := ParseType(n)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}

func typeStrings(ts []Type) []string {
	if len(ts) == 0 {
		return nil
	}
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = typeString(t)
	}
	return out
}

func snakeCase(s string) string {
	out := make([]byte, 0, len(s)+4)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 {
				out = append(out, '_')
			}
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
