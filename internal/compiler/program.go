// Package compiler turns CUE program descriptions into IR and lints
// programs before they reach a backend.
package compiler

import (
	"fmt"
	"math"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/polyasm/internal/ir"
)

// CompileSource compiles CUE source text and returns the program found
// under the top-level "program" field.
func CompileSource(filename string, src []byte) (*ir.Program, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	pv := v.LookupPath(cue.ParsePath("program"))
	if !pv.Exists() {
		return nil, &CompileError{
			Field:   "program",
			Message: "no top-level program field",
			Pos:     v.Pos(),
		}
	}
	return CompileProgram(pv)
}

// CompileProgram parses a CUE value into an ir.Program.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
//
// The value is the program struct itself:
//
//	program: {
//		name: "Const42"
//		functions: "_start": {
//			returns: "int32"
//			locals: ["int32"]
//			body: [
//				{op: "load_constant", value: int32: 42},
//				{op: "store_local", index: 0},
//				{op: "load_local", index: 0},
//				{op: "return"},
//			]
//		}
//	}
//
// Function and global names starting with an underscore must be quoted,
// otherwise CUE treats them as hidden fields.
func CompileProgram(v cue.Value) (*ir.Program, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	p := &ir.Program{}

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return nil, &CompileError{
			Field:   "name",
			Message: "name is required",
			Pos:     v.Pos(),
		}
	}
	name, err := nameVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	p.Name = name

	p.Globals, err = parseGlobals(v)
	if err != nil {
		return nil, err
	}

	p.Functions, err = parseFunctions(v)
	if err != nil {
		return nil, err
	}
	if len(p.Functions) == 0 {
		return nil, &CompileError{
			Field:   "functions",
			Message: "at least one function is required",
			Pos:     v.Pos(),
		}
	}

	return p, nil
}

// parseGlobals extracts global definitions (optional).
func parseGlobals(v cue.Value) ([]ir.Global, error) {
	globalsVal := v.LookupPath(cue.ParsePath("globals"))
	if !globalsVal.Exists() {
		return nil, nil
	}

	iter, err := globalsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var globals []ir.Global
	for iter.Next() {
		name := iter.Label()
		gv := iter.Value()
		field := "globals." + name

		g := ir.Global{Name: name}
		g.Type, err = parseType(gv.LookupPath(cue.ParsePath("type")), field+".type")
		if err != nil {
			return nil, err
		}

		initVal := gv.LookupPath(cue.ParsePath("init"))
		if initVal.Exists() {
			g.Init, err = parseConstant(initVal, field+".init")
			if err != nil {
				return nil, err
			}
		}
		globals = append(globals, g)
	}
	return globals, nil
}

// parseFunctions extracts functions in declaration order.
func parseFunctions(v cue.Value) ([]ir.Function, error) {
	functionsVal := v.LookupPath(cue.ParsePath("functions"))
	if !functionsVal.Exists() {
		return nil, nil
	}

	iter, err := functionsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var functions []ir.Function
	for iter.Next() {
		fn, err := parseFunction(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		functions = append(functions, fn)
	}
	return functions, nil
}

func parseFunction(name string, v cue.Value) (ir.Function, error) {
	field := "functions." + name
	fn := ir.Function{Name: name}

	var err error
	if fn.Params, err = parseTypeList(v, "params", field); err != nil {
		return fn, err
	}
	if fn.Locals, err = parseTypeList(v, "locals", field); err != nil {
		return fn, err
	}

	returnsVal := v.LookupPath(cue.ParsePath("returns"))
	if returnsVal.Exists() {
		if fn.Return, err = parseType(returnsVal, field+".returns"); err != nil {
			return fn, err
		}
	}

	bodyVal := v.LookupPath(cue.ParsePath("body"))
	if !bodyVal.Exists() {
		return fn, &CompileError{
			Field:   field + ".body",
			Message: "function body is required",
			Pos:     v.Pos(),
		}
	}
	bodyIter, err := bodyVal.List()
	if err != nil {
		return fn, formatCUEError(err)
	}
	for i := 0; bodyIter.Next(); i++ {
		in, err := parseInstruction(bodyIter.Value(), fmt.Sprintf("%s.body[%d]", field, i))
		if err != nil {
			return fn, err
		}
		fn.Body = append(fn.Body, in)
	}
	return fn, nil
}

func parseTypeList(v cue.Value, key, field string) ([]ir.Type, error) {
	listVal := v.LookupPath(cue.ParsePath(key))
	if !listVal.Exists() {
		return nil, nil
	}
	iter, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var types []ir.Type
	for i := 0; iter.Next(); i++ {
		t, err := parseType(iter.Value(), fmt.Sprintf("%s.%s[%d]", field, key, i))
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// parseType reads a type name such as "int32" or "[]string".
func parseType(v cue.Value, field string) (ir.Type, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: field, Message: "type is required", Pos: v.Pos()}
	}
	s, err := v.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	t, err := ir.ParseType(s)
	if err != nil {
		return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return t, nil
}

// parseInstruction reads one body entry: an op name plus the operand
// fields that op needs.
func parseInstruction(v cue.Value, field string) (ir.Instruction, error) {
	opStr, err := v.LookupPath(cue.ParsePath("op")).String()
	if err != nil {
		return ir.Instruction{}, &CompileError{Field: field + ".op", Message: "op is required", Pos: v.Pos()}
	}
	op, err := ir.ParseOp(opStr)
	if err != nil {
		return ir.Instruction{}, &CompileError{Field: field + ".op", Message: err.Error(), Pos: v.Pos()}
	}

	in := ir.Instruction{Op: op}
	str := func(key string) (string, error) {
		sv := v.LookupPath(cue.ParsePath(key))
		if !sv.Exists() {
			return "", &CompileError{
				Field:   field + "." + key,
				Message: fmt.Sprintf("%s requires %s", op, key),
				Pos:     v.Pos(),
			}
		}
		s, err := sv.String()
		if err != nil {
			return "", formatCUEError(err)
		}
		return s, nil
	}

	switch op {
	case ir.OpLoadConstant:
		valueVal := v.LookupPath(cue.ParsePath("value"))
		if !valueVal.Exists() {
			return in, &CompileError{Field: field + ".value", Message: "load_constant requires value", Pos: v.Pos()}
		}
		in.Const, err = parseConstant(valueVal, field+".value")
	case ir.OpStringConstant, ir.OpComment:
		in.Text, err = str("text")
	case ir.OpLoadLocal, ir.OpStoreLocal, ir.OpLoadArgument, ir.OpStoreArgument, ir.OpLoadAddress:
		in.Index, err = parseIndex(v, field)
	case ir.OpBranch, ir.OpBranchIfTrue, ir.OpBranchIfFalse, ir.OpLabel:
		in.Label, err = str("label")
	case ir.OpCall, ir.OpLoadField, ir.OpStoreField, ir.OpNewObject:
		in.Symbol, err = str("symbol")
	case ir.OpLoadIndirect, ir.OpStoreIndirect, ir.OpBox, ir.OpUnbox:
		in.Type, err = parseType(v.LookupPath(cue.ParsePath("type")), field+".type")
	case ir.OpConvert:
		if in.From, err = parseType(v.LookupPath(cue.ParsePath("from")), field+".from"); err == nil {
			in.Type, err = parseType(v.LookupPath(cue.ParsePath("type")), field+".type")
		}
	}
	return in, err
}

func parseIndex(v cue.Value, field string) (uint32, error) {
	iv := v.LookupPath(cue.ParsePath("index"))
	if !iv.Exists() {
		return 0, &CompileError{Field: field + ".index", Message: "index is required", Pos: v.Pos()}
	}
	n, err := iv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	if n < 0 || n > math.MaxUint32 {
		return 0, &CompileError{Field: field + ".index", Message: fmt.Sprintf("index %d out of range", n), Pos: iv.Pos()}
	}
	return uint32(n), nil
}

// parseConstant reads a single-key struct such as {int32: 42} or
// {string: "hi"}. {null: true} is the null reference.
func parseConstant(v cue.Value, field string) (ir.Constant, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.Constant
	for iter.Next() {
		c, err := constantOf(iter.Label(), iter.Value(), field)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if len(out) != 1 {
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("constant must hold exactly one value, got %d", len(out)),
			Pos:     v.Pos(),
		}
	}
	return out[0], nil
}

// intRanges bounds each integer constant kind.
var intRanges = map[string][2]int64{
	"int8":  {math.MinInt8, math.MaxInt8},
	"int16": {math.MinInt16, math.MaxInt16},
	"int32": {math.MinInt32, math.MaxInt32},
	"int64": {math.MinInt64, math.MaxInt64},
}

func constantOf(kind string, v cue.Value, field string) (ir.Constant, error) {
	field = field + "." + kind
	if r, ok := intRanges[kind]; ok {
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if n < r[0] || n > r[1] {
			return nil, &CompileError{Field: field, Message: fmt.Sprintf("%d does not fit in %s", n, kind), Pos: v.Pos()}
		}
		switch kind {
		case "int8":
			return ir.Int8Const(n), nil
		case "int16":
			return ir.Int16Const(n), nil
		case "int32":
			return ir.Int32Const(n), nil
		}
		return ir.Int64Const(n), nil
	}

	switch kind {
	case "float32", "float64":
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if kind == "float32" {
			return ir.Float32Const(f), nil
		}
		return ir.Float64Const(f), nil
	case "bool":
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.BoolConst(b), nil
	case "string":
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.StringConst(s), nil
	case "null":
		return ir.Null, nil
	}
	return nil, &CompileError{Field: field, Message: fmt.Sprintf("unknown constant kind %q", kind), Pos: v.Pos()}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
