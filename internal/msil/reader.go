package msil

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
)

// Reader parses IL text produced by this package, and the common subset
// of hand-written IL, back into IR.
type Reader struct{}

var _ backend.Importer = Reader{}

func NewReader() Reader { return Reader{} }

func (Reader) Name() string { return Name }

var methodModifiers = map[string]bool{
	".method":       true,
	"public":        true,
	"private":       true,
	"assembly":      true,
	"static":        true,
	"hidebysig":     true,
	"specialname":   true,
	"rtspecialname": true,
}

var simpleMnemonics = map[string]ir.Op{
	"add":   ir.OpAdd,
	"sub":   ir.OpSubtract,
	"mul":   ir.OpMultiply,
	"div":   ir.OpDivide,
	"rem":   ir.OpRemainder,
	"neg":   ir.OpNegate,
	"and":   ir.OpBitwiseAnd,
	"or":    ir.OpBitwiseOr,
	"xor":   ir.OpBitwiseXor,
	"not":   ir.OpBitwiseNot,
	"shl":   ir.OpShiftLeft,
	"shr":   ir.OpShiftRight,
	"ceq":   ir.OpCompareEqual,
	"clt":   ir.OpCompareLessThan,
	"cgt":   ir.OpCompareGreaterThan,
	"ret":   ir.OpReturn,
	"dup":   ir.OpDuplicate,
	"pop":   ir.OpPop,
}

var branchMnemonics = map[string]ir.Op{
	"br":      ir.OpBranch,
	"brtrue":  ir.OpBranchIfTrue,
	"brinst":  ir.OpBranchIfTrue,
	"brfalse": ir.OpBranchIfFalse,
	"brzero":  ir.OpBranchIfFalse,
	"brnull":  ir.OpBranchIfFalse,
}

var indexedMnemonics = map[string]ir.Op{
	"ldloc":  ir.OpLoadLocal,
	"stloc":  ir.OpStoreLocal,
	"ldarg":  ir.OpLoadArgument,
	"starg":  ir.OpStoreArgument,
	"ldloca": ir.OpLoadAddress,
}

var indirectTypes = map[string]ir.Type{
	"i1":  ir.Int8,
	"u1":  ir.Int8,
	"i2":  ir.Int16,
	"u2":  ir.Int16,
	"i4":  ir.Int32,
	"u4":  ir.Int32,
	"i8":  ir.Int64,
	"r4":  ir.Float32,
	"r8":  ir.Float64,
	"i":   ir.Pointer,
	"ref": ir.Object,
}

// parseType maps an IL type name to IR. Unknown names become custom
// types; void is nil.
func parseType(s string) ir.Type {
	s = strings.TrimSpace(s)
	switch s {
	case "void", "":
		return nil
	case "int8", "int16", "int32", "int64", "float32", "float64", "bool", "string", "object":
		t, _ := ir.ParseType(s)
		return t
	case "native int":
		return ir.Pointer
	}
	if elem, ok := strings.CutSuffix(s, "[]"); ok {
		return ir.ArrayOf(parseType(elem))
	}
	return ir.Custom(s)
}

func isLabel(line string) bool {
	name, ok := strings.CutSuffix(line, ":")
	return ok && name != "" && !strings.ContainsAny(name, " \t:\"")
}

// ImportInstruction decodes one line of a method body. Lines it does
// not understand come back as a Comment holding the line.
func ImportInstruction(line string) ir.Instruction {
	line = strings.TrimSpace(line)
	if text, ok := strings.CutPrefix(line, "//"); ok {
		return ir.Comment(strings.TrimPrefix(text, " "))
	}
	if isLabel(line) {
		return ir.Label(strings.TrimSuffix(line, ":"))
	}
	mnemonic, operand, _ := strings.Cut(line, " ")
	operand = strings.TrimSpace(operand)
	unknown := ir.Comment(line)

	if mnemonic == "ldnull" {
		return ir.LoadConstant(ir.Null)
	}
	if op, ok := simpleMnemonics[mnemonic]; ok {
		return ir.Instruction{Op: op}
	}
	if op, ok := branchMnemonics[strings.TrimSuffix(mnemonic, ".s")]; ok && operand != "" {
		return ir.Instruction{Op: op, Label: operand}
	}
	if in, ok := importIndexed(mnemonic, operand); ok {
		return in
	}
	if in, ok := importConstant(mnemonic, operand); ok {
		return in
	}

	switch {
	case strings.HasPrefix(mnemonic, "ldind."):
		if t, ok := indirectTypes[strings.TrimPrefix(mnemonic, "ldind.")]; ok {
			return ir.LoadIndirect(t)
		}
	case strings.HasPrefix(mnemonic, "stind."):
		if t, ok := indirectTypes[strings.TrimPrefix(mnemonic, "stind.")]; ok {
			return ir.StoreIndirect(t)
		}
	case strings.HasPrefix(mnemonic, "conv."):
		if t, ok := indirectTypes[strings.TrimPrefix(strings.TrimPrefix(mnemonic, "conv."), "ovf.")]; ok {
			return ir.Convert(ir.Int32, t)
		}
	}

	switch mnemonic {
	case "ldstr":
		if s, err := unquote(operand); err == nil {
			return ir.StringConstant(s)
		}
	case "call":
		if operand != "" {
			return ir.Call(callName(operand))
		}
	case "ldsfld", "ldfld":
		if operand != "" {
			return ir.LoadField(fieldName(mnemonic, operand))
		}
	case "stsfld", "stfld":
		if operand != "" {
			return ir.StoreField(fieldName(mnemonic, operand))
		}
	case "newobj":
		if name, ok := ctorType(operand); ok {
			return ir.NewObject(name)
		}
	case "box":
		return ir.Box(parseType(operand))
	case "unbox":
		return ir.Unbox(parseType(operand))
	case "unbox.any", "castclass":
		return ir.Convert(ir.Object, parseType(operand))
	}
	return unknown
}

func importIndexed(mnemonic, operand string) (ir.Instruction, bool) {
	base, suffix, hasSuffix := strings.Cut(mnemonic, ".")
	op, ok := indexedMnemonics[base]
	if !ok {
		return ir.Instruction{}, false
	}
	text := operand
	switch {
	case hasSuffix && suffix != "s":
		if operand != "" {
			return ir.Instruction{}, false
		}
		text = suffix
	case operand == "":
		return ir.Instruction{}, false
	}
	n, err := strconv.ParseUint(text, 10, 16)
	if err != nil {
		return ir.Instruction{}, false
	}
	return ir.Instruction{Op: op, Index: uint32(n)}, true
}

func importConstant(mnemonic, operand string) (ir.Instruction, bool) {
	switch mnemonic {
	case "ldc.i4", "ldc.i4.s":
		n, err := strconv.ParseInt(operand, 0, 32)
		if err != nil {
			return ir.Instruction{}, false
		}
		return ir.LoadConstant(ir.Int32Const(n)), true
	case "ldc.i4.m1", "ldc.i4.M1":
		return ir.LoadConstant(ir.Int32Const(-1)), true
	case "ldc.i8":
		n, err := strconv.ParseInt(operand, 0, 64)
		if err != nil {
			return ir.Instruction{}, false
		}
		return ir.LoadConstant(ir.Int64Const(n)), true
	case "ldc.r4":
		v, err := parseFloat(operand, 32)
		if err != nil {
			return ir.Instruction{}, false
		}
		return ir.LoadConstant(ir.Float32Const(v)), true
	case "ldc.r8":
		v, err := parseFloat(operand, 64)
		if err != nil {
			return ir.Instruction{}, false
		}
		return ir.LoadConstant(ir.Float64Const(v)), true
	}
	if digit, ok := strings.CutPrefix(mnemonic, "ldc.i4."); ok && len(digit) == 1 && digit[0] >= '0' && digit[0] <= '8' {
		return ir.LoadConstant(ir.Int32Const(digit[0] - '0')), true
	}
	return ir.Instruction{}, false
}

// parseFloat accepts decimal literals and the parenthesized byte form.
func parseFloat(s string, bits int) (float64, error) {
	inner, ok := strings.CutPrefix(s, "(")
	if !ok {
		return strconv.ParseFloat(s, bits)
	}
	fields := strings.Fields(strings.TrimSuffix(inner, ")"))
	if len(fields) != bits/8 {
		return 0, fmt.Errorf("want %d bytes, got %d", bits/8, len(fields))
	}
	var raw uint64
	for i, f := range fields {
		b, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return 0, err
		}
		raw |= b << (8 * i)
	}
	if bits == 32 {
		return float64(math.Float32frombits(uint32(raw))), nil
	}
	return math.Float64frombits(raw), nil
}

func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", errors.New("not a string literal")
	}
	body := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(body) {
			return "", errors.New("dangling escape")
		}
		switch body[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '"', '\\':
			b.WriteByte(body[i])
		case '0', '1', '2', '3':
			if i+2 >= len(body) {
				return "", errors.New("short octal escape")
			}
			n, err := strconv.ParseUint(body[i:i+3], 8, 8)
			if err != nil {
				return "", err
			}
			b.WriteByte(byte(n))
			i += 2
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String(), nil
}

// callName extracts the method name from "ret name(params)" call
// operands; bare mapped names pass through.
func callName(operand string) string {
	head, _, found := strings.Cut(operand, "(")
	if !found {
		return operand
	}
	fields := strings.Fields(head)
	return fields[len(fields)-1]
}

// fieldName drops the leading type from static field operands.
func fieldName(mnemonic, operand string) string {
	if mnemonic == "ldsfld" || mnemonic == "stsfld" {
		fields := strings.Fields(operand)
		return fields[len(fields)-1]
	}
	return operand
}

func ctorType(operand string) (string, bool) {
	rest, ok := strings.CutPrefix(operand, "instance void ")
	if !ok {
		return "", false
	}
	name, _, found := strings.Cut(rest, "::.ctor")
	return name, found && name != ""
}

// foldNegatedCompares recognizes the three-instruction comparisons the
// emitter writes for !=, <= and >=.
func foldNegatedCompares(body []ir.Instruction) []ir.Instruction {
	negated := map[ir.Op]ir.Op{
		ir.OpCompareEqual:       ir.OpCompareNotEqual,
		ir.OpCompareGreaterThan: ir.OpCompareLessEqual,
		ir.OpCompareLessThan:    ir.OpCompareGreaterEqual,
	}
	out := make([]ir.Instruction, 0, len(body))
	for i := 0; i < len(body); i++ {
		if op, ok := negated[body[i].Op]; ok && i+2 < len(body) &&
			body[i+1].Op == ir.OpLoadConstant && body[i+1].Const == ir.Constant(ir.Int32Const(0)) &&
			body[i+2].Op == ir.OpCompareEqual {
			out = append(out, ir.Instruction{Op: op})
			i += 2
			continue
		}
		out = append(out, body[i])
	}
	return out
}

// methodHeader parses ".method <modifiers> <ret> <name>(<params>) cil managed".
func methodHeader(line string) (ir.Function, error) {
	open := strings.Index(line, "(")
	closing := strings.LastIndex(line, ")")
	if open < 0 || closing < open {
		return ir.Function{}, fmt.Errorf("malformed method header %q", line)
	}
	var sig []string
	for _, f := range strings.Fields(line[:open]) {
		if !methodModifiers[f] {
			sig = append(sig, f)
		}
	}
	if len(sig) < 2 {
		return ir.Function{}, fmt.Errorf("method header %q lacks a return type", line)
	}
	fn := ir.Function{
		Name:   sig[len(sig)-1],
		Return: parseType(strings.Join(sig[:len(sig)-1], " ")),
	}
	if params := strings.TrimSpace(line[open+1 : closing]); params != "" {
		for _, p := range strings.Split(params, ",") {
			fn.Params = append(fn.Params, parseType(p))
		}
	}
	return fn, nil
}

// parseLocals reads ".locals init (int32 V_0, int64 V_1)".
func parseLocals(line string) []ir.Type {
	open := strings.Index(line, "(")
	closing := strings.LastIndex(line, ")")
	if open < 0 || closing < open {
		return nil
	}
	var out []ir.Type
	for _, decl := range strings.Split(line[open+1:closing], ",") {
		fields := strings.Fields(decl)
		if len(fields) > 1 {
			fields = fields[:len(fields)-1]
		}
		out = append(out, parseType(strings.Join(fields, " ")))
	}
	return out
}

// ImportProgram parses a whole IL file. The .cctor written for global
// initial values is folded back into Global.Init rather than imported
// as a function.
func (Reader) ImportProgram(raw []byte) (*ir.Program, error) {
	p := &ir.Program{Name: "module"}
	var (
		current  *ir.Function
		inBody   bool
		cctor    []ir.Instruction
		isCctor  bool
		lines    = strings.Split(string(raw), "\n")
		finished = func() {
			current.Body = foldNegatedCompares(current.Body)
			if isCctor {
				cctor = current.Body
			} else {
				p.Functions = append(p.Functions, *current)
			}
			current, inBody, isCctor = nil, false, false
		}
	)

	for n, text := range lines {
		line := strings.TrimSpace(text)
		if line == "" {
			continue
		}
		if current == nil {
			switch {
			case strings.HasPrefix(line, ".assembly extern"):
			case strings.HasPrefix(line, ".assembly "):
				fields := strings.Fields(line)
				p.Name = fields[1]
			case strings.HasPrefix(line, ".field "):
				fields := strings.Fields(strings.TrimPrefix(line, ".field"))
				var sig []string
				for _, f := range fields {
					if !methodModifiers[f] {
						sig = append(sig, f)
					}
				}
				if len(sig) < 2 {
					return nil, fmt.Errorf("line %d: malformed field %q", n+1, line)
				}
				p.Globals = append(p.Globals, ir.Global{
					Name: sig[len(sig)-1],
					Type: parseType(strings.Join(sig[:len(sig)-1], " ")),
				})
			case strings.HasPrefix(line, ".method "):
				fn, err := methodHeader(line)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", n+1, err)
				}
				current, isCctor = &fn, fn.Name == ".cctor"
			}
			continue
		}

		switch {
		case !inBody:
			if line != "{" {
				return nil, fmt.Errorf("line %d: expected '{' after method header", n+1)
			}
			inBody = true
		case line == "}":
			finished()
		case strings.HasPrefix(line, ".locals"):
			current.Locals = parseLocals(line)
		case strings.HasPrefix(line, "."):
			// .entrypoint, .maxstack
		default:
			current.Body = append(current.Body, ImportInstruction(line))
		}
	}
	if current != nil {
		return nil, fmt.Errorf("method %s is not terminated", current.Name)
	}

	for i := 0; i+1 < len(cctor); i++ {
		if cctor[i].Op != ir.OpLoadConstant || cctor[i+1].Op != ir.OpStoreField {
			continue
		}
		if g, ok := p.Global(cctor[i+1].Symbol); ok {
			g.Init = cctor[i].Const
		}
	}
	return p, nil
}
