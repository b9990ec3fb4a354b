package msil

import (
	"strconv"
	"strings"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/mapper"
)

// minMaxStack is the evaluation stack reservation ilasm assumes when
// .maxstack is omitted; computed depths never go below it.
const minMaxStack = 8

// moduleCompiler renders a whole program. Globals are written first,
// then a type initializer for those with initial values, then one
// method per function in declaration order.
type moduleCompiler struct {
	prog   *ir.Program
	mapper *mapper.Mapper
	w      *writer
}

func newModuleCompiler(p *ir.Program, m *mapper.Mapper, w *writer) *moduleCompiler {
	return &moduleCompiler{prog: p, mapper: m, w: w}
}

func (c *moduleCompiler) compile() error {
	name := c.prog.Name
	if name == "" {
		name = "module"
	}
	_, hasMain := c.prog.Function("main")
	c.w.header(name, hasMain)

	if len(c.prog.Globals) > 0 {
		c.w.blank()
		for _, g := range c.prog.Globals {
			c.w.line(".field public static %s %s", typeName(g.Type), g.Name)
		}
	}
	if err := c.typeInitializer(); err != nil {
		return err
	}

	for i := range c.prog.Functions {
		c.w.blank()
		if err := c.method(&c.prog.Functions[i]); err != nil {
			return err
		}
	}
	return nil
}

// typeInitializer stores each global's initial value on module load.
func (c *moduleCompiler) typeInitializer() error {
	var inits []ir.Global
	for _, g := range c.prog.Globals {
		if g.Init != nil {
			inits = append(inits, g)
		}
	}
	if len(inits) == 0 {
		return nil
	}
	c.w.blank()
	c.w.line(".method private hidebysig specialname rtspecialname static void .cctor() cil managed")
	c.w.line("{")
	c.w.line("%s.maxstack %d", indent, minMaxStack)
	fc := &functionCompiler{module: c, fn: &ir.Function{Name: ".cctor"}}
	for _, g := range inits {
		if err := fc.constant(-1, g.Init); err != nil {
			return err
		}
		c.w.op("stsfld", typeName(g.Type), g.Name)
	}
	c.w.op("ret")
	c.w.line("}")
	return nil
}

// returnType is the declared return, except that a main without one
// that still returns is treated as returning int32.
func returnType(fn *ir.Function) ir.Type {
	if fn.Return == nil && fn.Name == "main" && fn.HasReturn() {
		return ir.Int32
	}
	return fn.Return
}

func signature(fn *ir.Function) string {
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = typeName(p)
	}
	return typeName(returnType(fn)) + " " + fn.Name + "(" + strings.Join(params, ", ") + ")"
}

func (c *moduleCompiler) method(fn *ir.Function) error {
	w := c.w
	w.line(".method public static %s cil managed", signature(fn))
	w.line("{")
	if fn.Name == "main" {
		w.line("%s.entrypoint", indent)
	}
	w.line("%s.maxstack %d", indent, c.maxStack(fn))
	if n := fn.MaxLocal(); n > 0 {
		locals := make([]string, n)
		for i := range locals {
			t := ir.Int32
			if i < len(fn.Locals) {
				t = fn.Locals[i]
			}
			locals[i] = typeName(t) + " V_" + strconv.Itoa(i)
		}
		w.line("%s.locals init (%s)", indent, strings.Join(locals, ", "))
	}

	fc := &functionCompiler{module: c, fn: fn}
	for i, in := range fn.Body {
		if err := fc.lower(i, in); err != nil {
			return err
		}
	}
	w.line("}")
	return nil
}

// stackEffect returns the number of values in consumes and produces.
// Calls to functions outside the program are assumed to pop nothing,
// which can only overestimate the depth.
func (c *moduleCompiler) stackEffect(in ir.Instruction) (pops, pushes int) {
	switch in.Op {
	case ir.OpLoadConstant, ir.OpStringConstant, ir.OpLoadLocal, ir.OpLoadArgument,
		ir.OpLoadAddress, ir.OpNewObject:
		return 0, 1
	case ir.OpStoreLocal, ir.OpStoreArgument, ir.OpBranchIfTrue, ir.OpBranchIfFalse,
		ir.OpPop, ir.OpReturn:
		return 1, 0
	case ir.OpStoreIndirect:
		return 2, 0
	case ir.OpDuplicate:
		return 1, 2
	case ir.OpAdd, ir.OpSubtract, ir.OpMultiply, ir.OpDivide, ir.OpRemainder,
		ir.OpBitwiseAnd, ir.OpBitwiseOr, ir.OpBitwiseXor, ir.OpShiftLeft, ir.OpShiftRight:
		return 2, 1
	case ir.OpCompareEqual, ir.OpCompareLessThan, ir.OpCompareGreaterThan,
		ir.OpCompareNotEqual, ir.OpCompareLessEqual, ir.OpCompareGreaterEqual:
		return 2, 1
	case ir.OpNegate, ir.OpBitwiseNot, ir.OpLoadIndirect, ir.OpBox, ir.OpUnbox, ir.OpConvert:
		return 1, 1
	case ir.OpLoadField:
		if _, ok := c.prog.Global(in.Symbol); ok {
			return 0, 1
		}
		return 1, 1
	case ir.OpStoreField:
		if _, ok := c.prog.Global(in.Symbol); ok {
			return 1, 0
		}
		return 2, 0
	case ir.OpCall:
		callee, ok := c.prog.Function(c.mapper.MapTag(mapper.TagMSIL, in.Symbol))
		if !ok {
			return 0, 1
		}
		if returnType(callee) != nil {
			pushes = 1
		}
		return len(callee.Params), pushes
	}
	return 0, 0
}

// maxStack simulates the body in program order.
func (c *moduleCompiler) maxStack(fn *ir.Function) int {
	depth, peak := 0, 0
	for _, in := range fn.Body {
		pops, pushes := c.stackEffect(in)
		extra := 0
		if _, ok := negatedCompares[in.Op]; ok {
			// the ldc.i4.0 between the two comparisons
			extra = 1
		}
		depth = max(depth-pops, 0)
		peak = max(peak, depth+pushes+extra)
		depth += pushes
	}
	return max(peak, minMaxStack)
}

// functionCompiler lowers one body. Index -1 marks synthesized code.
type functionCompiler struct {
	module *moduleCompiler
	fn     *ir.Function
}

var simpleOps = map[ir.Op]string{
	ir.OpAdd:                "add",
	ir.OpSubtract:           "sub",
	ir.OpMultiply:           "mul",
	ir.OpDivide:             "div",
	ir.OpRemainder:          "rem",
	ir.OpNegate:             "neg",
	ir.OpBitwiseAnd:         "and",
	ir.OpBitwiseOr:          "or",
	ir.OpBitwiseXor:         "xor",
	ir.OpBitwiseNot:         "not",
	ir.OpShiftLeft:          "shl",
	ir.OpShiftRight:         "shr",
	ir.OpCompareEqual:       "ceq",
	ir.OpCompareLessThan:    "clt",
	ir.OpCompareGreaterThan: "cgt",
	ir.OpReturn:             "ret",
	ir.OpDuplicate:          "dup",
	ir.OpPop:                "pop",
}

// negatedCompares are lowered as the opposite comparison followed by
// a test against zero.
var negatedCompares = map[ir.Op]string{
	ir.OpCompareNotEqual:     "ceq",
	ir.OpCompareLessEqual:    "cgt",
	ir.OpCompareGreaterEqual: "clt",
}

var branchOps = map[ir.Op]string{
	ir.OpBranch:        "br",
	ir.OpBranchIfTrue:  "brtrue",
	ir.OpBranchIfFalse: "brfalse",
}

func (fc *functionCompiler) lower(i int, in ir.Instruction) error {
	w := fc.module.w
	if m, ok := simpleOps[in.Op]; ok {
		w.op(m)
		return nil
	}
	if m, ok := negatedCompares[in.Op]; ok {
		w.op(m)
		w.op("ldc.i4.0")
		w.op("ceq")
		return nil
	}
	if m, ok := branchOps[in.Op]; ok {
		w.op(m, in.Label)
		return nil
	}

	switch in.Op {
	case ir.OpLoadConstant:
		return fc.constant(i, in.Const)
	case ir.OpStringConstant:
		w.op("ldstr", quote(in.Text))
	case ir.OpLoadLocal:
		fc.indexed("ldloc", in.Index, true)
	case ir.OpStoreLocal:
		fc.indexed("stloc", in.Index, true)
	case ir.OpLoadArgument:
		fc.indexed("ldarg", in.Index, true)
	case ir.OpStoreArgument:
		fc.indexed("starg", in.Index, false)
	case ir.OpLoadAddress:
		fc.indexed("ldloca", in.Index, false)
	case ir.OpLoadIndirect:
		w.op("ldind." + indirectSuffix(in.Type))
	case ir.OpStoreIndirect:
		w.op("stind." + indirectSuffix(in.Type))
	case ir.OpLabel:
		w.label(in.Label)
	case ir.OpCall:
		fc.call(in.Symbol)
	case ir.OpLoadField:
		fc.field("ldsfld", "ldfld", in.Symbol)
	case ir.OpStoreField:
		fc.field("stsfld", "stfld", in.Symbol)
	case ir.OpNewObject:
		w.op("newobj", "instance void "+in.Symbol+"::.ctor()")
	case ir.OpBox:
		w.op("box", boxName(in.Type))
	case ir.OpUnbox:
		w.op("unbox", boxName(in.Type))
	case ir.OpConvert:
		fc.convert(in.From, in.Type)
	case ir.OpComment:
		w.comment(in.Text)
	default:
		return backend.Unsupported(Name, fc.fn.Name, i, in)
	}
	return nil
}

// indexed writes the .N form for slots 0-3 when the opcode has one and
// the long form otherwise. With ShortForms, slots up to 255 use .s.
func (fc *functionCompiler) indexed(mnemonic string, idx uint32, short bool) {
	w := fc.module.w
	switch {
	case short && idx < 4:
		w.op(mnemonic + "." + strconv.Itoa(int(idx)))
	case w.opts.ShortForms && idx < 256:
		w.op(mnemonic+".s", strconv.Itoa(int(idx)))
	default:
		w.op(mnemonic, strconv.Itoa(int(idx)))
	}
}

func (fc *functionCompiler) constant(i int, c ir.Constant) error {
	w := fc.module.w
	switch v := c.(type) {
	case ir.Int8Const, ir.Int16Const, ir.Int32Const:
		n, _ := ir.IntValue(c)
		fc.int32Constant(n)
	case ir.BoolConst:
		if v {
			fc.int32Constant(1)
		} else {
			fc.int32Constant(0)
		}
	case ir.Int64Const:
		w.op("ldc.i8", strconv.FormatInt(int64(v), 10))
	case ir.Float32Const:
		w.op("ldc.r4", floatLiteral(float64(v), 32))
	case ir.Float64Const:
		w.op("ldc.r8", floatLiteral(float64(v), 64))
	case ir.StringConst:
		w.op("ldstr", quote(string(v)))
	case ir.NullConst:
		w.op("ldnull")
	default:
		return backend.NewInstructionError(backend.ErrInvalidIR, Name, fc.fn.Name, i, "constant %v has no IL form", c)
	}
	return nil
}

func (fc *functionCompiler) int32Constant(n int64) {
	w := fc.module.w
	if w.opts.ShortForms {
		switch {
		case n == -1:
			w.op("ldc.i4.m1")
			return
		case n >= 0 && n <= 8:
			w.op("ldc.i4." + strconv.FormatInt(n, 10))
			return
		case n >= -128 && n <= 127:
			w.op("ldc.i4.s", strconv.FormatInt(n, 10))
			return
		}
	}
	w.op("ldc.i4", strconv.FormatInt(n, 10))
}

// call writes a full signature for functions of this program and the
// mapped name verbatim for everything else.
func (fc *functionCompiler) call(symbol string) {
	mapped := fc.module.mapper.MapTag(mapper.TagMSIL, symbol)
	if callee, ok := fc.module.prog.Function(mapped); ok {
		fc.module.w.op("call", signature(callee))
		return
	}
	fc.module.w.op("call", mapped)
}

func (fc *functionCompiler) field(static, instance, symbol string) {
	if g, ok := fc.module.prog.Global(symbol); ok {
		fc.module.w.op(static, typeName(g.Type), g.Name)
		return
	}
	fc.module.w.op(instance, symbol)
}

func isNumeric(t ir.Type) bool {
	switch t.(type) {
	case ir.IntegerType, ir.FloatType, ir.BooleanType, ir.PointerType:
		return true
	}
	return false
}

func (fc *functionCompiler) convert(from, to ir.Type) {
	w := fc.module.w
	switch {
	case isNumeric(to) && isNumeric(from):
		w.op(convOp(to))
	case isNumeric(to):
		w.op("unbox.any", boxName(to))
	case isNumeric(from):
		w.op("box", boxName(from))
	default:
		w.op("castclass", typeName(to))
	}
}

func convOp(t ir.Type) string {
	switch v := t.(type) {
	case ir.IntegerType:
		if v.Bits == 64 {
			return "conv.i8"
		}
	case ir.FloatType:
		if v.Bits == 64 {
			return "conv.r8"
		}
		return "conv.r4"
	case ir.PointerType:
		return "conv.i"
	}
	return "conv.i4"
}
