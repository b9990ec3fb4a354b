package jvm

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/mapper"
)

// errWideBranch asks the caller to recompile with 32-bit branch forms.
var errWideBranch = errors.New("branch offset exceeds 16 bits")

// branchFixup is a branch whose offset is patched after all labels are known.
type branchFixup struct {
	label    string
	opPos    int
	patchPos int
	wide     bool
}

// methodCompiler lowers one IR function into a Code attribute body.
type methodCompiler struct {
	cls  *classBuilder
	fn   *ir.Function
	wide bool

	code     []byte
	stack    []kind
	depth    int
	maxDepth int

	argSlots   []int
	argKinds   []kind
	localSlots map[uint32]int
	localKinds map[uint32]kind
	nextSlot   int

	labels      map[string]int
	labelStacks map[string][]kind
	fixups      []branchFixup
	reachable   bool
}

// methodCode is the result of compiling one function.
type methodCode struct {
	code      []byte
	maxStack  int
	maxLocals int
}

// compileMethod lowers fn, retrying with goto_w forms when a 16-bit
// branch offset overflows.
func compileMethod(cls *classBuilder, fn *ir.Function) (methodCode, error) {
	mc, err := newMethodCompiler(cls, fn, false).compile()
	if errors.Is(err, errWideBranch) {
		return newMethodCompiler(cls, fn, true).compile()
	}
	return mc, err
}

func newMethodCompiler(cls *classBuilder, fn *ir.Function, wide bool) *methodCompiler {
	c := &methodCompiler{
		cls:         cls,
		fn:          fn,
		wide:        wide,
		localSlots:  make(map[uint32]int),
		localKinds:  make(map[uint32]kind),
		labels:      make(map[string]int),
		labelStacks: make(map[string][]kind),
		reachable:   true,
	}
	for _, p := range fn.Params {
		k := kindOf(p)
		c.argSlots = append(c.argSlots, c.nextSlot)
		c.argKinds = append(c.argKinds, k)
		c.nextSlot += k.slots()
	}
	for i, t := range fn.Locals {
		c.allocLocal(uint32(i), kindOf(t))
	}
	return c
}

func (c *methodCompiler) allocLocal(i uint32, k kind) int {
	if slot, ok := c.localSlots[i]; ok {
		return slot
	}
	slot := c.nextSlot
	c.localSlots[i] = slot
	c.localKinds[i] = k
	c.nextSlot += k.slots()
	return slot
}

func (c *methodCompiler) compile() (methodCode, error) {
	for i, in := range c.fn.Body {
		if err := c.lower(i, in); err != nil {
			return methodCode{}, err
		}
	}
	if err := c.patchBranches(); err != nil {
		return methodCode{}, err
	}
	return methodCode{code: c.code, maxStack: c.maxDepth, maxLocals: c.nextSlot}, nil
}

func (c *methodCompiler) patchBranches() error {
	for _, f := range c.fixups {
		target, ok := c.labels[f.label]
		if !ok {
			return backend.NewInstructionError(backend.ErrUnresolvedLabel, Name, c.fn.Name, -1, "label %q is never defined", f.label)
		}
		offset := target - f.opPos
		if f.wide {
			binary.BigEndian.PutUint32(c.code[f.patchPos:], uint32(int32(offset)))
			continue
		}
		if offset < math.MinInt16 || offset > math.MaxInt16 {
			return errWideBranch
		}
		binary.BigEndian.PutUint16(c.code[f.patchPos:], uint16(int16(offset)))
	}
	return nil
}

func (c *methodCompiler) emit(b ...byte) { c.code = append(c.code, b...) }

func (c *methodCompiler) emitU16(v uint16) {
	c.code = binary.BigEndian.AppendUint16(c.code, v)
}

func (c *methodCompiler) push(k kind) {
	c.stack = append(c.stack, k)
	c.depth += k.slots()
	if c.depth > c.maxDepth {
		c.maxDepth = c.depth
	}
}

// pop removes the top kind. An empty stack yields int, which keeps
// opcode selection conservative for hand-written IR.
func (c *methodCompiler) pop() kind {
	if len(c.stack) == 0 {
		return kindInt
	}
	k := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	c.depth -= k.slots()
	return k
}

func (c *methodCompiler) top() kind {
	if len(c.stack) == 0 {
		return kindInt
	}
	return c.stack[len(c.stack)-1]
}

// grow accounts for transient stack use that the kind stack does not model.
func (c *methodCompiler) grow(slots int) {
	if c.depth+slots > c.maxDepth {
		c.maxDepth = c.depth + slots
	}
}

func (c *methodCompiler) unsupported(idx int, in ir.Instruction) error {
	return backend.Unsupported(Name, c.fn.Name, idx, in)
}

func (c *methodCompiler) unknown(idx int, format string, args ...any) error {
	return backend.NewInstructionError(backend.ErrUnknownSymbol, Name, c.fn.Name, idx, format, args...)
}

func (c *methodCompiler) lower(idx int, in ir.Instruction) error {
	switch in.Op {
	case ir.OpLoadConstant:
		return c.lowerConstant(idx, in)

	case ir.OpStringConstant:
		c.ldc(c.cls.pool.String(in.Text))
		c.push(kindString)

	case ir.OpLoadLocal:
		slot, ok := c.localSlots[in.Index]
		k := c.localKinds[in.Index]
		if !ok {
			k = kindInt
			slot = c.allocLocal(in.Index, k)
		}
		c.load(k, slot)
		c.push(k)

	case ir.OpStoreLocal:
		k := c.pop()
		slot, ok := c.localSlots[in.Index]
		if ok {
			k = c.localKinds[in.Index]
		} else {
			slot = c.allocLocal(in.Index, k)
		}
		c.store(k, slot)

	case ir.OpLoadArgument:
		if int(in.Index) >= len(c.argSlots) {
			return backend.NewInstructionError(backend.ErrInvalidIR, Name, c.fn.Name, idx, "argument %d out of range", in.Index)
		}
		k := c.argKinds[in.Index]
		c.load(k, c.argSlots[in.Index])
		c.push(k)

	case ir.OpStoreArgument:
		if int(in.Index) >= len(c.argSlots) {
			return backend.NewInstructionError(backend.ErrInvalidIR, Name, c.fn.Name, idx, "argument %d out of range", in.Index)
		}
		c.pop()
		c.store(c.argKinds[in.Index], c.argSlots[in.Index])

	case ir.OpAdd, ir.OpSubtract, ir.OpMultiply, ir.OpDivide, ir.OpRemainder:
		c.pop()
		k := c.pop()
		if k == kindRef || k == kindString {
			return c.unsupported(idx, in)
		}
		c.emit(arithmeticBase[in.Op] + k.typed())
		c.push(k)

	case ir.OpBitwiseAnd, ir.OpBitwiseOr, ir.OpBitwiseXor, ir.OpShiftLeft, ir.OpShiftRight:
		c.pop()
		k := c.pop()
		if k != kindInt && k != kindLong {
			return c.unsupported(idx, in)
		}
		c.emit(arithmeticBase[in.Op] + k.typed())
		c.push(k)

	case ir.OpNegate:
		k := c.top()
		if k == kindRef || k == kindString {
			return c.unsupported(idx, in)
		}
		c.emit(opIneg + k.typed())

	case ir.OpBitwiseNot:
		switch c.top() {
		case kindInt:
			c.emit(opIconstM1, opIxor)
			c.grow(1)
		case kindLong:
			c.emit(opLdc2W)
			c.emitU16(c.cls.pool.Long(-1))
			c.emit(opIxor + kindLong.typed())
			c.grow(2)
		default:
			return c.unsupported(idx, in)
		}

	case ir.OpCompareEqual, ir.OpCompareNotEqual, ir.OpCompareLessThan,
		ir.OpCompareGreaterThan, ir.OpCompareLessEqual, ir.OpCompareGreaterEqual:
		return c.lowerCompare(idx, in)

	case ir.OpBranch:
		c.branch(in.Label, opGoto)
		c.reachable = false

	case ir.OpBranchIfTrue:
		c.pop()
		c.branch(in.Label, opIfne)

	case ir.OpBranchIfFalse:
		c.pop()
		c.branch(in.Label, opIfeq)

	case ir.OpLabel:
		c.labels[in.Label] = len(c.code)
		if !c.reachable {
			c.restoreStack(c.labelStacks[in.Label])
		}
		c.reachable = true

	case ir.OpCall:
		return c.lowerCall(idx, in)

	case ir.OpReturn:
		if c.fn.Return == nil {
			c.emit(opReturn)
		} else {
			c.pop()
			c.emit(opIreturn + kindOf(c.fn.Return).typed())
		}
		c.reachable = false

	case ir.OpDuplicate:
		k := c.top()
		if k.slots() == 2 {
			c.emit(opDup2)
		} else {
			c.emit(opDup)
		}
		c.push(k)

	case ir.OpPop:
		if c.pop().slots() == 2 {
			c.emit(opPop2)
		} else {
			c.emit(opPop)
		}

	case ir.OpLoadField, ir.OpStoreField:
		return c.lowerField(idx, in)

	case ir.OpNewObject:
		class := internalName(in.Symbol)
		c.emit(opNew)
		c.emitU16(c.cls.pool.Class(class))
		c.emit(opDup)
		c.emit(opInvokespecial)
		c.emitU16(c.cls.pool.Methodref(class, "<init>", "()V"))
		c.grow(2)
		c.push(kindRef)

	case ir.OpBox:
		box, ok := boxes[boxKey(in.Type)]
		if !ok {
			return c.unsupported(idx, in)
		}
		c.pop()
		c.emit(opInvokestatic)
		c.emitU16(c.cls.pool.Methodref(box.class, "valueOf", "("+box.desc+")L"+box.class+";"))
		c.push(kindRef)

	case ir.OpUnbox:
		box, ok := boxes[boxKey(in.Type)]
		if !ok {
			return c.unsupported(idx, in)
		}
		c.pop()
		c.emit(opCheckcast)
		c.emitU16(c.cls.pool.Class(box.class))
		c.emit(opInvokevirtual)
		c.emitU16(c.cls.pool.Methodref(box.class, box.unbox, "()"+box.desc))
		c.push(descriptorKind(box.desc))

	case ir.OpConvert:
		return c.lowerConvert(idx, in)

	case ir.OpComment:
		// no code

	default:
		// LoadAddress, LoadIndirect, StoreIndirect: the JVM has no raw memory.
		return c.unsupported(idx, in)
	}
	return nil
}

var arithmeticBase = map[ir.Op]byte{
	ir.OpAdd:        opIadd,
	ir.OpSubtract:   opIsub,
	ir.OpMultiply:   opImul,
	ir.OpDivide:     opIdiv,
	ir.OpRemainder:  opIrem,
	ir.OpBitwiseAnd: opIand,
	ir.OpBitwiseOr:  opIor,
	ir.OpBitwiseXor: opIxor,
	ir.OpShiftLeft:  opIshl,
	ir.OpShiftRight: opIshr,
}

func (c *methodCompiler) restoreStack(saved []kind) {
	c.stack = append(c.stack[:0], saved...)
	c.depth = 0
	for _, k := range c.stack {
		c.depth += k.slots()
	}
}

func (c *methodCompiler) branch(label string, op byte) {
	if _, seen := c.labelStacks[label]; !seen {
		c.labelStacks[label] = append([]kind(nil), c.stack...)
	}
	opPos := len(c.code)
	if !c.wide {
		c.emit(op, 0, 0)
		c.fixups = append(c.fixups, branchFixup{label: label, opPos: opPos, patchPos: opPos + 1})
		return
	}
	if op != opGoto {
		// Inverted condition skips the goto_w that follows.
		c.emit(invertCondition(op), 0, 8)
		opPos = len(c.code)
	}
	c.emit(opGotoW, 0, 0, 0, 0)
	c.fixups = append(c.fixups, branchFixup{label: label, opPos: opPos, patchPos: opPos + 1, wide: true})
}

func invertCondition(op byte) byte {
	if op == opIfeq {
		return opIfne
	}
	return opIfeq
}

// compareIndex orders comparisons as eq, ne, lt, ge, gt, le, matching
// both the if<cond> and if_icmp<cond> opcode families.
var compareIndex = map[ir.Op]byte{
	ir.OpCompareEqual:        0,
	ir.OpCompareNotEqual:     1,
	ir.OpCompareLessThan:     2,
	ir.OpCompareGreaterEqual: 3,
	ir.OpCompareGreaterThan:  4,
	ir.OpCompareLessEqual:    5,
}

// lowerCompare materializes a boolean int:
//
//	<cmp> +7; iconst_0; goto +4; iconst_1
func (c *methodCompiler) lowerCompare(idx int, in ir.Instruction) error {
	c.pop()
	k := c.pop()
	cond := compareIndex[in.Op]

	var jump byte
	switch k {
	case kindInt:
		jump = opIfIcmpeq + cond
	case kindLong:
		c.emit(opLcmp)
		jump = opIfeq + cond
	case kindFloat:
		c.emit(floatCompare(in.Op, opFcmpl, opFcmpg))
		jump = opIfeq + cond
	case kindDouble:
		c.emit(floatCompare(in.Op, opDcmpl, opDcmpg))
		jump = opIfeq + cond
	default:
		if cond > 1 {
			return c.unsupported(idx, in)
		}
		jump = opIfAcmpne - 1 + cond
	}
	c.emit(jump, 0, 7, opIconst0, opGoto, 0, 4, opIconst0+1)
	c.push(kindInt)
	return nil
}

// floatCompare picks the cmp variant that makes a NaN operand fail the
// condition: cmpg pushes 1 for NaN, so < and <= are false; cmpl pushes
// -1, so >, >= and == are false.
func floatCompare(op ir.Op, cmpl, cmpg byte) byte {
	if op == ir.OpCompareLessThan || op == ir.OpCompareLessEqual {
		return cmpg
	}
	return cmpl
}

func (c *methodCompiler) ldc(index uint16) {
	if index <= math.MaxUint8 {
		c.emit(opLdc, byte(index))
		return
	}
	c.emit(opLdcW)
	c.emitU16(index)
}

func (c *methodCompiler) lowerConstant(idx int, in ir.Instruction) error {
	pool := c.cls.pool
	switch v := in.Const.(type) {
	case ir.Int64Const:
		if v == 0 || v == 1 {
			c.emit(opLconst0 + byte(v))
		} else {
			c.emit(opLdc2W)
			c.emitU16(pool.Long(int64(v)))
		}
		c.push(kindLong)
	case ir.Float32Const:
		if (v == 0 || v == 1 || v == 2) && !math.Signbit(float64(v)) {
			c.emit(opFconst0 + byte(v))
		} else {
			c.ldc(pool.Float(float32(v)))
		}
		c.push(kindFloat)
	case ir.Float64Const:
		if (v == 0 || v == 1) && !math.Signbit(float64(v)) {
			c.emit(opDconst0 + byte(v))
		} else {
			c.emit(opLdc2W)
			c.emitU16(pool.Double(float64(v)))
		}
		c.push(kindDouble)
	case ir.StringConst:
		c.ldc(pool.String(string(v)))
		c.push(kindString)
	case ir.NullConst:
		c.emit(opAconstNull)
		c.push(kindRef)
	default:
		n, ok := ir.IntValue(in.Const)
		if !ok {
			return c.unsupported(idx, in)
		}
		c.pushInt(n)
		c.push(kindInt)
	}
	return nil
}

// pushInt picks the shortest int constant form.
func (c *methodCompiler) pushInt(n int64) {
	switch {
	case n >= -1 && n <= 5:
		c.emit(byte(int64(opIconst0) + n))
	case n >= math.MinInt8 && n <= math.MaxInt8:
		c.emit(opBipush, byte(int8(n)))
	case n >= math.MinInt16 && n <= math.MaxInt16:
		c.emit(opSipush)
		c.emitU16(uint16(int16(n)))
	default:
		c.ldc(c.cls.pool.Integer(int32(n)))
	}
}

// load emits the typed load for slot, using the _0.._3 short forms.
func (c *methodCompiler) load(k kind, slot int) {
	c.localOp(opIload, opIload0, k, slot)
}

func (c *methodCompiler) store(k kind, slot int) {
	c.localOp(opIstore, opIstore0, k, slot)
}

func (c *methodCompiler) localOp(base, short byte, k kind, slot int) {
	t := k.typed()
	switch {
	case slot < 4:
		c.emit(short + t*4 + byte(slot))
	case slot <= math.MaxUint8:
		c.emit(base+t, byte(slot))
	default:
		c.emit(opWide, base+t)
		c.emitU16(uint16(slot))
	}
}

// callSite is a resolved invocation.
type callSite struct {
	op         byte
	class      string
	name       string
	descriptor string
	printer    bool
}

// resolveCall maps an IR call name through the mapper and classifies the
// result:
//   - a function of this program is invoked statically on this class
//   - "java.lang.System.out.<m>" prints the stack top via PrintStream.<m>
//   - "owner/Class.method:desc" is a Methodref; "<init>" uses invokespecial
//     and a leading '.' marks virtual dispatch
func (c *methodCompiler) resolveCall(name string) (callSite, bool) {
	mapped := c.cls.mapper.MapTag(mapper.TagJVM, name)
	if fn, ok := c.cls.prog.Function(mapped); ok {
		return callSite{op: opInvokestatic, class: c.cls.className, name: fn.Name, descriptor: MethodDescriptor(fn.Params, fn.Return)}, true
	}
	for _, stream := range []string{"out", "err"} {
		prefix := "java.lang.System." + stream + "."
		if method, ok := strings.CutPrefix(mapped, prefix); ok && method != "" {
			return callSite{printer: true, class: stream, name: method}, true
		}
	}
	owner, desc, ok := strings.Cut(mapped, ":")
	if !ok {
		return callSite{}, false
	}
	op := opInvokestatic
	if rest, virtual := strings.CutPrefix(owner, "."); virtual {
		op = opInvokevirtual
		owner = rest
	}
	dot := strings.LastIndexByte(owner, '.')
	if dot <= 0 || dot == len(owner)-1 {
		return callSite{}, false
	}
	site := callSite{op: op, class: internalName(owner[:dot]), name: owner[dot+1:], descriptor: desc}
	if site.name == "<init>" {
		site.op = opInvokespecial
	}
	return site, true
}

func (c *methodCompiler) lowerCall(idx int, in ir.Instruction) error {
	site, ok := c.resolveCall(in.Symbol)
	if !ok {
		return c.unknown(idx, "call to %q has no JVM mapping or local definition", in.Symbol)
	}
	if site.printer {
		c.lowerPrint(site)
		return nil
	}

	params, ret, err := parseMethodDescriptor(site.descriptor)
	if err != nil {
		return backend.NewInstructionError(backend.ErrInvalidIR, Name, c.fn.Name, idx, "%v", err)
	}
	for range params {
		c.pop()
	}
	if site.op != opInvokestatic {
		c.pop() // receiver
	}
	c.emit(site.op)
	c.emitU16(c.cls.pool.Methodref(site.class, site.name, site.descriptor))
	if ret != "" {
		c.push(descriptorKind(ret))
	}
	return nil
}

const printStream = "java/io/PrintStream"

// lowerPrint fetches System.out (or err) and moves it beneath the argument.
func (c *methodCompiler) lowerPrint(site callSite) {
	field := c.cls.pool.Fieldref("java/lang/System", site.class, "L"+printStream+";")
	if len(c.stack) == 0 {
		c.emit(opGetstatic)
		c.emitU16(field)
		c.grow(1)
		c.emit(opInvokevirtual)
		c.emitU16(c.cls.pool.Methodref(printStream, site.name, "()V"))
		return
	}
	k := c.pop()
	c.emit(opGetstatic)
	c.emitU16(field)
	if k.slots() == 2 {
		c.emit(opDupX2, opPop)
	} else {
		c.emit(opSwap)
	}
	c.grow(k.slots() + 1)
	c.emit(opInvokevirtual)
	c.emitU16(c.cls.pool.Methodref(printStream, site.name, "("+kindDescriptor(k)+")V"))
}

func (c *methodCompiler) lowerField(idx int, in ir.Instruction) error {
	load := in.Op == ir.OpLoadField
	if g, ok := c.cls.prog.Global(in.Symbol); ok {
		ref := c.cls.pool.Fieldref(c.cls.className, g.Name, TypeDescriptor(g.Type))
		if load {
			c.emit(opGetstatic)
			c.emitU16(ref)
			c.push(kindOf(g.Type))
		} else {
			c.pop()
			c.emit(opPutstatic)
			c.emitU16(ref)
		}
		return nil
	}

	owner, desc, ok := strings.Cut(in.Symbol, ":")
	dot := strings.LastIndexByte(owner, '.')
	if !ok || dot <= 0 || dot == len(owner)-1 {
		return c.unknown(idx, "field %q is not a global and not of the form owner.field:descriptor", in.Symbol)
	}
	ref := c.cls.pool.Fieldref(internalName(owner[:dot]), owner[dot+1:], desc)
	if load {
		c.pop()
		c.emit(opGetfield)
		c.emitU16(ref)
		c.push(descriptorKind(desc))
	} else {
		c.pop()
		c.pop()
		c.emit(opPutfield)
		c.emitU16(ref)
	}
	return nil
}

// boxType describes the wrapper class for a primitive.
type boxType struct {
	class string
	desc  string
	unbox string
}

var boxes = map[string]boxType{
	"int8":    {"java/lang/Byte", "B", "byteValue"},
	"int16":   {"java/lang/Short", "S", "shortValue"},
	"int32":   {"java/lang/Integer", "I", "intValue"},
	"int64":   {"java/lang/Long", "J", "longValue"},
	"float32": {"java/lang/Float", "F", "floatValue"},
	"float64": {"java/lang/Double", "D", "doubleValue"},
	"bool":    {"java/lang/Boolean", "Z", "booleanValue"},
}

func boxKey(t ir.Type) string {
	if t == nil {
		return ""
	}
	return t.String()
}

// conversionOps maps (from, to) computational kinds to opcodes.
var conversionOps = map[[2]kind]byte{
	{kindInt, kindLong}:     opI2l,
	{kindInt, kindFloat}:    opI2f,
	{kindInt, kindDouble}:   opI2d,
	{kindLong, kindInt}:     opL2i,
	{kindLong, kindFloat}:   opL2f,
	{kindLong, kindDouble}:  opL2d,
	{kindFloat, kindInt}:    opF2i,
	{kindFloat, kindLong}:   opF2l,
	{kindFloat, kindDouble}: opF2d,
	{kindDouble, kindInt}:   opD2i,
	{kindDouble, kindLong}:  opD2l,
	{kindDouble, kindFloat}: opD2f,
}

func (c *methodCompiler) lowerConvert(idx int, in ir.Instruction) error {
	from := c.pop()
	if in.From != nil {
		from = kindOf(in.From)
	}
	to := kindOf(in.Type)

	switch {
	case from == to:
	case to == kindString && from == kindRef:
		c.emit(opCheckcast)
		c.emitU16(c.cls.pool.Class(stringClass))
	case to == kindRef && from == kindString:
	default:
		op, ok := conversionOps[[2]kind{from, to}]
		if !ok {
			return c.unsupported(idx, in)
		}
		c.emit(op)
	}
	if it, ok := in.Type.(ir.IntegerType); ok {
		switch it.Bits {
		case 8:
			c.emit(opI2b)
		case 16:
			c.emit(opI2s)
		}
	}
	c.push(to)
	return nil
}

// internalName converts a dotted class name to the slash form.
func internalName(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}
