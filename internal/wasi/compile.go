package wasi

import (
	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
)

// functionCompiler lowers one IR function to a wasm code body.
type functionCompiler struct {
	mod    *moduleBuilder
	fn     *ir.Function
	code   []byte
	stack  []byte
	params int

	// locals holds the wasm types of IR locals followed by scratch locals.
	locals  []byte
	scratch map[byte]int
}

func compileFunction(mod *moduleBuilder, fn *ir.Function) ([]byte, error) {
	c := &functionCompiler{
		mod:     mod,
		fn:      fn,
		params:  len(fn.Params),
		scratch: make(map[byte]int),
	}
	c.locals = make([]byte, fn.MaxLocal())
	for i := range c.locals {
		c.locals[i] = valI32
		if i < len(fn.Locals) {
			c.locals[i] = valType(fn.Locals[i])
		}
	}
	if len(fn.Locals) == 0 {
		c.inferLocals()
	}

	for i, in := range fn.Body {
		if err := c.lower(i, in); err != nil {
			return nil, err
		}
	}
	c.code = append(c.code, opEnd)

	body := encodeLocals(c.locals)
	return append(body, c.code...), nil
}

// inferLocals types undeclared locals from the value stored into them.
// Only the constants immediately preceding a StoreLocal are considered;
// anything else stays i32.
func (c *functionCompiler) inferLocals() {
	for i, in := range c.fn.Body {
		if in.Op != ir.OpStoreLocal || i == 0 {
			continue
		}
		prev := c.fn.Body[i-1]
		if prev.Op == ir.OpLoadConstant && prev.Const != nil && prev.Const.Type() != nil {
			c.locals[in.Index] = valType(prev.Const.Type())
		}
		if prev.Op == ir.OpConvert && prev.Type != nil {
			c.locals[in.Index] = valType(prev.Type)
		}
	}
}

// encodeLocals run-length encodes local declarations by type.
func encodeLocals(types []byte) []byte {
	var groups []byte
	count := 0
	for i := 0; i < len(types); {
		j := i
		for j < len(types) && types[j] == types[i] {
			j++
		}
		groups = append(groups, encodeLEB128U(uint64(j-i))...)
		groups = append(groups, types[i])
		count++
		i = j
	}
	return encodeVector(count, groups)
}

func (c *functionCompiler) push(t byte) { c.stack = append(c.stack, t) }

func (c *functionCompiler) pop() byte {
	if len(c.stack) == 0 {
		return valI32
	}
	t := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return t
}

func (c *functionCompiler) top() byte {
	if len(c.stack) == 0 {
		return valI32
	}
	return c.stack[len(c.stack)-1]
}

func (c *functionCompiler) emit(b ...byte) { c.code = append(c.code, b...) }

func (c *functionCompiler) emitU(v uint64) { c.code = append(c.code, encodeLEB128U(v)...) }

func (c *functionCompiler) emitS(v int64) { c.code = append(c.code, encodeLEB128S(v)...) }

// localIndex maps an IR local onto the wasm index space, which starts
// with the parameters.
func (c *functionCompiler) localIndex(i uint32) uint64 {
	return uint64(c.params) + uint64(i)
}

func (c *functionCompiler) localType(i uint32) byte {
	if int(i) < len(c.locals) {
		return c.locals[i]
	}
	return valI32
}

func (c *functionCompiler) paramType(i uint32) byte {
	if int(i) < len(c.fn.Params) {
		return valType(c.fn.Params[i])
	}
	return valI32
}

// scratchLocal returns a hidden local of type t used to duplicate values.
func (c *functionCompiler) scratchLocal(t byte) uint64 {
	idx, ok := c.scratch[t]
	if !ok {
		idx = len(c.locals)
		c.locals = append(c.locals, t)
		c.scratch[t] = idx
	}
	return uint64(c.params + idx)
}

// negateInt computes 0 - x, parking x in a scratch local so the zero
// lands beneath it.
func (c *functionCompiler) negateInt(t, constOp, subOp byte) {
	local := c.scratchLocal(t)
	c.emit(opLocalSet)
	c.emitU(local)
	c.emit(constOp)
	c.emitS(0)
	c.emit(opLocalGet)
	c.emitU(local)
	c.emit(subOp)
}

// binaryOps selects an opcode per operand type for each arithmetic,
// bitwise and comparison instruction. A zero entry is unsupported.
var binaryOps = map[ir.Op][4]byte{
	ir.OpAdd:                 {opI32Add, opI64Add, opF32Add, opF64Add},
	ir.OpSubtract:            {opI32Sub, opI64Sub, opF32Sub, opF64Sub},
	ir.OpMultiply:            {opI32Mul, opI64Mul, opF32Mul, opF64Mul},
	ir.OpDivide:              {opI32DivS, opI64DivS, opF32Div, opF64Div},
	ir.OpRemainder:           {opI32RemS, opI64RemS, 0, 0},
	ir.OpBitwiseAnd:          {opI32And, opI64And, 0, 0},
	ir.OpBitwiseOr:           {opI32Or, opI64Or, 0, 0},
	ir.OpBitwiseXor:          {opI32Xor, opI64Xor, 0, 0},
	ir.OpShiftLeft:           {opI32Shl, opI64Shl, 0, 0},
	ir.OpShiftRight:          {opI32ShrS, opI64ShrS, 0, 0},
	ir.OpCompareEqual:        {opI32Eq, opI64Eq, opF32Eq, opF64Eq},
	ir.OpCompareNotEqual:     {opI32Ne, opI64Ne, opF32Ne, opF64Ne},
	ir.OpCompareLessThan:     {opI32LtS, opI64LtS, opF32Lt, opF64Lt},
	ir.OpCompareGreaterThan:  {opI32GtS, opI64GtS, opF32Gt, opF64Gt},
	ir.OpCompareLessEqual:    {opI32LeS, opI64LeS, opF32Le, opF64Le},
	ir.OpCompareGreaterEqual: {opI32GeS, opI64GeS, opF32Ge, opF64Ge},
}

func typeSlot(t byte) int {
	switch t {
	case valI64:
		return 1
	case valF32:
		return 2
	case valF64:
		return 3
	}
	return 0
}

func isComparison(op ir.Op) bool {
	return op >= ir.OpCompareEqual && op <= ir.OpCompareGreaterEqual
}

func (c *functionCompiler) lower(idx int, in ir.Instruction) error {
	switch in.Op {
	case ir.OpLoadConstant:
		return c.lowerConstant(idx, in)

	case ir.OpStringConstant:
		c.emit(opI32Const)
		c.emitS(int64(c.mod.internString(in.Text)))
		c.push(valI32)

	case ir.OpLoadLocal:
		c.emit(opLocalGet)
		c.emitU(c.localIndex(in.Index))
		c.push(c.localType(in.Index))

	case ir.OpStoreLocal:
		c.pop()
		c.emit(opLocalSet)
		c.emitU(c.localIndex(in.Index))

	case ir.OpLoadArgument:
		c.emit(opLocalGet)
		c.emitU(uint64(in.Index))
		c.push(c.paramType(in.Index))

	case ir.OpStoreArgument:
		c.pop()
		c.emit(opLocalSet)
		c.emitU(uint64(in.Index))

	case ir.OpLoadIndirect:
		c.pop()
		return c.lowerMemory(idx, in, true)

	case ir.OpStoreIndirect:
		c.pop()
		c.pop()
		return c.lowerMemory(idx, in, false)

	case ir.OpAdd, ir.OpSubtract, ir.OpMultiply, ir.OpDivide, ir.OpRemainder,
		ir.OpBitwiseAnd, ir.OpBitwiseOr, ir.OpBitwiseXor, ir.OpShiftLeft, ir.OpShiftRight,
		ir.OpCompareEqual, ir.OpCompareNotEqual, ir.OpCompareLessThan,
		ir.OpCompareGreaterThan, ir.OpCompareLessEqual, ir.OpCompareGreaterEqual:
		c.pop()
		t := c.pop()
		op := binaryOps[in.Op][typeSlot(t)]
		if op == 0 {
			return backend.Unsupported(Name, c.fn.Name, idx, in)
		}
		c.emit(op)
		if isComparison(in.Op) {
			c.push(valI32)
		} else {
			c.push(t)
		}

	case ir.OpNegate:
		switch t := c.top(); t {
		case valF32:
			c.emit(opF32Neg)
		case valF64:
			c.emit(opF64Neg)
		case valI64:
			c.negateInt(t, opI64Const, opI64Sub)
		default:
			c.negateInt(t, opI32Const, opI32Sub)
		}

	case ir.OpBitwiseNot:
		switch c.top() {
		case valI64:
			c.emit(opI64Const)
			c.emitS(-1)
			c.emit(opI64Xor)
		case valI32:
			c.emit(opI32Const)
			c.emitS(-1)
			c.emit(opI32Xor)
		default:
			return backend.Unsupported(Name, c.fn.Name, idx, in)
		}

	case ir.OpBranch, ir.OpBranchIfTrue, ir.OpBranchIfFalse:
		// Wasm control flow is structured; arbitrary gotos have no direct lowering.
		return backend.Unsupported(Name, c.fn.Name, idx, in)

	case ir.OpLabel, ir.OpComment:
		// no code

	case ir.OpCall:
		target, ok := c.mod.lookupCall(in.Symbol)
		if !ok {
			return backend.NewInstructionError(backend.ErrUnknownSymbol, Name, c.fn.Name, idx, "unknown function %q", in.Symbol)
		}
		for range target.sig.params {
			c.pop()
		}
		c.emit(opCall)
		c.emitU(uint64(target.index))
		for _, r := range target.sig.results {
			c.push(r)
		}

	case ir.OpReturn:
		if c.fn.Return != nil {
			c.pop()
		}
		c.emit(opReturn)

	case ir.OpDuplicate:
		t := c.top()
		local := c.scratchLocal(t)
		c.emit(opLocalTee)
		c.emitU(local)
		c.emit(opLocalGet)
		c.emitU(local)
		c.push(t)

	case ir.OpPop:
		c.pop()
		c.emit(opDrop)

	case ir.OpLoadField:
		g, ok := c.mod.globals[in.Symbol]
		if !ok {
			return backend.NewInstructionError(backend.ErrUnknownSymbol, Name, c.fn.Name, idx, "unknown global %q", in.Symbol)
		}
		c.emit(opGlobalGet)
		c.emitU(uint64(g))
		c.push(valType(c.mod.prog.Globals[g].Type))

	case ir.OpStoreField:
		g, ok := c.mod.globals[in.Symbol]
		if !ok {
			return backend.NewInstructionError(backend.ErrUnknownSymbol, Name, c.fn.Name, idx, "unknown global %q", in.Symbol)
		}
		c.pop()
		c.emit(opGlobalSet)
		c.emitU(uint64(g))

	case ir.OpConvert:
		return c.lowerConvert(idx, in)

	default:
		// LoadAddress, NewObject, Box, Unbox: no linear-memory object model.
		return backend.Unsupported(Name, c.fn.Name, idx, in)
	}
	return nil
}

func (c *functionCompiler) lowerConstant(idx int, in ir.Instruction) error {
	switch v := in.Const.(type) {
	case ir.Int64Const:
		c.emit(opI64Const)
		c.emitS(int64(v))
		c.push(valI64)
	case ir.Float32Const:
		c.emit(opF32Const)
		c.emit(encodeF32(float32(v))...)
		c.push(valF32)
	case ir.Float64Const:
		c.emit(opF64Const)
		c.emit(encodeF64(float64(v))...)
		c.push(valF64)
	case ir.StringConst:
		c.emit(opI32Const)
		c.emitS(int64(c.mod.internString(string(v))))
		c.push(valI32)
	case ir.NullConst:
		c.emit(opI32Const, 0x00)
		c.push(valI32)
	default:
		n, ok := ir.IntValue(in.Const)
		if !ok {
			return backend.Unsupported(Name, c.fn.Name, idx, in)
		}
		c.emit(opI32Const)
		c.emitS(n)
		c.push(valI32)
	}
	return nil
}

// memoryOps gives the load and store opcodes and natural alignment (log2)
// for each indirect access type.
func memoryOps(t ir.Type) (load, store, align, vt byte) {
	switch v := t.(type) {
	case ir.IntegerType:
		switch v.Bits {
		case 8:
			return opI32Load8S, opI32Store8, 0, valI32
		case 16:
			return opI32Load16S, opI32Store16, 1, valI32
		case 64:
			return opI64Load, opI64Store, 3, valI64
		}
	case ir.FloatType:
		if v.Bits == 32 {
			return opF32Load, opF32Store, 2, valF32
		}
		return opF64Load, opF64Store, 3, valF64
	case ir.BooleanType:
		return opI32Load8S, opI32Store8, 0, valI32
	}
	return opI32Load, opI32Store, 2, valI32
}

func (c *functionCompiler) lowerMemory(idx int, in ir.Instruction, isLoad bool) error {
	if in.Type == nil || ir.IsCustom(in.Type) {
		return backend.Unsupported(Name, c.fn.Name, idx, in)
	}
	load, store, align, vt := memoryOps(in.Type)
	if isLoad {
		c.emit(load, align, 0x00)
		c.push(vt)
	} else {
		c.emit(store, align, 0x00)
	}
	return nil
}

func (c *functionCompiler) lowerConvert(idx int, in ir.Instruction) error {
	from := c.pop()
	if in.From != nil {
		from = valType(in.From)
	}
	to := valType(in.Type)

	// Narrow integer targets are wrapped then sign-extended in place.
	narrow := byte(0)
	if it, ok := in.Type.(ir.IntegerType); ok {
		switch it.Bits {
		case 8:
			narrow = opI32Extend8S
		case 16:
			narrow = opI32Extend16S
		}
	}

	if from != to {
		op, ok := conversions[[2]byte{from, to}]
		if !ok {
			return backend.Unsupported(Name, c.fn.Name, idx, in)
		}
		c.emit(op)
	}
	if narrow != 0 {
		c.emit(narrow)
	}
	c.push(to)
	return nil
}

var conversions = map[[2]byte]byte{
	{valI64, valI32}: opI32WrapI64,
	{valF32, valI32}: opI32TruncF32S,
	{valF64, valI32}: opI32TruncF64S,
	{valI32, valI64}: opI64ExtendI32S,
	{valF32, valI64}: opI64TruncF32S,
	{valF64, valI64}: opI64TruncF64S,
	{valI32, valF32}: opF32ConvertI32S,
	{valI64, valF32}: opF32ConvertI64S,
	{valF64, valF32}: opF32DemoteF64,
	{valI32, valF64}: opF64ConvertI32S,
	{valI64, valF64}: opF64ConvertI64S,
	{valF32, valF64}: opF64PromoteF32,
}
