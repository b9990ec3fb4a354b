package wasi

import (
	"fmt"
	"math"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/mapper"
)

// funcSig is a function type signature.
type funcSig struct {
	params  []byte
	results []byte
}

func sigKey(params, results []byte) string {
	return string(params) + "|" + string(results)
}

// knownImports lists the WASI preview 1 functions a call may resolve to.
var knownImports = map[string]funcSig{
	"fd_write":          {params: []byte{valI32, valI32, valI32, valI32}, results: []byte{valI32}},
	"fd_read":           {params: []byte{valI32, valI32, valI32, valI32}, results: []byte{valI32}},
	"fd_close":          {params: []byte{valI32}, results: []byte{valI32}},
	"proc_exit":         {params: []byte{valI32}},
	"args_sizes_get":    {params: []byte{valI32, valI32}, results: []byte{valI32}},
	"args_get":          {params: []byte{valI32, valI32}, results: []byte{valI32}},
	"environ_sizes_get": {params: []byte{valI32, valI32}, results: []byte{valI32}},
	"environ_get":       {params: []byte{valI32, valI32}, results: []byte{valI32}},
	"clock_time_get":    {params: []byte{valI32, valI64, valI32}, results: []byte{valI32}},
	"random_get":        {params: []byte{valI32, valI32}, results: []byte{valI32}},
}

// Memory layout: the iovec scratch area and nwritten slot live below
// dataBase; interned strings follow as [len u32][bytes].
const (
	iovecAddr    = 0
	nwrittenAddr = 8
	dataBase     = 16

	pageSize       = 65536
	maxMemoryPages = 65536
)

// printHelper is the synthesized function behind mapped print calls.
const printHelper = "__polyasm_print"

type wasmImport struct {
	field   string
	typeIdx int
}

type wasmExport struct {
	name  string
	kind  byte
	index int
}

// callee is a resolved call target.
type callee struct {
	index int
	sig   funcSig
}

// moduleBuilder holds all per-compile state.
type moduleBuilder struct {
	prog   *ir.Program
	mapper *mapper.Mapper
	opts   Options

	types     []funcSig
	typeCache map[string]int
	imports   []wasmImport
	importIdx map[string]int
	funcTypes []int
	exports   []wasmExport
	codes     [][]byte
	globals   map[string]int

	needPrint bool
	strings   map[string]int
	data      []byte
}

func newModuleBuilder(p *ir.Program, m *mapper.Mapper, opts Options) (*moduleBuilder, error) {
	b := &moduleBuilder{
		prog:      p,
		mapper:    m,
		opts:      opts,
		typeCache: make(map[string]int),
		importIdx: make(map[string]int),
		globals:   make(map[string]int),
		strings:   make(map[string]int),
	}
	for i, g := range p.Globals {
		b.globals[g.Name] = i
	}
	if err := b.collectImports(); err != nil {
		return nil, err
	}
	return b, nil
}

// typeIndex returns the type section index for a signature, adding it if new.
func (b *moduleBuilder) typeIndex(sig funcSig) int {
	key := sigKey(sig.params, sig.results)
	if idx, ok := b.typeCache[key]; ok {
		return idx
	}
	idx := len(b.types)
	b.types = append(b.types, sig)
	b.typeCache[key] = idx
	return idx
}

// valType maps an IR type to a wasm value type. References and pointers
// are i32 addresses into linear memory.
func valType(t ir.Type) byte {
	switch v := t.(type) {
	case ir.IntegerType:
		if v.Bits == 64 {
			return valI64
		}
		return valI32
	case ir.FloatType:
		if v.Bits == 32 {
			return valF32
		}
		return valF64
	}
	return valI32
}

func signatureOf(fn *ir.Function) funcSig {
	sig := funcSig{}
	for _, p := range fn.Params {
		sig.params = append(sig.params, valType(p))
	}
	if fn.Return != nil {
		sig.results = []byte{valType(fn.Return)}
	}
	return sig
}

// resolve maps an IR call name to a program function or a WASI import.
// viaPrint is true when a canonical name maps onto fd_write, which is
// lowered through the print helper.
func (b *moduleBuilder) resolveName(name string) (mapped string, local bool, viaPrint bool, ok bool) {
	mapped = b.mapper.MapTag(mapper.TagWASI, name)
	if b.prog.FunctionIndex(mapped) >= 0 {
		return mapped, true, false, true
	}
	if _, known := knownImports[mapped]; known {
		return mapped, false, mapped == "fd_write" && mapped != name, true
	}
	return mapped, false, false, false
}

// collectImports scans every call so imports can take the low function
// indices before any body is compiled.
func (b *moduleBuilder) collectImports() error {
	for _, fn := range b.prog.Functions {
		for i, in := range fn.Body {
			if in.Op != ir.OpCall {
				continue
			}
			mapped, local, viaPrint, ok := b.resolveName(in.Symbol)
			if !ok {
				return backend.NewInstructionError(backend.ErrUnknownSymbol, Name, fn.Name, i,
					"call to %q resolves to %q, which is neither defined nor a WASI import", in.Symbol, mapped)
			}
			if local {
				continue
			}
			b.addImport(mapped)
			if viaPrint {
				b.needPrint = true
			}
		}
	}
	return nil
}

func (b *moduleBuilder) addImport(field string) int {
	if idx, ok := b.importIdx[field]; ok {
		return idx
	}
	idx := len(b.imports)
	b.imports = append(b.imports, wasmImport{field: field, typeIdx: b.typeIndex(knownImports[field])})
	b.importIdx[field] = idx
	return idx
}

// functionIndex is the wasm index of the i-th program function.
func (b *moduleBuilder) functionIndex(i int) int {
	return len(b.imports) + i
}

func (b *moduleBuilder) printHelperIndex() int {
	return len(b.imports) + len(b.prog.Functions)
}

// lookupCall resolves a call for emission.
func (b *moduleBuilder) lookupCall(name string) (callee, bool) {
	mapped, local, viaPrint, ok := b.resolveName(name)
	switch {
	case !ok:
		return callee{}, false
	case local:
		idx := b.prog.FunctionIndex(mapped)
		return callee{index: b.functionIndex(idx), sig: signatureOf(&b.prog.Functions[idx])}, true
	case viaPrint:
		return callee{index: b.printHelperIndex(), sig: funcSig{params: []byte{valI32}}}, true
	}
	return callee{index: b.importIdx[mapped], sig: knownImports[mapped]}, true
}

// internString places s in the data segment as [len u32][bytes] and
// returns its address.
func (b *moduleBuilder) internString(s string) int {
	if addr, ok := b.strings[s]; ok {
		return addr
	}
	for len(b.data)%4 != 0 {
		b.data = append(b.data, 0)
	}
	addr := dataBase + len(b.data)
	n := len(s)
	b.data = append(b.data, byte(n), byte(n>>8), byte(n>>16), byte(n>>24))
	b.data = append(b.data, s...)
	b.strings[s] = addr
	return addr
}

func (b *moduleBuilder) emit() ([]byte, error) {
	for i := range b.prog.Functions {
		fn := &b.prog.Functions[i]
		b.funcTypes = append(b.funcTypes, b.typeIndex(signatureOf(fn)))
		body, err := compileFunction(b, fn)
		if err != nil {
			return nil, err
		}
		b.codes = append(b.codes, body)
		b.exports = append(b.exports, wasmExport{name: fn.Name, kind: kindFunc, index: b.functionIndex(i)})
	}
	if b.needPrint {
		b.funcTypes = append(b.funcTypes, b.typeIndex(funcSig{params: []byte{valI32}}))
		b.codes = append(b.codes, b.printHelperBody())
	}
	b.exports = append(b.exports, wasmExport{name: "memory", kind: kindMemory, index: 0})

	// Global initializers may intern strings, so they are encoded before
	// the memory size is fixed.
	var globals []byte
	if len(b.prog.Globals) > 0 {
		section, err := b.emitGlobalSection()
		if err != nil {
			return nil, err
		}
		globals = section
	}
	memory, err := b.emitMemorySection()
	if err != nil {
		return nil, err
	}

	var out []byte
	out = append(out, wasmMagic...)
	out = append(out, wasmVersion...)
	out = append(out, b.emitTypeSection()...)
	if len(b.imports) > 0 {
		out = append(out, b.emitImportSection()...)
	}
	out = append(out, b.emitFunctionSection()...)
	out = append(out, memory...)
	out = append(out, globals...)
	out = append(out, b.emitExportSection()...)
	out = append(out, b.emitCodeSection()...)
	if len(b.data) > 0 {
		out = append(out, b.emitDataSection()...)
	}
	return out, nil
}

func (b *moduleBuilder) emitTypeSection() []byte {
	var items []byte
	for _, sig := range b.types {
		items = append(items, funcTypeForm)
		items = append(items, encodeVector(len(sig.params), sig.params)...)
		items = append(items, encodeVector(len(sig.results), sig.results)...)
	}
	return encodeSection(sectionType, encodeVector(len(b.types), items))
}

func (b *moduleBuilder) emitImportSection() []byte {
	var items []byte
	for _, imp := range b.imports {
		items = append(items, encodeString(wasiModule)...)
		items = append(items, encodeString(imp.field)...)
		items = append(items, kindFunc)
		items = append(items, encodeLEB128U(uint64(imp.typeIdx))...)
	}
	return encodeSection(sectionImport, encodeVector(len(b.imports), items))
}

func (b *moduleBuilder) emitFunctionSection() []byte {
	var items []byte
	for _, idx := range b.funcTypes {
		items = append(items, encodeLEB128U(uint64(idx))...)
	}
	return encodeSection(sectionFunction, encodeVector(len(b.funcTypes), items))
}

// emitMemorySection declares one memory of at least opts.MemoryPages
// pages, grown to hold the data segment.
func (b *moduleBuilder) emitMemorySection() ([]byte, error) {
	pages := max(uint64(b.opts.MemoryPages), memoryPages(dataBase+len(b.data)))
	if pages > maxMemoryPages {
		return nil, backend.NewError(backend.ErrInvalidIR, Name,
			"data segment of %d bytes needs %d pages, more than %d", len(b.data), pages, maxMemoryPages)
	}
	// limits flag 0: min only
	items := []byte{0x00}
	items = append(items, encodeLEB128U(pages)...)
	return encodeSection(sectionMemory, encodeVector(1, items)), nil
}

// memoryPages is the number of 64 KiB pages covering size bytes.
func memoryPages(size int) uint64 {
	return (uint64(size) + pageSize - 1) / pageSize
}

func (b *moduleBuilder) emitGlobalSection() ([]byte, error) {
	var items []byte
	for _, g := range b.prog.Globals {
		vt := valType(g.Type)
		items = append(items, vt, 0x01) // mutable
		init, err := b.constExpr(vt, g)
		if err != nil {
			return nil, err
		}
		items = append(items, init...)
		items = append(items, opEnd)
	}
	return encodeSection(sectionGlobal, encodeVector(len(b.prog.Globals), items)), nil
}

// constExpr encodes the initializer of a global. Numeric initializers
// are converted to the global's value type when the value survives
// exactly; anything else is INVALID_IR.
func (b *moduleBuilder) constExpr(vt byte, g ir.Global) ([]byte, error) {
	mismatch := func() ([]byte, error) {
		return nil, backend.NewError(backend.ErrInvalidIR, Name, "global %q: initializer %s does not fit %s", g.Name, g.Init, g.Type)
	}

	var n int64
	var f float64
	isInt := true
	switch c := g.Init.(type) {
	case nil:
	case ir.StringConst:
		if vt != valI32 || !holdsAddress(g.Type) {
			return mismatch()
		}
		n = int64(b.internString(string(c)))
	case ir.NullConst:
		if vt != valI32 && vt != valI64 {
			return mismatch()
		}
	case ir.Float32Const:
		f, isInt = float64(c), false
	case ir.Float64Const:
		f, isInt = float64(c), false
	default:
		v, ok := ir.IntValue(c)
		if !ok {
			return mismatch()
		}
		n, f = v, float64(v)
	}

	switch vt {
	case valI32, valI64:
		if !isInt {
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				return mismatch()
			}
			n = int64(f)
		}
		if vt == valI32 {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return mismatch()
			}
			return append([]byte{opI32Const}, encodeLEB128S(int64(int32(n)))...), nil
		}
		return append([]byte{opI64Const}, encodeLEB128S(n)...), nil
	case valF32:
		if isInt && int64(float32(n)) != n {
			return mismatch()
		}
		return append([]byte{opF32Const}, encodeF32(float32(f))...), nil
	default:
		if isInt && int64(f) != n {
			return mismatch()
		}
		return append([]byte{opF64Const}, encodeF64(f)...), nil
	}
}

// holdsAddress reports types stored as a linear-memory address.
func holdsAddress(t ir.Type) bool {
	switch t.(type) {
	case ir.StringType, ir.PointerType, ir.ObjectType, ir.ArrayType:
		return true
	}
	return false
}

func (b *moduleBuilder) emitExportSection() []byte {
	var items []byte
	for _, exp := range b.exports {
		items = append(items, encodeString(exp.name)...)
		items = append(items, exp.kind)
		items = append(items, encodeLEB128U(uint64(exp.index))...)
	}
	return encodeSection(sectionExport, encodeVector(len(b.exports), items))
}

func (b *moduleBuilder) emitCodeSection() []byte {
	var items []byte
	for _, body := range b.codes {
		items = append(items, encodeLEB128U(uint64(len(body)))...)
		items = append(items, body...)
	}
	return encodeSection(sectionCode, encodeVector(len(b.codes), items))
}

func (b *moduleBuilder) emitDataSection() []byte {
	// One active segment for memory 0 at dataBase.
	items := []byte{0x00, opI32Const}
	items = append(items, encodeLEB128S(dataBase)...)
	items = append(items, opEnd)
	items = append(items, encodeVector(len(b.data), b.data)...)
	return encodeSection(sectionData, encodeVector(1, items))
}

// printHelperBody writes a [len][bytes] string at param 0 to stdout via fd_write.
func (b *moduleBuilder) printHelperBody() []byte {
	fdWrite := b.importIdx["fd_write"]
	memarg := []byte{0x02, 0x00} // align 4, offset 0

	var code []byte
	code = append(code, 0x00) // no extra locals

	// iovec.base = ptr + 4
	code = append(code, opI32Const)
	code = append(code, encodeLEB128S(iovecAddr)...)
	code = append(code, opLocalGet, 0x00, opI32Const, 0x04, opI32Add, opI32Store)
	code = append(code, memarg...)

	// iovec.len = *ptr
	code = append(code, opI32Const)
	code = append(code, encodeLEB128S(iovecAddr+4)...)
	code = append(code, opLocalGet, 0x00, opI32Load)
	code = append(code, memarg...)
	code = append(code, opI32Store)
	code = append(code, memarg...)

	// fd_write(stdout, iovec, 1, &nwritten)
	code = append(code, opI32Const, 0x01, opI32Const)
	code = append(code, encodeLEB128S(iovecAddr)...)
	code = append(code, opI32Const, 0x01, opI32Const)
	code = append(code, encodeLEB128S(nwrittenAddr)...)
	code = append(code, opCall)
	code = append(code, encodeLEB128U(uint64(fdWrite))...)
	code = append(code, opDrop, opEnd)
	return code
}

func (s funcSig) String() string {
	return fmt.Sprintf("%x -> %x", s.params, s.results)
}
