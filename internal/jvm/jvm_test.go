package jvm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/target"
	"github.com/roach88/polyasm/internal/testutil"
)

func compile(t *testing.T, p *ir.Program) (*classFile, []byte) {
	t.Helper()
	out, err := New(nil, DefaultOptions()).Compile(p)
	require.NoError(t, err)
	cf, err := parseClassFile(out)
	require.NoError(t, err)
	return cf, out
}

func method(t *testing.T, cf *classFile, name string) memberInfo {
	t.Helper()
	for _, m := range cf.methods {
		if m.name == name {
			return m
		}
	}
	t.Fatalf("method %s not found", name)
	return memberInfo{}
}

func TestBackendIdentity(t *testing.T) {
	b := New(nil, DefaultOptions())
	assert.Equal(t, "jvm", b.Name())
	assert.Equal(t, "class", b.FileExtension())
	assert.Equal(t, float32(100), b.MatchScore(target.JVM8))
	assert.Less(t, b.MatchScore(target.WASIP1), float32(0))
}

func TestEmptyMain(t *testing.T) {
	cf, out := compile(t, testutil.EmptyMain())

	assert.Equal(t, []byte{0xCA, 0xFE, 0xBA, 0xBE}, out[:4])
	assert.Equal(t, uint16(50), cf.major)
	assert.Equal(t, "Empty", cf.thisClass)
	require.Len(t, cf.methods, 1)
	assert.Equal(t, "main", cf.methods[0].name)
	assert.Equal(t, "()V", cf.methods[0].descriptor)
	assert.Equal(t, []byte{0xB1}, cf.methods[0].code)
}

func poolSlots(cf *classFile) int {
	total := 0
	for _, e := range cf.pool {
		if e.Tag != 0 {
			total += e.width()
		}
	}
	return total
}

func TestPoolCountMatchesSlotWidths(t *testing.T) {
	wide := &ir.Program{
		Name:    "Wide",
		Globals: []ir.Global{{Name: "big", Type: ir.Int64, Init: ir.Int64Const(1 << 40)}},
		Functions: []ir.Function{{
			Name:   "f",
			Return: ir.Float64,
			Body: []ir.Instruction{
				ir.LoadConstant(ir.Int64Const(123456789012)),
				ir.Pop(),
				ir.LoadConstant(ir.Float64Const(2.5)),
				ir.LoadConstant(ir.Float64Const(2.5)),
				ir.Add(),
				ir.Return(),
			},
		}},
	}
	for _, p := range []*ir.Program{testutil.EmptyMain(), testutil.HelloPrint(), testutil.Countdown(), testutil.Arithmetic(), wide} {
		cf, _ := compile(t, p)
		assert.Equal(t, cf.poolCount, 1+poolSlots(cf), p.Name)
	}
}

func TestConstantPoolDeduplication(t *testing.T) {
	pool := newConstantPool()
	a := pool.Utf8("Code")
	b := pool.Utf8("Code")
	assert.Equal(t, a, b)
	assert.Equal(t, uint16(1), a)

	m1 := pool.Methodref("java/lang/Math", "abs", "(I)I")
	m2 := pool.Methodref("java/lang/Math", "abs", "(I)I")
	assert.Equal(t, m1, m2)

	before := pool.Count()
	l := pool.Long(7)
	assert.Equal(t, uint16(before), l)
	assert.Equal(t, before+2, pool.Count(), "long takes two slots")
	next := pool.Integer(7)
	assert.Equal(t, uint16(before+2), next)

	assert.Equal(t, "nameandtype:4:5", poolEntry{Tag: tagNameAndType, Refs: [2]uint16{4, 5}}.key())
	assert.Equal(t, "class:17", poolEntry{Tag: tagClass, Refs: [2]uint16{17}}.key())
}

func TestConstantPoolOverflow(t *testing.T) {
	pool := newConstantPool()
	for i := 0; i < 70000 && pool.Err() == nil; i++ {
		pool.Integer(int32(i))
	}
	require.Error(t, pool.Err())
	assert.LessOrEqual(t, pool.Count(), 65535)
}

func TestIntegerConstantForms(t *testing.T) {
	tests := []struct {
		value int32
		want  []byte
	}{
		{-1, []byte{0x02}},
		{0, []byte{0x03}},
		{5, []byte{0x08}},
		{42, []byte{0x10, 0x2A}},
		{-128, []byte{0x10, 0x80}},
		{1000, []byte{0x11, 0x03, 0xE8}},
	}
	for _, tt := range tests {
		p := &ir.Program{Name: "K", Functions: []ir.Function{{
			Name:   "k",
			Return: ir.Int32,
			Body:   []ir.Instruction{ir.LoadConstant(ir.Int32Const(tt.value)), ir.Return()},
		}}}
		cf, _ := compile(t, p)
		want := append(append([]byte{}, tt.want...), 0xAC)
		assert.Equal(t, want, method(t, cf, "k").code, "value %d", tt.value)
	}

	p := &ir.Program{Name: "K", Functions: []ir.Function{{
		Name:   "k",
		Return: ir.Int32,
		Body:   []ir.Instruction{ir.LoadConstant(ir.Int32Const(100000)), ir.Return()},
	}}}
	cf, _ := compile(t, p)
	code := method(t, cf, "k").code
	require.Len(t, code, 3)
	assert.Equal(t, byte(0x12), code[0], "ldc")
	assert.Equal(t, tagInteger, cf.entry(uint16(code[1])).Tag)
}

func TestArithmeticAndLocals(t *testing.T) {
	cf, _ := compile(t, testutil.Arithmetic())
	compute := method(t, cf, "compute")
	assert.Equal(t, "(II)I", compute.descriptor)
	assert.Equal(t, []byte{
		0x1A, 0x1B, 0x60, // iload_0 iload_1 iadd
		0x06, 0x68, // iconst_3 imul
		0x3D, 0x1C, // istore_2 iload_2
		0x1A, 0x64, // iload_0 isub
		0xAC, // ireturn
	}, compute.code)

	main := method(t, cf, "main")
	// iconst_5, bipush 7, invokestatic
	assert.Equal(t, []byte{0x08, 0x10, 0x07, 0xB8}, main.code[:4])
}

func TestTypedArithmeticSelection(t *testing.T) {
	p := &ir.Program{Name: "T", Functions: []ir.Function{{
		Name:   "t",
		Params: []ir.Type{ir.Int64, ir.Float64},
		Return: ir.Float64,
		Body: []ir.Instruction{
			ir.LoadArgument(0),
			ir.LoadArgument(0),
			ir.Multiply(),
			ir.Convert(ir.Int64, ir.Float64),
			ir.LoadArgument(1),
			ir.Add(),
			ir.Return(),
		},
	}}}
	cf, _ := compile(t, p)
	m := method(t, cf, "t")
	assert.Equal(t, "(JD)D", m.descriptor)
	// lload_0 lload_0 lmul l2d dload_2 dadd dreturn
	assert.Equal(t, []byte{0x1E, 0x1E, 0x69, 0x8A, 0x28, 0x63, 0xAF}, m.code)
}

func TestPrintLowering(t *testing.T) {
	cf, out := compile(t, testutil.HelloPrint())
	code := method(t, cf, "main").code
	require.Len(t, code, 10)
	assert.Equal(t, byte(0x12), code[0], "ldc")
	assert.Equal(t, byte(0xB2), code[2], "getstatic")
	assert.Equal(t, byte(0x5F), code[5], "swap")
	assert.Equal(t, byte(0xB6), code[6], "invokevirtual")
	assert.Equal(t, byte(0xB1), code[9])

	class, name, desc := cf.memberRef(uint16(code[7])<<8 | uint16(code[8]))
	assert.Equal(t, "java/io/PrintStream", class)
	assert.Equal(t, "println", name)
	assert.Equal(t, "(Ljava/lang/String;)V", desc)
	assert.False(t, bytes.Contains(out, []byte("__builtin_print")))
}

func TestStaticMethodrefCall(t *testing.T) {
	p := &ir.Program{Name: "Exit", Functions: []ir.Function{{
		Name: "main",
		Body: []ir.Instruction{ir.LoadConstant(ir.Int32Const(2)), ir.Call("__builtin_exit"), ir.Return()},
	}}}
	cf, _ := compile(t, p)
	code := method(t, cf, "main").code
	assert.Equal(t, byte(0xB8), code[1])
	class, name, desc := cf.memberRef(uint16(code[2])<<8 | uint16(code[3]))
	assert.Equal(t, []string{"java/lang/System", "exit", "(I)V"}, []string{class, name, desc})
}

func TestVirtualAndConstructorCalls(t *testing.T) {
	p := &ir.Program{Name: "V", Functions: []ir.Function{{
		Name: "main",
		Body: []ir.Instruction{
			ir.NewObject("java.lang.StringBuilder"),
			ir.Call(".java/lang/StringBuilder.length:()I"),
			ir.Pop(),
			ir.Return(),
		},
	}}}
	cf, _ := compile(t, p)
	code := method(t, cf, "main").code
	// new, dup, invokespecial <init>, invokevirtual length, pop, return
	assert.Equal(t, []byte{0xBB, 0x59, 0xB7, 0xB6, 0x57, 0xB1}, []byte{code[0], code[3], code[4], code[7], code[10], code[11]})
	_, name, _ := cf.memberRef(uint16(code[5])<<8 | uint16(code[6]))
	assert.Equal(t, "<init>", name)
}

func TestBranchesResolveBothDirections(t *testing.T) {
	back, err := NewReader().ImportProgram(mustCompile(t, testutil.Countdown()))
	require.NoError(t, err)
	fn, ok := back.Function("main")
	require.True(t, ok)

	labels := fn.Labels()
	var branch ir.Instruction
	for _, in := range fn.Body {
		if in.Op == ir.OpBranchIfTrue {
			branch = in
		}
	}
	require.Equal(t, ir.OpBranchIfTrue, branch.Op)
	_, defined := labels[branch.Label]
	assert.True(t, defined)
	assert.Equal(t, "L3", branch.Label, "loop starts after bipush 10, istore_0")
}

func mustCompile(t *testing.T, p *ir.Program) []byte {
	t.Helper()
	out, err := New(nil, DefaultOptions()).Compile(p)
	require.NoError(t, err)
	return out
}

func TestMaxStackAndLocals(t *testing.T) {
	b := New(nil, DefaultOptions())
	cls := newClassBuilder(testutil.Countdown(), b.mapper, b.opts)
	fn, ok := cls.prog.Function("main")
	require.True(t, ok)

	code, err := compileMethod(cls, fn)
	require.NoError(t, err)
	assert.Equal(t, 2, code.maxStack)
	assert.Equal(t, 1, code.maxLocals)

	fn, _ = cls.prog.Function("decrement")
	code, err = compileMethod(cls, fn)
	require.NoError(t, err)
	assert.Equal(t, 2, code.maxStack)
	assert.Equal(t, 1, code.maxLocals)
}

func TestWideBranchFallback(t *testing.T) {
	body := []ir.Instruction{ir.Label("top")}
	for i := 0; i < 9000; i++ {
		body = append(body, ir.LoadConstant(ir.Int32Const(1000)), ir.Pop())
	}
	body = append(body, ir.Branch("top"))
	p := &ir.Program{Name: "Far", Functions: []ir.Function{{Name: "spin", Body: body}}}

	cf, _ := compile(t, p)
	code := method(t, cf, "spin").code
	require.Len(t, code, 9000*4+5)
	assert.Equal(t, byte(0xC8), code[len(code)-5], "goto_w")

	in, n := ImportInstruction(code[len(code)-5:])
	assert.Equal(t, 5, n)
	assert.Equal(t, ir.Branch("L-36000"), in)
}

func TestGlobalsBecomeStaticFields(t *testing.T) {
	p := &ir.Program{
		Name:    "G",
		Globals: []ir.Global{{Name: "count", Type: ir.Int32, Init: ir.Int32Const(7)}, {Name: "name", Type: ir.String, Init: ir.StringConst("x")}},
		Functions: []ir.Function{{
			Name:   "get",
			Return: ir.Int32,
			Body:   []ir.Instruction{ir.LoadField("count"), ir.Return()},
		}},
	}
	cf, out := compile(t, p)
	require.Len(t, cf.fields, 2)
	assert.Equal(t, "I", cf.fields[0].descriptor)
	assert.Equal(t, "Ljava/lang/String;", cf.fields[1].descriptor)

	back, err := NewReader().ImportProgram(out)
	require.NoError(t, err)
	assert.Equal(t, ir.Int32Const(7), back.Globals[0].Init)
	assert.Equal(t, ir.StringConst("x"), back.Globals[1].Init)
	fn, _ := back.Function("get")
	assert.Equal(t, []ir.Instruction{ir.LoadField("count"), ir.Return()}, fn.Body)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		body []ir.Instruction
		code backend.ErrorCode
	}{
		{"box string", []ir.Instruction{ir.StringConstant("s"), ir.Box(ir.String), ir.Return()}, backend.ErrUnsupportedInstruction},
		{"indirect load", []ir.Instruction{ir.LoadConstant(ir.Int32Const(0)), ir.LoadIndirect(ir.Int32), ir.Return()}, backend.ErrUnsupportedInstruction},
		{"unknown call", []ir.Instruction{ir.Call("mystery"), ir.Return()}, backend.ErrUnknownSymbol},
		{"unknown field", []ir.Instruction{ir.LoadField("nope"), ir.Return()}, backend.ErrUnknownSymbol},
		{"unresolved label", []ir.Instruction{ir.Branch("nowhere")}, backend.ErrUnresolvedLabel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &ir.Program{Name: "Bad", Functions: []ir.Function{{Name: "main", Body: tt.body}}}
			_, err := New(nil, DefaultOptions()).Compile(p)
			require.Error(t, err)
			code, ok := backend.CodeOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestBoxUnbox(t *testing.T) {
	p := &ir.Program{Name: "B", Functions: []ir.Function{{
		Name:   "roundtrip",
		Return: ir.Int32,
		Body: []ir.Instruction{
			ir.LoadConstant(ir.Int32Const(9)),
			ir.Box(ir.Int32),
			ir.Unbox(ir.Int32),
			ir.Return(),
		},
	}}}
	cf, _ := compile(t, p)
	code := method(t, cf, "roundtrip").code
	// bipush 9, invokestatic valueOf, checkcast, invokevirtual intValue, ireturn
	assert.Equal(t, byte(0xB8), code[2])
	_, valueOf, desc := cf.memberRef(uint16(code[3])<<8 | uint16(code[4]))
	assert.Equal(t, "valueOf", valueOf)
	assert.Equal(t, "(I)Ljava/lang/Integer;", desc)
	assert.Equal(t, byte(0xC0), code[5], "checkcast")
	assert.Equal(t, byte(0xB6), code[8], "invokevirtual")
}

func TestDescriptors(t *testing.T) {
	tests := map[string]ir.Type{
		"B":                   ir.Int8,
		"S":                   ir.Int16,
		"I":                   ir.Int32,
		"J":                   ir.Int64,
		"F":                   ir.Float32,
		"D":                   ir.Float64,
		"Z":                   ir.Boolean,
		"Ljava/lang/String;":  ir.String,
		"Ljava/lang/Object;":  ir.Object,
		"[Ljava/lang/Object;": ir.ArrayOf(ir.Int32),
	}
	for want, typ := range tests {
		assert.Equal(t, want, TypeDescriptor(typ), typ.String())
	}
	assert.Equal(t, "Ljava/lang/Object;", TypeDescriptor(ir.Custom("Thing")))
	assert.Equal(t, "Ljava/lang/Object;", TypeDescriptor(ir.Pointer))
	assert.Equal(t, "(IJLjava/lang/String;)V", MethodDescriptor([]ir.Type{ir.Int32, ir.Int64, ir.String}, nil))

	params, ret, err := parseMethodDescriptor("(I[JLjava/lang/String;)Z")
	require.NoError(t, err)
	assert.Equal(t, []string{"I", "[J", "Ljava/lang/String;"}, params)
	assert.Equal(t, "Z", ret)

	_, _, err = parseMethodDescriptor("(Q)V")
	assert.Error(t, err)
}

func TestModifiedUTF8(t *testing.T) {
	for _, s := range []string{"", "plain", "nul\x00inside", "héllo", "emoji \U0001F600"} {
		enc := encodeModifiedUTF8(s)
		assert.NotContains(t, string(enc), "\x00")
		assert.Equal(t, s, decodeModifiedUTF8(enc))
	}
	assert.Equal(t, []byte{0xC0, 0x80}, encodeModifiedUTF8("\x00"))
	assert.Len(t, encodeModifiedUTF8("\U0001F600"), 6)
}

func TestSourceFileAttribute(t *testing.T) {
	out, err := New(nil, Options{MajorVersion: 49, SourceFile: "Empty.ir"}).Compile(testutil.EmptyMain())
	require.NoError(t, err)
	cf, err := parseClassFile(out)
	require.NoError(t, err)
	assert.Equal(t, uint16(49), cf.major)
	assert.True(t, bytes.Contains(out, []byte("SourceFile")))
	assert.True(t, bytes.HasSuffix(out, []byte{0x00, 0x01, 0x00, 0x08, 0x00, 0x00, 0x00, 0x02, 0x00, 0x09}))
}

func TestImportRejectsBadMagic(t *testing.T) {
	_, err := NewReader().ImportProgram([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 52})
	assert.Error(t, err)
	_, err = NewReader().ImportProgram([]byte{0xCA, 0xFE})
	assert.Error(t, err)
}

func TestGlobalInitializersConvertToFieldType(t *testing.T) {
	p := &ir.Program{
		Name: "Conv",
		Globals: []ir.Global{
			{Name: "ratio", Type: ir.Float32, Init: ir.Int32Const(3)},
			{Name: "scale", Type: ir.Float64, Init: ir.Int32Const(2)},
			{Name: "count", Type: ir.Int32, Init: ir.Float64Const(4)},
			{Name: "total", Type: ir.Int64, Init: ir.Int32Const(5)},
			{Name: "owner", Type: ir.Object, Init: ir.NullConst{}},
		},
	}
	_, out := compile(t, p)

	back, err := NewReader().ImportProgram(out)
	require.NoError(t, err)
	require.Len(t, back.Globals, 5)
	assert.Equal(t, ir.Float32Const(3), back.Globals[0].Init)
	assert.Equal(t, ir.Float64Const(2), back.Globals[1].Init)
	assert.Equal(t, ir.Int32Const(4), back.Globals[2].Init)
	assert.Equal(t, ir.Int64Const(5), back.Globals[3].Init)
	assert.Nil(t, back.Globals[4].Init)
}

func TestGlobalInitializerMismatchIsInvalidIR(t *testing.T) {
	tests := []struct {
		name string
		g    ir.Global
	}{
		{"string from int", ir.Global{Name: "s", Type: ir.String, Init: ir.Int32Const(1)}},
		{"int from fraction", ir.Global{Name: "n", Type: ir.Int32, Init: ir.Float64Const(1.5)}},
		{"int8 overflow", ir.Global{Name: "b", Type: ir.Int8, Init: ir.Int32Const(300)}},
		{"int32 overflow", ir.Global{Name: "n", Type: ir.Int32, Init: ir.Int64Const(1 << 40)}},
		{"inexact float", ir.Global{Name: "f", Type: ir.Float32, Init: ir.Int64Const(1<<40 + 1)}},
		{"int from string", ir.Global{Name: "n", Type: ir.Int32, Init: ir.StringConst("7")}},
		{"null primitive", ir.Global{Name: "n", Type: ir.Int32, Init: ir.NullConst{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &ir.Program{Name: "Bad", Globals: []ir.Global{tt.g}}
			_, err := New(nil, DefaultOptions()).Compile(p)
			require.Error(t, err)
			code, ok := backend.CodeOf(err)
			require.True(t, ok)
			assert.Equal(t, backend.ErrInvalidIR, code)
		})
	}
}

func TestFloatComparisonsFailOnNaN(t *testing.T) {
	tests := []struct {
		name    string
		typ     ir.Type
		compare ir.Instruction
		prefix  []byte
	}{
		{"float less", ir.Float32, ir.CompareLessThan(), []byte{0x22, 0x23, 0x96, 0x9B}},
		{"float less equal", ir.Float32, ir.CompareLessEqual(), []byte{0x22, 0x23, 0x96, 0x9E}},
		{"float greater", ir.Float32, ir.CompareGreaterThan(), []byte{0x22, 0x23, 0x95, 0x9D}},
		{"float equal", ir.Float32, ir.CompareEqual(), []byte{0x22, 0x23, 0x95, 0x99}},
		{"double less equal", ir.Float64, ir.CompareLessEqual(), []byte{0x26, 0x28, 0x98, 0x9E}},
		{"double greater equal", ir.Float64, ir.CompareGreaterEqual(), []byte{0x26, 0x28, 0x97, 0x9C}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &ir.Program{Name: "C", Functions: []ir.Function{{
				Name:   "cmp",
				Params: []ir.Type{tt.typ, tt.typ},
				Return: ir.Boolean,
				Body: []ir.Instruction{
					ir.LoadArgument(0),
					ir.LoadArgument(1),
					tt.compare,
					ir.Return(),
				},
			}}}
			cf, _ := compile(t, p)
			code := method(t, cf, "cmp").code
			require.GreaterOrEqual(t, len(code), len(tt.prefix))
			assert.Equal(t, tt.prefix, code[:len(tt.prefix)])
		})
	}
}

func TestDefaultMajorSkipsSplitVerifier(t *testing.T) {
	cf, out := compile(t, testutil.Countdown())
	assert.LessOrEqual(t, cf.major, uint16(MaxVerifiedMajor))
	assert.False(t, bytes.Contains(out, []byte("StackMapTable")))

	b := New(nil, Options{})
	assert.Equal(t, uint16(MaxVerifiedMajor), b.opts.MajorVersion)
}
