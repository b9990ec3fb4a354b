package msil

import (
	"math"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/mapper"
	"github.com/roach88/polyasm/internal/target"
	"github.com/roach88/polyasm/internal/testutil"
)

func compile(t *testing.T, p *ir.Program, opts Options) string {
	t.Helper()
	out, err := New(nil, opts).Compile(p)
	require.NoError(t, err)
	return string(out)
}

func lines(text string) []string {
	var out []string
	for _, l := range strings.Split(text, "\n") {
		out = append(out, strings.TrimSpace(l))
	}
	return out
}

// assertSequence checks that want appears as consecutive trimmed lines.
func assertSequence(t *testing.T, text string, want ...string) {
	t.Helper()
	got := lines(text)
	for i := 0; i+len(want) <= len(got); i++ {
		if assert.ObjectsAreEqual(want, got[i:i+len(want)]) {
			return
		}
	}
	t.Errorf("sequence %q not found in:\n%s", want, text)
}

func singleFunction(body ...ir.Instruction) *ir.Program {
	return &ir.Program{
		Name:      "T",
		Functions: []ir.Function{{Name: "f", Return: ir.Int32, Body: body}},
	}
}

func TestBackendIdentity(t *testing.T) {
	b := New(nil, DefaultOptions())
	assert.Equal(t, "msil", b.Name())
	assert.Equal(t, "msil", b.FileExtension())
	assert.Equal(t, target.CLR4, b.PrimaryTarget())
	assert.Equal(t, float32(100), b.MatchScore(target.CLR4))
	assert.Less(t, b.MatchScore(target.JVM8), float32(0))
}

func TestAdditionInfersInt32Main(t *testing.T) {
	text := compile(t, testutil.Addition(), DefaultOptions())

	assert.Contains(t, text, ".assembly Addition {}")
	assertSequence(t, text,
		".method public static int32 main() cil managed",
		"{",
		".entrypoint",
	)
	assertSequence(t, text, "ldc.i4 40", "ldc.i4 2", "add", "ret", "}")
}

func TestPrintMapsToConsole(t *testing.T) {
	text := compile(t, testutil.HelloPrint(), DefaultOptions())

	assertSequence(t, text, `ldstr "hello, world\n"`, "call System.Console.WriteLine")
}

func TestCallOverride(t *testing.T) {
	m := mapper.Default().Override(map[string]map[mapper.Tag]string{
		"__builtin_print": {mapper.TagMSIL: "void [mscorlib]System.Console::Write(string)"},
	})
	out, err := New(m, DefaultOptions()).Compile(testutil.HelloPrint())
	require.NoError(t, err)
	assert.Contains(t, string(out), "  call void [mscorlib]System.Console::Write(string)\n")
}

func TestCountdownGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	out, err := New(nil, DefaultOptions()).Compile(testutil.Countdown())
	require.NoError(t, err)
	g.Assert(t, "Countdown", out)
}

func TestLocalCallsCarrySignature(t *testing.T) {
	text := compile(t, testutil.Arithmetic(), DefaultOptions())

	assert.Contains(t, text, ".method public static int32 compute(int32, int32) cil managed")
	assert.Contains(t, text, "  // (a + b) * 3 - a\n")
	assertSequence(t, text, "ldc.i4 5", "ldc.i4 7", "call int32 compute(int32, int32)", "ret")
	assert.Equal(t, 1, strings.Count(text, ".entrypoint"))
}

func TestShortForms(t *testing.T) {
	p := singleFunction(
		ir.LoadConstant(ir.Int32Const(-1)),
		ir.LoadConstant(ir.Int32Const(8)),
		ir.LoadConstant(ir.Int32Const(100)),
		ir.LoadConstant(ir.Int32Const(1000)),
		ir.LoadConstant(ir.BoolConst(true)),
		ir.Return(),
	)
	text := compile(t, p, Options{ShortForms: true})
	assertSequence(t, text, "ldc.i4.m1", "ldc.i4.8", "ldc.i4.s 100", "ldc.i4 1000", "ldc.i4.1")

	text = compile(t, p, DefaultOptions())
	assertSequence(t, text, "ldc.i4 -1", "ldc.i4 8", "ldc.i4 100", "ldc.i4 1000", "ldc.i4 1")
}

func TestWideConstants(t *testing.T) {
	p := singleFunction(
		ir.LoadConstant(ir.Int64Const(1<<40)),
		ir.LoadConstant(ir.Float32Const(2)),
		ir.LoadConstant(ir.Float64Const(0.5)),
		ir.LoadConstant(ir.Float64Const(math.Inf(1))),
		ir.LoadConstant(ir.Null),
		ir.Return(),
	)
	text := compile(t, p, DefaultOptions())
	assertSequence(t, text,
		"ldc.i8 1099511627776",
		"ldc.r4 2.0",
		"ldc.r8 0.5",
		"ldc.r8 (00 00 00 00 00 00 F0 7F)",
		"ldnull",
	)
}

func TestComparisons(t *testing.T) {
	p := singleFunction(
		ir.LoadArgument(0), ir.LoadArgument(1), ir.CompareNotEqual(),
		ir.LoadArgument(0), ir.LoadArgument(1), ir.CompareLessEqual(),
		ir.LoadArgument(0), ir.LoadArgument(1), ir.CompareGreaterEqual(),
		ir.Return(),
	)
	p.Functions[0].Params = []ir.Type{ir.Int32, ir.Int32}
	text := compile(t, p, DefaultOptions())

	assertSequence(t, text, "ldarg.1", "ceq", "ldc.i4.0", "ceq")
	assertSequence(t, text, "ldarg.1", "cgt", "ldc.i4.0", "ceq")
	assertSequence(t, text, "ldarg.1", "clt", "ldc.i4.0", "ceq")
}

func TestIndexedForms(t *testing.T) {
	p := singleFunction(
		ir.LoadLocal(3), ir.StoreLocal(4), ir.LoadLocal(300),
		ir.LoadArgument(1), ir.StoreArgument(1), ir.LoadAddress(2),
		ir.LoadConstant(ir.Int32Const(0)), ir.Return(),
	)
	p.Functions[0].Params = []ir.Type{ir.Int32, ir.Int32}
	text := compile(t, p, DefaultOptions())

	assertSequence(t, text, "ldloc.3", "stloc 4", "ldloc 300", "ldarg.1", "starg 1", "ldloca 2")
	assert.Contains(t, text, "V_300)")

	short := compile(t, p, Options{RuntimeVersion: 4, ShortForms: true})
	assertSequence(t, short, "ldloc.3", "stloc.s 4", "ldloc 300", "ldarg.1", "starg.s 1", "ldloca.s 2")
}

func TestMemoryObjectsAndConversions(t *testing.T) {
	p := singleFunction(
		ir.LoadArgument(0), ir.LoadIndirect(ir.Int16),
		ir.LoadArgument(0), ir.LoadIndirect(ir.Float64), ir.Pop(),
		ir.LoadArgument(0), ir.LoadIndirect(ir.String), ir.Pop(),
		ir.LoadArgument(0), ir.LoadConstant(ir.Int64Const(1)), ir.StoreIndirect(ir.Int64),
		ir.Convert(ir.Int32, ir.Float64), ir.Convert(ir.Float64, ir.Int64), ir.Convert(ir.Int64, ir.Int8),
		ir.Box(ir.Int32), ir.Unbox(ir.Int32),
		ir.Box(ir.Custom("Geometry.Point")),
		ir.Convert(ir.Object, ir.String),
		ir.NewObject("System.Text.StringBuilder"),
		ir.Return(),
	)
	p.Functions[0].Params = []ir.Type{ir.Pointer}
	text := compile(t, p, DefaultOptions())

	assertSequence(t, text, "ldarg.0", "ldind.i4")
	assertSequence(t, text, "ldarg.0", "ldind.r8", "pop")
	assertSequence(t, text, "ldarg.0", "ldind.ref", "pop")
	assertSequence(t, text, "ldc.i8 1", "stind.i8", "conv.r8", "conv.i8", "conv.i4", "box int32", "unbox int32", "box Geometry.Point", "castclass string")
	assert.Contains(t, text, "  newobj instance void System.Text.StringBuilder::.ctor()\n")
	assert.Contains(t, text, "cil managed")
	assert.Contains(t, text, "f(native int)")
}

func TestGlobalFieldAccess(t *testing.T) {
	p := &ir.Program{
		Name:    "G",
		Globals: []ir.Global{{Name: "counter", Type: ir.Int64}},
		Functions: []ir.Function{{
			Name: "bump",
			Body: []ir.Instruction{
				ir.LoadField("counter"),
				ir.LoadConstant(ir.Int64Const(1)),
				ir.Add(),
				ir.StoreField("counter"),
				ir.LoadArgument(0),
				ir.LoadField("class Foo::bar"),
				ir.Pop(),
				ir.Return(),
			},
			Params: []ir.Type{ir.Object},
		}},
	}
	text := compile(t, p, DefaultOptions())

	assert.Contains(t, text, ".field public static int64 counter\n")
	assert.NotContains(t, text, ".cctor", "no initial values means no type initializer")
	assert.NotContains(t, text, ".entrypoint")
	assert.Contains(t, text, ".module G.dll")
	assertSequence(t, text, "ldsfld int64 counter", "ldc.i8 1", "add", "stsfld int64 counter")
	assertSequence(t, text, "ldarg.0", "ldfld class Foo::bar", "pop")
	assert.Contains(t, text, ".method public static void bump(object) cil managed")
}

func TestMaxStackTracksDepth(t *testing.T) {
	var body []ir.Instruction
	for i := range 12 {
		body = append(body, ir.LoadConstant(ir.Int32Const(int32(i))))
	}
	for range 11 {
		body = append(body, ir.Add())
	}
	body = append(body, ir.Return())
	text := compile(t, singleFunction(body...), DefaultOptions())

	assert.Contains(t, text, "  .maxstack 12\n")
	assert.Contains(t, compile(t, testutil.Addition(), DefaultOptions()), "  .maxstack 8\n")
}

func TestStringEscaping(t *testing.T) {
	assert.Equal(t, `"plain"`, quote("plain"))
	assert.Equal(t, `"a\"b\\c"`, quote(`a"b\c`))
	assert.Equal(t, `"tab\there\r\n"`, quote("tab\there\r\n"))
	assert.Equal(t, `"bell\007"`, quote("bell\a"))
	assert.Equal(t, `"héllo"`, quote("héllo"))
}

func TestCompileRejectsInvalidIR(t *testing.T) {
	p := singleFunction(ir.Branch("nowhere"))
	_, err := New(nil, DefaultOptions()).Compile(p)
	require.Error(t, err)
	assert.True(t, backend.IsUnresolvedLabel(err))
}

func TestCompileDoesNotMutateProgram(t *testing.T) {
	p := testutil.Countdown()
	before := ir.MustProgramHash(p)
	_, err := New(nil, DefaultOptions()).Compile(p)
	require.NoError(t, err)
	assert.Equal(t, before, ir.MustProgramHash(p))
}
