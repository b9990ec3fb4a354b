package assembler

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/backend/backendmock"
	"github.com/roach88/polyasm/internal/config"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/store"
	"github.com/roach88/polyasm/internal/target"
	"github.com/roach88/polyasm/internal/testutil"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newDeterministic(t *testing.T, opts ...Option) *Assembler {
	t.Helper()
	opts = append([]Option{
		WithClock(testutil.NewDeterministicClock()),
		WithIDs(testutil.NewSequentialIDs("build")),
	}, opts...)
	a, err := New(nil, opts...)
	require.NoError(t, err)
	return a
}

func TestDefaultBackends(t *testing.T) {
	a := newDeterministic(t)

	var names []string
	for _, b := range a.Registry().Backends() {
		names = append(names, b.Name())
	}
	assert.Equal(t, []string{"jvm", "msil", "pe-x64", "pe-x86", "wasi"}, names)
}

func TestDispatchByTarget(t *testing.T) {
	a := newDeterministic(t)

	tests := []struct {
		target  target.Target
		backend string
		file    string
	}{
		{target.WindowsX64, "pe-x64", "Empty.exe"},
		{target.WindowsX86, "pe-x86", "Empty.exe"},
		{target.JVM8, "jvm", "Empty.class"},
		{target.CLR4, "msil", "Empty.msil"},
		{target.WASIP1, "wasi", "Empty.wasm"},
	}
	for _, tt := range tests {
		t.Run(tt.target.String(), func(t *testing.T) {
			res, err := a.Build(context.Background(), testutil.EmptyMain(), tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.backend, res.Output.Backend)
			assert.Equal(t, []string{tt.file}, res.Output.FileNames())
		})
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	a := newDeterministic(t)

	for _, b := range a.Registry().Backends() {
		t.Run(b.Name(), func(t *testing.T) {
			first, err := a.Build(context.Background(), testutil.Arithmetic(), b.PrimaryTarget())
			require.NoError(t, err)
			second, err := a.Build(context.Background(), testutil.Arithmetic(), b.PrimaryTarget())
			require.NoError(t, err)

			assert.Equal(t, first.Output.Files, second.Output.Files)
			assert.Equal(t, first.Record.ProgramHash, second.Record.ProgramHash)
			assert.Equal(t, first.Record.Files, second.Record.Files)
			assert.NotEqual(t, first.Record.ID, second.Record.ID)
		})
	}
}

func TestBuildRecordsLedger(t *testing.T) {
	s := openStore(t)
	a := newDeterministic(t, WithStore(s))
	ctx := context.Background()

	p := testutil.ConstReturn()
	res, err := a.Build(ctx, p, target.WASIP1)
	require.NoError(t, err)

	data := res.Output.Files["Const42.wasm"]
	require.NotEmpty(t, data)

	want := store.Build{
		ID:          "build-0001",
		Program:     "Const42",
		ProgramHash: ir.MustProgramHash(p),
		Target:      target.WASIP1.String(),
		Backend:     "wasi",
		Files:       []store.File{{Name: "Const42.wasm", Size: len(data), SHA256: ir.ArtifactHash(data)}},
		CreatedAt:   testutil.Epoch,
	}
	assert.Equal(t, want, res.Record)

	got, ok, err := s.GetBuild(ctx, "build-0001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, err = a.Build(ctx, p, target.WindowsX64)
	require.NoError(t, err)

	builds, err := s.ListBuilds(ctx, store.Filter{ProgramHash: want.ProgramHash})
	require.NoError(t, err)
	require.Len(t, builds, 2)
	assert.Equal(t, "pe-x64", builds[1].Backend)
}

func TestBuildFailureIsNotRecorded(t *testing.T) {
	s := openStore(t)
	a := newDeterministic(t, WithStore(s))
	ctx := context.Background()

	_, err := a.Build(ctx, testutil.EmptyMain(), target.Target{Arch: target.ArchARM64})
	require.Error(t, err)
	assert.True(t, backend.IsUnsupportedTarget(err))

	builds, err := s.ListBuilds(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, builds)
}

func TestBuildReturnsOutputWhenLedgerFails(t *testing.T) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	a := newDeterministic(t, WithStore(s))
	res, err := a.Build(context.Background(), testutil.EmptyMain(), target.WASIP1)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Contains(t, res.Output.Files, "Empty.wasm")
}

func TestDefaultIDsAreUUIDv7(t *testing.T) {
	a, err := New(nil)
	require.NoError(t, err)

	res, err := a.Build(context.Background(), testutil.EmptyMain(), target.JVM8)
	require.NoError(t, err)

	id, err := uuid.Parse(res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestMockedBackendsOnlyWinnerCompiles(t *testing.T) {
	ctrl := gomock.NewController(t)

	loser := backendmock.NewMockBackend(ctrl)
	loser.EXPECT().Name().Return("loser").AnyTimes()
	loser.EXPECT().MatchScore(gomock.Any()).Return(float32(30)).AnyTimes()

	winner := backendmock.NewMockBackend(ctrl)
	winner.EXPECT().Name().Return("winner").AnyTimes()
	winner.EXPECT().MatchScore(gomock.Any()).Return(float32(100)).AnyTimes()
	winner.EXPECT().FileExtension().Return("bin").AnyTimes()
	winner.EXPECT().Compile(gomock.Any()).Return([]byte{0xCA, 0xFE}, nil).Times(1)

	s := openStore(t)
	a := newDeterministic(t, WithBackends(loser, winner), WithStore(s))

	res, err := a.Build(context.Background(), testutil.EmptyMain(), target.JVM8)
	require.NoError(t, err)
	assert.Equal(t, "winner", res.Record.Backend)
	assert.Equal(t, []store.File{{Name: "Empty.bin", Size: 2, SHA256: ir.ArtifactHash([]byte{0xCA, 0xFE})}}, res.Record.Files)
}

func TestDuplicateBackendNames(t *testing.T) {
	cfg := config.Default()
	backends := DefaultBackends(cfg)
	_, err := New(cfg, WithBackends(append(backends, backends[0])...))
	assert.Error(t, err)
}

func TestImportRoundTrip(t *testing.T) {
	a := newDeterministic(t)

	res, err := a.Build(context.Background(), testutil.ConstReturn(), target.WASIP1)
	require.NoError(t, err)

	p, err := a.Import("wasm", res.Output.Files["Const42.wasm"])
	require.NoError(t, err)
	require.Len(t, p.Functions, 1)
	assert.Equal(t, "_start", p.Functions[0].Name)
}

func TestImportHonoursAdapters(t *testing.T) {
	cfg, err := config.DecodeYAML(bytes.NewBufferString(`
adapters:
  - { name: wasm-import, format: wasm, enabled: false }
`))
	require.NoError(t, err)

	a, err := New(cfg)
	require.NoError(t, err)

	_, ok := a.Importer("wasm")
	assert.False(t, ok)
	_, ok = a.Importer("class")
	assert.True(t, ok)

	_, err = a.Import("wasm", []byte{0x00, 0x61, 0x73, 0x6D})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")

	_, err = a.Import("elf", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown import format")
}

func TestImportRejectsGarbage(t *testing.T) {
	a := newDeterministic(t)
	for _, format := range []string{"wasm", "class", "exe"} {
		_, err := a.Import(format, []byte("definitely not an artifact"))
		assert.Error(t, err, format)
	}
}

func TestConfigFlowsIntoBackends(t *testing.T) {
	cfg, err := config.DecodeYAML(bytes.NewBufferString(`
function_mappings:
  __builtin_print: { wasi: local_print }
`))
	require.NoError(t, err)

	a, err := New(cfg)
	require.NoError(t, err)

	p := testutil.HelloPrint()
	p.Functions = append(p.Functions, ir.Function{
		Name:   "local_print",
		Params: []ir.Type{ir.Int32},
		Body:   []ir.Instruction{ir.LoadArgument(0), ir.Pop(), ir.Return()},
	})
	res, err := a.Build(context.Background(), p, target.WASIP1)
	require.NoError(t, err)

	data := res.Output.Files[p.Name+".wasm"]
	assert.False(t, bytes.Contains(data, []byte("fd_write")))
}

func TestLoggerReceivesBuildRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := newDeterministic(t, WithLogger(logger))

	_, err := a.Build(context.Background(), testutil.EmptyMain(), target.CLR4)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "build complete")
	assert.Contains(t, buf.String(), "selected backend")
}

func TestFormatForFile(t *testing.T) {
	tests := []struct {
		path   string
		format string
		ok     bool
	}{
		{"a.wasm", "wasm", true},
		{"Hello.CLASS", "class", true},
		{"x.il", "msil", true},
		{"x.msil", "msil", true},
		{"dir/app.exe", "exe", true},
		{"lib.dll", "exe", true},
		{"notes.txt", "", false},
	}
	for _, tt := range tests {
		format, ok := FormatForFile(tt.path)
		assert.Equal(t, tt.format, format, tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
	}
}

func TestWideImageBaseOnlyMovesX64(t *testing.T) {
	cfg := config.Default()
	cfg.Platforms.PE.ImageBase = 0x180000000
	a, err := New(cfg, WithClock(testutil.NewDeterministicClock()), WithIDs(testutil.NewSequentialIDs("build")))
	require.NoError(t, err)

	for _, tgt := range []target.Target{target.WindowsX64, target.WindowsX86} {
		res, err := a.Build(context.Background(), testutil.HelloPrint(), tgt)
		require.NoError(t, err, tgt.String())
		assert.NotEmpty(t, res.Output.Files["Hello.exe"], tgt.String())
	}
}
