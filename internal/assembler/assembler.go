package assembler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/config"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/jvm"
	"github.com/roach88/polyasm/internal/msil"
	"github.com/roach88/polyasm/internal/pe"
	"github.com/roach88/polyasm/internal/store"
	"github.com/roach88/polyasm/internal/target"
	"github.com/roach88/polyasm/internal/wasi"
)

// Assembler compiles programs through the backend registry and imports
// artifacts through the enabled adapters.
type Assembler struct {
	cfg       *config.Config
	registry  *backend.Registry
	importers map[string]backend.Importer
	backends  []backend.Backend
	store     *store.Store
	clock     Clock
	ids       IDGenerator
	logger    *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithStore records every successful build in s.
func WithStore(s *store.Store) Option {
	return func(a *Assembler) { a.store = s }
}

// WithClock replaces the wall clock used for ledger timestamps.
func WithClock(c Clock) Option {
	return func(a *Assembler) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithIDs replaces the UUIDv7 build ID generator.
func WithIDs(g IDGenerator) Option {
	return func(a *Assembler) {
		if g != nil {
			a.ids = g
		}
	}
}

// WithLogger sets the logger handed to the registry and used for build
// records. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithBackends replaces the default backend set.
func WithBackends(backends ...backend.Backend) Option {
	return func(a *Assembler) { a.backends = backends }
}

// New builds an Assembler from cfg. A nil cfg uses config.Default().
func New(cfg *config.Config, opts ...Option) (*Assembler, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	a := &Assembler{
		cfg:    cfg,
		clock:  wallClock{},
		ids:    UUIDv7Generator{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.backends == nil {
		a.backends = DefaultBackends(cfg)
	}

	reg, err := backend.NewRegistry(a.backends, backend.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("create registry: %w", err)
	}
	a.registry = reg

	a.importers = make(map[string]backend.Importer)
	for format, imp := range defaultImporters() {
		if cfg.AdapterEnabled(format) {
			a.importers[format] = imp
		} else {
			a.logger.Debug("import adapter disabled", "format", format)
		}
	}
	return a, nil
}

// DefaultBackends creates the five stock backends from cfg.
func DefaultBackends(cfg *config.Config) []backend.Backend {
	m := cfg.Mapper()
	return []backend.Backend{
		jvm.New(m, cfg.JVMOptions()),
		msil.New(m, cfg.MSILOptions()),
		pe.NewX64(m, cfg.PEOptions()),
		pe.NewX86(m, cfg.PEX86Options()),
		wasi.New(m, cfg.WASIOptions()),
	}
}

func defaultImporters() map[string]backend.Importer {
	return map[string]backend.Importer{
		"class": jvm.NewReader(),
		"msil":  msil.NewReader(),
		"exe":   pe.NewReader(),
		"wasm":  wasi.NewReader(),
	}
}

// Registry exposes the backend registry, for score tables.
func (a *Assembler) Registry() *backend.Registry { return a.registry }

// Result is one successful build.
type Result struct {
	Output *backend.Output
	Record store.Build
}

// Build compiles p for t and, when a store is attached, records the
// build. A ledger failure is returned alongside the output so callers
// can still write the artifacts.
func (a *Assembler) Build(ctx context.Context, p *ir.Program, t target.Target) (*Result, error) {
	hash, err := ir.ProgramHash(p)
	if err != nil {
		return nil, fmt.Errorf("hash program %s: %w", p.Name, err)
	}

	out, err := a.registry.Compile(p, t)
	if err != nil {
		return nil, err
	}

	rec := store.Build{
		ID:          a.ids.NewID(),
		Program:     p.Name,
		ProgramHash: hash,
		Target:      t.String(),
		Backend:     out.Backend,
		CreatedAt:   a.clock.Now().UTC(),
	}
	for _, name := range out.FileNames() {
		data := out.Files[name]
		rec.Files = append(rec.Files, store.File{Name: name, Size: len(data), SHA256: ir.ArtifactHash(data)})
	}
	res := &Result{Output: out, Record: rec}

	a.logger.Info("build complete",
		"id", rec.ID,
		"program", rec.Program,
		"target", rec.Target,
		"backend", rec.Backend,
		"files", len(rec.Files),
	)

	if a.store == nil {
		return res, nil
	}
	if err := a.store.RecordBuild(ctx, rec); err != nil {
		return res, fmt.Errorf("record build %s: %w", rec.ID, err)
	}
	return res, nil
}

// Importer returns the adapter for format, if it exists and is enabled.
func (a *Assembler) Importer(format string) (backend.Importer, bool) {
	imp, ok := a.importers[format]
	return imp, ok
}

// Import recovers IR from raw bytes in the given format.
func (a *Assembler) Import(format string, raw []byte) (*ir.Program, error) {
	imp, ok := a.Importer(format)
	if !ok {
		if _, known := defaultImporters()[format]; known {
			return nil, fmt.Errorf("import adapter for %q is disabled", format)
		}
		return nil, fmt.Errorf("unknown import format %q (want one of %s)", format, strings.Join(config.Formats, ", "))
	}
	p, err := imp.ImportProgram(raw)
	if err != nil {
		return nil, fmt.Errorf("%s import: %w", imp.Name(), err)
	}
	a.logger.Debug("imported program", "format", format, "functions", len(p.Functions), "globals", len(p.Globals))
	return p, nil
}

// FormatForFile guesses the import format from a file extension.
func FormatForFile(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wasm":
		return "wasm", true
	case ".class":
		return "class", true
	case ".msil", ".il":
		return "msil", true
	case ".exe", ".dll":
		return "exe", true
	}
	return "", false
}
