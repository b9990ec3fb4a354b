// Package wasi compiles IR programs to WebAssembly modules for the
// WebAssembly System Interface and reads such modules back into IR.
package wasi

import (
	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/mapper"
	"github.com/roach88/polyasm/internal/target"
)

// Name is the registry name of the WASI backend.
const Name = "wasi"

// wasiModule is the import namespace for WASI preview 1 functions.
const wasiModule = "wasi_snapshot_preview1"

// Options tune module layout.
type Options struct {
	// MemoryPages is the minimum linear memory size in 64 KiB pages.
	MemoryPages uint32
}

// DefaultOptions returns one page of memory.
func DefaultOptions() Options {
	return Options{MemoryPages: 1}
}

// Backend emits WASI modules. It holds no per-compile state.
type Backend struct {
	mapper *mapper.Mapper
	opts   Options
}

var _ backend.Backend = (*Backend)(nil)

// New creates a WASI backend. A nil mapper uses the default table.
func New(m *mapper.Mapper, opts Options) *Backend {
	if m == nil {
		m = mapper.Default()
	}
	if opts.MemoryPages == 0 {
		opts.MemoryPages = 1
	}
	return &Backend{mapper: m, opts: opts}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) PrimaryTarget() target.Target { return target.WASIP1 }

func (b *Backend) FileExtension() string { return "wasm" }

// MatchScore follows the shared rubric against wasm32-wat-wasi.
func (b *Backend) MatchScore(t target.Target) float32 {
	return target.Score(b.PrimaryTarget(), t)
}

// Compile emits a binary module for p.
func (b *Backend) Compile(p *ir.Program) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, backend.FromValidation(Name, err)
	}
	m, err := newModuleBuilder(p, b.mapper, b.opts)
	if err != nil {
		return nil, err
	}
	return m.emit()
}
