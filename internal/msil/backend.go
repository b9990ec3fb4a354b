// Package msil emits textual IL for an IL assembler and parses such text
// back into IR.
//
// Functions become global static methods of the module; globals become
// global static fields initialized from the module type initializer.
package msil

import (
	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/mapper"
	"github.com/roach88/polyasm/internal/target"
)

// Name is the registry name of the MSIL backend.
const Name = "msil"

// Options controls the text layout.
type Options struct {
	// RuntimeVersion is the major version written to the mscorlib reference.
	RuntimeVersion int
	// ShortForms selects ldc.i4.0..8 and ldc.i4.s where they fit.
	// The default always writes ldc.i4 with an explicit operand.
	ShortForms bool
}

// DefaultOptions targets CLR 4 with long constant forms.
func DefaultOptions() Options {
	return Options{RuntimeVersion: 4}
}

// Backend emits IL text.
type Backend struct {
	mapper *mapper.Mapper
	opts   Options
}

var _ backend.Backend = (*Backend)(nil)

// New creates an MSIL backend. A nil mapper uses the default table.
func New(m *mapper.Mapper, opts Options) *Backend {
	if m == nil {
		m = mapper.Default()
	}
	if opts.RuntimeVersion == 0 {
		opts.RuntimeVersion = DefaultOptions().RuntimeVersion
	}
	return &Backend{mapper: m, opts: opts}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) PrimaryTarget() target.Target { return target.CLR4 }

func (b *Backend) FileExtension() string { return "msil" }

func (b *Backend) MatchScore(t target.Target) float32 {
	return target.Score(b.PrimaryTarget(), t)
}

// Compile renders p as IL text. Custom types are allowed: the CLR
// resolves them by name.
func (b *Backend) Compile(p *ir.Program) ([]byte, error) {
	if err := p.Validate(ir.AllowCustomTypes()); err != nil {
		return nil, backend.FromValidation(Name, err)
	}
	w := newWriter(b.opts)
	if err := newModuleCompiler(p, b.mapper, w).compile(); err != nil {
		return nil, err
	}
	return w.bytes(), nil
}
