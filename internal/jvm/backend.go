// Package jvm compiles IR programs into Java class files and reads class
// files back into IR.
//
// Each program becomes one public class named after the program. Functions
// become public static methods and globals become public static fields.
package jvm

import (
	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/mapper"
	"github.com/roach88/polyasm/internal/target"
)

// Name is the registry name of the JVM backend.
const Name = "jvm"

// Options controls class file metadata.
type Options struct {
	// MajorVersion is the class file major version. Code attributes carry
	// no StackMapTable, so versions above 50 only load with -noverify.
	MajorVersion uint16
	MinorVersion uint16
	// SourceFile, when set, is written as the SourceFile attribute.
	SourceFile string
}

// MaxVerifiedMajor is the newest class file version the JVM still checks
// with the type-inferring verifier when a StackMapTable is missing.
const MaxVerifiedMajor = 50

// DefaultOptions targets Java 6 class files, which run on any later JVM.
func DefaultOptions() Options {
	return Options{MajorVersion: MaxVerifiedMajor}
}

// Backend emits class files.
type Backend struct {
	mapper *mapper.Mapper
	opts   Options
}

var _ backend.Backend = (*Backend)(nil)

// New creates a JVM backend. A nil mapper uses the default table.
func New(m *mapper.Mapper, opts Options) *Backend {
	if m == nil {
		m = mapper.Default()
	}
	if opts.MajorVersion == 0 {
		opts.MajorVersion = DefaultOptions().MajorVersion
	}
	return &Backend{mapper: m, opts: opts}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) PrimaryTarget() target.Target { return target.JVM8 }

func (b *Backend) FileExtension() string { return "class" }

func (b *Backend) MatchScore(t target.Target) float32 {
	return target.Score(b.PrimaryTarget(), t)
}

// Compile emits one class file for p.
func (b *Backend) Compile(p *ir.Program) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, backend.FromValidation(Name, err)
	}
	cls := newClassBuilder(p, b.mapper, b.opts)
	if err := cls.build(); err != nil {
		return nil, err
	}
	return cls.bytes()
}
