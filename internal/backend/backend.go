// Package backend defines the emitter contract and the registry that
// scores registered emitters against a requested target and dispatches
// to the best one.
package backend

import (
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/target"
)

//go:generate mockgen -destination=backendmock/mock_backend.go -package=backendmock github.com/roach88/polyasm/internal/backend Backend

// Backend turns an IR program into bytes for one target family.
//
// Implementations keep all per-compile state (constant pools, label
// tables, relocation lists) local to Compile, so a single Backend value
// may be shared by concurrent callers.
type Backend interface {
	// Name is the stable identifier used for tie-breaking and reporting.
	Name() string
	// PrimaryTarget is the target this backend is built for.
	PrimaryTarget() target.Target
	// MatchScore rates the requested target: higher is better,
	// negative refuses. NaN and infinities count as refusal.
	MatchScore(t target.Target) float32
	// FileExtension is appended to the program name, without a dot.
	FileExtension() string
	// Compile emits the artifact for p. The program is never mutated.
	Compile(p *ir.Program) ([]byte, error)
}

// Importer is the reverse direction: it recovers IR from an artifact.
// Unknown opcodes become Comment instructions rather than errors.
type Importer interface {
	Name() string
	ImportProgram(raw []byte) (*ir.Program, error)
}

// Output is the result of a dispatched compile.
type Output struct {
	Backend string
	Target  target.Target
	Files   map[string][]byte
}

// FileNames returns the output file names in sorted order.
func (o *Output) FileNames() []string {
	return slices.Sorted(maps.Keys(o.Files))
}

// FileName is the conventional single-file output name.
func FileName(p *ir.Program, b Backend) string {
	return p.Name + "." + b.FileExtension()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
