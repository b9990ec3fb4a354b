package backend

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/target"
)

// Score is one backend's rating of a target.
type Score struct {
	Backend string
	Value   float32
	Refused bool
}

// Registry holds the registered backends. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	backends []Backend
	logger   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for dispatch diagnostics.
// The default discards everything.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates a registry over backends. Duplicate names are an error.
func NewRegistry(backends []Backend, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{logger: discardLogger()}
	for _, opt := range opts {
		opt(r)
	}

	seen := make(map[string]bool, len(backends))
	for _, b := range backends {
		if seen[b.Name()] {
			return nil, fmt.Errorf("duplicate backend name %q", b.Name())
		}
		seen[b.Name()] = true
		r.backends = append(r.backends, b)
	}
	return r, nil
}

// Backends returns the registered backends sorted by name.
func (r *Registry) Backends() []Backend {
	out := make([]Backend, len(r.backends))
	copy(out, r.backends)
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Lookup returns the backend with the given name.
func (r *Registry) Lookup(name string) (Backend, bool) {
	for _, b := range r.backends {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// Scores rates t against every backend, sorted by name.
func (r *Registry) Scores(t target.Target) []Score {
	out := make([]Score, 0, len(r.backends))
	for _, b := range r.Backends() {
		v := b.MatchScore(t)
		out = append(out, Score{Backend: b.Name(), Value: v, Refused: refused(v)})
	}
	return out
}

func refused(v float32) bool {
	f := float64(v)
	return math.IsNaN(f) || math.IsInf(f, 0) || v < 0
}

// Select picks the backend with the strictly highest score for t.
// Ties go to the lexicographically first name. If every backend
// refuses, the error is UNSUPPORTED_TARGET.
func (r *Registry) Select(t target.Target) (Backend, error) {
	var best Backend
	var bestScore float32
	for _, b := range r.Backends() {
		v := b.MatchScore(t)
		if refused(v) {
			r.logger.Debug("backend refused target", "backend", b.Name(), "target", t.String(), "score", v)
			continue
		}
		r.logger.Debug("backend scored target", "backend", b.Name(), "target", t.String(), "score", v)
		if best == nil || v > bestScore {
			best, bestScore = b, v
		}
	}
	if best == nil {
		return nil, NewError(ErrUnsupportedTarget, "", "no compatible backend for target %s", t)
	}
	r.logger.Debug("selected backend", "backend", best.Name(), "target", t.String(), "score", bestScore)
	return best, nil
}

// Compile dispatches p to the best backend for t and returns the bundle
// of output files. Partial output is never returned on error.
func (r *Registry) Compile(p *ir.Program, t target.Target) (*Output, error) {
	b, err := r.Select(t)
	if err != nil {
		return nil, err
	}

	data, err := b.Compile(p)
	if err != nil {
		return nil, err
	}

	name := FileName(p, b)
	r.logger.Debug("compiled program", "program", p.Name, "backend", b.Name(), "file", name, "bytes", len(data))
	return &Output{
		Backend: b.Name(),
		Target:  t,
		Files:   map[string][]byte{name: data},
	}, nil
}
