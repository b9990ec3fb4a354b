package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/polyasm/internal/ir"
)

// CycleWarning reports a recursive call chain.
//
// Recursion is a warning, not an error: every backend can emit it, but
// the PE and WASI stacks have no depth guard, so unbounded recursion
// crashes the produced program rather than the assembler.
type CycleWarning struct {
	Path    []string `json:"path"` // e.g. ["even", "odd", "even"]
	Message string   `json:"message"`
	Level   string   `json:"level"` // "warning" or "info"
}

// AnalyzeCycles finds recursive call chains between the functions of p.
// Calls to names outside the program are ignored. Each group of mutually
// recursive functions yields one warning whose path starts at the
// group's lexically smallest name; warnings are sorted by that name.
func AnalyzeCycles(p *ir.Program) []CycleWarning {
	g := newCallGraph(p)

	warnings := []CycleWarning{}
	grouped := make(map[string]bool)
	for _, fn := range g.names {
		if grouped[fn] {
			continue
		}
		path := g.shortestCycle(fn)
		if path == nil {
			continue
		}
		for _, member := range g.component(fn) {
			grouped[member] = true
		}
		warnings = append(warnings, cycleWarning(path))
	}
	return warnings
}

// callGraph holds the distinct in-program callees of each function,
// sorted, so traversals are deterministic.
type callGraph struct {
	names []string
	calls map[string][]string
}

func newCallGraph(p *ir.Program) *callGraph {
	g := &callGraph{calls: make(map[string][]string, len(p.Functions))}
	for _, fn := range p.Functions {
		g.names = append(g.names, fn.Name)
		g.calls[fn.Name] = nil
	}
	slices.Sort(g.names)

	for _, fn := range p.Functions {
		var callees []string
		for _, in := range fn.Body {
			if in.Op != ir.OpCall {
				continue
			}
			if _, local := g.calls[in.Symbol]; local {
				callees = append(callees, in.Symbol)
			}
		}
		slices.Sort(callees)
		g.calls[fn.Name] = slices.Compact(callees)
	}
	return g
}

// reachable returns every function reachable from fn by one or more calls.
func (g *callGraph) reachable(fn string) map[string]bool {
	seen := make(map[string]bool)
	queue := slices.Clone(g.calls[fn])
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		queue = append(queue, g.calls[next]...)
	}
	return seen
}

// component returns the functions that are mutually reachable with fn,
// fn included, in sorted order.
func (g *callGraph) component(fn string) []string {
	members := []string{fn}
	for other := range g.reachable(fn) {
		if other != fn && g.reachable(other)[fn] {
			members = append(members, other)
		}
	}
	slices.Sort(members)
	return members
}

// shortestCycle returns the shortest call path from fn back to fn, or
// nil when fn is not recursive. Ties go to the lexically smaller callee.
func (g *callGraph) shortestCycle(fn string) []string {
	parent := make(map[string]string)
	queue := []string{fn}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, callee := range g.calls[cur] {
			if callee == fn {
				var via []string
				for n := cur; n != fn; n = parent[n] {
					via = append(via, n)
				}
				slices.Reverse(via)
				return append(append([]string{fn}, via...), fn)
			}
			if _, seen := parent[callee]; seen {
				continue
			}
			parent[callee] = cur
			queue = append(queue, callee)
		}
	}
	return nil
}

func cycleWarning(path []string) CycleWarning {
	msg := "Mutual recursion: " + strings.Join(path, " → ")
	if len(path) == 2 {
		msg = fmt.Sprintf("Recursive function: %s → %s", path[0], path[1])
	}
	return CycleWarning{Path: path, Message: msg, Level: "warning"}
}
