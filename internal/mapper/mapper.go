// Package mapper translates canonical function names such as
// __builtin_print or malloc into the symbol each target expects.
//
// The table is {canonical: {tag: target-name}}. Look-up is two indexed
// accesses; a missing mapping falls through to the raw name.
package mapper

import (
	"maps"
	"slices"

	"github.com/roach88/polyasm/internal/target"
)

// Tag identifies a target family in the mapping table.
type Tag string

const (
	TagPE   Tag = "pe"
	TagMSIL Tag = "msil"
	TagJVM  Tag = "jvm"
	TagWASI Tag = "wasi"
)

// Tags lists every valid tag in a stable order.
var Tags = []Tag{TagPE, TagMSIL, TagJVM, TagWASI}

// ValidTag reports whether s names a known tag.
func ValidTag(s string) bool {
	return slices.Contains(Tags, Tag(s))
}

// TagFor returns the tag of the target family t belongs to.
func TagFor(t target.Target) (Tag, bool) {
	switch {
	case t.Arch == target.ArchJVM || t.Abi == target.AbiJavaAssembly:
		return TagJVM, true
	case t.Arch == target.ArchCLR || t.Abi == target.AbiMSIL:
		return TagMSIL, true
	case t.Arch == target.ArchWASM32 || t.Arch == target.ArchWASM64 || t.Api.Kind == target.ApiWASI:
		return TagWASI, true
	case t.Abi == target.AbiPE || t.Arch == target.ArchX86 || t.Arch == target.ArchX86_64:
		return TagPE, true
	}
	return "", false
}

// Mapper holds the read-only mapping table. Build it once and share it;
// Map and Lookup never mutate it.
type Mapper struct {
	table map[string]map[Tag]string
}

// New returns a mapper over a copy of table.
func New(table map[string]map[Tag]string) *Mapper {
	m := &Mapper{table: make(map[string]map[Tag]string, len(table))}
	for name, row := range table {
		m.table[name] = maps.Clone(row)
	}
	return m
}

// Default returns the built-in table.
func Default() *Mapper {
	return New(DefaultTable())
}

// DefaultTable returns a fresh copy of the built-in mappings.
func DefaultTable() map[string]map[Tag]string {
	return map[string]map[Tag]string{
		"__builtin_print": {
			TagPE:   "printf",
			TagMSIL: "System.Console.WriteLine",
			TagJVM:  "java.lang.System.out.println",
			TagWASI: "fd_write",
		},
		"__builtin_println": {
			TagPE:   "puts",
			TagMSIL: "System.Console.WriteLine",
			TagJVM:  "java.lang.System.out.println",
			TagWASI: "fd_write",
		},
		"__builtin_read": {
			TagPE:   "gets_s",
			TagMSIL: "System.Console.ReadLine",
			TagJVM:  "java/util/Scanner.nextLine:()Ljava/lang/String;",
			TagWASI: "fd_read",
		},
		"__builtin_exit": {
			TagPE:   "ExitProcess",
			TagMSIL: "System.Environment.Exit",
			TagJVM:  "java/lang/System.exit:(I)V",
			TagWASI: "proc_exit",
		},
		"malloc": {
			TagPE:   "malloc",
			TagMSIL: "System.Runtime.InteropServices.Marshal.AllocHGlobal",
			TagJVM:  "java/nio/ByteBuffer.allocate:(I)Ljava/nio/ByteBuffer;",
			TagWASI: "malloc",
		},
		"free": {
			TagPE:   "free",
			TagMSIL: "System.Runtime.InteropServices.Marshal.FreeHGlobal",
			TagWASI: "free",
		},
	}
}

// Lookup returns the mapping for name under tag, if one exists.
func (m *Mapper) Lookup(tag Tag, name string) (string, bool) {
	row, ok := m.table[name]
	if !ok {
		return "", false
	}
	mapped, ok := row[tag]
	return mapped, ok && mapped != ""
}

// Map resolves name for target t. Unmapped names are returned unchanged.
func (m *Mapper) Map(t target.Target, name string) string {
	tag, ok := TagFor(t)
	if !ok {
		return name
	}
	return m.MapTag(tag, name)
}

// MapTag resolves name for a tag. Unmapped names are returned unchanged.
func (m *Mapper) MapTag(tag Tag, name string) string {
	if mapped, ok := m.Lookup(tag, name); ok {
		return mapped
	}
	return name
}

// Override returns a new mapper with overrides layered on top of m.
// An empty target name removes the mapping for that tag.
func (m *Mapper) Override(overrides map[string]map[Tag]string) *Mapper {
	next := New(m.table)
	for name, row := range overrides {
		dst, ok := next.table[name]
		if !ok {
			dst = make(map[Tag]string, len(row))
			next.table[name] = dst
		}
		for tag, mapped := range row {
			if mapped == "" {
				delete(dst, tag)
				continue
			}
			dst[tag] = mapped
		}
	}
	return next
}

// Names returns the canonical names in sorted order.
func (m *Mapper) Names() []string {
	return slices.Sorted(maps.Keys(m.table))
}

// IsCanonical reports whether name has any mapping.
func (m *Mapper) IsCanonical(name string) bool {
	_, ok := m.table[name]
	return ok
}
