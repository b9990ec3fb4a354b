package pe

import (
	"encoding/binary"
	"math"

	"github.com/roach88/polyasm/internal/backend"
)

type fixupKind uint8

const (
	// fixupLabel is a rel32 to a code label, relative to the next instruction.
	fixupLabel fixupKind = iota
	// fixupImport addresses an IAT slot: rel32 on x64, absolute VA on x86.
	fixupImport
	// fixupData is the absolute VA of a .data item.
	fixupData
	// fixupDataRel is a rel32 from the next instruction to a .data item.
	fixupDataRel
)

// labelKey scopes IR labels to their function. Function entry points use
// an empty fn.
type labelKey struct {
	fn    string
	label string
}

// fixup is a placeholder in the code whose value depends on layout.
type fixup struct {
	kind     fixupKind
	site     int // offset of the field in code
	width    int // 4 or 8
	next     int // offset of the following instruction, for relative kinds
	relative bool
	label    labelKey
	symbol   string // import name
	data     int    // offset into .data
	fn       string
	index    int
}

// CallSite is one entry of the call log.
type CallSite struct {
	Name   string
	Import bool
	Offset int
}

// Context accumulates machine code for a whole program. Labels are
// recorded as offsets into code; fixups are patched once the image is
// laid out.
type Context struct {
	code   []byte
	labels map[labelKey]int
	fixups []fixup
	calls  []CallSite

	// per function
	frame int
	slots map[uint32]int
}

func newContext() *Context {
	return &Context{labels: make(map[labelKey]int)}
}

func (c *Context) offset() int { return len(c.code) }

func (c *Context) emit(b ...byte) { c.code = append(c.code, b...) }

func (c *Context) emitU32(v uint32) { c.code = binary.LittleEndian.AppendUint32(c.code, v) }

func (c *Context) emitU64(v uint64) { c.code = binary.LittleEndian.AppendUint64(c.code, v) }

// beginFunction resets the stack allocator.
func (c *Context) beginFunction() {
	c.frame = 0
	c.slots = make(map[uint32]int)
}

// allocateStack reserves n bytes below the frame pointer and returns the
// frame-relative offset of the new slot.
func (c *Context) allocateStack(n int) int {
	c.frame += n
	return -c.frame
}

// localOffset returns the slot of local idx, allocating it on first use.
func (c *Context) localOffset(idx uint32, size int) int {
	if off, ok := c.slots[idx]; ok {
		return off
	}
	off := c.allocateStack(size)
	c.slots[idx] = off
	return off
}

func (c *Context) defineLabel(key labelKey) {
	c.labels[key] = len(c.code)
}

// referenceLabel emits a zero rel32 field that will point at key. The
// field must be the last thing in its instruction.
func (c *Context) referenceLabel(key labelKey, fn string, index int) {
	site := len(c.code)
	c.emitU32(0)
	c.fixups = append(c.fixups, fixup{kind: fixupLabel, site: site, width: 4, next: site + 4, relative: true, label: key, fn: fn, index: index})
}

// referenceImport emits a zero field addressing the IAT slot of name,
// RIP-relative or absolute.
func (c *Context) referenceImport(name string, relative bool, fn string, index int) {
	site := len(c.code)
	c.emitU32(0)
	c.fixups = append(c.fixups, fixup{kind: fixupImport, site: site, width: 4, next: site + 4, relative: relative, symbol: name, fn: fn, index: index})
}

func (c *Context) referenceData(off, width int, relative bool, fn string, index int) {
	site := len(c.code)
	kind := fixupData
	if relative {
		kind = fixupDataRel
	}
	if width == 8 {
		c.emitU64(0)
	} else {
		c.emitU32(0)
	}
	c.fixups = append(c.fixups, fixup{kind: kind, site: site, width: width, next: site + width, relative: relative, data: off, fn: fn, index: index})
}

func (c *Context) logCall(name string, imported bool) {
	c.calls = append(c.calls, CallSite{Name: name, Import: imported, Offset: len(c.code)})
}

// Calls returns the call log in emission order.
func (c *Context) Calls() []CallSite { return c.calls }

// imports returns the distinct imported names in first-call order.
func (c *Context) imports() []string {
	seen := make(map[string]bool)
	var out []string
	for _, call := range c.calls {
		if call.Import && !seen[call.Name] {
			seen[call.Name] = true
			out = append(out, call.Name)
		}
	}
	return out
}

func (c *Context) patchU32(at int, v uint32) {
	binary.LittleEndian.PutUint32(c.code[at:], v)
}

// layout is everything fixups need to resolve.
type layout struct {
	textRVA   uint32
	dataRVA   uint32
	imageBase uint64
	iatSlots  map[string]uint32 // import name -> slot RVA
}

// resolve patches every fixup in place.
func (c *Context) resolve(name string, l layout) error {
	for _, f := range c.fixups {
		var target uint64
		switch f.kind {
		case fixupLabel:
			off, ok := c.labels[f.label]
			if !ok {
				if f.label.fn == "" {
					return backend.NewInstructionError(backend.ErrUnknownSymbol, name, f.fn, f.index, "no function %q", f.label.label)
				}
				return backend.NewInstructionError(backend.ErrUnresolvedLabel, name, f.fn, f.index, "label %q is never defined", f.label.label)
			}
			target = uint64(l.textRVA) + uint64(off)
		case fixupImport:
			slot, ok := l.iatSlots[f.symbol]
			if !ok {
				return backend.NewInstructionError(backend.ErrUnknownSymbol, name, f.fn, f.index, "import %q has no IAT slot", f.symbol)
			}
			target = uint64(slot)
			if !f.relative {
				target += l.imageBase
			}
		case fixupData:
			target = l.imageBase + uint64(l.dataRVA) + uint64(f.data)
		case fixupDataRel:
			target = uint64(l.dataRVA) + uint64(f.data)
		}

		if f.relative {
			disp := int64(target) - int64(uint64(l.textRVA)+uint64(f.next))
			if disp < math.MinInt32 || disp > math.MaxInt32 {
				return backend.NewInstructionError(backend.ErrRelocationOverflow, name, f.fn, f.index, "displacement %d does not fit in 32 bits", disp)
			}
			c.patchU32(f.site, uint32(int32(disp)))
			continue
		}
		if f.width == 8 {
			binary.LittleEndian.PutUint64(c.code[f.site:], target)
			continue
		}
		if target > math.MaxUint32 {
			return backend.NewInstructionError(backend.ErrRelocationOverflow, name, f.fn, f.index, "address %#x does not fit in 32 bits", target)
		}
		c.patchU32(f.site, uint32(target))
	}
	return nil
}
