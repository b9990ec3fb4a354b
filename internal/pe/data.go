package pe

import (
	"encoding/binary"

	"github.com/roach88/polyasm/internal/ir"
)

// globalSlot is the storage size of every global; x86 uses the low half.
const globalSlot = 8

// dataSection holds globals followed by interned string literals. The
// import table is appended after layout.
type dataSection struct {
	buf     []byte
	strings map[string]int
	globals map[string]int
}

func newDataSection(globals []ir.Global) *dataSection {
	d := &dataSection{strings: make(map[string]int), globals: make(map[string]int)}
	for _, g := range globals {
		d.globals[g.Name] = len(d.buf)
		var slot [globalSlot]byte
		binary.LittleEndian.PutUint64(slot[:], constantBits(g.Init))
		d.buf = append(d.buf, slot[:]...)
	}
	return d
}

// constantBits is the raw 64-bit stack representation of c.
func constantBits(c ir.Constant) uint64 {
	if c == nil {
		return 0
	}
	if n, ok := ir.IntValue(c); ok {
		return uint64(n)
	}
	if bits, _, ok := ir.FloatBits(c); ok {
		return bits
	}
	return 0
}

// internString returns the offset of the NUL-terminated copy of s,
// storing it on first use.
func (d *dataSection) internString(s string) int {
	if off, ok := d.strings[s]; ok {
		return off
	}
	off := len(d.buf)
	d.buf = append(d.buf, s...)
	d.buf = append(d.buf, 0)
	d.strings[s] = off
	return off
}

func (d *dataSection) global(name string) (int, bool) {
	off, ok := d.globals[name]
	return off, ok
}

func alignUp[T ~int | ~uint32 | ~uint64](v, align T) T {
	return (v + align - 1) &^ (align - 1)
}
