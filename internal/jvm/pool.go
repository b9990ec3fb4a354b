package jvm

import (
	"fmt"
	"math"
)

// Constant pool tags.
const (
	tagUtf8        byte = 1
	tagInteger     byte = 3
	tagFloat       byte = 4
	tagLong        byte = 5
	tagDouble      byte = 6
	tagClass       byte = 7
	tagString      byte = 8
	tagFieldref    byte = 9
	tagMethodref   byte = 10
	tagNameAndType byte = 12
)

// maxPoolCount is the largest constant_pool_count a class file can declare.
const maxPoolCount = 65535

// poolEntry is one constant. Refs hold pool indices; Value holds the raw
// 32- or 64-bit payload of numeric constants.
type poolEntry struct {
	Tag   byte
	Text  string
	Refs  [2]uint16
	Value uint64
}

// width is the number of logical slots the entry occupies.
func (e poolEntry) width() int {
	if e.Tag == tagLong || e.Tag == tagDouble {
		return 2
	}
	return 1
}

// key is the canonical textual form used for deduplication.
func (e poolEntry) key() string {
	switch e.Tag {
	case tagUtf8:
		return "utf8:" + e.Text
	case tagClass:
		return fmt.Sprintf("class:%d", e.Refs[0])
	case tagString:
		return fmt.Sprintf("string:%d", e.Refs[0])
	case tagNameAndType:
		return fmt.Sprintf("nameandtype:%d:%d", e.Refs[0], e.Refs[1])
	case tagMethodref:
		return fmt.Sprintf("methodref:%d:%d", e.Refs[0], e.Refs[1])
	case tagFieldref:
		return fmt.Sprintf("fieldref:%d:%d", e.Refs[0], e.Refs[1])
	case tagInteger:
		return fmt.Sprintf("integer:%d", int32(e.Value))
	case tagFloat:
		return fmt.Sprintf("float:%08x", e.Value)
	case tagLong:
		return fmt.Sprintf("long:%d", int64(e.Value))
	case tagDouble:
		return fmt.Sprintf("double:%016x", e.Value)
	}
	return fmt.Sprintf("unknown:%d", e.Tag)
}

// ConstantPool deduplicates entries by their canonical key and assigns
// indices from 1. Long and Double take two indices.
type ConstantPool struct {
	entries []poolEntry
	index   map[string]uint16
	next    int
	err     error
}

func newConstantPool() *ConstantPool {
	return &ConstantPool{index: make(map[string]uint16), next: 1}
}

// Count is the constant_pool_count written to the class file.
func (p *ConstantPool) Count() int { return p.next }

// Err reports the first overflow, if any.
func (p *ConstantPool) Err() error { return p.err }

func (p *ConstantPool) add(e poolEntry) uint16 {
	if p.err != nil {
		return 0
	}
	k := e.key()
	if idx, ok := p.index[k]; ok {
		return idx
	}
	if p.next+e.width() > maxPoolCount {
		p.err = fmt.Errorf("constant pool exceeds %d entries", maxPoolCount-1)
		return 0
	}
	idx := uint16(p.next)
	p.entries = append(p.entries, e)
	p.index[k] = idx
	p.next += e.width()
	return idx
}

func (p *ConstantPool) Utf8(s string) uint16 {
	return p.add(poolEntry{Tag: tagUtf8, Text: s})
}

func (p *ConstantPool) Class(name string) uint16 {
	return p.add(poolEntry{Tag: tagClass, Refs: [2]uint16{p.Utf8(name)}})
}

func (p *ConstantPool) String(s string) uint16 {
	return p.add(poolEntry{Tag: tagString, Refs: [2]uint16{p.Utf8(s)}})
}

func (p *ConstantPool) NameAndType(name, descriptor string) uint16 {
	n := p.Utf8(name)
	d := p.Utf8(descriptor)
	return p.add(poolEntry{Tag: tagNameAndType, Refs: [2]uint16{n, d}})
}

func (p *ConstantPool) Methodref(class, name, descriptor string) uint16 {
	c := p.Class(class)
	nt := p.NameAndType(name, descriptor)
	return p.add(poolEntry{Tag: tagMethodref, Refs: [2]uint16{c, nt}})
}

func (p *ConstantPool) Fieldref(class, name, descriptor string) uint16 {
	c := p.Class(class)
	nt := p.NameAndType(name, descriptor)
	return p.add(poolEntry{Tag: tagFieldref, Refs: [2]uint16{c, nt}})
}

func (p *ConstantPool) Integer(v int32) uint16 {
	return p.add(poolEntry{Tag: tagInteger, Value: uint64(uint32(v))})
}

func (p *ConstantPool) Float(v float32) uint16 {
	return p.add(poolEntry{Tag: tagFloat, Value: uint64(math.Float32bits(v))})
}

func (p *ConstantPool) Long(v int64) uint16 {
	return p.add(poolEntry{Tag: tagLong, Value: uint64(v)})
}

func (p *ConstantPool) Double(v float64) uint16 {
	return p.add(poolEntry{Tag: tagDouble, Value: math.Float64bits(v)})
}
