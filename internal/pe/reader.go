package pe

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
)

// Reader recovers IR from executables written by the PE backends.
// Machine code outside the emitted patterns comes back as comments.
type Reader struct{}

var _ backend.Importer = Reader{}

// NewReader creates a PE reader.
func NewReader() Reader { return Reader{} }

func (Reader) Name() string { return "pe" }

// imageView is a parsed executable, addressed by RVA.
type imageView struct {
	mode64    bool
	imageBase uint64
	entry     uint32
	sections  []loaded
	textRVA   uint32
	text      []byte
	dataRVA   uint32
	data      []byte

	// imports maps IAT slot RVAs to function names.
	imports map[uint32]string
	globals map[uint32]bool
}

type loaded struct {
	rva  uint32
	data []byte
}

// ImportProgram parses raw as a PE32 or PE32+ image and decodes its code
// section into functions. The entry point becomes main; other functions
// are named after their RVA.
func (Reader) ImportProgram(raw []byte) (*ir.Program, error) {
	f, err := pe.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse pe: %w", err)
	}
	defer f.Close()

	v, err := openView(f)
	if err != nil {
		return nil, err
	}
	return v.program(), nil
}

func openView(f *pe.File) (*imageView, error) {
	v := &imageView{imports: make(map[uint32]string), globals: make(map[uint32]bool)}
	var importDir pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		v.mode64, v.imageBase, v.entry = true, oh.ImageBase, oh.AddressOfEntryPoint
		importDir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IMPORT]
	case *pe.OptionalHeader32:
		v.imageBase, v.entry = uint64(oh.ImageBase), oh.AddressOfEntryPoint
		importDir = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_IMPORT]
	default:
		return nil, errors.New("parse pe: image has no optional header")
	}

	for _, s := range f.Sections {
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("read section %s: %w", s.Name, err)
		}
		if s.VirtualSize > 0 && int(s.VirtualSize) < len(data) {
			data = data[:s.VirtualSize]
		}
		v.sections = append(v.sections, loaded{rva: s.VirtualAddress, data: data})
		switch {
		case s.Characteristics&pe.IMAGE_SCN_CNT_CODE != 0 && v.text == nil:
			v.textRVA, v.text = s.VirtualAddress, data
		case s.Characteristics&pe.IMAGE_SCN_CNT_INITIALIZED_DATA != 0 && v.data == nil:
			v.dataRVA, v.data = s.VirtualAddress, data
		}
	}
	if v.text == nil {
		return nil, errors.New("parse pe: image has no code section")
	}
	if err := v.readImports(importDir); err != nil {
		return nil, err
	}
	return v, nil
}

// slice returns n bytes at rva from whichever section holds them.
func (v *imageView) slice(rva uint32, n int) ([]byte, bool) {
	for _, s := range v.sections {
		if rva >= s.rva && uint64(rva-s.rva)+uint64(n) <= uint64(len(s.data)) {
			off := rva - s.rva
			return s.data[off : int(off)+n], true
		}
	}
	return nil, false
}

func (v *imageView) cstring(rva uint32) (string, bool) {
	for _, s := range v.sections {
		if rva >= s.rva && rva < s.rva+uint32(len(s.data)) {
			rest := s.data[rva-s.rva:]
			if i := bytes.IndexByte(rest, 0); i >= 0 {
				return string(rest[:i]), true
			}
			return "", false
		}
	}
	return "", false
}

// readImports walks the descriptors through FirstThunk when
// OriginalFirstThunk is zero, so images without lookup tables still
// resolve their IAT slots.
func (v *imageView) readImports(dir pe.DataDirectory) error {
	if dir.VirtualAddress == 0 {
		return nil
	}
	ptr := uint32(4)
	ordinal := uint64(1) << 31
	if v.mode64 {
		ptr, ordinal = 8, uint64(1)<<63
	}
	for rva := dir.VirtualAddress; ; rva += 20 {
		desc, ok := v.slice(rva, 20)
		if !ok {
			return fmt.Errorf("parse pe: import descriptor at %#x is outside the image", rva)
		}
		oft := binary.LittleEndian.Uint32(desc[0:])
		nameRVA := binary.LittleEndian.Uint32(desc[12:])
		ft := binary.LittleEndian.Uint32(desc[16:])
		if nameRVA == 0 && ft == 0 {
			return nil
		}
		dll, _ := v.cstring(nameRVA)
		thunks := oft
		if thunks == 0 {
			thunks = ft
		}
		for j := uint32(0); ; j++ {
			entry, ok := v.slice(thunks+j*ptr, int(ptr))
			if !ok {
				return fmt.Errorf("parse pe: thunk table of %s runs past the image", dll)
			}
			var val uint64
			if ptr == 8 {
				val = binary.LittleEndian.Uint64(entry)
			} else {
				val = uint64(binary.LittleEndian.Uint32(entry))
			}
			if val == 0 {
				break
			}
			name := fmt.Sprintf("%s#%d", dll, val&0xFFFF)
			if val&ordinal == 0 {
				if s, ok := v.cstring(uint32(val) + 2); ok {
					name = s
				}
			}
			v.imports[ft+j*ptr] = name
		}
	}
}

func (v *imageView) slotType() ir.Type {
	if v.mode64 {
		return ir.Int64
	}
	return ir.Int32
}

func (v *imageView) functionName(off int) string {
	if v.textRVA+uint32(off) == v.entry {
		return "main"
	}
	return fmt.Sprintf("sub_%X", v.textRVA+uint32(off))
}

func (v *imageView) globalName(rva uint32) string {
	return fmt.Sprintf("data_%X", rva)
}

func (v *imageView) program() *ir.Program {
	d := &decoder{code: v.text, mode64: v.mode64, textRVA: v.textRVA, imageBase: v.imageBase}
	var insns []insn
	for pos := 0; pos < len(v.text); {
		in := d.decode(pos)
		insns = append(insns, in)
		pos += in.size
	}

	// functions start at "push rbp; mov rbp, rsp"
	var starts []int
	for i := 0; i+1 < len(insns); i++ {
		if insns[i].kind == kPushBP && insns[i+1].kind == kMovBPSP {
			starts = append(starts, i)
		}
	}
	if len(starts) == 0 || starts[0] != 0 {
		starts = append([]int{0}, starts...)
	}

	p := &ir.Program{Name: "image"}
	for k, s := range starts {
		end := len(insns)
		if k+1 < len(starts) {
			end = starts[k+1]
		}
		p.Functions = append(p.Functions, v.function(insns[s:end]))
	}

	rvas := make([]uint32, 0, len(v.globals))
	for rva := range v.globals {
		rvas = append(rvas, rva)
	}
	slices.Sort(rvas)
	for _, rva := range rvas {
		p.Globals = append(p.Globals, ir.Global{Name: v.globalName(rva), Type: v.slotType(), Init: v.globalInit(rva)})
	}
	return p
}

func (v *imageView) globalInit(rva uint32) ir.Constant {
	if v.mode64 {
		b, ok := v.slice(rva, 8)
		if !ok {
			return nil
		}
		return ir.Int64Const(int64(binary.LittleEndian.Uint64(b)))
	}
	b, ok := v.slice(rva, 4)
	if !ok {
		return nil
	}
	return ir.Int32Const(int32(binary.LittleEndian.Uint32(b)))
}

// dataString reports the literal at va when it points into .data.
func (v *imageView) dataString(va uint64) (string, bool) {
	if va < v.imageBase {
		return "", false
	}
	rva := va - v.imageBase
	if rva < uint64(v.dataRVA) || rva >= uint64(v.dataRVA)+uint64(len(v.data)) {
		return "", false
	}
	return v.cstring(uint32(rva))
}
