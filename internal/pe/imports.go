package pe

import (
	"encoding/binary"
	"slices"
)

// importSpec describes a system function the backend can call through
// the import table.
type importSpec struct {
	DLL     string
	Args    int
	Returns bool
	// Stdcall callees pop their own arguments on x86.
	Stdcall bool
}

var knownImports = map[string]importSpec{
	"ExitProcess":    {DLL: "kernel32.dll", Args: 1, Stdcall: true},
	"GetProcessHeap": {DLL: "kernel32.dll", Returns: true, Stdcall: true},
	"HeapAlloc":      {DLL: "kernel32.dll", Args: 3, Returns: true, Stdcall: true},
	"HeapFree":       {DLL: "kernel32.dll", Args: 3, Returns: true, Stdcall: true},
	"GetStdHandle":   {DLL: "kernel32.dll", Args: 1, Returns: true, Stdcall: true},
	"WriteFile":      {DLL: "kernel32.dll", Args: 5, Returns: true, Stdcall: true},
	"ReadFile":       {DLL: "kernel32.dll", Args: 5, Returns: true, Stdcall: true},
	"MessageBoxA":    {DLL: "user32.dll", Args: 4, Returns: true, Stdcall: true},
	"printf":         {DLL: "msvcrt.dll", Args: 1, Returns: true},
	"puts":           {DLL: "msvcrt.dll", Args: 1, Returns: true},
	"gets_s":         {DLL: "msvcrt.dll", Args: 2, Returns: true},
	"malloc":         {DLL: "msvcrt.dll", Args: 1, Returns: true},
	"free":           {DLL: "msvcrt.dll", Args: 1},
	"exit":           {DLL: "msvcrt.dll", Args: 1},
}

// KnownImport reports the DLL that exports name, if the backend knows it.
func KnownImport(name string) (string, bool) {
	spec, ok := knownImports[name]
	return spec.DLL, ok
}

// importDLL is one import descriptor worth of functions.
type importDLL struct {
	name  string
	funcs []string
}

// groupImports buckets names by DLL, keeping first-use order for both.
func groupImports(names []string) []importDLL {
	var dlls []importDLL
	for _, name := range names {
		dll := knownImports[name].DLL
		i := slices.IndexFunc(dlls, func(d importDLL) bool { return d.name == dll })
		if i < 0 {
			dlls = append(dlls, importDLL{name: dll})
			i = len(dlls) - 1
		}
		dlls[i].funcs = append(dlls[i].funcs, name)
	}
	return dlls
}

// importTable is a laid-out .idata region.
type importTable struct {
	bytes   []byte
	dirRVA  uint32
	dirSize uint32
	iatRVA  uint32
	iatSize uint32
	slots   map[string]uint32
}

// buildImportTable lays out descriptors, thunk arrays, hint/name entries
// and DLL names starting at rva base. With classic set every descriptor
// gets its own lookup table; otherwise OriginalFirstThunk is zero and
// the loader reads names from the IAT itself.
func buildImportTable(names []string, base uint32, ptrSize int, classic bool) *importTable {
	t := &importTable{slots: make(map[string]uint32)}
	if len(names) == 0 {
		return t
	}
	dlls := groupImports(names)

	idtSize := (len(dlls) + 1) * 20
	off := alignUp(idtSize, 8)
	iltOff := make([]int, len(dlls))
	if classic {
		for i, d := range dlls {
			iltOff[i] = off
			off += (len(d.funcs) + 1) * ptrSize
		}
	}
	iatStart := off
	iatOff := make([]int, len(dlls))
	for i, d := range dlls {
		iatOff[i] = off
		off += (len(d.funcs) + 1) * ptrSize
	}
	iatEnd := off
	hintOff := make(map[string]int)
	for _, d := range dlls {
		for _, f := range d.funcs {
			off = alignUp(off, 2)
			hintOff[f] = off
			off += 2 + len(f) + 1
		}
	}
	nameOff := make([]int, len(dlls))
	for i, d := range dlls {
		nameOff[i] = off
		off += len(d.name) + 1
	}

	buf := make([]byte, off)
	rva := func(o int) uint32 { return base + uint32(o) }
	putThunk := func(at int, v uint32) {
		if ptrSize == 8 {
			binary.LittleEndian.PutUint64(buf[at:], uint64(v))
			return
		}
		binary.LittleEndian.PutUint32(buf[at:], v)
	}
	for i, d := range dlls {
		desc := buf[i*20:]
		if classic {
			binary.LittleEndian.PutUint32(desc[0:], rva(iltOff[i]))
		}
		binary.LittleEndian.PutUint32(desc[12:], rva(nameOff[i]))
		binary.LittleEndian.PutUint32(desc[16:], rva(iatOff[i]))
		for j, f := range d.funcs {
			hint := rva(hintOff[f])
			putThunk(iatOff[i]+j*ptrSize, hint)
			if classic {
				putThunk(iltOff[i]+j*ptrSize, hint)
			}
			t.slots[f] = rva(iatOff[i] + j*ptrSize)
		}
		copy(buf[nameOff[i]:], d.name)
	}
	for f, o := range hintOff {
		copy(buf[o+2:], f)
	}

	t.bytes = buf
	t.dirRVA = base
	t.dirSize = uint32(idtSize)
	t.iatRVA = rva(iatStart)
	t.iatSize = uint32(iatEnd - iatStart)
	return t
}
