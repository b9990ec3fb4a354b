// Package pe compiles IR programs into native Windows executables for
// x64 and x86 and reads such executables back into IR.
//
// Code is generated for a stack machine laid over the hardware stack:
// every IR value is one pointer-sized slot and rax/rbx are scratch. The
// image has two sections, .text with the code and .data with globals,
// string literals and the import table.
package pe

import (
	"debug/pe"
	"math"

	"github.com/roach88/polyasm/internal/backend"
	"github.com/roach88/polyasm/internal/ir"
	"github.com/roach88/polyasm/internal/mapper"
	"github.com/roach88/polyasm/internal/target"
)

// Registry names of the two PE backends.
const (
	NameX64 = "pe-x64"
	NameX86 = "pe-x86"
)

// arch holds everything that differs between the 64- and 32-bit code
// generators.
type arch struct {
	name      string
	target    target.Target
	machine   uint16
	wide      bool
	slot      int
	argBase   int // rbp offset of the first argument
	imageBase uint64
}

var (
	archX64 = arch{
		name:      NameX64,
		target:    target.WindowsX64,
		machine:   pe.IMAGE_FILE_MACHINE_AMD64,
		wide:      true,
		slot:      8,
		argBase:   16,
		imageBase: 0x140000000,
	}
	archX86 = arch{
		name:      NameX86,
		target:    target.WindowsX86,
		machine:   pe.IMAGE_FILE_MACHINE_I386,
		slot:      4,
		argBase:   8,
		imageBase: 0x400000,
	}
)

// Options tune the image headers.
type Options struct {
	// ImageBase overrides the preferred load address. Zero keeps the
	// architecture default.
	ImageBase uint64
	// Subsystem is SubsystemConsole or SubsystemGUI.
	Subsystem uint16
}

// DefaultOptions builds console executables at the default base.
func DefaultOptions() Options {
	return Options{Subsystem: SubsystemConsole}
}

// Backend emits PE executables for one architecture.
type Backend struct {
	arch   arch
	mapper *mapper.Mapper
	opts   Options
}

var _ backend.Backend = (*Backend)(nil)

func newBackend(a arch, m *mapper.Mapper, opts Options) *Backend {
	if m == nil {
		m = mapper.Default()
	}
	if opts.ImageBase == 0 {
		opts.ImageBase = a.imageBase
	}
	if opts.Subsystem == 0 {
		opts.Subsystem = SubsystemConsole
	}
	return &Backend{arch: a, mapper: m, opts: opts}
}

// NewX64 creates the PE32+ backend. A nil mapper uses the default table.
func NewX64(m *mapper.Mapper, opts Options) *Backend { return newBackend(archX64, m, opts) }

// NewX86 creates the PE32 backend. A nil mapper uses the default table.
func NewX86(m *mapper.Mapper, opts Options) *Backend { return newBackend(archX86, m, opts) }

func (b *Backend) Name() string { return b.arch.name }

func (b *Backend) PrimaryTarget() target.Target { return b.arch.target }

func (b *Backend) FileExtension() string { return "exe" }

func (b *Backend) MatchScore(t target.Target) float32 {
	return target.Score(b.PrimaryTarget(), t)
}

// Compile emits a complete executable for p.
func (b *Backend) Compile(p *ir.Program) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, backend.FromValidation(b.arch.name, err)
	}
	if !b.arch.wide && b.opts.ImageBase > math.MaxUint32 {
		return nil, backend.NewError(backend.ErrRelocationOverflow, b.arch.name,
			"image base %#x does not fit in 32 bits", b.opts.ImageBase)
	}
	ctx, data, err := compileProgram(b.arch, p, b.mapper)
	if err != nil {
		return nil, err
	}
	if len(ctx.code) == 0 {
		ctx.emit(opRet...)
	}

	ptrSize := b.arch.slot
	textRVA := uint32(sectionAlignment)
	dataRVA := nextRVA(textRVA, len(ctx.code))
	idataOff := alignUp(len(data.buf), 8)
	imports := buildImportTable(ctx.imports(), dataRVA+uint32(idataOff), ptrSize, b.arch.wide)

	dataBytes := make([]byte, idataOff, idataOff+len(imports.bytes))
	copy(dataBytes, data.buf)
	dataBytes = append(dataBytes, imports.bytes...)
	if len(dataBytes) == 0 {
		dataBytes = make([]byte, globalSlot)
	}

	err = ctx.resolve(b.arch.name, layout{
		textRVA:   textRVA,
		dataRVA:   dataRVA,
		imageBase: b.opts.ImageBase,
		iatSlots:  imports.slots,
	})
	if err != nil {
		return nil, err
	}

	img := &image{
		arch:      b.arch,
		imageBase: b.opts.ImageBase,
		subsystem: b.opts.Subsystem,
		sections: []*section{
			{name: ".text", data: ctx.code, characteristics: pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ},
			{name: ".data", data: dataBytes, characteristics: pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_WRITE},
		},
		entry: textRVA + uint32(entryOffset(p, ctx)),
	}
	if len(imports.bytes) > 0 {
		img.dirs[pe.IMAGE_DIRECTORY_ENTRY_IMPORT] = pe.DataDirectory{VirtualAddress: imports.dirRVA, Size: imports.dirSize}
		img.dirs[pe.IMAGE_DIRECTORY_ENTRY_IAT] = pe.DataDirectory{VirtualAddress: imports.iatRVA, Size: imports.iatSize}
	}
	if err := img.place(); err != nil {
		return nil, err
	}
	return img.bytes(), nil
}

// entryOffset picks main, then _start, then the first function.
func entryOffset(p *ir.Program, ctx *Context) int {
	for _, name := range []string{"main", "_start"} {
		if _, ok := p.Function(name); ok {
			return ctx.labels[labelKey{label: name}]
		}
	}
	if len(p.Functions) > 0 {
		return ctx.labels[labelKey{label: p.Functions[0].Name}]
	}
	return 0
}
