package pe

import (
	"bytes"
	"debug/pe"
	"encoding/binary"

	"github.com/roach88/polyasm/internal/backend"
)

const (
	sectionAlignment = 0x1000
	fileAlignment    = 0x200
	maxSections      = 96

	// lfanew is where the NT headers start, right after the DOS stub.
	lfanew = 0x80
)

// Subsystems accepted in Options.
const (
	SubsystemGUI     = pe.IMAGE_SUBSYSTEM_WINDOWS_GUI
	SubsystemConsole = pe.IMAGE_SUBSYSTEM_WINDOWS_CUI
)

var dosStub = append(
	[]byte{0x0E, 0x1F, 0xBA, 0x0E, 0x00, 0xB4, 0x09, 0xCD, 0x21, 0xB8, 0x01, 0x4C, 0xCD, 0x21},
	"This program cannot be run in DOS mode.\r\r\n$"...,
)

// section is one entry of the section table with its raw bytes.
type section struct {
	name            string
	data            []byte
	characteristics uint32

	rva     uint32
	fileOff uint32
	rawSize uint32
}

func (s *section) virtualSize() uint32 { return uint32(max(len(s.data), 1)) }

// image is a laid-out executable.
type image struct {
	arch      arch
	imageBase uint64
	subsystem uint16
	sections  []*section
	entry     uint32
	dirs      [16]pe.DataDirectory
}

func optionalHeaderSize(a arch) int {
	if a.wide {
		return binary.Size(pe.OptionalHeader64{})
	}
	return binary.Size(pe.OptionalHeader32{})
}

func headersSize(a arch, sections int) uint32 {
	n := lfanew + 4 + binary.Size(pe.FileHeader{}) + optionalHeaderSize(a) + sections*binary.Size(pe.SectionHeader32{})
	return alignUp(uint32(n), fileAlignment)
}

// nextRVA is the first section-aligned address after a section of size
// bytes placed at rva.
func nextRVA(rva uint32, size int) uint32 {
	return alignUp(rva+uint32(max(size, 1)), sectionAlignment)
}

// place assigns addresses and file offsets in table order.
func (img *image) place() error {
	if len(img.sections) > maxSections {
		return backend.NewError(backend.ErrPoolOverflow, img.arch.name, "%d sections exceed the limit of %d", len(img.sections), maxSections)
	}
	rva := uint32(sectionAlignment)
	off := headersSize(img.arch, len(img.sections))
	for _, s := range img.sections {
		s.rva = rva
		s.fileOff = off
		s.rawSize = alignUp(uint32(len(s.data)), fileAlignment)
		rva = nextRVA(rva, len(s.data))
		off += s.rawSize
	}
	return nil
}

func (img *image) sizeOfImage() uint32 {
	last := img.sections[len(img.sections)-1]
	return nextRVA(last.rva, len(last.data))
}

func (img *image) sumRaw(flag uint32) uint32 {
	var n uint32
	for _, s := range img.sections {
		if s.characteristics&flag != 0 {
			n += s.rawSize
		}
	}
	return n
}

func (img *image) bytes() []byte {
	var buf bytes.Buffer
	img.writeDOS(&buf)

	buf.WriteString("PE\x00\x00")
	characteristics := uint16(pe.IMAGE_FILE_RELOCS_STRIPPED | pe.IMAGE_FILE_EXECUTABLE_IMAGE)
	if img.arch.wide {
		characteristics |= pe.IMAGE_FILE_LARGE_ADDRESS_AWARE
	} else {
		characteristics |= pe.IMAGE_FILE_32BIT_MACHINE
	}
	write(&buf, pe.FileHeader{
		Machine:              img.arch.machine,
		NumberOfSections:     uint16(len(img.sections)),
		SizeOfOptionalHeader: uint16(optionalHeaderSize(img.arch)),
		Characteristics:      characteristics,
	})
	img.writeOptionalHeader(&buf)

	for _, s := range img.sections {
		var name [8]uint8
		copy(name[:], s.name)
		write(&buf, pe.SectionHeader32{
			Name:             name,
			VirtualSize:      s.virtualSize(),
			VirtualAddress:   s.rva,
			SizeOfRawData:    s.rawSize,
			PointerToRawData: s.fileOff,
			Characteristics:  s.characteristics,
		})
	}

	for _, s := range img.sections {
		buf.Write(make([]byte, int(s.fileOff)-buf.Len()))
		buf.Write(s.data)
		buf.Write(make([]byte, int(s.rawSize)-len(s.data)))
	}
	return buf.Bytes()
}

func (img *image) writeDOS(buf *bytes.Buffer) {
	var hdr [lfanew]byte
	copy(hdr[:], "MZ")
	binary.LittleEndian.PutUint16(hdr[0x02:], 0x90) // bytes on last page
	binary.LittleEndian.PutUint16(hdr[0x04:], 3)    // pages
	binary.LittleEndian.PutUint16(hdr[0x08:], 4)    // header paragraphs
	binary.LittleEndian.PutUint16(hdr[0x0E:], 0xFFFF)
	binary.LittleEndian.PutUint16(hdr[0x10:], 0xB8)
	binary.LittleEndian.PutUint16(hdr[0x18:], 0x40)
	binary.LittleEndian.PutUint32(hdr[0x3C:], lfanew)
	copy(hdr[0x40:], dosStub)
	buf.Write(hdr[:])
}

func (img *image) writeOptionalHeader(buf *bytes.Buffer) {
	const (
		stackReserve = 0x100000
		stackCommit  = 0x1000
		heapReserve  = 0x100000
		heapCommit   = 0x1000
	)
	dllCharacteristics := uint16(pe.IMAGE_DLLCHARACTERISTICS_NX_COMPAT | pe.IMAGE_DLLCHARACTERISTICS_TERMINAL_SERVER_AWARE)
	codeSize := img.sumRaw(pe.IMAGE_SCN_CNT_CODE)
	dataSize := img.sumRaw(pe.IMAGE_SCN_CNT_INITIALIZED_DATA)
	headers := headersSize(img.arch, len(img.sections))

	if img.arch.wide {
		write(buf, pe.OptionalHeader64{
			Magic:                       0x20B,
			MajorLinkerVersion:          14,
			SizeOfCode:                  codeSize,
			SizeOfInitializedData:       dataSize,
			AddressOfEntryPoint:         img.entry,
			BaseOfCode:                  img.sections[0].rva,
			ImageBase:                   img.imageBase,
			SectionAlignment:            sectionAlignment,
			FileAlignment:               fileAlignment,
			MajorOperatingSystemVersion: 6,
			MajorSubsystemVersion:       6,
			SizeOfImage:                 img.sizeOfImage(),
			SizeOfHeaders:               headers,
			Subsystem:                   img.subsystem,
			DllCharacteristics:          dllCharacteristics,
			SizeOfStackReserve:          stackReserve,
			SizeOfStackCommit:           stackCommit,
			SizeOfHeapReserve:           heapReserve,
			SizeOfHeapCommit:            heapCommit,
			NumberOfRvaAndSizes:         16,
			DataDirectory:               img.dirs,
		})
		return
	}
	var baseOfData uint32
	if len(img.sections) > 1 {
		baseOfData = img.sections[1].rva
	}
	write(buf, pe.OptionalHeader32{
		Magic:                       0x10B,
		MajorLinkerVersion:          14,
		SizeOfCode:                  codeSize,
		SizeOfInitializedData:       dataSize,
		AddressOfEntryPoint:         img.entry,
		BaseOfCode:                  img.sections[0].rva,
		BaseOfData:                  baseOfData,
		ImageBase:                   uint32(img.imageBase),
		SectionAlignment:            sectionAlignment,
		FileAlignment:               fileAlignment,
		MajorOperatingSystemVersion: 6,
		MajorSubsystemVersion:       6,
		SizeOfImage:                 img.sizeOfImage(),
		SizeOfHeaders:               headers,
		Subsystem:                   img.subsystem,
		DllCharacteristics:          dllCharacteristics,
		SizeOfStackReserve:          stackReserve,
		SizeOfStackCommit:           stackCommit,
		SizeOfHeapReserve:           heapReserve,
		SizeOfHeapCommit:            heapCommit,
		NumberOfRvaAndSizes:         16,
		DataDirectory:               img.dirs,
	})
}

// write encodes a fixed-size header; bytes.Buffer writes cannot fail.
func write(buf *bytes.Buffer, v any) {
	_ = binary.Write(buf, binary.LittleEndian, v)
}
