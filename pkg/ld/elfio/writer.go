package elfio

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"
)

// OutSection is a section queued on a Writer. The name index into the
// synthesized .shstrtab is assigned at write time.
type OutSection struct {
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Link      uint32
	Info      uint32
	Alignment uint64
	EntSize   uint64
	Data      []byte

	// Size overrides len(Data) in the section header, for NOBITS
	// sections that occupy no file bytes.
	Size uint64
}

// Writer emits a relocatable ELF image from a list of sections. The
// section-header string table is synthesized on Write by concatenating the
// added section names, so callers never manage name indexes themselves.
type Writer struct {
	class    elf.Class
	data     elf.Data
	machine  elf.Machine
	sections []*OutSection
}

// NewWriter creates a writer emitting in the invocation's format. An unset
// format falls back to 64-bit little-endian.
func NewWriter(format *Format) *Writer {
	if format != nil && format.Set() {
		return NewWriterFor(format.Class(), format.Data(), format.Machine())
	}
	return NewWriterFor(elf.ELFCLASS64, elf.ELFDATA2LSB, elf.EM_NONE)
}

// NewWriterFor creates a writer emitting the exact class, encoding and
// machine given.
func NewWriterFor(class elf.Class, data elf.Data, machine elf.Machine) *Writer {
	return &Writer{
		class:   class,
		data:    data,
		machine: machine,
	}
}

// Add queues a section. Order is preserved into the output image.
func (w *Writer) Add(sec *OutSection) {
	w.sections = append(w.sections, sec)
}

func (w *Writer) byteOrder() binary.ByteOrder {
	if w.data == elf.ELFDATA2MSB {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func align(v uint64, alignment uint64) uint64 {
	if alignment <= 1 {
		return v
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

// Write lays the image out and emits it: header, section data, the
// synthesized .shstrtab, then the section header table.
func (w *Writer) Write(out io.Writer) error {
	is64 := w.class == elf.ELFCLASS64
	bo := w.byteOrder()

	ehsize := uint64(52)
	shentsize := uint64(40)
	if is64 {
		ehsize = 64
		shentsize = 64
	}

	// Build .shstrtab: a leading NUL, then every name.
	shstrtab := []byte{0}
	nameIndex := make([]uint32, len(w.sections)+2)
	for i, sec := range w.sections {
		nameIndex[i+1] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, sec.Name...)
		shstrtab = append(shstrtab, 0)
	}
	nameIndex[len(w.sections)+1] = uint32(len(shstrtab))
	shstrtab = append(shstrtab, ".shstrtab"...)
	shstrtab = append(shstrtab, 0)

	// Assign file offsets.
	offsets := make([]uint64, len(w.sections))
	pos := ehsize
	for i, sec := range w.sections {
		pos = align(pos, sec.Alignment)
		offsets[i] = pos
		if sec.Type != elf.SHT_NOBITS {
			pos += uint64(len(sec.Data))
		}
	}
	shstrtabOff := pos
	pos += uint64(len(shstrtab))
	shoff := align(pos, 8)

	shnum := uint64(len(w.sections) + 2)
	shstrndx := shnum - 1

	// ELF header.
	var ident [16]byte
	copy(ident[:], elfMagic)
	ident[elf.EI_CLASS] = byte(w.class)
	ident[elf.EI_DATA] = byte(w.data)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	hdr := &bytes.Buffer{}
	hdr.Write(ident[:])
	writeU16(hdr, bo, uint16(elf.ET_REL))
	writeU16(hdr, bo, uint16(w.machine))
	writeU32(hdr, bo, uint32(elf.EV_CURRENT))
	if is64 {
		writeU64(hdr, bo, 0) // entry
		writeU64(hdr, bo, 0) // phoff
		writeU64(hdr, bo, shoff)
	} else {
		writeU32(hdr, bo, 0)
		writeU32(hdr, bo, 0)
		writeU32(hdr, bo, uint32(shoff))
	}
	writeU32(hdr, bo, 0) // flags
	writeU16(hdr, bo, uint16(ehsize))
	writeU16(hdr, bo, 0) // phentsize
	writeU16(hdr, bo, 0) // phnum
	writeU16(hdr, bo, uint16(shentsize))
	writeU16(hdr, bo, uint16(shnum))
	writeU16(hdr, bo, uint16(shstrndx))

	if _, err := out.Write(hdr.Bytes()); err != nil {
		return err
	}

	// Section data with alignment padding.
	pos = ehsize
	for i, sec := range w.sections {
		if pad := offsets[i] - pos; pad > 0 {
			if _, err := out.Write(make([]byte, pad)); err != nil {
				return err
			}
			pos += pad
		}
		if sec.Type != elf.SHT_NOBITS {
			if _, err := out.Write(sec.Data); err != nil {
				return err
			}
			pos += uint64(len(sec.Data))
		}
	}
	if _, err := out.Write(shstrtab); err != nil {
		return err
	}
	pos += uint64(len(shstrtab))
	if pad := shoff - pos; pad > 0 {
		if _, err := out.Write(make([]byte, pad)); err != nil {
			return err
		}
	}

	// Section header table: null entry, sections, .shstrtab.
	sht := &bytes.Buffer{}
	writeShdr(sht, bo, is64, shdr{})
	for i, sec := range w.sections {
		size := uint64(len(sec.Data))
		if sec.Size != 0 {
			size = sec.Size
		}
		writeShdr(sht, bo, is64, shdr{
			name:      nameIndex[i+1],
			typ:       uint32(sec.Type),
			flags:     uint64(sec.Flags),
			addr:      sec.Addr,
			offset:    offsets[i],
			size:      size,
			link:      sec.Link,
			info:      sec.Info,
			alignment: sec.Alignment,
			entsize:   sec.EntSize,
		})
	}
	writeShdr(sht, bo, is64, shdr{
		name:   nameIndex[len(w.sections)+1],
		typ:    uint32(elf.SHT_STRTAB),
		offset: shstrtabOff,
		size:   uint64(len(shstrtab)),
	})

	_, err := out.Write(sht.Bytes())
	return err
}

type shdr struct {
	name      uint32
	typ       uint32
	flags     uint64
	addr      uint64
	offset    uint64
	size      uint64
	link      uint32
	info      uint32
	alignment uint64
	entsize   uint64
}

func writeShdr(b *bytes.Buffer, bo binary.ByteOrder, is64 bool, h shdr) {
	writeU32(b, bo, h.name)
	writeU32(b, bo, h.typ)
	if is64 {
		writeU64(b, bo, h.flags)
		writeU64(b, bo, h.addr)
		writeU64(b, bo, h.offset)
		writeU64(b, bo, h.size)
		writeU32(b, bo, h.link)
		writeU32(b, bo, h.info)
		writeU64(b, bo, h.alignment)
		writeU64(b, bo, h.entsize)
	} else {
		writeU32(b, bo, uint32(h.flags))
		writeU32(b, bo, uint32(h.addr))
		writeU32(b, bo, uint32(h.offset))
		writeU32(b, bo, uint32(h.size))
		writeU32(b, bo, h.link)
		writeU32(b, bo, h.info)
		writeU32(b, bo, uint32(h.alignment))
		writeU32(b, bo, uint32(h.entsize))
	}
}

func writeU16(b *bytes.Buffer, bo binary.ByteOrder, v uint16) {
	var buf [2]byte
	bo.PutUint16(buf[:], v)
	b.Write(buf[:])
}

func writeU32(b *bytes.Buffer, bo binary.ByteOrder, v uint32) {
	var buf [4]byte
	bo.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func writeU64(b *bytes.Buffer, bo binary.ByteOrder, v uint64) {
	var buf [8]byte
	bo.PutUint64(buf[:], v)
	b.Write(buf[:])
}
