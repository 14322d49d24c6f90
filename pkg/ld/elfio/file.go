package elfio

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"io"

	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/symbols"
)

// Section describes one loaded ELF section.
type Section struct {
	Index     int
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Alignment uint64
	Addr      uint64
	Offset    int64
	Size      uint64
	Link      uint32
	Info      uint32
	EntSize   uint64

	// Relocs are the relocation records targeting this section.
	// RelaAddend marks whether they carry explicit addends.
	Relocs     []Reloc
	RelaAddend bool
}

// Reloc is one relocation record. Symbol is bound by the owning object once
// its symbol bucket is loaded; until then only SymIndex is valid.
type Reloc struct {
	Offset   uint64
	Info     uint64
	Type     uint32
	Addend   int64
	SymIndex int
	Symbol   *symbols.Symbol
}

// File is an open ELF image, possibly a bounded view into an archive.
type File struct {
	name     string
	r        io.ReaderAt
	ef       *elf.File
	sections []*Section
	byName   map[string]*Section
}

// elfMagic is what the first four bytes of any ELF image must be.
var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// Open parses the ELF image in r and validates it against the invocation
// format. For an archive member pass an io.SectionReader over the member
// bytes.
func Open(r io.ReaderAt, name string, format *Format) (*File, error) {
	var magic [4]byte
	if _, err := r.ReadAt(magic[:], 0); err != nil {
		return nil, ld.MakeError(ld.ErrNotELF, "elf", "%s: %v", name, err)
	}
	if !bytes.Equal(magic[:], elfMagic) {
		return nil, ld.MakeError(ld.ErrNotELF, "elf", "%s: bad magic", name)
	}

	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, ld.MakeError(ld.ErrNotELF, "elf", "%s: %v", name, err)
	}

	if format != nil {
		if err := format.Check(ef, name); err != nil {
			return nil, err
		}
	}

	f := &File{
		name:   name,
		r:      r,
		ef:     ef,
		byName: make(map[string]*Section, len(ef.Sections)),
	}

	for i, s := range ef.Sections {
		sec := &Section{
			Index:     i,
			Name:      s.Name,
			Type:      s.Type,
			Flags:     s.Flags,
			Alignment: s.Addralign,
			Addr:      s.Addr,
			Offset:    int64(s.Offset),
			Size:      s.FileSize,
			Link:      s.Link,
			Info:      s.Info,
			EntSize:   s.Entsize,
		}
		if s.Type == elf.SHT_NOBITS {
			sec.Size = s.Size
		}
		f.sections = append(f.sections, sec)
		f.byName[s.Name] = sec
	}

	return f, nil
}

func (f *File) Name() string { return f.name }
func (f *File) Class() elf.Class { return f.ef.Class }
func (f *File) Machine() elf.Machine { return f.ef.Machine }
func (f *File) Data() elf.Data { return f.ef.Data }
func (f *File) ByteOrder() binary.ByteOrder {
	return f.ef.ByteOrder
}

// ReaderAt exposes the underlying image so section bytes can be streamed
// from their file offsets.
func (f *File) ReaderAt() io.ReaderAt { return f.r }

// Section returns the section with the exact name, or nil.
func (f *File) Section(name string) *Section {
	return f.byName[name]
}

// SectionAt returns the section with the given header index, or nil.
func (f *File) SectionAt(index int) *Section {
	if index < 0 || index >= len(f.sections) {
		return nil
	}
	return f.sections[index]
}

// payloadSections is every section except the null entry.
func (f *File) payloadSections() []*Section {
	if len(f.sections) < 2 {
		return nil
	}
	return f.sections[1:]
}

// Sections returns, in header order, every section of the given type whose
// flags contain all of req and none of ban. Section 0 is never returned.
func (f *File) Sections(typ elf.SectionType, req, ban elf.SectionFlag) []*Section {
	var secs []*Section
	for _, sec := range f.payloadSections() {
		if sec.Type != typ {
			continue
		}
		if sec.Flags&req != req || sec.Flags&ban != 0 {
			continue
		}
		secs = append(secs, sec)
	}
	return secs
}

// SectionsNamed returns, in header order, every section with the exact
// name.
func (f *File) SectionsNamed(name string) []*Section {
	var secs []*Section
	for _, sec := range f.payloadSections() {
		if sec.Name == name {
			secs = append(secs, sec)
		}
	}
	return secs
}

// SectionData reads the raw bytes of a section. NOBITS sections have no
// file bytes and read back empty.
func (f *File) SectionData(sec *Section) ([]byte, error) {
	if sec.Type == elf.SHT_NOBITS || sec.Size == 0 {
		return nil, nil
	}
	data := make([]byte, sec.Size)
	if _, err := f.r.ReadAt(data, sec.Offset); err != nil {
		return nil, err
	}
	return data, nil
}

// RawSymbol is an ELF symbol table entry plus its index in the symtab.
type RawSymbol struct {
	Index int
	Name  string
	Info  byte
	Shndx elf.SectionIndex
	Value uint64
	Size  uint64
}

// Symbols loads the SYMTAB entries. The leading null entry is skipped;
// indexes are the real symtab indexes, so they start at 1.
func (f *File) Symbols() ([]RawSymbol, error) {
	esyms, err := f.ef.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil, nil
		}
		return nil, ld.MakeError(ld.ErrNotELF, "elf", "%s: symbols: %v", f.name, err)
	}

	syms := make([]RawSymbol, 0, len(esyms))
	for i, es := range esyms {
		syms = append(syms, RawSymbol{
			Index: i + 1,
			Name:  es.Name,
			Info:  es.Info,
			Shndx: es.Section,
			Value: es.Value,
			Size:  es.Size,
		})
	}
	return syms, nil
}

// LoadRelocations parses every REL and RELA section and attaches the
// records to their target sections. resolve maps a symtab index to the
// owning object's symbol, and may be nil when only raw records are wanted.
func (f *File) LoadRelocations(resolve func(index int) *symbols.Symbol) error {
	for _, sec := range f.payloadSections() {
		if sec.Type != elf.SHT_REL && sec.Type != elf.SHT_RELA {
			continue
		}

		target := f.SectionAt(int(sec.Info))
		if target == nil {
			return ld.MakeError(ld.ErrNotELF, "elf",
				"%s: relocation section %s targets missing section %d",
				f.name, sec.Name, sec.Info)
		}

		data, err := f.SectionData(sec)
		if err != nil {
			return err
		}

		rela := sec.Type == elf.SHT_RELA
		relocs, err := f.parseRelocs(data, rela)
		if err != nil {
			return err
		}

		if resolve != nil {
			for i := range relocs {
				relocs[i].Symbol = resolve(relocs[i].SymIndex)
			}
		}

		target.RelaAddend = rela
		target.Relocs = append(target.Relocs, relocs...)
	}
	return nil
}

func (f *File) parseRelocs(data []byte, rela bool) ([]Reloc, error) {
	bo := f.ef.ByteOrder
	is64 := f.ef.Class == elf.ELFCLASS64

	entSize := 8
	if is64 {
		entSize = 16
	}
	if rela {
		entSize += entSize / 2
	}

	if len(data)%entSize != 0 {
		return nil, ld.MakeError(ld.ErrNotELF, "elf",
			"%s: relocation section size %d not a multiple of %d",
			f.name, len(data), entSize)
	}

	var relocs []Reloc
	for off := 0; off < len(data); off += entSize {
		var r Reloc
		if is64 {
			r.Offset = bo.Uint64(data[off:])
			r.Info = bo.Uint64(data[off+8:])
			r.Type = uint32(r.Info & 0xffffffff)
			r.SymIndex = int(r.Info >> 32)
			if rela {
				r.Addend = int64(bo.Uint64(data[off+16:]))
			}
		} else {
			r.Offset = uint64(bo.Uint32(data[off:]))
			r.Info = uint64(bo.Uint32(data[off+4:]))
			r.Type = uint32(r.Info & 0xff)
			r.SymIndex = int(r.Info >> 8)
			if rela {
				r.Addend = int64(int32(bo.Uint32(data[off+8:])))
			}
		}
		relocs = append(relocs, r)
	}
	return relocs, nil
}
