// Package objtest builds small relocatable ELF objects in memory for the
// test suites: a .text payload, optional data and read-only sections, and
// a symbol table with the requested bindings.
package objtest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/rapld/rapld/pkg/ld/elfio"
)

// Sym describes one symbol of a test object. Defined symbols point into
// .text; undefined ones reference nothing.
type Sym struct {
	Name  string
	Bind  elf.SymBind
	Undef bool
	Value uint64
}

// Reloc describes one relocation against .text, referencing a symbol by
// its position in the Spec's symbol list.
type Reloc struct {
	Offset uint64
	Sym    int
	Type   uint32
	Addend int64
}

// Spec describes a test object.
type Spec struct {
	Class   elf.Class
	Data    elf.Data
	Machine elf.Machine

	Text    []byte
	Const   []byte
	DataSeg []byte
	BssSize uint64
	Ctors   []byte
	Dtors   []byte

	Syms   []Sym
	Relocs []Reloc
}

// Build assembles the object and returns its bytes. Defaults are 64-bit
// little-endian x86-64 with 4 bytes of text.
func Build(spec Spec) []byte {
	if spec.Class == elf.ELFCLASSNONE {
		spec.Class = elf.ELFCLASS64
	}
	if spec.Data == elf.ELFDATANONE {
		spec.Data = elf.ELFDATA2LSB
	}
	if spec.Machine == elf.EM_NONE {
		spec.Machine = elf.EM_X86_64
	}
	if spec.Text == nil {
		spec.Text = []byte{0xc3, 0x90, 0x90, 0x90}
	}

	bo := binary.ByteOrder(binary.LittleEndian)
	if spec.Data == elf.ELFDATA2MSB {
		bo = binary.BigEndian
	}

	w := elfio.NewWriterFor(spec.Class, spec.Data, spec.Machine)

	// Section indexes: null is 0, .text is 1, the rest follow in the
	// order they are added below.
	next := 1
	textIndex := next

	w.Add(&elfio.OutSection{
		Name: ".text", Type: elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Alignment: 4, Data: spec.Text,
	})
	next++

	if spec.Const != nil {
		w.Add(&elfio.OutSection{
			Name: ".rodata.str1.1", Type: elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC | elf.SHF_MERGE | elf.SHF_STRINGS,
			Alignment: 1, Data: spec.Const,
		})
		next++
	}
	if spec.DataSeg != nil {
		w.Add(&elfio.OutSection{
			Name: ".data", Type: elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Alignment: 4, Data: spec.DataSeg,
		})
		next++
	}
	if spec.BssSize > 0 {
		w.Add(&elfio.OutSection{
			Name: ".bss", Type: elf.SHT_NOBITS,
			Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Alignment: 4, Size: spec.BssSize,
		})
		next++
	}
	if spec.Ctors != nil {
		w.Add(&elfio.OutSection{
			Name: ".ctors", Type: elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Alignment: 8, Data: spec.Ctors,
		})
		next++
	}
	if spec.Dtors != nil {
		w.Add(&elfio.OutSection{
			Name: ".dtors", Type: elf.SHT_PROGBITS,
			Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Alignment: 8, Data: spec.Dtors,
		})
		next++
	}

	symtab, strtab := buildSymtab(spec, bo, textIndex)
	symtabIndex := next
	strtabIndex := next + 1

	w.Add(&elfio.OutSection{
		Name: ".symtab", Type: elf.SHT_SYMTAB,
		Link: uint32(strtabIndex), Info: 1,
		Alignment: 8, EntSize: symEntSize(spec.Class), Data: symtab,
	})
	w.Add(&elfio.OutSection{
		Name: ".strtab", Type: elf.SHT_STRTAB, Alignment: 1, Data: strtab,
	})

	// Relocations are only generated for 64-bit specs.
	if len(spec.Relocs) > 0 && spec.Class == elf.ELFCLASS64 {
		w.Add(&elfio.OutSection{
			Name: ".rela.text", Type: elf.SHT_RELA,
			Link: uint32(symtabIndex), Info: uint32(textIndex),
			Alignment: 8, EntSize: 24, Data: buildRelocs(spec, bo),
		})
	}

	var buf bytes.Buffer
	if err := w.Write(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func symEntSize(class elf.Class) uint64 {
	if class == elf.ELFCLASS32 {
		return 16
	}
	return 24
}

func buildSymtab(spec Spec, bo binary.ByteOrder, textIndex int) ([]byte, []byte) {
	strtab := []byte{0}
	symtab := &bytes.Buffer{}

	// The leading null entry.
	symtab.Write(make([]byte, int(symEntSize(spec.Class))))

	for _, sym := range spec.Syms {
		nameOff := uint32(len(strtab))
		strtab = append(strtab, sym.Name...)
		strtab = append(strtab, 0)

		info := byte(sym.Bind)<<4 | byte(elf.STT_FUNC)
		shndx := uint16(textIndex)
		if sym.Undef {
			info = byte(sym.Bind)<<4 | byte(elf.STT_NOTYPE)
			shndx = uint16(elf.SHN_UNDEF)
		}

		if spec.Class == elf.ELFCLASS32 {
			var ent [16]byte
			bo.PutUint32(ent[0:], nameOff)
			bo.PutUint32(ent[4:], uint32(sym.Value))
			bo.PutUint32(ent[8:], 0)
			ent[12] = info
			bo.PutUint16(ent[14:], shndx)
			symtab.Write(ent[:])
		} else {
			var ent [24]byte
			bo.PutUint32(ent[0:], nameOff)
			ent[4] = info
			bo.PutUint16(ent[6:], shndx)
			bo.PutUint64(ent[8:], sym.Value)
			bo.PutUint64(ent[16:], 0)
			symtab.Write(ent[:])
		}
	}

	return symtab.Bytes(), strtab
}

func buildRelocs(spec Spec, bo binary.ByteOrder) []byte {
	buf := &bytes.Buffer{}
	for _, rel := range spec.Relocs {
		// Bucket indexes are symtab indexes, so the null entry counts.
		symIndex := uint64(rel.Sym + 1)
		var ent [24]byte
		bo.PutUint64(ent[0:], rel.Offset)
		bo.PutUint64(ent[8:], symIndex<<32|uint64(rel.Type))
		bo.PutUint64(ent[16:], uint64(rel.Addend))
		buf.Write(ent[:])
	}
	return buf.Bytes()
}
