// Package rap builds and reads RAP images: a plain-text header followed by
// an LZ77-compressed stream of the merged application objects.
package rap

import (
	"debug/elf"

	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/elfio"
	"github.com/rapld/rapld/pkg/ld/files"
	"github.com/rapld/rapld/pkg/utils"
)

// Regions holds an object's sections classified into the RAP regions. The
// five PROGBITS regions partition the allocatable sections the classifier
// matches; Bss holds the allocatable NOBITS sections.
type Regions struct {
	Text   []*elfio.Section
	Const  []*elfio.Section
	Ctor   []*elfio.Section
	Dtor   []*elfio.Section
	Data   []*elfio.Section
	Bss    []*elfio.Section
	Symtab []*elfio.Section
	Strtab []*elfio.Section
	Relocs []*elfio.Section
}

// Classify partitions an object's sections. The object must have a live
// ELF session.
func Classify(obj *files.Object) (*Regions, error) {
	ef := obj.Elf()
	if ef == nil || !obj.Valid() {
		return nil, ld.MakeError(ld.ErrWrongMode, "rap", "not valid: %s", obj.FullName())
	}

	// The constructor and destructor tables are allocatable writable
	// PROGBITS like .data is; they go to their own regions so the five
	// regions stay disjoint.
	var data []*elfio.Section
	for _, sec := range ef.Sections(elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE, 0) {
		if sec.Name == ".ctors" || sec.Name == ".dtors" {
			continue
		}
		data = append(data, sec)
	}

	r := &Regions{
		Text: ef.Sections(elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, 0),
		Const: ef.Sections(elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_MERGE,
			elf.SHF_WRITE|elf.SHF_EXECINSTR),
		Ctor:   ef.SectionsNamed(".ctors"),
		Dtor:   ef.SectionsNamed(".dtors"),
		Data:   data,
		Bss:    ef.Sections(elf.SHT_NOBITS, elf.SHF_ALLOC|elf.SHF_WRITE, 0),
		Symtab: ef.Sections(elf.SHT_SYMTAB, 0, 0),
		Strtab: ef.SectionsNamed(".strtab"),
	}

	// Relocation sections ride along with the text sections they target.
	for _, sec := range r.Text {
		r.Relocs = append(r.Relocs, ef.SectionsNamed(".rel"+sec.Name)...)
		r.Relocs = append(r.Relocs, ef.SectionsNamed(".rela"+sec.Name)...)
	}

	return r, nil
}

// object is one dependent object's classified sections plus its region
// sizes and relative offsets within the merged image.
type object struct {
	obj     *files.Object
	regions *Regions

	textOff    uint32
	textSize   uint32
	cnstOff    uint32
	cnstSize   uint32
	ctorOff    uint32
	ctorSize   uint32
	dtorOff    uint32
	dtorSize   uint32
	dataOff    uint32
	dataSize   uint32
	bssSize    uint32
	symtabSize uint32
	strtabSize uint32
	relocsSize uint32
}

func newObject(ctx *ld.Context, obj *files.Object) (*object, error) {
	regions, err := Classify(obj)
	if err != nil {
		return nil, err
	}

	o := &object{
		obj:        obj,
		regions:    regions,
		textSize:   SumSizes(regions.Text),
		cnstSize:   SumSizes(regions.Const),
		ctorSize:   SumSizes(regions.Ctor),
		dtorSize:   SumSizes(regions.Dtor),
		dataSize:   SumSizes(regions.Data),
		bssSize:    SumSizes(regions.Bss),
		symtabSize: SumSizes(regions.Symtab),
		strtabSize: SumSizes(regions.Strtab),
		relocsSize: SumSizes(regions.Relocs),
	}

	if ctx.Verbose(ld.VerboseTrace) {
		ctx.Log(ld.VerboseTrace, "rap: object", "name", obj.FullName(),
			"text", o.textSize, "const", o.cnstSize,
			"ctor", o.ctorSize, "dtor", o.dtorSize,
			"data", o.dataSize, "bss", o.bssSize,
			"symtab", o.symtabSize, "strtab", o.strtabSize,
			"relocs", o.relocsSize)
	}

	return o, nil
}

// SumSizes adds up the sizes of a region's sections.
func SumSizes(secs []*elfio.Section) uint32 {
	return utils.Accumulate(secs, func(sec *elfio.Section) uint32 {
		return uint32(sec.Size)
	})
}
