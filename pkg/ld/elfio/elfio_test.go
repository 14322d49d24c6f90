package elfio_test

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapld/rapld/internal/objtest"
	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/elfio"
)

func openObject(t *testing.T, spec objtest.Spec, format *elfio.Format) *elfio.File {
	t.Helper()
	raw := objtest.Build(spec)
	f, err := elfio.Open(bytes.NewReader(raw), "test.o", format)
	require.NoError(t, err)
	return f
}

func TestOpen_RejectsNonELF(t *testing.T) {
	_, err := elfio.Open(bytes.NewReader([]byte("!<arch>\nnot elf at all")), "x", nil)
	assert.ErrorIs(t, err, ld.ErrNotELF)

	_, err = elfio.Open(bytes.NewReader([]byte{0x7f}), "y", nil)
	assert.ErrorIs(t, err, ld.ErrNotELF)
}

func TestFormat_MixedFilesFail(t *testing.T) {
	var format elfio.Format

	openObject(t, objtest.Spec{}, &format)
	require.True(t, format.Set())
	assert.Equal(t, elf.ELFCLASS64, format.Class())

	raw := objtest.Build(objtest.Spec{Class: elf.ELFCLASS32, Machine: elf.EM_ARM})
	_, err := elfio.Open(bytes.NewReader(raw), "other.o", &format)
	assert.ErrorIs(t, err, ld.ErrMixedClasses)

	raw = objtest.Build(objtest.Spec{Machine: elf.EM_AARCH64})
	_, err = elfio.Open(bytes.NewReader(raw), "arm.o", &format)
	assert.ErrorIs(t, err, ld.ErrMixedMachineTypes)

	raw = objtest.Build(objtest.Spec{Data: elf.ELFDATA2MSB, Machine: elf.EM_X86_64})
	_, err = elfio.Open(bytes.NewReader(raw), "msb.o", &format)
	assert.ErrorIs(t, err, ld.ErrMixedDataTypes)

	// A fresh format accepts what the seeded one rejected.
	format.Reset()
	raw = objtest.Build(objtest.Spec{Class: elf.ELFCLASS32, Machine: elf.EM_ARM})
	_, err = elfio.Open(bytes.NewReader(raw), "other.o", &format)
	assert.NoError(t, err)
}

func TestFile_SectionFilters(t *testing.T) {
	f := openObject(t, objtest.Spec{
		Text:    []byte{1, 2, 3, 4},
		Const:   []byte("ro\x00"),
		DataSeg: []byte{9, 9},
		BssSize: 32,
	}, nil)

	text := f.Sections(elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, 0)
	require.Len(t, text, 1)
	assert.Equal(t, ".text", text[0].Name)

	ro := f.Sections(elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_MERGE,
		elf.SHF_WRITE|elf.SHF_EXECINSTR)
	require.Len(t, ro, 1)
	assert.Equal(t, ".rodata.str1.1", ro[0].Name)

	bss := f.Sections(elf.SHT_NOBITS, elf.SHF_ALLOC|elf.SHF_WRITE, 0)
	require.Len(t, bss, 1)
	assert.Equal(t, uint64(32), bss[0].Size)

	assert.Empty(t, f.SectionsNamed(".ctors"))
	require.Len(t, f.SectionsNamed(".data"), 1)
}

func TestFile_SectionData(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	f := openObject(t, objtest.Spec{Text: payload, BssSize: 8}, nil)

	data, err := f.SectionData(f.Section(".text"))
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// NOBITS has no file bytes.
	data, err = f.SectionData(f.Section(".bss"))
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestFile_Symbols(t *testing.T) {
	f := openObject(t, objtest.Spec{
		Syms: []objtest.Sym{
			{Name: "main", Bind: elf.STB_GLOBAL},
			{Name: "puts", Bind: elf.STB_GLOBAL, Undef: true},
			{Name: "helper", Bind: elf.STB_LOCAL},
		},
	}, nil)

	syms, err := f.Symbols()
	require.NoError(t, err)
	require.Len(t, syms, 3)

	// Indexes are real symtab indexes: the null entry counts.
	assert.Equal(t, 1, syms[0].Index)
	assert.Equal(t, "main", syms[0].Name)
	assert.Equal(t, elf.SectionIndex(1), syms[0].Shndx)

	assert.Equal(t, "puts", syms[1].Name)
	assert.Equal(t, elf.SectionIndex(elf.SHN_UNDEF), syms[1].Shndx)
}

func TestFile_Relocations(t *testing.T) {
	f := openObject(t, objtest.Spec{
		Text: make([]byte, 16),
		Syms: []objtest.Sym{
			{Name: "main", Bind: elf.STB_GLOBAL},
			{Name: "puts", Bind: elf.STB_GLOBAL, Undef: true},
		},
		Relocs: []objtest.Reloc{
			{Offset: 4, Sym: 1, Type: 2, Addend: -4},
		},
	}, nil)

	require.NoError(t, f.LoadRelocations(nil))

	text := f.Section(".text")
	require.Len(t, text.Relocs, 1)
	assert.True(t, text.RelaAddend)

	rel := text.Relocs[0]
	assert.Equal(t, uint64(4), rel.Offset)
	assert.Equal(t, uint32(2), rel.Type)
	assert.Equal(t, int64(-4), rel.Addend)
	assert.Equal(t, 2, rel.SymIndex)
}

func TestWriter_RoundTripsThroughDebugElf(t *testing.T) {
	w := elfio.NewWriterFor(elf.ELFCLASS64, elf.ELFDATA2LSB, elf.EM_X86_64)
	text := []byte{0xc3, 0x90}
	w.Add(&elfio.OutSection{
		Name: ".text", Type: elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Alignment: 4, Data: text,
	})
	w.Add(&elfio.OutSection{
		Name: ".bss", Type: elf.SHT_NOBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Alignment: 4, Size: 64,
	})

	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf))

	ef, err := elf.NewFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, elf.ET_REL, ef.Type)
	assert.Equal(t, elf.EM_X86_64, ef.Machine)

	// The synthesized .shstrtab resolves every section name.
	ts := ef.Section(".text")
	require.NotNil(t, ts)
	data, err := ts.Data()
	require.NoError(t, err)
	assert.Equal(t, text, data)

	bss := ef.Section(".bss")
	require.NotNil(t, bss)
	assert.Equal(t, uint64(64), bss.Size)
	assert.Equal(t, elf.SHT_NOBITS, bss.Type)

	require.NotNil(t, ef.Section(".shstrtab"))
}

func TestWriter_32BitBigEndian(t *testing.T) {
	w := elfio.NewWriterFor(elf.ELFCLASS32, elf.ELFDATA2MSB, elf.EM_68K)
	w.Add(&elfio.OutSection{
		Name: ".data", Type: elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Alignment: 4, Data: []byte{1, 2, 3, 4},
	})

	var buf bytes.Buffer
	require.NoError(t, w.Write(&buf))

	ef, err := elf.NewFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, elf.ELFCLASS32, ef.Class)
	assert.Equal(t, elf.ELFDATA2MSB, ef.Data)
	assert.Equal(t, elf.EM_68K, ef.Machine)

	data, err := ef.Section(".data").Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
}
