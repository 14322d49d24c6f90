package base

import (
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapld/rapld/internal/objtest"
	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/elfio"
	"github.com/rapld/rapld/pkg/ld/symbols"
)

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "base.yml")
	require.NoError(t, os.WriteFile(path, []byte(
		"puts: 0x1000\nprintf: 4097\nrtems: \"0x00200000\"\n"), 0o644))

	table, err := Load(path, nil)
	require.NoError(t, err)

	puts := table.FindGlobal("puts")
	require.NotNil(t, puts)
	assert.Equal(t, uint64(0x1000), puts.Value())

	printf := table.FindGlobal("printf")
	require.NotNil(t, printf)
	assert.Equal(t, uint64(4097), printf.Value())

	rtems := table.FindGlobal("rtems")
	require.NotNil(t, rtems)
	assert.Equal(t, uint64(0x200000), rtems.Value())

	// Base symbols are linker-synthesized: no owning object.
	assert.Nil(t, puts.Object())
}

func TestLoad_YAMLBadAddress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("puts: [1, 2]\n"), 0o644))

	_, err := Load(path, nil)
	assert.ErrorIs(t, err, ld.ErrInvalidFileName)
}

func TestLoad_ELFKernel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.elf")
	raw := objtest.Build(objtest.Spec{
		Syms: []objtest.Sym{
			{Name: "puts", Bind: elf.STB_GLOBAL, Value: 0x1000},
			{Name: "internal", Bind: elf.STB_LOCAL, Value: 0x2000},
			{Name: "needed", Bind: elf.STB_GLOBAL, Undef: true},
		},
	})
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	var format elfio.Format
	table, err := Load(path, &format)
	require.NoError(t, err)

	puts := table.FindGlobal("puts")
	require.NotNil(t, puts)
	assert.Equal(t, uint64(0x1000), puts.Value())

	// Locals and undefined references never enter the base table.
	assert.Nil(t, table.FindGlobal("internal"))
	assert.Nil(t, table.FindGlobal("needed"))
}

func TestLoad_EquivalentSources(t *testing.T) {
	dir := t.TempDir()

	yml := filepath.Join(dir, "base.yml")
	require.NoError(t, os.WriteFile(yml, []byte("puts: 0x1000\n"), 0o644))

	kernel := filepath.Join(dir, "kernel.elf")
	require.NoError(t, os.WriteFile(kernel, objtest.Build(objtest.Spec{
		Syms: []objtest.Sym{{Name: "puts", Bind: elf.STB_GLOBAL, Value: 0x1000}},
	}), 0o644))

	fromYAML, err := Load(yml, nil)
	require.NoError(t, err)
	fromELF, err := Load(kernel, nil)
	require.NoError(t, err)

	y := fromYAML.FindGlobal("puts")
	e := fromELF.FindGlobal("puts")
	require.NotNil(t, y)
	require.NotNil(t, e)
	assert.Equal(t, y.Value(), e.Value())
	assert.Equal(t, y.Name(), e.Name())
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extracted.yml")

	table := symbols.NewTable()
	require.NoError(t, table.AddGlobal(symbols.NewSynthetic("puts", 0x1000)))
	require.NoError(t, table.AddGlobal(symbols.NewSynthetic("rtems", 0x200000)))

	require.NoError(t, Save(path, table))

	loaded, err := Load(path, nil)
	require.NoError(t, err)

	for _, name := range []string{"puts", "rtems"} {
		orig := table.FindGlobal(name)
		got := loaded.FindGlobal(name)
		require.NotNil(t, got, name)
		assert.Equal(t, orig.Value(), got.Value())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/no/such/base.yml", nil)
	assert.ErrorIs(t, err, ld.ErrFileNotFound)
}
