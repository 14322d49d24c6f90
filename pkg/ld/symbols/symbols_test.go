package symbols

import (
	"bytes"
	"debug/elf"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapld/rapld/pkg/ld"
)

// fakeObject stands in for a files.Object in symbol ownership tests.
type fakeObject struct {
	base      string
	full      string
	refCounts int
}

func (f *fakeObject) BaseName() string { return f.base }
func (f *fakeObject) FullName() string { return f.full }
func (f *fakeObject) SymbolReferenced() { f.refCounts++ }

func defined(name string, bind elf.SymBind, owner Object) *Symbol {
	info := byte(bind)<<4 | byte(elf.STT_FUNC)
	return New(1, name, info, 1, 0x100, 8, owner)
}

func TestSymbol_Bindings(t *testing.T) {
	owner := &fakeObject{base: "a.o", full: "a.o"}

	g := defined("g", elf.STB_GLOBAL, owner)
	w := defined("w", elf.STB_WEAK, owner)
	l := defined("l", elf.STB_LOCAL, owner)

	assert.True(t, g.IsGlobal())
	assert.False(t, g.IsWeak())
	assert.True(t, w.IsWeak())
	assert.True(t, l.IsLocal())
	assert.Equal(t, elf.STT_FUNC, g.Type())
	assert.False(t, g.IsUndefined())
}

func TestSymbol_UndefinedReference(t *testing.T) {
	info := byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_NOTYPE)
	urs := New(3, "puts", info, elf.SHN_UNDEF, 0, 0, nil)

	assert.True(t, urs.IsUndefined())
	assert.Nil(t, urs.Object())

	// The resolver rebinds the reference to its defining object.
	def := &fakeObject{base: "libc.o", full: "libc.a:libc.o@64"}
	urs.SetObject(def)
	assert.Equal(t, def, urs.Object())
}

func TestSymbol_DemanglesCxxNames(t *testing.T) {
	info := byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_FUNC)

	sym := New(1, "_Z3addii", info, 1, 0, 0, nil)
	assert.True(t, sym.IsCxx())
	assert.Equal(t, "add(int, int)", sym.Demangled())

	// A plain C name is left alone.
	c := New(2, "add", info, 1, 0, 0, nil)
	assert.False(t, c.IsCxx())
	assert.Empty(t, c.Demangled())

	// A broken mangled name keeps an empty demangled form, not an error.
	broken := New(3, "_Zno", info, 1, 0, 0, nil)
	assert.True(t, broken.IsCxx())
	assert.Empty(t, broken.Demangled())
}

func TestSymbol_ReferencedCountsOwner(t *testing.T) {
	owner := &fakeObject{base: "a.o", full: "a.o"}
	sym := defined("f", elf.STB_GLOBAL, owner)

	sym.Referenced()
	sym.Referenced()

	assert.Equal(t, 2, sym.References())
	assert.Equal(t, 2, owner.refCounts)

	// A synthetic symbol has no owner to notify.
	base := NewSynthetic("puts", 0x1000)
	base.Referenced()
	assert.Equal(t, 1, base.References())
}

func TestSymbol_String(t *testing.T) {
	owner := &fakeObject{base: "a.o", full: "a.o"}
	sym := defined("main", elf.STB_GLOBAL, owner)

	line := sym.String()
	assert.Contains(t, line, "STB_GLOBAL")
	assert.Contains(t, line, "STT_FUNC")
	assert.Contains(t, line, "0x00000100")
	assert.Contains(t, line, "main")
	assert.True(t, strings.HasSuffix(line, "(a.o)"))

	cxx := New(1, "_Z3addii", byte(elf.STB_GLOBAL)<<4|byte(elf.STT_FUNC), 1, 0, 0, owner)
	assert.Contains(t, cxx.String(), "add(int, int)")
}

func TestTable_AddAndFind(t *testing.T) {
	table := NewTable()
	owner := &fakeObject{base: "a.o", full: "a.o"}

	g := defined("strong", elf.STB_GLOBAL, owner)
	w := defined("soft", elf.STB_WEAK, owner)
	l := defined("static_thing", elf.STB_LOCAL, owner)

	require.NoError(t, table.Add(g))
	require.NoError(t, table.Add(w))
	require.NoError(t, table.Add(l))

	assert.Equal(t, g, table.FindGlobal("strong"))
	assert.Equal(t, w, table.FindWeak("soft"))
	assert.Equal(t, l, table.FindLocal("static_thing"))
	assert.Nil(t, table.FindGlobal("soft"))
	assert.Nil(t, table.FindWeak("strong"))
	assert.Equal(t, 3, table.Size())
}

func TestTable_DuplicateIsError(t *testing.T) {
	table := NewTable()
	owner := &fakeObject{base: "a.o", full: "a.o"}

	require.NoError(t, table.AddGlobal(defined("dup", elf.STB_GLOBAL, owner)))
	err := table.AddGlobal(defined("dup", elf.STB_GLOBAL, owner))
	assert.ErrorIs(t, err, ld.ErrDuplicateSymbol)

	require.NoError(t, table.AddWeak(defined("dup", elf.STB_WEAK, owner)))
	err = table.AddWeak(defined("dup", elf.STB_WEAK, owner))
	assert.ErrorIs(t, err, ld.ErrDuplicateSymbol)

	// Locals keep the first definition silently.
	table.AddLocal(defined("dup", elf.STB_LOCAL, owner))
	table.AddLocal(defined("dup", elf.STB_LOCAL, owner))
	assert.NotNil(t, table.FindLocal("dup"))
}

func TestSymtab_NamesAreSorted(t *testing.T) {
	st := Symtab{}
	for _, name := range []string{"zeta", "alpha", "mid"} {
		st[name] = NewSynthetic(name, 0)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, st.Names())
}

func TestOutput_PrintsAllSubmaps(t *testing.T) {
	table := NewTable()
	owner := &fakeObject{base: "a.o", full: "a.o"}
	require.NoError(t, table.Add(defined("gsym", elf.STB_GLOBAL, owner)))
	require.NoError(t, table.Add(defined("wsym", elf.STB_WEAK, owner)))

	var buf bytes.Buffer
	Output(&buf, table)

	out := buf.String()
	assert.Contains(t, out, "globals: 1")
	assert.Contains(t, out, "weaks: 1")
	assert.Contains(t, out, "gsym")
	assert.Contains(t, out, "wsym")
}
