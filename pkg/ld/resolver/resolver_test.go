package resolver_test

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
	"github.com/rapld/rapld/pkg/ld/files"
	"github.com/rapld/rapld/pkg/ld/resolver"
	"github.com/rapld/rapld/pkg/ld/symbols"
)

// fixture bundles a loaded cache and its symbol tables.
type fixture struct {
	cache *files.Cache
	base  *symbols.Table
	syms  *symbols.Table
}

func global(name string) objtest.Sym {
	return objtest.Sym{Name: name, Bind: elf.STB_GLOBAL}
}

func undef(name string) objtest.Sym {
	return objtest.Sym{Name: name, Bind: elf.STB_GLOBAL, Undef: true}
}

func weakUndef(name string) objtest.Sym {
	return objtest.Sym{Name: name, Bind: elf.STB_WEAK, Undef: true}
}

func writeObject(t *testing.T, dir, name string, syms ...objtest.Sym) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, objtest.Build(objtest.Spec{Syms: syms}), 0o644))
	return path
}

func writeArchive(t *testing.T, dir, name string, members map[string][]objtest.Sym, order []string) string {
	t.Helper()

	var objs []*files.Object
	for _, member := range order {
		objs = append(objs, files.NewObject(writeObject(t, dir, member, members[member]...)))
	}

	path := filepath.Join(dir, name)
	require.NoError(t, files.NewArchive(path).Create(objs))
	return path
}

func load(t *testing.T, base map[string]uint64, paths ...string) *fixture {
	t.Helper()

	ctx := ld.NewContext(0)
	var format elfio.Format
	cache := files.NewCache(ctx, &format)
	cache.AddPaths(paths)
	require.NoError(t, cache.Open())
	require.NoError(t, cache.ArchivesBegin())
	t.Cleanup(cache.ArchivesEnd)

	syms := symbols.NewTable()
	require.NoError(t, cache.LoadSymbols(syms, false))

	baseTable := symbols.NewTable()
	for name, value := range base {
		require.NoError(t, baseTable.AddGlobal(symbols.NewSynthetic(name, value)))
	}

	return &fixture{cache: cache, base: baseTable, syms: syms}
}

func (f *fixture) resolve(t *testing.T, seeds ...string) ([]*files.Object, error) {
	t.Helper()
	undefined := symbols.Symtab{}
	for _, name := range seeds {
		undefined[name] = symbols.NewUndefined(name)
	}
	return resolver.Resolve(ld.NewContext(0), f.cache, f.base, f.syms, undefined)
}

func names(deps []*files.Object) []string {
	out := make([]string, len(deps))
	for i, dep := range deps {
		out[i] = dep.BaseName()
	}
	return out
}

func TestResolve_TinyLink(t *testing.T) {
	// a.o defines main and references puts; puts lives in the base image.
	dir := t.TempDir()
	a := writeObject(t, dir, "a.o", global("main"), undef("puts"))

	f := load(t, map[string]uint64{"puts": 0x1000}, a)

	deps, err := f.resolve(t, "main")
	require.NoError(t, err)

	// The entry seed pulls a.o in; the base definition of puts resolves
	// without pulling anything else.
	assert.Equal(t, []string{"a.o"}, names(deps))

	// main got referenced, puts resolved against the base table.
	assert.NotZero(t, f.syms.FindGlobal("main").References())
	assert.NotZero(t, f.base.FindGlobal("puts").References())

	// The reference stayed local: no cache object defines puts.
	urs := f.cache.Objects()[0].UnresolvedSymbols()["puts"]
	require.NotNil(t, urs)
	assert.Nil(t, urs.Object())
}

func TestResolve_ArchivePullIn(t *testing.T) {
	// a.o needs foo; libx.a carries foo.o (defines foo) and bar.o
	// (defines bar, unreferenced).
	dir := t.TempDir()
	a := writeObject(t, dir, "a.o", global("main"), undef("foo"))
	lib := writeArchive(t, dir, "libx.a", map[string][]objtest.Sym{
		"foo.o": {global("foo")},
		"bar.o": {global("bar")},
	}, []string{"foo.o", "bar.o"})

	f := load(t, nil, a, lib)

	deps, err := f.resolve(t, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.o", "foo.o"}, names(deps))

	// The reference is rebound to its defining member.
	urs := f.cache.Objects()[0].UnresolvedSymbols()["foo"]
	require.NotNil(t, urs.Object())
	assert.Equal(t, "foo.o", urs.Object().BaseName())
}

func TestResolve_TransitivePullInOrder(t *testing.T) {
	// a.o -> foo (foo.o) -> baz (baz.o); quux.o stays out.
	dir := t.TempDir()
	a := writeObject(t, dir, "a.o", global("main"), undef("foo"))
	lib := writeArchive(t, dir, "libx.a", map[string][]objtest.Sym{
		"foo.o":  {global("foo"), undef("baz")},
		"baz.o":  {global("baz")},
		"quux.o": {global("quux")},
	}, []string{"foo.o", "baz.o", "quux.o"})

	f := load(t, nil, a, lib)

	deps, err := f.resolve(t, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.o", "foo.o", "baz.o"}, names(deps))
}

func TestResolve_MissingSymbolFails(t *testing.T) {
	dir := t.TempDir()
	a := writeObject(t, dir, "a.o", global("main"), undef("nowhere"))

	f := load(t, nil, a)

	_, err := f.resolve(t)
	require.ErrorIs(t, err, ld.ErrUnresolvedSymbol)
	assert.Contains(t, err.Error(), "nowhere")
	assert.Contains(t, err.Error(), "a.o")
}

func TestResolve_WeakUndefinedPermitted(t *testing.T) {
	dir := t.TempDir()
	a := writeObject(t, dir, "a.o", global("main"), weakUndef("opt"))

	f := load(t, nil, a)

	deps, err := f.resolve(t, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.o"}, names(deps))
}

func TestResolve_BaseImagePrecedence(t *testing.T) {
	// s is defined both in the base image and in s.o; nothing else needs
	// s.o, so it must stay out of the dependent set.
	dir := t.TempDir()
	a := writeObject(t, dir, "a.o", global("main"), undef("s"))
	lib := writeArchive(t, dir, "libs.a", map[string][]objtest.Sym{
		"s.o": {global("s")},
	}, []string{"s.o"})

	f := load(t, map[string]uint64{"s": 0x2000}, a, lib)

	deps, err := f.resolve(t, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.o"}, names(deps))
	assert.NotZero(t, f.base.FindGlobal("s").References())
	assert.Zero(t, f.syms.FindGlobal("s").References())
}

func TestResolve_WeakDefinitionFallback(t *testing.T) {
	dir := t.TempDir()
	a := writeObject(t, dir, "a.o", global("main"), undef("impl"))
	lib := writeArchive(t, dir, "libi.a", map[string][]objtest.Sym{
		"weak.o":   {{Name: "impl", Bind: elf.STB_WEAK}},
		"strong.o": {global("impl2")},
	}, []string{"weak.o", "strong.o"})

	f := load(t, nil, a, lib)

	deps, err := f.resolve(t, "main")
	require.NoError(t, err)

	// Only the weak definition exists, so it is used.
	assert.Equal(t, []string{"a.o", "weak.o"}, names(deps))
}

func TestResolve_CycleTerminates(t *testing.T) {
	// a.o -> x (in x.o), x.o -> y (in y.o), y.o -> x again.
	dir := t.TempDir()
	a := writeObject(t, dir, "a.o", global("main"), undef("x"))
	lib := writeArchive(t, dir, "libc.a", map[string][]objtest.Sym{
		"x.o": {global("x"), undef("y")},
		"y.o": {global("y"), undef("x")},
	}, []string{"x.o", "y.o"})

	f := load(t, nil, a, lib)

	deps, err := f.resolve(t, "main")
	require.NoError(t, err)

	// Both cycle members appear exactly once.
	assert.Equal(t, []string{"a.o", "x.o", "y.o"}, names(deps))

	for _, dep := range deps {
		assert.True(t, dep.Resolved())
		assert.False(t, dep.Resolving())
	}
}

func TestResolve_ForcedUndefinedSeedPullsIn(t *testing.T) {
	dir := t.TempDir()
	lib := writeArchive(t, dir, "libe.a", map[string][]objtest.Sym{
		"entry.o": {global("rtems")},
		"dead.o":  {global("unused")},
	}, []string{"entry.o", "dead.o"})

	f := load(t, nil, lib)

	deps, err := f.resolve(t, "rtems")
	require.NoError(t, err)
	assert.Equal(t, []string{"entry.o"}, names(deps))
}

func TestResolve_Idempotent(t *testing.T) {
	dir := t.TempDir()
	a := writeObject(t, dir, "a.o", global("main"), undef("foo"))
	lib := writeArchive(t, dir, "libx.a", map[string][]objtest.Sym{
		"foo.o": {global("foo")},
	}, []string{"foo.o"})

	first, err := load(t, nil, a, lib).resolve(t, "main")
	require.NoError(t, err)

	// A fresh load of the same inputs yields the same dependent list.
	second, err := load(t, nil, a, lib).resolve(t, "main")
	require.NoError(t, err)

	assert.Equal(t, names(first), names(second))
	assert.Equal(t, []string{"a.o", "foo.o"}, names(first))
}
