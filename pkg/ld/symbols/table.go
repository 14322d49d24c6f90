package symbols

import (
	"fmt"
	"io"

	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/utils"
	"golang.org/x/exp/slices"
)

// Symtab is a name to symbol map. Iteration helpers sort the names so that
// walks are deterministic.
type Symtab map[string]*Symbol

// Names returns the symbol names in sorted order.
func (st Symtab) Names() []string {
	names := utils.Keys(st)
	slices.Sort(names)
	return names
}

// Table partitions symbols by binding into three independent name maps.
// Resolution looks at globals before weaks; locals only matter for
// listings.
type Table struct {
	globals Symtab
	weaks   Symtab
	locals  Symtab
}

func NewTable() *Table {
	return &Table{
		globals: Symtab{},
		weaks:   Symtab{},
		locals:  Symtab{},
	}
}

// AddGlobal files a symbol into the global map. A name already present is a
// load-time error.
func (t *Table) AddGlobal(sym *Symbol) error {
	if _, ok := t.globals[sym.Name()]; ok {
		return ld.MakeError(ld.ErrDuplicateSymbol, "symbols", "global '%s'", sym.Name())
	}
	t.globals[sym.Name()] = sym
	return nil
}

// AddWeak files a symbol into the weak map. A name already present is a
// load-time error.
func (t *Table) AddWeak(sym *Symbol) error {
	if _, ok := t.weaks[sym.Name()]; ok {
		return ld.MakeError(ld.ErrDuplicateSymbol, "symbols", "weak '%s'", sym.Name())
	}
	t.weaks[sym.Name()] = sym
	return nil
}

// AddLocal files a symbol into the local map. Locals are never used for
// resolution and the same static name legitimately appears in many
// objects, so the first one wins.
func (t *Table) AddLocal(sym *Symbol) {
	if _, ok := t.locals[sym.Name()]; !ok {
		t.locals[sym.Name()] = sym
	}
}

// Add files a symbol by its binding.
func (t *Table) Add(sym *Symbol) error {
	switch {
	case sym.IsGlobal():
		return t.AddGlobal(sym)
	case sym.IsWeak():
		return t.AddWeak(sym)
	default:
		t.AddLocal(sym)
		return nil
	}
}

func (t *Table) FindGlobal(name string) *Symbol { return t.globals[name] }
func (t *Table) FindWeak(name string) *Symbol { return t.weaks[name] }
func (t *Table) FindLocal(name string) *Symbol { return t.locals[name] }

// Size is the number of symbols across all three maps.
func (t *Table) Size() int {
	return len(t.globals) + len(t.weaks) + len(t.locals)
}

func (t *Table) Globals() Symtab { return t.globals }
func (t *Table) Weaks() Symtab { return t.weaks }
func (t *Table) Locals() Symtab { return t.locals }

// Output prints a table section by section in a stable order.
func Output(w io.Writer, t *Table) {
	OutputSymtab(w, "globals", t.globals)
	OutputSymtab(w, "weaks", t.weaks)
	OutputSymtab(w, "locals", t.locals)
}

// OutputSymtab prints one submap, sorted by name.
func OutputSymtab(w io.Writer, label string, st Symtab) {
	fmt.Fprintf(w, "%s: %d\n", label, len(st))
	for _, name := range st.Names() {
		fmt.Fprintf(w, "%s\n", st[name])
	}
}
