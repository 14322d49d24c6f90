// Package symbols holds the linker's view of ELF symbols: per-object
// buckets of typed symbol records and the three-way name tables the
// resolver searches.
package symbols

import (
	"debug/elf"
	"fmt"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// Object is the owning or defining object file of a symbol. It is satisfied
// by files.Object; symbols only needs the names.
type Object interface {
	BaseName() string
	FullName() string
}

// Symbol is one ELF symbol table entry plus the linker state attached to
// it. For an undefined reference the object pointer is rebound by the
// resolver to the defining object.
type Symbol struct {
	index        int
	name         string
	demangled    string
	info         byte
	sectionIndex elf.SectionIndex
	value        uint64
	size         uint64
	object       Object
	references   int
}

// New creates a symbol from an ELF symbol table entry. index is the entry's
// position in the object's symtab so relocations can refer to it directly.
func New(index int, name string, info byte, shndx elf.SectionIndex, value, size uint64, owner Object) *Symbol {
	s := &Symbol{
		index:        index,
		name:         name,
		info:         info,
		sectionIndex: shndx,
		value:        value,
		size:         size,
		object:       owner,
	}
	if s.IsCxx() {
		// A failed demangle is not an error, the raw name is kept.
		if d, err := demangle.ToString(name); err == nil {
			s.demangled = d
		}
	}
	return s
}

// NewSynthetic creates a linker-defined symbol with no owning object, such
// as a base-image address.
func NewSynthetic(name string, value uint64) *Symbol {
	return &Symbol{
		index:        -1,
		name:         name,
		info:         byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_NOTYPE),
		sectionIndex: elf.SHN_ABS,
		value:        value,
	}
}

// NewUndefined creates a forced undefined reference, used to seed the
// resolver with the entry point and user-forced names.
func NewUndefined(name string) *Symbol {
	return &Symbol{
		index: -1,
		name:  name,
		info:  byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_NOTYPE),
	}
}

func (s *Symbol) Index() int { return s.index }
func (s *Symbol) Name() string { return s.name }
func (s *Symbol) Demangled() string { return s.demangled }
func (s *Symbol) Value() uint64 { return s.value }
func (s *Symbol) Size() uint64 { return s.size }
func (s *Symbol) Info() byte { return s.info }
func (s *Symbol) SectionIndex() elf.SectionIndex { return s.sectionIndex }
func (s *Symbol) Object() Object { return s.object }

// IsCxx reports whether the symbol name is a mangled C++ name.
func (s *Symbol) IsCxx() bool {
	return strings.HasPrefix(s.name, "_Z")
}

func (s *Symbol) Type() elf.SymType {
	return elf.ST_TYPE(s.info)
}

func (s *Symbol) Binding() elf.SymBind {
	return elf.ST_BIND(s.info)
}

func (s *Symbol) IsLocal() bool { return s.Binding() == elf.STB_LOCAL }
func (s *Symbol) IsWeak() bool { return s.Binding() == elf.STB_WEAK }
func (s *Symbol) IsGlobal() bool { return s.Binding() == elf.STB_GLOBAL }

// IsUndefined reports whether the symbol is a reference awaiting a
// definition.
func (s *Symbol) IsUndefined() bool {
	return s.sectionIndex == elf.SHN_UNDEF
}

// SetObject rebinds the symbol to the object that defines it.
func (s *Symbol) SetObject(obj Object) {
	s.object = obj
}

// Referenced counts a reference to this symbol from a relocation or a
// resolved binding.
func (s *Symbol) Referenced() {
	s.references++
	if counter, ok := s.object.(interface{ SymbolReferenced() }); ok {
		counter.SymbolReferenced()
	}
}

func (s *Symbol) References() int {
	return s.references
}

// String formats the symbol the way the symbol listings print it.
func (s *Symbol) String() string {
	name := s.name
	if s.IsCxx() && s.demangled != "" {
		name = s.demangled
	}

	line := fmt.Sprintf("%5d %-10s %-11s %6d 0x%08x %7d %s",
		s.index, bindingName(s.Binding()), typeName(s.Type()),
		s.sectionIndex, s.value, s.size, name)

	if s.object != nil {
		line += fmt.Sprintf("   (%s)", s.object.BaseName())
	}
	return line
}

func bindingName(bind elf.SymBind) string {
	switch bind {
	case elf.STB_LOCAL:
		return "STB_LOCAL"
	case elf.STB_GLOBAL:
		return "STB_GLOBAL"
	case elf.STB_WEAK:
		return "STB_WEAK"
	}
	return fmt.Sprintf("STB(%d)", int(bind))
}

func typeName(typ elf.SymType) string {
	switch typ {
	case elf.STT_NOTYPE:
		return "STT_NOTYPE"
	case elf.STT_OBJECT:
		return "STT_OBJECT"
	case elf.STT_FUNC:
		return "STT_FUNC"
	case elf.STT_SECTION:
		return "STT_SECTION"
	case elf.STT_FILE:
		return "STT_FILE"
	}
	return fmt.Sprintf("STT(%d)", int(typ))
}
