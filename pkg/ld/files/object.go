package files

import (
	"debug/elf"
	"io"

	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/elfio"
	"github.com/rapld/rapld/pkg/ld/symbols"
)

// Object is one relocatable object file, standalone or an archive member.
// Its symbols live in a per-object bucket whose entries keep stable
// addresses; the external and unresolved views point into the bucket.
type Object struct {
	image   *Image
	archive *Archive
	elf     *elfio.File

	bucket     []*symbols.Symbol
	byIndex    map[int]*symbols.Symbol
	externals  []*symbols.Symbol
	unresolved symbols.Symtab

	resolving bool
	resolved  bool
	valid     bool
}

// NewObject creates a standalone object for the given path.
func NewObject(path string) *Object {
	return &Object{
		image:      NewImage(NewName(path)),
		unresolved: symbols.Symtab{},
	}
}

func newMemberObject(archive *Archive, name Name) *Object {
	return &Object{
		// Members share the archive's descriptor; only the name differs.
		image:      &Image{name: name},
		archive:    archive,
		unresolved: symbols.Symtab{},
	}
}

func (o *Object) Name() Name { return o.image.Name() }
func (o *Object) Archive() *Archive { return o.archive }
func (o *Object) Image() *Image { return o.image }

// BaseName implements symbols.Object.
func (o *Object) BaseName() string { return o.Name().BaseName() }

// FullName implements symbols.Object.
func (o *Object) FullName() string { return o.Name().Full() }

// Open references the underlying image; for a member that is the shared
// archive image.
func (o *Object) Open() error {
	if o.archive != nil {
		return o.archive.image.Open()
	}
	return o.image.Open()
}

// Close releases the image reference.
func (o *Object) Close() {
	if o.archive != nil {
		o.archive.image.Close()
		return
	}
	o.image.Close()
}

func (o *Object) file() (*io.SectionReader, error) {
	img := o.image
	if o.archive != nil {
		img = o.archive.image
	}
	if !img.IsOpen() {
		return nil, ld.MakeError(ld.ErrWrongMode, "files", "%s not open", o.FullName())
	}

	offset := o.Name().Offset
	size := o.Name().Size
	if o.archive == nil {
		var err error
		if size, err = o.image.Size(); err != nil {
			return nil, err
		}
	}
	return io.NewSectionReader(img.File(), offset, size), nil
}

// Begin opens an ELF session on the object and validates it against the
// invocation format. The object is valid after a successful Begin.
func (o *Object) Begin(format *elfio.Format) error {
	if o.elf != nil {
		return nil
	}

	r, err := o.file()
	if err != nil {
		return err
	}

	ef, err := elfio.Open(r, o.FullName(), format)
	if err != nil {
		return err
	}

	o.elf = ef
	o.valid = true
	return nil
}

// End closes the ELF session. Loaded section descriptors and symbols stay
// usable; only raw byte access needs a new session.
func (o *Object) End() {
	o.elf = nil
}

// Elf returns the open ELF session, or nil outside Begin/End.
func (o *Object) Elf() *elfio.File { return o.elf }

// Valid reports whether a Begin has succeeded on this object.
func (o *Object) Valid() bool { return o.valid }

// Size is the byte length of the object payload.
func (o *Object) Size() (int64, error) {
	if o.archive != nil {
		return o.Name().Size, nil
	}
	return o.image.Size()
}

// SeekReadPayload fills data with the object payload bytes from the start
// of the object.
func (o *Object) SeekReadPayload(data []byte) error {
	r, err := o.file()
	if err != nil {
		return err
	}
	if _, err := r.ReadAt(data, 0); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// LoadSymbols fills the object's symbol bucket from the ELF symtab, files
// globals/weaks/locals into table, and records this object's external and
// unresolved views. Locals go to the table only when withLocals is set.
func (o *Object) LoadSymbols(table *symbols.Table, withLocals bool) error {
	if o.elf == nil {
		return ld.MakeError(ld.ErrWrongMode, "files", "%s: no ELF session", o.FullName())
	}

	raw, err := o.elf.Symbols()
	if err != nil {
		return err
	}

	o.bucket = o.bucket[:0]
	o.byIndex = make(map[int]*symbols.Symbol, len(raw))
	o.externals = o.externals[:0]
	o.unresolved = symbols.Symtab{}

	for _, rs := range raw {
		if rs.Name == "" {
			continue
		}

		// Undefined references start with no owner; the resolver binds
		// them to their defining object.
		var owner symbols.Object
		undefined := rs.Shndx == elf.SHN_UNDEF
		if !undefined {
			owner = o
		}

		sym := symbols.New(rs.Index, rs.Name, rs.Info, rs.Shndx, rs.Value, rs.Size, owner)
		o.bucket = append(o.bucket, sym)
		o.byIndex[rs.Index] = sym

		switch {
		case sym.IsUndefined() && (sym.IsGlobal() || sym.IsWeak()):
			o.unresolved[sym.Name()] = sym
		case sym.IsGlobal():
			if err := table.AddGlobal(sym); err != nil {
				return err
			}
			o.externals = append(o.externals, sym)
		case sym.IsWeak():
			if err := table.AddWeak(sym); err != nil {
				return err
			}
			o.externals = append(o.externals, sym)
		case withLocals:
			table.AddLocal(sym)
		}
	}

	return o.elf.LoadRelocations(o.SymbolAt)
}

// SymbolAt returns the bucket symbol with the given symtab index, or nil.
func (o *Object) SymbolAt(index int) *symbols.Symbol {
	return o.byIndex[index]
}

// Externals is the defined global-or-weak subset of the bucket.
func (o *Object) Externals() []*symbols.Symbol {
	return o.externals
}

// UnresolvedSymbols is the undefined-reference subset of the bucket.
func (o *Object) UnresolvedSymbols() symbols.Symtab {
	return o.unresolved
}

// Resolution state machine, driven by the resolver. Resolving marks the
// object as being on the recursion stack; Resolved is terminal for a link.
func (o *Object) Resolving() bool { return o.resolving }
func (o *Object) Resolved() bool { return o.resolved }

func (o *Object) ResolveSet() { o.resolving = true }
func (o *Object) ResolveClear() { o.resolving = false }

func (o *Object) ResolvedSet() {
	o.resolving = false
	o.resolved = true
}

// SymbolReferenced counts a reference to a symbol owned by this object.
func (o *Object) SymbolReferenced() {
	o.image.SymbolReferenced()
}

func (o *Object) SymbolReferences() int {
	return o.image.SymbolReferences()
}
