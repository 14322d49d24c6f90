// Package linker drives one link: it fills the file cache, loads symbols,
// resolves the dependent set and hands it to an outputter.
package linker

import (
	"fmt"

	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/base"
	"github.com/rapld/rapld/pkg/ld/elfio"
	"github.com/rapld/rapld/pkg/ld/files"
	"github.com/rapld/rapld/pkg/ld/outputter"
	"github.com/rapld/rapld/pkg/ld/resolver"
	"github.com/rapld/rapld/pkg/ld/symbols"
)

// DefaultEntry is the entry symbol the runtime loader calls.
const DefaultEntry = "rtems"

// Options configure one link invocation.
type Options struct {
	Output       string
	Format       string
	Entry        string
	Inputs       []string
	Libraries    []string
	LibraryPaths []string
	BasePath     string
	Undefined    []string
}

// Linker holds the state of one link.
type Linker struct {
	ctx    *ld.Context
	opts   Options
	format elfio.Format
	cache  *files.Cache

	baseTable *symbols.Table
	symbols   *symbols.Table
	undefined symbols.Symtab

	dependents []*files.Object
}

// New creates a linker for one invocation. All per-invocation state,
// including the ELF format atoms, lives here.
func New(ctx *ld.Context, opts Options) *Linker {
	if opts.Entry == "" {
		opts.Entry = DefaultEntry
	}
	if opts.Format == "" {
		opts.Format = outputter.FormatRAP
	}

	l := &Linker{
		ctx:       ctx,
		opts:      opts,
		baseTable: symbols.NewTable(),
		symbols:   symbols.NewTable(),
		undefined: symbols.Symtab{},
	}
	l.cache = files.NewCache(ctx, &l.format)
	return l
}

// Dependents returns the resolved dependent set after a Link.
func (l *Linker) Dependents() []*files.Object {
	return l.dependents
}

// Cache returns the linker's file cache.
func (l *Linker) Cache() *files.Cache {
	return l.cache
}

// Link runs the pipeline and writes the output image.
func (l *Linker) Link() error {
	l.cache.AddPaths(l.opts.Inputs)

	libs, err := files.FindLibraries(l.opts.Libraries, l.opts.LibraryPaths)
	if err != nil {
		return err
	}
	l.cache.AddPaths(libs)

	if err := l.cache.Open(); err != nil {
		return err
	}

	// Archive sessions bracket everything: member ELF sessions opened
	// during symbol loading and streaming stay valid throughout.
	if err := l.cache.ArchivesBegin(); err != nil {
		return err
	}
	defer l.cache.ArchivesEnd()

	if l.opts.BasePath != "" {
		table, err := base.Load(l.opts.BasePath, &l.format)
		if err != nil {
			return err
		}
		l.baseTable = table
	}

	if err := l.cache.LoadSymbols(l.symbols, false); err != nil {
		return err
	}

	l.ctx.Log(ld.VerboseInfo, "linker: loaded",
		"paths", l.cache.PathCount(),
		"archives", l.cache.ArchiveCount(),
		"objects", l.cache.ObjectCount(),
		"symbols", l.symbols.Size(),
		"base", l.baseTable.Size())

	l.seedUndefined()

	deps, err := resolver.Resolve(l.ctx, l.cache, l.baseTable, l.symbols, l.undefined)
	if err != nil {
		return err
	}
	l.dependents = deps

	l.warnUnreferenced()

	return l.output()
}

// seedUndefined fills the forced-undefine table with the entry symbol and
// any user-forced names.
func (l *Linker) seedUndefined() {
	seeds := append([]string{l.opts.Entry}, l.opts.Undefined...)
	for _, name := range seeds {
		if name == "" {
			continue
		}
		if _, ok := l.undefined[name]; ok {
			continue
		}
		sym := symbols.NewUndefined(name)
		l.undefined[name] = sym
		l.ctx.Log(ld.VerboseDetails, "linker: undefined seed", "symbol", name)
	}
}

// warnUnreferenced reports dependent objects none of whose externals is
// referenced; they were pulled in by an entry marker or by accident.
func (l *Linker) warnUnreferenced() {
	if !l.ctx.Verbose(ld.VerboseInfo) {
		return
	}
	for _, obj := range l.dependents {
		referenced := 0
		for _, sym := range obj.Externals() {
			referenced += sym.References()
		}
		if referenced == 0 {
			l.ctx.Log(ld.VerboseInfo, "linker: no external referenced",
				"object", obj.FullName())
		}
	}
}

func (l *Linker) metadata() string {
	return fmt.Sprintf("rapld,%s,%s,%d\n", ld.Version, l.opts.Entry, len(l.dependents))
}

func (l *Linker) output() error {
	switch l.opts.Format {
	case outputter.FormatRAP:
		return outputter.RAP(l.ctx, l.opts.Output, l.metadata(), l.dependents)
	case outputter.FormatELF:
		return outputter.ELF(l.ctx, l.opts.Output, l.dependents, &l.format)
	case outputter.FormatScript:
		return outputter.Script(l.ctx, l.opts.Output, l.dependents, l.cache)
	case outputter.FormatArchive:
		return outputter.Archive(l.ctx, l.opts.Output, l.dependents, l.cache)
	default:
		return ld.MakeError(ld.ErrInvalidFileName, "linker",
			"unknown output format '%s'", l.opts.Format)
	}
}
