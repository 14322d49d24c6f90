// Package outputter writes the resolved dependent set out in one of the
// supported formats: the RAP container, a plain archive, a link script, or
// a merged relocatable ELF.
package outputter

import (
	"fmt"
	"os"

	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/files"
	"github.com/rapld/rapld/pkg/ld/rap"
)

// Formats the linker can emit.
const (
	FormatRAP     = "rap"
	FormatELF     = "elf"
	FormatScript  = "script"
	FormatArchive = "archive"
)

// RAP writes the application image in the RAP container format.
func RAP(ctx *ld.Context, name, metadata string, dependents []*files.Object) error {
	ctx.Log(ld.VerboseInfo, "outputter: rap", "name", name)
	return rap.WriteFile(ctx, name, metadata, dependents)
}

// Archive writes every cache object plus the dependents into an AR
// archive.
func Archive(ctx *ld.Context, name string, dependents []*files.Object, cache *files.Cache) error {
	ctx.Log(ld.VerboseInfo, "outputter: archive", "name", name)

	objects := cache.Objects()
	objects = append(objects, dependents...)

	arch := files.NewArchive(name)
	return arch.Create(objects)
}

// Script writes a text listing of the link: the cache objects, then each
// dependent with its unresolved imports, one line per import.
func Script(ctx *ld.Context, name string, dependents []*files.Object, cache *files.Cache) error {
	ctx.Log(ld.VerboseInfo, "outputter: script", "name", name)

	out, err := os.Create(name)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := fmt.Fprintln(out, "!# rls"); err != nil {
		return err
	}

	for _, obj := range cache.Objects() {
		if _, err := fmt.Fprintf(out, "o:%s\n", obj.BaseName()); err != nil {
			return err
		}
	}

	for _, obj := range dependents {
		if _, err := fmt.Fprintf(out, "o:%s\n", obj.BaseName()); err != nil {
			return err
		}
		count := 0
		urs := obj.UnresolvedSymbols()
		for _, symName := range urs.Names() {
			count++
			if _, err := fmt.Fprintf(out, " d:%d:%s\n", count, symName); err != nil {
				return err
			}
		}
	}
	return nil
}
