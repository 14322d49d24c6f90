package files

import (
	"fmt"
	"io"
	"os"

	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/elfio"
	"github.com/rapld/rapld/pkg/ld/symbols"
	"github.com/rapld/rapld/pkg/utils"
	"golang.org/x/exp/slices"
)

// Cache collects the object files and archives of one link. Path order is
// preserved into object iteration (archive members in archive order), which
// keeps the resolver's dependent list deterministic for identical inputs.
type Cache struct {
	ctx    *ld.Context
	format *elfio.Format

	paths    []string
	archives map[string]*Archive
	objects  map[string]*Object
	order    []string
	opened   bool
}

// NewCache creates an empty cache for one invocation.
func NewCache(ctx *ld.Context, format *elfio.Format) *Cache {
	return &Cache{
		ctx:      ctx,
		format:   format,
		archives: map[string]*Archive{},
		objects:  map[string]*Object{},
	}
}

// Add registers a path without opening it.
func (c *Cache) Add(path string) {
	if !slices.Contains(c.paths, path) {
		c.paths = append(c.paths, path)
	}
}

// AddPaths registers several paths.
func (c *Cache) AddPaths(paths []string) {
	for _, p := range paths {
		c.Add(p)
	}
}

// Open walks the registered paths, loading archives member by member and
// registering standalone objects.
func (c *Cache) Open() error {
	if c.opened {
		return nil
	}

	for _, path := range c.paths {
		c.ctx.Log(ld.VerboseTraceFiles, "cache: open", "path", path)

		name, err := ParseName(path)
		if err != nil {
			return err
		}
		if name.IsMember() {
			if err := c.openMember(name); err != nil {
				return err
			}
			continue
		}

		isArchive, size, err := probeArchive(path)
		if err != nil {
			return err
		}

		if isArchive {
			if err := c.openArchive(path); err != nil {
				return err
			}
			continue
		}

		obj := NewObject(path)
		obj.image.name.Size = size
		if err := c.insertObject(obj); err != nil {
			return err
		}
	}

	c.opened = true
	return nil
}

// openMember registers a single archive member named with the
// "archive:member@offset" grammar. The offset is a hint; a stale or absent
// one falls back to searching the member directory by name.
func (c *Cache) openMember(name Name) error {
	arch := c.archives[name.Archive]
	if arch == nil {
		arch = NewArchive(name.Archive)
	}

	if err := arch.Begin(); err != nil {
		return err
	}
	defer arch.End()

	members, err := arch.LoadObjects()
	if err != nil {
		return err
	}
	c.archives[name.Archive] = arch

	var found *Object
	for _, member := range members {
		if name.Offset != 0 && member.Name().Offset == name.Offset &&
			member.Name().Object == name.Object {
			found = member
			break
		}
	}
	if found == nil {
		for _, member := range members {
			if member.Name().Object == name.Object {
				found = member
				break
			}
		}
	}
	if found == nil {
		return ld.MakeError(ld.ErrFileNotFound, "files", "%s", name.Full())
	}
	return c.insertObject(found)
}

func (c *Cache) openArchive(path string) error {
	if _, ok := c.archives[path]; ok {
		return nil
	}

	arch := NewArchive(path)
	if err := arch.Begin(); err != nil {
		return err
	}
	defer arch.End()

	members, err := arch.LoadObjects()
	if err != nil {
		return err
	}

	c.archives[path] = arch
	for _, obj := range members {
		c.ctx.Log(ld.VerboseTraceFiles, "cache: member",
			"archive", path, "object", obj.Name().Object, "offset", obj.Name().Offset)
		if err := c.insertObject(obj); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) insertObject(obj *Object) error {
	key := obj.FullName()
	if _, ok := c.objects[key]; ok {
		return ld.MakeError(ld.ErrInvalidFileName, "files", "duplicate object '%s'", key)
	}
	c.objects[key] = obj
	c.order = append(c.order, key)
	return nil
}

func probeArchive(path string) (bool, int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, ld.MakeError(ld.ErrFileNotFound, "files", "%s", path)
		}
		return false, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return false, 0, err
	}
	defer f.Close()

	var magic [len(archiveMagic)]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		// Too short for the AR magic, so not an archive.
		return false, fi.Size(), nil
	}
	return string(magic[:]) == archiveMagic, fi.Size(), nil
}

// ArchivesBegin opens sessions on every archive so that member ELF
// sessions stay valid across resolver recursion.
func (c *Cache) ArchivesBegin() error {
	for _, path := range c.ArchivePaths() {
		if err := c.archives[path].Begin(); err != nil {
			return err
		}
	}
	return nil
}

// ArchivesEnd closes the archive sessions.
func (c *Cache) ArchivesEnd() {
	for _, path := range c.ArchivePaths() {
		c.archives[path].End()
	}
}

// LoadSymbols loads every object's symbols into table. Afterwards any
// symbol definition in the corpus can be found by name.
func (c *Cache) LoadSymbols(table *symbols.Table, withLocals bool) error {
	for _, obj := range c.Objects() {
		if err := obj.Open(); err != nil {
			return err
		}
		err := obj.Begin(c.format)
		if err == nil {
			err = obj.LoadSymbols(table, withLocals)
		}
		obj.End()
		obj.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Objects returns the cached objects in registration order.
func (c *Cache) Objects() []*Object {
	return utils.Map(c.order, func(key string) *Object {
		return c.objects[key]
	})
}

// FindObject looks an object up by its full-path key.
func (c *Cache) FindObject(fullname string) *Object {
	return c.objects[fullname]
}

// Archives returns the loaded archives keyed by path.
func (c *Cache) Archives() map[string]*Archive {
	return c.archives
}

// ArchivePaths returns the archive paths in sorted order.
func (c *Cache) ArchivePaths() []string {
	paths := utils.Keys(c.archives)
	slices.Sort(paths)
	return paths
}

func (c *Cache) PathCount() int { return len(c.paths) }
func (c *Cache) ObjectCount() int { return len(c.objects) }
func (c *Cache) ArchiveCount() int { return len(c.archives) }

// OutputUnresolved prints every object's unresolved references.
func (c *Cache) OutputUnresolved(w io.Writer) {
	for _, obj := range c.Objects() {
		urs := obj.UnresolvedSymbols()
		if len(urs) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s:\n", obj.FullName())
		for _, name := range urs.Names() {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
}
