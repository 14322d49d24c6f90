// Package base loads the base-image symbol table: the globals the target
// runtime already provides. Base definitions resolve references without
// ever pulling an object into the output.
package base

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/elfio"
	"github.com/rapld/rapld/pkg/ld/files"
	"github.com/rapld/rapld/pkg/ld/symbols"
)

// Load reads base symbols from path. An ELF image contributes its defined
// global symbols; anything else is read as a YAML map of name to address.
func Load(path string, format *elfio.Format) (*symbols.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ld.MakeError(ld.ErrFileNotFound, "base", "%s", path)
		}
		return nil, err
	}

	var magic [4]byte
	n, _ := f.ReadAt(magic[:], 0)
	f.Close()

	if n == 4 && magic == [4]byte{0x7f, 'E', 'L', 'F'} {
		return loadELF(path, format)
	}
	return loadYAML(path)
}

// loadELF pulls the defined global symbols out of a pre-built kernel
// image.
func loadELF(path string, format *elfio.Format) (*symbols.Table, error) {
	obj := files.NewObject(path)
	if err := obj.Open(); err != nil {
		return nil, err
	}
	defer obj.Close()

	if err := obj.Begin(format); err != nil {
		return nil, err
	}
	defer obj.End()

	raw, err := obj.Elf().Symbols()
	if err != nil {
		return nil, err
	}

	table := symbols.NewTable()
	for _, rs := range raw {
		sym := symbols.New(rs.Index, rs.Name, rs.Info, rs.Shndx, rs.Value, rs.Size, nil)
		if sym.IsUndefined() || !sym.IsGlobal() {
			continue
		}
		if err := table.AddGlobal(symbols.NewSynthetic(rs.Name, rs.Value)); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// loadYAML reads a name-to-address map. Addresses may be integers or
// strings in any base strconv accepts, 0x hex included.
func loadYAML(path string) (*symbols.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries map[string]any
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, ld.MakeError(ld.ErrInvalidFileName, "base", "%s: %v", path, err)
	}

	table := symbols.NewTable()
	for name, value := range entries {
		addr, err := parseAddress(value)
		if err != nil {
			return nil, ld.MakeError(ld.ErrInvalidFileName, "base",
				"%s: symbol '%s': %v", path, name, err)
		}
		if err := table.AddGlobal(symbols.NewSynthetic(name, addr)); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// Save writes a table's global symbols as a YAML address map, the format
// Load reads back. This is how an extracted kernel symbol set becomes a
// base file for later links.
func Save(path string, table *symbols.Table) error {
	entries := make(map[string]string, len(table.Globals()))
	for name, sym := range table.Globals() {
		entries[name] = fmt.Sprintf("0x%08x", sym.Value())
	}

	data, err := yaml.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func parseAddress(value any) (uint64, error) {
	switch v := value.(type) {
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative address %d", v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("negative address %d", v)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case string:
		return strconv.ParseUint(v, 0, 64)
	default:
		return 0, fmt.Errorf("unsupported address %v", value)
	}
}
