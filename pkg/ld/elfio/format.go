// Package elfio reads relocatable ELF objects, standalone or embedded in an
// archive, and writes simple ELF images back out. All files loaded during
// one link must agree on class, machine and data encoding.
package elfio

import (
	"debug/elf"

	"github.com/rapld/rapld/pkg/ld"
)

// Format records the object class, machine type and data encoding of the
// first file loaded in an invocation. Every later file must match. One
// Format instance lives per link context, never in package state, so
// reusing the library means creating a new Format.
type Format struct {
	class   elf.Class
	machine elf.Machine
	data    elf.Data
	set     bool
}

// Check validates f against the recorded format, seeding it from the first
// file seen.
func (f *Format) Check(ef *elf.File, name string) error {
	if !f.set {
		f.class = ef.Class
		f.machine = ef.Machine
		f.data = ef.Data
		f.set = true
		return nil
	}
	if ef.Class != f.class {
		return ld.MakeError(ld.ErrMixedClasses, "elf",
			"%s is %s, expected %s", name, ef.Class, f.class)
	}
	if ef.Machine != f.machine {
		return ld.MakeError(ld.ErrMixedMachineTypes, "elf",
			"%s is %s, expected %s", name, ef.Machine, f.machine)
	}
	if ef.Data != f.data {
		return ld.MakeError(ld.ErrMixedDataTypes, "elf",
			"%s is %s, expected %s", name, ef.Data, f.data)
	}
	return nil
}

// Set reports whether a first file has seeded the format.
func (f *Format) Set() bool { return f.set }

func (f *Format) Class() elf.Class { return f.class }
func (f *Format) Machine() elf.Machine { return f.machine }
func (f *Format) Data() elf.Data { return f.data }

// Is64 reports whether the invocation is linking 64-bit objects.
func (f *Format) Is64() bool { return f.class == elf.ELFCLASS64 }

// Reset clears the format for a new invocation.
func (f *Format) Reset() { *f = Format{} }
