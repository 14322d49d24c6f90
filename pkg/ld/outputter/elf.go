package outputter

import (
	"debug/elf"
	"os"

	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/elfio"
	"github.com/rapld/rapld/pkg/ld/files"
	"github.com/rapld/rapld/pkg/ld/rap"
)

// ELF writes the merged regions of the dependent set as sections of a
// single relocatable ELF image.
func ELF(ctx *ld.Context, name string, dependents []*files.Object, format *elfio.Format) error {
	ctx.Log(ld.VerboseInfo, "outputter: elf", "name", name)

	var text, cnst, ctor, dtor, data []byte
	var bssSize uint64

	for _, obj := range dependents {
		if err := obj.Open(); err != nil {
			return err
		}
		err := func() error {
			if err := obj.Begin(format); err != nil {
				return err
			}
			defer obj.End()

			regions, err := rap.Classify(obj)
			if err != nil {
				return err
			}

			for _, part := range []struct {
				dst  *[]byte
				secs []*elfio.Section
			}{
				{&text, regions.Text},
				{&cnst, regions.Const},
				{&ctor, regions.Ctor},
				{&dtor, regions.Dtor},
				{&data, regions.Data},
			} {
				for _, sec := range part.secs {
					raw, err := obj.Elf().SectionData(sec)
					if err != nil {
						return err
					}
					*part.dst = append(*part.dst, raw...)
				}
			}
			bssSize += uint64(rap.SumSizes(regions.Bss))
			return nil
		}()
		obj.Close()
		if err != nil {
			return err
		}
	}

	w := elfio.NewWriter(format)
	w.Add(&elfio.OutSection{
		Name: ".text", Type: elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Alignment: 4, Data: text,
	})
	w.Add(&elfio.OutSection{
		Name: ".const", Type: elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_MERGE, Alignment: 4, Data: cnst,
	})
	w.Add(&elfio.OutSection{
		Name: ".ctors", Type: elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC, Alignment: 4, Data: ctor,
	})
	w.Add(&elfio.OutSection{
		Name: ".dtors", Type: elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC, Alignment: 4, Data: dtor,
	})
	w.Add(&elfio.OutSection{
		Name: ".data", Type: elf.SHT_PROGBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Alignment: 4, Data: data,
	})
	w.Add(&elfio.OutSection{
		Name: ".bss", Type: elf.SHT_NOBITS,
		Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Alignment: 4, Size: bssSize,
	})

	out, err := os.Create(name)
	if err != nil {
		return err
	}
	defer out.Close()
	return w.Write(out)
}
