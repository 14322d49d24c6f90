package rap

import (
	"fmt"
	"hash/crc32"
	"io"

	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/compress"
	"github.com/rapld/rapld/pkg/ld/elfio"
	"github.com/rapld/rapld/pkg/ld/files"
)

// Version is the RAP container version this writer emits.
const Version = 1

// CompressionLZ77 and CompressionNone are the header compression tags.
const (
	CompressionLZ77 = "LZ77"
	CompressionNone = "NONE"
)

// BlockSize is the compressor block size for output images.
const BlockSize = 64 * 1024

// image accumulates the layout of the whole output: every object's text
// first, then all const, ctor and dtor regions appended to text, then the
// data regions.
type image struct {
	objs []*object

	textSize   uint32
	dataSize   uint32
	bssSize    uint32
	symtabSize uint32
	strtabSize uint32
	relocsSize uint32
}

func (img *image) layout(ctx *ld.Context, dependents []*files.Object) error {
	for _, dep := range dependents {
		if err := dep.Open(); err != nil {
			return err
		}
		err := dep.Begin(nil)
		var obj *object
		if err == nil {
			obj, err = newObject(ctx, dep)
			dep.End()
		}
		dep.Close()
		if err != nil {
			return err
		}
		img.objs = append(img.objs, obj)
	}

	for _, obj := range img.objs {
		obj.textOff = img.textSize
		img.textSize += obj.textSize
		obj.dataOff = img.dataSize
		img.dataSize += obj.dataSize
		img.bssSize += obj.bssSize
		img.symtabSize += obj.symtabSize
		img.strtabSize += obj.strtabSize
		img.relocsSize += obj.relocsSize
	}
	for _, obj := range img.objs {
		obj.cnstOff = img.textSize
		img.textSize += obj.cnstSize
	}
	for _, obj := range img.objs {
		obj.ctorOff = img.textSize
		img.textSize += obj.ctorSize
	}
	for _, obj := range img.objs {
		obj.dtorOff = img.textSize
		img.textSize += obj.dtorSize
	}

	ctx.Log(ld.VerboseInfo, "rap: layout",
		"text", img.textSize, "data", img.dataSize, "bss", img.bssSize,
		"symtab", img.symtabSize, "strtab", img.strtabSize, "relocs", img.relocsSize)
	return nil
}

func (img *image) write(comp *compress.Compressor, metadata string) error {
	if err := comp.WriteUint32(uint32(len(metadata))); err != nil {
		return err
	}
	if _, err := comp.Write([]byte(metadata)); err != nil {
		return err
	}
	for _, v := range []uint32{
		uint32(len(img.objs)), img.textSize, img.dataSize, img.bssSize,
	} {
		if err := comp.WriteUint32(v); err != nil {
			return err
		}
	}

	for _, obj := range img.objs {
		for _, v := range []uint32{
			obj.textSize, obj.ctorSize, obj.dtorSize, obj.dataSize,
			obj.symtabSize, obj.strtabSize, obj.relocsSize,
		} {
			if err := comp.WriteUint32(v); err != nil {
				return err
			}
		}

		if err := obj.obj.Open(); err != nil {
			return err
		}
		err := img.writeObject(comp, obj)
		obj.obj.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (img *image) writeObject(comp *compress.Compressor, obj *object) error {
	if err := obj.obj.Begin(nil); err != nil {
		return err
	}
	defer obj.obj.End()

	for _, region := range [][]*elfio.Section{
		obj.regions.Text, obj.regions.Const, obj.regions.Ctor, obj.regions.Dtor,
		obj.regions.Data, obj.regions.Symtab, obj.regions.Strtab,
	} {
		if err := writeSections(comp, obj.obj, region); err != nil {
			return err
		}
	}
	return nil
}

// writeSections streams each section's raw bytes, in header order, from the
// object image into the compressor.
func writeSections(comp *compress.Compressor, obj *files.Object, secs []*elfio.Section) error {
	for _, sec := range secs {
		if sec.Size == 0 {
			continue
		}
		if err := comp.WriteFrom(obj.Elf().ReaderAt(), sec.Offset, int(sec.Size)); err != nil {
			return err
		}
	}
	return nil
}

// headerString formats the fixed-width RAP header. The length field counts
// the header's own bytes through the terminating newline.
func headerString(compression string, checksum uint32) string {
	probe := fmt.Sprintf("RAP,%05d,%d,%s,%08x\n", 0, Version, compression, checksum)
	return fmt.Sprintf("RAP,%05d,%d,%s,%08x\n", len(probe), Version, compression, checksum)
}

// Write lays out the dependent objects and writes the RAP image to out.
// The header checksum is the CRC-32 of every byte after the header, so the
// header is rewritten in place once the payload is flushed.
func Write(ctx *ld.Context, out *files.Image, metadata string, dependents []*files.Object) error {
	img := &image{}
	if err := img.layout(ctx, dependents); err != nil {
		return err
	}

	header := headerString(CompressionLZ77, 0)
	if _, err := out.Write([]byte(header)); err != nil {
		return err
	}

	crc := &crcWriter{w: out}
	comp, err := compress.NewWriter(crc, BlockSize, true)
	if err != nil {
		return err
	}

	if err := img.write(comp, metadata); err != nil {
		return err
	}
	if err := comp.Flush(); err != nil {
		return err
	}

	final := headerString(CompressionLZ77, crc.sum)
	if _, err := out.WriteAt([]byte(final), 0); err != nil {
		return err
	}

	if ctx.Verbose(ld.VerboseInfo) && comp.Transferred() > 0 {
		ratio := float64(comp.Compressed()) * 100 / float64(comp.Transferred())
		ctx.Log(ld.VerboseInfo, "rap: written",
			"objects", len(dependents),
			"size", comp.Compressed(),
			"compression", fmt.Sprintf("%.1f%%", ratio))
	}
	return nil
}

// WriteFile links the dependents into a RAP image at path.
func WriteFile(ctx *ld.Context, path string, metadata string, dependents []*files.Object) error {
	out := files.NewImage(files.NewName(path))
	if err := out.OpenWritable(); err != nil {
		return err
	}
	defer out.Close()
	return Write(ctx, out, metadata, dependents)
}

type crcWriter struct {
	w   io.Writer
	sum uint32
}

func (c *crcWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.sum = crc32.Update(c.sum, crc32.IEEETable, p[:n])
	return n, err
}
