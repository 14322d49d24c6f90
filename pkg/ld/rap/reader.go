package rap

import (
	"hash/crc32"
	"io"
	"strconv"
	"strings"

	"github.com/rapld/rapld/pkg/ld"
	"github.com/rapld/rapld/pkg/ld/compress"
	"github.com/rapld/rapld/pkg/ld/files"
)

// Header is the parsed plain-text header of a RAP image.
type Header struct {
	Length      int
	Version     int
	Compression string
	Checksum    uint32
}

// File is an open RAP image.
type File struct {
	image  *files.Image
	header Header
	size   int64
}

// Open opens path and parses its RAP header.
func Open(path string) (*File, error) {
	img := files.NewImage(files.NewName(path))
	if err := img.Open(); err != nil {
		return nil, err
	}

	f := &File{image: img}
	if err := f.parseHeader(); err != nil {
		img.Close()
		return nil, err
	}

	size, err := img.Size()
	if err != nil {
		img.Close()
		return nil, err
	}
	f.size = size
	return f, nil
}

// Close releases the image.
func (f *File) Close() {
	f.image.Close()
}

func (f *File) Header() Header { return f.header }

// parseHeader reads the comma-separated text header:
// RAP,<length>,<version>,<NONE|LZ77>,<hex-checksum>\n
func (f *File) parseHeader() error {
	name := f.image.Name().Path()

	buf := make([]byte, 64)
	n, err := f.image.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return err
	}
	buf = buf[:n]

	text := string(buf)
	if !strings.HasPrefix(text, "RAP,") {
		return ld.MakeError(ld.ErrNotRAP, "rap", "%s", name)
	}

	nl := strings.IndexByte(text, '\n')
	if nl < 0 {
		return ld.MakeError(ld.ErrNotRAP, "rap", "%s: unterminated header", name)
	}

	fields := strings.Split(text[:nl], ",")
	if len(fields) != 5 {
		return ld.MakeError(ld.ErrNotRAP, "rap", "%s: cannot parse header", name)
	}

	length, err := strconv.Atoi(fields[1])
	if err != nil || length != nl+1 {
		return ld.MakeError(ld.ErrNotRAP, "rap", "%s: bad header length", name)
	}

	version, err := strconv.Atoi(fields[2])
	if err != nil {
		return ld.MakeError(ld.ErrNotRAP, "rap", "%s: bad header version", name)
	}

	if fields[3] != CompressionNone && fields[3] != CompressionLZ77 {
		return ld.MakeError(ld.ErrNotRAP, "rap", "%s: bad compression '%s'", name, fields[3])
	}

	checksum, err := strconv.ParseUint(fields[4], 16, 32)
	if err != nil {
		return ld.MakeError(ld.ErrNotRAP, "rap", "%s: bad checksum", name)
	}

	f.header = Header{
		Length:      length,
		Version:     version,
		Compression: fields[3],
		Checksum:    uint32(checksum),
	}
	return nil
}

// VerifyChecksum recomputes the CRC-32 of the bytes after the header and
// compares it with the header field.
func (f *File) VerifyChecksum() error {
	r := f.payloadReader()
	sum := uint32(0)
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		sum = crc32.Update(sum, crc32.IEEETable, buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if sum != f.header.Checksum {
		return ld.MakeError(ld.ErrBadChecksum, "rap",
			"%s: 0x%08x != 0x%08x", f.image.Name().Path(), sum, f.header.Checksum)
	}
	return nil
}

func (f *File) payloadReader() *io.SectionReader {
	return io.NewSectionReader(f.image.File(), int64(f.header.Length),
		f.size-int64(f.header.Length))
}

func (f *File) decompressor() (*compress.Compressor, error) {
	return compress.NewReader(f.payloadReader(), BlockSize,
		f.header.Compression == CompressionLZ77)
}

// Info is the decoded payload prologue; the per-object size records
// follow it, each ahead of its object's region bytes.
type Info struct {
	Metadata    string
	ObjectCount uint32
	TotalText   uint32
	TotalData   uint32
	TotalBss    uint32
}

// ObjectRecord is one dependent object's region sizes as recorded in the
// payload. The const region's byte length is not part of the record; its
// bytes ride between the text and ctor regions, and only the aggregate is
// pinned by the prologue's text total.
type ObjectRecord struct {
	Text   uint32
	Ctor   uint32
	Dtor   uint32
	Data   uint32
	Symtab uint32
	Strtab uint32
	Relocs uint32
}

// ReadInfo decodes the payload prologue.
func (f *File) ReadInfo() (*Info, error) {
	comp, err := f.decompressor()
	if err != nil {
		return nil, err
	}
	return f.readInfo(comp)
}

func (f *File) readInfo(comp *compress.Compressor) (*Info, error) {
	metaLen, err := comp.ReadUint32()
	if err != nil {
		return nil, err
	}
	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(readerFunc(comp.Read), meta); err != nil {
		return nil, ld.MakeError(ld.ErrNotRAP, "rap", "truncated metadata: %v", err)
	}

	info := &Info{Metadata: string(meta)}
	for _, field := range []*uint32{
		&info.ObjectCount, &info.TotalText, &info.TotalData, &info.TotalBss,
	} {
		v, err := comp.ReadUint32()
		if err != nil {
			return nil, err
		}
		*field = v
	}
	return info, nil
}

// ReadObjects decodes the prologue and the per-object size records.
// Reaching each record means skipping the previous object's region bytes
// by the sizes its record carries; const regions are not recorded, so the
// walk cross-checks itself against the prologue's text total and reports a
// desynchronized stream instead of returning garbage records.
func (f *File) ReadObjects() (*Info, []ObjectRecord, error) {
	comp, err := f.decompressor()
	if err != nil {
		return nil, nil, err
	}

	info, err := f.readInfo(comp)
	if err != nil {
		return nil, nil, err
	}

	records := make([]ObjectRecord, 0, info.ObjectCount)
	var recordedText uint64

	for i := uint32(0); i < info.ObjectCount; i++ {
		var rec ObjectRecord
		for _, field := range []*uint32{
			&rec.Text, &rec.Ctor, &rec.Dtor, &rec.Data,
			&rec.Symtab, &rec.Strtab, &rec.Relocs,
		} {
			v, err := comp.ReadUint32()
			if err != nil {
				return info, records, ld.MakeError(ld.ErrNotRAP, "rap",
					"object record %d: %v", i, err)
			}
			*field = v
		}
		records = append(records, rec)
		recordedText += uint64(rec.Text) + uint64(rec.Ctor) + uint64(rec.Dtor)

		// Relocation sizes are carried only; their bytes are not in the
		// stream.
		skip := uint64(rec.Text) + uint64(rec.Ctor) + uint64(rec.Dtor) +
			uint64(rec.Data) + uint64(rec.Symtab) + uint64(rec.Strtab)
		if err := discard(comp, skip); err != nil {
			return info, records, ld.MakeError(ld.ErrNotRAP, "rap",
				"object record %d: regions: %v", i, err)
		}
	}

	// Whatever remains must be exactly the const bytes the prologue
	// accounts for; anything else means a const region earlier in the
	// stream threw the walk off a record boundary.
	rest, err := drain(comp)
	if err != nil {
		return info, records, err
	}
	if recordedText+rest != uint64(info.TotalText) {
		return info, records, ld.MakeError(ld.ErrNotRAP, "rap",
			"object records desynchronized: %d trailing bytes, text total %d",
			rest, info.TotalText)
	}

	return info, records, nil
}

// discard consumes exactly n bytes from the stream.
func discard(comp *compress.Compressor, n uint64) error {
	buf := make([]byte, 32*1024)
	for n > 0 {
		chunk := uint64(len(buf))
		if chunk > n {
			chunk = n
		}
		got, err := comp.Read(buf[:chunk])
		if err != nil {
			return err
		}
		if got == 0 {
			return io.ErrUnexpectedEOF
		}
		n -= uint64(got)
	}
	return nil
}

// drain consumes the rest of the stream and returns how many bytes it held.
func drain(comp *compress.Compressor) (uint64, error) {
	buf := make([]byte, 32*1024)
	var total uint64
	for {
		got, err := comp.Read(buf)
		if err != nil {
			return total, err
		}
		if got == 0 {
			return total, nil
		}
		total += uint64(got)
	}
}

// Expand decompresses the whole payload into a side file at path.
func (f *File) Expand(path string) error {
	comp, err := f.decompressor()
	if err != nil {
		return err
	}

	out := files.NewImage(files.NewName(path))
	if err := out.OpenWritable(); err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, BlockSize)
	for {
		n, err := comp.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return err
		}
	}
}

// readerFunc adapts the compressor's pull interface to io.Reader. The
// compressor returns 0 at end of stream rather than io.EOF.
type readerFunc func([]byte) (int, error)

func (r readerFunc) Read(p []byte) (int, error) {
	n, err := r(p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}
