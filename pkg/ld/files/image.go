package files

import (
	"io"
	"os"

	"github.com/rapld/rapld/pkg/ld"
)

// Image is a reference-counted handle on an on-disk file. The first Open
// opens the descriptor, the last Close releases it; archive members share
// their archive's image, so the count keeps the descriptor alive while any
// member session is open.
type Image struct {
	name       Name
	f          *os.File
	references int
	writable   bool
	symbolRefs int
}

// NewImage creates a closed image for name.
func NewImage(name Name) *Image {
	return &Image{name: name}
}

// Open opens the image read-only, or bumps the reference count if it is
// already open.
func (i *Image) Open() error {
	return i.open(false)
}

// OpenWritable opens (creating or truncating) the image for writing.
func (i *Image) OpenWritable() error {
	return i.open(true)
}

func (i *Image) open(writable bool) error {
	if i.references > 0 {
		if writable != i.writable {
			return ld.MakeError(ld.ErrWrongMode, "files", "%s already open", i.name.Path())
		}
		i.references++
		return nil
	}

	var f *os.File
	var err error
	if writable {
		f, err = os.OpenFile(i.name.Path(), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	} else {
		f, err = os.Open(i.name.Path())
	}
	if err != nil {
		if os.IsNotExist(err) {
			return ld.MakeError(ld.ErrFileNotFound, "files", "%s", i.name.Path())
		}
		return err
	}

	i.f = f
	i.writable = writable
	i.references = 1
	return nil
}

// Close drops one reference, closing the descriptor on the last one.
func (i *Image) Close() {
	if i.references == 0 {
		return
	}
	i.references--
	if i.references == 0 && i.f != nil {
		i.f.Close()
		i.f = nil
	}
}

func (i *Image) Name() Name { return i.name }
func (i *Image) References() int { return i.references }
func (i *Image) IsOpen() bool { return i.f != nil }
func (i *Image) IsWritable() bool { return i.writable }

// File exposes the underlying descriptor for bounded views.
func (i *Image) File() *os.File { return i.f }

// Size is the member size for archive members, the on-disk size otherwise.
func (i *Image) Size() (int64, error) {
	if i.name.IsMember() {
		return i.name.Size, nil
	}
	fi, err := os.Stat(i.name.Path())
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (i *Image) Read(p []byte) (int, error) {
	if i.f == nil {
		return 0, ld.MakeError(ld.ErrWrongMode, "files", "%s not open", i.name.Path())
	}
	return i.f.Read(p)
}

func (i *Image) Write(p []byte) (int, error) {
	if i.f == nil || !i.writable {
		return 0, ld.MakeError(ld.ErrWrongMode, "files", "%s not writable", i.name.Path())
	}
	return i.f.Write(p)
}

func (i *Image) Seek(offset int64) error {
	if i.f == nil {
		return ld.MakeError(ld.ErrWrongMode, "files", "%s not open", i.name.Path())
	}
	_, err := i.f.Seek(offset, io.SeekStart)
	return err
}

func (i *Image) ReadAt(p []byte, off int64) (int, error) {
	if i.f == nil {
		return 0, ld.MakeError(ld.ErrWrongMode, "files", "%s not open", i.name.Path())
	}
	return i.f.ReadAt(p, off)
}

func (i *Image) WriteAt(p []byte, off int64) (int, error) {
	if i.f == nil || !i.writable {
		return 0, ld.MakeError(ld.ErrWrongMode, "files", "%s not writable", i.name.Path())
	}
	return i.f.WriteAt(p, off)
}

// SeekRead reads exactly len(p) bytes at offset.
func (i *Image) SeekRead(offset int64, p []byte) error {
	n, err := i.ReadAt(p, offset)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// SymbolReferenced counts a reference to a symbol owned by this image.
func (i *Image) SymbolReferenced() {
	i.symbolRefs++
}

func (i *Image) SymbolReferences() int {
	return i.symbolRefs
}
