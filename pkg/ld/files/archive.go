package files

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rapld/rapld/pkg/ld"
)

const (
	archiveMagic      = "!<arch>\n"
	archiveHeaderSize = 60
	archiveFileMagic  = "`\n"
)

// Archive is an AR-format library. Member objects share the archive's
// image, so the archive must stay open while any member session is open.
type Archive struct {
	image    *Image
	longName map[int64]string
}

// NewArchive creates a closed archive for the given path.
func NewArchive(path string) *Archive {
	return &Archive{image: NewImage(NewName(path))}
}

func (a *Archive) Name() Name { return a.image.Name() }
func (a *Archive) Image() *Image { return a.image }

// Begin opens an archive session. Member ELF sessions are only valid while
// the archive session is open.
func (a *Archive) Begin() error {
	return a.image.Open()
}

// End closes the archive session.
func (a *Archive) End() {
	a.image.Close()
}

// IsValid checks the archive magic.
func (a *Archive) IsValid() (bool, error) {
	var magic [len(archiveMagic)]byte
	if err := a.image.SeekRead(0, magic[:]); err != nil {
		return false, err
	}
	return string(magic[:]) == archiveMagic, nil
}

// LoadObjects walks the member headers and returns an object per payload
// member, in archive order. The image must be open.
func (a *Archive) LoadObjects() ([]*Object, error) {
	valid, err := a.IsValid()
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ld.MakeError(ld.ErrNotArchive, "files", "%s", a.Name().Path())
	}

	size, err := a.image.Size()
	if err != nil {
		return nil, err
	}

	a.longName = nil

	var objects []*Object
	offset := int64(len(archiveMagic))

	for offset+archiveHeaderSize <= size {
		var header [archiveHeaderSize]byte
		if err := a.image.SeekRead(offset, header[:]); err != nil {
			return nil, ld.MakeError(ld.ErrMalformedArchive, "files",
				"%s: header at %d: %v", a.Name().Path(), offset, err)
		}
		if string(header[58:60]) != archiveFileMagic {
			return nil, ld.MakeError(ld.ErrMalformedArchive, "files",
				"%s: bad member magic at %d", a.Name().Path(), offset)
		}

		memberSize, err := archiveField(header[48:58])
		if err != nil {
			return nil, ld.MakeError(ld.ErrMalformedArchive, "files",
				"%s: bad member size at %d", a.Name().Path(), offset)
		}

		rawName := strings.TrimRight(string(header[0:16]), " ")
		payload := offset + archiveHeaderSize
		payloadSize := memberSize

		var name string
		switch {
		case rawName == "/" || rawName == "":
			// Symbol index, skipped.
		case rawName == "//":
			// GNU long-name table: record it for later "/N" references.
			if err := a.loadLongNames(payload, payloadSize); err != nil {
				return nil, err
			}
		case strings.HasPrefix(rawName, "#1/"):
			// BSD style: the real name follows the header and counts
			// toward the payload offset, not the payload.
			nameLen, err := strconv.ParseInt(rawName[3:], 10, 64)
			if err != nil || nameLen <= 0 || nameLen > payloadSize {
				return nil, ld.MakeError(ld.ErrMalformedArchive, "files",
					"%s: bad long name length '%s'", a.Name().Path(), rawName)
			}
			nameBytes := make([]byte, nameLen)
			if err := a.image.SeekRead(payload, nameBytes); err != nil {
				return nil, ld.MakeError(ld.ErrMalformedArchive, "files",
					"%s: long name at %d: %v", a.Name().Path(), payload, err)
			}
			name = strings.TrimRight(string(nameBytes), "\x00")
			payload += nameLen
			payloadSize -= nameLen
		case strings.HasPrefix(rawName, "/"):
			// GNU reference into the long-name table.
			tableOff, err := strconv.ParseInt(rawName[1:], 10, 64)
			if err != nil {
				return nil, ld.MakeError(ld.ErrMalformedArchive, "files",
					"%s: bad long name reference '%s'", a.Name().Path(), rawName)
			}
			longName, ok := a.longName[tableOff]
			if !ok {
				return nil, ld.MakeError(ld.ErrMalformedArchive, "files",
					"%s: long name reference %d not in table", a.Name().Path(), tableOff)
			}
			name = longName
		default:
			name = strings.TrimSuffix(rawName, "/")
		}

		if name != "" {
			member := NewMemberName(a.Name().Path(), name, payload, payloadSize)
			objects = append(objects, newMemberObject(a, member))
		}

		offset += archiveHeaderSize + memberSize
		if offset%2 != 0 {
			offset++
		}
	}

	return objects, nil
}

func (a *Archive) loadLongNames(offset, size int64) error {
	table := make([]byte, size)
	if err := a.image.SeekRead(offset, table); err != nil {
		return ld.MakeError(ld.ErrMalformedArchive, "files",
			"%s: long name table: %v", a.Name().Path(), err)
	}

	a.longName = make(map[int64]string)
	start := 0
	for i := 0; i < len(table); i++ {
		if table[i] == '\n' {
			name := strings.TrimSuffix(string(table[start:i]), "/")
			if name != "" {
				a.longName[int64(start)] = name
			}
			start = i + 1
		}
	}
	return nil
}

func archiveField(b []byte) (int64, error) {
	s := strings.TrimRight(string(b), " ")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// Create writes a new archive containing the given objects in order. Long
// member names use the BSD "#1/N" form.
func (a *Archive) Create(objects []*Object) error {
	if err := a.image.OpenWritable(); err != nil {
		return err
	}
	defer a.image.Close()

	if _, err := a.image.Write([]byte(archiveMagic)); err != nil {
		return err
	}

	for _, obj := range objects {
		if err := obj.Open(); err != nil {
			return err
		}
		err := a.writeMember(obj)
		obj.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Archive) writeMember(obj *Object) error {
	size, err := obj.Size()
	if err != nil {
		return err
	}

	name := obj.Name().BaseName()
	nameField := name + "/"
	var longName []byte
	if len(nameField) > 16 {
		longName = []byte(name)
		nameField = fmt.Sprintf("#1/%d", len(longName))
	}

	header := fmt.Sprintf("%-16s%-12d%-6d%-6d%-8o%-10d%s",
		nameField, 0, 0, 0, 0o644, size+int64(len(longName)), archiveFileMagic)
	if _, err := a.image.Write([]byte(header)); err != nil {
		return err
	}
	if len(longName) > 0 {
		if _, err := a.image.Write(longName); err != nil {
			return err
		}
	}

	data := make([]byte, size)
	if err := obj.SeekReadPayload(data); err != nil {
		return err
	}
	if _, err := a.image.Write(data); err != nil {
		return err
	}

	if (size+int64(len(longName)))%2 != 0 {
		if _, err := a.image.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	return nil
}
