// Package files manages the linker's view of the filesystem: object files,
// archives and the cache that indexes them.
package files

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rapld/rapld/pkg/ld"
)

// Name identifies an object file. A standalone object has an empty Archive;
// an archive member carries its byte offset and length within the archive.
type Name struct {
	Archive string
	Object  string
	Offset  int64
	Size    int64
}

// NewName names a standalone object on disk.
func NewName(path string) Name {
	return Name{Object: path}
}

// NewMemberName names an object inside an archive.
func NewMemberName(archive, object string, offset, size int64) Name {
	return Name{Archive: archive, Object: object, Offset: offset, Size: size}
}

// ParseName parses the "<path>[:<member>[@<offset>]]" grammar.
func ParseName(s string) (Name, error) {
	if s == "" {
		return Name{}, ld.MakeError(ld.ErrInvalidFileName, "files", "empty name")
	}

	path, rest, isMember := strings.Cut(s, ":")
	if !isMember {
		return NewName(path), nil
	}
	if path == "" || rest == "" {
		return Name{}, ld.MakeError(ld.ErrInvalidFileName, "files", "'%s'", s)
	}

	member, offstr, hasOffset := strings.Cut(rest, "@")
	n := Name{Archive: path, Object: member}
	if hasOffset {
		off, err := strconv.ParseInt(offstr, 10, 64)
		if err != nil || off < 0 {
			return Name{}, ld.MakeError(ld.ErrInvalidFileName, "files",
				"'%s': bad offset '%s'", s, offstr)
		}
		n.Offset = off
	}
	return n, nil
}

// IsMember reports whether the name refers into an archive.
func (n Name) IsMember() bool {
	return n.Archive != ""
}

// Path is the on-disk file the name lives in.
func (n Name) Path() string {
	if n.IsMember() {
		return n.Archive
	}
	return n.Object
}

// Full is the string form of the name, parseable by ParseName.
func (n Name) Full() string {
	if !n.IsMember() {
		return n.Object
	}
	return fmt.Sprintf("%s:%s@%d", n.Archive, n.Object, n.Offset)
}

// BaseName is the display name: the base of the member name for archive
// members, of the file path otherwise.
func (n Name) BaseName() string {
	return filepath.Base(n.Object)
}

func (n Name) String() string {
	return n.Full()
}
