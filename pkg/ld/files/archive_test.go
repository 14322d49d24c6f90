package files

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapld/rapld/internal/objtest"
	"github.com/rapld/rapld/pkg/ld"
)

// writeObject drops a synthetic object file into dir and returns the
// standalone object for it.
func writeObject(t *testing.T, dir, name string, spec objtest.Spec) *Object {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, objtest.Build(spec), 0o644))
	return NewObject(path)
}

func memberPayload(t *testing.T, obj *Object) []byte {
	t.Helper()
	data := make([]byte, obj.Name().Size)
	require.NoError(t, obj.Open())
	defer obj.Close()
	require.NoError(t, obj.SeekReadPayload(data))
	return data
}

func TestArchive_CreateAndReload(t *testing.T) {
	dir := t.TempDir()

	a := writeObject(t, dir, "a.o", objtest.Spec{Text: []byte{1, 2, 3, 4}})
	b := writeObject(t, dir, "b.o", objtest.Spec{Text: []byte{5, 6, 7, 8, 9}})

	archPath := filepath.Join(dir, "libx.a")
	arch := NewArchive(archPath)
	require.NoError(t, arch.Create([]*Object{a, b}))

	reload := NewArchive(archPath)
	require.NoError(t, reload.Begin())
	defer reload.End()

	members, err := reload.LoadObjects()
	require.NoError(t, err)
	require.Len(t, members, 2)

	assert.Equal(t, "a.o", members[0].Name().Object)
	assert.Equal(t, "b.o", members[1].Name().Object)

	// Offsets and sizes recover the exact payload bytes.
	for i, orig := range []*Object{a, b} {
		origData, err := os.ReadFile(orig.Name().Path())
		require.NoError(t, err)
		assert.Equal(t, int64(len(origData)), members[i].Name().Size)
		assert.Equal(t, origData, memberPayload(t, members[i]))
	}
}

func TestArchive_LongNamesRoundTrip(t *testing.T) {
	dir := t.TempDir()

	longName := "a_very_long_member_name_indeed.o"
	obj := writeObject(t, dir, longName, objtest.Spec{})

	archPath := filepath.Join(dir, "liblong.a")
	arch := NewArchive(archPath)
	require.NoError(t, arch.Create([]*Object{obj}))

	reload := NewArchive(archPath)
	require.NoError(t, reload.Begin())
	defer reload.End()

	members, err := reload.LoadObjects()
	require.NoError(t, err)
	require.Len(t, members, 1)

	// The "#1/N" name bytes are not part of the payload.
	assert.Equal(t, longName, members[0].Name().Object)
	origData, err := os.ReadFile(obj.Name().Path())
	require.NoError(t, err)
	assert.Equal(t, origData, memberPayload(t, members[0]))
}

func TestArchive_GNULongNameTable(t *testing.T) {
	dir := t.TempDir()

	payload := objtest.Build(objtest.Spec{})
	longName := "another_quite_long_member.o"

	// Handcraft a GNU-style archive: a "//" long-name table followed by a
	// member whose name field references into it.
	nameTable := longName + "/\n"
	if len(nameTable)%2 != 0 {
		nameTable += "\n"
	}

	ar := []byte("!<arch>\n")
	ar = append(ar, []byte(fmt.Sprintf("%-16s%-12d%-6d%-6d%-8d%-10d`\n",
		"//", 0, 0, 0, 0, len(nameTable)))...)
	ar = append(ar, nameTable...)
	ar = append(ar, []byte(fmt.Sprintf("%-16s%-12d%-6d%-6d%-8d%-10d`\n",
		"/0", 0, 0, 0, 0, len(payload)))...)
	ar = append(ar, payload...)
	if len(payload)%2 != 0 {
		ar = append(ar, '\n')
	}

	archPath := filepath.Join(dir, "libgnu.a")
	require.NoError(t, os.WriteFile(archPath, ar, 0o644))

	arch := NewArchive(archPath)
	require.NoError(t, arch.Begin())
	defer arch.End()

	members, err := arch.LoadObjects()
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, longName, members[0].Name().Object)
	assert.Equal(t, payload, memberPayload(t, members[0]))
}

func TestArchive_RejectsNonArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not.a")
	require.NoError(t, os.WriteFile(path, []byte("this is not an archive at all"), 0o644))

	arch := NewArchive(path)
	require.NoError(t, arch.Begin())
	defer arch.End()

	_, err := arch.LoadObjects()
	assert.ErrorIs(t, err, ld.ErrNotArchive)
}

func TestArchive_MalformedHeaderFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.a")

	ar := []byte("!<arch>\n")
	ar = append(ar, []byte(fmt.Sprintf("%-16s%-12d%-6d%-6d%-8d%-10dXX",
		"a.o/", 0, 0, 0, 0, 4))...)
	ar = append(ar, 1, 2, 3, 4)
	require.NoError(t, os.WriteFile(path, ar, 0o644))

	arch := NewArchive(path)
	require.NoError(t, arch.Begin())
	defer arch.End()

	_, err := arch.LoadObjects()
	assert.ErrorIs(t, err, ld.ErrMalformedArchive)
}
