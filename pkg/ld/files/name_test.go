package files

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapld/rapld/pkg/ld"
)

func TestParseName_Standalone(t *testing.T) {
	n, err := ParseName("build/a.o")
	require.NoError(t, err)

	assert.False(t, n.IsMember())
	assert.Equal(t, "build/a.o", n.Path())
	assert.Equal(t, "build/a.o", n.Full())
	assert.Equal(t, "a.o", n.BaseName())
	assert.Zero(t, n.Offset)
}

func TestParseName_ArchiveMember(t *testing.T) {
	n, err := ParseName("libfoo.a:bar.o@12345")
	require.NoError(t, err)

	assert.True(t, n.IsMember())
	assert.Equal(t, "libfoo.a", n.Archive)
	assert.Equal(t, "bar.o", n.Object)
	assert.Equal(t, int64(12345), n.Offset)
	assert.Equal(t, "libfoo.a", n.Path())
	assert.Equal(t, "bar.o", n.BaseName())
	assert.Equal(t, "libfoo.a:bar.o@12345", n.Full())
}

func TestParseName_MemberWithoutOffset(t *testing.T) {
	n, err := ParseName("libfoo.a:bar.o")
	require.NoError(t, err)
	assert.True(t, n.IsMember())
	assert.Zero(t, n.Offset)
}

func TestParseName_Invalid(t *testing.T) {
	for _, bad := range []string{"", ":", "a.a:", ":b.o", "a.a:b.o@xyz", "a.a:b.o@-3"} {
		_, err := ParseName(bad)
		assert.ErrorIs(t, err, ld.ErrInvalidFileName, "input %q", bad)
	}
}

func TestName_FullRoundTrip(t *testing.T) {
	orig := NewMemberName("libx.a", "deep/member.o", 4242, 100)
	parsed, err := ParseName(orig.Full())
	require.NoError(t, err)
	assert.Equal(t, orig.Archive, parsed.Archive)
	assert.Equal(t, orig.Object, parsed.Object)
	assert.Equal(t, orig.Offset, parsed.Offset)
}
