package system

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchid-lang/corex/internal/proto"
)

type fakeVfsReader struct {
	content map[string]VfsEntry
}

func (f *fakeVfsReader) VfsRead(ctx context.Context, sys proto.SysId, id proto.VfsId, path string) (VfsEntry, error) {
	if e, ok := f.content[path]; ok {
		return e, nil
	}
	return VfsEntry{Kind: VfsNotFound}, nil
}

func TestVfsDeclareIsIdempotent(t *testing.T) {
	tree := NewVfsTree()
	id1 := tree.Declare("lib/std.orc")
	id2 := tree.Declare("lib/std.orc")
	require.Equal(t, id1, id2)

	path, ok := tree.Path(id1)
	require.True(t, ok)
	require.Equal(t, "lib/std.orc", path)
}

func TestVfsReadReturnsSourceForKnownPath(t *testing.T) {
	tree := NewVfsTree()
	ext := &fakeVfsReader{content: map[string]VfsEntry{
		"lib/std.orc": {Kind: VfsSource, Source: "export foo"},
	}}

	entry, err := tree.Read(context.Background(), ext, 1, "lib/std.orc")
	require.NoError(t, err)
	require.Equal(t, VfsSource, entry.Kind)
	require.Equal(t, "export foo", entry.Source)
}

func TestVfsReadReturnsNotFoundForUnknownPath(t *testing.T) {
	tree := NewVfsTree()
	ext := &fakeVfsReader{content: map[string]VfsEntry{}}

	entry, err := tree.Read(context.Background(), ext, 1, "missing.orc")
	require.NoError(t, err)
	require.Equal(t, VfsNotFound, entry.Kind)
}
