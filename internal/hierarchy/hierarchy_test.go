package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// buildSample constructs Root -> A(tag=1) -> B(tag=2) -> C(tag=3),
// mirroring a HostExtReq -> AtomReq -> CallRef-style chain from §4.5/§9.
func buildSample(t *testing.T) (tree *Tree, root, a, b, c *Node) {
	t.Helper()
	tree = NewTree()
	root = tree.RegisterRoot("Root")
	a = tree.Register("A", 1, root)
	b = tree.Register("B", 2, a)
	c = tree.Register("C", 3, b)
	return tree, root, a, b, c
}

func TestUpCastPrefixesRootToLeafTagPath(t *testing.T) {
	_, _, _, _, c := buildSample(t)
	payload := []byte("payload")

	up := UpCast(c, payload)
	require.Equal(t, []byte{1, 2, 3}, up[:3])
	require.Equal(t, payload, up[3:])
}

func TestDownCastFromRootRecoversOriginalPayload(t *testing.T) {
	_, root, _, _, c := buildSample(t)
	payload := []byte("payload")
	up := UpCast(c, payload)

	rest, ok := DownCast(root, c, up)
	require.True(t, ok)
	require.Equal(t, payload, rest)
}

func TestDownCastFromIntermediateAncestor(t *testing.T) {
	_, _, a, _, c := buildSample(t)
	payload := []byte("xyz")
	up := UpCast(c, payload)

	// up is relative to root; strip the root->A tag manually to simulate
	// "we are already at A's sum type" (A's decoder has consumed tag 1).
	atA := up[1:]
	rest, ok := DownCast(a, c, atA)
	require.True(t, ok)
	require.Equal(t, payload, rest)
}

func TestDownCastWrongTargetFails(t *testing.T) {
	_, root, a, _, c := buildSample(t)
	payload := []byte("abc")
	up := UpCast(c, payload)

	rest, ok := DownCast(root, a, up)
	require.False(t, ok)
	require.Equal(t, up, rest, "on failure the input must be returned unchanged for retry")
}

func TestUpCastOfRootIsIdentity(t *testing.T) {
	_, root, _, _, _ := buildSample(t)
	payload := []byte("root-level")
	require.Equal(t, payload, UpCast(root, payload))
}

func TestDownCastRejectsShortPayload(t *testing.T) {
	_, root, _, _, c := buildSample(t)
	rest, ok := DownCast(root, c, []byte{1, 2})
	require.False(t, ok)
	require.Equal(t, []byte{1, 2}, rest)
}
