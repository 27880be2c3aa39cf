// Package hierarchy implements the tagged-sum message taxonomy of §4.5:
// each registered node type sits in a rooted tree, supports a total
// up-cast to its root, and a partial down-cast from any ancestor.
//
// New engineering with no direct teacher analogue (the teacher has no
// nested variant taxonomy); grounded methodologically on the teacher's
// internal/mcp root-level `Method string` dispatch switch by generalizing
// "one flat switch at the root" into "one flat switch per node, chained
// from root to leaf."
package hierarchy

import "fmt"

// Node describes one type in the hierarchy: its own tag byte and,
// unless it is the root, the parent it is registered under.
type Node struct {
	name   string
	tag    byte
	parent *Node
}

// Tree is a registry of Nodes forming one rooted hierarchy. It is built
// once at init time and is safe for concurrent read-only use thereafter
// (Register is not safe to call concurrently with UpCast/DownCast).
type Tree struct {
	nodes map[string]*Node
}

// NewTree constructs an empty hierarchy.
func NewTree() *Tree {
	return &Tree{nodes: make(map[string]*Node)}
}

// RegisterRoot registers name as a root node (no parent, no leading tag
// byte of its own contributed by an up-cast through it).
func (t *Tree) RegisterRoot(name string) *Node {
	n := &Node{name: name}
	t.nodes[name] = n
	return n
}

// Register registers name as a child of parent, tagged with tag within
// parent's sum type. Registering the same tag twice under one parent is
// a programming error and panics, since it can only happen from a
// miswritten registration table, never from wire input.
func (t *Tree) Register(name string, tag byte, parent *Node) *Node {
	if parent == nil {
		panic(fmt.Sprintf("hierarchy: %q registered with nil parent", name))
	}
	for _, existing := range t.nodes {
		if existing.parent == parent && existing.tag == tag {
			panic(fmt.Sprintf("hierarchy: tag %d registered twice under %q", tag, parent.name))
		}
	}
	n := &Node{name: name, tag: tag, parent: parent}
	t.nodes[name] = n
	return n
}

// chain returns [n, parent(n), ..., root], i.e. child-to-root order.
func (n *Node) chain() []*Node {
	var out []*Node
	for cur := n; cur != nil; cur = cur.parent {
		out = append(out, cur)
	}
	return out
}

// UpCast wraps payload in one tag byte per ancestor, from n up to (but
// not including) the root, in root-to-leaf order — i.e. the byte for
// the node closest to the root is written first, so the result
// reads as a path from the root down to n. This is total: it always
// succeeds and allocates exactly one buffer.
func UpCast(n *Node, payload []byte) []byte {
	chain := n.chain() // n, parent, ..., root
	numTags := len(chain) - 1
	if numTags <= 0 {
		return payload
	}
	out := make([]byte, numTags+len(payload))
	// chain[numTags-1] is the root's direct child (tag closest to root);
	// chain[0] is n itself, tagged by its own parent edge.
	for i := 0; i < numTags; i++ {
		// chain[numTags-1-i] walks root-ward to leaf-ward.
		out[i] = chain[numTags-1-i].tag
	}
	copy(out[numTags:], payload)
	return out
}

// DownCast attempts to narrow payload, encoded relative to ancestor, down
// to target. It succeeds iff the leading tag bytes of payload exactly
// match the tag path from ancestor to target; on success it returns the
// remaining bytes and true. On failure it returns payload unchanged and
// false, so the caller may retry against a different target at the same
// ancestor. O(chain length); the result is a sub-slice of payload, with
// no copy of the payload bytes (the tag path itself is built per call).
func DownCast(ancestor, target *Node, payload []byte) ([]byte, bool) {
	path := pathFromAncestor(ancestor, target)
	if path == nil {
		return payload, false
	}
	if len(payload) < len(path) {
		return payload, false
	}
	for i, tag := range path {
		if payload[i] != tag {
			return payload, false
		}
	}
	return payload[len(path):], true
}

// pathFromAncestor returns the tag bytes from ancestor down to target,
// root-to-leaf order, or nil if ancestor is not on target's chain to the
// root.
func pathFromAncestor(ancestor, target *Node) []byte {
	chain := target.chain() // target, ..., root
	idx := -1
	for i, n := range chain {
		if n == ancestor {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	// chain[0..idx] is target..ancestor (exclusive of ancestor's own
	// tag, since ancestor is the starting point, not part of the path).
	path := make([]byte, idx)
	for i := 0; i < idx; i++ {
		path[i] = chain[idx-1-i].tag
	}
	return path
}

// Name returns the node's registered name, for diagnostics.
func (n *Node) Name() string { return n.name }
