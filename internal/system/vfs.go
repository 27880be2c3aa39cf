package system

import (
	"context"
	"fmt"
	"sync"

	"github.com/orchid-lang/corex/internal/proto"
)

// VfsEntryKind classifies a VfsRead result.
type VfsEntryKind int

const (
	VfsSource VfsEntryKind = iota
	VfsListing
	VfsNotFound
)

// VfsEntry is the result of reading one VFS path.
type VfsEntry struct {
	Kind    VfsEntryKind
	Source  string   // valid when Kind == VfsSource
	Listing []string // valid when Kind == VfsListing
}

// VfsTree is a system's eagerly-declared tree of names, whose leaves are
// lazy FS handles assigned a VfsId the first time they are reached.
// Grounded on internal/state/paths.go's resolution-order convention
// (env override -> XDG-like root -> fallback), generalized here from
// "fixed named directories" to "an arbitrary declared tree of named lazy
// handles," per SPEC_FULL.md §4.9.
type VfsTree struct {
	mu       sync.Mutex
	nextID   uint64
	handles  map[proto.VfsId]string // id -> declared path
	byPath   map[string]proto.VfsId
}

// NewVfsTree constructs an empty projection for one system.
func NewVfsTree() *VfsTree {
	return &VfsTree{handles: make(map[proto.VfsId]string), byPath: make(map[string]proto.VfsId)}
}

// Declare registers path as reachable within the tree, returning its
// VfsId (assigning a fresh one on first declaration, returning the
// existing one on re-declaration).
func (t *VfsTree) Declare(path string) proto.VfsId {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byPath[path]; ok {
		return id
	}
	t.nextID++
	id := proto.VfsId(t.nextID)
	t.handles[id] = path
	t.byPath[path] = id
	return id
}

// Path returns the declared path for id, if known.
func (t *VfsTree) Path(id proto.VfsId) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.handles[id]
	return p, ok
}

// ExtVfsReader is how the host asks an extension to materialize one
// declared handle's content.
type ExtVfsReader interface {
	VfsRead(ctx context.Context, sys proto.SysId, id proto.VfsId, path string) (VfsEntry, error)
}

// Read reads one system's VFS handle through ext, resolving
// path to a VfsId first (declaring it if not already known — the tree is
// "eager" in its structure but lazy in materialized content).
func (t *VfsTree) Read(ctx context.Context, ext ExtVfsReader, sys proto.SysId, path string) (VfsEntry, error) {
	id := t.Declare(path)
	entry, err := ext.VfsRead(ctx, sys, id, path)
	if err != nil {
		return VfsEntry{}, fmt.Errorf("system: VfsRead sys=%d path=%q: %w", sys, path, err)
	}
	return entry, nil
}
