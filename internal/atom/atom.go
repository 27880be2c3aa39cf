// Package atom implements the extension-side atom kind registry of
// §4.6: a descriptor table keyed by wire kind index, and a generic
// owned-atom store for kinds whose data is a handle into a per-extension
// id-map rather than inline bytes.
//
// Grounded directly on the teacher's tool-dispatch-by-name shape
// (internal/bridge/timeout.go's ExtractToolAction feeding a flat
// `p.Name` switch in the MCP layer): an atom kind descriptor table keyed
// by uint64 plays the same role as that tool-name registry. The
// thin/owned split is grounded on internal/session's two registry
// shapes — inline snapshot state ("thin") versus a map keyed by a
// derived id ("owned", here OwnedStore).
package atom

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/orchid-lang/corex/internal/proto"
)

// Descriptor is the full set of operations an extension supplies for one
// atom kind (§4.6). CallRef and HandleReq may be nil if a kind never
// appears in those positions; Drop is nil for thin (untracked) kinds.
type Descriptor struct {
	Decode    func(data []byte) (fmt.Stringer, error)
	Call      func(ctx context.Context, data []byte, arg proto.ExprTicket) (proto.Expression, error)
	CallRef   func(ctx context.Context, data []byte, arg proto.ExprTicket) (proto.Expression, error)
	Same      func(a, b []byte) bool
	HandleReq func(ctx context.Context, data []byte, req io.Reader, rep io.Writer) error
	Drop      func(data []byte)
}

// Tracked reports whether this kind is the "owned" variant (requires an
// AtomDrop notification on last release).
func (d Descriptor) Tracked() bool { return d.Drop != nil }

// Registry dispatches by AtomWireKind to a registered Descriptor.
type Registry struct {
	mu    sync.RWMutex
	kinds map[proto.AtomWireKind]Descriptor
}

// NewRegistry constructs an empty kind registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[proto.AtomWireKind]Descriptor)}
}

// Register installs the descriptor for kind. Registering the same kind
// twice is a programming error (a miswritten registration table, never
// wire-triggerable) and panics.
func (r *Registry) Register(kind proto.AtomWireKind, d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[kind]; exists {
		panic(fmt.Sprintf("atom: kind %d registered twice", kind))
	}
	r.kinds[kind] = d
}

// Lookup returns the descriptor for kind, if registered.
func (r *Registry) Lookup(kind proto.AtomWireKind) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.kinds[kind]
	return d, ok
}

// Drop invokes the registered kind's Drop hook for data, if any (no-op
// for thin kinds or unknown kinds — an unknown kind at drop time is
// logged by the caller, not here).
func (r *Registry) Drop(kind proto.AtomWireKind, data []byte) bool {
	d, ok := r.Lookup(kind)
	if !ok || d.Drop == nil {
		return false
	}
	d.Drop(data)
	return true
}

// OwnedStore is the generic per-extension id-map backing the "owned"
// atom variant (§4.6): data on the wire is `{kind, id}`, and id indexes
// into this store for the kind's real, possibly non-serializable, state.
// Ids are monotonically increasing and never reused, matching the
// teacher's session-id derivation style (fresh ids, never recycled
// within a process lifetime).
type OwnedStore[T any] struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]T
}

// NewOwnedStore constructs an empty store for one atom kind's state.
func NewOwnedStore[T any]() *OwnedStore[T] {
	return &OwnedStore[T]{byID: make(map[uint64]T)}
}

// Insert stores value under a fresh id and returns it.
func (s *OwnedStore[T]) Insert(value T) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.byID[id] = value
	return id
}

// Get returns the value for id, if still present.
func (s *OwnedStore[T]) Get(id uint64) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byID[id]
	return v, ok
}

// Take removes and returns the value for id (the "FinalCall" / consuming
// path — the id must not be reused).
func (s *OwnedStore[T]) Take(id uint64) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
	}
	return v, ok
}

// Drop removes id without returning its value (the AtomDrop path).
// Reports whether id was present; a double-drop (id absent) is a caller
// diagnostic, not a panic here, matching §7's "double-release ...
// must not crash" policy applied to atoms.
func (s *OwnedStore[T]) Drop(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	delete(s.byID, id)
	return ok
}

// Len reports the number of live owned instances, for the live-atom-count
// metric.
func (s *OwnedStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
