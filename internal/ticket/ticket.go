// Package ticket implements the host-side expression-ticket manager of
// §4.7: per-(SysId, ExprTicket) reference counting, with Move support and
// shallow inspection.
//
// Grounded on internal/buffers.RingBuffer's locking discipline (one
// mutex, never held across a blocking call — see the teacher's
// LOCKING.md) adapted from position/cursor bookkeeping to refcounting.
package ticket

import (
	"fmt"
	"sync"

	"github.com/orchid-lang/corex/internal/proto"
)

// Key identifies one ticket scoped to the system that holds the
// reference.
type Key struct {
	Sys    proto.SysId
	Ticket proto.ExprTicket
}

// Inspection is the result of an Inspect request (§4.7).
type Inspection struct {
	Kind     proto.ShallowKind
	Location proto.Location
	RefCount uint32
}

// Lookup resolves a ticket's shallow kind and source location; supplied
// by the host's expression store (outside this package's scope).
type Lookup func(tk proto.ExprTicket) (kind proto.ShallowKind, loc proto.Location, ok bool)

// AtomDropper is invoked once, with the ticket, when a ticket's last
// reference anywhere drops, so the host can emit AtomDrop notifications
// for the tracked atoms that expression carries (§4.7, §8 invariant: "AtomDrop is emitted
// iff the last reference to a carrying expression is released").
type AtomDropper func(tk proto.ExprTicket)

// Manager owns the host-side refcounts. All methods are safe for
// concurrent use; the mutex is never held while invoking AtomDropper or
// Lookup, both of which may do further work.
type Manager struct {
	mu      sync.Mutex
	refs    map[Key]uint32
	lookup  Lookup
	onEmpty AtomDropper

	diagnostics []string // last few double-release / unknown-release notes
}

const maxDiagnostics = 32

// NewManager constructs a ticket manager. lookup resolves shallow
// expression info for Inspect; onEmpty is called (outside the lock) when
// a ticket's global refcount reaches zero.
func NewManager(lookup Lookup, onEmpty AtomDropper) *Manager {
	return &Manager{
		refs:   make(map[Key]uint32),
		lookup: lookup,
		onEmpty: func(tk proto.ExprTicket) {
			if onEmpty != nil {
				onEmpty(tk)
			}
		},
	}
}

// Acquire increments the refcount for (sys, tk), inserting it if absent.
func (m *Manager) Acquire(sys proto.SysId, tk proto.ExprTicket) {
	m.mu.Lock()
	m.refs[Key{sys, tk}]++
	m.mu.Unlock()
}

// Release decrements the refcount for (sys, tk). If this was the last
// reference to tk across every system, onEmpty fires for tk once,
// outside the lock. A release with no matching entry is a diagnostic,
// not a panic, per §7's "double-release ... must not crash the host."
func (m *Manager) Release(sys proto.SysId, tk proto.ExprTicket) {
	key := Key{sys, tk}

	m.mu.Lock()
	n, ok := m.refs[key]
	if !ok || n == 0 {
		m.recordDiagnosticLocked(fmt.Sprintf("release of unknown/zero ticket sys=%d tk=%d", sys, tk))
		m.mu.Unlock()
		return
	}
	n--
	if n == 0 {
		delete(m.refs, key)
	} else {
		m.refs[key] = n
	}
	lastGlobal := n == 0 && !m.anyRemainingLocked(tk)
	m.mu.Unlock()

	if lastGlobal {
		m.onEmpty(tk)
	}
}

// anyRemainingLocked reports whether any system still holds a reference
// to tk. Callers must hold m.mu.
func (m *Manager) anyRemainingLocked(tk proto.ExprTicket) bool {
	for k, n := range m.refs {
		if k.Ticket == tk && n > 0 {
			return true
		}
	}
	return false
}

// Move atomically decrements dec's count and increments inc's count for
// the same ticket. The ticket must remain non-zero after the move (the
// caller is transferring, not creating, a reference); if dec has no
// outstanding reference this is a diagnostic, not a panic.
func (m *Manager) Move(dec, inc proto.SysId, tk proto.ExprTicket) {
	m.mu.Lock()
	defer m.mu.Unlock()

	decKey := Key{dec, tk}
	if n, ok := m.refs[decKey]; !ok || n == 0 {
		m.recordDiagnosticLocked(fmt.Sprintf("move from sys=%d with no reference to tk=%d", dec, tk))
	} else if n == 1 {
		delete(m.refs, decKey)
	} else {
		m.refs[decKey] = n - 1
	}
	m.refs[Key{inc, tk}]++
}

// Inspect returns the shallow kind, source location, and total refcount
// (summed across all systems) for tk.
func (m *Manager) Inspect(tk proto.ExprTicket) (Inspection, bool) {
	kind, loc, ok := m.lookup(tk)
	if !ok {
		return Inspection{}, false
	}

	m.mu.Lock()
	var total uint32
	for k, n := range m.refs {
		if k.Ticket == tk {
			total += n
		}
	}
	m.mu.Unlock()

	return Inspection{Kind: kind, Location: loc, RefCount: total}, true
}

// DropSystem releases every outstanding reference held by sys, as if the
// extension had sent one Release per ticket it still held — per §4.9's
// "Drop" rule: a system dropping with outstanding tickets is treated as
// releasing them all.
func (m *Manager) DropSystem(sys proto.SysId) {
	m.mu.Lock()
	var toDrop []Key
	for k := range m.refs {
		if k.Sys == sys {
			toDrop = append(toDrop, k)
		}
	}
	m.mu.Unlock()

	for _, k := range toDrop {
		// Release handles the global-count bookkeeping and onEmpty firing.
		for {
			m.mu.Lock()
			n, ok := m.refs[k]
			m.mu.Unlock()
			if !ok || n == 0 {
				break
			}
			m.Release(k.Sys, k.Ticket)
		}
	}
}

func (m *Manager) recordDiagnosticLocked(msg string) {
	if len(m.diagnostics) >= maxDiagnostics {
		m.diagnostics = m.diagnostics[1:]
	}
	m.diagnostics = append(m.diagnostics, msg)
}

// Diagnostics returns a copy of the recorded double-release/unknown-
// release notes, most recent last.
func (m *Manager) Diagnostics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.diagnostics))
	copy(out, m.diagnostics)
	return out
}

// Count returns the current refcount for (sys, tk), for tests and
// metrics.
func (m *Manager) Count(sys proto.SysId, tk proto.ExprTicket) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs[Key{sys, tk}]
}

// Live returns the number of distinct (sys, ticket) entries currently
// tracked, for the live-ticket-count metric.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refs)
}
