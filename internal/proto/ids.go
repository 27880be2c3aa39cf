// Package proto defines the wire-level vocabulary shared by host and
// extension: identifiers, atoms, expressions, and the request/notification
// taxonomy from the protocol specification (§3, §6).
package proto

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/orchid-lang/corex/internal/codec"
)

// SysDeclId identifies a system *type* declared by an extension.
type SysDeclId uint16

// SysId identifies a system *instance*, assigned by the host.
type SysId uint16

// AtomId is a non-zero handle to a tracked atom, scoped to its owning
// extension.
type AtomId uint64

// ExprTicket is a non-zero handle to a host expression. IDs may be
// reused after release.
type ExprTicket uint64

// IsZero reports whether the ticket is the sentinel zero value (never a
// valid handle).
func (t ExprTicket) IsZero() bool { return t == 0 }

// VfsId identifies one lazy filesystem handle within a system's declared
// VFS tree.
type VfsId uint64

// StrToken is a host-issued stable token for an interned string or
// string sequence (§4.4).
type StrToken uint64

func WriteStrToken(w *codec.Writer, v StrToken) error { return w.WriteU64(uint64(v)) }
func ReadStrToken(r *codec.Reader) (StrToken, error) {
	v, err := r.ReadU64()
	return StrToken(v), err
}

// ParsID scopes one reentrant lex recursion. RunID scopes one top-level
// macro expansion. Both are represented as random 128-bit tokens rather
// than host-issued counters: lex and macro recursions are initiated by
// either side, so a token that needs no shared sequence avoids a
// cross-process counter entirely.
type ParsID uuid.UUID
type RunID uuid.UUID

func NewParsID() ParsID { return ParsID(uuid.New()) }
func NewRunID() RunID   { return RunID(uuid.New()) }

func (p ParsID) String() string { return uuid.UUID(p).String() }
func (r RunID) String() string  { return uuid.UUID(r).String() }

func WriteSysId(w *codec.Writer, v SysId) error       { return w.WriteU16(uint16(v)) }
func ReadSysId(r *codec.Reader) (SysId, error)        { v, err := r.ReadU16(); return SysId(v), err }
func WriteSysDeclId(w *codec.Writer, v SysDeclId) error {
	return w.WriteU16(uint16(v))
}
func ReadSysDeclId(r *codec.Reader) (SysDeclId, error) {
	v, err := r.ReadU16()
	return SysDeclId(v), err
}

func WriteAtomId(w *codec.Writer, v AtomId) error { return w.WriteU64(uint64(v)) }
func ReadAtomId(r *codec.Reader) (AtomId, error)  { v, err := r.ReadU64(); return AtomId(v), err }

func WriteExprTicket(w *codec.Writer, v ExprTicket) error { return w.WriteU64(uint64(v)) }
func ReadExprTicket(r *codec.Reader) (ExprTicket, error) {
	v, err := r.ReadU64()
	return ExprTicket(v), err
}

func WriteVfsId(w *codec.Writer, v VfsId) error { return w.WriteU64(uint64(v)) }
func ReadVfsId(r *codec.Reader) (VfsId, error)  { v, err := r.ReadU64(); return VfsId(v), err }

func WriteParsID(w *codec.Writer, v ParsID) error { return w.WriteUUID(uuid.UUID(v)) }
func ReadParsID(r *codec.Reader) (ParsID, error) {
	v, err := r.ReadUUID()
	return ParsID(v), err
}

func WriteRunID(w *codec.Writer, v RunID) error { return w.WriteUUID(uuid.UUID(v)) }
func ReadRunID(r *codec.Reader) (RunID, error) {
	v, err := r.ReadUUID()
	return RunID(v), err
}

// RequestID is the non-zero, strictly-increasing per-endpoint request
// identifier carried in the message tag (§3: 1 ≤ D < 2^63).
type RequestID uint64

const responseMask uint64 = 1 << 63

// TagForRequest and TagForResponse return the wire tag for a request
// (the ID itself) or a response (the ID with bit 63 set); a
// notification's tag is always 0.
func TagForRequest(id RequestID) uint64  { return uint64(id) }
func TagForResponse(id RequestID) uint64 { return uint64(id) | responseMask }

// ClassifyTag decodes a message tag into its kind and, for requests and
// responses, the request ID it correlates to.
type TagKind int

const (
	TagNotification TagKind = iota
	TagRequest
	TagResponse
)

func ClassifyTag(tag uint64) (TagKind, RequestID) {
	switch {
	case tag == 0:
		return TagNotification, 0
	case tag < responseMask:
		return TagRequest, RequestID(tag)
	default:
		return TagResponse, RequestID(tag &^ responseMask)
	}
}

func (k TagKind) String() string {
	switch k {
	case TagNotification:
		return "notification"
	case TagRequest:
		return "request"
	case TagResponse:
		return "response"
	default:
		return fmt.Sprintf("TagKind(%d)", int(k))
	}
}
