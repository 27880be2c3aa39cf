// This file defines the concrete request and notification vocabulary of
// §6: the two root message types (HostExtReq, sent host→ext; ExtHostReq,
// sent ext→host) and the notification types each direction sends. Two
// of the root's variants — AtomReq (host→ext) and IntReq (ext→host) —
// are themselves standalone sum types reused elsewhere (§4.6's atom
// registry decodes AtomReq on its own), so they are registered in
// internal/hierarchy's MsgTree and embedded via UpCast/DownCast rather
// than re-declared inline, per §9's "ad-hoc extensibility of message
// enums" design note: a neutral implementation defines each layer as an
// independent tagged sum and generates total up-casts / partial
// down-casts between them.
package proto

import (
	"bytes"
	"fmt"

	"github.com/orchid-lang/corex/internal/codec"
	"github.com/orchid-lang/corex/internal/hierarchy"
)

// encodeWith runs fn over a fresh in-memory Writer and returns the bytes
// produced. decodeWith is its mirror for a slice previously produced by
// encodeWith or EncodeHostExtReq/EncodeExtHostReq. Every request type in
// this file is exchanged as a []byte mux.Mux payload rather than a raw
// io.Reader/io.Writer pair, so these two helpers are the seam between
// the stream-oriented internal/codec API and that payload shape.
func encodeWith(fn func(*codec.Writer) error) ([]byte, error) {
	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	if err := fn(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeWith[T any](b []byte, fn func(*codec.Reader) (T, error)) (T, error) {
	r := codec.NewReader(bytes.NewReader(b))
	return fn(r)
}

// MsgTree is the process-wide hierarchy of nested request sums. Built
// once at package init; safe for concurrent UpCast/DownCast thereafter.
var MsgTree = hierarchy.NewTree()

var (
	hostExtReqRoot = MsgTree.RegisterRoot("HostExtReq")
	extHostReqRoot = MsgTree.RegisterRoot("ExtHostReq")

	atomReqNode = MsgTree.Register("AtomReq", byte(HostAtomReq), hostExtReqRoot)
	intReqNode  = MsgTree.Register("IntReq", byte(ExtIntReq), extHostReqRoot)
)

// HostExtReqTag discriminates the host→ext request sum (§6).
type HostExtReqTag uint8

const (
	HostPing HostExtReqTag = iota
	HostNewSystem
	HostSysReq
	HostSweep
	HostAtomReq
	HostDeserAtom
	HostLexExpr
	HostParseLine
	HostGetMember
	HostVfsReq
	HostApplyMacro
)

// NewSystemReq is the payload of HostExtReq::NewSystem: instantiate
// declID as SysId id, with depends already resolved to their assigned
// instance ids in declaration order (§4.9).
type NewSystemReq struct {
	DeclID  SysDeclId
	ID      SysId
	Depends []SysId
}

func WriteNewSystemReq(w *codec.Writer, r NewSystemReq) error {
	if err := WriteSysDeclId(w, r.DeclID); err != nil {
		return err
	}
	if err := WriteSysId(w, r.ID); err != nil {
		return err
	}
	return codec.WriteSeq(w, r.Depends, WriteSysId)
}

func ReadNewSystemReq(r *codec.Reader) (NewSystemReq, error) {
	declID, err := ReadSysDeclId(r)
	if err != nil {
		return NewSystemReq{}, err
	}
	id, err := ReadSysId(r)
	if err != nil {
		return NewSystemReq{}, err
	}
	deps, err := codec.ReadSeq(r, 1<<12, ReadSysId)
	if err != nil {
		return NewSystemReq{}, err
	}
	return NewSystemReq{DeclID: declID, ID: id, Depends: deps}, nil
}

// SystemInst is the response to NewSystem: the instantiated system's
// lex_filter, a flat sequence of (lo, hi) rune pairs.
type SystemInst struct {
	LexFilter []CharRange
}

// CharRange mirrors internal/driver.CharRange on the wire without
// importing internal/driver from proto (proto sits below driver).
type CharRange struct{ Lo, Hi rune }

func WriteSystemInst(w *codec.Writer, s SystemInst) error {
	return codec.WriteSeq(w, s.LexFilter, func(w *codec.Writer, cr CharRange) error {
		if err := w.WriteU32(uint32(cr.Lo)); err != nil {
			return err
		}
		return w.WriteU32(uint32(cr.Hi))
	})
}

func ReadSystemInst(r *codec.Reader) (SystemInst, error) {
	ranges, err := codec.ReadSeq(r, 1<<16, func(r *codec.Reader) (CharRange, error) {
		lo, err := r.ReadU32()
		if err != nil {
			return CharRange{}, err
		}
		hi, err := r.ReadU32()
		if err != nil {
			return CharRange{}, err
		}
		return CharRange{Lo: rune(lo), Hi: rune(hi)}, nil
	})
	if err != nil {
		return SystemInst{}, err
	}
	return SystemInst{LexFilter: ranges}, nil
}

// LexExprReq is the payload of HostExtReq::LexExpr (§4.8 scenario 5).
type LexExprReq struct {
	Sys  SysId
	ID   ParsID
	Text string
	Pos  uint32
}

func WriteLexExprReq(w *codec.Writer, q LexExprReq) error {
	if err := WriteSysId(w, q.Sys); err != nil {
		return err
	}
	if err := WriteParsID(w, q.ID); err != nil {
		return err
	}
	if err := w.WriteString(q.Text); err != nil {
		return err
	}
	return w.WriteU32(q.Pos)
}

func ReadLexExprReq(r *codec.Reader) (LexExprReq, error) {
	sys, err := ReadSysId(r)
	if err != nil {
		return LexExprReq{}, err
	}
	id, err := ReadParsID(r)
	if err != nil {
		return LexExprReq{}, err
	}
	text, err := r.ReadString(1 << 20)
	if err != nil {
		return LexExprReq{}, err
	}
	pos, err := r.ReadU32()
	if err != nil {
		return LexExprReq{}, err
	}
	return LexExprReq{Sys: sys, ID: id, Text: text, Pos: pos}, nil
}

// LexedExprWire is the payload of a successful LexExpr response.
type LexedExprWire struct {
	Pos  uint32
	Expr Expression
}

func WriteLexedExprWire(w *codec.Writer, l LexedExprWire) error {
	if err := w.WriteU32(l.Pos); err != nil {
		return err
	}
	return WriteExpression(w, l.Expr)
}

func ReadLexedExprWire(r *codec.Reader) (LexedExprWire, error) {
	pos, err := r.ReadU32()
	if err != nil {
		return LexedExprWire{}, err
	}
	expr, err := ReadExpression(r)
	if err != nil {
		return LexedExprWire{}, err
	}
	return LexedExprWire{Pos: pos, Expr: expr}, nil
}

// LexExprResult is `Option<Result<LexedExpr>>`: exactly one of Found is
// false, Err is non-nil, or Lexed is populated.
type LexExprResult struct {
	Found bool
	Err   *OrcError
	Lexed LexedExprWire
}

func WriteLexExprResult(w *codec.Writer, res LexExprResult) error {
	if !res.Found {
		return w.WriteU8(0)
	}
	if err := w.WriteU8(1); err != nil {
		return err
	}
	if res.Err != nil {
		if err := w.WriteU8(0); err != nil {
			return err
		}
		return WriteOrcError(w, *res.Err)
	}
	if err := w.WriteU8(1); err != nil {
		return err
	}
	return WriteLexedExprWire(w, res.Lexed)
}

func ReadLexExprResult(r *codec.Reader) (LexExprResult, error) {
	outer, err := r.ReadU8()
	if err != nil {
		return LexExprResult{}, err
	}
	if outer == 0 {
		return LexExprResult{Found: false}, nil
	}
	inner, err := r.ReadU8()
	if err != nil {
		return LexExprResult{}, err
	}
	if inner == 0 {
		oe, err := ReadOrcError(r)
		if err != nil {
			return LexExprResult{}, err
		}
		return LexExprResult{Found: true, Err: &oe}, nil
	}
	lexed, err := ReadLexedExprWire(r)
	if err != nil {
		return LexExprResult{}, err
	}
	return LexExprResult{Found: true, Lexed: lexed}, nil
}

// ApplyMacroReq is the payload of HostExtReq::ApplyMacro (§4.8).
type ApplyMacroReq struct {
	Sys    SysId
	RuleID uint64
	RunID  RunID
	Params []byte
}

func WriteApplyMacroReq(w *codec.Writer, q ApplyMacroReq) error {
	if err := WriteSysId(w, q.Sys); err != nil {
		return err
	}
	if err := w.WriteU64(q.RuleID); err != nil {
		return err
	}
	if err := WriteRunID(w, q.RunID); err != nil {
		return err
	}
	return w.WriteBytes(q.Params)
}

func ReadApplyMacroReq(r *codec.Reader) (ApplyMacroReq, error) {
	sys, err := ReadSysId(r)
	if err != nil {
		return ApplyMacroReq{}, err
	}
	ruleID, err := r.ReadU64()
	if err != nil {
		return ApplyMacroReq{}, err
	}
	runID, err := ReadRunID(r)
	if err != nil {
		return ApplyMacroReq{}, err
	}
	params, err := r.ReadBytes(1 << 20)
	if err != nil {
		return ApplyMacroReq{}, err
	}
	return ApplyMacroReq{Sys: sys, RuleID: ruleID, RunID: runID, Params: params}, nil
}

// VfsReqTag discriminates HostExtReq::VfsReq's own nested sum.
type VfsReqTag uint8

const (
	VfsGetVfs VfsReqTag = iota
	VfsRead
)

// VfsReq is `{GetVfs | VfsRead}` (§4.9).
type VfsReq struct {
	Tag  VfsReqTag
	Sys  SysId
	ID   VfsId  // meaningful for both variants
	Path string // meaningful only for VfsRead
}

func WriteVfsReq(w *codec.Writer, q VfsReq) error {
	if err := w.WriteTag(uint8(q.Tag)); err != nil {
		return err
	}
	if err := WriteSysId(w, q.Sys); err != nil {
		return err
	}
	if err := WriteVfsId(w, q.ID); err != nil {
		return err
	}
	switch q.Tag {
	case VfsGetVfs:
		return nil
	case VfsRead:
		return w.WriteString(q.Path)
	default:
		return &codec.ErrUnknownTag{Type: "VfsReq", Tag: uint8(q.Tag)}
	}
}

func ReadVfsReq(r *codec.Reader) (VfsReq, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return VfsReq{}, err
	}
	sys, err := ReadSysId(r)
	if err != nil {
		return VfsReq{}, err
	}
	id, err := ReadVfsId(r)
	if err != nil {
		return VfsReq{}, err
	}
	switch VfsReqTag(tag) {
	case VfsGetVfs:
		return VfsReq{Tag: VfsGetVfs, Sys: sys, ID: id}, nil
	case VfsRead:
		path, err := r.ReadString(1 << 16)
		if err != nil {
			return VfsReq{}, err
		}
		return VfsReq{Tag: VfsRead, Sys: sys, ID: id, Path: path}, nil
	default:
		return VfsReq{}, &codec.ErrUnknownTag{Type: "VfsReq", Tag: tag}
	}
}

// VfsEntryKindWire mirrors internal/system.VfsEntryKind on the wire,
// kept local to proto (like ItemKindWire/CharRange) to avoid a
// proto -> system import.
type VfsEntryKindWire uint8

const (
	WireVfsSource VfsEntryKindWire = iota
	WireVfsListing
	WireVfsNotFound
)

// VfsEntryWire is the response to HostExtReq::VfsReq: a materialized
// source body, a directory listing, or a not-found marker (§4.9).
type VfsEntryWire struct {
	Kind    VfsEntryKindWire
	Source  string
	Listing []string
}

func WriteVfsEntryWire(w *codec.Writer, e VfsEntryWire) error {
	if err := w.WriteTag(uint8(e.Kind)); err != nil {
		return err
	}
	switch e.Kind {
	case WireVfsSource:
		return w.WriteString(e.Source)
	case WireVfsListing:
		return codec.WriteSeq(w, e.Listing, func(w *codec.Writer, s string) error { return w.WriteString(s) })
	case WireVfsNotFound:
		return nil
	default:
		return &codec.ErrUnknownTag{Type: "VfsEntryWire", Tag: uint8(e.Kind)}
	}
}

func ReadVfsEntryWire(r *codec.Reader) (VfsEntryWire, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return VfsEntryWire{}, err
	}
	switch VfsEntryKindWire(tag) {
	case WireVfsSource:
		s, err := r.ReadString(1 << 24)
		if err != nil {
			return VfsEntryWire{}, err
		}
		return VfsEntryWire{Kind: WireVfsSource, Source: s}, nil
	case WireVfsListing:
		listing, err := codec.ReadSeq(r, 1<<16, func(r *codec.Reader) (string, error) { return r.ReadString(1 << 12) })
		if err != nil {
			return VfsEntryWire{}, err
		}
		return VfsEntryWire{Kind: WireVfsListing, Listing: listing}, nil
	case WireVfsNotFound:
		return VfsEntryWire{Kind: WireVfsNotFound}, nil
	default:
		return VfsEntryWire{}, &codec.ErrUnknownTag{Type: "VfsEntryWire", Tag: tag}
	}
}

// AtomReqTag discriminates the standalone AtomReq sum (§4.6, §6), which
// is also embedded as HostExtReq's AtomReq variant via hierarchy.UpCast.
type AtomReqTag uint8

const (
	AtomCallRef AtomReqTag = iota
	AtomFinalCall
	AtomFwded
	AtomCommand
	AtomPrint
	AtomSerialize
)

// AtomReq is `AtomReq { CallRef | FinalCall | Fwded | Command |
// AtomPrint | SerializeAtom }`. Arg is meaningful for CallRef/FinalCall;
// Body carries forwarded/command bytes for Fwded/Command, opaque to this
// package.
type AtomReq struct {
	Sys  SysId
	Kind AtomWireKind
	Data []byte
	Tag  AtomReqTag
	Arg  ExprTicket
	Body []byte
}

func writeAtomReqBody(w *codec.Writer, q AtomReq) error {
	if err := WriteSysId(w, q.Sys); err != nil {
		return err
	}
	if err := WriteAtomWireKind(w, q.Kind); err != nil {
		return err
	}
	if err := w.WriteBytes(q.Data); err != nil {
		return err
	}
	if err := w.WriteTag(uint8(q.Tag)); err != nil {
		return err
	}
	switch q.Tag {
	case AtomCallRef, AtomFinalCall:
		return WriteExprTicket(w, q.Arg)
	case AtomFwded, AtomCommand:
		return w.WriteBytes(q.Body)
	case AtomPrint, AtomSerialize:
		return nil
	default:
		return &codec.ErrUnknownTag{Type: "AtomReq", Tag: uint8(q.Tag)}
	}
}

func readAtomReqBody(r *codec.Reader) (AtomReq, error) {
	sys, err := ReadSysId(r)
	if err != nil {
		return AtomReq{}, err
	}
	kind, err := ReadAtomWireKind(r)
	if err != nil {
		return AtomReq{}, err
	}
	data, err := r.ReadBytes(maxAtomData)
	if err != nil {
		return AtomReq{}, err
	}
	tag, err := r.ReadTag()
	if err != nil {
		return AtomReq{}, err
	}
	q := AtomReq{Sys: sys, Kind: kind, Data: data, Tag: AtomReqTag(tag)}
	switch q.Tag {
	case AtomCallRef, AtomFinalCall:
		arg, err := ReadExprTicket(r)
		if err != nil {
			return AtomReq{}, err
		}
		q.Arg = arg
	case AtomFwded, AtomCommand:
		body, err := r.ReadBytes(1 << 20)
		if err != nil {
			return AtomReq{}, err
		}
		q.Body = body
	case AtomPrint, AtomSerialize:
	default:
		return AtomReq{}, &codec.ErrUnknownTag{Type: "AtomReq", Tag: tag}
	}
	return q, nil
}

// EncodeAtomReq serializes q as a standalone AtomReq value (its own sum,
// usable wherever §4.6 decodes an AtomReq directly).
func EncodeAtomReq(q AtomReq) ([]byte, error) {
	return encodeWith(func(w *codec.Writer) error { return writeAtomReqBody(w, q) })
}

// DecodeAtomReq decodes bytes previously produced by EncodeAtomReq.
func DecodeAtomReq(b []byte) (AtomReq, error) {
	return decodeWith(b, readAtomReqBody)
}

// UpcastAtomReq embeds an AtomReq's own encoding as the payload of
// HostExtReq's AtomReq variant, per §9: one flat switch per node,
// chained from root to leaf. The result already begins with HostExtReq's
// AtomReq tag byte (the node's registered tag), so EncodeHostExtReq
// returns it as is.
func UpcastAtomReq(encoded []byte) []byte {
	return hierarchy.UpCast(atomReqNode, encoded)
}

// DowncastAtomReq recovers an AtomReq's own bytes from a payload encoded
// relative to HostExtReq's root (i.e. starting with HostExtReq's own tag
// byte). Returns ok=false if payload's leading byte does not
// match AtomReq's registered tag.
func DowncastAtomReq(payload []byte) ([]byte, bool) {
	return hierarchy.DownCast(hostExtReqRoot, atomReqNode, payload)
}

// IntReqTag discriminates the standalone IntReq sum (§4.4, §6), embedded
// as ExtHostReq's IntReq variant the same way AtomReq embeds in
// HostExtReq.
type IntReqTag uint8

const (
	IntInternStr IntReqTag = iota
	IntInternStrv
	IntExternStr
	IntExternStrv
)

// IntReq is `IntReq { InternStr | InternStrv | ExternStr | ExternStrv }`
// (§4.4). Str/Strv hold the value being interned; Tok holds the token
// being resolved. Exactly the fields relevant to Tag are meaningful.
type IntReq struct {
	Tag  IntReqTag
	Str  string
	Strv []string
	Tok  StrToken
}

func writeIntReqBody(w *codec.Writer, q IntReq) error {
	if err := w.WriteTag(uint8(q.Tag)); err != nil {
		return err
	}
	switch q.Tag {
	case IntInternStr:
		return w.WriteString(q.Str)
	case IntInternStrv:
		return codec.WriteSeq(w, q.Strv, (*codec.Writer).WriteString)
	case IntExternStr, IntExternStrv:
		return WriteStrToken(w, q.Tok)
	default:
		return &codec.ErrUnknownTag{Type: "IntReq", Tag: uint8(q.Tag)}
	}
}

func readIntReqBody(r *codec.Reader) (IntReq, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return IntReq{}, err
	}
	q := IntReq{Tag: IntReqTag(tag)}
	switch q.Tag {
	case IntInternStr:
		s, err := r.ReadString(1 << 20)
		if err != nil {
			return IntReq{}, err
		}
		q.Str = s
	case IntInternStrv:
		sv, err := codec.ReadSeq(r, 1<<16, func(r *codec.Reader) (string, error) { return r.ReadString(1 << 20) })
		if err != nil {
			return IntReq{}, err
		}
		q.Strv = sv
	case IntExternStr, IntExternStrv:
		tok, err := ReadStrToken(r)
		if err != nil {
			return IntReq{}, err
		}
		q.Tok = tok
	default:
		return IntReq{}, &codec.ErrUnknownTag{Type: "IntReq", Tag: tag}
	}
	return q, nil
}

func EncodeIntReq(q IntReq) ([]byte, error) {
	return encodeWith(func(w *codec.Writer) error { return writeIntReqBody(w, q) })
}

func DecodeIntReq(b []byte) (IntReq, error) {
	return decodeWith(b, readIntReqBody)
}

func UpcastIntReq(encoded []byte) []byte {
	return hierarchy.UpCast(intReqNode, encoded)
}

func DowncastIntReq(payload []byte) ([]byte, bool) {
	return hierarchy.DownCast(extHostReqRoot, intReqNode, payload)
}

// SubLexReq is the payload of ExtHostReq::SubLex (§4.8 scenario 5): the
// extension asks the host to lex a sub-span of the same LexExpr call's
// text, scoped by the same ParsID.
type SubLexReq struct {
	ID  ParsID
	Pos uint32
}

func WriteSubLexReq(w *codec.Writer, q SubLexReq) error {
	if err := WriteParsID(w, q.ID); err != nil {
		return err
	}
	return w.WriteU32(q.Pos)
}

func ReadSubLexReq(r *codec.Reader) (SubLexReq, error) {
	id, err := ReadParsID(r)
	if err != nil {
		return SubLexReq{}, err
	}
	pos, err := r.ReadU32()
	if err != nil {
		return SubLexReq{}, err
	}
	return SubLexReq{ID: id, Pos: pos}, nil
}

// SubLexedWire is the successful response to SubLex.
type SubLexedWire struct {
	Pos    uint32
	Ticket ExprTicket
}

func WriteSubLexedWire(w *codec.Writer, s SubLexedWire) error {
	if err := w.WriteU32(s.Pos); err != nil {
		return err
	}
	return WriteExprTicket(w, s.Ticket)
}

func ReadSubLexedWire(r *codec.Reader) (SubLexedWire, error) {
	pos, err := r.ReadU32()
	if err != nil {
		return SubLexedWire{}, err
	}
	tk, err := ReadExprTicket(r)
	if err != nil {
		return SubLexedWire{}, err
	}
	return SubLexedWire{Pos: pos, Ticket: tk}, nil
}

// RunMacrosReq is the payload of ExtHostReq::RunMacros (§4.8 scenario 6).
type RunMacrosReq struct {
	RunID RunID
	Query []byte
}

func WriteRunMacrosReq(w *codec.Writer, q RunMacrosReq) error {
	if err := WriteRunID(w, q.RunID); err != nil {
		return err
	}
	return w.WriteBytes(q.Query)
}

func ReadRunMacrosReq(r *codec.Reader) (RunMacrosReq, error) {
	runID, err := ReadRunID(r)
	if err != nil {
		return RunMacrosReq{}, err
	}
	query, err := r.ReadBytes(1 << 20)
	if err != nil {
		return RunMacrosReq{}, err
	}
	return RunMacrosReq{RunID: runID, Query: query}, nil
}

// RunMacrosResult is `Option<...>`: Found=false is the no-rule-fires
// cascade trigger of scenario 6.
type RunMacrosResult struct {
	Found  bool
	Result []byte
}

func WriteRunMacrosResult(w *codec.Writer, res RunMacrosResult) error {
	if !res.Found {
		return w.WriteU8(0)
	}
	if err := w.WriteU8(1); err != nil {
		return err
	}
	return w.WriteBytes(res.Result)
}

func ReadRunMacrosResult(r *codec.Reader) (RunMacrosResult, error) {
	found, err := r.ReadU8()
	if err != nil {
		return RunMacrosResult{}, err
	}
	if found == 0 {
		return RunMacrosResult{}, nil
	}
	result, err := r.ReadBytes(1 << 20)
	if err != nil {
		return RunMacrosResult{}, err
	}
	return RunMacrosResult{Found: true, Result: result}, nil
}

// ExprNotifTag discriminates ext→host ExprNotif (§6): Acquire | Release |
// Move (§3, §4.7).
type ExprNotifTag uint8

const (
	ExprAcquire ExprNotifTag = iota
	ExprRelease
	ExprMove
)

// ExprNotif is one ticket-lifecycle notification. Dec/Inc are meaningful
// only for Move (§4.7: "Move(dec, inc, tk) atomically transfers one
// count from system dec to inc").
type ExprNotif struct {
	Tag    ExprNotifTag
	Sys    SysId
	Ticket ExprTicket
	Dec    SysId
	Inc    SysId
}

func WriteExprNotif(w *codec.Writer, n ExprNotif) error {
	if err := w.WriteTag(uint8(n.Tag)); err != nil {
		return err
	}
	switch n.Tag {
	case ExprAcquire, ExprRelease:
		if err := WriteSysId(w, n.Sys); err != nil {
			return err
		}
		return WriteExprTicket(w, n.Ticket)
	case ExprMove:
		if err := WriteSysId(w, n.Dec); err != nil {
			return err
		}
		if err := WriteSysId(w, n.Inc); err != nil {
			return err
		}
		return WriteExprTicket(w, n.Ticket)
	default:
		return &codec.ErrUnknownTag{Type: "ExprNotif", Tag: uint8(n.Tag)}
	}
}

func ReadExprNotif(r *codec.Reader) (ExprNotif, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return ExprNotif{}, err
	}
	n := ExprNotif{Tag: ExprNotifTag(tag)}
	switch n.Tag {
	case ExprAcquire, ExprRelease:
		sys, err := ReadSysId(r)
		if err != nil {
			return ExprNotif{}, err
		}
		tk, err := ReadExprTicket(r)
		if err != nil {
			return ExprNotif{}, err
		}
		n.Sys, n.Ticket = sys, tk
	case ExprMove:
		dec, err := ReadSysId(r)
		if err != nil {
			return ExprNotif{}, err
		}
		inc, err := ReadSysId(r)
		if err != nil {
			return ExprNotif{}, err
		}
		tk, err := ReadExprTicket(r)
		if err != nil {
			return ExprNotif{}, err
		}
		n.Dec, n.Inc, n.Ticket = dec, inc, tk
	default:
		return ExprNotif{}, &codec.ErrUnknownTag{Type: "ExprNotif", Tag: tag}
	}
	return n, nil
}

// SystemDropNotif, AtomDropNotif: host→ext notifications (§3, §4.9,
// §4.6). Each carries just enough to identify what is being dropped.
type SystemDropNotif struct{ Sys SysId }
type AtomDropNotif struct {
	Sys SysId
	ID  AtomId
}

func WriteSystemDropNotif(w *codec.Writer, n SystemDropNotif) error { return WriteSysId(w, n.Sys) }
func ReadSystemDropNotif(r *codec.Reader) (SystemDropNotif, error) {
	sys, err := ReadSysId(r)
	return SystemDropNotif{Sys: sys}, err
}

func WriteAtomDropNotif(w *codec.Writer, n AtomDropNotif) error {
	if err := WriteSysId(w, n.Sys); err != nil {
		return err
	}
	return WriteAtomId(w, n.ID)
}

func ReadAtomDropNotif(r *codec.Reader) (AtomDropNotif, error) {
	sys, err := ReadSysId(r)
	if err != nil {
		return AtomDropNotif{}, err
	}
	id, err := ReadAtomId(r)
	if err != nil {
		return AtomDropNotif{}, err
	}
	return AtomDropNotif{Sys: sys, ID: id}, nil
}

// SysReqPayload is HostExtReq::SysReq: a system-targeted request whose
// body is opaque to this package (the concrete shape belongs to
// whatever the system-specific extension exposes beyond the fixed §6
// vocabulary; the host only needs to route it to the right SysId).
type SysReqPayload struct {
	Sys  SysId
	Body []byte
}

func WriteSysReqPayload(w *codec.Writer, q SysReqPayload) error {
	if err := WriteSysId(w, q.Sys); err != nil {
		return err
	}
	return w.WriteBytes(q.Body)
}

func ReadSysReqPayload(r *codec.Reader) (SysReqPayload, error) {
	sys, err := ReadSysId(r)
	if err != nil {
		return SysReqPayload{}, err
	}
	body, err := r.ReadBytes(1 << 20)
	if err != nil {
		return SysReqPayload{}, err
	}
	return SysReqPayload{Sys: sys, Body: body}, nil
}

// SweepReq is HostExtReq::Sweep (§4.4): the host enumerates the tokens
// an extension's interner replica must retain; everything else the
// replica drops. It is modeled as a request (not a notification) per
// §6's request-set listing, so the host's sweep completes only once the
// extension has acknowledged eviction — satisfying §4.4's invariant that
// neither side may invalidate a listed token between sweep-start and
// sweep-acknowledgment.
type SweepReq struct {
	Keep []StrToken
}

func WriteSweepReq(w *codec.Writer, q SweepReq) error {
	return codec.WriteSeq(w, q.Keep, WriteStrToken)
}

func ReadSweepReq(r *codec.Reader) (SweepReq, error) {
	keep, err := codec.ReadSeq(r, 1<<20, ReadStrToken)
	if err != nil {
		return SweepReq{}, err
	}
	return SweepReq{Keep: keep}, nil
}

// DeserAtomReq is HostExtReq::DeserAtom: ask the owning extension to
// turn previously-serialized bytes for one atom kind back into a fresh
// LocalAtom (the inverse of AtomReq::SerializeAtom).
type DeserAtomReq struct {
	Sys  SysId
	Kind AtomWireKind
	Data []byte
}

func WriteDeserAtomReq(w *codec.Writer, q DeserAtomReq) error {
	if err := WriteSysId(w, q.Sys); err != nil {
		return err
	}
	if err := WriteAtomWireKind(w, q.Kind); err != nil {
		return err
	}
	return w.WriteBytes(q.Data)
}

func ReadDeserAtomReq(r *codec.Reader) (DeserAtomReq, error) {
	sys, err := ReadSysId(r)
	if err != nil {
		return DeserAtomReq{}, err
	}
	kind, err := ReadAtomWireKind(r)
	if err != nil {
		return DeserAtomReq{}, err
	}
	data, err := r.ReadBytes(maxAtomData)
	if err != nil {
		return DeserAtomReq{}, err
	}
	return DeserAtomReq{Sys: sys, Kind: kind, Data: data}, nil
}

// ParseLineReq/GetMemberReq are HostExtReq::ParseLine and ::GetMember
// (§4.8): turn one token line into item lists, or resolve a previously
// returned Lazy(TreeId) member.
type ParseLineReq struct {
	Sys  SysId
	Line Expression
}

func WriteParseLineReq(w *codec.Writer, q ParseLineReq) error {
	if err := WriteSysId(w, q.Sys); err != nil {
		return err
	}
	return WriteExpression(w, q.Line)
}

func ReadParseLineReq(r *codec.Reader) (ParseLineReq, error) {
	sys, err := ReadSysId(r)
	if err != nil {
		return ParseLineReq{}, err
	}
	line, err := ReadExpression(r)
	if err != nil {
		return ParseLineReq{}, err
	}
	return ParseLineReq{Sys: sys, Line: line}, nil
}

type GetMemberReq struct {
	Sys  SysId
	Tree uint64
}

func WriteGetMemberReq(w *codec.Writer, q GetMemberReq) error {
	if err := WriteSysId(w, q.Sys); err != nil {
		return err
	}
	return w.WriteU64(q.Tree)
}

func ReadGetMemberReq(r *codec.Reader) (GetMemberReq, error) {
	sys, err := ReadSysId(r)
	if err != nil {
		return GetMemberReq{}, err
	}
	tree, err := r.ReadU64()
	if err != nil {
		return GetMemberReq{}, err
	}
	return GetMemberReq{Sys: sys, Tree: tree}, nil
}

// HostExtReq is the root host→ext request sum (§6). For Tag ==
// HostAtomReq, Atom is the meaningful field and the wire encoding goes
// through UpcastAtomReq rather than a plain WriteTag, per the hierarchy
// embedding documented above AtomReq. Every other tag carries its
// payload in the correspondingly named field.
type HostExtReq struct {
	Tag       HostExtReqTag
	NewSystem NewSystemReq
	SysReq    SysReqPayload
	Sweep     SweepReq
	Atom      AtomReq
	DeserAtom DeserAtomReq
	LexExpr   LexExprReq
	ParseLine ParseLineReq
	GetMember GetMemberReq
	Vfs       VfsReq
	ApplyMacro ApplyMacroReq
}

// EncodeHostExtReq serializes q as a full HostExtReq wire message (the
// payload a mux.Mux request carries). HostAtomReq is embedded via
// hierarchy.UpCast so that a peer holding only the standalone AtomReq
// decoder (§4.6) can still make sense of it without re-decoding through
// this type.
func EncodeHostExtReq(q HostExtReq) ([]byte, error) {
	if q.Tag == HostAtomReq {
		atomBytes, err := EncodeAtomReq(q.Atom)
		if err != nil {
			return nil, err
		}
		return UpcastAtomReq(atomBytes), nil
	}
	return encodeWith(func(w *codec.Writer) error {
		if err := w.WriteTag(uint8(q.Tag)); err != nil {
			return err
		}
		switch q.Tag {
		case HostPing:
			return nil
		case HostNewSystem:
			return WriteNewSystemReq(w, q.NewSystem)
		case HostSysReq:
			return WriteSysReqPayload(w, q.SysReq)
		case HostSweep:
			return WriteSweepReq(w, q.Sweep)
		case HostDeserAtom:
			return WriteDeserAtomReq(w, q.DeserAtom)
		case HostLexExpr:
			return WriteLexExprReq(w, q.LexExpr)
		case HostParseLine:
			return WriteParseLineReq(w, q.ParseLine)
		case HostGetMember:
			return WriteGetMemberReq(w, q.GetMember)
		case HostVfsReq:
			return WriteVfsReq(w, q.Vfs)
		case HostApplyMacro:
			return WriteApplyMacroReq(w, q.ApplyMacro)
		default:
			return &codec.ErrUnknownTag{Type: "HostExtReq", Tag: uint8(q.Tag)}
		}
	})
}

// DecodeHostExtReq is EncodeHostExtReq's inverse. It peeks the leading
// byte to decide whether this is the hierarchy-embedded AtomReq variant
// (down-cast, no re-decode of the outer byte) or a flat variant (decoded
// through a fresh Reader over the remaining bytes).
func DecodeHostExtReq(b []byte) (HostExtReq, error) {
	if len(b) == 0 {
		return HostExtReq{}, fmt.Errorf("proto: empty HostExtReq payload")
	}
	if b[0] == byte(HostAtomReq) {
		rest, ok := DowncastAtomReq(b)
		if !ok {
			return HostExtReq{}, fmt.Errorf("proto: HostExtReq tag byte claims AtomReq but hierarchy down-cast failed")
		}
		atom, err := DecodeAtomReq(rest)
		if err != nil {
			return HostExtReq{}, err
		}
		return HostExtReq{Tag: HostAtomReq, Atom: atom}, nil
	}
	return decodeWith(b, func(r *codec.Reader) (HostExtReq, error) {
		tag, err := r.ReadTag()
		if err != nil {
			return HostExtReq{}, err
		}
		q := HostExtReq{Tag: HostExtReqTag(tag)}
		var err2 error
		switch q.Tag {
		case HostPing:
			return q, nil
		case HostNewSystem:
			q.NewSystem, err2 = ReadNewSystemReq(r)
		case HostSysReq:
			q.SysReq, err2 = ReadSysReqPayload(r)
		case HostSweep:
			q.Sweep, err2 = ReadSweepReq(r)
		case HostDeserAtom:
			q.DeserAtom, err2 = ReadDeserAtomReq(r)
		case HostLexExpr:
			q.LexExpr, err2 = ReadLexExprReq(r)
		case HostParseLine:
			q.ParseLine, err2 = ReadParseLineReq(r)
		case HostGetMember:
			q.GetMember, err2 = ReadGetMemberReq(r)
		case HostVfsReq:
			q.Vfs, err2 = ReadVfsReq(r)
		case HostApplyMacro:
			q.ApplyMacro, err2 = ReadApplyMacroReq(r)
		default:
			return HostExtReq{}, &codec.ErrUnknownTag{Type: "HostExtReq", Tag: tag}
		}
		if err2 != nil {
			return HostExtReq{}, err2
		}
		return q, nil
	})
}

// ExtHostReqTag discriminates the ext→host request sum (§6).
type ExtHostReqTag uint8

const (
	ExtPing ExtHostReqTag = iota
	ExtIntReq
	ExtFwd
	ExtSysFwd
	ExtExprReq
	ExtSubLex
	ExtRunMacros
)

// FwdReq is ExtHostReq::Fwd: an atom forwards a request to the host on
// its owning system's behalf (the reverse direction of AtomReq::Fwded).
type FwdReq struct {
	Sys  SysId
	Body []byte
}

func WriteFwdReq(w *codec.Writer, q FwdReq) error {
	if err := WriteSysId(w, q.Sys); err != nil {
		return err
	}
	return w.WriteBytes(q.Body)
}

func ReadFwdReq(r *codec.Reader) (FwdReq, error) {
	sys, err := ReadSysId(r)
	if err != nil {
		return FwdReq{}, err
	}
	body, err := r.ReadBytes(1 << 20)
	if err != nil {
		return FwdReq{}, err
	}
	return FwdReq{Sys: sys, Body: body}, nil
}

// SysFwdReq is ExtHostReq::SysFwd: the same idea at system granularity
// rather than per-atom.
type SysFwdReq = FwdReq

func WriteSysFwdReq(w *codec.Writer, q SysFwdReq) error { return WriteFwdReq(w, q) }
func ReadSysFwdReq(r *codec.Reader) (SysFwdReq, error)  { return ReadFwdReq(r) }

// ExprReq is ExtHostReq::ExprReq { Inspect }: the one inspection
// operation §6 defines for a ticket the extension is holding.
type ExprReq struct {
	Ticket ExprTicket
}

func WriteExprReq(w *codec.Writer, q ExprReq) error { return WriteExprTicket(w, q.Ticket) }
func ReadExprReq(r *codec.Reader) (ExprReq, error) {
	tk, err := ReadExprTicket(r)
	return ExprReq{Ticket: tk}, err
}

// InspectResult is the response to ExprReq{Inspect} (§4.7): the
// expression's shallow kind, source location, and current host-side
// refcount.
type InspectResult struct {
	Kind     ShallowKind
	Location Location
	RefCount uint32
}

func WriteInspectResult(w *codec.Writer, res InspectResult) error {
	if err := w.WriteTag(uint8(res.Kind)); err != nil {
		return err
	}
	if err := WriteLocation(w, res.Location); err != nil {
		return err
	}
	return w.WriteU32(res.RefCount)
}

func ReadInspectResult(r *codec.Reader) (InspectResult, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return InspectResult{}, err
	}
	loc, err := ReadLocation(r)
	if err != nil {
		return InspectResult{}, err
	}
	count, err := r.ReadU32()
	if err != nil {
		return InspectResult{}, err
	}
	return InspectResult{Kind: ShallowKind(tag), Location: loc, RefCount: count}, nil
}

// ExtHostReq is the root ext→host request sum. Tag == ExtIntReq embeds
// the standalone IntReq sum via hierarchy.UpCast, mirroring HostAtomReq
// above.
type ExtHostReq struct {
	Tag       ExtHostReqTag
	IntReq    IntReq
	Fwd       FwdReq
	SysFwd    SysFwdReq
	ExprReq   ExprReq
	SubLex    SubLexReq
	RunMacros RunMacrosReq
}

func EncodeExtHostReq(q ExtHostReq) ([]byte, error) {
	if q.Tag == ExtIntReq {
		intBytes, err := EncodeIntReq(q.IntReq)
		if err != nil {
			return nil, err
		}
		return UpcastIntReq(intBytes), nil
	}
	return encodeWith(func(w *codec.Writer) error {
		if err := w.WriteTag(uint8(q.Tag)); err != nil {
			return err
		}
		switch q.Tag {
		case ExtPing:
			return nil
		case ExtFwd:
			return WriteFwdReq(w, q.Fwd)
		case ExtSysFwd:
			return WriteSysFwdReq(w, q.SysFwd)
		case ExtExprReq:
			return WriteExprReq(w, q.ExprReq)
		case ExtSubLex:
			return WriteSubLexReq(w, q.SubLex)
		case ExtRunMacros:
			return WriteRunMacrosReq(w, q.RunMacros)
		default:
			return &codec.ErrUnknownTag{Type: "ExtHostReq", Tag: uint8(q.Tag)}
		}
	})
}

// IntResult is the host's reply to one IntReq (§4.4): which field is
// meaningful follows the same Tag the request carried, so a caller
// holding the original IntReqTag never has to guess which union arm the
// response fills in.
type IntResult struct {
	Tag  IntReqTag
	Tok  StrToken
	Str  string
	Strv []string
}

func WriteIntResult(w *codec.Writer, res IntResult) error {
	if err := w.WriteTag(uint8(res.Tag)); err != nil {
		return err
	}
	switch res.Tag {
	case IntInternStr, IntInternStrv:
		return WriteStrToken(w, res.Tok)
	case IntExternStr:
		return w.WriteString(res.Str)
	case IntExternStrv:
		return codec.WriteSeq(w, res.Strv, (*codec.Writer).WriteString)
	default:
		return &codec.ErrUnknownTag{Type: "IntResult", Tag: uint8(res.Tag)}
	}
}

func ReadIntResult(r *codec.Reader) (IntResult, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return IntResult{}, err
	}
	res := IntResult{Tag: IntReqTag(tag)}
	switch res.Tag {
	case IntInternStr, IntInternStrv:
		tok, err := ReadStrToken(r)
		if err != nil {
			return IntResult{}, err
		}
		res.Tok = tok
	case IntExternStr:
		s, err := r.ReadString(1 << 20)
		if err != nil {
			return IntResult{}, err
		}
		res.Str = s
	case IntExternStrv:
		sv, err := codec.ReadSeq(r, 1<<16, func(r *codec.Reader) (string, error) { return r.ReadString(1 << 20) })
		if err != nil {
			return IntResult{}, err
		}
		res.Strv = sv
	default:
		return IntResult{}, &codec.ErrUnknownTag{Type: "IntResult", Tag: tag}
	}
	return res, nil
}

// ItemKindWire mirrors internal/driver.ItemKind on the wire, kept local
// to proto for the same layering reason as CharRange above.
type ItemKindWire uint8

const (
	WireItemMember ItemKindWire = iota
	WireItemMacro
	WireItemExport
	WireItemImport
	WireItemLazy
)

// ItemWire is one parsed line item (§4.8): Payload carries the opaque
// encoded member/macro/export/import body for every kind but Lazy, which
// instead carries the TreeId a later GetMember call resolves.
type ItemWire struct {
	Kind    ItemKindWire
	Payload []byte
	Lazy    uint64
}

func WriteItemWire(w *codec.Writer, it ItemWire) error {
	if err := w.WriteTag(uint8(it.Kind)); err != nil {
		return err
	}
	if it.Kind == WireItemLazy {
		return w.WriteU64(it.Lazy)
	}
	return w.WriteBytes(it.Payload)
}

func ReadItemWire(r *codec.Reader) (ItemWire, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return ItemWire{}, err
	}
	it := ItemWire{Kind: ItemKindWire(tag)}
	if it.Kind == WireItemLazy {
		lazy, err := r.ReadU64()
		if err != nil {
			return ItemWire{}, err
		}
		it.Lazy = lazy
		return it, nil
	}
	payload, err := r.ReadBytes(1 << 20)
	if err != nil {
		return ItemWire{}, err
	}
	it.Payload = payload
	return it, nil
}

// ParseLineResult is the response to HostExtReq::ParseLine.
type ParseLineResult struct{ Items []ItemWire }

func WriteParseLineResult(w *codec.Writer, res ParseLineResult) error {
	return codec.WriteSeq(w, res.Items, WriteItemWire)
}

func ReadParseLineResult(r *codec.Reader) (ParseLineResult, error) {
	items, err := codec.ReadSeq(r, 1<<16, ReadItemWire)
	if err != nil {
		return ParseLineResult{}, err
	}
	return ParseLineResult{Items: items}, nil
}

// GetMemberResult is the response to HostExtReq::GetMember.
type GetMemberResult struct{ Item ItemWire }

func WriteGetMemberResult(w *codec.Writer, res GetMemberResult) error {
	return WriteItemWire(w, res.Item)
}

func ReadGetMemberResult(r *codec.Reader) (GetMemberResult, error) {
	it, err := ReadItemWire(r)
	if err != nil {
		return GetMemberResult{}, err
	}
	return GetMemberResult{Item: it}, nil
}

func DecodeExtHostReq(b []byte) (ExtHostReq, error) {
	if len(b) == 0 {
		return ExtHostReq{}, fmt.Errorf("proto: empty ExtHostReq payload")
	}
	if b[0] == byte(ExtIntReq) {
		rest, ok := DowncastIntReq(b)
		if !ok {
			return ExtHostReq{}, fmt.Errorf("proto: ExtHostReq tag byte claims IntReq but hierarchy down-cast failed")
		}
		ir, err := DecodeIntReq(rest)
		if err != nil {
			return ExtHostReq{}, err
		}
		return ExtHostReq{Tag: ExtIntReq, IntReq: ir}, nil
	}
	return decodeWith(b, func(r *codec.Reader) (ExtHostReq, error) {
		tag, err := r.ReadTag()
		if err != nil {
			return ExtHostReq{}, err
		}
		q := ExtHostReq{Tag: ExtHostReqTag(tag)}
		var err2 error
		switch q.Tag {
		case ExtPing:
			return q, nil
		case ExtFwd:
			q.Fwd, err2 = ReadFwdReq(r)
		case ExtSysFwd:
			q.SysFwd, err2 = ReadSysFwdReq(r)
		case ExtExprReq:
			q.ExprReq, err2 = ReadExprReq(r)
		case ExtSubLex:
			q.SubLex, err2 = ReadSubLexReq(r)
		case ExtRunMacros:
			q.RunMacros, err2 = ReadRunMacrosReq(r)
		default:
			return ExtHostReq{}, &codec.ErrUnknownTag{Type: "ExtHostReq", Tag: tag}
		}
		if err2 != nil {
			return ExtHostReq{}, err2
		}
		return q, nil
	})
}
