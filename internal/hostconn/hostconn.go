// Package hostconn is the glue between internal/mux's raw []byte
// request/response transport and the domain-level coordinators defined
// in internal/driver, internal/system, internal/ticket and
// internal/intern. Router implements the host's outbound half (every
// interface the host calls an extension through); Server implements the
// host's inbound half (every request/notification an extension can send
// the host), dispatching each §6 ExtHostReq variant to the coordinator
// that owns it.
//
// Grounded on the teacher's bridgeForwardRequest
// (cmd/dev-console/bridge_forward.go) for the shape of "encode a typed
// request, issue it over the live connection, decode the typed
// response," generalized from one fixed daemon call to every §6
// variant.
package hostconn

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/orchid-lang/corex/internal/codec"
	"github.com/orchid-lang/corex/internal/driver"
	"github.com/orchid-lang/corex/internal/intern"
	"github.com/orchid-lang/corex/internal/metrics"
	"github.com/orchid-lang/corex/internal/mux"
	"github.com/orchid-lang/corex/internal/orcherr"
	"github.com/orchid-lang/corex/internal/proto"
	"github.com/orchid-lang/corex/internal/system"
	"github.com/orchid-lang/corex/internal/ticket"
)

func encode(fn func(*codec.Writer) error) ([]byte, error) {
	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	if err := fn(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode[T any](b []byte, fn func(*codec.Reader) (T, error)) (T, error) {
	r := codec.NewReader(bytes.NewReader(b))
	return fn(r)
}

// Router is the host's outbound half: it satisfies system.ExtSystemLink,
// driver.ExtLexer, driver.ExtMacroApplier and driver.ExtParser by
// encoding the call as a HostExtReq and issuing it over whichever
// connection owns the target extension or system.
type Router struct {
	mu      sync.Mutex
	byExt   map[system.ExtensionID]*mux.Mux
	bySys   map[proto.SysId]system.ExtensionID
	metrics *metrics.Registry
}

// NewRouter constructs an empty Router.
func NewRouter() *Router {
	return &Router{
		byExt: make(map[system.ExtensionID]*mux.Mux),
		bySys: make(map[proto.SysId]system.ExtensionID),
	}
}

// SetMetrics attaches reg so Router-initiated operations with no natural
// per-request outcome (e.g. a sweep cycle) can report their own counters
// alongside the request/response totals internal/mux already reports.
// reg may be nil, in which case Router methods skip reporting.
func (r *Router) SetMetrics(reg *metrics.Registry) {
	r.metrics = reg
}

// Add registers a live connection for ext. Call once per extension after
// internal/host.Supervisor.StartAll returns.
func (r *Router) Add(ext system.ExtensionID, m *mux.Mux) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExt[ext] = m
}

func (r *Router) muxForExt(ext system.ExtensionID) (*mux.Mux, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byExt[ext]
	if !ok {
		return nil, orcherr.Fatal(fmt.Errorf("hostconn: no connection registered for extension %q", ext))
	}
	return m, nil
}

func (r *Router) muxForSys(sys proto.SysId) (*mux.Mux, error) {
	r.mu.Lock()
	ext, ok := r.bySys[sys]
	r.mu.Unlock()
	if !ok {
		return nil, orcherr.Fatal(fmt.Errorf("hostconn: no owning extension recorded for system %d", sys))
	}
	return r.muxForExt(ext)
}

func toDriverFilter(cr []proto.CharRange) driver.LexFilter {
	out := make(driver.LexFilter, len(cr))
	for i, c := range cr {
		out[i] = driver.CharRange{Lo: c.Lo, Hi: c.Hi}
	}
	return out
}

func toDriverItem(it proto.ItemWire) driver.Item {
	switch it.Kind {
	case proto.WireItemLazy:
		return driver.Item{Kind: driver.ItemLazy, Lazy: driver.TreeId(it.Lazy)}
	default:
		return driver.Item{Kind: driver.ItemKind(it.Kind), Payload: it.Payload}
	}
}

func toSystemVfsEntry(e proto.VfsEntryWire) system.VfsEntry {
	switch e.Kind {
	case proto.WireVfsSource:
		return system.VfsEntry{Kind: system.VfsSource, Source: e.Source}
	case proto.WireVfsListing:
		return system.VfsEntry{Kind: system.VfsListing, Listing: e.Listing}
	default:
		return system.VfsEntry{Kind: system.VfsNotFound}
	}
}

// NewSystem implements system.ExtSystemLink: it asks ext to instantiate
// declID as id with depends already resolved, and remembers that id
// belongs to ext so later per-system calls (LexExpr, ApplyMacro, ...)
// route to the right connection.
func (r *Router) NewSystem(ctx context.Context, ext system.ExtensionID, declID proto.SysDeclId, id proto.SysId, depends []proto.SysId) (driver.LexFilter, error) {
	m, err := r.muxForExt(ext)
	if err != nil {
		return nil, err
	}

	payload, err := proto.EncodeHostExtReq(proto.HostExtReq{
		Tag:       proto.HostNewSystem,
		NewSystem: proto.NewSystemReq{DeclID: declID, ID: id, Depends: depends},
	})
	if err != nil {
		return nil, err
	}
	resp, err := m.Request(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("hostconn: NewSystem %q: %w", ext, err)
	}
	inst, err := decode(resp, proto.ReadSystemInst)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.bySys[id] = ext
	r.mu.Unlock()

	return toDriverFilter(inst.LexFilter), nil
}

// LexExpr implements driver.ExtLexer over the wire, translating
// LexExprResult's three-way Option<Result<LexedExpr>> shape into the
// interface's (lexed, domainErr, transportErr) triple.
func (r *Router) LexExpr(ctx context.Context, sys proto.SysId, id proto.ParsID, text string, pos uint32) (*driver.LexedExpr, *proto.OrcError, error) {
	m, err := r.muxForSys(sys)
	if err != nil {
		return nil, nil, err
	}
	payload, err := proto.EncodeHostExtReq(proto.HostExtReq{
		Tag:     proto.HostLexExpr,
		LexExpr: proto.LexExprReq{Sys: sys, ID: id, Text: text, Pos: pos},
	})
	if err != nil {
		return nil, nil, err
	}
	resp, err := m.Request(ctx, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("hostconn: LexExpr sys=%d: %w", sys, err)
	}
	res, err := decode(resp, proto.ReadLexExprResult)
	if err != nil {
		return nil, nil, err
	}
	if !res.Found {
		return nil, nil, nil
	}
	if res.Err != nil {
		return nil, res.Err, nil
	}
	return &driver.LexedExpr{Pos: res.Lexed.Pos, Expr: res.Lexed.Expr}, nil, nil
}

// ApplyMacro implements driver.ExtMacroApplier. The response is the
// macro expansion's raw body: §6 leaves its contents opaque to the core.
func (r *Router) ApplyMacro(ctx context.Context, sys proto.SysId, ruleID uint64, runID proto.RunID, params []byte) ([]byte, error) {
	m, err := r.muxForSys(sys)
	if err != nil {
		return nil, err
	}
	payload, err := proto.EncodeHostExtReq(proto.HostExtReq{
		Tag:        proto.HostApplyMacro,
		ApplyMacro: proto.ApplyMacroReq{Sys: sys, RuleID: ruleID, RunID: runID, Params: params},
	})
	if err != nil {
		return nil, err
	}
	resp, err := m.Request(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("hostconn: ApplyMacro sys=%d rule=%d: %w", sys, ruleID, err)
	}
	return resp, nil
}

// ParseLine implements driver.ExtParser.
func (r *Router) ParseLine(ctx context.Context, sys proto.SysId, line proto.Expression) ([]driver.Item, error) {
	m, err := r.muxForSys(sys)
	if err != nil {
		return nil, err
	}
	payload, err := proto.EncodeHostExtReq(proto.HostExtReq{
		Tag:       proto.HostParseLine,
		ParseLine: proto.ParseLineReq{Sys: sys, Line: line},
	})
	if err != nil {
		return nil, err
	}
	resp, err := m.Request(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("hostconn: ParseLine sys=%d: %w", sys, err)
	}
	res, err := decode(resp, proto.ReadParseLineResult)
	if err != nil {
		return nil, err
	}
	items := make([]driver.Item, len(res.Items))
	for i, it := range res.Items {
		items[i] = toDriverItem(it)
	}
	return items, nil
}

// GetMember implements driver.ExtParser.
func (r *Router) GetMember(ctx context.Context, sys proto.SysId, tree driver.TreeId) (driver.Item, error) {
	m, err := r.muxForSys(sys)
	if err != nil {
		return driver.Item{}, err
	}
	payload, err := proto.EncodeHostExtReq(proto.HostExtReq{
		Tag:       proto.HostGetMember,
		GetMember: proto.GetMemberReq{Sys: sys, Tree: uint64(tree)},
	})
	if err != nil {
		return driver.Item{}, err
	}
	resp, err := m.Request(ctx, payload)
	if err != nil {
		return driver.Item{}, fmt.Errorf("hostconn: GetMember sys=%d tree=%d: %w", sys, tree, err)
	}
	res, err := decode(resp, proto.ReadGetMemberResult)
	if err != nil {
		return driver.Item{}, err
	}
	return toDriverItem(res.Item), nil
}

// VfsRead implements system.ExtVfsReader: materialize one declared VFS
// handle's content through the extension owning sys (§4.9).
func (r *Router) VfsRead(ctx context.Context, sys proto.SysId, id proto.VfsId, path string) (system.VfsEntry, error) {
	m, err := r.muxForSys(sys)
	if err != nil {
		return system.VfsEntry{}, err
	}
	payload, err := proto.EncodeHostExtReq(proto.HostExtReq{
		Tag: proto.HostVfsReq,
		Vfs: proto.VfsReq{Tag: proto.VfsRead, Sys: sys, ID: id, Path: path},
	})
	if err != nil {
		return system.VfsEntry{}, err
	}
	resp, err := m.Request(ctx, payload)
	if err != nil {
		return system.VfsEntry{}, fmt.Errorf("hostconn: VfsRead sys=%d path=%q: %w", sys, path, err)
	}
	entry, err := decode(resp, proto.ReadVfsEntryWire)
	if err != nil {
		return system.VfsEntry{}, err
	}
	return toSystemVfsEntry(entry), nil
}

// Sweep issues HostExtReq::Sweep to ext, asking its interner replica to
// retain exactly the tokens in keep and drop everything else (§4.4). It
// blocks until the extension acknowledges eviction, per SweepReq's
// request (not notification) framing.
func (r *Router) Sweep(ctx context.Context, ext system.ExtensionID, keep []proto.StrToken) error {
	m, err := r.muxForExt(ext)
	if err != nil {
		return err
	}
	payload, err := proto.EncodeHostExtReq(proto.HostExtReq{
		Tag:   proto.HostSweep,
		Sweep: proto.SweepReq{Keep: keep},
	})
	if err != nil {
		return err
	}
	if _, err := m.Request(ctx, payload); err != nil {
		return fmt.Errorf("hostconn: Sweep %q: %w", ext, err)
	}
	if r.metrics != nil {
		r.metrics.SweepsTotal.Inc()
	}
	return nil
}

// callAtom issues an AtomReq whose reply is an Expression (the CallRef/
// FinalCall variants — §4.6's reducing calls).
func (r *Router) callAtom(ctx context.Context, sys proto.SysId, kind proto.AtomWireKind, data []byte, tag proto.AtomReqTag, arg proto.ExprTicket) (proto.Expression, error) {
	m, err := r.muxForSys(sys)
	if err != nil {
		return proto.Expression{}, err
	}
	payload, err := proto.EncodeHostExtReq(proto.HostExtReq{
		Tag:  proto.HostAtomReq,
		Atom: proto.AtomReq{Sys: sys, Kind: kind, Data: data, Tag: tag, Arg: arg},
	})
	if err != nil {
		return proto.Expression{}, err
	}
	resp, err := m.Request(ctx, payload)
	if err != nil {
		return proto.Expression{}, fmt.Errorf("hostconn: atom call sys=%d kind=%d: %w", sys, kind, err)
	}
	return decode(resp, proto.ReadExpression)
}

// CallRefAtom invokes the atom at (sys, kind, data) by reference with
// arg, without consuming the callee (§4.6's CallRef).
func (r *Router) CallRefAtom(ctx context.Context, sys proto.SysId, kind proto.AtomWireKind, data []byte, arg proto.ExprTicket) (proto.Expression, error) {
	return r.callAtom(ctx, sys, kind, data, proto.AtomCallRef, arg)
}

// FinalCallAtom invokes the atom at (sys, kind, data) with arg and
// consumes it (§4.6's FinalCall).
func (r *Router) FinalCallAtom(ctx context.Context, sys proto.SysId, kind proto.AtomWireKind, data []byte, arg proto.ExprTicket) (proto.Expression, error) {
	return r.callAtom(ctx, sys, kind, data, proto.AtomFinalCall, arg)
}

// atomBytes issues an AtomReq whose reply is opaque bytes (Fwded/Command
// bodies, and the print/serialize variants which carry no request body
// beyond kind/data).
func (r *Router) atomBytes(ctx context.Context, sys proto.SysId, kind proto.AtomWireKind, data []byte, tag proto.AtomReqTag, body []byte) ([]byte, error) {
	m, err := r.muxForSys(sys)
	if err != nil {
		return nil, err
	}
	payload, err := proto.EncodeHostExtReq(proto.HostExtReq{
		Tag:  proto.HostAtomReq,
		Atom: proto.AtomReq{Sys: sys, Kind: kind, Data: data, Tag: tag, Body: body},
	})
	if err != nil {
		return nil, err
	}
	resp, err := m.Request(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("hostconn: atom req tag=%d sys=%d kind=%d: %w", tag, sys, kind, err)
	}
	return resp, nil
}

// FwdAtom and CommandAtom forward an opaque, application-defined body to
// the atom at (sys, kind, data), returning its opaque reply unparsed
// (§4.6: Fwded/Command have no fixed meaning at this layer).
func (r *Router) FwdAtom(ctx context.Context, sys proto.SysId, kind proto.AtomWireKind, data, body []byte) ([]byte, error) {
	return r.atomBytes(ctx, sys, kind, data, proto.AtomFwded, body)
}

func (r *Router) CommandAtom(ctx context.Context, sys proto.SysId, kind proto.AtomWireKind, data, body []byte) ([]byte, error) {
	return r.atomBytes(ctx, sys, kind, data, proto.AtomCommand, body)
}

// PrintAtom asks the owning extension for the atom's printed
// representation (§4.6's AtomPrint).
func (r *Router) PrintAtom(ctx context.Context, sys proto.SysId, kind proto.AtomWireKind, data []byte) (string, error) {
	resp, err := r.atomBytes(ctx, sys, kind, data, proto.AtomPrint, nil)
	if err != nil {
		return "", err
	}
	return string(resp), nil
}

// SerializeAtom asks the owning extension to serialize the atom to bytes
// suitable for a later DeserAtom call (§4.6's AtomSerialize).
func (r *Router) SerializeAtom(ctx context.Context, sys proto.SysId, kind proto.AtomWireKind, data []byte) ([]byte, error) {
	return r.atomBytes(ctx, sys, kind, data, proto.AtomSerialize, nil)
}

// DeserAtom asks the extension owning sys to turn previously-serialized
// bytes for kind back into a fresh LocalAtom, returning its freshly
// assigned AtomId (the inverse of SerializeAtom, §6's DeserAtom).
func (r *Router) DeserAtom(ctx context.Context, sys proto.SysId, kind proto.AtomWireKind, data []byte) (proto.AtomId, error) {
	m, err := r.muxForSys(sys)
	if err != nil {
		return 0, err
	}
	payload, err := proto.EncodeHostExtReq(proto.HostExtReq{
		Tag:       proto.HostDeserAtom,
		DeserAtom: proto.DeserAtomReq{Sys: sys, Kind: kind, Data: data},
	})
	if err != nil {
		return 0, err
	}
	resp, err := m.Request(ctx, payload)
	if err != nil {
		return 0, fmt.Errorf("hostconn: DeserAtom sys=%d kind=%d: %w", sys, kind, err)
	}
	return decode(resp, proto.ReadAtomId)
}

// SysReq issues an opaque system-targeted request whose body is
// meaningful only to sys's owning extension, returning its opaque reply
// unparsed (§6: the core has no fixed shape for SysReq).
func (r *Router) SysReq(ctx context.Context, sys proto.SysId, body []byte) ([]byte, error) {
	m, err := r.muxForSys(sys)
	if err != nil {
		return nil, err
	}
	payload, err := proto.EncodeHostExtReq(proto.HostExtReq{
		Tag:    proto.HostSysReq,
		SysReq: proto.SysReqPayload{Sys: sys, Body: body},
	})
	if err != nil {
		return nil, err
	}
	resp, err := m.Request(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("hostconn: SysReq sys=%d: %w", sys, err)
	}
	return resp, nil
}

// NotifySystemDrop and NotifyAtomDrop send the host->ext drop
// notifications of §4.9/§4.6 to every connected extension: once a
// system or tracked atom is gone, every extension that might still hold
// a stale reference needs to hear about it, not just the one that owned
// it.
func (r *Router) NotifySystemDrop(sys proto.SysId) error {
	payload, err := encode(func(w *codec.Writer) error { return proto.WriteSystemDropNotif(w, proto.SystemDropNotif{Sys: sys}) })
	if err != nil {
		return err
	}
	return r.broadcast(payload)
}

func (r *Router) NotifyAtomDrop(sys proto.SysId, id proto.AtomId) error {
	payload, err := encode(func(w *codec.Writer) error {
		return proto.WriteAtomDropNotif(w, proto.AtomDropNotif{Sys: sys, ID: id})
	})
	if err != nil {
		return err
	}
	return r.broadcast(payload)
}

func (r *Router) broadcast(payload []byte) error {
	r.mu.Lock()
	conns := make([]*mux.Mux, 0, len(r.byExt))
	for _, m := range r.byExt {
		conns = append(conns, m)
	}
	r.mu.Unlock()

	for _, m := range conns {
		if err := m.Notify(payload); err != nil {
			return err
		}
	}
	return nil
}

// Server is the host's inbound half: the mux.NotificationHandler and
// mux.RequestHandler it registers for every extension connection
// (host.Handlers matches this shape). It dispatches each ExtHostReq
// variant to the coordinator that owns it.
type Server struct {
	log *zap.Logger

	Tickets *ticket.Manager
	Exprs   *ExprStore
	Lex     *driver.LexCoordinator
	Macro   *driver.MacroCoordinator
	Strings *intern.HostTable
	Systems *system.Manager

	// LexCandidates supplies, for an in-flight sub-lex, the candidate
	// systems to retry through the same driver.ExtLexer used for the
	// top-level Lex call; a sub-lex may legitimately be answered by a
	// different system than the one that started the outer lex.
	// cmd/orcx's session sets it to the top-level Lex call's candidates.
	LexCandidates func() []proto.SysId

	Router *Router

	// Metrics, if set, receives a CascadesTotal increment whenever
	// handleRunMacros answers a cascade with Found:false rather than
	// propagating the error. Nil skips reporting (e.g. in tests).
	Metrics *metrics.Registry
}

// NewServer constructs a Server. router may be nil if the host never
// needs to re-enter an extension while answering a request (e.g. a
// caller that only wires IntReq/ExprReq handling).
func NewServer(log *zap.Logger, tickets *ticket.Manager, exprs *ExprStore, lex *driver.LexCoordinator, macro *driver.MacroCoordinator, strings *intern.HostTable, router *Router) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{log: log, Tickets: tickets, Exprs: exprs, Lex: lex, Macro: macro, Strings: strings, Router: router}
}

// subLexOwner is the system credited with a sub-lexed expression's first
// reference when no more specific owner is known at this layer (the
// candidate that actually recognized the span is internal to
// driver.LexCoordinator.HandleSubLex and not returned to the caller).
const subLexOwner proto.SysId = 0

// HandlerFor matches internal/host.Handlers: every extension connection
// shares this Server's handling (the decoded request always identifies
// which system it targets, so no per-extension closure state is
// needed).
func (s *Server) HandlerFor(ext system.ExtensionID) (mux.NotificationHandler, mux.RequestHandler) {
	return s.Notification, s.Request
}

// Notification is the mux.NotificationHandler for one extension
// connection: the only inbound notification kind is ExprNotif, ticket
// Acquire/Release/Move bookkeeping (§4.7).
func (s *Server) Notification(payload []byte) {
	n, err := decode(payload, proto.ReadExprNotif)
	if err != nil {
		s.log.Error("hostconn: malformed ExprNotif", zap.Error(err))
		return
	}
	switch n.Tag {
	case proto.ExprAcquire:
		s.Tickets.Acquire(n.Sys, n.Ticket)
	case proto.ExprRelease:
		s.Tickets.Release(n.Sys, n.Ticket)
	case proto.ExprMove:
		s.Tickets.Move(n.Dec, n.Inc, n.Ticket)
	}
}

// Request is the mux.RequestHandler for one extension connection.
func (s *Server) Request(handle *mux.RequestHandle, payload []byte) {
	req, err := proto.DecodeExtHostReq(payload)
	if err != nil {
		s.log.Error("hostconn: malformed ExtHostReq", zap.Error(err))
		_ = handle.Reply(nil)
		return
	}

	ctx := context.Background()
	switch req.Tag {
	case proto.ExtPing:
		_ = handle.Reply(nil)
	case proto.ExtIntReq:
		s.handleIntReq(handle, req.IntReq)
	case proto.ExtExprReq:
		s.handleExprReq(handle, req.ExprReq)
	case proto.ExtSubLex:
		s.handleSubLex(ctx, handle, req.SubLex)
	case proto.ExtRunMacros:
		s.handleRunMacros(ctx, handle, req.RunMacros)
	case proto.ExtFwd, proto.ExtSysFwd:
		// Fwd/SysFwd bodies are opaque application commands with no
		// fixed meaning at this layer (§6); a host embedding orchid
		// supplies its own routing. The core has none, so it reports
		// a domain error rather than silently dropping the call.
		s.replyErr(handle, orcherr.Domain(fmt.Errorf("hostconn: no Fwd/SysFwd handler registered")))
	default:
		s.replyErr(handle, orcherr.Fatal(fmt.Errorf("hostconn: unexpected ExtHostReq tag %d", req.Tag)))
	}
}

func (s *Server) replyErr(handle *mux.RequestHandle, err error) {
	s.log.Error("hostconn: request failed", zap.Error(err))
	_ = handle.Reply(nil)
}

func (s *Server) handleIntReq(handle *mux.RequestHandle, q proto.IntReq) {
	var res proto.IntResult
	switch q.Tag {
	case proto.IntInternStr:
		res = proto.IntResult{Tag: q.Tag, Tok: s.Strings.InternStr(q.Str)}
	case proto.IntInternStrv:
		res = proto.IntResult{Tag: q.Tag, Tok: s.Strings.InternStrv(q.Strv)}
	case proto.IntExternStr:
		str, ok := s.Strings.ExternStr(q.Tok)
		if !ok {
			s.replyErr(handle, orcherr.Domain(fmt.Errorf("hostconn: unknown StrToken %d", q.Tok)))
			return
		}
		res = proto.IntResult{Tag: q.Tag, Str: str}
	case proto.IntExternStrv:
		strv, ok := s.Strings.ExternStrv(q.Tok)
		if !ok {
			s.replyErr(handle, orcherr.Domain(fmt.Errorf("hostconn: unknown StrToken %d", q.Tok)))
			return
		}
		res = proto.IntResult{Tag: q.Tag, Strv: strv}
	}
	payload, err := encode(func(w *codec.Writer) error { return proto.WriteIntResult(w, res) })
	if err != nil {
		s.replyErr(handle, err)
		return
	}
	_ = handle.Reply(payload)
}

func (s *Server) handleExprReq(handle *mux.RequestHandle, q proto.ExprReq) {
	insp, ok := s.Tickets.Inspect(q.Ticket)
	if !ok {
		s.replyErr(handle, orcherr.Domain(fmt.Errorf("hostconn: unknown ExprTicket %d", q.Ticket)))
		return
	}
	payload, err := encode(func(w *codec.Writer) error {
		return proto.WriteInspectResult(w, proto.InspectResult{Kind: insp.Kind, Location: insp.Location, RefCount: insp.RefCount})
	})
	if err != nil {
		s.replyErr(handle, err)
		return
	}
	_ = handle.Reply(payload)
}

func (s *Server) handleSubLex(ctx context.Context, handle *mux.RequestHandle, q proto.SubLexReq) {
	var candidates []proto.SysId
	if s.LexCandidates != nil {
		candidates = s.LexCandidates()
	}
	sub, err := s.Lex.HandleSubLex(ctx, s.Router, registrarFor(s.Exprs, s.Tickets, subLexOwner), candidates, q.ID, q.Pos)
	if err != nil {
		s.replyErr(handle, err)
		return
	}
	payload, err := encode(func(w *codec.Writer) error {
		return proto.WriteSubLexedWire(w, proto.SubLexedWire{Pos: sub.Pos, Ticket: sub.Ticket})
	})
	if err != nil {
		s.replyErr(handle, err)
		return
	}
	_ = handle.Reply(payload)
}

func (s *Server) handleRunMacros(ctx context.Context, handle *mux.RequestHandle, q proto.RunMacrosReq) {
	result, err := s.Macro.HandleRunMacros(ctx, q.RunID, q.Query)
	if err != nil {
		if orcherr.IsCascade(err) {
			if s.Metrics != nil {
				s.Metrics.CascadesTotal.Inc()
			}
			payload, encErr := encode(func(w *codec.Writer) error {
				return proto.WriteRunMacrosResult(w, proto.RunMacrosResult{Found: false})
			})
			if encErr != nil {
				s.replyErr(handle, encErr)
				return
			}
			_ = handle.Reply(payload)
			return
		}
		s.replyErr(handle, err)
		return
	}
	payload, err := encode(func(w *codec.Writer) error {
		return proto.WriteRunMacrosResult(w, proto.RunMacrosResult{Found: true, Result: result})
	})
	if err != nil {
		s.replyErr(handle, err)
		return
	}
	_ = handle.Reply(payload)
}

// ExprStore is the host's expression store: it hands out fresh
// ExprTickets and answers ticket.Manager's Lookup callback with each
// ticket's shallow kind and source location (§4.7). Kept in this
// package rather than internal/ticket itself because owning the actual
// Expression values is a driver-level concern (what LexExpr/SubLex
// produce), while internal/ticket only ever needs to ask about them.
type ExprStore struct {
	mu   sync.Mutex
	next proto.ExprTicket
	data map[proto.ExprTicket]proto.Expression
}

// NewExprStore constructs an empty store.
func NewExprStore() *ExprStore {
	return &ExprStore{data: make(map[proto.ExprTicket]proto.Expression)}
}

// Insert mints a fresh ticket for expr. Implements driver.ExprRegistrar.
func (s *ExprStore) Insert(expr proto.Expression) proto.ExprTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	tk := s.next
	s.data[tk] = expr
	return tk
}

// Lookup implements ticket.Lookup.
func (s *ExprStore) Lookup(tk proto.ExprTicket) (proto.ShallowKind, proto.Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expr, ok := s.data[tk]
	if !ok {
		return 0, proto.Location{}, false
	}
	return expr.Shallow(), expr.Location, true
}

// registrar adapts ExprStore into driver.ExprRegistrar, additionally
// acquiring the first reference on behalf of the system the
// registration happens for (§4.7: "a ticket is born with refcount 1,
// held by whichever system caused it to be registered").
type registrar struct {
	store   *ExprStore
	tickets *ticket.Manager
	owner   proto.SysId
}

func registrarFor(store *ExprStore, tickets *ticket.Manager, owner proto.SysId) driver.ExprRegistrar {
	return registrar{store: store, tickets: tickets, owner: owner}
}

func (r registrar) Register(expr proto.Expression) proto.ExprTicket {
	tk := r.store.Insert(expr)
	r.tickets.Acquire(r.owner, tk)
	return tk
}
