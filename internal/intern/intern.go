// Package intern implements the extension-side interner replica (§4.4):
// a local cache over host-issued string tokens, with reverse lookup and
// sweep-driven eviction.
//
// Grounded on internal/buffers.RingBuffer's fixed-capacity retention
// style for the sweep log, and on internal/session's registry-with-touch
// pattern (a map guarded by one mutex, entries created lazily on first
// use) for the cache itself.
package intern

import (
	"context"
	"fmt"
	"sync"

	"github.com/orchid-lang/corex/internal/proto"
)

// HostLink issues the host-bound IntReq variants (§6) when the local
// cache misses. A driver package wires this to a live mux.Mux; tests
// substitute a fake.
type HostLink interface {
	InternStr(ctx context.Context, s string) (proto.StrToken, error)
	InternStrv(ctx context.Context, ss []string) (proto.StrToken, error)
	ExternStr(ctx context.Context, tok proto.StrToken) (string, error)
	ExternStrv(ctx context.Context, tok proto.StrToken) ([]string, error)
}

// sweepRecord is one entry of the Interner's sweep log, which retains the
// last sweepLogCapacity sweep manifests for diagnostics, mirroring the
// teacher's RingBuffer-backed history buffers.
type sweepRecord struct {
	retained int
	dropped  int
}

const sweepLogCapacity = 16

// Interner caches host-authoritative string and string-sequence tokens.
// All fields are guarded by mu; there is no suspension point while mu is
// held (forward calls to HostLink happen outside the lock).
type Interner struct {
	host HostLink

	mu        sync.Mutex
	strToTok  map[string]proto.StrToken
	tokToStr  map[proto.StrToken]string
	seqToTok  map[string]proto.StrToken // joined-key cache for sequences
	tokToSeq  map[proto.StrToken][]string
	sweepLog  []sweepRecord
	sweepHead int

	// sweeping is true between a sweep-start notification and its
	// acknowledgment; while true neither intern() nor resolve() may
	// evict a listed token (§4.4 invariant).
	sweeping      bool
	sweepRetained map[proto.StrToken]struct{}
}

// New constructs an Interner backed by host.
func New(host HostLink) *Interner {
	return &Interner{
		host:     host,
		strToTok: make(map[string]proto.StrToken),
		tokToStr: make(map[proto.StrToken]string),
		seqToTok: make(map[string]proto.StrToken),
		tokToSeq: make(map[proto.StrToken][]string),
	}
}

// Intern returns the stable token for s, consulting the host on a local
// cache miss.
func (in *Interner) Intern(ctx context.Context, s string) (proto.StrToken, error) {
	in.mu.Lock()
	if tok, ok := in.strToTok[s]; ok {
		in.mu.Unlock()
		return tok, nil
	}
	in.mu.Unlock()

	tok, err := in.host.InternStr(ctx, s)
	if err != nil {
		return 0, fmt.Errorf("intern: InternStr: %w", err)
	}

	in.mu.Lock()
	in.strToTok[s] = tok
	in.tokToStr[tok] = s
	in.mu.Unlock()
	return tok, nil
}

// InternSeq returns the stable token for a string sequence.
func (in *Interner) InternSeq(ctx context.Context, ss []string) (proto.StrToken, error) {
	key := seqKey(ss)
	in.mu.Lock()
	if tok, ok := in.seqToTok[key]; ok {
		in.mu.Unlock()
		return tok, nil
	}
	in.mu.Unlock()

	tok, err := in.host.InternStrv(ctx, ss)
	if err != nil {
		return 0, fmt.Errorf("intern: InternStrv: %w", err)
	}

	in.mu.Lock()
	in.seqToTok[key] = tok
	in.tokToSeq[tok] = append([]string(nil), ss...)
	in.mu.Unlock()
	return tok, nil
}

// Resolve returns the string for tok, consulting the host on a local
// cache miss.
func (in *Interner) Resolve(ctx context.Context, tok proto.StrToken) (string, error) {
	in.mu.Lock()
	if s, ok := in.tokToStr[tok]; ok {
		in.mu.Unlock()
		return s, nil
	}
	in.mu.Unlock()

	s, err := in.host.ExternStr(ctx, tok)
	if err != nil {
		return "", fmt.Errorf("intern: ExternStr: %w", err)
	}

	in.mu.Lock()
	in.tokToStr[tok] = s
	in.strToTok[s] = tok
	in.mu.Unlock()
	return s, nil
}

// ResolveSeq returns the string sequence for tok, consulting the host on
// a local cache miss.
func (in *Interner) ResolveSeq(ctx context.Context, tok proto.StrToken) ([]string, error) {
	in.mu.Lock()
	if ss, ok := in.tokToSeq[tok]; ok {
		in.mu.Unlock()
		return append([]string(nil), ss...), nil
	}
	in.mu.Unlock()

	ss, err := in.host.ExternStrv(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("intern: ExternStrv: %w", err)
	}

	in.mu.Lock()
	in.tokToSeq[tok] = append([]string(nil), ss...)
	in.seqToTok[seqKey(ss)] = tok
	in.mu.Unlock()
	return ss, nil
}

// BeginSweep marks the start of a host-initiated sweep: retain lists the
// tokens the host wants kept. Between BeginSweep and EndSweep, Intern and
// Resolve still serve cache hits for retained tokens; anything not in
// retain becomes eligible for eviction once EndSweep runs.
func (in *Interner) BeginSweep(retain []proto.StrToken) {
	set := make(map[proto.StrToken]struct{}, len(retain))
	for _, t := range retain {
		set[t] = struct{}{}
	}
	in.mu.Lock()
	in.sweeping = true
	in.sweepRetained = set
	in.mu.Unlock()
}

// EndSweep drops every cached token not named in the most recent
// BeginSweep's retain list and records a manifest in the sweep log.
func (in *Interner) EndSweep() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.sweeping {
		return
	}

	dropped := 0
	for tok, s := range in.tokToStr {
		if _, keep := in.sweepRetained[tok]; !keep {
			delete(in.tokToStr, tok)
			delete(in.strToTok, s)
			dropped++
		}
	}
	for tok, ss := range in.tokToSeq {
		if _, keep := in.sweepRetained[tok]; !keep {
			delete(in.tokToSeq, tok)
			delete(in.seqToTok, seqKey(ss))
			dropped++
		}
	}

	retained := len(in.sweepRetained)
	in.recordSweep(sweepRecord{retained: retained, dropped: dropped})
	in.sweeping = false
	in.sweepRetained = nil
}

func (in *Interner) recordSweep(rec sweepRecord) {
	if len(in.sweepLog) < sweepLogCapacity {
		in.sweepLog = append(in.sweepLog, rec)
		return
	}
	in.sweepLog[in.sweepHead] = rec
	in.sweepHead = (in.sweepHead + 1) % sweepLogCapacity
}

// SweepHistory returns a copy of the retained sweep manifests, oldest
// first, for diagnostics.
func (in *Interner) SweepHistory() []sweepRecord {
	in.mu.Lock()
	defer in.mu.Unlock()
	// Once the log is full, sweepHead indexes the oldest record.
	out := make([]sweepRecord, 0, len(in.sweepLog))
	out = append(out, in.sweepLog[in.sweepHead:]...)
	out = append(out, in.sweepLog[:in.sweepHead]...)
	return out
}

// CacheSize reports the number of live string and sequence tokens, for
// the interner-cache-size metric (SPEC_FULL.md §2 ambient stack).
func (in *Interner) CacheSize() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.tokToStr) + len(in.tokToSeq)
}

// HostTable is the host-side authoritative counterpart to Interner: it
// issues fresh StrTokens on first sight of a string or sequence and
// answers the extension-side replica's cache misses (§4.4). Unlike
// Interner it never evicts on its own — Sweep only tells replicas what
// to drop locally, the host keeps every token for the system's
// lifetime — so it needs no sweep bookkeeping.
type HostTable struct {
	mu   sync.Mutex
	next proto.StrToken

	strToTok map[string]proto.StrToken
	tokToStr map[proto.StrToken]string
	seqToTok map[string]proto.StrToken
	tokToSeq map[proto.StrToken][]string
}

// NewHostTable constructs an empty table. Token 0 is never issued, so a
// zero StrToken can serve as a caller-side "unset" sentinel.
func NewHostTable() *HostTable {
	return &HostTable{
		strToTok: make(map[string]proto.StrToken),
		tokToStr: make(map[proto.StrToken]string),
		seqToTok: make(map[string]proto.StrToken),
		tokToSeq: make(map[proto.StrToken][]string),
	}
}

// InternStr returns s's stable token, minting a fresh one on first sight.
func (h *HostTable) InternStr(s string) proto.StrToken {
	h.mu.Lock()
	defer h.mu.Unlock()
	if tok, ok := h.strToTok[s]; ok {
		return tok
	}
	h.next++
	tok := h.next
	h.strToTok[s] = tok
	h.tokToStr[tok] = s
	return tok
}

// InternStrv returns ss's stable token, minting a fresh one on first
// sight of this exact sequence.
func (h *HostTable) InternStrv(ss []string) proto.StrToken {
	key := seqKey(ss)
	h.mu.Lock()
	defer h.mu.Unlock()
	if tok, ok := h.seqToTok[key]; ok {
		return tok
	}
	h.next++
	tok := h.next
	h.seqToTok[key] = tok
	h.tokToSeq[tok] = append([]string(nil), ss...)
	return tok
}

// ExternStr resolves a previously-issued token back to its string.
func (h *HostTable) ExternStr(tok proto.StrToken) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.tokToStr[tok]
	return s, ok
}

// ExternStrv resolves a previously-issued token back to its sequence.
func (h *HostTable) ExternStrv(tok proto.StrToken) ([]string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ss, ok := h.tokToSeq[tok]
	if !ok {
		return nil, false
	}
	return append([]string(nil), ss...), true
}

// Tokens returns every token currently live, for building a Sweep's keep
// list.
func (h *HostTable) Tokens() []proto.StrToken {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]proto.StrToken, 0, len(h.tokToStr)+len(h.tokToSeq))
	for tok := range h.tokToStr {
		out = append(out, tok)
	}
	for tok := range h.tokToSeq {
		out = append(out, tok)
	}
	return out
}

func seqKey(ss []string) string {
	// \x00 cannot appear in a valid UTF-8 element boundary collision
	// the way a plain join could; good enough for a cache key.
	out := make([]byte, 0, 16*len(ss))
	for _, s := range ss {
		out = append(out, s...)
		out = append(out, 0)
	}
	return string(out)
}
