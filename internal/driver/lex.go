// Package driver implements the three reentrant remote-call patterns of
// §4.8: lexing (LexExpr/SubLex), parsing (ParseLine/GetMember), and macro
// expansion (ApplyMacro/RunMacros). All three share one shape: the host
// calls into an extension, and the extension may call back into the host
// before replying, scoped by an explicit correlation token (ParsID or
// RunID) rather than task-local state.
//
// Grounded on the teacher's bridgeForwardRequest
// (cmd/dev-console/bridge_forward.go), which itself performs a further
// round trip (daemon respawn + retry) before completing its own reply;
// generalized here from "one forward hop, maybe one retry hop" to
// "arbitrarily nested hops scoped by an explicit id", per SPEC_FULL.md
// §9's instruction to thread id/run_id explicitly.
package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/orchid-lang/corex/internal/orcherr"
	"github.com/orchid-lang/corex/internal/proto"
)

// CharRange is an inclusive rune range, one element of a lex_filter.
type CharRange struct {
	Lo, Hi rune
}

// LexFilter is a normalized union of character ranges a system uses to
// claim interest in a source position's first character.
type LexFilter []CharRange

// Matches reports whether r falls in any range of f.
func (f LexFilter) Matches(r rune) bool {
	for _, cr := range f {
		if r >= cr.Lo && r <= cr.Hi {
			return true
		}
	}
	return false
}

// LexedExpr is the successful result of a LexExpr call: the new cursor
// position and the resulting token tree (opaque to this package).
type LexedExpr struct {
	Pos  uint32
	Expr proto.Expression
}

// SubLexed is the result of a host-side SubLex call.
type SubLexed struct {
	Pos    uint32
	Ticket proto.ExprTicket
}

// ExtLexer is how the host asks one connected extension to lex a span.
// The three-way result models Option<Result<LexedExpr>>: (nil, nil, nil)
// is None ("not recognized"), (nil, err, nil) is Err(e), and
// (lexed, nil, nil) is Ok.
type ExtLexer interface {
	LexExpr(ctx context.Context, sys proto.SysId, id proto.ParsID, text string, pos uint32) (*LexedExpr, *proto.OrcError, error)
}

// scope is the host's bookkeeping for one in-flight LexExpr call, kept
// alive only long enough to answer SubLex requests correlated by id.
type scope struct {
	text string
}

// LexCoordinator is the host-side driver for §4.8's lexing protocol. It
// tries each candidate system in priority order until one recognizes the
// source position, and answers SubLex callbacks for whichever ParsID is
// currently active.
type LexCoordinator struct {
	mu     sync.Mutex
	active map[proto.ParsID]*scope
}

// NewLexCoordinator constructs an empty coordinator.
func NewLexCoordinator() *LexCoordinator {
	return &LexCoordinator{active: make(map[proto.ParsID]*scope)}
}

// Lex tries each system in candidates (already filtered by lex_filter
// membership for text's first rune) until one returns a non-None result.
// Returns (nil, nil, nil) if no candidate recognizes the position.
func (c *LexCoordinator) Lex(ctx context.Context, ext ExtLexer, candidates []proto.SysId, text string, pos uint32) (*LexedExpr, *proto.OrcError, error) {
	id := proto.NewParsID()

	c.mu.Lock()
	c.active[id] = &scope{text: text}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.active, id)
		c.mu.Unlock()
	}()

	for _, sys := range candidates {
		lexed, lexErr, err := ext.LexExpr(ctx, sys, id, text[pos:], pos)
		if err != nil {
			return nil, nil, fmt.Errorf("driver: LexExpr sys=%d: %w", sys, err)
		}
		if lexed == nil && lexErr == nil {
			continue // None: this system does not recognize the prefix
		}
		return lexed, lexErr, nil
	}
	return nil, nil, nil
}

// ExprRegistrar turns a freshly lexed expression into a host-owned
// ticket, the form SubLexed hands back to the extension.
type ExprRegistrar interface {
	Register(expr proto.Expression) proto.ExprTicket
}

// HandleSubLex answers a SubLex{id, pos} request from the extension: it
// re-lexes the active scope's text at pos, under the *same* id (a
// sub-lex is still part of the outer recursion, not a new one), and
// registers the result as a ticket. A sub-lex that no candidate
// recognizes is protocol-fatal — SubLex, unlike top-level LexExpr, has no
// "None" outcome to report back through (§4.8 scenario 5); a candidate's
// lex diagnostic is returned as an orcherr.Domain error.
func (c *LexCoordinator) HandleSubLex(ctx context.Context, ext ExtLexer, reg ExprRegistrar, candidates []proto.SysId, id proto.ParsID, pos uint32) (*SubLexed, error) {
	c.mu.Lock()
	sc, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return nil, orcherr.Fatal(fmt.Errorf("driver: SubLex for unknown or completed id %s", id))
	}

	for _, sys := range candidates {
		lexed, lexErr, err := ext.LexExpr(ctx, sys, id, sc.text[pos:], pos)
		if err != nil {
			return nil, fmt.Errorf("driver: SubLex LexExpr sys=%d: %w", sys, err)
		}
		if lexed == nil && lexErr == nil {
			continue
		}
		if lexErr != nil {
			return nil, orcherr.Domain(fmt.Errorf("driver: SubLex diagnostic: %s", lexErr.Message))
		}
		tk := reg.Register(lexed.Expr)
		return &SubLexed{Pos: lexed.Pos, Ticket: tk}, nil
	}
	return nil, orcherr.Fatal(fmt.Errorf("driver: SubLex at pos %d recognized by no candidate", pos))
}
