package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/orchid-lang/corex/internal/orcherr"
	"github.com/orchid-lang/corex/internal/proto"
)

// Matcher is the host's rule matcher, consulted by RunMacros callbacks
// during a macro expansion scoped by run_id. Returning (nil, nil) is the
// "no rule fires" outcome (§4.8 scenario 6); HandleRunMacros reports
// that None as an orcherr.Cascade rather than a fresh failure.
type Matcher func(ctx context.Context, runID proto.RunID, query []byte) ([]byte, error)

// ExtMacroApplier is how the host asks an extension to expand a fired
// rule's body.
type ExtMacroApplier interface {
	ApplyMacro(ctx context.Context, sys proto.SysId, ruleID uint64, runID proto.RunID, params []byte) ([]byte, error)
}

// MacroCoordinator is the host-side driver for §4.8's macro-expansion
// protocol: one top-level ApplyMacro call may trigger arbitrarily many
// nested RunMacros callbacks, all scoped by the same run_id, with strict
// stack discipline (a child's response precedes its parent's
// completion) enforced by ApplyMacro blocking until the extension
// replies, so every nested RunMacros callback is answered before the
// outer call returns, matching the teacher's "nested round trip before
// replying" pattern in bridgeForwardRequest.
type MacroCoordinator struct {
	mu      sync.Mutex
	matcher map[proto.RunID]Matcher
}

// NewMacroCoordinator constructs an empty coordinator.
func NewMacroCoordinator() *MacroCoordinator {
	return &MacroCoordinator{matcher: make(map[proto.RunID]Matcher)}
}

// ApplyMacro runs one top-level macro expansion: it registers match as
// the matcher any nested RunMacros calls scoped to the fresh run_id will
// consult, issues ApplyMacro to the extension, and unregisters the
// matcher once the extension replies (successfully or not).
func (c *MacroCoordinator) ApplyMacro(ctx context.Context, ext ExtMacroApplier, sys proto.SysId, ruleID uint64, match Matcher, params []byte) ([]byte, error) {
	runID := proto.NewRunID()

	c.mu.Lock()
	c.matcher[runID] = match
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.matcher, runID)
		c.mu.Unlock()
	}()

	body, err := ext.ApplyMacro(ctx, sys, ruleID, runID, params)
	if err != nil {
		return nil, fmt.Errorf("driver: ApplyMacro: %w", err)
	}
	return body, nil
}

// HandleRunMacros answers a RunMacros{run_id, query} request from the
// extension by consulting the matcher registered for run_id. A query
// that matches no rule returns (nil, orcherr.Cascade): the caller must
// recognize this and suppress re-reporting rather than surfacing a fresh
// error, per §4.8 scenario 6 and §7's cascade semantics.
func (c *MacroCoordinator) HandleRunMacros(ctx context.Context, runID proto.RunID, query []byte) ([]byte, error) {
	c.mu.Lock()
	match, ok := c.matcher[runID]
	c.mu.Unlock()
	if !ok {
		return nil, orcherr.Fatal(fmt.Errorf("driver: RunMacros for unknown or completed run_id %s", runID))
	}

	result, err := match(ctx, runID, query)
	if err != nil {
		if orcherr.IsCascade(err) {
			return nil, err
		}
		return nil, fmt.Errorf("driver: matcher for run_id %s: %w", runID, err)
	}
	if result == nil {
		return nil, orcherr.Cascade
	}
	return result, nil
}
