package driver

import (
	"context"
	"fmt"

	"github.com/orchid-lang/corex/internal/proto"
)

// ItemKind classifies one parsed line item (§4.8).
type ItemKind uint8

const (
	ItemMember ItemKind = iota
	ItemMacro
	ItemExport
	ItemImport
	ItemLazy // resolved later via GetMember(sys, TreeId)
)

// TreeId identifies a lazily-resolved parse item, opaque outside this
// package until GetMember resolves it.
type TreeId uint64

// Item is one line-parse result. For ItemLazy only Lazy is meaningful;
// for the other kinds Payload carries the decoded member/macro/export/
// import bytes (left opaque here — decoding it is the caller's concern,
// this package only threads it through the reentrant call shape).
type Item struct {
	Kind    ItemKind
	Payload []byte
	Lazy    TreeId
}

// ExtParser is how the host asks an extension to parse one token line
// and, later, to resolve a lazy member reference.
type ExtParser interface {
	ParseLine(ctx context.Context, sys proto.SysId, line proto.Expression) ([]Item, error)
	GetMember(ctx context.Context, sys proto.SysId, tree TreeId) (Item, error)
}

// ParseCoordinator is a thin pass-through driver for §4.8's parsing
// protocol. Unlike Lex and Macro it has no reentrant callback from the
// extension back into the host, so it needs no correlation-token
// bookkeeping; it exists so callers have one consistent driver surface
// per SPEC_FULL.md §4.8, and so GetMember's lazy-resolution failures are
// classified uniformly.
type ParseCoordinator struct{}

// NewParseCoordinator constructs a ParseCoordinator.
func NewParseCoordinator() *ParseCoordinator { return &ParseCoordinator{} }

// ParseLine delegates to ext, wrapping any transport-level failure.
func (ParseCoordinator) ParseLine(ctx context.Context, ext ExtParser, sys proto.SysId, line proto.Expression) ([]Item, error) {
	items, err := ext.ParseLine(ctx, sys, line)
	if err != nil {
		return nil, fmt.Errorf("driver: ParseLine: %w", err)
	}
	return items, nil
}

// ResolveLazy resolves one ItemLazy member via GetMember.
func (ParseCoordinator) ResolveLazy(ctx context.Context, ext ExtParser, sys proto.SysId, tree TreeId) (Item, error) {
	item, err := ext.GetMember(ctx, sys, tree)
	if err != nil {
		return Item{}, fmt.Errorf("driver: GetMember tree=%d: %w", tree, err)
	}
	return item, nil
}
