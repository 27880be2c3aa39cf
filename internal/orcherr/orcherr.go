// Package orcherr classifies the five error kinds the protocol
// distinguishes (§7): protocol-fatal, peer-disconnected, domain,
// cascade, and programming errors. Grounded on the teacher's
// internal/mcp/errors.go sentinel-plus-errors.Is style, generalized from
// a two-way (protocol vs. tool) split to the five-way taxonomy below.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of endpoint-level recovery
// policy (§7's "Policy" paragraph: the core never retries automatically,
// fatal kinds terminate the endpoint).
type Kind int

const (
	KindDomain Kind = iota
	KindProtocolFatal
	KindPeerDisconnected
	KindCascade
	KindProgramming
)

func (k Kind) String() string {
	switch k {
	case KindDomain:
		return "domain"
	case KindProtocolFatal:
		return "protocol-fatal"
	case KindPeerDisconnected:
		return "peer-disconnected"
	case KindCascade:
		return "cascade"
	case KindProgramming:
		return "programming"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with its taxonomy Kind.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func Fatal(cause error) *Error         { return New(KindProtocolFatal, cause) }
func Disconnected(cause error) *Error  { return New(KindPeerDisconnected, cause) }
func Domain(cause error) *Error        { return New(KindDomain, cause) }
func Programming(cause error) *Error   { return New(KindProgramming, cause) }

// Cascade is the sentinel produced when a nested RPC's failure must not
// be double-reported: callers recognize it with IsCascade and suppress
// re-reporting (§4.8 "Ordering & termination").
var Cascade = &Error{Kind: KindCascade}

func IsCascade(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindCascade
	}
	return false
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDomain
}

// IsFatal reports whether err should terminate the owning endpoint
// immediately (protocol-fatal or programming-error kinds).
func IsFatal(err error) bool {
	k := KindOf(err)
	return k == KindProtocolFatal || k == KindProgramming
}
