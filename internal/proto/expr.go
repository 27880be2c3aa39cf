package proto

import "github.com/orchid-lang/corex/internal/codec"

// Location is a source position attached to an expression for
// diagnostics. Pos(0,0) with an empty Path means "unknown".
type Location struct {
	Path string
	Line uint32
	Col  uint32
}

func WriteLocation(w *codec.Writer, l Location) error {
	if err := w.WriteString(l.Path); err != nil {
		return err
	}
	if err := w.WriteU32(l.Line); err != nil {
		return err
	}
	return w.WriteU32(l.Col)
}

func ReadLocation(r *codec.Reader) (Location, error) {
	path, err := r.ReadString(1 << 16)
	if err != nil {
		return Location{}, err
	}
	line, err := r.ReadU32()
	if err != nil {
		return Location{}, err
	}
	col, err := r.ReadU32()
	if err != nil {
		return Location{}, err
	}
	return Location{Path: path, Line: line, Col: col}, nil
}

// OrcError is a diagnostic carried in a Bottom expression or a domain
// error result (§7, "Domain errors").
type OrcError struct {
	Message  string
	Location Location
}

func WriteOrcError(w *codec.Writer, e OrcError) error {
	if err := w.WriteString(e.Message); err != nil {
		return err
	}
	return WriteLocation(w, e.Location)
}

func ReadOrcError(r *codec.Reader) (OrcError, error) {
	msg, err := r.ReadString(1 << 16)
	if err != nil {
		return OrcError{}, err
	}
	loc, err := ReadLocation(r)
	if err != nil {
		return OrcError{}, err
	}
	return OrcError{Message: msg, Location: loc}, nil
}

// ExpressionKindTag is the sum-type discriminant for ExpressionKind, in
// declaration order per the codec's sum-type rule.
type ExpressionKindTag uint8

const (
	KindCall ExpressionKindTag = iota
	KindLambda
	KindArg
	KindSlot
	KindSeq
	KindNewAtom
	KindConst
	KindBottom
)

// ExpressionKind is the sum type `Call | Lambda(u64, expr) | Arg(u64) |
// Slot(ticket) | Seq(expr,expr) | NewAtom(atom) | Const(path-tok) |
// Bottom(errors)`. Exactly one of the fields below is meaningful,
// selected by Tag.
type ExpressionKind struct {
	Tag ExpressionKindTag

	LambdaID  uint64
	LambdaExp *Expression

	ArgID uint64

	Slot ExprTicket

	SeqA *Expression
	SeqB *Expression

	NewAtom LocalAtom

	ConstPathTok uint64

	Errors []OrcError
}

// Expression is a host-owned value: its kind plus the source location it
// originated from.
type Expression struct {
	Kind     ExpressionKind
	Location Location
}

func WriteExpression(w *codec.Writer, e Expression) error {
	if err := writeExpressionKind(w, e.Kind); err != nil {
		return err
	}
	return WriteLocation(w, e.Location)
}

func ReadExpression(r *codec.Reader) (Expression, error) {
	kind, err := readExpressionKind(r)
	if err != nil {
		return Expression{}, err
	}
	loc, err := ReadLocation(r)
	if err != nil {
		return Expression{}, err
	}
	return Expression{Kind: kind, Location: loc}, nil
}

func writeExpressionKind(w *codec.Writer, k ExpressionKind) error {
	if err := w.WriteTag(uint8(k.Tag)); err != nil {
		return err
	}
	switch k.Tag {
	case KindCall, KindArg:
		if k.Tag == KindArg {
			return w.WriteU64(k.ArgID)
		}
		return nil
	case KindLambda:
		if err := w.WriteU64(k.LambdaID); err != nil {
			return err
		}
		return WriteExpression(w, *k.LambdaExp)
	case KindSlot:
		return WriteExprTicket(w, k.Slot)
	case KindSeq:
		if err := WriteExpression(w, *k.SeqA); err != nil {
			return err
		}
		return WriteExpression(w, *k.SeqB)
	case KindNewAtom:
		return WriteLocalAtom(w, k.NewAtom)
	case KindConst:
		return w.WriteU64(k.ConstPathTok)
	case KindBottom:
		return codec.WriteSeq(w, k.Errors, WriteOrcError)
	default:
		return &codec.ErrUnknownTag{Type: "ExpressionKind", Tag: uint8(k.Tag)}
	}
}

func readExpressionKind(r *codec.Reader) (ExpressionKind, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return ExpressionKind{}, err
	}
	switch ExpressionKindTag(tag) {
	case KindCall:
		return ExpressionKind{Tag: KindCall}, nil
	case KindArg:
		id, err := r.ReadU64()
		if err != nil {
			return ExpressionKind{}, err
		}
		return ExpressionKind{Tag: KindArg, ArgID: id}, nil
	case KindLambda:
		id, err := r.ReadU64()
		if err != nil {
			return ExpressionKind{}, err
		}
		body, err := ReadExpression(r)
		if err != nil {
			return ExpressionKind{}, err
		}
		return ExpressionKind{Tag: KindLambda, LambdaID: id, LambdaExp: &body}, nil
	case KindSlot:
		tk, err := ReadExprTicket(r)
		if err != nil {
			return ExpressionKind{}, err
		}
		return ExpressionKind{Tag: KindSlot, Slot: tk}, nil
	case KindSeq:
		a, err := ReadExpression(r)
		if err != nil {
			return ExpressionKind{}, err
		}
		b, err := ReadExpression(r)
		if err != nil {
			return ExpressionKind{}, err
		}
		return ExpressionKind{Tag: KindSeq, SeqA: &a, SeqB: &b}, nil
	case KindNewAtom:
		a, err := ReadLocalAtom(r)
		if err != nil {
			return ExpressionKind{}, err
		}
		return ExpressionKind{Tag: KindNewAtom, NewAtom: a}, nil
	case KindConst:
		tok, err := r.ReadU64()
		if err != nil {
			return ExpressionKind{}, err
		}
		return ExpressionKind{Tag: KindConst, ConstPathTok: tok}, nil
	case KindBottom:
		errs, err := codec.ReadSeq(r, 1<<16, ReadOrcError)
		if err != nil {
			return ExpressionKind{}, err
		}
		return ExpressionKind{Tag: KindBottom, Errors: errs}, nil
	default:
		return ExpressionKind{}, &codec.ErrUnknownTag{Type: "ExpressionKind", Tag: tag}
	}
}

// ShallowKind is the coarse classification returned by Inspect (§4.7):
// Atom | Bottom | Opaque.
type ShallowKind uint8

const (
	ShallowAtom ShallowKind = iota
	ShallowBottom
	ShallowOpaque
)

func (e Expression) Shallow() ShallowKind {
	switch e.Kind.Tag {
	case KindNewAtom:
		return ShallowAtom
	case KindBottom:
		return ShallowBottom
	default:
		return ShallowOpaque
	}
}
