package proto

import (
	"bytes"
	"testing"

	"github.com/orchid-lang/corex/internal/codec"
	"github.com/stretchr/testify/require"
)

func TestExpressionRoundTripEachKind(t *testing.T) {
	cases := []Expression{
		{Kind: ExpressionKind{Tag: KindCall}},
		{Kind: ExpressionKind{Tag: KindArg, ArgID: 3}},
		{Kind: ExpressionKind{Tag: KindSlot, Slot: 42}},
		{Kind: ExpressionKind{Tag: KindConst, ConstPathTok: 99}},
		{Kind: ExpressionKind{Tag: KindNewAtom, NewAtom: LocalAtom{Data: []byte("x")}}},
		{Kind: ExpressionKind{Tag: KindBottom, Errors: []OrcError{{Message: "boom"}}}},
	}
	for _, c := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteExpression(codec.NewWriter(&buf), c))
		got, err := ReadExpression(codec.NewReader(&buf))
		require.NoError(t, err)
		require.Equal(t, c.Kind.Tag, got.Kind.Tag)
	}
}

func TestExpressionNestedSeqAndLambda(t *testing.T) {
	arg := Expression{Kind: ExpressionKind{Tag: KindArg, ArgID: 0}}
	lam := Expression{Kind: ExpressionKind{Tag: KindLambda, LambdaID: 1, LambdaExp: &arg}}
	seq := Expression{Kind: ExpressionKind{Tag: KindSeq, SeqA: &lam, SeqB: &arg}}

	var buf bytes.Buffer
	require.NoError(t, WriteExpression(codec.NewWriter(&buf), seq))
	got, err := ReadExpression(codec.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, KindSeq, got.Kind.Tag)
	require.Equal(t, KindLambda, got.Kind.SeqA.Kind.Tag)
	require.Equal(t, uint64(1), got.Kind.SeqA.Kind.LambdaID)
}

func TestShallowClassification(t *testing.T) {
	require.Equal(t, ShallowAtom, Expression{Kind: ExpressionKind{Tag: KindNewAtom}}.Shallow())
	require.Equal(t, ShallowBottom, Expression{Kind: ExpressionKind{Tag: KindBottom}}.Shallow())
	require.Equal(t, ShallowOpaque, Expression{Kind: ExpressionKind{Tag: KindCall}}.Shallow())
}

func TestAtomAttachRoundTrip(t *testing.T) {
	drop := AtomId(9)
	local := LocalAtom{Drop: &drop, Data: []byte("payload")}
	atom := local.Attach(SysId(3))

	var buf bytes.Buffer
	require.NoError(t, WriteAtom(codec.NewWriter(&buf), atom))
	got, err := ReadAtom(codec.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, atom, got)
	require.True(t, got.Tracked())
}
