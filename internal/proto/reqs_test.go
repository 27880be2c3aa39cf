package proto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchid-lang/corex/internal/codec"
)

func TestHostExtReqRoundTrip(t *testing.T) {
	cases := []HostExtReq{
		{Tag: HostPing},
		{Tag: HostNewSystem, NewSystem: NewSystemReq{DeclID: 1, ID: 2, Depends: []SysId{2, 3}}},
		{Tag: HostSweep, Sweep: SweepReq{Keep: []StrToken{1, 2, 3}}},
		{Tag: HostLexExpr, LexExpr: LexExprReq{Sys: 4, ID: NewParsID(), Text: "a${b}c", Pos: 1}},
		{Tag: HostVfsReq, Vfs: VfsReq{Tag: VfsRead, Sys: 5, ID: 9, Path: "lib/std.orc"}},
		{Tag: HostApplyMacro, ApplyMacro: ApplyMacroReq{Sys: 2, RuleID: 7, RunID: NewRunID(), Params: []byte{1, 2}}},
	}
	for _, c := range cases {
		b, err := EncodeHostExtReq(c)
		require.NoError(t, err)
		got, err := DecodeHostExtReq(b)
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
}

// Exercises §4.6/§9's explicit nested-sum example: AtomReq is both a
// standalone sum and a HostExtReq subcase, reached via the hierarchy
// package's UpCast/DownCast without re-decoding the outer message.
func TestHostExtReqAtomHierarchyEmbedding(t *testing.T) {
	req := HostExtReq{Tag: HostAtomReq, Atom: AtomReq{
		Sys: 3, Kind: 7, Data: []byte("thin-atom"), Tag: AtomCallRef, Arg: 42,
	}}

	encoded, err := EncodeHostExtReq(req)
	require.NoError(t, err)

	standalone, err := EncodeAtomReq(req.Atom)
	require.NoError(t, err)
	require.Equal(t, append([]byte{byte(HostAtomReq)}, standalone...), encoded)

	decoded, err := DecodeHostExtReq(encoded)
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

// §8's invariant: downcast(upcast(x)) == Some(x); and upcast is a strict
// prefix relationship on encoded bytes.
func TestHierarchyUpDownCastInvariant(t *testing.T) {
	atomBytes, err := EncodeAtomReq(AtomReq{Sys: 1, Kind: 2, Data: []byte{9}, Tag: AtomPrint})
	require.NoError(t, err)

	upcast := UpcastAtomReq(atomBytes)
	require.True(t, len(upcast) > len(atomBytes))
	require.Equal(t, atomBytes, upcast[len(upcast)-len(atomBytes):])

	down, ok := DowncastAtomReq(upcast)
	require.True(t, ok)
	require.Equal(t, atomBytes, down)

	// A mismatched ancestor tag must fail closed, leaving input untouched
	// for the caller to retry against a sibling target.
	corrupted := append([]byte{}, upcast...)
	corrupted[0] ^= 0xFF
	_, ok = DowncastAtomReq(corrupted)
	require.False(t, ok)
}

func TestExtHostReqIntReqEmbedding(t *testing.T) {
	req := ExtHostReq{Tag: ExtIntReq, IntReq: IntReq{Tag: IntInternStrv, Strv: []string{"a", "b"}}}
	encoded, err := EncodeExtHostReq(req)
	require.NoError(t, err)
	decoded, err := DecodeExtHostReq(encoded)
	require.NoError(t, err)
	require.Equal(t, req, decoded)
}

func TestExtHostReqFlatVariants(t *testing.T) {
	cases := []ExtHostReq{
		{Tag: ExtPing},
		{Tag: ExtFwd, Fwd: FwdReq{Sys: 1, Body: []byte("hi")}},
		{Tag: ExtExprReq, ExprReq: ExprReq{Ticket: 42}},
		{Tag: ExtSubLex, SubLex: SubLexReq{ID: NewParsID(), Pos: 3}},
		{Tag: ExtRunMacros, RunMacros: RunMacrosReq{RunID: NewRunID(), Query: []byte{1}}},
	}
	for _, c := range cases {
		b, err := EncodeExtHostReq(c)
		require.NoError(t, err)
		got, err := DecodeExtHostReq(b)
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
}

func TestLexExprResultNoneErrOk(t *testing.T) {
	none := LexExprResult{Found: false}
	b, err := encodeWith(func(w *codec.Writer) error { return WriteLexExprResult(w, none) })
	require.NoError(t, err)
	got, err := decodeWith(b, ReadLexExprResult)
	require.NoError(t, err)
	require.Equal(t, none, got)

	errRes := LexExprResult{Found: true, Err: &OrcError{Message: "bad escape"}}
	b, err = encodeWith(func(w *codec.Writer) error { return WriteLexExprResult(w, errRes) })
	require.NoError(t, err)
	got, err = decodeWith(b, ReadLexExprResult)
	require.NoError(t, err)
	require.Equal(t, errRes, got)

	okRes := LexExprResult{Found: true, Lexed: LexedExprWire{Pos: 8, Expr: Expression{Kind: ExpressionKind{Tag: KindCall}}}}
	b, err = encodeWith(func(w *codec.Writer) error { return WriteLexExprResult(w, okRes) })
	require.NoError(t, err)
	got, err = decodeWith(b, ReadLexExprResult)
	require.NoError(t, err)
	require.Equal(t, okRes, got)
}
