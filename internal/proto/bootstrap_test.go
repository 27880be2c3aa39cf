package proto

import (
	"bytes"
	"math"
	"testing"

	"github.com/orchid-lang/corex/internal/codec"
	"github.com/stretchr/testify/require"
)

func TestSystemDeclRejectsNaNPriority(t *testing.T) {
	var buf bytes.Buffer
	w := codec.NewWriter(&buf)
	require.NoError(t, WriteSysDeclId(w, 1))
	require.NoError(t, w.WriteString("misc"))
	require.NoError(t, w.WriteF64(math.NaN()))
	require.NoError(t, codec.WriteSeq(w, []string{"std"}, (*codec.Writer).WriteString))

	_, err := ReadSystemDecl(codec.NewReader(&buf))
	require.Error(t, err)
}

func TestExtensionHeaderRoundTrip(t *testing.T) {
	h := ExtensionHeader{
		Name: "my_ext",
		Systems: []SystemDecl{
			{ID: 1, Name: "misc", Priority: 1.0, Depends: []string{"std"}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteExtensionHeader(codec.NewWriter(&buf), h))
	got, err := ReadExtensionHeader(codec.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestHostHeaderRoundTripFileStrategy(t *testing.T) {
	h := HostHeader{Log: LogStrategy{Tag: LogFile, Path: "x.log"}}
	var buf bytes.Buffer
	require.NoError(t, WriteHostHeader(codec.NewWriter(&buf), h))
	got, err := ReadHostHeader(codec.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestTagClassification(t *testing.T) {
	kind, id := ClassifyTag(0)
	require.Equal(t, TagNotification, kind)
	require.Equal(t, RequestID(0), id)

	kind, id = ClassifyTag(7)
	require.Equal(t, TagRequest, kind)
	require.Equal(t, RequestID(7), id)

	kind, id = ClassifyTag(TagForResponse(7))
	require.Equal(t, TagResponse, kind)
	require.Equal(t, RequestID(7), id)
}
