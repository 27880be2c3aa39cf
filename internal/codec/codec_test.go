package codec

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func roundTrip[T any](t *testing.T, write func(*Writer, T) error, read func(*Reader) (T, error), v T) T {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, write(NewWriter(&buf), v))
	got, err := read(NewReader(&buf))
	require.NoError(t, err)
	return got
}

func TestPrimitivesRoundTrip(t *testing.T) {
	require.Equal(t, uint8(200), roundTrip(t, (*Writer).WriteU8, (*Reader).ReadU8, uint8(200)))
	require.Equal(t, uint16(50000), roundTrip(t, (*Writer).WriteU16, (*Reader).ReadU16, uint16(50000)))
	require.Equal(t, uint32(4000000000), roundTrip(t, (*Writer).WriteU32, (*Reader).ReadU32, uint32(4000000000)))
	require.Equal(t, uint64(1)<<63, roundTrip(t, (*Writer).WriteU64, (*Reader).ReadU64, uint64(1)<<63))
	require.Equal(t, true, roundTrip(t, (*Writer).WriteBool, (*Reader).ReadBool, true))
	require.Equal(t, 3.14159, roundTrip(t, (*Writer).WriteF64, (*Reader).ReadF64, 3.14159))
}

func TestStringRoundTrip(t *testing.T) {
	got := roundTrip(t, (*Writer).WriteString, func(r *Reader) (string, error) { return r.ReadString(0) }, "hello, Ωrchid")
	require.Equal(t, "hello, Ωrchid", got)
}

func TestBytesRespectsMaxLen(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteBytes(make([]byte, 100)))
	_, err := NewReader(&buf).ReadBytes(10)
	require.Error(t, err)
}

func TestSeqRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, WriteSeq(w, []uint32{1, 2, 3}, (*Writer).WriteU32))
	got, err := ReadSeq(NewReader(&buf), 0, (*Reader).ReadU32)
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 2, 3}, got)
}

func TestOptionRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	v := uint32(42)
	require.NoError(t, WriteOption(w, &v, (*Writer).WriteU32))
	got, err := ReadOption(NewReader(&buf), (*Reader).ReadU32)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, uint32(42), *got)

	var buf2 bytes.Buffer
	require.NoError(t, WriteOption[uint32](NewWriter(&buf2), nil, (*Writer).WriteU32))
	got2, err := ReadOption(NewReader(&buf2), (*Reader).ReadU32)
	require.NoError(t, err)
	require.Nil(t, got2)
}

func TestUUIDRoundTrip(t *testing.T) {
	id := uuid.New()
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteUUID(id))
	require.Equal(t, 16, buf.Len())
	got, err := NewReader(&buf).ReadUUID()
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestUnknownTagIsDistinctError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteU8(7))
	tag, err := NewReader(&buf).ReadTag()
	require.NoError(t, err)
	if tag != 0 && tag != 1 {
		err := &ErrUnknownTag{Type: "example", Tag: tag}
		require.Contains(t, err.Error(), "unknown example tag 7")
	}
}
