package transport

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// pipe chains a writer's output into a reader's input so Send/Recv can be
// exercised without a real subprocess.
func pipe() (send *Duplex, recv *Duplex) {
	var buf bytes.Buffer
	return NewDuplex(&bytes.Buffer{}, &buf), NewDuplex(&buf, &bytes.Buffer{})
}

func TestSendRecvRoundTrip(t *testing.T) {
	send, recv := pipe()
	require.NoError(t, send.Send([]byte("hello")))
	got, err := recv.Recv()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestSendRecvMultipleFramesPreserveOrder(t *testing.T) {
	send, recv := pipe()
	require.NoError(t, send.Send([]byte("first")))
	require.NoError(t, send.Send([]byte("second")))

	first, err := recv.Recv()
	require.NoError(t, err)
	require.Equal(t, []byte("first"), first)

	second, err := recv.Recv()
	require.NoError(t, err)
	require.Equal(t, []byte("second"), second)
}

func TestRecvOnCleanEOFIsPeerDeparted(t *testing.T) {
	_, recv := pipe()
	_, err := recv.Recv()
	require.True(t, errors.Is(err, ErrPeerDeparted))
}

func TestRecvRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	d := NewDuplex(&buf, &bytes.Buffer{})
	// Hand-craft a length prefix beyond MaxFrameSize without the payload.
	hdr := []byte{0xff, 0xff, 0xff, 0xff}
	buf.Write(hdr)
	_, err := d.Recv()
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestRecvShortReadMidFrameIsError(t *testing.T) {
	var buf bytes.Buffer
	d := NewDuplex(&buf, &bytes.Buffer{})
	hdr := []byte{0, 0, 0, 10} // promises 10 bytes
	buf.Write(hdr)
	buf.Write([]byte("abc")) // only 3 delivered
	_, err := d.Recv()
	require.Error(t, err)
}

func TestEmptyPayloadRoundTrips(t *testing.T) {
	send, recv := pipe()
	require.NoError(t, send.Send(nil))
	got, err := recv.Recv()
	require.NoError(t, err)
	require.Empty(t, got)
}
