package mux

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orchid-lang/corex/internal/orcherr"
	"github.com/orchid-lang/corex/internal/transport"
)

// connectedPair wires two Duplex values over a pair of in-memory pipes so
// both endpoints can read and write concurrently, like two ends of a
// subprocess's stdio.
func connectedPair() (a, b *transport.Duplex) {
	arPipe, awPipe := io.Pipe()
	brPipe, bwPipe := io.Pipe()
	a = transport.NewDuplex(brPipe, awPipe)
	b = transport.NewDuplex(arPipe, bwPipe)
	return a, b
}

func TestRequestResponseRoundTrip(t *testing.T) {
	connA, connB := connectedPair()

	muxB := New(connB, zap.NewNop(), nil, func(h *RequestHandle, payload []byte) {
		reply := append([]byte("echo:"), payload...)
		require.NoError(t, h.Reply(reply))
	})
	muxA := New(connA, zap.NewNop(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = muxA.Run(ctx) }()
	go func() { defer wg.Done(); _ = muxB.Run(ctx) }()

	resp, err := muxA.Request(context.Background(), []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, []byte("echo:ping"), resp)

	cancel()
	wg.Wait()
}

func TestNotifyDelivered(t *testing.T) {
	connA, connB := connectedPair()

	received := make(chan []byte, 1)
	muxB := New(connB, zap.NewNop(), func(payload []byte) {
		received <- payload
	}, nil)
	muxA := New(connA, zap.NewNop(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = muxA.Run(ctx) }()
	go func() { defer wg.Done(); _ = muxB.Run(ctx) }()

	require.NoError(t, muxA.Notify([]byte("hello")))

	select {
	case got := <-received:
		require.Equal(t, []byte("hello"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	cancel()
	wg.Wait()
}

func TestRequestCancellationResolvesLocallyWithoutWireEffect(t *testing.T) {
	connA, connB := connectedPair()

	// muxB never replies, simulating a peer that is still "thinking".
	block := make(chan struct{})
	muxB := New(connB, zap.NewNop(), nil, func(h *RequestHandle, _ []byte) {
		<-block
		_ = h.Reply([]byte("too late"))
	})
	muxA := New(connA, zap.NewNop(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = muxA.Run(ctx) }()
	go func() { defer wg.Done(); _ = muxB.Run(ctx) }()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer reqCancel()
	_, err := muxA.Request(reqCtx, []byte("slow"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	cancel()
	wg.Wait()
}

func TestPeerDepartureResolvesPendingRequests(t *testing.T) {
	inR, inW := io.Pipe()   // A reads from inR; closing inW simulates peer EOF.
	outR, outW := io.Pipe() // A writes to outW; drained so Send never blocks.
	go io.Copy(io.Discard, outR)

	connA := transport.NewDuplex(inR, outW)
	muxA := New(connA, zap.NewNop(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- muxA.Run(ctx) }()

	reqDone := make(chan error, 1)
	go func() {
		_, err := muxA.Request(context.Background(), []byte("x"))
		reqDone <- err
	}()

	// Give the request a moment to register before the peer departs.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, inW.Close())

	err := <-reqDone
	require.Error(t, err)

	select {
	case runErr := <-runDone:
		require.Equal(t, orcherr.KindPeerDisconnected, orcherr.KindOf(runErr))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate after peer departure")
	}
}
