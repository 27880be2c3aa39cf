// Package transport implements the length-prefixed binary framing used
// between host and extension (§4.2), plus a subprocess wrapper that
// exposes a spawned extension's stdin/stdout as a Duplex and forwards its
// stderr line-by-line to a configurable sink.
//
// Grounded on the teacher's internal/bridge/stdio.go framing reader loop
// and internal/bridge/conn.go connection-error classification, adapted
// from line/Content-Length JSON framing to fixed 4-byte big-endian
// length prefixes.
package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize bounds a single message body against a corrupt or hostile
// length prefix. The protocol does not specify a bound; this guards
// against unbounded allocation on a torn connection.
const MaxFrameSize = 256 << 20 // 256MiB

// ErrFrameTooLarge is returned by Recv when a length prefix exceeds
// MaxFrameSize.
var ErrFrameTooLarge = errors.New("transport: frame exceeds max size")

// ErrPeerDeparted signals a clean EOF at a frame boundary — not a
// protocol error per §4.2, but a terminal condition the caller must
// surface as peer-disconnected.
var ErrPeerDeparted = errors.New("transport: peer departed")

// Duplex is a framed byte channel: independent inbound and outbound
// streams, one reader goroutine and one writer goroutine per direction
// by convention (the type itself makes no concurrency promises beyond
// "Send is safe to call from multiple goroutines").
type Duplex struct {
	r    *bufio.Reader
	w    io.Writer
	wmu  sync.Mutex
	hdr  [4]byte
}

// NewDuplex wraps an inbound reader and outbound writer as one framed
// channel. r and w are typically a subprocess's Stdout and Stdin.
func NewDuplex(r io.Reader, w io.Writer) *Duplex {
	return &Duplex{r: bufio.NewReaderSize(r, 64*1024), w: w}
}

// Preamble exposes the raw inbound/outbound streams Duplex wraps, for
// the bootstrap handshake (intro string + codec header) that precedes
// framing per §6. Reads done through the returned io.Reader consume
// from the same buffered reader subsequent Recv calls use, so no bytes
// are lost or duplicated once the frame loop starts.
func (d *Duplex) Preamble() (io.Reader, io.Writer) {
	return d.r, d.w
}

// Send writes one length-prefixed frame and flushes if the underlying
// writer supports it.
func (d *Duplex) Send(payload []byte) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := d.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("transport: write length: %w", err)
	}
	if len(payload) > 0 {
		if _, err := d.w.Write(payload); err != nil {
			return fmt.Errorf("transport: write payload: %w", err)
		}
	}
	if f, ok := d.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Recv reads one length-prefixed frame. A clean EOF exactly at a frame
// boundary returns ErrPeerDeparted; any other error is protocol-fatal (a
// short read mid-frame).
func (d *Duplex) Recv() ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrPeerDeparted
		}
		return nil, fmt.Errorf("transport: read length: %w", err)
	}
	n := binary.BigEndian.Uint32(d.hdr[:])
	if n == 0 {
		return nil, nil
	}
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("transport: short read mid-frame: %w", err)
		}
		return nil, err
	}
	return payload, nil
}
