// Package mux implements the request/response/notification multiplexer
// that sits on top of a framed transport.Duplex (§4.3). A Mux owns the
// outbound sender and the inbound dispatch loop for one connection to a
// peer (host-side connection to one extension, or the extension-side
// connection to its host).
//
// Grounded on the teacher's cmd/dev-console/bridge_forward.go dispatch
// loop: each inbound request is handed to its own goroutine via
// muxutil.SafeGo (the teacher's internal/util.SafeGo), bounded by a
// sync.WaitGroup during shutdown, while a single writer goroutine
// serializes everything placed on the outbound channel — the teacher's
// "one sender, many concurrent handlers" shape, generalized from HTTP
// forwarding to the binary tag protocol.
package mux

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/orchid-lang/corex/internal/metrics"
	"github.com/orchid-lang/corex/internal/muxutil"
	"github.com/orchid-lang/corex/internal/orcherr"
	"github.com/orchid-lang/corex/internal/proto"
	"github.com/orchid-lang/corex/internal/transport"
)

// Frame is one decoded wire message: a tag and its raw payload.
type Frame struct {
	Tag     uint64
	Payload []byte
}

// NotificationHandler processes a decoded notification payload.
type NotificationHandler func(payload []byte)

// RequestHandler processes a decoded request payload, replying through
// handle exactly once.
type RequestHandler func(handle *RequestHandle, payload []byte)

// Mux multiplexes one Duplex connection among concurrently-issued
// requests, inbound notifications, and inbound requests from the peer.
type Mux struct {
	conn *transport.Duplex
	log  *zap.Logger

	nextID uint64 // atomic, incremented before use so the first id is 1

	mu      sync.Mutex
	pending map[proto.RequestID]chan frameOrErr
	closed  bool
	closeErr error

	outbox chan outboundFrame

	onNotify  NotificationHandler
	onRequest RequestHandler

	metrics *metrics.Registry

	wg   sync.WaitGroup
	done chan struct{}
}

type frameOrErr struct {
	payload []byte
	err     error
}

type outboundFrame struct {
	tag     uint64
	payload []byte
}

// New constructs a Mux over conn. onNotify and onRequest may be nil if
// this endpoint never receives that message kind; a nil handler for a
// received message kind is a protocol-fatal condition.
func New(conn *transport.Duplex, log *zap.Logger, onNotify NotificationHandler, onRequest RequestHandler) *Mux {
	return NewWithMetrics(conn, log, onNotify, onRequest, nil)
}

// NewWithMetrics is New plus a Registry to report pending-request and
// outcome-counted request totals to. reg may be nil, equivalent to New.
func NewWithMetrics(conn *transport.Duplex, log *zap.Logger, onNotify NotificationHandler, onRequest RequestHandler, reg *metrics.Registry) *Mux {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mux{
		conn:      conn,
		log:       log,
		pending:   make(map[proto.RequestID]chan frameOrErr),
		outbox:    make(chan outboundFrame, 64),
		onNotify:  onNotify,
		onRequest: onRequest,
		metrics:   reg,
		done:      make(chan struct{}),
	}
}

// Run starts the writer and reader loops and blocks until the
// connection terminates (peer departure, a fatal protocol error, or ctx
// cancellation). It returns the terminal error; a clean peer departure
// is reported as orcherr.Disconnected.
func (m *Mux) Run(ctx context.Context) error {
	writerDone := make(chan struct{})
	muxutil.SafeGo(m.log, func() {
		defer close(writerDone)
		m.writeLoop(ctx)
	})

	readDone := make(chan error, 1)
	muxutil.SafeGo(m.log, func() { readDone <- m.readLoop() })

	var readErr error
	select {
	case readErr = <-readDone:
	case <-ctx.Done():
		readErr = ctx.Err()
	}

	m.shutdown(readErr)
	<-writerDone
	m.wg.Wait()
	return readErr
}

func (m *Mux) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case f := <-m.outbox:
			buf := make([]byte, 8+len(f.payload))
			binary.BigEndian.PutUint64(buf[:8], f.tag)
			copy(buf[8:], f.payload)
			if err := m.conn.Send(buf); err != nil {
				m.shutdown(fmt.Errorf("mux: send: %w", err))
				return
			}
		}
	}
}

func (m *Mux) readLoop() error {
	for {
		raw, err := m.conn.Recv()
		if err != nil {
			if errors.Is(err, transport.ErrPeerDeparted) {
				return orcherr.Disconnected(err)
			}
			return orcherr.Fatal(err)
		}
		if len(raw) < 8 {
			return orcherr.Fatal(fmt.Errorf("mux: frame shorter than tag: %d bytes", len(raw)))
		}
		tag := binary.BigEndian.Uint64(raw[:8])
		payload := raw[8:]

		kind, id := proto.ClassifyTag(tag)
		switch kind {
		case proto.TagNotification:
			if m.onNotify == nil {
				return orcherr.Fatal(fmt.Errorf("mux: received notification with no handler"))
			}
			h := m.onNotify
			m.wg.Add(1)
			muxutil.SafeGo(m.log, func() {
				defer m.wg.Done()
				h(payload)
			})
		case proto.TagRequest:
			if m.onRequest == nil {
				return orcherr.Fatal(fmt.Errorf("mux: received request with no handler"))
			}
			handle := &RequestHandle{mux: m, id: id}
			h := m.onRequest
			m.wg.Add(1)
			muxutil.SafeGo(m.log, func() {
				defer m.wg.Done()
				h(handle, payload)
				if !handle.replied.Load() {
					m.log.Error("request handler returned without replying", zap.Uint64("id", uint64(id)))
				}
			})
		case proto.TagResponse:
			m.mu.Lock()
			slot, ok := m.pending[id]
			if ok {
				delete(m.pending, id)
			}
			m.mu.Unlock()
			if !ok {
				return orcherr.Fatal(fmt.Errorf("mux: response for unknown request id %d", id))
			}
			slot <- frameOrErr{payload: payload}
		}
	}
}

// Request sends R as a fresh request and blocks until the matching
// response arrives, ctx is cancelled, or the connection terminates.
// Cancellation resolves the pending slot locally without sending
// anything on the wire, per §4.3's no-protocol-level-cancellation rule.
func (m *Mux) Request(ctx context.Context, payload []byte) ([]byte, error) {
	id := proto.RequestID(atomic.AddUint64(&m.nextID, 1))
	slot := make(chan frameOrErr, 1)

	m.mu.Lock()
	if m.closed {
		err := m.closeErr
		m.mu.Unlock()
		return nil, err
	}
	m.pending[id] = slot
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RequestStarted()
	}
	payload, err := m.doRequest(ctx, id, slot, payload)
	if m.metrics != nil {
		m.metrics.RequestFinished(requestOutcome(err))
	}
	return payload, err
}

func requestOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func (m *Mux) doRequest(ctx context.Context, id proto.RequestID, slot chan frameOrErr, payload []byte) ([]byte, error) {
	select {
	case m.outbox <- outboundFrame{tag: proto.TagForRequest(id), payload: payload}:
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return nil, ctx.Err()
	case <-m.done:
		return nil, m.closeErr
	}

	select {
	case fe := <-slot:
		return fe.payload, fe.err
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, id)
		m.mu.Unlock()
		return nil, ctx.Err()
	case <-m.done:
		return nil, m.closeErr
	}
}

// Notify sends a fire-and-forget notification.
func (m *Mux) Notify(payload []byte) error {
	select {
	case m.outbox <- outboundFrame{tag: 0, payload: payload}:
		return nil
	case <-m.done:
		return m.closeErr
	}
}

// shutdown resolves every pending request with err and marks the Mux
// closed; safe to call more than once.
func (m *Mux) shutdown(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if err == nil {
		err = orcherr.Disconnected(fmt.Errorf("mux: closed"))
	}
	m.closeErr = err
	pending := m.pending
	m.pending = make(map[proto.RequestID]chan frameOrErr)
	m.mu.Unlock()

	for _, slot := range pending {
		slot <- frameOrErr{err: err}
	}
	close(m.done)
}

// RequestHandle tracks the single-shot reply obligation for one inbound
// request (§4.3: "a handle dropped without reply is a fatal programming
// error").
type RequestHandle struct {
	mux     *Mux
	id      proto.RequestID
	replied atomic.Bool
}

// ID returns the request's wire identifier.
func (h *RequestHandle) ID() proto.RequestID { return h.id }

// Reply sends the response payload. Calling Reply more than once is a
// programming error and returns orcherr.Programming without sending
// anything.
func (h *RequestHandle) Reply(payload []byte) error {
	if !h.replied.CompareAndSwap(false, true) {
		return orcherr.Programming(fmt.Errorf("mux: request %d already replied to", h.id))
	}
	select {
	case h.mux.outbox <- outboundFrame{tag: proto.TagForResponse(h.id), payload: payload}:
		return nil
	case <-h.mux.done:
		return h.mux.closeErr
	}
}
