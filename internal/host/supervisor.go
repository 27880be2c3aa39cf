// Package host is the top-level process that owns every extension
// subprocess: it spawns each binary declared in an internal/config
// manifest, performs the bootstrap handshake, and starts each
// connection's internal/mux.Mux loop. Grounded on the teacher's
// cmd/dev-console daemon-management flow (spawn, await ready, hand back
// a live connection) generalized from "one well-known daemon" to
// "an arbitrary set of declared extensions started concurrently."
package host

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orchid-lang/corex/internal/config"
	"github.com/orchid-lang/corex/internal/extsdk"
	"github.com/orchid-lang/corex/internal/metrics"
	"github.com/orchid-lang/corex/internal/mux"
	"github.com/orchid-lang/corex/internal/proto"
	"github.com/orchid-lang/corex/internal/system"
	"github.com/orchid-lang/corex/internal/transport"
)

// gracePeriod bounds how long Stop waits for a graceful exit before
// escalating to a forced kill, mirroring the teacher's daemon shutdown
// timeout.
const gracePeriod = 5 * time.Second

func extHandshake(proc *transport.Subprocess, log proto.LogStrategy) (proto.ExtensionHeader, error) {
	r, w := proc.Duplex.Preamble()
	return extsdk.HostHandshake(r, w, log)
}

// Conn is one live extension connection: its declared header, the
// spawned subprocess, and the mux that will carry requests once Run is
// called.
type Conn struct {
	Ext    system.ExtensionID
	Spec   config.ExtensionSpec
	Header proto.ExtensionHeader
	Proc   *transport.Subprocess
	Mux    *mux.Mux
}

// Handlers supplies the per-extension notification/request callbacks a
// caller wants wired into that extension's Mux.
type Handlers func(ext system.ExtensionID) (mux.NotificationHandler, mux.RequestHandler)

// Supervisor spawns and bootstraps every extension in a manifest.
type Supervisor struct {
	log     *zap.Logger
	metrics *metrics.Registry
}

// NewSupervisor constructs a Supervisor. metrics may be nil if the
// caller does not want pending-request/ticket/atom instrumentation.
func NewSupervisor(log *zap.Logger, m *metrics.Registry) *Supervisor {
	return &Supervisor{log: log, metrics: m}
}

// StartAll spawns every extension in man concurrently, each on its own
// goroutine via golang.org/x/sync/errgroup, returning one Conn per
// extension in manifest order. If any extension fails to start or
// complete its handshake, every already-started subprocess is stopped
// and the first error is returned.
func (s *Supervisor) StartAll(ctx context.Context, man *config.Manifest, stderrSink io.Writer, h Handlers) ([]*Conn, error) {
	conns := make([]*Conn, len(man.Extensions))

	var g errgroup.Group
	for i, spec := range man.Extensions {
		i, spec := i, spec
		g.Go(func() error {
			conn, err := s.startOne(ctx, spec, stderrSink)
			if err != nil {
				return fmt.Errorf("host: starting extension %q: %w", spec.Name, err)
			}
			conns[i] = conn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, c := range conns {
			if c != nil && c.Proc != nil {
				_ = c.Proc.Stop(gracePeriod)
			}
		}
		return nil, err
	}

	for _, c := range conns {
		onNotify, onRequest := h(c.Ext)
		c.Mux = mux.NewWithMetrics(c.Proc.Duplex, s.log, onNotify, onRequest, s.metrics)
	}
	return conns, nil
}

func (s *Supervisor) startOne(ctx context.Context, spec config.ExtensionSpec, stderrSink io.Writer) (*Conn, error) {
	strategy, err := spec.Log.Strategy()
	if err != nil {
		return nil, err
	}

	proc, err := transport.StartSubprocess(ctx, spec.Command, spec.Args, stderrSink, s.log)
	if err != nil {
		return nil, err
	}

	header, err := extHandshake(proc, strategy)
	if err != nil {
		_ = proc.Stop(gracePeriod)
		return nil, err
	}

	return &Conn{
		Ext:    system.ExtensionID(header.Name),
		Spec:   spec,
		Header: header,
		Proc:   proc,
	}, nil
}

// Run starts every connection's Mux loop concurrently and blocks until
// ctx is canceled or one connection's loop returns an error, in which
// case every other connection's loop is also stopped (errgroup's
// context cancellation propagates to the remaining g.Go calls).
func Run(ctx context.Context, conns []*Conn) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range conns {
		c := c
		g.Go(func() error { return c.Mux.Run(gctx) })
	}
	return g.Wait()
}
