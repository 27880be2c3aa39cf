package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/orchid-lang/corex/internal/config"
	"github.com/orchid-lang/corex/internal/driver"
	"github.com/orchid-lang/corex/internal/host"
	"github.com/orchid-lang/corex/internal/hostconn"
	"github.com/orchid-lang/corex/internal/intern"
	"github.com/orchid-lang/corex/internal/metrics"
	"github.com/orchid-lang/corex/internal/proto"
	"github.com/orchid-lang/corex/internal/system"
	"github.com/orchid-lang/corex/internal/ticket"
)

// session bundles the bootstrap every orcx subcommand that talks to a
// live extension needs: spawned connections, the wiring layer, and the
// coordinators it dispatches to. Factored out of runLex so orcx vfs and
// orcx sysreq can share the same spawn/handshake/instantiate sequence
// instead of re-deriving it per subcommand.
type session struct {
	log      *zap.Logger
	conns    []*host.Conn
	router   *hostconn.Router
	srv      *hostconn.Server
	sysMgr   *system.Manager
	lexCoord *driver.LexCoordinator
	strings  *intern.HostTable
	runErrs  chan error
}

// startSession loads the manifest (filtered to exts), spawns and
// bootstraps every extension, and returns a session ready for
// system.Manager.Instantiate. The caller must arrange to call
// session.shutdown(ctx, cancel) when done.
func startSession(ctx context.Context, exts []string) (*session, error) {
	log, err := newLogger()
	if err != nil {
		return nil, fmt.Errorf("orcx: building logger: %w", err)
	}

	man, err := config.Load(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("orcx: loading manifest: %w", err)
	}
	man = filterManifest(man, exts)

	router := hostconn.NewRouter()
	exprs := hostconn.NewExprStore()
	tickets := ticket.NewManager(exprs.Lookup, func(tk proto.ExprTicket) {
		log.Debug("expression ticket dropped", zap.Uint64("ticket", uint64(tk)))
	})
	lexCoord := driver.NewLexCoordinator()
	macroCoord := driver.NewMacroCoordinator()
	strTable := intern.NewHostTable()
	srv := hostconn.NewServer(log, tickets, exprs, lexCoord, macroCoord, strTable, router)

	mreg := metrics.NewRegistry(prometheus.NewRegistry())
	mreg.Poll(metrics.Sources{
		LiveTickets:     tickets.Live,
		InternCacheSize: func() int { return len(strTable.Tokens()) },
	})
	router.SetMetrics(mreg)
	srv.Metrics = mreg

	sup := host.NewSupervisor(log, mreg)
	conns, err := sup.StartAll(ctx, man, os.Stderr, srv.HandlerFor)
	if err != nil {
		return nil, fmt.Errorf("orcx: starting extensions: %w", err)
	}
	for _, c := range conns {
		router.Add(c.Ext, c.Mux)
	}

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- host.Run(ctx, conns) }()

	sysMgr := system.NewManager(router, tickets)
	return &session{
		log:      log,
		conns:    conns,
		router:   router,
		srv:      srv,
		sysMgr:   sysMgr,
		lexCoord: lexCoord,
		strings:  strTable,
		runErrs:  runErrCh,
	}, nil
}

// Lex runs the lex coordinator's dialogue over candidates, wiring srv's
// LexCandidates hook so an incoming ExtSubLex request can be answered.
func (s *session) Lex(ctx context.Context, candidates []proto.SysId, text string) (*driver.LexedExpr, *proto.OrcError, error) {
	s.srv.LexCandidates = func() []proto.SysId { return candidates }
	return s.lexCoord.Lex(ctx, s.router, candidates, text, 0)
}

// instantiate resolves decls from every connected extension's header and
// instantiates names (or every declared system if names is empty).
func (s *session) instantiate(ctx context.Context, names []string) ([]*system.Instance, error) {
	var decls []system.Decl
	for _, c := range s.conns {
		for _, d := range c.Header.Systems {
			decls = append(decls, system.Decl{Ext: c.Ext, Decl: d})
		}
	}
	instances, err := s.sysMgr.Instantiate(ctx, decls, names)
	if err != nil {
		return nil, fmt.Errorf("orcx: instantiating systems: %w", err)
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("orcx: no system instantiated (check --ext/--system against `orcx extensions`)")
	}
	return instances, nil
}

// shutdown sweeps every extension's interner down to the tokens this
// session actually minted, cancels ctx, stops every subprocess, and
// waits for the Mux run loop to return.
func (s *session) shutdown(ctx context.Context, cancel context.CancelFunc) {
	keep := s.strings.Tokens()
	for _, c := range s.conns {
		if err := s.router.Sweep(ctx, c.Ext, keep); err != nil {
			s.log.Warn("interner sweep failed", zap.String("ext", string(c.Ext)), zap.Error(err))
		}
	}
	cancel()
	for _, c := range s.conns {
		_ = c.Proc.Stop(stopGracePeriod)
	}
	<-s.runErrs
}
