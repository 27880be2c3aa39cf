// Package extsdk is the library an extension binary links against: it
// performs the host<->extension header handshake of §4.10/§6 and then
// hands the caller a running internal/mux.Mux for the request/
// notification loop.
//
// Grounded on the teacher's cmd/dev-console entrypoint shape (parse a
// fixed preamble, then loop reading framed messages), rewritten for the
// binary intro-string-plus-codec preamble spec.md §6 specifies instead
// of the teacher's line-based JSON-RPC preamble.
package extsdk

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/orchid-lang/corex/internal/codec"
	"github.com/orchid-lang/corex/internal/mux"
	"github.com/orchid-lang/corex/internal/proto"
	"github.com/orchid-lang/corex/internal/transport"
)

// Config describes the extension presenting itself to the host.
type Config struct {
	Name    string
	Systems []proto.SystemDecl
}

// Handshake performs the ext-side half of the bootstrap exchange over r
// (the host's stdout, as seen by the extension) and w (the extension's
// stdout, read by the host): read the host's intro and LogStrategy, then
// write the extension's own intro, name, and declared systems. It
// returns the host's chosen LogStrategy so the caller can configure its
// own logger before entering the main loop, per SPEC_FULL.md §6's
// "zap logger configured to write where LogStrategy says" addition.
func Handshake(r io.Reader, w io.Writer, cfg Config) (proto.LogStrategy, error) {
	if err := expectIntro(r, proto.HostIntro); err != nil {
		return proto.LogStrategy{}, fmt.Errorf("extsdk: host intro: %w", err)
	}

	host, err := proto.ReadHostHeader(codec.NewReader(r))
	if err != nil {
		return proto.LogStrategy{}, fmt.Errorf("extsdk: read host header: %w", err)
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(proto.ExtIntro); err != nil {
		return proto.LogStrategy{}, fmt.Errorf("extsdk: write ext intro: %w", err)
	}
	hdr := proto.ExtensionHeader{Name: cfg.Name, Systems: cfg.Systems}
	if err := proto.WriteExtensionHeader(codec.NewWriter(bw), hdr); err != nil {
		return proto.LogStrategy{}, fmt.Errorf("extsdk: write extension header: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return proto.LogStrategy{}, fmt.Errorf("extsdk: flush ext header: %w", err)
	}

	return host.Log, nil
}

func expectIntro(r io.Reader, want string) error {
	buf := make([]byte, len(want))
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	if string(buf) != want {
		return fmt.Errorf("unexpected intro %q", buf)
	}
	return nil
}

// HostHandshake performs the host-side half of the exchange over r (the
// extension's stdout) and w (the extension's stdin): write the host's
// intro and LogStrategy, then read back the extension's intro, name, and
// declared systems. Lives alongside Handshake rather than in a separate
// package because the two halves are one wire protocol, mirroring how
// the teacher keeps both directions of its bridge protocol in
// internal/bridge rather than splitting client and server concerns.
func HostHandshake(r io.Reader, w io.Writer, log proto.LogStrategy) (proto.ExtensionHeader, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(proto.HostIntro); err != nil {
		return proto.ExtensionHeader{}, fmt.Errorf("extsdk: write host intro: %w", err)
	}
	if err := proto.WriteHostHeader(codec.NewWriter(bw), proto.HostHeader{Log: log}); err != nil {
		return proto.ExtensionHeader{}, fmt.Errorf("extsdk: write host header: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return proto.ExtensionHeader{}, fmt.Errorf("extsdk: flush host header: %w", err)
	}

	if err := expectIntro(r, proto.ExtIntro); err != nil {
		return proto.ExtensionHeader{}, fmt.Errorf("extsdk: ext intro: %w", err)
	}
	hdr, err := proto.ReadExtensionHeader(codec.NewReader(r))
	if err != nil {
		return proto.ExtensionHeader{}, fmt.Errorf("extsdk: read extension header: %w", err)
	}
	for _, d := range hdr.Systems {
		if err := d.Validate(); err != nil {
			return proto.ExtensionHeader{}, fmt.Errorf("extsdk: %s: %w", hdr.Name, err)
		}
	}
	return hdr, nil
}

// Run starts a Mux loop over conn's frame-based protocol and blocks
// until it ends. It does not perform the handshake: the caller runs
// Handshake over conn.Preamble() first. Logging goes to log, which the
// caller builds for the host's chosen strategy; cfg is not read.
func Run(ctx context.Context, conn *transport.Duplex, log *zap.Logger, cfg Config, onNotify mux.NotificationHandler, onRequest mux.RequestHandler) error {
	m := mux.New(conn, log, onNotify, onRequest)
	return m.Run(ctx)
}
