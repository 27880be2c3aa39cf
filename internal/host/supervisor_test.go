package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orchid-lang/corex/internal/config"
	"github.com/orchid-lang/corex/internal/mux"
	"github.com/orchid-lang/corex/internal/system"
)

func noHandlers(system.ExtensionID) (mux.NotificationHandler, mux.RequestHandler) {
	return nil, nil
}

func TestStartAllFailsWhenCommandDoesNotExist(t *testing.T) {
	s := NewSupervisor(nil, nil)
	man := &config.Manifest{Extensions: []config.ExtensionSpec{
		{Name: "missing", Command: "/definitely/not/a/real/binary-xyz"},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := s.StartAll(ctx, man, nil, noHandlers)
	require.Error(t, err)
}

// TestStartAllRejectsAnEchoingExtension spawns `cat`, which echoes the
// host's own preamble (intro plus log-strategy byte) straight back
// instead of an extension intro, exercising the real subprocess +
// preamble path end-to-end. The echoed bytes are fewer than the
// extension intro, so the handshake's read of the intro fails once the
// context deadline ends the process, and StartAll reports that error.
func TestStartAllRejectsAnEchoingExtension(t *testing.T) {
	s := NewSupervisor(nil, nil)
	man := &config.Manifest{Extensions: []config.ExtensionSpec{
		{Name: "echo", Command: "cat"},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := s.StartAll(ctx, man, nil, noHandlers)
	require.Error(t, err)
}
