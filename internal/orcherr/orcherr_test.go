package orcherr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsCascadeRecognizesSentinelThroughWrap(t *testing.T) {
	wrapped := fmt.Errorf("sub-lex failed: %w", Cascade)
	require.True(t, IsCascade(wrapped))
	require.False(t, IsCascade(errors.New("plain")))
}

func TestIsFatalOnlyForFatalKinds(t *testing.T) {
	require.True(t, IsFatal(Fatal(errors.New("bad tag"))))
	require.True(t, IsFatal(Programming(errors.New("double release"))))
	require.False(t, IsFatal(Domain(errors.New("not found"))))
	require.False(t, IsFatal(Disconnected(errors.New("eof"))))
	require.False(t, IsFatal(Cascade))
}

func TestKindOfDefaultsToDomain(t *testing.T) {
	require.Equal(t, KindDomain, KindOf(errors.New("plain")))
}
