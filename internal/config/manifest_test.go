package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchid-lang/corex/internal/proto"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesExtensions(t *testing.T) {
	path := writeManifest(t, `
[[extension]]
name = "std"
command = "/usr/local/bin/orcx-std"
args = ["--quiet"]

[extension.log]
mode = "stderr"

[extension.restart]
enabled = true
max_retries = 3
initial_interval = "100ms"
`)
	m, err := Load(path)
	require.NoError(t, err)
	require.Len(t, m.Extensions, 1)

	e, ok := m.Lookup("std")
	require.True(t, ok)
	require.Equal(t, "/usr/local/bin/orcx-std", e.Command)
	require.Equal(t, []string{"--quiet"}, e.Args)

	strategy, err := e.Log.Strategy()
	require.NoError(t, err)
	require.Equal(t, proto.LogStdErr, strategy.Tag)

	bo, err := e.Restart.BackOff()
	require.NoError(t, err)
	require.NotNil(t, bo)
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	path := writeManifest(t, `
[[extension]]
name = "dup"
command = "a"

[[extension]]
name = "dup"
command = "b"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingCommand(t *testing.T) {
	path := writeManifest(t, `
[[extension]]
name = "noop"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLogSpecFileModeResolvesRelativePath(t *testing.T) {
	t.Setenv(StateDirEnv, t.TempDir())
	spec := LogSpec{Mode: "file", Path: "ext.log"}
	strategy, err := spec.Strategy()
	require.NoError(t, err)
	require.Equal(t, proto.LogFile, strategy.Tag)
	require.True(t, filepath.IsAbs(strategy.Path))
}

func TestLogSpecFileModeRequiresPath(t *testing.T) {
	spec := LogSpec{Mode: "file"}
	_, err := spec.Strategy()
	require.Error(t, err)
}

func TestLogSpecUnknownModeErrors(t *testing.T) {
	spec := LogSpec{Mode: "carrier-pigeon"}
	_, err := spec.Strategy()
	require.Error(t, err)
}

func TestRestartDisabledReturnsNilBackOff(t *testing.T) {
	bo, err := RestartSpec{Enabled: false}.BackOff()
	require.NoError(t, err)
	require.Nil(t, bo)
}

func TestRootDirHonorsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(StateDirEnv, dir)
	root, err := RootDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Clean(dir), root)
}
