package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StateDirEnv overrides the default runtime state root. Grounded on
// internal/state.StateDirEnv's env-override-then-fallback convention,
// renamed for this runtime.
const StateDirEnv = "ORCHID_STATE_DIR"

const appName = "orchid"

// RootDir returns the runtime state root: ORCHID_STATE_DIR if set,
// otherwise os.UserConfigDir()/orchid. Used to resolve a relative
// LogStrategy.File path.
func RootDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(StateDirEnv)); override != "" {
		return filepath.Clean(override), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: cannot determine user config directory: %w", err)
	}
	return filepath.Join(dir, appName), nil
}

// InRoot joins elem onto RootDir().
func InRoot(elem ...string) (string, error) {
	root, err := RootDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append([]string{root}, elem...)...), nil
}

// ResolveLogPath returns path unchanged if absolute, otherwise joins it
// under RootDir()/logs, mirroring internal/state.DefaultLogFile's
// "relative paths live under the state root's logs dir" convention.
func ResolveLogPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	return InRoot("logs", path)
}
