// Package config loads the host-side extension manifest: which
// extension binaries to spawn, how to invoke them, their declared log
// strategy, and their restart policy on crash. Grounded on
// SPEC_FULL.md §2's configuration addition, using
// github.com/BurntSushi/toml for the file format and mirroring
// internal/state's environment-driven path resolution (see paths.go).
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cenkalti/backoff/v4"

	"github.com/orchid-lang/corex/internal/proto"
)

// Manifest is the top-level TOML document: one [[extension]] table per
// binary the host should spawn.
type Manifest struct {
	Extensions []ExtensionSpec `toml:"extension"`
}

// ExtensionSpec declares one extension binary.
type ExtensionSpec struct {
	Name    string   `toml:"name"`
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Log     LogSpec  `toml:"log"`
	Restart RestartSpec `toml:"restart"`
}

// LogSpec is the TOML surface for proto.LogStrategy.
type LogSpec struct {
	// Mode is "stderr" (default) or "file".
	Mode string `toml:"mode"`
	// Path is used when Mode == "file"; relative paths resolve under
	// RootDir()/logs (see ResolveLogPath).
	Path string `toml:"path"`
}

// Strategy converts a LogSpec into the wire-level proto.LogStrategy,
// resolving a relative file path the way internal/state resolves
// relative runtime artifact paths.
func (s LogSpec) Strategy() (proto.LogStrategy, error) {
	switch s.Mode {
	case "", "stderr":
		return proto.LogStrategy{Tag: proto.LogStdErr}, nil
	case "file":
		if s.Path == "" {
			return proto.LogStrategy{}, fmt.Errorf("config: log mode \"file\" requires a path")
		}
		resolved, err := ResolveLogPath(s.Path)
		if err != nil {
			return proto.LogStrategy{}, fmt.Errorf("config: resolving log path: %w", err)
		}
		return proto.LogStrategy{Tag: proto.LogFile, Path: resolved}, nil
	default:
		return proto.LogStrategy{}, fmt.Errorf("config: unknown log mode %q", s.Mode)
	}
}

// RestartSpec is an extension's restart policy as read from the
// manifest; BackOff converts it to a backoff policy. internal/host does
// not consult it: an extension process that exits is not respawned.
type RestartSpec struct {
	Enabled         bool   `toml:"enabled"`
	MaxRetries      int    `toml:"max_retries"`
	InitialInterval string `toml:"initial_interval"` // time.ParseDuration syntax, e.g. "250ms"
	MaxInterval     string `toml:"max_interval"`
}

// BackOff builds a cenkalti/backoff/v4 policy from the spec, wrapped
// with a retry ceiling when MaxRetries > 0. Returns nil when restart is
// disabled, signaling the caller should not respawn at all.
func (s RestartSpec) BackOff() (backoff.BackOff, error) {
	if !s.Enabled {
		return nil, nil
	}
	eb := backoff.NewExponentialBackOff()
	if s.InitialInterval != "" {
		d, err := time.ParseDuration(s.InitialInterval)
		if err != nil {
			return nil, fmt.Errorf("config: restart.initial_interval: %w", err)
		}
		eb.InitialInterval = d
	}
	if s.MaxInterval != "" {
		d, err := time.ParseDuration(s.MaxInterval)
		if err != nil {
			return nil, fmt.Errorf("config: restart.max_interval: %w", err)
		}
		eb.MaxElapsedTime = 0
		eb.MaxInterval = d
	}
	var b backoff.BackOff = eb
	if s.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(s.MaxRetries))
	}
	return b, nil
}

// Load decodes a manifest from path and validates it.
func Load(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks structural invariants the TOML decoder cannot: unique
// non-empty names and a runnable command per extension.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Extensions))
	for _, e := range m.Extensions {
		if e.Name == "" {
			return fmt.Errorf("config: extension with empty name")
		}
		if seen[e.Name] {
			return fmt.Errorf("config: duplicate extension name %q", e.Name)
		}
		seen[e.Name] = true
		if e.Command == "" {
			return fmt.Errorf("config: extension %q has no command", e.Name)
		}
	}
	return nil
}

// Lookup returns the spec for name, if declared.
func (m *Manifest) Lookup(name string) (ExtensionSpec, bool) {
	for _, e := range m.Extensions {
		if e.Name == name {
			return e, true
		}
	}
	return ExtensionSpec{}, false
}
