package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// manifestPath and verbose are persistent flags every subcommand reads,
// mirroring the teacher's package-level flag variables shared across
// cmd/bd's many subcommand files.
var (
	manifestPath string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "orcx",
	Short: "orcx drives an orchid extension-protocol host from the command line",
	Long: `orcx spawns the extension binaries declared in a TOML manifest,
performs the host<->extension bootstrap handshake, and exposes the
host's lexing and system-instantiation coordinators as one-shot
operations instead of a long-running daemon.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "orchid.toml", "path to the extension manifest (TOML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
}

// newLogger builds the zap.Logger every subcommand configures itself
// with, per SPEC_FULL.md §2's ambient-stack addition.
func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
