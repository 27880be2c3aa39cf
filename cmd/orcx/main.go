// Command orcx is the command-line entry point for driving an orchid
// extension-protocol host from a terminal: it spawns the extension
// binaries declared in a TOML manifest, performs the §6 bootstrap
// handshake, and exposes the host-side coordinators (lexing, system
// instantiation) as one-shot subcommands rather than a long-running
// daemon.
//
// Grounded on the teacher's cmd/gasoline-cmd flag/subcommand layout
// (tool -> action -> flags) and on steveyegge-beads's cmd/bd cobra
// command tree for multi-level subcommand conventions (root command,
// persistent flags, one file per subcommand registering itself in
// init()).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
