package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is orcx's version (overridable via -ldflags the way the
// teacher's cmd/bd overrides its own Version var at build time).
var Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print orcx's version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("orcx version %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
