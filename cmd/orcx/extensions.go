package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/orchid-lang/corex/internal/config"
	"github.com/orchid-lang/corex/internal/host"
	"github.com/orchid-lang/corex/internal/metrics"
	"github.com/orchid-lang/corex/internal/mux"
	"github.com/orchid-lang/corex/internal/system"
)

const stopGracePeriod = 5 * time.Second

var extensionsCmd = &cobra.Command{
	Use:   "extensions",
	Short: "Start every manifest-declared extension and list its declared systems",
	RunE:  runExtensions,
}

func init() {
	rootCmd.AddCommand(extensionsCmd)
}

func runExtensions(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("orcx: building logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	man, err := config.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("orcx: loading manifest: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mreg := metrics.NewRegistry(prometheus.NewRegistry())
	sup := host.NewSupervisor(log, mreg)
	conns, err := sup.StartAll(ctx, man, os.Stderr, func(system.ExtensionID) (mux.NotificationHandler, mux.RequestHandler) {
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("orcx: starting extensions: %w", err)
	}
	defer func() {
		for _, c := range conns {
			_ = c.Proc.Stop(stopGracePeriod)
		}
	}()

	for _, c := range conns {
		fmt.Printf("%s  (%s %v)\n", c.Ext, c.Spec.Command, c.Spec.Args)
		for _, d := range c.Header.Systems {
			fmt.Printf("  - %s  priority=%.2f  depends=%v\n", d.Name, d.Priority, d.Depends)
		}
	}
	return nil
}
