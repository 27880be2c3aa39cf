package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orchid-lang/corex/internal/system"
)

var (
	vfsExts   []string
	vfsSystem string
	vfsPath   string
)

var vfsCmd = &cobra.Command{
	Use:   "vfs",
	Short: "Declare and read one path from a system's extension-backed VFS projection",
	RunE:  runVfs,
}

func init() {
	vfsCmd.Flags().StringSliceVarP(&vfsExts, "ext", "e", nil, "extension name to start (repeatable); defaults to every manifest entry")
	vfsCmd.Flags().StringVar(&vfsSystem, "system", "", "system name to read from")
	vfsCmd.Flags().StringVar(&vfsPath, "path", "", "VFS path to declare and read")
	_ = vfsCmd.MarkFlagRequired("system")
	_ = vfsCmd.MarkFlagRequired("path")
	rootCmd.AddCommand(vfsCmd)
}

func runVfs(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := startSession(ctx, vfsExts)
	if err != nil {
		return err
	}
	defer func() { _ = sess.log.Sync() }()
	defer sess.shutdown(ctx, cancel)

	instances, err := sess.instantiate(ctx, []string{vfsSystem})
	if err != nil {
		return err
	}
	var inst *system.Instance
	for _, i := range instances {
		if i.Name == vfsSystem {
			inst = i
			break
		}
	}
	if inst == nil {
		return fmt.Errorf("orcx: system %q did not instantiate", vfsSystem)
	}

	entry, err := inst.Vfs.Read(ctx, sess.router, inst.ID, vfsPath)
	if err != nil {
		return fmt.Errorf("orcx: vfs read: %w", err)
	}

	switch entry.Kind {
	case system.VfsSource:
		fmt.Print(entry.Source)
	case system.VfsListing:
		for _, name := range entry.Listing {
			fmt.Println(name)
		}
	case system.VfsNotFound:
		fmt.Printf("%s: not found\n", vfsPath)
	}
	return nil
}
