package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	sysreqExts   []string
	sysreqSystem string
	sysreqBody   string
)

var sysreqCmd = &cobra.Command{
	Use:   "sysreq",
	Short: "Send a raw, system-defined request body to an instantiated system and print the raw reply",
	Long: "sysreq is an escape hatch for system-specific requests that have no dedicated\n" +
		"orcx subcommand: the body is passed through HostSysReq untouched and the\n" +
		"system's own reply bytes are printed, so its meaning is whatever that\n" +
		"system's extension defines it to be.",
	RunE: runSysreq,
}

func init() {
	sysreqCmd.Flags().StringSliceVarP(&sysreqExts, "ext", "e", nil, "extension name to start (repeatable); defaults to every manifest entry")
	sysreqCmd.Flags().StringVar(&sysreqSystem, "system", "", "system name to send the request to")
	sysreqCmd.Flags().StringVar(&sysreqBody, "body", "", "raw request body")
	_ = sysreqCmd.MarkFlagRequired("system")
	rootCmd.AddCommand(sysreqCmd)
}

func runSysreq(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := startSession(ctx, sysreqExts)
	if err != nil {
		return err
	}
	defer func() { _ = sess.log.Sync() }()
	defer sess.shutdown(ctx, cancel)

	instances, err := sess.instantiate(ctx, []string{sysreqSystem})
	if err != nil {
		return err
	}

	reply, err := sess.router.SysReq(ctx, instances[0].ID, []byte(sysreqBody))
	if err != nil {
		return fmt.Errorf("orcx: sysreq: %w", err)
	}
	fmt.Printf("%s\n", reply)
	return nil
}
