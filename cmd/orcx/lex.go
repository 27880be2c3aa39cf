package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orchid-lang/corex/internal/proto"
)

var (
	lexFile    string
	lexExts    []string
	lexSystems []string
)

var lexCmd = &cobra.Command{
	Use:   "lex",
	Short: "Lex a source file's leading expression using one or more connected extensions",
	RunE:  runLex,
}

func init() {
	lexCmd.Flags().StringVar(&lexFile, "file", "", "path to the source file to lex")
	lexCmd.Flags().StringSliceVarP(&lexExts, "ext", "e", nil, "extension name to start (repeatable); defaults to every manifest entry")
	lexCmd.Flags().StringSliceVarP(&lexSystems, "system", "s", nil, "system name to instantiate (repeatable); defaults to every declared system")
	_ = lexCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(lexCmd)
}

func runLex(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(lexFile)
	if err != nil {
		return fmt.Errorf("orcx: reading %s: %w", lexFile, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := startSession(ctx, lexExts)
	if err != nil {
		return err
	}
	defer func() { _ = sess.log.Sync() }()
	defer sess.shutdown(ctx, cancel)

	instances, err := sess.instantiate(ctx, lexSystems)
	if err != nil {
		return err
	}

	candidates := make([]proto.SysId, len(instances))
	for i, inst := range instances {
		candidates[i] = inst.ID
	}

	lexed, domainErr, lexErr := sess.Lex(ctx, candidates, string(data))
	if lexErr != nil {
		return fmt.Errorf("orcx: lex: %w", lexErr)
	}
	if domainErr != nil {
		fmt.Printf("diagnostic at %s:%d:%d: %s\n", domainErr.Location.Path, domainErr.Location.Line, domainErr.Location.Col, domainErr.Message)
		return nil
	}
	if lexed == nil {
		fmt.Println("no candidate system recognized the input")
		return nil
	}
	fmt.Printf("lexed %d byte(s); resulting expression kind tag=%d\n", lexed.Pos, lexed.Expr.Kind.Tag)
	return nil
}
