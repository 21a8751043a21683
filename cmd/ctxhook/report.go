package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/context-raii/ctxhook/internal/render"
)

func reportCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Evaluate every chunk against the eviction rules and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.engine.Run(cmd.Context(), !dryRun)
			if err != nil {
				return fmt.Errorf("run eviction engine: %w", err)
			}
			out, err := render.Report(rep)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate without marking chunks evictable or abandoning stale tasks")
	return cmd
}
