package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/context-raii/ctxhook/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect ctxhook's resolved configuration",
	}
	cmd.AddCommand(configExportCmd())
	return cmd
}

func configExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the fully resolved configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.ExportYAML()
			if err != nil {
				return fmt.Errorf("export config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
