package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/context-raii/ctxhook/internal/config"
)

func initCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter .raii/config.toml in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			storeDir := config.StoreDir()
			threshold := "50"

			if !yes {
				form := huh.NewForm(
					huh.NewGroup(
						huh.NewInput().
							Title("Store directory").
							Description("Where ctxhook keeps state.db and its sidecar files").
							Value(&storeDir),
						huh.NewInput().
							Title("Abandoned-task threshold").
							Description("Chunks created since a task began before it is auto-abandoned").
							Value(&threshold).
							Validate(func(s string) error {
								_, err := strconv.Atoi(s)
								return err
							}),
					),
				)
				if err := form.Run(); err != nil {
					return fmt.Errorf("init form: %w", err)
				}
			}

			thresholdN, err := strconv.Atoi(threshold)
			if err != nil {
				return fmt.Errorf("invalid abandoned-task threshold %q: %w", threshold, err)
			}

			path := filepath.Join(".raii", "config.toml")
			if err := config.WriteDefaultFile(path); err != nil {
				return err
			}
			config.Set("store-dir", storeDir)
			config.Set("abandoned-threshold", thresholdN)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "accept defaults without prompting")
	return cmd
}
