package main

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the eviction report each time eviction_hints.json changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("new watcher: %w", err)
			}
			defer watcher.Close()

			if err := watcher.Add(a.store.Dir()); err != nil {
				return fmt.Errorf("watch %s: %w", a.store.Dir(), err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s for eviction_hints.json changes (ctrl-c to stop)\n", a.store.Dir())
			for {
				select {
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if filepath.Base(event.Name) != "eviction_hints.json" {
						continue
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
						continue
					}
					hints, err := a.advisor.ReadHints()
					if err != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "read hints: %v\n", err)
						continue
					}
					fmt.Fprintln(cmd.OutOrStdout(), hints.CompactionGuidance)
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "watch error: %v\n", err)
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				}
			}
		},
	}
}

