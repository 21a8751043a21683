package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/context-raii/ctxhook/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the store's on-disk schema version against this binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			onDisk, err := a.store.SchemaVersionOnDisk(cmd.Context())
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			if onDisk == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "store at %s has no schema_meta row (fresh install)\n", a.store.Dir())
				return nil
			}

			out := cmd.OutOrStdout()
			switch {
			case !semver.IsValid(onDisk):
				fmt.Fprintf(out, "on-disk schema version %q is not valid semver\n", onDisk)
			case semver.Compare(semver.MajorMinor(onDisk), semver.MajorMinor(store.SchemaVersion)) == 0:
				fmt.Fprintf(out, "ok: store schema %s matches binary schema %s\n", onDisk, store.SchemaVersion)
			case semver.Major(onDisk) != semver.Major(store.SchemaVersion):
				fmt.Fprintf(out, "incompatible: store schema %s, binary expects %s (major version mismatch)\n", onDisk, store.SchemaVersion)
			default:
				fmt.Fprintf(out, "drifted: store schema %s, binary expects %s (minor version mismatch, migrations will reconcile)\n", onDisk, store.SchemaVersion)
			}
			return nil
		},
	}
}
