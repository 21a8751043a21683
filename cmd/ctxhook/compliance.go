package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/context-raii/ctxhook/internal/render"
)

func complianceCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "compliance",
		Short: "Print the current compliance monitor, or recent compaction events with --since",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if since == "" {
				m, err := a.advisor.ReadComplianceMonitor()
				if err != nil {
					return fmt.Errorf("read compliance monitor: %w", err)
				}
				fmt.Fprint(cmd.OutOrStdout(), render.Compliance(m))
				return nil
			}

			cutoff, err := parseSince(since)
			if err != nil {
				return fmt.Errorf("--since %q: %w", since, err)
			}
			events, err := a.advisor.ListRecentEvents(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("list recent compaction events: %w", err)
			}
			if len(events) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no compaction events since %s\n", cutoff.Format(time.RFC3339))
				return nil
			}
			for _, e := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  session=%s  evictable=%d preserved=%d  confirmed=%d false_neg=%d  rate=%.2f%%\n",
					e.CompactedAt.Format(time.RFC3339), e.SessionID, e.HintsEvictableCount, e.HintsPreservedCount,
					e.ConfirmedEvicted, e.FalseNegatives, e.ComplianceRate*100)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", `list recent compaction events instead, e.g. "2 hours ago" or "yesterday"`)
	return cmd
}

// parseSince resolves a natural-language duration using the olebedev/when
// parser for human-entered time expressions.
func parseSince(expr string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	result, err := w.Parse(expr, time.Now())
	if err != nil {
		return time.Time{}, err
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("could not parse %q as a time expression", expr)
	}
	return result.Time, nil
}
