package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/context-raii/ctxhook/internal/compactionadvisor"
	"github.com/context-raii/ctxhook/internal/evictionengine"
)

var (
	evictableStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	preservedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	headingStyle   = lipgloss.NewStyle().Bold(true)
)

// Report renders an eviction report as a markdown document for
// `ctxhook report`, syntax-highlighted through glamour when stdout is a
// terminal and left as plain markdown otherwise (e.g. piped to a file).
func Report(report *evictionengine.Report) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Eviction report\n\n")
	fmt.Fprintf(&b, "Generated at %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05 MST"))

	fmt.Fprintf(&b, "## Evictable (%d)\n\n", len(report.EvictableChunks))
	for _, id := range report.EvictableChunks {
		fmt.Fprintf(&b, "- `%s` — %s\n", id, report.Reasons[id])
	}

	fmt.Fprintf(&b, "\n## Preserved (%d)\n\n", len(report.PreservedChunks))
	for _, id := range report.PreservedChunks {
		fmt.Fprintf(&b, "- `%s` — %s\n", id, report.Reasons[id])
	}

	if len(report.AbandonedTasks) > 0 {
		fmt.Fprintf(&b, "\n## Abandoned tasks (%d)\n\n", len(report.AbandonedTasks))
		for _, id := range report.AbandonedTasks {
			fmt.Fprintf(&b, "- `%s`\n", id)
		}
	}

	if !ShouldUseColor() {
		return b.String(), nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(GetWidth()),
	)
	if err != nil {
		return b.String(), nil
	}
	out, err := renderer.Render(b.String())
	if err != nil {
		return b.String(), nil
	}
	return out, nil
}

// Compliance renders a ComplianceMonitor as a short, styled summary line
// for `ctxhook compliance`.
func Compliance(m *compactionadvisor.ComplianceMonitor) string {
	var b strings.Builder
	fmt.Fprintln(&b, headingStyle.Render("Compliance"))
	fmt.Fprintf(&b, "%s %d\n", evictableStyle.Render("confirmed evicted:"), m.ConfirmedEvicted)
	fmt.Fprintf(&b, "%s %d\n", preservedStyle.Render("false negatives:  "), m.FalseNegatives)
	fmt.Fprintf(&b, "compliance rate:   %.2f%%\n", m.ComplianceRate*100)
	return b.String()
}
