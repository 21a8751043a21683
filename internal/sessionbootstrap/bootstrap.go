// Package sessionbootstrap publishes the workflow contract a host injects
// at session start, and the post-compaction state summary that follows a
// compaction-triggered restart.
package sessionbootstrap

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/context-raii/ctxhook/internal/compactionadvisor"
	"github.com/context-raii/ctxhook/internal/contexttagger"
	"github.com/context-raii/ctxhook/internal/taskregistry"
	"github.com/context-raii/ctxhook/internal/types"
)

// BuildContract returns the standing workflow contract every session-start
// publishes: create a task before any work tool, mark it in_progress
// before starting, mark it completed when done.
func BuildContract() string {
	return strings.TrimSpace(`
Context-RAII is tracking this session's tool results against declared tasks.

- Create a task before using a work tool (Edit, Write, MultiEdit, Bash).
- Mark a task in_progress before starting work on it.
- Mark a task completed when its work is done; its context chunks then
  become eligible for eviction unless another active task still
  references or depends on them.
- A task left in_progress with no status change while many other tool
  results accumulate is auto-abandoned and its chunks are released.
`)
}

// BuildPostCompactionSummary renders the active-task list, recently
// completed tasks, fresh-vs-evictable chunk counts, and the token-savings
// estimate from the last hints document, for a session-start triggered by
// a post-compaction restart.
func BuildPostCompactionSummary(ctx context.Context, registry *taskregistry.Registry, tagger *contexttagger.Tagger, advisor *compactionadvisor.Advisor) (string, error) {
	active, err := registry.ListActive(ctx)
	if err != nil {
		return "", fmt.Errorf("sessionbootstrap: list active tasks: %w", err)
	}
	all, err := registry.ListAll(ctx)
	if err != nil {
		return "", fmt.Errorf("sessionbootstrap: list all tasks: %w", err)
	}

	var b strings.Builder
	fmt.Fprintln(&b, "Resuming after compaction.")

	if len(active) == 0 {
		fmt.Fprintln(&b, "No active tasks.")
	} else {
		fmt.Fprintln(&b, "Active tasks:")
		for _, t := range active {
			fmt.Fprintf(&b, "  - %s [%s] %s\n", t.ID, t.Status, t.Subject)
		}
	}

	recent := recentlyCompleted(all, 5)
	if len(recent) > 0 {
		fmt.Fprintln(&b, "Recently completed tasks:")
		for _, t := range recent {
			fmt.Fprintf(&b, "  - %s %s\n", t.ID, t.Subject)
		}
	}

	chunks, err := tagger.ListAll(ctx)
	if err != nil {
		return "", fmt.Errorf("sessionbootstrap: list chunks: %w", err)
	}
	var freshCount, integratedCount, evictableCount int
	for _, c := range chunks {
		switch c.Status {
		case types.ChunkFresh:
			freshCount++
		case types.ChunkIntegrated:
			integratedCount++
		case types.ChunkEvictable:
			evictableCount++
		}
	}
	fmt.Fprintf(&b, "Chunks: %d fresh, %d integrated, %d evictable.\n", freshCount, integratedCount, evictableCount)

	if hints, err := advisor.ReadHints(); err == nil {
		fmt.Fprintf(&b, "Last compaction's token-savings estimate: %d tokens.\n", hints.TokenSavingsEstimate)
	}

	return strings.TrimSpace(b.String()), nil
}

// recentlyCompleted returns up to n completed tasks, most recently
// completed first.
func recentlyCompleted(tasks []*types.Task, n int) []*types.Task {
	var completed []*types.Task
	for _, t := range tasks {
		if t.Status == types.TaskCompleted {
			completed = append(completed, t)
		}
	}
	sort.SliceStable(completed, func(i, j int) bool {
		a, b := completed[i].CompletedAt, completed[j].CompletedAt
		return a != nil && b != nil && a.Before(*b)
	})
	if len(completed) > n {
		completed = completed[len(completed)-n:]
	}
	for i, j := 0, len(completed)-1; i < j; i, j = i+1, j-1 {
		completed[i], completed[j] = completed[j], completed[i]
	}
	return completed
}
