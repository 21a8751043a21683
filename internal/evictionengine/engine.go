// Package evictionengine classifies each context chunk as preserved or
// evictable by running four ordered rules in sequence: supersession,
// active reference, ownership, declared dependency. The first rule that
// applies decides the chunk's fate.
package evictionengine

import (
	"context"
	"fmt"
	"time"

	"github.com/context-raii/ctxhook/internal/contexttagger"
	"github.com/context-raii/ctxhook/internal/referencegraph"
	"github.com/context-raii/ctxhook/internal/taskregistry"
	"github.com/context-raii/ctxhook/internal/types"
)

// AbandonedTaskThreshold is the number of chunks created since a task began
// that marks it stale.
const AbandonedTaskThreshold = 50

// Reasons a chunk is kept, or how it became evictable. These string values
// are part of the on-disk hints contract: compactionadvisor writes them
// verbatim into the hints document and compliance monitor.
const (
	ReasonPreviouslyEvictable    = "previously_marked_evictable"
	ReasonSupersededActive       = "superseded_but_task_still_active"
	ReasonReferencedActive       = "referenced_by_active_task"
	ReasonOwningTaskNotComplete  = "owning_task_not_complete"
	ReasonActiveDependentTask    = "active_dependent_task"
	ReasonAllCompleteNoActiveRef = "all_tasks_complete_no_active_refs"
)

// Report is the outcome of one evaluation pass.
type Report struct {
	EvictableChunks []string
	PreservedChunks []string
	Reasons         map[string]string // chunk id -> reason
	AbandonedTasks  []string
	GeneratedAt     time.Time
}

// TotalTokensEvictable sums the size of every evictable chunk, given a
// lookup of chunk id to chunk.
func (r *Report) TotalTokensEvictable(chunks map[string]*types.ContextChunk) int {
	total := 0
	for _, id := range r.EvictableChunks {
		if c, ok := chunks[id]; ok {
			total += c.SizeTokens
		}
	}
	return total
}

// Engine evaluates every chunk in the store against the four eviction
// rules.
type Engine struct {
	tagger   *contexttagger.Tagger
	registry *taskregistry.Registry
	graph    *referencegraph.Graph
}

// New returns an Engine wired to the given components.
func New(tagger *contexttagger.Tagger, registry *taskregistry.Registry, graph *referencegraph.Graph) *Engine {
	return &Engine{tagger: tagger, registry: registry, graph: graph}
}

// Run evaluates every chunk. When updateDB is true, abandoned tasks are
// transitioned and newly-evictable chunks are persisted as evictable;
// when false the pass is read-only (used for `ctxhook report --dry-run`).
func (e *Engine) Run(ctx context.Context, updateDB bool) (*Report, error) {
	report := &Report{Reasons: map[string]string{}, GeneratedAt: time.Now().UTC()}

	if updateDB {
		abandoned, err := e.registry.AbandonStaleTasks(ctx, AbandonedTaskThreshold)
		if err != nil {
			return nil, fmt.Errorf("evictionengine: abandon stale tasks: %w", err)
		}
		report.AbandonedTasks = abandoned
	}

	chunks, err := e.tagger.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("evictionengine: list chunks: %w", err)
	}

	tasks, err := e.registry.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("evictionengine: list tasks: %w", err)
	}
	tasksByID := make(map[string]*types.Task, len(tasks))
	for _, t := range tasks {
		tasksByID[t.ID] = t
	}

	activeReferenced, err := e.graph.ChunksReferencedByActiveTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("evictionengine: active referenced chunks: %w", err)
	}

	supersessionIndex := buildSupersessionIndex(chunks)

	for _, chunk := range chunks {
		if chunk.Status == types.ChunkEvictable {
			report.EvictableChunks = append(report.EvictableChunks, chunk.ID)
			report.Reasons[chunk.ID] = ReasonPreviouslyEvictable
			continue
		}

		reason, evictable, err := e.whyKeep(ctx, chunk, tasksByID, activeReferenced, supersessionIndex)
		if err != nil {
			return nil, err
		}
		if evictable {
			report.EvictableChunks = append(report.EvictableChunks, chunk.ID)
			report.Reasons[chunk.ID] = reason
			if updateDB {
				if err := e.tagger.MarkEvictable(ctx, chunk.ID); err != nil {
					return nil, fmt.Errorf("evictionengine: mark evictable %s: %w", chunk.ID, err)
				}
			}
			continue
		}
		report.PreservedChunks = append(report.PreservedChunks, chunk.ID)
		report.Reasons[chunk.ID] = reason
	}

	return report, nil
}

// whyKeep applies the four ordered rules to a single chunk. A reason of
// ReasonAllCompleteNoActiveRef paired with evictable=true means "safe to
// evict"; any other reason means "keep", with evictable=false.
func (e *Engine) whyKeep(ctx context.Context, chunk *types.ContextChunk, tasksByID map[string]*types.Task, activeReferenced map[string]bool, supersessionIndex map[string]string) (string, bool, error) {
	// Rule 1: supersession. A later chunk with the same (tool_name, tool_input)
	// signature replaces this one's information entirely.
	sig, err := chunkSignature(chunk)
	if err != nil {
		return "", false, err
	}
	if latest, ok := supersessionIndex[sig]; ok && latest != chunk.ID {
		complete, err := e.allOwningTasksComplete(chunk, tasksByID)
		if err != nil {
			return "", false, err
		}
		if complete {
			return ReasonAllCompleteNoActiveRef, true, nil
		}
		return ReasonSupersededActive, false, nil
	}

	// Rule 2: active reference. A still-active task cites this chunk's content.
	if activeReferenced[chunk.ID] {
		return ReasonReferencedActive, false, nil
	}

	// Rule 3: ownership. Every task that owns this chunk must be complete.
	// Orphan chunks (no owning task at all) are never considered complete.
	complete, err := e.allOwningTasksComplete(chunk, tasksByID)
	if err != nil {
		return "", false, err
	}
	if !complete {
		return ReasonOwningTaskNotComplete, false, nil
	}

	// Rule 4: declared dependency. An owning task has an active dependent
	// that may still need this chunk's context.
	hasActiveDependent, err := e.anyOwningTaskHasActiveDependents(ctx, chunk)
	if err != nil {
		return "", false, err
	}
	if hasActiveDependent {
		return ReasonActiveDependentTask, false, nil
	}

	return ReasonAllCompleteNoActiveRef, true, nil
}

func (e *Engine) allOwningTasksComplete(chunk *types.ContextChunk, tasksByID map[string]*types.Task) (bool, error) {
	if len(chunk.TaskIDs) == 0 {
		return false, nil
	}
	for _, taskID := range chunk.TaskIDs {
		task, ok := tasksByID[taskID]
		if !ok || !task.Status.IsTerminal() {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) anyOwningTaskHasActiveDependents(ctx context.Context, chunk *types.ContextChunk) (bool, error) {
	for _, taskID := range chunk.TaskIDs {
		has, err := e.registry.HasActiveDependents(ctx, taskID)
		if err != nil {
			return false, err
		}
		if has {
			return true, nil
		}
	}
	return false, nil
}

// buildSupersessionIndex maps each (tool_name, tool_input) signature to the
// id of the most-recently-created chunk sharing it, relying on chunks being
// supplied in created_at-ascending order (ContextTagger.ListAll's contract)
// so later entries overwrite earlier ones.
func buildSupersessionIndex(chunks []*types.ContextChunk) map[string]string {
	index := make(map[string]string, len(chunks))
	for _, chunk := range chunks {
		sig, err := chunkSignature(chunk)
		if err != nil {
			continue
		}
		index[sig] = chunk.ID
	}
	return index
}

// chunkSignature is "tool_name::canonical(tool_input)": two chunks share a
// signature when they capture the same tool called with the same inputs.
func chunkSignature(chunk *types.ContextChunk) (string, error) {
	canonical, err := types.CanonicalJSON(chunk.ToolInput)
	if err != nil {
		return "", fmt.Errorf("evictionengine: signature for %s: %w", chunk.ID, err)
	}
	return chunk.ToolName + "::" + canonical, nil
}
