package interceptor

import (
	"context"
	"fmt"

	"github.com/context-raii/ctxhook/internal/compactionadvisor"
	"github.com/context-raii/ctxhook/internal/contexttagger"
	"github.com/context-raii/ctxhook/internal/debug"
	"github.com/context-raii/ctxhook/internal/evictionengine"
	"github.com/context-raii/ctxhook/internal/referencegraph"
	"github.com/context-raii/ctxhook/internal/sessionbootstrap"
	"github.com/context-raii/ctxhook/internal/store"
	"github.com/context-raii/ctxhook/internal/taskregistry"
	"github.com/context-raii/ctxhook/internal/types"
)

// Interceptor wires the four event handlers to the underlying components.
// Each handler is stateless across invocations: all durable state lives in
// the Store and the pending-tag sidecar.
type Interceptor struct {
	store    *store.Store
	registry *taskregistry.Registry
	tagger   *contexttagger.Tagger
	graph    *referencegraph.Graph
	engine   *evictionengine.Engine
	advisor  *compactionadvisor.Advisor
}

// New returns an Interceptor wired to the given components.
func New(s *store.Store, registry *taskregistry.Registry, tagger *contexttagger.Tagger, graph *referencegraph.Graph, engine *evictionengine.Engine, advisor *compactionadvisor.Advisor) *Interceptor {
	return &Interceptor{store: s, registry: registry, tagger: tagger, graph: graph, engine: engine, advisor: advisor}
}

// PreToolUse mutates the task registry for task-lifecycle tools, writes the
// pending tag, and blocks work tools that have no active task.
func (ic *Interceptor) PreToolUse(ctx context.Context, ev *Event) *Decision {
	if taskLifecycleTools[ev.ToolName] {
		if err := ic.applyLifecycleTool(ctx, ev.ToolName, ev.ToolInput); err != nil {
			debug.Logf("interceptor", "pre-tool-use: lifecycle mutation for %s failed: %v", ev.ToolName, err)
		}
	}

	activeTaskID := ""
	if active, err := ic.registry.GetCurrentActive(ctx); err != nil {
		debug.Logf("interceptor", "pre-tool-use: get current active: %v", err)
	} else if active != nil {
		activeTaskID = active.ID
	}

	WritePendingTag(ic.store.Dir(), &PendingTag{
		InvocationID: ev.ToolUseID,
		ToolName:     ev.ToolName,
		ToolInput:    ev.ToolInput,
		SessionID:    ev.SessionID,
		ActiveTaskID: activeTaskID,
	})

	if workTools[ev.ToolName] && activeTaskID == "" {
		return &Decision{Decision: "block", Reason: "no active task: create a task before using a work tool"}
	}
	return &Decision{}
}

// PostToolUse ingests the tool's result as a chunk, applies write
// invalidation for file mutators, runs the eviction engine when a task
// completes, and records refetch compliance for file reads.
func (ic *Interceptor) PostToolUse(ctx context.Context, ev *Event) *Decision {
	activeTaskID := ic.resolveActiveTaskID(ctx, ev)

	var taskIDs []string
	if activeTaskID != "" {
		taskIDs = []string{activeTaskID}
	}
	if _, err := ic.tagger.Ingest(ctx, ev.ToolUseID, ev.ToolName, ev.ToolInput, ev.ToolResponse, ev.SessionID, taskIDs); err != nil {
		debug.Logf("interceptor", "post-tool-use: ingest %s: %v", ev.ToolUseID, err)
		return &Decision{}
	}
	if activeTaskID != "" {
		if err := ic.registry.TagChunk(ctx, activeTaskID, ev.ToolUseID); err != nil {
			debug.Logf("interceptor", "post-tool-use: tag chunk: %v", err)
		}
	}

	if fileMutatorTools[ev.ToolName] {
		for _, path := range extractEditedPaths(ev.ToolInput) {
			if _, err := ic.tagger.InvalidateReadsForPath(ctx, path); err != nil {
				debug.Logf("interceptor", "post-tool-use: invalidate reads for %s: %v", path, err)
			}
		}
	}

	if ev.ToolName == "TaskUpdate" {
		if status, _ := ev.ToolInput["status"].(string); types.TaskStatus(status) == types.TaskCompleted {
			if _, err := ic.engine.Run(ctx, true); err != nil {
				debug.Logf("interceptor", "post-tool-use: eviction run: %v", err)
			}
		}
	}

	if ev.ToolName == "Read" {
		if path, _ := ev.ToolInput["file_path"].(string); path != "" {
			if _, err := ic.advisor.RecordRefetch(ctx, path); err != nil {
				debug.Logf("interceptor", "post-tool-use: record refetch %s: %v", path, err)
			}
		}
	}

	return &Decision{}
}

// PreCompact generates fresh hints, persists the hint document and
// compliance monitor, and returns the guidance text for the host to show
// its summarizer. It never fails closed: any error degrades to an empty
// decision.
func (ic *Interceptor) PreCompact(ctx context.Context, ev *PreCompactEvent) *Decision {
	hints, err := ic.advisor.GenerateHints(ctx, true)
	if err != nil {
		debug.Logf("interceptor", "pre-compact: generate hints: %v", err)
		return &Decision{}
	}
	if err := ic.advisor.WriteHints(hints); err != nil {
		debug.Logf("interceptor", "pre-compact: write hints: %v", err)
	}
	eventID, err := ic.advisor.LogCompactionEvent(ctx, ev.SessionID, hints)
	if err != nil {
		debug.Logf("interceptor", "pre-compact: log compaction event: %v", err)
	} else if _, err := ic.advisor.WriteComplianceMonitor(ctx, eventID, ev.SessionID, hints); err != nil {
		debug.Logf("interceptor", "pre-compact: write compliance monitor: %v", err)
	}
	return &Decision{AdditionalContext: hints.CompactionGuidance}
}

// SessionStart publishes the workflow contract, and on a post-compaction
// restart also publishes a state summary.
func (ic *Interceptor) SessionStart(ctx context.Context, ev *SessionStartEvent) *Decision {
	text := sessionbootstrap.BuildContract()
	if ev.Source == "compact" {
		summary, err := sessionbootstrap.BuildPostCompactionSummary(ctx, ic.registry, ic.tagger, ic.advisor)
		if err != nil {
			debug.Logf("interceptor", "session-start: build post-compaction summary: %v", err)
		} else {
			text = text + "\n\n" + summary
		}
	}
	return &Decision{AdditionalContext: text}
}

// resolveActiveTaskID inherits the active task id from the pending tag,
// with two corrections: a TaskCreate result is attributed to the task it
// just created, and a TaskUpdate to in_progress is attributed to the task
// being started rather than whatever was active on entry.
func (ic *Interceptor) resolveActiveTaskID(ctx context.Context, ev *Event) string {
	switch ev.ToolName {
	case "TaskCreate":
		if id, _ := ev.ToolInput["id"].(string); id != "" {
			return id
		}
	case "TaskUpdate":
		if status, _ := ev.ToolInput["status"].(string); types.TaskStatus(status) == types.TaskInProgress {
			if id, _ := ev.ToolInput["id"].(string); id != "" {
				return id
			}
		}
	}

	tag, ok := ReadPendingTag(ic.store.Dir())
	if !ok || tag.InvocationID != ev.ToolUseID {
		return ""
	}
	return tag.ActiveTaskID
}

// applyLifecycleTool mutates the task registry in response to a
// task-lifecycle tool seen at pre-tool time.
func (ic *Interceptor) applyLifecycleTool(ctx context.Context, toolName string, toolInput map[string]any) error {
	switch toolName {
	case "TaskCreate":
		id, _ := toolInput["id"].(string)
		subject, _ := toolInput["subject"].(string)
		parentID, _ := toolInput["parent_id"].(string)
		if id == "" {
			return fmt.Errorf("interceptor: TaskCreate missing id")
		}
		_, err := ic.registry.Create(ctx, id, subject, parentID)
		return err
	case "TaskUpdate":
		id, _ := toolInput["id"].(string)
		status, _ := toolInput["status"].(string)
		if id == "" || status == "" {
			return fmt.Errorf("interceptor: TaskUpdate missing id or status")
		}
		if _, err := ic.registry.EnsureExists(ctx, id); err != nil {
			return err
		}
		_, err := ic.registry.UpdateStatus(ctx, id, types.TaskStatus(status))
		return err
	case "TodoWrite":
		return ic.applyTodoWrite(ctx, toolInput)
	}
	return nil
}

// applyTodoWrite reconciles a bulk todo list against the registry: each
// entry upserts a task keyed by id, with its status mapped onto our task
// lifecycle.
func (ic *Interceptor) applyTodoWrite(ctx context.Context, toolInput map[string]any) error {
	todos, _ := toolInput["todos"].([]any)
	for _, raw := range todos {
		todo, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, _ := todo["id"].(string)
		subject, _ := todo["content"].(string)
		status, _ := todo["status"].(string)
		if id == "" {
			continue
		}
		if _, err := ic.registry.Create(ctx, id, subject, ""); err != nil {
			return err
		}
		if status != "" {
			if _, err := ic.registry.UpdateStatus(ctx, id, mapTodoStatus(status)); err != nil {
				return err
			}
		}
	}
	return nil
}

func mapTodoStatus(status string) types.TaskStatus {
	switch status {
	case "in_progress":
		return types.TaskInProgress
	case "completed":
		return types.TaskCompleted
	default:
		return types.TaskPending
	}
}

// extractEditedPaths returns every file path a file-mutator tool touched:
// a single file_path field, or edits[].file_path for MultiEdit, which can
// touch several paths in one call.
func extractEditedPaths(toolInput map[string]any) []string {
	seen := map[string]bool{}
	var paths []string
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	if fp, _ := toolInput["file_path"].(string); fp != "" {
		add(fp)
	}
	if edits, ok := toolInput["edits"].([]any); ok {
		for _, raw := range edits {
			edit, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if fp, _ := edit["file_path"].(string); fp != "" {
				add(fp)
			}
		}
	}
	return paths
}
