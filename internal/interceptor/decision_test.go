package interceptor

import (
	"context"
	"testing"

	"github.com/context-raii/ctxhook/internal/compactionadvisor"
	"github.com/context-raii/ctxhook/internal/contexttagger"
	"github.com/context-raii/ctxhook/internal/evictionengine"
	"github.com/context-raii/ctxhook/internal/referencegraph"
	"github.com/context-raii/ctxhook/internal/store"
	"github.com/context-raii/ctxhook/internal/taskregistry"
)

func newTestInterceptor(t *testing.T) (*Interceptor, *taskregistry.Registry, context.Context) {
	t.Helper()
	s, err := store.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	registry := taskregistry.New(s)
	tagger := contexttagger.New(s)
	graph := referencegraph.New(s)
	engine := evictionengine.New(tagger, registry, graph)
	advisor := compactionadvisor.New(s, tagger, registry, engine)
	return New(s, registry, tagger, graph, engine, advisor), registry, context.Background()
}

func TestPreToolUseBlocksWorkToolWithNoActiveTask(t *testing.T) {
	ic, _, ctx := newTestInterceptor(t)

	decision := ic.PreToolUse(ctx, &Event{
		SessionID: "s1", ToolName: "Edit", ToolUseID: "u1",
		ToolInput: map[string]any{"file_path": "a.go"},
	})
	if decision.Decision != "block" {
		t.Fatalf("decision = %+v, want block", decision)
	}
}

func TestPreToolUseAllowsWorkToolWithActiveTask(t *testing.T) {
	ic, registry, ctx := newTestInterceptor(t)
	if _, err := registry.Create(ctx, "t1", "subject", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := registry.UpdateStatus(ctx, "t1", "in_progress"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	decision := ic.PreToolUse(ctx, &Event{
		SessionID: "s1", ToolName: "Edit", ToolUseID: "u1",
		ToolInput: map[string]any{"file_path": "a.go"},
	})
	if decision.Decision == "block" {
		t.Fatalf("decision = %+v, want no-op", decision)
	}
}

func TestPreToolUseTaskCreateMutatesRegistry(t *testing.T) {
	ic, registry, ctx := newTestInterceptor(t)

	decision := ic.PreToolUse(ctx, &Event{
		SessionID: "s1", ToolName: "TaskCreate", ToolUseID: "u1",
		ToolInput: map[string]any{"id": "t1", "subject": "write the parser"},
	})
	if decision.Decision == "block" {
		t.Fatalf("TaskCreate itself should never be blocked, got %+v", decision)
	}
	task, err := registry.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task == nil || task.Subject != "write the parser" {
		t.Fatalf("got %+v", task)
	}
}

func TestPostToolUseAttributesTaskCreateResultToNewTask(t *testing.T) {
	ic, registry, ctx := newTestInterceptor(t)
	if _, err := registry.Create(ctx, "t1", "subject", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ic.PostToolUse(ctx, &Event{
		SessionID: "s1", ToolName: "TaskCreate", ToolUseID: "u1",
		ToolInput:    map[string]any{"id": "t1", "subject": "subject"},
		ToolResponse: map[string]any{"content": "created"},
	})

	chunks, err := registry.ChunksForTask(ctx, "t1")
	if err != nil {
		t.Fatalf("ChunksForTask: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "u1" {
		t.Fatalf("chunks for t1 = %v, want [u1]", chunks)
	}
}

func TestPostToolUseInvalidatesReadsOnEdit(t *testing.T) {
	ic, registry, ctx := newTestInterceptor(t)
	if _, err := registry.Create(ctx, "t1", "subject", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := registry.UpdateStatus(ctx, "t1", "in_progress"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	WritePendingTag(ic.store.Dir(), &PendingTag{InvocationID: "read1", ToolName: "Read", SessionID: "s1", ActiveTaskID: "t1"})
	ic.PostToolUse(ctx, &Event{
		SessionID: "s1", ToolName: "Read", ToolUseID: "read1",
		ToolInput:    map[string]any{"file_path": "a.go"},
		ToolResponse: map[string]any{"content": "package main"},
	})

	chunk, err := ic.tagger.Get(ctx, "read1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if chunk.Status != "fresh" {
		t.Fatalf("status before edit = %s, want fresh", chunk.Status)
	}

	WritePendingTag(ic.store.Dir(), &PendingTag{InvocationID: "edit1", ToolName: "Edit", SessionID: "s1", ActiveTaskID: "t1"})
	ic.PostToolUse(ctx, &Event{
		SessionID: "s1", ToolName: "Edit", ToolUseID: "edit1",
		ToolInput:    map[string]any{"file_path": "a.go", "new_string": "package main2"},
		ToolResponse: map[string]any{"content": "ok"},
	})

	chunk, err = ic.tagger.Get(ctx, "read1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if chunk.Status != "evictable" {
		t.Fatalf("status after edit = %s, want evictable", chunk.Status)
	}
}

func TestPreCompactNeverFailsClosed(t *testing.T) {
	ic, _, ctx := newTestInterceptor(t)

	decision := ic.PreCompact(ctx, &PreCompactEvent{SessionID: "s1", Trigger: "manual", ContextWindowTokens: 1000})
	if decision == nil {
		t.Fatal("PreCompact must always return a decision, got nil")
	}
}

func TestSessionStartIncludesSummaryOnCompact(t *testing.T) {
	ic, registry, ctx := newTestInterceptor(t)
	if _, err := registry.Create(ctx, "t1", "subject", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	decision := ic.SessionStart(ctx, &SessionStartEvent{SessionID: "s1", Source: "compact"})
	if decision.AdditionalContext == "" {
		t.Fatal("expected non-empty additional context on compact restart")
	}
}

func TestSessionStartStartupIsJustContract(t *testing.T) {
	ic, _, ctx := newTestInterceptor(t)

	decision := ic.SessionStart(ctx, &SessionStartEvent{SessionID: "s1", Source: "startup"})
	if decision.AdditionalContext == "" {
		t.Fatal("expected workflow contract text on startup")
	}
}
