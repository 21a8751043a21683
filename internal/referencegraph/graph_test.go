package referencegraph

import (
	"context"
	"testing"

	"github.com/context-raii/ctxhook/internal/store"
	"github.com/context-raii/ctxhook/internal/taskregistry"
	"github.com/context-raii/ctxhook/internal/types"
)

func newTestGraph(t *testing.T) (*Graph, *taskregistry.Registry, *store.Store, context.Context) {
	t.Helper()
	s, err := store.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s), taskregistry.New(s), s, context.Background()
}

func insertChunk(t *testing.T, s *store.Store, ctx context.Context, id string) {
	t.Helper()
	_, err := s.DB().ExecContext(ctx, `
		INSERT INTO context_chunks (id, tool_name, tool_input, status, created_at, status_changed_at)
		VALUES (?, 'Read', '{}', 'fresh', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`, id)
	if err != nil {
		t.Fatalf("insert chunk %s: %v", id, err)
	}
}

func TestAddEdgeRejectsInvalidType(t *testing.T) {
	g, registry, s, ctx := newTestGraph(t)
	if _, err := registry.Create(ctx, "t1", "subject", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	insertChunk(t, s, ctx, "c1")

	err := g.AddEdge(ctx, "t1", "c1", types.ReferenceType("not_a_real_type"))
	if err == nil {
		t.Fatal("expected ErrInvalidReferenceType")
	}
}

func TestAddEdgeIsIdempotent(t *testing.T) {
	g, registry, s, ctx := newTestGraph(t)
	if _, err := registry.Create(ctx, "t1", "subject", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	insertChunk(t, s, ctx, "c1")

	for i := 0; i < 2; i++ {
		if err := g.AddEdge(ctx, "t1", "c1", types.CitedInReasoning); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}
	count, err := g.EdgeCount(ctx)
	if err != nil {
		t.Fatalf("EdgeCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d edges, want 1", count)
	}
}

func TestChunksReferencedByActiveTasks(t *testing.T) {
	g, registry, s, ctx := newTestGraph(t)
	if _, err := registry.Create(ctx, "active", "subject", ""); err != nil {
		t.Fatalf("Create active: %v", err)
	}
	if _, err := registry.UpdateStatus(ctx, "active", types.TaskInProgress); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := registry.Create(ctx, "done", "subject", ""); err != nil {
		t.Fatalf("Create done: %v", err)
	}
	if _, err := registry.UpdateStatus(ctx, "done", types.TaskCompleted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	insertChunk(t, s, ctx, "c1")
	insertChunk(t, s, ctx, "c2")
	if err := g.AddEdge(ctx, "active", "c1", types.CitedInReasoning); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.AddEdge(ctx, "done", "c2", types.CitedInReasoning); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	active, err := g.ChunksReferencedByActiveTasks(ctx)
	if err != nil {
		t.Fatalf("ChunksReferencedByActiveTasks: %v", err)
	}
	if !active["c1"] || active["c2"] {
		t.Fatalf("got %v, want only c1", active)
	}
}

func TestRemoveEdge(t *testing.T) {
	g, registry, s, ctx := newTestGraph(t)
	if _, err := registry.Create(ctx, "t1", "subject", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	insertChunk(t, s, ctx, "c1")
	if err := g.AddEdge(ctx, "t1", "c1", types.BuildsOn); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.RemoveEdge(ctx, "t1", "c1", types.BuildsOn); err != nil {
		t.Fatalf("RemoveEdge: %v", err)
	}
	count, err := g.EdgeCount(ctx)
	if err != nil {
		t.Fatalf("EdgeCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("got %d edges, want 0", count)
	}
}
