package sessionbootstrap

import (
	"context"
	"strings"
	"testing"

	"github.com/context-raii/ctxhook/internal/compactionadvisor"
	"github.com/context-raii/ctxhook/internal/contexttagger"
	"github.com/context-raii/ctxhook/internal/evictionengine"
	"github.com/context-raii/ctxhook/internal/referencegraph"
	"github.com/context-raii/ctxhook/internal/store"
	"github.com/context-raii/ctxhook/internal/taskregistry"
	"github.com/context-raii/ctxhook/internal/types"
)

func TestBuildContractMentionsWorkflowRules(t *testing.T) {
	contract := BuildContract()
	for _, phrase := range []string{"Create a task", "in_progress", "completed", "auto-abandoned"} {
		if !strings.Contains(contract, phrase) {
			t.Errorf("contract missing %q:\n%s", phrase, contract)
		}
	}
}

func TestBuildPostCompactionSummaryReportsActiveAndCompleted(t *testing.T) {
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
	ctx := context.Background()

	if _, err := registry.Create(ctx, "active", "still working", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := registry.UpdateStatus(ctx, "active", types.TaskInProgress); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := registry.Create(ctx, "done", "wrapped up", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := registry.UpdateStatus(ctx, "done", types.TaskCompleted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	summary, err := BuildPostCompactionSummary(ctx, registry, tagger, advisor)
	if err != nil {
		t.Fatalf("BuildPostCompactionSummary: %v", err)
	}
	if !strings.Contains(summary, "active") {
		t.Errorf("summary missing active task:\n%s", summary)
	}
	if !strings.Contains(summary, "wrapped up") {
		t.Errorf("summary missing recently completed task:\n%s", summary)
	}
}

func TestRecentlyCompletedCapsAndOrdersMostRecentFirst(t *testing.T) {
	tasks := []*types.Task{
		{ID: "t1", Status: types.TaskCompleted},
		{ID: "t2", Status: types.TaskCompleted},
		{ID: "t3", Status: types.TaskInProgress},
		{ID: "t4", Status: types.TaskCompleted},
	}
	got := recentlyCompleted(tasks, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "t4" || got[1].ID != "t2" {
		t.Fatalf("got %+v, want [t4, t2]", got)
	}
}
