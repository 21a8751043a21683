package compactionadvisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/context-raii/ctxhook/internal/contexttagger"
	"github.com/context-raii/ctxhook/internal/evictionengine"
	"github.com/context-raii/ctxhook/internal/referencegraph"
	"github.com/context-raii/ctxhook/internal/store"
	"github.com/context-raii/ctxhook/internal/taskregistry"
	"github.com/context-raii/ctxhook/internal/types"
)

func newTestAdvisor(t *testing.T) (*Advisor, *contexttagger.Tagger, *taskregistry.Registry, context.Context) {
	t.Helper()
	s, err := store.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	tagger := contexttagger.New(s)
	registry := taskregistry.New(s)
	graph := referencegraph.New(s)
	engine := evictionengine.New(tagger, registry, graph)
	return New(s, tagger, registry, engine), tagger, registry, context.Background()
}

func TestGenerateHintsSeparatesEvictableAndPreserved(t *testing.T) {
	a, tagger, registry, ctx := newTestAdvisor(t)

	if _, err := registry.Create(ctx, "done", "finished task", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := registry.UpdateStatus(ctx, "done", types.TaskCompleted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := registry.Create(ctx, "active", "open task", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := registry.UpdateStatus(ctx, "active", types.TaskInProgress); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := tagger.Ingest(ctx, "c1", "Read", map[string]any{"file_path": "done.go"}, map[string]any{"content": "x"}, "sess", []string{"done"}); err != nil {
		t.Fatalf("Ingest c1: %v", err)
	}
	if _, err := tagger.Ingest(ctx, "c2", "Read", map[string]any{"file_path": "active.go"}, map[string]any{"content": "y"}, "sess", []string{"active"}); err != nil {
		t.Fatalf("Ingest c2: %v", err)
	}

	hints, err := a.GenerateHints(ctx, false)
	if err != nil {
		t.Fatalf("GenerateHints: %v", err)
	}
	if len(hints.SafeToEvict) != 1 || hints.SafeToEvict[0].ChunkID != "c1" {
		t.Fatalf("safe_to_evict = %+v, want just c1", hints.SafeToEvict)
	}
	if len(hints.CriticalToPreserve) != 1 || hints.CriticalToPreserve[0].ChunkID != "c2" {
		t.Fatalf("critical_to_preserve = %+v, want just c2", hints.CriticalToPreserve)
	}
	if len(hints.ActiveTasksSummary) != 1 || hints.ActiveTasksSummary[0].ID != "active" {
		t.Fatalf("active_tasks_summary = %+v, want just active", hints.ActiveTasksSummary)
	}
	if !strings.Contains(hints.CompactionGuidance, "COMPLIANCE REQUEST") {
		t.Fatalf("guidance missing compliance directive: %q", hints.CompactionGuidance)
	}
}

func TestWriteAndReadHintsRoundTrip(t *testing.T) {
	a, _, _, ctx := newTestAdvisor(t)

	hints, err := a.GenerateHints(ctx, false)
	if err != nil {
		t.Fatalf("GenerateHints: %v", err)
	}
	if err := a.WriteHints(hints); err != nil {
		t.Fatalf("WriteHints: %v", err)
	}
	got, err := a.ReadHints()
	if err != nil {
		t.Fatalf("ReadHints: %v", err)
	}
	if got.TokenSavingsEstimate != hints.TokenSavingsEstimate {
		t.Fatalf("got %d, want %d", got.TokenSavingsEstimate, hints.TokenSavingsEstimate)
	}
}

func TestComplianceMonitorRecordRefetch(t *testing.T) {
	a, tagger, registry, ctx := newTestAdvisor(t)

	if _, err := registry.Create(ctx, "done", "finished task", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := registry.UpdateStatus(ctx, "done", types.TaskCompleted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := registry.Create(ctx, "active", "open task", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := registry.UpdateStatus(ctx, "active", types.TaskInProgress); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := tagger.Ingest(ctx, "c1", "Read", map[string]any{"file_path": "done.go"}, map[string]any{"content": "x"}, "sess", []string{"done"}); err != nil {
		t.Fatalf("Ingest c1: %v", err)
	}
	if _, err := tagger.Ingest(ctx, "c2", "Read", map[string]any{"file_path": "active.go"}, map[string]any{"content": "y"}, "sess", []string{"active"}); err != nil {
		t.Fatalf("Ingest c2: %v", err)
	}

	hints, err := a.GenerateHints(ctx, false)
	if err != nil {
		t.Fatalf("GenerateHints: %v", err)
	}
	eventID, err := a.LogCompactionEvent(ctx, "sess", hints)
	if err != nil {
		t.Fatalf("LogCompactionEvent: %v", err)
	}
	if eventID == 0 {
		t.Fatal("expected nonzero compaction event id")
	}
	monitor, err := a.WriteComplianceMonitor(ctx, eventID, "sess", hints)
	if err != nil {
		t.Fatalf("WriteComplianceMonitor: %v", err)
	}
	if !contains(monitor.EvictableFilePaths, "done.go") {
		t.Fatalf("evictable file paths = %v, want done.go", monitor.EvictableFilePaths)
	}
	if !contains(monitor.PreservedFilePaths, "active.go") {
		t.Fatalf("preserved file paths = %v, want active.go", monitor.PreservedFilePaths)
	}

	// Refetching the evicted path confirms the hint was respected.
	updated, err := a.RecordRefetch(ctx, "done.go")
	if err != nil {
		t.Fatalf("RecordRefetch: %v", err)
	}
	if updated.ConfirmedEvicted != 1 {
		t.Fatalf("confirmed_evicted = %d, want 1", updated.ConfirmedEvicted)
	}
	if updated.ComplianceRate != 1.0 {
		t.Fatalf("compliance_rate = %f, want 1.0", updated.ComplianceRate)
	}

	// Refetching a preserved path is the violation signal.
	updated, err = a.RecordRefetch(ctx, "active.go")
	if err != nil {
		t.Fatalf("RecordRefetch: %v", err)
	}
	if updated.FalseNegatives != 1 {
		t.Fatalf("false_negatives = %d, want 1", updated.FalseNegatives)
	}

	// An unrelated path is a no-op.
	before := *updated
	updated, err = a.RecordRefetch(ctx, "unrelated.go")
	if err != nil {
		t.Fatalf("RecordRefetch: %v", err)
	}
	if updated.ConfirmedEvicted != before.ConfirmedEvicted || updated.FalseNegatives != before.FalseNegatives {
		t.Fatalf("unrelated path should not change counters: got %+v, had %+v", updated, before)
	}

	// The compaction_events row itself must carry the same counters, not
	// just the compliance_monitor.json sidecar — this is what
	// ListRecentEvents (and `ctxhook compliance --since`) reads from.
	events, err := a.ListRecentEvents(ctx, time.Time{})
	if err != nil {
		t.Fatalf("ListRecentEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 compaction event, got %d", len(events))
	}
	if events[0].ConfirmedEvicted != updated.ConfirmedEvicted {
		t.Fatalf("compaction_events.confirmed_evicted = %d, want %d", events[0].ConfirmedEvicted, updated.ConfirmedEvicted)
	}
	if events[0].FalseNegatives != updated.FalseNegatives {
		t.Fatalf("compaction_events.false_negatives = %d, want %d", events[0].FalseNegatives, updated.FalseNegatives)
	}
	if events[0].ComplianceRate != updated.ComplianceRate {
		t.Fatalf("compaction_events.compliance_rate = %f, want %f", events[0].ComplianceRate, updated.ComplianceRate)
	}
}

func TestBuildGuidanceCapsInlineListing(t *testing.T) {
	h := &Hints{}
	for i := 0; i < inlineEvictableCap+5; i++ {
		h.SafeToEvict = append(h.SafeToEvict, SafeToEvictEntry{ChunkID: idFor(i), ToolName: "Read", Reason: "x"})
	}
	guidance := buildGuidance(h)
	if !strings.Contains(guidance, "and 5 more") {
		t.Fatalf("expected overflow note for 5 extra entries, got %q", guidance)
	}
}

func idFor(i int) string {
	return "chunk-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
