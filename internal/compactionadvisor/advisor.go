// Package compactionadvisor turns an eviction report into the hints and
// compliance artifacts a host reads at PreCompact time and writes back to
// after compaction.
package compactionadvisor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/context-raii/ctxhook/internal/contexttagger"
	"github.com/context-raii/ctxhook/internal/evictionengine"
	"github.com/context-raii/ctxhook/internal/store"
	"github.com/context-raii/ctxhook/internal/taskregistry"
	"github.com/context-raii/ctxhook/internal/types"
)

// hintsFileName and monitorFileName are sidecar JSON files written next to
// state.db.
const (
	hintsFileName   = "eviction_hints.json"
	monitorFileName = "compliance_monitor.json"

	// inlineEvictableCap and inlinePreservedCap bound how many chunks the
	// human-readable guidance text names explicitly; the JSON arrays
	// themselves are never truncated.
	inlineEvictableCap = 20
	inlinePreservedCap = 10
)

// SafeToEvictEntry is one record of the hint document's safe_to_evict list.
type SafeToEvictEntry struct {
	ChunkID       string `json:"chunk_id"`
	ToolName      string `json:"tool_name"`
	SizeTokens    int    `json:"size_tokens"`
	IsRefetchable bool   `json:"is_refetchable"`
	Reason        string `json:"reason"`
}

// CriticalToPreserveEntry is one record of the hint document's
// critical_to_preserve list.
type CriticalToPreserveEntry struct {
	ChunkID    string `json:"chunk_id"`
	ToolName   string `json:"tool_name"`
	SizeTokens int    `json:"size_tokens"`
	Reason     string `json:"reason"`
}

// ActiveTaskSummary is one record of the hint document's
// active_tasks_summary list.
type ActiveTaskSummary struct {
	ID         string           `json:"id"`
	Subject    string           `json:"subject"`
	Status     types.TaskStatus `json:"status"`
	ChunkCount int              `json:"chunk_count"`
}

// Hints is the full PreCompact advisory payload, written to
// eviction_hints.json by `ctxhook pre-compact` and read back by
// `ctxhook watch` and the post-compaction session-start summary.
type Hints struct {
	GeneratedAt          time.Time                  `json:"generated_at"`
	TokenSavingsEstimate int                        `json:"token_savings_estimate"`
	SafeToEvict          []SafeToEvictEntry         `json:"safe_to_evict"`
	CriticalToPreserve   []CriticalToPreserveEntry  `json:"critical_to_preserve"`
	ActiveTasksSummary   []ActiveTaskSummary        `json:"active_tasks_summary"`
	CompactionGuidance   string                     `json:"compaction_guidance"`
}

// ComplianceMonitor tracks whether the host actually avoided refetching
// what it was told was safe to evict.
type ComplianceMonitor struct {
	CompactionEventID   int64    `json:"compaction_event_id"`
	SessionID           string   `json:"session_id"`
	EvictableChunkIDs   []string `json:"evictable_chunk_ids"`
	PreservedChunkIDs   []string `json:"preserved_chunk_ids"`
	EvictableFilePaths  []string `json:"evictable_file_paths"`
	PreservedFilePaths  []string `json:"preserved_file_paths"`
	ConfirmedEvicted    int      `json:"confirmed_evicted"`
	FalseNegatives      int      `json:"false_negatives"`
	ComplianceRate      float64  `json:"compliance_rate"`
}

// Advisor generates and persists compaction hints and compliance telemetry.
type Advisor struct {
	store    *store.Store
	tagger   *contexttagger.Tagger
	registry *taskregistry.Registry
	engine   *evictionengine.Engine
}

// New returns an Advisor wired to the given components.
func New(s *store.Store, tagger *contexttagger.Tagger, registry *taskregistry.Registry, engine *evictionengine.Engine) *Advisor {
	return &Advisor{store: s, tagger: tagger, registry: registry, engine: engine}
}

// GenerateHints runs the eviction engine and builds the Hints payload. It
// does not write anything to disk; call WriteHints with the result.
func (a *Advisor) GenerateHints(ctx context.Context, updateDB bool) (*Hints, error) {
	report, err := a.engine.Run(ctx, updateDB)
	if err != nil {
		return nil, fmt.Errorf("compactionadvisor: run eviction engine: %w", err)
	}

	chunks, err := a.tagger.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("compactionadvisor: list chunks: %w", err)
	}
	byID := make(map[string]*types.ContextChunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	activeTasks, err := a.registry.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("compactionadvisor: list active tasks: %w", err)
	}

	hints := &Hints{
		GeneratedAt:          report.GeneratedAt,
		TokenSavingsEstimate: report.TotalTokensEvictable(byID),
	}
	for _, id := range report.EvictableChunks {
		c := byID[id]
		if c == nil {
			continue
		}
		hints.SafeToEvict = append(hints.SafeToEvict, SafeToEvictEntry{
			ChunkID: c.ID, ToolName: c.ToolName, SizeTokens: c.SizeTokens,
			IsRefetchable: c.IsRefetchable, Reason: report.Reasons[id],
		})
	}
	for _, id := range report.PreservedChunks {
		c := byID[id]
		if c == nil {
			continue
		}
		hints.CriticalToPreserve = append(hints.CriticalToPreserve, CriticalToPreserveEntry{
			ChunkID: c.ID, ToolName: c.ToolName, SizeTokens: c.SizeTokens, Reason: report.Reasons[id],
		})
	}
	for _, t := range activeTasks {
		taskChunks, err := a.registry.ChunksForTask(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("compactionadvisor: chunks for task %s: %w", t.ID, err)
		}
		hints.ActiveTasksSummary = append(hints.ActiveTasksSummary, ActiveTaskSummary{
			ID: t.ID, Subject: t.Subject, Status: t.Status, ChunkCount: len(taskChunks),
		})
	}
	hints.CompactionGuidance = buildGuidance(hints)

	return hints, nil
}

// buildGuidance renders the human-readable text a host surfaces to its
// model before compaction, capping the inline listing while leaving the
// JSON arrays untruncated: anything past the cap is referenced by pointer
// to eviction_hints.json rather than dropped.
func buildGuidance(h *Hints) string {
	guidance := fmt.Sprintf(
		"%d chunk(s) safe to evict (~%d tokens reclaimable), %d chunk(s) must be preserved.\n",
		len(h.SafeToEvict), h.TokenSavingsEstimate, len(h.CriticalToPreserve))

	if n := len(h.SafeToEvict); n > 0 {
		guidance += "Safe to evict:\n"
		for i, c := range h.SafeToEvict {
			if i >= inlineEvictableCap {
				guidance += fmt.Sprintf("  ... and %d more, see eviction_hints.json\n", n-inlineEvictableCap)
				break
			}
			guidance += fmt.Sprintf("  - %s (%s): %s\n", c.ChunkID, c.ToolName, c.Reason)
		}
	}
	if n := len(h.CriticalToPreserve); n > 0 {
		guidance += "Must preserve:\n"
		for i, c := range h.CriticalToPreserve {
			if i >= inlinePreservedCap {
				guidance += fmt.Sprintf("  ... and %d more, see eviction_hints.json\n", n-inlinePreservedCap)
				break
			}
			guidance += fmt.Sprintf("  - %s (%s): %s\n", c.ChunkID, c.ToolName, c.Reason)
		}
	}

	guidance += "\nCOMPLIANCE REQUEST: when compacting, drop the chunks listed as safe to evict " +
		"and do not refetch their underlying tool results unless their owning task becomes active again. " +
		"Preserve every chunk listed above as must-preserve verbatim.\n"
	return guidance
}

// WriteHints persists h to <store dir>/eviction_hints.json.
func (a *Advisor) WriteHints(h *Hints) error {
	return writeJSON(filepath.Join(a.store.Dir(), hintsFileName), h)
}

// ReadHints reads back the last-written hints payload.
func (a *Advisor) ReadHints() (*Hints, error) {
	var h Hints
	if err := readJSON(filepath.Join(a.store.Dir(), hintsFileName), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// LogCompactionEvent records a compaction_events row summarizing a
// PreCompact pass and returns its id, which the compliance monitor document
// keys its own lookups by.
func (a *Advisor) LogCompactionEvent(ctx context.Context, sessionID string, h *Hints) (int64, error) {
	var id int64
	err := a.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO compaction_events
				(session_id, compacted_at, hints_evictable_count, hints_preserved_count,
				 hints_evictable_tokens, confirmed_evicted, false_negatives, compliance_rate)
			VALUES (?, ?, ?, ?, ?, 0, 0, 0)`,
			sessionID, h.GeneratedAt.Format(time.RFC3339Nano),
			len(h.SafeToEvict), len(h.CriticalToPreserve), h.TokenSavingsEstimate)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// WriteComplianceMonitor derives a ComplianceMonitor from h and the Read
// chunks present in the store, and persists it to
// <store dir>/compliance_monitor.json.
func (a *Advisor) WriteComplianceMonitor(ctx context.Context, compactionEventID int64, sessionID string, h *Hints) (*ComplianceMonitor, error) {
	evictablePaths, err := a.readPathsFor(ctx, h.SafeToEvict)
	if err != nil {
		return nil, fmt.Errorf("compactionadvisor: evictable read paths: %w", err)
	}
	preservedPaths, err := a.readPathsForPreserved(ctx, h.CriticalToPreserve)
	if err != nil {
		return nil, fmt.Errorf("compactionadvisor: preserved read paths: %w", err)
	}

	m := &ComplianceMonitor{
		CompactionEventID:  compactionEventID,
		SessionID:          sessionID,
		EvictableFilePaths: evictablePaths,
		PreservedFilePaths: preservedPaths,
	}
	for _, c := range h.SafeToEvict {
		m.EvictableChunkIDs = append(m.EvictableChunkIDs, c.ChunkID)
	}
	for _, c := range h.CriticalToPreserve {
		m.PreservedChunkIDs = append(m.PreservedChunkIDs, c.ChunkID)
	}

	if err := writeJSON(filepath.Join(a.store.Dir(), monitorFileName), m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecentEvent is one row of the compaction_events log.
type RecentEvent struct {
	ID                   int64
	SessionID            string
	CompactedAt          time.Time
	HintsEvictableCount  int
	HintsPreservedCount  int
	HintsEvictableTokens int
	ConfirmedEvicted     int
	FalseNegatives       int
	ComplianceRate       float64
}

// ListRecentEvents returns every compaction_events row at or after since,
// most recent first, for `ctxhook compliance --since`.
func (a *Advisor) ListRecentEvents(ctx context.Context, since time.Time) ([]*RecentEvent, error) {
	rows, err := a.store.DB().QueryContext(ctx, `
		SELECT id, session_id, compacted_at, hints_evictable_count, hints_preserved_count,
		       hints_evictable_tokens, confirmed_evicted, false_negatives, compliance_rate
		FROM compaction_events
		WHERE compacted_at >= ?
		ORDER BY compacted_at DESC`, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RecentEvent
	for rows.Next() {
		var (
			e           RecentEvent
			compactedAt string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &compactedAt, &e.HintsEvictableCount, &e.HintsPreservedCount,
			&e.HintsEvictableTokens, &e.ConfirmedEvicted, &e.FalseNegatives, &e.ComplianceRate); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, compactedAt)
		if err != nil {
			return nil, fmt.Errorf("compactionadvisor: parse compacted_at: %w", err)
		}
		e.CompactedAt = ts
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ReadComplianceMonitor reads back the last-written compliance monitor.
func (a *Advisor) ReadComplianceMonitor() (*ComplianceMonitor, error) {
	var m ComplianceMonitor
	if err := readJSON(filepath.Join(a.store.Dir(), monitorFileName), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordRefetch is called by the post-tool interceptor whenever a Read
// result is ingested. A re-read of a path that was marked evictable
// increments confirmed_evicted (the host evicted it, then correctly
// refetched when it was needed again — the hint was respected). A re-read
// of a path that was marked preserved increments false_negatives: the host
// dropped something it was told to keep, and had to refetch it, the
// canonical signal that a hint was ignored or misinterpreted. Recomputed
// on every call: compliance_rate = confirmed_evicted / hints-evictable-count.
// Both the compliance_monitor.json sidecar and the owning compaction_events
// row are updated, so `ctxhook compliance --since` reflects refetches too.
func (a *Advisor) RecordRefetch(ctx context.Context, filePath string) (*ComplianceMonitor, error) {
	m, err := a.ReadComplianceMonitor()
	if err != nil {
		return nil, err
	}
	switch {
	case contains(m.EvictableFilePaths, filePath):
		m.ConfirmedEvicted++
	case contains(m.PreservedFilePaths, filePath):
		m.FalseNegatives++
	default:
		return m, nil
	}
	if len(m.EvictableChunkIDs) > 0 {
		m.ComplianceRate = float64(m.ConfirmedEvicted) / float64(len(m.EvictableChunkIDs))
	}
	if err := writeJSON(filepath.Join(a.store.Dir(), monitorFileName), m); err != nil {
		return nil, err
	}

	err = a.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE compaction_events
			SET confirmed_evicted = ?, false_negatives = ?, compliance_rate = ?
			WHERE id = ?`,
			m.ConfirmedEvicted, m.FalseNegatives, m.ComplianceRate, m.CompactionEventID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("compactionadvisor: update compaction_events row %d: %w", m.CompactionEventID, err)
	}
	return m, nil
}

// readPathsFor returns the distinct file_path values among the Read chunks
// named in entries.
func (a *Advisor) readPathsFor(ctx context.Context, entries []SafeToEvictEntry) ([]string, error) {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ToolName == "Read" {
			ids = append(ids, e.ChunkID)
		}
	}
	return a.readPathsForIDs(ctx, ids)
}

func (a *Advisor) readPathsForPreserved(ctx context.Context, entries []CriticalToPreserveEntry) ([]string, error) {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ToolName == "Read" {
			ids = append(ids, e.ChunkID)
		}
	}
	return a.readPathsForIDs(ctx, ids)
}

func (a *Advisor) readPathsForIDs(ctx context.Context, chunkIDs []string) ([]string, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	want := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		want[id] = true
	}
	chunks, err := a.tagger.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var paths []string
	for _, c := range chunks {
		if !want[c.ID] {
			continue
		}
		fp, _ := c.ToolInput["file_path"].(string)
		if fp == "" || seen[fp] {
			continue
		}
		seen[fp] = true
		paths = append(paths, fp)
	}
	sort.Strings(paths)
	return paths, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("compactionadvisor: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("compactionadvisor: write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("compactionadvisor: read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("compactionadvisor: unmarshal %s: %w", path, err)
	}
	return nil
}
