// Package referencegraph tracks which tasks cite which chunks, and why:
// typed task-to-chunk edges (cited_in_reasoning, builds_on, supersedes,
// required_by), so the eviction engine can tell a chunk an active task
// still references from one no active task needs.
package referencegraph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/context-raii/ctxhook/internal/store"
	"github.com/context-raii/ctxhook/internal/types"
)

// ErrInvalidReferenceType is returned by AddEdge for a reference_type not in
// types.ValidReferenceTypes.
var ErrInvalidReferenceType = errors.New("referencegraph: invalid reference type")

// Graph persists reference edges between tasks and chunks.
type Graph struct {
	store *store.Store
}

// New returns a Graph backed by s.
func New(s *store.Store) *Graph {
	return &Graph{store: s}
}

// AddEdge records that taskID references chunkID for refType. Idempotent:
// re-adding the same (task, chunk, type) triple is a no-op.
func (g *Graph) AddEdge(ctx context.Context, taskID, chunkID string, refType types.ReferenceType) error {
	if !types.ValidReferenceTypes[refType] {
		return fmt.Errorf("%w: %q", ErrInvalidReferenceType, refType)
	}
	return g.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO reference_edges (source_task_id, target_chunk_id, reference_type, created_at)
			VALUES (?, ?, ?, ?)`, taskID, chunkID, refType, time.Now().UTC().Format(time.RFC3339Nano))
		return err
	})
}

// RemoveEdge deletes one edge, if present.
func (g *Graph) RemoveEdge(ctx context.Context, taskID, chunkID string, refType types.ReferenceType) error {
	return g.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM reference_edges WHERE source_task_id = ? AND target_chunk_id = ? AND reference_type = ?`,
			taskID, chunkID, refType)
		return err
	})
}

// ChunksReferencedByTask returns the chunk ids taskID has an edge to.
func (g *Graph) ChunksReferencedByTask(ctx context.Context, taskID string) ([]string, error) {
	return g.queryStrings(ctx, `
		SELECT DISTINCT target_chunk_id FROM reference_edges WHERE source_task_id = ? ORDER BY target_chunk_id`, taskID)
}

// TasksReferencingChunk returns the task ids that have an edge to chunkID.
func (g *Graph) TasksReferencingChunk(ctx context.Context, chunkID string) ([]string, error) {
	return g.queryStrings(ctx, `
		SELECT DISTINCT source_task_id FROM reference_edges WHERE target_chunk_id = ? ORDER BY source_task_id`, chunkID)
}

// ChunksReferencedByActiveTasks returns the set of chunk ids referenced by
// any pending/in_progress task, used by the eviction engine's active
// reference rule.
func (g *Graph) ChunksReferencedByActiveTasks(ctx context.Context) (map[string]bool, error) {
	rows, err := g.store.DB().QueryContext(ctx, `
		SELECT DISTINCT re.target_chunk_id
		FROM reference_edges re
		JOIN tasks t ON re.source_task_id = t.id
		WHERE t.status IN (?, ?)`, types.TaskPending, types.TaskInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// AllEdges returns every edge in the graph, ordered by created_at.
func (g *Graph) AllEdges(ctx context.Context) ([]*types.ReferenceEdge, error) {
	rows, err := g.store.DB().QueryContext(ctx, `
		SELECT source_task_id, target_chunk_id, reference_type, created_at
		FROM reference_edges ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.ReferenceEdge
	for rows.Next() {
		var (
			e         types.ReferenceEdge
			createdAt string
		)
		if err := rows.Scan(&e.TaskID, &e.ChunkID, &e.ReferenceType, &createdAt); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("referencegraph: parse created_at: %w", err)
		}
		e.CreatedAt = ts
		out = append(out, &e)
	}
	return out, rows.Err()
}

// EdgeCount returns the total number of edges in the graph.
func (g *Graph) EdgeCount(ctx context.Context) (int, error) {
	var count int
	err := g.store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM reference_edges`).Scan(&count)
	return count, err
}

func (g *Graph) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := g.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
