// Package contexttagger ingests tool-invocation results as ContextChunk
// records, estimating their token footprint and classifying whether the
// underlying tool's output is cheaply refetchable.
package contexttagger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/context-raii/ctxhook/internal/store"
	"github.com/context-raii/ctxhook/internal/types"
)

// charsPerToken approximates token count from extracted text length.
const charsPerToken = 4

// refetchableTools are tools whose output can be regenerated cheaply from
// disk or the network, so evicting their chunks loses nothing durable.
var refetchableTools = map[string]bool{
	"Read":      true,
	"Glob":      true,
	"Grep":      true,
	"WebFetch":  true,
	"WebSearch": true,
}

// Tagger persists ContextChunk records.
type Tagger struct {
	store *store.Store
}

// New returns a Tagger backed by s.
func New(s *store.Store) *Tagger {
	return &Tagger{store: s}
}

// Ingest records a tool invocation's result as a fresh chunk. toolOutput is
// dispatched through extractText to estimate size and compute a content
// hash; taskIDs are the tasks active at ingestion time (the chunk's
// owning tasks).
func (t *Tagger) Ingest(ctx context.Context, id, toolName string, toolInput map[string]any, toolOutput any, sessionID string, taskIDs []string) (*types.ContextChunk, error) {
	text := extractText(toolName, toolOutput)
	now := time.Now().UTC()
	chunk := &types.ContextChunk{
		ID:              id,
		ToolName:        toolName,
		ToolInput:       toolInput,
		IsRefetchable:   refetchableTools[toolName],
		Status:          types.ChunkFresh,
		SizeTokens:      estimateTokens(text),
		CreatedAt:       now,
		StatusChangedAt: now,
		SessionID:       sessionID,
		ContentHash:     contentHash(text),
		TaskIDs:         taskIDs,
	}

	toolInputJSON, err := types.CanonicalJSON(toolInput)
	if err != nil {
		return nil, fmt.Errorf("contexttagger: canonicalize tool_input: %w", err)
	}

	err = t.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO context_chunks
				(id, tool_name, tool_input, is_refetchable, status, size_tokens,
				 created_at, status_changed_at, session_id, content_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				tool_name = excluded.tool_name,
				tool_input = excluded.tool_input,
				is_refetchable = excluded.is_refetchable,
				size_tokens = excluded.size_tokens,
				content_hash = excluded.content_hash`,
			chunk.ID, chunk.ToolName, toolInputJSON, boolToInt(chunk.IsRefetchable),
			chunk.Status, chunk.SizeTokens, chunk.CreatedAt.Format(time.RFC3339Nano),
			chunk.StatusChangedAt.Format(time.RFC3339Nano), chunk.SessionID, chunk.ContentHash)
		if err != nil {
			return err
		}
		for _, taskID := range taskIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO task_chunks (task_id, chunk_id, tagged_at)
				VALUES (?, ?, ?)`, taskID, chunk.ID, now.Format(time.RFC3339Nano)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// Get returns a chunk by id, or nil if it does not exist.
func (t *Tagger) Get(ctx context.Context, id string) (*types.ContextChunk, error) {
	chunk, err := t.scanOne(ctx, `WHERE c.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return chunk, err
}

// MarkEvictable transitions a chunk to evictable, stamping
// status_changed_at. The transition is monotonic
// (fresh → integrated → evictable); marking an already-evictable chunk
// evictable again is a no-op.
func (t *Tagger) MarkEvictable(ctx context.Context, id string) error {
	return t.setStatus(ctx, id, types.ChunkEvictable)
}

// MarkIntegrated transitions a chunk from fresh to integrated. Chunks
// already integrated or evictable are left untouched (monotonic).
func (t *Tagger) MarkIntegrated(ctx context.Context, id string) error {
	return t.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE context_chunks SET status = ?, status_changed_at = ?
			WHERE id = ? AND status = ?`,
			types.ChunkIntegrated, time.Now().UTC().Format(time.RFC3339Nano), id, types.ChunkFresh)
		return err
	})
}

func (t *Tagger) setStatus(ctx context.Context, id string, status types.ChunkStatus) error {
	return t.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE context_chunks SET status = ?, status_changed_at = ?
			WHERE id = ? AND status != ?`,
			status, time.Now().UTC().Format(time.RFC3339Nano), id, status)
		return err
	})
}

// InvalidateReadsForPath marks every fresh/integrated Read chunk whose
// tool_input.file_path matches path as evictable, implementing
// write-invalidation: a Write/Edit to path X invalidates any prior Read
// chunk of path X immediately, regardless of task ownership.
func (t *Tagger) InvalidateReadsForPath(ctx context.Context, path string) ([]string, error) {
	var invalidated []string
	err := t.store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, tool_input FROM context_chunks
			WHERE tool_name = 'Read' AND status != ?`, types.ChunkEvictable)
		if err != nil {
			return err
		}
		type candidate struct {
			id        string
			toolInput string
		}
		var candidates []candidate
		for rows.Next() {
			var c candidate
			if err := rows.Scan(&c.id, &c.toolInput); err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, c)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		now := time.Now().UTC().Format(time.RFC3339Nano)
		for _, c := range candidates {
			var decoded map[string]any
			if err := json.Unmarshal([]byte(c.toolInput), &decoded); err != nil {
				continue
			}
			fp, _ := decoded["file_path"].(string)
			if fp != path {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE context_chunks SET status = ?, status_changed_at = ? WHERE id = ?`,
				types.ChunkEvictable, now, c.id); err != nil {
				return err
			}
			invalidated = append(invalidated, c.id)
		}
		return nil
	})
	return invalidated, err
}

// ListEvictable returns every chunk currently marked evictable.
func (t *Tagger) ListEvictable(ctx context.Context) ([]*types.ContextChunk, error) {
	return t.scanMany(ctx, `WHERE c.status = ? ORDER BY c.created_at`, types.ChunkEvictable)
}

// ListAll returns every chunk ordered by created_at ascending: the
// eviction engine's supersession index relies on this order, since later
// entries overwrite earlier ones sharing a signature.
func (t *Tagger) ListAll(ctx context.Context) ([]*types.ContextChunk, error) {
	return t.scanMany(ctx, `ORDER BY c.created_at`)
}

func (t *Tagger) scanOne(ctx context.Context, where string, args ...any) (*types.ContextChunk, error) {
	query := fmt.Sprintf(`
		SELECT c.id, c.tool_name, c.tool_input, c.is_refetchable, c.status, c.size_tokens,
		       c.created_at, c.status_changed_at, c.session_id, c.content_hash
		FROM context_chunks c %s`, where)
	row := t.store.DB().QueryRowContext(ctx, query, args...)
	chunk, err := scanChunk(row)
	if err != nil {
		return nil, err
	}
	taskIDs, err := t.taskIDsFor(ctx, chunk.ID)
	if err != nil {
		return nil, err
	}
	chunk.TaskIDs = taskIDs
	return chunk, nil
}

func (t *Tagger) scanMany(ctx context.Context, where string, args ...any) ([]*types.ContextChunk, error) {
	query := fmt.Sprintf(`
		SELECT c.id, c.tool_name, c.tool_input, c.is_refetchable, c.status, c.size_tokens,
		       c.created_at, c.status_changed_at, c.session_id, c.content_hash
		FROM context_chunks c %s`, where)
	rows, err := t.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.ContextChunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, chunk := range out {
		taskIDs, err := t.taskIDsFor(ctx, chunk.ID)
		if err != nil {
			return nil, err
		}
		chunk.TaskIDs = taskIDs
	}
	return out, nil
}

func (t *Tagger) taskIDsFor(ctx context.Context, chunkID string) ([]string, error) {
	rows, err := t.store.DB().QueryContext(ctx, `
		SELECT task_id FROM task_chunks WHERE chunk_id = ? ORDER BY task_id`, chunkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*types.ContextChunk, error) {
	var (
		c               types.ContextChunk
		toolInputJSON   string
		isRefetchable   int
		createdAt       string
		statusChangedAt string
		sessionID       sql.NullString
		contentHash     sql.NullString
	)
	if err := row.Scan(&c.ID, &c.ToolName, &toolInputJSON, &isRefetchable, &c.Status, &c.SizeTokens,
		&createdAt, &statusChangedAt, &sessionID, &contentHash); err != nil {
		return nil, err
	}
	c.IsRefetchable = isRefetchable != 0
	c.SessionID = sessionID.String
	c.ContentHash = contentHash.String
	if err := json.Unmarshal([]byte(toolInputJSON), &c.ToolInput); err != nil {
		return nil, fmt.Errorf("contexttagger: decode tool_input: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("contexttagger: parse created_at: %w", err)
	}
	c.CreatedAt = ts
	sc, err := time.Parse(time.RFC3339Nano, statusChangedAt)
	if err != nil {
		return nil, fmt.Errorf("contexttagger: parse status_changed_at: %w", err)
	}
	c.StatusChangedAt = sc
	return &c, nil
}

func estimateTokens(text string) int {
	n := (len(text) + charsPerToken - 1) / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
