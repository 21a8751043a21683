// Package taskregistry implements CRUD over tasks, lifecycle transitions,
// dependency edges between tasks, and detection of tasks abandoned by
// inactivity.
package taskregistry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/context-raii/ctxhook/internal/store"
	"github.com/context-raii/ctxhook/internal/types"
)

// Registry persists and retrieves Task records.
type Registry struct {
	store *store.Store
}

// New returns a Registry backed by s.
func New(s *store.Store) *Registry {
	return &Registry{store: s}
}

// Create inserts a pending task. If id already exists it instead updates
// that task's subject, leaving its status and timestamps untouched.
func (r *Registry) Create(ctx context.Context, id, subject, parentID string) (*types.Task, error) {
	now := time.Now().UTC()
	var task *types.Task
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if existing != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET subject = ? WHERE id = ?`, subject, id); err != nil {
				return err
			}
			existing.Subject = subject
			task = existing
			return nil
		}
		var parent any
		if parentID != "" {
			parent = parentID
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (id, subject, status, parent_id, created_at, metadata)
			VALUES (?, ?, ?, ?, ?, '{}')`,
			id, subject, types.TaskPending, parent, now.Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		task = &types.Task{
			ID: id, Subject: subject, Status: types.TaskPending,
			ParentID: parentID, CreatedAt: now, Metadata: map[string]any{},
		}
		return nil
	})
	return task, err
}

// Get returns a task by id, or nil if it does not exist.
func (r *Registry) Get(ctx context.Context, id string) (*types.Task, error) {
	var task *types.Task
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		t, err := getTx(ctx, tx, id)
		task = t
		return err
	})
	return task, err
}

// UpdateStatus sets a task's status, stamping completed_at on first entry
// into completed/abandoned. Returns nil, nil if the task does not exist.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status types.TaskStatus) (*types.Task, error) {
	var task *types.Task
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		existing.Status = status
		if status.IsTerminal() && existing.CompletedAt == nil {
			now := time.Now().UTC()
			existing.CompletedAt = &now
		}
		var completedAt any
		if existing.CompletedAt != nil {
			completedAt = existing.CompletedAt.Format(time.RFC3339Nano)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?`,
			status, completedAt, id)
		if err != nil {
			return err
		}
		task = existing
		return nil
	})
	return task, err
}

// GetCurrentActive returns the most recently created in_progress task, or
// nil if none exists.
func (r *Registry) GetCurrentActive(ctx context.Context) (*types.Task, error) {
	row := r.store.DB().QueryRowContext(ctx, `
		SELECT id, subject, status, parent_id, created_at, completed_at, metadata
		FROM tasks WHERE status = ? ORDER BY created_at DESC LIMIT 1`, types.TaskInProgress)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

// ListAll returns every task ordered by created_at ascending.
func (r *Registry) ListAll(ctx context.Context) ([]*types.Task, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, subject, status, parent_id, created_at, completed_at, metadata
		FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListActive returns every pending/in_progress task.
func (r *Registry) ListActive(ctx context.Context) ([]*types.Task, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT id, subject, status, parent_id, created_at, completed_at, metadata
		FROM tasks WHERE status IN (?, ?) ORDER BY created_at`,
		types.TaskPending, types.TaskInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// TagChunk inserts an ownership edge (task "owned" chunk at ingestion);
// idempotent.
func (r *Registry) TagChunk(ctx context.Context, taskID, chunkID string) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO task_chunks (task_id, chunk_id, tagged_at)
			VALUES (?, ?, ?)`, taskID, chunkID, time.Now().UTC().Format(time.RFC3339Nano))
		return err
	})
}

// AddDependency inserts a dependency edge (dependent needs dependency's
// context); idempotent.
func (r *Registry) AddDependency(ctx context.Context, dependentID, dependencyID string) error {
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO task_dependencies (dependent_task_id, dependency_task_id, created_at)
			VALUES (?, ?, ?)`, dependentID, dependencyID, time.Now().UTC().Format(time.RFC3339Nano))
		return err
	})
}

// HasActiveDependents reports whether any task that depends on taskID is
// still pending/in_progress.
func (r *Registry) HasActiveDependents(ctx context.Context, taskID string) (bool, error) {
	var count int
	err := r.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_dependencies td
		JOIN tasks t ON td.dependent_task_id = t.id
		WHERE td.dependency_task_id = ? AND t.status IN (?, ?)`,
		taskID, types.TaskPending, types.TaskInProgress).Scan(&count)
	return count > 0, err
}

// AbandonStaleTasks transitions any in_progress task with at least
// threshold chunks created after the task's own created_at (counted across
// the whole store) to abandoned, and returns the list of transitioned ids.
// It is idempotent within a run: a task already abandoned by an earlier
// call in the same pass will not match the in_progress filter on a second
// call.
func (r *Registry) AbandonStaleTasks(ctx context.Context, threshold int) ([]string, error) {
	var abandoned []string
	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, created_at FROM tasks WHERE status = ?`, types.TaskInProgress)
		if err != nil {
			return err
		}
		type candidate struct {
			id        string
			createdAt string
		}
		var candidates []candidate
		for rows.Next() {
			var c candidate
			if err := rows.Scan(&c.id, &c.createdAt); err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, c)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		for _, c := range candidates {
			var count int
			if err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM context_chunks WHERE created_at > ?`, c.createdAt).Scan(&count); err != nil {
				return err
			}
			if count < threshold {
				continue
			}
			now := time.Now().UTC().Format(time.RFC3339Nano)
			if _, err := tx.ExecContext(ctx, `
				UPDATE tasks SET status = ?, completed_at = ? WHERE id = ? AND completed_at IS NULL`,
				types.TaskAbandoned, now, c.id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE tasks SET status = ? WHERE id = ?`, types.TaskAbandoned, c.id); err != nil {
				return err
			}
			abandoned = append(abandoned, c.id)
		}
		return nil
	})
	return abandoned, err
}

// ChunksForTask returns the ids of chunks owned by taskID.
func (r *Registry) ChunksForTask(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT chunk_id FROM task_chunks WHERE task_id = ? ORDER BY chunk_id`, taskID)
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

// TasksForChunk returns the ids of tasks that own chunkID.
func (r *Registry) TasksForChunk(ctx context.Context, chunkID string) ([]string, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
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

// EnsureExists auto-creates a placeholder pending task for a lifecycle tool
// that referenced an id the registry has never seen.
func (r *Registry) EnsureExists(ctx context.Context, id string) (*types.Task, error) {
	task, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task != nil {
		return task, nil
	}
	return r.Create(ctx, id, fmt.Sprintf("(auto-created task %s)", id), "")
}

func getTx(ctx context.Context, tx *sql.Tx, id string) (*types.Task, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, subject, status, parent_id, created_at, completed_at, metadata
		FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var (
		t           types.Task
		parentID    sql.NullString
		createdAt   string
		completedAt sql.NullString
		metadata    string
	)
	if err := row.Scan(&t.ID, &t.Subject, &t.Status, &parentID, &createdAt, &completedAt, &metadata); err != nil {
		return nil, err
	}
	t.ParentID = parentID.String
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("taskregistry: parse created_at: %w", err)
	}
	t.CreatedAt = ts
	if completedAt.Valid {
		ct, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("taskregistry: parse completed_at: %w", err)
		}
		t.CompletedAt = &ct
	}
	t.Metadata = map[string]any{}
	_ = metadata // the stored metadata is not decoded; Metadata is always empty
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*types.Task, error) {
	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
