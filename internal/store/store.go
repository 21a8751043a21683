// Package store provides the durable, transactional persistence layer for
// context-raii. It wraps an embedded, pure-Go SQLite database
// (github.com/ncruces/go-sqlite3) opened in WAL mode with foreign keys
// enforced: one process-wide handle, one scoped transactional accessor,
// idempotent schema creation, and additive migrations tolerant of
// "column exists" errors.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	// Registers the "sqlite3" database/sql driver and embeds the SQLite
	// library itself so the binary needs no cgo toolchain or system library.
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/context-raii/ctxhook/internal/debug"
)

// SchemaVersion is the schema version this binary expects, compared against
// the on-disk schema_meta row by `ctxhook doctor` using golang.org/x/mod/semver.
const SchemaVersion = "v1.1.0"

const baseSchema = `
CREATE TABLE IF NOT EXISTS tasks (
    id           TEXT PRIMARY KEY,
    subject      TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'pending',
    parent_id    TEXT,
    created_at   TEXT NOT NULL,
    completed_at TEXT,
    metadata     TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS context_chunks (
    id                TEXT PRIMARY KEY,
    tool_name         TEXT NOT NULL,
    tool_input        TEXT NOT NULL DEFAULT '{}',
    is_refetchable    INTEGER NOT NULL DEFAULT 0,
    status            TEXT NOT NULL DEFAULT 'fresh',
    size_tokens        INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT NOT NULL,
    status_changed_at TEXT NOT NULL,
    session_id        TEXT,
    content_hash      TEXT
);

CREATE TABLE IF NOT EXISTS task_chunks (
    task_id   TEXT NOT NULL,
    chunk_id  TEXT NOT NULL,
    tagged_at TEXT NOT NULL,
    PRIMARY KEY (task_id, chunk_id),
    FOREIGN KEY (task_id) REFERENCES tasks(id),
    FOREIGN KEY (chunk_id) REFERENCES context_chunks(id)
);

CREATE TABLE IF NOT EXISTS reference_edges (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    source_task_id  TEXT NOT NULL,
    target_chunk_id TEXT NOT NULL,
    reference_type  TEXT NOT NULL DEFAULT 'cited_in_reasoning',
    created_at      TEXT NOT NULL,
    UNIQUE (source_task_id, target_chunk_id, reference_type),
    FOREIGN KEY (source_task_id) REFERENCES tasks(id),
    FOREIGN KEY (target_chunk_id) REFERENCES context_chunks(id)
);

CREATE TABLE IF NOT EXISTS task_dependencies (
    dependent_task_id  TEXT NOT NULL,
    dependency_task_id TEXT NOT NULL,
    created_at         TEXT NOT NULL,
    PRIMARY KEY (dependent_task_id, dependency_task_id),
    FOREIGN KEY (dependent_task_id)  REFERENCES tasks(id),
    FOREIGN KEY (dependency_task_id) REFERENCES tasks(id)
);

CREATE TABLE IF NOT EXISTS compaction_events (
    id                     INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id             TEXT NOT NULL,
    compacted_at           TEXT NOT NULL,
    hints_evictable_count  INTEGER NOT NULL DEFAULT 0,
    hints_preserved_count  INTEGER NOT NULL DEFAULT 0,
    hints_evictable_tokens INTEGER NOT NULL DEFAULT 0,
    confirmed_evicted      INTEGER NOT NULL DEFAULT 0,
    false_negatives        INTEGER NOT NULL DEFAULT 0,
    compliance_rate        REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS schema_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status          ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_chunks_status         ON context_chunks(status);
CREATE INDEX IF NOT EXISTS idx_chunks_created_at     ON context_chunks(created_at);
CREATE INDEX IF NOT EXISTS idx_task_chunks_task      ON task_chunks(task_id);
CREATE INDEX IF NOT EXISTS idx_task_chunks_chunk     ON task_chunks(chunk_id);
CREATE INDEX IF NOT EXISTS idx_ref_edges_task        ON reference_edges(source_task_id);
CREATE INDEX IF NOT EXISTS idx_ref_edges_chunk       ON reference_edges(target_chunk_id);
CREATE INDEX IF NOT EXISTS idx_deps_dependent        ON task_dependencies(dependent_task_id);
CREATE INDEX IF NOT EXISTS idx_deps_dependency       ON task_dependencies(dependency_task_id);
`

// Store is a process-wide handle to the embedded ACID database.
type Store struct {
	db  *sql.DB
	dir string
}

// Dir returns the store directory this handle was opened against, so
// callers (sidecar writers, the debug logger) can derive sibling paths.
func (s *Store) Dir() string {
	return s.dir
}

// DB exposes the underlying *sql.DB for read-only ad-hoc queries where a
// full transaction would be overkill (e.g. quick COUNT(*) checks).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Open opens (creating if necessary) the SQLite database at dir/state.db,
// enables WAL mode and foreign key enforcement, and ensures the schema is
// current. dir is created if it does not exist.
func Open(ctx context.Context, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	dsn := fmt.Sprintf("file:%s/state.db?_pragma=busy_timeout(5000)", dir)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	db.SetMaxOpenConns(1) // a single writer; WAL handles concurrent readers

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, dir: dir}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	debug.Logf("store", "opened store at %s (schema %s)", dir, SchemaVersion)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSchema creates the base tables/indexes (idempotent) and then runs
// every additive migration in order, tolerating "duplicate column" errors
// the way SQLite forces us to (no ALTER TABLE ADD COLUMN IF NOT EXISTS).
func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, baseSchema); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	for _, m := range migrationsList {
		if err := s.WithTx(ctx, m.Func); err != nil {
			if isDuplicateColumnErr(err) {
				debug.Verbosef("store", "migration %s: column already present, skipping", m.Name)
				continue
			}
			return fmt.Errorf("store: migration %s: %w", m.Name, err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schema_meta (key, value) VALUES ('version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, SchemaVersion)
	return err
}

func isDuplicateColumnErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column")
}

// ErrRollback can be returned by a WithTx callback to force a rollback
// without surfacing an error to the caller of WithTx (rarely needed; most
// callers just return the real error).
var ErrRollback = errors.New("store: rollback requested")

// WithTx runs fn within a single transaction: BEGIN on entry, COMMIT on a
// nil return, ROLLBACK otherwise. This is the only way repositories mutate
// the store.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rerr)
		}
		if errors.Is(err, ErrRollback) {
			return nil
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// SchemaVersionOnDisk reads the schema_meta version row, used by
// `ctxhook doctor` for the semver compatibility check.
func (s *Store) SchemaVersionOnDisk(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM schema_meta WHERE key = 'version'`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return version, err
}
