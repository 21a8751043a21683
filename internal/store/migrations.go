package store

import (
	"database/sql"

	"github.com/context-raii/ctxhook/internal/store/migrations"
)

// Migration is one named, idempotent schema change applied in order after
// the base schema.
type Migration struct {
	Name string
	Func func(*sql.Tx) error
}

// migrationsList runs in order every time the store opens. All migrations
// must be safe to re-run (ALTER TABLE ADD COLUMN failures on an
// already-present column are caught by isDuplicateColumnErr in store.go).
var migrationsList = []Migration{
	{"status_changed_at_backfill", migrations.BackfillStatusChangedAt},
	{"compaction_events_session_index", migrations.AddCompactionEventsSessionIndex},
}
