// Package migrations holds individual additive schema changes, one file
// per migration.
package migrations

import "database/sql"

// BackfillStatusChangedAt adds the status_changed_at column tracked by
// ContextTagger.MarkEvictable/MarkIntegrated and backfills it from
// created_at for any row that predates the column.
//
// The base schema already declares this column for fresh installs, where
// this migration is a no-op (duplicate-column error, swallowed by the
// caller); it does real work only on databases created before the column
// was added.
func BackfillStatusChangedAt(tx *sql.Tx) error {
	if _, err := tx.Exec(`ALTER TABLE context_chunks ADD COLUMN status_changed_at TEXT`); err != nil {
		return err
	}
	_, err := tx.Exec(`UPDATE context_chunks SET status_changed_at = created_at WHERE status_changed_at IS NULL`)
	return err
}
