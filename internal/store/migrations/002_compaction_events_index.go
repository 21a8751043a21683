package migrations

import "database/sql"

// AddCompactionEventsSessionIndex adds an index on
// compaction_events(session_id, compacted_at).
func AddCompactionEventsSessionIndex(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_compaction_events_session ON compaction_events(session_id, compacted_at)`)
	return err
}
