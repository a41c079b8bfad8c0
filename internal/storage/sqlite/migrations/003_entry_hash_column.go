package migrations

import "database/sql"

// MigrateEntryHashColumn adds entries.entry_hash, a precomputed content
// digest excluded from the merge dedup key (spec §4.7.1).
func MigrateEntryHashColumn(db *sql.DB) error {
	return addColumnIfMissing(db, "entries", "entry_hash", "TEXT")
}
