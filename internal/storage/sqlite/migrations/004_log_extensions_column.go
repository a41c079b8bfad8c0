package migrations

import "database/sql"

// MigrateLogExtensionsColumn adds imports.log_extensions, a free-form JSON
// blob the merge engine backfills when null (spec §4.7 step 2).
func MigrateLogExtensionsColumn(db *sql.DB) error {
	return addColumnIfMissing(db, "imports", "log_extensions", "TEXT")
}
