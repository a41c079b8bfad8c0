package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/brucehart/harlite/internal/storage/sqlite/migrations"
)

// Migration is a single idempotent upgrade step.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList is the ordered list of all migrations run during schema
// upgrade. All are idempotent: running them against an up-to-date database
// is a no-op. Grounded on the teacher's internal/storage/sqlite/migrations.go
// convention of a flat ordered []Migration list run inside one transaction.
var migrationsList = []Migration{
	{"tls_columns", migrations.MigrateTLSColumns},
	{"timing_columns", migrations.MigrateTimingColumns},
	{"entry_hash_column", migrations.MigrateEntryHashColumn},
	{"log_extensions_column", migrations.MigrateLogExtensionsColumn},
	{"graphql_fields_table", migrations.MigrateGraphQLFieldsTable},
}

// RunMigrations executes all registered migrations in order inside one
// EXCLUSIVE transaction, serializing upgrades across processes that might
// open the same database concurrently (teacher precedent: migrations.go's
// BEGIN EXCLUSIVE around the whole upgrade pass).
func RunMigrations(db *sql.DB) error {
	if _, err := db.Exec("BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("failed to acquire exclusive lock for migrations: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = db.Exec("ROLLBACK")
		}
	}()

	for _, m := range migrationsList {
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}

	if _, err := db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	committed = true
	return nil
}
