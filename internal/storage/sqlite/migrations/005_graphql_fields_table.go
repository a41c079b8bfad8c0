package migrations

import "database/sql"

// MigrateGraphQLFieldsTable creates the graphql_fields side table for
// databases predating GraphQL extraction.
func MigrateGraphQLFieldsTable(db *sql.DB) error {
	ok, err := hasTable(db, "graphql_fields")
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = db.Exec(`
		CREATE TABLE graphql_fields (
			entry_id INTEGER PRIMARY KEY REFERENCES entries(id),
			operation_name TEXT,
			query TEXT,
			variables TEXT
		)
	`)
	return err
}
