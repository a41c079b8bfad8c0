package migrations

import "database/sql"

// MigrateTimingColumns adds the seven HAR phase-timing columns to entries.
func MigrateTimingColumns(db *sql.DB) error {
	cols := map[string]string{
		"timing_blocked_ms": "REAL",
		"timing_dns_ms":     "REAL",
		"timing_connect_ms": "REAL",
		"timing_send_ms":    "REAL",
		"timing_wait_ms":    "REAL",
		"timing_receive_ms": "REAL",
		"timing_ssl_ms":     "REAL",
	}
	for col, ddl := range cols {
		if err := addColumnIfMissing(db, "entries", col, ddl); err != nil {
			return err
		}
	}
	return nil
}
