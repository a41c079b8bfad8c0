package migrations

import "database/sql"

// MigrateTLSColumns adds the five TLS fields to entries for databases
// created before TLS capture existed. Excluded from the merge dedup key
// (SPEC_FULL.md §4.7.1) precisely so this backfill can enrich older rows.
func MigrateTLSColumns(db *sql.DB) error {
	cols := map[string]string{
		"tls_version":      "TEXT",
		"tls_cipher_suite": "TEXT",
		"tls_cert_subject": "TEXT",
		"tls_cert_issuer":  "TEXT",
		"tls_cert_expiry":  "TEXT",
	}
	for col, ddl := range cols {
		if err := addColumnIfMissing(db, "entries", col, ddl); err != nil {
			return err
		}
	}
	return nil
}
