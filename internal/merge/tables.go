package merge

import (
	"database/sql"
	"strings"

	"github.com/brucehart/harlite/internal/harerr"
)

type importMeta struct {
	id             int64
	logExtensions  *string
}

// loadExistingImports keys the output's current imports by (source_file,
// imported_at) so a later input database's identical import is deduped
// rather than duplicated.
func loadExistingImports(db *sql.DB) (map[[2]string]*importMeta, error) {
	ok, err := tableExists(db, "imports")
	if err != nil || !ok {
		return map[[2]string]*importMeta{}, err
	}
	rows, err := queryRows(db, `SELECT source_file, imported_at, id, log_extensions FROM imports`)
	if err != nil {
		return nil, err
	}
	out := map[[2]string]*importMeta{}
	for _, r := range rows {
		key := [2]string{asStr(r["source_file"]), asStr(r["imported_at"])}
		out[key] = &importMeta{id: asI64(r["id"]), logExtensions: asString(r["log_extensions"])}
	}
	return out, nil
}

func mergeImports(in *sql.DB, tx *sql.Tx, importMap map[[2]string]*importMeta, stats *Stats) (map[int64]int64, error) {
	rows, err := queryRows(in, `SELECT id, source_file, imported_at, log_extensions FROM imports`)
	if err != nil {
		return nil, err
	}

	idMap := map[int64]int64{}
	for _, r := range rows {
		stats.ImportsTotal++
		oldID := asI64(r["id"])
		sourceFile := asStr(r["source_file"])
		importedAt := asStr(r["imported_at"])
		logExt := asString(r["log_extensions"])
		key := [2]string{sourceFile, importedAt}

		if meta, ok := importMap[key]; ok {
			idMap[oldID] = meta.id
			stats.ImportsDeduped++
			if meta.logExtensions == nil && logExt != nil {
				if _, err := tx.Exec(`UPDATE imports SET log_extensions = ? WHERE id = ?`, *logExt, meta.id); err != nil {
					return nil, harerr.New(harerr.StorageCorruption, "merge.mergeImports", err)
				}
				meta.logExtensions = logExt
			}
			continue
		}

		res, err := tx.Exec(`INSERT INTO imports (source_file, imported_at, entry_count, log_extensions) VALUES (?, ?, 0, ?)`,
			sourceFile, importedAt, nullableString(logExt))
		if err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "merge.mergeImports", err)
		}
		newID, _ := res.LastInsertId()
		idMap[oldID] = newID
		importMap[key] = &importMeta{id: newID, logExtensions: logExt}
		stats.ImportsAdded++
	}
	return idMap, nil
}

// mergePages copies pages rows, keyed by their real composite primary key
// (page_id, import_id) — harlite's pages table has no synthetic "id" column
// (schema.go), so the dedup/insert key is the mapped import plus the
// page_id string the HAR itself assigned.
func mergePages(in *sql.DB, tx *sql.Tx, importIDMap map[int64]int64, stats *Stats) error {
	rows, err := queryRows(in, `SELECT import_id, page_id, started_at, title,
		on_content_load_ms, on_load_ms FROM pages`)
	if err != nil {
		return err
	}

	for _, r := range rows {
		stats.PagesTotal++
		mappedImportID, ok := importIDMap[asI64(r["import_id"])]
		if !ok {
			continue
		}
		res, err := tx.Exec(`INSERT OR IGNORE INTO pages (page_id, import_id, started_at, title,
			on_content_load_ms, on_load_ms)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r["page_id"], mappedImportID, r["started_at"], r["title"],
			r["on_content_load_ms"], r["on_load_ms"])
		if err != nil {
			return harerr.New(harerr.StorageCorruption, "merge.mergePages", err)
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			stats.PagesAdded++
		} else {
			stats.PagesDeduped++
		}
	}
	return nil
}

func mergeBlobs(in *sql.DB, tx *sql.Tx, stats *Stats) error {
	ok, err := tableExists(in, "blobs")
	if err != nil || !ok {
		return err
	}
	rows, err := queryRows(in, `SELECT hash, content, size, mime_type, external_path FROM blobs`)
	if err != nil {
		return err
	}

	for _, r := range rows {
		stats.BlobsTotal++
		hash := asStr(r["hash"])
		res, err := tx.Exec(`INSERT OR IGNORE INTO blobs (hash, content, size, mime_type, external_path)
			VALUES (?, ?, ?, ?, ?)`,
			hash, r["content"], r["size"], r["mime_type"], r["external_path"])
		if err != nil {
			return harerr.New(harerr.StorageCorruption, "merge.mergeBlobs", err)
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			stats.BlobsAdded++
		} else {
			stats.BlobsDeduped++
			if ext := asString(r["external_path"]); ext != nil {
				if _, err := tx.Exec(`UPDATE blobs SET external_path = COALESCE(external_path, ?) WHERE hash = ?`, *ext, hash); err != nil {
					return harerr.New(harerr.StorageCorruption, "merge.mergeBlobs", err)
				}
			}
		}
	}
	return nil
}

func loadExistingFTSHashes(db *sql.DB) (map[string]bool, error) {
	ok, err := tableExists(db, "response_body_fts")
	if err != nil || !ok {
		return map[string]bool{}, err
	}
	rows, err := queryRows(db, `SELECT hash FROM response_body_fts`)
	if err != nil {
		return nil, err
	}
	out := map[string]bool{}
	for _, r := range rows {
		out[asStr(r["hash"])] = true
	}
	return out, nil
}

func mergeFTS(in *sql.DB, tx *sql.Tx, ftsHashes map[string]bool, stats *Stats) error {
	ok, err := tableExists(in, "response_body_fts")
	if err != nil || !ok {
		return err
	}
	if _, err := tx.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS response_body_fts USING fts5(hash UNINDEXED, body)`); err != nil {
		return harerr.New(harerr.StorageCorruption, "merge.mergeFTS", err)
	}
	rows, err := queryRows(in, `SELECT hash, body FROM response_body_fts`)
	if err != nil {
		return err
	}

	for _, r := range rows {
		stats.FTSTotal++
		hash := asStr(r["hash"])
		if ftsHashes[hash] {
			stats.FTSDeduped++
			continue
		}
		if _, err := tx.Exec(`INSERT INTO response_body_fts (hash, body) VALUES (?, ?)`, hash, r["body"]); err != nil {
			return harerr.New(harerr.StorageCorruption, "merge.mergeFTS", err)
		}
		ftsHashes[hash] = true
		stats.FTSAdded++
	}
	return nil
}

// graphqlRow mirrors graphql_fields' one-row-per-entry shape (entry_id is
// the table's PRIMARY KEY — writer.go, migration 005 — so there is at most
// one of these per source entry, not a list).
type graphqlRow struct {
	operationName *string
	query         *string
	variables     *string
}

func loadGraphQLFields(db *sql.DB) (map[int64]graphqlRow, error) {
	ok, err := tableExists(db, "graphql_fields")
	if err != nil || !ok {
		return map[int64]graphqlRow{}, err
	}
	rows, err := queryRows(db, `SELECT entry_id, operation_name, query, variables FROM graphql_fields`)
	if err != nil {
		return nil, err
	}
	out := map[int64]graphqlRow{}
	for _, r := range rows {
		id := asI64(r["entry_id"])
		out[id] = graphqlRow{
			operationName: asString(r["operation_name"]),
			query:         asString(r["query"]),
			variables:     asString(r["variables"]),
		}
	}
	return out, nil
}

func insertGraphQLFields(tx *sql.Tx, entryID int64, row graphqlRow) error {
	ok, err := tableExistsTx(tx, "graphql_fields")
	if err != nil || !ok {
		return err
	}
	_, err = tx.Exec(`INSERT OR IGNORE INTO graphql_fields (entry_id, operation_name, query, variables) VALUES (?, ?, ?, ?)`,
		entryID, nullableString(row.operationName), nullableString(row.query), nullableString(row.variables))
	if err != nil {
		return harerr.New(harerr.StorageCorruption, "merge.insertGraphQLFields", err)
	}
	return nil
}

func tableExistsTx(tx *sql.Tx, table string) (bool, error) {
	var n int
	err := tx.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
	if err != nil {
		return false, harerr.New(harerr.StorageCorruption, "merge.tableExistsTx", err)
	}
	return n > 0, nil
}

func mergeEntries(in *sql.DB, tx *sql.Tx, importIDMap map[int64]int64, entryKeysByImport map[int64]map[string]int64,
	graphqlFields map[int64]graphqlRow, dedup DedupStrategy, stats *Stats) error {

	cols, err := tableColumns(in, "entries")
	if err != nil {
		return err
	}
	selectParts := make([]string, 0, len(entryColumns)+1)
	for _, c := range entryColumns {
		selectParts = append(selectParts, selectCol(cols, c))
	}
	query := "SELECT id, " + strings.Join(selectParts, ", ") + " FROM entries"

	rows, err := queryRows(in, query)
	if err != nil {
		return err
	}

	for _, r := range rows {
		stats.EntriesTotal++
		oldEntryID := asI64(r["id"])
		mappedImportID, ok := importIDMap[asI64(r["import_id"])]
		if !ok {
			continue
		}

		keys := entryKeysByImport[mappedImportID]
		if keys == nil {
			keys, err = loadEntryKeysForImport(tx, mappedImportID, dedup)
			if err != nil {
				return err
			}
			entryKeysByImport[mappedImportID] = keys
		}

		key := entryKey(entryValues(r), dedup)
		if existingID, ok := keys[key]; ok {
			if err := updateTLSFields(tx, existingID, r); err != nil {
				return err
			}
			if fields, ok := graphqlFields[oldEntryID]; ok {
				if err := insertGraphQLFields(tx, existingID, fields); err != nil {
					return err
				}
			}
			stats.EntriesDeduped++
			continue
		}

		newID, err := insertEntry(tx, mappedImportID, r)
		if err != nil {
			return err
		}
		keys[key] = newID
		if fields, ok := graphqlFields[oldEntryID]; ok {
			if err := insertGraphQLFields(tx, newID, fields); err != nil {
				return err
			}
		}
		stats.EntriesAdded++

	}
	return nil
}

func loadEntryKeysForImport(tx *sql.Tx, importID int64, dedup DedupStrategy) (map[string]int64, error) {
	tableCols, err := tableColumnsTx(tx, "entries")
	if err != nil {
		return nil, err
	}
	selectParts := make([]string, 0, len(entryColumns))
	for _, c := range entryColumns {
		selectParts = append(selectParts, selectCol(tableCols, c))
	}
	query := "SELECT id, " + strings.Join(selectParts, ", ") + " FROM entries WHERE import_id = ?"

	txRows, err := tx.Query(query, importID)
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "merge.loadEntryKeysForImport", err)
	}
	defer txRows.Close()

	resultCols, err := txRows.Columns()
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "merge.loadEntryKeysForImport", err)
	}

	out := map[string]int64{}
	for txRows.Next() {
		vals := make([]any, len(resultCols))
		ptrs := make([]any, len(resultCols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := txRows.Scan(ptrs...); err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "merge.loadEntryKeysForImport", err)
		}
		row := make(map[string]any, len(resultCols))
		for i, c := range resultCols {
			row[c] = vals[i]
		}
		out[entryKey(entryValues(row), dedup)] = asI64(row["id"])
	}
	return out, txRows.Err()
}

func updateTLSFields(tx *sql.Tx, entryID int64, e map[string]any) error {
	_, err := tx.Exec(`UPDATE entries SET
		tls_version = COALESCE(tls_version, ?),
		tls_cipher_suite = COALESCE(tls_cipher_suite, ?),
		tls_cert_subject = COALESCE(tls_cert_subject, ?),
		tls_cert_issuer = COALESCE(tls_cert_issuer, ?),
		tls_cert_expiry = COALESCE(tls_cert_expiry, ?)
		WHERE id = ?`,
		e["tls_version"], e["tls_cipher_suite"], e["tls_cert_subject"], e["tls_cert_issuer"], e["tls_cert_expiry"], entryID)
	if err != nil {
		return harerr.New(harerr.StorageCorruption, "merge.updateTLSFields", err)
	}
	return nil
}

func insertEntry(tx *sql.Tx, importID int64, e map[string]any) (int64, error) {
	args := make([]any, 0, len(entryColumns)+1)
	args = append(args, importID)
	for _, c := range entryColumns[1:] { // skip "import_id", replaced by the mapped id
		args = append(args, e[c])
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	cols := append([]string{"import_id"}, entryColumns[1:]...)
	query := "INSERT INTO entries (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders + ")"

	res, err := tx.Exec(query, args...)
	if err != nil {
		return 0, harerr.New(harerr.StorageCorruption, "merge.insertEntry", err)
	}
	return res.LastInsertId()
}

func asStr(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}

func asI64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
