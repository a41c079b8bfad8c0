package importer

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/brucehart/harlite/internal/harerr"
)

const hashChunkSize = 500

// PruneResult reports what Prune removed.
type PruneResult struct {
	SourceFile     string
	EntriesDeleted int
	PagesDeleted   int
	ImportsDeleted int
	BlobsDeleted   int
	FTSDeleted     int
}

// Prune removes all records for one Import and garbage-collects blobs (and
// their FTS rows) left with no remaining referencing entry, within one
// transaction (spec §4.5). Grounded on original_source/src/commands/
// prune.rs.
func Prune(db *sql.DB, importID int64) (PruneResult, error) {
	var result PruneResult

	err := db.QueryRow(`SELECT source_file FROM imports WHERE id = ?`, importID).Scan(&result.SourceFile)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, harerr.New(harerr.InputInvalid, "importer.Prune", fmt.Errorf("import id %d not found", importID))
		}
		return result, harerr.New(harerr.StorageCorruption, "importer.Prune", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return result, harerr.New(harerr.StorageCorruption, "importer.Prune", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	hashes, err := collectReferencedHashes(tx, importID)
	if err != nil {
		return result, err
	}

	if result.EntriesDeleted, err = execCount(tx, `DELETE FROM entries WHERE import_id = ?`, importID); err != nil {
		return result, err
	}
	if result.PagesDeleted, err = execCount(tx, `DELETE FROM pages WHERE import_id = ?`, importID); err != nil {
		return result, err
	}
	if result.ImportsDeleted, err = execCount(tx, `DELETE FROM imports WHERE id = ?`, importID); err != nil {
		return result, err
	}

	if len(hashes) > 0 {
		hasFTS, err := ftsTableExistsDB(tx)
		if err != nil {
			return result, harerr.New(harerr.StorageCorruption, "importer.Prune", err)
		}

		for i := 0; i < len(hashes); i += hashChunkSize {
			end := i + hashChunkSize
			if end > len(hashes) {
				end = len(hashes)
			}
			chunk := hashes[i:end]

			orphans, err := orphanedHashes(tx, chunk)
			if err != nil {
				return result, err
			}
			if len(orphans) == 0 {
				continue
			}

			if hasFTS {
				n, err := execCount(tx, fmt.Sprintf(`DELETE FROM response_body_fts WHERE hash IN (%s)`, placeholders(len(orphans))), toAnySlice(orphans)...)
				if err != nil {
					return result, err
				}
				result.FTSDeleted += n
			}

			n, err := execCount(tx, fmt.Sprintf(`DELETE FROM blobs WHERE hash IN (%s)`, placeholders(len(orphans))), toAnySlice(orphans)...)
			if err != nil {
				return result, err
			}
			result.BlobsDeleted += n
		}
	}

	if err := tx.Commit(); err != nil {
		return result, harerr.New(harerr.StorageCorruption, "importer.Prune", err)
	}
	committed = true

	return result, nil
}

func collectReferencedHashes(tx *sql.Tx, importID int64) ([]string, error) {
	rows, err := tx.Query(`
		SELECT DISTINCT request_body_hash FROM entries WHERE import_id = ? AND request_body_hash IS NOT NULL
		UNION
		SELECT DISTINCT response_body_hash FROM entries WHERE import_id = ? AND response_body_hash IS NOT NULL
		UNION
		SELECT DISTINCT response_body_hash_raw FROM entries WHERE import_id = ? AND response_body_hash_raw IS NOT NULL
	`, importID, importID, importID)
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "importer.collectReferencedHashes", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "importer.collectReferencedHashes", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func orphanedHashes(tx *sql.Tx, chunk []string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT hash FROM blobs
		WHERE hash IN (%s)
		AND NOT EXISTS (
			SELECT 1 FROM entries e
			WHERE e.request_body_hash = blobs.hash
			   OR e.response_body_hash = blobs.hash
			   OR e.response_body_hash_raw = blobs.hash
		)`, placeholders(len(chunk)))

	rows, err := tx.Query(query, toAnySlice(chunk)...)
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "importer.orphanedHashes", err)
	}
	defer rows.Close()

	var orphans []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "importer.orphanedHashes", err)
		}
		orphans = append(orphans, h)
	}
	return orphans, rows.Err()
}

func ftsTableExistsDB(tx *sql.Tx) (bool, error) {
	var count int
	err := tx.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='response_body_fts'`).Scan(&count)
	return count > 0, err
}

func execCount(tx *sql.Tx, query string, args ...any) (int, error) {
	res, err := tx.Exec(query, args...)
	if err != nil {
		return 0, harerr.New(harerr.StorageCorruption, "importer.execCount", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, harerr.New(harerr.StorageCorruption, "importer.execCount", err)
	}
	return int(n), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
