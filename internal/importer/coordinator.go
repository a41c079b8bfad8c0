package importer

import (
	"database/sql"
	"path/filepath"
	"time"

	"github.com/brucehart/harlite/internal/har"
	"github.com/brucehart/harlite/internal/harerr"
)

// ProgressFunc reports entries processed out of total for one archive. The
// core never depends on a progress-bar library itself (SPEC_FULL.md §4.5);
// the CLI layer supplies this hook.
type ProgressFunc func(done, total int)

// Coordinator drives per-archive import: create Import row, insert pages,
// iterate entries inside one transaction, commit, update entry_count (spec
// §4.5). Grounded on original_source/src/commands/import.rs's
// import_single_file.
type Coordinator struct {
	DB *sql.DB
}

// Import ingests one HAR file, returning dedup/size statistics.
func (c *Coordinator) Import(path string, opts InsertEntryOptions, progress ProgressFunc) (ImportStats, error) {
	var total ImportStats

	doc, err := har.ParseFile(path)
	if err != nil {
		return total, err
	}

	importID, err := createImport(c.DB, filepath.Base(path))
	if err != nil {
		return total, err
	}

	for _, page := range doc.Log.Pages {
		if err := insertPage(c.DB, importID, page); err != nil {
			return total, err
		}
	}

	tx, err := c.DB.Begin()
	if err != nil {
		return total, harerr.New(harerr.StorageCorruption, "importer.Import", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	entries := doc.Log.Entries
	for i, entry := range entries {
		stats, err := InsertEntry(tx, importID, entry, opts)
		if err != nil {
			return total, err
		}
		total.EntriesImported++
		total.Request.addAssign(stats.Request)
		total.Response.addAssign(stats.Response)
		if progress != nil {
			progress(i+1, len(entries))
		}
	}

	if err := tx.Commit(); err != nil {
		return total, harerr.New(harerr.StorageCorruption, "importer.Import", err)
	}
	committed = true

	if err := updateImportCount(c.DB, importID, total.EntriesImported); err != nil {
		return total, err
	}

	return total, nil
}

// ImportedAtLayout is RFC3339 UTC truncated to millisecond precision (spec
// §6), matching queries.ParseTimestampBound/formatMillis so the merge
// dedup key (source_file, imported_at) compares equal across re-imports.
const ImportedAtLayout = "2006-01-02T15:04:05.000Z"

func createImport(db *sql.DB, sourceFile string) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO imports (source_file, imported_at, status) VALUES (?, ?, 'complete')`,
		sourceFile, time.Now().UTC().Format(ImportedAtLayout),
	)
	if err != nil {
		return 0, harerr.New(harerr.StorageCorruption, "importer.createImport", err)
	}
	return res.LastInsertId()
}

func updateImportCount(db *sql.DB, importID int64, count int) error {
	_, err := db.Exec(`UPDATE imports SET entry_count = ? WHERE id = ?`, count, importID)
	if err != nil {
		return harerr.New(harerr.StorageCorruption, "importer.updateImportCount", err)
	}
	return nil
}

func insertPage(db *sql.DB, importID int64, page har.Page) error {
	var onContentLoad, onLoad any
	if page.PageTimings != nil {
		onContentLoad = page.PageTimings.OnContentLoad
		onLoad = page.PageTimings.OnLoad
	}
	_, err := db.Exec(
		`INSERT INTO pages (page_id, import_id, started_at, title, on_content_load_ms, on_load_ms)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(page_id, import_id) DO NOTHING`,
		page.ID, importID, page.StartedDateTime, nullIfEmpty(page.Title), onContentLoad, onLoad,
	)
	if err != nil {
		return harerr.New(harerr.StorageCorruption, "importer.insertPage", err)
	}
	return nil
}
