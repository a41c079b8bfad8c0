package capture

import (
	"database/sql"
	"time"

	"github.com/brucehart/harlite/internal/har"
	"github.com/brucehart/harlite/internal/harerr"
	"github.com/brucehart/harlite/internal/importer"
)

// ImportCaptured writes captured entries into db as a single "cdp" import,
// mirroring cdp.rs's import_entries (spec §4.6 "Persistence"). Bodies are
// always extracted inline, matching the original's ExtractBodiesKind::Both
// with no external-file sharding.
func ImportCaptured(db *sql.DB, entries []har.Entry, opts Options) (importer.ImportStats, error) {
	var total importer.ImportStats

	res, err := db.Exec(`INSERT INTO imports (source_file, imported_at, status) VALUES (?, ?, 'complete')`,
		"cdp", time.Now().UTC().Format(importer.ImportedAtLayout))
	if err != nil {
		return total, harerr.New(harerr.StorageCorruption, "capture.ImportCaptured", err)
	}
	importID, err := res.LastInsertId()
	if err != nil {
		return total, harerr.New(harerr.StorageCorruption, "capture.ImportCaptured", err)
	}

	entryOpts := importer.InsertEntryOptions{
		StoreBodies: opts.StoreBodies,
		MaxBodySize: opts.MaxBodySize,
		TextOnly:    opts.TextOnly,
	}

	tx, err := db.Begin()
	if err != nil {
		return total, harerr.New(harerr.StorageCorruption, "capture.ImportCaptured", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, entry := range entries {
		stats, err := importer.InsertEntry(tx, importID, entry, entryOpts)
		if err != nil {
			return total, err
		}
		total.EntriesImported++
		total.Request.Created += stats.Request.Created
		total.Request.Deduplicated += stats.Request.Deduplicated
		total.Request.BytesStored += stats.Request.BytesStored
		total.Request.BytesDeduplicated += stats.Request.BytesDeduplicated
		total.Response.Created += stats.Response.Created
		total.Response.Deduplicated += stats.Response.Deduplicated
		total.Response.BytesStored += stats.Response.BytesStored
		total.Response.BytesDeduplicated += stats.Response.BytesDeduplicated
	}

	if err := tx.Commit(); err != nil {
		return total, harerr.New(harerr.StorageCorruption, "capture.ImportCaptured", err)
	}
	committed = true

	if _, err := db.Exec(`UPDATE imports SET entry_count = ? WHERE id = ?`, total.EntriesImported, importID); err != nil {
		return total, harerr.New(harerr.StorageCorruption, "capture.ImportCaptured", err)
	}

	return total, nil
}
