// Package fts rebuilds harlite's full-text index over decoded, textual
// response bodies (spec §4.8). Grounded on original_source/src/commands/
// fts.rs.
package fts

import (
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/brucehart/harlite/internal/blobstore"
	"github.com/brucehart/harlite/internal/harerr"
	"github.com/brucehart/harlite/internal/queries"
)

// Tokenizer selects the FTS5 tokenizer used when rebuilding the index.
type Tokenizer int

const (
	Unicode61 Tokenizer = iota
	Porter
	Trigram
)

func (t Tokenizer) sql() string {
	switch t {
	case Porter:
		return "porter"
	case Trigram:
		return "trigram"
	default:
		return "unicode61"
	}
}

const defaultMaxIndexable = 1024 * 1024

// RebuildOptions configures a full rebuild.
type RebuildOptions struct {
	Tokenizer    Tokenizer
	MaxBodySize  int64 // 0 = defaultMaxIndexable
	ExternalRoot string // empty disables external blob resolution
}

func isTextMimeType(mime string) bool {
	if mime == "" {
		return false
	}
	m := strings.ToLower(mime)
	for _, needle := range []string{"text/", "json", "xml", "javascript", "css", "html", "x-www-form-urlencoded"} {
		if strings.Contains(m, needle) {
			return true
		}
	}
	return false
}

// Rebuild drops and recreates the response_body_fts virtual table, then
// reindexes every distinct response body hash referenced by entries,
// skipping non-UTF-8 bodies, bodies over the size cap, and non-textual MIME
// types (spec §4.8).
func Rebuild(db *sql.DB, opts RebuildOptions) (indexed int, err error) {
	maxSize := opts.MaxBodySize
	if maxSize <= 0 {
		maxSize = defaultMaxIndexable
	}

	if _, err := db.Exec(`DROP TABLE IF EXISTS response_body_fts`); err != nil {
		return 0, harerr.New(harerr.StorageCorruption, "fts.Rebuild", err)
	}
	createSQL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE response_body_fts USING fts5(hash UNINDEXED, body, tokenize = '%s')`,
		opts.Tokenizer.sql(),
	)
	if _, err := db.Exec(createSQL); err != nil {
		return 0, harerr.New(harerr.StorageCorruption, "fts.Rebuild", err)
	}

	hashes, err := distinctResponseHashes(db)
	if err != nil {
		return 0, err
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, harerr.New(harerr.StorageCorruption, "fts.Rebuild", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const chunkSize = 900
	for i := 0; i < len(hashes); i += chunkSize {
		end := i + chunkSize
		if end > len(hashes) {
			end = len(hashes)
		}
		blobs, err := queries.LoadBlobsByHashes(db, hashes[i:end])
		if err != nil {
			return 0, err
		}
		for _, b := range blobs {
			content := b.Content
			if len(content) == 0 && b.Size > 0 && b.ExternalPath != "" && opts.ExternalRoot != "" {
				data, _, _, err := blobstore.Load(db, b.Hash, opts.ExternalRoot)
				if err != nil {
					return 0, err
				}
				content = data
			}
			if len(content) == 0 {
				continue
			}
			if int64(len(content)) > maxSize {
				continue
			}
			if b.MimeType != "" && !isTextMimeType(b.MimeType) {
				continue
			}
			if !utf8.Valid(content) {
				continue
			}
			if _, err := tx.Exec(`INSERT INTO response_body_fts (hash, body) VALUES (?, ?)`, b.Hash, string(content)); err != nil {
				return 0, harerr.New(harerr.StorageCorruption, "fts.Rebuild", err)
			}
			indexed++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, harerr.New(harerr.StorageCorruption, "fts.Rebuild", err)
	}
	committed = true
	return indexed, nil
}

func distinctResponseHashes(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT response_body_hash FROM entries WHERE response_body_hash IS NOT NULL`)
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "fts.distinctResponseHashes", err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "fts.distinctResponseHashes", err)
		}
		if !seen[h] {
			seen[h] = true
			hashes = append(hashes, h)
		}
	}
	return hashes, rows.Err()
}
