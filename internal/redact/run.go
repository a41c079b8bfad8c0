package redact

import (
	"database/sql"

	"github.com/brucehart/harlite/internal/harerr"
)

// RedactEntries iterates entries in primary-key order, scanning URLs
// (query-parameter names), headers, cookies, and bodies, replacing matches
// with opts.Token. Body rewrites produce a new blob under a new hash; the
// old hash's FTS row is dropped once nothing references it, and a new FTS
// row is inserted for the new hash if the original had one (spec §4.9
// "Execution"). DryRun performs the scan and returns a Report without
// writing.
func RedactEntries(db *sql.DB, opts Options) (*Report, error) {
	report := newReport()

	rows, err := db.Query(`SELECT id, url, request_headers, request_cookies, request_body_hash,
		response_headers, response_cookies, response_body_hash, response_mime_type
		FROM entries ORDER BY id`)
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "redact.RedactEntries", err)
	}
	type entryRow struct {
		id                                           int64
		url, reqHeaders, reqCookies, reqBodyHash     sql.NullString
		respHeaders, respCookies, respBodyHash, mime sql.NullString
	}
	var entries []entryRow
	for rows.Next() {
		var e entryRow
		if err := rows.Scan(&e.id, &e.url, &e.reqHeaders, &e.reqCookies, &e.reqBodyHash,
			&e.respHeaders, &e.respCookies, &e.respBodyHash, &e.mime); err != nil {
			rows.Close()
			return nil, harerr.New(harerr.StorageCorruption, "redact.RedactEntries", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "redact.RedactEntries", err)
	}

	if opts.DryRun {
		for _, e := range entries {
			redactURLParams(e.url.String, opts.QueryMatcher, opts, report)
			redactHeadersJSON(e.reqHeaders.String, opts.HeaderMatcher, opts, report)
			redactHeadersJSON(e.respHeaders.String, opts.HeaderMatcher, opts, report)
			redactCookiesJSON(e.reqCookies.String, opts.CookieMatcher, opts, report)
			redactCookiesJSON(e.respCookies.String, opts.CookieMatcher, opts, report)
			scanBodyBlob(db, e.reqBodyHash.String, opts, report)
			scanBodyBlob(db, e.respBodyHash.String, opts, report)
		}
		return report, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "redact.RedactEntries", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	blobCache := map[string]string{} // old hash -> new hash, for bodies shared across entries

	for _, e := range entries {
		newURL, urlChanged := redactURLParams(e.url.String, opts.QueryMatcher, opts, report)
		newReqHeaders, reqHeadersChanged := redactHeadersJSON(e.reqHeaders.String, opts.HeaderMatcher, opts, report)
		newRespHeaders, respHeadersChanged := redactHeadersJSON(e.respHeaders.String, opts.HeaderMatcher, opts, report)
		newReqCookies, reqCookiesChanged := redactCookiesJSON(e.reqCookies.String, opts.CookieMatcher, opts, report)
		newRespCookies, respCookiesChanged := redactCookiesJSON(e.respCookies.String, opts.CookieMatcher, opts, report)

		newReqBodyHash, reqBodyChanged, err := rewriteBodyIfMatched(tx, db, e.reqBodyHash.String, opts, report, blobCache)
		if err != nil {
			return nil, err
		}
		newRespBodyHash, respBodyChanged, err := rewriteBodyIfMatched(tx, db, e.respBodyHash.String, opts, report, blobCache)
		if err != nil {
			return nil, err
		}

		if !(urlChanged || reqHeadersChanged || respHeadersChanged || reqCookiesChanged || respCookiesChanged || reqBodyChanged || respBodyChanged) {
			continue
		}

		_, err = tx.Exec(`UPDATE entries SET url = ?, request_headers = ?, response_headers = ?,
			request_cookies = ?, response_cookies = ?, request_body_hash = COALESCE(?, request_body_hash),
			response_body_hash = COALESCE(?, response_body_hash) WHERE id = ?`,
			newURL, newReqHeaders, newRespHeaders, newReqCookies, newRespCookies,
			nullIfEmpty(newReqBodyHash), nullIfEmpty(newRespBodyHash), e.id)
		if err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "redact.RedactEntries", err)
		}

		if reqBodyChanged {
			if err := decrefBlob(tx, e.reqBodyHash.String); err != nil {
				return nil, err
			}
		}
		if respBodyChanged {
			if err := decrefBlob(tx, e.respBodyHash.String); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "redact.RedactEntries", err)
	}
	committed = true

	return report, nil
}

func scanBodyBlob(db *sql.DB, hash string, opts Options, report *Report) {
	if hash == "" || len(opts.BodyPatterns) == 0 {
		return
	}
	content, _, err := loadBlobForRewrite(db, hash, opts.ExternalRoot)
	if err != nil || len(content) == 0 {
		return
	}
	redactBodyText(string(content), opts.BodyPatterns, opts, report)
}

func rewriteBodyIfMatched(tx *sql.Tx, db *sql.DB, hash string, opts Options, report *Report, cache map[string]string) (newHash string, changed bool, err error) {
	if hash == "" || len(opts.BodyPatterns) == 0 {
		return "", false, nil
	}
	if cached, ok := cache[hash]; ok {
		return cached, cached != hash, nil
	}

	content, mime, err := loadBlobForRewrite(db, hash, opts.ExternalRoot)
	if err != nil {
		return "", false, err
	}
	if len(content) == 0 {
		cache[hash] = hash
		return "", false, nil
	}

	rewritten, ch := redactBodyText(string(content), opts.BodyPatterns, opts, report)
	if !ch {
		cache[hash] = hash
		return "", false, nil
	}

	newHash, err = rewriteBlob(tx, []byte(rewritten), mime)
	if err != nil {
		return "", false, err
	}
	hasFTS, err := hasFTSTable(tx)
	if err == nil && hasFTS {
		var hadFTS int
		_ = tx.QueryRow(`SELECT COUNT(*) FROM response_body_fts WHERE hash = ?`, hash).Scan(&hadFTS)
		if hadFTS > 0 {
			_, _ = tx.Exec(`INSERT OR IGNORE INTO response_body_fts (hash, body) VALUES (?, ?)`, newHash, rewritten)
		}
	}

	cache[hash] = newHash
	return newHash, true, nil
}

func hasFTSTable(tx *sql.Tx) (bool, error) {
	var n int
	err := tx.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='response_body_fts'`).Scan(&n)
	return n > 0, err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
