package queries

import (
	"database/sql"

	"github.com/brucehart/harlite/internal/harerr"
	"github.com/brucehart/harlite/internal/model"
)

// LoadEntries executes q against db and scans the result into model.Entry
// values.
func LoadEntries(db *sql.DB, q EntryQuery) ([]model.Entry, error) {
	query, args := q.Build()
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "queries.LoadEntries", err)
	}
	defer rows.Close()

	var out []model.Entry
	for rows.Next() {
		var (
			e                                           model.Entry
			pageID, host, path, queryString             sql.NullString
			reqHash, respHash, respHashRaw, mimeType     sql.NullString
			serverIP, connectionID                       sql.NullString
			tlsVersion, tlsCipher, tlsSubject, tlsIssuer, tlsExpiry sql.NullString
			reqSize, respSize                            sql.NullInt64
			blocked, dns, connect, send, wait, receive, ssl sql.NullFloat64
			entryHash                                    sql.NullString
			isRedirect                                   int
		)
		err := rows.Scan(
			&e.ID, &e.ImportID, &pageID, &e.StartedAt, &e.TimeMs, &e.Method, &e.URL, &host, &path, &queryString,
			&e.HTTPVersion, &e.RequestHeaders, &e.RequestCookies, &reqHash, &reqSize,
			&e.Status, &e.StatusText, &e.ResponseHeaders, &e.ResponseCookies, &respHash, &respSize,
			&respHashRaw, &mimeType, &isRedirect, &serverIP, &connectionID,
			&tlsVersion, &tlsCipher, &tlsSubject, &tlsIssuer, &tlsExpiry,
			&blocked, &dns, &connect, &send, &wait, &receive, &ssl, &entryHash,
		)
		if err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "queries.LoadEntries", err)
		}

		e.PageID = pageID.String
		e.Host = host.String
		e.Path = path.String
		e.QueryString = queryString.String
		e.RequestBodyHash = reqHash.String
		e.RequestBodySize = reqSize.Int64
		e.ResponseBodyHash = respHash.String
		e.ResponseBodySize = respSize.Int64
		e.ResponseBodyHashRaw = respHashRaw.String
		e.ResponseMimeType = mimeType.String
		e.IsRedirect = isRedirect != 0
		e.ServerIP = serverIP.String
		e.ConnectionID = connectionID.String
		e.TLSVersion = tlsVersion.String
		e.TLSCipherSuite = tlsCipher.String
		e.TLSCertSubject = tlsSubject.String
		e.TLSCertIssuer = tlsIssuer.String
		e.TLSCertExpiry = tlsExpiry.String
		e.EntryHash = entryHash.String
		if blocked.Valid {
			e.TimingBlockedMs = &blocked.Float64
		}
		if dns.Valid {
			e.TimingDNSMs = &dns.Float64
		}
		if connect.Valid {
			e.TimingConnectMs = &connect.Float64
		}
		if send.Valid {
			e.TimingSendMs = &send.Float64
		}
		if wait.Valid {
			e.TimingWaitMs = &wait.Float64
		}
		if receive.Valid {
			e.TimingReceiveMs = &receive.Float64
		}
		if ssl.Valid {
			e.TimingSSLMs = &ssl.Float64
		}

		out = append(out, e)
	}
	return out, rows.Err()
}

// LoadBlobsByHashes loads blob rows for the given hashes, chunking requests
// to stay under SQLite's parameter limit (spec §4.5: chunked ≤ 900).
func LoadBlobsByHashes(db *sql.DB, hashes []string) ([]model.Blob, error) {
	const chunkSize = 900
	var out []model.Blob
	for i := 0; i < len(hashes); i += chunkSize {
		end := i + chunkSize
		if end > len(hashes) {
			end = len(hashes)
		}
		chunk := hashes[i:end]

		query := "SELECT hash, content, size, mime_type, external_path FROM blobs WHERE hash IN (" + placeholders(len(chunk)) + ")"
		rows, err := db.Query(query, toAnySlice(chunk)...)
		if err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "queries.LoadBlobsByHashes", err)
		}
		for rows.Next() {
			var (
				b                    model.Blob
				mime, externalPath sql.NullString
			)
			if err := rows.Scan(&b.Hash, &b.Content, &b.Size, &mime, &externalPath); err != nil {
				rows.Close()
				return nil, harerr.New(harerr.StorageCorruption, "queries.LoadBlobsByHashes", err)
			}
			b.MimeType = mime.String
			b.ExternalPath = externalPath.String
			out = append(out, b)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "queries.LoadBlobsByHashes", err)
		}
	}
	return out, nil
}

// LoadPagesForImports loads every page row belonging to the given import ids.
func LoadPagesForImports(db *sql.DB, importIDs []int64) ([]model.Page, error) {
	if len(importIDs) == 0 {
		return nil, nil
	}
	query := "SELECT page_id, import_id, started_at, title, on_content_load_ms, on_load_ms FROM pages WHERE import_id IN (" + placeholders(len(importIDs)) + ")"
	args := make([]any, len(importIDs))
	for i, id := range importIDs {
		args[i] = id
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "queries.LoadPagesForImports", err)
	}
	defer rows.Close()

	var out []model.Page
	for rows.Next() {
		var (
			p                         model.Page
			startedAt                 sql.NullString
			title                     sql.NullString
			onContentLoad, onLoad sql.NullFloat64
		)
		if err := rows.Scan(&p.PageID, &p.ImportID, &startedAt, &title, &onContentLoad, &onLoad); err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "queries.LoadPagesForImports", err)
		}
		p.Title = title.String
		if onContentLoad.Valid {
			p.OnContentLoadMs = &onContentLoad.Float64
		}
		if onLoad.Valid {
			p.OnLoadMs = &onLoad.Float64
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "?"
	}
	return s
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
