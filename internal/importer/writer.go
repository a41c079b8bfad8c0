package importer

import (
	"database/sql"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/brucehart/harlite/internal/blobstore"
	"github.com/brucehart/harlite/internal/har"
	"github.com/brucehart/harlite/internal/harerr"
)

// InsertEntry normalizes and stores one HAR entry inside tx, implementing
// spec §4.3's normalization steps in order. Grounded line-for-line on
// original_source/src/db/writer.rs's insert_entry.
func InsertEntry(tx *sql.Tx, importID int64, e har.Entry, opts InsertEntryOptions) (EntryStats, error) {
	var stats EntryStats

	// Step 1: URL decomposition.
	parts := parseURLParts(e.Request.URL)

	// Step 2: header/cookie serialization.
	reqHeaders, err := headersToJSON(e.Request.Headers)
	if err != nil {
		return stats, harerr.New(harerr.InputInvalid, "importer.InsertEntry", err)
	}
	reqCookies, err := cookiesToJSON(e.Request.Cookies)
	if err != nil {
		return stats, harerr.New(harerr.InputInvalid, "importer.InsertEntry", err)
	}
	respHeaders, err := headersToJSON(e.Response.Headers)
	if err != nil {
		return stats, harerr.New(harerr.InputInvalid, "importer.InsertEntry", err)
	}
	respCookies, err := cookiesToJSON(e.Response.Cookies)
	if err != nil {
		return stats, harerr.New(harerr.InputInvalid, "importer.InsertEntry", err)
	}

	// Step 3: redirect flag.
	isRedirect := e.Response.Status >= 300 && e.Response.Status < 400

	// Step 4: response MIME resolution.
	mimeType := responseMimeType(e.Response.Content, e.Response.Headers)

	// Step 5: request body.
	var reqBodyHash string
	var reqBodySize int64
	if opts.StoreBodies && e.Request.PostData != nil {
		body, bodyMime, ok := requestBody(*e.Request.PostData)
		if ok && withinLimit(int64(len(body)), opts.MaxBodySize) && passesTextOnly(opts.TextOnly, bodyMime) {
			hash, inserted, size, err := storeBlob(tx, body, bodyMime, opts, ExtractBodiesRequest)
			if err != nil {
				return stats, err
			}
			reqBodyHash = hash
			reqBodySize = size
			stats.Request.record(inserted, size)
		}
	}

	// Step 6: response body.
	var respBodyHash, respBodyHashRaw string
	var respBodySize int64
	if opts.StoreBodies {
		if err := handleResponseBody(tx, e, opts, &respBodyHash, &respBodyHashRaw, &respBodySize, &stats.Response, mimeType); err != nil {
			return stats, err
		}
	}

	var nReqHash, nRespHash, nRespHashRaw any
	if reqBodyHash != "" {
		nReqHash = reqBodyHash
	}
	if respBodyHash != "" {
		nRespHash = respBodyHash
	}
	if respBodyHashRaw != "" {
		nRespHashRaw = respBodyHashRaw
	}

	var nReqSize, nRespSize any
	if reqBodyHash != "" {
		nReqSize = reqBodySize
	}
	if respBodyHash != "" {
		nRespSize = respBodySize
	}

	var nPageID any
	if e.Pageref != "" {
		nPageID = e.Pageref
	}

	res, err := tx.Exec(`
		INSERT INTO entries (
			import_id, page_id, started_at, time_ms, method, url, host, path, query_string,
			http_version, request_headers, request_cookies, request_body_hash, request_body_size,
			status, status_text, response_headers, response_cookies,
			response_body_hash, response_body_size, response_body_hash_raw, response_mime_type,
			is_redirect, server_ip, connection_id,
			timing_blocked_ms, timing_dns_ms, timing_connect_ms, timing_send_ms,
			timing_wait_ms, timing_receive_ms, timing_ssl_ms
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		append([]any{
			importID, nPageID, e.StartedDateTime, e.Time, e.Request.Method, e.Request.URL,
			nullIfEmpty(parts.Host), nullIfEmpty(parts.Path), nullIfEmpty(parts.Query),
			e.Request.HTTPVersion, reqHeaders, reqCookies, nReqHash, nReqSize,
			e.Response.Status, e.Response.StatusText, respHeaders, respCookies,
			nRespHash, nRespSize, nRespHashRaw, nullIfEmpty(mimeType),
			boolToInt(isRedirect), nullIfEmpty(e.ServerIPAddress), nullIfEmpty(e.Connection),
		}, timingsField(e.Timings)...)...,
	)
	if err != nil {
		return stats, harerr.New(harerr.StorageCorruption, "importer.InsertEntry", err)
	}

	if entryID, err := res.LastInsertId(); err == nil {
		maybeExtractGraphQL(tx, entryID, e)
	}

	return stats, nil
}

// timingsField flattens the optional Timings struct into the seven bind
// values expected by the INSERT above, in order.
func timingsField(t *har.Timings) []any {
	if t == nil {
		return []any{nil, nil, nil, nil, nil, nil, nil}
	}
	return []any{t.Blocked, t.DNS, t.Connect, t.Send, t.Wait, t.Receive, t.SSL}
}

func requestBody(pd har.PostData) (body []byte, mime string, ok bool) {
	mime = pd.MimeType
	if pd.Text != "" {
		return []byte(pd.Text), mime, true
	}
	if len(pd.Params) > 0 {
		if mime == "" {
			mime = "application/x-www-form-urlencoded"
		}
		return synthesizePostParams(pd.Params), mime, true
	}
	return nil, mime, false
}

func withinLimit(size int64, max *int64) bool {
	return max == nil || size <= *max
}

func passesTextOnly(textOnly bool, mime string) bool {
	if !textOnly {
		return true
	}
	return isTextMimeType(mime)
}

func handleResponseBody(tx *sql.Tx, e har.Entry, opts InsertEntryOptions, respHash, respHashRaw *string, respSize *int64, stats *BlobStats, mimeType string) error {
	content := e.Response.Content
	if content.Text == nil {
		return nil
	}
	raw, err := decodeBody(*content.Text, content.Encoding)
	if err != nil {
		// Non-fatal per spec §4.3: a failed body decode stores no body.
		return nil
	}

	contentEncoding, _ := headerValue(e.Response.Headers, "Content-Encoding")
	decoded := raw

	if opts.DecompressBodies && hasCompressibleEncoding(contentEncoding) {
		maxSize := DefaultMaxDecompressedBytes
		if opts.MaxBodySize != nil {
			maxSize = int(*opts.MaxBodySize)
		}
		out, err := decompressBody(raw, contentEncoding, int64(maxSize))
		if err != nil {
			// Non-fatal: store without the body rather than aborting.
			return nil
		}
		decoded = out

		if opts.KeepCompressed && withinLimit(int64(len(raw)), opts.MaxBodySize) {
			hash, inserted, size, err := storeBlob(tx, raw, mimeType, opts, ExtractBodiesResponse)
			if err != nil {
				return err
			}
			*respHashRaw = hash
			stats.record(inserted, size)
		}
	}

	if !withinLimit(int64(len(decoded)), opts.MaxBodySize) {
		return nil
	}
	if !passesTextOnly(opts.TextOnly, mimeType) {
		return nil
	}

	hash, inserted, size, err := storeBlob(tx, decoded, mimeType, opts, ExtractBodiesResponse)
	if err != nil {
		return err
	}
	*respHash = hash
	*respSize = size
	stats.record(inserted, size)

	if err := maybeIndexResponseBodyFTS(tx, hash, decoded, mimeType, opts.MaxIndexableSize); err != nil {
		return err
	}

	return nil
}

// storeBlob stores content either inline or, if an extraction directory is
// configured and kind matches, as an external sharded file (spec §4.1).
func storeBlob(tx *sql.Tx, content []byte, mime string, opts InsertEntryOptions, kind ExtractBodiesKind) (hash string, inserted bool, size int64, err error) {
	size = int64(len(content))

	offload := opts.ExtractBodiesDir != "" &&
		(opts.ExtractBodiesKind == ExtractBodiesBoth || opts.ExtractBodiesKind == kind)

	if !offload {
		hash, inserted, err = blobstore.Store(tx, content, mime, "", true)
		return hash, inserted, size, err
	}

	hash = blobstore.Hash(content)
	path := blobstore.ShardedPath(opts.ExtractBodiesDir, hash, opts.ExtractBodiesShardDepth)
	if err := blobstore.WriteIfMissing(path, content); err != nil {
		return "", false, 0, err
	}
	hash, inserted, err = blobstore.Store(tx, content, mime, path, false)
	return hash, inserted, size, err
}

// maybeIndexResponseBodyFTS upserts the decoded body into the FTS index when
// it is UTF-8, textual, and within the indexable size cap (spec §4.3 step 6,
// §4.8). Delete-then-insert keeps the index coherent under re-import.
func maybeIndexResponseBodyFTS(tx *sql.Tx, hash string, body []byte, mime string, maxIndexable int64) error {
	if maxIndexable <= 0 {
		maxIndexable = DefaultMaxIndexableBytes
	}
	if int64(len(body)) > maxIndexable {
		return nil
	}
	if !isTextMimeType(mime) {
		return nil
	}
	if !utf8.Valid(body) {
		return nil
	}

	hasFTS, err := ftsTableExists(tx)
	if err != nil || !hasFTS {
		return nil
	}

	if _, err := tx.Exec(`DELETE FROM response_body_fts WHERE hash = ?`, hash); err != nil {
		return harerr.New(harerr.StorageCorruption, "importer.maybeIndexResponseBodyFTS", err)
	}
	if _, err := tx.Exec(`INSERT INTO response_body_fts (hash, body) VALUES (?, ?)`, hash, string(body)); err != nil {
		return harerr.New(harerr.StorageCorruption, "importer.maybeIndexResponseBodyFTS", err)
	}
	return nil
}

func ftsTableExists(tx *sql.Tx) (bool, error) {
	var count int
	err := tx.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='response_body_fts'",
	).Scan(&count)
	return count > 0, err
}

// maybeExtractGraphQL records operation name/query/variables when the
// request's body looks like a GraphQL POST payload (SPEC_FULL.md §3
// supplement). Failure to parse is silently skipped; this is enrichment,
// not a correctness-bearing path.
func maybeExtractGraphQL(tx *sql.Tx, entryID int64, e har.Entry) {
	if e.Request.PostData == nil || !strings.Contains(strings.ToLower(e.Request.PostData.MimeType), "json") {
		return
	}
	var payload struct {
		OperationName string          `json:"operationName"`
		Query         string          `json:"query"`
		Variables     json.RawMessage `json:"variables"`
	}
	if err := json.Unmarshal([]byte(e.Request.PostData.Text), &payload); err != nil || payload.Query == "" {
		return
	}
	variables := string(payload.Variables)
	if variables == "" {
		variables = "null"
	}
	_, _ = tx.Exec(
		`INSERT OR IGNORE INTO graphql_fields (entry_id, operation_name, query, variables) VALUES (?,?,?,?)`,
		entryID, nullIfEmpty(payload.OperationName), payload.Query, variables,
	)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
