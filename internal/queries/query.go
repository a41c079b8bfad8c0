// Package queries implements harlite's composable Entry predicate set and
// the parameterized SQL it compiles to (spec §4.4). Grounded on
// original_source/src/db/reader.rs (EntryQuery, push_in_clause,
// push_like_any).
package queries

import (
	"fmt"
	"strings"
)

// EntryQuery is a composable filter predicate set over entries.
type EntryQuery struct {
	ImportIDs []int64

	FromStartedAt string // RFC3339 or YYYY-MM-DD, normalized by ParseTimestampBound
	ToStartedAt   string

	URLExact    []string
	URLContains []string
	Hosts       []string
	Methods     []string
	Statuses    []int

	MimeContains []string

	MinRequestSize  *int64
	MaxRequestSize  *int64
	MinResponseSize *int64
	MaxResponseSize *int64
}

// Build compiles the query into a parameterized SELECT with a stable
// ORDER BY started_at, id.
func (q EntryQuery) Build() (sql string, args []any) {
	var where []string

	if len(q.ImportIDs) > 0 {
		where = append(where, pushInClauseInt64("import_id", q.ImportIDs, &args))
	}
	if q.FromStartedAt != "" {
		where = append(where, "started_at >= ?")
		args = append(args, q.FromStartedAt)
	}
	if q.ToStartedAt != "" {
		where = append(where, "started_at <= ?")
		args = append(args, q.ToStartedAt)
	}
	if len(q.URLExact) > 0 {
		where = append(where, pushInClauseString("url", q.URLExact, &args))
	}
	if len(q.URLContains) > 0 {
		where = append(where, pushLikeAny("url", q.URLContains, &args, false))
	}
	if len(q.Hosts) > 0 {
		where = append(where, pushInClauseString("host", q.Hosts, &args))
	}
	if len(q.Methods) > 0 {
		where = append(where, pushInClauseString("method", q.Methods, &args))
	}
	if len(q.Statuses) > 0 {
		where = append(where, pushInClauseInt("status", q.Statuses, &args))
	}
	if len(q.MimeContains) > 0 {
		where = append(where, pushLikeAny("LOWER(response_mime_type)", lower(q.MimeContains), &args, false))
	}
	if q.MinRequestSize != nil {
		where = append(where, "request_body_size >= ?")
		args = append(args, *q.MinRequestSize)
	}
	if q.MaxRequestSize != nil {
		where = append(where, "request_body_size <= ?")
		args = append(args, *q.MaxRequestSize)
	}
	if q.MinResponseSize != nil {
		where = append(where, "response_body_size >= ?")
		args = append(args, *q.MinResponseSize)
	}
	if q.MaxResponseSize != nil {
		where = append(where, "response_body_size <= ?")
		args = append(args, *q.MaxResponseSize)
	}

	sql = "SELECT id, import_id, page_id, started_at, time_ms, method, url, host, path, query_string, " +
		"http_version, request_headers, request_cookies, request_body_hash, request_body_size, " +
		"status, status_text, response_headers, response_cookies, response_body_hash, response_body_size, " +
		"response_body_hash_raw, response_mime_type, is_redirect, server_ip, connection_id, " +
		"tls_version, tls_cipher_suite, tls_cert_subject, tls_cert_issuer, tls_cert_expiry, " +
		"timing_blocked_ms, timing_dns_ms, timing_connect_ms, timing_send_ms, timing_wait_ms, " +
		"timing_receive_ms, timing_ssl_ms, entry_hash FROM entries"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY started_at, id"
	return sql, args
}

func pushInClauseString(col string, values []string, args *[]any) string {
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = "?"
		*args = append(*args, v)
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(ph, ","))
}

func pushInClauseInt64(col string, values []int64, args *[]any) string {
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = "?"
		*args = append(*args, v)
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(ph, ","))
}

func pushInClauseInt(col string, values []int, args *[]any) string {
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = "?"
		*args = append(*args, v)
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(ph, ","))
}

// pushLikeAny ORs together LIKE '%…%' clauses for each substring.
func pushLikeAny(col string, substrings []string, args *[]any, _ bool) string {
	clauses := make([]string, len(substrings))
	for i, s := range substrings {
		clauses[i] = col + " LIKE ?"
		*args = append(*args, "%"+s+"%")
	}
	return "(" + strings.Join(clauses, " OR ") + ")"
}

func lower(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}
