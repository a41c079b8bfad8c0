package redact

import (
	"database/sql"
	"encoding/json"
	"net/url"
	"regexp"

	"github.com/brucehart/harlite/internal/blobstore"
	"github.com/brucehart/harlite/internal/harerr"
)

// Options configures one redaction pass.
type Options struct {
	HeaderMatcher *NameMatcher
	CookieMatcher *NameMatcher
	QueryMatcher  *NameMatcher
	BodyPatterns  []*regexp.Regexp
	Token         string // default "REDACTED"
	DryRun        bool
	ExternalRoot  string
}

// Report accumulates counts and matched names per category (spec §4.9
// "Dry-run").
type Report struct {
	HeaderMatches int
	CookieMatches int
	QueryMatches  int
	BodyMatches   int
	MatchedHeaderNames map[string]bool
	MatchedCookieNames map[string]bool
	MatchedQueryNames  map[string]bool
}

func (r *Report) Total() int {
	return r.HeaderMatches + r.CookieMatches + r.QueryMatches + r.BodyMatches
}

func newReport() *Report {
	return &Report{
		MatchedHeaderNames: map[string]bool{},
		MatchedCookieNames: map[string]bool{},
		MatchedQueryNames:  map[string]bool{},
	}
}

func token(opts Options) string {
	if opts.Token == "" {
		return "REDACTED"
	}
	return opts.Token
}

// redactHeadersJSON mutates a canonical lowercase-keyed JSON header object,
// replacing matched values with the token.
func redactHeadersJSON(raw string, matcher *NameMatcher, opts Options, report *Report) (string, bool) {
	if matcher == nil || raw == "" {
		return raw, false
	}
	var headers map[string]string
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		return raw, false
	}
	changed := false
	for name, value := range headers {
		if !matcher.Match(name) {
			continue
		}
		if value == token(opts) {
			continue
		}
		headers[name] = token(opts)
		changed = true
		report.HeaderMatches++
		report.MatchedHeaderNames[name] = true
	}
	if !changed {
		return raw, false
	}
	out, err := json.Marshal(headers)
	if err != nil {
		return raw, false
	}
	return string(out), true
}

type cookieJSON struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// redactCookiesJSON mutates a JSON array of {name, value, ...} cookies.
func redactCookiesJSON(raw string, matcher *NameMatcher, opts Options, report *Report) (string, bool) {
	if matcher == nil || raw == "" {
		return raw, false
	}
	var cookies []map[string]any
	if err := json.Unmarshal([]byte(raw), &cookies); err != nil {
		return raw, false
	}
	changed := false
	for _, c := range cookies {
		name, _ := c["name"].(string)
		if !matcher.Match(name) {
			continue
		}
		if v, ok := c["value"].(string); ok && v == token(opts) {
			continue
		}
		c["value"] = token(opts)
		changed = true
		report.CookieMatches++
		report.MatchedCookieNames[name] = true
	}
	if !changed {
		return raw, false
	}
	out, err := json.Marshal(cookies)
	if err != nil {
		return raw, false
	}
	return string(out), true
}

// redactURLParams rebuilds the query string of a URL, replacing matched
// parameter values with the token.
func redactURLParams(rawURL string, matcher *NameMatcher, opts Options, report *Report) (string, bool) {
	if matcher == nil {
		return rawURL, false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, false
	}
	q := u.Query()
	changed := false
	for name, values := range q {
		if !matcher.Match(name) {
			continue
		}
		for i := range values {
			if values[i] == token(opts) {
				continue
			}
			values[i] = token(opts)
			changed = true
		}
		q[name] = values
		report.QueryMatches++
		report.MatchedQueryNames[name] = true
	}
	if !changed {
		return rawURL, false
	}
	u.RawQuery = q.Encode()
	return u.String(), true
}

// redactBodyText applies every configured body regex, replacing matches
// with the token.
func redactBodyText(text string, patterns []*regexp.Regexp, opts Options, report *Report) (string, bool) {
	changed := false
	for _, re := range patterns {
		if re.MatchString(text) {
			n := len(re.FindAllStringIndex(text, -1))
			report.BodyMatches += n
			text = re.ReplaceAllString(text, token(opts))
			changed = true
		}
	}
	return text, changed
}

// loadBlobForRewrite resolves a blob's bytes for redaction, honoring
// external-path storage.
func loadBlobForRewrite(db *sql.DB, hash, externalRoot string) ([]byte, string, error) {
	if hash == "" {
		return nil, "", nil
	}
	content, mime, _, err := blobstore.Load(db, hash, externalRoot)
	if err != nil {
		return nil, "", err
	}
	return content, mime, nil
}

// rewriteBlob stores rewritten content under a new hash within tx. It does
// not touch the FTS index: rewriteBodyIfMatched inserts the FTS row for the
// new hash, and decrefBlob removes the old hash's row once no entry
// references it.
func rewriteBlob(tx *sql.Tx, content []byte, mime string) (newHash string, err error) {
	newHash, _, err = blobstore.Store(tx, content, mime, "", true)
	if err != nil {
		return "", err
	}
	return newHash, nil
}

// decrefBlob deletes a blob (and its FTS row, if present) once no entry in
// the database references its hash any longer.
func decrefBlob(tx *sql.Tx, hash string) error {
	if hash == "" {
		return nil
	}
	var refs int
	err := tx.QueryRow(
		`SELECT COUNT(*) FROM entries WHERE request_body_hash = ? OR response_body_hash = ? OR response_body_hash_raw = ?`,
		hash, hash, hash,
	).Scan(&refs)
	if err != nil {
		return harerr.New(harerr.StorageCorruption, "redact.decrefBlob", err)
	}
	if refs > 0 {
		return nil
	}
	hasFTS, err := hasFTSTable(tx)
	if err != nil {
		return harerr.New(harerr.StorageCorruption, "redact.decrefBlob", err)
	}
	if hasFTS {
		if _, err := tx.Exec(`DELETE FROM response_body_fts WHERE hash = ?`, hash); err != nil {
			return harerr.New(harerr.StorageCorruption, "redact.decrefBlob", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM blobs WHERE hash = ?`, hash); err != nil {
		return harerr.New(harerr.StorageCorruption, "redact.decrefBlob", err)
	}
	return nil
}
