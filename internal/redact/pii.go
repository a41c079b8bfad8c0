package redact

import (
	"database/sql"
	"fmt"
	"regexp"

	"github.com/brucehart/harlite/internal/blobstore"
	"github.com/brucehart/harlite/internal/harerr"
)

// PiiKind identifies a category of detected personally-identifiable
// information.
type PiiKind int

const (
	PiiEmail PiiKind = iota
	PiiPhone
	PiiSSN
	PiiCreditCard
)

func (k PiiKind) String() string {
	switch k {
	case PiiEmail:
		return "email"
	case PiiPhone:
		return "phone"
	case PiiSSN:
		return "ssn"
	case PiiCreditCard:
		return "credit_card"
	default:
		return "unknown"
	}
}

// PiiLocation identifies where within an entry a finding occurred.
type PiiLocation int

const (
	LocationURL PiiLocation = iota
	LocationRequestBody
	LocationResponseBody
)

func (l PiiLocation) String() string {
	switch l {
	case LocationURL:
		return "url"
	case LocationRequestBody:
		return "request_body"
	case LocationResponseBody:
		return "response_body"
	default:
		return "unknown"
	}
}

// PiiFinding is one (entry, location, kind) occurrence count.
type PiiFinding struct {
	EntryID  int64
	URL      string
	Location string
	Kind     string
	Count    int64
}

// PiiOptions configures a PII scan/redact pass (spec §4.9 "PII scan").
type PiiOptions struct {
	Redact             bool
	DryRun             bool
	Token              string
	NoDefaults         bool
	NoEmail            bool
	NoPhone            bool
	NoSSN              bool
	NoCreditCard       bool
	EmailPatterns      []string
	PhonePatterns      []string
	SSNPatterns        []string
	CreditCardPatterns []string
}

// PiiMatchers holds the compiled pattern set used to scan and redact text.
type PiiMatchers struct {
	Email      []*regexp.Regexp
	Phone      []*regexp.Regexp
	SSN        []*regexp.Regexp
	CreditCard []*regexp.Regexp
}

func (m PiiMatchers) empty() bool {
	return len(m.Email) == 0 && len(m.Phone) == 0 && len(m.SSN) == 0 && len(m.CreditCard) == 0
}

// DefaultEmailPatterns, DefaultPhonePatterns, DefaultSSNPatterns, and
// DefaultCreditCardPatterns mirror pii.rs's default_*_patterns exactly.
func DefaultEmailPatterns() []string {
	return []string{`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`}
}

func DefaultPhonePatterns() []string {
	return []string{`\b(?:\+?1[\s.-]?)?(?:\(?[2-9]\d{2}\)?[\s.-]?)\d{3}[\s.-]?\d{4}\b`}
}

func DefaultSSNPatterns() []string {
	return []string{`\b\d{3}-\d{2}-\d{4}\b`}
}

func DefaultCreditCardPatterns() []string {
	return []string{`\b(?:\d[ -]*?){13,19}\b`}
}

// BuildPiiMatchers compiles opts into a PiiMatchers, combining defaults
// (unless suppressed) with any custom patterns.
func BuildPiiMatchers(opts PiiOptions) (PiiMatchers, error) {
	var email, phone, ssn, cc []string

	if !opts.NoDefaults && !opts.NoEmail {
		email = append(email, DefaultEmailPatterns()...)
	}
	if !opts.NoDefaults && !opts.NoPhone {
		phone = append(phone, DefaultPhonePatterns()...)
	}
	if !opts.NoDefaults && !opts.NoSSN {
		ssn = append(ssn, DefaultSSNPatterns()...)
	}
	if !opts.NoDefaults && !opts.NoCreditCard {
		cc = append(cc, DefaultCreditCardPatterns()...)
	}

	email = append(email, opts.EmailPatterns...)
	phone = append(phone, opts.PhonePatterns...)
	ssn = append(ssn, opts.SSNPatterns...)
	cc = append(cc, opts.CreditCardPatterns...)

	compile := func(patterns []string) ([]*regexp.Regexp, error) {
		out := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, harerr.New(harerr.InputInvalid, "redact.BuildPiiMatchers", err)
			}
			out = append(out, re)
		}
		return out, nil
	}

	var m PiiMatchers
	var err error
	if m.Email, err = compile(email); err != nil {
		return m, err
	}
	if m.Phone, err = compile(phone); err != nil {
		return m, err
	}
	if m.SSN, err = compile(ssn); err != nil {
		return m, err
	}
	if m.CreditCard, err = compile(cc); err != nil {
		return m, err
	}
	return m, nil
}

// isLuhnValid reports whether the digit characters in value pass the Luhn
// checksum and fall within the 13-19 digit length a credit-card-number
// candidate must have. Ported from pii.rs::is_luhn_valid.
func isLuhnValid(value string) bool {
	var digits []int
	for _, c := range value {
		if c >= '0' && c <= '9' {
			digits = append(digits, int(c-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		v := digits[i]
		if double {
			v *= 2
			if v > 9 {
				v -= 9
			}
		}
		sum += v
		double = !double
	}
	return sum%10 == 0
}

func countRegexes(text string, patterns []*regexp.Regexp) int64 {
	var total int64
	for _, re := range patterns {
		total += int64(len(re.FindAllStringIndex(text, -1)))
	}
	return total
}

func countCreditCards(text string, patterns []*regexp.Regexp) int64 {
	var total int64
	for _, re := range patterns {
		for _, m := range re.FindAllString(text, -1) {
			if isLuhnValid(m) {
				total++
			}
		}
	}
	return total
}

// ScanText counts PII occurrences of each kind within text without
// mutating it.
func ScanText(text string, m PiiMatchers) map[PiiKind]int64 {
	return map[PiiKind]int64{
		PiiEmail:      countRegexes(text, m.Email),
		PiiPhone:      countRegexes(text, m.Phone),
		PiiSSN:        countRegexes(text, m.SSN),
		PiiCreditCard: countCreditCards(text, m.CreditCard),
	}
}

func redactWithRegexes(text, tok string, patterns []*regexp.Regexp) (string, int64) {
	var total int64
	for _, re := range patterns {
		n := int64(len(re.FindAllStringIndex(text, -1)))
		if n == 0 {
			continue
		}
		total += n
		text = re.ReplaceAllLiteralString(text, tok)
	}
	return text, total
}

func redactCreditCards(text, tok string, patterns []*regexp.Regexp) (string, int64) {
	var total int64
	for _, re := range patterns {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			if isLuhnValid(m) {
				total++
				return tok
			}
			return m
		})
	}
	return text, total
}

// RedactPiiText replaces every matched PII occurrence in text with tok,
// returning the rewritten text and whether anything changed.
func RedactPiiText(text string, m PiiMatchers, tok string) (string, bool) {
	if m.empty() {
		return text, false
	}
	out := text
	var total int64

	var n int64
	out, n = redactWithRegexes(out, tok, m.Email)
	total += n
	out, n = redactWithRegexes(out, tok, m.Phone)
	total += n
	out, n = redactWithRegexes(out, tok, m.SSN)
	total += n
	out, n = redactCreditCards(out, tok, m.CreditCard)
	total += n

	if total == 0 || out == text {
		return text, false
	}
	return out, true
}

// piiEntryRow is one row of the scan cursor.
type piiEntryRow struct {
	id                                   int64
	url                                  sql.NullString
	reqBodyHash, respBodyHash            sql.NullString
}

// RunPII scans every entry's URL and request/response bodies for PII,
// returning findings. When opts.Redact is set and opts.DryRun is not, the
// matched body values are rewritten within one transaction, mirroring
// pii.rs's run_pii write path: rewritten bodies are stored under a new
// blob hash and the old hash's FTS row is dropped once unreferenced. URL
// matches are reported only; the url column is not rewritten.
func RunPII(db *sql.DB, externalRoot string, opts PiiOptions) ([]PiiFinding, error) {
	matchers, err := BuildPiiMatchers(opts)
	if err != nil {
		return nil, err
	}
	if matchers.empty() {
		return nil, harerr.New(harerr.InputInvalid, "redact.RunPII", fmt.Errorf("no PII patterns provided"))
	}

	rows, err := db.Query(`SELECT id, url, request_body_hash, response_body_hash FROM entries ORDER BY id`)
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "redact.RunPII", err)
	}
	var entries []piiEntryRow
	for rows.Next() {
		var e piiEntryRow
		if err := rows.Scan(&e.id, &e.url, &e.reqBodyHash, &e.respBodyHash); err != nil {
			rows.Close()
			return nil, harerr.New(harerr.StorageCorruption, "redact.RunPII", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "redact.RunPII", err)
	}

	write := opts.Redact && !opts.DryRun
	token := opts.Token
	if token == "" {
		token = "REDACTED"
	}

	var findings []PiiFinding
	textCache := map[string]string{}
	hashCache := map[string]string{}

	var tx *sql.Tx
	committed := false
	if write {
		tx, err = db.Begin()
		if err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "redact.RunPII", err)
		}
		defer func() {
			if !committed {
				_ = tx.Rollback()
			}
		}()
	}

	changedResponseHashes := map[string]bool{}

	appendFindings := func(entryID int64, url, location string, counts map[PiiKind]int64) {
		for _, kind := range []PiiKind{PiiEmail, PiiPhone, PiiSSN, PiiCreditCard} {
			if c := counts[kind]; c > 0 {
				findings = append(findings, PiiFinding{EntryID: entryID, URL: url, Location: location, Kind: kind.String(), Count: c})
			}
		}
	}

	loadText := func(hash string) (string, bool) {
		if hash == "" {
			return "", false
		}
		if cached, ok := textCache[hash]; ok {
			return cached, cached != ""
		}
		content, _, _, err := blobstore.Load(db, hash, externalRoot)
		if err != nil || len(content) == 0 {
			textCache[hash] = ""
			return "", false
		}
		textCache[hash] = string(content)
		return string(content), true
	}

	for _, e := range entries {
		var newReqHash, newRespHash string
		var reqChanged, respChanged bool

		if e.url.Valid && e.url.String != "" {
			appendFindings(e.id, e.url.String, LocationURL.String(), ScanText(e.url.String, matchers))
			if opts.Redact {
				if redacted, ch := RedactPiiText(e.url.String, matchers, token); ch {
					_ = redacted // the url column is not rewritten; URL matches are reported only
				}
			}
		}

		if e.reqBodyHash.Valid && e.reqBodyHash.String != "" {
			if text, ok := loadText(e.reqBodyHash.String); ok {
				appendFindings(e.id, e.url.String, LocationRequestBody.String(), ScanText(text, matchers))
				if write {
					if cached, ok := hashCache[e.reqBodyHash.String]; ok {
						if cached != e.reqBodyHash.String {
							newReqHash, reqChanged = cached, true
						}
					} else if redacted, ch := RedactPiiText(text, matchers, token); ch {
						h, _, err := blobstore.Store(tx, []byte(redacted), "", "", true)
						if err != nil {
							return nil, err
						}
						hashCache[e.reqBodyHash.String] = h
						newReqHash, reqChanged = h, true
					} else {
						hashCache[e.reqBodyHash.String] = e.reqBodyHash.String
					}
				}
			}
		}

		if e.respBodyHash.Valid && e.respBodyHash.String != "" {
			if text, ok := loadText(e.respBodyHash.String); ok {
				appendFindings(e.id, e.url.String, LocationResponseBody.String(), ScanText(text, matchers))
				if write {
					if cached, ok := hashCache[e.respBodyHash.String]; ok {
						if cached != e.respBodyHash.String {
							newRespHash, respChanged = cached, true
						}
					} else if redacted, ch := RedactPiiText(text, matchers, token); ch {
						h, _, err := blobstore.Store(tx, []byte(redacted), "", "", true)
						if err != nil {
							return nil, err
						}
						hashCache[e.respBodyHash.String] = h
						newRespHash, respChanged = h, true
						changedResponseHashes[e.respBodyHash.String] = true

						var hadFTS int
						_ = tx.QueryRow(`SELECT COUNT(*) FROM response_body_fts WHERE hash = ?`, e.respBodyHash.String).Scan(&hadFTS)
						if hadFTS > 0 {
							_, _ = tx.Exec(`DELETE FROM response_body_fts WHERE hash = ?`, h)
							_, _ = tx.Exec(`INSERT INTO response_body_fts (hash, body) VALUES (?, ?)`, h, redacted)
						}
					} else {
						hashCache[e.respBodyHash.String] = e.respBodyHash.String
					}
				}
			}
		}

		if write && (reqChanged || respChanged) {
			_, err := tx.Exec(`UPDATE entries SET
				request_body_hash = COALESCE(?, request_body_hash),
				response_body_hash = COALESCE(?, response_body_hash),
				response_body_hash_raw = CASE WHEN ? THEN NULL ELSE response_body_hash_raw END
				WHERE id = ?`,
				nullIfEmpty(newReqHash), nullIfEmpty(newRespHash), respChanged, e.id)
			if err != nil {
				return nil, harerr.New(harerr.StorageCorruption, "redact.RunPII", err)
			}
		}
	}

	if write {
		for hash := range changedResponseHashes {
			var refs int
			_ = tx.QueryRow(`SELECT COUNT(*) FROM entries WHERE response_body_hash = ?`, hash).Scan(&refs)
			if refs == 0 {
				_, _ = tx.Exec(`DELETE FROM response_body_fts WHERE hash = ?`, hash)
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "redact.RunPII", err)
		}
		committed = true
	}

	return findings, nil
}
