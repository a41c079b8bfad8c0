// Package model defines the entities shared across harlite's storage,
// import, merge, and query packages: Blob, Import, Page, Entry, and the
// full-text index row.
package model

import "time"

// Blob is a content-addressed byte sequence. Hash is a 64-character lowercase
// hex BLAKE3 digest. At most one of Content or ExternalPath carries the
// payload; Size always equals the decoded byte length.
type Blob struct {
	Hash         string
	Content      []byte
	Size         int64
	MimeType     string
	ExternalPath string
}

// Import is one ingestion event.
type Import struct {
	ID            int64
	SourceFile    string
	ImportedAt    time.Time
	EntryCount    int
	Status        string
	LogExtensions string // raw JSON, empty if absent
}

// Page is an optional navigation grouping, scoped to (PageID, ImportID).
type Page struct {
	PageID         string
	ImportID       int64
	StartedAt      *time.Time
	Title          string
	OnContentLoadMs *float64
	OnLoadMs        *float64
}

// Entry is one HTTP request/response exchange.
type Entry struct {
	ID       int64
	ImportID int64
	PageID   string // empty if absent

	StartedAt time.Time
	TimeMs    float64

	Method      string
	URL         string
	Host        string
	Path        string
	QueryString string
	HTTPVersion string

	RequestHeaders string // canonical lowercase-keyed JSON object
	RequestCookies string // JSON array, verbatim

	RequestBodyHash string
	RequestBodySize int64

	Status         int
	StatusText     string
	ResponseHeaders string
	ResponseCookies string

	ResponseBodyHash    string
	ResponseBodySize    int64
	ResponseBodyHashRaw string // compressed bytes, when kept
	ResponseMimeType    string

	IsRedirect bool

	ServerIP     string
	ConnectionID string

	TLSVersion     string
	TLSCipherSuite string
	TLSCertSubject string
	TLSCertIssuer  string
	TLSCertExpiry  string

	TimingBlockedMs *float64
	TimingDNSMs     *float64
	TimingConnectMs *float64
	TimingSendMs    *float64
	TimingWaitMs    *float64
	TimingReceiveMs *float64
	TimingSSLMs     *float64

	EntryHash string
}

// FTSRow is one indexed document: a blob hash paired with its decoded text.
type FTSRow struct {
	Hash string
	Body string
}

// GraphQLFields is extracted from a GraphQL POST body, keyed by entry id.
type GraphQLFields struct {
	EntryID       int64
	OperationName string
	Query         string
	Variables     string // raw JSON
}
