// Package sqlite owns harlite's declarative schema and idempotent upgrade
// path. Grounded on the teacher's internal/storage/sqlite/schema.go style
// (one backtick-string DDL constant, CREATE TABLE/INDEX IF NOT EXISTS) and
// original_source/src/db/schema.rs for the base table set.
package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	hash TEXT PRIMARY KEY,
	content BLOB,
	size INTEGER NOT NULL,
	mime_type TEXT,
	external_path TEXT
);

CREATE TABLE IF NOT EXISTS imports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_file TEXT,
	imported_at TEXT NOT NULL,
	entry_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'complete',
	log_extensions TEXT
);

-- Uniqueness key for dedup across merges (spec §3 Import).
CREATE UNIQUE INDEX IF NOT EXISTS idx_imports_source_imported
	ON imports (source_file, imported_at);

CREATE TABLE IF NOT EXISTS pages (
	page_id TEXT NOT NULL,
	import_id INTEGER NOT NULL REFERENCES imports(id),
	started_at TEXT,
	title TEXT,
	on_content_load_ms REAL,
	on_load_ms REAL,
	PRIMARY KEY (page_id, import_id)
);

CREATE TABLE IF NOT EXISTS entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	import_id INTEGER NOT NULL REFERENCES imports(id),
	page_id TEXT,

	started_at TEXT NOT NULL,
	time_ms REAL NOT NULL,

	method TEXT NOT NULL,
	url TEXT NOT NULL,
	host TEXT,
	path TEXT,
	query_string TEXT,
	http_version TEXT,

	request_headers TEXT,
	request_cookies TEXT,
	request_body_hash TEXT REFERENCES blobs(hash),
	request_body_size INTEGER,

	status INTEGER NOT NULL,
	status_text TEXT,
	response_headers TEXT,
	response_cookies TEXT,

	response_body_hash TEXT REFERENCES blobs(hash),
	response_body_size INTEGER,
	response_body_hash_raw TEXT REFERENCES blobs(hash),
	response_mime_type TEXT,

	is_redirect INTEGER NOT NULL DEFAULT 0,

	server_ip TEXT,
	connection_id TEXT,

	-- TLS fields; present from schema creation, added via migration on
	-- pre-existing databases (migrations/001_tls_columns.go).
	tls_version TEXT,
	tls_cipher_suite TEXT,
	tls_cert_subject TEXT,
	tls_cert_issuer TEXT,
	tls_cert_expiry TEXT,

	-- Phase timings (spec §3 Entry).
	timing_blocked_ms REAL,
	timing_dns_ms REAL,
	timing_connect_ms REAL,
	timing_send_ms REAL,
	timing_wait_ms REAL,
	timing_receive_ms REAL,
	timing_ssl_ms REAL,

	entry_hash TEXT
);

CREATE INDEX IF NOT EXISTS idx_entries_url ON entries (url);
CREATE INDEX IF NOT EXISTS idx_entries_host ON entries (host);
CREATE INDEX IF NOT EXISTS idx_entries_status ON entries (status);
CREATE INDEX IF NOT EXISTS idx_entries_method ON entries (method);
CREATE INDEX IF NOT EXISTS idx_entries_mime ON entries (response_mime_type);
CREATE INDEX IF NOT EXISTS idx_entries_started ON entries (started_at);
CREATE INDEX IF NOT EXISTS idx_entries_import ON entries (import_id);

-- GraphQL extraction side table (SPEC_FULL.md §3 supplement).
CREATE TABLE IF NOT EXISTS graphql_fields (
	entry_id INTEGER PRIMARY KEY REFERENCES entries(id),
	operation_name TEXT,
	query TEXT,
	variables TEXT
);
`
