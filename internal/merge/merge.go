// Copyright (c) 2024 @neongreen (https://github.com/neongreen)
// Originally from: https://github.com/neongreen/mono/tree/main/beads-merge
//
// MIT License
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package merge implements harlite's Merge Engine: combining entries,
// pages, imports, blobs, and FTS rows from multiple harlite databases into
// one output database with deduplication (spec §4.7). Grounded on
// original_source/src/commands/merge.rs.
package merge

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/brucehart/harlite/internal/harerr"
	"github.com/brucehart/harlite/internal/storage/sqlite"
	"lukechampine.com/blake3"
)

// DedupStrategy selects how two entries are compared for equality during
// a merge.
type DedupStrategy int

const (
	DedupHash DedupStrategy = iota
	DedupExact
)

// Options configures one merge run.
type Options struct {
	Output string // output database path; empty derives "<first>-merged.db"
	DryRun bool
	Dedup  DedupStrategy
}

// Stats tallies what a merge did, per table (spec §4.7 "Reporting").
type Stats struct {
	ImportsTotal, ImportsAdded, ImportsDeduped int
	PagesTotal, PagesAdded, PagesDeduped       int
	EntriesTotal, EntriesAdded, EntriesDeduped int
	BlobsTotal, BlobsAdded, BlobsDeduped       int
	FTSTotal, FTSAdded, FTSDeduped             int
}

// entryColumns lists every entries column merge participates in, after the
// synthetic "id" column handled separately. Order matches ENTRY_COLUMNS in
// merge.rs in spirit, but names and membership are harlite's own — they
// must match the entries table schema.go actually creates, since entryKey's
// byte encoding depends on it.
var entryColumns = []string{
	"import_id", "page_id", "started_at", "time_ms",
	"timing_blocked_ms", "timing_dns_ms", "timing_connect_ms", "timing_send_ms",
	"timing_wait_ms", "timing_receive_ms", "timing_ssl_ms",
	"method", "url", "host", "path", "query_string", "http_version",
	"request_headers", "request_cookies", "request_body_hash", "request_body_size",
	"status", "status_text", "response_headers", "response_cookies",
	"response_body_hash", "response_body_size", "response_body_hash_raw",
	"response_mime_type", "is_redirect", "server_ip", "connection_id",
	"tls_version", "tls_cipher_suite", "tls_cert_subject", "tls_cert_issuer", "tls_cert_expiry",
	"entry_hash",
}

// entryValues holds one entries row keyed by column name, as read through
// database/sql's generic scanning.
type entryValues map[string]any

// Merge combines inputs into a single output database (or an in-memory one
// under DryRun) and returns per-table statistics.
func Merge(inputs []string, opts Options) (*Stats, error) {
	if len(inputs) < 2 {
		return nil, harerr.New(harerr.InputInvalid, "merge.Merge", fmt.Errorf("merge requires at least two databases"))
	}

	outputPath, err := resolveOutputPath(inputs, opts.Output)
	if err != nil {
		return nil, err
	}
	if !opts.DryRun {
		if err := ensureOutputNotInInputs(inputs, outputPath); err != nil {
			return nil, err
		}
	}

	var out *sql.DB
	if opts.DryRun {
		out, err = sqlite.OpenMemory()
	} else {
		out, err = sqlite.OpenWriter(outputPath)
	}
	if err != nil {
		return nil, err
	}
	defer out.Close()

	importMap, err := loadExistingImports(out)
	if err != nil {
		return nil, err
	}
	ftsHashes, err := loadExistingFTSHashes(out)
	if err != nil {
		return nil, err
	}
	entryKeysByImport := map[int64]map[string]int64{}

	tx, err := out.Begin()
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "merge.Merge", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stats := &Stats{}

	for _, path := range inputs {
		in, err := sql.Open("sqlite3", path)
		if err != nil {
			return nil, harerr.New(harerr.IOFault, "merge.Merge", err)
		}

		if err := mergeBlobs(in, tx, stats); err != nil {
			in.Close()
			return nil, err
		}

		importIDMap, err := mergeImports(in, tx, importMap, stats)
		if err != nil {
			in.Close()
			return nil, err
		}

		if err := mergePages(in, tx, importIDMap, stats); err != nil {
			in.Close()
			return nil, err
		}

		graphqlFields, err := loadGraphQLFields(in)
		if err != nil {
			in.Close()
			return nil, err
		}

		if err := mergeEntries(in, tx, importIDMap, entryKeysByImport, graphqlFields, opts.Dedup, stats); err != nil {
			in.Close()
			return nil, err
		}

		if err := mergeFTS(in, tx, ftsHashes, stats); err != nil {
			in.Close()
			return nil, err
		}

		in.Close()
	}

	if _, err := tx.Exec(`UPDATE imports SET entry_count = (SELECT COUNT(*) FROM entries WHERE entries.import_id = imports.id)`); err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "merge.Merge", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "merge.Merge", err)
	}
	committed = true

	return stats, nil
}

func resolveOutputPath(inputs []string, output string) (string, error) {
	if output != "" {
		return output, nil
	}
	if len(inputs) == 0 {
		return "", harerr.New(harerr.InputInvalid, "merge.resolveOutputPath", fmt.Errorf("no input databases"))
	}
	return stemOf(inputs[0]) + "-merged.db", nil
}

func stemOf(path string) string {
	base := path
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			base = base[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}

func ensureOutputNotInInputs(inputs []string, output string) error {
	for _, in := range inputs {
		if samePath(in, output) {
			return harerr.New(harerr.InputInvalid, "merge.ensureOutputNotInInputs",
				fmt.Errorf("output database must be different from input databases"))
		}
	}
	return nil
}

func samePath(a, b string) bool {
	ai, aErr := os.Stat(a)
	bi, bErr := os.Stat(b)
	if aErr != nil || bErr != nil {
		return a == b
	}
	return os.SameFile(ai, bi)
}

// entryKey encodes the dedup-relevant entry columns exactly as
// merge.rs::entry_key does: a length-prefixed byte stream (tag 0/1 then
// little-endian length+bytes for strings, tag 0/1 then 8 raw bytes for
// numbers), hashed with BLAKE3 under DedupHash or kept raw under DedupExact.
// TLS columns and entry_hash are intentionally excluded so TLS metadata can
// enrich an existing entry without breaking identity.
func entryKey(e entryValues, strategy DedupStrategy) string {
	var buf []byte
	encStr := func(name string) { buf = append(buf, encodeOptString(asString(e[name]))...) }
	encF64 := func(name string) { buf = append(buf, encodeOptFloat(asFloat(e[name]))...) }
	encI64 := func(name string) { buf = append(buf, encodeOptInt(asInt(e[name]))...) }

	encStr("page_id")
	encStr("started_at")
	encF64("time_ms")
	encF64("timing_blocked_ms")
	encF64("timing_dns_ms")
	encF64("timing_connect_ms")
	encF64("timing_send_ms")
	encF64("timing_wait_ms")
	encF64("timing_receive_ms")
	encF64("timing_ssl_ms")
	encStr("method")
	encStr("url")
	encStr("host")
	encStr("path")
	encStr("query_string")
	encStr("http_version")
	encStr("request_headers")
	encStr("request_cookies")
	encStr("request_body_hash")
	encI64("request_body_size")
	encI64("status")
	encStr("status_text")
	encStr("response_headers")
	encStr("response_cookies")
	encStr("response_body_hash")
	encI64("response_body_size")
	encStr("response_body_hash_raw")
	encStr("response_mime_type")
	encI64("is_redirect")
	encStr("server_ip")
	encStr("connection_id")
	// TLS fields and entry_hash omitted deliberately (see doc comment).

	switch strategy {
	case DedupHash:
		h := blake3.Sum256(buf)
		return string(h[:])
	default:
		return string(buf)
	}
}

func encodeOptString(v *string) []byte {
	if v == nil {
		return []byte{0}
	}
	out := make([]byte, 0, 5+len(*v))
	out = append(out, 1)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(*v)))
	out = append(out, lenBuf[:]...)
	out = append(out, []byte(*v)...)
	return out
}

func encodeOptInt(v *int64) []byte {
	if v == nil {
		return []byte{0}
	}
	out := make([]byte, 9)
	out[0] = 1
	binary.LittleEndian.PutUint64(out[1:], uint64(*v))
	return out
}

func encodeOptFloat(v *float64) []byte {
	if v == nil {
		return []byte{0}
	}
	out := make([]byte, 9)
	out[0] = 1
	binary.LittleEndian.PutUint64(out[1:], math.Float64bits(*v))
	return out
}

func asString(v any) *string {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		return &t
	case []byte:
		s := string(t)
		return &s
	default:
		s := fmt.Sprintf("%v", t)
		return &s
	}
}

func asFloat(v any) *float64 {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case float64:
		return &t
	case int64:
		f := float64(t)
		return &f
	default:
		return nil
	}
}

func asInt(v any) *int64 {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
	case int64:
		return &t
	case float64:
		i := int64(t)
		return &i
	default:
		return nil
	}
}
