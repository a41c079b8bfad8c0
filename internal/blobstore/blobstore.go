// Package blobstore implements harlite's content-addressed blob storage:
// BLAKE3 hashing, insert-if-absent rows, optional external-file offload, and
// path-traversal-safe resolution on read. Grounded on
// original_source/src/db/writer.rs (store_blob, write_blob_if_missing,
// blob_path) and original_source/src/commands/fts.rs
// (load_external_blob_content).
package blobstore

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brucehart/harlite/internal/harerr"
	"lukechampine.com/blake3"
)

// Hash returns the 64-character lowercase hex BLAKE3 digest of content.
func Hash(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Store inserts content under its BLAKE3 hash if not already present.
// If the row already exists and externalPath is non-empty, the row's
// external_path is updated only if currently empty (first-wins; content
// bytes are never overwritten). inline controls whether bytes are stored in
// the row's content column or left empty (caller already wrote them
// externally). Returns the hash and whether a new row was inserted.
func Store(tx *sql.Tx, content []byte, mime, externalPath string, inline bool) (hash string, inserted bool, err error) {
	hash = Hash(content)

	storedContent := content
	if !inline {
		storedContent = nil
	}

	res, err := tx.Exec(
		`INSERT INTO blobs (hash, content, size, mime_type, external_path)
		 VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))
		 ON CONFLICT(hash) DO NOTHING`,
		hash, storedContent, len(content), mime, externalPath,
	)
	if err != nil {
		return "", false, harerr.New(harerr.StorageCorruption, "blobstore.Store", err)
	}
	n, _ := res.RowsAffected()
	inserted = n > 0

	if !inserted && externalPath != "" {
		if _, err := tx.Exec(
			`UPDATE blobs SET external_path = ? WHERE hash = ? AND (external_path IS NULL OR external_path = '')`,
			externalPath, hash,
		); err != nil {
			return "", false, harerr.New(harerr.StorageCorruption, "blobstore.Store", err)
		}
	}

	return hash, inserted, nil
}

// ShardedPath computes the external-file layout path for hash under root:
// root/aa/bb/.../<hash>, where aa, bb, ... are the first 2*shardDepth hex
// characters of hash, one pair per directory level.
func ShardedPath(root, hash string, shardDepth int) string {
	parts := make([]string, 0, shardDepth+1)
	for i := 0; i < shardDepth && i*2+2 <= len(hash); i++ {
		parts = append(parts, hash[i*2:i*2+2])
	}
	parts = append(parts, hash)
	return filepath.Join(append([]string{root}, parts...)...)
}

// WriteIfMissing creates path with content using O_CREATE|O_EXCL; an
// EEXIST race is benign because path is derived from content's hash.
func WriteIfMissing(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return harerr.New(harerr.IOFault, "blobstore.WriteIfMissing", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return harerr.New(harerr.IOFault, "blobstore.WriteIfMissing", err)
	}
	defer f.Close()
	if _, err := f.Write(content); err != nil {
		return harerr.New(harerr.IOFault, "blobstore.WriteIfMissing", err)
	}
	return nil
}

// ResolveExternal resolves externalPath against root, canonicalizes it, and
// rejects any path that escapes root. Path traversal defense is a hard
// requirement (spec §4.1, §8 "path containment").
func ResolveExternal(root, externalPath string) (string, error) {
	candidate := externalPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}

	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", harerr.New(harerr.IOFault, "blobstore.ResolveExternal", err)
	}
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		// Fall back to lexical cleaning so a still-nonexistent-but-legitimate
		// path can still be rejected/accepted without requiring it to exist.
		resolved = filepath.Clean(candidate)
	}

	rel, err := filepath.Rel(resolvedRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", harerr.New(harerr.PolicyViolation, "blobstore.ResolveExternal",
			fmt.Errorf("external_path %q escapes root %q", externalPath, root))
	}
	return resolved, nil
}

// Load reads a blob row and, if its inline content is empty but Size > 0 and
// ExternalPath is set, resolves and reads the external file. externalRoot
// must be non-empty for external resolution to be attempted; if it is
// empty, external blobs load as empty content (caller's choice to disallow).
func Load(db *sql.DB, hash, externalRoot string) (content []byte, mime string, size int64, err error) {
	var (
		rawContent   []byte
		nMime, nPath sql.NullString
	)
	row := db.QueryRow(`SELECT content, size, mime_type, external_path FROM blobs WHERE hash = ?`, hash)
	if err := row.Scan(&rawContent, &size, &nMime, &nPath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", 0, nil
		}
		return nil, "", 0, harerr.New(harerr.StorageCorruption, "blobstore.Load", err)
	}
	mime = nMime.String

	if len(rawContent) > 0 || size <= 0 || !nPath.Valid || nPath.String == "" || externalRoot == "" {
		return rawContent, mime, size, nil
	}

	resolved, err := ResolveExternal(externalRoot, nPath.String)
	if err != nil {
		// Path traversal or unresolvable external path: return empty content
		// rather than propagating, matching the reader's refusal semantics.
		return nil, mime, size, nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, mime, size, harerr.New(harerr.IOFault, "blobstore.Load", err)
	}
	return data, mime, size, nil
}
