// Package watch implements harlite's directory watcher: debouncing
// filesystem events into stable HAR files and importing each once per
// (size, mtime) fingerprint (spec §4.11). Grounded on
// original_source/src/commands/watch.rs, using github.com/fsnotify/fsnotify
// in place of notify and github.com/gofrs/flock to hold a lock file beside
// the output database for the whole session, so a second watcher on the
// same output waits; `harlite import` does not take this lock.
package watch

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/brucehart/harlite/internal/har"
	"github.com/brucehart/harlite/internal/harerr"
	"github.com/brucehart/harlite/internal/importer"
	"github.com/brucehart/harlite/internal/storage/sqlite"
)

// ImportFunc imports one file into the watcher's output database. The
// watcher supplies this so it doesn't couple to the CLI's flag/output
// plumbing (spec §4.11 "Decoupling").
type ImportFunc func(path string, opts importer.InsertEntryOptions) (importer.ImportStats, error)

// Options configures one watch session.
type Options struct {
	Directory      string
	Output         string // output database path; empty derives "<dirname>.db"
	Recursive      bool
	DebounceMs     uint64
	StableMs       uint64
	ImportExisting bool
	ImportOptions  importer.InsertEntryOptions
	OnImported     func(path string, stats importer.ImportStats)
	OnError        func(path string, err error)
}

type fileFingerprint struct {
	size    int64
	modTime time.Time
}

func (a fileFingerprint) equal(b fileFingerprint) bool {
	return a.size == b.size && a.modTime.Equal(b.modTime)
}

type pendingFile struct {
	lastEvent  time.Time
	lastSize   int64
	lastMTime  time.Time
	lastChange time.Time
}

// Run watches options.Directory for stable .har files and imports each one
// into the resolved output database, until ctx is cancelled. A file is
// imported again when its (size, mtime) fingerprint changes.
func Run(ctx context.Context, opts Options) error {
	info, err := os.Stat(opts.Directory)
	if err != nil {
		return harerr.New(harerr.InputInvalid, "watch.Run", fmt.Errorf("watch directory does not exist: %w", err))
	}
	if !info.IsDir() {
		return harerr.New(harerr.InputInvalid, "watch.Run", fmt.Errorf("watch path is not a directory: %s", opts.Directory))
	}

	outputDB := opts.Output
	if outputDB == "" {
		outputDB = resolveWatchOutput(opts.Directory)
	}

	lock := flock.New(outputDB + ".lock")
	if err := lock.Lock(); err != nil {
		return harerr.New(harerr.IOFault, "watch.Run", fmt.Errorf("failed to lock output database: %w", err))
	}
	defer lock.Unlock()

	importedHistory, err := loadImportHistory(outputDB)
	if err != nil {
		return err
	}
	importedFiles := map[string]fileFingerprint{}

	doImport := func(path string) (importer.ImportStats, error) {
		return importIntoDB(outputDB, path, opts.ImportOptions)
	}

	if opts.ImportExisting {
		if err := importExistingFiles(opts, importedHistory, importedFiles, doImport); err != nil {
			return err
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return harerr.New(harerr.IOFault, "watch.Run", fmt.Errorf("failed to init watcher: %w", err))
	}
	defer watcher.Close()

	if err := addWatch(watcher, opts.Directory, opts.Recursive); err != nil {
		return err
	}

	debounce := durationMs(opts.DebounceMs, 50)
	stable := durationMs(opts.StableMs, 50)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	pending := map[string]*pendingFile{}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isHarFile(event.Name) {
				continue
			}
			now := time.Now()
			if p, exists := pending[event.Name]; exists {
				p.lastEvent = now
			} else {
				pending[event.Name] = &pendingFile{lastEvent: now, lastChange: now}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if opts.OnError != nil {
				opts.OnError("", err)
			}

		case <-tick.C:
			now := time.Now()
			var ready []string

			for path, state := range pending {
				if now.Sub(state.lastEvent) < debounce {
					continue
				}

				info, err := os.Stat(path)
				if os.IsNotExist(err) {
					delete(pending, path)
					continue
				}
				if err != nil {
					if opts.OnError != nil {
						opts.OnError(path, err)
					}
					continue
				}
				if info.IsDir() {
					delete(pending, path)
					continue
				}

				size, mtime := info.Size(), info.ModTime()
				if size != state.lastSize || !mtime.Equal(state.lastMTime) {
					state.lastSize = size
					state.lastMTime = mtime
					state.lastChange = now
					continue
				}

				if now.Sub(state.lastChange) >= stable {
					ready = append(ready, path)
					delete(pending, path)
				}
			}

			for _, path := range ready {
				canonical := path
				if real, err := filepath.EvalSymlinks(path); err == nil {
					canonical = real
				}

				fp, err := fingerprintOf(canonical)
				if err != nil {
					if opts.OnError != nil {
						opts.OnError(canonical, err)
					}
					continue
				}

				if existing, ok := importedFiles[canonical]; ok && existing.equal(fp) {
					continue
				}
				if importedAt, ok := importedHistory[canonical]; ok && !fp.modTime.After(importedAt) {
					continue
				}

				stats, err := doImport(canonical)
				if err != nil {
					if opts.OnError != nil {
						opts.OnError(canonical, err)
					}
					continue
				}

				importedFiles[canonical] = fp
				importedHistory[canonical] = time.Now()
				if opts.OnImported != nil {
					opts.OnImported(canonical, stats)
				}
			}
		}
	}
}

func addWatch(watcher *fsnotify.Watcher, root string, recursive bool) error {
	if !recursive {
		if err := watcher.Add(root); err != nil {
			return harerr.New(harerr.IOFault, "watch.addWatch", fmt.Errorf("failed to watch directory: %w", err))
		}
		return nil
	}

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if err := watcher.Add(path); err != nil {
				return harerr.New(harerr.IOFault, "watch.addWatch", fmt.Errorf("failed to watch directory: %w", err))
			}
		}
		return nil
	})
}

func resolveWatchOutput(directory string) string {
	name := filepath.Base(directory)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "watch"
	}
	return name + ".db"
}

func fingerprintOf(path string) (fileFingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileFingerprint{}, err
	}
	return fileFingerprint{size: info.Size(), modTime: info.ModTime()}, nil
}

func isHarFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".har")
}

func durationMs(ms, min uint64) time.Duration {
	if ms < min {
		ms = min
	}
	return time.Duration(ms) * time.Millisecond
}

func loadImportHistory(dbPath string) (map[string]time.Time, error) {
	db, err := sqlite.OpenWriter(dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT source_file, imported_at, status FROM imports WHERE source_file IS NOT NULL`)
	if err != nil {
		return nil, harerr.New(harerr.StorageCorruption, "watch.loadImportHistory", err)
	}
	defer rows.Close()

	history := map[string]time.Time{}
	for rows.Next() {
		var source, importedAt string
		var status sql.NullString
		if err := rows.Scan(&source, &importedAt, &status); err != nil {
			return nil, harerr.New(harerr.StorageCorruption, "watch.loadImportHistory", err)
		}
		if status.String != "complete" {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, importedAt)
		if err != nil {
			ts, err = time.Parse(time.RFC3339, importedAt)
			if err != nil {
				continue
			}
		}
		history[source] = ts
	}
	return history, rows.Err()
}

func importIntoDB(dbPath, harPath string, opts importer.InsertEntryOptions) (importer.ImportStats, error) {
	db, err := sqlite.OpenWriter(dbPath)
	if err != nil {
		return importer.ImportStats{}, err
	}
	defer db.Close()

	coord := importer.Coordinator{DB: db}
	return coord.Import(harPath, opts, nil)
}

func importExistingFiles(opts Options, importedHistory map[string]time.Time, importedFiles map[string]fileFingerprint, doImport func(string) (importer.ImportStats, error)) error {
	var stack []string
	stack = append(stack, opts.Directory)

	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			return harerr.New(harerr.IOFault, "watch.importExistingFiles", err)
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				if opts.Recursive {
					stack = append(stack, path)
				}
				continue
			}
			if !isHarFile(path) {
				continue
			}

			canonical := path
			if real, err := filepath.EvalSymlinks(path); err == nil {
				canonical = real
			}
			fp, err := fingerprintOf(canonical)
			if err != nil {
				continue
			}
			if importedAt, ok := importedHistory[canonical]; ok && !fp.modTime.After(importedAt) {
				continue
			}

			stats, err := doImport(canonical)
			if err != nil {
				if opts.OnError != nil {
					opts.OnError(canonical, err)
				}
				continue
			}
			importedFiles[canonical] = fp
			if opts.OnImported != nil {
				opts.OnImported(canonical, stats)
			}
		}
	}

	return nil
}

var _ = har.Entry{} // referenced to keep the har import meaningful if InsertEntryOptions changes shape
