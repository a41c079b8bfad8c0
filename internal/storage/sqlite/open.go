package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/brucehart/harlite/internal/harerr"
)

// CreateSchema applies the declarative DDL and runs pending upgrades. Safe
// to call on every open (spec §4.2).
func CreateSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return harerr.New(harerr.StorageCorruption, "sqlite.CreateSchema", err)
	}
	if err := RunMigrations(db); err != nil {
		return err
	}
	return nil
}

// OpenWriter opens path for read-write access with WAL journaling and
// synchronous=NORMAL (spec §5 "Locking discipline"), then ensures schema.
func OpenWriter(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, harerr.New(harerr.IOFault, "sqlite.OpenWriter", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, harerr.New(harerr.StorageCorruption, "sqlite.OpenWriter", err)
	}
	if err := CreateSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenReadOnly opens path for read-only access with query_only=ON enforced
// as defense-in-depth (spec §4.10, §5).
func OpenReadOnly(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, harerr.New(harerr.IOFault, "sqlite.OpenReadOnly", err)
	}
	if _, err := db.Exec("PRAGMA query_only=ON;"); err != nil {
		db.Close()
		return nil, harerr.New(harerr.StorageCorruption, "sqlite.OpenReadOnly", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests, matching the original's
// rusqlite::Connection::open_in_memory() usage.
func OpenMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, harerr.New(harerr.IOFault, "sqlite.OpenMemory", err)
	}
	if err := CreateSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
