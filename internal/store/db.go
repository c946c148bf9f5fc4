package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// MemoryPath is the Path reported by databases from OpenMemory.
const MemoryPath = ":memory:"

// filePragmas tune an on-disk database for a single small blob that is
// rewritten often: WAL keeps a save from blocking a concurrent CLI read.
var filePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// memoryPragmas skip the journal settings, which mean nothing without a file.
var memoryPragmas = []string{
	"PRAGMA busy_timeout=5000",
}

// DB holds the tracker state for frecent. Path is the file it lives in, or
// MemoryPath.
type DB struct {
	*sql.DB
	Path string
}

// DefaultDBPath is where frecent keeps its state when no path is configured.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".frecent", "frecent.db"), nil
}

// Open returns the state database at path, creating the file and its parent
// directory on first use and bringing the schema up to date.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(path, filePragmas, 0)
}

// OpenMemory returns a migrated database that disappears on Close.
func OpenMemory() (*DB, error) {
	// each pooled connection would see its own empty database
	return open(MemoryPath, memoryPragmas, 1)
}

func open(path string, pragmas []string, maxConns int) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
	}

	db := &DB{DB: sqlDB, Path: path}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}
