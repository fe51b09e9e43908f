// Package db opens the local SQLite monitoring store used by the sqlite query backend.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the SQLite file at path in read-write mode.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return sql.Open("sqlite", dsn(path, false))
}

// OpenReadOnly opens an existing SQLite file for queries only.
func OpenReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("monitoring store %s: %w", path, err)
	}
	return sql.Open("sqlite", dsn(path, true))
}

func dsn(path string, readOnly bool) string {
	d := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	if readOnly {
		d += "&mode=ro"
	}
	return d
}

// Resolve makes a relative store path relative to workspace.
func Resolve(workspace, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, path)
}
