package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory SQLite database.
const MemoryPath = ":memory:"

// OpenSQLite opens the SQLite database at path with WAL journaling and a
// busy timeout. SID allocation writes one row at a time, so the pool holds a
// single connection.
func OpenSQLite(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := validateDatabasePath(path); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := configureSQLite(db, path); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Infow("SQLite database opened", "path", path)
	return db, nil
}

func configureSQLite(db *sql.DB, path string) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// In-memory databases report "memory" instead of "wal".
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	if path != MemoryPath && mode != "wal" {
		return fmt.Errorf("WAL mode not enabled (got %s)", mode)
	}
	return nil
}

func validateDatabasePath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("database path cannot be empty")
	case len(path) > 512:
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	case strings.Contains(path, "\x00"):
		return fmt.Errorf("null bytes not allowed in path")
	case path != MemoryPath && strings.Contains(filepath.ToSlash(path), "../"):
		return fmt.Errorf("path traversal not allowed: %s", path)
	}
	return nil
}
