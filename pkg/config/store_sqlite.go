package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure Go driver, registered as "sqlite"
)

const configKey = "config"

// SQLiteBackend stores the configuration document in a single-row key-value
// table. driver selects the registered database/sql driver: "sqlite"
// (modernc.org/sqlite) or "sqlite3" (github.com/mattn/go-sqlite3).
type SQLiteBackend struct {
	db        *sql.DB
	path      string
	closeOnce sync.Once

	getStmt    *sql.Stmt
	putStmt    *sql.Stmt
	deleteStmt *sql.Stmt
}

// NewSQLiteBackend opens (creating if needed) the database at path.
func NewSQLiteBackend(driver, path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if driver != StoreDriverSQLite && driver != StoreDriverSQLite3 {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", path, 5000)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	b := &SQLiteBackend{db: db, path: path}

	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := b.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	_, err := b.db.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`)
	return err
}

func (b *SQLiteBackend) prepareStatements() error {
	var err error

	b.getStmt, err = b.db.Prepare(`SELECT value FROM kv WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}

	b.putStmt, err = b.db.Prepare(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}

	b.deleteStmt, err = b.db.Prepare(`DELETE FROM kv WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	return nil
}

// Read implements Backend.
func (b *SQLiteBackend) Read() ([]byte, error) {
	var data []byte
	err := b.getStmt.QueryRow(configKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration row: %w", err)
	}
	return data, nil
}

// Write implements Backend.
func (b *SQLiteBackend) Write(data []byte) error {
	if _, err := b.putStmt.Exec(configKey, data, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to write configuration row: %w", err)
	}
	return nil
}

// Clear implements Backend.
func (b *SQLiteBackend) Clear() error {
	if _, err := b.deleteStmt.Exec(configKey); err != nil {
		return fmt.Errorf("failed to delete configuration row: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{b.getStmt, b.putStmt, b.deleteStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = b.db.Close()
	})
	return err
}
