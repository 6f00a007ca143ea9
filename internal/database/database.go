package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the SQLite database file created inside the store directory.
const FileName = "feeds.db"

// DB wraps the SQLite connection.
type DB struct {
	queries
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// Open creates the store directory if needed and opens feeds.db inside it.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	return New(filepath.Join(dir, FileName))
}

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection keeps the per-connection pragmas below in effect
	// for every statement.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	db := &DB{queries{conn: conn}}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS feeds (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		lang TEXT NOT NULL DEFAULT '',
		feed_type TEXT NOT NULL DEFAULT '',
		license TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		feed_id TEXT NOT NULL REFERENCES feeds(id),
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		creation_date DATETIME,
		lang TEXT NOT NULL DEFAULT '',
		license TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_articles_feed_id ON articles(feed_id);
	CREATE INDEX IF NOT EXISTS idx_feeds_lang ON feeds(lang);
	`
	_, err := db.conn.Exec(schema)
	return err
}
