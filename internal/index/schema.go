// Package index mirrors the document registry into SQLite for full-text
// search and dependency queries. FTS5 is used when built with the
// sqlite_fts5 tag; otherwise search falls back to LIKE.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	category       TEXT NOT NULL,
	key            TEXT NOT NULL,
	subcategory    TEXT NOT NULL DEFAULT '',
	verbose_path   TEXT NOT NULL,
	compact_path   TEXT NOT NULL DEFAULT '',
	summary        TEXT NOT NULL DEFAULT '',
	owning_agent   TEXT NOT NULL DEFAULT '',
	checksum       TEXT NOT NULL DEFAULT '',
	tags           TEXT NOT NULL DEFAULT '[]',
	verbose_tokens INTEGER NOT NULL DEFAULT 0,
	compact_tokens INTEGER NOT NULL DEFAULT 0,
	body           TEXT NOT NULL DEFAULT '',
	modified_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS dependencies (
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	UNIQUE(source, target)
);

CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);
CREATE INDEX IF NOT EXISTS idx_dependencies_source ON dependencies(source);
CREATE INDEX IF NOT EXISTS idx_dependencies_target ON dependencies(target);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
