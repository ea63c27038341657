package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DocumentRow is one registry document as stored in the index.
type DocumentRow struct {
	Category      string
	Key           string
	Subcategory   string
	VerbosePath   string
	CompactPath   string
	Summary       string
	OwningAgent   string
	Checksum      string
	Tags          []string
	VerboseTokens int
	CompactTokens int
	ModifiedAt    time.Time
}

// ID returns the row identity, category/key.
func (d DocumentRow) ID() string { return DocumentID(d.Category, d.Key) }

// DocumentID joins category and key into an index id.
func DocumentID(category, key string) string { return category + "/" + key }

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Summary string `json:"summary"`
	Snippet string `json:"snippet"`
}

// UpsertDocument inserts or replaces a document, its FTS entry and its
// dependency edges within a transaction.
func (db *DB) UpsertDocument(d DocumentRow, body string, deps []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if d.Tags == nil {
		d.Tags = []string{}
	}
	tagsJSON, _ := json.Marshal(d.Tags)
	id := d.ID()

	_, err = tx.Exec(`
		INSERT INTO documents (id, category, key, subcategory, verbose_path, compact_path,
			summary, owning_agent, checksum, tags, verbose_tokens, compact_tokens, body, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subcategory    = excluded.subcategory,
			verbose_path   = excluded.verbose_path,
			compact_path   = excluded.compact_path,
			summary        = excluded.summary,
			owning_agent   = excluded.owning_agent,
			checksum       = excluded.checksum,
			tags           = excluded.tags,
			verbose_tokens = excluded.verbose_tokens,
			compact_tokens = excluded.compact_tokens,
			body           = excluded.body,
			modified_at    = excluded.modified_at
	`, id, d.Category, d.Key, d.Subcategory, d.VerbosePath, d.CompactPath,
		d.Summary, d.OwningAgent, d.Checksum, string(tagsJSON), d.VerboseTokens, d.CompactTokens, body, d.ModifiedAt)
	if err != nil {
		return fmt.Errorf("index: upsert document: %w", err)
	}

	if err := ftsUpsert(tx, id, d.Summary, body, d.Tags); err != nil {
		return err
	}

	if err := replaceDeps(tx, id, deps); err != nil {
		return err
	}
	return tx.Commit()
}

// SetDependencies replaces the outgoing dependency edges of id.
func (db *DB) SetDependencies(id string, deps []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := replaceDeps(tx, id, deps); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceDeps(tx *sql.Tx, id string, deps []string) error {
	if _, err := tx.Exec(`DELETE FROM dependencies WHERE source = ?`, id); err != nil {
		return fmt.Errorf("index: clear dependencies: %w", err)
	}
	if len(deps) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO dependencies (source, target) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare dependency insert: %w", err)
	}
	defer stmt.Close()
	for _, target := range deps {
		if _, err := stmt.Exec(id, target); err != nil {
			return fmt.Errorf("index: insert dependency: %w", err)
		}
	}
	return nil
}

// DeleteDocument removes a document, its FTS entry and outgoing edges.
func (db *DB) DeleteDocument(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	_, _ = tx.Exec(`DELETE FROM dependencies WHERE source = ?`, id)
	_, _ = tx.Exec(`DELETE FROM documents WHERE id = ?`, id)

	return tx.Commit()
}

// AllChecksums returns id → checksum for every indexed document.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}

// Dependents returns the ids of documents that depend on key, ordered.
func (db *DB) Dependents(key string) ([]string, error) {
	return db.strings(`SELECT source FROM dependencies WHERE target = ? ORDER BY source`, key)
}

// Dependencies returns the dependency keys of id in stored order.
func (db *DB) Dependencies(id string) ([]string, error) {
	return db.strings(`SELECT target FROM dependencies WHERE source = ? ORDER BY rowid`, id)
}

func (db *DB) strings(query string, arg string) ([]string, error) {
	rows, err := db.conn.Query(query, arg)
	if err != nil {
		return nil, fmt.Errorf("index: query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
