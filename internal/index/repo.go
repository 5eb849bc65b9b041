package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/infrawiki/internal/models"
)

// Row is one catalog entry.
type Row struct {
	Summary  models.Summary
	Checksum string
}

const upsertSQL = `
	INSERT INTO nodes (path, id, type, title, tags, checksum, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		id         = excluded.id,
		type       = excluded.type,
		title      = excluded.title,
		tags       = excluded.tags,
		checksum   = excluded.checksum,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsert(e execer, r Row) error {
	tags := r.Summary.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("index: encode tags of %q: %w", r.Summary.Path, err)
	}
	_, err = e.Exec(upsertSQL,
		r.Summary.Path, r.Summary.ID, string(r.Summary.Type), r.Summary.Title,
		string(tagsJSON), r.Checksum,
		r.Summary.CreatedAt.UnixNano(), r.Summary.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("index: upsert node: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the catalog row of a node.
func (db *DB) Upsert(r Row) error {
	return upsert(db.conn, r)
}

// Delete removes one node from the catalog.
func (db *DB) Delete(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM nodes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete node: %w", err)
	}
	return nil
}

// DeleteTree removes a node and all of its descendants. The empty path
// clears the catalog.
func (db *DB) DeleteTree(path string) error {
	var err error
	if path == "" {
		_, err = db.conn.Exec(`DELETE FROM nodes`)
	} else {
		// substr instead of LIKE: '_' is valid in segments.
		prefix := path + "/"
		_, err = db.conn.Exec(`DELETE FROM nodes WHERE path = ? OR substr(path, 1, ?) = ?`,
			path, len(prefix), prefix)
	}
	if err != nil {
		return fmt.Errorf("index: delete tree: %w", err)
	}
	return nil
}

// Replace swaps the whole catalog for rows within a transaction.
func (db *DB) Replace(rows []Row) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM nodes`); err != nil {
		return fmt.Errorf("index: clear catalog: %w", err)
	}
	for _, r := range rows {
		if err := upsert(tx, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Checksums returns path -> checksum for every cataloged node.
func (db *DB) Checksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("index: checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// Recent returns the most recently updated nodes, newest first.
func (db *DB) Recent(limit int) ([]models.Summary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.Query(`
		SELECT path, id, type, title, tags, created_at, updated_at
		FROM nodes ORDER BY updated_at DESC, path ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("index: recent: %w", err)
	}
	defer rows.Close()

	var out []models.Summary
	for rows.Next() {
		var (
			s                models.Summary
			typ, tagsJSON    string
			created, updated int64
		)
		if err := rows.Scan(&s.Path, &s.ID, &typ, &s.Title, &tagsJSON, &created, &updated); err != nil {
			return nil, fmt.Errorf("index: recent: %w", err)
		}
		s.Type = models.NodeType(typ)
		if err := json.Unmarshal([]byte(tagsJSON), &s.Tags); err != nil {
			return nil, fmt.Errorf("index: decode tags of %q: %w", s.Path, err)
		}
		s.CreatedAt = time.Unix(0, created).UTC()
		s.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// Count returns the number of cataloged nodes.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM nodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return n, nil
}
