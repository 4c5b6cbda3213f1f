package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/mioring/internal/apperr"
)

// UpsertSpecter inserts or replaces a specter, its search entry and the URLs
// its content references, within a transaction.
func (db *DB) UpsertSpecter(r SpecterRow, body string, urls []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if r.Tags == nil {
		r.Tags = []string{}
	}
	tagsJSON, _ := json.Marshal(r.Tags)

	_, err = tx.Exec(`
		INSERT INTO specters (id, ord, kind, ext, variant, provenance, operation, ring, path,
		                      actualized, title, tags, body, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ord        = excluded.ord,
			kind       = excluded.kind,
			ext        = excluded.ext,
			variant    = excluded.variant,
			provenance = excluded.provenance,
			operation  = excluded.operation,
			ring       = excluded.ring,
			path       = excluded.path,
			actualized = excluded.actualized,
			title      = excluded.title,
			tags       = excluded.tags,
			body       = excluded.body,
			checksum   = excluded.checksum,
			created_at = excluded.created_at
	`, r.ID, r.Ord, r.Kind, r.Ext, r.Variant, r.Provenance, r.Operation, r.Ring, r.Path,
		r.Actualized, r.Title, string(tagsJSON), body, r.Checksum, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("catalog: upsert specter: %w", err)
	}

	if err := ftsUpsert(tx, r.ID, r.Title, body, r.Tags); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM urls WHERE specter = ?`, r.ID); err != nil {
		return fmt.Errorf("catalog: clear urls: %w", err)
	}
	if len(urls) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO urls (specter, url) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("catalog: prepare url insert: %w", err)
		}
		defer stmt.Close()
		for _, u := range urls {
			if _, err := stmt.Exec(r.ID, u); err != nil {
				return fmt.Errorf("catalog: insert url: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteSpecter removes a specter, its search entry and its URLs.
func (db *DB) DeleteSpecter(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDelete(tx, id); err != nil {
		return err
	}
	_, _ = tx.Exec(`DELETE FROM urls WHERE specter = ?`, id)
	_, _ = tx.Exec(`DELETE FROM specters WHERE id = ?`, id)

	return tx.Commit()
}

// UpsertOperation inserts or replaces an operation and its base edges.
func (db *DB) UpsertOperation(r OperationRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO operations (id, kind, attr, specter, ring)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind    = excluded.kind,
			attr    = excluded.attr,
			specter = excluded.specter,
			ring    = excluded.ring
	`, r.ID, r.Kind, r.Attr, r.Specter, r.Ring)
	if err != nil {
		return fmt.Errorf("catalog: upsert operation: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM edges WHERE operation = ?`, r.ID); err != nil {
		return fmt.Errorf("catalog: clear edges: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO edges (operation, base, position) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("catalog: prepare edge insert: %w", err)
	}
	defer stmt.Close()
	for i, b := range r.Base {
		if _, err := stmt.Exec(r.ID, b, i); err != nil {
			return fmt.Errorf("catalog: insert edge: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteOperation removes an operation and its edges.
func (db *DB) DeleteOperation(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM edges WHERE operation = ?`, id)
	_, _ = tx.Exec(`DELETE FROM operations WHERE id = ?`, id)

	return tx.Commit()
}

// ReplaceChronology rewrites the chronology table in order.
func (db *DB) ReplaceChronology(entries []ChronologyRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM chronology`); err != nil {
		return fmt.Errorf("catalog: clear chronology: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO chronology (position, base, time) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("catalog: prepare chronology insert: %w", err)
	}
	defer stmt.Close()
	for i, e := range entries {
		if _, err := stmt.Exec(i, e.Base, e.Time); err != nil {
			return fmt.Errorf("catalog: insert chronology: %w", err)
		}
	}

	return tx.Commit()
}

const specterColumns = `id, ord, kind, ext, variant, provenance, operation, ring, path,
	actualized, title, tags, checksum, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSpecter(s scanner) (SpecterRow, error) {
	var (
		r    SpecterRow
		tags string
	)
	err := s.Scan(&r.ID, &r.Ord, &r.Kind, &r.Ext, &r.Variant, &r.Provenance, &r.Operation, &r.Ring,
		&r.Path, &r.Actualized, &r.Title, &tags, &r.Checksum, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		r.Tags = []string{}
	}
	return r, nil
}

// GetSpecter returns one row, or apperr.ErrNotFound.
func (db *DB) GetSpecter(id string) (*SpecterRow, error) {
	row := db.conn.QueryRow(`SELECT `+specterColumns+` FROM specters WHERE id = ?`, id)
	r, err := scanSpecter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: specter %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get specter: %w", err)
	}
	return &r, nil
}

// ListSpecters returns a page of rows ordered by ordinal, plus the total
// number of rows matching f.
func (db *DB) ListSpecters(f Filter, limit, offset int) ([]SpecterRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	if f.Ring != "" {
		where = append(where, "ring = ?")
		args = append(args, f.Ring)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Variant != "" {
		where = append(where, "variant = ?")
		args = append(args, f.Variant)
	}
	if f.Tag != "" {
		where = append(where, "tags LIKE ?")
		args = append(args, `%"`+f.Tag+`"%`)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM specters`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count specters: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+specterColumns+` FROM specters`+clause+` ORDER BY ord LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list specters: %w", err)
	}
	defer rows.Close()

	out := []SpecterRow{}
	for rows.Next() {
		r, err := scanSpecter(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Consumers returns the ids of operations that read the given specter.
func (db *DB) Consumers(id string) ([]string, error) {
	return db.column(`SELECT operation FROM edges WHERE base = ? ORDER BY operation`, id)
}

// Mentions returns the ids of text specters referencing url.
func (db *DB) Mentions(url string) ([]string, error) {
	return db.column(`SELECT specter FROM urls WHERE url = ? ORDER BY specter`, url)
}

func (db *DB) column(query string, args ...any) ([]string, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: query: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AllChecksums maps every mirrored specter id to its stored fingerprint.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM specters`)
	if err != nil {
		return nil, fmt.Errorf("catalog: all checksums: %w", err)
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

// AllOperations returns every mirrored operation id.
func (db *DB) AllOperations() (map[string]struct{}, error) {
	ids, err := db.column(`SELECT id FROM operations`)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}
