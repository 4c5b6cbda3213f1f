// Package catalog mirrors the ring into SQLite so that specters can be listed,
// filtered and searched without walking the in-memory graph.
package catalog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS specters (
	id         TEXT PRIMARY KEY,
	ord        INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	ext        TEXT NOT NULL,
	variant    TEXT NOT NULL,
	provenance TEXT NOT NULL DEFAULT '',
	operation  TEXT NOT NULL DEFAULT '',
	ring       TEXT NOT NULL,
	path       TEXT NOT NULL DEFAULT '',
	actualized INTEGER NOT NULL DEFAULT 0,
	title      TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '[]',
	body       TEXT NOT NULL DEFAULT '',
	checksum   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS operations (
	id      TEXT PRIMARY KEY,
	kind    TEXT NOT NULL,
	attr    TEXT NOT NULL DEFAULT '',
	specter TEXT NOT NULL,
	ring    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS edges (
	operation TEXT NOT NULL,
	base      TEXT NOT NULL,
	position  INTEGER NOT NULL,
	UNIQUE(operation, base)
);

CREATE TABLE IF NOT EXISTS urls (
	specter TEXT NOT NULL,
	url     TEXT NOT NULL,
	UNIQUE(specter, url)
);

CREATE TABLE IF NOT EXISTS chronology (
	position INTEGER PRIMARY KEY,
	base     TEXT NOT NULL,
	time     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_specters_ring ON specters(ring, kind);
CREATE INDEX IF NOT EXISTS idx_edges_base ON edges(base);
CREATE INDEX IF NOT EXISTS idx_urls_url ON urls(url);
`

// DB wraps a sql.DB with catalog-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping() error {
	return db.conn.Ping()
}
