package citekey

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DatabaseFile is the name of the Better BibTeX database inside the Zotero
// data directory.
const DatabaseFile = "better-bibtex.sqlite"

// The citationkey table as created by Better BibTeX:
//
//	CREATE TABLE citationkey (
//	    itemID NOT NULL PRIMARY KEY,
//	    itemKey NOT NULL,
//	    libraryID NOT NULL,
//	    citationKey NOT NULL CHECK (citationKey <> ''),
//	    pinned CHECK (pinned in (0, 1)),
//	    UNIQUE (libraryID, itemKey)
//	)
const scanQuery = `SELECT itemID, itemKey, libraryID, citationKey
FROM citationkey
WHERE itemID > ?
ORDER BY itemID
LIMIT ?`

// Database is a read-only Connector over better-bibtex.sqlite. Zotero keeps
// the file open while running, so it is opened without locking.
type Database struct {
	path string
	db   *sql.DB
}

// OpenDatabase prepares a read-only handle on the sqlite file at path. The
// file is not touched until a session is opened.
func OpenDatabase(path string) (*Database, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}
	q := url.Values{}
	q.Set("mode", "ro")
	q.Set("nolock", "1")
	dsn := (&url.URL{Scheme: "file", Path: abs, RawQuery: q.Encode()}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", abs, err)
	}
	return &Database{path: abs, db: db}, nil
}

// Path returns the absolute path of the database file.
func (d *Database) Path() string {
	return d.path
}

// Open acquires one connection for the lifetime of the returned session.
func (d *Database) Open(ctx context.Context) (Session, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.path, err)
	}
	return &dbSession{conn: conn}, nil
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

type dbSession struct {
	conn  *sql.Conn
	after int64
}

func (s *dbSession) Next(ctx context.Context, limit int) ([]CitationKey, error) {
	rows, err := s.conn.QueryContext(ctx, scanQuery, s.after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan citation keys: %w", err)
	}
	defer rows.Close()

	var batch []CitationKey
	for rows.Next() {
		var (
			itemID int64
			key    CitationKey
		)
		if err := rows.Scan(&itemID, &key.ItemKey, &key.LibraryID, &key.Key); err != nil {
			return nil, fmt.Errorf("failed to read citation key row: %w", err)
		}
		s.after = itemID
		batch = append(batch, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan citation keys: %w", err)
	}
	return batch, nil
}

func (s *dbSession) Close() error {
	return s.conn.Close()
}
