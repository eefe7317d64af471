// Package sqlitestore implements the snapshot store on embedded SQLite.
// The database is a single local file (or ":memory:" in tests), which keeps
// the snapshot durable across restarts without any external service.
package sqlitestore

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	// Registers the pure-Go "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"

	"github.com/curiobid/go-marketplace-client/session"
)

var _ session.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// Store is a SQLite-backed session.Store.
type Store struct {
	conn *sql.DB
}

// New opens (and if necessary creates) the snapshot database at path.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.Wrap(err, "[sqlitestore.New] create data dir")
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "[sqlitestore.New] open database")
	}

	// A single writer keeps "database is locked" errors away for this
	// single-slot workload.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "[sqlitestore.New] create schema")
	}

	return &Store{conn: conn}, nil
}

func (s *Store) Persist(key string, value []byte) error {
	_, err := s.conn.Exec(
		`INSERT INTO snapshots (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "[Store.Persist] upsert snapshot")
	}
	return nil
}

func (s *Store) Read(key string) ([]byte, error) {
	var value []byte
	err := s.conn.QueryRow(`SELECT value FROM snapshots WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Store.Read] select snapshot")
	}
	return value, nil
}

func (s *Store) Clear(key string) error {
	if _, err := s.conn.Exec(`DELETE FROM snapshots WHERE key = ?`, key); err != nil {
		return errors.Wrap(err, "[Store.Clear] delete snapshot")
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.conn.Close()
}
