// Package progress persists per-word, per-stage completion state so a batch
// run can be re-executed without repeating finished work.
package progress

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is checked at open so an incompatible database fails fast
// with a clear error instead of being guessed at column by column.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS words (
	rank        INTEGER PRIMARY KEY,
	word        TEXT NOT NULL UNIQUE,
	translation TEXT NOT NULL DEFAULT '',
	sentences   INTEGER NOT NULL DEFAULT 0,
	audio       INTEGER NOT NULL DEFAULT 0,
	images      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS units (
	id          TEXT PRIMARY KEY,
	word_rank   INTEGER NOT NULL REFERENCES words(rank),
	word        TEXT NOT NULL,
	meaning     TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL,
	phonetic    TEXT NOT NULL DEFAULT '',
	translation TEXT NOT NULL,
	audio_tag   TEXT NOT NULL DEFAULT '',
	image_tag   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_units_word_rank ON units(word_rank);
`

// PersistenceError marks a failed progress write. It must never be swallowed:
// losing a progress write silently reintroduces duplicate paid work.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("progress write failed (%s): %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// Store wraps the SQLite database holding the word list and the per-unit
// working table.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the progress database at path and
// validates its schema version.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlx.Open() > %w", err)
	}

	var version int
	if err := db.Get(&version, "PRAGMA user_version"); err != nil {
		db.Close()
		return nil, fmt.Errorf("db.Get(user_version) > %w", err)
	}
	if version != 0 && version != schemaVersion {
		db.Close()
		return nil, fmt.Errorf("progress database schema version %d, want %d", version, schemaVersion)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("db.Exec(schema) > %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("db.Exec(user_version) > %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SeedWord inserts a word at the given rank if it is not already present.
// Existing rows keep their progress counters untouched.
func (s *Store) SeedWord(ctx context.Context, rank int, word, translation string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO words (rank, word, translation) VALUES (?, ?, ?)",
		rank, word, translation)
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("seed word %q", word), Cause: err}
	}
	return nil
}

// WordCount returns the number of words in the list.
func (s *Store) WordCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM words"); err != nil {
		return 0, fmt.Errorf("db.GetContext(word count) > %w", err)
	}
	return n, nil
}
