// Package history keeps an audit log of merges in SQLite so resource
// conflicts stay countable after the request that produced them is gone.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/docmerge/core/sqlite"
	"github.com/FocuswithJustin/docmerge/internal/logging"
)

// Merge outcomes.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS merges (
	id             TEXT PRIMARY KEY,
	created_at     TEXT NOT NULL,
	documents      TEXT NOT NULL,
	document_count INTEGER NOT NULL,
	conflicts      INTEGER NOT NULL DEFAULT 0,
	policy         TEXT NOT NULL,
	output_bytes   INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS merges_created_at ON merges (created_at);
`

// timeLayout is fixed-width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one recorded merge.
type Entry struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Documents   []string  `json:"documents"`
	Conflicts   int       `json:"conflicts"`
	Policy      string    `json:"policy"`
	OutputBytes int64     `json:"output_bytes"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// Store persists entries.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sqlite.OpenFile(path)
	if err != nil {
		return nil, err
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	logging.Debug("merge history opened", "path", path, "driver", sqlite.GetInfo().Package)
	return s, nil
}

// New uses an open database, creating the schema if needed.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("history: create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores e, assigning its ID and CreatedAt when unset.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if e.Status == "" {
		e.Status = StatusOK
	}
	if e.Documents == nil {
		e.Documents = []string{}
	}

	docs, err := json.Marshal(e.Documents)
	if err != nil {
		return Entry{}, fmt.Errorf("history: encode documents: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO merges (id, created_at, documents, document_count, conflicts, policy, output_bytes, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt.Format(timeLayout), string(docs), len(e.Documents),
		e.Conflicts, e.Policy, e.OutputBytes, e.Status, e.Error)
	if err != nil {
		return Entry{}, fmt.Errorf("history: record merge: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, documents, conflicts, policy, output_bytes, status, error
		 FROM merges ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			created string
			docs    string
		)
		if err := rows.Scan(&e.ID, &created, &docs, &e.Conflicts, &e.Policy, &e.OutputBytes, &e.Status, &e.Error); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		if e.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("history: entry %s: bad timestamp %q: %w", e.ID, created, err)
		}
		if err := json.Unmarshal([]byte(docs), &e.Documents); err != nil {
			return nil, fmt.Errorf("history: entry %s: bad documents: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ConflictTotal sums the resource conflicts of all successful merges.
func (s *Store) ConflictTotal(ctx context.Context) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(conflicts), 0) FROM merges WHERE status = ?`, StatusOK).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("history: conflict total: %w", err)
	}
	return total, nil
}
