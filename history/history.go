// Package history keeps an audit log of executed scripts in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one executed request.
type Entry struct {
	ID       int64
	Time     time.Time
	Script   string
	Result   string
	Code     int
	Message  string
	Duration time.Duration
}

// OK reports whether the request produced a result.
func (e Entry) OK() bool { return e.Message == "" }

// Recorder accepts finished requests.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Store is a SQLite-backed history.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `CREATE TABLE IF NOT EXISTS requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at INTEGER NOT NULL,
	script TEXT NOT NULL,
	result TEXT NOT NULL,
	code INTEGER NOT NULL,
	message TEXT NOT NULL,
	duration_ns INTEGER NOT NULL
)`

// Open opens or creates the database at path. ":memory:" keeps it in memory.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection, so an in-memory database is shared by every query.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements Recorder.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO requests (at, script, result, code, message, duration_ns) VALUES (?, ?, ?, ?, ?, ?)",
		e.Time.UnixNano(), e.Script, e.Result, e.Code, e.Message, int64(e.Duration))
	if err != nil {
		return fmt.Errorf("recording request: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, at, script, result, code, message, duration_ns FROM requests ORDER BY id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at, dur int64
		if err := rows.Scan(&e.ID, &at, &e.Script, &e.Result, &e.Code, &e.Message, &dur); err != nil {
			return nil, fmt.Errorf("reading history: %w", err)
		}
		e.Time = time.Unix(0, at)
		e.Duration = time.Duration(dur)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of recorded requests.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM requests").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting history: %w", err)
	}
	return n, nil
}
