package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/i474232898/weather-time-animator/internal/capabilities"
	"github.com/i474232898/weather-time-animator/internal/timeline"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the capabilities cache so that a restarted process
// can serve the last known extents before its first refresh completes.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS capabilities (
		url        TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		extent_lo  INTEGER,
		extent_hi  INTEGER,
		document   TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_capabilities_updated ON capabilities(updated_at);
	`)
	return err
}

// isTransient reports SQLite lock contention that a retry can resolve.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{"SQLITE_BUSY", "SQLITE_LOCKED", "database is locked", "database table is locked"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func retryOnContention(fn func() error) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 50 * time.Millisecond
	expo.MaxInterval = 500 * time.Millisecond
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(expo, 3))
}

func nullable(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

// Put stores or replaces the entry for e.URL.
func (s *SQLiteStore) Put(e capabilities.Entry) error {
	var doc []byte
	if e.Document != nil {
		var err error
		if doc, err = json.Marshal(e.Document); err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
	}
	var lo, hi *int64
	if e.TimeExtentStart != nil {
		v := int64(*e.TimeExtentStart)
		lo = &v
	}
	if e.TimeExtentEnd != nil {
		v := int64(*e.TimeExtentEnd)
		hi = &v
	}
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO capabilities (url, kind, updated_at, extent_lo, extent_hi, document)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(url) DO UPDATE SET
			   kind = excluded.kind,
			   updated_at = excluded.updated_at,
			   extent_lo = excluded.extent_lo,
			   extent_hi = excluded.extent_hi,
			   document = excluded.document`,
			e.URL, e.Kind, e.UpdatedAt, nullable(lo), nullable(hi), string(doc),
		)
		return err
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (capabilities.Entry, error) {
	var (
		e      capabilities.Entry
		lo, hi sql.NullInt64
		doc    sql.NullString
	)
	if err := row.Scan(&e.URL, &e.Kind, &e.UpdatedAt, &lo, &hi, &doc); err != nil {
		return capabilities.Entry{}, err
	}
	if lo.Valid {
		v := timeline.TimePoint(lo.Int64)
		e.TimeExtentStart = &v
	}
	if hi.Valid {
		v := timeline.TimePoint(hi.Int64)
		e.TimeExtentEnd = &v
	}
	if doc.Valid && doc.String != "" {
		e.Document = &capabilities.Document{}
		if err := json.Unmarshal([]byte(doc.String), e.Document); err != nil {
			return capabilities.Entry{}, fmt.Errorf("decode document %s: %w", e.URL, err)
		}
	}
	return e, nil
}

// Get returns the entry for url.
func (s *SQLiteStore) Get(url string) (capabilities.Entry, error) {
	row := s.db.QueryRow(
		`SELECT url, kind, updated_at, extent_lo, extent_hi, document FROM capabilities WHERE url = ?`, url,
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return capabilities.Entry{}, capabilities.ErrNotFound
	}
	return e, err
}

// Purge drops every entry not stamped by the given pass.
func (s *SQLiteStore) Purge(stamp int64) (int, error) {
	var n int64
	err := retryOnContention(func() error {
		res, err := s.db.Exec(`DELETE FROM capabilities WHERE updated_at != ?`, stamp)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// List returns every entry ordered by URL.
func (s *SQLiteStore) List() ([]capabilities.Entry, error) {
	rows, err := s.db.Query(
		`SELECT url, kind, updated_at, extent_lo, extent_hi, document FROM capabilities ORDER BY url`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []capabilities.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
