// Package outbox keeps finalized submissions the exam CLI could not deliver.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stemsi/exstem-engine/internal/engine"

	_ "modernc.org/sqlite" // SQLite driver.
)

// ErrNotFound is returned when no entry has the requested digest.
var ErrNotFound = errors.New("outbox entry not found")

// Entry is one undelivered submission. Digest is the idempotency key the
// server deduplicates on, so re-sending an entry is always safe.
type Entry struct {
	Digest      string
	TestID      string
	Reason      engine.SubmitReason
	Body        []byte
	SubmittedAt time.Time
	Attempts    int
	LastError   string
	UpdatedAt   time.Time
}

// Store wraps the SQLite outbox.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the outbox database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create outbox directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" a single database
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate outbox: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pending_submissions (
			digest TEXT PRIMARY KEY,
			test_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			body BLOB NOT NULL,
			submitted_at TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pending_submissions_test ON pending_submissions(test_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Put stores sub after a failed delivery. Storing the same digest again
// only bumps the attempt counter and error.
func (s *Store) Put(ctx context.Context, sub *engine.Submission, deliveryErr error) error {
	msg := ""
	if deliveryErr != nil {
		msg = deliveryErr.Error()
	}
	now := s.now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_submissions (digest, test_id, reason, body, submitted_at, attempts, last_error, updated_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(digest) DO UPDATE SET
			attempts = attempts + 1,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		sub.Digest,
		sub.TestID,
		string(sub.Reason),
		[]byte(sub.Body),
		sub.SubmittedAt.UTC().Format(time.RFC3339Nano),
		msg,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to store submission %s: %w", sub.Digest, err)
	}
	return nil
}

// RecordFailure bumps the attempt counter of an existing entry.
func (s *Store) RecordFailure(ctx context.Context, digest string, deliveryErr error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_submissions SET attempts = attempts + 1, last_error = ?, updated_at = ? WHERE digest = ?`,
		deliveryErr.Error(), s.now().UTC().Format(time.RFC3339Nano), digest,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a delivered entry.
func (s *Store) Delete(ctx context.Context, digest string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_submissions WHERE digest = ?`, digest)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns pending entries, oldest submission first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT digest, test_id, reason, body, submitted_at, attempts, last_error, updated_at
		 FROM pending_submissions ORDER BY submitted_at, digest`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                    Entry
			reason               string
			submitted, updatedAt string
		)
		if err := rows.Scan(&e.Digest, &e.TestID, &reason, &e.Body, &submitted, &e.Attempts, &e.LastError, &updatedAt); err != nil {
			return nil, err
		}
		e.Reason = engine.SubmitReason(reason)
		if e.SubmittedAt, err = time.Parse(time.RFC3339Nano, submitted); err != nil {
			return nil, fmt.Errorf("bad submitted_at for %s: %w", e.Digest, err)
		}
		if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("bad updated_at for %s: %w", e.Digest, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Deliverer re-sends a stored body.
type Deliverer interface {
	Deliver(ctx context.Context, testID, digest string, reason engine.SubmitReason, body []byte) error
}

// FlushResult summarizes one Flush pass.
type FlushResult struct {
	Delivered int
	Failed    int
}

// Flush re-sends every pending entry, deleting the ones that succeed. A
// failure is recorded and does not stop the pass.
func (s *Store) Flush(ctx context.Context, d Deliverer) (FlushResult, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return FlushResult{}, err
	}

	var res FlushResult
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if derr := d.Deliver(ctx, e.TestID, e.Digest, e.Reason, e.Body); derr != nil {
			res.Failed++
			if err := s.RecordFailure(ctx, e.Digest, derr); err != nil {
				return res, err
			}
			continue
		}
		if err := s.Delete(ctx, e.Digest); err != nil && !errors.Is(err, ErrNotFound) {
			return res, err
		}
		res.Delivered++
	}
	return res, nil
}

// Fallback wraps next so a failed delivery is kept in the outbox and a
// later successful one clears it. The delivery error is still returned.
func (s *Store) Fallback(next engine.Submitter) engine.Submitter {
	return engine.SubmitterFunc(func(ctx context.Context, sub *engine.Submission) error {
		err := next.Submit(ctx, sub)
		// the submit context may already be expired
		storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err != nil {
			if perr := s.Put(storeCtx, sub, err); perr != nil {
				return errors.Join(err, perr)
			}
			return err
		}
		if derr := s.Delete(storeCtx, sub.Digest); derr != nil && !errors.Is(derr, ErrNotFound) {
			return derr
		}
		return nil
	})
}
