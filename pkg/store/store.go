// Package store persists orchestration attempts in a SQLite database so
// that the history of a test case can be queried across runs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/ormasoftchile/tcrun/pkg/kernel/orchestrator"
	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
)

// DefaultPath is the history database used when none is configured.
const DefaultPath = ".tcrun/history.db"

// Fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one persisted attempt.
type Record struct {
	ID         string
	RunID      string
	TestCaseID string
	Attempt    int
	Verdict    verify.Verdict
	StartedAt  time.Time
	Duration   time.Duration
	ErrKind    orchestrator.ErrorKind
	Error      string
	LogPath    string
}

// RunSummary aggregates the attempts of one run.
type RunSummary struct {
	RunID     string
	StartedAt time.Time
	TestCases int
	Attempts  int
	Passed    int // final attempts with verdict pass
}

// Store is a SQLite-backed attempt history. It implements
// orchestrator.Recorder and is safe for concurrent use.
type Store struct {
	db *sql.DB
}

var _ orchestrator.Recorder = (*Store)(nil)

// Open opens or creates the database at path, creating parent directories.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; workers share the handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			test_case TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			verdict TEXT NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			log_path TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS attempts_test_case ON attempts (test_case, started_at);
		CREATE INDEX IF NOT EXISTS attempts_run ON attempts (run_id);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAttempt inserts one attempt under a new ULID.
func (s *Store) SaveAttempt(ctx context.Context, a orchestrator.Attempt) error {
	started := a.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, run_id, test_case, attempt, verdict, started_at, duration_ms, error_kind, error, log_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ulid.Make().String(),
		a.RunID,
		a.TestCaseID,
		a.Number,
		string(a.Verdict),
		started.UTC().Format(timeLayout),
		a.Duration.Milliseconds(),
		string(a.ErrKind),
		a.Error,
		a.LogPath,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// History returns the most recent attempts of a test case, newest first.
// A limit of zero or less returns every attempt.
func (s *Store) History(ctx context.Context, testCaseID string, limit int) ([]Record, error) {
	q := `SELECT id, run_id, test_case, attempt, verdict, started_at, duration_ms, error_kind, error, log_path
		FROM attempts WHERE test_case = ? ORDER BY started_at DESC, attempt DESC`
	args := []any{testCaseID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			verdict string
			kind    string
			started string
			ms      int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.TestCaseID, &r.Attempt, &verdict, &started, &ms, &kind, &r.Error, &r.LogPath); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		r.Verdict = verify.Verdict(verdict)
		r.ErrKind = orchestrator.ErrorKind(kind)
		r.Duration = time.Duration(ms) * time.Millisecond
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", started, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Runs lists recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	q := `SELECT a.run_id, MIN(a.started_at), COUNT(DISTINCT a.test_case), COUNT(*),
			(SELECT COUNT(*) FROM attempts f
			 WHERE f.run_id = a.run_id AND f.verdict = 'pass'
			   AND f.attempt = (SELECT MAX(g.attempt) FROM attempts g WHERE g.run_id = f.run_id AND g.test_case = f.test_case))
		FROM attempts a GROUP BY a.run_id ORDER BY MIN(a.started_at) DESC`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r       RunSummary
			started string
		)
		if err := rows.Scan(&r.RunID, &started, &r.TestCases, &r.Attempts, &r.Passed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", started, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
