// Package sqlite persists crawl runs and their outcomes in a local SQLite
// file. It serves single-node deployments that want runs to survive a
// restart without running Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/layered-crawler/internal/crawler"
)

const (
	outcomeDownloaded = "downloaded"
	outcomeFailed     = "failed"

	timeLayout = time.RFC3339Nano
)

const schema = `
CREATE TABLE IF NOT EXISTS crawl_runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	seed TEXT NOT NULL,
	depth INTEGER NOT NULL,
	excludes TEXT NOT NULL DEFAULT '[]',
	submitted_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	error_text TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS crawl_outcomes (
	run_id TEXT NOT NULL REFERENCES crawl_runs(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	url TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error_text TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_crawl_runs_status ON crawl_runs(status);
`

// Store implements crawler.RunStore and crawler.ResultRecorder on SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database file at path, creating its directory
// when needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path reports the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Ping checks the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// CreateRun inserts a run row.
func (s *Store) CreateRun(ctx context.Context, run crawler.Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	excludes := run.Parameters.Excludes
	if excludes == nil {
		excludes = []string{}
	}
	encoded, err := json.Marshal(excludes)
	if err != nil {
		return fmt.Errorf("marshal excludes: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO crawl_runs (id, status, seed, depth, excludes, submitted_at, started_at, finished_at, error_text)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		run.ID,
		string(run.Status),
		run.Parameters.Seed,
		run.Parameters.Depth,
		string(encoded),
		run.Submitted.UTC().Format(timeLayout),
		formatTime(run.Started),
		formatTime(run.Finished),
		run.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("create run %s: %w", run.ID, crawler.ErrRunExists)
	}
	return nil
}

// UpdateRun writes the run's status, timestamps and error text.
func (s *Store) UpdateRun(ctx context.Context, run crawler.Run) error {
	return updateRun(ctx, s.db, run)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateRun(ctx context.Context, db execer, run crawler.Run) error {
	res, err := db.ExecContext(ctx, `
UPDATE crawl_runs
SET status = ?, started_at = ?, finished_at = ?, error_text = ?
WHERE id = ?`,
		string(run.Status),
		formatTime(run.Started),
		formatTime(run.Finished),
		run.ErrorText,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, crawler.ErrRunNotFound)
	}
	return nil
}

// RecordRun updates the run row and replaces its outcome rows in one
// transaction.
func (s *Store) RecordRun(ctx context.Context, run crawler.Run) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record run: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err := updateRun(ctx, tx, run); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM crawl_outcomes WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clear outcomes: %w", err)
	}
	if run.Result != nil {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO crawl_outcomes (run_id, position, url, outcome, error_text)
VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare outcome insert: %w", err)
		}
		defer stmt.Close()
		for position, o := range run.Result.Outcomes() {
			outcome := outcomeDownloaded
			if o.Failed {
				outcome = outcomeFailed
			}
			if _, err := stmt.ExecContext(ctx, run.ID, position, o.ID, outcome, o.Reason); err != nil {
				return fmt.Errorf("insert outcome %s: %w", o.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record run: %w", err)
	}
	return nil
}

// GetRun loads a run and, when outcomes were recorded, its Result.
func (s *Store) GetRun(ctx context.Context, runID string) (crawler.Run, error) {
	var (
		run               crawler.Run
		status, excludes  string
		submitted         string
		started, finished sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, status, seed, depth, excludes, submitted_at, started_at, finished_at, error_text
FROM crawl_runs
WHERE id = ?`, runID).Scan(
		&run.ID,
		&status,
		&run.Parameters.Seed,
		&run.Parameters.Depth,
		&excludes,
		&submitted,
		&started,
		&finished,
		&run.ErrorText,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return crawler.Run{}, fmt.Errorf("get run %s: %w", runID, crawler.ErrRunNotFound)
		}
		return crawler.Run{}, fmt.Errorf("get run: %w", err)
	}
	run.Status = crawler.RunStatus(status)
	if err := json.Unmarshal([]byte(excludes), &run.Parameters.Excludes); err != nil {
		return crawler.Run{}, fmt.Errorf("decode excludes: %w", err)
	}
	if len(run.Parameters.Excludes) == 0 {
		run.Parameters.Excludes = nil
	}
	if run.Submitted, err = time.Parse(timeLayout, submitted); err != nil {
		return crawler.Run{}, fmt.Errorf("parse submitted_at: %w", err)
	}
	if run.Started, err = parseTime(started); err != nil {
		return crawler.Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if run.Finished, err = parseTime(finished); err != nil {
		return crawler.Run{}, fmt.Errorf("parse finished_at: %w", err)
	}

	result, err := s.loadResult(ctx, runID)
	if err != nil {
		return crawler.Run{}, err
	}
	run.Result = result
	return run, nil
}

func (s *Store) loadResult(ctx context.Context, runID string) (*crawler.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT url, outcome, error_text
FROM crawl_outcomes
WHERE run_id = ?
ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var (
		result crawler.Result
		found  bool
	)
	for rows.Next() {
		var url, outcome, msg string
		if err := rows.Scan(&url, &outcome, &msg); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		found = true
		if outcome == outcomeDownloaded {
			result.Downloaded = append(result.Downloaded, url)
			continue
		}
		if result.Errors == nil {
			result.Errors = make(map[string]error)
		}
		result.Errors[url] = errors.New(msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	if !found {
		return nil, nil
	}
	if result.Errors == nil {
		result.Errors = map[string]error{}
	}
	return &result, nil
}

func formatTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
