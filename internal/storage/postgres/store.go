// Package postgres persists crawl runs and their per-identifier outcomes.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/layered-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	runsTable           = "crawl_runs"
	defaultOutcomeTable = "crawl_outcomes"

	outcomeDownloaded = "downloaded"
	outcomeFailed     = "failed"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Store implements crawler.RunStore and crawler.ResultRecorder. Run rows
// live in crawl_runs; each downloaded or failed identifier of a finished run
// becomes one row of the outcome table.
type Store struct {
	pool  pool
	table string
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, table: table}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultOutcomeTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// CreateRun inserts a run row.
func (s *Store) CreateRun(ctx context.Context, run crawler.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	excludes, err := json.Marshal(nonNil(run.Parameters.Excludes))
	if err != nil {
		return fmt.Errorf("marshal excludes: %w", err)
	}
	query := `
INSERT INTO crawl_runs (
	id, status, seed, depth, excludes, submitted_at, started_at, finished_at, error_text
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		run.ID,
		string(run.Status),
		run.Parameters.Seed,
		run.Parameters.Depth,
		excludes,
		run.Submitted,
		run.Started,
		run.Finished,
		run.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create run %s: %w", run.ID, crawler.ErrRunExists)
	}
	return nil
}

// UpdateRun writes the run's status, timestamps and error text.
func (s *Store) UpdateRun(ctx context.Context, run crawler.Run) error {
	return updateRun(ctx, s.pool, run)
}

type execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

func updateRun(ctx context.Context, db execer, run crawler.Run) error {
	query := `
UPDATE crawl_runs
SET status = $2, started_at = $3, finished_at = $4, error_text = $5
WHERE id = $1`
	tag, err := db.Exec(ctx, query, run.ID, string(run.Status), run.Started, run.Finished, run.ErrorText)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, crawler.ErrRunNotFound)
	}
	return nil
}

// RecordRun updates the run row and replaces its outcome rows in one
// transaction.
func (s *Store) RecordRun(ctx context.Context, run crawler.Run) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record run: %w", err)
	}
	if err := s.writeOutcomes(ctx, tx, run); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record run: %w", err)
	}
	return nil
}

func (s *Store) writeOutcomes(ctx context.Context, tx pgx.Tx, run crawler.Run) error {
	if err := updateRun(ctx, tx, run); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE run_id = $1`, s.table), run.ID); err != nil {
		return fmt.Errorf("clear outcomes: %w", err)
	}
	if run.Result == nil {
		return nil
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (run_id, position, url, outcome, error_text)
VALUES ($1,$2,$3,$4,$5)`, s.table)

	for position, o := range run.Result.Outcomes() {
		outcome := outcomeDownloaded
		if o.Failed {
			outcome = outcomeFailed
		}
		if _, err := tx.Exec(ctx, insert, run.ID, position, o.ID, outcome, o.Reason); err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.ID, err)
		}
	}
	return nil
}

// GetRun loads a run and, when outcomes were recorded, its Result.
func (s *Store) GetRun(ctx context.Context, runID string) (crawler.Run, error) {
	query := `
SELECT id, status, seed, depth, excludes, submitted_at, started_at, finished_at, error_text
FROM crawl_runs
WHERE id = $1`
	var (
		run      crawler.Run
		status   string
		excludes []byte
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&status,
		&run.Parameters.Seed,
		&run.Parameters.Depth,
		&excludes,
		&run.Submitted,
		&run.Started,
		&run.Finished,
		&run.ErrorText,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Run{}, fmt.Errorf("get run %s: %w", runID, crawler.ErrRunNotFound)
		}
		return crawler.Run{}, fmt.Errorf("get run: %w", err)
	}
	run.Status = crawler.RunStatus(status)
	if len(excludes) > 0 {
		if err := json.Unmarshal(excludes, &run.Parameters.Excludes); err != nil {
			return crawler.Run{}, fmt.Errorf("decode excludes: %w", err)
		}
	}

	result, err := s.loadResult(ctx, runID)
	if err != nil {
		return crawler.Run{}, err
	}
	run.Result = result
	return run, nil
}

func (s *Store) loadResult(ctx context.Context, runID string) (*crawler.Result, error) {
	query := fmt.Sprintf(`
SELECT url, outcome, error_text
FROM %s
WHERE run_id = $1
ORDER BY position`, s.table)
	rows, err := s.pool.Query(ctx, query, runID)
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
		switch outcome {
		case outcomeDownloaded:
			result.Downloaded = append(result.Downloaded, url)
		default:
			if result.Errors == nil {
				result.Errors = make(map[string]error)
			}
			result.Errors[url] = errors.New(msg)
		}
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

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
