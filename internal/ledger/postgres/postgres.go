// Package postgres implements the run ledger on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/filingstream/internal/ledger"
	"github.com/quantfold/filingstream/internal/pipeline"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the ledger uses; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Ledger records runs and partitions and serves the ops API reads. It
// implements pipeline.Ledger and ledger.Reader.
type Ledger struct {
	pool pool
}

// New connects a pgx pool from the config and returns the ledger.
func New(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse ledger dsn: %w", err)
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
		return nil, fmt.Errorf("connect ledger: %w", err)
	}
	return &Ledger{pool: p}, nil
}

// NewWithPool constructs a ledger from an existing pool (primarily for
// tests).
func NewWithPool(p pool) (*Ledger, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Ledger{pool: p}, nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

const upsertRunSQL = `
INSERT INTO runs (
	run_id, state, processed, succeeded, failed,
	transient_failures, permanent_failures, skipped, malformed,
	partitions_written, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (run_id) DO UPDATE SET
	state = EXCLUDED.state,
	processed = EXCLUDED.processed,
	succeeded = EXCLUDED.succeeded,
	failed = EXCLUDED.failed,
	transient_failures = EXCLUDED.transient_failures,
	permanent_failures = EXCLUDED.permanent_failures,
	skipped = EXCLUDED.skipped,
	malformed = EXCLUDED.malformed,
	partitions_written = EXCLUDED.partitions_written,
	finished_at = EXCLUDED.finished_at`

// RecordRun upserts the run row keyed on run_id so the start insert and the
// terminal update share one statement.
func (l *Ledger) RecordRun(ctx context.Context, summary pipeline.Summary) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("ledger is not configured")
	}
	if summary.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	var finished *time.Time
	if !summary.Finished.IsZero() {
		finished = &summary.Finished
	}
	if _, err := l.pool.Exec(ctx, upsertRunSQL,
		summary.RunID,
		string(summary.State),
		summary.Processed,
		summary.Succeeded,
		summary.Failed,
		summary.TransientFailures,
		summary.PermanentFailures,
		summary.Skipped,
		summary.Malformed,
		summary.PartitionsWritten,
		summary.Started,
		finished,
	); err != nil {
		return fmt.Errorf("upsert run %s: %w", summary.RunID, err)
	}
	return nil
}

const insertPartitionSQL = `
INSERT INTO run_partitions (run_id, seq, uri, records, bytes, skipped_write, sealed_at)
VALUES ($1,$2,$3,$4,$5,$6,now())
ON CONFLICT (run_id, seq) DO NOTHING`

// RecordPartition inserts one sealed-partition row. Replays of the same
// (run, seq) pair are ignored.
func (l *Ledger) RecordPartition(ctx context.Context, runID string, flush pipeline.PartitionFlush) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("ledger is not configured")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if _, err := l.pool.Exec(ctx, insertPartitionSQL,
		runID,
		flush.Seq,
		flush.URI,
		flush.Records,
		flush.Bytes,
		flush.Skipped,
	); err != nil {
		return fmt.Errorf("insert partition %d for run %s: %w", flush.Seq, runID, err)
	}
	return nil
}

const runColumns = `run_id, state, processed, succeeded, failed,
	transient_failures, permanent_failures, skipped, malformed,
	partitions_written, started_at, finished_at`

// GetRun loads a single run row by id.
func (l *Ledger) GetRun(ctx context.Context, runID string) (ledger.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE run_id = $1`
	run, err := scanRun(l.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Run{}, ledger.ErrNotFound
		}
		return ledger.Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by state.
func (l *Ledger) ListRuns(ctx context.Context, state *string, limit, offset int) ([]ledger.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE ($1::text IS NULL OR state = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := l.pool.Query(ctx, query, state, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []ledger.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ListRunPartitions returns one run's partition rows in sequence order.
func (l *Ledger) ListRunPartitions(ctx context.Context, runID string, limit, offset int) ([]ledger.Partition, error) {
	query := `
		SELECT run_id, seq, uri, records, bytes, skipped_write, sealed_at
		FROM run_partitions
		WHERE run_id = $1
		ORDER BY seq ASC
		LIMIT $2 OFFSET $3`
	rows, err := l.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list partitions for run %s: %w", runID, err)
	}
	defer rows.Close()

	var parts []ledger.Partition
	for rows.Next() {
		var part ledger.Partition
		if err := rows.Scan(
			&part.RunID,
			&part.Seq,
			&part.URI,
			&part.Records,
			&part.Bytes,
			&part.SkippedWrite,
			&part.SealedAt,
		); err != nil {
			return nil, fmt.Errorf("scan partition row: %w", err)
		}
		parts = append(parts, part)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list partitions for run %s: %w", runID, err)
	}
	return parts, nil
}

func scanRun(row pgx.Row) (ledger.Run, error) {
	var run ledger.Run
	if err := row.Scan(
		&run.RunID,
		&run.State,
		&run.Processed,
		&run.Succeeded,
		&run.Failed,
		&run.TransientFailures,
		&run.PermanentFailures,
		&run.Skipped,
		&run.Malformed,
		&run.PartitionsWritten,
		&run.StartedAt,
		&run.FinishedAt,
	); err != nil {
		return ledger.Run{}, err
	}
	return run, nil
}

var (
	_ pipeline.Ledger = (*Ledger)(nil)
	_ ledger.Reader   = (*Ledger)(nil)
)
