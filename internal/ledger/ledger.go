// Package ledger declares the operational catalog of pipeline runs and the
// partitions they sealed. The catalog is advisory: it serves the ops API and
// dashboards, while the checkpoint document remains the durable resume
// state.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested row does not exist.
var ErrNotFound = errors.New("ledger row not found")

// Run models one row of the runs table.
type Run struct {
	// RunID is the primary key, minted at run start.
	RunID string
	// State is the final (or last reported) controller state.
	State string
	// Counters mirror the run summary.
	Processed         int
	Succeeded         int
	Failed            int
	TransientFailures int
	PermanentFailures int
	Skipped           int
	Malformed         int
	PartitionsWritten int
	StartedAt         time.Time
	// FinishedAt is nil while the run is still streaming.
	FinishedAt *time.Time
}

// Partition models one row of the run_partitions table.
type Partition struct {
	RunID   string
	Seq     int
	URI     string
	Records int
	// Bytes is zero when the seal was skipped under skip-if-exists.
	Bytes        int
	SkippedWrite bool
	SealedAt     time.Time
}

// Reader serves the ops API. Implementations return ErrNotFound for missing
// rows.
type Reader interface {
	// GetRun loads a single run row.
	GetRun(ctx context.Context, runID string) (Run, error)
	// ListRuns returns runs filtered by optional state, newest first.
	ListRuns(ctx context.Context, state *string, limit, offset int) ([]Run, error)
	// ListRunPartitions returns the partitions one run sealed, in sequence
	// order.
	ListRunPartitions(ctx context.Context, runID string, limit, offset int) ([]Partition, error)
}
