package pipeline

import (
	"context"
	"errors"
	"time"
)

// ErrSourceUnavailable marks a record source that cannot be opened or read
// at all, as opposed to individual malformed rows. It aborts the run.
var ErrSourceUnavailable = errors.New("record source unavailable")

// SourceStats counts what the record source has seen so far.
type SourceStats struct {
	// Yielded is the number of references handed to the caller.
	Yielded int
	// Malformed rows were skipped with a warning (missing Filename/CIK,
	// underivable accession).
	Malformed int
	// Filtered rows did not match the eligibility policy.
	Filtered int
}

// Source produces a lazy, ordered sequence of filing references. Next
// returns io.EOF at stream end and an error wrapping ErrSourceUnavailable
// when the underlying input fails mid-stream.
type Source interface {
	Next(ctx context.Context) (FilingRef, error)
	Stats() SourceStats
	Close() error
}

// Fetcher retrieves one filing document. A nil error means the returned
// FetchResult carries the payload; an exhausted attempt budget surfaces as a
// *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, ref FilingRef) (FetchResult, error)
}

// Extractor converts a raw markup payload into plain text. Total: never
// returns an error.
type Extractor interface {
	Extract(raw []byte) Extraction
}

// PartitionWriter buffers extracted records and seals them into immutable
// partitions. FlushIfDue emits exactly at the configured threshold, never
// early; FlushFinal emits the remainder once, after stream exhaustion. Both
// return nil when nothing was flushed.
type PartitionWriter interface {
	// StartAt repositions partition numbering; the runner calls it with
	// last_partition_seq+1 after loading the checkpoint.
	StartAt(seq int)
	Append(rec ExtractedRecord)
	FlushIfDue(ctx context.Context) (*PartitionFlush, error)
	FlushFinal(ctx context.Context) (*PartitionFlush, error)
	Buffered() int
}

// CheckpointStore persists the completed-identifier set. RecordCompletion is
// called strictly after the corresponding partition flush succeeded.
type CheckpointStore interface {
	Load(ctx context.Context) (CheckpointState, error)
	RecordCompletion(ctx context.Context, ids []string, seq int) error
	// AcquireLock and ReleaseLock implement the best-effort overlap guard
	// for concurrent runs against one output prefix. Implementations may
	// no-op.
	AcquireLock(ctx context.Context, runID string) error
	ReleaseLock(ctx context.Context) error
}

// Ledger records run and partition rows in an operational catalog. Failures
// are logged, never fatal: the checkpoint document, not the ledger, is the
// durable state.
type Ledger interface {
	RecordRun(ctx context.Context, summary Summary) error
	RecordPartition(ctx context.Context, runID string, flush PartitionFlush) error
}

// Clock abstracts wall-clock reads for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher digests fetched payloads for the content_sha256 output column.
type Hasher interface {
	Hash(data []byte) (string, error)
}
