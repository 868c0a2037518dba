package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/metrics"
	"github.com/quantfold/filingstream/internal/progress"
)

const defaultProgressEvery = 500

// RunConfig bounds a run. Zero values mean unlimited.
type RunConfig struct {
	// MaxRecords stops streaming after this many references were processed,
	// counting skips and failures.
	MaxRecords int
	// MaxPartitions stops streaming after this many flush events, counting
	// skipped seals. The drain still seals whatever remains buffered.
	MaxPartitions int
	// ProgressEvery sets the heartbeat cadence in processed records.
	ProgressEvery int
}

// Deps carries the collaborators a Runner drives. Source, Fetcher,
// Extractor, Writer, Checkpoint, IDs and Hasher are required; Clock, Ledger,
// Progress and Logger default to no-ops.
type Deps struct {
	Source     Source
	Fetcher    Fetcher
	Extractor  Extractor
	Writer     PartitionWriter
	Checkpoint CheckpointStore
	Ledger     Ledger
	IDs        IDGenerator
	Clock      Clock
	Hasher     Hasher
	Progress   progress.Emitter
	Logger     *zap.Logger
}

// Runner executes the fetch-extract-partition-checkpoint loop. The pipeline
// is single-threaded; only Snapshot may be called concurrently with Run. A
// Runner executes one run; build a new one for the next.
type Runner struct {
	cfg  RunConfig
	deps Deps

	logger   *zap.Logger
	clock    Clock
	ledger   Ledger
	progress progress.Emitter

	mu      sync.Mutex
	summary Summary
}

// NewRunner validates the dependency set and returns a Runner in the Idle
// state.
func NewRunner(cfg RunConfig, deps Deps) (*Runner, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("runner: source is required")
	case deps.Fetcher == nil:
		return nil, errors.New("runner: fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("runner: extractor is required")
	case deps.Writer == nil:
		return nil, errors.New("runner: partition writer is required")
	case deps.Checkpoint == nil:
		return nil, errors.New("runner: checkpoint store is required")
	case deps.IDs == nil:
		return nil, errors.New("runner: id generator is required")
	case deps.Hasher == nil:
		return nil, errors.New("runner: hasher is required")
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deps.Ledger == nil {
		deps.Ledger = noopLedger{}
	}
	if deps.Progress == nil {
		deps.Progress = noopEmitter{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	return &Runner{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		clock:    deps.Clock,
		ledger:   deps.Ledger,
		progress: deps.Progress,
		summary:  Summary{State: StateIdle},
	}, nil
}

// Snapshot returns a copy of the live run accounting.
func (r *Runner) Snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

// Run drives the pipeline until the source is exhausted, a limit is reached,
// or a structural failure aborts it. The returned Summary is final; a
// non-nil error means the run aborted and the process should exit non-zero.
// Per-record fetch failures are tallied in the summary, never returned.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	runID, err := r.deps.IDs.NewID()
	if err != nil {
		return r.abort(ctx, fmt.Errorf("mint run id: %w", err))
	}
	r.setState(func(s *Summary) {
		s.RunID = runID
		s.Started = r.clock.Now()
	})

	if err := r.deps.Checkpoint.AcquireLock(ctx, runID); err != nil {
		return r.abort(ctx, fmt.Errorf("acquire checkpoint lock: %w", err))
	}
	defer r.releaseLock()

	prior, err := r.deps.Checkpoint.Load(ctx)
	if err != nil {
		return r.abort(ctx, fmt.Errorf("load checkpoint: %w", err))
	}
	r.deps.Writer.StartAt(prior.LastSeq + 1)

	r.setState(func(s *Summary) { s.State = StateStreaming })
	r.emitRun(progress.StageRunStart, "")
	r.recordRun(ctx)
	r.logger.Info("run started",
		zap.String("run_id", runID),
		zap.Int("completed_prior", len(prior.Completed)),
		zap.Int("last_partition_seq", prior.LastSeq))

	flushEvents := 0
	for {
		if r.cfg.MaxRecords > 0 && r.Snapshot().Processed >= r.cfg.MaxRecords {
			r.logger.Info("record limit reached, draining",
				zap.Int("max_records", r.cfg.MaxRecords))
			break
		}
		if r.cfg.MaxPartitions > 0 && flushEvents >= r.cfg.MaxPartitions {
			r.logger.Info("partition limit reached, draining",
				zap.Int("max_partitions", r.cfg.MaxPartitions))
			break
		}

		ref, err := r.deps.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return r.abort(ctx, fmt.Errorf("read source: %w", err))
		}
		if err := r.processFiling(ctx, prior, ref, &flushEvents); err != nil {
			return r.abort(ctx, err)
		}
	}

	r.setState(func(s *Summary) { s.State = StateDraining })
	final, err := r.deps.Writer.FlushFinal(ctx)
	if err != nil {
		return r.abort(ctx, fmt.Errorf("flush final partition: %w", err))
	}
	if final != nil {
		if err := r.commitFlush(ctx, final, &flushEvents); err != nil {
			return r.abort(ctx, err)
		}
	}
	return r.finish(ctx)
}

// processFiling handles one reference: skip, or fetch, extract and buffer.
// Only structural failures return an error; exhausted fetches are tallied.
func (r *Runner) processFiling(ctx context.Context, prior CheckpointState, ref FilingRef, flushEvents *int) error {
	r.setState(func(s *Summary) { s.Processed++ })

	if prior.IsCompleted(ref.AccessionID) {
		r.setState(func(s *Summary) { s.Skipped++ })
		metrics.ObserveFiling(metrics.OutcomeSkipped)
		r.logger.Debug("skipping completed filing", zap.String("accession", ref.AccessionID))
		r.emit(progress.Event{Stage: progress.StageFilingSkip, Accession: ref.AccessionID})
		r.maybeHeartbeat()
		return nil
	}

	started := r.clock.Now()
	res, err := r.deps.Fetcher.Fetch(ctx, ref)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			r.tallyFailure(ref, fe, started)
			r.maybeHeartbeat()
			return nil
		}
		// Anything else is structural, typically ctx cancellation.
		return fmt.Errorf("fetch %s: %w", ref.AccessionID, err)
	}

	rec, err := r.buildRecord(ref, res)
	if err != nil {
		return err
	}
	r.deps.Writer.Append(rec)
	r.setState(func(s *Summary) { s.Succeeded++ })
	metrics.ObserveFiling(metrics.OutcomeSucceeded)
	r.emit(progress.Event{
		Stage:      progress.StageFilingDone,
		Accession:  ref.AccessionID,
		URL:        res.DocumentURL,
		StatusCode: res.StatusCode,
		Bytes:      int64(len(res.Body)),
		DurMS:      r.clock.Now().Sub(started).Milliseconds(),
	})

	flush, err := r.deps.Writer.FlushIfDue(ctx)
	if err != nil {
		return fmt.Errorf("flush partition: %w", err)
	}
	if flush != nil {
		if err := r.commitFlush(ctx, flush, flushEvents); err != nil {
			return err
		}
	}
	r.maybeHeartbeat()
	return nil
}

func (r *Runner) buildRecord(ref FilingRef, res FetchResult) (ExtractedRecord, error) {
	ext := r.deps.Extractor.Extract(res.Body)
	digest, err := r.deps.Hasher.Hash(res.Body)
	if err != nil {
		return ExtractedRecord{}, fmt.Errorf("hash payload for %s: %w", ref.AccessionID, err)
	}
	return ExtractedRecord{
		AccessionID:   ref.AccessionID,
		CIK:           ref.CIK,
		CompanyName:   ref.CompanyName,
		FormType:      ref.FormType,
		DateFiled:     ref.DateFiled,
		Year:          ref.Year,
		Quarter:       ref.Quarter,
		SourcePath:    ref.SourcePath,
		DocumentURL:   res.DocumentURL,
		HTTPStatus:    int32(res.StatusCode),
		ContentSHA256: digest,
		RawBytes:      int64(ext.RawBytes),
		TextBytes:     int64(ext.TextBytes),
		LowConfidence: ext.LowConfidence,
		Text:          ext.Text,
		FetchedAt:     r.clock.Now().UnixMilli(),
	}, nil
}

func (r *Runner) tallyFailure(ref FilingRef, fe *FetchError, started time.Time) {
	r.setState(func(s *Summary) {
		s.Failed++
		if fe.Kind == FailureTransient {
			s.TransientFailures++
		} else {
			s.PermanentFailures++
		}
	})
	if fe.Kind == FailureTransient {
		metrics.ObserveFiling(metrics.OutcomeTransient)
	} else {
		metrics.ObserveFiling(metrics.OutcomePermanent)
	}
	r.logger.Warn("filing failed",
		zap.String("accession", ref.AccessionID),
		zap.String("kind", string(fe.Kind)),
		zap.Int("attempts", fe.Attempts),
		zap.Int("status", fe.StatusCode),
		zap.String("url", fe.URL),
		zap.Error(fe.Err))
	r.emit(progress.Event{
		Stage:       progress.StageFilingError,
		Accession:   ref.AccessionID,
		URL:         fe.URL,
		StatusCode:  fe.StatusCode,
		FailureKind: string(fe.Kind),
		DurMS:       r.clock.Now().Sub(started).Milliseconds(),
		Note:        fe.Error(),
	})
}

// commitFlush records completion for a sealed partition, written or skipped.
// The checkpoint update is ordered strictly after the flush; its failure
// aborts the run since resume state would otherwise drift.
func (r *Runner) commitFlush(ctx context.Context, flush *PartitionFlush, flushEvents *int) error {
	if err := r.deps.Checkpoint.RecordCompletion(ctx, flush.IDs, flush.Seq); err != nil {
		return fmt.Errorf("record completion for partition %d (%s): %w", flush.Seq, flush.URI, err)
	}
	*flushEvents++
	if !flush.Skipped {
		r.setState(func(s *Summary) { s.PartitionsWritten++ })
	}
	if err := r.ledger.RecordPartition(ctx, r.Snapshot().RunID, *flush); err != nil {
		r.logger.Warn("ledger partition insert failed",
			zap.Int("seq", flush.Seq), zap.Error(err))
	}
	r.emit(progress.Event{
		Stage:        progress.StagePartitionSeal,
		Seq:          flush.Seq,
		Records:      flush.Records,
		Bytes:        int64(flush.Bytes),
		SkippedWrite: flush.Skipped,
	})
	return nil
}

func (r *Runner) finish(ctx context.Context) (Summary, error) {
	stats := r.deps.Source.Stats()
	r.setState(func(s *Summary) {
		s.State = StateDone
		s.Malformed = stats.Malformed
		s.Finished = r.clock.Now()
	})
	r.recordRun(ctx)
	r.emitRun(progress.StageRunDone, "")
	snap := r.Snapshot()
	r.logger.Info("run completed",
		zap.String("run_id", snap.RunID),
		zap.Int("processed", snap.Processed),
		zap.Int("succeeded", snap.Succeeded),
		zap.Int("failed", snap.Failed),
		zap.Int("skipped", snap.Skipped),
		zap.Int("malformed", snap.Malformed),
		zap.Int("partitions_written", snap.PartitionsWritten))
	return snap, nil
}

func (r *Runner) abort(ctx context.Context, cause error) (Summary, error) {
	stats := r.deps.Source.Stats()
	r.setState(func(s *Summary) {
		s.State = StateAborted
		s.Malformed = stats.Malformed
		s.Finished = r.clock.Now()
	})
	r.recordRun(ctx)
	r.emitRun(progress.StageRunError, cause.Error())
	snap := r.Snapshot()
	r.logger.Error("run aborted",
		zap.String("run_id", snap.RunID),
		zap.Int("processed", snap.Processed),
		zap.Error(cause))
	return snap, cause
}

func (r *Runner) maybeHeartbeat() {
	snap := r.Snapshot()
	if snap.Processed == 0 || snap.Processed%r.cfg.ProgressEvery != 0 {
		return
	}
	r.logger.Info("run progress",
		zap.Int("processed", snap.Processed),
		zap.Int("succeeded", snap.Succeeded),
		zap.Int("failed", snap.Failed),
		zap.Int("skipped", snap.Skipped),
		zap.Int("partitions_written", snap.PartitionsWritten))
	r.emitRun(progress.StageRunHeartbeat, "")
}

// emit stamps run identity onto a filing-scoped event and forwards it.
func (r *Runner) emit(evt progress.Event) {
	evt.RunID = r.Snapshot().RunID
	evt.TS = r.clock.Now()
	r.progress.Emit(evt)
}

// emitRun forwards a run-scoped event carrying the live counters.
func (r *Runner) emitRun(stage progress.Stage, note string) {
	snap := r.Snapshot()
	evt := progress.Event{
		RunID:     snap.RunID,
		TS:        r.clock.Now(),
		Stage:     stage,
		Processed: snap.Processed,
		Succeeded: snap.Succeeded,
		Failed:    snap.Failed,
		Skipped:   snap.Skipped,
		Note:      note,
	}
	if (stage == progress.StageRunDone || stage == progress.StageRunError) && !snap.Started.IsZero() {
		evt.DurMS = r.clock.Now().Sub(snap.Started).Milliseconds()
	}
	r.progress.Emit(evt)
}

// recordRun upserts the run row. Ledger failures are logged, never fatal;
// the checkpoint document is the durable state.
func (r *Runner) recordRun(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.ledger.RecordRun(ctx, r.Snapshot()); err != nil {
		r.logger.Warn("ledger run upsert failed", zap.Error(err))
	}
}

func (r *Runner) releaseLock() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.deps.Checkpoint.ReleaseLock(ctx); err != nil {
		r.logger.Warn("release checkpoint lock failed", zap.Error(err))
	}
}

func (r *Runner) setState(mutate func(*Summary)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mutate(&r.summary)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type noopLedger struct{}

func (noopLedger) RecordRun(context.Context, Summary) error { return nil }

func (noopLedger) RecordPartition(context.Context, string, PartitionFlush) error { return nil }

type noopEmitter struct{}

func (noopEmitter) Emit(progress.Event) {}
