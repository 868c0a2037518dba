// Package partition buffers extracted filing records and seals them into
// numbered, immutable parquet objects. A partition is flushed exactly when
// the buffer reaches the configured size, never earlier; the remainder is
// sealed once at end of stream.
package partition

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/metrics"
	"github.com/quantfold/filingstream/internal/pipeline"
	"github.com/quantfold/filingstream/internal/storage"
	"github.com/quantfold/filingstream/internal/tabular"
)

// PartName renders the object key for a partition sequence number.
func PartName(seq int) string {
	return fmt.Sprintf("part-%06d.parquet", seq)
}

// Options configure the writer.
type Options struct {
	// FlushEvery is the partition size; the buffer flushes exactly when it
	// reaches this count.
	FlushEvery int
	// SkipExisting drops the buffer instead of overwriting when the target
	// object already exists, so reruns never clobber sealed partitions.
	SkipExisting bool
	// LastSeq is the last partition sequence a previous run sealed, -1 for
	// a fresh output prefix. The writer continues at LastSeq+1.
	LastSeq int
	Logger  *zap.Logger
}

// Writer implements pipeline.PartitionWriter over a storage.Store rooted at
// the output prefix.
type Writer struct {
	store      storage.Store
	flushEvery int
	skip       bool
	logger     *zap.Logger

	nextSeq int
	buf     []pipeline.ExtractedRecord
}

// NewWriter builds a Writer that numbers partitions from opts.LastSeq+1.
func NewWriter(store storage.Store, opts Options) *Writer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 200
	}
	return &Writer{
		store:      store,
		flushEvery: flushEvery,
		skip:       opts.SkipExisting,
		logger:     logger,
		nextSeq:    opts.LastSeq + 1,
		buf:        make([]pipeline.ExtractedRecord, 0, flushEvery),
	}
}

// StartAt repositions partition numbering to begin at seq. Call it after
// loading a checkpoint and before the first Append.
func (w *Writer) StartAt(seq int) {
	if seq < 0 {
		seq = 0
	}
	w.nextSeq = seq
}

// Append adds one record to the open buffer.
func (w *Writer) Append(rec pipeline.ExtractedRecord) {
	w.buf = append(w.buf, rec)
	metrics.SetBufferedRecords(len(w.buf))
}

// Buffered reports the number of records not yet sealed.
func (w *Writer) Buffered() int {
	return len(w.buf)
}

// NextSeq reports the sequence number the next flush will use.
func (w *Writer) NextSeq() int {
	return w.nextSeq
}

// FlushIfDue seals the buffer when it has reached the partition size.
// Returns nil when the buffer is still filling.
func (w *Writer) FlushIfDue(ctx context.Context) (*pipeline.PartitionFlush, error) {
	if len(w.buf) < w.flushEvery {
		return nil, nil
	}
	return w.flush(ctx)
}

// FlushFinal seals whatever remains in the buffer. Returns nil when the
// buffer is empty.
func (w *Writer) FlushFinal(ctx context.Context) (*pipeline.PartitionFlush, error) {
	if len(w.buf) == 0 {
		return nil, nil
	}
	return w.flush(ctx)
}

func (w *Writer) flush(ctx context.Context) (*pipeline.PartitionFlush, error) {
	seq := w.nextSeq
	key := PartName(seq)

	ids := make([]string, len(w.buf))
	for i, rec := range w.buf {
		ids[i] = rec.AccessionID
	}

	if w.skip {
		exists, err := w.store.Exists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("check partition %s: %w", key, err)
		}
		if exists {
			w.logger.Info("partition already exists, skipping write",
				zap.Int("seq", seq),
				zap.String("uri", w.store.URI(key)),
				zap.Int("records_dropped", len(w.buf)))
			flush := &pipeline.PartitionFlush{
				Seq:     seq,
				Path:    key,
				URI:     w.store.URI(key),
				Records: len(w.buf),
				IDs:     ids,
				Skipped: true,
			}
			w.reset()
			return flush, nil
		}
	}

	var encoded bytes.Buffer
	if err := tabular.WriteParquet(&encoded, w.buf); err != nil {
		return nil, fmt.Errorf("encode partition %s: %w", key, err)
	}
	if err := w.store.WriteBytes(ctx, key, encoded.Bytes()); err != nil {
		return nil, fmt.Errorf("write partition %s: %w", key, err)
	}

	flush := &pipeline.PartitionFlush{
		Seq:     seq,
		Path:    key,
		URI:     w.store.URI(key),
		Records: len(w.buf),
		Bytes:   encoded.Len(),
		IDs:     ids,
	}
	metrics.ObservePartitionFlush(flush.Records)
	w.logger.Info("flushed partition",
		zap.Int("seq", flush.Seq),
		zap.Int("records", flush.Records),
		zap.Int("bytes", flush.Bytes),
		zap.String("uri", flush.URI))
	w.reset()
	return flush, nil
}

func (w *Writer) reset() {
	w.nextSeq++
	w.buf = w.buf[:0]
	metrics.SetBufferedRecords(0)
}

var _ pipeline.PartitionWriter = (*Writer)(nil)
