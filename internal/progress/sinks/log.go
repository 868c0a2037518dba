package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/progress"
)

// LogSink emits structured logs for auditing a run's event stream. It is
// useful during development or when no event topic is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Error stages
// log at Warn so they stand out without aborting anything.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Accession != "" {
			fields = append(fields, zap.String("accession", evt.Accession))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.StatusCode != 0 {
			fields = append(fields, zap.Int("status_code", evt.StatusCode))
		}
		if evt.FailureKind != "" {
			fields = append(fields, zap.String("failure_kind", evt.FailureKind))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Stage == progress.StagePartitionSeal {
			fields = append(fields,
				zap.Int("partition_seq", evt.Seq),
				zap.Int("records", evt.Records),
				zap.Bool("skipped_write", evt.SkippedWrite))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}

		switch evt.Stage {
		case progress.StageFilingError, progress.StageRunError:
			s.logger.Warn("progress event", fields...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
