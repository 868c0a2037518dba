package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/filingstream/internal/progress"
)

// TestPrometheusSinkTracksRunLifecycle ensures the run counters and gauge
// follow start and terminal events.
func TestPrometheusSinkTracksRunLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	start := time.Now().UTC()
	batch := []progress.Event{
		{RunID: "run-a", TS: start, Stage: progress.StageRunStart},
		{RunID: "run-b", TS: start, Stage: progress.StageRunStart},
		{RunID: "run-a", TS: start.Add(15 * time.Second), Stage: progress.StageRunDone, DurMS: 15_000},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "filingstream_run_duration_seconds"))
}

// TestPrometheusSinkErrorResult ensures aborted runs land in the error bucket
// and release the running gauge.
func TestPrometheusSinkErrorResult(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []progress.Event{
		{RunID: "run-x", TS: now, Stage: progress.StageRunStart},
		{RunID: "run-x", TS: now.Add(time.Second), Stage: progress.StageRunError, DurMS: 1_000, Note: "record source unavailable"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
}

// TestPrometheusSinkIgnoresDuplicateTerminals guards the running gauge
// against replayed events.
func TestPrometheusSinkIgnoresDuplicateTerminals(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []progress.Event{
		{RunID: "run-dup", TS: now, Stage: progress.StageRunStart},
		{RunID: "run-dup", TS: now, Stage: progress.StageRunDone},
		{RunID: "run-dup", TS: now, Stage: progress.StageRunDone},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
}
