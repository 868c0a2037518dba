// Package metrics exposes the Prometheus instruments for the pipeline.
// Instruments register on the default registry at package load; the ops
// server serves them via Handler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	filingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filingstream_filings_total",
			Help: "Filings processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	fetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filingstream_fetch_requests_total",
			Help: "Outbound EDGAR requests, labeled by kind and HTTP status.",
		},
		[]string{"kind", "status"},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filingstream_fetch_duration_seconds",
			Help:    "Histogram of outbound request latencies, labeled by kind.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		},
		[]string{"kind"},
	)

	fetchBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filingstream_fetch_bytes_total",
			Help: "Total bytes downloaded from EDGAR.",
		},
	)

	pacerWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filingstream_pacer_wait_seconds",
			Help:    "Histogram of time spent waiting on the request pacer.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	partitionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filingstream_partitions_total",
			Help: "Partition files flushed.",
		},
	)

	partitionRecords = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filingstream_partition_records",
			Help:    "Histogram of records per flushed partition.",
			Buckets: []float64{1, 10, 50, 100, 200, 500},
		},
	)

	bufferedRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filingstream_buffered_records",
			Help: "Records currently buffered and not yet flushed.",
		},
	)

	lowConfidenceTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filingstream_extract_low_confidence_total",
			Help: "Extractions flagged low confidence.",
		},
	)

	checkpointWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filingstream_checkpoint_writes_total",
			Help: "Checkpoint document rewrites.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of ops server requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of ops server latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Outcome labels for ObserveFiling.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeTransient = "failed_transient"
	OutcomePermanent = "failed_permanent"
	OutcomeSkipped   = "skipped"
	OutcomeMalformed = "malformed"
)

// Handler returns an http.Handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFiling records one processed filing by outcome.
func ObserveFiling(outcome string) {
	filingsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records an outbound request. kind is "index" or "document";
// status 0 means the request never produced a response.
func ObserveFetch(kind string, status int, duration time.Duration, bytes int) {
	fetchRequestsTotal.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	fetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	if bytes > 0 {
		fetchBytesTotal.Add(float64(bytes))
	}
}

// ObservePacerWait records time spent waiting for the request pacer.
func ObservePacerWait(duration time.Duration) {
	pacerWaitSeconds.Observe(duration.Seconds())
}

// ObservePartitionFlush records one flushed partition.
func ObservePartitionFlush(records int) {
	partitionsTotal.Inc()
	partitionRecords.Observe(float64(records))
}

// SetBufferedRecords tracks the writer's in-memory buffer depth.
func SetBufferedRecords(n int) {
	bufferedRecords.Set(float64(n))
}

// IncLowConfidence records an extraction that fell back to raw text.
func IncLowConfidence() {
	lowConfidenceTotal.Inc()
}

// IncCheckpointWrite records a checkpoint rewrite.
func IncCheckpointWrite() {
	checkpointWritesTotal.Inc()
}

// ObserveHTTPRequest records one ops server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
