// Package sinks implements concrete progress consumers: structured logging,
// Prometheus run-lifecycle metrics, and Pub/Sub event publishing. Each sink
// satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks
