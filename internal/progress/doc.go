// Package progress defines the event stream emitted by a filing run and the
// hub that fans those events out to sinks. The hub batches on a background
// goroutine and never blocks the run loop; sinks deliver the batches to logs,
// Prometheus, or Pub/Sub.
package progress
