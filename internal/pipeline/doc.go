// Package pipeline defines the core types and the run controller for the
// streaming fetch-and-checkpoint pipeline: filing references in, rate-limited
// document fetches, text extraction, partitioned Parquet output, and a
// crash-safe checkpoint that makes re-runs idempotent.
package pipeline
