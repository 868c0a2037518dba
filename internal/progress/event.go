package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunHeartbeat  Stage = "RUN_HEARTBEAT"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
	StageFilingDone    Stage = "FILING_DONE"
	StageFilingError   Stage = "FILING_ERROR"
	StageFilingSkip    Stage = "FILING_SKIP"
	StagePartitionSeal Stage = "PARTITION_SEALED"
)

// Event captures a single run milestone. The JSON shape doubles as the wire
// format published to the events topic.
type Event struct {
	// RunID identifies the emitting run.
	RunID string `json:"run_id"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which milestone occurred.
	Stage Stage `json:"stage"`

	// Accession scopes filing events to one document.
	Accession string `json:"accession,omitempty"`
	// URL is the resolved document URL, when known.
	URL string `json:"url,omitempty"`
	// StatusCode is the final HTTP status of the fetch, 0 when none.
	StatusCode int `json:"status_code,omitempty"`
	// FailureKind is "transient" or "permanent" on FILING_ERROR.
	FailureKind string `json:"failure_kind,omitempty"`
	// Bytes is the fetched payload size.
	Bytes int64 `json:"bytes,omitempty"`
	// DurMS is wall time in milliseconds for the operation.
	DurMS int64 `json:"duration_ms,omitempty"`

	// Seq and Records describe the sealed partition.
	Seq     int `json:"partition_seq,omitempty"`
	Records int `json:"records,omitempty"`
	// SkippedWrite marks a seal that found its object already present.
	SkippedWrite bool `json:"skipped_write,omitempty"`

	// Run-level counters, carried on heartbeats and terminal events.
	Processed int `json:"processed,omitempty"`
	Succeeded int `json:"succeeded,omitempty"`
	Failed    int `json:"failed,omitempty"`
	Skipped   int `json:"skipped,omitempty"`

	// Note attaches low-volume context such as error text.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunHeartbeat, StageRunDone, StageRunError:
	case StageFilingDone, StageFilingSkip:
		if e.Accession == "" {
			return errors.New("filing event requires accession")
		}
	case StageFilingError:
		if e.Accession == "" {
			return errors.New("filing event requires accession")
		}
		if e.FailureKind == "" {
			return errors.New("filing error requires failure kind")
		}
	case StagePartitionSeal:
		if e.Seq < 0 {
			return errors.New("partition seal requires sequence")
		}
		if e.Records <= 0 {
			return errors.New("partition seal requires records")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.DurMS < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
