package pipeline

import (
	"fmt"
	"time"
)

// FilingRef identifies one unit of work: a single filing document to fetch.
// Immutable once read from the source.
type FilingRef struct {
	// AccessionID is the stable unique identifier, derived from the catalog
	// Filename column (e.g. "0000320193-20-000096").
	AccessionID string
	// CIK as read from the catalog, leading zeros preserved.
	CIK         string
	CompanyName string
	FormType    string
	// DateFiled in YYYY-MM-DD form.
	DateFiled string
	Year      int32
	Quarter   string
	// SourcePath is the catalog Filename column, the EDGAR archive path the
	// fetcher resolves into a document URL.
	SourcePath string
}

// FetchResult is the payload of a successful fetch.
type FetchResult struct {
	Body        []byte
	StatusCode  int
	DocumentURL string
	// Attempts is how many attempt cycles were spent, including the
	// successful one.
	Attempts int
}

// FailureKind classifies an exhausted fetch for reporting. The retry loop
// does not branch on it; both kinds consume the full attempt budget.
type FailureKind string

const (
	// FailureTransient covers timeouts, connection errors, 408, 429 and 5xx.
	FailureTransient FailureKind = "transient"
	// FailurePermanent covers other 4xx responses, malformed locators and
	// index pages without a usable document link.
	FailurePermanent FailureKind = "permanent"
)

// FetchError reports a fetch that failed after exhausting its attempt budget.
type FetchError struct {
	Kind       FailureKind
	Attempts   int
	StatusCode int
	URL        string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s failure after %d attempts (status %d): %v",
			e.URL, e.Kind, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s failure after %d attempts: %v",
		e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Extraction is the result of converting a raw payload to plain text. It is
// total: malformed markup yields best-effort text and LowConfidence rather
// than an error.
type Extraction struct {
	Text          string
	RawBytes      int
	TextBytes     int
	LowConfidence bool
}

// ExtractedRecord is the unit buffered by the partition writer and written
// to output: the filing reference plus the extracted text and fetch
// metadata. Field tags fix the Parquet schema of output partitions.
type ExtractedRecord struct {
	AccessionID   string `parquet:"accession_id"`
	CIK           string `parquet:"cik"`
	CompanyName   string `parquet:"company_name"`
	FormType      string `parquet:"form_type"`
	DateFiled     string `parquet:"date_filed"`
	Year          int32  `parquet:"year"`
	Quarter       string `parquet:"quarter"`
	SourcePath    string `parquet:"source_path"`
	DocumentURL   string `parquet:"document_url"`
	HTTPStatus    int32  `parquet:"http_status"`
	ContentSHA256 string `parquet:"content_sha256"`
	RawBytes      int64  `parquet:"raw_bytes"`
	TextBytes     int64  `parquet:"text_bytes"`
	LowConfidence bool   `parquet:"low_confidence"`
	Text          string `parquet:"text"`
	// FetchedAt is epoch milliseconds, UTC.
	FetchedAt int64 `parquet:"fetched_at"`
}

// PartitionFlush describes one sealed partition, whether written or skipped
// under the skip-if-exists policy.
type PartitionFlush struct {
	Seq     int
	Path    string
	URI     string
	Records int
	// Bytes is the encoded object size; zero when the write was skipped.
	Bytes   int
	IDs     []string
	Skipped bool
}

// CheckpointState is the durable resume state loaded at run start. Every
// identifier in Completed corresponds to a record present in an
// already-flushed partition.
type CheckpointState struct {
	Completed map[string]struct{}
	// LastSeq is the last written partition sequence, -1 when none.
	LastSeq int
}

// IsCompleted reports whether the identifier was durably completed by a
// prior run. This is the sole skip criterion.
func (s CheckpointState) IsCompleted(id string) bool {
	_, ok := s.Completed[id]
	return ok
}

// RunState is the run controller's lifecycle state.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateStreaming RunState = "streaming"
	StateDraining  RunState = "draining"
	StateAborted   RunState = "aborted"
	StateDone      RunState = "done"
)

// Summary is the final (or, via Snapshot, live) accounting of a run.
// Completion with tallied per-record failures still exits zero; only an
// aborted run is a process failure.
type Summary struct {
	RunID             string    `json:"run_id"`
	State             RunState  `json:"state"`
	Processed         int       `json:"processed"`
	Succeeded         int       `json:"succeeded"`
	Failed            int       `json:"failed"`
	TransientFailures int       `json:"transient_failures"`
	PermanentFailures int       `json:"permanent_failures"`
	Skipped           int       `json:"skipped"`
	Malformed         int       `json:"malformed"`
	PartitionsWritten int       `json:"partitions_written"`
	Started           time.Time `json:"started"`
	Finished          time.Time `json:"finished,omitzero"`
}
