package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/ledger"
	"github.com/quantfold/filingstream/internal/pipeline"
)

const (
	defaultRunLimit       = 50
	maxRunLimit           = 500
	defaultPartitionLimit = 100
	maxPartitionLimit     = 1000
	ledgerTimeout         = 3 * time.Second
)

// RunHandler exposes read-only run catalog endpoints backed by the ledger.
type RunHandler struct {
	reader  ledger.Reader
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the ledger reader and logger.
func NewRunHandler(reader ledger.Reader, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		reader:  reader,
		timeout: ledgerTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs?state=&limit=&offset=. It returns a JSON
// object {"runs": [...]} on success, 400 for invalid filters, 503 when no
// ledger is configured, or 500 if the ledger call fails.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stateParam := strings.TrimSpace(r.URL.Query().Get("state"))
	var state *string
	if stateParam != "" {
		stateVal, parseErr := parseRunState(stateParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		state = &stateVal
	}
	runs, err := h.reader.ListRuns(ctx, state, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": toRunDTOs(runs),
	})
}

// GetRun handles GET /v1/runs/{run_id}. It returns {"run": {...}} on success,
// 400 for an empty ID, 404 when the ledger reports ledger.ErrNotFound, 503
// when no ledger is configured, or 500 otherwise.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger not configured")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.reader.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

// ListRunPartitions handles GET /v1/runs/{run_id}/partitions?limit=&offset=.
// It returns {"partitions": [...]} on success, 400 for invalid query
// parameters, 503 when no ledger is configured, or 500 for ledger errors.
func (h *RunHandler) ListRunPartitions(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger not configured")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultPartitionLimit, maxPartitionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	parts, err := h.reader.ListRunPartitions(ctx, runID, limit, offset)
	if err != nil {
		h.logger.Error("list run partitions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list run partitions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"partitions": toPartitionDTOs(parts),
	})
}

func parseRunID(r *http.Request) (string, error) {
	runID := strings.TrimSpace(chi.URLParam(r, "run_id"))
	if runID == "" {
		return "", errors.New("run_id is required")
	}
	return runID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseRunState(input string) (string, error) {
	state := pipeline.RunState(strings.ToLower(input))
	switch state {
	case pipeline.StateIdle, pipeline.StateStreaming, pipeline.StateDraining,
		pipeline.StateAborted, pipeline.StateDone:
		return string(state), nil
	default:
		return "", errors.New("invalid state")
	}
}

func toRunDTOs(in []ledger.Run) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

func toRunDTO(run ledger.Run) runDTO {
	return runDTO{
		RunID:             run.RunID,
		State:             run.State,
		Processed:         run.Processed,
		Succeeded:         run.Succeeded,
		Failed:            run.Failed,
		TransientFailures: run.TransientFailures,
		PermanentFailures: run.PermanentFailures,
		Skipped:           run.Skipped,
		Malformed:         run.Malformed,
		PartitionsWritten: run.PartitionsWritten,
		StartedAt:         run.StartedAt,
		FinishedAt:        run.FinishedAt,
	}
}

func toPartitionDTOs(in []ledger.Partition) []partitionDTO {
	out := make([]partitionDTO, 0, len(in))
	for _, p := range in {
		out = append(out, partitionDTO{
			Seq:          p.Seq,
			URI:          p.URI,
			Records:      p.Records,
			Bytes:        p.Bytes,
			SkippedWrite: p.SkippedWrite,
			SealedAt:     p.SealedAt,
		})
	}
	return out
}

type runDTO struct {
	RunID             string     `json:"run_id"`
	State             string     `json:"state"`
	Processed         int        `json:"processed"`
	Succeeded         int        `json:"succeeded"`
	Failed            int        `json:"failed"`
	TransientFailures int        `json:"transient_failures"`
	PermanentFailures int        `json:"permanent_failures"`
	Skipped           int        `json:"skipped"`
	Malformed         int        `json:"malformed"`
	PartitionsWritten int        `json:"partitions_written"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}

type partitionDTO struct {
	Seq          int       `json:"seq"`
	URI          string    `json:"uri"`
	Records      int       `json:"records"`
	Bytes        int       `json:"bytes"`
	SkippedWrite bool      `json:"skipped_write"`
	SealedAt     time.Time `json:"sealed_at"`
}
