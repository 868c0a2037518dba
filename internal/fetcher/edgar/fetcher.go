package edgar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	collyfetcher "github.com/quantfold/filingstream/internal/fetcher/colly"
	"github.com/quantfold/filingstream/internal/metrics"
	"github.com/quantfold/filingstream/internal/pipeline"
)

// Getter issues one HTTP GET. Satisfied by collyfetcher.Client.
type Getter interface {
	Get(ctx context.Context, url string, timeout time.Duration) (collyfetcher.Response, error)
}

// Pacer gates every outbound request.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Config controls resolution and retry behavior.
type Config struct {
	// BaseURL is the EDGAR host; tests point it at a local server.
	BaseURL string
	// AttemptBudget is the total number of end-to-end attempts per filing,
	// the first try included.
	AttemptBudget int
	// IndexTimeout bounds index page requests, DocumentTimeout bounds
	// document requests. Documents run far larger than index pages.
	IndexTimeout    time.Duration
	DocumentTimeout time.Duration
}

// Fetcher resolves filing references to documents and downloads them. Every
// HTTP request it makes, retries and index hops included, first acquires the
// pacing token.
type Fetcher struct {
	cfg    Config
	client Getter
	pacer  Pacer
	logger *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, client Getter, pacer Pacer, logger *zap.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AttemptBudget < 1 {
		cfg.AttemptBudget = 1
	}
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = 15 * time.Second
	}
	if cfg.DocumentTimeout <= 0 {
		cfg.DocumentTimeout = 25 * time.Second
	}
	return &Fetcher{cfg: cfg, client: client, pacer: pacer, logger: logger}
}

// Fetch runs up to AttemptBudget end-to-end attempts. Transient and
// permanent failures retry identically; the classification only shapes the
// final error. Context cancellation aborts with the context's error rather
// than a *pipeline.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, ref pipeline.FilingRef) (pipeline.FetchResult, error) {
	var lastErr *pipeline.FetchError
	for attempt := 1; attempt <= f.cfg.AttemptBudget; attempt++ {
		result, fetchErr := f.attempt(ctx, ref)
		if fetchErr == nil {
			result.Attempts = attempt
			return result, nil
		}
		fetchErr.Attempts = attempt
		lastErr = fetchErr

		if ctx.Err() != nil {
			return pipeline.FetchResult{}, fmt.Errorf("fetch %s: %w", ref.AccessionID, ctx.Err())
		}
		if attempt < f.cfg.AttemptBudget {
			f.logger.Warn("fetch attempt failed, retrying",
				zap.String("accession", ref.AccessionID),
				zap.Int("attempt", attempt),
				zap.Int("budget", f.cfg.AttemptBudget),
				zap.String("kind", string(fetchErr.Kind)),
				zap.Error(fetchErr.Err),
			)
		}
	}
	return pipeline.FetchResult{}, lastErr
}

// attempt performs one full resolution: either a direct document GET, or an
// index page GET followed by the primary document GET.
func (f *Fetcher) attempt(ctx context.Context, ref pipeline.FilingRef) (pipeline.FetchResult, *pipeline.FetchError) {
	path := ref.SourcePath

	if IsDirectDocument(path) {
		url := DirectURL(f.cfg.BaseURL, path)
		body, status, ferr := f.get(ctx, "document", url, f.cfg.DocumentTimeout)
		if ferr != nil {
			return pipeline.FetchResult{}, ferr
		}
		return pipeline.FetchResult{Body: body, StatusCode: status, DocumentURL: url}, nil
	}

	indexURL, err := IndexURL(f.cfg.BaseURL, path)
	if err != nil {
		return pipeline.FetchResult{}, &pipeline.FetchError{
			Kind: pipeline.FailurePermanent,
			URL:  indexURL,
			Err:  err,
		}
	}

	indexBody, _, ferr := f.get(ctx, "index", indexURL, f.cfg.IndexTimeout)
	if ferr != nil {
		return pipeline.FetchResult{}, ferr
	}

	href, err := PrimaryDocumentHref(indexBody)
	if err != nil {
		return pipeline.FetchResult{}, &pipeline.FetchError{
			Kind: pipeline.FailurePermanent,
			URL:  indexURL,
			Err:  err,
		}
	}

	docURL := DocumentURLFromHref(f.cfg.BaseURL, href)
	body, status, ferr := f.get(ctx, "document", docURL, f.cfg.DocumentTimeout)
	if ferr != nil {
		return pipeline.FetchResult{}, ferr
	}
	return pipeline.FetchResult{Body: body, StatusCode: status, DocumentURL: docURL}, nil
}

// get acquires the pacing token, issues the request, and records metrics.
func (f *Fetcher) get(ctx context.Context, kind, url string, timeout time.Duration) ([]byte, int, *pipeline.FetchError) {
	if err := f.pacer.Wait(ctx); err != nil {
		return nil, 0, &pipeline.FetchError{
			Kind: pipeline.FailureTransient,
			URL:  url,
			Err:  err,
		}
	}

	resp, err := f.client.Get(ctx, url, timeout)
	metrics.ObserveFetch(kind, resp.StatusCode, resp.Duration, len(resp.Body))
	if err != nil {
		return nil, resp.StatusCode, &pipeline.FetchError{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			URL:        url,
			Err:        err,
		}
	}
	return resp.Body, resp.StatusCode, nil
}

// classifyStatus sorts failures for reporting. Status 0 means the request
// never produced a response.
func classifyStatus(status int) pipeline.FailureKind {
	switch {
	case status == 0:
		return pipeline.FailureTransient
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return pipeline.FailureTransient
	case status >= 400 && status < 500:
		return pipeline.FailurePermanent
	default:
		return pipeline.FailureTransient
	}
}

var _ pipeline.Fetcher = (*Fetcher)(nil)
