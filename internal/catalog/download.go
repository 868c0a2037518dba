// Package catalog downloads and parses the quarterly EDGAR company index
// files that seed the filing stream. The downloader sweeps
// full-index/<year>/<QTRn>/company.idx into an object store; the parser
// turns stored .idx files into the tabular catalog the streaming command
// reads.
package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	collyfetcher "github.com/quantfold/filingstream/internal/fetcher/colly"
	"github.com/quantfold/filingstream/internal/metrics"
	"github.com/quantfold/filingstream/internal/storage"
)

// DefaultBaseURL is the EDGAR full-index root.
const DefaultBaseURL = "https://www.sec.gov/Archives/edgar/full-index"

// Quarters in calendar order. Quarter arguments validate against this set.
var allQuarters = []string{"QTR1", "QTR2", "QTR3", "QTR4"}

// Getter issues one HTTP GET. Satisfied by collyfetcher.Client.
type Getter interface {
	Get(ctx context.Context, url string, timeout time.Duration) (collyfetcher.Response, error)
}

// Pacer gates every outbound request.
type Pacer interface {
	Wait(ctx context.Context) error
}

// DownloadConfig controls one catalog sweep.
type DownloadConfig struct {
	// BaseURL is the full-index root; tests point it at a local server.
	BaseURL  string
	Years    []int
	Quarters []string
	// Timeout bounds each company.idx request. Quarterly indexes run a few
	// tens of megabytes.
	Timeout time.Duration
}

// Downloader fetches company.idx files into an object store, skipping
// destinations that already exist.
type Downloader struct {
	cfg    DownloadConfig
	client Getter
	pacer  Pacer
	store  storage.Store
	logger *zap.Logger
}

// NewDownloader builds a Downloader.
func NewDownloader(cfg DownloadConfig, client Getter, pacer Pacer, store storage.Store, logger *zap.Logger) *Downloader {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{cfg: cfg, client: client, pacer: pacer, store: store, logger: logger}
}

// DownloadStats tallies one sweep.
type DownloadStats struct {
	Requested  int
	Downloaded int
	Skipped    int
	Failed     int
}

// Run sweeps the year and quarter sets. Per-file failures are logged and
// tallied, never fatal; only context cancellation aborts the sweep.
func (d *Downloader) Run(ctx context.Context) (DownloadStats, error) {
	var stats DownloadStats
	for _, year := range d.cfg.Years {
		for _, quarter := range d.cfg.Quarters {
			if err := ctx.Err(); err != nil {
				return stats, fmt.Errorf("catalog sweep interrupted: %w", err)
			}
			stats.Requested++

			key := IndexFileName(year, quarter)
			exists, err := d.store.Exists(ctx, key)
			if err != nil {
				// Treat a failed existence check as absent and attempt the
				// download; the write is atomic either way.
				d.logger.Warn("existence check failed, attempting download",
					zap.String("key", key),
					zap.Error(err))
			} else if exists {
				stats.Skipped++
				d.logger.Info("catalog file already present",
					zap.String("uri", d.store.URI(key)))
				continue
			}

			if err := d.fetchOne(ctx, year, quarter, key); err != nil {
				if ctx.Err() != nil {
					return stats, fmt.Errorf("catalog sweep interrupted: %w", ctx.Err())
				}
				stats.Failed++
				d.logger.Warn("catalog download failed",
					zap.String("key", key),
					zap.Error(err))
				continue
			}
			stats.Downloaded++
		}
	}
	return stats, nil
}

func (d *Downloader) fetchOne(ctx context.Context, year int, quarter, key string) error {
	if err := d.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("pace catalog request: %w", err)
	}

	url := IndexURL(d.cfg.BaseURL, year, quarter)
	resp, err := d.client.Get(ctx, url, d.cfg.Timeout)
	metrics.ObserveFetch("catalog", resp.StatusCode, resp.Duration, len(resp.Body))
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}

	if err := d.store.WriteBytes(ctx, key, resp.Body); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	d.logger.Info("catalog file downloaded",
		zap.String("url", url),
		zap.String("uri", d.store.URI(key)),
		zap.Int("bytes", len(resp.Body)))
	return nil
}

// IndexFileName renders the stored object key for one quarterly index.
func IndexFileName(year int, quarter string) string {
	return fmt.Sprintf("%d_%s_company.idx", year, quarter)
}

// IndexURL renders the EDGAR URL for one quarterly index.
func IndexURL(baseURL string, year int, quarter string) string {
	return fmt.Sprintf("%s/%d/%s/company.idx", strings.TrimRight(baseURL, "/"), year, quarter)
}

// ParseQuarters expands a quarter argument. "all", "*", and empty select
// every quarter; otherwise a comma or space separated list of QTR1..QTR4,
// deduplicated in input order.
func ParseQuarters(arg string) ([]string, error) {
	trimmed := strings.TrimSpace(arg)
	if trimmed == "" || strings.EqualFold(trimmed, "all") || trimmed == "*" {
		out := make([]string, len(allQuarters))
		copy(out, allQuarters)
		return out, nil
	}

	valid := make(map[string]struct{}, len(allQuarters))
	for _, q := range allQuarters {
		valid[q] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, item := range strings.FieldsFunc(trimmed, func(r rune) bool { return r == ',' || r == ' ' }) {
		q := strings.ToUpper(strings.TrimSpace(item))
		if q == "" {
			continue
		}
		if _, ok := valid[q]; !ok {
			return nil, fmt.Errorf("invalid quarter %q: use QTR1..QTR4 or all", item)
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("invalid quarters %q", arg)
	}
	return out, nil
}

// ParseYears expands the year selection. An explicit list overrides the
// start/end range; otherwise both bounds are required and inclusive.
func ParseYears(yearsArg string, startYear, endYear int) ([]int, error) {
	trimmed := strings.TrimSpace(yearsArg)
	if trimmed != "" {
		seen := make(map[int]struct{})
		var out []int
		for _, item := range strings.FieldsFunc(trimmed, func(r rune) bool { return r == ',' || r == ' ' }) {
			if item == "" {
				continue
			}
			y, err := strconv.Atoi(strings.TrimSpace(item))
			if err != nil {
				return nil, fmt.Errorf("invalid year %q", item)
			}
			if _, dup := seen[y]; dup {
				continue
			}
			seen[y] = struct{}{}
			out = append(out, y)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("invalid years %q", yearsArg)
		}
		return out, nil
	}

	if startYear == 0 || endYear == 0 {
		return nil, fmt.Errorf("provide either --years or both --start-year and --end-year")
	}
	if startYear > endYear {
		return nil, fmt.Errorf("start year %d is after end year %d", startYear, endYear)
	}
	out := make([]int, 0, endYear-startYear+1)
	for y := startYear; y <= endYear; y++ {
		out = append(out, y)
	}
	return out, nil
}
