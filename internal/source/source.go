// Package source streams filing references out of a catalog table. Rows
// arrive chunk by chunk, malformed rows are skipped with a warning, and rows
// outside the configured filter never enter the stream.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/fetcher/edgar"
	"github.com/quantfold/filingstream/internal/metrics"
	"github.com/quantfold/filingstream/internal/pipeline"
	"github.com/quantfold/filingstream/internal/policy/filter"
	"github.com/quantfold/filingstream/internal/tabular"
)

// Options configure admission and logging.
type Options struct {
	// Filter restricts which rows are yielded. Nil admits everything.
	Filter *filter.Filter
	Logger *zap.Logger
}

// Source implements pipeline.Source over a tabular.ChunkReader.
type Source struct {
	reader  tabular.ChunkReader
	filter  *filter.Filter
	logger  *zap.Logger
	closers []io.Closer

	chunk []tabular.Row
	idx   int
	stats pipeline.SourceStats
}

// New builds a Source. Extra closers (typically the underlying storage
// handle) are closed after the reader.
func New(reader tabular.ChunkReader, opts Options, closers ...io.Closer) *Source {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	f := opts.Filter
	if f == nil {
		f = filter.New(nil, nil, nil)
	}
	return &Source{
		reader:  reader,
		filter:  f,
		logger:  logger,
		closers: closers,
	}
}

// Next returns the next admitted filing reference, io.EOF at stream end, or
// an error wrapping pipeline.ErrSourceUnavailable when the catalog itself
// fails mid-stream.
func (s *Source) Next(ctx context.Context) (pipeline.FilingRef, error) {
	for {
		for s.idx < len(s.chunk) {
			row := s.chunk[s.idx]
			s.idx++

			ref, reason := s.toRef(row)
			if reason != "" {
				s.stats.Malformed++
				metrics.ObserveFiling(metrics.OutcomeMalformed)
				s.logger.Warn("skipping malformed catalog row", zap.String("reason", reason))
				continue
			}
			if !s.filter.Admit(ref.FormType, ref.CIK, int(ref.Year)) {
				s.stats.Filtered++
				continue
			}
			s.stats.Yielded++
			return ref, nil
		}

		chunk, err := s.reader.Next(ctx)
		if err != nil {
			if err == io.EOF {
				return pipeline.FilingRef{}, io.EOF
			}
			if ctx.Err() != nil {
				return pipeline.FilingRef{}, ctx.Err()
			}
			return pipeline.FilingRef{}, errors.Join(pipeline.ErrSourceUnavailable, err)
		}
		s.chunk = chunk
		s.idx = 0
	}
}

// toRef maps one catalog row to a filing reference. A non-empty reason
// marks the row malformed.
func (s *Source) toRef(row tabular.Row) (pipeline.FilingRef, string) {
	cols := canonicalize(row)

	path := edgar.NormalizeFilename(cols["filename"])
	if path == "" {
		return pipeline.FilingRef{}, "missing filename"
	}
	if !edgar.IsDirectDocument(path) {
		if parts := strings.Split(strings.Trim(path, "/"), "/"); len(parts) < 4 {
			return pipeline.FilingRef{}, fmt.Sprintf("path %q has no accession folder", path)
		}
	}

	ref := pipeline.FilingRef{
		AccessionID: AccessionID(path),
		CIK:         strings.TrimSpace(cols["cik"]),
		CompanyName: strings.TrimSpace(cols["company_name"]),
		FormType:    filter.NormalizeForm(cols["form_type"]),
		DateFiled:   strings.TrimSpace(cols["date_filed"]),
		Quarter:     strings.TrimSpace(cols["quarter"]),
		SourcePath:  path,
	}
	ref.Year = rowYear(cols, ref.DateFiled)
	return ref, ""
}

// rowYear prefers an explicit year column and falls back to the filing
// date. Zero means unknown.
func rowYear(cols map[string]string, dateFiled string) int32 {
	if y, err := strconv.Atoi(strings.TrimSpace(cols["year"])); err == nil && y > 0 {
		return int32(y)
	}
	if len(dateFiled) >= 4 {
		if y, err := strconv.Atoi(dateFiled[:4]); err == nil && y > 0 {
			return int32(y)
		}
	}
	return 0
}

// canonicalize lower-cases column names and joins words with underscores,
// so "Company Name", "company_name", and "COMPANY NAME" all match.
func canonicalize(row tabular.Row) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		key := strings.ToLower(strings.TrimSpace(k))
		key = strings.ReplaceAll(key, " ", "_")
		out[key] = v
	}
	return out
}

// Stats reports row accounting so far.
func (s *Source) Stats() pipeline.SourceStats {
	return s.stats
}

// Close releases the reader and any attached handles.
func (s *Source) Close() error {
	var errs []error
	if err := s.reader.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ pipeline.Source = (*Source)(nil)
