package catalog

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/quantfold/filingstream/internal/policy/filter"
	"github.com/quantfold/filingstream/internal/storage"
	"github.com/quantfold/filingstream/internal/tabular"
)

// rowPattern matches one catalog line. Company names contain single spaces;
// the name is separated from the stable right-side columns by two or more.
var rowPattern = regexp.MustCompile(
	`^(?P<company_name>.+?)\s{2,}(?P<form_type>\S+)\s+(?P<cik>\d+)\s+(?P<date_filed>\d{4}-\d{2}-\d{2})\s+(?P<filename>.+)$`,
)

// idxNamePattern recovers the period a stored index file covers.
var idxNamePattern = regexp.MustCompile(`(?i)(\d{4})_(QTR[1-4])_company\.idx$`)

// IndexRow is one parsed catalog line plus its provenance. The column names
// line up with what the streaming source reads.
type IndexRow struct {
	CompanyName string `parquet:"company_name"`
	FormType    string `parquet:"form_type"`
	CIK         string `parquet:"cik"`
	DateFiled   string `parquet:"date_filed"`
	Filename    string `parquet:"filename"`
	Year        int32  `parquet:"year"`
	Quarter     string `parquet:"quarter"`
	SourceFile  string `parquet:"source_file"`
}

// ParseIndexFile parses one company.idx payload. Blank lines, ruler lines,
// the column header, and anything the row pattern rejects are skipped.
// EDGAR serves these files as latin-1.
func ParseIndexFile(data []byte, sourceName string) []IndexRow {
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		// Latin-1 decoding accepts every byte; fall back to the raw text.
		decoded = data
	}

	year, quarter := YearQuarterFromName(sourceName)

	var rows []IndexRow
	for _, line := range strings.Split(string(decoded), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "-----") {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "company name") {
			continue
		}
		m := rowPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		rows = append(rows, IndexRow{
			CompanyName: strings.TrimSpace(m[1]),
			FormType:    strings.TrimSpace(m[2]),
			CIK:         strings.TrimSpace(m[3]),
			DateFiled:   strings.TrimSpace(m[4]),
			Filename:    strings.TrimSpace(m[5]),
			Year:        year,
			Quarter:     quarter,
			SourceFile:  sourceName,
		})
	}
	return rows
}

// YearQuarterFromName recovers the period from a stored index file name such
// as "2020_QTR4_company.idx". Zero and empty mean unknown.
func YearQuarterFromName(name string) (int32, string) {
	m := idxNamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, ""
	}
	y, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, ""
	}
	return int32(y), strings.ToUpper(m[2])
}

// formPresets expand shorthand form selections, amendments included.
var formPresets = map[string][]string{
	"10k": {"10-K", "10-K/A"},
	"10q": {"10-Q", "10-Q/A"},
	"8k":  {"8-K", "8-K/A"},
}

// ExpandForms resolves a forms argument: empty admits everything, a preset
// name ("10k", "10q", "8k") expands to the family, anything else is a comma
// separated list of exact form types.
func ExpandForms(arg string) []string {
	trimmed := strings.TrimSpace(arg)
	if trimmed == "" {
		return nil
	}
	if preset, ok := formPresets[strings.ToLower(trimmed)]; ok {
		out := make([]string, len(preset))
		copy(out, preset)
		return out
	}
	var out []string
	for _, part := range strings.Split(trimmed, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseConfig controls one catalog parse pass.
type ParseConfig struct {
	// ChunkSize is the number of rows per output part.
	ChunkSize int
	// Format selects the part encoding, "parquet" (default) or "csv".
	Format string
	// Forms optionally restricts output to eligible form types. When set,
	// filing dates are validated and the year column is recomputed from the
	// date; rows with unparseable dates are dropped.
	Forms []string
	// SkipExisting leaves existing parts untouched and drops their rows, so
	// reruns never clobber sealed output.
	SkipExisting bool
}

// ParseStats tallies one parse pass.
type ParseStats struct {
	Files        int
	FailedFiles  int
	Rows         int
	Dropped      int
	PartsWritten int
	PartsSkipped int
}

// Parser turns stored .idx files into part-numbered tabular chunks.
type Parser struct {
	cfg    ParseConfig
	input  storage.Store
	output storage.Store
	forms  *filter.Filter
	logger *zap.Logger
}

// NewParser builds a Parser reading .idx objects from input and writing
// parts under output.
func NewParser(cfg ParseConfig, input, output storage.Store, logger *zap.Logger) (*Parser, error) {
	switch cfg.Format {
	case "", "parquet":
		cfg.Format = "parquet"
	case "csv":
	default:
		return nil, fmt.Errorf("unsupported catalog format %q: use parquet or csv", cfg.Format)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 50000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var forms *filter.Filter
	if len(cfg.Forms) > 0 {
		forms = filter.New(cfg.Forms, nil, nil)
	}
	return &Parser{cfg: cfg, input: input, output: output, forms: forms, logger: logger}, nil
}

// Run lists .idx objects under the input prefix and parses them in key
// order. Unreadable files are logged and tallied; write failures abort.
func (p *Parser) Run(ctx context.Context) (ParseStats, error) {
	var stats ParseStats

	keys, err := p.input.List(ctx, "")
	if err != nil {
		return stats, fmt.Errorf("list catalog input: %w", err)
	}
	var idxKeys []string
	for _, k := range keys {
		if strings.HasSuffix(strings.ToLower(k), ".idx") {
			idxKeys = append(idxKeys, k)
		}
	}
	if len(idxKeys) == 0 {
		p.logger.Warn("no .idx files under input prefix")
		return stats, nil
	}

	buf := make([]IndexRow, 0, p.cfg.ChunkSize)
	seq := 0
	for i, key := range idxKeys {
		data, err := p.input.ReadBytes(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return stats, fmt.Errorf("catalog parse interrupted: %w", ctx.Err())
			}
			stats.FailedFiles++
			p.logger.Warn("catalog file read failed",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		stats.Files++

		for _, row := range ParseIndexFile(data, path.Base(key)) {
			row, ok := p.admit(row)
			if !ok {
				stats.Dropped++
				continue
			}
			stats.Rows++
			buf = append(buf, row)
			if len(buf) >= p.cfg.ChunkSize {
				if err := p.flushPart(ctx, buf, seq, &stats); err != nil {
					return stats, err
				}
				seq++
				buf = buf[:0]
			}
		}

		if (i+1)%25 == 0 {
			p.logger.Info("catalog parse progress",
				zap.Int("files", i+1),
				zap.Int("rows", stats.Rows))
		}
	}

	if len(buf) > 0 {
		if err := p.flushPart(ctx, buf, seq, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// admit applies the optional form filter. Filtered rows get a normalized
// form type, a validated date, and a year recomputed from that date.
func (p *Parser) admit(row IndexRow) (IndexRow, bool) {
	if p.forms == nil {
		return row, true
	}
	row.FormType = filter.NormalizeForm(row.FormType)
	if !p.forms.AdmitForm(row.FormType) {
		return row, false
	}
	filed, err := time.Parse("2006-01-02", row.DateFiled)
	if err != nil {
		return row, false
	}
	row.DateFiled = filed.Format("2006-01-02")
	row.Year = int32(filed.Year())
	return row, true
}

func (p *Parser) flushPart(ctx context.Context, rows []IndexRow, seq int, stats *ParseStats) error {
	key := fmt.Sprintf("part-%06d.%s", seq, p.cfg.Format)

	if p.cfg.SkipExisting {
		exists, err := p.output.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("check part %s: %w", key, err)
		}
		if exists {
			stats.PartsSkipped++
			p.logger.Info("part already exists, skipping write",
				zap.String("uri", p.output.URI(key)),
				zap.Int("records_dropped", len(rows)))
			return nil
		}
	}

	var encoded bytes.Buffer
	var err error
	switch p.cfg.Format {
	case "csv":
		err = writeCSV(&encoded, rows)
	default:
		err = tabular.WriteParquet(&encoded, rows)
	}
	if err != nil {
		return fmt.Errorf("encode part %s: %w", key, err)
	}

	if err := p.output.WriteBytes(ctx, key, encoded.Bytes()); err != nil {
		return fmt.Errorf("write part %s: %w", key, err)
	}
	stats.PartsWritten++
	p.logger.Info("wrote catalog part",
		zap.String("uri", p.output.URI(key)),
		zap.Int("records", len(rows)),
		zap.Int("bytes", encoded.Len()))
	return nil
}

func writeCSV(w io.Writer, rows []IndexRow) error {
	cw := csv.NewWriter(w)
	header := []string{
		"company_name", "form_type", "cik", "date_filed",
		"filename", "year", "quarter", "source_file",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.CompanyName, row.FormType, row.CIK, row.DateFiled,
			row.Filename, strconv.Itoa(int(row.Year)), row.Quarter, row.SourceFile,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
