package market

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

// Column names looked up case-insensitively in the header row
const (
	closeColumn = "close"
	dateColumn  = "date"
)

var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	time.DateTime,
	"01/02/2006",
}

// CSVSource reads <Dir>/<ASSET><Ext> files with a Close column and an
// optional Date column
type CSVSource struct {
	Dir string
	Ext string
}

// NewCSVSource creates a CSV source; an empty ext defaults to ".csv"
func NewCSVSource(dir, ext string) *CSVSource {
	if ext == "" {
		ext = ".csv"
	}
	return &CSVSource{Dir: dir, Ext: ext}
}

// Name implements Source
func (s *CSVSource) Name() string {
	return "csv"
}

// Path returns the file read for asset
func (s *CSVSource) Path(asset string) string {
	return filepath.Join(s.Dir, asset+s.Ext)
}

// Series implements Source. Rows are filtered by range only when the file
// has a Date column.
func (s *CSVSource) Series(ctx context.Context, asset string, start, end time.Time) (portfolio.Series, error) {
	if err := ctx.Err(); err != nil {
		return portfolio.Series{}, err
	}

	path := s.Path(asset)
	f, err := os.Open(path) // #nosec G304 -- path built from configured data dir
	if err != nil {
		return portfolio.Series{}, fmt.Errorf("failed to open price file for %s: %w", asset, err)
	}
	defer f.Close()

	series, err := readCloses(f, asset, start, end)
	if err != nil {
		return portfolio.Series{}, fmt.Errorf("%s: %w", path, err)
	}

	log.Debug().
		Str("asset", asset).
		Str("path", path).
		Int("rows", len(series.Closes)).
		Bool("dated", series.Dates != nil).
		Msg("Loaded close prices from CSV")

	return series, nil
}

func readCloses(r io.Reader, asset string, start, end time.Time) (portfolio.Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return portfolio.Series{}, fmt.Errorf("%w for %s: empty file", ErrNoPrices, asset)
	}
	if err != nil {
		return portfolio.Series{}, fmt.Errorf("failed to read header: %w", err)
	}

	closeIdx, dateIdx := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case closeColumn:
			closeIdx = i
		case dateColumn:
			dateIdx = i
		}
	}
	if closeIdx < 0 {
		return portfolio.Series{}, fmt.Errorf("missing Close column")
	}

	series := portfolio.Series{Asset: asset}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return portfolio.Series{}, fmt.Errorf("line %d: %w", line, err)
		}
		if closeIdx >= len(record) {
			return portfolio.Series{}, fmt.Errorf("line %d: missing Close value", line)
		}

		price, err := strconv.ParseFloat(strings.TrimSpace(record[closeIdx]), 64)
		if err != nil {
			return portfolio.Series{}, fmt.Errorf("line %d: invalid Close value %q", line, record[closeIdx])
		}

		if dateIdx >= 0 {
			if dateIdx >= len(record) {
				return portfolio.Series{}, fmt.Errorf("line %d: missing Date value", line)
			}
			date, err := parseDate(record[dateIdx])
			if err != nil {
				return portfolio.Series{}, fmt.Errorf("line %d: %w", line, err)
			}
			if !inRange(date, start, end) {
				continue
			}
			series.Dates = append(series.Dates, date)
		}
		series.Closes = append(series.Closes, price)
	}

	if len(series.Closes) == 0 {
		return portfolio.Series{}, fmt.Errorf("%w for %s", ErrNoPrices, asset)
	}

	return series, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
