package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tmckay/go-kline-backfill/internal/models"
)

const (
	// SeriesFileSuffix names per-pair series files: {PAIR}_hourly.csv.
	// The combine step derives the pair back by stripping this suffix.
	SeriesFileSuffix = "_hourly.csv"

	timestampColumn = "timestamp"
	openColumn      = "open"
	highColumn      = "high"
	lowColumn       = "low"
	closeColumn     = "close"
	volumeColumn    = "volume"
)

// seriesHeader is the column order written for every series file.
var seriesHeader = []string{
	timestampColumn, openColumn, highColumn, lowColumn, closeColumn, volumeColumn,
}

// CSVStore implements SeriesStore on a directory of CSV files.
type CSVStore struct {
	dir    string
	logger *slog.Logger
}

// NewCSVStore creates a CSV store rooted at dir, creating the directory if
// needed.
func NewCSVStore(dir string, logger *slog.Logger) (*CSVStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &FileError{Path: dir, Op: "mkdir", Err: err}
	}
	return &CSVStore{dir: dir, logger: logger}, nil
}

// SeriesPath returns the file path for a pair's series.
func (s *CSVStore) SeriesPath(pair string) string {
	return filepath.Join(s.dir, pair+SeriesFileSuffix)
}

// WriteSeries implements the SeriesWriter interface. The file is replaced
// wholesale; timestamps are written as RFC 3339 UTC.
func (s *CSVStore) WriteSeries(ctx context.Context, pair string, candles []models.Candle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.SeriesPath(pair)
	f, err := os.Create(path)
	if err != nil {
		return &FileError{Path: path, Op: "write", Err: err}
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(seriesHeader); err != nil {
		return &FileError{Path: path, Op: "write", Err: err}
	}
	for i := range candles {
		c := &candles[i]
		record := []string{
			c.Timestamp.UTC().Format(time.RFC3339),
			c.Open, c.High, c.Low, c.Close, c.Volume,
		}
		if err := w.Write(record); err != nil {
			return &FileError{Path: path, Op: "write", Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return &FileError{Path: path, Op: "write", Err: err}
	}
	if err := f.Close(); err != nil {
		return &FileError{Path: path, Op: "write", Err: err}
	}

	s.logger.Debug("wrote series file", "pair", pair, "path", path, "rows", len(candles))
	return nil
}

// ReadSeries implements the SeriesReader interface. Columns are resolved by
// header name, so column order does not matter. The timestamp and close
// columns are required; the remaining OHLCV columns default to empty when
// absent.
func (s *CSVStore) ReadSeries(ctx context.Context, pair string) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := s.SeriesPath(pair)
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, &FileError{Path: path, Op: "read", Err: err}
	}
	if len(records) == 0 {
		return nil, &FileError{Path: path, Op: "read", Err: fmt.Errorf("empty file")}
	}

	cols := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		cols[strings.TrimSpace(name)] = i
	}
	tsIdx, ok := cols[timestampColumn]
	if !ok {
		return nil, &MissingColumnError{Path: path, Column: timestampColumn}
	}
	closeIdx, ok := cols[closeColumn]
	if !ok {
		return nil, &MissingColumnError{Path: path, Column: closeColumn}
	}

	field := func(record []string, column string) string {
		idx, ok := cols[column]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	candles := make([]models.Candle, 0, len(records)-1)
	for _, record := range records[1:] {
		if tsIdx >= len(record) || closeIdx >= len(record) {
			return nil, &FileError{Path: path, Op: "parse", Err: fmt.Errorf("row has %d fields", len(record))}
		}
		ts, err := time.Parse(time.RFC3339, record[tsIdx])
		if err != nil {
			return nil, &FileError{Path: path, Op: "parse", Err: err}
		}
		candles = append(candles, models.Candle{
			Timestamp: ts.UTC(),
			Open:      field(record, openColumn),
			High:      field(record, highColumn),
			Low:       field(record, lowColumn),
			Close:     record[closeIdx],
			Volume:    field(record, volumeColumn),
			Pair:      pair,
		})
	}

	return candles, nil
}

// ListSeries implements the SeriesReader interface, returning every pair
// with a {PAIR}_hourly.csv file in the store directory.
func (s *CSVStore) ListSeries(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &FileError{Path: s.dir, Op: "read", Err: err}
	}

	pairs := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, SeriesFileSuffix) {
			continue
		}
		pairs = append(pairs, strings.TrimSuffix(name, SeriesFileSuffix))
	}
	sort.Strings(pairs)

	return pairs, nil
}
