// Package combine aligns per-pair candle series into a single close-price
// table keyed by timestamp.
//
// The common window starts at the latest "birth date" among the input series
// (the youngest pair defines the window). Series are outer-joined on
// timestamp: the table holds the union of timestamps, and a pair with no bar
// at a given timestamp gets an empty cell rather than dropping the row.
package combine

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/tmckay/go-kline-backfill/internal/models"
	"github.com/tmckay/go-kline-backfill/internal/storage"
)

// ErrNoTimestamps reports that no input series contributed a usable
// timestamp, leaving the common window undefined. The combine step refuses
// to produce output in that case instead of silently filtering against a
// null bound.
var ErrNoTimestamps = errors.New("no input series has a usable timestamp")

// CommonStart returns the latest per-series minimum timestamp: the first
// instant at which every input series has data. Series order within the map
// does not matter; unsorted series are handled by scanning for the minimum.
func CommonStart(series map[string][]models.Candle) (time.Time, error) {
	var latest time.Time
	found := false

	for _, candles := range series {
		var min time.Time
		seriesFound := false
		for i := range candles {
			ts := candles[i].Timestamp
			if ts.IsZero() {
				continue
			}
			if !seriesFound || ts.Before(min) {
				min = ts
				seriesFound = true
			}
		}
		if !seriesFound {
			continue
		}
		if !found || min.After(latest) {
			latest = min
			found = true
		}
	}

	if !found {
		return time.Time{}, ErrNoTimestamps
	}
	return latest, nil
}

// Table is the aligned close-price table: one row per timestamp in the union
// of all series, one column per pair. An empty cell means the pair has no
// bar at that timestamp.
type Table struct {
	// Pairs is the column order, sorted lexicographically for deterministic
	// output.
	Pairs []string

	// Rows are ordered by timestamp ascending with no duplicates.
	Rows []Row
}

// Row is one aligned timestamp with each pair's close value.
type Row struct {
	Timestamp time.Time

	// Closes is parallel to Table.Pairs; "" marks a missing bar.
	Closes []string
}

// Build aligns the series into a Table, dropping bars strictly before
// commonStart. Timestamps present in only one series still produce a row,
// with empty cells for the other pairs (union join).
func Build(series map[string][]models.Candle, commonStart time.Time) *Table {
	pairs := make([]string, 0, len(series))
	for pair := range series {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	// Close value per pair per instant; union of instants across series.
	closes := make(map[string]map[int64]string, len(pairs))
	union := make(map[int64]time.Time)

	for pair, candles := range series {
		byInstant := make(map[int64]string, len(candles))
		for i := range candles {
			c := &candles[i]
			if c.Timestamp.IsZero() || c.Timestamp.Before(commonStart) {
				continue
			}
			key := c.Timestamp.UnixMilli()
			byInstant[key] = c.Close
			union[key] = c.Timestamp.UTC()
		}
		closes[pair] = byInstant
	}

	keys := make([]int64, 0, len(union))
	for key := range union {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	rows := make([]Row, 0, len(keys))
	for _, key := range keys {
		row := Row{Timestamp: union[key], Closes: make([]string, len(pairs))}
		for i, pair := range pairs {
			row.Closes[i] = closes[pair][key]
		}
		rows = append(rows, row)
	}

	return &Table{Pairs: pairs, Rows: rows}
}

// WriteCSV persists the table: header timestamp,{pair...}, one row per
// aligned timestamp, empty fields for missing bars.
func (t *Table) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return &storage.FileError{Path: path, Op: "write", Err: err}
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"timestamp"}, t.Pairs...)
	if err := w.Write(header); err != nil {
		return &storage.FileError{Path: path, Op: "write", Err: err}
	}
	for _, row := range t.Rows {
		record := make([]string, 0, len(row.Closes)+1)
		record = append(record, row.Timestamp.Format(time.RFC3339))
		record = append(record, row.Closes...)
		if err := w.Write(record); err != nil {
			return &storage.FileError{Path: path, Op: "write", Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return &storage.FileError{Path: path, Op: "write", Err: err}
	}
	if err := f.Close(); err != nil {
		return &storage.FileError{Path: path, Op: "write", Err: err}
	}

	return nil
}

// SkipReason classifies why an input series was left out of the combined
// table.
type SkipReason string

const (
	// SkipReadError marks a series file that was unreadable or malformed.
	SkipReadError SkipReason = "read_error"

	// SkipMissingColumn marks a series file lacking the timestamp or close
	// column.
	SkipMissingColumn SkipReason = "missing_column"
)

// SkippedSeries records one excluded input with its reason. Skips are
// surfaced in the report rather than silently omitted.
type SkippedSeries struct {
	Pair   string
	Reason SkipReason
	Err    error
}

// Report summarizes one combine run.
type Report struct {
	CommonStart time.Time
	Pairs       []string
	Rows        int
	Skipped     []SkippedSeries
}

// Combiner reads every persisted series and produces the combined table.
type Combiner struct {
	reader storage.SeriesReader
	logger *slog.Logger
}

// New creates a Combiner over the given series reader.
func New(reader storage.SeriesReader, logger *slog.Logger) *Combiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Combiner{reader: reader, logger: logger}
}

// Run loads every listed series, aligns them from the common start, and
// writes the combined CSV to outPath. Unreadable inputs and inputs missing
// required columns are skipped with a logged, typed reason; they never abort
// the run. When no usable series remains, Run returns ErrNoTimestamps and
// writes nothing.
func (c *Combiner) Run(ctx context.Context, outPath string) (*Report, error) {
	pairs, err := c.reader.ListSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}

	report := &Report{}
	series := make(map[string][]models.Candle, len(pairs))

	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		candles, err := c.reader.ReadSeries(ctx, pair)
		if err != nil {
			skip := SkippedSeries{Pair: pair, Reason: SkipReadError, Err: err}
			var mce *storage.MissingColumnError
			if errors.As(err, &mce) {
				skip.Reason = SkipMissingColumn
			}
			c.logger.Warn("skipping series",
				"pair", pair,
				"reason", string(skip.Reason),
				"error", err)
			report.Skipped = append(report.Skipped, skip)
			continue
		}
		series[pair] = candles
	}

	commonStart, err := CommonStart(series)
	if err != nil {
		return report, err
	}
	report.CommonStart = commonStart

	c.logger.Info("aligning series",
		"pairs", len(series),
		"common_start", commonStart,
		"skipped", len(report.Skipped))

	table := Build(series, commonStart)
	report.Pairs = table.Pairs
	report.Rows = len(table.Rows)

	if err := table.WriteCSV(outPath); err != nil {
		return report, err
	}

	c.logger.Info("wrote combined close prices",
		"path", outPath,
		"pairs", len(table.Pairs),
		"rows", len(table.Rows))

	return report, nil
}
