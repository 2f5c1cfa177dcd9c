// Package storage persists per-pair candle series as flat files and reads
// them back. The CSV layout written here is the input contract for the
// combine step: one file per pair named {PAIR}_hourly.csv with the header
// timestamp,open,high,low,close,volume.
package storage

import (
	"context"
	"fmt"

	"github.com/tmckay/go-kline-backfill/internal/models"
)

// SeriesWriter persists one pair's candle series. Writes replace any
// previous series for the pair (whole-file overwrite, no atomicity
// guarantee).
type SeriesWriter interface {
	// WriteSeries persists the candles for pair. The slice must be ordered
	// by timestamp ascending.
	WriteSeries(ctx context.Context, pair string, candles []models.Candle) error
}

// SeriesReader reads persisted candle series back.
type SeriesReader interface {
	// ReadSeries loads the series for pair. The timestamp and close columns
	// are required; a file without them fails with *MissingColumnError, an
	// unreadable or malformed file with *FileError. Other OHLCV columns are
	// optional and left empty when absent, since downstream consumers only
	// align close prices.
	ReadSeries(ctx context.Context, pair string) ([]models.Candle, error)

	// ListSeries returns the pairs with a persisted series, sorted
	// lexicographically.
	ListSeries(ctx context.Context) ([]string, error)
}

// SeriesStore combines series persistence and retrieval.
type SeriesStore interface {
	SeriesWriter
	SeriesReader
}

// FileError reports an unreadable or malformed series file.
type FileError struct {
	// Path is the file involved.
	Path string

	// Op is the operation that failed ("open", "read", "write", "parse").
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for FileError.
func (e *FileError) Error() string {
	return fmt.Sprintf("series file %s: %s failed: %v", e.Path, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *FileError) Unwrap() error {
	return e.Err
}

// MissingColumnError reports a series file whose header lacks a required
// column. Consumers skip such files with a recorded reason instead of
// aborting the batch.
type MissingColumnError struct {
	Path   string
	Column string
}

// Error implements the error interface for MissingColumnError.
func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("series file %s: missing required column %q", e.Path, e.Column)
}
