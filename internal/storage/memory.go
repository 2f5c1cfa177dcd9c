package storage

import (
	"context"
	"io/fs"
	"sort"
	"sync"

	"github.com/tmckay/go-kline-backfill/internal/models"
)

// MemoryStore implements SeriesStore in memory. It is used by tests and as a
// sink when no durable output is wanted.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string][]models.Candle
}

// NewMemoryStore creates an empty in-memory series store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: make(map[string][]models.Candle)}
}

// WriteSeries implements the SeriesWriter interface. The stored series is a
// copy; later mutation of the input slice does not affect the store.
func (m *MemoryStore) WriteSeries(ctx context.Context, pair string, candles []models.Candle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]models.Candle, len(candles))
	copy(stored, candles)

	m.mu.Lock()
	m.series[pair] = stored
	m.mu.Unlock()

	return nil
}

// ReadSeries implements the SeriesReader interface. A pair without a stored
// series fails with a *FileError wrapping fs.ErrNotExist, mirroring the CSV
// store's behavior for a missing file.
func (m *MemoryStore) ReadSeries(ctx context.Context, pair string) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	stored, ok := m.series[pair]
	m.mu.RUnlock()

	if !ok {
		return nil, &FileError{Path: pair + SeriesFileSuffix, Op: "open", Err: fs.ErrNotExist}
	}

	candles := make([]models.Candle, len(stored))
	copy(candles, stored)
	return candles, nil
}

// ListSeries implements the SeriesReader interface.
func (m *MemoryStore) ListSeries(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	pairs := make([]string, 0, len(m.series))
	for pair := range m.series {
		pairs = append(pairs, pair)
	}
	m.mu.RUnlock()

	sort.Strings(pairs)
	return pairs, nil
}
