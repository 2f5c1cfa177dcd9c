// Package collector drives the historical backfill batch: it walks a list of
// trading pairs sequentially, fetches each pair's full candle history through
// an exchange adapter, and persists every series through a SeriesWriter.
//
// Per-pair failures are recorded and logged but never abort the remaining
// pairs. The only suspension point is the request budget's window sleep.
package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tmckay/go-kline-backfill/internal/exchange"
	"github.com/tmckay/go-kline-backfill/internal/storage"
)

// Config holds the batch parameters shared by every pair in a run.
type Config struct {
	// Interval is the candle interval, e.g. "1h".
	Interval string

	// Start and End bound the fetched range.
	Start time.Time
	End   time.Time

	// PageSize is the maximum rows per page request.
	PageSize int

	// RequestBudget is the number of request-equivalents allowed per
	// BudgetWindow before the batch suspends.
	RequestBudget int

	// BudgetWindow is the suspension window, 60s unless overridden.
	BudgetWindow time.Duration
}

// DefaultConfig returns batch parameters matching a five-year hourly
// backfill.
func DefaultConfig() *Config {
	return &Config{
		Interval:      "1h",
		Start:         time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:           time.Now().UTC(),
		PageSize:      1000,
		RequestBudget: 4000,
		BudgetWindow:  60 * time.Second,
	}
}

// PairResult is the outcome of one pair's fetch-and-persist.
type PairResult struct {
	Pair    string
	Candles int
	Pages   int
	Err     error
}

// RunReport summarizes one batch run.
type RunReport struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Results  []PairResult
}

// Failed returns the results of pairs that did not complete.
func (r *RunReport) Failed() []PairResult {
	var failed []PairResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Collector runs the backfill batch.
type Collector struct {
	fetcher exchange.CandleFetcher
	store   storage.SeriesWriter
	budget  *RequestBudget
	config  *Config
	logger  *slog.Logger
}

// New creates a Collector. A nil config selects DefaultConfig.
func New(fetcher exchange.CandleFetcher, store storage.SeriesWriter, config *Config, logger *slog.Logger) *Collector {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BudgetWindow == 0 {
		config.BudgetWindow = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		fetcher: fetcher,
		store:   store,
		budget:  NewRequestBudget(config.RequestBudget, config.BudgetWindow, logger),
		config:  config,
		logger:  logger,
	}
}

// Run fetches and persists every pair in order. Pairs are processed
// sequentially with no parallelism; a pair's failure is logged and recorded
// in the report while the batch continues. Run returns an error only when
// the context is cancelled, in which case the report covers the pairs
// processed so far.
func (c *Collector) Run(ctx context.Context, pairs []string) (*RunReport, error) {
	report := &RunReport{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
	}
	logger := c.logger.With("run_id", report.RunID)

	logger.Info("starting backfill run",
		"pairs", len(pairs),
		"interval", c.config.Interval,
		"start", c.config.Start,
		"end", c.config.End)

	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			report.Finished = time.Now().UTC()
			return report, err
		}

		result := c.processPair(ctx, logger, pair)
		report.Results = append(report.Results, result)

		if result.Err != nil {
			if ctx.Err() != nil {
				report.Finished = time.Now().UTC()
				return report, ctx.Err()
			}
			continue
		}

		if err := c.budget.Consume(ctx, result.Pages); err != nil {
			report.Finished = time.Now().UTC()
			return report, err
		}
	}

	report.Finished = time.Now().UTC()
	logger.Info("backfill run finished",
		"pairs", len(report.Results),
		"failed", len(report.Failed()),
		"duration", report.Finished.Sub(report.Started))

	return report, nil
}

// processPair fetches one pair's series and persists it, returning the
// outcome without propagating the error.
func (c *Collector) processPair(ctx context.Context, logger *slog.Logger, pair string) PairResult {
	logger.Info("fetching pair", "pair", pair)

	resp, err := c.fetcher.FetchCandles(ctx, exchange.FetchRequest{
		Pair:     pair,
		Interval: c.config.Interval,
		Start:    c.config.Start,
		End:      c.config.End,
		PageSize: c.config.PageSize,
	})
	if err != nil {
		logger.Error("pair fetch failed", "pair", pair, "error", err)
		return PairResult{Pair: pair, Err: err}
	}

	if err := c.store.WriteSeries(ctx, pair, resp.Candles); err != nil {
		logger.Error("pair persist failed", "pair", pair, "error", err)
		return PairResult{Pair: pair, Pages: resp.Pages, Err: err}
	}

	logger.Info("pair complete",
		"pair", pair,
		"candles", len(resp.Candles),
		"pages", resp.Pages)

	return PairResult{Pair: pair, Candles: len(resp.Candles), Pages: resp.Pages}
}
