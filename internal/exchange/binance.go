// Binance adapter for historical kline collection.
//
// Uses the public /api/v3/klines endpoint. Responses are JSON arrays of
// fixed-position arrays; only the open time and the OHLCV fields are kept.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tmckay/go-kline-backfill/internal/models"
	"golang.org/x/time/rate"
)

const (
	binanceBaseURL = "https://api.binance.com"

	klinesEndpoint = "/api/v3/klines"
	pingEndpoint   = "/api/v3/ping"

	// Request pacing. Binance weights klines requests against a per-minute
	// budget; a conservative per-second pace keeps a long backfill well
	// inside it.
	maxRequestsPerSecond = 10
	rateLimitBurst       = 1

	// A klines page holds at most 1000 rows.
	maxKlinesPerRequest = 1000

	requestTimeout     = 30 * time.Second
	healthCheckTimeout = 5 * time.Second
)

// BinanceAdapter implements the Adapter interface against the Binance
// public REST API.
type BinanceAdapter struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger
}

// NewBinanceAdapter creates a Binance adapter with default pacing and
// transport configuration.
func NewBinanceAdapter() *BinanceAdapter {
	return &BinanceAdapter{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(maxRequestsPerSecond), rateLimitBurst),
		baseURL:     binanceBaseURL,
		logger:      slog.Default(),
	}
}

// NewBinanceAdapterWithLogger creates a Binance adapter with a custom logger.
func NewBinanceAdapterWithLogger(logger *slog.Logger) *BinanceAdapter {
	adapter := NewBinanceAdapter()
	adapter.logger = logger
	return adapter
}

// FetchCandles implements the CandleFetcher interface.
//
// The range is walked page by page: each request carries the interval, a
// start bound, the end bound and the page size, and the next page starts one
// millisecond past the last returned open time, so pages never overlap and
// never leave gaps. The walk terminates on an empty page (range exhausted) or
// a page shorter than the page size (end of available data).
func (b *BinanceAdapter) FetchCandles(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	pageSize := req.PageSize
	if pageSize == 0 || pageSize > maxKlinesPerRequest {
		pageSize = maxKlinesPerRequest
	}

	b.logger.Debug("fetching klines from Binance",
		"pair", req.Pair,
		"start", req.Start,
		"end", req.End,
		"interval", req.Interval,
		"page_size", pageSize)

	startMs := req.Start.UnixMilli()
	endMs := req.End.UnixMilli()

	candles := make([]models.Candle, 0, pageSize)
	pages := 0

	for {
		if err := b.WaitForLimit(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}

		page, err := b.fetchKlinesPage(ctx, req.Pair, req.Interval, startMs, endMs, pageSize)
		if err != nil {
			return nil, err
		}
		pages++

		if len(page) == 0 {
			break
		}

		for _, k := range page {
			candle, err := b.convertKline(k, req.Pair, req.Interval)
			if err != nil {
				b.logger.Warn("skipping unconvertible kline",
					"pair", req.Pair,
					"error", err)
				continue
			}
			candles = append(candles, *candle)
		}

		// Next page starts one millisecond past the last returned bar.
		startMs = page[len(page)-1].OpenTime + 1

		if len(page) < pageSize {
			break
		}
	}

	b.logger.Debug("fetched klines",
		"pair", req.Pair,
		"count", len(candles),
		"pages", pages)

	return &FetchResponse{Candles: candles, Pages: pages}, nil
}

// Limits implements the RateLimitInfo interface.
func (b *BinanceAdapter) Limits() RateLimit {
	return RateLimit{
		RequestsPerSecond: maxRequestsPerSecond,
		BurstSize:         rateLimitBurst,
	}
}

// WaitForLimit implements the RateLimitInfo interface.
func (b *BinanceAdapter) WaitForLimit(ctx context.Context) error {
	return b.rateLimiter.Wait(ctx)
}

// HealthCheck implements the HealthChecker interface using the unauthenticated
// ping endpoint.
func (b *BinanceAdapter) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(healthCtx, http.MethodGet, b.baseURL+pingEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	return nil
}

// binanceKline holds the fields kept from one fixed-position kline array:
// open time (ms epoch) and the OHLCV decimal strings. The trailing fields
// (close time, quote volume, trade count, taker volumes) are discarded.
type binanceKline struct {
	OpenTime int64
	Open     string
	High     string
	Low      string
	Close    string
	Volume   string
}

// fetchKlinesPage issues a single page request. A non-2xx status returns a
// *FetchError carrying the raw response body; there is no retry.
func (b *BinanceAdapter) fetchKlinesPage(ctx context.Context, pair, interval string, startMs, endMs int64, pageSize int) ([]binanceKline, error) {
	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("interval", interval)
	params.Set("startTime", strconv.FormatInt(startMs, 10))
	params.Set("endTime", strconv.FormatInt(endMs, 10))
	params.Set("limit", strconv.Itoa(pageSize))

	requestURL := b.baseURL + klinesEndpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "go-kline-backfill/1.0")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			Pair:       pair,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	return parseKlines(body)
}

// parseKlines decodes a klines response. Each kline is a twelve-element
// array: open time, open, high, low, close, volume, close time, quote asset
// volume, trade count, taker-buy-base, taker-buy-quote, and an ignored field.
func parseKlines(body []byte) ([]binanceKline, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse klines response: %w", err)
	}

	klines := make([]binanceKline, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline %d has %d fields, expected at least 6", i, len(row))
		}

		var k binanceKline
		if err := json.Unmarshal(row[0], &k.OpenTime); err != nil {
			return nil, fmt.Errorf("kline %d: invalid open time: %w", i, err)
		}
		fields := []struct {
			dst *string
			pos int
		}{
			{&k.Open, 1},
			{&k.High, 2},
			{&k.Low, 3},
			{&k.Close, 4},
			{&k.Volume, 5},
		}
		for _, f := range fields {
			if err := json.Unmarshal(row[f.pos], f.dst); err != nil {
				return nil, fmt.Errorf("kline %d: invalid field %d: %w", i, f.pos, err)
			}
		}

		klines = append(klines, k)
	}

	return klines, nil
}

// convertKline converts a decoded kline into the internal candle model,
// validating it in the process.
func (b *BinanceAdapter) convertKline(k binanceKline, pair, interval string) (*models.Candle, error) {
	timestamp := time.UnixMilli(k.OpenTime).UTC()
	return models.NewCandle(timestamp, k.Open, k.High, k.Low, k.Close, k.Volume, pair, interval)
}
