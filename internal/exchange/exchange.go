// Package exchange defines the interfaces for exchange adapters that provide
// historical kline data, plus the Binance implementation.
//
// The interfaces are small and composable: fetching, rate limit introspection
// and health checks are separate capabilities combined into Adapter.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/tmckay/go-kline-backfill/internal/models"
)

// CandleFetcher retrieves historical OHLCV candles from an exchange.
type CandleFetcher interface {
	// FetchCandles retrieves the complete candle history for one trading
	// pair over the requested range, following the exchange's pagination
	// until the range or the available data is exhausted.
	//
	// Implementations must:
	// - Return candles in chronological order (oldest first) with strictly
	//   increasing timestamps and no duplicates across page boundaries
	// - Report the number of HTTP requests issued so callers can budget
	//   request consumption
	// - Not retry failed requests; a non-success response surfaces as a
	//   *FetchError carrying the raw response body
	FetchCandles(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// RateLimitInfo exposes an adapter's request pacing configuration.
type RateLimitInfo interface {
	// Limits returns the pacing configuration applied to outgoing requests.
	Limits() RateLimit

	// WaitForLimit blocks until the pacer allows another request, or until
	// the context is cancelled.
	WaitForLimit(ctx context.Context) error
}

// HealthChecker verifies that the exchange endpoint is reachable.
type HealthChecker interface {
	// HealthCheck performs a lightweight connectivity check. It must not
	// consume meaningful rate limit quota.
	HealthCheck(ctx context.Context) error
}

// Adapter combines all exchange capabilities. This is the interface the
// batch driver depends on.
type Adapter interface {
	CandleFetcher
	RateLimitInfo
	HealthChecker
}

// FetchRequest specifies one pair's historical fetch.
type FetchRequest struct {
	// Pair is the exchange symbol, e.g. "BTCUSDT".
	Pair string

	// Interval is the candle interval, e.g. "1h".
	Interval string

	// Start is the beginning of the range (inclusive).
	Start time.Time

	// End is the end of the range (inclusive on the exchange side).
	End time.Time

	// PageSize is the maximum rows requested per page. Zero selects the
	// adapter's maximum.
	PageSize int
}

// Validate checks the request parameters.
func (r *FetchRequest) Validate() error {
	if r.Pair == "" {
		return &models.ValidationError{Field: "pair", Message: "trading pair cannot be empty"}
	}
	if r.Interval == "" {
		return &models.ValidationError{Field: "interval", Message: "interval cannot be empty"}
	}
	if r.Start.IsZero() {
		return &models.ValidationError{Field: "start", Message: "start time cannot be zero"}
	}
	if r.End.IsZero() {
		return &models.ValidationError{Field: "end", Message: "end time cannot be zero"}
	}
	if !r.End.After(r.Start) {
		return &models.ValidationError{Field: "end", Message: "end time must be after start time"}
	}
	if r.PageSize < 0 {
		return &models.ValidationError{Field: "page_size", Message: "page size cannot be negative"}
	}
	return nil
}

// FetchResponse contains the complete fetched series for one pair.
type FetchResponse struct {
	// Candles is the fetched series, oldest first.
	Candles []models.Candle

	// Pages is the number of HTTP requests issued to assemble the series.
	// The batch driver counts these against its request budget.
	Pages int
}

// RateLimit describes an adapter's request pacing configuration.
type RateLimit struct {
	RequestsPerSecond int
	BurstSize         int
}

// FetchError reports a non-success HTTP response from the exchange. The raw
// response body is preserved for diagnosis. Fetch errors are terminal for the
// pair being fetched; the adapter does not retry.
type FetchError struct {
	Pair       string
	StatusCode int
	Body       string
}

// Error implements the error interface for FetchError.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: status %d: %s", e.Pair, e.StatusCode, e.Body)
}
