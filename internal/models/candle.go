// Package models provides the core data structures for historical kline data.
// A Candle is one interval's market snapshot; a series is an ordered slice of
// candles for a single trading pair. Candles are immutable once fetched.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents OHLCV price and volume data for a trading pair over one
// fixed interval. Price and volume fields are decimal strings exactly as
// returned by the exchange, preserving the source precision.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      string    `json:"open"`
	High      string    `json:"high"`
	Low       string    `json:"low"`
	Close     string    `json:"close"`
	Volume    string    `json:"volume"`
	Pair      string    `json:"pair"`
	Interval  string    `json:"interval"`
}

// ValidationError reports a candle field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks that the candle carries a usable timestamp, that every
// price field parses as a positive decimal, that volume is non-negative,
// and that the OHLC relationships hold (high >= max(open, close),
// low <= min(open, close)).
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be zero"}
	}

	open, err := decimal.NewFromString(c.Open)
	if err != nil {
		return &ValidationError{Field: "open", Message: fmt.Sprintf("invalid open price: %v", err)}
	}
	high, err := decimal.NewFromString(c.High)
	if err != nil {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("invalid high price: %v", err)}
	}
	low, err := decimal.NewFromString(c.Low)
	if err != nil {
		return &ValidationError{Field: "low", Message: fmt.Sprintf("invalid low price: %v", err)}
	}
	close, err := decimal.NewFromString(c.Close)
	if err != nil {
		return &ValidationError{Field: "close", Message: fmt.Sprintf("invalid close price: %v", err)}
	}
	volume, err := decimal.NewFromString(c.Volume)
	if err != nil {
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("invalid volume: %v", err)}
	}

	if open.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "open", Message: "open price must be greater than 0"}
	}
	if high.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "high", Message: "high price must be greater than 0"}
	}
	if low.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "low", Message: "low price must be greater than 0"}
	}
	if close.LessThanOrEqual(decimal.Zero) {
		return &ValidationError{Field: "close", Message: "close price must be greater than 0"}
	}
	if volume.LessThan(decimal.Zero) {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	if high.LessThan(decimal.Max(open, close)) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be >= max(open, close)", high),
		}
	}
	if low.GreaterThan(decimal.Min(open, close)) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be <= min(open, close)", low),
		}
	}

	if c.Pair == "" {
		return &ValidationError{Field: "pair", Message: "pair cannot be empty"}
	}
	if c.Interval == "" {
		return &ValidationError{Field: "interval", Message: "interval cannot be empty"}
	}

	return nil
}

// CloseDecimal returns the close price as a decimal.Decimal for precise
// comparisons. Returns an error if the close string cannot be parsed.
func (c *Candle) CloseDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Close)
}

// String implements fmt.Stringer with all key candle fields.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{Pair: %s, Interval: %s, Timestamp: %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		c.Pair, c.Interval, c.Timestamp.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
}

// NewCandle creates and validates a Candle. Price and volume values are
// decimal strings; the timestamp is the open time of the interval.
func NewCandle(timestamp time.Time, open, high, low, close, volume, pair, interval string) (*Candle, error) {
	candle := &Candle{
		Timestamp: timestamp,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		Pair:      pair,
		Interval:  interval,
	}

	if err := candle.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create candle: %w", err)
	}

	return candle, nil
}

// SortedByTimestamp reports whether candles are strictly increasing by
// timestamp with no duplicates. Fetched series must satisfy this before they
// are persisted.
func SortedByTimestamp(candles []Candle) bool {
	for i := 1; i < len(candles); i++ {
		if !candles[i].Timestamp.After(candles[i-1].Timestamp) {
			return false
		}
	}
	return true
}
