package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPair     = "BTCUSDT"
	testInterval = "1h"
)

var testTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestNewCandle_ValidData(t *testing.T) {
	tests := []struct {
		name   string
		open   string
		high   string
		low    string
		close  string
		volume string
	}{
		{
			name:   "bullish_candle",
			open:   "42000.00",
			high:   "42550.50",
			low:    "41900.25",
			close:  "42400.00",
			volume: "1500.75",
		},
		{
			name:   "bearish_candle",
			open:   "42000.00",
			high:   "42100.00",
			low:    "41200.50",
			close:  "41350.75",
			volume: "2000.00",
		},
		{
			name:   "zero_volume",
			open:   "42000.00",
			high:   "42050.00",
			low:    "41950.00",
			close:  "42025.00",
			volume: "0",
		},
		{
			name:   "high_precision",
			open:   "0.00001234",
			high:   "0.00001299",
			low:    "0.00001111",
			close:  "0.00001255",
			volume: "1234.567890123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candle, err := NewCandle(testTime, tt.open, tt.high, tt.low, tt.close, tt.volume, testPair, testInterval)

			require.NoError(t, err)
			require.NotNil(t, candle)
			assert.Equal(t, testTime, candle.Timestamp)
			assert.Equal(t, tt.open, candle.Open)
			assert.Equal(t, tt.close, candle.Close)
			assert.Equal(t, testPair, candle.Pair)
			assert.Equal(t, testInterval, candle.Interval)
		})
	}
}

func TestCandle_Validate_InvalidData(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(c *Candle)
		errorField string
	}{
		{
			name:       "zero_timestamp",
			mutate:     func(c *Candle) { c.Timestamp = time.Time{} },
			errorField: "timestamp",
		},
		{
			name:       "unparseable_open",
			mutate:     func(c *Candle) { c.Open = "not-a-number" },
			errorField: "open",
		},
		{
			name:       "negative_close",
			mutate:     func(c *Candle) { c.Close = "-1"; c.Low = "-1" },
			errorField: "low",
		},
		{
			name:       "negative_volume",
			mutate:     func(c *Candle) { c.Volume = "-0.5" },
			errorField: "volume",
		},
		{
			name:       "high_below_close",
			mutate:     func(c *Candle) { c.High = "41000.00" },
			errorField: "high",
		},
		{
			name:       "low_above_open",
			mutate:     func(c *Candle) { c.Low = "42500.00" },
			errorField: "low",
		},
		{
			name:       "empty_pair",
			mutate:     func(c *Candle) { c.Pair = "" },
			errorField: "pair",
		},
		{
			name:       "empty_interval",
			mutate:     func(c *Candle) { c.Interval = "" },
			errorField: "interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candle := Candle{
				Timestamp: testTime,
				Open:      "42000.00",
				High:      "42550.50",
				Low:       "41900.25",
				Close:     "42400.00",
				Volume:    "1500.75",
				Pair:      testPair,
				Interval:  testInterval,
			}
			tt.mutate(&candle)

			err := candle.Validate()
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.errorField, verr.Field)
		})
	}
}

func TestCandle_CloseDecimal(t *testing.T) {
	candle, err := NewCandle(testTime, "100.00", "105.00", "99.00", "104.50", "10", testPair, testInterval)
	require.NoError(t, err)

	close, err := candle.CloseDecimal()
	require.NoError(t, err)
	assert.Equal(t, "104.5", close.String())
}

func TestSortedByTimestamp(t *testing.T) {
	base := Candle{
		Open: "1", High: "2", Low: "0.5", Close: "1.5", Volume: "1",
		Pair: testPair, Interval: testInterval,
	}
	at := func(offset time.Duration) Candle {
		c := base
		c.Timestamp = testTime.Add(offset)
		return c
	}

	tests := []struct {
		name    string
		candles []Candle
		want    bool
	}{
		{name: "empty", candles: nil, want: true},
		{name: "single", candles: []Candle{at(0)}, want: true},
		{name: "increasing", candles: []Candle{at(0), at(time.Hour), at(2 * time.Hour)}, want: true},
		{name: "duplicate", candles: []Candle{at(0), at(0)}, want: false},
		{name: "out_of_order", candles: []Candle{at(time.Hour), at(0)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SortedByTimestamp(tt.candles))
		})
	}
}
