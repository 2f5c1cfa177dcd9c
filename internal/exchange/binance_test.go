package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	btcPair      = "BTCUSDT"
	testInterval = "1h"
)

var testStart = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

// klineRow renders one fixed-position kline array the way the Binance API
// returns it: open time, OHLCV, close time, quote volume, trade count,
// taker-buy volumes and an ignored field.
func klineRow(openTime time.Time) string {
	ms := openTime.UnixMilli()
	return fmt.Sprintf(`[%d,"47000.00","47500.00","46500.00","47200.00","1.23456789",%d,"58000.00",100,"0.5","23500.00","0"]`,
		ms, openTime.Add(time.Hour).UnixMilli()-1)
}

// klineServer serves a synthetic hourly dataset of total bars beginning at
// testStart, honoring the startTime and limit query parameters. Requested
// start times are recorded for pagination assertions.
func klineServer(t *testing.T, total int, startTimes *[]int64) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, klinesEndpoint, r.URL.Path)
		require.Equal(t, btcPair, r.URL.Query().Get("symbol"))
		require.Equal(t, testInterval, r.URL.Query().Get("interval"))

		startMs, err := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		require.NoError(t, err)
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		require.NoError(t, err)

		*startTimes = append(*startTimes, startMs)

		var rows []string
		for i := 0; i < total && len(rows) < limit; i++ {
			openTime := testStart.Add(time.Duration(i) * time.Hour)
			if openTime.UnixMilli() >= startMs {
				rows = append(rows, klineRow(openTime))
			}
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s]", strings.Join(rows, ","))
	}))
}

func newTestAdapter(serverURL string) *BinanceAdapter {
	adapter := NewBinanceAdapter()
	adapter.baseURL = serverURL
	adapter.rateLimiter = rate.NewLimiter(rate.Inf, 1)
	return adapter
}

func testRequest(pageSize int) FetchRequest {
	return FetchRequest{
		Pair:     btcPair,
		Interval: testInterval,
		Start:    testStart,
		End:      testStart.Add(30 * 24 * time.Hour),
		PageSize: pageSize,
	}
}

func TestNewBinanceAdapter_Defaults(t *testing.T) {
	adapter := NewBinanceAdapter()

	assert.Equal(t, binanceBaseURL, adapter.baseURL)
	assert.NotNil(t, adapter.httpClient)
	assert.NotNil(t, adapter.rateLimiter)

	limits := adapter.Limits()
	assert.Equal(t, maxRequestsPerSecond, limits.RequestsPerSecond)
	assert.Equal(t, rateLimitBurst, limits.BurstSize)
}

func TestFetchCandles_MultiPagePagination(t *testing.T) {
	// 25 bars with a page size of 10: three pages of 10, 10 and 5.
	var startTimes []int64
	server := klineServer(t, 25, &startTimes)
	defer server.Close()

	adapter := newTestAdapter(server.URL)

	resp, err := adapter.FetchCandles(context.Background(), testRequest(10))
	require.NoError(t, err)

	assert.Len(t, resp.Candles, 25)
	assert.Equal(t, 3, resp.Pages)
	require.Len(t, startTimes, 3)

	// Timestamps strictly increasing, no duplicates across page boundaries.
	for i := 1; i < len(resp.Candles); i++ {
		assert.True(t, resp.Candles[i].Timestamp.After(resp.Candles[i-1].Timestamp),
			"candle %d not after its predecessor", i)
	}

	// Each follow-up page starts one millisecond past the last returned bar,
	// never re-requesting covered time.
	assert.Equal(t, testStart.UnixMilli(), startTimes[0])
	assert.Equal(t, testStart.Add(9*time.Hour).UnixMilli()+1, startTimes[1])
	assert.Equal(t, testStart.Add(19*time.Hour).UnixMilli()+1, startTimes[2])

	first := resp.Candles[0]
	assert.Equal(t, testStart, first.Timestamp)
	assert.Equal(t, "47000.00", first.Open)
	assert.Equal(t, "47200.00", first.Close)
	assert.Equal(t, btcPair, first.Pair)
	assert.Equal(t, testInterval, first.Interval)
}

func TestFetchCandles_ShortPageTerminates(t *testing.T) {
	var startTimes []int64
	server := klineServer(t, 7, &startTimes)
	defer server.Close()

	adapter := newTestAdapter(server.URL)

	resp, err := adapter.FetchCandles(context.Background(), testRequest(10))
	require.NoError(t, err)

	assert.Len(t, resp.Candles, 7)
	assert.Equal(t, 1, resp.Pages)
	assert.Len(t, startTimes, 1, "a short page must end the walk without another request")
}

func TestFetchCandles_EmptyRange(t *testing.T) {
	var startTimes []int64
	server := klineServer(t, 0, &startTimes)
	defer server.Close()

	adapter := newTestAdapter(server.URL)

	resp, err := adapter.FetchCandles(context.Background(), testRequest(10))
	require.NoError(t, err)

	assert.Empty(t, resp.Candles)
	assert.Equal(t, 1, resp.Pages)
}

func TestFetchCandles_NonSuccessStatus(t *testing.T) {
	const errorBody = `{"code":-1121,"msg":"Invalid symbol."}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, errorBody)
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)

	resp, err := adapter.FetchCandles(context.Background(), testRequest(10))
	require.Error(t, err)
	assert.Nil(t, resp)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, btcPair, fetchErr.Pair)
	assert.Equal(t, http.StatusBadRequest, fetchErr.StatusCode)
	assert.Equal(t, errorBody, fetchErr.Body, "fetch errors must carry the raw response body")
}

func TestFetchCandles_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[["not a number","47000.00"]]`)
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)

	_, err := adapter.FetchCandles(context.Background(), testRequest(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kline 0")
}

func TestFetchCandles_InvalidRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *FetchRequest)
	}{
		{name: "empty_pair", mutate: func(r *FetchRequest) { r.Pair = "" }},
		{name: "empty_interval", mutate: func(r *FetchRequest) { r.Interval = "" }},
		{name: "zero_start", mutate: func(r *FetchRequest) { r.Start = time.Time{} }},
		{name: "zero_end", mutate: func(r *FetchRequest) { r.End = time.Time{} }},
		{name: "end_before_start", mutate: func(r *FetchRequest) { r.End = r.Start.Add(-time.Hour) }},
		{name: "negative_page_size", mutate: func(r *FetchRequest) { r.PageSize = -1 }},
	}

	adapter := NewBinanceAdapter()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest(10)
			tt.mutate(&req)

			_, err := adapter.FetchCandles(context.Background(), req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid request")
		})
	}
}

func TestFetchCandles_ContextCancellation(t *testing.T) {
	var startTimes []int64
	server := klineServer(t, 25, &startTimes)
	defer server.Close()

	adapter := newTestAdapter(server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := adapter.FetchCandles(ctx, testRequest(10))
	require.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, pingEndpoint, r.URL.Path)
			fmt.Fprint(w, `{}`)
		}))
		defer server.Close()

		adapter := newTestAdapter(server.URL)
		assert.NoError(t, adapter.HealthCheck(context.Background()))
	})

	t.Run("unhealthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		adapter := newTestAdapter(server.URL)
		assert.Error(t, adapter.HealthCheck(context.Background()))
	})
}

func TestParseKlines(t *testing.T) {
	t.Run("valid_rows", func(t *testing.T) {
		body := fmt.Sprintf("[%s,%s]", klineRow(testStart), klineRow(testStart.Add(time.Hour)))

		klines, err := parseKlines([]byte(body))
		require.NoError(t, err)
		require.Len(t, klines, 2)
		assert.Equal(t, testStart.UnixMilli(), klines[0].OpenTime)
		assert.Equal(t, "47000.00", klines[0].Open)
		assert.Equal(t, "1.23456789", klines[0].Volume)
	})

	t.Run("truncated_row", func(t *testing.T) {
		_, err := parseKlines([]byte(`[[1640995200000,"1","2"]]`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected at least 6")
	})

	t.Run("not_an_array", func(t *testing.T) {
		_, err := parseKlines([]byte(`{"code":0}`))
		require.Error(t, err)
	})
}
