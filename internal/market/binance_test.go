package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sharpefolio/internal/config"
)

// klinesServer serves count daily klines starting at base from /api/v3/klines
type klinesServer struct {
	base     time.Time
	count    int
	requests atomic.Int32
	failures atomic.Int32 // leading requests answered with an internal error
}

func (k *klinesServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	k.requests.Add(1)
	if r.URL.Path != "/api/v3/klines" {
		http.NotFound(w, r)
		return
	}
	if k.failures.Load() > 0 {
		k.failures.Add(-1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":-1001,"msg":"Internal error; unable to process your request."}`))
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	startMs, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
	endMs, _ := strconv.ParseInt(q.Get("endTime"), 10, 64)

	var rows [][]any
	first := 0
	if q.Get("startTime") == "" {
		// Without a start the endpoint returns the latest page
		first = max(0, k.count-limit)
	}
	for i := first; i < k.count && len(rows) < limit; i++ {
		open := k.base.AddDate(0, 0, i).UnixMilli()
		if open < startMs || (endMs > 0 && open > endMs) {
			continue
		}
		price := strconv.FormatFloat(100+float64(i), 'f', 2, 64)
		rows = append(rows, []any{
			open, price, price, price, price, "10.0",
			open + 86_399_999, "1000.0", 42, "5.0", "500.0", "0",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}

func newTestBinanceSource(t *testing.T, k *klinesServer) *BinanceSource {
	t.Helper()
	srv := httptest.NewServer(k)
	t.Cleanup(srv.Close)

	src := NewBinanceSource(config.BinanceConfig{BaseURL: srv.URL, RequestsPerSecond: 1000}, "1d")
	src.retry = fastRetry()
	src.now = func() time.Time { return k.base.AddDate(0, 0, k.count) }
	return src
}

func TestBinanceSource_Series(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	k := &klinesServer{base: base, count: 30}
	src := newTestBinanceSource(t, k)

	assert.Equal(t, "binance", src.Name())

	series, err := src.Series(context.Background(), "BTCUSDT", base.AddDate(0, 0, 10), base.AddDate(0, 0, 14))
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", series.Asset)
	assert.Equal(t, []float64{110, 111, 112, 113, 114}, series.Closes)
	assert.Equal(t, base.AddDate(0, 0, 10), series.Dates[0])
	assert.Equal(t, int32(1), k.requests.Load())
}

func TestBinanceSource_Pagination(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	k := &klinesServer{base: base, count: klinesPageLimit + 250}
	src := newTestBinanceSource(t, k)

	candles, err := src.Candles(context.Background(), "ETHUSDT", base, time.Time{})
	require.NoError(t, err)
	assert.Len(t, candles, klinesPageLimit+250)
	assert.Equal(t, int32(2), k.requests.Load())

	for i := 1; i < len(candles); i++ {
		require.True(t, candles[i].OpenTime.After(candles[i-1].OpenTime), "candles ascend without duplicates")
	}
	assert.Equal(t, 10.0, candles[0].Volume)
}

func TestBinanceSource_LatestPageWithoutStart(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	k := &klinesServer{base: base, count: klinesPageLimit + 250}
	src := newTestBinanceSource(t, k)

	candles, err := src.Candles(context.Background(), "ETHUSDT", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, candles, klinesPageLimit)
	assert.Equal(t, int32(1), k.requests.Load())
}

func TestBinanceSource_RetriesInternalErrors(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	k := &klinesServer{base: base, count: 5}
	k.failures.Store(2)
	src := newTestBinanceSource(t, k)

	series, err := src.Series(context.Background(), "BTCUSDT", base, time.Time{})
	require.NoError(t, err)
	assert.Len(t, series.Closes, 5)
	assert.Equal(t, int32(3), k.requests.Load())
}

func TestBinanceSource_Empty(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	k := &klinesServer{base: base, count: 5}
	src := newTestBinanceSource(t, k)

	_, err := src.Series(context.Background(), "BTCUSDT", base.AddDate(1, 0, 0), base.AddDate(1, 1, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no prices found for BTCUSDT")
}
