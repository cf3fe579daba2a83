package market

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sharpefolio/internal/db"
)

type fakeFetcher struct {
	candles    []db.Candle
	err        error
	start, end time.Time
	calls      int
}

func (f *fakeFetcher) Candles(_ context.Context, symbol string, start, end time.Time) ([]db.Candle, error) {
	f.calls++
	f.start, f.end = start, end
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

type fakeWriter struct {
	latest  time.Time
	batches [][]db.Candle
	saveErr error
}

func (w *fakeWriter) LatestOpenTime(_ context.Context, _, _ string) (time.Time, error) {
	return w.latest, nil
}

func (w *fakeWriter) SaveCandles(_ context.Context, _, _ string, candles []db.Candle) error {
	if w.saveErr != nil {
		return w.saveErr
	}
	w.batches = append(w.batches, candles)
	return nil
}

func dailyCandles(n int) []db.Candle {
	candles := make([]db.Candle, n)
	for i := range candles {
		candles[i] = db.Candle{OpenTime: day(1).AddDate(0, 0, i), Close: float64(100 + i)}
	}
	return candles
}

func newTestIngester(f *fakeFetcher, w *fakeWriter) *Ingester {
	ing := NewIngester(f, w, "1d")
	ing.now = func() time.Time { return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC) }
	return ing
}

func TestIngest_FromScratchInBatches(t *testing.T) {
	f := &fakeFetcher{candles: dailyCandles(2500)}
	w := &fakeWriter{}
	since := day(1)

	n, err := newTestIngester(f, w).Ingest(context.Background(), "BTCUSDT", since)
	require.NoError(t, err)
	assert.Equal(t, 2500, n)
	assert.Equal(t, since, f.start)

	require.Len(t, w.batches, 3)
	assert.Len(t, w.batches[0], 1000)
	assert.Len(t, w.batches[2], 500)
}

func TestIngest_ResumesAfterLatest(t *testing.T) {
	latest := day(10)
	f := &fakeFetcher{candles: dailyCandles(1)}
	w := &fakeWriter{latest: latest}

	_, err := newTestIngester(f, w).Ingest(context.Background(), "BTCUSDT", day(1))
	require.NoError(t, err)
	assert.Equal(t, latest.Add(time.Millisecond), f.start)
}

func TestIngest_UpToDate(t *testing.T) {
	f := &fakeFetcher{err: fmt.Errorf("%w for BTCUSDT", ErrNoPrices)}
	w := &fakeWriter{}

	n, err := newTestIngester(f, w).Ingest(context.Background(), "BTCUSDT", day(1))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.batches)
}

func TestIngest_LatestInFuture(t *testing.T) {
	f := &fakeFetcher{}
	w := &fakeWriter{latest: time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)}

	n, err := newTestIngester(f, w).Ingest(context.Background(), "BTCUSDT", day(1))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.calls)
}

func TestIngest_Errors(t *testing.T) {
	_, err := newTestIngester(&fakeFetcher{err: errors.New("code=-1003")}, &fakeWriter{}).
		Ingest(context.Background(), "BTCUSDT", day(1))
	assert.ErrorContains(t, err, "code=-1003")

	_, err = newTestIngester(&fakeFetcher{candles: dailyCandles(3)}, &fakeWriter{saveErr: errors.New("conn reset")}).
		Ingest(context.Background(), "BTCUSDT", day(1))
	assert.ErrorContains(t, err, "failed to ingest BTCUSDT")
}
