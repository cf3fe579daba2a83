package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/internal/db"
)

// ingestBatchSize keeps one insert below the PostgreSQL parameter limit
const ingestBatchSize = 1000

// CandleFetcher is implemented by BinanceSource
type CandleFetcher interface {
	Candles(ctx context.Context, symbol string, start, end time.Time) ([]db.Candle, error)
}

// CandleWriter is implemented by db.CandleStore
type CandleWriter interface {
	LatestOpenTime(ctx context.Context, symbol, interval string) (time.Time, error)
	SaveCandles(ctx context.Context, symbol, interval string, candles []db.Candle) error
}

// Ingester copies exchange candles into the candlesticks table, resuming
// after the newest stored candle of each symbol
type Ingester struct {
	fetcher  CandleFetcher
	writer   CandleWriter
	interval string
	now      func() time.Time
}

// NewIngester creates an ingester for interval
func NewIngester(fetcher CandleFetcher, writer CandleWriter, interval string) *Ingester {
	return &Ingester{fetcher: fetcher, writer: writer, interval: interval, now: time.Now}
}

// Ingest stores candles of symbol newer than the stored ones. When nothing is
// stored yet it starts from since. It returns the number of candles saved.
func (i *Ingester) Ingest(ctx context.Context, symbol string, since time.Time) (int, error) {
	latest, err := i.writer.LatestOpenTime(ctx, symbol, i.interval)
	if err != nil {
		return 0, err
	}

	start := since
	if !latest.IsZero() {
		start = latest.Add(time.Millisecond)
	}
	end := i.now().UTC()
	if !start.Before(end) {
		return 0, nil
	}

	candles, err := i.fetcher.Candles(ctx, symbol, start, end)
	if errors.Is(err, ErrNoPrices) {
		log.Info().Str("symbol", symbol).Msg("Candles already up to date")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	for lo := 0; lo < len(candles); lo += ingestBatchSize {
		hi := min(lo+ingestBatchSize, len(candles))
		if err := i.writer.SaveCandles(ctx, symbol, i.interval, candles[lo:hi]); err != nil {
			return lo, fmt.Errorf("failed to ingest %s: %w", symbol, err)
		}
	}

	log.Info().
		Str("symbol", symbol).
		Str("interval", i.interval).
		Int("candles", len(candles)).
		Time("from", candles[0].OpenTime).
		Time("to", candles[len(candles)-1].OpenTime).
		Msg("Candles ingested")

	return len(candles), nil
}
