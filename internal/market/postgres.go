package market

import (
	"context"
	"time"

	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

// SeriesLoader is implemented by db.CandleStore
type SeriesLoader interface {
	LoadSeries(ctx context.Context, symbol, interval string, start, end time.Time) (portfolio.Series, error)
}

// PostgresSource reads close prices from the candlesticks table
type PostgresSource struct {
	candles  SeriesLoader
	interval string
}

// NewPostgresSource creates a source over stored candlesticks of interval
func NewPostgresSource(candles SeriesLoader, interval string) *PostgresSource {
	return &PostgresSource{candles: candles, interval: interval}
}

// Name implements Source
func (s *PostgresSource) Name() string {
	return "postgres"
}

// Series implements Source
func (s *PostgresSource) Series(ctx context.Context, asset string, start, end time.Time) (portfolio.Series, error) {
	return s.candles.LoadSeries(ctx, asset, s.interval, start, end)
}
