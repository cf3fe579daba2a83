// Package market loads aligned price histories for the optimizer from CSV
// files, the candlesticks table, or Binance klines, with optional Redis caching.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

// ErrNoPrices is returned when a source has no prices in the requested range
var ErrNoPrices = errors.New("no prices found")

// Source fetches the close series of a single asset. A zero start or end
// leaves that side of the range open.
type Source interface {
	Name() string
	Series(ctx context.Context, asset string, start, end time.Time) (portfolio.Series, error)
}

// inRange reports whether t falls in [start, end], treating zero bounds as open
func inRange(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}
