// Aligned closing-price tables for a fixed asset universe
package portfolio

import (
	"fmt"
	"slices"
	"time"
)

// Series holds one asset's closing prices in trade-date order. Dates may be
// nil when the source carries no calendar; such series align by row position.
type Series struct {
	Asset  string      `json:"asset"`
	Dates  []time.Time `json:"dates,omitempty"`
	Closes []float64   `json:"closes"`
}

// PriceHistory is a table of closing prices with one row per trade date and
// one column per asset. It is immutable once built and safe for concurrent reads.
type PriceHistory struct {
	assets []string
	dates  []time.Time
	closes [][]float64 // closes[t][asset]

	diffs [][]float64 // closes[t+1] - closes[t]
	pcts  [][]float64 // diffs relative to closes[t]
}

// NewPriceHistory builds a history from a row-major price table. dates may be
// nil; otherwise it needs one entry per row. At least two rows are required
// so that one day-over-day change exists.
func NewPriceHistory(assets []string, dates []time.Time, closes [][]float64) (*PriceHistory, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("price history needs at least one asset")
	}
	if len(closes) < 2 {
		return nil, fmt.Errorf("price history needs at least 2 rows, got %d", len(closes))
	}
	if dates != nil && len(dates) != len(closes) {
		return nil, fmt.Errorf("price history has %d dates for %d rows", len(dates), len(closes))
	}

	h := &PriceHistory{
		assets: slices.Clone(assets),
		closes: make([][]float64, len(closes)),
	}
	if dates != nil {
		h.dates = slices.Clone(dates)
	}

	for t, row := range closes {
		if len(row) != len(assets) {
			return nil, fmt.Errorf("row %d has %d prices for %d assets", t, len(row), len(assets))
		}
		h.closes[t] = slices.Clone(row)
	}

	h.diffs = make([][]float64, len(closes)-1)
	h.pcts = make([][]float64, len(closes)-1)
	for t := 1; t < len(closes); t++ {
		prev, cur := h.closes[t-1], h.closes[t]
		diff := make([]float64, len(assets))
		pct := make([]float64, len(assets))
		for i := range cur {
			diff[i] = cur[i] - prev[i]
			pct[i] = diff[i] / prev[i]
		}
		h.diffs[t-1] = diff
		h.pcts[t-1] = pct
	}

	return h, nil
}

// Align joins per-asset series into one history. When every series is dated
// the rows are the trade dates common to all assets, in ascending order.
// Otherwise rows align by position and are cut to the shortest series.
func Align(series ...Series) (*PriceHistory, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("no series to align")
	}

	assets := make([]string, len(series))
	dated := true
	for i, s := range series {
		assets[i] = s.Asset
		if s.Dates == nil {
			dated = false
		} else if len(s.Dates) != len(s.Closes) {
			return nil, fmt.Errorf("series %s has %d dates for %d closes", s.Asset, len(s.Dates), len(s.Closes))
		}
	}

	if !dated {
		rows := len(series[0].Closes)
		for _, s := range series[1:] {
			rows = min(rows, len(s.Closes))
		}
		closes := make([][]float64, rows)
		for t := range closes {
			closes[t] = make([]float64, len(series))
			for i, s := range series {
				closes[t][i] = s.Closes[t]
			}
		}
		return NewPriceHistory(assets, nil, closes)
	}

	// Index every series by calendar day and keep the days all assets share
	byDay := make([]map[string]float64, len(series))
	for i, s := range series {
		byDay[i] = make(map[string]float64, len(s.Dates))
		for t, d := range s.Dates {
			byDay[i][dayKey(d)] = s.Closes[t]
		}
	}

	var dates []time.Time
	seen := make(map[string]bool)
	for _, d := range series[0].Dates {
		key := dayKey(d)
		if seen[key] {
			continue
		}
		seen[key] = true

		shared := true
		for _, idx := range byDay[1:] {
			if _, ok := idx[key]; !ok {
				shared = false
				break
			}
		}
		if shared {
			dates = append(dates, day(d))
		}
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })

	closes := make([][]float64, len(dates))
	for t, d := range dates {
		key := dayKey(d)
		closes[t] = make([]float64, len(series))
		for i := range series {
			closes[t][i] = byDay[i][key]
		}
	}

	return NewPriceHistory(assets, dates, closes)
}

// Assets returns the asset names in column order
func (h *PriceHistory) Assets() []string {
	return slices.Clone(h.assets)
}

// NumAssets returns the number of columns
func (h *PriceHistory) NumAssets() int {
	return len(h.assets)
}

// Len returns the number of trade dates
func (h *PriceHistory) Len() int {
	return len(h.closes)
}

// Dates returns the trade dates, or nil for an undated history
func (h *PriceHistory) Dates() []time.Time {
	return slices.Clone(h.dates)
}

// Closes returns a copy of the row-major price table
func (h *PriceHistory) Closes() [][]float64 {
	out := make([][]float64, len(h.closes))
	for t, row := range h.closes {
		out[t] = slices.Clone(row)
	}
	return out
}

// Column returns the closing prices of one asset
func (h *PriceHistory) Column(asset int) []float64 {
	col := make([]float64, len(h.closes))
	for t, row := range h.closes {
		col[t] = row[asset]
	}
	return col
}

// Period returns the first and last trade dates; both are zero when undated
func (h *PriceHistory) Period() (time.Time, time.Time) {
	if len(h.dates) == 0 {
		return time.Time{}, time.Time{}
	}
	return h.dates[0], h.dates[len(h.dates)-1]
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
