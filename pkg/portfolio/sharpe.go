// Risk-adjusted performance of a weighted portfolio
package portfolio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear annualizes daily statistics
const TradingDaysPerYear = 252

// ReturnMode selects how day-over-day changes are measured
type ReturnMode string

const (
	// ReturnsDiff uses absolute price changes
	ReturnsDiff ReturnMode = "diff"
	// ReturnsPercent uses changes relative to the previous close
	ReturnsPercent ReturnMode = "pct"
)

// ParseReturnMode validates a configured return mode
func ParseReturnMode(s string) (ReturnMode, error) {
	switch ReturnMode(s) {
	case ReturnsDiff, ReturnsPercent:
		return ReturnMode(s), nil
	case "":
		return ReturnsDiff, nil
	default:
		return "", fmt.Errorf("unknown return mode %q (available: diff, pct)", s)
	}
}

// Metrics describes one weighting's performance over a history
type Metrics struct {
	SharpeRatio      float64 `json:"sharpe_ratio" yaml:"sharpe_ratio"`
	MeanReturn       float64 `json:"mean_return" yaml:"mean_return"`             // per period
	Volatility       float64 `json:"volatility" yaml:"volatility"`               // per period standard deviation
	AnnualizedReturn float64 `json:"annualized_return" yaml:"annualized_return"` // mean * periods per year
	AnnualizedVol    float64 `json:"annualized_volatility" yaml:"annualized_volatility"`
	SortinoRatio     float64 `json:"sortino_ratio" yaml:"sortino_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown" yaml:"max_drawdown"` // cumulative return units
	Periods          int     `json:"periods" yaml:"periods"`
}

// SharpeMetric scores weightings by annualized Sharpe ratio
type SharpeMetric struct {
	RiskFreeRate   float64    // annual, subtracted per period
	PeriodsPerYear float64    // annualization factor
	Returns        ReturnMode // how price changes are measured
}

// DefaultSharpeMetric uses absolute daily changes, no risk-free rate and 252 periods
func DefaultSharpeMetric() SharpeMetric {
	return SharpeMetric{
		RiskFreeRate:   0,
		PeriodsPerYear: TradingDaysPerYear,
		Returns:        ReturnsDiff,
	}
}

// PortfolioReturns averages the weighted changes across assets for every period.
// weights must have one entry per asset.
func (m SharpeMetric) PortfolioReturns(h *PriceHistory, weights []float64) []float64 {
	changes := h.diffs
	if m.Returns == ReturnsPercent {
		changes = h.pcts
	}

	n := float64(len(weights))
	returns := make([]float64, len(changes))
	for t, row := range changes {
		returns[t] = floats.Dot(row, weights) / n
	}

	return returns
}

// Score returns the annualized Sharpe ratio of the weighted portfolio.
// Flat or single-period histories produce non-finite scores, which are
// returned as-is.
func (m SharpeMetric) Score(h *PriceHistory, weights []float64) float64 {
	return m.Evaluate(h, weights).SharpeRatio
}

// Evaluate computes the full set of metrics for a weighting
func (m SharpeMetric) Evaluate(h *PriceHistory, weights []float64) *Metrics {
	returns := m.PortfolioReturns(h, weights)

	periods := m.PeriodsPerYear
	if periods <= 0 {
		periods = TradingDaysPerYear
	}

	// MeanStdDev uses the unbiased (N-1) variance
	mean, std := stat.MeanStdDev(returns, nil)
	excess := mean - m.RiskFreeRate/periods

	return &Metrics{
		SharpeRatio:      excess / std * math.Sqrt(periods),
		MeanReturn:       mean,
		Volatility:       std,
		AnnualizedReturn: mean * periods,
		AnnualizedVol:    std * math.Sqrt(periods),
		SortinoRatio:     sortino(returns, excess, periods),
		MaxDrawdown:      MaxDrawdown(returns),
		Periods:          len(returns),
	}
}
