package portfolio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHistory(t *testing.T) *PriceHistory {
	t.Helper()
	h, err := NewPriceHistory(
		[]string{"A", "B"},
		nil,
		[][]float64{{10, 20}, {11, 19}, {13, 21}, {12, 22}},
	)
	require.NoError(t, err)
	return h
}

func TestParseReturnMode(t *testing.T) {
	mode, err := ParseReturnMode("")
	require.NoError(t, err)
	assert.Equal(t, ReturnsDiff, mode)

	mode, err = ParseReturnMode("pct")
	require.NoError(t, err)
	assert.Equal(t, ReturnsPercent, mode)

	_, err = ParseReturnMode("log")
	assert.Error(t, err)
}

func TestSharpeMetric_PortfolioReturns(t *testing.T) {
	m := DefaultSharpeMetric()

	returns := m.PortfolioReturns(testHistory(t), []float64{0.5, 0.5})

	// weighted diffs averaged over the two assets
	assert.InDeltaSlice(t, []float64{0, 1, 0}, returns, 1e-12)
}

func TestSharpeMetric_Score(t *testing.T) {
	m := DefaultSharpeMetric()

	score := m.Score(testHistory(t), []float64{0.5, 0.5})

	// returns {0, 1, 0}: mean 1/3, sample variance 1/3
	expected := (1.0 / 3) / math.Sqrt(1.0/3) * math.Sqrt(252)
	assert.InDelta(t, expected, score, 1e-9)
}

func TestSharpeMetric_ScaleInvariant(t *testing.T) {
	m := DefaultSharpeMetric()
	h := testHistory(t)

	a := m.Score(h, []float64{0.3, 0.7})
	b := m.Score(h, []float64{0.6, 1.4})

	assert.InDelta(t, a, b, 1e-9)
}

func TestSharpeMetric_Evaluate(t *testing.T) {
	m := SharpeMetric{PeriodsPerYear: 252, Returns: ReturnsDiff, RiskFreeRate: 0}

	metrics := m.Evaluate(testHistory(t), []float64{1, 0})

	// asset A diffs 1, 2, -1 averaged over two assets: 0.5, 1, -0.5
	assert.Equal(t, 3, metrics.Periods)
	assert.InDelta(t, 1.0/3, metrics.MeanReturn, 1e-12)
	assert.InDelta(t, math.Sqrt(7.0/12), metrics.Volatility, 1e-12)
	assert.InDelta(t, 84.0, metrics.AnnualizedReturn, 1e-9)
}

func TestSharpeMetric_RiskFreeRate(t *testing.T) {
	h := testHistory(t)
	base := SharpeMetric{PeriodsPerYear: 252, Returns: ReturnsPercent}
	withRate := base
	withRate.RiskFreeRate = 0.05

	assert.Less(t, withRate.Score(h, []float64{0.5, 0.5}), base.Score(h, []float64{0.5, 0.5}))
}

func TestSharpeMetric_FlatPricesAreNonFinite(t *testing.T) {
	h, err := NewPriceHistory([]string{"A"}, nil, [][]float64{{5}, {5}, {5}})
	require.NoError(t, err)

	score := DefaultSharpeMetric().Score(h, []float64{1})

	assert.True(t, math.IsNaN(score))
}

func TestSharpeMetric_DefaultsPeriods(t *testing.T) {
	h := testHistory(t)
	zero := SharpeMetric{Returns: ReturnsDiff}

	assert.InDelta(t, DefaultSharpeMetric().Score(h, []float64{0.5, 0.5}), zero.Score(h, []float64{0.5, 0.5}), 1e-12)
}
