package portfolio

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Allocation is one asset's share of the portfolio
type Allocation struct {
	Asset  string  `json:"asset" yaml:"asset"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// Percent returns the weight as a whole percentage, rounding halves to even
func (a Allocation) Percent() int {
	return int(math.RoundToEven(a.Weight * 100))
}

// Allocations pairs asset names with weights in column order
func Allocations(assets []string, weights []float64) []Allocation {
	n := min(len(assets), len(weights))
	out := make([]Allocation, n)
	for i := 0; i < n; i++ {
		out[i] = Allocation{Asset: assets[i], Weight: weights[i]}
	}
	return out
}

// Report is the final outcome of an optimization, ready for display
type Report struct {
	RunID       string
	Allocations []Allocation
	Metrics     *Metrics
	Generations int
	Evaluations int
	Seed        int64
	Duration    time.Duration
	StartDate   time.Time
	EndDate     time.Time
	Rows        int
}

// FormatGeneration renders one generation's best weighting and fitness
func FormatGeneration(generation int, weights []float64, score float64) string {
	parts := make([]string, len(weights))
	for i, w := range weights {
		parts[i] = fmt.Sprintf("%.2f", w)
	}

	return fmt.Sprintf("Generation: %d\nBest weighting: [%s]\nFitness: %v\n",
		generation, strings.Join(parts, ", "), score)
}

// GenerateReport generates a human-readable optimization report
func GenerateReport(r *Report) string {
	var sb strings.Builder

	sb.WriteString(`
================================================================================
PORTFOLIO OPTIMIZATION REPORT
================================================================================
`)
	if r.RunID != "" {
		fmt.Fprintf(&sb, "Run:              %s\n", r.RunID)
	}
	if !r.StartDate.IsZero() {
		fmt.Fprintf(&sb, "Period:           %s to %s (%d rows)\n",
			r.StartDate.Format(time.DateOnly), r.EndDate.Format(time.DateOnly), r.Rows)
	} else {
		fmt.Fprintf(&sb, "Period:           %d rows\n", r.Rows)
	}
	fmt.Fprintf(&sb, "Generations:      %d (%d evaluations)\n", r.Generations, r.Evaluations)
	fmt.Fprintf(&sb, "Seed:             %d\n", r.Seed)
	fmt.Fprintf(&sb, "Duration:         %s\n", r.Duration.Round(time.Millisecond))

	sb.WriteString(`
FINAL WEIGHTINGS
----------------
`)
	for _, a := range r.Allocations {
		fmt.Fprintf(&sb, "%-16s  %3d%%\n", a.Asset, a.Percent())
	}

	if r.Metrics != nil {
		fmt.Fprintf(&sb, `
RISK METRICS
------------
Sharpe Ratio:     %.4f
Mean Return:      %.6f per period
Volatility:       %.6f per period
Annualized:       %.4f return, %.4f volatility
Sortino Ratio:    %.4f
Max Drawdown:     %.6f
`,
			r.Metrics.SharpeRatio,
			r.Metrics.MeanReturn,
			r.Metrics.Volatility,
			r.Metrics.AnnualizedReturn,
			r.Metrics.AnnualizedVol,
			r.Metrics.SortinoRatio,
			r.Metrics.MaxDrawdown,
		)
	}

	sb.WriteString("\n================================================================================\n")

	return sb.String()
}
