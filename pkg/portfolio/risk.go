package portfolio

import "math"

// MaxDrawdown returns the largest peak-to-trough fall of the cumulative
// return curve, in return units. It is zero when the curve never falls.
func MaxDrawdown(returns []float64) float64 {
	var cumulative, peak, worst float64
	for _, r := range returns {
		cumulative += r
		peak = math.Max(peak, cumulative)
		worst = math.Max(worst, peak-cumulative)
	}
	return worst
}

// DownsideDeviation is the root mean square of the returns below target,
// counting returns at or above target as zero.
func DownsideDeviation(returns []float64, target float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		if d := r - target; d < 0 {
			sum += d * d
		}
	}
	return math.Sqrt(sum / float64(len(returns)))
}

// sortino annualizes excess return over downside deviation. A history with
// no losing periods has no downside risk and scores zero.
func sortino(returns []float64, excess, periods float64) float64 {
	downside := DownsideDeviation(returns, 0)
	if downside == 0 {
		return 0
	}
	return excess / downside * math.Sqrt(periods)
}
