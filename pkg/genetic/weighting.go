// Portfolio weightings and the simplex constraint
package genetic

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

// SimplexTolerance is the allowed deviation of a weighting's sum from 1
const SimplexTolerance = 1e-9

// Weighting is one candidate portfolio: a non-negative weight per asset summing to 1
type Weighting []float64

// Population is the set of weightings considered in one generation
type Population []Weighting

// Normalize returns a copy of w scaled so that its weights sum to 1.
// A zero-sum vector yields NaN weights; the defect is propagated, not raised.
func (w Weighting) Normalize() Weighting {
	return normalize(slices.Clone(w))
}

// Sum returns the total weight
func (w Weighting) Sum() float64 {
	return floats.Sum(w)
}

// IsSimplex reports whether every weight is finite and non-negative and
// the weights sum to 1 within tol.
func (w Weighting) IsSimplex(tol float64) bool {
	if len(w) == 0 {
		return false
	}
	for _, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return math.Abs(floats.Sum(w)-1) <= tol
}

// Clone creates a deep copy of the population
func (p Population) Clone() Population {
	clone := make(Population, len(p))
	for i, w := range p {
		clone[i] = slices.Clone(w)
	}
	return clone
}

// normalize scales w in place and returns it
func normalize(w Weighting) Weighting {
	floats.Scale(1/floats.Sum(w), w)
	return w
}
