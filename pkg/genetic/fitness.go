package genetic

import (
	"cmp"
	"context"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Metric scores one weighting against a price history; higher is fitter.
// The history is passed through untouched. Implementations must be pure and
// safe for concurrent use.
type Metric[H any] func(history H, weights Weighting) float64

// Fitness scores every weighting and returns scores and population, both
// ordered from fittest to least fit.
func Fitness[H any](history H, population Population, metric Metric[H]) ([]float64, Population) {
	return Rank(evaluate(history, population, metric), population)
}

func evaluate[H any](history H, population Population, metric Metric[H]) []float64 {
	scores := make([]float64, len(population))
	for i, weighting := range population {
		scores[i] = metric(history, weighting)
	}
	return scores
}

// Evaluate scores the population in input order using up to parallelism
// goroutines. Each goroutine writes only its own score slot.
func Evaluate[H any](ctx context.Context, history H, population Population, metric Metric[H], parallelism int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if parallelism <= 1 {
		return evaluate(history, population, metric), nil
	}

	scores := make([]float64, len(population))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, weighting := range population {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores[i] = metric(history, weighting)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return scores, nil
}

// Rank orders scores and population descending by score. Indices are sorted
// ascending with a stable sort and then reversed, so equal scores come out in
// reverse input order. NaN sorts above every number, +Inf included, as in
// the IEEE 754 total order, and so ends up first.
func Rank(scores []float64, population Population) ([]float64, Population) {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}

	slices.SortStableFunc(order, func(a, b int) int {
		return compareTotal(scores[a], scores[b])
	})
	slices.Reverse(order)

	rankedScores := make([]float64, len(order))
	ranked := make(Population, len(order))
	for i, idx := range order {
		rankedScores[i] = scores[idx]
		ranked[i] = population[idx]
	}

	return rankedScores, ranked
}

// compareTotal orders NaN after every number; two NaNs compare equal
func compareTotal(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	}
	return cmp.Compare(a, b)
}
