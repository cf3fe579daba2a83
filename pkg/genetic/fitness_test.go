package genetic

import (
	"context"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// firstAssetMetric rewards concentration in the first asset; the history is
// a plain multiplier so tests can check it is passed through.
func firstAssetMetric(scale float64, w Weighting) float64 {
	return scale * w[0]
}

func TestFitness_OrdersDescending(t *testing.T) {
	population := InitPopulation(newTestRNG(), 30, 3)

	scores, ranked := Fitness(2.0, population, firstAssetMetric)

	require.Len(t, scores, 30)
	require.Len(t, ranked, 30)
	assert.True(t, sort.SliceIsSorted(scores, func(i, j int) bool { return scores[i] > scores[j] }))

	for i := range ranked {
		assert.Equal(t, 2.0*ranked[i][0], scores[i])
	}
}

func TestFitness_MatchesDescendingPermutation(t *testing.T) {
	population := InitPopulation(newTestRNG(), 12, 4)

	raw := make([]float64, len(population))
	for i, w := range population {
		raw[i] = firstAssetMetric(1, w)
	}

	_, ranked := Fitness(1.0, population, firstAssetMetric)

	perm := make([]int, len(raw))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool { return raw[perm[a]] > raw[perm[b]] })

	for i, idx := range perm {
		assert.Equal(t, population[idx], ranked[i])
	}
}

func TestRank_TiesResolveInReverseInputOrder(t *testing.T) {
	population := Population{{0}, {1}, {2}, {3}}
	scores := []float64{1, 3, 1, 2}

	rankedScores, ranked := Rank(scores, population)

	assert.Equal(t, []float64{3, 2, 1, 1}, rankedScores)
	// ascending stable pass gives [0 2 3 1]; reversed [1 3 2 0]
	assert.Equal(t, Population{{1}, {3}, {2}, {0}}, ranked)
}

func TestRank_NaNSortsFirst(t *testing.T) {
	population := Population{{0}, {1}, {2}}
	scores := []float64{1, math.NaN(), 2}

	rankedScores, ranked := Rank(scores, population)

	assert.True(t, math.IsNaN(rankedScores[0]))
	assert.Equal(t, []float64{2, 1}, rankedScores[1:])
	assert.Equal(t, Population{{1}, {2}, {0}}, ranked)
}

func TestRank_NaNAboveInfinity(t *testing.T) {
	population := Population{{0}, {1}, {2}, {3}}
	scores := []float64{math.Inf(1), math.NaN(), math.Inf(-1), math.NaN()}

	rankedScores, ranked := Rank(scores, population)

	assert.True(t, math.IsNaN(rankedScores[0]))
	assert.True(t, math.IsNaN(rankedScores[1]))
	assert.True(t, math.IsInf(rankedScores[2], 1))
	assert.True(t, math.IsInf(rankedScores[3], -1))
	// equal NaNs keep the reverse input order of ties
	assert.Equal(t, Population{{3}, {1}, {0}, {2}}, ranked)
}

func TestCompareTotal(t *testing.T) {
	nan := math.NaN()
	assert.Equal(t, 0, compareTotal(nan, nan))
	assert.Equal(t, 1, compareTotal(nan, math.Inf(1)))
	assert.Equal(t, -1, compareTotal(math.Inf(1), nan))
	assert.Equal(t, -1, compareTotal(1, 2))
	assert.Equal(t, 0, compareTotal(2, 2))
}

func TestRank_DoesNotReorderInput(t *testing.T) {
	population := Population{{0}, {1}}
	scores := []float64{1, 2}

	_, _ = Rank(scores, population)

	assert.Equal(t, []float64{1, 2}, scores)
	assert.Equal(t, Population{{0}, {1}}, population)
}

func TestEvaluate_ParallelMatchesSequential(t *testing.T) {
	population := InitPopulation(newTestRNG(), 50, 5)
	ctx := context.Background()

	sequential, err := Evaluate(ctx, 1.0, population, firstAssetMetric, 1)
	require.NoError(t, err)

	parallel, err := Evaluate(ctx, 1.0, population, firstAssetMetric, 8)
	require.NoError(t, err)

	assert.Equal(t, sequential, parallel)
}

func TestEvaluate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Evaluate(ctx, 1.0, Population{{1}}, firstAssetMetric, 4)

	assert.ErrorIs(t, err, context.Canceled)
}
