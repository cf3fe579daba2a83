package genetic

import (
	"context"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// CONFIG TESTS
// ============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(10)

	assert.Equal(t, 60, cfg.PopulationSize)
	assert.Equal(t, 10, cfg.MatingPoolSize)
	assert.Equal(t, 20, cfg.Generations)
	assert.Equal(t, 0.1, cfg.MutationRate)
	assert.Equal(t, 10, cfg.NumWeights)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"zero population", func(c *Config) { c.PopulationSize = 0 }, "population size"},
		{"zero mating pool", func(c *Config) { c.MatingPoolSize = 0 }, "mating pool size"},
		{"negative generations", func(c *Config) { c.Generations = -1 }, "generations"},
		{"mutation rate above one", func(c *Config) { c.MutationRate = 1.5 }, "mutation rate"},
		{"negative mutation rate", func(c *Config) { c.MutationRate = -0.1 }, "mutation rate"},
		{"no assets", func(c *Config) { c.NumWeights = 0 }, "number of weights"},
		{"negative parallelism", func(c *Config) { c.Parallelism = -2 }, "parallelism"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(3)
			tt.modify(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewOptimizer(t *testing.T) {
	t.Run("requires metric", func(t *testing.T) {
		_, err := NewOptimizer[float64](nil, DefaultConfig(2))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		cfg := DefaultConfig(2)
		cfg.PopulationSize = -1
		_, err := NewOptimizer(firstAssetMetric, cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("explicit seed", func(t *testing.T) {
		cfg := DefaultConfig(2)
		cfg.Seed = 99
		opt, err := NewOptimizer(firstAssetMetric, cfg)
		require.NoError(t, err)
		assert.Equal(t, int64(99), opt.Seed())
		assert.Equal(t, cfg, opt.Config())
	})

	t.Run("time based seed", func(t *testing.T) {
		opt, err := NewOptimizer(firstAssetMetric, DefaultConfig(2))
		require.NoError(t, err)
		assert.NotZero(t, opt.Seed())
	})
}

// ============================================================================
// GENERATION LOOP TESTS
// ============================================================================

func TestOptimizer_SingleGenerationScenario(t *testing.T) {
	cfg := Config{
		PopulationSize: 4,
		MatingPoolSize: 2,
		Generations:    1,
		MutationRate:   0,
		NumWeights:     2,
		Seed:           42,
	}

	opt, err := NewOptimizer(firstAssetMetric, cfg)
	require.NoError(t, err)

	var reports []GenerationReport
	opt.AddObserver(func(r GenerationReport) { reports = append(reports, r) })

	result, err := opt.Run(context.Background(), 1.0)
	require.NoError(t, err)

	require.Len(t, result.BestWeighting, 2)
	assert.InDelta(t, 1.0, result.BestWeighting.Sum(), SimplexTolerance)
	assert.Equal(t, 1, result.Generations)
	assert.Equal(t, 4, result.Evaluations)
	require.Len(t, reports, 1)

	// The initial population consumes the first draws of the seeded source
	initial := InitPopulation(rand.New(rand.NewSource(42)), 4, 2)
	best := firstAssetMetric(1, initial[0])
	for _, w := range initial[1:] {
		best = max(best, firstAssetMetric(1, w))
	}

	assert.Equal(t, best, result.BestScore)
	assert.Equal(t, best, reports[0].BestScore)
	assert.Equal(t, result.BestWeighting, reports[0].BestWeighting)
}

func TestOptimizer_ReproducibleAcrossParallelism(t *testing.T) {
	run := func(parallelism int) *Result {
		cfg := DefaultConfig(5)
		cfg.Seed = 1234
		cfg.Generations = 5
		cfg.Parallelism = parallelism

		opt, err := NewOptimizer(firstAssetMetric, cfg)
		require.NoError(t, err)

		result, err := opt.Run(context.Background(), 1.0)
		require.NoError(t, err)
		return result
	}

	sequential := run(1)
	parallel := run(8)

	assert.Equal(t, sequential.BestScore, parallel.BestScore)
	assert.Equal(t, sequential.BestWeighting, parallel.BestWeighting)
	assert.Equal(t, 5*60, sequential.Evaluations)
}

func TestOptimizer_ImprovesConcentration(t *testing.T) {
	cfg := DefaultConfig(4)
	cfg.Seed = 7
	cfg.Generations = 30

	opt, err := NewOptimizer(firstAssetMetric, cfg)
	require.NoError(t, err)

	result, err := opt.Run(context.Background(), 1.0)
	require.NoError(t, err)

	require.Len(t, result.History, 30)
	first := result.History[0].BestScore
	assert.GreaterOrEqual(t, result.BestScore, first)
	assert.True(t, result.BestWeighting.IsSimplex(SimplexTolerance))

	for i, report := range result.History {
		assert.Equal(t, i, report.Generation)
		assert.Equal(t, 30, report.Total)
		// converged generations can average a hair above their best
		assert.GreaterOrEqual(t, report.BestScore+1e-12, report.AvgScore)
		assert.GreaterOrEqual(t, report.AvgScore+1e-12, report.WorstScore)
	}
}

func TestOptimizer_ZeroGenerations(t *testing.T) {
	cfg := DefaultConfig(3)
	cfg.Generations = 0
	cfg.Seed = 5

	opt, err := NewOptimizer(firstAssetMetric, cfg)
	require.NoError(t, err)

	result, err := opt.Run(context.Background(), 1.0)
	require.NoError(t, err)

	assert.Empty(t, result.History)
	assert.Equal(t, 60, result.Evaluations)

	initial := InitPopulation(rand.New(rand.NewSource(5)), 60, 3)
	scores := make([]float64, len(initial))
	for i, w := range initial {
		scores[i] = firstAssetMetric(1, w)
	}
	assert.Equal(t, slices.Max(scores), result.BestScore)
}

func TestOptimizer_CancelledRunYieldsNoResult(t *testing.T) {
	cfg := DefaultConfig(3)
	cfg.Seed = 5

	opt, err := NewOptimizer(firstAssetMetric, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := opt.Run(ctx, 1.0)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptimizer_ResultIsDetachedFromPopulation(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.Seed = 11
	cfg.Generations = 2

	opt, err := NewOptimizer(firstAssetMetric, cfg)
	require.NoError(t, err)

	var captured Weighting
	opt.AddObserver(func(r GenerationReport) { captured = r.BestWeighting })

	result, err := opt.Run(context.Background(), 1.0)
	require.NoError(t, err)

	captured[0] = -1
	assert.NotEqual(t, -1.0, result.BestWeighting[0])
}
