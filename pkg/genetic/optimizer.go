// Generation loop driving portfolio weightings toward higher fitness
package genetic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
)

// ErrInvalidConfig is returned when an optimizer configuration cannot be run
var ErrInvalidConfig = errors.New("invalid optimizer configuration")

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config holds the genetic algorithm parameters
type Config struct {
	PopulationSize int     `json:"population_size" yaml:"population_size"`
	MatingPoolSize int     `json:"mating_pool_size" yaml:"mating_pool_size"`
	Generations    int     `json:"generations" yaml:"generations"`
	MutationRate   float64 `json:"mutation_rate" yaml:"mutation_rate"`
	NumWeights     int     `json:"num_weights" yaml:"num_weights"`
	Parallelism    int     `json:"parallelism" yaml:"parallelism"` // 0 or 1 evaluates sequentially
	Seed           int64   `json:"seed" yaml:"seed"`               // 0 = time-based seed
}

// DefaultConfig returns the default parameters for numWeights assets
func DefaultConfig(numWeights int) Config {
	return Config{
		PopulationSize: 60,
		MatingPoolSize: 10,
		Generations:    20,
		MutationRate:   0.1,
		NumWeights:     numWeights,
		Parallelism:    4,
	}
}

// Validate checks the configuration before a run
func (c Config) Validate() error {
	var problems []string

	if c.PopulationSize <= 0 {
		problems = append(problems, fmt.Sprintf("population size must be positive, got %d", c.PopulationSize))
	}
	if c.MatingPoolSize <= 0 {
		problems = append(problems, fmt.Sprintf("mating pool size must be positive, got %d", c.MatingPoolSize))
	}
	if c.Generations < 0 {
		problems = append(problems, fmt.Sprintf("generations must not be negative, got %d", c.Generations))
	}
	if c.MutationRate < 0 || c.MutationRate > 1 || math.IsNaN(c.MutationRate) {
		problems = append(problems, fmt.Sprintf("mutation rate must be within [0, 1], got %g", c.MutationRate))
	}
	if c.NumWeights <= 0 {
		problems = append(problems, fmt.Sprintf("number of weights must be positive, got %d", c.NumWeights))
	}
	if c.Parallelism < 0 {
		problems = append(problems, fmt.Sprintf("parallelism must not be negative, got %d", c.Parallelism))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}

	return nil
}

// ============================================================================
// REPORTING
// ============================================================================

// GenerationReport summarizes one ranked generation
type GenerationReport struct {
	Generation    int       `json:"generation"` // zero-based
	Total         int       `json:"total"`
	BestScore     float64   `json:"best_score"`
	WorstScore    float64   `json:"worst_score"`
	AvgScore      float64   `json:"avg_score"`
	BestWeighting Weighting `json:"best_weighting"`
}

// Observer receives a report after every ranked generation. Observers run on
// the optimizer goroutine and must not retain the weighting beyond the call
// without copying it.
type Observer func(report GenerationReport)

// Result is the outcome of a completed run
type Result struct {
	BestScore     float64            `json:"best_score"`
	BestWeighting Weighting          `json:"best_weighting"`
	Generations   int                `json:"generations"`
	Evaluations   int                `json:"evaluations"`
	History       []GenerationReport `json:"history"`
	Seed          int64              `json:"seed"`
	Duration      time.Duration      `json:"duration"`
}

// ============================================================================
// OPTIMIZER
// ============================================================================

// Optimizer runs the generation loop over a price history of type H
type Optimizer[H any] struct {
	config    Config
	metric    Metric[H]
	rng       *rand.Rand
	seed      int64
	observers []Observer
	log       zerolog.Logger
}

// NewOptimizer creates an optimizer after validating its configuration.
// The random source is seeded from config.Seed, or from the clock when it is 0.
func NewOptimizer[H any](metric Metric[H], config Config) (*Optimizer[H], error) {
	if metric == nil {
		return nil, fmt.Errorf("%w: metric is required", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.MatingPoolSize > config.PopulationSize {
		log.Warn().
			Int("mating_pool_size", config.MatingPoolSize).
			Int("population_size", config.PopulationSize).
			Msg("Mating pool larger than population, whole population will breed")
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Optimizer[H]{
		config: config,
		metric: metric,
		rng:    rand.New(rand.NewSource(seed)), // #nosec G404 -- Non-cryptographic use: reproducible search needs a seeded source
		seed:   seed,
		log:    log.With().Str("component", "genetic").Logger(),
	}, nil
}

// Seed returns the seed of the optimizer's random source
func (o *Optimizer[H]) Seed() int64 {
	return o.seed
}

// Config returns the optimizer configuration
func (o *Optimizer[H]) Config() Config {
	return o.config
}

// AddObserver registers a per-generation observer
func (o *Optimizer[H]) AddObserver(observer Observer) {
	o.observers = append(o.observers, observer)
}

// SetLogger replaces the optimizer logger
func (o *Optimizer[H]) SetLogger(logger zerolog.Logger) {
	o.log = logger
}

// Run evolves the population for the configured number of generations and
// returns the top-ranked weighting of the final generation. A cancelled
// context aborts the run between generations and yields no result.
func (o *Optimizer[H]) Run(ctx context.Context, history H) (*Result, error) {
	startTime := time.Now()
	cfg := o.config

	o.log.Info().
		Int("population", cfg.PopulationSize).
		Int("mating_pool", cfg.MatingPoolSize).
		Int("generations", cfg.Generations).
		Float64("mutation_rate", cfg.MutationRate).
		Int("assets", cfg.NumWeights).
		Int64("seed", o.seed).
		Msg("Starting genetic optimization")

	population := InitPopulation(o.rng, cfg.PopulationSize, cfg.NumWeights)

	var (
		scores      []float64
		ranked      Population
		evaluations int
		err         error
	)
	reports := make([]GenerationReport, 0, cfg.Generations)

	for gen := 0; gen < cfg.Generations; gen++ {
		scores, ranked, err = o.rank(ctx, history, population)
		if err != nil {
			return nil, err
		}
		evaluations += len(population)

		report := o.report(gen, scores, ranked)
		reports = append(reports, report)
		o.notify(report)

		// Select parents, breed the next generation, then perturb it
		pool := Selection(ranked, cfg.MatingPoolSize)
		children := Crossover(o.rng, pool, cfg.PopulationSize, cfg.NumWeights)
		population = Mutation(o.rng, children, cfg.MutationRate, cfg.NumWeights)
	}

	// Without generations the initial population is ranked so a result exists
	if cfg.Generations == 0 {
		scores, ranked, err = o.rank(ctx, history, population)
		if err != nil {
			return nil, err
		}
		evaluations += len(population)
	}

	result := &Result{
		BestScore:     scores[0],
		BestWeighting: slices.Clone(ranked[0]),
		Generations:   cfg.Generations,
		Evaluations:   evaluations,
		History:       reports,
		Seed:          o.seed,
		Duration:      time.Since(startTime),
	}

	o.log.Info().
		Int("total_evaluations", evaluations).
		Float64("best_score", result.BestScore).
		Floats64("best_weighting", result.BestWeighting).
		Dur("duration", result.Duration).
		Msg("Genetic optimization complete")

	return result, nil
}

// rank evaluates and orders one generation
func (o *Optimizer[H]) rank(ctx context.Context, history H, population Population) ([]float64, Population, error) {
	scores, err := Evaluate(ctx, history, population, o.metric, o.config.Parallelism)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to evaluate population: %w", err)
	}
	scores, ranked := Rank(scores, population)
	return scores, ranked, nil
}

func (o *Optimizer[H]) report(gen int, scores []float64, ranked Population) GenerationReport {
	report := GenerationReport{
		Generation:    gen,
		Total:         o.config.Generations,
		BestScore:     scores[0],
		WorstScore:    scores[len(scores)-1],
		AvgScore:      floats.Sum(scores) / float64(len(scores)),
		BestWeighting: slices.Clone(ranked[0]),
	}

	if math.IsNaN(report.BestScore) || math.IsInf(report.BestScore, 0) {
		o.log.Warn().
			Int("generation", gen+1).
			Float64("best_score", report.BestScore).
			Msg("Non-finite best score, degenerate weightings are propagating")
	}

	o.log.Info().
		Int("generation", gen+1).
		Int("total", o.config.Generations).
		Float64("best_score", report.BestScore).
		Float64("worst_score", report.WorstScore).
		Float64("avg_score", report.AvgScore).
		Msg("Generation complete")

	return report
}

func (o *Optimizer[H]) notify(report GenerationReport) {
	for _, observer := range o.observers {
		observer(report)
	}
}
