// Package runner executes optimization runs end to end: it loads the price
// history, drives the genetic optimizer, and persists and announces the result.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/sharpefolio/internal/config"
	"github.com/ajitpratap0/sharpefolio/internal/metrics"
	"github.com/ajitpratap0/sharpefolio/internal/store"
	"github.com/ajitpratap0/sharpefolio/pkg/genetic"
	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

// HistoryLoader is implemented by market.Loader
type HistoryLoader interface {
	Load(ctx context.Context, assets []string, start, end time.Time) (*portfolio.PriceHistory, error)
}

// EventPublisher is implemented by bus.Publisher
type EventPublisher interface {
	Observer(ctx context.Context, runID uuid.UUID) genetic.Observer
	PublishRunCompleted(ctx context.Context, run *store.Run) error
}

// RunNotifier is implemented by alerts.Manager
type RunNotifier interface {
	NotifyRun(ctx context.Context, run *store.Run) error
}

// Request describes one optimization run
type Request struct {
	ID        uuid.UUID      `json:"id"`
	Source    string         `json:"source"`
	Assets    []string       `json:"assets"`
	StartDate time.Time      `json:"start_date"` // zero when unbounded
	EndDate   time.Time      `json:"end_date"`   // zero when unbounded
	Config    genetic.Config `json:"config"`     // NumWeights is taken from Assets
}

// Outcome is a finished run together with its report
type Outcome struct {
	Run     *store.Run
	Result  *genetic.Result
	Report  *portfolio.Report
	Metrics *portfolio.Metrics
}

// Service runs optimizations against the configured sources
type Service struct {
	loaders       map[string]HistoryLoader
	defaultSource string
	metric        portfolio.SharpeMetric
	runs          store.RunStore
	events        EventPublisher
	notifier      RunNotifier
	now           func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithRunStore persists every finished run
func WithRunStore(runs store.RunStore) Option {
	return func(s *Service) { s.runs = runs }
}

// WithEventPublisher announces generations and finished runs
func WithEventPublisher(events EventPublisher) Option {
	return func(s *Service) { s.events = events }
}

// WithRunNotifier sends an alert for every finished run that was not cancelled
func WithRunNotifier(notifier RunNotifier) Option {
	return func(s *Service) { s.notifier = notifier }
}

// WithLoader registers an additional history loader under source
func WithLoader(source string, loader HistoryLoader) Option {
	return func(s *Service) { s.loaders[source] = loader }
}

// NewService creates a service whose default source is served by loader
func NewService(source string, loader HistoryLoader, metric portfolio.SharpeMetric, opts ...Option) *Service {
	s := &Service{
		loaders:       map[string]HistoryLoader{source: loader},
		defaultSource: source,
		metric:        metric,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MetricFromConfig builds the Sharpe metric from configuration
func MetricFromConfig(cfg config.MetricConfig) (portfolio.SharpeMetric, error) {
	mode, err := portfolio.ParseReturnMode(cfg.Returns)
	if err != nil {
		return portfolio.SharpeMetric{}, err
	}
	return portfolio.SharpeMetric{
		RiskFreeRate:   cfg.RiskFreeRate,
		PeriodsPerYear: cfg.PeriodsPerYear,
		Returns:        mode,
	}, nil
}

// DefaultSource returns the source used when a request names none
func (s *Service) DefaultSource() string {
	return s.defaultSource
}

// Sources lists the registered source names
func (s *Service) Sources() []string {
	names := make([]string, 0, len(s.loaders))
	for name := range s.loaders {
		names = append(names, name)
	}
	return names
}

// Prepare fills request defaults and validates it
func (s *Service) Prepare(req *Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Source == "" {
		req.Source = s.defaultSource
	}
	if _, ok := s.loaders[req.Source]; !ok {
		return fmt.Errorf("unknown price source %q", req.Source)
	}
	if len(req.Assets) == 0 {
		return fmt.Errorf("at least one asset is required")
	}
	seen := make(map[string]bool, len(req.Assets))
	for _, asset := range req.Assets {
		if asset == "" {
			return fmt.Errorf("asset names must not be empty")
		}
		if seen[asset] {
			return fmt.Errorf("duplicate asset %q", asset)
		}
		seen[asset] = true
	}
	if !req.StartDate.IsZero() && !req.EndDate.IsZero() && !req.EndDate.After(req.StartDate) {
		return fmt.Errorf("end date must be after start date")
	}
	req.Config.NumWeights = len(req.Assets)
	return req.Config.Validate()
}

// Run executes req synchronously. extra observers receive every generation
// report after the metrics and event observers. Failed runs are still
// persisted and announced; the returned error explains the failure.
func (s *Service) Run(ctx context.Context, req Request, extra ...genetic.Observer) (*Outcome, error) {
	if err := s.Prepare(&req); err != nil {
		return nil, err
	}

	logger := config.NewRunLogger("runner", req.ID.String())
	startedAt := s.now()

	run := &store.Run{
		ID:        req.ID,
		Source:    req.Source,
		Assets:    req.Assets,
		Config:    req.Config,
		BestScore: math.NaN(),
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		StartedAt: startedAt,
	}

	outcome, err := s.execute(ctx, req, run, logger, extra)
	run.CompletedAt = s.now()

	// Persist and announce even when the caller has gone away
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err != nil {
		run.Status = store.RunStatusFailed
		run.Error = err.Error()
		status := metrics.RunStatusFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = metrics.RunStatusCancelled
		}
		metrics.RecordRun(status, run.Duration())
		logger.Error().Err(err).Msg("Optimization run failed")
		s.finish(finishCtx, run, logger, status != metrics.RunStatusCancelled)
		return nil, err
	}

	run.Status = store.RunStatusCompleted
	metrics.RecordRun(metrics.RunStatusCompleted, run.Duration())
	s.finish(finishCtx, run, logger, true)

	logger.Info().
		Float64("best_score", run.BestScore).
		Floats64("best_weighting", run.BestWeighting).
		Dur("duration", run.Duration()).
		Msg("Optimization run completed")

	outcome.Run = run
	return outcome, nil
}

func (s *Service) execute(ctx context.Context, req Request, run *store.Run, logger zerolog.Logger, extra []genetic.Observer) (*Outcome, error) {
	history, err := s.loaders[req.Source].Load(ctx, req.Assets, req.StartDate, req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}

	metric := s.metric
	optimizer, err := genetic.NewOptimizer[*portfolio.PriceHistory](func(h *portfolio.PriceHistory, w genetic.Weighting) float64 {
		return metric.Score(h, w)
	}, req.Config)
	if err != nil {
		return nil, err
	}
	optimizer.SetLogger(logger.With().Str("component", "genetic").Logger())
	optimizer.AddObserver(metrics.GenerationObserver(req.Config.PopulationSize))
	if s.events != nil {
		optimizer.AddObserver(s.events.Observer(ctx, req.ID))
	}
	for _, observer := range extra {
		optimizer.AddObserver(observer)
	}

	run.Seed = optimizer.Seed()

	result, err := optimizer.Run(ctx, history)
	if err != nil {
		return nil, err
	}

	run.BestWeighting = result.BestWeighting
	run.BestScore = result.BestScore
	run.Evaluations = result.Evaluations
	run.ScoreHistory = make([]float64, len(result.History))
	for i, report := range result.History {
		run.ScoreHistory[i] = report.BestScore
	}

	var riskMetrics *portfolio.Metrics
	if len(result.BestWeighting) == history.NumAssets() {
		riskMetrics = metric.Evaluate(history, result.BestWeighting)
	}

	first, last := history.Period()
	report := &portfolio.Report{
		RunID:       req.ID.String(),
		Allocations: portfolio.Allocations(history.Assets(), result.BestWeighting),
		Metrics:     riskMetrics,
		Generations: result.Generations,
		Evaluations: result.Evaluations,
		Seed:        result.Seed,
		Duration:    result.Duration,
		StartDate:   first,
		EndDate:     last,
		Rows:        history.Len(),
	}

	return &Outcome{Result: result, Report: report, Metrics: riskMetrics}, nil
}

func (s *Service) finish(ctx context.Context, run *store.Run, logger zerolog.Logger, notify bool) {
	if s.runs != nil {
		if err := s.runs.SaveRun(ctx, run); err != nil {
			metrics.RecordError("save_run", "runner")
			logger.Error().Err(err).Msg("Failed to save optimization run")
		}
	}
	if s.events != nil {
		if err := s.events.PublishRunCompleted(ctx, run); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish run completion")
		}
	}
	if notify && s.notifier != nil {
		if err := s.notifier.NotifyRun(ctx, run); err != nil {
			logger.Warn().Err(err).Msg("Failed to send run alert")
		}
	}
}
