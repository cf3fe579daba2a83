package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/sharpefolio/pkg/genetic"
)

// Bounded cardinality constants for metric labels.
const (
	// Run outcomes
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"

	// Cache results
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"

	// Source error categories
	SourceErrorTimeout  = "timeout"
	SourceErrorNotFound = "not_found"
	SourceErrorRate     = "rate_limit"
	SourceErrorNetwork  = "network"
	SourceErrorBreaker  = "circuit_open"
	SourceErrorOther    = "other"
)

// NormalizeSourceError maps a price source error to a bounded label set
func NormalizeSourceError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "circuit breaker"):
		return SourceErrorBreaker
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return SourceErrorTimeout
	case strings.Contains(errStr, "no such file") || strings.Contains(errStr, "not found") || strings.Contains(errStr, "no prices"):
		return SourceErrorNotFound
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return SourceErrorRate
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return SourceErrorNetwork
	default:
		return SourceErrorOther
	}
}

// Optimizer Metrics
var (
	// Runs by outcome
	OptimizationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharpefolio_optimization_runs_total",
		Help: "Total number of optimization runs by outcome",
	}, []string{"status"})

	// Wall time of completed runs
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sharpefolio_run_duration_seconds",
		Help:    "Duration of optimization runs in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	// Generations completed across all runs
	GenerationsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharpefolio_generations_completed_total",
		Help: "Total number of generations completed",
	})

	// Fitness evaluations across all runs
	FitnessEvaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharpefolio_fitness_evaluations_total",
		Help: "Total number of weighting evaluations",
	})

	// Scores of the most recently ranked generation
	BestFitness = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sharpefolio_best_fitness",
		Help: "Best Sharpe ratio of the most recent generation",
	})

	AverageFitness = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sharpefolio_average_fitness",
		Help: "Average Sharpe ratio of the most recent generation",
	})

	WorstFitness = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sharpefolio_worst_fitness",
		Help: "Worst Sharpe ratio of the most recent generation",
	})

	// Jobs waiting or running in the API job manager
	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sharpefolio_active_jobs",
		Help: "Number of optimization jobs pending or running",
	})
)

// Data Metrics
var (
	// Price history load duration by source
	HistoryLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sharpefolio_history_load_duration_ms",
		Help:    "Time to load price histories in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"source"})

	// Source failures by category
	SourceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharpefolio_source_errors_total",
		Help: "Total number of price source errors",
	}, []string{"source", "category"})

	// History cache lookups
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharpefolio_history_cache_requests_total",
		Help: "Total number of price history cache lookups by result",
	}, []string{"result"})

	// Circuit breaker state per guarded service
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sharpefolio_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"service"})
)

// System Metrics
var (
	// API request duration
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sharpefolio_api_request_duration_ms",
		Help:    "API request duration in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"method", "path", "status"})

	// HTTP requests total
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharpefolio_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	// Errors by type
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sharpefolio_errors_total",
		Help: "Total number of errors by type",
	}, []string{"type", "component"})
)

// Helper functions to update metrics

// RecordGeneration records the scores of one ranked generation
func RecordGeneration(report genetic.GenerationReport, populationSize int) {
	GenerationsCompleted.Inc()
	FitnessEvaluations.Add(float64(populationSize))
	BestFitness.Set(report.BestScore)
	AverageFitness.Set(report.AvgScore)
	WorstFitness.Set(report.WorstScore)
}

// GenerationObserver returns an observer that feeds RecordGeneration
func GenerationObserver(populationSize int) genetic.Observer {
	return func(report genetic.GenerationReport) {
		RecordGeneration(report, populationSize)
	}
}

// RecordRun records the outcome of an optimization run
func RecordRun(status string, duration time.Duration) {
	OptimizationRuns.WithLabelValues(status).Inc()
	if status == RunStatusCompleted {
		RunDuration.Observe(duration.Seconds())
	}
}

// RecordHistoryLoad records a price history load from a source
func RecordHistoryLoad(source string, durationMs float64, err error) {
	HistoryLoadDuration.WithLabelValues(source).Observe(durationMs)
	if err != nil {
		SourceErrors.WithLabelValues(source, NormalizeSourceError(err)).Inc()
	}
}

// RecordCacheRequest records a history cache lookup
func RecordCacheRequest(result string) {
	CacheRequests.WithLabelValues(result).Inc()
}

// UpdateCircuitBreaker sets the state gauge of a guarded service
func UpdateCircuitBreaker(service string, state float64) {
	CircuitBreakerState.WithLabelValues(service).Set(state)
}

// SetActiveJobs sets the number of pending or running jobs
func SetActiveJobs(count int) {
	ActiveJobs.Set(float64(count))
}

// RecordAPIRequest records an API request with duration
func RecordAPIRequest(method, path, statusCode string, durationMs float64) {
	APIRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationMs)
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	Errors.WithLabelValues(errorType, component).Inc()
}
