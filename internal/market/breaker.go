package market

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/sharpefolio/internal/metrics"
	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

// Circuit breaker thresholds per guarded service
const (
	// Exchange circuit breaker settings
	ExchangeMinRequests     = 5
	ExchangeFailureRatio    = 0.6
	ExchangeOpenTimeout     = 30 * time.Second
	ExchangeHalfOpenMaxReqs = 3
	ExchangeCountInterval   = 10 * time.Second

	// Database circuit breaker settings (faster recovery)
	DBMinRequests     = 10
	DBFailureRatio    = 0.6
	DBOpenTimeout     = 15 * time.Second
	DBHalfOpenMaxReqs = 5
	DBCountInterval   = 10 * time.Second
)

// ServiceSettings holds circuit breaker configuration for a single service
type ServiceSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

// ExchangeSettings returns the default settings for exchange APIs
func ExchangeSettings() ServiceSettings {
	return ServiceSettings{
		MinRequests:     ExchangeMinRequests,
		FailureRatio:    ExchangeFailureRatio,
		OpenTimeout:     ExchangeOpenTimeout,
		HalfOpenMaxReqs: ExchangeHalfOpenMaxReqs,
		CountInterval:   ExchangeCountInterval,
	}
}

// DatabaseSettings returns the default settings for the database
func DatabaseSettings() ServiceSettings {
	return ServiceSettings{
		MinRequests:     DBMinRequests,
		FailureRatio:    DBFailureRatio,
		OpenTimeout:     DBOpenTimeout,
		HalfOpenMaxReqs: DBHalfOpenMaxReqs,
		CountInterval:   DBCountInterval,
	}
}

// NewCircuitBreaker builds a breaker that reports its state to Prometheus
func NewCircuitBreaker(service string, settings ServiceSettings) *gobreaker.CircuitBreaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: settings.HalfOpenMaxReqs,
		Interval:    settings.CountInterval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= settings.MinRequests && failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.UpdateCircuitBreaker(name, stateValue(to))
		},
	})
	metrics.UpdateCircuitBreaker(service, stateValue(cb.State()))
	return cb
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// GuardedSource routes a Source through a circuit breaker
type GuardedSource struct {
	source  Source
	breaker *gobreaker.CircuitBreaker
}

// NewGuardedSource wraps source with breaker
func NewGuardedSource(source Source, breaker *gobreaker.CircuitBreaker) *GuardedSource {
	return &GuardedSource{source: source, breaker: breaker}
}

// Name implements Source
func (g *GuardedSource) Name() string {
	return g.source.Name()
}

// Series implements Source. Caller cancellation does not count as a failure.
func (g *GuardedSource) Series(ctx context.Context, asset string, start, end time.Time) (portfolio.Series, error) {
	var series portfolio.Series
	var callerErr error

	_, err := g.breaker.Execute(func() (interface{}, error) {
		s, err := g.source.Series(ctx, asset, start, end)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			callerErr = err
			return nil, nil
		}
		series = s
		return nil, err
	})
	if callerErr != nil {
		return portfolio.Series{}, callerErr
	}
	if err != nil {
		return portfolio.Series{}, err
	}
	return series, nil
}
