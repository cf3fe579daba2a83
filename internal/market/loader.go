package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/sharpefolio/internal/metrics"
	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

// HistoryCache is implemented by RedisHistoryCache
type HistoryCache interface {
	Get(ctx context.Context, key string) (*portfolio.PriceHistory, bool)
	Set(ctx context.Context, key string, history *portfolio.PriceHistory) error
}

// Loader fetches every asset from a Source concurrently and aligns the
// result into one PriceHistory
type Loader struct {
	source      Source
	cache       HistoryCache
	parallelism int
}

// NewLoader creates a loader. cache may be nil.
func NewLoader(source Source, cache HistoryCache, parallelism int) *Loader {
	if parallelism <= 0 {
		parallelism = 4
	}
	l := &Loader{source: source, parallelism: parallelism}
	// Keep the interface nil when a typed nil cache is passed in
	if rc, ok := cache.(*RedisHistoryCache); !ok || rc != nil {
		l.cache = cache
	}
	return l
}

// Source returns the underlying price source
func (l *Loader) Source() Source {
	return l.source
}

// Load returns the aligned history of assets over [start, end]
func (l *Loader) Load(ctx context.Context, assets []string, start, end time.Time) (*portfolio.PriceHistory, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("no assets to load")
	}

	key := HistoryKey(l.source.Name(), assets, start, end)
	if l.cache != nil {
		if history, ok := l.cache.Get(ctx, key); ok {
			return history, nil
		}
	}

	began := time.Now()
	history, err := l.fetch(ctx, assets, start, end)
	metrics.RecordHistoryLoad(l.source.Name(), float64(time.Since(began).Milliseconds()), err)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("source", l.source.Name()).
		Int("assets", history.NumAssets()).
		Int("rows", history.Len()).
		Dur("duration", time.Since(began)).
		Msg("Price history loaded")

	if l.cache != nil {
		if err := l.cache.Set(ctx, key, history); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Price history not cached")
		}
	}

	return history, nil
}

func (l *Loader) fetch(ctx context.Context, assets []string, start, end time.Time) (*portfolio.PriceHistory, error) {
	series := make([]portfolio.Series, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for i, asset := range assets {
		g.Go(func() error {
			s, err := l.source.Series(gctx, asset, start, end)
			if err != nil {
				return fmt.Errorf("failed to load %s from %s: %w", asset, l.source.Name(), err)
			}
			s.Asset = asset
			series[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	history, err := portfolio.Align(series...)
	if err != nil {
		return nil, fmt.Errorf("failed to align price history: %w", err)
	}
	return history, nil
}
