package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/internal/alerts"
	"github.com/ajitpratap0/sharpefolio/internal/bus"
	"github.com/ajitpratap0/sharpefolio/internal/config"
	"github.com/ajitpratap0/sharpefolio/internal/db"
	"github.com/ajitpratap0/sharpefolio/internal/localstore"
	"github.com/ajitpratap0/sharpefolio/internal/market"
	"github.com/ajitpratap0/sharpefolio/internal/store"
)

// Resources holds the connections opened for a Service
type Resources struct {
	DB        *db.DB
	Redis     *redis.Client
	Publisher *bus.Publisher
	Local     *localstore.Store
	Runs      store.RunStore // nil when results are not stored
	Alerts    *alerts.Manager
}

// Close releases every open connection
func (r *Resources) Close() {
	if r.Publisher != nil {
		_ = r.Publisher.Close()
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.Local != nil {
		_ = r.Local.Close()
	}
	if r.DB != nil {
		r.DB.Close()
	}
}

// Build wires a Service from configuration. Redis and NATS are optional:
// when they cannot be reached the service runs without cache or events.
func Build(ctx context.Context, cfg *config.Config) (*Service, *Resources, error) {
	res := &Resources{}

	if cfg.UsesPostgres() {
		database, err := db.New(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		res.DB = database
	}

	source, err := newSource(cfg, res)
	if err != nil {
		res.Close()
		return nil, nil, err
	}

	var cache *market.RedisHistoryCache
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.GetRedisAddr()).Msg("Redis unavailable, history cache disabled")
			_ = client.Close()
		} else {
			res.Redis = client
			cache = market.NewRedisHistoryCache(client, cfg.Redis.GetCacheTTL())
		}
	}

	loader := market.NewLoader(source, cache, cfg.Optimizer.Parallelism)

	metric, err := MetricFromConfig(cfg.Metric)
	if err != nil {
		res.Close()
		return nil, nil, err
	}

	var opts []Option

	switch cfg.Results.Store {
	case config.StorePostgres:
		res.Runs = res.DB.Runs()
	case config.StoreSQLite:
		local, err := localstore.Open(cfg.Results.SQLitePath)
		if err != nil {
			res.Close()
			return nil, nil, fmt.Errorf("failed to open local run store: %w", err)
		}
		res.Local = local
		res.Runs = local
	}
	if res.Runs != nil {
		opts = append(opts, WithRunStore(res.Runs))
	}

	if cfg.NATS.Enabled {
		publisher, err := bus.NewPublisher(bus.Config{URL: cfg.NATS.URL, Prefix: cfg.NATS.Prefix})
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, run events disabled")
		} else {
			res.Publisher = publisher
			opts = append(opts, WithEventPublisher(publisher))
		}
	}

	res.Alerts = newAlerts(cfg.Alerts)
	opts = append(opts, WithRunNotifier(res.Alerts))

	log.Info().
		Str("source", source.Name()).
		Str("results_store", cfg.Results.Store).
		Bool("cache", cache != nil).
		Bool("events", res.Publisher != nil).
		Msg("Optimization service ready")

	return NewService(source.Name(), loader, metric, opts...), res, nil
}

// newAlerts always logs alerts and adds Telegram when it is enabled and reachable
func newAlerts(cfg config.AlertsConfig) *alerts.Manager {
	minSeverity, err := alerts.ParseSeverity(cfg.MinSeverity)
	if err != nil {
		minSeverity = alerts.SeverityWarning
	}

	alerters := []alerts.Alerter{alerts.NewLogAlerter()}
	if cfg.Telegram.Enabled {
		telegram, err := alerts.NewTelegramAlerter(alerts.TelegramConfig{
			BotToken:    cfg.Telegram.BotToken,
			ChatIDs:     cfg.Telegram.ChatIDs,
			APIEndpoint: cfg.Telegram.APIEndpoint,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Telegram unavailable, alerts are only logged")
		} else {
			alerters = append(alerters, telegram)
		}
	}

	return alerts.NewManager(minSeverity, alerters...)
}

func newSource(cfg *config.Config, res *Resources) (market.Source, error) {
	switch cfg.Data.Source {
	case config.SourceCSV:
		return market.NewCSVSource(cfg.Data.CSVDir, cfg.Data.CSVExtension), nil
	case config.SourcePostgres:
		breaker := market.NewCircuitBreaker("database", market.DatabaseSettings())
		return market.NewGuardedSource(market.NewPostgresSource(res.DB.Candles(), cfg.Data.Interval), breaker), nil
	case config.SourceBinance:
		breaker := market.NewCircuitBreaker("binance", market.ExchangeSettings())
		return market.NewGuardedSource(market.NewBinanceSource(cfg.Binance, cfg.Data.Interval), breaker), nil
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
	}
}
