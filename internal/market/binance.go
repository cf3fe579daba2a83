package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/sharpefolio/internal/config"
	"github.com/ajitpratap0/sharpefolio/internal/db"
	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

// klinesPageLimit is the largest page the klines endpoint serves
const klinesPageLimit = 1000

// BinanceSource reads closes from Binance spot klines
type BinanceSource struct {
	client   *binance.Client
	interval string
	limiter  *rate.Limiter
	retry    RetryConfig
	now      func() time.Time
}

// NewBinanceSource creates a klines source for interval
func NewBinanceSource(cfg config.BinanceConfig, interval string) *BinanceSource {
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	log.Info().
		Str("interval", interval).
		Float64("requests_per_second", rps).
		Msg("Binance klines source initialized")

	return &BinanceSource{
		client:   client,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		retry:    DefaultRetryConfig(),
		now:      time.Now,
	}
}

// Name implements Source
func (s *BinanceSource) Name() string {
	return "binance"
}

// Series implements Source
func (s *BinanceSource) Series(ctx context.Context, asset string, start, end time.Time) (portfolio.Series, error) {
	candles, err := s.Candles(ctx, asset, start, end)
	if err != nil {
		return portfolio.Series{}, err
	}

	series := portfolio.Series{
		Asset:  asset,
		Dates:  make([]time.Time, len(candles)),
		Closes: make([]float64, len(candles)),
	}
	for i, c := range candles {
		series.Dates[i] = c.OpenTime
		series.Closes[i] = c.Close
	}
	return series, nil
}

// Candles pages through klines of symbol in [start, end]. A zero start
// fetches only the most recent page.
func (s *BinanceSource) Candles(ctx context.Context, symbol string, start, end time.Time) ([]db.Candle, error) {
	if end.IsZero() {
		end = s.now()
	}

	var candles []db.Candle
	cursor := start

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var klines []*binance.Kline
		err := WithRetry(ctx, s.retry, func() error {
			svc := s.client.NewKlinesService().
				Symbol(symbol).
				Interval(s.interval).
				EndTime(end.UnixMilli()).
				Limit(klinesPageLimit)
			if !cursor.IsZero() {
				svc = svc.StartTime(cursor.UnixMilli())
			}
			var err error
			klines, err = svc.Do(ctx)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
		}

		for _, k := range klines {
			c, err := toCandle(k)
			if err != nil {
				return nil, fmt.Errorf("invalid kline for %s: %w", symbol, err)
			}
			candles = append(candles, c)
		}

		if len(klines) < klinesPageLimit || cursor.IsZero() {
			break
		}
		cursor = time.UnixMilli(klines[len(klines)-1].OpenTime + 1).UTC()
		if cursor.After(end) {
			break
		}
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoPrices, symbol)
	}

	log.Debug().
		Str("symbol", symbol).
		Str("interval", s.interval).
		Int("candles", len(candles)).
		Msg("Fetched klines from Binance")

	return candles, nil
}

func toCandle(k *binance.Kline) (db.Candle, error) {
	fields := []string{k.Open, k.High, k.Low, k.Close, k.Volume}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return db.Candle{}, err
		}
		values[i] = v
	}
	return db.Candle{
		OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
	}, nil
}
