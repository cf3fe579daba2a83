package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

// Candle is one OHLCV bar of the candlesticks table
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// CandleStore reads and writes the candlesticks table
type CandleStore struct {
	pool PoolInterface
}

// NewCandleStore creates a candlestick store
func NewCandleStore(pool PoolInterface) *CandleStore {
	return &CandleStore{pool: pool}
}

// ============================================================================
// READS
// ============================================================================

// LoadSeries loads the close prices of symbol in [start, end], oldest first.
// A zero start or end leaves that side of the range open.
func (s *CandleStore) LoadSeries(ctx context.Context, symbol, interval string, start, end time.Time) (portfolio.Series, error) {
	if s.pool == nil {
		return portfolio.Series{}, fmt.Errorf("no database pool available")
	}

	query := `
		SELECT open_time, close
		FROM candlesticks
		WHERE symbol = $1
			AND interval = $2
			AND ($3::timestamptz IS NULL OR open_time >= $3)
			AND ($4::timestamptz IS NULL OR open_time <= $4)
		ORDER BY open_time ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol, interval, nullTime(start), nullTime(end))
	if err != nil {
		return portfolio.Series{}, fmt.Errorf("failed to query candlesticks: %w", err)
	}
	defer rows.Close()

	series := portfolio.Series{Asset: symbol}
	for rows.Next() {
		var openTime time.Time
		var closePrice float64
		if err := rows.Scan(&openTime, &closePrice); err != nil {
			return portfolio.Series{}, fmt.Errorf("failed to scan candlestick row: %w", err)
		}
		series.Dates = append(series.Dates, openTime)
		series.Closes = append(series.Closes, closePrice)
	}

	if err := rows.Err(); err != nil {
		return portfolio.Series{}, fmt.Errorf("error iterating candlestick rows: %w", err)
	}

	if len(series.Closes) == 0 {
		return portfolio.Series{}, fmt.Errorf("no prices found for %s", symbol)
	}

	log.Debug().
		Str("symbol", symbol).
		Str("interval", interval).
		Int("data_points", len(series.Closes)).
		Msg("Close prices loaded from database")

	return series, nil
}

// ============================================================================
// WRITES
// ============================================================================

// SaveCandles upserts candles for symbol and interval in one batch
func (s *CandleStore) SaveCandles(ctx context.Context, symbol, interval string, candles []Candle) error {
	if len(candles) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO candlesticks (symbol, interval, open_time, open, high, low, close, volume) VALUES `)

	args := make([]any, 0, len(candles)*8)
	for i, c := range candles {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 8
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8)
		args = append(args, symbol, interval, c.OpenTime.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	sb.WriteString(` ON CONFLICT (symbol, interval, open_time) DO UPDATE SET
		open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
		close = EXCLUDED.close, volume = EXCLUDED.volume`)

	tag, err := s.pool.Exec(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("failed to save candlesticks for %s: %w", symbol, err)
	}

	log.Debug().
		Str("symbol", symbol).
		Str("interval", interval).
		Int64("rows", tag.RowsAffected()).
		Msg("Candlesticks saved")

	return nil
}

// LatestOpenTime returns the most recent stored open time, or zero when
// nothing is stored for symbol yet
func (s *CandleStore) LatestOpenTime(ctx context.Context, symbol, interval string) (time.Time, error) {
	query := `
		SELECT open_time
		FROM candlesticks
		WHERE symbol = $1 AND interval = $2
		ORDER BY open_time DESC
		LIMIT 1
	`

	var openTime time.Time
	err := s.pool.QueryRow(ctx, query, symbol, interval).Scan(&openTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest candlestick: %w", err)
	}
	return openTime, nil
}

// nullTime maps the zero time to SQL NULL
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
