package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSeries(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCandleStore(mock)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"open_time", "close"}).
		AddRow(start, 100.0).
		AddRow(start.AddDate(0, 0, 1), 105.0).
		AddRow(start.AddDate(0, 0, 2), 110.0)

	mock.ExpectQuery("SELECT open_time, close FROM candlesticks").
		WithArgs("BTCUSDT", "1d", start, end).
		WillReturnRows(rows)

	series, err := store.LoadSeries(context.Background(), "BTCUSDT", "1d", start, end)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", series.Asset)
	assert.Equal(t, []float64{100, 105, 110}, series.Closes)
	require.Len(t, series.Dates, 3)
	assert.Equal(t, start, series.Dates[0])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSeriesOpenRange(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCandleStore(mock)

	rows := pgxmock.NewRows([]string{"open_time", "close"}).
		AddRow(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1.0)

	mock.ExpectQuery("SELECT open_time, close FROM candlesticks").
		WithArgs("ETHUSDT", "1d", nil, nil).
		WillReturnRows(rows)

	series, err := store.LoadSeries(context.Background(), "ETHUSDT", "1d", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, series.Closes, 1)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSeriesNoData(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCandleStore(mock)

	mock.ExpectQuery("SELECT open_time, close FROM candlesticks").
		WithArgs("BTCUSDT", "1d", nil, nil).
		WillReturnRows(pgxmock.NewRows([]string{"open_time", "close"}))

	_, err = store.LoadSeries(context.Background(), "BTCUSDT", "1d", time.Time{}, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no prices found for BTCUSDT")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSeriesQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCandleStore(mock)

	mock.ExpectQuery("SELECT open_time, close FROM candlesticks").
		WithArgs("BTCUSDT", "1d", nil, nil).
		WillReturnError(errors.New("connection reset"))

	_, err = store.LoadSeries(context.Background(), "BTCUSDT", "1d", time.Time{}, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query candlesticks")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSeriesNoPool(t *testing.T) {
	store := NewCandleStore(nil)
	_, err := store.LoadSeries(context.Background(), "BTCUSDT", "1d", time.Time{}, time.Time{})
	assert.Error(t, err)
}

func TestSaveCandles(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCandleStore(mock)

	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := []Candle{
		{OpenTime: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{OpenTime: t0.AddDate(0, 0, 1), Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 12},
	}

	mock.ExpectExec("INSERT INTO candlesticks").
		WithArgs(
			"BTCUSDT", "1d", t0, 1.0, 2.0, 0.5, 1.5, 10.0,
			"BTCUSDT", "1d", t0.AddDate(0, 0, 1), 1.5, 2.5, 1.0, 2.0, 12.0,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, store.SaveCandles(context.Background(), "BTCUSDT", "1d", candles))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveCandlesEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCandleStore(mock)
	require.NoError(t, store.SaveCandles(context.Background(), "BTCUSDT", "1d", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestOpenTime(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewCandleStore(mock)
	latest := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT open_time FROM candlesticks").
		WithArgs("BTCUSDT", "1d").
		WillReturnRows(pgxmock.NewRows([]string{"open_time"}).AddRow(latest))
	mock.ExpectQuery("SELECT open_time FROM candlesticks").
		WithArgs("SOLUSDT", "1d").
		WillReturnError(pgx.ErrNoRows)

	got, err := store.LatestOpenTime(context.Background(), "BTCUSDT", "1d")
	require.NoError(t, err)
	assert.Equal(t, latest, got)

	got, err = store.LatestOpenTime(context.Background(), "SOLUSDT", "1d")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	require.NoError(t, mock.ExpectationsWereMet())
}
