package localstore

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sharpefolio/internal/store"
	"github.com/ajitpratap0/sharpefolio/pkg/genetic"
)

// openTestStore opens an in-memory store
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func completedRun(completed time.Time) *store.Run {
	return &store.Run{
		Status:        store.RunStatusCompleted,
		Source:        "csv",
		Assets:        []string{"AAPL", "MSFT", "NVDA"},
		Config:        genetic.DefaultConfig(3),
		BestWeighting: []float64{0.2, 0.3, 0.5},
		BestScore:     1.75,
		ScoreHistory:  []float64{1.1, 1.5, 1.75},
		Seed:          42,
		Evaluations:   180,
		StartDate:     time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC),
		StartedAt:     completed.Add(-2 * time.Second),
		CompletedAt:   completed,
	}
}

func TestRunRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := completedRun(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, s.SaveRun(ctx, run))
	require.NotEqual(t, uuid.Nil, run.ID)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, store.RunStatusCompleted, got.Status)
	assert.Equal(t, run.Assets, got.Assets)
	assert.Equal(t, run.Config, got.Config)
	assert.Equal(t, run.BestWeighting, got.BestWeighting)
	assert.Equal(t, run.BestScore, got.BestScore)
	assert.Equal(t, run.ScoreHistory, got.ScoreHistory)
	assert.Equal(t, run.Seed, got.Seed)
	assert.Equal(t, run.Evaluations, got.Evaluations)
	assert.True(t, got.StartDate.Equal(run.StartDate))
	assert.True(t, got.EndDate.IsZero())
	assert.Equal(t, 2*time.Second, got.Duration())
}

func TestNaNScoresSurvive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &store.Run{
		Status:       store.RunStatusFailed,
		Source:       "csv",
		Assets:       []string{"FLAT"},
		Config:       genetic.DefaultConfig(1),
		BestScore:    math.NaN(),
		ScoreHistory: []float64{math.NaN(), math.Inf(1)},
		Error:        "constant prices",
		StartedAt:    time.Now(),
		CompletedAt:  time.Now(),
	}
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(got.BestScore))
	require.Len(t, got.ScoreHistory, 2)
	assert.True(t, math.IsNaN(got.ScoreHistory[0]))
	assert.True(t, math.IsInf(got.ScoreHistory[1], 1))
	assert.Empty(t, got.BestWeighting)
	assert.Equal(t, "constant prices", got.Error)
}

func TestGetRunNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	older := completedRun(base)
	newer := completedRun(base.Add(500 * time.Millisecond))
	newest := completedRun(base.Add(time.Second))

	for _, r := range []*store.Run{newer, older, newest} {
		require.NoError(t, s.SaveRun(ctx, r))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newest.ID, runs[0].ID)
	assert.Equal(t, newer.ID, runs[1].ID)

	all, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOpenFileReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	run := completedRun(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, s.SaveRun(ctx, run))
	require.NoError(t, s.Close())

	// Migrations are idempotent across reopen
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.BestWeighting, got.BestWeighting)
}

func TestFloatCodec(t *testing.T) {
	values := []float64{0.1, 1e-300, -2.5, 0}
	decoded, err := decodeFloats(encodeFloats(values))
	require.NoError(t, err)
	assert.Equal(t, values, decoded)

	empty, err := decodeFloats(encodeFloats(nil))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = decodeFloats("1,abc")
	assert.Error(t, err)
}
