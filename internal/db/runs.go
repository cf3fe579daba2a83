package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/internal/store"
)

// RunRepository stores finished optimization runs in PostgreSQL
type RunRepository struct {
	pool PoolInterface
}

// NewRunRepository creates a run repository
func NewRunRepository(pool PoolInterface) *RunRepository {
	return &RunRepository{pool: pool}
}

var _ store.RunStore = (*RunRepository)(nil)

const runColumns = `id, status, source, assets, config, best_weighting, best_score,
	score_history, seed, evaluations, start_date, end_date, error, started_at, completed_at`

// SaveRun inserts a finished run, assigning an ID when it has none
func (r *RunRepository) SaveRun(ctx context.Context, run *store.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal run config: %w", err)
	}

	query := `
		INSERT INTO optimization_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.pool.Exec(ctx, query,
		run.ID,
		string(run.Status),
		run.Source,
		run.Assets,
		cfg,
		nonNilFloats(run.BestWeighting),
		run.BestScore,
		nonNilFloats(run.ScoreHistory),
		run.Seed,
		run.Evaluations,
		nullTime(run.StartDate),
		nullTime(run.EndDate),
		run.Error,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		log.Error().
			Err(err).
			Str("run_id", run.ID.String()).
			Msg("Failed to save optimization run")
		return fmt.Errorf("failed to save optimization run: %w", err)
	}

	log.Debug().
		Str("run_id", run.ID.String()).
		Str("status", string(run.Status)).
		Msg("Optimization run saved")

	return nil
}

// GetRun fetches one run by ID
func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM optimization_runs WHERE id = $1`

	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get optimization run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]*store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM optimization_runs ORDER BY completed_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, store.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list optimization runs: %w", err)
	}
	defer rows.Close()

	var runs []*store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan optimization run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating optimization runs: %w", err)
	}

	return runs, nil
}

func scanRun(row pgx.Row) (*store.Run, error) {
	var (
		run       store.Run
		status    string
		cfg       []byte
		startDate pgtype.Timestamptz
		endDate   pgtype.Timestamptz
	)

	err := row.Scan(
		&run.ID,
		&status,
		&run.Source,
		&run.Assets,
		&cfg,
		&run.BestWeighting,
		&run.BestScore,
		&run.ScoreHistory,
		&run.Seed,
		&run.Evaluations,
		&startDate,
		&endDate,
		&run.Error,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = store.RunStatus(status)
	if err := json.Unmarshal(cfg, &run.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run config: %w", err)
	}
	if startDate.Valid {
		run.StartDate = startDate.Time
	}
	if endDate.Valid {
		run.EndDate = endDate.Time
	}

	return &run, nil
}

// nonNilFloats keeps NOT NULL array columns from receiving NULL
func nonNilFloats(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
