// Package localstore keeps finished optimization runs in a local SQLite file
// for single-machine use without PostgreSQL.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/ajitpratap0/sharpefolio/internal/store"
)

// Store is a SQLite-backed store.RunStore
type Store struct {
	sql *sql.DB
}

var _ store.RunStore = (*Store)(nil)

// Open opens (or creates) the SQLite database at path and runs migrations.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{sql: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	log.Info().Str("path", path).Msg("Opened local run store")
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate() error {
	version := 0
	// Missing table reads as version 0
	_ = s.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS optimization_runs (
				id             TEXT PRIMARY KEY,
				status         TEXT NOT NULL,
				source         TEXT NOT NULL,
				assets         TEXT NOT NULL,
				config         TEXT NOT NULL,
				best_weighting TEXT NOT NULL,
				best_score     REAL,
				score_history  TEXT NOT NULL,
				seed           INTEGER NOT NULL,
				evaluations    INTEGER NOT NULL,
				start_date     TEXT NOT NULL DEFAULT '',
				end_date       TEXT NOT NULL DEFAULT '',
				error          TEXT NOT NULL DEFAULT '',
				started_at     TEXT NOT NULL,
				completed_at   TEXT NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_runs_completed_at ON optimization_runs(completed_at);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return err
		}
	}

	return nil
}

// Fixed-width so text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, status, source, assets, config, best_weighting, best_score,
	score_history, seed, evaluations, start_date, end_date, error, started_at, completed_at`

// SaveRun inserts a finished run, assigning an ID when it has none
func (s *Store) SaveRun(ctx context.Context, run *store.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	assets, err := json.Marshal(run.Assets)
	if err != nil {
		return fmt.Errorf("marshal assets: %w", err)
	}
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// SQLite stores NaN as NULL
	bestScore := sql.NullFloat64{Float64: run.BestScore, Valid: !math.IsNaN(run.BestScore)}

	_, err = s.sql.ExecContext(ctx,
		`INSERT INTO optimization_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(),
		string(run.Status),
		run.Source,
		string(assets),
		string(cfg),
		encodeFloats(run.BestWeighting),
		bestScore,
		encodeFloats(run.ScoreHistory),
		run.Seed,
		run.Evaluations,
		formatTime(run.StartDate),
		formatTime(run.EndDate),
		run.Error,
		formatTime(run.StartedAt),
		formatTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun fetches one run by ID
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	row := s.sql.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM optimization_runs WHERE id = ?`, id.String())

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*store.Run, error) {
	rows, err := s.sql.QueryContext(ctx,
		`SELECT `+runColumns+` FROM optimization_runs ORDER BY completed_at DESC LIMIT ?`,
		store.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*store.Run, error) {
	var (
		run                                    store.Run
		id, status, assets, cfg, best, history string
		bestScore                              sql.NullFloat64
		startDate, endDate, started, completed string
	)

	err := row.Scan(&id, &status, &run.Source, &assets, &cfg, &best, &bestScore,
		&history, &run.Seed, &run.Evaluations, &startDate, &endDate, &run.Error, &started, &completed)
	if err != nil {
		return nil, err
	}

	if run.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	run.Status = store.RunStatus(status)
	if err := json.Unmarshal([]byte(assets), &run.Assets); err != nil {
		return nil, fmt.Errorf("unmarshal assets: %w", err)
	}
	if err := json.Unmarshal([]byte(cfg), &run.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if run.BestWeighting, err = decodeFloats(best); err != nil {
		return nil, fmt.Errorf("decode best weighting: %w", err)
	}
	if run.ScoreHistory, err = decodeFloats(history); err != nil {
		return nil, fmt.Errorf("decode score history: %w", err)
	}
	run.BestScore = math.NaN()
	if bestScore.Valid {
		run.BestScore = bestScore.Float64
	}

	for _, f := range []struct {
		src string
		dst *time.Time
	}{
		{startDate, &run.StartDate},
		{endDate, &run.EndDate},
		{started, &run.StartedAt},
		{completed, &run.CompletedAt},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}

	return &run, nil
}

// encodeFloats writes values as comma-separated text; JSON cannot carry NaN
func encodeFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func decodeFloats(s string) ([]float64, error) {
	if s == "" {
		return []float64{}, nil
	}
	parts := strings.Split(s, ",")
	values := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
