// Package store defines the persisted form of a finished optimization run.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/sharpefolio/pkg/genetic"
)

// ErrRunNotFound is returned when a run ID has no stored record
var ErrRunNotFound = errors.New("optimization run not found")

// RunStatus is the terminal state of a stored run
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the final outcome of one optimization. Populations are never stored.
type Run struct {
	ID            uuid.UUID
	Status        RunStatus
	Source        string
	Assets        []string
	Config        genetic.Config
	BestWeighting []float64
	BestScore     float64
	ScoreHistory  []float64 // best score per generation
	Seed          int64
	Evaluations   int
	StartDate     time.Time // zero when unbounded
	EndDate       time.Time // zero when unbounded
	Error         string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Duration returns the wall time of the run
func (r *Run) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunStore persists finished runs
type RunStore interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
}

// DefaultListLimit caps ListRuns when the caller passes a non-positive limit
const DefaultListLimit = 50

// ClampLimit returns a usable page size
func ClampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultListLimit
	}
	return limit
}
