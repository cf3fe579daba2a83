package runner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/internal/metrics"
	"github.com/ajitpratap0/sharpefolio/pkg/genetic"
	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

// JobStatus represents the status of an optimization job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ErrJobNotFound is returned for unknown job IDs
var ErrJobNotFound = errors.New("optimization job not found")

// ErrShuttingDown is returned when submitting to a stopped manager
var ErrShuttingDown = errors.New("job manager is shutting down")

// DefaultJobRetention is how many finished jobs a manager keeps for lookup
const DefaultJobRetention = 100

// Job is an asynchronous optimization and its latest progress
type Job struct {
	ID          uuid.UUID   `json:"id"`
	Status      JobStatus   `json:"status"`
	Request     Request     `json:"request"`
	Progress    JobProgress `json:"progress"`
	Result      *JobResult  `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// JobProgress tracks the most recent generation
type JobProgress struct {
	Generation int      `json:"generation"` // generations ranked so far
	Total      int      `json:"total"`
	BestScore  *float64 `json:"best_score"`
}

// JobResult is the outcome of a completed job
type JobResult struct {
	Allocations []portfolio.Allocation `json:"allocations"`
	BestScore   *float64               `json:"best_score"`
	Metrics     *portfolio.Metrics     `json:"metrics,omitempty"`
	Evaluations int                    `json:"evaluations"`
	Seed        int64                  `json:"seed"`
	DurationMs  int64                  `json:"duration_ms"`
}

// JobListener receives a snapshot of a job after every change. It is called
// from the job's goroutine and must not block.
type JobListener func(job *Job)

// IsFinished reports whether the job reached a terminal status
func (j *Job) IsFinished() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobManager runs optimization jobs in the background with bounded concurrency.
// Only the most recent finished jobs are kept, see SetRetention.
type JobManager struct {
	service *Service
	slots   chan struct{}

	mu        sync.RWMutex
	jobs      map[uuid.UUID]*Job
	cancels   map[uuid.UUID]context.CancelFunc
	listeners []JobListener
	retain    int
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobManager creates a job manager running at most maxConcurrent jobs at once
func NewJobManager(service *Service, maxConcurrent int) *JobManager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		service: service,
		slots:   make(chan struct{}, maxConcurrent),
		jobs:    make(map[uuid.UUID]*Job),
		cancels: make(map[uuid.UUID]context.CancelFunc),
		retain:  DefaultJobRetention,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetRetention bounds the number of finished jobs kept in memory. Older
// finished jobs are dropped as new ones finish; running jobs are never dropped.
func (m *JobManager) SetRetention(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retain = max(n, 0)
	m.evictLocked()
}

// AddListener registers fn for updates of every job
func (m *JobManager) AddListener(fn JobListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Submit validates req and queues it. The returned job is a snapshot.
func (m *JobManager) Submit(req Request) (*Job, error) {
	if err := m.service.Prepare(&req); err != nil {
		return nil, fmt.Errorf("invalid job configuration: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrShuttingDown
	}
	if _, exists := m.jobs[req.ID]; exists {
		return nil, fmt.Errorf("job %s already exists", req.ID)
	}

	now := time.Now()
	job := &Job{
		ID:        req.ID,
		Status:    JobStatusPending,
		Request:   req,
		Progress:  JobProgress{Total: req.Config.Generations},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[job.ID] = job

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancels[job.ID] = cancel
	m.updateActiveLocked()

	m.wg.Add(1)
	go m.execute(ctx, job.ID, req)

	log.Info().
		Str("job_id", job.ID.String()).
		Strs("assets", req.Assets).
		Str("source", req.Source).
		Msg("Created optimization job")

	return cloneJob(job), nil
}

func (m *JobManager) execute(ctx context.Context, id uuid.UUID, req Request) {
	defer m.wg.Done()

	select {
	case m.slots <- struct{}{}:
		defer func() { <-m.slots }()
	case <-ctx.Done():
		m.fail(id, ctx.Err())
		return
	}

	m.update(id, func(job *Job) {
		now := time.Now()
		job.Status = JobStatusRunning
		job.StartedAt = &now
	})

	progress := func(report genetic.GenerationReport) {
		m.update(id, func(job *Job) {
			job.Progress.Generation = report.Generation + 1
			job.Progress.Total = report.Total
			job.Progress.BestScore = finite(report.BestScore)
		})
	}

	outcome, err := m.service.Run(ctx, req, progress)
	if err != nil {
		m.fail(id, err)
		return
	}

	m.finish(id, func(job *Job) {
		now := time.Now()
		job.Status = JobStatusCompleted
		job.CompletedAt = &now
		job.Result = &JobResult{
			Allocations: outcome.Report.Allocations,
			BestScore:   finite(outcome.Result.BestScore),
			Metrics:     finiteMetrics(outcome.Metrics),
			Evaluations: outcome.Result.Evaluations,
			Seed:        outcome.Result.Seed,
			DurationMs:  outcome.Result.Duration.Milliseconds(),
		}
	})
}

func (m *JobManager) fail(id uuid.UUID, err error) {
	status := JobStatusFailed
	if errors.Is(err, context.Canceled) {
		status = JobStatusCancelled
	}
	m.finish(id, func(job *Job) {
		now := time.Now()
		job.Status = status
		job.Error = err.Error()
		job.CompletedAt = &now
	})
}

func (m *JobManager) update(id uuid.UUID, fn func(job *Job)) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if ok {
		fn(job)
		job.UpdatedAt = time.Now()
	}
	snapshot, listeners := m.snapshotLocked(job, ok)
	m.mu.Unlock()

	notify(listeners, snapshot)
}

// finish applies the terminal update and releases the job's cancel func in
// one step, so a finished job can never be cancelled
func (m *JobManager) finish(id uuid.UUID, fn func(job *Job)) {
	m.mu.Lock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
	job, ok := m.jobs[id]
	if ok {
		fn(job)
		job.UpdatedAt = time.Now()
	}
	snapshot, listeners := m.snapshotLocked(job, ok)
	m.evictLocked()
	m.updateActiveLocked()
	m.mu.Unlock()

	notify(listeners, snapshot)
}

func (m *JobManager) snapshotLocked(job *Job, ok bool) (*Job, []JobListener) {
	if !ok || len(m.listeners) == 0 {
		return nil, nil
	}
	return cloneJob(job), slices.Clone(m.listeners)
}

func notify(listeners []JobListener, job *Job) {
	for _, fn := range listeners {
		fn(job)
	}
}

// evictLocked drops the oldest finished jobs beyond the retention limit.
// Callers hold mu.
func (m *JobManager) evictLocked() {
	var finished []*Job
	for _, job := range m.jobs {
		if _, running := m.cancels[job.ID]; !running {
			finished = append(finished, job)
		}
	}
	if len(finished) <= m.retain {
		return
	}

	slices.SortFunc(finished, func(a, b *Job) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	for _, job := range finished[:len(finished)-m.retain] {
		delete(m.jobs, job.ID)
	}
}

// updateActiveLocked publishes the number of unfinished jobs. Callers hold mu.
func (m *JobManager) updateActiveLocked() {
	metrics.SetActiveJobs(len(m.cancels))
}

// Get returns a snapshot of a job
func (m *JobManager) Get(id uuid.UUID) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// List returns up to limit jobs, newest first, optionally filtered by status
func (m *JobManager) List(status JobStatus, limit int) []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if status != "" && job.Status != status {
			continue
		}
		jobs = append(jobs, cloneJob(job))
	}

	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// Cancel stops a pending or running job
func (m *JobManager) Cancel(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return ErrJobNotFound
	}
	cancel, ok := m.cancels[id]
	if !ok {
		return fmt.Errorf("job %s is not running", id)
	}
	cancel()

	log.Info().Str("job_id", id.String()).Msg("Cancelling optimization job")
	return nil
}

// Shutdown cancels all jobs and waits for them to stop
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cloneJob(job *Job) *Job {
	c := *job
	c.Request.Assets = slices.Clone(job.Request.Assets)
	if job.Result != nil {
		result := *job.Result
		result.Allocations = slices.Clone(job.Result.Allocations)
		c.Result = &result
	}
	return &c
}
