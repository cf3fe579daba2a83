package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/internal/config"
	"github.com/ajitpratap0/sharpefolio/internal/runner"
	"github.com/ajitpratap0/sharpefolio/internal/store"
	"github.com/ajitpratap0/sharpefolio/internal/validation"
	"github.com/ajitpratap0/sharpefolio/pkg/genetic"
	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

// Defaults fill the fields an optimization request leaves out
type Defaults struct {
	Assets    []string
	Optimizer config.OptimizerConfig
	Limits    validation.Limits // zero uses validation.DefaultLimits
}

// CreateOptimizationRequest defines the request body for starting an optimization.
// Unset fields take the server defaults.
type CreateOptimizationRequest struct {
	Assets         []string `json:"assets"`
	Source         string   `json:"source"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	PopulationSize *int     `json:"population_size" binding:"omitempty,gt=0"`
	MatingPoolSize *int     `json:"mating_pool_size" binding:"omitempty,gt=0"`
	Generations    *int     `json:"generations" binding:"omitempty,gte=0"`
	MutationRate   *float64 `json:"mutation_rate" binding:"omitempty,gte=0,lte=1"`
	Seed           *int64   `json:"seed"`
}

// RunResponse is the JSON form of a stored run
type RunResponse struct {
	ID           uuid.UUID              `json:"id"`
	Status       store.RunStatus        `json:"status"`
	Source       string                 `json:"source"`
	Config       genetic.Config         `json:"config"`
	Allocations  []portfolio.Allocation `json:"allocations"`
	BestScore    *float64               `json:"best_score"`
	ScoreHistory []*float64             `json:"score_history"`
	Seed         int64                  `json:"seed"`
	Evaluations  int                    `json:"evaluations"`
	StartDate    string                 `json:"start_date,omitempty"`
	EndDate      string                 `json:"end_date,omitempty"`
	Error        string                 `json:"error,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  time.Time              `json:"completed_at"`
	DurationMs   int64                  `json:"duration_ms"`
}

func newRunResponse(run *store.Run) RunResponse {
	exp := runner.NewRunExport(run, nil)
	return RunResponse{
		ID:           run.ID,
		Status:       run.Status,
		Source:       run.Source,
		Config:       run.Config,
		Allocations:  exp.Allocations,
		BestScore:    exp.BestScore,
		ScoreHistory: exp.ScoreHistory,
		Seed:         run.Seed,
		Evaluations:  run.Evaluations,
		StartDate:    exp.StartDate,
		EndDate:      exp.EndDate,
		Error:        run.Error,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
		DurationMs:   exp.DurationMs,
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "Sharpefolio API",
		"version": s.version,
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleGetHealth checks every registered dependency
func (s *Server) handleGetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	components := gin.H{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			log.Warn().Err(err).Str("component", name).Msg("Health check failed")
			components[name] = gin.H{"status": "unhealthy", "error": err.Error()}
			status = "degraded"
			continue
		}
		components[name] = gin.H{"status": "healthy"}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(s.startedAt).Seconds(),
		"version":    s.version,
		"components": components,
	})
}

// handleCreateOptimization queues a new optimization job
func (s *Server) handleCreateOptimization(c *gin.Context) {
	var body CreateOptimizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	req, err := s.buildRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	job, err := s.jobs.Submit(req)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, runner.ErrShuttingDown) {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"error":   "Failed to create optimization job",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":      job.ID.String(),
		"status":  job.Status,
		"message": "Optimization job created. Use GET /api/v1/optimizations/:id to check status.",
	})
}

func (s *Server) buildRequest(body CreateOptimizationRequest) (runner.Request, error) {
	opt := s.defaults.Optimizer
	if body.PopulationSize != nil {
		opt.PopulationSize = *body.PopulationSize
	}
	if body.MatingPoolSize != nil {
		opt.MatingPoolSize = *body.MatingPoolSize
	}
	if body.Generations != nil {
		opt.Generations = *body.Generations
	}
	if body.MutationRate != nil {
		opt.MutationRate = *body.MutationRate
	}
	if body.Seed != nil {
		opt.Seed = *body.Seed
	}

	assets := validation.SanitizeAssets(body.Assets)
	if len(assets) == 0 {
		assets = s.defaults.Assets
	}

	start, end, err := validation.NewRequestValidator(s.limits).Validate(validation.OptimizationRequest{
		Assets:         assets,
		StartDate:      body.StartDate,
		EndDate:        body.EndDate,
		PopulationSize: opt.PopulationSize,
		Generations:    opt.Generations,
	})
	if err != nil {
		return runner.Request{}, err
	}

	req := runner.Request{
		Source:    body.Source,
		Assets:    assets,
		StartDate: start,
		EndDate:   end,
		Config:    opt.GeneticConfig(len(assets)),
	}

	return req, nil
}

// handleGetOptimization returns a job with its progress or result
func (s *Server) handleGetOptimization(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	job, err := s.jobs.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Optimization job not found",
			"job_id": id.String(),
		})
		return
	}

	c.JSON(http.StatusOK, job)
}

// handleListOptimizations lists jobs, newest first
func (s *Server) handleListOptimizations(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	status := runner.JobStatus(c.Query("status"))
	switch status {
	case "", runner.JobStatusPending, runner.JobStatusRunning, runner.JobStatusCompleted,
		runner.JobStatusFailed, runner.JobStatusCancelled:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter"})
		return
	}

	jobs := s.jobs.List(status, limit)
	c.JSON(http.StatusOK, gin.H{
		"optimizations": jobs,
		"count":         len(jobs),
		"limit":         limit,
	})
}

// handleCancelOptimization stops a pending or running job
func (s *Server) handleCancelOptimization(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := s.jobs.Cancel(id); err != nil {
		code := http.StatusConflict
		if errors.Is(err, runner.ErrJobNotFound) {
			code = http.StatusNotFound
		}
		c.JSON(code, gin.H{
			"error":   "Failed to cancel optimization job",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      id.String(),
		"message": "Cancellation requested",
	})
}

// handleListRuns lists stored runs, most recent first
func (s *Server) handleListRuns(c *gin.Context) {
	if !s.requireRunStore(c) {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list runs",
			"details": err.Error(),
		})
		return
	}

	out := make([]RunResponse, len(runs))
	for i, run := range runs {
		out[i] = newRunResponse(run)
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  out,
		"count": len(out),
		"limit": limit,
	})
}

// handleGetRun returns a stored run
func (s *Server) handleGetRun(c *gin.Context) {
	run, ok := s.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newRunResponse(run))
}

// handleExportRun returns a stored run as a YAML or JSON export document
func (s *Server) handleExportRun(c *gin.Context) {
	format := runner.ExportFormat(c.DefaultQuery("format", string(runner.FormatYAML)))
	if format != runner.FormatYAML && format != runner.FormatJSON {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be yaml or json"})
		return
	}

	run, ok := s.loadRun(c)
	if !ok {
		return
	}

	data, err := runner.Export(runner.NewRunExport(run, nil), format)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to export run",
			"details": err.Error(),
		})
		return
	}

	contentType := "application/yaml"
	if format == runner.FormatJSON {
		contentType = "application/json"
	}
	c.Header("Content-Disposition", "attachment; filename=run-"+run.ID.String()+"."+string(format))
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) loadRun(c *gin.Context) (*store.Run, bool) {
	if !s.requireRunStore(c) {
		return nil, false
	}
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}

	run, err := s.runs.GetRun(c.Request.Context(), id)
	if errors.Is(err, store.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Run not found",
			"run_id": id.String(),
		})
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Str("run_id", id.String()).Msg("Failed to load run")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load run",
			"details": err.Error(),
		})
		return nil, false
	}
	return run, true
}

func (s *Server) requireRunStore(c *gin.Context) bool {
	if s.runs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error": "Run storage is not configured",
		})
		return false
	}
	return true
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid ID format",
			"details": "Expected UUID format",
		})
		return uuid.Nil, false
	}
	return id, true
}

func parseLimit(c *gin.Context) (int, bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid limit parameter",
			"details": "Limit must be between 1 and 100",
		})
		return 0, false
	}
	return limit, true
}
