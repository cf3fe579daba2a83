package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/internal/metrics"
	"github.com/ajitpratap0/sharpefolio/internal/runner"
	"github.com/ajitpratap0/sharpefolio/internal/store"
	"github.com/ajitpratap0/sharpefolio/internal/validation"
)

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Server represents the REST API server
type Server struct {
	router         *gin.Engine
	jobs           *runner.JobManager
	runs           store.RunStore
	defaults       Defaults
	limits         validation.Limits
	checks         map[string]HealthCheck
	allowedOrigins []string
	hub            *Hub
	hubCancel      context.CancelFunc
	version        string
	startedAt      time.Time
	addr           string
	server         *http.Server
}

// Config contains server configuration
type Config struct {
	Host           string
	Port           int
	Jobs           *runner.JobManager
	Runs           store.RunStore // optional
	Defaults       Defaults
	HealthChecks   map[string]HealthCheck
	AllowedOrigins []string
	RateLimit      RateLimitConfig
	Version        string
}

// NewServer creates a new API server
func NewServer(config Config) *Server {
	router := gin.New()

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(MetricsMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	if config.RateLimit.Enabled {
		router.Use(NewRateLimiter(config.RateLimit).Middleware())
	}

	limits := config.Defaults.Limits
	if limits == (validation.Limits{}) {
		limits = validation.DefaultLimits()
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(hubCtx)
	if config.Jobs != nil {
		config.Jobs.AddListener(hub.Publish)
	}

	server := &Server{
		router:         router,
		jobs:           config.Jobs,
		runs:           config.Runs,
		defaults:       config.Defaults,
		limits:         limits,
		checks:         config.HealthChecks,
		allowedOrigins: origins,
		hub:            hub,
		hubCancel:      hubCancel,
		version:        config.Version,
		startedAt:      time.Now(),
		addr:           fmt.Sprintf("%s:%d", config.Host, config.Port),
	}

	server.setupRoutes()

	return server
}

// Router exposes the handler, mainly for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	// Shutdown does not wait for hijacked connections
	s.hubCancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// LoggerMiddleware is a custom logging middleware for Gin
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}

// MetricsMiddleware records request latency by route template
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordAPIRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			float64(time.Since(start).Milliseconds()),
		)
	}
}
