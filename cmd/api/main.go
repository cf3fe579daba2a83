// Sharpefolio API server
// Accepts optimization jobs over HTTP and serves stored runs
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/internal/api"
	"github.com/ajitpratap0/sharpefolio/internal/config"
	"github.com/ajitpratap0/sharpefolio/internal/metrics"
	"github.com/ajitpratap0/sharpefolio/internal/runner"
	"github.com/ajitpratap0/sharpefolio/internal/vault"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default ./configs/config.yaml)")
	flag.Parse()

	cfg, err := config.LoadWithSecrets(context.Background(), *configPath, vault.ApplySecrets)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().Str("version", config.GetVersion()).Msg("Starting Sharpefolio API Server")

	// Create context that listens for interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	svc, res, err := runner.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build optimization service")
	}
	defer res.Close()

	jobs := runner.NewJobManager(svc, cfg.API.MaxConcurrentJobs)
	jobs.SetRetention(cfg.API.JobRetention)

	checks := map[string]api.HealthCheck{}
	if res.DB != nil {
		checks["database"] = res.DB.Health
	}
	if res.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return res.Redis.Ping(ctx).Err() }
	}
	if res.Publisher != nil {
		checks["nats"] = res.Publisher.Health
	}
	if cfg.Vault.Enabled {
		vaultClient, err := vault.NewClient(cfg.Vault)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Vault client")
		}
		checks["vault"] = vaultClient.Health
	}

	server := api.NewServer(api.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Jobs: jobs,
		Runs: res.Runs,
		Defaults: api.Defaults{
			Assets:    cfg.Data.Assets,
			Optimizer: cfg.Optimizer,
		},
		HealthChecks:   checks,
		AllowedOrigins: cfg.API.AllowedOrigins,
		RateLimit: api.RateLimitConfig{
			Enabled:           cfg.API.RateLimit > 0,
			RequestsPerSecond: cfg.API.RateLimit,
			Burst:             cfg.API.RateBurst,
		},
		Version: config.GetVersion(),
	})

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, log.Logger)
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start metrics server")
		}
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Wait for interrupt signal or server error
	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("Server error")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop server gracefully")
	}
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Optimization jobs did not stop in time")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop metrics server")
		}
	}

	log.Info().Msg("Server stopped successfully")
}
