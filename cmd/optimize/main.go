// Optimize CLI
// Searches for the asset weighting with the best Sharpe ratio and prints the allocation
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/internal/config"
	"github.com/ajitpratap0/sharpefolio/internal/runner"
	"github.com/ajitpratap0/sharpefolio/internal/vault"
	"github.com/ajitpratap0/sharpefolio/pkg/genetic"
	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

// ============================================================================
// CLI FLAGS
// ============================================================================

var (
	configPath = flag.String("config", "", "Path to config file (default ./configs/config.yaml)")

	// Data selection, overriding the config file
	source    = flag.String("source", "", "Price source (csv, postgres, binance)")
	assets    = flag.String("assets", "", "Comma-separated list of assets")
	startDate = flag.String("start", "", "Start date (YYYY-MM-DD)")
	endDate   = flag.String("end", "", "End date (YYYY-MM-DD)")

	// Search parameters, overriding the config file when >= 0
	population  = flag.Int("population", -1, "Population size")
	matingPool  = flag.Int("pool", -1, "Mating pool size")
	generations = flag.Int("generations", -1, "Number of generations")
	mutation    = flag.Float64("mutation", -1, "Mutation rate in [0, 1]")
	seed        = flag.Int64("seed", 0, "Random seed (0 = time-based)")

	// Output
	exportPath = flag.String("export", "", "Write the run to this file (.yaml or .json)")
	quiet      = flag.Bool("quiet", false, "Only print the final report")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
)

// ============================================================================
// MAIN
// ============================================================================

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	cfg, err := config.LoadWithSecrets(context.Background(), *configPath, vault.ApplySecrets)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("Optimization failed")
		stop()
		os.Exit(1)
	}
}

// applyFlags copies the flags that were set into cfg
func applyFlags(cfg *config.Config) {
	if *source != "" {
		cfg.Data.Source = *source
	}
	if *assets != "" {
		cfg.Data.Assets = parseAssets(*assets)
	}
	if *startDate != "" {
		cfg.Data.StartDate = *startDate
	}
	if *endDate != "" {
		cfg.Data.EndDate = *endDate
	}
	if *population >= 0 {
		cfg.Optimizer.PopulationSize = *population
	}
	if *matingPool >= 0 {
		cfg.Optimizer.MatingPoolSize = *matingPool
	}
	if *generations >= 0 {
		cfg.Optimizer.Generations = *generations
	}
	if *mutation >= 0 {
		cfg.Optimizer.MutationRate = *mutation
	}
	if *seed != 0 {
		cfg.Optimizer.Seed = *seed
	}
	if *exportPath != "" {
		cfg.Results.ExportPath = *exportPath
	}
}

// ============================================================================
// OPTIMIZATION
// ============================================================================

func run(ctx context.Context, cfg *config.Config) error {
	svc, res, err := runner.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer res.Close()

	start, end, err := cfg.Data.DateRange(time.Now())
	if err != nil {
		return err
	}

	req := runner.Request{
		Assets:    cfg.Data.Assets,
		StartDate: start,
		EndDate:   end,
		Config:    cfg.Optimizer.GeneticConfig(len(cfg.Data.Assets)),
	}

	var observers []genetic.Observer
	if !*quiet {
		observers = append(observers, func(report genetic.GenerationReport) {
			fmt.Println(portfolio.FormatGeneration(report.Generation, report.BestWeighting, report.BestScore))
		})
	}

	outcome, err := svc.Run(ctx, req, observers...)
	if err != nil {
		return err
	}

	fmt.Println(portfolio.GenerateReport(outcome.Report))

	if cfg.Results.ExportPath != "" {
		format := runner.ExportFormat(cfg.Results.ExportFormat)
		switch filepath.Ext(cfg.Results.ExportPath) {
		case ".json", ".yaml", ".yml":
			format = runner.FormatForPath(cfg.Results.ExportPath)
		}
		exp := runner.NewRunExport(outcome.Run, outcome.Metrics)
		if err := runner.ExportToFile(exp, cfg.Results.ExportPath, format); err != nil {
			return fmt.Errorf("failed to export run: %w", err)
		}
		log.Info().Str("file", cfg.Results.ExportPath).Str("format", string(format)).Msg("Run exported")
	}

	return nil
}

// ============================================================================
// UTILITIES
// ============================================================================

func parseAssets(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
