package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

// Price history sources
const (
	SourceCSV      = "csv"
	SourcePostgres = "postgres"
	SourceBinance  = "binance"
)

// Result stores
const (
	StoreNone     = "none"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

var (
	validEnvironments  = []string{"development", "staging", "production"}
	validLogFormats    = []string{"json", "console"}
	validSources       = []string{SourceCSV, SourcePostgres, SourceBinance}
	validStores        = []string{StoreNone, StorePostgres, StoreSQLite}
	validExportFormats = []string{"yaml", "json"}
	validSeverities    = []string{"info", "warning", "critical"}
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Fields returns the names of the offending fields in order
func (ve ValidationErrors) Fields() []string {
	fields := make([]string, len(ve))
	for i, err := range ve {
		fields[i] = err.Field
	}
	return fields
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateOptimizer()...)
	errors = append(errors, c.validateData()...)
	errors = append(errors, c.validateMetric()...)

	// Backing services are only checked when something will dial them
	if c.UsesPostgres() {
		errors = append(errors, c.validateDatabase()...)
	}
	if c.Redis.Enabled {
		errors = append(errors, c.validateRedis()...)
	}
	if c.NATS.Enabled {
		errors = append(errors, c.validateNATS()...)
	}
	if c.Data.Source == SourceBinance {
		errors = append(errors, c.validateBinance()...)
	}

	errors = append(errors, c.validateResults()...)
	errors = append(errors, c.validateAPI()...)
	errors = append(errors, c.validateAlerts()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if !slices.Contains(validEnvironments, c.App.Environment) {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvironments),
		})
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	}

	if c.App.LogFormat != "" && !slices.Contains(validLogFormats, c.App.LogFormat) {
		errors = append(errors, ValidationError{
			Field:   "app.log_format",
			Message: fmt.Sprintf("Invalid log format '%s'. Must be one of: %v", c.App.LogFormat, validLogFormats),
		})
	}

	return errors
}

func (c *Config) validateOptimizer() ValidationErrors {
	var errors ValidationErrors
	o := c.Optimizer

	if o.PopulationSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "optimizer.population_size",
			Message: "Population size must be at least 1",
		})
	}

	if o.MatingPoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "optimizer.mating_pool_size",
			Message: "Mating pool size must be at least 1",
		})
	}

	if o.Generations < 0 {
		errors = append(errors, ValidationError{
			Field:   "optimizer.generations",
			Message: "Generations cannot be negative",
		})
	}

	if o.MutationRate < 0 || o.MutationRate > 1 {
		errors = append(errors, ValidationError{
			Field:   "optimizer.mutation_rate",
			Message: fmt.Sprintf("Mutation rate must be between 0 and 1, got %v", o.MutationRate),
		})
	}

	if o.Parallelism < 0 {
		errors = append(errors, ValidationError{
			Field:   "optimizer.parallelism",
			Message: "Parallelism cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateData() ValidationErrors {
	var errors ValidationErrors
	d := c.Data

	if !slices.Contains(validSources, d.Source) {
		errors = append(errors, ValidationError{
			Field:   "data.source",
			Message: fmt.Sprintf("Invalid data source '%s'. Must be one of: %v", d.Source, validSources),
		})
	}

	if len(d.Assets) == 0 {
		errors = append(errors, ValidationError{
			Field:   "data.assets",
			Message: "At least one asset is required",
		})
	}

	seen := make(map[string]bool, len(d.Assets))
	for _, asset := range d.Assets {
		if strings.TrimSpace(asset) == "" {
			errors = append(errors, ValidationError{
				Field:   "data.assets",
				Message: "Asset names cannot be empty",
			})
			continue
		}
		if seen[asset] {
			errors = append(errors, ValidationError{
				Field:   "data.assets",
				Message: fmt.Sprintf("Duplicate asset '%s'", asset),
			})
		}
		seen[asset] = true
	}

	if d.Source == SourceCSV && d.CSVDir == "" {
		errors = append(errors, ValidationError{
			Field:   "data.csv_dir",
			Message: "CSV directory is required for the csv source",
		})
	}

	start, startErr := parseDate(d.StartDate)
	if startErr != nil {
		errors = append(errors, ValidationError{
			Field:   "data.start_date",
			Message: fmt.Sprintf("Invalid start date '%s'. Use YYYY-MM-DD", d.StartDate),
		})
	}
	end, endErr := parseDate(d.EndDate)
	if endErr != nil {
		errors = append(errors, ValidationError{
			Field:   "data.end_date",
			Message: fmt.Sprintf("Invalid end date '%s'. Use YYYY-MM-DD", d.EndDate),
		})
	}
	if startErr == nil && endErr == nil && !start.IsZero() && !end.IsZero() && !end.After(start) {
		errors = append(errors, ValidationError{
			Field:   "data.end_date",
			Message: "End date must be after start date",
		})
	}

	if d.Days < 0 {
		errors = append(errors, ValidationError{
			Field:   "data.days",
			Message: "Lookback days cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateMetric() ValidationErrors {
	var errors ValidationErrors

	if c.Metric.PeriodsPerYear <= 0 {
		errors = append(errors, ValidationError{
			Field:   "metric.periods_per_year",
			Message: "Periods per year must be positive",
		})
	}

	if _, err := portfolio.ParseReturnMode(c.Metric.Returns); err != nil {
		errors = append(errors, ValidationError{
			Field:   "metric.returns",
			Message: err.Error(),
		})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "Database host is required",
		})
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Database.Port),
		})
	}

	if c.Database.User == "" {
		errors = append(errors, ValidationError{
			Field:   "database.user",
			Message: "Database user is required",
		})
	}

	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "Database name is required",
		})
	}

	if c.Database.Password == "" && c.App.Environment == "production" {
		errors = append(errors, ValidationError{
			Field:   "database.password",
			Message: "Database password is required in production",
		})
	}

	if c.Database.PoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.pool_size",
			Message: "Database pool size must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required",
		})
	}

	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Redis.Port),
		})
	}

	if c.Redis.CacheTTL <= 0 {
		errors = append(errors, ValidationError{
			Field:   "redis.cache_ttl",
			Message: "Cache TTL must be positive",
		})
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	if c.NATS.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL is required",
		})
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL must start with 'nats://'",
		})
	}

	return errors
}

func (c *Config) validateBinance() ValidationErrors {
	var errors ValidationErrors

	if c.Binance.RequestsPerSecond <= 0 {
		errors = append(errors, ValidationError{
			Field:   "binance.requests_per_second",
			Message: "Request rate must be positive",
		})
	}

	return errors
}

func (c *Config) validateResults() ValidationErrors {
	var errors ValidationErrors

	if !slices.Contains(validStores, c.Results.Store) {
		errors = append(errors, ValidationError{
			Field:   "results.store",
			Message: fmt.Sprintf("Invalid result store '%s'. Must be one of: %v", c.Results.Store, validStores),
		})
	}

	if c.Results.Store == StoreSQLite && c.Results.SQLitePath == "" {
		errors = append(errors, ValidationError{
			Field:   "results.sqlite_path",
			Message: "SQLite path is required for the sqlite store",
		})
	}

	if c.Results.ExportFormat != "" && !slices.Contains(validExportFormats, c.Results.ExportFormat) {
		errors = append(errors, ValidationError{
			Field:   "results.export_format",
			Message: fmt.Sprintf("Invalid export format '%s'. Must be one of: %v", c.Results.ExportFormat, validExportFormats),
		})
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors

	if c.API.Port < 1 || c.API.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.API.Port),
		})
	}

	if c.API.JobRetention < 0 {
		errors = append(errors, ValidationError{
			Field:   "api.job_retention",
			Message: "Job retention cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateAlerts() ValidationErrors {
	var errors ValidationErrors

	if !slices.Contains(validSeverities, strings.ToLower(c.Alerts.MinSeverity)) {
		errors = append(errors, ValidationError{
			Field:   "alerts.min_severity",
			Message: fmt.Sprintf("Invalid severity '%s'. Must be one of: %v", c.Alerts.MinSeverity, validSeverities),
		})
	}

	if c.Alerts.Telegram.Enabled {
		if c.Alerts.Telegram.BotToken == "" {
			errors = append(errors, ValidationError{
				Field:   "alerts.telegram.bot_token",
				Message: "Bot token is required when Telegram alerts are enabled",
			})
		}
		if len(c.Alerts.Telegram.ChatIDs) == 0 {
			errors = append(errors, ValidationError{
				Field:   "alerts.telegram.chat_ids",
				Message: "At least one chat ID is required when Telegram alerts are enabled",
			})
		}
	}

	return errors
}

// DateRange returns the configured start and end dates. Missing bounds are
// zero. When both are missing a remote source reads the last Data.Days
// days up to now, while CSV files are read whole.
func (d *DataConfig) DateRange(now time.Time) (time.Time, time.Time, error) {
	start, err := parseDate(d.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := parseDate(d.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date: %w", err)
	}
	if start.IsZero() && end.IsZero() && d.Days > 0 && d.Source != SourceCSV {
		end = now.UTC()
		start = end.AddDate(0, 0, -d.Days)
	}
	return start, end, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}
