package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/sharpefolio/pkg/genetic"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Optimizer  OptimizerConfig  `mapstructure:"optimizer"`
	Data       DataConfig       `mapstructure:"data"`
	Metric     MetricConfig     `mapstructure:"metric"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Binance    BinanceConfig    `mapstructure:"binance"`
	Results    ResultsConfig    `mapstructure:"results"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Vault      VaultConfig      `mapstructure:"vault"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // json or console
}

// OptimizerConfig contains the genetic search parameters
type OptimizerConfig struct {
	PopulationSize int     `mapstructure:"population_size"`  // 60
	MatingPoolSize int     `mapstructure:"mating_pool_size"` // 10
	Generations    int     `mapstructure:"generations"`      // 20
	MutationRate   float64 `mapstructure:"mutation_rate"`    // 0.1
	Parallelism    int     `mapstructure:"parallelism"`      // 4
	Seed           int64   `mapstructure:"seed"`             // 0 = time-based
}

// DataConfig selects where price histories come from
type DataConfig struct {
	Source       string   `mapstructure:"source"` // csv, postgres, binance
	Assets       []string `mapstructure:"assets"`
	CSVDir       string   `mapstructure:"csv_dir"`
	CSVExtension string   `mapstructure:"csv_extension"`
	Interval     string   `mapstructure:"interval"`   // candlestick interval, "1d"
	StartDate    string   `mapstructure:"start_date"` // YYYY-MM-DD, optional
	EndDate      string   `mapstructure:"end_date"`   // YYYY-MM-DD, optional
	Days         int      `mapstructure:"days"`       // lookback when no dates are set
}

// MetricConfig parameterizes the Sharpe ratio
type MetricConfig struct {
	RiskFreeRate   float64 `mapstructure:"risk_free_rate"`
	PeriodsPerYear float64 `mapstructure:"periods_per_year"`
	Returns        string  `mapstructure:"returns"` // diff or pct
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings for the price history cache
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	CacheTTL int    `mapstructure:"cache_ttl"` // seconds
}

// NATSConfig contains NATS settings for progress events
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Prefix  string `mapstructure:"prefix"`
}

// BinanceConfig contains settings for the Binance klines source
type BinanceConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	SecretKey         string  `mapstructure:"secret_key"`
	BaseURL           string  `mapstructure:"base_url"` // overrides the public endpoint
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// ResultsConfig selects where finished runs are recorded and exported
type ResultsConfig struct {
	Store        string `mapstructure:"store"` // none, postgres, sqlite
	SQLitePath   string `mapstructure:"sqlite_path"`
	ExportPath   string `mapstructure:"export_path"`
	ExportFormat string `mapstructure:"export_format"` // yaml or json
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host              string   `mapstructure:"host"`
	Port              int      `mapstructure:"port"`
	AllowedOrigins    []string `mapstructure:"allowed_origins"`
	MaxConcurrentJobs int      `mapstructure:"max_concurrent_jobs"`
	JobRetention      int      `mapstructure:"job_retention"` // finished jobs kept for lookup
	RateLimit         float64  `mapstructure:"rate_limit"`    // requests per second per client, 0 disables
	RateBurst         int      `mapstructure:"rate_burst"`
}

// AlertsConfig selects where finished-run alerts are sent
type AlertsConfig struct {
	MinSeverity string               `mapstructure:"min_severity"` // info, warning, critical
	Telegram    TelegramAlertsConfig `mapstructure:"telegram"`
}

// TelegramAlertsConfig contains Telegram bot settings
type TelegramAlertsConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	BotToken    string  `mapstructure:"bot_token"`
	ChatIDs     []int64 `mapstructure:"chat_ids"`
	APIEndpoint string  `mapstructure:"api_endpoint"`
}

// VaultConfig points at the KV v2 secret holding service credentials
type VaultConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"` // defaults to VAULT_ADDR
	Token   string `mapstructure:"token"`   // defaults to VAULT_TOKEN
	Mount   string `mapstructure:"mount"`
	Path    string `mapstructure:"path"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// SecretsFunc fills credentials into a loaded configuration before it is validated
type SecretsFunc func(ctx context.Context, cfg *Config) error

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return LoadWithSecrets(context.Background(), configPath, nil)
}

// LoadWithSecrets loads configuration like Load and, when vault.enabled is
// set, calls secrets before validation
func LoadWithSecrets(ctx context.Context, configPath string, secrets SecretsFunc) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides, e.g. SHARPEFOLIO_OPTIMIZER_GENERATIONS
	v.SetEnvPrefix("SHARPEFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Vault.Enabled && secrets != nil {
		if err := secrets(ctx, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load secrets: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "sharpefolio")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Optimizer defaults
	v.SetDefault("optimizer.population_size", 60)
	v.SetDefault("optimizer.mating_pool_size", 10)
	v.SetDefault("optimizer.generations", 20)
	v.SetDefault("optimizer.mutation_rate", 0.1)
	v.SetDefault("optimizer.parallelism", 4)
	v.SetDefault("optimizer.seed", 0)

	// Data defaults
	v.SetDefault("data.source", "csv")
	v.SetDefault("data.assets", []string{
		"AAPL", "ADBE", "AMZN", "FB", "GOOG", "MSFT", "NFLX", "NVDA", "PYPL", "TSLA",
	})
	v.SetDefault("data.csv_dir", "data/")
	v.SetDefault("data.csv_extension", ".csv")
	v.SetDefault("data.interval", "1d")
	v.SetDefault("data.days", 365)

	// Metric defaults
	v.SetDefault("metric.risk_free_rate", 0.0)
	v.SetDefault("metric.periods_per_year", 252)
	v.SetDefault("metric.returns", "diff")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "sharpefolio")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 3600)

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.prefix", "sharpefolio.")

	// Binance defaults
	v.SetDefault("binance.requests_per_second", 5.0)

	// Results defaults
	v.SetDefault("results.store", "none")
	v.SetDefault("results.sqlite_path", "sharpefolio.db")
	v.SetDefault("results.export_format", "yaml")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.allowed_origins", []string{"*"})
	v.SetDefault("api.max_concurrent_jobs", 2)
	v.SetDefault("api.job_retention", 100)
	v.SetDefault("api.rate_limit", 10.0)
	v.SetDefault("api.rate_burst", 20)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	// Alert defaults
	v.SetDefault("alerts.min_severity", "warning")
	v.SetDefault("alerts.telegram.enabled", false)

	// Vault defaults
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.mount", "secret")
	v.SetDefault("vault.path", "sharpefolio")

	// Credentials have no defaults but must still be reachable from the
	// environment, e.g. SHARPEFOLIO_DATABASE_PASSWORD
	for _, key := range []string{
		"database.password",
		"redis.password",
		"binance.api_key",
		"binance.secret_key",
		"alerts.telegram.bot_token",
		"vault.address",
		"vault.token",
	} {
		v.SetDefault(key, "")
	}
}

// GeneticConfig converts the optimizer settings for a run over numWeights assets
func (c *OptimizerConfig) GeneticConfig(numWeights int) genetic.Config {
	return genetic.Config{
		PopulationSize: c.PopulationSize,
		MatingPoolSize: c.MatingPoolSize,
		Generations:    c.Generations,
		MutationRate:   c.MutationRate,
		NumWeights:     numWeights,
		Parallelism:    c.Parallelism,
		Seed:           c.Seed,
	}
}

// UsesPostgres reports whether any component needs the PostgreSQL pool
func (c *Config) UsesPostgres() bool {
	return c.Data.Source == SourcePostgres || c.Results.Store == StorePostgres
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetCacheTTL returns the cache TTL as time.Duration
func (c *RedisConfig) GetCacheTTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
