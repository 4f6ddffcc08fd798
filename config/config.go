// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/marketlens/insightgate/domain/insight"
	"github.com/marketlens/insightgate/domain/quota"
	"gopkg.in/yaml.v3"
)

// Storage drivers and directory modes.
const (
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"

	DirectoryLocal  = "local"
	DirectoryRemote = "remote"
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Observations ObservationsConfig `yaml:"observations"`
	Directory    DirectoryConfig    `yaml:"directory"`
	Auth         AuthConfig         `yaml:"auth"`
	Tiers        []TierConfig       `yaml:"tiers"`
	Insights     InsightsConfig     `yaml:"insights"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	OpenAPI        bool          `yaml:"openapi"`
}

// DatabaseConfig configures the local SQLite database that holds the client
// directory and, with the sqlite drivers, the ledger and observations.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// LedgerConfig selects the usage ledger backend.
type LedgerConfig struct {
	Driver string      `yaml:"driver"` // "sqlite" or "redis"
	Redis  RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the redis ledger.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password,omitempty"`
	DB         int           `yaml:"db"`
	KeyPrefix  string        `yaml:"key_prefix"`
	CounterTTL time.Duration `yaml:"counter_ttl"` // kept after the counter's UTC day ends, at least 24h
	MaxRecords int64         `yaml:"max_records"`
}

// ObservationsConfig selects where raw observations are read from.
type ObservationsConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn,omitempty"`
}

// DirectoryConfig selects the client directory.
// Use "local" for the SQLite directory or "remote" for the account service.
type DirectoryConfig struct {
	Mode   string       `yaml:"mode"`
	Remote RemoteConfig `yaml:"remote,omitempty"`
}

// RemoteConfig configures a remote service endpoint.
type RemoteConfig struct {
	URL     string            `yaml:"url"`
	APIKey  string            `yaml:"api_key,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// AuthConfig configures credential handling.
type AuthConfig struct {
	KeyPrefix  string `yaml:"key_prefix"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

// TierConfig configures a subscription tier.
type TierConfig struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	RequestsPerDay int64  `yaml:"requests_per_day"`
	Default        bool   `yaml:"default"`
}

// InsightsConfig configures the anonymization engine and query defaults.
type InsightsConfig struct {
	KThreshold           int           `yaml:"k_threshold"`
	DefaultCategoryWeeks int           `yaml:"default_category_weeks"`
	DefaultTrendWeeks    int           `yaml:"default_trend_weeks"`
	MaxWeeks             int           `yaml:"max_weeks"`
	QueryTimeout         time.Duration `yaml:"query_timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// QuotaTiers converts the configured tiers.
func (c *Config) QuotaTiers() []quota.Tier {
	tiers := make([]quota.Tier, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		tiers = append(tiers, quota.Tier{
			ID:             t.ID,
			Name:           t.Name,
			RequestsPerDay: t.RequestsPerDay,
			Default:        t.Default,
		})
	}
	return tiers
}

// InsightDefaults converts the configured query defaults.
func (c *Config) InsightDefaults() insight.Defaults {
	return insight.Defaults{
		CategoryWeeks: c.Insights.DefaultCategoryWeeks,
		TrendWeeks:    c.Insights.DefaultTrendWeeks,
		MaxWeeks:      c.Insights.MaxWeeks,
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files are
// skipped and existing variables are never overwritten. Files that exist but
// cannot be read or parsed are reported.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var errs []error
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("env file %s: %w", p, err))
			}
			continue
		}
		if err := godotenv.Load(p); err != nil {
			errs = append(errs, fmt.Errorf("env file %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	INSIGHTGATE_SERVER_HOST          - Server host (default: 0.0.0.0)
//	INSIGHTGATE_SERVER_PORT          - Server port (default: 8080)
//	INSIGHTGATE_DATABASE_DSN         - SQLite path (default: insightgate.db)
//	INSIGHTGATE_LEDGER_DRIVER        - sqlite or redis (default: sqlite)
//	INSIGHTGATE_REDIS_ADDR           - Redis address for the redis ledger
//	INSIGHTGATE_OBSERVATIONS_DRIVER  - sqlite or postgres (default: sqlite)
//	INSIGHTGATE_OBSERVATIONS_DSN     - Postgres DSN for the postgres source
//	INSIGHTGATE_DIRECTORY_MODE       - local or remote (default: local)
//	INSIGHTGATE_DIRECTORY_URL        - Account service URL for remote mode
//	INSIGHTGATE_AUTH_KEY_PREFIX      - Credential prefix (default: ig_live_)
//	INSIGHTGATE_K_THRESHOLD          - Anonymity threshold, at least 100
//	INSIGHTGATE_LOG_LEVEL            - debug, info, warn, error (default: info)
//	INSIGHTGATE_LOG_FORMAT           - json or console (default: json)
//	INSIGHTGATE_SERVER_OPENAPI       - Serve the OpenAPI document and Swagger UI
//	INSIGHTGATE_METRICS_ENABLED      - Enable /metrics endpoint
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads from path when it exists, otherwise from the environment.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies INSIGHTGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INSIGHTGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("INSIGHTGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("INSIGHTGATE_SERVER_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.RequestTimeout = d
		}
	}

	if v := os.Getenv("INSIGHTGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("INSIGHTGATE_LEDGER_DRIVER"); v != "" {
		cfg.Ledger.Driver = v
	}
	if v := os.Getenv("INSIGHTGATE_REDIS_ADDR"); v != "" {
		cfg.Ledger.Redis.Addr = v
	}
	if v := os.Getenv("INSIGHTGATE_REDIS_PASSWORD"); v != "" {
		cfg.Ledger.Redis.Password = v
	}
	if v := os.Getenv("INSIGHTGATE_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ledger.Redis.DB = n
		}
	}

	if v := os.Getenv("INSIGHTGATE_OBSERVATIONS_DRIVER"); v != "" {
		cfg.Observations.Driver = v
	}
	if v := os.Getenv("INSIGHTGATE_OBSERVATIONS_DSN"); v != "" {
		cfg.Observations.DSN = v
	}

	if v := os.Getenv("INSIGHTGATE_DIRECTORY_MODE"); v != "" {
		cfg.Directory.Mode = v
	}
	if v := os.Getenv("INSIGHTGATE_DIRECTORY_URL"); v != "" {
		cfg.Directory.Remote.URL = v
	}
	if v := os.Getenv("INSIGHTGATE_DIRECTORY_API_KEY"); v != "" {
		cfg.Directory.Remote.APIKey = v
	}

	if v := os.Getenv("INSIGHTGATE_AUTH_KEY_PREFIX"); v != "" {
		cfg.Auth.KeyPrefix = v
	}

	if v := os.Getenv("INSIGHTGATE_K_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Insights.KThreshold = n
		}
	}
	if v := os.Getenv("INSIGHTGATE_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Insights.QueryTimeout = d
		}
	}

	if v := os.Getenv("INSIGHTGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("INSIGHTGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("INSIGHTGATE_SERVER_OPENAPI"); v != "" {
		cfg.Server.OpenAPI = parseBool(v)
	}
	if v := os.Getenv("INSIGHTGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "insightgate.db"
	}

	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = DriverSQLite
	}
	if cfg.Ledger.Redis.KeyPrefix == "" {
		cfg.Ledger.Redis.KeyPrefix = "insightgate"
	}
	if cfg.Ledger.Redis.CounterTTL == 0 {
		cfg.Ledger.Redis.CounterTTL = 48 * time.Hour
	}

	if cfg.Observations.Driver == "" {
		cfg.Observations.Driver = DriverSQLite
	}

	if cfg.Directory.Mode == "" {
		cfg.Directory.Mode = DirectoryLocal
	}
	if cfg.Directory.Remote.Timeout == 0 {
		cfg.Directory.Remote.Timeout = 5 * time.Second
	}

	if cfg.Auth.KeyPrefix == "" {
		cfg.Auth.KeyPrefix = "ig_live_"
	}

	d := insight.DefaultDefaults()
	if cfg.Insights.KThreshold == 0 {
		cfg.Insights.KThreshold = insight.DefaultThreshold
	}
	if cfg.Insights.DefaultCategoryWeeks == 0 {
		cfg.Insights.DefaultCategoryWeeks = d.CategoryWeeks
	}
	if cfg.Insights.DefaultTrendWeeks == 0 {
		cfg.Insights.DefaultTrendWeeks = d.TrendWeeks
	}
	if cfg.Insights.MaxWeeks == 0 {
		cfg.Insights.MaxWeeks = d.MaxWeeks
	}
	if cfg.Insights.QueryTimeout == 0 {
		cfg.Insights.QueryTimeout = 5 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Default tier if none configured
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = []TierConfig{
			{ID: "standard", Name: "Standard", RequestsPerDay: 1000, Default: true},
		}
	}
}

// minCounterTTL is how long a daily counter is kept after its UTC day ends.
const minCounterTTL = 24 * time.Hour

func validate(cfg *Config) error {
	var errs []error

	if cfg.Ledger.Driver != DriverSQLite && cfg.Ledger.Driver != DriverRedis {
		errs = append(errs, fmt.Errorf("ledger.driver must be 'sqlite' or 'redis', got %q", cfg.Ledger.Driver))
	}
	if cfg.Ledger.Driver == DriverRedis && cfg.Ledger.Redis.Addr == "" {
		errs = append(errs, errors.New("ledger.redis.addr is required when ledger.driver is 'redis'"))
	}
	if cfg.Ledger.Redis.CounterTTL < minCounterTTL {
		errs = append(errs, fmt.Errorf("ledger.redis.counter_ttl must be at least %s, got %s", minCounterTTL, cfg.Ledger.Redis.CounterTTL))
	}

	if cfg.Observations.Driver != DriverSQLite && cfg.Observations.Driver != DriverPostgres {
		errs = append(errs, fmt.Errorf("observations.driver must be 'sqlite' or 'postgres', got %q", cfg.Observations.Driver))
	}
	if cfg.Observations.Driver == DriverPostgres && cfg.Observations.DSN == "" {
		errs = append(errs, errors.New("observations.dsn is required when observations.driver is 'postgres'"))
	}

	if cfg.Directory.Mode != DirectoryLocal && cfg.Directory.Mode != DirectoryRemote {
		errs = append(errs, fmt.Errorf("directory.mode must be 'local' or 'remote', got %q", cfg.Directory.Mode))
	}
	if cfg.Directory.Mode == DirectoryRemote && cfg.Directory.Remote.URL == "" {
		errs = append(errs, errors.New("directory.remote.url is required when directory.mode is 'remote'"))
	}

	if len(cfg.Auth.KeyPrefix) >= 12 {
		errs = append(errs, fmt.Errorf("auth.key_prefix must be shorter than 12 characters, got %q", cfg.Auth.KeyPrefix))
	}

	if cfg.Insights.KThreshold < insight.DefaultThreshold {
		errs = append(errs, fmt.Errorf("insights.k_threshold must be at least %d, got %d", insight.DefaultThreshold, cfg.Insights.KThreshold))
	}
	if cfg.Insights.MaxWeeks < 1 {
		errs = append(errs, errors.New("insights.max_weeks must be positive"))
	}
	if cfg.Insights.DefaultCategoryWeeks < 1 || cfg.Insights.DefaultCategoryWeeks > cfg.Insights.MaxWeeks {
		errs = append(errs, fmt.Errorf("insights.default_category_weeks must be between 1 and max_weeks (%d)", cfg.Insights.MaxWeeks))
	}
	if cfg.Insights.DefaultTrendWeeks < 1 || cfg.Insights.DefaultTrendWeeks > cfg.Insights.MaxWeeks {
		errs = append(errs, fmt.Errorf("insights.default_trend_weeks must be between 1 and max_weeks (%d)", cfg.Insights.MaxWeeks))
	}

	errs = append(errs, validateTiers(cfg.Tiers)...)

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format))
	}

	return errors.Join(errs...)
}

func validateTiers(tiers []TierConfig) []error {
	var errs []error
	seen := map[string]bool{}
	defaults := 0
	for i, t := range tiers {
		if t.ID == "" {
			errs = append(errs, fmt.Errorf("tiers[%d].id is required", i))
			continue
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Errorf("tiers[%d]: duplicate id %q", i, t.ID))
		}
		seen[t.ID] = true
		if t.RequestsPerDay < 0 {
			errs = append(errs, fmt.Errorf("tiers[%d].requests_per_day must not be negative", i))
		}
		if t.Default {
			defaults++
		}
	}
	if defaults > 1 {
		errs = append(errs, errors.New("at most one tier may be marked default"))
	}
	return errs
}
