// Package config loads and validates sitewatch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // scanner.timezone must resolve on minimal images

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/sitewatch/internal/hash"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendS3       = "s3"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Store    StoreConfig    `mapstructure:"store"`
	DB       DBConfig       `mapstructure:"db"`
	Reports  ReportsConfig  `mapstructure:"reports"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig guards the invoke endpoint with a shared key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ScannerConfig governs a scan run.
type ScannerConfig struct {
	Exclude             []string      `mapstructure:"exclude"`
	Concurrency         int           `mapstructure:"concurrency"`
	FetchTimeoutSeconds int           `mapstructure:"fetch_timeout_seconds"`
	FreshnessWindow     time.Duration `mapstructure:"freshness_window"`
	Tolerance           time.Duration `mapstructure:"tolerance"`
	HashAlgorithm       string        `mapstructure:"hash_algorithm"`
	PersistTouched      bool          `mapstructure:"persist_touched"`
	Timezone            string        `mapstructure:"timezone"`
}

// HTTPConfig configures the page fetcher.
type HTTPConfig struct {
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
	// MaxRPS limits requests per host; zero disables limiting.
	MaxRPS float64 `mapstructure:"max_rps"`
	Burst  int     `mapstructure:"burst"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	// SeedFile preloads the memory backend from a JSON array of records.
	SeedFile string `mapstructure:"seed_file"`
}

// DBConfig controls access to the Postgres record table.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	PageSize int    `mapstructure:"page_size"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ReportsConfig selects where run reports are written.
type ReportsConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	Dir         string `mapstructure:"dir"`
	S3Region    string `mapstructure:"s3_region"`
	S3PathStyle bool   `mapstructure:"s3_path_style"`
}

// PubSubConfig holds metadata for change notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ScheduleConfig drives the serve command's periodic runs.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("scanner.exclude", []string{"tilthalliance.org"})
	v.SetDefault("scanner.concurrency", 8)
	v.SetDefault("scanner.fetch_timeout_seconds", 30)
	v.SetDefault("scanner.freshness_window", "24h")
	v.SetDefault("scanner.tolerance", "30m")
	v.SetDefault("scanner.hash_algorithm", "md5")
	v.SetDefault("scanner.persist_touched", true)
	v.SetDefault("scanner.timezone", "US/Pacific")
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.max_rps", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.seed_file", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "tracked_sites")
	v.SetDefault("db.page_size", 500)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("reports.backend", BackendLocal)
	v.SetDefault("reports.bucket", "")
	v.SetDefault("reports.prefix", "")
	v.SetDefault("reports.dir", "reports")
	v.SetDefault("reports.s3_region", "")
	v.SetDefault("reports.s3_path_style", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("schedule.cron", "0 6 * * *")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.Scanner.validate(); err != nil {
		return err
	}
	if c.HTTP.MaxRPS < 0 || c.HTTP.Burst < 0 {
		return fmt.Errorf("http.max_rps and http.burst must be >= 0")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend %q must be memory or postgres", c.Store.Backend)
	}
	switch c.Reports.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Reports.Dir == "" {
			return fmt.Errorf("reports.dir is required when reports.backend is local")
		}
	case BackendGCS, BackendS3:
		if c.Reports.Bucket == "" {
			return fmt.Errorf("reports.bucket is required when reports.backend is %s", c.Reports.Backend)
		}
	default:
		return fmt.Errorf("reports.backend %q must be memory, local, gcs or s3", c.Reports.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return fmt.Errorf("schedule.cron: %w", err)
		}
	}
	return nil
}

func (s ScannerConfig) validate() error {
	if s.Concurrency <= 0 {
		return fmt.Errorf("scanner.concurrency must be > 0")
	}
	if s.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("scanner.fetch_timeout_seconds must be > 0")
	}
	if s.FreshnessWindow <= 0 {
		return fmt.Errorf("scanner.freshness_window must be > 0")
	}
	if s.Tolerance < 0 || s.Tolerance >= s.FreshnessWindow {
		return fmt.Errorf("scanner.tolerance must be >= 0 and below scanner.freshness_window")
	}
	if _, err := hash.New(s.HashAlgorithm); err != nil {
		return fmt.Errorf("scanner.hash_algorithm: %w", err)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("scanner.timezone: %w", err)
	}
	return nil
}

// FetchTimeout converts the per-fetch timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scanner.FetchTimeoutSeconds) * time.Second
}

// Location resolves scanner.timezone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scanner.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
