// Package config handles configuration loading for threatwatch.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"threatwatch/internal/alerting"
	"threatwatch/internal/archive"
	"threatwatch/internal/audit"
	"threatwatch/internal/detect"
	"threatwatch/internal/scoring"
	"threatwatch/internal/storage"
)

// Config holds the complete application configuration.
type Config struct {
	Logging   LoggingConfig      `yaml:"logging"`
	Storage   StorageConfig      `yaml:"storage"`
	Redis     RedisConfig        `yaml:"redis"`
	Alerting  AlertingConfig     `yaml:"alerting"`
	Detection detect.Config      `yaml:"detection"`
	Scoring   scoring.Thresholds `yaml:"scoring"`
	Audit     audit.Config       `yaml:"audit"`
	Archive   archive.Config     `yaml:"archive"`
	Scan      ScanConfig         `yaml:"scan"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig holds event store settings.
type StorageConfig struct {
	// Required forces startup to fail when ClickHouse is unreachable.
	// When false an unreachable store puts the engine in degraded mode
	// instead.
	Required   bool                     `yaml:"required"`
	ClickHouse storage.ClickHouseConfig `yaml:"clickhouse"`
}

// RedisConfig holds Redis settings. Redis serves cross-instance alert
// dedup and the actor login-profile cache.
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ProfileTTL is how long cached login profiles stay fresh.
	ProfileTTL time.Duration `yaml:"profile_ttl"`
}

// AlertingConfig holds alert notification settings.
type AlertingConfig struct {
	Dispatcher alerting.DispatcherConfig `yaml:"dispatcher"`
	Kafka      alerting.KafkaConfig      `yaml:"kafka"`
	WebhookURL string                    `yaml:"webhook_url"`
}

// ScanConfig holds the background scan loop settings.
type ScanConfig struct {
	// Enabled turns on periodic anomaly scans over recently active
	// actors.
	Enabled bool `yaml:"enabled"`

	// Interval between scan runs.
	Interval time.Duration `yaml:"interval"`

	// Lookback selects which actors to scan: anyone active within it.
	Lookback time.Duration `yaml:"lookback"`

	// MaxActors bounds the number of actors scanned per run.
	MaxActors int `yaml:"max_actors"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Required:   false,
			ClickHouse: storage.DefaultClickHouseConfig(),
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			DialTimeout: 5 * time.Second,
			ProfileTTL:  10 * time.Minute,
		},
		Alerting: AlertingConfig{
			Dispatcher: alerting.DefaultDispatcherConfig(),
			Kafka:      alerting.DefaultKafkaConfig(),
		},
		Detection: detect.DefaultConfig(),
		Scoring:   scoring.DefaultThresholds(),
		Audit:     audit.DefaultConfig(),
		Archive:   archive.DefaultConfig(),
		Scan: ScanConfig{
			Enabled:   true,
			Interval:  15 * time.Minute,
			Lookback:  24 * time.Hour,
			MaxActors: 500,
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("THREATWATCH_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("THREATWATCH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Redis.Password = pass
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Alerting.Kafka.Enabled = true
		c.Alerting.Kafka.Brokers = splitAndTrim(brokers, ",")
	}
	if url := os.Getenv("THREATWATCH_WEBHOOK_URL"); url != "" {
		c.Alerting.WebhookURL = url
	}

	if bucket := os.Getenv("THREATWATCH_ARCHIVE_BUCKET"); bucket != "" {
		c.Archive.Enabled = true
		c.Archive.Bucket = bucket
	}
}

// splitAndTrim splits a string by separator and trims whitespace from each part.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range splitString(s, sep) {
		trimmed := trimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// splitString splits a string by separator (simple implementation to avoid strings package).
func splitString(s, sep string) []string {
	if s == "" {
		return nil
	}
	var result []string
	start := 0
	for i := 0; i <= len(s)-len(sep); i++ {
		if s[i:i+len(sep)] == sep {
			result = append(result, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	result = append(result, s[start:])
	return result
}

// trimSpace trims leading and trailing whitespace.
func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Storage.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("storage: at least one clickhouse host is required")
	}

	if c.Scoring.Medium <= 0 || c.Scoring.High <= c.Scoring.Medium || c.Scoring.Critical <= c.Scoring.High {
		return fmt.Errorf("scoring: thresholds must satisfy 0 < medium < high < critical")
	}

	if c.Detection.BruteForce.Threshold <= 0 {
		return fmt.Errorf("detection: brute force threshold must be positive")
	}
	if c.Detection.Anomaly.BaselineWindow <= c.Detection.Anomaly.RecentWindow {
		return fmt.Errorf("detection: anomaly baseline window must exceed the recent window")
	}

	if c.Scan.Enabled && c.Scan.Interval <= 0 {
		return fmt.Errorf("scan: interval must be positive")
	}

	if err := c.Archive.Validate(); err != nil {
		return err
	}

	return nil
}
