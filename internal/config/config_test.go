package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("THREATWATCH_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %s, want info", cfg.Logging.Level)
	}
	if cfg.Detection.BruteForce.Threshold != 5 {
		t.Errorf("brute force threshold = %d, want 5", cfg.Detection.BruteForce.Threshold)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
logging:
  level: debug
storage:
  clickhouse:
    hosts:
      - ch-1:9000
      - ch-2:9000
    database: security
detection:
  brute_force:
    threshold: 10
scan:
  interval: 5m
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	t.Setenv("THREATWATCH_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %s, want debug", cfg.Logging.Level)
	}
	if len(cfg.Storage.ClickHouse.Hosts) != 2 {
		t.Errorf("hosts = %v", cfg.Storage.ClickHouse.Hosts)
	}
	if cfg.Storage.ClickHouse.Database != "security" {
		t.Errorf("database = %s", cfg.Storage.ClickHouse.Database)
	}
	if cfg.Detection.BruteForce.Threshold != 10 {
		t.Errorf("threshold = %d, want 10", cfg.Detection.BruteForce.Threshold)
	}
	if cfg.Scan.Interval != 5*time.Minute {
		t.Errorf("scan interval = %s, want 5m", cfg.Scan.Interval)
	}
	// Untouched sections keep their defaults.
	if cfg.Scoring.Critical != 90 {
		t.Errorf("critical threshold = %d, want 90", cfg.Scoring.Critical)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("THREATWATCH_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("THREATWATCH_LOG_LEVEL", "warn")
	t.Setenv("CLICKHOUSE_HOST", "ch-prod:9000")
	t.Setenv("REDIS_ADDR", "redis-prod:6379")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %s, want warn", cfg.Logging.Level)
	}
	if len(cfg.Storage.ClickHouse.Hosts) != 1 || cfg.Storage.ClickHouse.Hosts[0] != "ch-prod:9000" {
		t.Errorf("hosts = %v", cfg.Storage.ClickHouse.Hosts)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis-prod:6379" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if !cfg.Alerting.Kafka.Enabled {
		t.Error("kafka brokers in env must enable kafka")
	}
	if len(cfg.Alerting.Kafka.Brokers) != 2 || cfg.Alerting.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("brokers = %v", cfg.Alerting.Kafka.Brokers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}, wantErr: false},
		{name: "no clickhouse hosts", mutate: func(c *Config) {
			c.Storage.ClickHouse.Hosts = nil
		}, wantErr: true},
		{name: "inverted thresholds", mutate: func(c *Config) {
			c.Scoring.High = 95
		}, wantErr: true},
		{name: "zero brute force threshold", mutate: func(c *Config) {
			c.Detection.BruteForce.Threshold = 0
		}, wantErr: true},
		{name: "baseline shorter than recent", mutate: func(c *Config) {
			c.Detection.Anomaly.BaselineWindow = c.Detection.Anomaly.RecentWindow
		}, wantErr: true},
		{name: "scan enabled without interval", mutate: func(c *Config) {
			c.Scan.Interval = 0
		}, wantErr: true},
		{name: "archive enabled without bucket", mutate: func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Bucket = ""
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
