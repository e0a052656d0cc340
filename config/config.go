// Package config defines the YAML configuration layer for the server: which
// storage backend to open, the cache and broker endpoints, and the batch
// consumer's timing. The env struct tags name environment variables, but
// Load does not read the environment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the top-level server configuration, loadable from a YAML file.
// Environment variables are not applied by Load.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Queue    QueueConfig    `yaml:"queue"`
	Batch    BatchConfig    `yaml:"batch"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr" env:"ROWDB_ADDR"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	// Type is "csv" for the file backend, or one of "mysql", "postgres",
	// "sqlite", "sqlserver" for the relational backend.
	Type string `yaml:"type" env:"ROWDB_DB_TYPE"`
	// Path is the CSV file path, used only when Type is "csv".
	Path string `yaml:"path" env:"ROWDB_DB_PATH"`
	// DSN is the driver data source name, used only for relational types.
	DSN string `yaml:"dsn" env:"ROWDB_DB_DSN"`
	// Table is the relational table name, used only for relational types.
	Table string `yaml:"table" env:"ROWDB_DB_TABLE"`
	// PrimaryKeyColumn names the column used to key the record cache.
	// Only meaningful when the relational backend's results are cached.
	PrimaryKeyColumn string `yaml:"primary_key_column" env:"ROWDB_PK_COLUMN"`
}

// CacheConfig configures the Redis-backed cache coherence layer. Caching is
// only wired in front of the relational backend; the file backend is
// already fully in-memory.
type CacheConfig struct {
	Enabled           bool    `yaml:"enabled" env:"ROWDB_CACHE_ENABLED"`
	Addr              string  `yaml:"addr" env:"ROWDB_CACHE_ADDR"`
	ExpectedKeys      uint    `yaml:"expected_keys" env:"ROWDB_CACHE_EXPECTED_KEYS"`
	FalsePositiveRate float64 `yaml:"false_positive_rate" env:"ROWDB_CACHE_FALSE_POSITIVE_RATE"`
	LockTTLSeconds    float64 `yaml:"lock_ttl_seconds" env:"ROWDB_CACHE_LOCK_TTL_SECONDS"`
}

// QueueConfig selects between the in-process queue and a RabbitMQ broker
// for write commands.
type QueueConfig struct {
	UseRabbitMQ bool   `yaml:"use_rabbitmq" env:"ROWDB_USE_RABBITMQ"`
	RabbitMQURL string `yaml:"rabbitmq_url" env:"ROWDB_RABBITMQ_URL"`
	QueueName   string `yaml:"queue_name" env:"ROWDB_QUEUE_NAME"`
}

// BatchConfig controls the batched write consumer's timing.
type BatchConfig struct {
	IntervalSeconds float64 `yaml:"interval_seconds" env:"ROWDB_BATCH_INTERVAL_SECONDS"`
	Size            int     `yaml:"size" env:"ROWDB_BATCH_SIZE"`
	MaxWorkers      int     `yaml:"max_workers" env:"ROWDB_MAX_WORKERS"`
}

// Default returns a Config with the same defaults as the original
// prototype: an in-process queue, a 5-second batch delay, a batch size of
// 10, and a 10-worker query pool.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":5000"},
		Database: DatabaseConfig{
			Type:             "csv",
			Path:             "data.csv",
			PrimaryKeyColumn: "id",
		},
		Cache: CacheConfig{
			ExpectedKeys:      100000,
			FalsePositiveRate: 0.01,
			LockTTLSeconds:    1,
		},
		Queue: QueueConfig{
			QueueName: "rowdb-writes",
		},
		Batch: BatchConfig{
			IntervalSeconds: 5,
			Size:            10,
			MaxWorkers:      10,
		},
	}
}

// Load reads a YAML config file at path, if it exists, merging it onto
// Default; a missing file is not an error, matching the original
// prototype's reliance on /init to supply settings at runtime.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}
