// Package config loads the prowl CLI settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Checkpoint backends.
const (
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

type Config struct {
	DatabaseURL       string `env:"PROWL_DATABASE_URL"`
	CheckpointBackend string `env:"PROWL_CHECKPOINT_BACKEND" envDefault:"postgres"`
	BadgerPath        string `env:"PROWL_BADGER_PATH" envDefault:"./prowl-checkpoints"`
	RedisAddr         string `env:"PROWL_REDIS_ADDR" envDefault:"localhost:6379"`
	SQLitePath        string `env:"PROWL_SQLITE_PATH" envDefault:"./prowl-checkpoints.db"`

	LogLevel  string `env:"PROWL_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PROWL_LOG_FORMAT" envDefault:"console"`

	PersistBlockSize    int           `env:"PROWL_PERSIST_BLOCK_SIZE" envDefault:"1000"`
	Sleep               time.Duration `env:"PROWL_SLEEP" envDefault:"100ms"`
	LockTimeout         time.Duration `env:"PROWL_LOCK_TIMEOUT" envDefault:"1s"`
	UpdateLockThreshold time.Duration `env:"PROWL_UPDATE_LOCK_THRESHOLD" envDefault:"0s"`

	MetricsAddr string `env:"PROWL_METRICS_ADDR"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.CheckpointBackend {
	case BackendPostgres, BackendBadger, BackendRedis, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("config: unknown checkpoint backend %q", c.CheckpointBackend)
	}
	if c.PersistBlockSize <= 0 {
		return fmt.Errorf("config: persist block size must be positive, got %d", c.PersistBlockSize)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("config: lock timeout must be positive, got %s", c.LockTimeout)
	}
	return nil
}
