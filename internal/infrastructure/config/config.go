// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration.
type Config struct {
	Runtime RuntimeConfig
	Host    HostConfig
	VFS     VFSConfig
	Breaker BreakerConfig
	Logging LogConfig
	Metrics MetricsConfig
}

// RuntimeConfig holds per-process limits.
type RuntimeConfig struct {
	MaxFiles int `envconfig:"PLAYSYS_MAX_FILES" default:"1024"`
	// Entry overrides the exported function the guest is started with.
	Entry string `envconfig:"PLAYSYS_ENTRY" default:""`
}

// HostConfig holds host filesystem configuration. An empty Root disables
// host file access.
type HostConfig struct {
	Root      string `envconfig:"PLAYSYS_HOST_ROOT" default:""`
	ChunkSize int    `envconfig:"PLAYSYS_READ_CHUNK" default:"65536"`
}

// VFSConfig holds synthetic namespace configuration.
type VFSConfig struct {
	Uname         string `envconfig:"PLAYSYS_UNAME" default:""`
	SeedFile      string `envconfig:"PLAYSYS_SEED_FILE" default:""`
	ScratchPrefix string `envconfig:"PLAYSYS_SCRATCH_PREFIX" default:"/tmp/"`
}

// BreakerConfig holds circuit breaker settings for host opens.
type BreakerConfig struct {
	Enabled     bool          `envconfig:"PLAYSYS_BREAKER_ENABLED" default:"true"`
	MaxFailures uint32        `envconfig:"PLAYSYS_BREAKER_FAILURES" default:"5"`
	Timeout     time.Duration `envconfig:"PLAYSYS_BREAKER_TIMEOUT" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig holds the metrics endpoint configuration. An empty Addr
// disables the endpoint.
type MetricsConfig struct {
	Addr        string   `envconfig:"PLAYSYS_METRICS_ADDR" default:""`
	CORSOrigins []string `envconfig:"PLAYSYS_METRICS_CORS_ORIGINS"`
	RateLimit   int      `envconfig:"PLAYSYS_METRICS_RPS" default:"50"`
	Burst       int      `envconfig:"PLAYSYS_METRICS_BURST" default:"100"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			MaxFiles: 1024,
		},
		Host: HostConfig{
			ChunkSize: 64 * 1024,
		},
		VFS: VFSConfig{
			ScratchPrefix: "/tmp/",
		},
		Breaker: BreakerConfig{
			Enabled:     true,
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Metrics: MetricsConfig{
			RateLimit: 50,
			Burst:     100,
		},
	}
}

// Validate reports settings the runtime cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Runtime.MaxFiles < 3 {
		errs = append(errs, fmt.Errorf("PLAYSYS_MAX_FILES must be at least 3, got %d", c.Runtime.MaxFiles))
	}
	if c.Host.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("PLAYSYS_READ_CHUNK must be positive, got %d", c.Host.ChunkSize))
	}
	if c.VFS.ScratchPrefix != "" && !strings.HasPrefix(c.VFS.ScratchPrefix, "/") {
		errs = append(errs, fmt.Errorf("PLAYSYS_SCRATCH_PREFIX must be absolute, got %q", c.VFS.ScratchPrefix))
	}
	if c.Breaker.Enabled && c.Breaker.MaxFailures == 0 {
		errs = append(errs, errors.New("PLAYSYS_BREAKER_FAILURES must be positive"))
	}
	if c.Metrics.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("PLAYSYS_METRICS_RPS must not be negative, got %d", c.Metrics.RateLimit))
	}
	return errors.Join(errs...)
}
