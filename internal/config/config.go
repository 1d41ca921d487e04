// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, the process
// exits with an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all runtime configuration for the admission service.
type Config struct {
	HTTPPort        string
	GRPCPort        string
	StoreDriver     string
	DatabaseURL     string
	DBMaxConns      int32
	RedisURL        string
	NotifyChannel   string
	SweepSpec       string
	LockTimeout     time.Duration
	Retry           RetryConfig
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// RetryConfig bounds the retries around transient store failures.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", "8083")
	v.SetDefault("GRPC_PORT", "9093")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("NOTIFY_CHANNEL", "EVENT_APPLICATION_STATUS_CHANGED")
	v.SetDefault("SWEEP_SPEC", "@every 5m")
	v.SetDefault("LOCK_TIMEOUT", 5*time.Second)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_INITIAL_BACKOFF", 50*time.Millisecond)
	v.SetDefault("RETRY_MAX_BACKOFF", time.Second)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)
}

// NewViper returns a viper instance reading the process environment, after
// loading any .env files given (missing files are ignored).
func NewViper(envFiles ...string) (*viper.Viper, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	SetDefaults(v)
	return v, nil
}

// Load reads the environment and returns a validated Config.
func Load() (*Config, error) {
	v, err := NewViper()
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// LoadWithViper builds a validated Config from v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPPort:      v.GetString("HTTP_PORT"),
		GRPCPort:      v.GetString("GRPC_PORT"),
		StoreDriver:   strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL:   v.GetString("DATABASE_URL"),
		DBMaxConns:    v.GetInt32("DB_MAX_CONNS"),
		RedisURL:      v.GetString("REDIS_URL"),
		NotifyChannel: v.GetString("NOTIFY_CHANNEL"),
		SweepSpec:     strings.TrimSpace(v.GetString("SWEEP_SPEC")),
		LockTimeout:   v.GetDuration("LOCK_TIMEOUT"),
		Retry: RetryConfig{
			MaxAttempts:    v.GetInt("RETRY_MAX_ATTEMPTS"),
			InitialBackoff: v.GetDuration("RETRY_INITIAL_BACKOFF"),
			MaxBackoff:     v.GetDuration("RETRY_MAX_BACKOFF"),
		},
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}

	if c.HTTPPort == "" || c.GRPCPort == "" {
		return fmt.Errorf("HTTP_PORT and GRPC_PORT must not be empty")
	}
	if c.NotifyChannel == "" {
		return fmt.Errorf("NOTIFY_CHANNEL must not be empty")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be >= 1, got %d", c.DBMaxConns)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < 0 {
		return fmt.Errorf("retry backoffs must not be negative")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", c.LockTimeout)
	}

	// An empty SWEEP_SPEC turns the sweeper off.
	if c.SweepSpec != "" {
		if _, err := cron.ParseStandard(c.SweepSpec); err != nil {
			return fmt.Errorf("SWEEP_SPEC %q: %w", c.SweepSpec, err)
		}
	}
	return nil
}
