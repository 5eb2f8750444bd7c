// Package config loads run settings from the environment, after reading a
// .env file from the working directory when one exists.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	sfmce "github.com/natserract/sfclean/pkg/salesforce/mce"
	"go.uber.org/zap/zapcore"
)

// FatalConfigError means the run cannot start. It is always returned before
// any network call is made.
type FatalConfigError struct {
	Err error
}

func (e *FatalConfigError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *FatalConfigError) Unwrap() error {
	return e.Err
}

func fatalf(format string, args ...any) error {
	return &FatalConfigError{Err: fmt.Errorf(format, args...)}
}

type Config struct {
	MCE sfmce.Config

	CacheDir       string
	CacheTTL       time.Duration
	StateDir       string
	BatchSize      int
	DeleteDelay    time.Duration
	Concurrency    int
	StaleAfterDays int
	ProtectionFile string
	WebhookURL     string
	DatabaseURL    string
	MetricsFile    string
	LogLevel       string
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a config from getenv without validating credentials.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		MCE: sfmce.Config{
			AuthBaseURI:  getenv("MCE_AUTH_BASE_URI"),
			RestBaseURI:  getenv("MCE_REST_BASE_URI"),
			ClientID:     getenv("MCE_CLIENT_ID"),
			ClientSecret: getenv("MCE_CLIENT_SECRET"),
			Scope:        getenv("MCE_SCOPE"),
			AccountID:    getenv("MCE_ACCOUNT_ID"),
		},
		CacheDir:       getenv("CLEANUP_CACHE_DIR"),
		StateDir:       withDefault(getenv("CLEANUP_STATE_DIR"), ".sfclean"),
		ProtectionFile: getenv("CLEANUP_PROTECTION_FILE"),
		WebhookURL:     getenv("CLEANUP_WEBHOOK_URL"),
		DatabaseURL:    getenv("DATABASE_URL"),
		MetricsFile:    getenv("CLEANUP_METRICS_FILE"),
		LogLevel:       withDefault(getenv("LOG_LEVEL"), "info"),
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = defaultCacheDir()
	}

	var err error
	if cfg.CacheTTL, err = durationEnv(getenv, "CLEANUP_CACHE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.DeleteDelay, err = durationEnv(getenv, "CLEANUP_DELETE_DELAY", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = intEnv(getenv, "CLEANUP_BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = intEnv(getenv, "CLEANUP_CONCURRENCY", 5); err != nil {
		return nil, err
	}
	if cfg.StaleAfterDays, err = intEnv(getenv, "CLEANUP_STALE_DAYS", 90); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks credentials and run settings.
func (c *Config) Validate() error {
	if err := c.MCE.Validate(); err != nil {
		return &FatalConfigError{Err: err}
	}
	if c.BatchSize < 1 {
		return fatalf("CLEANUP_BATCH_SIZE must be at least 1")
	}
	if c.Concurrency < 1 {
		return fatalf("CLEANUP_CONCURRENCY must be at least 1")
	}
	if c.StaleAfterDays < 1 {
		return fatalf("CLEANUP_STALE_DAYS must be at least 1")
	}
	if c.DeleteDelay < 0 {
		return fatalf("CLEANUP_DELETE_DELAY must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fatalf("LOG_LEVEL: %w", err)
	}
	return nil
}

// CachePath is the bbolt file holding folder snapshots.
func (c *Config) CachePath() string {
	return filepath.Join(c.CacheDir, "folders.db")
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "sfclean")
	}
	return filepath.Join(".sfclean", "cache")
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intEnv(getenv func(string) string, key string, def int) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fatalf("%s: %q is not a number", key, raw)
	}
	return v, nil
}

func durationEnv(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fatalf("%s: %q is not a duration", key, raw)
	}
	return v, nil
}
