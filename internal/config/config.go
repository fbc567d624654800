package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"spesebook/internal/log"
)

type Config struct {
	// Database
	DBPath string

	// Image store
	ImageDir string

	// Timezone used to derive an expense's local day and to step schedules.
	// Empty or "Local" means the host's zone.
	Timezone string

	LogLevel string

	// Recurrence engine
	CatchUpWorkers    int
	RecurringInterval time.Duration // zero runs a single activation

	// Category lookup cache
	CategoryCacheSize int
	CategoryCacheTTL  time.Duration
}

func Load() *Config {
	cfg := &Config{
		DBPath:   getEnv("SPESEBOOK_DB_PATH", "./data/spesebook.db"),
		ImageDir: getEnv("SPESEBOOK_IMAGE_DIR", "./data/images"),
		Timezone: getEnv("SPESEBOOK_TIMEZONE", "Local"),
		LogLevel: getEnv("SPESEBOOK_LOG_LEVEL", "info"),

		CatchUpWorkers:    getEnvInt("CATCHUP_WORKERS", 4),
		RecurringInterval: getEnvDuration("RECURRING_INTERVAL", 0),

		CategoryCacheSize: getEnvInt("CATEGORY_CACHE_SIZE", 256),
		CategoryCacheTTL:  getEnvDuration("CATEGORY_CACHE_TTL", 10*time.Minute),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.DBPath == "" {
		errors = append(errors, "database path cannot be empty")
	} else if err := ensureDir(filepath.Dir(c.DBPath)); err != nil {
		errors = append(errors, fmt.Sprintf("cannot create database directory '%s': %v", filepath.Dir(c.DBPath), err))
	}

	if c.ImageDir == "" {
		errors = append(errors, "image directory cannot be empty")
	}

	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if c.CatchUpWorkers < 1 {
		errors = append(errors, fmt.Sprintf("invalid catch-up workers %d: must be at least 1", c.CatchUpWorkers))
	} else if c.CatchUpWorkers > 64 {
		errors = append(errors, fmt.Sprintf("invalid catch-up workers %d: must be at most 64", c.CatchUpWorkers))
	}

	if c.RecurringInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid recurring interval %v: cannot be negative", c.RecurringInterval))
	} else if c.RecurringInterval > 0 && c.RecurringInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid recurring interval %v: must be at least 1 minute", c.RecurringInterval))
	}

	if c.CategoryCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid category cache size %d: must be at least 1", c.CategoryCacheSize))
	}
	if c.CategoryCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid category cache TTL %v: must be at least 1 second", c.CategoryCacheTTL))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// SlogLevel resolves LogLevel, falling back to info.
func (c *Config) SlogLevel() slog.Level {
	level, _ := log.ParseLevel(c.LogLevel)
	return level
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
