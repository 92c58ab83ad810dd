package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds settings read from the environment.
type Config struct {
	AppEnv          string
	LogLevel        string
	PoolSize        int
	JobTimeout      time.Duration
	MaxArchiveBytes int64
	Stagger         time.Duration
	PresetsFile     string
}

// LoadConfig reads the given dotenv files (".env" when none are named; a
// missing file is not an error), then the process environment, applying
// defaults where a variable is unset. Variables already in the environment
// win over dotenv values.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var errs []error
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "production"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		PresetsFile: os.Getenv("IMGFORGE_PRESETS"),
	}
	cfg.PoolSize = getEnvInt("IMGFORGE_POOL_SIZE", 4, &errs)
	cfg.JobTimeout = getEnvDuration("IMGFORGE_JOB_TIMEOUT", 30*time.Second, &errs)
	cfg.MaxArchiveBytes = int64(getEnvInt("IMGFORGE_MAX_ARCHIVE_MB", 100, &errs)) << 20
	cfg.Stagger = getEnvDuration("IMGFORGE_STAGGER", 100*time.Millisecond, &errs)

	if cfg.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("IMGFORGE_POOL_SIZE must be positive, got %d", cfg.PoolSize))
	}
	if cfg.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("IMGFORGE_JOB_TIMEOUT must be positive, got %s", cfg.JobTimeout))
	}
	if cfg.MaxArchiveBytes <= 0 {
		errs = append(errs, fmt.Errorf("IMGFORGE_MAX_ARCHIVE_MB must be positive"))
	}
	if cfg.Stagger < 0 {
		errs = append(errs, fmt.Errorf("IMGFORGE_STAGGER must not be negative, got %s", cfg.Stagger))
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int, errs *[]error) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return i
}

func getEnvDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}
