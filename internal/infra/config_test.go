package infra

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var configKeys = []string{
	"APP_ENV", "LOG_LEVEL", "IMGFORGE_POOL_SIZE", "IMGFORGE_JOB_TIMEOUT",
	"IMGFORGE_MAX_ARCHIVE_MB", "IMGFORGE_STAGGER", "IMGFORGE_PRESETS",
}

// clearEnv unsets every config variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "none.env")
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(missingEnvFile(t))
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AppEnv != "production" || cfg.LogLevel != "info" {
		t.Fatalf("env/level mismatch: %q %q", cfg.AppEnv, cfg.LogLevel)
	}
	if cfg.PoolSize != 4 {
		t.Fatalf("PoolSize = %d, want 4", cfg.PoolSize)
	}
	if cfg.JobTimeout != 30*time.Second {
		t.Fatalf("JobTimeout = %s, want 30s", cfg.JobTimeout)
	}
	if cfg.MaxArchiveBytes != 100<<20 {
		t.Fatalf("MaxArchiveBytes = %d, want %d", cfg.MaxArchiveBytes, 100<<20)
	}
	if cfg.Stagger != 100*time.Millisecond {
		t.Fatalf("Stagger = %s, want 100ms", cfg.Stagger)
	}
	if cfg.PresetsFile != "" {
		t.Fatalf("PresetsFile = %q, want empty", cfg.PresetsFile)
	}
}

func TestLoadConfigHonorsEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMGFORGE_POOL_SIZE", "8")
	t.Setenv("IMGFORGE_JOB_TIMEOUT", "2m")
	t.Setenv("IMGFORGE_MAX_ARCHIVE_MB", "5")
	t.Setenv("IMGFORGE_STAGGER", "0s")
	t.Setenv("IMGFORGE_PRESETS", "/etc/imgforge/presets.yaml")

	cfg, err := LoadConfig(missingEnvFile(t))
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PoolSize != 8 || cfg.JobTimeout != 2*time.Minute || cfg.MaxArchiveBytes != 5<<20 || cfg.Stagger != 0 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.PresetsFile != "/etc/imgforge/presets.yaml" {
		t.Fatalf("PresetsFile = %q", cfg.PresetsFile)
	}
}

func TestLoadConfigReadsDotenvWithoutOverriding(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMGFORGE_POOL_SIZE", "3")

	path := filepath.Join(t.TempDir(), ".env")
	body := "IMGFORGE_POOL_SIZE=9\nIMGFORGE_STAGGER=250ms\nAPP_ENV=development\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PoolSize != 3 {
		t.Fatalf("PoolSize = %d, want environment value 3", cfg.PoolSize)
	}
	if cfg.Stagger != 250*time.Millisecond {
		t.Fatalf("Stagger = %s, want 250ms from dotenv", cfg.Stagger)
	}
	if cfg.AppEnv != "development" {
		t.Fatalf("AppEnv = %q, want development", cfg.AppEnv)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"IMGFORGE_POOL_SIZE":      "0",
		"IMGFORGE_JOB_TIMEOUT":    "soon",
		"IMGFORGE_MAX_ARCHIVE_MB": "-1",
		"IMGFORGE_STAGGER":        "-5ms",
		"LOG_LEVEL":               "loud",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := LoadConfig(missingEnvFile(t))
			if err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("error %q does not name %s", err, key)
			}
		})
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("production", "warn", &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"message":"shown"`) {
		t.Fatalf("unexpected output: %s", out)
	}

	buf.Reset()
	logger = NewLogger("development", "bogus", &buf)
	logger.Debug().Msg("debugging")
	if !strings.Contains(buf.String(), "debugging") {
		t.Fatalf("development logger should emit debug lines: %s", buf.String())
	}
}
