package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the runtime settings shared by the tracker binaries.
// Values come from environment variables with defaults; a YAML file named
// by TRACKER_CONFIG overlays the environment when present.
type Config struct {
	Port         string        `yaml:"port"`
	Environment  string        `yaml:"environment"`
	LogLevel     slog.Level    `yaml:"-"`
	LogLevelName string        `yaml:"log_level"`
	RedisURL     string        `yaml:"redis_url"`
	DataDir      string        `yaml:"data_dir"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8350"),
		Environment:  getEnv("ENVIRONMENT", "development"),
		LogLevelName: getEnv("LOG_LEVEL", "info"),
		RedisURL:     getEnv("REDIS_URL", ""),
		DataDir:      getEnv("DATA_DIR", "./data"),
	}

	timeout := getEnv("QUERY_TIMEOUT", "8s")
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return nil, fmt.Errorf("parsing QUERY_TIMEOUT %q: %w", timeout, err)
	}
	cfg.QueryTimeout = d

	if path := os.Getenv("TRACKER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	return cfg, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
