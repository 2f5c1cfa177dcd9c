// Package config provides configuration for the backfill commands, loaded
// from an optional JSON file with environment variable overrides on top of
// defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the complete application configuration.
type Config struct {
	// DataDir is the directory holding per-pair series files.
	DataDir string `json:"data_dir" env:"DATA_DIR"`

	// OutputFile is where the combined close-price table is written.
	OutputFile string `json:"output_file" env:"OUTPUT_FILE"`

	// Pairs is the default symbol list for fetch runs.
	Pairs []string `json:"pairs" env:"PAIRS"`

	Fetch   FetchConfig   `json:"fetch"`
	Logging LoggingConfig `json:"logging"`
}

// FetchConfig configures the historical fetch batch.
type FetchConfig struct {
	// Interval is the candle interval requested from the exchange.
	Interval string `json:"interval" env:"INTERVAL"`

	// PageSize is the maximum rows per page request, capped at 1000 by the
	// exchange.
	PageSize int `json:"page_size" env:"PAGE_SIZE"`

	// RequestBudget is the number of page requests allowed per budget
	// window before the batch suspends.
	RequestBudget int `json:"request_budget" env:"REQUEST_BUDGET"`

	// BudgetWindow is the suspension window, e.g. "60s".
	BudgetWindow string `json:"budget_window" env:"BUDGET_WINDOW"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`           // debug, info, warn, error
	Format     string `json:"format" env:"LOG_FORMAT"`         // json, text
	Output     string `json:"output" env:"LOG_OUTPUT"`         // stdout, stderr, file
	FilePath   string `json:"file_path" env:"LOG_FILE_PATH"`   // log file path when output is file
	MaxSize    int    `json:"max_size" env:"LOG_MAX_SIZE"`     // max log file size in MB
	MaxBackups int    `json:"max_backups" env:"LOG_MAX_BACKUPS"`
	MaxAge     int    `json:"max_age" env:"LOG_MAX_AGE"` // days
	Compress   bool   `json:"compress" env:"LOG_COMPRESS"`
}

// DefaultConfig returns the configuration used when no file or environment
// override is present.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "data",
		OutputFile: "data/closing_prices.csv",
		Fetch: FetchConfig{
			Interval:      "1h",
			PageSize:      1000,
			RequestBudget: 4000,
			BudgetWindow:  "60s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// Load builds the configuration with priority: environment variables over
// the JSON file at path over defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile merges the JSON file at path into cfg. A nonexistent file is
// skipped silently.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// loadFromEnv merges environment variables into cfg.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("OUTPUT_FILE"); v != "" {
		cfg.OutputFile = v
	}
	if v := os.Getenv("PAIRS"); v != "" {
		cfg.Pairs = strings.Split(v, ",")
	}
	if v := os.Getenv("INTERVAL"); v != "" {
		cfg.Fetch.Interval = v
	}
	if v := os.Getenv("PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fetch.PageSize = n
		}
	}
	if v := os.Getenv("REQUEST_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fetch.RequestBudget = n
		}
	}
	if v := os.Getenv("BUDGET_WINDOW"); v != "" {
		cfg.Fetch.BudgetWindow = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
	if v := os.Getenv("LOG_FILE_PATH"); v != "" {
		cfg.Logging.FilePath = v
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output_file is required")
	}
	if c.Fetch.Interval == "" {
		return fmt.Errorf("fetch.interval is required")
	}
	if c.Fetch.PageSize < 1 || c.Fetch.PageSize > 1000 {
		return fmt.Errorf("fetch.page_size must be between 1 and 1000, got %d", c.Fetch.PageSize)
	}
	if c.Fetch.RequestBudget < 1 {
		return fmt.Errorf("fetch.request_budget must be positive, got %d", c.Fetch.RequestBudget)
	}
	if _, err := c.BudgetWindow(); err != nil {
		return fmt.Errorf("fetch.budget_window is invalid: %w", err)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when output is file")
	}
	return nil
}

// BudgetWindow parses the configured budget window duration.
func (c *Config) BudgetWindow() (time.Duration, error) {
	return time.ParseDuration(c.Fetch.BudgetWindow)
}
