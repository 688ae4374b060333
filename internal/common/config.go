// Package common provides shared utilities for pricecache
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for pricecache
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Catalog     CatalogConfig `toml:"catalog"`
	Storage     StorageConfig `toml:"storage"`
	Clients     ClientsConfig `toml:"clients"`
	Cache       CacheConfig   `toml:"cache"`
	Refresh     RefreshConfig `toml:"refresh"`
	Admin       AdminConfig   `toml:"admin"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CatalogConfig points at the static asset list (JSON or YAML).
type CatalogConfig struct {
	Path string `toml:"path"`
}

// StorageConfig selects the snapshot backend.
type StorageConfig struct {
	Backend   string          `toml:"backend"` // "file" or "surrealdb"
	File      FileConfig      `toml:"file"`
	SurrealDB SurrealDBConfig `toml:"surrealdb"`
}

// FileConfig holds the snapshot file location.
type FileConfig struct {
	Path string `toml:"path"`
}

// SurrealDBConfig holds SurrealDB connection details.
type SurrealDBConfig struct {
	Address   string `toml:"address"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
}

// ClientsConfig holds API client configurations
type ClientsConfig struct {
	Yahoo YahooConfig `toml:"yahoo"`
}

// YahooConfig holds market data provider configuration
type YahooConfig struct {
	BaseURL   string  `toml:"base_url"`
	RateLimit float64 `toml:"rate_limit"` // requests per second
	Timeout   string  `toml:"timeout"`
	UserAgent string  `toml:"user_agent"`
}

// GetTimeout parses and returns the timeout duration
func (c *YahooConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// CacheConfig holds read-path cache settings.
type CacheConfig struct {
	TTL             string `toml:"ttl"`
	DefaultStart    string `toml:"default_start"`
	DefaultInterval string `toml:"default_interval"`
}

// GetTTL parses and returns the freshness TTL.
func (c *CacheConfig) GetTTL() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return FreshnessPriceSeries
	}
	return d
}

// RefreshConfig holds batch refresh and schedule settings.
type RefreshConfig struct {
	Enabled             bool   `toml:"enabled"`
	Schedule            string `toml:"schedule"`
	RunOnStart          bool   `toml:"run_on_start"`
	IncrementalWindow   string `toml:"incremental_window"`
	IncrementalInterval string `toml:"incremental_interval"`
	FullInterval        string `toml:"full_interval"`
	Concurrency         int    `toml:"concurrency"`
	MaxAttempts         int    `toml:"max_attempts"`
	Backoff             string `toml:"backoff"`
	FetchTimeout        string `toml:"fetch_timeout"`
}

// GetIncrementalWindow returns the trailing window fetched by the incremental job.
func (c *RefreshConfig) GetIncrementalWindow() time.Duration {
	d, err := time.ParseDuration(c.IncrementalWindow)
	if err != nil || d <= 0 {
		return 365 * 24 * time.Hour
	}
	return d
}

// GetBackoff returns the base retry delay.
func (c *RefreshConfig) GetBackoff() time.Duration {
	d, err := time.ParseDuration(c.Backoff)
	if err != nil || d < 0 {
		return time.Second
	}
	return d
}

// GetFetchTimeout returns the per-call provider timeout.
func (c *RefreshConfig) GetFetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.FetchTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// AdminConfig holds the shared secret guarding administrative triggers.
// An empty secret leaves the admin routes open.
type AdminConfig struct {
	Secret string `toml:"secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Catalog: CatalogConfig{Path: "data/assets.json"},
		Storage: StorageConfig{
			Backend: "file",
			File:    FileConfig{Path: "data/prices.json"},
			SurrealDB: SurrealDBConfig{
				Address:   "ws://localhost:8000/rpc",
				Username:  "root",
				Password:  "root",
				Namespace: "pricecache",
				Database:  "prices",
			},
		},
		Clients: ClientsConfig{
			Yahoo: YahooConfig{
				BaseURL:   "https://query1.finance.yahoo.com",
				RateLimit: 2,
				Timeout:   "30s",
				UserAgent: "Mozilla/5.0",
			},
		},
		Cache: CacheConfig{
			TTL:             "24h",
			DefaultStart:    "2015-01-01",
			DefaultInterval: "1d",
		},
		Refresh: RefreshConfig{
			Enabled:             false,
			Schedule:            "5 0 * * *",
			RunOnStart:          true,
			IncrementalWindow:   "8760h",
			IncrementalInterval: "1wk",
			FullInterval:        "1d",
			Concurrency:         2,
			MaxAttempts:         3,
			Backoff:             "1s",
			FetchTimeout:        "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PRICECACHE_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("PRICECACHE_HOST"); host != "" {
		config.Server.Host = host
	}

	// PORT is what hosting platforms inject; the prefixed variable wins.
	for _, name := range []string{"PORT", "PRICECACHE_PORT"} {
		if port := os.Getenv(name); port != "" {
			if p, err := strconv.Atoi(port); err == nil {
				config.Server.Port = p
			}
		}
	}

	for _, name := range []string{"ENABLE_CRON", "PRICECACHE_ENABLE_CRON"} {
		if v := os.Getenv(name); v != "" {
			config.Refresh.Enabled = strings.EqualFold(strings.TrimSpace(v), "true")
		}
	}

	if v := os.Getenv("PRICECACHE_ADMIN_SECRET"); v != "" {
		config.Admin.Secret = v
	}

	if v := os.Getenv("PRICECACHE_CATALOG"); v != "" {
		config.Catalog.Path = v
	}

	if path := os.Getenv("PRICECACHE_DATA_PATH"); path != "" {
		config.Storage.File.Path = filepath.Join(path, "prices.json")
	}

	if v := os.Getenv("PRICECACHE_STORAGE_BACKEND"); v != "" {
		config.Storage.Backend = strings.ToLower(v)
	}

	if v := os.Getenv("PRICECACHE_SURREALDB_ADDRESS"); v != "" {
		config.Storage.SurrealDB.Address = v
	}

	if level := os.Getenv("PRICECACHE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "surrealdb":
	default:
		return fmt.Errorf("storage.backend must be \"file\" or \"surrealdb\", got %q", c.Storage.Backend)
	}
	for name, iv := range map[string]string{
		"cache.default_interval":       c.Cache.DefaultInterval,
		"refresh.incremental_interval": c.Refresh.IncrementalInterval,
		"refresh.full_interval":        c.Refresh.FullInterval,
	} {
		if !validInterval(iv) {
			return fmt.Errorf("%s must be one of 1d, 1wk, 1mo, got %q", name, iv)
		}
	}
	if _, err := time.Parse("2006-01-02", c.Cache.DefaultStart); err != nil {
		return fmt.Errorf("cache.default_start: %w", err)
	}
	if c.Refresh.Concurrency < 1 {
		return fmt.Errorf("refresh.concurrency must be at least 1")
	}
	if c.Refresh.MaxAttempts < 1 {
		return fmt.Errorf("refresh.max_attempts must be at least 1")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

func validInterval(iv string) bool {
	return iv == "1d" || iv == "1wk" || iv == "1mo"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
