// Package common provides shared utilities for quotefeed
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

// Config holds all configuration for quotefeed
type Config struct {
	Environment string           `toml:"environment"`
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Quotes      QuotesConfig     `toml:"quotes"`
	Providers   []ProviderConfig `toml:"providers"`
	Calendar    CalendarConfig   `toml:"calendar"`
	Portfolio   PortfolioConfig  `toml:"portfolio"`
	Logging     LoggingConfig    `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	IdleTimeout     string `toml:"idle_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// Addr returns host:port for the listener.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetReadTimeout bounds reading a whole request.
func (c *ServerConfig) GetReadTimeout() time.Duration {
	return parseDuration(c.ReadTimeout, 15*time.Second)
}

// GetWriteTimeout bounds writing a response.
func (c *ServerConfig) GetWriteTimeout() time.Duration {
	return parseDuration(c.WriteTimeout, 30*time.Second)
}

// GetIdleTimeout bounds keep-alive connections between requests.
func (c *ServerConfig) GetIdleTimeout() time.Duration {
	return parseDuration(c.IdleTimeout, 60*time.Second)
}

// GetShutdownTimeout is how long in-flight requests get on shutdown.
func (c *ServerConfig) GetShutdownTimeout() time.Duration {
	return parseDuration(c.ShutdownTimeout, 10*time.Second)
}

// StorageConfig holds the data directory and history backend selection.
type StorageConfig struct {
	Path    string `toml:"path"`
	Backend string `toml:"backend"` // "file" (default) or "sqlite"
}

// ThrottleDir is where per-provider throttle snapshots live.
func (c *StorageConfig) ThrottleDir() string {
	return filepath.Join(c.Path, "throttle")
}

// QuotesConfig controls fetch pacing and refresh behaviour.
type QuotesConfig struct {
	Provider         string `toml:"provider"`
	PostCallDelay    string `toml:"post_call_delay"`
	HTTPTimeout      string `toml:"http_timeout"`
	HistoryMaxAge    string `toml:"history_max_age"`
	ThrottleDebounce string `toml:"throttle_debounce"`
	RefreshInterval  string `toml:"refresh_interval"`
}

// GetPostCallDelay returns the fixed pause after every provider call.
func (c *QuotesConfig) GetPostCallDelay() time.Duration {
	return parseDuration(c.PostCallDelay, time.Second)
}

// GetHTTPTimeout returns the per-request HTTP timeout.
func (c *QuotesConfig) GetHTTPTimeout() time.Duration {
	return parseDuration(c.HTTPTimeout, 20*time.Second)
}

// GetHistoryMaxAge returns how long a history download stays fresh.
func (c *QuotesConfig) GetHistoryMaxAge() time.Duration {
	return parseDuration(c.HistoryMaxAge, FreshnessHistory)
}

// GetThrottleDebounce returns the coalescing window for throttle writes.
func (c *QuotesConfig) GetThrottleDebounce() time.Duration {
	return parseDuration(c.ThrottleDebounce, time.Second)
}

// GetRefreshInterval returns the scheduler interval; zero disables it.
func (c *QuotesConfig) GetRefreshInterval() time.Duration {
	return parseDuration(c.RefreshInterval, 0)
}

// ProviderConfig is the [[providers]] table. Zero limits mean "use the
// provider default" when merged with clients.DefaultSettings.
type ProviderConfig struct {
	Name              string `toml:"name"`
	Address           string `toml:"address"`
	APIKey            string `toml:"api_key"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	RequestsPerDay    int    `toml:"requests_per_day"`
	RequestsPerMonth  int    `toml:"requests_per_month"`
	HistoryEnabled    *bool  `toml:"history_enabled"`
}

// CalendarConfig points at an optional YAML file of extra market closures.
type CalendarConfig struct {
	HolidaysFile string `toml:"holidays_file"`
}

// PortfolioConfig locates the holdings file used by the server and CLI.
type PortfolioConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string   `toml:"level"`
	Format   string   `toml:"format"`
	Outputs  []string `toml:"outputs"`
	FilePath string   `toml:"file_path"`
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     "15s",
			WriteTimeout:    "30s",
			IdleTimeout:     "60s",
			ShutdownTimeout: "10s",
		},
		Storage: StorageConfig{
			Path:    "data",
			Backend: "file",
		},
		Quotes: QuotesConfig{
			Provider:         "YahooFinance",
			PostCallDelay:    "1s",
			HTTPTimeout:      "20s",
			HistoryMaxAge:    "24h",
			ThrottleDebounce: "1s",
		},
		Portfolio: PortfolioConfig{
			Path: "data/portfolio.json",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "console",
			Outputs:  []string{"console"},
			FilePath: "./logs/quotefeed.log",
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

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("QUOTEFEED_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("QUOTEFEED_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("QUOTEFEED_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("QUOTEFEED_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("QUOTEFEED_DATA_PATH"); path != "" {
		config.Storage.Path = path
	}

	if backend := os.Getenv("QUOTEFEED_STORAGE_BACKEND"); backend != "" {
		config.Storage.Backend = backend
	}

	if provider := os.Getenv("QUOTEFEED_PROVIDER"); provider != "" {
		config.Quotes.Provider = provider
	}

	if p := os.Getenv("QUOTEFEED_PORTFOLIO"); p != "" {
		config.Portfolio.Path = p
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case "", "file":
		c.Storage.Backend = "file"
	case "sqlite":
		c.Storage.Backend = "sqlite"
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	return nil
}

// Provider returns the [[providers]] entry with the given name, matched
// case-insensitively.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ResolveAPIKey resolves a provider API key from the environment, falling
// back to the configured value. "<NAME>_API_KEY" and "QUOTEFEED_<NAME>_API_KEY"
// are checked, with NAME upper-cased.
func ResolveAPIKey(provider string, fallback string) string {
	name := strings.ToUpper(provider)
	for _, envVarName := range []string{name + "_API_KEY", "QUOTEFEED_" + name + "_API_KEY"} {
		if v := os.Getenv(envVarName); v != "" {
			return v
		}
	}
	return fallback
}
