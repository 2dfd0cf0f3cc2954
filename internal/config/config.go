// Package config loads the exporter configuration from an optional JSON5
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"

	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/logging"
)

// Seconds is a duration written as a number of seconds in files and
// environment variables
type Seconds float64

// Duration converts s to a time.Duration
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// Config holds the exporter configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Station  StationConfig  `json:"station"`
	Scrape   ScrapeConfig   `json:"scrape"`
	Logging  LoggingConfig  `json:"logging"`
	Snapshot SnapshotConfig `json:"snapshot"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Address      string  `json:"address"`
	Port         int     `json:"port"`
	ReadTimeout  Seconds `json:"read_timeout"`
	WriteTimeout Seconds `json:"write_timeout"`
	IdleTimeout  Seconds `json:"idle_timeout"`
}

// ListenAddr returns host:port
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// StationConfig identifies the upstream station site
type StationConfig struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	CurrentPath string `json:"current_path"`
	ValuesPath  string `json:"values_path"`
}

// ScrapeConfig tunes upstream fetching and caching
type ScrapeConfig struct {
	Timeout Seconds `json:"timeout"`
	// Retries is nil only when built by hand; RetryCount treats that as 0
	Retries  *int    `json:"retries"`
	CacheTTL Seconds `json:"cache_ttl"`
}

// RetryCount returns the configured retries, 0 when unset
func (s ScrapeConfig) RetryCount() int {
	if s.Retries == nil {
		return 0
	}
	return *s.Retries
}

// LoggingConfig selects log level and encoding
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// SnapshotConfig configures the optional snapshot database. An empty DSN
// disables it.
type SnapshotConfig struct {
	Driver string  `json:"driver"`
	DSN    string  `json:"dsn"`
	MaxAge Seconds `json:"max_age"`
}

// Enabled reports whether snapshots should be persisted
func (s SnapshotConfig) Enabled() bool {
	return s.DSN != ""
}

// Defaults returns the built-in configuration
func Defaults() Config {
	retries := 3
	return Config{
		Server: ServerConfig{
			Address:      "0.0.0.0",
			Port:         9100,
			ReadTimeout:  15,
			WriteTimeout: 60,
			IdleTimeout:  120,
		},
		Station: StationConfig{
			URL:         "https://www.meteo-roquefort-les-pins.com",
			Name:        "roquefort_les_pins",
			CurrentPath: "meteo/currant.html",
			ValuesPath:  "meteo/vantage/valeurs.htm",
		},
		Scrape: ScrapeConfig{
			Timeout:  10,
			Retries:  &retries,
			CacheTTL: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Snapshot: SnapshotConfig{
			Driver: "postgres",
			MaxAge: 3600,
		},
	}
}

// LoadConfig starts from Defaults, decodes CONFIG_FILE over it when set and
// applies environment overrides last. Fields the file omits keep their
// default, and explicit zeros are kept so Validate can reject them.
func LoadConfig() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json5.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Snapshot.Driver = strings.ToLower(strings.TrimSpace(cfg.Snapshot.Driver))

	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs []error

	lookupString("LISTEN_ADDRESS", &cfg.Server.Address)
	errs = append(errs, lookupInt("LISTEN_PORT", &cfg.Server.Port))
	lookupString("STATION_URL", &cfg.Station.URL)
	lookupString("STATION_NAME", &cfg.Station.Name)
	lookupString("CURRENT_PAGE_PATH", &cfg.Station.CurrentPath)
	lookupString("VALUES_PAGE_PATH", &cfg.Station.ValuesPath)
	errs = append(errs, lookupSeconds("SCRAPE_TIMEOUT", &cfg.Scrape.Timeout))
	errs = append(errs, lookupIntPtr("SCRAPE_RETRIES", &cfg.Scrape.Retries))
	errs = append(errs, lookupSeconds("CACHE_TTL", &cfg.Scrape.CacheTTL))
	lookupString("LOG_LEVEL", &cfg.Logging.Level)
	lookupString("LOG_FORMAT", &cfg.Logging.Format)
	lookupString("SNAPSHOT_DB_DRIVER", &cfg.Snapshot.Driver)
	lookupString("SNAPSHOT_DB_DSN", &cfg.Snapshot.DSN)
	errs = append(errs, lookupSeconds("SNAPSHOT_MAX_AGE", &cfg.Snapshot.MaxAge))

	return errors.Join(errs...)
}

// Unset, empty and blank variables leave dst untouched in every lookup
// helper
func lookupString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func lookupInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func lookupIntPtr(key string, dst **int) error {
	if v, ok := os.LookupEnv(key); !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	var n int
	if err := lookupInt(key, &n); err != nil {
		return err
	}
	*dst = &n
	return nil
}

func lookupSeconds(key string, dst *Seconds) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = Seconds(f)
	return nil
}

// ValidationError reports one invalid configuration field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ValidationError{Field: "LISTEN_PORT", Message: fmt.Sprintf("%d is not a valid port", c.Server.Port)}
	}

	u, err := url.Parse(c.Station.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "STATION_URL", Message: fmt.Sprintf("%q is not an http(s) URL", c.Station.URL)}
	}
	if strings.TrimSpace(c.Station.Name) == "" {
		return &ValidationError{Field: "STATION_NAME", Message: "must not be empty"}
	}
	if c.Scrape.Timeout <= 0 {
		return &ValidationError{Field: "SCRAPE_TIMEOUT", Message: "must be positive"}
	}
	if c.Scrape.RetryCount() < 0 {
		return &ValidationError{Field: "SCRAPE_RETRIES", Message: "must not be negative"}
	}
	if c.Scrape.CacheTTL <= 0 {
		return &ValidationError{Field: "CACHE_TTL", Message: "must be positive"}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return &ValidationError{Field: "LOG_LEVEL", Message: err.Error()}
	}
	switch logging.Format(strings.ToLower(c.Logging.Format)) {
	case logging.JSONFormat, logging.TextFormat:
	default:
		return &ValidationError{Field: "LOG_FORMAT", Message: fmt.Sprintf("%q (allowed: json, text)", c.Logging.Format)}
	}
	switch strings.ToLower(c.Snapshot.Driver) {
	case "postgres", "sqlite":
	default:
		return &ValidationError{Field: "SNAPSHOT_DB_DRIVER", Message: fmt.Sprintf("%q (allowed: postgres, sqlite)", c.Snapshot.Driver)}
	}
	if c.Snapshot.MaxAge <= 0 {
		return &ValidationError{Field: "SNAPSHOT_MAX_AGE", Message: "must be positive"}
	}

	return nil
}
