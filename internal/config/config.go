// Package config loads and validates runtime configuration.
//
// Values come from an optional YAML file plus environment variables
// prefixed with TRAILBLAZE_ (dots become underscores, so
// scraper.requests_per_second maps to TRAILBLAZE_SCRAPER_REQUESTS_PER_SECOND).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the scraper and enrichment
// workers.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Geocoding GeocodingConfig `mapstructure:"geocoding"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL              string        `mapstructure:"url"`
	MaxConns         int32         `mapstructure:"max_conns"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// ScraperConfig controls the scrape pipeline.
type ScraperConfig struct {
	CalendarURL    string        `mapstructure:"calendar_url"`
	AjaxURL        string        `mapstructure:"ajax_url"`
	Debug          bool          `mapstructure:"debug"`
	Refresh        bool          `mapstructure:"refresh"`
	ValidateOnly   bool          `mapstructure:"validate_only"`
	RunDeadline    time.Duration `mapstructure:"run_deadline"`
	UpsertWorkers  int           `mapstructure:"upsert_workers"`
	MaxInvalidRows int           `mapstructure:"max_invalid_rows"`
}

// HTTPConfig controls outbound HTTP behavior.
type HTTPConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// CacheConfig controls the on-disk content cache.
type CacheConfig struct {
	Dir        string        `mapstructure:"dir"`
	HTMLTTL    time.Duration `mapstructure:"html_ttl"`
	GeocodeTTL time.Duration `mapstructure:"geocode_ttl"`
}

// GeocodingConfig selects and configures the geocoding provider.
type GeocodingConfig struct {
	Provider  string `mapstructure:"provider"`
	APIKey    string `mapstructure:"api_key"`
	UserAgent string `mapstructure:"user_agent"`
	BatchSize int    `mapstructure:"batch_size"`
}

// GeminiConfig configures the website detail extractor.
type GeminiConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	BatchSize int           `mapstructure:"batch_size"`
	MaxChars  int           `mapstructure:"max_chars"`
}

// ScheduleConfig holds cron expressions for the recurring jobs.
type ScheduleConfig struct {
	Scrape     string `mapstructure:"scrape"`
	Enrichment string `mapstructure:"enrichment"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads configuration from the given file (optional) and the
// environment, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRAILBLAZE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register the keys so AutomaticEnv can fill them
	// during Unmarshal.
	v.SetDefault("database.url", "")
	v.SetDefault("geocoding.api_key", "")
	v.SetDefault("gemini.api_key", "")

	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.connect_timeout", 10*time.Second)
	v.SetDefault("database.statement_timeout", 30*time.Second)

	v.SetDefault("scraper.calendar_url", "https://aerc.org/calendar")
	v.SetDefault("scraper.ajax_url", "https://aerc.org/wp-admin/admin-ajax.php")
	v.SetDefault("scraper.debug", false)
	v.SetDefault("scraper.refresh", false)
	v.SetDefault("scraper.validate_only", false)
	v.SetDefault("scraper.run_deadline", 10*time.Minute)
	v.SetDefault("scraper.upsert_workers", 4)
	v.SetDefault("scraper.max_invalid_rows", 100)

	v.SetDefault("http.user_agent", "trailblaze-scraper/1.0")
	v.SetDefault("http.requests_per_second", 1.0)
	v.SetDefault("http.burst", 2)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.base_delay", time.Second)
	v.SetDefault("http.max_delay", 30*time.Second)
	v.SetDefault("http.request_timeout", 30*time.Second)

	v.SetDefault("cache.dir", "cache")
	v.SetDefault("cache.html_ttl", time.Hour)
	v.SetDefault("cache.geocode_ttl", 30*24*time.Hour)

	v.SetDefault("geocoding.provider", "nominatim")
	v.SetDefault("geocoding.user_agent", "trailblaze-scraper/1.0 (geocoding)")
	v.SetDefault("geocoding.batch_size", 25)

	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.timeout", 60*time.Second)
	v.SetDefault("gemini.batch_size", 5)
	v.SetDefault("gemini.max_chars", 15000)

	v.SetDefault("schedule.scrape", "0 6 * * *")
	v.SetDefault("schedule.enrichment", "30 6 * * *")

	v.SetDefault("logging.development", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
}

// Validate checks for missing or inconsistent settings. It returns all
// problems joined so the operator fixes them in one pass.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Scraper.CalendarURL == "" {
		errs = append(errs, errors.New("scraper.calendar_url is required"))
	}
	if c.Scraper.AjaxURL == "" {
		errs = append(errs, errors.New("scraper.ajax_url is required"))
	}
	if c.Scraper.UpsertWorkers < 1 {
		errs = append(errs, errors.New("scraper.upsert_workers must be >= 1"))
	}
	if c.HTTP.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("http.requests_per_second must be > 0"))
	}
	if c.HTTP.Burst < 1 {
		errs = append(errs, errors.New("http.burst must be >= 1"))
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, errors.New("http.max_retries must be >= 0"))
	}

	switch c.Geocoding.Provider {
	case "nominatim":
		if c.Geocoding.UserAgent == "" {
			errs = append(errs, errors.New("geocoding.user_agent is required for nominatim"))
		}
	case "google":
		if c.Geocoding.APIKey == "" {
			errs = append(errs, errors.New("geocoding.api_key is required for google"))
		}
	case "":
		errs = append(errs, errors.New("geocoding.provider is required"))
	default:
		errs = append(errs, fmt.Errorf("geocoding.provider %q is not supported", c.Geocoding.Provider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
