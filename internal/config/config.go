package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// Logging configuration
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// Audiobookshelf server configuration
	Audiobookshelf struct {
		URL       string   `yaml:"url"`
		Token     string   `yaml:"token"`
		Libraries []string `yaml:"libraries"` // library IDs to sync; empty means all book libraries
	} `yaml:"audiobookshelf"`

	// QuickLink configuration for automatic linking via catalog identifiers
	QuickLink struct {
		Provider       string `yaml:"provider"`        // "audible" or "hardcover"
		AudibleRegion  string `yaml:"audible_region"`  // e.g. ".com", ".co.uk", ".de"
		HardcoverToken string `yaml:"hardcover_token"` // only needed for the hardcover provider
		NegativeCache  bool   `yaml:"negative_cache"`  // cache no-match outcomes
		MaxResults     int    `yaml:"max_results"`     // candidate IDs per search
	} `yaml:"quick_link"`

	// Sync settings
	Sync struct {
		Workers          int           `yaml:"workers"`           // bounded worker pool size
		SkipFinished     bool          `yaml:"skip_finished"`     // skip finished books unchanged since last sync
		TieThreshold     float64       `yaml:"tie_threshold"`     // confidence delta below which matches are ambiguous
		DecimalPrecision int           `yaml:"decimal_precision"` // precision for float field values
		Fields           []string      `yaml:"fields"`            // enabled field roles; empty means all
		Writeback        bool          `yaml:"writeback"`         // push local edits back to the server
		SyncASIN         bool          `yaml:"sync_asin"`         // copy the remote ASIN into the local record
		RequestTimeout   time.Duration `yaml:"request_timeout"`   // per remote call
		ScheduleHour     int           `yaml:"schedule_hour"`     // daily sync time (daemon mode)
		ScheduleMinute   int           `yaml:"schedule_minute"`
	} `yaml:"sync"`

	// File paths
	Paths struct {
		DatabaseFile string `yaml:"database_file"`
	} `yaml:"paths"`
}

// Default returns a Config populated with default values
func Default() *Config {
	cfg := &Config{}
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"
	cfg.Audiobookshelf.URL = "http://localhost:13378"
	cfg.QuickLink.Provider = "audible"
	cfg.QuickLink.AudibleRegion = ".com"
	cfg.QuickLink.NegativeCache = true
	cfg.QuickLink.MaxResults = 25
	cfg.Sync.Workers = 1
	cfg.Sync.SkipFinished = true
	cfg.Sync.TieThreshold = 0
	cfg.Sync.DecimalPrecision = 2
	cfg.Sync.Writeback = false
	cfg.Sync.SyncASIN = true
	cfg.Sync.RequestTimeout = 30 * time.Second
	cfg.Sync.ScheduleHour = 4
	cfg.Sync.ScheduleMinute = 0
	cfg.Paths.DatabaseFile = "./data/library.db"
	return cfg
}

// Load loads configuration from a file (if specified) and environment variables.
// Priority: environment variables > config file > defaults.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file %q does not exist", configFile)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid combinations
func (c *Config) Validate() error {
	switch c.QuickLink.Provider {
	case "audible", "hardcover":
	default:
		return fmt.Errorf("invalid quick_link provider %q (want audible or hardcover)", c.QuickLink.Provider)
	}
	if c.QuickLink.Provider == "hardcover" && c.QuickLink.HardcoverToken == "" {
		return fmt.Errorf("hardcover provider requires quick_link.hardcover_token")
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1, got %d", c.Sync.Workers)
	}
	if c.Sync.TieThreshold < 0 || c.Sync.TieThreshold > 1 {
		return fmt.Errorf("sync.tie_threshold must be in [0,1], got %g", c.Sync.TieThreshold)
	}
	if c.Sync.ScheduleHour < 0 || c.Sync.ScheduleHour > 23 {
		return fmt.Errorf("sync.schedule_hour must be in [0,23], got %d", c.Sync.ScheduleHour)
	}
	if c.Sync.ScheduleMinute < 0 || c.Sync.ScheduleMinute > 59 {
		return fmt.Errorf("sync.schedule_minute must be in [0,59], got %d", c.Sync.ScheduleMinute)
	}
	return nil
}

// loadFromEnv overlays environment variables onto the configuration
func loadFromEnv(cfg *Config) {
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		cfg.Logging.Level = v
	}
	if v := getEnv("LOG_FORMAT", ""); v != "" {
		cfg.Logging.Format = v
	}
	if v := getEnv("AUDIOBOOKSHELF_URL", ""); v != "" {
		cfg.Audiobookshelf.URL = v
	}
	if v := getEnv("AUDIOBOOKSHELF_TOKEN", ""); v != "" {
		cfg.Audiobookshelf.Token = v
	}
	if v := getEnv("QUICK_LINK_PROVIDER", ""); v != "" {
		cfg.QuickLink.Provider = v
	}
	if v := getEnv("AUDIBLE_REGION", ""); v != "" {
		cfg.QuickLink.AudibleRegion = v
	}
	if v := getEnv("HARDCOVER_TOKEN", ""); v != "" {
		cfg.QuickLink.HardcoverToken = v
	}
	if v, set := os.LookupEnv("NEGATIVE_CACHE"); set {
		cfg.QuickLink.NegativeCache = strings.ToLower(v) == "true"
	}
	if v := getIntFromEnv("SYNC_WORKERS", 0); v > 0 {
		cfg.Sync.Workers = v
	}
	if v, set := os.LookupEnv("SKIP_FINISHED"); set {
		cfg.Sync.SkipFinished = strings.ToLower(v) == "true"
	}
	if v, set := os.LookupEnv("WRITEBACK"); set {
		cfg.Sync.Writeback = strings.ToLower(v) == "true"
	}
	if v := getFloat64FromEnv("TIE_THRESHOLD", -1); v >= 0 {
		cfg.Sync.TieThreshold = v
	}
	if v := getDurationFromEnv("REQUEST_TIMEOUT", 0); v > 0 {
		cfg.Sync.RequestTimeout = v
	}
	if v := getEnv("DATABASE_FILE", ""); v != "" {
		cfg.Paths.DatabaseFile = v
	}
}

// getEnv returns the value of an environment variable or a default
func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// getIntFromEnv returns an int from an environment variable or a default
func getIntFromEnv(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// getFloat64FromEnv returns a float64 from an environment variable or a default
func getFloat64FromEnv(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// getDurationFromEnv returns a duration from an environment variable or a default
func getDurationFromEnv(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
