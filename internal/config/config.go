package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDatabaseURL is returned when database_url names an unsupported scheme.
var ErrInvalidDatabaseURL = errors.New("invalid database url: want postgres://, sqlite:// or a file path")

// Database kinds returned by Config.Database.
const (
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"
)

// Config holds application configuration.
type Config struct {
	DatabaseURL string        `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string        `yaml:"redis_url" env:"REDIS_URL"`
	PrefsPath   string        `yaml:"prefs_path" env:"PREFS_PATH"`
	ServerPort  string        `yaml:"server_port" env:"SERVER_PORT"`
	UserAgent   string        `yaml:"user_agent" env:"FETCHER_USER_AGENT"`
	Timeout     time.Duration `yaml:"timeout" env:"FETCHER_TIMEOUT"`
	LogosURL    string        `yaml:"logos_url" env:"LOGOS_URL"`

	ProbeUserAgent  string        `yaml:"probe_user_agent" env:"PROBE_USER_AGENT"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT"`
	ProbeWorkers    int           `yaml:"probe_workers" env:"PROBE_WORKERS"`
	ProbeRate       float64       `yaml:"probe_rate" env:"PROBE_RATE"` // probes per second, 0 = unlimited
	ProgressEvery   int           `yaml:"progress_every" env:"PROGRESS_EVERY"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"` // 0 = no scheduled cleanup
	ReloadOnStart   bool          `yaml:"reload_on_start" env:"RELOAD_ON_START"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogPretty bool   `yaml:"log_pretty" env:"LOG_PRETTY"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		DatabaseURL:    "sqlite://livevault.db",
		PrefsPath:      "livevault-prefs.db",
		ServerPort:     "8080",
		UserAgent:      "LiveVault/1.0",
		Timeout:        30 * time.Second,
		LogosURL:       "https://iptv-org.github.io/api/logos.json",
		ProbeUserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
		ProbeTimeout:   3 * time.Second,
		ProbeWorkers:   4,
		ProgressEvery:  5,
		ReloadOnStart:  true,
		LogLevel:       "info",
	}
}

// Load builds config from environment variables on top of Default.
// .env.local and .env are loaded first (without overriding variables that are already set).
func Load() (*Config, error) {
	loadEnvFiles()
	c := Default()
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnv overrides fields from the environment. Values that fail to parse are ignored.
func (c *Config) applyEnv(getenv func(string) string) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setDuration := func(dst *time.Duration, key string) {
		if v := getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setInt := func(dst *int, key string) {
		if v := getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(dst *bool, key string) {
		if v := getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.PrefsPath, "PREFS_PATH")
	setString(&c.ServerPort, "SERVER_PORT")
	setString(&c.UserAgent, "FETCHER_USER_AGENT")
	setDuration(&c.Timeout, "FETCHER_TIMEOUT")
	setString(&c.LogosURL, "LOGOS_URL")
	setString(&c.ProbeUserAgent, "PROBE_USER_AGENT")
	setDuration(&c.ProbeTimeout, "PROBE_TIMEOUT")
	setInt(&c.ProbeWorkers, "PROBE_WORKERS")
	if v := getenv("PROBE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ProbeRate = f
		}
	}
	setInt(&c.ProgressEvery, "PROGRESS_EVERY")
	setDuration(&c.CleanupInterval, "CLEANUP_INTERVAL")
	setBool(&c.ReloadOnStart, "RELOAD_ON_START")
	setString(&c.LogLevel, "LOG_LEVEL")
	setBool(&c.LogPretty, "LOG_PRETTY")
}

// Validate checks the database URL and clamps numeric settings to usable values.
func (c *Config) Validate() error {
	if _, _, err := c.Database(); err != nil {
		return err
	}
	if c.ProbeWorkers < 1 {
		c.ProbeWorkers = 1
	}
	if c.ProgressEvery < 1 {
		c.ProgressEvery = 1
	}
	if c.ProbeRate < 0 {
		c.ProbeRate = 0
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return nil
}

// Database reports which catalog backend DatabaseURL selects and the DSN or file path to open.
func (c *Config) Database() (kind, dsn string, err error) {
	u := strings.TrimSpace(c.DatabaseURL)
	switch {
	case u == "":
		return "", "", fmt.Errorf("%w: empty", ErrInvalidDatabaseURL)
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return DatabasePostgres, u, nil
	case strings.HasPrefix(u, "sqlite://"):
		path := strings.TrimPrefix(u, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("%w: sqlite path is empty", ErrInvalidDatabaseURL)
		}
		return DatabaseSQLite, path, nil
	case strings.Contains(u, "://"):
		return "", "", fmt.Errorf("%w: %q", ErrInvalidDatabaseURL, u)
	default:
		return DatabaseSQLite, u, nil
	}
}
