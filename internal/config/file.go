package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with pointer fields so unset keys keep their defaults.
type fileConfig struct {
	DatabaseURL     *string  `yaml:"database_url"`
	RedisURL        *string  `yaml:"redis_url"`
	PrefsPath       *string  `yaml:"prefs_path"`
	ServerPort      *string  `yaml:"server_port"`
	UserAgent       *string  `yaml:"user_agent"`
	Timeout         *string  `yaml:"timeout"`
	LogosURL        *string  `yaml:"logos_url"`
	ProbeUserAgent  *string  `yaml:"probe_user_agent"`
	ProbeTimeout    *string  `yaml:"probe_timeout"`
	ProbeWorkers    *int     `yaml:"probe_workers"`
	ProbeRate       *float64 `yaml:"probe_rate"`
	ProgressEvery   *int     `yaml:"progress_every"`
	CleanupInterval *string  `yaml:"cleanup_interval"`
	ReloadOnStart   *bool    `yaml:"reload_on_start"`
	LogLevel        *string  `yaml:"log_level"`
	LogPretty       *bool    `yaml:"log_pretty"`
}

// LoadFromFile loads config from a YAML file on top of Default.
// Durations use Go syntax ("3s", "1h").
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	c := Default()
	if err := f.apply(c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (f *fileConfig) apply(c *Config) error {
	setString := func(dst *string, v *string) {
		if v != nil && *v != "" {
			*dst = *v
		}
	}
	setDuration := func(dst *time.Duration, key string, v *string) error {
		if v == nil || *v == "" {
			return nil
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	setString(&c.DatabaseURL, f.DatabaseURL)
	setString(&c.RedisURL, f.RedisURL)
	setString(&c.PrefsPath, f.PrefsPath)
	setString(&c.ServerPort, f.ServerPort)
	setString(&c.UserAgent, f.UserAgent)
	setString(&c.LogosURL, f.LogosURL)
	setString(&c.ProbeUserAgent, f.ProbeUserAgent)
	setString(&c.LogLevel, f.LogLevel)
	if err := setDuration(&c.Timeout, "timeout", f.Timeout); err != nil {
		return err
	}
	if err := setDuration(&c.ProbeTimeout, "probe_timeout", f.ProbeTimeout); err != nil {
		return err
	}
	if err := setDuration(&c.CleanupInterval, "cleanup_interval", f.CleanupInterval); err != nil {
		return err
	}
	if f.ProbeWorkers != nil {
		c.ProbeWorkers = *f.ProbeWorkers
	}
	if f.ProbeRate != nil {
		c.ProbeRate = *f.ProbeRate
	}
	if f.ProgressEvery != nil {
		c.ProgressEvery = *f.ProgressEvery
	}
	if f.ReloadOnStart != nil {
		c.ReloadOnStart = *f.ReloadOnStart
	}
	if f.LogPretty != nil {
		c.LogPretty = *f.LogPretty
	}
	return nil
}
