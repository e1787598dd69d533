// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ballardtrucks/roundup/internal/schedule"
)

// Config captures all configuration knobs plus the source list.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	Vision  VisionConfig  `mapstructure:"vision"`
	Server  ServerConfig  `mapstructure:"server"`
	Web     WebConfig     `mapstructure:"web"`
	Sources []SourceEntry `mapstructure:"sources"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ScraperConfig governs coordinator concurrency and retry behavior.
type ScraperConfig struct {
	MaxConcurrent        int     `mapstructure:"max_concurrent"`
	SourceTimeoutSeconds int     `mapstructure:"source_timeout_seconds"`
	MaxAttempts          int     `mapstructure:"max_attempts"`
	BackoffBase          float64 `mapstructure:"backoff_base"`
	WindowDays           int     `mapstructure:"window_days"`
	Timezone             string  `mapstructure:"timezone"`
	UserAgent            string  `mapstructure:"user_agent"`
}

// VisionConfig controls the image-analysis name resolver.
type VisionConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
}

// ServerConfig controls the HTTP serving surface.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	RefreshSeconds int `mapstructure:"refresh_seconds"`
}

// WebConfig controls the static site payload output.
type WebConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// SourceEntry is the on-disk form of one schedule source.
type SourceEntry struct {
	Key     string            `mapstructure:"key"`
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Adapter string            `mapstructure:"adapter"`
	Config  map[string]string `mapstructure:"config"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ROUNDUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("scraper.max_concurrent", 5)
	v.SetDefault("scraper.source_timeout_seconds", 60)
	v.SetDefault("scraper.max_attempts", 3)
	v.SetDefault("scraper.backoff_base", 2)
	v.SetDefault("scraper.window_days", 7)
	v.SetDefault("scraper.timezone", "America/Los_Angeles")
	v.SetDefault("scraper.user_agent", "roundup-schedule-bot/0.1")
	v.SetDefault("vision.enabled", false)
	v.SetDefault("vision.model", "claude-sonnet-4-20250514")
	v.SetDefault("vision.timeout_seconds", 30)
	v.SetDefault("vision.max_retries", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.refresh_seconds", 900)
	v.SetDefault("web.output_dir", "public")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scraper.MaxConcurrent <= 0 {
		return fmt.Errorf("scraper.max_concurrent must be > 0")
	}
	if c.Scraper.SourceTimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.source_timeout_seconds must be > 0")
	}
	if c.Scraper.MaxAttempts <= 0 {
		return fmt.Errorf("scraper.max_attempts must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Vision.Enabled && c.Vision.APIKey == "" {
		return fmt.Errorf("vision.api_key must be set when vision is enabled")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, s := range c.Sources {
		if s.Key == "" || s.Name == "" || s.URL == "" || s.Adapter == "" {
			return fmt.Errorf("sources[%d]: key, name, url and adapter are required", i)
		}
		if _, dup := seen[s.Key]; dup {
			return fmt.Errorf("sources[%d]: duplicate key %q", i, s.Key)
		}
		seen[s.Key] = struct{}{}
	}
	return nil
}

// SourceTimeout converts the per-source timeout into a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Scraper.SourceTimeoutSeconds) * time.Second
}

// Location resolves the configured timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scraper.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ScheduleSources converts the configured entries to domain sources.
func (c Config) ScheduleSources() []schedule.Source {
	sources := make([]schedule.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		cfg := s.Config
		if cfg == nil {
			cfg = map[string]string{}
		}
		sources = append(sources, schedule.Source{
			Key:     s.Key,
			Name:    s.Name,
			URL:     s.URL,
			Adapter: s.Adapter,
			Config:  cfg,
		})
	}
	return sources
}
