// Package config handles configuration loading for the taxonomy dashboard server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Cache   CacheConfig   `yaml:"cache"`
	Render  RenderConfig  `yaml:"render"`
	Session SessionConfig `yaml:"session"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// DataConfig contains data source settings.
type DataConfig struct {
	// Path of the tab-separated cell table (.tsv, .tsv.gz or .tsv.zst).
	Path string `yaml:"path"`
	// IndexColumn marks the first column as row labels. Defaults to true.
	IndexColumn *bool `yaml:"index_column"`
	// Categorical and Numeric override the detected kind of named columns.
	Categorical []string `yaml:"categorical"`
	Numeric     []string `yaml:"numeric"`
}

// HasIndexColumn reports whether the first column holds row labels.
func (d DataConfig) HasIndexColumn() bool {
	return d.IndexColumn == nil || *d.IndexColumn
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	// ArtifactPath is the SQLite file of computed aggregates. Empty keeps them
	// in memory only.
	ArtifactPath string `yaml:"artifact_path"`
	// FingerprintKeys suffixes artifact keys with the dataset fingerprint so a
	// changed input file never reads stale artifacts.
	FingerprintKeys bool `yaml:"fingerprint_keys"`
	// ArtifactMaxAgeHours drops stored artifacts older than this at startup;
	// 0 keeps them forever.
	ArtifactMaxAgeHours int `yaml:"artifact_max_age_hours"`

	PlotSizeMB       int `yaml:"plot_size_mb"`
	PlotTTLMinutes   int `yaml:"plot_ttl_minutes"`
	OptionsCacheSize int `yaml:"options_cache_size"`

	// Warm lists the artifacts computed at startup. Nil selects the default
	// list; an empty list disables warm-up.
	Warm []string `yaml:"warm"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	Width               int     `yaml:"width"`
	Height              int     `yaml:"height"`
	PointSize           float64 `yaml:"point_size"`
	MaxLegendCategories int     `yaml:"max_legend_categories"`
	// MaxPoints subsamples larger embeddings deterministically; 0 draws all.
	MaxPoints int `yaml:"max_points"`
}

// SessionConfig contains browser session settings.
type SessionConfig struct {
	CookieName         string `yaml:"cookie_name"`
	IdleTimeoutMinutes int    `yaml:"idle_timeout_minutes"`
}

// IdleTimeout returns the session idle timeout.
func (s SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMinutes) * time.Minute
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "Cell taxonomy dashboard",
		},
		Data: DataConfig{
			Path: "./data/cells.tsv",
		},
		Cache: CacheConfig{
			ArtifactPath:     "./data/artifacts.sqlite",
			PlotSizeMB:       256,
			PlotTTLMinutes:   10,
			OptionsCacheSize: 1024,
		},
		Render: RenderConfig{
			Width:               800,
			Height:              800,
			PointSize:           2,
			MaxLegendCategories: 41,
		},
		Session: SessionConfig{
			CookieName:         "taxodash_session",
			IdleTimeoutMinutes: 120,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Data.Path == "" {
		cfg.Data.Path = defaults.Data.Path
	}
	if cfg.Cache.PlotSizeMB == 0 {
		cfg.Cache.PlotSizeMB = defaults.Cache.PlotSizeMB
	}
	if cfg.Cache.PlotTTLMinutes == 0 {
		cfg.Cache.PlotTTLMinutes = defaults.Cache.PlotTTLMinutes
	}
	if cfg.Cache.OptionsCacheSize == 0 {
		cfg.Cache.OptionsCacheSize = defaults.Cache.OptionsCacheSize
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.PointSize == 0 {
		cfg.Render.PointSize = defaults.Render.PointSize
	}
	if cfg.Render.MaxLegendCategories == 0 {
		cfg.Render.MaxLegendCategories = defaults.Render.MaxLegendCategories
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = defaults.Session.CookieName
	}
	if cfg.Session.IdleTimeoutMinutes == 0 {
		cfg.Session.IdleTimeoutMinutes = defaults.Session.IdleTimeoutMinutes
	}
}
