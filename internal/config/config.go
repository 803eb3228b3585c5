// Package config loads kickbox configuration from defaults, an optional YAML
// file and KICKBOX_ environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/joeblew999/kickbox/internal/logging"
)

// Config is the top-level configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Kinetica KineticaConfig `koanf:"kinetica"`
	Log      logging.Config `koanf:"log"`
	Map      MapConfig      `koanf:"map"`
	Cluster  ClusterConfig  `koanf:"cluster"`
	Backend  BackendConfig  `koanf:"backend"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
	DataDir string `koanf:"data_dir"`
	// TemplatesDir replaces the built-in popup and legend fragments when set.
	TemplatesDir string `koanf:"templates_dir"`
}

// KineticaConfig points at the analytics REST API and its WMS endpoint.
type KineticaConfig struct {
	URL      string        `koanf:"url"`
	WMSURL   string        `koanf:"wms_url"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	Timeout  time.Duration `koanf:"timeout"`
}

// MapConfig tunes viewport event handling.
type MapConfig struct {
	DebounceLimit time.Duration `koanf:"debounce_limit"`
	ResizeLimit   time.Duration `koanf:"resize_limit"`
}

// ClusterConfig holds the defaults applied to new cluster layers.
type ClusterConfig struct {
	Radius   float64 `koanf:"radius"`
	MaxZoom  int     `koanf:"max_zoom"`
	MinSize  float64 `koanf:"min_size"`
	MaxSize  float64 `koanf:"max_size"`
	MinColor string  `koanf:"min_color"`
	MaxColor string  `koanf:"max_color"`
}

// BackendConfig controls the embedded DuckDB development backend.
type BackendConfig struct {
	Enabled bool   `koanf:"enabled"`
	DBName  string `koanf:"db_name"`
}

var defaults = map[string]any{
	"server.host":          "0.0.0.0",
	"server.port":          8086,
	"server.data_dir":      ".data",
	"server.templates_dir": "",
	"kinetica.url":         "http://localhost:9191",
	"kinetica.wms_url":     "http://localhost:9191/wms",
	"kinetica.username":    "",
	"kinetica.password":    "",
	"kinetica.timeout":     "30s",
	"log.level":            "info",
	"log.format":           "json",
	"map.debounce_limit":   "200ms",
	"map.resize_limit":     "500ms",
	"cluster.radius":       40,
	"cluster.max_zoom":     14,
	"cluster.min_size":     1,
	"cluster.max_size":     20,
	"cluster.min_color":    "#FF0000",
	"cluster.max_color":    "#00FF00",
	"backend.enabled":      false,
	"backend.db_name":      "kickbox",
}

// Load reads defaults, then configPath (when not empty), then the environment.
// KICKBOX_KINETICA__URL overrides kinetica.url.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("KICKBOX_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "KICKBOX_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges that would otherwise surface as odd runtime behavior.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Kinetica.URL == "" {
		return fmt.Errorf("kinetica.url is required")
	}
	if c.Map.DebounceLimit < 0 {
		return fmt.Errorf("map.debounce_limit must not be negative")
	}
	if c.Cluster.Radius <= 0 {
		return fmt.Errorf("cluster.radius must be positive")
	}
	if c.Cluster.MaxZoom < 0 || c.Cluster.MaxZoom > 24 {
		return fmt.Errorf("cluster.max_zoom out of range: %d", c.Cluster.MaxZoom)
	}
	if c.Cluster.MinSize > c.Cluster.MaxSize {
		return fmt.Errorf("cluster.min_size exceeds cluster.max_size")
	}
	return nil
}
