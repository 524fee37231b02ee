// Package config defines the service configuration, loaded through viper so
// every knob is reachable from the config file, flags and COGSERVE_* env vars
// alike.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// COGSERVE_CACHE_DISABLED=true or COGSERVE_STATIC_LISTING=false.
const EnvPrefix = "COGSERVE"

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Data   DataConfig   `mapstructure:"data"`
	Static StaticConfig `mapstructure:"static"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Render RenderConfig `mapstructure:"render"`
	Limits LimitsConfig `mapstructure:"limits"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Bind    string        `mapstructure:"bind"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// DataConfig controls where local rasters are resolved from. Requests may
// only reference files under Root.
type DataConfig struct {
	Root string `mapstructure:"root"`
}

// StaticConfig controls the /files mount exposing the data root over HTTP.
type StaticConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Listing bool `mapstructure:"listing"`
}

// CacheConfig controls the shared block cache for ranged reads.
type CacheConfig struct {
	Disabled  bool  `mapstructure:"disabled"`
	BlockSize int64 `mapstructure:"block_size"`
	MaxBlocks int   `mapstructure:"max_blocks"`
}

type RenderConfig struct {
	TileSize       int `mapstructure:"tile_size"`
	MaxPreviewSize int `mapstructure:"max_preview_size"`
	Concurrency    int `mapstructure:"concurrency"`
}

// LimitsConfig bounds request rates. Zero disables limiting.
type LimitsConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// SetDefaults registers every default on the global viper instance. Called
// once from command init before flags are bound.
func SetDefaults() {
	viper.SetDefault("server.bind", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeout", 30*time.Second)

	viper.SetDefault("data.root", ".")

	viper.SetDefault("static.enabled", true)
	viper.SetDefault("static.listing", false)

	viper.SetDefault("cache.disabled", false)
	viper.SetDefault("cache.block_size", 512*1024)
	viper.SetDefault("cache.max_blocks", 256)

	viper.SetDefault("render.tile_size", 256)
	viper.SetDefault("render.max_preview_size", 1024)
	viper.SetDefault("render.concurrency", 4)

	viper.SetDefault("limits.requests_per_minute", 0)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
}

// BindEnv wires COGSERVE_* environment variables into viper.
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load materializes the configuration from the global viper instance.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Render.TileSize < 64 || c.Render.TileSize > 2048 {
		return fmt.Errorf("render.tile_size %d out of range (64..2048)", c.Render.TileSize)
	}
	if c.Render.MaxPreviewSize < 16 {
		return fmt.Errorf("render.max_preview_size %d too small", c.Render.MaxPreviewSize)
	}
	if c.Render.Concurrency < 1 {
		return fmt.Errorf("render.concurrency must be at least 1")
	}
	if !c.Cache.Disabled && c.Cache.MaxBlocks < 1 {
		return fmt.Errorf("cache.max_blocks must be at least 1 when the cache is enabled")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format %q, want console or json", c.Log.Format)
	}
	return nil
}
