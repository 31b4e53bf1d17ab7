/*
Package config loads service settings.

SOURCES (later wins):
  1. Defaults below
  2. Optional config file (yaml, json or toml; --config)
  3. .env in the working directory, if present
  4. Environment variables, prefixed FM_ with dots as underscores
     (FM_ENGINE_WORKERS=16, FM_DATABASE_PATH=./data/metrics.db)
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "FM"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Warmer   WarmerConfig   `mapstructure:"warmer"`
	Classify ClassifyConfig `mapstructure:"classify"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`

	// RecomputeEvery and RecomputeBurst size the token bucket in front
	// of the refresh and warm endpoints.
	RecomputeEvery time.Duration `mapstructure:"recompute_every"`
	RecomputeBurst int           `mapstructure:"recompute_burst"`
}

type DatabaseConfig struct {
	// Path is a SQLite file, or ":memory:".
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EngineConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type WarmerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type ClassifyConfig struct {
	// RulesPath overrides the embedded ruleset when set.
	RulesPath string `mapstructure:"rules_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("server.recompute_every", 500*time.Millisecond)
	v.SetDefault("server.recompute_burst", 5)
	v.SetDefault("database.path", "metrics.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.query_timeout", 30*time.Second)
	v.SetDefault("cache.ttl", 15*time.Minute)
	v.SetDefault("cache.cleanup_interval", 30*time.Minute)
	v.SetDefault("warmer.enabled", false)
	v.SetDefault("warmer.interval", time.Hour)
	v.SetDefault("classify.rules_path", "")
}

// Load reads configuration from path (may be empty), .env and the
// environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("config: database.path is required")
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("config: engine.workers must be positive, got %d", c.Engine.Workers)
	}
	if c.Engine.QueryTimeout < 0 {
		return fmt.Errorf("config: engine.query_timeout must not be negative, got %s", c.Engine.QueryTimeout)
	}
	if c.Server.RecomputeBurst < 1 {
		return fmt.Errorf("config: server.recompute_burst must be positive, got %d", c.Server.RecomputeBurst)
	}
	if c.Warmer.Enabled && c.Warmer.Interval <= 0 {
		return fmt.Errorf("config: warmer.interval must be positive, got %s", c.Warmer.Interval)
	}
	return nil
}
