// Package config defines the engine's configuration, loaded from a TOML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration wraps time.Duration so TOML values like "10s" decode directly.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Events   EventsConfig   `toml:"events"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP listener parameters.
type ServerConfig struct {
	Port         string   `toml:"port"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
	IdleTimeout  Duration `toml:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty URL means
// the in-memory store (development only).
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// RedisConfig holds Redis connection parameters. An empty URL disables the
// cache and the pub/sub event emitter.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL Duration `toml:"cache_ttl"`
}

// EventsConfig holds event-emission parameters.
type EventsConfig struct {
	Channel string `toml:"channel"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(10 * time.Second),
			IdleTimeout:  Duration(60 * time.Second),
		},
		Redis:    RedisConfig{CacheTTL: Duration(30 * time.Second)},
		Events:   EventsConfig{Channel: "settlement.events"},
		LogLevel: "info",
	}
}

// Load reads configuration from the TOML file at path (optional), after
// loading a .env file if one exists, then applies environment overrides.
func Load(path string) (Config, error) {
	// Best-effort: a missing .env is not an error.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("EVENTS_CHANNEL"); v != "" {
		cfg.Events.Channel = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func (c Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("config: server port must not be empty")
	}
	if c.Redis.CacheTTL <= 0 {
		return fmt.Errorf("config: redis cache_ttl must be positive")
	}
	if c.Events.Channel == "" {
		return fmt.Errorf("config: events channel must not be empty")
	}
	return nil
}
