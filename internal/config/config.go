// Package config loads diarystore settings from an optional YAML file and
// DIARYSTORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/diarystore/internal/store"
)

// EnvPrefix is prepended to every environment override, e.g.
// DIARYSTORE_STORE_DSN for store.dsn.
const EnvPrefix = "DIARYSTORE"

// Config is the complete runtime configuration.
type Config struct {
	Store StoreConfig `mapstructure:"store"`
	Log   LogConfig   `mapstructure:"log"`
	Rules RulesConfig `mapstructure:"rules"`
	Actor ActorConfig `mapstructure:"actor"`
}

// StoreConfig selects the database.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// RulesConfig points at a CUE payload rules file. Empty uses the embedded
// defaults.
type RulesConfig struct {
	File string `mapstructure:"file"`
}

// ActorConfig is the default identity of CLI commands.
type ActorConfig struct {
	ID    string   `mapstructure:"id"`
	Role  string   `mapstructure:"role"`
	Sites []string `mapstructure:"sites"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Store: StoreConfig{Driver: string(store.DriverSQLite), DSN: "diarystore.db"},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (optional) and the environment on top of Default.
// A missing file is an error only when path was given explicitly.
func Load(path string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("store.driver", def.Store.Driver)
	v.SetDefault("store.dsn", def.Store.DSN)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("rules.file", "")
	v.SetDefault("actor.id", "")
	v.SetDefault("actor.role", "")
	v.SetDefault("actor.sites", []string{})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("diarystore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated values.
func (c Config) Validate() error {
	if _, err := store.ParseDriver(c.Store.Driver); err != nil {
		return fmt.Errorf("store.driver: %w", err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}
