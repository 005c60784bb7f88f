// Package config loads server configuration from YAML and SCANQUEST_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SCANQUEST_STORE_DRIVER.
const EnvPrefix = "SCANQUEST"

// Store drivers.
const (
	StoreHTTP     = "http"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Fallback providers.
const (
	FallbackOpenAI = "openai"
	FallbackNone   = "none"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Store    StoreConfig    `mapstructure:"store"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Fallback FallbackConfig `mapstructure:"fallback"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	GRPC        GRPCConfig      `mapstructure:"grpc"`
	WebSocket   WebSocketConfig `mapstructure:"websocket"`
	LeasePeriod time.Duration   `mapstructure:"lease_period"`
}

type GRPCConfig struct {
	Address              string `mapstructure:"address"`
	MaxConcurrentStreams int    `mapstructure:"max_concurrent_streams"`
}

type WebSocketConfig struct {
	Address string `mapstructure:"address"`
	// AllowedOrigins limits browser origins; empty allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Driver      string        `mapstructure:"driver"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	AdminScope  string        `mapstructure:"admin_scope"`
	DatabaseURL string        `mapstructure:"database_url"`
}

type CacheConfig struct {
	// Path of the sqlite file; empty disables the durable cache.
	Path string `mapstructure:"path"`
}

type CatalogConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	// SeedPath overrides the embedded seed catalog.
	SeedPath string `mapstructure:"seed_path"`
}

type FallbackConfig struct {
	Provider string        `mapstructure:"provider"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	// AdminPasswordHash is a bcrypt hash; empty disables ConnectAdmin.
	AdminPasswordHash string `mapstructure:"admin_password_hash"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc.address", ":50051")
	v.SetDefault("server.grpc.max_concurrent_streams", 100)
	v.SetDefault("server.websocket.address", ":8080")
	v.SetDefault("server.websocket.allowed_origins", []string{})
	v.SetDefault("server.lease_period", 30*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.base_url", "")
	v.SetDefault("store.timeout", 5*time.Second)
	v.SetDefault("store.admin_scope", "admin")
	v.SetDefault("store.database_url", "")

	v.SetDefault("cache.path", "")

	v.SetDefault("catalog.refresh_interval", 5*time.Minute)
	v.SetDefault("catalog.seed_path", "")

	v.SetDefault("fallback.provider", FallbackNone)
	v.SetDefault("fallback.api_key", "")
	v.SetDefault("fallback.model", "")
	v.SetDefault("fallback.base_url", "")
	v.SetDefault("fallback.timeout", 15*time.Second)

	v.SetDefault("auth.admin_password_hash", "")
}

// Load reads path (optional; a missing file falls back to defaults), overlays
// environment variables and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var errs []error

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of json, console", c.Logging.Format))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreHTTP:
		if c.Store.BaseURL == "" {
			errs = append(errs, errors.New("store.base_url is required for the http driver"))
		}
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of http, postgres, memory", c.Store.Driver))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, errors.New("store.timeout must be positive"))
	}

	switch c.Fallback.Provider {
	case FallbackNone:
	case FallbackOpenAI:
		if c.Fallback.APIKey == "" {
			errs = append(errs, errors.New("fallback.api_key is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("fallback.provider %q is not one of openai, none", c.Fallback.Provider))
	}

	if c.Server.GRPC.MaxConcurrentStreams <= 0 {
		errs = append(errs, errors.New("server.grpc.max_concurrent_streams must be positive"))
	}
	if c.Catalog.RefreshInterval < 0 {
		errs = append(errs, errors.New("catalog.refresh_interval must not be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
