// Package config loads the Tuya BLE engine's configuration using
// koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete engine configuration.
type Config struct {
	Engine      EngineConfig      `koanf:"engine"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Log         LogConfig         `koanf:"log"`
	Credentials CredentialsConfig `koanf:"credentials"`
}

// EngineConfig holds the protocol engine's tunables (Session Options).
type EngineConfig struct {
	// ResponseTimeout bounds how long a request waits for its matching
	// reply before the correlator fails it with ErrTimeout.
	ResponseTimeout time.Duration `koanf:"response_timeout"`

	// MTU is the maximum bytes per GATT notification/write used by the
	// fragmenter.
	MTU int `koanf:"mtu"`

	// ReconnectBackoff is the base delay a Device's caller should wait
	// between reconnect attempts after an unexpected disconnect.
	ReconnectBackoff time.Duration `koanf:"reconnect_backoff"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// CredentialsConfig configures the on-disk credential store.
type CredentialsConfig struct {
	// Path is the JSON file the FileStore persists credentials to.
	Path string `koanf:"path"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. The
// response timeout and MTU match the protocol engine's own package
// defaults, so a Config zero value never silently behaves differently
// from an engine constructed without one.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			ResponseTimeout:  60 * time.Second,
			MTU:              20,
			ReconnectBackoff: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Credentials: CredentialsConfig{
			Path: "credentials.json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for engine configuration.
// Variables are named GOTUYABLE_<section>_<key>, e.g.
// GOTUYABLE_ENGINE_MTU.
const envPrefix = "GOTUYABLE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOTUYABLE_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	GOTUYABLE_ENGINE_MTU              -> engine.mtu
//	GOTUYABLE_ENGINE_RESPONSE_TIMEOUT -> engine.response_timeout
//	GOTUYABLE_METRICS_ADDR            -> metrics.addr
//	GOTUYABLE_LOG_LEVEL               -> log.level
//	GOTUYABLE_CREDENTIALS_PATH        -> credentials.path
//
// Uses koanf/v2 with file + env providers and a YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GOTUYABLE_ENGINE_MTU -> engine.mtu. Strips the
// prefix, lowercases, and replaces the first _ (the section separator)
// with ., so GOTUYABLE_ENGINE_RESPONSE_TIMEOUT -> engine.response_timeout.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"engine.response_timeout":  defaults.Engine.ResponseTimeout.String(),
		"engine.mtu":               defaults.Engine.MTU,
		"engine.reconnect_backoff": defaults.Engine.ReconnectBackoff.String(),
		"metrics.addr":             defaults.Metrics.Addr,
		"metrics.path":             defaults.Metrics.Path,
		"log.level":                defaults.Log.Level,
		"log.format":               defaults.Log.Format,
		"credentials.path":         defaults.Credentials.Path,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidMTU indicates engine.mtu is not large enough to carry a
	// fragment header.
	ErrInvalidMTU = errors.New("engine.mtu must be >= 8")

	// ErrInvalidResponseTimeout indicates engine.response_timeout is not
	// positive.
	ErrInvalidResponseTimeout = errors.New("engine.response_timeout must be > 0")

	// ErrEmptyCredentialsPath indicates credentials.path is empty.
	ErrEmptyCredentialsPath = errors.New("credentials.path must not be empty")
)

// minMTU is the smallest fragment MTU that can carry a fragment-0 header
// (packet_num + total_length varints plus the version byte) and at
// least one body byte.
const minMTU = 8

// Validate checks the configuration for logical errors. Returns the
// first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Engine.MTU < minMTU {
		return ErrInvalidMTU
	}
	if cfg.Engine.ResponseTimeout <= 0 {
		return ErrInvalidResponseTimeout
	}
	if cfg.Credentials.Path == "" {
		return ErrEmptyCredentialsPath
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
