// Package config loads mesh configuration: a JSON file, overridden by
// TEKTON_-prefixed environment variables, validated before use. All timing
// fields use the Duration wrapper so files can say "30s" instead of
// nanosecond counts.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ckoons/Tekton-sub006/errors"
)

// EnvPrefix is the prefix for all environment overrides.
const EnvPrefix = "TEKTON_"

// Duration wraps time.Duration for JSON configs. It accepts either a Go
// duration string ("30s", "1m30s") or a bare number of seconds.
type Duration struct {
	time.Duration
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON parses a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		d.Duration = parsed
		return nil
	case float64:
		d.Duration = time.Duration(val * float64(time.Second))
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}

// Config is the complete mesh configuration.
type Config struct {
	RegistryDir string        `json:"registry_dir"`
	LogLevel    string        `json:"log_level"`
	Ports       PortsConfig   `json:"ports"`
	Health      HealthConfig  `json:"health"`
	Pool        PoolConfig    `json:"pool"`
	Routing     RoutingConfig `json:"routing"`
	Metrics     MetricsConfig `json:"metrics"`
}

// PortsConfig bounds the specialist port allocation range.
type PortsConfig struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// HealthConfig tunes the health monitor.
type HealthConfig struct {
	Interval    Duration `json:"interval"`
	PingTimeout Duration `json:"ping_timeout"`
	CheckDelay  Duration `json:"check_delay"`
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	ConnectTimeout Duration `json:"connect_timeout"`
	RequestTimeout Duration `json:"request_timeout"`
}

// RoutingConfig tunes the routing engine.
type RoutingConfig struct {
	DefaultChain []string `json:"default_chain,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// Default returns the configuration used when no file is present. The
// registry directory defaults to ~/.tekton/ai_registry so every launcher on
// the host shares one mesh.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		RegistryDir: filepath.Join(home, ".tekton", "ai_registry"),
		LogLevel:    "info",
		Ports:       PortsConfig{Start: 45000, End: 50000},
		Health: HealthConfig{
			Interval:    Duration{30 * time.Second},
			PingTimeout: Duration{5 * time.Second},
			CheckDelay:  Duration{100 * time.Millisecond},
		},
		Pool: PoolConfig{
			ConnectTimeout: Duration{2 * time.Second},
			RequestTimeout: Duration{30 * time.Second},
		},
		Metrics: MetricsConfig{Port: 9090, Path: "/metrics"},
	}
}

// Load builds the configuration: defaults, then the JSON file at path (when
// path is non-empty), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays TEKTON_ environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPrefix + "REGISTRY_DIR"); v != "" {
		c.RegistryDir = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v, ok := envInt("PORT_RANGE_START"); ok {
		c.Ports.Start = v
	}
	if v, ok := envInt("PORT_RANGE_END"); ok {
		c.Ports.End = v
	}
	if v, ok := envDuration("HEALTH_INTERVAL"); ok {
		c.Health.Interval = Duration{v}
	}
	if v, ok := envDuration("PING_TIMEOUT"); ok {
		c.Health.PingTimeout = Duration{v}
	}
	if v, ok := envDuration("CONNECT_TIMEOUT"); ok {
		c.Pool.ConnectTimeout = Duration{v}
	}
	if v, ok := envDuration("REQUEST_TIMEOUT"); ok {
		c.Pool.RequestTimeout = Duration{v}
	}
	if v, ok := envInt("METRICS_PORT"); ok {
		c.Metrics.Port = v
	}
	if v := os.Getenv(EnvPrefix + "DEFAULT_CHAIN"); v != "" {
		c.Routing.DefaultChain = strings.Split(v, ",")
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(name string) (time.Duration, bool) {
	v := os.Getenv(EnvPrefix + name)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.RegistryDir == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "registry_dir is required")
	}
	if c.Ports.Start <= 1024 || c.Ports.End > 65535 || c.Ports.Start >= c.Ports.End {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("port range %d-%d", c.Ports.Start, c.Ports.End))
	}
	if c.Health.Interval.Duration <= 0 || c.Health.PingTimeout.Duration <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "health timings must be positive")
	}
	if c.Health.CheckDelay.Duration < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "check_delay cannot be negative")
	}
	if c.Pool.ConnectTimeout.Duration <= 0 || c.Pool.RequestTimeout.Duration <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "pool timeouts must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("metrics port %d", c.Metrics.Port))
	}
	return nil
}

// ParseLevel converts a config log level string to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "ParseLevel",
			fmt.Sprintf("unknown log level %q", level))
	}
}
