package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 45000, cfg.Ports.Start)
	assert.Equal(t, 50000, cfg.Ports.End)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval.Duration)
	assert.Equal(t, 5*time.Second, cfg.Health.PingTimeout.Duration)
	assert.Equal(t, 2*time.Second, cfg.Pool.ConnectTimeout.Duration)
	assert.Equal(t, 30*time.Second, cfg.Pool.RequestTimeout.Duration)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mesh.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"registry_dir": "/tmp/mesh-registry",
		"log_level": "debug",
		"ports": {"start": 46000, "end": 47000},
		"health": {"interval": "10s", "ping_timeout": 2, "check_delay": "50ms"},
		"pool": {"connect_timeout": "1s", "request_timeout": "15s"},
		"routing": {"default_chain": ["rhetor-ai", "athena-ai"]},
		"metrics": {"enabled": true, "port": 9191, "path": "/metrics"}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/mesh-registry", cfg.RegistryDir)
	assert.Equal(t, 46000, cfg.Ports.Start)
	assert.Equal(t, 10*time.Second, cfg.Health.Interval.Duration)
	// Bare numbers are seconds.
	assert.Equal(t, 2*time.Second, cfg.Health.PingTimeout.Duration)
	assert.Equal(t, 50*time.Millisecond, cfg.Health.CheckDelay.Duration)
	assert.Equal(t, []string{"rhetor-ai", "athena-ai"}, cfg.Routing.DefaultChain)
	assert.Equal(t, 9191, cfg.Metrics.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/no/such/file.json")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TEKTON_REGISTRY_DIR", "/env/registry")
	t.Setenv("TEKTON_PORT_RANGE_START", "48000")
	t.Setenv("TEKTON_REQUEST_TIMEOUT", "5s")
	t.Setenv("TEKTON_LOG_LEVEL", "warn")
	t.Setenv("TEKTON_DEFAULT_CHAIN", "numa-ai,rhetor-ai")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/env/registry", cfg.RegistryDir)
	assert.Equal(t, 48000, cfg.Ports.Start)
	assert.Equal(t, 5*time.Second, cfg.Pool.RequestTimeout.Duration)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, []string{"numa-ai", "rhetor-ai"}, cfg.Routing.DefaultChain)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty registry dir", func(c *Config) { c.RegistryDir = "" }},
		{"inverted port range", func(c *Config) { c.Ports.Start = 48000; c.Ports.End = 46000 }},
		{"privileged ports", func(c *Config) { c.Ports.Start = 80 }},
		{"zero interval", func(c *Config) { c.Health.Interval = Duration{0} }},
		{"zero request timeout", func(c *Config) { c.Pool.RequestTimeout = Duration{0} }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad metrics port", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Port = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration{90 * time.Second}
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var back Duration
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d.Duration, back.Duration)

	var bad Duration
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`true`), &bad))
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{
		"debug": "DEBUG", "info": "INFO", "WARN": "WARN", "error": "ERROR", "": "INFO",
	} {
		lvl, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, lvl.String())
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
