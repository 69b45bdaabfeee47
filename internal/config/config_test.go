package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validYAML() string {
	return `
server:
  listen_addr: ":9090"
  log_level: debug
health:
  poll_interval: 5s
  probe_timeout: 2s
  window: 5
  down_threshold: 3
replication:
  poll_interval: 15s
  rpo_max_seconds: 120
promotion:
  timeout_seconds: 90
regions:
  - id: us-east-1
    health_endpoint: http://east.internal/health
    primary: true
  - id: us-west-2
    health_endpoint: http://west.internal/health
channels:
  - id: orders-pg
    kind: relational
    source_region: us-east-1
    target_region: us-west-2
    replica_dsn: postgres://replica.west/orders
traffic:
  provider: memory
notify:
  targets:
    - url: http://hooks.internal/failover
      secret: s3cret
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meridian.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML()))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.Health.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.RPOMax())
	assert.Equal(t, 90*time.Second, cfg.PromoteTimeout())
	assert.Equal(t, "us-east-1", cfg.PrimaryRegion().ID)
	require.Len(t, cfg.Channels, 1)
	assert.Equal(t, "relational", cfg.Channels[0].Kind)
	require.Len(t, cfg.Notify.Targets, 1)
	assert.Equal(t, "s3cret", cfg.Notify.Targets[0].Secret)
}

func TestLoadAppliesDefaults(t *testing.T) {
	minimal := `
regions:
  - id: us-east-1
    health_endpoint: http://east/health
    primary: true
  - id: us-west-2
    health_endpoint: http://west/health
`
	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Health.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Health.ProbeTimeout)
	assert.Equal(t, 5, cfg.Health.Window)
	assert.Equal(t, 3, cfg.Health.DownThreshold)
	assert.Equal(t, 30*time.Second, cfg.Replication.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.RPOMax())
	assert.Equal(t, 2*time.Minute, cfg.PromoteTimeout())
	assert.Equal(t, "memory", cfg.Traffic.Provider)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/meridian.yaml")
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MERIDIAN_LISTEN_ADDR", ":7070")
	t.Setenv("MERIDIAN_RPO_MAX_SECONDS", "60")
	t.Setenv("MERIDIAN_HEALTH_POLL_INTERVAL", "3s")
	t.Setenv("MERIDIAN_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, validYAML()))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.ListenAddr, "env wins over file")
	assert.Equal(t, time.Minute, cfg.RPOMax())
	assert.Equal(t, 3*time.Second, cfg.Health.PollInterval)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("MERIDIAN_LISTEN_ADDR", ":7070")
	assert.Equal(t, ":7070", GetEnvOrDefault("MERIDIAN_LISTEN_ADDR", ":8080"))
	assert.Equal(t, ":8080", GetEnvOrDefault("MERIDIAN_UNSET_VAR", ":8080"))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, validYAML()))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"one region", func(c *Config) { c.Regions = c.Regions[:1] }},
		{"no primary", func(c *Config) { c.Regions[0].Primary = false }},
		{"two primaries", func(c *Config) { c.Regions[1].Primary = true }},
		{"duplicate region ids", func(c *Config) { c.Regions[1].ID = c.Regions[0].ID }},
		{"missing health endpoint", func(c *Config) { c.Regions[0].HealthEndpoint = "" }},
		{"relational channel without dsn", func(c *Config) { c.Channels[0].ReplicaDSN = "" }},
		{"channel with unknown region", func(c *Config) { c.Channels[0].TargetRegion = "eu-central-1" }},
		{"unknown channel kind", func(c *Config) { c.Channels[0].Kind = "graph" }},
		{"zero rpo", func(c *Config) { c.Replication.RPOMaxSeconds = 0 }},
		{"threshold above window", func(c *Config) { c.Health.DownThreshold = 9 }},
		{"unknown traffic provider", func(c *Config) { c.Traffic.Provider = "cloudflare" }},
		{"route53 without zone", func(c *Config) { c.Traffic.Provider = "route53" }},
		{"notify target without url", func(c *Config) { c.Notify.Targets[0].URL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("object channel requires buckets", func(t *testing.T) {
		cfg := base()
		cfg.Channels[0] = ChannelConfig{
			ID:           "blobs-s3",
			Kind:         "object",
			SourceRegion: "us-east-1",
			TargetRegion: "us-west-2",
		}
		assert.Error(t, cfg.Validate())

		cfg.Channels[0].SourceBucket = "blobs-east"
		cfg.Channels[0].TargetBucket = "blobs-west"
		assert.NoError(t, cfg.Validate())
	})
}
