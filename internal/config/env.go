package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv overlays environment variables onto cfg. Environment wins
// over the file for the tunables operators most often override.
func LoadFromEnv(cfg *Config) {
	cfg.Server.ListenAddr = GetEnvOrDefault("MERIDIAN_LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.JWTSecret = GetEnvOrDefault("MERIDIAN_JWT_SECRET", cfg.Server.JWTSecret)
	cfg.Server.LogLevel = GetEnvOrDefault("MERIDIAN_LOG_LEVEL", cfg.Server.LogLevel)

	if v := os.Getenv("MERIDIAN_HEALTH_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Health.PollInterval = d
		}
	}
	if v := os.Getenv("MERIDIAN_LAG_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Replication.PollInterval = d
		}
	}
	if v := os.Getenv("MERIDIAN_RPO_MAX_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Replication.RPOMaxSeconds = n
		}
	}
	if v := os.Getenv("MERIDIAN_HEALTH_DOWN_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Health.DownThreshold = n
		}
	}
	if v := os.Getenv("MERIDIAN_PROMOTE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Promotion.TimeoutSeconds = n
		}
	}
	cfg.Audit.DSN = GetEnvOrDefault("MERIDIAN_AUDIT_DSN", cfg.Audit.DSN)
}

// GetEnvOrDefault returns an environment variable or a default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
