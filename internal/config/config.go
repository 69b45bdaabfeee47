package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full orchestrator configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Health      HealthConfig      `yaml:"health"`
	Replication ReplicationConfig `yaml:"replication"`
	Promotion   PromotionConfig   `yaml:"promotion"`
	Regions     []RegionConfig    `yaml:"regions"`
	Channels    []ChannelConfig   `yaml:"channels"`
	Traffic     TrafficConfig     `yaml:"traffic"`
	Notify      NotifyConfig      `yaml:"notify"`
	Audit       AuditConfig       `yaml:"audit"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	JWTSecret  string `yaml:"jwt_secret"`
	LogLevel   string `yaml:"log_level"`
}

type HealthConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	Window        int           `yaml:"window"`
	DownThreshold int           `yaml:"down_threshold"`
}

type ReplicationConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	RPOMaxSeconds int           `yaml:"rpo_max_seconds"`
}

type PromotionConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type RegionConfig struct {
	ID             string `yaml:"id"`
	HealthEndpoint string `yaml:"health_endpoint"`
	Primary        bool   `yaml:"primary"`
}

type ChannelConfig struct {
	ID           string `yaml:"id"`
	Kind         string `yaml:"kind"` // relational | kv | object
	SourceRegion string `yaml:"source_region"`
	TargetRegion string `yaml:"target_region"`

	// relational
	ReplicaDSN string `yaml:"replica_dsn,omitempty"`

	// object
	SourceBucket string `yaml:"source_bucket,omitempty"`
	TargetBucket string `yaml:"target_bucket,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty"`
}

type TrafficConfig struct {
	Provider     string            `yaml:"provider"` // route53 | memory
	HostedZoneID string            `yaml:"hosted_zone_id,omitempty"`
	RecordName   string            `yaml:"record_name,omitempty"`
	RecordType   string            `yaml:"record_type,omitempty"`
	TTL          int64             `yaml:"ttl,omitempty"`
	Endpoints    map[string]string `yaml:"endpoints,omitempty"`
}

type NotifyConfig struct {
	Targets []NotifyTarget `yaml:"targets"`
}

type NotifyTarget struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret,omitempty"`
}

type AuditConfig struct {
	DSN string `yaml:"dsn,omitempty"`
}

// Default returns the configuration defaults before file and env overlay
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   "info",
		},
		Health: HealthConfig{
			PollInterval:  10 * time.Second,
			ProbeTimeout:  5 * time.Second,
			Window:        5,
			DownThreshold: 3,
		},
		Replication: ReplicationConfig{
			PollInterval:  30 * time.Second,
			RPOMaxSeconds: 300,
		},
		Promotion: PromotionConfig{
			TimeoutSeconds: 120,
		},
		Traffic: TrafficConfig{
			Provider: "memory",
		},
	}
}

// Load reads configuration from a YAML file, applies environment
// overrides, and validates. A missing path loads defaults + env only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	LoadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on missing or inconsistent configuration; the
// process does not start with a broken topology.
func (c *Config) Validate() error {
	if c.Health.PollInterval <= 0 || c.Health.ProbeTimeout <= 0 {
		return fmt.Errorf("config: health poll interval and probe timeout must be positive")
	}
	if c.Health.Window <= 0 || c.Health.DownThreshold <= 0 || c.Health.DownThreshold > c.Health.Window {
		return fmt.Errorf("config: health down_threshold must be in 1..window")
	}
	if c.Replication.PollInterval <= 0 {
		return fmt.Errorf("config: replication poll interval must be positive")
	}
	if c.Replication.RPOMaxSeconds <= 0 {
		return fmt.Errorf("config: rpo_max_seconds must be positive")
	}
	if c.Promotion.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: promotion timeout_seconds must be positive")
	}

	if len(c.Regions) != 2 {
		return fmt.Errorf("config: exactly two regions required, got %d", len(c.Regions))
	}
	primaries := 0
	regionIDs := make(map[string]bool, 2)
	for _, r := range c.Regions {
		if r.ID == "" {
			return fmt.Errorf("config: region id required")
		}
		if regionIDs[r.ID] {
			return fmt.Errorf("config: duplicate region %q", r.ID)
		}
		regionIDs[r.ID] = true
		if r.HealthEndpoint == "" {
			return fmt.Errorf("config: region %q missing health_endpoint", r.ID)
		}
		if r.Primary {
			primaries++
		}
	}
	if primaries != 1 {
		return fmt.Errorf("config: exactly one region must be primary, got %d", primaries)
	}

	for _, ch := range c.Channels {
		if ch.ID == "" {
			return fmt.Errorf("config: channel id required")
		}
		if !regionIDs[ch.SourceRegion] || !regionIDs[ch.TargetRegion] {
			return fmt.Errorf("config: channel %q references unknown region", ch.ID)
		}
		switch ch.Kind {
		case "relational":
			if ch.ReplicaDSN == "" {
				return fmt.Errorf("config: relational channel %q missing replica_dsn", ch.ID)
			}
		case "object":
			if ch.SourceBucket == "" || ch.TargetBucket == "" {
				return fmt.Errorf("config: object channel %q missing buckets", ch.ID)
			}
		case "kv":
			// kv canary stores are wired programmatically
		default:
			return fmt.Errorf("config: channel %q has unknown kind %q", ch.ID, ch.Kind)
		}
	}

	switch c.Traffic.Provider {
	case "route53":
		if c.Traffic.HostedZoneID == "" || c.Traffic.RecordName == "" {
			return fmt.Errorf("config: route53 provider requires hosted_zone_id and record_name")
		}
		for id := range regionIDs {
			if _, ok := c.Traffic.Endpoints[id]; !ok {
				return fmt.Errorf("config: traffic endpoint missing for region %q", id)
			}
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown traffic provider %q", c.Traffic.Provider)
	}

	for _, t := range c.Notify.Targets {
		if t.URL == "" {
			return fmt.Errorf("config: notify target url required")
		}
	}
	return nil
}

// PrimaryRegion returns the region marked primary
func (c *Config) PrimaryRegion() RegionConfig {
	for _, r := range c.Regions {
		if r.Primary {
			return r
		}
	}
	return RegionConfig{}
}

// RPOMax returns the RPO ceiling as a duration
func (c *Config) RPOMax() time.Duration {
	return time.Duration(c.Replication.RPOMaxSeconds) * time.Second
}

// PromoteTimeout returns the promotion budget as a duration
func (c *Config) PromoteTimeout() time.Duration {
	return time.Duration(c.Promotion.TimeoutSeconds) * time.Second
}
