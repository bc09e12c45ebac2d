package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "AGILITY"

	defaultHTTPAddress       = "127.0.0.1:4102"
	defaultDatabasePath      = "agility.db"
	defaultLogLevel          = "info"
	defaultRemoteTimeout     = 30 * time.Second
	defaultSyncInterval      = 30 * time.Second
	defaultSyncMaxAttempts   = 5
	defaultProbeTimeout      = 3 * time.Second
	defaultMetricsAddress    = "127.0.0.1:9102"
	defaultCollectorInterval = 15 * time.Second
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	HTTPAddress string

	// Database configuration
	DatabasePath string

	// Remote store configuration. An empty RemoteURL means sync is not
	// configured and sessions stay queued.
	RemoteURL     string
	RemoteAPIKey  string
	RemoteTimeout time.Duration

	// Sync worker configuration
	SyncInterval    time.Duration
	SyncMaxAttempts int

	ProbeTimeout time.Duration

	// Metrics configuration
	MetricsEnabled           bool
	MetricsAddress           string
	MetricsCollectorInterval time.Duration

	// Logging configuration
	LogLevel string
}

// RemoteConfigured reports whether remote store credentials are present
func (c Config) RemoteConfigured() bool {
	return c.RemoteURL != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.address", defaultHTTPAddress)
	v.SetDefault("database.path", defaultDatabasePath)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.timeout", defaultRemoteTimeout)
	v.SetDefault("sync.interval", defaultSyncInterval)
	v.SetDefault("sync.max_attempts", defaultSyncMaxAttempts)
	v.SetDefault("connectivity.probe_timeout", defaultProbeTimeout)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", defaultMetricsAddress)
	v.SetDefault("metrics.collect_interval", defaultCollectorInterval)
}

// Load reads configuration from v and fails fast if it is inconsistent
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPAddress:              strings.TrimSpace(v.GetString("http.address")),
		DatabasePath:             strings.TrimSpace(v.GetString("database.path")),
		RemoteURL:                strings.TrimSpace(v.GetString("remote.url")),
		RemoteAPIKey:             strings.TrimSpace(v.GetString("remote.api_key")),
		RemoteTimeout:            v.GetDuration("remote.timeout"),
		SyncInterval:             v.GetDuration("sync.interval"),
		SyncMaxAttempts:          v.GetInt("sync.max_attempts"),
		ProbeTimeout:             v.GetDuration("connectivity.probe_timeout"),
		MetricsEnabled:           v.GetBool("metrics.enabled"),
		MetricsAddress:           strings.TrimSpace(v.GetString("metrics.address")),
		MetricsCollectorInterval: v.GetDuration("metrics.collect_interval"),
		LogLevel:                 v.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var problems []string

	if c.DatabasePath == "" {
		problems = append(problems, "database.path is required")
	}
	if c.HTTPAddress == "" {
		problems = append(problems, "http.address is required")
	}
	if c.RemoteURL != "" && c.RemoteAPIKey == "" {
		problems = append(problems, "remote.api_key is required when remote.url is set")
	}
	if c.RemoteTimeout <= 0 {
		problems = append(problems, "remote.timeout must be positive")
	}
	if c.SyncInterval <= 0 {
		problems = append(problems, "sync.interval must be positive")
	}
	if c.SyncMaxAttempts < 1 {
		problems = append(problems, "sync.max_attempts must be at least 1")
	}
	if c.ProbeTimeout <= 0 {
		problems = append(problems, "connectivity.probe_timeout must be positive")
	}
	if c.MetricsEnabled {
		if c.MetricsAddress == "" {
			problems = append(problems, "metrics.address is required when metrics are enabled")
		}
		if c.MetricsCollectorInterval <= 0 {
			problems = append(problems, "metrics.collect_interval must be positive")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
