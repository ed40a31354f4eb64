// Package config loads the module configuration.
//
// The file is YAML and optional: without it every setting takes its default.
// Any key can be overridden from the environment with the VPOLLER prefix and
// '.' replaced by '_', e.g. VPOLLER_TIMEOUT=5000 or VPOLLER_LOG_LEVEL=debug.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultPath is read when neither a path nor VPOLLER_CONFIG is given.
	DefaultPath = "/etc/zabbix/vpoller_module.yaml"

	EnvConfigPath = "VPOLLER_CONFIG"
	envPrefix     = "VPOLLER"
)

// Config is the root module configuration.
type Config struct {
	// Proxy is the vPoller proxy endpoint tasks are sent to
	Proxy string `mapstructure:"proxy"`

	// Timeout is how long one attempt waits for a reply, in milliseconds
	Timeout int `mapstructure:"timeout"`

	// Retries is the number of attempts after the first one
	Retries int `mapstructure:"retries"`

	// Transport selects the channel kind: zmq or frame
	Transport string `mapstructure:"transport"`

	// RateLimit caps vpoller items per second; 0 means unlimited
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`

	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Log       LogConfig       `mapstructure:"log"`
}

// DiscoveryConfig finds proxies in etcd instead of using Proxy.
type DiscoveryConfig struct {
	EtcdEndpoints []string `mapstructure:"etcd_endpoints"`
	Service       string   `mapstructure:"service"`
	Balancer      string   `mapstructure:"balancer"`
	DialTimeout   int      `mapstructure:"dial_timeout"` // ms
}

// Enabled reports whether proxies come from etcd.
func (d DiscoveryConfig) Enabled() bool {
	return len(d.EtcdEndpoints) > 0
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Proxy:     "tcp://localhost:10123",
		Timeout:   10000,
		Retries:   1,
		Transport: "zmq",
		RateLimit: 0,
		Burst:     1,
		Discovery: DiscoveryConfig{
			Service:     "vpoller-proxy",
			Balancer:    "round_robin",
			DialTimeout: 5000,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Enable:     false,
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

func (c *Config) DialTimeoutDuration() time.Duration {
	return time.Duration(c.Discovery.DialTimeout) * time.Millisecond
}

// Load reads path, or $VPOLLER_CONFIG, or DefaultPath. Only a missing
// DefaultPath is tolerated; a file that was asked for must exist.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return load(DefaultPath, true)
	}
	return load(path, false)
}

func load(path string, optional bool) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only settings are picked up
	v.SetDefault("proxy", cfg.Proxy)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("retries", cfg.Retries)
	v.SetDefault("transport", cfg.Transport)
	v.SetDefault("rate_limit", cfg.RateLimit)
	v.SetDefault("burst", cfg.Burst)
	v.SetDefault("discovery.etcd_endpoints", cfg.Discovery.EtcdEndpoints)
	v.SetDefault("discovery.service", cfg.Discovery.Service)
	v.SetDefault("discovery.balancer", cfg.Discovery.Balancer)
	v.SetDefault("discovery.dial_timeout", cfg.Discovery.DialTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if !optional || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// Unknown keys are a typo somewhere; refuse them rather than run on defaults.
	if err := v.UnmarshalExact(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and normalizes enumerations to lower case.
func (c *Config) Validate() error {
	if c.Timeout < 1000 || c.Timeout > 60000 {
		return fmt.Errorf("timeout %d ms out of range [1000, 60000]", c.Timeout)
	}
	if c.Retries < 1 || c.Retries > 100 {
		return fmt.Errorf("retries %d out of range [1, 100]", c.Retries)
	}

	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	switch c.Transport {
	case "zmq", "frame":
	default:
		return fmt.Errorf("invalid transport: %q", c.Transport)
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative: %v", c.RateLimit)
	}
	if c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1: %d", c.Burst)
	}

	if c.Discovery.Enabled() {
		if strings.TrimSpace(c.Discovery.Service) == "" {
			return fmt.Errorf("discovery.service is required with discovery.etcd_endpoints")
		}
		c.Discovery.Balancer = strings.ToLower(strings.TrimSpace(c.Discovery.Balancer))
		switch c.Discovery.Balancer {
		case "", "round_robin", "weighted_random", "consistent_hash":
		default:
			return fmt.Errorf("invalid discovery.balancer: %q", c.Discovery.Balancer)
		}
	} else if strings.TrimSpace(c.Proxy) == "" {
		return fmt.Errorf("proxy is required")
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	return nil
}
