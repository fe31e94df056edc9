package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides applied on top of the file.
const (
	EnvInterface = "WIFI_INTERFACE"
	EnvUserLog   = "WIFI_RECOVERY_LOG"
)

// DefaultPath is where the daemon looks for its configuration file.
const DefaultPath = "/etc/wifimon/config.yaml"

// Config is the monitor configuration. It is loaded once and never mutated.
type Config struct {
	Interface string   `yaml:"interface"`
	PingHosts []string `yaml:"ping_hosts"`

	PingTimeoutSeconds         int `yaml:"ping_timeout_seconds"`
	CheckIntervalOKSeconds     int `yaml:"check_interval_ok_seconds"`
	RetryIntervalSeconds       int `yaml:"retry_interval_seconds"`
	TransientRetrySeconds      int `yaml:"transient_retry_seconds"`
	MaxFails                   int `yaml:"max_fails"`
	RecoveryDownUpDelaySeconds int `yaml:"recovery_down_up_delay_seconds"`
	CommandTimeoutSeconds      int `yaml:"command_timeout_seconds"`

	DNSProbeHost      string `yaml:"dns_probe_host"`
	DNSRecheckSeconds int    `yaml:"dns_recheck_seconds"`

	SystemLog string `yaml:"system_log"`
	UserLog   string `yaml:"user_log"`

	LinkSource  string `yaml:"link_source"`  // "iw", "nl80211" or "iwd"
	RouteSource string `yaml:"route_source"` // "netlink" or "ip"
	UseSudo     bool   `yaml:"use_sudo"`
	DBusBus     string `yaml:"dbus_bus"` // "system", "session" or "none"
}

// DefaultConfig returns the values the appliance ships with.
func DefaultConfig() Config {
	return Config{
		PingHosts:                  []string{"1.1.1.1", "8.8.8.8"},
		PingTimeoutSeconds:         2,
		CheckIntervalOKSeconds:     15,
		RetryIntervalSeconds:       60,
		TransientRetrySeconds:      5,
		MaxFails:                   3,
		RecoveryDownUpDelaySeconds: 20,
		CommandTimeoutSeconds:      10,
		DNSProbeHost:               "dns.google",
		DNSRecheckSeconds:          60,
		SystemLog:                  "/var/log/wifi_auto_recover.log",
		LinkSource:                 "iw",
		RouteSource:                "netlink",
		DBusBus:                    "system",
	}
}

// Load reads configuration from a yaml file. A missing file falls back to defaults.
// Environment overrides are applied last.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if v := getenv(EnvInterface); v != "" {
		cfg.Interface = v
	}
	if v := getenv(EnvUserLog); v != "" {
		cfg.UserLog = v
	}

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	def := DefaultConfig()
	if len(c.PingHosts) == 0 {
		c.PingHosts = def.PingHosts
	}
	if c.PingTimeoutSeconds <= 0 {
		c.PingTimeoutSeconds = def.PingTimeoutSeconds
	}
	if c.CheckIntervalOKSeconds <= 0 {
		c.CheckIntervalOKSeconds = def.CheckIntervalOKSeconds
	}
	if c.RetryIntervalSeconds <= 0 {
		c.RetryIntervalSeconds = def.RetryIntervalSeconds
	}
	if c.TransientRetrySeconds <= 0 {
		c.TransientRetrySeconds = def.TransientRetrySeconds
	}
	if c.MaxFails <= 0 {
		c.MaxFails = def.MaxFails
	}
	if c.RecoveryDownUpDelaySeconds < 0 {
		c.RecoveryDownUpDelaySeconds = def.RecoveryDownUpDelaySeconds
	}
	if c.CommandTimeoutSeconds <= 0 {
		c.CommandTimeoutSeconds = def.CommandTimeoutSeconds
	}
	if c.DNSProbeHost == "" {
		c.DNSProbeHost = def.DNSProbeHost
	}
	if c.DNSRecheckSeconds < 0 {
		c.DNSRecheckSeconds = def.DNSRecheckSeconds
	}
	if c.SystemLog == "" {
		c.SystemLog = def.SystemLog
	}

	switch c.LinkSource {
	case "":
		c.LinkSource = def.LinkSource
	case "iw", "nl80211", "iwd":
	default:
		return fmt.Errorf("link_source must be iw, nl80211 or iwd, got %q", c.LinkSource)
	}
	switch c.RouteSource {
	case "":
		c.RouteSource = def.RouteSource
	case "netlink", "ip":
	default:
		return fmt.Errorf("route_source must be netlink or ip, got %q", c.RouteSource)
	}
	switch c.DBusBus {
	case "":
		c.DBusBus = def.DBusBus
	case "system", "session", "none":
	default:
		return fmt.Errorf("dbus_bus must be system, session or none, got %q", c.DBusBus)
	}
	return nil
}

func (c Config) PingTimeout() time.Duration {
	return time.Duration(c.PingTimeoutSeconds) * time.Second
}

func (c Config) CheckIntervalOK() time.Duration {
	return time.Duration(c.CheckIntervalOKSeconds) * time.Second
}

func (c Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}

func (c Config) TransientRetry() time.Duration {
	return time.Duration(c.TransientRetrySeconds) * time.Second
}

func (c Config) RecoveryDownUpDelay() time.Duration {
	return time.Duration(c.RecoveryDownUpDelaySeconds) * time.Second
}

func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

func (c Config) DNSRecheck() time.Duration {
	return time.Duration(c.DNSRecheckSeconds) * time.Second
}
