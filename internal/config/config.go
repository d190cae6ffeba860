// Package config loads a node's static YAML configuration, the way
// the teacher's demo harness builds an Agent's Config from flags —
// here expressed as a file so a lockerd instance can be redeployed
// without rebuilding its command line.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/bycanvas/locker/internal/lease"
)

// Config is the on-disk shape of a node's YAML configuration file.
type Config struct {
	Self     lease.NodeID   `yaml:"self"`
	Listen   string         `yaml:"listen"`
	Masters  []lease.NodeID `yaml:"masters"`
	Replicas []lease.NodeID `yaml:"replicas"`
	W        int            `yaml:"w"`

	LeaseExpireIntervalMs int64 `yaml:"lease_expire_interval_ms"`
	LockExpireIntervalMs  int64 `yaml:"lock_expire_interval_ms"`
	PushTransIntervalMs   int64 `yaml:"push_trans_interval_ms"`

	DefaultLeaseMs    int64 `yaml:"default_lease_ms"`
	ClientTimeoutMs   int64 `yaml:"client_timeout_ms"`
	MetricsListen     string `yaml:"metrics_listen"`
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", path)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.LeaseExpireIntervalMs <= 0 {
		c.LeaseExpireIntervalMs = 500
	}
	if c.LockExpireIntervalMs <= 0 {
		c.LockExpireIntervalMs = 250
	}
	if c.PushTransIntervalMs <= 0 {
		c.PushTransIntervalMs = 1000
	}
	if c.DefaultLeaseMs <= 0 {
		c.DefaultLeaseMs = 60000
	}
	if c.ClientTimeoutMs <= 0 {
		c.ClientTimeoutMs = 2000
	}
	if c.W <= 0 {
		c.W = lease.DefaultW(len(c.Masters))
	}
}

func (c *Config) validate() error {
	if c.Self == "" {
		return errors.New("config: self is required")
	}
	if c.Listen == "" {
		return errors.New("config: listen is required")
	}
	cfg := lease.Configuration{W: c.W, Masters: c.Masters, Replicas: c.Replicas}
	return cfg.Validate()
}

// LeaseExpireInterval, LockExpireInterval and PushTransInterval convert
// the YAML millisecond fields into time.Durations for the services
// that consume them.
func (c *Config) LeaseExpireInterval() time.Duration {
	return time.Duration(c.LeaseExpireIntervalMs) * time.Millisecond
}

func (c *Config) LockExpireInterval() time.Duration {
	return time.Duration(c.LockExpireIntervalMs) * time.Millisecond
}

func (c *Config) PushTransInterval() time.Duration {
	return time.Duration(c.PushTransIntervalMs) * time.Millisecond
}

func (c *Config) ClientTimeout() time.Duration {
	return time.Duration(c.ClientTimeoutMs) * time.Millisecond
}
