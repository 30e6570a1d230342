// Package config loads the coordinator's YAML configuration.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poyrazK/xfrd/internal/core/domain"
)

const defaultMasterPort = 53

// Zone configures one secondary zone.
type Zone struct {
	Name    string   `yaml:"name"`
	Masters []string `yaml:"masters"`
}

// Config is the full daemon configuration.
type Config struct {
	StateFile string `yaml:"state_file"`
	TCPSlots  int    `yaml:"tcp_slots"`
	// Timeouts in seconds; zero picks the built-in defaults.
	TransferTimeoutSecs int `yaml:"transfer_timeout"`
	TCPTimeoutSecs      int `yaml:"tcp_timeout"`

	Zones []Zone `yaml:"zones"`
}

// TransferTimeout returns the UDP probe timeout as a duration.
func (c *Config) TransferTimeout() time.Duration {
	return time.Duration(c.TransferTimeoutSecs) * time.Second
}

// TCPTimeout returns the TCP inactivity timeout as a duration.
func (c *Config) TCPTimeout() time.Duration {
	return time.Duration(c.TCPTimeoutSecs) * time.Second
}

// Load reads and validates a configuration file. Zone names are
// normalized to canonical form and master endpoints without an explicit
// port get the DNS default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.StateFile == "" {
		c.StateFile = "xfrd.state"
	}
	if c.TCPSlots < 0 || c.TransferTimeoutSecs < 0 || c.TCPTimeoutSecs < 0 {
		return fmt.Errorf("negative timeout or slot count")
	}
	if len(c.Zones) == 0 {
		return fmt.Errorf("no zones configured")
	}
	seen := make(map[string]bool, len(c.Zones))
	for i := range c.Zones {
		z := &c.Zones[i]
		name, err := domain.NormalizeName(z.Name)
		if err != nil {
			return fmt.Errorf("zone %q: %w", z.Name, err)
		}
		if seen[name] {
			return fmt.Errorf("zone %q configured twice", name)
		}
		seen[name] = true
		z.Name = name
		if len(z.Masters) == 0 {
			return fmt.Errorf("zone %q: no masters", name)
		}
		for j, m := range z.Masters {
			ep, err := normalizeMaster(m)
			if err != nil {
				return fmt.Errorf("zone %q master %q: %w", name, m, err)
			}
			z.Masters[j] = ep
		}
	}
	return nil
}

// normalizeMaster accepts "ip" or "ip:port" and returns "ip:port".
func normalizeMaster(m string) (string, error) {
	if ap, err := netip.ParseAddrPort(m); err == nil {
		return ap.String(), nil
	}
	addr, err := netip.ParseAddr(m)
	if err != nil {
		return "", fmt.Errorf("not an ip or ip:port endpoint")
	}
	return netip.AddrPortFrom(addr, defaultMasterPort).String(), nil
}
