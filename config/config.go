// Package config loads the YAML configuration that describes the bus
// topology: which domains exist, how to reach each one's broker, and the
// worker-pool settings for each service.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opensrf-go/opensrf/errs"
)

// Endpoint is one reachable broker socket for a domain. A domain normally
// has one, but may list more for HA/failover; loadbalance.Balancer picks
// among them.
type Endpoint struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Sock   string `yaml:"sock,omitempty"`
	Weight int    `yaml:"weight,omitempty"`
}

// BusConnection names the broker endpoint(s) and credentials for one domain.
type BusConnection struct {
	Endpoints []Endpoint `yaml:"endpoints"`
	Username  string     `yaml:"username,omitempty"`
	Password  string     `yaml:"password,omitempty"`
}

// Domain is one broker-reachable routing domain.
type Domain struct {
	Name string        `yaml:"name"`
	Bus  BusConnection `yaml:"bus"`
	// Public marks a domain as reachable by clients directly; private
	// domains are reachable only through a router.
	Public bool `yaml:"public"`
}

// Service carries the worker-pool tuning knobs for one named service.
type Service struct {
	Name        string `yaml:"name"`
	MinWorkers  int    `yaml:"min_workers"`
	MaxWorkers  int    `yaml:"max_workers"`
	MaxRequests uint32 `yaml:"max_requests"`
	Keepalive   int    `yaml:"keepalive"`
}

// Topology is the optional dynamic-domain-discovery backend (etcd). When
// unset, the statically configured Domains list is authoritative and
// sufficient on its own.
type Topology struct {
	Endpoints []string `yaml:"endpoints,omitempty"`
	TTL       int64    `yaml:"ttl,omitempty"`
}

// Config is the root document.
type Config struct {
	Domains  []Domain  `yaml:"domains"`
	Services []Service `yaml:"services"`
	Topology *Topology `yaml:"topology,omitempty"`
}

// Load reads and parses a YAML config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(errs.ErrConfig, "reading config %s: %v", path, err)
	}
	return LoadString(string(data))
}

// LoadString parses a YAML config document from a string.
func LoadString(doc string) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal([]byte(doc), &c); err != nil {
		return nil, errs.Wrapf(errs.ErrConfig, "parsing config: %v", err)
	}
	if len(c.Domains) == 0 {
		return nil, errs.Wrapf(errs.ErrConfig, "config defines no domains")
	}
	return &c, nil
}

// Domain returns the configured domain with the given name, if any.
func (c *Config) Domain(name string) (Domain, bool) {
	for _, d := range c.Domains {
		if d.Name == name {
			return d, true
		}
	}
	return Domain{}, false
}

// Service returns the configured service tuning for name, if any.
func (c *Config) Service(name string) (Service, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}
