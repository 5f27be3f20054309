// Package config loads and validates the configuration root: a mapping
// of topology name to strategy binding, as described by SYSTEM OVERVIEW's
// External Interfaces section.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Root is the top-level configuration document: one entry per topology
// the daemon should supervise.
type Root struct {
	Self       string                `yaml:"self"`
	LogLevel   string                `yaml:"log_level"`
	LogJSON    bool                  `yaml:"log_json"`
	MetricsAddr string               `yaml:"metrics_addr"`
	Topologies map[string]Topology   `yaml:"topologies"`
}

// Topology binds a strategy id to its private config. It carries no
// callbacks: cmd/topologyd gives every topology the default callbacks of
// its in-process registry.
type Topology struct {
	Strategy string         `yaml:"strategy"`
	Config   map[string]any `yaml:"config"`
}

// Load reads and parses a configuration root from path.
func Load(path string) (*Root, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var root Root
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if err := root.Validate(); err != nil {
		return nil, err
	}
	return &root, nil
}

// knownStrategies is the closed set of strategy ids this daemon can bind;
// an unknown id is a configuration error caught at load time rather than
// at first reconcile.
var knownStrategies = map[string]bool{
	"static":     true,
	"localepmd":  true,
	"hostsfile":  true,
	"gossip":     true,
	"dns-a":      true,
	"dns-srv":    true,
	"kubernetes": true,
	"rancher":    true,
	"nomad":      true,
}

// Validate checks structural well-formedness: a self identity, at least
// one topology, and every topology naming a recognized strategy. It
// collects every problem it finds rather than stopping at the first, so a
// config with three bad topologies is reported in one pass.
//
// Validate has no opinion on callbacks (Connect/Disconnect/ListConnected):
// those are built in Go by the embedding program, never decoded from YAML,
// and are enforced separately by topology.Callbacks.Validate when the
// Supervisor starts.
func (r *Root) Validate() error {
	var errs []error

	if r.Self == "" {
		errs = append(errs, fmt.Errorf("config: \"self\" is required"))
	}
	if len(r.Topologies) == 0 {
		errs = append(errs, fmt.Errorf("config: at least one topology must be configured"))
	}
	for name, t := range r.Topologies {
		if t.Strategy == "" {
			errs = append(errs, fmt.Errorf("config: topology %q: strategy is required", name))
			continue
		}
		if !knownStrategies[t.Strategy] {
			errs = append(errs, fmt.Errorf("config: topology %q: unknown strategy %q", name, t.Strategy))
		}
	}

	return errors.Join(errs...)
}
