package cluster

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lockstep-sim/lockstep/sim/clock"
	"github.com/lockstep-sim/lockstep/sim/persist"
	"github.com/lockstep-sim/lockstep/sim/schedule"
	"github.com/lockstep-sim/lockstep/sim/topology"
	"github.com/lockstep-sim/lockstep/sim/trace"
)

// ModelConfig selects the model hosting one participant.
type ModelConfig struct {
	Kind    string    `yaml:"kind"`
	Options yaml.Node `yaml:"options,omitempty"`
}

// DeploymentConfig describes a run hosted by one process. Participants in
// Topology without an entry in Models are expected to join from other
// processes over a shared bus.
type DeploymentConfig struct {
	Topology topology.Config
	Clock    clock.Config
	// Schedule holds events published by the driver itself.
	Schedule []schedule.ScheduledEvent
	// Models is keyed by participant name.
	Models map[string]ModelConfig

	// NamingAddr is the naming service listen address; empty disables it.
	NamingAddr string
	// Store receives every checkpoint. Nil means YAML files.
	Store persist.Store
	Trace trace.TraceConfig
}

// Validate checks that every hosted model and the driver are in the topology.
func (c DeploymentConfig) Validate(reg *topology.Registry) error {
	driver := c.Clock.WithDefaults().Name
	if _, err := reg.Resolve(driver); err != nil {
		return fmt.Errorf("clock driver: %w", err)
	}
	for name, m := range c.Models {
		if name == driver {
			return fmt.Errorf("participant %s is the clock driver and cannot host a model", name)
		}
		if m.Kind == "" {
			return fmt.Errorf("participant %s: model kind is required", name)
		}
		if _, err := reg.Resolve(name); err != nil {
			return fmt.Errorf("model: %w", err)
		}
	}
	if !trace.IsValidTraceLevel(string(c.Trace.Level)) {
		return fmt.Errorf("unknown trace level %q", c.Trace.Level)
	}
	return nil
}
