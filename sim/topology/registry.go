// Package topology resolves participant names to endpoints and dependency
// edges, allocates ports, and serves the table to other processes.
package topology

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/lockstep-sim/lockstep/sim"
)

// DefaultBasePort is the first port handed out by deterministic allocation.
const DefaultBasePort = 5550

// DefaultHost is used for participants configured without a host.
const DefaultHost = "127.0.0.1"

// Role describes how a participant uses the bus.
type Role uint8

const (
	// RoleDealer participants both subscribe and publish (ordinary models).
	RoleDealer Role = iota
	// RolePublisher participants only publish; the clock driver is one.
	RolePublisher
	// RoleSubscriber participants only consume, like the logger.
	RoleSubscriber
)

func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	}
	return "dealer"
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "dealer":
		*r = RoleDealer
	case "publisher":
		*r = RolePublisher
	case "subscriber":
		*r = RoleSubscriber
	default:
		return fmt.Errorf("unknown role %q", text)
	}
	return nil
}

// Endpoint is one participant's resolved address and dependencies.
// Endpoints are immutable during a run; accessors return copies.
type Endpoint struct {
	Name         string   `json:"name"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	Role         Role     `json:"role"`
	Dependencies []string `json:"dependencies,omitempty"`
	// Persistent participants save and restore state and join checkpoint barriers.
	Persistent bool `json:"persistent"`
	// Auxiliary participants are not counted in any barrier.
	Auxiliary bool `json:"auxiliary,omitempty"`
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) clone() Endpoint {
	e.Dependencies = append([]string(nil), e.Dependencies...)
	return e
}

// ParticipantConfig is one row of the static participant table.
// Port 0 asks for deterministic allocation.
type ParticipantConfig struct {
	Name         string
	Host         string
	Port         int
	Role         Role
	Dependencies []string
	Persistent   bool
	Auxiliary    bool
}

// Config is the static participant table consumed at bring-up.
type Config struct {
	BasePort     int
	Participants []ParticipantConfig
}

// Registry is the immutable name → endpoint table of a run.
type Registry struct {
	endpoints map[string]Endpoint
	names     []string
}

// NewRegistry validates the table and allocates ports. Names must be unique
// and non-empty, and every dependency must name a configured participant.
// Unconfigured ports are assigned in sorted-name order starting at BasePort,
// skipping ports that are configured explicitly.
func NewRegistry(cfg Config) (*Registry, error) {
	base := cfg.BasePort
	if base == 0 {
		base = DefaultBasePort
	}

	endpoints := make(map[string]Endpoint, len(cfg.Participants))
	taken := make(map[int]string)
	for _, p := range cfg.Participants {
		if p.Name == "" {
			return nil, fmt.Errorf("participant with empty name")
		}
		if _, dup := endpoints[p.Name]; dup {
			return nil, fmt.Errorf("participant %q configured twice", p.Name)
		}
		if p.Port < 0 || p.Port > 65535 {
			return nil, fmt.Errorf("participant %q: port %d out of range", p.Name, p.Port)
		}
		if p.Port != 0 {
			if other, clash := taken[p.Port]; clash {
				return nil, fmt.Errorf("participants %q and %q both use port %d", other, p.Name, p.Port)
			}
			taken[p.Port] = p.Name
		}
		host := p.Host
		if host == "" {
			host = DefaultHost
		}
		deps := append([]string(nil), p.Dependencies...)
		sort.Strings(deps)
		endpoints[p.Name] = Endpoint{
			Name:         p.Name,
			Host:         host,
			Port:         p.Port,
			Role:         p.Role,
			Dependencies: deps,
			Persistent:   p.Persistent,
			Auxiliary:    p.Auxiliary,
		}
	}

	r := &Registry{endpoints: endpoints, names: sortedNames(endpoints)}

	for _, name := range r.names {
		for _, dep := range endpoints[name].Dependencies {
			if dep == name {
				return nil, fmt.Errorf("participant %q depends on itself", name)
			}
			if _, ok := endpoints[dep]; !ok {
				return nil, fmt.Errorf("participant %q dependency: %w", name, &sim.ResolutionError{Name: dep})
			}
		}
	}

	next := base
	for _, name := range r.names {
		ep := endpoints[name]
		if ep.Port != 0 {
			continue
		}
		for {
			if _, clash := taken[next]; !clash {
				break
			}
			next++
		}
		if next > 65535 {
			return nil, fmt.Errorf("port allocation exhausted at participant %q", name)
		}
		ep.Port = next
		taken[next] = name
		endpoints[name] = ep
		next++
	}
	return r, nil
}

// FromEndpoints rebuilds a registry from an already resolved table, as
// fetched from a naming service.
func FromEndpoints(eps []Endpoint) (*Registry, error) {
	cfg := Config{Participants: make([]ParticipantConfig, len(eps))}
	for i, ep := range eps {
		if ep.Port == 0 {
			return nil, fmt.Errorf("endpoint %q has no port", ep.Name)
		}
		cfg.Participants[i] = ParticipantConfig{
			Name:         ep.Name,
			Host:         ep.Host,
			Port:         ep.Port,
			Role:         ep.Role,
			Dependencies: ep.Dependencies,
			Persistent:   ep.Persistent,
			Auxiliary:    ep.Auxiliary,
		}
	}
	return NewRegistry(cfg)
}

func sortedNames(m map[string]Endpoint) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the endpoint registered under name, or a
// *sim.ResolutionError wrapping sim.ErrNotFound.
func (r *Registry) Resolve(name string) (Endpoint, error) {
	ep, ok := r.endpoints[name]
	if !ok {
		return Endpoint{}, &sim.ResolutionError{Name: name}
	}
	return ep.clone(), nil
}

// DependenciesOf returns the sorted dependency names of name.
func (r *Registry) DependenciesOf(name string) ([]string, error) {
	ep, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return ep.Dependencies, nil
}

// AllNames returns every registered name in sorted order.
func (r *Registry) AllNames() []string {
	return append([]string(nil), r.names...)
}

// Endpoints returns every endpoint in name order.
func (r *Registry) Endpoints() []Endpoint {
	out := make([]Endpoint, len(r.names))
	for i, n := range r.names {
		out[i] = r.endpoints[n].clone()
	}
	return out
}

// TotalParticipants is the number of registered participants.
func (r *Registry) TotalParticipants() int { return len(r.names) }

// PersistentParticipantCount is the number of participants expected to take
// part in checkpoint barriers.
func (r *Registry) PersistentParticipantCount() int {
	n := 0
	for _, ep := range r.endpoints {
		if ep.Persistent && !ep.Auxiliary {
			n++
		}
	}
	return n
}

// AuxiliaryCount is the number of participants exempt from every barrier.
func (r *Registry) AuxiliaryCount() int {
	n := 0
	for _, ep := range r.endpoints {
		if ep.Auxiliary {
			n++
		}
	}
	return n
}

// StartupExpected is the number of READY signals the initiator must collect
// at startup: everyone except itself and auxiliary processes.
func (r *Registry) StartupExpected(initiator string) int {
	n := 0
	for _, ep := range r.endpoints {
		if ep.Name != initiator && !ep.Auxiliary {
			n++
		}
	}
	return n
}

// CheckpointExpected is the number of READY signals the initiator must
// collect at a checkpoint: persistent participants other than itself.
func (r *Registry) CheckpointExpected(initiator string) int {
	n := 0
	for _, ep := range r.endpoints {
		if ep.Name != initiator && ep.Persistent && !ep.Auxiliary {
			n++
		}
	}
	return n
}
