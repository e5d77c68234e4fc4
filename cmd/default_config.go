package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/lockstep-sim/lockstep/sim/clock"
	"github.com/lockstep-sim/lockstep/sim/cluster"
	"github.com/lockstep-sim/lockstep/sim/persist"
	"github.com/lockstep-sim/lockstep/sim/schedule"
	"github.com/lockstep-sim/lockstep/sim/topology"
	"github.com/lockstep-sim/lockstep/sim/trace"
)

// RunFile represents the full run configuration file.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type RunFile struct {
	RunID        string                    `yaml:"run_id"`
	BasePort     int                       `yaml:"base_port"`
	Redis        RedisSection              `yaml:"redis"`
	Naming       NamingSection             `yaml:"naming"`
	Checkpoints  CheckpointSection         `yaml:"checkpoints"`
	Trace        trace.TraceLevel          `yaml:"trace"`
	Clock        clock.Config              `yaml:"clock"`
	Schedule     []schedule.ScheduledEvent `yaml:"schedule"`
	Participants []ParticipantEntry        `yaml:"participants"`
}

// RedisSection selects the bus. An empty address runs everything on the
// in-process bus.
type RedisSection struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NamingSection struct {
	Addr string `yaml:"addr"`
}

// CheckpointSection selects where participant state goes: "file" (default)
// writes YAML files under the checkpoint paths, "badger" keeps them in a
// Badger database at Dir.
type CheckpointSection struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

// ParticipantEntry is one row of the participant table. Model is set for
// participants hosted by `run`.
type ParticipantEntry struct {
	Name         string               `yaml:"name"`
	Host         string               `yaml:"host"`
	Port         int                  `yaml:"port"`
	Role         topology.Role        `yaml:"role"`
	Dependencies []string             `yaml:"dependencies"`
	Persistent   bool                 `yaml:"persistent"`
	Auxiliary    bool                 `yaml:"auxiliary"`
	Model        *cluster.ModelConfig `yaml:"model"`
}

// loadRunFile parses a run file with strict field checking.
func loadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run file: %w", err)
	}
	return parseRunFile(data)
}

func parseRunFile(data []byte) (*RunFile, error) {
	var f RunFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse run file: %w", err)
	}
	return &f, nil
}

// applyEnv lets the environment override the file.
func (f *RunFile) applyEnv(e Env) {
	if e.RedisAddr != "" {
		f.Redis.Addr = e.RedisAddr
	}
	if e.NamingAddr != "" {
		f.Naming.Addr = e.NamingAddr
	}
	if e.RunID != "" {
		f.RunID = e.RunID
	}
}

// Topology returns the static participant table.
func (f *RunFile) Topology() topology.Config {
	cfg := topology.Config{BasePort: f.BasePort}
	for _, p := range f.Participants {
		cfg.Participants = append(cfg.Participants, topology.ParticipantConfig{
			Name:         p.Name,
			Host:         p.Host,
			Port:         p.Port,
			Role:         p.Role,
			Dependencies: p.Dependencies,
			Persistent:   p.Persistent,
			Auxiliary:    p.Auxiliary,
		})
	}
	return cfg
}

// Model returns the model entry of participant name.
func (f *RunFile) Model(name string) (cluster.ModelConfig, error) {
	for _, p := range f.Participants {
		if p.Name != name {
			continue
		}
		if p.Model == nil {
			return cluster.ModelConfig{}, fmt.Errorf("participant %s has no model", name)
		}
		return *p.Model, nil
	}
	return cluster.ModelConfig{}, fmt.Errorf("participant %s is not in the run file", name)
}

// openStore opens the configured checkpoint store. The returned close
// function is never nil.
func (f *RunFile) openStore() (persist.Store, func() error, error) {
	noop := func() error { return nil }
	switch f.Checkpoints.Backend {
	case "", "file":
		return nil, noop, nil
	case "badger":
		dir := f.Checkpoints.Dir
		if dir == "" {
			dir = "checkpoints"
		}
		s, err := persist.OpenBadgerStore(dir)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown checkpoint backend %q", f.Checkpoints.Backend)
}

// Deployment builds the in-process deployment: every participant with a
// model is hosted, the rest are expected from other processes.
func (f *RunFile) Deployment(store persist.Store) cluster.DeploymentConfig {
	d := cluster.DeploymentConfig{
		Topology:   f.Topology(),
		Clock:      f.Clock,
		Schedule:   f.Schedule,
		Models:     make(map[string]cluster.ModelConfig),
		NamingAddr: f.Naming.Addr,
		Store:      store,
		Trace:      trace.TraceConfig{Level: f.Trace},
	}
	for _, p := range f.Participants {
		if p.Model != nil {
			d.Models[p.Name] = *p.Model
		}
	}
	return d
}

// defaultRunFile is written by init-config: a queue feeding a relay, a
// logger, and a savepoint half way through.
const defaultRunFile = `# lockstep run configuration
run_id: ""
base_port: 5550

redis:
  # empty runs every participant on the in-process bus
  addr: ""
  password: ""
  db: 0

naming:
  addr: 127.0.0.1:5500

checkpoints:
  backend: file
  dir: ""

trace: rounds

clock:
  name: simulation_model
  start_time: 0
  end_time: 5000
  step_size: 100
  speed_factor: 1
  time_unit: 1ms
  savepoints: [2500]
  savepoint_dir: savepoints
  breakpoints: []
  loadpoint: ""
  config_mode: false
  config_dir: configurations
  grace_delay: 500ms
  log_events: false
  barrier:
    timeout: 30s
    retransmit_interval: 200ms

schedule: []

participants:
  - name: simulation_model
    role: publisher
    persistent: true
  - name: arrivals
    persistent: true
    model:
      kind: queue
      options:
        events:
          - name: Arrival
            time: 100
            period: 300
            repeat: -1
  - name: station
    persistent: true
    dependencies: [arrivals]
    model:
      kind: relay
      options:
        routes:
          Arrival: Served
        log: true
  - name: logger
    role: subscriber
    model:
      kind: logger
      options:
        level: info
`

// writeDefaultRunFile writes the default run file atomically.
func writeDefaultRunFile(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s exists (use --force to overwrite)", path)
		}
	}
	return renameio.WriteFile(path, []byte(defaultRunFile), 0o644)
}
