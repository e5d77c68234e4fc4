// Package cluster hosts a whole run in one process: the naming service,
// every configured model behind a participant runner, and the clock driver.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/bus"
	"github.com/lockstep-sim/lockstep/sim/clock"
	"github.com/lockstep-sim/lockstep/sim/model"
	"github.com/lockstep-sim/lockstep/sim/schedule"
	"github.com/lockstep-sim/lockstep/sim/topology"
	"github.com/lockstep-sim/lockstep/sim/trace"
)

// Cluster runs the driver and the hosted participants of one deployment.
type Cluster struct {
	config       DeploymentConfig
	registry     *topology.Registry
	bus          bus.Bus
	naming       *topology.NamingService
	driver       *clock.Driver
	participants map[string]sim.Participant
	runners      []*model.Runner
	trace        *trace.SimulationTrace
	hasRun       bool
}

// New builds the registry, the driver and every hosted model. Nothing is
// started until Run.
func New(config DeploymentConfig, b bus.Bus) (*Cluster, error) {
	reg, err := topology.NewRegistry(config.Topology)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(reg); err != nil {
		return nil, err
	}

	c := &Cluster{
		config:       config,
		registry:     reg,
		bus:          b,
		participants: make(map[string]sim.Participant, len(config.Models)),
		trace:        trace.NewSimulationTrace(config.Trace),
	}

	opts := []clock.Option{clock.WithTrace(c.trace)}
	if config.Store != nil {
		opts = append(opts, clock.WithStore(config.Store))
	}
	if len(config.Schedule) > 0 {
		sched := schedule.New()
		if err := sched.Reset(config.Schedule); err != nil {
			return nil, fmt.Errorf("driver schedule: %w", err)
		}
		opts = append(opts, clock.WithScheduler(sched))
	}
	if config.NamingAddr != "" {
		c.naming = topology.NewNamingService(reg, config.NamingAddr)
		opts = append(opts, clock.WithReleaser(c.naming))
	}
	if c.driver, err = clock.New(config.Clock, reg, b, opts...); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(config.Models))
	for name := range config.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	barrierCfg := config.Clock.WithDefaults().Barrier
	for _, name := range names {
		m := config.Models[name]
		p, err := model.New(m.Kind, model.Spec{Name: name, Options: m.Options, Store: config.Store})
		if err != nil {
			return nil, err
		}
		c.participants[name] = p
		c.runners = append(c.runners, model.NewRunner(p, reg, b, barrierCfg))
	}
	return c, nil
}

// Registry returns the run's topology.
func (c *Cluster) Registry() *topology.Registry { return c.registry }

// Driver returns the clock driver, e.g. to pause or checkpoint a run.
func (c *Cluster) Driver() *clock.Driver { return c.driver }

// Participant returns the hosted participant with the given name.
func (c *Cluster) Participant(name string) (sim.Participant, bool) {
	p, ok := c.participants[name]
	return p, ok
}

// Trace returns the barrier trace. It is complete once Run has returned.
func (c *Cluster) Trace() *trace.SimulationTrace { return c.trace }

// NamingAddr returns the naming service address, or "" when disabled.
func (c *Cluster) NamingAddr() string {
	if c.naming == nil {
		return ""
	}
	return c.naming.Addr()
}

// Run starts the naming service, every hosted participant and the driver,
// and waits for all of them. The first fatal error cancels the rest and is
// returned. A Cluster runs once.
func (c *Cluster) Run(ctx context.Context) error {
	if c.hasRun {
		return fmt.Errorf("cluster already ran")
	}
	c.hasRun = true

	if c.naming != nil {
		if err := c.naming.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = c.naming.Stop(sctx)
		}()
	}

	logrus.Infof("cluster: %d hosted participants, %d in topology", len(c.runners), c.registry.TotalParticipants())
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range c.runners {
		g.Go(func() error { return r.Run(gctx) })
	}
	g.Go(func() error { return c.driver.Run(gctx) })
	return g.Wait()
}
