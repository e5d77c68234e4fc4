package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lockstep-sim/lockstep/sim/clock"
	"github.com/lockstep-sim/lockstep/sim/cluster"
	"github.com/lockstep-sim/lockstep/sim/model"
	"github.com/lockstep-sim/lockstep/sim/schedule"
	"github.com/lockstep-sim/lockstep/sim/topology"
)

// runCmd hosts every modelled participant and the clock driver in one process
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a whole simulation in one process",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := interruptible()
		defer stop()
		if err := runDeployment(ctx, loadConfig()); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
	},
}

// participantCmd runs one participant of a multi-process run
var participantCmd = &cobra.Command{
	Use:   "participant NAME",
	Short: "Run one participant, resolving the others through the naming service",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := interruptible()
		defer stop()
		if err := runParticipant(ctx, loadConfig(), args[0]); err != nil {
			logrus.Fatalf("Participant %s failed: %v", args[0], err)
		}
	},
}

func runDeployment(ctx context.Context, f *RunFile) error {
	store, closeStore, err := f.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	b, err := openBus(ctx, f)
	if err != nil {
		return err
	}
	defer b.Close()

	c, err := cluster.New(f.Deployment(store), b)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := c.Run(ctx); err != nil {
		return err
	}
	logrus.Infof("Simulation complete at %d in %v", c.Driver().SimTime(), time.Since(start))
	return nil
}

// runParticipant runs the named participant against a remote naming
// service and a shared Redis bus. The clock driver's name runs the driver,
// which releases the naming service when it stops.
func runParticipant(ctx context.Context, f *RunFile, name string) error {
	if f.Naming.Addr == "" {
		return fmt.Errorf("participant mode needs a naming service address")
	}
	if f.Redis.Addr == "" {
		return fmt.Errorf("participant mode needs a redis address")
	}
	client := topology.NewNamingClient(f.Naming.Addr)
	reg, err := client.Fetch(ctx)
	if err != nil {
		return err
	}

	store, closeStore, err := f.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	b, err := openBus(ctx, f)
	if err != nil {
		return err
	}
	defer b.Close()

	clockCfg := f.Clock.WithDefaults()
	if name == clockCfg.Name {
		sched := schedule.New()
		if err := sched.Reset(f.Schedule); err != nil {
			return err
		}
		d, err := clock.New(f.Clock, reg, b,
			clock.WithScheduler(sched),
			clock.WithStore(store),
			clock.WithReleaser(client))
		if err != nil {
			return err
		}
		return d.Run(ctx)
	}

	m, err := f.Model(name)
	if err != nil {
		return err
	}
	p, err := model.New(m.Kind, model.Spec{Name: name, Options: m.Options, Store: store})
	if err != nil {
		return err
	}
	return model.NewRunner(p, reg, b, clockCfg.Barrier).Run(ctx)
}
