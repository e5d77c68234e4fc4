package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lockstep-sim/lockstep/sim/topology"
)

// namesCmd serves the participant table until the clock driver releases it
var namesCmd = &cobra.Command{
	Use:   "names",
	Short: "Serve the naming service for a multi-process run",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := interruptible()
		defer stop()
		svc, err := startNames(loadConfig())
		if err != nil {
			logrus.Fatalf("Naming service failed: %v", err)
		}
		if err := serveNames(ctx, svc); err != nil {
			logrus.Warnf("Naming service shutdown: %v", err)
		}
	},
}

// initConfigCmd writes a default run file
var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default run configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		if err := writeDefaultRunFile(configPath, forceWrite); err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Infof("Wrote %s", configPath)
	},
}

// startNames starts the naming service for the run file's topology.
func startNames(f *RunFile) (*topology.NamingService, error) {
	if f.Naming.Addr == "" {
		return nil, fmt.Errorf("naming.addr is not set")
	}
	reg, err := topology.NewRegistry(f.Topology())
	if err != nil {
		return nil, err
	}
	svc := topology.NewNamingService(reg, f.Naming.Addr)
	if err := svc.Start(); err != nil {
		return nil, err
	}
	return svc, nil
}

// serveNames blocks until the service is released or ctx is cancelled.
func serveNames(ctx context.Context, svc *topology.NamingService) error {
	select {
	case <-svc.Done():
		return nil
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return svc.Stop(sctx)
}
