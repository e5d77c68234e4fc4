package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lockstep-sim/lockstep/sim/bus"
)

var (
	logLevel   string // Log verbosity level
	configPath string // Run configuration file
	forceWrite bool   // Overwrite an existing file in init-config

	runEnv Env // Environment overrides, loaded before every command
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "lockstep",
	Short: "Lock-step distributed simulation framework",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if runEnv, err = loadEnv(); err != nil {
			return err
		}
		if runEnv.LogLevel != "" && !cmd.Flags().Changed("log") {
			logLevel = runEnv.LogLevel
		}
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
		return nil
	},
}

// loadConfig reads the run file and applies the environment to it.
func loadConfig() *RunFile {
	f, err := loadRunFile(configPath)
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	f.applyEnv(runEnv)
	if f.RunID == "" {
		f.RunID = uuid.NewString()
	}
	return f
}

// openBus connects to Redis when an address is configured, namespaced by
// the run ID, and falls back to the in-process bus otherwise.
func openBus(ctx context.Context, f *RunFile) (bus.Bus, error) {
	if f.Redis.Addr == "" {
		logrus.Infof("run %s on the in-process bus", f.RunID)
		return bus.NewMemoryBus(0), nil
	}
	logrus.Infof("run %s on redis %s", f.RunID, f.Redis.Addr)
	return bus.DialRedis(ctx, bus.RedisConfig{
		Addr:      f.Redis.Addr,
		Password:  f.Redis.Password,
		DB:        f.Redis.DB,
		Namespace: f.RunID,
	})
}

// interruptible returns a context cancelled on SIGINT or SIGTERM.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "lockstep.yaml", "Run configuration file")

	initConfigCmd.Flags().BoolVar(&forceWrite, "force", false, "Overwrite an existing file")

	rootCmd.AddCommand(runCmd, participantCmd, namesCmd, initConfigCmd)
}
