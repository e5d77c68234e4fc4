// Package clock owns simulation time. Its Driver runs the startup barrier,
// then advances time in fixed steps, publishing SimTimeChanged every cycle
// and coordinating checkpoints at configured marks.
package clock

import (
	"fmt"
	"time"

	"github.com/lockstep-sim/lockstep/sim/barrier"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultName         = "simulation_model"
	DefaultEndTime      = 5000
	DefaultStepSize     = 100
	DefaultTimeUnit     = time.Millisecond
	DefaultGraceDelay   = 500 * time.Millisecond
	DefaultSavepointDir = "savepoints"
	DefaultConfigDir    = "configurations"
)

// Config describes one run of the driver.
type Config struct {
	// Name is the driver's participant name in the topology.
	Name      string `yaml:"name"`
	StartTime uint64 `yaml:"start_time"`
	EndTime   uint64 `yaml:"end_time"`
	StepSize  uint64 `yaml:"step_size"`
	// SpeedFactor scales wall time: 2 runs twice as fast as real time.
	SpeedFactor float64 `yaml:"speed_factor"`
	// TimeUnit is the wall duration of one unit of simulation time at speed 1.
	TimeUnit time.Duration `yaml:"time_unit"`

	Savepoints   []uint64 `yaml:"savepoints"`
	SavepointDir string   `yaml:"savepoint_dir"`
	Breakpoints  []uint64 `yaml:"breakpoints"`
	// Loadpoint is a checkpoint directory restored right after startup.
	Loadpoint string `yaml:"loadpoint"`

	// ConfigMode saves once into ConfigDir at start time and stops,
	// producing default state files for every persistent participant.
	ConfigMode bool   `yaml:"config_mode"`
	ConfigDir  string `yaml:"config_dir"`

	// GraceDelay separates End from EndLogger so in-flight log events drain.
	GraceDelay time.Duration `yaml:"grace_delay"`
	// LogEvents publishes a LogInfo line with the time of every cycle.
	LogEvents bool `yaml:"log_events"`

	Barrier barrier.Config `yaml:"barrier"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.EndTime == 0 {
		c.EndTime = DefaultEndTime
	}
	if c.StepSize == 0 {
		c.StepSize = DefaultStepSize
	}
	if c.SpeedFactor == 0 {
		c.SpeedFactor = 1
	}
	if c.TimeUnit == 0 {
		c.TimeUnit = DefaultTimeUnit
	}
	if c.SavepointDir == "" {
		c.SavepointDir = DefaultSavepointDir
	}
	if c.ConfigDir == "" {
		c.ConfigDir = DefaultConfigDir
	}
	if c.GraceDelay == 0 {
		c.GraceDelay = DefaultGraceDelay
	}
	return c
}

// Validate rejects configurations the driver cannot run.
func (c Config) Validate() error {
	if c.SpeedFactor <= 0 {
		return fmt.Errorf("speed_factor must be positive, got %g", c.SpeedFactor)
	}
	if c.StepSize == 0 {
		return fmt.Errorf("step_size must be positive")
	}
	if c.EndTime < c.StartTime {
		return fmt.Errorf("end_time %d is before start_time %d", c.EndTime, c.StartTime)
	}
	if c.TimeUnit < 0 || c.GraceDelay < 0 {
		return fmt.Errorf("time_unit and grace_delay must not be negative")
	}
	return nil
}

// CycleBudget is the wall time of one step: StepSize × TimeUnit / SpeedFactor.
func (c Config) CycleBudget() time.Duration {
	return time.Duration(float64(c.StepSize) * float64(c.TimeUnit) / c.SpeedFactor)
}
