package cluster

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/barrier"
	"github.com/lockstep-sim/lockstep/sim/bus"
	"github.com/lockstep-sim/lockstep/sim/clock"
	"github.com/lockstep-sim/lockstep/sim/model"
	"github.com/lockstep-sim/lockstep/sim/topology"
	"github.com/lockstep-sim/lockstep/sim/trace"
)

var testBarrier = barrier.Config{Timeout: 2 * time.Second, RetransmitInterval: 10 * time.Millisecond}

func optionsNode(t *testing.T, src string) yaml.Node {
	t.Helper()
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	return *doc.Content[0]
}

// factoryLine is a queue feeding a logging relay, with a logger and a
// savepoint half way.
func factoryLine(t *testing.T) DeploymentConfig {
	t.Helper()
	return DeploymentConfig{
		Topology: topology.Config{Participants: []topology.ParticipantConfig{
			{Name: clock.DefaultName, Role: topology.RolePublisher, Persistent: true},
			{Name: "arrivals", Persistent: true},
			{Name: "station", Persistent: true, Dependencies: []string{"arrivals"}},
			{Name: "logger", Role: topology.RoleSubscriber},
		}},
		Clock: clock.Config{
			EndTime:      1000,
			StepSize:     100,
			TimeUnit:     50 * time.Microsecond,
			GraceDelay:   5 * time.Millisecond,
			Savepoints:   []uint64{500},
			SavepointDir: t.TempDir(),
			Barrier:      testBarrier,
		},
		Models: map[string]ModelConfig{
			"arrivals": {Kind: model.QueueKind, Options: optionsNode(t, `
events:
  - {name: Arrival, time: 200, period: 200, repeat: 2}
`)},
			"station": {Kind: model.RelayKind, Options: optionsNode(t, "routes: {Arrival: Served}\nlog: true\n")},
			"logger":  {Kind: model.LoggerKind},
		},
		NamingAddr: "127.0.0.1:0",
		Trace:      trace.TraceConfig{Level: trace.TraceLevelRounds},
	}
}

func runFactoryLine(t *testing.T, b bus.Bus) {
	t.Helper()
	// GIVEN the whole deployment in one process
	cfg := factoryLine(t)
	c, err := New(cfg, b)
	require.NoError(t, err)
	lp, ok := c.Participant("logger")
	require.True(t, ok)
	var logOut bytes.Buffer
	lp.(*model.Logger).SetOutput(&logOut)

	// WHEN it runs to the end
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	// THEN every arrival was served exactly once
	arrivals, _ := c.Participant("arrivals")
	assert.Equal(t, int64(3), arrivals.(*model.Queue).Fired())
	station, _ := c.Participant("station")
	received, published := station.(*model.Relay).Counts()
	assert.Equal(t, int64(3), received)
	assert.Equal(t, int64(3), published)
	assert.Contains(t, logOut.String(), "station received Arrival")

	// AND the savepoint holds every persistent participant
	dir := sim.SavepointDir(cfg.Clock.SavepointDir, 500)
	for _, name := range []string{clock.DefaultName, "arrivals", "station"} {
		_, err := os.Stat(sim.StatePath(dir, name))
		assert.NoError(t, err, name)
	}

	// AND the trace shows the startup and savepoint rounds
	s := trace.Summarize(c.Trace())
	assert.Equal(t, 2, s.TotalRounds)
	assert.Equal(t, 0, s.FailedRounds)
	assert.Equal(t, 1, s.Saves)

	// AND the naming service was released by the driver
	select {
	case <-c.naming.Done():
	default:
		t.Error("naming service still running")
	}
	assert.Equal(t, clock.StateStopped, c.Driver().State())
	assert.GreaterOrEqual(t, c.Driver().SimTime(), uint64(1000))
}

func TestCluster_RunsOverMemoryBus(t *testing.T) {
	b := bus.NewMemoryBus(0)
	defer b.Close()

	runFactoryLine(t, b)
}

func TestCluster_RunsOverRedis(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	runFactoryLine(t, bus.NewRedisBus(client, uuid.NewString(), 0))
}

func TestCluster_MissingExternalParticipant_SyncTimeout(t *testing.T) {
	// GIVEN a topology naming a participant nobody hosts
	cfg := factoryLine(t)
	cfg.Topology.Participants = append(cfg.Topology.Participants, topology.ParticipantConfig{Name: "remote_oven"})
	cfg.Clock.Barrier = barrier.Config{Timeout: 100 * time.Millisecond, RetransmitInterval: 10 * time.Millisecond}
	cfg.NamingAddr = ""
	b := bus.NewMemoryBus(0)
	defer b.Close()
	c, err := New(cfg, b)
	require.NoError(t, err)
	c.participants["logger"].(*model.Logger).SetOutput(&bytes.Buffer{})

	// WHEN it runs
	err = c.Run(context.Background())

	// THEN the startup barrier fails the run
	assert.ErrorIs(t, err, sim.ErrSyncTimeout)
	assert.True(t, sim.IsFatal(err))
	require.NotEmpty(t, c.Trace().Rounds)
	startup := c.Trace().Rounds[0]
	assert.Equal(t, 4, startup.Expected)
	assert.False(t, startup.Satisfied())
}

func TestCluster_RunsOnce(t *testing.T) {
	cfg := factoryLine(t)
	cfg.Models = nil
	cfg.Topology.Participants = cfg.Topology.Participants[:1]
	cfg.NamingAddr = ""
	b := bus.NewMemoryBus(0)
	defer b.Close()
	c, err := New(cfg, b)
	require.NoError(t, err)

	require.NoError(t, c.Run(context.Background()))
	assert.Error(t, c.Run(context.Background()))
	assert.Empty(t, c.NamingAddr())
}

func TestNew_InvalidDeployment(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DeploymentConfig)
	}{
		{"model outside topology", func(c *DeploymentConfig) {
			c.Models["oven"] = ModelConfig{Kind: model.QueueKind}
		}},
		{"model without kind", func(c *DeploymentConfig) {
			c.Models["logger"] = ModelConfig{}
		}},
		{"unknown kind", func(c *DeploymentConfig) {
			c.Models["logger"] = ModelConfig{Kind: "furnace"}
		}},
		{"driver hosts a model", func(c *DeploymentConfig) {
			c.Models[clock.DefaultName] = ModelConfig{Kind: model.LoggerKind}
		}},
		{"driver not in topology", func(c *DeploymentConfig) {
			c.Clock.Name = "metronome"
		}},
		{"bad trace level", func(c *DeploymentConfig) {
			c.Trace.Level = "verbose"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := factoryLine(t)
			tt.mutate(&cfg)
			b := bus.NewMemoryBus(0)
			defer b.Close()

			_, err := New(cfg, b)

			assert.Error(t, err)
		})
	}
}
