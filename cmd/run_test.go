package cmd

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/barrier"
)

// shortRun is the default run file cut down to a fast run.
func shortRun(t *testing.T) *RunFile {
	t.Helper()
	f, err := parseRunFile([]byte(defaultRunFile))
	require.NoError(t, err)
	f.RunID = "test-run"
	f.Naming.Addr = "127.0.0.1:0"
	f.Clock.EndTime = 1000
	f.Clock.TimeUnit = 20 * time.Microsecond
	f.Clock.GraceDelay = 5 * time.Millisecond
	f.Clock.Savepoints = []uint64{500}
	f.Clock.SavepointDir = t.TempDir()
	f.Clock.Barrier = barrier.Config{Timeout: 2 * time.Second, RetransmitInterval: 10 * time.Millisecond}
	return f
}

func assertSavepoint(t *testing.T, f *RunFile) {
	t.Helper()
	dir := sim.SavepointDir(f.Clock.SavepointDir, 500)
	for _, name := range []string{"simulation_model", "arrivals", "station"} {
		_, err := os.Stat(sim.StatePath(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestRunDeployment_InProcess(t *testing.T) {
	f := shortRun(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, runDeployment(ctx, f))

	assertSavepoint(t, f)
}

func TestRunParticipant_EachParticipantSeparately(t *testing.T) {
	// GIVEN a naming service and a shared Redis, as for separate processes
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	defer mr.Close()
	f := shortRun(t)
	f.Redis.Addr = mr.Addr()
	svc, err := startNames(f)
	require.NoError(t, err)
	f.Naming.Addr = svc.Addr()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// WHEN every participant runs on its own
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveNames(gctx, svc) })
	for _, p := range f.Participants {
		g.Go(func() error { return runParticipant(gctx, f, p.Name) })
	}

	// THEN the run completes, checkpoints included, and the driver
	// releases the naming service
	require.NoError(t, g.Wait())
	assertSavepoint(t, f)
	select {
	case <-svc.Done():
	default:
		t.Error("naming service was not released")
	}
}

func TestRunParticipant_RequiresSharedInfrastructure(t *testing.T) {
	f := shortRun(t)

	f.Naming.Addr = ""
	assert.Error(t, runParticipant(context.Background(), f, "arrivals"))

	f.Naming.Addr = "127.0.0.1:5500"
	assert.Error(t, runParticipant(context.Background(), f, "arrivals"))
}

func TestRunParticipant_NamingUnreachable_ConnectionError(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	defer mr.Close()
	f := shortRun(t)
	f.Redis.Addr = mr.Addr()
	f.Naming.Addr = "127.0.0.1:1"

	err := runParticipant(context.Background(), f, "arrivals")

	assert.ErrorIs(t, err, sim.ErrConnection)
	assert.True(t, sim.IsFatal(err))
}
