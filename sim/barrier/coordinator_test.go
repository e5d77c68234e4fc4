package barrier

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/bus"
)

var fastConfig = Config{Timeout: 2 * time.Second, RetransmitInterval: 10 * time.Millisecond}

// arriveAll starts one member per name and returns a function collecting their errors.
func arriveAll(ctx context.Context, b bus.Bus, cfg Config, round Round, names ...string) func() []error {
	var wg sync.WaitGroup
	errs := make([]error, len(names))
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			errs[i] = NewMember(name, b, cfg).Arrive(ctx, round)
		}(i, name)
	}
	return func() []error {
		wg.Wait()
		return errs
	}
}

func TestCoordinator_AllMembersArrive_GoReleasesEveryone(t *testing.T) {
	// GIVEN three members joining the startup round
	b := bus.NewMemoryBus(0)
	defer b.Close()
	ctx := context.Background()
	wait := arriveAll(ctx, b, fastConfig, StartupRound(), "a", "b", "c")

	// WHEN the driver awaits three READY
	sess, err := NewCoordinator("driver", b, fastConfig).Await(ctx, StartupRound(), 3)

	// THEN the round is satisfied and every member is released
	require.NoError(t, err)
	assert.Equal(t, PhaseSatisfied, sess.Phase())
	assert.Equal(t, []string{"a", "b", "c"}, sess.Senders())
	for _, err := range wait() {
		assert.NoError(t, err)
	}
}

func TestCoordinator_LateInitiator_RetransmissionCatchesUp(t *testing.T) {
	// GIVEN members that announce READY before anyone listens
	b := bus.NewMemoryBus(0)
	defer b.Close()
	ctx := context.Background()
	wait := arriveAll(ctx, b, fastConfig, StartupRound(), "a", "b")
	time.Sleep(50 * time.Millisecond)

	// WHEN the initiator shows up afterwards
	sess, err := NewCoordinator("driver", b, fastConfig).Await(ctx, StartupRound(), 2)

	// THEN the retransmitted READY still satisfy it
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Received())
	for _, err := range wait() {
		assert.NoError(t, err)
	}
}

func TestCoordinator_MissingParticipant_FailsWithSyncTimeout(t *testing.T) {
	// GIVEN expected=3 but only two members, retransmitting rapidly
	b := bus.NewMemoryBus(0)
	defer b.Close()
	ctx := context.Background()
	memberCfg := Config{Timeout: 400 * time.Millisecond, RetransmitInterval: 5 * time.Millisecond}
	wait := arriveAll(ctx, b, memberCfg, StartupRound(), "a", "b")

	// WHEN the initiator waits with a short timeout
	sess, err := NewCoordinator("driver", b, Config{Timeout: 150 * time.Millisecond}).Await(ctx, StartupRound(), 3)

	// THEN the session fails, duplicates counted once
	assert.ErrorIs(t, err, sim.ErrSyncTimeout)
	assert.True(t, sim.IsFatal(err))
	assert.Equal(t, PhaseFailed, sess.Phase())
	assert.Equal(t, 2, sess.Received())

	// AND the members, never released, time out as well
	for _, err := range wait() {
		assert.ErrorIs(t, err, sim.ErrSyncTimeout)
	}
}

func TestCoordinator_Cancelled_FailsWithSyncTimeout(t *testing.T) {
	b := bus.NewMemoryBus(0)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := NewCoordinator("driver", b, fastConfig).Await(ctx, StartupRound(), 1)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, sim.ErrSyncTimeout)
	case <-time.After(time.Second):
		t.Fatal("Await did not observe cancellation")
	}
}

func TestCoordinator_IgnoresReadyFromOtherRounds(t *testing.T) {
	// GIVEN a member arriving at a checkpoint round
	b := bus.NewMemoryBus(0)
	defer b.Close()
	ctx := context.Background()
	stale := Round{Name: sim.TopicSaveState, SimTime: 100}
	memberCfg := Config{Timeout: 300 * time.Millisecond, RetransmitInterval: 10 * time.Millisecond}
	wait := arriveAll(ctx, b, memberCfg, stale, "a")

	// WHEN the initiator waits for a different round
	current := Round{Name: sim.TopicSaveState, SimTime: 200}
	sess, err := NewCoordinator("driver", b, Config{Timeout: 100 * time.Millisecond}).Await(ctx, current, 1)

	// THEN nothing is counted
	assert.ErrorIs(t, err, sim.ErrSyncTimeout)
	assert.Equal(t, 0, sess.Received())
	wait()
}

func TestCoordinator_SameTopicAndTime_NextSequenceNotSatisfiedByEarlierReady(t *testing.T) {
	// GIVEN a member still retransmitting READY for checkpoint 1 at 300
	b := bus.NewMemoryBus(0)
	defer b.Close()
	ctx := context.Background()
	first := Round{Name: sim.TopicSaveState, SimTime: 300, Seq: 1}
	memberCfg := Config{Timeout: 300 * time.Millisecond, RetransmitInterval: 10 * time.Millisecond}
	wait := arriveAll(ctx, b, memberCfg, first, "a")

	// WHEN the initiator waits for checkpoint 2 on the same topic and time
	second := Round{Name: sim.TopicSaveState, SimTime: 300, Seq: 2}
	sess, err := NewCoordinator("driver", b, Config{Timeout: 100 * time.Millisecond}).Await(ctx, second, 1)

	// THEN the earlier READY is not counted
	assert.ErrorIs(t, err, sim.ErrSyncTimeout)
	assert.Equal(t, 0, sess.Received())
	wait()
}

func TestCoordinator_ExpectingNobody_ReturnsImmediately(t *testing.T) {
	b := bus.NewMemoryBus(0)
	defer b.Close()

	sess, err := NewCoordinator("driver", b, fastConfig).Await(context.Background(), StartupRound(), 0)

	require.NoError(t, err)
	assert.True(t, sess.Satisfied())
}

func TestCoordinator_ReusedForConsecutiveRounds(t *testing.T) {
	// GIVEN the same coordinator and members across startup and two checkpoints
	b := bus.NewMemoryBus(0)
	defer b.Close()
	ctx := context.Background()
	coord := NewCoordinator("driver", b, fastConfig)

	rounds := []Round{
		StartupRound(),
		{Name: sim.TopicSaveState, SimTime: 300},
		{Name: sim.TopicLoadState, SimTime: 300},
	}
	for _, round := range rounds {
		t.Run(fmt.Sprint(round), func(t *testing.T) {
			wait := arriveAll(ctx, b, fastConfig, round, "x", "y")
			_, err := coord.Await(ctx, round, 2)
			require.NoError(t, err)
			for _, err := range wait() {
				assert.NoError(t, err)
			}
		})
	}
}
