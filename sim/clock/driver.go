package clock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/barrier"
	"github.com/lockstep-sim/lockstep/sim/bus"
	"github.com/lockstep-sim/lockstep/sim/metrics"
	"github.com/lockstep-sim/lockstep/sim/persist"
	"github.com/lockstep-sim/lockstep/sim/schedule"
	"github.com/lockstep-sim/lockstep/sim/topology"
	"github.com/lockstep-sim/lockstep/sim/trace"
)

// State is the driver's lifecycle state.
type State int32

const (
	StatePreparing State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	}
	return "preparing"
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Option configures a Driver.
type Option func(*Driver)

// WithScheduler lets the driver fire scheduled events of its own.
func WithScheduler(s *schedule.Scheduler) Option { return func(d *Driver) { d.sched = s } }

// WithStore selects where the driver's own state is saved. Default: files.
func WithStore(s persist.Store) Option { return func(d *Driver) { d.persister.Store = s } }

// WithReleaser is called after the run to give back the naming service.
func WithReleaser(r topology.Releaser) Option { return func(d *Driver) { d.releaser = r } }

// WithTrace records barrier rounds and checkpoints.
func WithTrace(t *trace.SimulationTrace) Option { return func(d *Driver) { d.trace = t } }

// WithSleeper replaces the wall-clock sleep.
func WithSleeper(s Sleeper) Option { return func(d *Driver) { d.sleep = s } }

// driverState is what the driver saves at a checkpoint.
type driverState struct {
	EndTime     uint64
	StepSize    uint64
	Current     uint64
	SpeedFactor float64
	Breakpoints []uint64
	Schedule    []schedule.ScheduledEvent
}

// Driver is the single writer of simulation time.
type Driver struct {
	cfg      Config
	registry *topology.Registry
	bus      bus.Bus
	pub      sim.Publisher
	coord    *barrier.Coordinator

	sched     *schedule.Scheduler
	releaser  topology.Releaser
	trace     *trace.SimulationTrace
	sleep     Sleeper
	saved     driverState
	persister *persist.Persister

	startupExpected    int
	checkpointExpected int

	state   atomic.Int32
	simTime atomic.Uint64

	mu        sync.Mutex
	pauseReq  bool
	pending   []sim.CheckpointRequest
	wake      chan struct{}
	stopped   bool
	breaksHit map[uint64]bool
	skipSave  *uint64
	// seq numbers checkpoint rounds; it never goes back, even on a restore
	seq uint64
}

// New creates a driver for cfg over reg and b.
func New(cfg Config, reg *topology.Registry, b bus.Bus, opts ...Option) (*Driver, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		cfg:       cfg,
		registry:  reg,
		bus:       b,
		pub:       bus.EventPublisher{Bus: b},
		coord:     barrier.NewCoordinator(cfg.Name, b, cfg.Barrier),
		sleep:     sleepContext,
		wake:      make(chan struct{}, 1),
		breaksHit: make(map[uint64]bool),
	}
	d.persister = &persist.Persister{
		Name: cfg.Name,
		Schema: persist.NewSchema().
			Uint("sim_time", &d.saved.EndTime).
			Uint("sim_time_step", &d.saved.StepSize).
			Uint("current_sim_time", &d.saved.Current).
			Float("speed_factor", &d.saved.SpeedFactor).
			Value("breakpoints", &d.saved.Breakpoints).
			Value("schedule", &d.saved.Schedule),
		AfterLoad: d.applySaved,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.simTime.Store(cfg.StartTime)
	return d, nil
}

// State returns the current lifecycle state.
func (d *Driver) State() State { return State(d.state.Load()) }

// SimTime returns the current simulation time.
func (d *Driver) SimTime() uint64 { return d.simTime.Load() }

func (d *Driver) setState(s State) {
	if old := State(d.state.Swap(int32(s))); old != s {
		logrus.Debugf("clock: %s -> %s at %d", old, s, d.SimTime())
	}
}

// Pause stops time at the top of the next cycle.
func (d *Driver) Pause() {
	d.mu.Lock()
	d.pauseReq = true
	d.mu.Unlock()
	d.signal()
}

// Continue resumes a paused driver.
func (d *Driver) Continue() {
	d.mu.Lock()
	d.pauseReq = false
	d.mu.Unlock()
	d.signal()
}

// RequestSave asks for a checkpoint into directory path at the current time.
func (d *Driver) RequestSave(path string) error {
	return d.enqueue(sim.CheckpointRequest{Kind: sim.CheckpointSave, Path: path})
}

// RequestLoad asks for every persistent participant to restore from directory path.
func (d *Driver) RequestLoad(path string) error {
	return d.enqueue(sim.CheckpointRequest{Kind: sim.CheckpointLoad, Path: path})
}

func (d *Driver) enqueue(req sim.CheckpointRequest) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("clock: %s request after stop", req.Kind)
	}
	d.pending = append(d.pending, req)
	d.mu.Unlock()
	d.signal()
	return nil
}

func (d *Driver) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Driver) takePending() []sim.CheckpointRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	reqs := d.pending
	d.pending = nil
	return reqs
}

func (d *Driver) pauseRequested() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pauseReq
}

// Run drives the whole run: startup barrier, optional restore, the cycle
// loop, and the stop sequence. It returns nil when the end time is reached
// or ctx is cancelled between cycles, and a fatal error (sim.IsFatal) when
// a participant cannot be resolved or a barrier is not satisfied.
func (d *Driver) Run(ctx context.Context) error {
	d.setState(StatePreparing)
	defer d.stop(ctx)

	if _, err := d.registry.Resolve(d.cfg.Name); err != nil {
		return err
	}
	d.startupExpected = d.registry.StartupExpected(d.cfg.Name)
	d.checkpointExpected = d.registry.CheckpointExpected(d.cfg.Name)

	logrus.Infof("clock: synchronizing with %d participants", d.startupExpected)
	if err := d.await(ctx, barrier.StartupRound()); err != nil {
		return err
	}

	if d.cfg.ConfigMode {
		return d.checkpoint(ctx, sim.CheckpointRequest{
			Kind:  sim.CheckpointSave,
			Path:  d.cfg.ConfigDir,
			Topic: sim.TopicCreateDefaultConfigFiles,
		})
	}
	if d.cfg.Loadpoint != "" {
		if err := d.checkpoint(ctx, sim.CheckpointRequest{Kind: sim.CheckpointLoad, Path: d.cfg.Loadpoint}); err != nil {
			return err
		}
	}

	d.setState(StateRunning)
	logrus.Infof("clock: running %d..%d step %d (cycle %v)", d.SimTime(), d.cfg.EndTime, d.cfg.StepSize, d.cfg.CycleBudget())
	err := d.loop(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logrus.Infof("clock: interrupted at %d", d.SimTime())
		return nil
	}
	return err
}

func (d *Driver) loop(ctx context.Context) error {
	for {
		now := d.SimTime()
		if now > d.cfg.EndTime {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if slices.Contains(d.cfg.Breakpoints, now) && !d.breaksHit[now] {
			d.breaksHit[now] = true
			logrus.Infof("clock: breakpoint at %d", now)
			d.Pause()
		}
		if err := d.serviceControls(ctx); err != nil {
			return err
		}
		if d.SimTime() != now {
			// a restore moved time; re-evaluate from the top
			continue
		}

		if slices.Contains(d.cfg.Savepoints, now) && !d.consumeSkip(now) {
			req := sim.CheckpointRequest{Kind: sim.CheckpointSave, Path: sim.SavepointDir(d.cfg.SavepointDir, now)}
			if err := d.checkpoint(ctx, req); err != nil {
				return err
			}
		}

		if err := d.cycle(ctx, now); err != nil {
			return err
		}

		next := now + d.cfg.StepSize
		if next < now {
			return nil
		}
		d.simTime.Store(next)
	}
}

// serviceControls runs queued checkpoint requests and blocks while paused.
func (d *Driver) serviceControls(ctx context.Context) error {
	for {
		for _, req := range d.takePending() {
			if err := d.checkpoint(ctx, req); err != nil {
				return err
			}
		}
		if !d.pauseRequested() {
			d.setState(StateRunning)
			return nil
		}
		d.setState(StatePaused)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
		}
	}
}

func (d *Driver) consumeSkip(now uint64) bool {
	if d.skipSave != nil && *d.skipSave == now {
		d.skipSave = nil
		return true
	}
	return false
}

// cycle publishes everything for time now and sleeps out the rest of the
// cycle budget, so processing time never accumulates as drift.
func (d *Driver) cycle(ctx context.Context, now uint64) error {
	start := time.Now()

	if d.cfg.LogEvents {
		msg := sim.NewEvent(sim.TopicLogInfo, now).WithPayload(sim.StringPayload(fmt.Sprintf("Simulation Time: %d", now)))
		if err := d.pub.Publish(ctx, msg); err != nil {
			logrus.Warnf("clock: %v", err)
		}
	}
	if d.sched != nil {
		if _, err := d.sched.Fire(ctx, now, d.pub); err != nil {
			logrus.Warnf("clock: %v", err)
		}
	}
	if err := d.pub.Publish(ctx, sim.NewEvent(sim.TopicSimTimeChanged, now)); err != nil {
		return fmt.Errorf("clock: publish time %d: %w", now, err)
	}
	metrics.SimTime.Set(float64(now))

	budget := d.cfg.CycleBudget()
	elapsed := time.Since(start)
	if elapsed > budget {
		metrics.CycleOverrunsTotal.Inc()
		logrus.Debugf("clock: cycle at %d overran by %v", now, elapsed-budget)
		return nil
	}
	return d.sleep(ctx, budget-elapsed)
}

// checkpoint performs one save or load round. The driver saves its own
// state after announcing the request, and restores before announcing, so
// that a load is announced at the restored time. A local failure is logged;
// only a barrier failure is returned.
func (d *Driver) checkpoint(ctx context.Context, req sim.CheckpointRequest) error {
	prev := d.State()
	d.setState(StatePaused)
	d.seq++
	req.Seq = d.seq

	path := sim.StatePath(req.Path, d.cfg.Name)
	var localErr error
	switch req.Kind {
	case sim.CheckpointSave:
		req.SimTime = d.SimTime()
		if err := d.pub.Publish(ctx, req.Event()); err != nil {
			logrus.Warnf("clock: announce %s: %v", req, err)
		}
		d.snapshot()
		localErr = d.persister.SaveState(path)
	case sim.CheckpointLoad:
		localErr = d.persister.LoadState(path)
		req.SimTime = d.SimTime()
		if localErr == nil {
			at := req.SimTime
			d.skipSave = &at
		}
		if err := d.pub.Publish(ctx, req.Event()); err != nil {
			logrus.Warnf("clock: announce %s: %v", req, err)
		}
	}

	result := "ok"
	record := trace.CheckpointRecord{Kind: req.Kind.String(), Topic: req.EventTopic(), Path: req.Path, SimTime: req.SimTime}
	if localErr != nil {
		result = "error"
		record.Err = localErr.Error()
		logrus.Errorf("clock: %v", localErr)
	}
	metrics.CheckpointsTotal.WithLabelValues(req.Kind.String(), result).Inc()
	d.trace.RecordCheckpoint(record)

	logrus.Infof("clock: %s, waiting for %d persistent participants", req, d.checkpointExpected)
	if err := d.awaitExpected(ctx, barrier.CheckpointRound(req), d.checkpointExpected); err != nil {
		return err
	}
	if prev != StatePreparing {
		d.setState(prev)
	}
	return nil
}

func (d *Driver) await(ctx context.Context, round barrier.Round) error {
	return d.awaitExpected(ctx, round, d.startupExpected)
}

func (d *Driver) awaitExpected(ctx context.Context, round barrier.Round, expected int) error {
	sess, err := d.coord.Await(ctx, round, expected)
	d.trace.RecordRound(trace.RoundRecord{
		Round:    round.Name,
		SimTime:  round.SimTime,
		Seq:      round.Seq,
		Expected: sess.Expected(),
		Received: sess.Received(),
		Phase:    sess.Phase().String(),
		Wait:     sess.Wait(),
	})
	return err
}

func (d *Driver) snapshot() {
	d.saved = driverState{
		EndTime:     d.cfg.EndTime,
		StepSize:    d.cfg.StepSize,
		Current:     d.SimTime(),
		SpeedFactor: d.cfg.SpeedFactor,
		Breakpoints: slices.Clone(d.cfg.Breakpoints),
	}
	if d.sched != nil {
		d.saved.Schedule = d.sched.Entries()
	}
}

func (d *Driver) applySaved() error {
	s := d.saved
	if s.StepSize == 0 || s.SpeedFactor <= 0 {
		return fmt.Errorf("restored step size %d / speed factor %g", s.StepSize, s.SpeedFactor)
	}
	if d.sched != nil {
		if err := d.sched.Reset(s.Schedule); err != nil {
			return err
		}
	}
	d.cfg.EndTime = s.EndTime
	d.cfg.StepSize = s.StepSize
	d.cfg.SpeedFactor = s.SpeedFactor
	d.cfg.Breakpoints = s.Breakpoints
	d.breaksHit = make(map[uint64]bool)
	d.simTime.Store(s.Current)
	return nil
}

// stop publishes End, waits the grace delay, publishes EndLogger and
// releases the naming service. It runs once, whatever ended the run.
func (d *Driver) stop(ctx context.Context) {
	d.mu.Lock()
	d.stopped = true
	d.pending = nil
	d.mu.Unlock()
	d.setState(StateStopped)

	bg := context.WithoutCancel(ctx)
	now := d.SimTime()
	if now > d.cfg.EndTime {
		now = d.cfg.EndTime
	}
	if err := d.pub.Publish(bg, sim.NewEvent(sim.TopicEnd, now)); err != nil {
		logrus.Warnf("clock: publish End: %v", err)
	}
	_ = d.sleep(bg, d.cfg.GraceDelay)
	if err := d.pub.Publish(bg, sim.NewEvent(sim.TopicEndLogger, now)); err != nil {
		logrus.Warnf("clock: publish EndLogger: %v", err)
	}
	if d.releaser != nil {
		rctx, cancel := context.WithTimeout(bg, 5*time.Second)
		defer cancel()
		if err := d.releaser.Release(rctx); err != nil {
			logrus.Warnf("clock: release naming service: %v", err)
		}
	}

	if d.trace.Enabled() {
		s := trace.Summarize(d.trace)
		logrus.Infof("clock: %d barrier rounds (%d failed, max wait %v), %d saves, %d loads",
			s.TotalRounds, s.FailedRounds, s.MaxWait, s.Saves, s.Loads)
	}
	logrus.Infof("clock: stopped at %d", now)
}
