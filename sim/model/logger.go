package model

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/lockstep-sim/lockstep/sim"
	"github.com/lockstep-sim/lockstep/sim/metrics"
)

// LoggerKind is the registered kind of Logger.
const LoggerKind = "logger"

func init() {
	Register(LoggerKind, func(spec Spec) (sim.Participant, error) {
		var opts LoggerOptions
		if err := spec.DecodeOptions(&opts); err != nil {
			return nil, err
		}
		return NewLogger(spec.Name, opts)
	})
}

// LoggerOptions configure the logging participant.
type LoggerOptions struct {
	// File receives the log; empty means stderr.
	File string `yaml:"file"`
	// Level is the minimum level written (default info).
	Level  string `yaml:"level"`
	Buffer int    `yaml:"buffer"`
}

var logLevels = map[string]logrus.Level{
	sim.TopicLogTrace:   logrus.TraceLevel,
	sim.TopicLogDebug:   logrus.DebugLevel,
	sim.TopicLogInfo:    logrus.InfoLevel,
	sim.TopicLogWarning: logrus.WarnLevel,
	sim.TopicLogError:   logrus.ErrorLevel,
	sim.TopicLogFatal:   logrus.FatalLevel,
}

// Logger writes the Log* events of a run. Writing happens on its own
// goroutine so the receive loop never waits on I/O. It stops on EndLogger,
// after the driver's End, so late log lines still land.
type Logger struct {
	name  string
	out   *logrus.Logger
	file  io.Closer
	queue chan sim.Event

	start sync.Once
	stop  sync.Once
	done  chan struct{}
}

// NewLogger creates the logging participant.
func NewLogger(name string, opts LoggerOptions) (*Logger, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		var err error
		if level, err = logrus.ParseLevel(opts.Level); err != nil {
			return nil, err
		}
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}

	out := logrus.New()
	out.SetLevel(level)
	out.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l := &Logger{
		name:  name,
		out:   out,
		queue: make(chan sim.Event, opts.Buffer),
		done:  make(chan struct{}),
	}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out.SetOutput(f)
		l.file = f
	} else {
		out.SetOutput(os.Stderr)
	}
	return l, nil
}

// SetOutput redirects the log, e.g. to a buffer in tests.
func (l *Logger) SetOutput(w io.Writer) { l.out.SetOutput(w) }

func (l *Logger) Name() string { return l.name }

func (l *Logger) Topics() []string { return sim.LogTopics }

// StopTopic implements sim.Stopper.
func (l *Logger) StopTopic() string { return sim.TopicEndLogger }

// Init starts the writer goroutine.
func (l *Logger) Init(context.Context) error {
	l.start.Do(func() { go l.drain() })
	return nil
}

func (l *Logger) drain() {
	defer close(l.done)
	for ev := range l.queue {
		msg, _ := ev.Payload.AsString()
		l.out.WithField("sim_time", ev.Timestamp).Log(logLevels[ev.Name], msg)
	}
}

// HandleEvent queues a log event. A full queue drops the line.
func (l *Logger) HandleEvent(_ context.Context, ev sim.Event, _ sim.Publisher) error {
	if _, ok := logLevels[ev.Name]; !ok {
		return nil
	}
	if _, ok := ev.Payload.AsString(); !ok {
		return fmt.Errorf("%s without string payload", ev.Name)
	}
	select {
	case l.queue <- ev:
		return nil
	default:
		metrics.EventsDroppedTotal.WithLabelValues("backpressure").Inc()
		return fmt.Errorf("log queue full, dropped %s", ev)
	}
}

// Close flushes queued lines and closes the log file.
func (l *Logger) Close() error {
	var err error
	l.stop.Do(func() {
		close(l.queue)
		l.start.Do(func() { go l.drain() })
		<-l.done
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}
