package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/poltergeist/buildvision/pkg/interfaces"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/types"
)

// DefaultQueueSize is the dispatcher's buffered event capacity
const DefaultQueueSize = 1024

// SolutionBeginEvent is the engine's solution-level build begin
type SolutionBeginEvent struct {
	Scope  types.BuildScope
	Action types.BuildAction
}

// ProjectBeginEvent is the engine's project begin
type ProjectBeginEvent struct {
	Name          string
	Configuration string
	Platform      string
}

// ProjectDoneEvent is the engine's project done
type ProjectDoneEvent struct {
	Name          string
	Configuration string
	Platform      string
	Success       bool
}

// SolutionDoneEvent is the engine's solution-level build done
type SolutionDoneEvent struct{}

// CancelRequestEvent asks the session to cancel the build
type CancelRequestEvent struct{}

// CancelObservedEvent reports that a cancel command ran in the host
type CancelObservedEvent struct{}

// FocusEvent reports a host window activation
type FocusEvent struct {
	Window types.Window
}

// ProjectStartedEvent is the logger side channel for a project instance
type ProjectStartedEvent struct {
	Started types.ProjectStarted
}

// DiagnosticEvent is a raw logger message, warning or error
type DiagnosticEvent struct {
	Log types.LogEvent
}

type flushEvent struct {
	done chan struct{}
}

// DispatcherOptions tunes the dispatcher
type DispatcherOptions struct {
	QueueSize int

	// OnError receives transition errors after they are logged
	OnError func(error)
}

// Dispatcher serializes every engine callback onto one goroutine, which is
// the only writer of session state.
type Dispatcher struct {
	session *Session
	logger  logger.Logger
	onError func(error)

	queue chan interface{}
	done  chan struct{}

	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher starts a dispatcher for the session and routes the
// session's logger registration through it.
func NewDispatcher(session *Session, log logger.Logger, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	d := &Dispatcher{
		session: session,
		logger:  log.WithComponent("dispatcher"),
		onError: opts.OnError,
		queue:   make(chan interface{}, opts.QueueSize),
		done:    make(chan struct{}),
	}
	session.SetLogHandler(d)
	go d.loop()
	return d
}

// Session returns the session the dispatcher drives
func (d *Dispatcher) Session() *Session { return d.session }

func (d *Dispatcher) loop() {
	defer close(d.done)
	for evt := range d.queue {
		if f, ok := evt.(flushEvent); ok {
			close(f.done)
			continue
		}
		d.apply(evt)
	}
}

func (d *Dispatcher) apply(evt interface{}) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic in build event handler recovered",
				logger.WithField("event", fmt.Sprintf("%T", evt)),
				logger.WithField("panic", r),
				logger.WithField("stack_trace", string(debug.Stack())))
			d.report(fmt.Errorf("%T: handler panic: %v", evt, r))
		}
	}()

	s := d.session
	var err error
	switch e := evt.(type) {
	case SolutionBeginEvent:
		err = s.SolutionBegin(e.Scope, e.Action)
	case ProjectBeginEvent:
		err = s.ProjectBegin(e.Name, e.Configuration, e.Platform)
	case ProjectDoneEvent:
		err = s.ProjectDone(e.Name, e.Configuration, e.Platform, e.Success)
	case SolutionDoneEvent:
		err = s.SolutionDone()
	case CancelRequestEvent:
		s.CancelBuild()
	case CancelObservedEvent:
		s.CancelObserved()
	case FocusEvent:
		s.FocusChanged(e.Window)
	case ProjectStartedEvent:
		s.correlator.OnProjectStarted(e.Started)
	case DiagnosticEvent:
		switch e.Log.Level {
		case types.LevelError:
			s.correlator.OnError(e.Log)
		case types.LevelWarning:
			s.correlator.OnWarning(e.Log)
		default:
			s.correlator.OnMessage(e.Log)
		}
	default:
		err = fmt.Errorf("unknown build event %T", evt)
	}

	if err != nil {
		d.logger.Error("Build event rejected",
			logger.WithField("event", fmt.Sprintf("%T", evt)),
			logger.WithError(err))
		d.report(err)
	}
}

func (d *Dispatcher) report(err error) {
	if d.onError != nil {
		d.onError(err)
	}
}

// Post enqueues an event. It blocks while the queue is full and fails
// once the dispatcher is stopped.
func (d *Dispatcher) Post(evt interface{}) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrSessionStopped
	}
	d.queue <- evt
	return nil
}

// PostSolutionBegin enqueues a solution begin
func (d *Dispatcher) PostSolutionBegin(scope types.BuildScope, action types.BuildAction) error {
	return d.Post(SolutionBeginEvent{Scope: scope, Action: action})
}

// PostProjectBegin enqueues a project begin
func (d *Dispatcher) PostProjectBegin(name, configuration, platform string) error {
	return d.Post(ProjectBeginEvent{Name: name, Configuration: configuration, Platform: platform})
}

// PostProjectDone enqueues a project done
func (d *Dispatcher) PostProjectDone(name, configuration, platform string, success bool) error {
	return d.Post(ProjectDoneEvent{Name: name, Configuration: configuration, Platform: platform, Success: success})
}

// PostSolutionDone enqueues a solution done
func (d *Dispatcher) PostSolutionDone() error {
	return d.Post(SolutionDoneEvent{})
}

// PostCancelRequest enqueues a cancel request
func (d *Dispatcher) PostCancelRequest() error {
	return d.Post(CancelRequestEvent{})
}

// PostCancelObserved enqueues an observed host cancel
func (d *Dispatcher) PostCancelObserved() error {
	return d.Post(CancelObservedEvent{})
}

// PostFocus enqueues a window activation
func (d *Dispatcher) PostFocus(w types.Window) error {
	return d.Post(FocusEvent{Window: w})
}

// OnProjectStarted queues the logger side channel event
func (d *Dispatcher) OnProjectStarted(e types.ProjectStarted) {
	d.postLog(ProjectStartedEvent{Started: e})
}

// OnMessage queues a logger message
func (d *Dispatcher) OnMessage(e types.LogEvent) {
	e.Level = types.LevelMessage
	d.postLog(DiagnosticEvent{Log: e})
}

// OnWarning queues a logger warning
func (d *Dispatcher) OnWarning(e types.LogEvent) {
	e.Level = types.LevelWarning
	d.postLog(DiagnosticEvent{Log: e})
}

// OnError queues a logger error
func (d *Dispatcher) OnError(e types.LogEvent) {
	e.Level = types.LevelError
	d.postLog(DiagnosticEvent{Log: e})
}

func (d *Dispatcher) postLog(evt interface{}) {
	if err := d.Post(evt); err != nil {
		d.logger.Debug("Dropping logger event", logger.WithError(err))
	}
}

// Flush waits until every event posted before the call has been applied
func (d *Dispatcher) Flush(ctx context.Context) error {
	f := flushEvent{done: make(chan struct{})}
	if err := d.Post(f); err != nil {
		return err
	}
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new events, drains the queue and stops a running heartbeat
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.session.mu.RLock()
	hb := d.session.heartbeat
	d.session.mu.RUnlock()
	hb.Stop()
	return nil
}

var _ interfaces.LogHandler = (*Dispatcher)(nil)
