package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/poltergeist/buildvision/internal/engine"
	bvcontext "github.com/poltergeist/buildvision/pkg/context"
	"github.com/poltergeist/buildvision/pkg/events"
	"github.com/poltergeist/buildvision/pkg/interfaces"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/types"
)

// Result is the outcome of one replayed script
type Result struct {
	Snapshot types.SessionSnapshot
	// Errors are the transitions the session rejected, in order
	Errors   []error
}

// Runner replays scripts against one session. Scripts run one at a time;
// the session and its project registry persist between them.
type Runner struct {
	host       *Host
	session    *engine.Session
	dispatcher *engine.Dispatcher
	logger     logger.Logger

	runMu sync.Mutex

	errMu sync.Mutex
	errs  []error
}

// NewRunner creates the session and its dispatcher on top of host
func NewRunner(host *Host, bus *events.Bus, log logger.Logger, opts engine.Options) (*Runner, error) {
	r := &Runner{host: host, logger: log.WithComponent("replay")}
	session, err := engine.New(host.Dependencies(), bus, log, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	r.session = session
	r.dispatcher = engine.NewDispatcher(r.session, log, engine.DispatcherOptions{OnError: r.recordError})
	return r, nil
}

// Session returns the replayed session
func (r *Runner) Session() *engine.Session { return r.session }

// Dispatcher returns the session's dispatcher
func (r *Runner) Dispatcher() *engine.Dispatcher { return r.dispatcher }

func (r *Runner) recordError(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *Runner) takeErrors() []error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	errs := r.errs
	r.errs = nil
	return errs
}

// Run loads the script into the host and applies its steps in order
func (r *Runner) Run(ctx context.Context, script *Script) (*Result, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.host.Load(script)
	r.takeErrors()

	ctx = bvcontext.WithScript(ctx, script.Name)
	logger.WithContext(ctx, r.logger).Info("Replaying script", logger.WithField("steps", len(script.Steps)))

	for i, step := range script.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.apply(bvcontext.WithOperation(ctx, step.Kind()), step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Kind(), err)
		}
	}

	if err := r.dispatcher.Flush(ctx); err != nil {
		return nil, err
	}
	res := &Result{Snapshot: r.session.Snapshot(), Errors: r.takeErrors()}
	logger.WithContext(ctx, r.logger).Debug("Script replayed",
		logger.WithField("session_id", res.Snapshot.SessionID),
		logger.WithField("rejected", len(res.Errors)))
	return res, nil
}

func (r *Runner) apply(ctx context.Context, step Step) error {
	d := r.dispatcher
	switch {
	case step.Focus != nil:
		return d.PostFocus(*step.Focus)

	case step.SolutionBegin != nil:
		scope, action, err := engine.ParseSolutionBegin(step.SolutionBegin.Scope, step.SolutionBegin.Action)
		if err != nil {
			return err
		}
		if err := d.PostSolutionBegin(scope, action); err != nil {
			return err
		}
		// Logger callbacks need the registration made by solution-begin.
		return d.Flush(ctx)

	case step.ProjectBegin != nil:
		p := step.ProjectBegin
		return d.PostProjectBegin(p.Name, p.Configuration, p.Platform)

	case step.ProjectDone != nil:
		p := step.ProjectDone
		return d.PostProjectDone(p.Name, p.Configuration, p.Platform, p.Success)

	case step.SolutionDone != nil:
		return d.PostSolutionDone()

	case step.CancelRequest != nil:
		return d.PostCancelRequest()

	case step.CancelObserved != nil:
		return d.PostCancelObserved()

	case step.ProjectStarted != nil:
		if h := r.attached(ctx); h != nil {
			h.OnProjectStarted(*step.ProjectStarted)
		}
		return nil

	case step.Log != nil:
		evt, err := step.Log.Event()
		if err != nil {
			return err
		}
		h := r.attached(ctx)
		if h == nil {
			return nil
		}
		switch evt.Level {
		case types.LevelError:
			h.OnError(evt)
		case types.LevelWarning:
			h.OnWarning(evt)
		default:
			h.OnMessage(evt)
		}
		return nil

	case step.Wait != "":
		wait, err := time.ParseDuration(step.Wait)
		if err != nil {
			return err
		}
		if err := d.Flush(ctx); err != nil {
			return err
		}
		select {
		case <-time.After(wait):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: empty step", ErrInvalidScript)
}

func (r *Runner) attached(ctx context.Context) interfaces.LogHandler {
	h := r.host.Handler()
	if h == nil {
		logger.WithContext(ctx, r.logger).Warn("Build logger not attached; dropping logger event")
		return nil
	}
	return h
}

// Close stops the dispatcher after draining queued callbacks
func (r *Runner) Close(ctx context.Context) error {
	return r.dispatcher.Stop(ctx)
}
