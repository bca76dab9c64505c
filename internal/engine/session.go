// Package engine owns the build session state machine. Engine callbacks are
// applied by a single dispatcher goroutine; readers take snapshots through
// the session's getters.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/poltergeist/buildvision/pkg/buildlog"
	bvcontext "github.com/poltergeist/buildvision/pkg/context"
	"github.com/poltergeist/buildvision/pkg/events"
	"github.com/poltergeist/buildvision/pkg/interfaces"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/registry"
	"github.com/poltergeist/buildvision/pkg/types"
)

// DefaultPublishTimeout bounds how long a transition waits on slow subscribers
const DefaultPublishTimeout = 2 * time.Second

// Options tunes a session
type Options struct {
	Heartbeat      HeartbeatConfig
	PublishTimeout time.Duration
	Verbosity      types.Verbosity
	// Clock is used for event timestamps; defaults to time.Now
	Clock          func() time.Time
}

// Session is the authoritative state of the current build.
//
// Scalar fields are guarded by mu. The building set has its own lock, and
// results are guarded by ResultSet and the per-result locks.
type Session struct {
	model      interfaces.ProjectModel
	engine     interfaces.BuildEngine
	source     interfaces.LogSource
	registry   *registry.Registry
	correlator *buildlog.Correlator
	bus        *events.Bus
	logger     logger.Logger
	opts       Options

	mu               sync.RWMutex
	id               string
	phase            types.BuildPhase
	action           types.BuildAction
	scope            types.BuildScope
	start            *time.Time
	finish           *time.Time
	userCancel       bool
	internalCancel   bool
	buildingSolution *types.Solution
	lastSolution     *types.Solution
	scopeProject     *types.Project
	focus            *types.Window
	logHandler       interfaces.LogHandler
	heartbeat        *Heartbeat

	buildingMu sync.Mutex
	building   []*types.Project

	results *ResultSet
}

// New creates an idle session. The project model is required; a missing
// engine handle or log source degrades cancel and diagnostics.
func New(deps interfaces.SessionDependencies, bus *events.Bus, log logger.Logger, opts Options) (*Session, error) {
	if deps.ProjectModel == nil {
		return nil, fmt.Errorf("%w: project model", ErrMissingDependency)
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	opts.Heartbeat = opts.Heartbeat.withDefaults()

	log = log.WithComponent("session")
	reg := registry.New(deps.ProjectModel, log)
	correlator := buildlog.New(reg, log)
	correlator.SetVerbosity(opts.Verbosity)

	s := &Session{
		model:      deps.ProjectModel,
		engine:     deps.BuildEngine,
		source:     deps.LogSource,
		registry:   reg,
		correlator: correlator,
		bus:        bus,
		logger:     log,
		opts:       opts,
		phase:      types.BuildPhaseIdle,
		results:    NewResultSet(),
	}
	s.logHandler = correlator
	correlator.SetSink(s)
	return s, nil
}

// Registry returns the project identity registry
func (s *Session) Registry() *registry.Registry { return s.registry }

// Correlator returns the diagnostic log correlator
func (s *Session) Correlator() *buildlog.Correlator { return s.correlator }

// SetLogHandler replaces the handler registered with the engine's logger.
// The dispatcher installs itself here so logger callbacks are queued.
func (s *Session) SetLogHandler(h interfaces.LogHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logHandler = h
}

// SolutionBegin starts a new session, fully resetting the previous one
func (s *Session) SolutionBegin(scope types.BuildScope, action types.BuildAction) error {
	if action == types.BuildActionDeploy {
		s.logger.Debug("Ignoring deploy build")
		return nil
	}
	if err := validate(scope, action); err != nil {
		return err
	}

	s.mu.RLock()
	handler := s.logHandler
	previous := s.heartbeat
	s.mu.RUnlock()

	// A begin without a done leaves the old ticker running.
	previous.Stop()

	if err := s.correlator.Register(s.source, handler); err != nil {
		s.logger.Warn("Build logger not registered", logger.WithError(err))
	}

	var target *types.Project
	if scope == types.BuildScopeProject {
		target = s.resolveScopeTarget()
	}

	solution := s.model.Solution()
	now := s.opts.Clock()

	s.mu.Lock()
	s.id = bvcontext.NewSessionID()
	s.phase = types.BuildPhaseInProgress
	s.start = &now
	s.finish = nil
	s.action = action
	s.scope = scope
	s.scopeProject = target
	s.userCancel = false
	s.internalCancel = false
	s.buildingSolution = &solution
	s.heartbeat = nil
	id := s.id
	s.mu.Unlock()

	s.clearBuilding()
	s.results.Reset()

	s.logger.Info("Build started",
		logger.WithField("session_id", id),
		logger.WithField("action", action),
		logger.WithField("scope", scope))
	s.publish(events.BuildBegin{SessionID: id, Action: action, Scope: scope, Time: now})

	hb := StartHeartbeat(s.opts.Heartbeat, s.tick)
	s.mu.Lock()
	s.heartbeat = hb
	s.mu.Unlock()
	return nil
}

// ProjectBegin records that the engine started building a project
func (s *Session) ProjectBegin(name, configuration, platform string) error {
	action, scope := s.Action(), s.Scope()
	if action == types.BuildActionDeploy {
		return nil
	}

	p, err := s.resolveProject("project-begin", scope, name, configuration, platform)
	if err != nil {
		return err
	}

	s.addBuilding(p)

	state := types.ProjectStateBuilding
	if action == types.BuildActionClean {
		state = types.ProjectStateCleaning
	}
	now := s.opts.Clock()
	s.results.Get(p).Begin(state, now)

	s.logger.WithProject(p.Name()).Debug("Project started", logger.WithField("state", state))
	s.publish(events.ProjectBegin{SessionID: s.ID(), Project: p, State: state, Time: now})
	return nil
}

// ProjectDone records the outcome of a project and classifies it
func (s *Session) ProjectDone(name, configuration, platform string, success bool) error {
	action, scope := s.Action(), s.Scope()
	if action == types.BuildActionDeploy {
		return nil
	}

	p, err := s.resolveProject("project-done", scope, name, configuration, platform)
	if err != nil {
		return err
	}

	s.removeBuilding(p)

	r := s.results.Get(p)
	state := s.classify(action, p, r, success)
	now := s.opts.Clock()
	r.Finish(success, state, now)

	s.logger.WithProject(p.Name()).Debug("Project finished",
		logger.WithField("state", state),
		logger.WithField("success", success))
	s.publish(events.ProjectDone{SessionID: s.ID(), Project: p, State: state, Time: now, Result: r})
	return nil
}

// classify decides the final state of a finished project.
//
// A failed project with no errors while the user cancelled is reported as
// cancelled. The engine does not say which project the cancel hit, so a
// project that failed silently during an unrelated cancel is classified the
// same way.
func (s *Session) classify(action types.BuildAction, p *types.Project, r *types.ProjectResult, success bool) types.ProjectState {
	switch action {
	case types.BuildActionClean:
		if success {
			return types.ProjectStateCleanDone
		}
		return types.ProjectStateCleanError

	default:
		if success {
			if s.correlator.ReportsUpToDate(p.FullName) {
				// No work means no diagnostics this time; keep the last ones.
				r.ReplaceDiagnostics(p.LastDiagnostics().Clone())
				return types.ProjectStateUpToDate
			}
			p.SetLastDiagnostics(r.Diagnostics())
			return types.ProjectStateBuildDone
		}

		p.SetLastDiagnostics(r.Diagnostics())
		s.mu.RLock()
		cancelled := s.userCancel
		s.mu.RUnlock()
		if cancelled && r.Diagnostics().ErrorCount() == 0 {
			return types.ProjectStateBuildCancelled
		}
		return types.ProjectStateBuildError
	}
}

// SolutionDone finalizes the session. A done without a matching begin,
// as sent when debugging starts, is ignored.
func (s *Session) SolutionDone() error {
	s.mu.RLock()
	action, phase, hb := s.action, s.phase, s.heartbeat
	s.mu.RUnlock()

	if action == types.BuildActionDeploy {
		return nil
	}
	if phase != types.BuildPhaseInProgress {
		s.logger.Debug("Ignoring solution-done outside a build", logger.WithField("phase", phase))
		return nil
	}

	hb.Stop()

	now := s.opts.Clock()
	s.mu.Lock()
	s.heartbeat = nil
	s.lastSolution = s.buildingSolution
	s.buildingSolution = nil
	s.finish = &now
	s.phase = types.BuildPhaseDone
	id := s.id
	s.mu.Unlock()

	s.clearBuilding()

	snapshot := s.Snapshot()
	s.logger.Info(snapshot.Summary(), logger.WithField("session_id", id))
	s.publish(events.BuildDone{SessionID: id, Time: now, Snapshot: snapshot})
	return nil
}

// CancelBuild asks the engine to cancel the running build. It does nothing
// outside a build or when a cancel is already flagged. It reports whether
// the request was issued; failures are logged and leave state unchanged.
func (s *Session) CancelBuild() bool {
	s.mu.RLock()
	skip := s.phase != types.BuildPhaseInProgress || s.userCancel || s.internalCancel
	s.mu.RUnlock()
	if skip {
		return false
	}

	if s.engine == nil {
		s.logger.Error("Cannot cancel build without an engine handle")
		return false
	}
	if err := s.engine.CancelBuild(); err != nil {
		s.logger.Error("Cancel request rejected", logger.WithError(fmt.Errorf("%w: %v", ErrCancelFailed, err)))
		return false
	}

	s.mu.Lock()
	s.internalCancel = true
	s.mu.Unlock()
	s.logger.Info("Build cancel requested")
	return true
}

// CancelObserved records that a cancel command ran in the host. It
// notifies subscribers once, unless the cancel was requested internally.
func (s *Session) CancelObserved() {
	s.mu.Lock()
	already := s.userCancel
	s.userCancel = true
	internal := s.internalCancel
	id := s.id
	s.mu.Unlock()

	if already || internal {
		return
	}
	s.logger.Info("Build cancelled by user", logger.WithField("session_id", id))
	s.publish(events.BuildCancelled{SessionID: id, Time: s.opts.Clock()})
}

// OverrideBuildProperties replaces the action and/or scope of the running
// session. Nil leaves a value unchanged.
func (s *Session) OverrideBuildProperties(action *types.BuildAction, scope *types.BuildScope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if action != nil {
		s.action = *action
	}
	if scope != nil {
		s.scope = *scope
	}
}

// FocusChanged records the last focused window that can identify a
// project-scope build target. Other windows are ignored.
func (s *Session) FocusChanged(w types.Window) {
	switch {
	case w.Kind == types.WindowSolutionExplorer:
	case w.IsDocument() && w.Project != nil && !w.Project.Hidden:
	default:
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.focus = &w
}

func (s *Session) resolveScopeTarget() *types.Project {
	s.mu.RLock()
	focus := s.focus
	s.mu.RUnlock()

	if focus == nil {
		s.logger.Warn("Project build without a focus context; no scope target")
		return nil
	}

	var info *types.ProjectInfo
	switch {
	case focus.Kind == types.WindowSolutionExplorer:
		if len(focus.Selection) != 1 {
			s.logger.Warn("Solution explorer selection is ambiguous; no scope target",
				logger.WithField("selected", len(focus.Selection)))
			return nil
		}
		info = &focus.Selection[0]
	case focus.IsDocument():
		info = focus.Project
	default:
		s.logger.Warn("Unsupported focus window for project build", logger.WithField("kind", focus.Kind))
		return nil
	}
	if info == nil {
		return nil
	}

	p, ok := s.registry.Resolve(registry.ByUniqueName(info.UniqueName))
	if !ok {
		s.logger.Warn("Scope target not found in solution", logger.WithField("project", info.UniqueName))
		return nil
	}
	return p
}

func (s *Session) resolveProject(op string, scope types.BuildScope, name, configuration, platform string) (*types.Project, error) {
	if scope == types.BuildScopeBatch {
		return s.registry.ResolveForBatch(name, configuration, platform), nil
	}
	p, ok := s.registry.Resolve(registry.ByUniqueName(name))
	if !ok {
		return nil, invariantf(op, "project %q is not in the solution", name)
	}
	return p, nil
}

// AttachDiagnostic adds an accepted diagnostic to the project's result
func (s *Session) AttachDiagnostic(p *types.Project, d types.Diagnostic) {
	r := s.results.Get(p)
	r.Diagnostics().Add(d)
	s.publish(events.DiagnosticRaised{SessionID: s.ID(), Level: d.Level, Diagnostic: d, Result: r})
}

func (s *Session) tick(ctx context.Context, at time.Time) {
	s.publishContext(ctx, events.BuildProcess{SessionID: s.ID(), Time: at})
}

func (s *Session) publish(evt events.Event) {
	s.publishContext(context.Background(), evt)
}

// publishContext bounds delivery by PublishTimeout and by parent
func (s *Session) publishContext(parent context.Context, evt events.Event) {
	if s.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, s.opts.PublishTimeout)
	defer cancel()
	ctx = bvcontext.WithOperation(bvcontext.WithSession(ctx, evt.Session()), evt.Name())

	if err := s.bus.Publish(ctx, evt); err != nil {
		if parent.Err() != nil {
			logger.WithContext(ctx, s.logger).Debug("Event delivery abandoned",
				logger.WithField("event", evt.Name()))
			return
		}
		logger.WithContext(ctx, s.logger).Warn("Event not delivered",
			logger.WithField("event", evt.Name()),
			logger.WithError(err))
	}
}

func (s *Session) addBuilding(p *types.Project) {
	s.buildingMu.Lock()
	defer s.buildingMu.Unlock()
	for _, b := range s.building {
		if b == p {
			return
		}
	}
	s.building = append(s.building, p)
}

func (s *Session) removeBuilding(p *types.Project) {
	s.buildingMu.Lock()
	defer s.buildingMu.Unlock()
	for i, b := range s.building {
		if b == p {
			s.building = append(s.building[:i:i], s.building[i+1:]...)
			return
		}
	}
}

func (s *Session) clearBuilding() {
	s.buildingMu.Lock()
	defer s.buildingMu.Unlock()
	s.building = nil
}

func validate(scope types.BuildScope, action types.BuildAction) error {
	switch scope {
	case types.BuildScopeSolution, types.BuildScopeProject, types.BuildScopeBatch:
	default:
		return invariantf("solution-begin", "unknown build scope %q", scope)
	}
	switch action {
	case types.BuildActionBuild, types.BuildActionRebuild, types.BuildActionClean:
	default:
		return invariantf("solution-begin", "unknown build action %q", action)
	}
	return nil
}
