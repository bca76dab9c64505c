// Package events defines the build lifecycle notifications and the
// in-process bus that fans them out to subscribers.
package events

import (
	"time"

	"github.com/poltergeist/buildvision/pkg/types"
)

// Event is implemented by every lifecycle notification. Subscribing to
// Event receives all of them.
type Event interface {
	Session() string
	Name() string
}

// BuildBegin is published once a solution-level build has been set up
type BuildBegin struct {
	SessionID string
	Action    types.BuildAction
	Scope     types.BuildScope
	Time      time.Time
}

// BuildProcess is the periodic heartbeat tick while a build runs
type BuildProcess struct {
	SessionID string
	Time      time.Time
}

// BuildDone is published after solution-done finalized the session.
// Snapshot is the finished session, taken under the session lock.
type BuildDone struct {
	SessionID string
	Time      time.Time
	Snapshot  types.SessionSnapshot
}

// BuildCancelled is published when a user cancel was observed
type BuildCancelled struct {
	SessionID string
	Time      time.Time
}

// ProjectBegin is published when the engine starts a project
type ProjectBegin struct {
	SessionID string
	Project   *types.Project
	State     types.ProjectState
	Time      time.Time
}

// ProjectDone is published with the classified result of a project
type ProjectDone struct {
	SessionID string
	Project   *types.Project
	State     types.ProjectState
	Time      time.Time
	Result    *types.ProjectResult
}

// DiagnosticRaised is published after a diagnostic was attached to a result
type DiagnosticRaised struct {
	SessionID  string
	Level      types.DiagnosticLevel
	Diagnostic types.Diagnostic
	Result     *types.ProjectResult
}

func (e BuildBegin) Session() string       { return e.SessionID }
func (e BuildProcess) Session() string     { return e.SessionID }
func (e BuildDone) Session() string        { return e.SessionID }
func (e BuildCancelled) Session() string   { return e.SessionID }
func (e ProjectBegin) Session() string     { return e.SessionID }
func (e ProjectDone) Session() string      { return e.SessionID }
func (e DiagnosticRaised) Session() string { return e.SessionID }

func (BuildBegin) Name() string       { return "build.begin" }
func (BuildProcess) Name() string     { return "build.process" }
func (BuildDone) Name() string        { return "build.done" }
func (BuildCancelled) Name() string   { return "build.cancelled" }
func (ProjectBegin) Name() string     { return "project.begin" }
func (ProjectDone) Name() string      { return "project.done" }
func (DiagnosticRaised) Name() string { return "diagnostic.raised" }
