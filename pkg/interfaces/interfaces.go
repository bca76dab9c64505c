// Package interfaces provides the host collaborators the build session
// consumes. Hosts inject implementations; nothing here is reached through
// globals.
package interfaces

import (
	"github.com/poltergeist/buildvision/pkg/types"
)

// ProjectModel is the host's authoritative view of the loaded solution
type ProjectModel interface {
	// FindProject returns the first project for which match returns true.
	// ProjectInfo carries the project's active configuration and platform.
	FindProject(match func(types.ProjectInfo) bool) (*types.ProjectInfo, bool)
	// Solution describes the currently loaded solution
	Solution() types.Solution
}

// BuildEngine is the host's handle on the running build
type BuildEngine interface {
	// CancelBuild asks the engine to cancel. It returns once the request
	// is issued; the build finishes asynchronously.
	CancelBuild() error
}

// LogHandler receives verified-or-not raw logger callbacks
type LogHandler interface {
	OnProjectStarted(e types.ProjectStarted)
	OnMessage(e types.LogEvent)
	OnWarning(e types.LogEvent)
	OnError(e types.LogEvent)
}

// LogSource is the engine's logger registration API
type LogSource interface {
	// Attach registers handler at the given verbosity. alreadyAttached is
	// true when a handler from an earlier build is still registered; the
	// engine keeps that one and the caller should reset its bookkeeping.
	Attach(handler LogHandler, verbosity types.Verbosity) (alreadyAttached bool, err error)
}

// SessionDependencies contains the host collaborators for a build session
type SessionDependencies struct {
	ProjectModel ProjectModel
	BuildEngine  BuildEngine
	LogSource    LogSource
}
