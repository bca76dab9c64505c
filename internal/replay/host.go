package replay

import (
	"errors"
	"sync"

	"github.com/poltergeist/buildvision/pkg/interfaces"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/types"
)

// ErrCancelRejected is what the host returns when scripted to fail a cancel
var ErrCancelRejected = errors.New("cancel command not available")

// Host is the scripted IDE. Projects accumulate across loaded scripts, so a
// long-running session keeps resolving the same entities.
type Host struct {
	logger logger.Logger

	mu          sync.RWMutex
	solution    types.Solution
	projects    []types.ProjectInfo
	handler     interfaces.LogHandler
	verbosity   types.Verbosity
	cancelFails bool
	cancels     int
}

// NewHost creates an empty host
func NewHost(log logger.Logger) *Host {
	return &Host{logger: log.WithComponent("host")}
}

// Load merges the script's solution and projects into the host
func (h *Host) Load(script *Script) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if script.Solution.FullName != "" || script.Solution.FileName != "" {
		h.solution = script.Solution
	}
	for _, p := range script.Projects {
		h.upsertLocked(p)
	}
	h.cancelFails = script.CancelFails
}

func (h *Host) upsertLocked(p types.ProjectInfo) {
	for i := range h.projects {
		if h.projects[i].UniqueName == p.UniqueName {
			h.projects[i] = p
			return
		}
	}
	h.projects = append(h.projects, p)
}

// FindProject returns the first project the predicate accepts
func (h *Host) FindProject(match func(types.ProjectInfo) bool) (*types.ProjectInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, p := range h.projects {
		if match(p) {
			found := p
			return &found, true
		}
	}
	return nil, false
}

// Solution returns the loaded solution
func (h *Host) Solution() types.Solution {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.solution
}

// Attach registers the logger handler. Like the engine, a second attach
// is reported and the first handler kept.
func (h *Host) Attach(handler interfaces.LogHandler, verbosity types.Verbosity) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handler != nil {
		return true, nil
	}
	h.handler = handler
	h.verbosity = verbosity
	h.logger.Debug("Build logger attached", logger.WithField("verbosity", verbosity))
	return false, nil
}

// Handler returns the attached logger handler, or nil
func (h *Host) Handler() interfaces.LogHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handler
}

// CancelBuild runs the host's cancel command
func (h *Host) CancelBuild() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelFails {
		return ErrCancelRejected
	}
	h.cancels++
	return nil
}

// Cancels returns how many cancel commands were accepted
func (h *Host) Cancels() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cancels
}

// Dependencies returns the host as the session's collaborators
func (h *Host) Dependencies() interfaces.SessionDependencies {
	return interfaces.SessionDependencies{
		ProjectModel: h,
		BuildEngine:  h,
		LogSource:    h,
	}
}

var (
	_ interfaces.ProjectModel = (*Host)(nil)
	_ interfaces.LogSource    = (*Host)(nil)
	_ interfaces.BuildEngine  = (*Host)(nil)
)
