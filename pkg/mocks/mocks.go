// Package mocks provides test doubles for the host collaborators
package mocks

import (
	"sync"

	"github.com/poltergeist/buildvision/pkg/interfaces"
	"github.com/poltergeist/buildvision/pkg/types"
)

// MockProjectModel is an in-memory project model
type MockProjectModel struct {
	mu       sync.RWMutex
	projects []types.ProjectInfo
	solution types.Solution
	queries  int
}

// NewMockProjectModel creates a project model holding the given projects
func NewMockProjectModel(solution types.Solution, projects ...types.ProjectInfo) *MockProjectModel {
	return &MockProjectModel{
		projects: projects,
		solution: solution,
	}
}

// FindProject returns the first matching project
func (m *MockProjectModel) FindProject(match func(types.ProjectInfo) bool) (*types.ProjectInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries++
	for _, p := range m.projects {
		if match(p) {
			found := p
			return &found, true
		}
	}
	return nil, false
}

// Solution returns the loaded solution
func (m *MockProjectModel) Solution() types.Solution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.solution
}

// AddProject adds a project to the model
func (m *MockProjectModel) AddProject(p types.ProjectInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects = append(m.projects, p)
}

// Queries returns how many times FindProject was called
func (m *MockProjectModel) Queries() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queries
}

// MockLogSource records logger registrations and lets tests drive the
// attached handler directly.
type MockLogSource struct {
	mu        sync.Mutex
	handler   interfaces.LogHandler
	verbosity types.Verbosity
	attaches  int
	attachErr error
}

// NewMockLogSource creates a log source with nothing attached
func NewMockLogSource() *MockLogSource {
	return &MockLogSource{}
}

// Attach registers the handler. The first handler stays registered for the
// lifetime of the source, as the engine does.
func (m *MockLogSource) Attach(handler interfaces.LogHandler, verbosity types.Verbosity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attachErr != nil {
		return false, m.attachErr
	}
	m.attaches++
	m.verbosity = verbosity
	if m.handler != nil {
		return true, nil
	}
	m.handler = handler
	return false, nil
}

// SetAttachError makes every following Attach fail
func (m *MockLogSource) SetAttachError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachErr = err
}

// Handler returns the attached handler, or nil
func (m *MockLogSource) Handler() interfaces.LogHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

// Attaches returns the number of successful Attach calls
func (m *MockLogSource) Attaches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attaches
}

// Verbosity returns the verbosity of the last Attach
func (m *MockLogSource) Verbosity() types.Verbosity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verbosity
}

// ProjectStarted forwards a side-channel event to the attached handler
func (m *MockLogSource) ProjectStarted(e types.ProjectStarted) {
	if h := m.Handler(); h != nil {
		h.OnProjectStarted(e)
	}
}

// Raise forwards a log event to the attached handler by level
func (m *MockLogSource) Raise(e types.LogEvent) {
	h := m.Handler()
	if h == nil {
		return
	}
	switch e.Level {
	case types.LevelError:
		h.OnError(e)
	case types.LevelWarning:
		h.OnWarning(e)
	default:
		h.OnMessage(e)
	}
}

var (
	_ interfaces.ProjectModel = (*MockProjectModel)(nil)
	_ interfaces.LogSource    = (*MockLogSource)(nil)
)
