package engine

import (
	"time"

	"github.com/poltergeist/buildvision/pkg/types"
)

// ID returns the id of the current or last session, empty before the first
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Phase returns the session phase
func (s *Session) Phase() types.BuildPhase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Action returns the build action of the session
func (s *Session) Action() types.BuildAction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.action
}

// Scope returns the build scope of the session
func (s *Session) Scope() types.BuildScope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope
}

// StartTime returns when the session began, or nil
func (s *Session) StartTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTime(s.start)
}

// FinishTime returns when the session finished, or nil while running
func (s *Session) FinishTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTime(s.finish)
}

// BuildIsCancelled reports a user cancel that was not requested internally
func (s *Session) BuildIsCancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userCancel && !s.internalCancel
}

// CancelFlags returns the raw user and internal cancel flags
func (s *Session) CancelFlags() (user, internal bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userCancel, s.internalCancel
}

// BuildingSolution returns the solution of the running build, or nil
func (s *Session) BuildingSolution() *types.Solution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySolution(s.buildingSolution)
}

// LastSolution returns the solution of the last finished build, or nil
func (s *Session) LastSolution() *types.Solution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySolution(s.lastSolution)
}

// ScopeProject returns the target of a project-scope build, or nil
func (s *Session) ScopeProject() *types.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scopeProject
}

// BuildingProjects returns the projects currently building
func (s *Session) BuildingProjects() []*types.Project {
	s.buildingMu.Lock()
	defer s.buildingMu.Unlock()
	out := make([]*types.Project, len(s.building))
	copy(out, s.building)
	return out
}

// Results returns every result of the session in first-reference order
func (s *Session) Results() []*types.ProjectResult {
	return s.results.All()
}

// CompletedResults returns the results that reached a final state
func (s *Session) CompletedResults() []*types.ProjectResult {
	return s.results.Completed()
}

// Result returns the result for a project, if the session referenced it
func (s *Session) Result(p *types.Project) (*types.ProjectResult, bool) {
	return s.results.Find(p)
}

// Snapshot returns a consistent read-only view of the session
func (s *Session) Snapshot() types.SessionSnapshot {
	s.mu.RLock()
	snap := types.SessionSnapshot{
		SessionID:        s.id,
		Phase:            s.phase,
		Action:           s.action,
		Scope:            s.scope,
		StartTime:        copyTime(s.start),
		FinishTime:       copyTime(s.finish),
		Cancelled:        s.userCancel || s.internalCancel,
		BuildingSolution: copySolution(s.buildingSolution),
		LastSolution:     copySolution(s.lastSolution),
		ScopeProject:     s.scopeProject,
	}
	s.mu.RUnlock()

	snap.Building = s.BuildingProjects()
	snap.Results = s.results.All()
	return snap
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copySolution(sol *types.Solution) *types.Solution {
	if sol == nil {
		return nil
	}
	v := *sol
	return &v
}
