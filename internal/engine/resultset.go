package engine

import (
	"sync"

	"github.com/poltergeist/buildvision/pkg/types"
)

// ResultSet holds at most one result per project for the current session,
// in first-reference order.
type ResultSet struct {
	mu      sync.RWMutex
	byEntry map[*types.Project]*types.ProjectResult
	order   []*types.ProjectResult
}

// NewResultSet creates an empty set
func NewResultSet() *ResultSet {
	return &ResultSet{byEntry: make(map[*types.Project]*types.ProjectResult)}
}

// Get returns the result for p, creating a pending one on first reference
func (rs *ResultSet) Get(p *types.Project) *types.ProjectResult {
	rs.mu.RLock()
	r, ok := rs.byEntry[p]
	rs.mu.RUnlock()
	if ok {
		return r
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if r, ok := rs.byEntry[p]; ok {
		return r
	}
	r = types.NewProjectResult(p)
	rs.byEntry[p] = r
	rs.order = append(rs.order, r)
	return r
}

// Find returns the result for p without creating it
func (rs *ResultSet) Find(p *types.Project) (*types.ProjectResult, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.byEntry[p]
	return r, ok
}

// All returns the results in first-reference order
func (rs *ResultSet) All() []*types.ProjectResult {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]*types.ProjectResult, len(rs.order))
	copy(out, rs.order)
	return out
}

// Completed returns the results that reached a final state
func (rs *ResultSet) Completed() []*types.ProjectResult {
	var out []*types.ProjectResult
	for _, r := range rs.All() {
		if r.State().IsFinal() {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of results
func (rs *ResultSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.order)
}

// Reset drops every result
func (rs *ResultSet) Reset() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.byEntry = make(map[*types.Project]*types.ProjectResult)
	rs.order = nil
}
