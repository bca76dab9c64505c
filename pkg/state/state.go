// Package state keeps the current or last build session in a JSON file so
// other processes can read it.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/poltergeist/buildvision/pkg/events"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/types"
)

// FileName is the name of the state file inside the state directory
const FileName = "session.json"

// ErrNoState is returned by Read before any session was written
var ErrNoState = errors.New("no build session state")

// SessionState is the persisted view of a build session
type SessionState struct {
	SessionID  string            `json:"sessionId"`
	Phase      types.BuildPhase  `json:"phase"`
	Action     types.BuildAction `json:"action"`
	Scope      types.BuildScope  `json:"scope"`
	Solution   string            `json:"solution,omitempty"`
	StartTime  time.Time         `json:"startTime"`
	FinishTime *time.Time        `json:"finishTime,omitempty"`
	Cancelled  bool              `json:"cancelled"`
	Outcome    string            `json:"outcome,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	ProcessID  int               `json:"processId"`
	Heartbeat  time.Time         `json:"heartbeat"`
	Building   []string          `json:"building,omitempty"`
	Projects   []ProjectStatus   `json:"projects,omitempty"`
}

// ProjectStatus is one project's result in the state file
type ProjectStatus struct {
	Name     string             `json:"name"`
	State    types.ProjectState `json:"state"`
	Errors   int                `json:"errors"`
	Warnings int                `json:"warnings"`
}

// IsStale reports whether a running session stopped sending heartbeats
func (s *SessionState) IsStale(now time.Time, threshold time.Duration) bool {
	return s.Phase == types.BuildPhaseInProgress && now.Sub(s.Heartbeat) > threshold
}

// StateManager writes the session state file
type StateManager struct {
	stateDir string
	logger   logger.Logger

	mu        sync.Mutex
	current   *SessionState
	lastWrite time.Time

	// heartbeat-only writes are throttled to this interval
	minHeartbeatWrite time.Duration
}

// NewStateManager creates a manager writing into stateDir
func NewStateManager(stateDir string, log logger.Logger) *StateManager {
	return &StateManager{
		stateDir:          stateDir,
		logger:            log.WithComponent("state"),
		minHeartbeatWrite: time.Second,
	}
}

// Path returns the state file path
func (sm *StateManager) Path() string {
	return filepath.Join(sm.stateDir, FileName)
}

// Read loads the state file
func (sm *StateManager) Read() (*SessionState, error) {
	return ReadFile(sm.Path())
}

// ReadFile loads a state file from path
func ReadFile(path string) (*SessionState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &st, nil
}

// Remove deletes the state file
func (sm *StateManager) Remove() error {
	if err := os.Remove(sm.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// Run applies bus events to the state file until ctx is done or the bus closes
func (sm *StateManager) Run(ctx context.Context, bus *events.Bus) error {
	ch, unsubscribe := events.Subscribe[events.Event](bus, 128)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if err := sm.Apply(evt); err != nil {
				sm.logger.Warn("Failed to update state file",
					logger.WithField("event", evt.Name()),
					logger.WithError(err))
			}
		}
	}
}

// Apply updates the state with one event and saves it
func (sm *StateManager) Apply(evt events.Event) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if b, ok := evt.(events.BuildBegin); ok {
		sm.current = &SessionState{
			SessionID: b.SessionID,
			Phase:     types.BuildPhaseInProgress,
			Action:    b.Action,
			Scope:     b.Scope,
			StartTime: b.Time,
			ProcessID: os.Getpid(),
			Heartbeat: b.Time,
		}
		return sm.save()
	}

	st := sm.current
	if st == nil || st.SessionID != evt.Session() {
		// Events of a session that began before this process subscribed.
		return nil
	}

	switch e := evt.(type) {
	case events.BuildProcess:
		st.Heartbeat = e.Time
		if e.Time.Sub(sm.lastWrite) < sm.minHeartbeatWrite {
			return nil
		}
	case events.ProjectBegin:
		st.Building = appendUnique(st.Building, e.Project.UniqueName)
	case events.ProjectDone:
		st.Building = removeName(st.Building, e.Project.UniqueName)
		status := ProjectStatus{Name: e.Project.UniqueName, State: e.State}
		if e.Result != nil {
			status.Errors = e.Result.Diagnostics().ErrorCount()
			status.Warnings = e.Result.Diagnostics().WarningCount()
		}
		st.Projects = append(st.Projects, status)
	case events.BuildCancelled:
		st.Cancelled = true
	case events.BuildDone:
		snap := e.Snapshot
		finish := e.Time
		st.Phase = types.BuildPhaseDone
		st.FinishTime = &finish
		st.Cancelled = snap.Cancelled
		st.Outcome = snap.Outcome()
		st.Summary = snap.Summary()
		st.Building = nil
		if snap.LastSolution != nil {
			st.Solution = snap.LastSolution.FileName
		}
		st.Projects = st.Projects[:0]
		for _, r := range snap.Results {
			st.Projects = append(st.Projects, ProjectStatus{
				Name:     r.Project.UniqueName,
				State:    r.State(),
				Errors:   r.Diagnostics().ErrorCount(),
				Warnings: r.Diagnostics().WarningCount(),
			})
		}
	default:
		return nil
	}
	return sm.save()
}

func (sm *StateManager) save() error {
	if err := os.MkdirAll(sm.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(sm.current, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	stateFile := sm.Path()
	tempFile := stateFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tempFile, stateFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	sm.lastWrite = sm.current.Heartbeat
	return nil
}

func appendUnique(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}

func removeName(names []string, name string) []string {
	for i, n := range names {
		if n == name {
			return append(names[:i:i], names[i+1:]...)
		}
	}
	return names
}
