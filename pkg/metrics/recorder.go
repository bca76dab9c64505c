// Package metrics records build session observability data.
package metrics

import (
	"time"

	"github.com/poltergeist/buildvision/pkg/types"
)

// Recorder receives build measurements. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ObserveSessionDuration(action types.BuildAction, d time.Duration)
	IncSessionOutcome(outcome string)
	IncProjectState(state types.ProjectState)
	ObserveProjectDuration(state types.ProjectState, d time.Duration)
	IncDiagnostic(level types.DiagnosticLevel)
	IncCancellation()
	SetBuildingProjects(n int)
	IncHeartbeat()
}

// NoopRecorder discards every measurement
type NoopRecorder struct{}

func (NoopRecorder) ObserveSessionDuration(types.BuildAction, time.Duration)  {}
func (NoopRecorder) IncSessionOutcome(string)                                 {}
func (NoopRecorder) IncProjectState(types.ProjectState)                       {}
func (NoopRecorder) ObserveProjectDuration(types.ProjectState, time.Duration) {}
func (NoopRecorder) IncDiagnostic(types.DiagnosticLevel)                      {}
func (NoopRecorder) IncCancellation()                                         {}
func (NoopRecorder) SetBuildingProjects(int)                                  {}
func (NoopRecorder) IncHeartbeat()                                            {}
