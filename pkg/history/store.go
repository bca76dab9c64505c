// Package history keeps finished build sessions in a SQLite database.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/poltergeist/buildvision/pkg/types"
)

// ErrNotFound is returned when no record has the requested id
var ErrNotFound = errors.New("history record not found")

// Record is one finished build session
type Record struct {
	ID         string
	SessionID  string
	Action     types.BuildAction
	Scope      types.BuildScope
	Solution   string
	Outcome    string
	Cancelled  bool
	Errors     int
	Warnings   int
	Messages   int
	StartedAt  time.Time
	FinishedAt time.Time
	Projects   []ProjectRecord
}

// Duration returns the wall time of the session
func (r Record) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ProjectRecord is the final state of one project in a session
type ProjectRecord struct {
	UniqueName    string
	FullName      string
	Configuration string
	Platform      string
	State         types.ProjectState
	Errors        int
	Warnings      int
	Duration      time.Duration
}

// Store persists finished sessions
type Store interface {
	Append(ctx context.Context, snap types.SessionSnapshot) (*Record, error)
	Recent(ctx context.Context, limit int) ([]Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	Close() error
}

// FromSnapshot converts a finished session into a record without an id
func FromSnapshot(snap types.SessionSnapshot) Record {
	rec := Record{
		SessionID: snap.SessionID,
		Action:    snap.Action,
		Scope:     snap.Scope,
		Outcome:   snap.Outcome(),
		Cancelled: snap.Cancelled,
	}
	if snap.LastSolution != nil {
		rec.Solution = snap.LastSolution.FileName
	}
	if snap.StartTime != nil {
		rec.StartedAt = snap.StartTime.UTC()
	}
	if snap.FinishTime != nil {
		rec.FinishedAt = snap.FinishTime.UTC()
	}
	rec.Errors, rec.Warnings, rec.Messages = snap.DiagnosticTotals()

	for _, r := range snap.Results {
		box := r.Diagnostics()
		rec.Projects = append(rec.Projects, ProjectRecord{
			UniqueName:    r.Project.UniqueName,
			FullName:      r.Project.FullName,
			Configuration: r.Project.Configuration,
			Platform:      r.Project.Platform,
			State:         r.State(),
			Errors:        box.ErrorCount(),
			Warnings:      box.WarningCount(),
			Duration:      r.Duration(),
		})
	}
	return rec
}
