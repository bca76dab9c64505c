package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/buildvision/pkg/events"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func snapshot(id string, finish time.Time, states ...types.ProjectState) types.SessionSnapshot {
	start := finish.Add(-3 * time.Second)
	snap := types.SessionSnapshot{
		SessionID:    id,
		Phase:        types.BuildPhaseDone,
		Action:       types.BuildActionBuild,
		Scope:        types.BuildScopeSolution,
		StartTime:    &start,
		FinishTime:   &finish,
		LastSolution: &types.Solution{FullName: "/src/All.sln", FileName: "All.sln"},
	}
	for i, state := range states {
		p := types.NewProject(types.ProjectInfo{
			UniqueName:    string(rune('A' + i)),
			FullName:      "/src/" + string(rune('A'+i)) + ".csproj",
			Configuration: "Debug",
			Platform:      "Any CPU",
		})
		r := types.NewProjectResult(p)
		r.Begin(types.ProjectStateBuilding, start)
		if state == types.ProjectStateBuildError {
			r.Diagnostics().Add(types.Diagnostic{Level: types.LevelError, Message: "boom"})
		}
		r.Finish(!state.IsFailure(), state, finish)
		snap.Results = append(snap.Results, r)
	}
	return snap
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(dir, "nested", "history.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "nested"))
	assert.NoError(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.migrate(context.Background()))
}

func TestAppendAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	finish := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rec, err := s.Append(ctx, snapshot("bs_1", finish, types.ProjectStateBuildDone, types.ProjectStateBuildError))
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	assert.Equal(t, types.OutcomeFailed, rec.Outcome)
	assert.Equal(t, 1, rec.Errors)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "bs_1", got.SessionID)
	assert.Equal(t, "All.sln", got.Solution)
	assert.Equal(t, 3*time.Second, got.Duration())
	require.Len(t, got.Projects, 2)
	assert.Equal(t, "A", got.Projects[0].UniqueName)
	assert.Equal(t, types.ProjectStateBuildError, got.Projects[1].State)
	assert.Equal(t, 1, got.Projects[1].Errors)
	assert.Equal(t, 3*time.Second, got.Projects[1].Duration)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRecent_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"bs_1", "bs_2", "bs_3"} {
		_, err := s.Append(ctx, snapshot(id, base.Add(time.Duration(i)*time.Minute), types.ProjectStateUpToDate))
		require.NoError(t, err)
	}

	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "bs_3", recent[0].SessionID)
	assert.Equal(t, "bs_2", recent[1].SessionID)
	assert.Equal(t, types.OutcomeSucceeded, recent[0].Outcome)
	assert.Empty(t, recent[0].Projects)
}

func TestRecorder_AppendsBuildDone(t *testing.T) {
	s := newTestStore(t)
	bus := events.NewBus()
	r := NewRecorder(s, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, bus) }()

	require.Eventually(t, func() bool {
		return events.SubscriberCount[events.BuildDone](bus) == 1
	}, time.Second, 5*time.Millisecond)

	snap := snapshot("bs_9", time.Now(), types.ProjectStateBuildCancelled)
	snap.Cancelled = true
	require.NoError(t, bus.Publish(context.Background(), events.BuildDone{SessionID: "bs_9", Snapshot: snap}))

	require.Eventually(t, func() bool {
		recent, err := s.Recent(context.Background(), 5)
		return err == nil && len(recent) == 1 && recent[0].Outcome == types.OutcomeCancelled
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	bus.Close()
}
