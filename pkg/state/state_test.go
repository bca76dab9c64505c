package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poltergeist/buildvision/pkg/events"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/types"
)

func newTestManager(t *testing.T) *StateManager {
	t.Helper()
	return NewStateManager(filepath.Join(t.TempDir(), "state"), logger.NewNopLogger())
}

func TestStateManager_ReadBeforeWrite(t *testing.T) {
	sm := newTestManager(t)
	if _, err := sm.Read(); !errors.Is(err, ErrNoState) {
		t.Errorf("expected ErrNoState, got %v", err)
	}
}

func TestStateManager_TracksSession(t *testing.T) {
	sm := newTestManager(t)
	begin := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	projA := types.NewProject(types.ProjectInfo{UniqueName: "ProjA"})
	projB := types.NewProject(types.ProjectInfo{UniqueName: "ProjB"})

	steps := []events.Event{
		events.BuildBegin{SessionID: "bs_1", Action: types.BuildActionRebuild, Scope: types.BuildScopeSolution, Time: begin},
		events.ProjectBegin{SessionID: "bs_1", Project: projA, State: types.ProjectStateBuilding},
		events.ProjectBegin{SessionID: "bs_1", Project: projB, State: types.ProjectStateBuilding},
		events.ProjectDone{SessionID: "bs_1", Project: projA, State: types.ProjectStateBuildDone},
	}
	for _, evt := range steps {
		if err := sm.Apply(evt); err != nil {
			t.Fatalf("apply %s: %v", evt.Name(), err)
		}
	}

	st, err := sm.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if st.Phase != types.BuildPhaseInProgress || st.Action != types.BuildActionRebuild {
		t.Errorf("unexpected state %+v", st)
	}
	if len(st.Building) != 1 || st.Building[0] != "ProjB" {
		t.Errorf("expected ProjB building, got %v", st.Building)
	}
	if st.ProcessID != os.Getpid() {
		t.Errorf("expected pid %d, got %d", os.Getpid(), st.ProcessID)
	}

	finish := begin.Add(4 * time.Second)
	rB := types.NewProjectResult(projB)
	rB.Diagnostics().Add(types.Diagnostic{Level: types.LevelError, Message: "broken"})
	rB.Finish(false, types.ProjectStateBuildError, finish)
	start := begin
	if err := sm.Apply(events.BuildDone{SessionID: "bs_1", Time: finish, Snapshot: types.SessionSnapshot{
		SessionID:    "bs_1",
		Action:       types.BuildActionRebuild,
		Scope:        types.BuildScopeSolution,
		StartTime:    &start,
		FinishTime:   &finish,
		Results:      []*types.ProjectResult{rB},
		LastSolution: &types.Solution{FileName: "All.sln"},
	}}); err != nil {
		t.Fatal(err)
	}

	st, err = sm.Read()
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase != types.BuildPhaseDone || st.Outcome != types.OutcomeFailed {
		t.Errorf("expected failed done session, got %s %s", st.Phase, st.Outcome)
	}
	if st.FinishTime == nil || !st.FinishTime.Equal(finish) {
		t.Errorf("unexpected finish time %v", st.FinishTime)
	}
	if len(st.Projects) != 1 || st.Projects[0].Errors != 1 {
		t.Errorf("unexpected projects %+v", st.Projects)
	}
	if st.Solution != "All.sln" || len(st.Building) != 0 {
		t.Errorf("unexpected final state %+v", st)
	}
	if _, err := os.Stat(sm.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestStateManager_IgnoresForeignSession(t *testing.T) {
	sm := newTestManager(t)
	if err := sm.Apply(events.BuildCancelled{SessionID: "bs_old"}); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.Read(); !errors.Is(err, ErrNoState) {
		t.Error("events without a begin must not create state")
	}
}

func TestStateManager_HeartbeatThrottled(t *testing.T) {
	sm := newTestManager(t)
	begin := time.Now()
	_ = sm.Apply(events.BuildBegin{SessionID: "bs_1", Action: types.BuildActionBuild, Scope: types.BuildScopeSolution, Time: begin})

	_ = sm.Apply(events.BuildProcess{SessionID: "bs_1", Time: begin.Add(100 * time.Millisecond)})
	st, _ := sm.Read()
	if !st.Heartbeat.Equal(begin) {
		t.Error("heartbeat within the throttle window must not be written")
	}

	later := begin.Add(2 * time.Second)
	_ = sm.Apply(events.BuildProcess{SessionID: "bs_1", Time: later})
	st, _ = sm.Read()
	if !st.Heartbeat.Equal(later) {
		t.Errorf("expected heartbeat %v, got %v", later, st.Heartbeat)
	}
	if !st.IsStale(later.Add(time.Minute), 10*time.Second) {
		t.Error("expected stale session")
	}
	if st.IsStale(later.Add(time.Second), 10*time.Second) {
		t.Error("fresh session reported stale")
	}
}

func TestStateManager_RunAndRemove(t *testing.T) {
	sm := newTestManager(t)
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.Run(ctx, bus) }()

	deadline := time.Now().Add(time.Second)
	for events.SubscriberCount[events.Event](bus) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := bus.Publish(context.Background(), events.BuildBegin{SessionID: "bs_7", Action: types.BuildActionClean, Time: time.Now()}); err != nil {
		t.Fatal(err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		if st, err := sm.Read(); err == nil && st.SessionID == "bs_7" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("state file not written")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := sm.Remove(); err != nil {
		t.Fatal(err)
	}
	if err := sm.Remove(); err != nil {
		t.Errorf("second remove: %v", err)
	}
}
