package replay_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poltergeist/buildvision/internal/engine"
	"github.com/poltergeist/buildvision/internal/replay"
	"github.com/poltergeist/buildvision/pkg/events"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/types"
)

func newRunner(t *testing.T) (*replay.Runner, *replay.Host) {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	host := replay.NewHost(logger.NewNopLogger())
	r, err := replay.NewRunner(host, bus, logger.NewNopLogger(), engine.Options{
		Heartbeat:      engine.HeartbeatConfig{Quantum: time.Hour, Quanta: 1},
		PublishTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r, host
}

func run(t *testing.T, r *replay.Runner, path string) *replay.Result {
	t.Helper()
	script, err := replay.LoadScript(path)
	if err != nil {
		t.Fatalf("load %s: %v", path, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := r.Run(ctx, script)
	if err != nil {
		t.Fatalf("run %s: %v", path, err)
	}
	return res
}

type nopHandler struct{}

func (*nopHandler) OnProjectStarted(types.ProjectStarted) {}
func (*nopHandler) OnMessage(types.LogEvent)              {}
func (*nopHandler) OnWarning(types.LogEvent)              {}
func (*nopHandler) OnError(types.LogEvent)                {}

func stateOf(snap types.SessionSnapshot, name string) types.ProjectState {
	for _, r := range snap.Results {
		if r.Project.UniqueName == name {
			return r.State()
		}
	}
	return ""
}

func TestRun_FailedBuild(t *testing.T) {
	r, _ := newRunner(t)
	res := run(t, r, "testdata/failed.yaml")

	if len(res.Errors) != 0 {
		t.Fatalf("unexpected transition errors: %v", res.Errors)
	}
	snap := res.Snapshot
	if snap.Phase != types.BuildPhaseDone {
		t.Errorf("expected done, got %s", snap.Phase)
	}
	if got := stateOf(snap, "ProjA"); got != types.ProjectStateBuildError {
		t.Errorf("ProjA: expected build-error, got %s", got)
	}
	if got := stateOf(snap, "ProjB"); got != types.ProjectStateBuildDone {
		t.Errorf("ProjB: expected build-done, got %s", got)
	}
	errs, warns, _ := snap.DiagnosticTotals()
	if errs != 1 || warns != 1 {
		t.Errorf("expected 1 error and 1 warning, got %d/%d", errs, warns)
	}
	if snap.Outcome() != types.OutcomeFailed {
		t.Errorf("expected failed outcome, got %s", snap.Outcome())
	}
}

func TestRun_UpToDateKeepsDiagnosticsAcrossScripts(t *testing.T) {
	r, _ := newRunner(t)
	run(t, r, "testdata/failed.yaml")

	res := run(t, r, "testdata/uptodate.json")
	if got := stateOf(res.Snapshot, "ProjA"); got != types.ProjectStateUpToDate {
		t.Fatalf("expected up-to-date, got %s", got)
	}
	// The project registry survives between scripts, so the previous
	// build's diagnostics are still reported.
	errs, _, _ := res.Snapshot.DiagnosticTotals()
	if errs != 1 {
		t.Errorf("expected carried error, got %d", errs)
	}
}

func TestRun_UserCancel(t *testing.T) {
	r, host := newRunner(t)
	res := run(t, r, "testdata/cancelled.yaml")

	if !res.Snapshot.Cancelled {
		t.Error("expected cancelled snapshot")
	}
	if got := stateOf(res.Snapshot, "ProjA"); got != types.ProjectStateBuildCancelled {
		t.Errorf("expected build-cancelled, got %s", got)
	}
	if host.Cancels() != 0 {
		t.Error("a user cancel must not issue a cancel command")
	}
}

func TestRun_CancelRequest(t *testing.T) {
	tests := []struct {
		name        string
		cancelFails bool
		wantCancels int
		wantFlagged bool
	}{
		{"accepted", false, 1, true},
		{"rejected", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, host := newRunner(t)
			script := &replay.Script{
				Solution:    types.Solution{FullName: "/src/All.sln", FileName: "All.sln"},
				Projects:    []types.ProjectInfo{{UniqueName: "ProjA", FullName: "/src/ProjA/ProjA.csproj"}},
				CancelFails: tt.cancelFails,
				Steps: []replay.Step{
					{SolutionBegin: &replay.SolutionBeginStep{Scope: "solution", Action: "build"}},
					{CancelRequest: &struct{}{}},
				},
			}
			if _, err := r.Run(context.Background(), script); err != nil {
				t.Fatal(err)
			}
			if host.Cancels() != tt.wantCancels {
				t.Errorf("expected %d cancels, got %d", tt.wantCancels, host.Cancels())
			}
			if _, internal := r.Session().CancelFlags(); internal != tt.wantFlagged {
				t.Errorf("expected internal cancel flag %v, got %v", tt.wantFlagged, internal)
			}
		})
	}
}

func TestRun_UnknownProjectReported(t *testing.T) {
	r, _ := newRunner(t)
	script := &replay.Script{
		Steps: []replay.Step{
			{SolutionBegin: &replay.SolutionBeginStep{Scope: "solution", Action: "build"}},
			{ProjectBegin: &replay.ProjectStep{Name: "Ghost"}},
			{SolutionDone: &struct{}{}},
		},
	}
	res, err := r.Run(context.Background(), script)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 1 || !errors.Is(res.Errors[0], engine.ErrInvariant) {
		t.Errorf("expected one invariant error, got %v", res.Errors)
	}
}

func TestRun_InvalidSolutionBegin(t *testing.T) {
	r, _ := newRunner(t)
	script := &replay.Script{
		Steps: []replay.Step{{SolutionBegin: &replay.SolutionBeginStep{Scope: "galaxy", Action: "build"}}},
	}
	_, err := r.Run(context.Background(), script)
	if !errors.Is(err, engine.ErrInvariant) {
		t.Errorf("expected invariant error, got %v", err)
	}
}

func TestRun_WaitHonoursContext(t *testing.T) {
	r, _ := newRunner(t)
	script := &replay.Script{
		Steps: []replay.Step{
			{SolutionBegin: &replay.SolutionBeginStep{Scope: "solution", Action: "build"}},
			{Wait: "1h"},
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.Run(ctx, script); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline, got %v", err)
	}
}

func TestParseScript_Validation(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no steps", "name: empty\n"},
		{"two callbacks", "steps:\n  - {solutionDone: {}, cancelObserved: {}}\n"},
		{"empty step", "steps:\n  - {}\n"},
		{"bad wait", "steps:\n  - wait: soon\n"},
		{"bad level", "steps:\n  - log: {level: fatal, message: x}\n"},
		{"bad json", `{"steps": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := replay.ParseScript([]byte(tt.data)); !errors.Is(err, replay.ErrInvalidScript) {
				t.Errorf("expected ErrInvalidScript, got %v", err)
			}
		})
	}
}

func TestHost_MergesProjectsAndKeepsFirstHandler(t *testing.T) {
	host := replay.NewHost(logger.NewNopLogger())
	host.Load(&replay.Script{Projects: []types.ProjectInfo{{UniqueName: "ProjA", Configuration: "Debug"}}})
	host.Load(&replay.Script{Projects: []types.ProjectInfo{
		{UniqueName: "ProjA", Configuration: "Release"},
		{UniqueName: "ProjB"},
	}})

	p, ok := host.FindProject(func(p types.ProjectInfo) bool { return p.UniqueName == "ProjA" })
	if !ok || p.Configuration != "Release" {
		t.Errorf("expected updated ProjA, got %+v", p)
	}
	if _, ok := host.FindProject(func(p types.ProjectInfo) bool { return p.UniqueName == "ProjB" }); !ok {
		t.Error("expected ProjB to be merged in")
	}

	first := &nopHandler{}
	if already, _ := host.Attach(first, types.VerbosityQuiet); already {
		t.Error("first attach must not report an existing handler")
	}
	if already, _ := host.Attach(&nopHandler{}, types.VerbosityQuiet); !already {
		t.Error("second attach must report the existing handler")
	}
	if host.Handler() != first {
		t.Error("expected the first handler to be kept")
	}
}
