package types_test

import (
	"testing"
	"time"

	"github.com/poltergeist/buildvision/pkg/types"
)

func TestPlatformsEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Any CPU", "AnyCPU", true},
		{"AnyCPU", "Any CPU", true},
		{"any cpu", "anycpu", false},
		{"x64", "X64", true},
		{"x86", "x64", false},
		{"Win32", "win32", true},
		{"", "", true},
		{"Any CPU", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			if got := types.PlatformsEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("PlatformsEqual(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if types.PlatformsEqual(tt.a, tt.b) != types.PlatformsEqual(tt.b, tt.a) {
				t.Errorf("PlatformsEqual is not symmetric for %q and %q", tt.a, tt.b)
			}
		})
	}
}

func TestParseBuildScope(t *testing.T) {
	tests := []struct {
		input   string
		want    types.BuildScope
		wantErr bool
	}{
		{"", types.BuildScopeSolution, false},
		{"0", types.BuildScopeSolution, false},
		{"Solution", types.BuildScopeSolution, false},
		{"project", types.BuildScopeProject, false},
		{"BATCH", types.BuildScopeBatch, false},
		{"workspace", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := types.ParseBuildScope(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBuildScope(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseBuildScope(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseBuildAction(t *testing.T) {
	tests := []struct {
		input   string
		want    types.BuildAction
		wantErr bool
	}{
		{"build", types.BuildActionBuild, false},
		{"RebuildAll", types.BuildActionRebuild, false},
		{"clean", types.BuildActionClean, false},
		{"deploy", types.BuildActionDeploy, false},
		{"link", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := types.ParseBuildAction(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBuildAction(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseBuildAction(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestVerbosityAccepts(t *testing.T) {
	tests := []struct {
		verbosity  types.Verbosity
		importance types.MessageImportance
		want       bool
	}{
		{types.VerbosityQuiet, types.ImportanceHigh, false},
		{types.VerbosityMinimal, types.ImportanceHigh, true},
		{types.VerbosityMinimal, types.ImportanceNormal, false},
		{types.VerbosityMinimal, types.ImportanceLow, false},
		{types.VerbosityNormal, types.ImportanceNormal, true},
		{types.VerbosityNormal, types.ImportanceLow, false},
		{types.VerbosityDetailed, types.ImportanceLow, true},
		{types.VerbosityDiagnostic, types.ImportanceLow, true},
	}

	for _, tt := range tests {
		if got := tt.verbosity.Accepts(tt.importance); got != tt.want {
			t.Errorf("%s.Accepts(%d) = %v, want %v", tt.verbosity, tt.importance, got, tt.want)
		}
	}
}

func TestParseVerbosity(t *testing.T) {
	v, err := types.ParseVerbosity("Detailed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != types.VerbosityDetailed {
		t.Errorf("expected detailed, got %s", v)
	}
	if _, err := types.ParseVerbosity("loud"); err == nil {
		t.Error("expected error for unknown verbosity")
	}
}

func TestIsHiddenProjectFile(t *testing.T) {
	hidden := []string{"", "  ", `C:\src\App.sln`, "/src/App.SLN", "/src/App.sln.metaproj", "/src/Folder.slnfolder"}
	visible := []string{`C:\src\App\App.csproj`, "/src/Lib/Lib.vcxproj", "/src/Tool.fsproj"}

	for _, f := range hidden {
		if !types.IsHiddenProjectFile(f) {
			t.Errorf("expected %q to be hidden", f)
		}
	}
	for _, f := range visible {
		if types.IsHiddenProjectFile(f) {
			t.Errorf("expected %q to be visible", f)
		}
	}
}

func TestDiagnosticNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   types.Diagnostic
		want types.Diagnostic
	}{
		{
			name: "negative positions clamp to zero",
			in:   types.Diagnostic{Line: -1, Column: -5, EndLine: -1, EndColumn: -1},
			want: types.Diagnostic{},
		},
		{
			name: "end line before start",
			in:   types.Diagnostic{Line: 10, Column: 4, EndLine: 2, EndColumn: 1},
			want: types.Diagnostic{Line: 10, Column: 4, EndLine: 10, EndColumn: 4},
		},
		{
			name: "valid span untouched",
			in:   types.Diagnostic{Line: 3, Column: 7, EndLine: 5, EndColumn: 1},
			want: types.Diagnostic{Line: 3, Column: 7, EndLine: 5, EndColumn: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Normalize(); got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewDiagnostic(t *testing.T) {
	p := types.NewProject(types.ProjectInfo{UniqueName: "App/App.csproj", FullName: "/src/App/App.csproj"})
	e := types.LogEvent{
		Level:   types.LevelError,
		Code:    "CS1002",
		File:    "/src/App/Program.cs",
		Line:    12,
		Column:  9,
		Message: "; expected",
	}

	d := types.NewDiagnostic(e, p)
	if d.ProjectName != "App/App.csproj" {
		t.Errorf("expected project back reference, got %q", d.ProjectName)
	}
	if d.EndLine != 12 || d.EndColumn != 9 {
		t.Errorf("expected span to collapse to start, got %d:%d", d.EndLine, d.EndColumn)
	}
}

func TestDiagnosticBox(t *testing.T) {
	box := types.NewDiagnosticBox()
	box.Add(types.Diagnostic{Level: types.LevelError, Message: "e1"})
	box.Add(types.Diagnostic{Level: types.LevelWarning, Message: "w1"})
	box.Add(types.Diagnostic{Level: types.LevelError, Message: "e2"})
	box.Add(types.Diagnostic{Level: types.LevelMessage, Message: "m1"})

	if box.Count() != 4 {
		t.Errorf("expected 4 items, got %d", box.Count())
	}
	if box.ErrorCount() != 2 || box.WarningCount() != 1 || box.MessageCount() != 1 {
		t.Errorf("unexpected counters: e=%d w=%d m=%d", box.ErrorCount(), box.WarningCount(), box.MessageCount())
	}

	items := box.Items()
	if items[0].Message != "e1" || items[2].Message != "e2" {
		t.Errorf("items out of order: %+v", items)
	}

	clone := box.Clone()
	clone.Add(types.Diagnostic{Level: types.LevelError})
	if box.ErrorCount() != 2 {
		t.Error("clone shares state with original")
	}

	var nilBox *types.DiagnosticBox
	if nilBox.Count() != 0 || nilBox.ErrorCount() != 0 || nilBox.Items() != nil {
		t.Error("nil box should read as empty")
	}
}

func TestBatchBuildCopy(t *testing.T) {
	p := types.NewProject(types.ProjectInfo{
		UniqueName:    "Lib/Lib.csproj",
		FullName:      "/src/Lib/Lib.csproj",
		Configuration: "Debug",
		Platform:      "Any CPU",
	})
	p.LastDiagnostics().Add(types.Diagnostic{Level: types.LevelWarning})

	c := p.BatchBuildCopy("Release", "x64")
	if !c.IsBatchBuild {
		t.Error("expected batch flag on copy")
	}
	if c.Configuration != "Release" || c.Platform != "x64" {
		t.Errorf("unexpected copy config: %s|%s", c.Configuration, c.Platform)
	}
	if c.UniqueName != p.UniqueName || c.FullName != p.FullName {
		t.Error("copy lost identity")
	}
	if c.LastDiagnostics().Count() != 0 {
		t.Error("copy must not share diagnostics")
	}
	if p.IsBatchBuild {
		t.Error("original must not be modified")
	}
}

func TestProjectResultLifecycle(t *testing.T) {
	p := types.NewProject(types.ProjectInfo{UniqueName: "App"})
	r := types.NewProjectResult(p)

	if r.State() != types.ProjectStatePending {
		t.Errorf("expected pending, got %s", r.State())
	}
	if r.Success() != nil {
		t.Error("success must be unset before finish")
	}

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.Begin(types.ProjectStateBuilding, start)
	r.Finish(true, types.ProjectStateBuildDone, start.Add(1500*time.Millisecond))

	if s := r.Success(); s == nil || !*s {
		t.Error("expected success=true")
	}
	if !r.State().IsFinal() {
		t.Errorf("expected final state, got %s", r.State())
	}
	if r.Duration() != 1500*time.Millisecond {
		t.Errorf("unexpected duration %s", r.Duration())
	}
}

func TestSessionSnapshotSummary(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	finish := start.Add(2 * time.Second)

	ok := types.NewProjectResult(types.NewProject(types.ProjectInfo{UniqueName: "A"}))
	ok.Finish(true, types.ProjectStateBuildDone, finish)
	bad := types.NewProjectResult(types.NewProject(types.ProjectInfo{UniqueName: "B"}))
	bad.Diagnostics().Add(types.Diagnostic{Level: types.LevelError})
	bad.Finish(false, types.ProjectStateBuildError, finish)

	snap := types.SessionSnapshot{
		Action:     types.BuildActionBuild,
		Scope:      types.BuildScopeSolution,
		StartTime:  &start,
		FinishTime: &finish,
		Results:    []*types.ProjectResult{ok, bad},
	}

	if !snap.Failed() {
		t.Error("expected failed session")
	}
	errs, warns, msgs := snap.DiagnosticTotals()
	if errs != 1 || warns != 0 || msgs != 0 {
		t.Errorf("unexpected totals %d/%d/%d", errs, warns, msgs)
	}

	want := "Build solution failed: 1 build-done, 1 build-error in 2s"
	if got := snap.Summary(); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}
