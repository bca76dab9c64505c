package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/buildvision/pkg/types"
)

func init() {
	color.NoColor = true
}

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func sessionWithFailure() types.SessionSnapshot {
	p := types.NewProject(types.ProjectInfo{UniqueName: "ProjA", Configuration: "Debug", Platform: "Any CPU"})
	r := types.NewProjectResult(p)
	start := time.Now()
	r.Begin(types.ProjectStateBuilding, start)
	r.Diagnostics().Add(types.Diagnostic{Level: types.LevelError, Code: "CS1002", Message: "; expected", File: "Program.cs", Line: 4, Column: 9, ProjectName: "ProjA"})
	r.Diagnostics().Add(types.Diagnostic{Level: types.LevelMessage, Message: "copying", ProjectName: "ProjA"})
	r.Finish(false, types.ProjectStateBuildError, start.Add(1500*time.Millisecond))
	return types.SessionSnapshot{Action: types.BuildActionBuild, Scope: types.BuildScopeSolution, Results: []*types.ProjectResult{r}}
}

func TestUI_Results(t *testing.T) {
	ui, out, errOut := newTestUI()
	require.NoError(t, ui.Results(sessionWithFailure()))

	assert.Contains(t, out.String(), "ProjA")
	assert.Contains(t, out.String(), "Debug|Any CPU")
	assert.Contains(t, out.String(), "build-error")
	assert.Contains(t, out.String(), "1.5s")
	assert.Contains(t, errOut.String(), "Build solution failed")
}

func TestUI_Diagnostics(t *testing.T) {
	ui, out, _ := newTestUI()
	ui.Diagnostics(sessionWithFailure())
	assert.Equal(t, "Program.cs(4,9) CS1002: ; expected [ProjA]\n", out.String())

	out.Reset()
	ui.Verbose = true
	ui.Diagnostics(sessionWithFailure())
	assert.Equal(t, 2, strings.Count(out.String(), "\n"))
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		0:                        "-",
		250 * time.Millisecond:   "250ms",
		12500 * time.Millisecond: "12.5s",
		90 * time.Second:         "1m30s",
	}
	for d, want := range tests {
		assert.Equal(t, want, FormatDuration(d))
	}
}

func TestStateColorPlain(t *testing.T) {
	assert.Equal(t, "up-to-date", StateColor(types.ProjectStateUpToDate))
	assert.Equal(t, "cancelled", OutcomeColor(types.OutcomeCancelled))
}
