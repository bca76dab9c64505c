package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/poltergeist/buildvision/pkg/daemon"
	"github.com/poltergeist/buildvision/pkg/output"
	"github.com/poltergeist/buildvision/pkg/process"
	"github.com/poltergeist/buildvision/pkg/state"
	"github.com/poltergeist/buildvision/pkg/types"
)

// DefaultStaleAfter is how long a running build may go without a heartbeat
const DefaultStaleAfter = 10 * time.Second

func (c *CLI) newStatusCmd() *cobra.Command {
	var staleAfter time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current or last build session",
		Long: `Read the state file written by "serve" and print the running or last
finished build session with its project states.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus(staleAfter)
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", DefaultStaleAfter, "report a running build as stale after this long without a heartbeat")
	return cmd
}

func (c *CLI) runStatus(staleAfter time.Duration) error {
	ui := c.ui(false)

	stateDir := c.resolve(c.cfg.State.Dir)
	if owner, err := daemon.ReadStatus(stateDir); err == nil && owner.Running {
		ui.Info("serve running (pid %d)", owner.PID)
	}

	st, err := state.ReadFile(filepath.Join(stateDir, state.FileName))
	if errors.Is(err, state.ErrNoState) {
		ui.Info("No build session recorded")
		return nil
	}
	if err != nil {
		return err
	}

	ui.Info("Session %s: %s %s (%s)", st.SessionID, st.Action, st.Scope, st.Phase)
	if st.Solution != "" {
		ui.Info("Solution: %s", st.Solution)
	}

	switch st.Phase {
	case types.BuildPhaseInProgress:
		ui.Info("Started %s ago", output.FormatDuration(time.Since(st.StartTime)))
		switch {
		case !process.IsProcessAlive(st.ProcessID):
			ui.Warning("Owning process %d is not running; state is stale", st.ProcessID)
		case st.IsStale(time.Now(), staleAfter):
			ui.Warning("No heartbeat for %s", output.FormatDuration(time.Since(st.Heartbeat)))
		}
		if len(st.Building) > 0 {
			ui.Info("Building: %s", strings.Join(st.Building, ", "))
		}
	case types.BuildPhaseDone:
		if st.Summary != "" {
			_, _ = fmt.Fprintf(c.output, "%s: %s\n", output.OutcomeColor(st.Outcome), st.Summary)
		}
	}

	if len(st.Projects) == 0 {
		return nil
	}
	table := ui.Table([]string{"Project", "State", "Errors", "Warnings"})
	for _, p := range st.Projects {
		if err := table.Append([]string{
			p.Name,
			output.StateColor(p.State),
			fmt.Sprintf("%d", p.Errors),
			fmt.Sprintf("%d", p.Warnings),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
