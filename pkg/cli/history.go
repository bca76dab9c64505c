package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/poltergeist/buildvision/pkg/history"
	"github.com/poltergeist/buildvision/pkg/output"
)

func (c *CLI) newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent build sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				limit = c.cfg.History.Limit
			}
			return c.runHistoryList(cmd.Context(), limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of sessions to list (default from config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show the projects of one recorded session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runHistoryShow(cmd.Context(), args[0])
		},
	})
	return cmd
}

// openHistory opens the store, or returns nil when nothing was recorded yet
func (c *CLI) openHistory(ctx context.Context) (*history.SQLiteStore, error) {
	path := c.resolve(c.cfg.History.Path)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return history.NewSQLiteStore(ctx, path)
}

func (c *CLI) runHistoryList(ctx context.Context, limit int) error {
	ui := c.ui(false)
	store, err := c.openHistory(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		ui.Info("No build history yet")
		return nil
	}
	defer store.Close()

	records, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		ui.Info("No build history yet")
		return nil
	}

	table := ui.Table([]string{"ID", "Finished", "Action", "Solution", "Outcome", "Errors", "Warnings", "Duration"})
	for _, r := range records {
		if err := table.Append([]string{
			r.ID,
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%s/%s", r.Action, r.Scope),
			r.Solution,
			output.OutcomeColor(r.Outcome),
			fmt.Sprintf("%d", r.Errors),
			fmt.Sprintf("%d", r.Warnings),
			output.FormatDuration(r.Duration()),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func (c *CLI) runHistoryShow(ctx context.Context, id string) error {
	ui := c.ui(false)
	store, err := c.openHistory(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("%w: %s", history.ErrNotFound, id)
	}
	defer store.Close()

	rec, err := store.Get(ctx, id)
	if err != nil {
		return err
	}

	ui.Info("Session %s (%s %s) %s", rec.SessionID, rec.Action, rec.Scope, output.OutcomeColor(rec.Outcome))
	table := ui.Table([]string{"Project", "Configuration", "State", "Errors", "Warnings", "Duration"})
	for _, p := range rec.Projects {
		config := p.Configuration
		if p.Platform != "" {
			config += "|" + p.Platform
		}
		if err := table.Append([]string{
			p.UniqueName,
			config,
			output.StateColor(p.State),
			fmt.Sprintf("%d", p.Errors),
			fmt.Sprintf("%d", p.Warnings),
			output.FormatDuration(p.Duration),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
