package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/poltergeist/buildvision/internal/replay"
	"github.com/poltergeist/buildvision/pkg/events"
	"github.com/poltergeist/buildvision/pkg/history"
	"github.com/poltergeist/buildvision/pkg/types"
)

var (
	// ErrRejectedCallbacks is returned in strict mode when the session
	// rejected any replayed callback
	ErrRejectedCallbacks = errors.New("session rejected callbacks")
	// ErrBuildFailed is returned with --exit-code when a replayed build failed
	ErrBuildFailed = errors.New("build failed")
)

type replayOptions struct {
	verbose  bool
	strict   bool
	record   bool
	exitCode bool
}

func (c *CLI) newReplayCmd() *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay <script>...",
		Short: "Replay engine scripts and print the project results",
		Long: `Replay one or more YAML or JSON engine scripts through a single build
session. Scripts run in order against the same project registry, so a
project that is up to date in a later script still reports the diagnostics
of its last real build.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runReplay(cmd.Context(), args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "also print informational messages")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "fail when the session rejects a callback")
	cmd.Flags().BoolVar(&opts.record, "record", false, "append finished sessions to the history database")
	cmd.Flags().BoolVar(&opts.exitCode, "exit-code", false, "fail when a replayed build failed")
	return cmd
}

func (c *CLI) runReplay(ctx context.Context, paths []string, opts replayOptions) error {
	scripts := make([]*replay.Script, 0, len(paths))
	for _, path := range paths {
		script, err := replay.LoadScript(path)
		if err != nil {
			return err
		}
		if script.Name == "" {
			script.Name = filepath.Base(path)
		}
		scripts = append(scripts, script)
	}

	bus := events.NewBus()
	defer bus.Close()

	runner, err := replay.NewRunner(replay.NewHost(c.logger), bus, c.logger, c.engineOptions())
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Close(stopCtx)
	}()

	var store history.Store
	if opts.record {
		s, err := history.NewSQLiteStore(ctx, c.resolve(c.cfg.History.Path))
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	ui := c.ui(opts.verbose)
	var rejected, failed bool
	for _, script := range scripts {
		res, err := runner.Run(ctx, script)
		if err != nil {
			return fmt.Errorf("%s: %w", script.Name, err)
		}

		if len(scripts) > 1 {
			ui.Info("%s", script.Name)
		}
		snap := res.Snapshot
		if err := ui.Results(snap); err != nil {
			return err
		}
		ui.Diagnostics(snap)

		for _, e := range res.Errors {
			ui.Warning("Rejected callback: %v", e)
		}
		rejected = rejected || len(res.Errors) > 0
		failed = failed || snap.Failed()

		if snap.Phase != types.BuildPhaseDone {
			ui.Warning("Script ended while the build was still running")
			continue
		}
		if store != nil {
			rec, err := store.Append(ctx, snap)
			if err != nil {
				return err
			}
			ui.Info("Recorded session %s", rec.ID)
		}
	}

	switch {
	case opts.strict && rejected:
		return ErrRejectedCallbacks
	case opts.exitCode && failed:
		return ErrBuildFailed
	}
	return nil
}
