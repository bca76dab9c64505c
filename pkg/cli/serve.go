package cli

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/poltergeist/buildvision/internal/engine"
	"github.com/poltergeist/buildvision/internal/replay"
	"github.com/poltergeist/buildvision/pkg/config"
	"github.com/poltergeist/buildvision/pkg/daemon"
	"github.com/poltergeist/buildvision/pkg/events"
	"github.com/poltergeist/buildvision/pkg/history"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/metrics"
	"github.com/poltergeist/buildvision/pkg/notifier"
	"github.com/poltergeist/buildvision/pkg/process"
	"github.com/poltergeist/buildvision/pkg/sink"
	"github.com/poltergeist/buildvision/pkg/state"
)

// DefaultInboxDir is used when neither the flag nor the config names one
const DefaultInboxDir = ".buildvision/inbox"

type serveOptions struct {
	inbox       string
	metricsAddr string
	natsURL     string
}

func (c *CLI) newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a long-lived session fed from an inbox directory",
		Long: `Run one build session for as long as the process lives. Scripts dropped
into the inbox directory are replayed in arrival order. Finished sessions are
recorded in the history database, the state file follows the running build,
and events can be exported to Prometheus and NATS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.inbox, "inbox", "", "script inbox directory (default from config)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&opts.natsURL, "nats-url", "", "forward events to this NATS server")
	return cmd
}

func (c *CLI) notifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Enabled:      cfg.NotificationsEnabled(),
		SuccessSound: cfg.Notifications.SuccessSound,
		FailureSound: cfg.Notifications.FailureSound,
	}
}

func (c *CLI) runServe(ctx context.Context, opts serveOptions) error {
	cfg := c.cfg
	log := c.logger
	ui := c.ui(false)

	inboxDir := firstNonEmpty(opts.inbox, cfg.Inbox.Dir, DefaultInboxDir)
	metricsAddr := firstNonEmpty(opts.metricsAddr, cfg.Metrics.Addr)
	natsURL := firstNonEmpty(opts.natsURL, cfg.NATS.URL)

	lock := daemon.NewLock(c.resolve(cfg.State.Dir), log)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	ctx, cancel := context.WithCancel(ctx)
	pm := process.NewManager(log)
	defer func() {
		cancel()
		pm.Wait()
	}()
	ctx = pm.Start(ctx)

	bus := events.NewBus()
	defer bus.Close()

	runner, err := replay.NewRunner(replay.NewHost(log), bus, log, c.engineOptions())
	if err != nil {
		return err
	}
	pm.RegisterShutdownHandler("session", func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := runner.Close(stopCtx); err != nil {
			log.Warn("Session did not drain", logger.WithError(err))
		}
	})

	store, err := history.NewSQLiteStore(ctx, c.resolve(cfg.History.Path))
	if err != nil {
		return err
	}
	defer store.Close()

	states := state.NewStateManager(c.resolve(cfg.State.Dir), log)
	notify := notifier.New(c.notifierConfig(cfg), log)

	sg, gctx := engine.NewSafeGroup(ctx, log)
	// Consumers listening on every event, and on build.done only.
	allEvents, doneEvents := 2, 2

	sg.Go("state", func(ctx context.Context) error { return states.Run(ctx, bus) })
	sg.Go("history", func(ctx context.Context) error { return history.NewRecorder(store, log).Run(ctx, bus) })
	sg.Go("notifier", func(ctx context.Context) error { return notify.Run(ctx, bus) })

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(reg)
		sg.Go("metrics-http", func(ctx context.Context) error {
			return serveMetrics(ctx, metricsAddr, metrics.HTTPHandler(reg), log)
		})
	}
	collector := metrics.NewCollector(recorder, log)
	sg.Go("metrics", func(ctx context.Context) error { return collector.Run(ctx, bus) })

	if natsURL != "" {
		fwd, err := sink.Connect(natsURL, sink.Options{Subject: cfg.NATS.Subject}, log)
		if err != nil {
			cancel()
			_ = sg.Wait()
			return err
		}
		pm.RegisterShutdownHandler("nats", func() {
			if err := fwd.Close(); err != nil {
				log.Warn("NATS close failed", logger.WithError(err))
			}
		})
		allEvents++
		sg.Go("nats", func(ctx context.Context) error { return fwd.Run(ctx, bus) })
	}

	if c.cfgPath != "" {
		rm := config.NewReloadManager(c.cfgPath, log)
		rm.AddCallback(c.applyReload(runner, notify))
		if err := rm.StartWatching(gctx); err != nil {
			log.Warn("Configuration changes will not be picked up", logger.WithError(err))
		} else {
			pm.RegisterShutdownHandler("config", func() { _ = rm.StopWatching() })
		}
	}

	dir := c.resolve(inboxDir)
	inbox := replay.NewInbox(dir, runner, log)
	inbox.OnResult(func(path string, res *replay.Result) {
		log.Info(res.Snapshot.Summary(), logger.WithField("script", filepath.Base(path)))
	})
	sg.Go("inbox", func(ctx context.Context) error {
		if err := awaitSubscribers(ctx, bus, allEvents, doneEvents); err != nil {
			return nil
		}
		return inbox.Run(ctx)
	})

	ui.Info("Serving build sessions from %s", dir)
	if metricsAddr != "" {
		ui.Info("Metrics on http://%s/metrics", metricsAddr)
	}

	err = sg.Wait()
	// Drain the session before the store and bus close.
	cancel()
	pm.Wait()
	if err != nil {
		log.Error("Serve stopped", logger.WithError(err))
	}
	return err
}

// applyReload returns the callback that applies a changed configuration
// to the running session
func (c *CLI) applyReload(runner *replay.Runner, notify *notifier.BuildNotifier) config.ReloadCallback {
	return func(cfg *config.Config, err error) {
		if err != nil {
			c.logger.Warn("Keeping previous configuration", logger.WithError(err))
			return
		}
		runner.Session().Correlator().SetVerbosity(cfg.Verbosity())
		notify.Configure(c.notifierConfig(cfg))
		if pl, ok := c.logger.(*logger.ProjectLogger); ok {
			pl.SetLevel(cfg.Logging.Level)
		}
	}
}

// awaitSubscribers blocks until the consumers started by serve listen on
// the bus, so the first replayed build is not missed
func awaitSubscribers(ctx context.Context, bus *events.Bus, all, done int) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for events.SubscriberCount[events.Event](bus) < all || events.SubscriberCount[events.BuildDone](bus) < done {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Metrics server shutdown failed", logger.WithError(err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
