// Package notifier shows desktop notifications for finished builds
package notifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/poltergeist/buildvision/pkg/events"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/types"
)

// Sender delivers one notification
type Sender interface {
	Notify(title, message string) error
	Beep() error
}

type beeepSender struct{}

func (beeepSender) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}

func (beeepSender) Beep() error {
	return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
}

// Config represents notification configuration
type Config struct {
	Enabled      bool
	SuccessSound string
	FailureSound string
}

// BuildNotifier handles build notifications
type BuildNotifier struct {
	mu     sync.RWMutex
	config Config
	sender Sender
	logger logger.Logger
}

// New creates a notifier using the system notification service
func New(config Config, log logger.Logger) *BuildNotifier {
	return NewWithSender(config, beeepSender{}, log)
}

// NewWithSender creates a notifier that delivers through sender
func NewWithSender(config Config, sender Sender, log logger.Logger) *BuildNotifier {
	return &BuildNotifier{
		config: config,
		sender: sender,
		logger: log.WithComponent("notifier"),
	}
}

// Configure replaces the configuration, used on config reload
func (n *BuildNotifier) Configure(config Config) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.config = config
}

func (n *BuildNotifier) current() Config {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.config
}

// NotifyBuildDone notifies about a finished session
func (n *BuildNotifier) NotifyBuildDone(snap types.SessionSnapshot) {
	cfg := n.current()
	if !cfg.Enabled {
		return
	}

	errs, warnings, _ := snap.DiagnosticTotals()
	var title, sound string
	switch snap.Outcome() {
	case types.OutcomeCancelled:
		title = "⏹ Build Cancelled"
	case types.OutcomeFailed:
		title = "❌ Build Failed"
		sound = cfg.FailureSound
	default:
		title = "✅ Build Succeeded"
		sound = cfg.SuccessSound
	}

	message := snap.Summary()
	if errs > 0 || warnings > 0 {
		message += fmt.Sprintf(" (%d errors, %d warnings)", errs, warnings)
	}
	n.send(title, message, sound)
}

// NotifyBuildCancelled notifies that the user cancelled the build
func (n *BuildNotifier) NotifyBuildCancelled() {
	if !n.current().Enabled {
		return
	}
	n.send("⏹ Build Cancelled", "Cancel requested by user", "")
}

// Run notifies on BuildDone and BuildCancelled until ctx is done or the bus closes
func (n *BuildNotifier) Run(ctx context.Context, bus *events.Bus) error {
	done, unsubDone := events.Subscribe[events.BuildDone](bus, 4)
	defer unsubDone()
	cancelled, unsubCancelled := events.Subscribe[events.BuildCancelled](bus, 4)
	defer unsubCancelled()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-done:
			if !ok {
				return nil
			}
			n.NotifyBuildDone(evt.Snapshot)
		case _, ok := <-cancelled:
			if !ok {
				return nil
			}
			n.NotifyBuildCancelled()
		}
	}
}

func (n *BuildNotifier) send(title, message, sound string) {
	if err := n.sender.Notify(title, message); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithError(err))
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}
	if sound != "" {
		if err := n.sender.Beep(); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithError(err))
		}
	}
}
