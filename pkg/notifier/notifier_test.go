package notifier_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poltergeist/buildvision/pkg/events"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/notifier"
	"github.com/poltergeist/buildvision/pkg/types"
)

type fakeSender struct {
	mu      sync.Mutex
	titles  []string
	bodies  []string
	beeps   int
	failing bool
}

func (f *fakeSender) Notify(title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	f.bodies = append(f.bodies, message)
	if f.failing {
		return errors.New("no notification daemon")
	}
	return nil
}

func (f *fakeSender) Beep() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beeps++
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.titles)
}

func failedSnapshot() types.SessionSnapshot {
	p := types.NewProject(types.ProjectInfo{UniqueName: "ProjA"})
	r := types.NewProjectResult(p)
	r.Diagnostics().Add(types.Diagnostic{Level: types.LevelError, Message: "CS1002"})
	r.Finish(false, types.ProjectStateBuildError, time.Now())
	return types.SessionSnapshot{
		Action:  types.BuildActionBuild,
		Scope:   types.BuildScopeSolution,
		Results: []*types.ProjectResult{r},
	}
}

func TestNotifier_BuildOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		snap      types.SessionSnapshot
		wantTitle string
		wantBeep  int
	}{
		{"success", types.SessionSnapshot{Action: types.BuildActionBuild, Scope: types.BuildScopeSolution}, "Build Succeeded", 1},
		{"failure", failedSnapshot(), "Build Failed", 1},
		{"cancelled", types.SessionSnapshot{Action: types.BuildActionBuild, Cancelled: true}, "Build Cancelled", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			n := notifier.NewWithSender(notifier.Config{
				Enabled:      true,
				SuccessSound: "default",
				FailureSound: "alert",
			}, sender, logger.NewNopLogger())

			n.NotifyBuildDone(tt.snap)

			if sender.count() != 1 || !strings.Contains(sender.titles[0], tt.wantTitle) {
				t.Fatalf("expected %q notification, got %v", tt.wantTitle, sender.titles)
			}
			if sender.beeps != tt.wantBeep {
				t.Errorf("expected %d beeps, got %d", tt.wantBeep, sender.beeps)
			}
		})
	}
}

func TestNotifier_FailureMentionsCounts(t *testing.T) {
	sender := &fakeSender{}
	n := notifier.NewWithSender(notifier.Config{Enabled: true}, sender, logger.NewNopLogger())
	n.NotifyBuildDone(failedSnapshot())

	if !strings.Contains(sender.bodies[0], "1 errors, 0 warnings") {
		t.Errorf("unexpected body %q", sender.bodies[0])
	}
}

func TestNotifier_Disabled(t *testing.T) {
	sender := &fakeSender{}
	n := notifier.NewWithSender(notifier.Config{Enabled: false}, sender, logger.NewNopLogger())
	n.NotifyBuildDone(failedSnapshot())
	n.NotifyBuildCancelled()
	if sender.count() != 0 {
		t.Error("disabled notifier sent notifications")
	}

	n.Configure(notifier.Config{Enabled: true})
	n.NotifyBuildCancelled()
	if sender.count() != 1 {
		t.Error("expected notification after enabling")
	}
}

func TestNotifier_SendFailureIsLogged(t *testing.T) {
	sender := &fakeSender{failing: true}
	n := notifier.NewWithSender(notifier.Config{Enabled: true}, sender, logger.NewNopLogger())
	n.NotifyBuildCancelled()
	if sender.count() != 1 {
		t.Error("expected one attempt")
	}
}

func TestNotifier_Run(t *testing.T) {
	sender := &fakeSender{}
	n := notifier.NewWithSender(notifier.Config{Enabled: true}, sender, logger.NewNopLogger())
	bus := events.NewBus()

	done := make(chan error, 1)
	go func() { done <- n.Run(context.Background(), bus) }()

	deadline := time.Now().Add(time.Second)
	for events.SubscriberCount[events.BuildCancelled](bus) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bus.Publish(ctx, events.BuildCancelled{SessionID: "bs_1"}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(ctx, events.BuildDone{SessionID: "bs_1", Snapshot: failedSnapshot()}); err != nil {
		t.Fatal(err)
	}

	deadline = time.Now().Add(time.Second)
	for sender.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sender.count() != 2 {
		t.Fatalf("expected 2 notifications, got %d", sender.count())
	}

	bus.Close()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
