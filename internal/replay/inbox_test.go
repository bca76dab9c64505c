package replay_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poltergeist/buildvision/internal/replay"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/types"
)

func copyScript(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
}

func TestInbox_ReplaysExistingAndNewScripts(t *testing.T) {
	dir := t.TempDir()
	copyScript(t, "testdata/failed.yaml", filepath.Join(dir, "01-failed.yaml"))

	r, _ := newRunner(t)
	inbox := replay.NewInbox(dir, r, logger.NewNopLogger())
	inbox.SetSettlingDelay(20 * time.Millisecond)

	results := make(chan *replay.Result, 4)
	inbox.OnResult(func(_ string, res *replay.Result) { results <- res })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inbox.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("inbox: %v", err)
		}
	}()

	select {
	case res := <-results:
		if res.Snapshot.Outcome() != types.OutcomeFailed {
			t.Errorf("expected failed outcome, got %s", res.Snapshot.Outcome())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("existing script was not replayed")
	}
	waitForFile(t, filepath.Join(dir, "01-failed.yaml"+replay.DoneSuffix))

	copyScript(t, "testdata/uptodate.json", filepath.Join(dir, "02-uptodate.json"))
	select {
	case res := <-results:
		if res.Snapshot.Outcome() != types.OutcomeSucceeded {
			t.Errorf("expected succeeded outcome, got %s", res.Snapshot.Outcome())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("new script was not replayed")
	}
	waitForFile(t, filepath.Join(dir, "02-uptodate.json"+replay.DoneSuffix))
}

func TestInbox_RejectsInvalidScripts(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("steps:\n  - wait: soon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// Not a script; left alone.
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	r, _ := newRunner(t)
	inbox := replay.NewInbox(dir, r, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- inbox.Run(ctx) }()

	waitForFile(t, bad+replay.FailedSuffix)
	cancel()
	if err := <-done; err != nil {
		t.Errorf("inbox: %v", err)
	}
	if _, err := os.Stat(notes); err != nil {
		t.Errorf("non-script file must not be touched: %v", err)
	}
}
