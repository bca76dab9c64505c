package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/poltergeist/buildvision/pkg/logger"
)

// Suffixes appended to inbox scripts once they have been replayed
const (
	DoneSuffix   = ".done"
	FailedSuffix = ".failed"
)

// Inbox replays scripts dropped into a directory, oldest first
type Inbox struct {
	dir      string
	runner   *Runner
	logger   logger.Logger
	onResult func(path string, res *Result)

	mu       sync.Mutex
	settling time.Duration
	pending  map[string]time.Time
	ready    chan string
}

// NewInbox creates an inbox feeding runner from dir
func NewInbox(dir string, runner *Runner, log logger.Logger) *Inbox {
	return &Inbox{
		dir:      dir,
		runner:   runner,
		logger:   log.WithComponent("inbox"),
		settling: 100 * time.Millisecond,
		pending:  make(map[string]time.Time),
		ready:    make(chan string, 64),
	}
}

// SetSettlingDelay sets how long a script must stay unchanged before it runs
func (i *Inbox) SetSettlingDelay(d time.Duration) {
	i.mu.Lock()
	i.settling = d
	i.mu.Unlock()
}

// OnResult registers a callback for every replayed script. It must be set
// before Run.
func (i *Inbox) OnResult(fn func(path string, res *Result)) {
	i.onResult = fn
}

// Run watches the inbox until ctx is done. Scripts already present when
// Run starts are replayed first.
func (i *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(i.dir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(i.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", i.dir, err)
	}
	i.logger.Info("Watching inbox", logger.WithField("dir", i.dir))

	existing, err := i.scan()
	if err != nil {
		return err
	}
	for _, path := range existing {
		i.process(ctx, path)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isScript(event.Name) || !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			i.settle(ctx, event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			i.logger.Error("Inbox watcher error", logger.WithError(err))

		case path := <-i.ready:
			i.process(ctx, path)
		}
	}
}

func (i *Inbox) scan() ([]string, error) {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	type entry struct {
		path string
		mod  time.Time
	}
	var scripts []entry
	for _, e := range entries {
		if e.IsDir() || !isScript(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		scripts = append(scripts, entry{path: filepath.Join(i.dir, e.Name()), mod: info.ModTime()})
	}
	sort.Slice(scripts, func(a, b int) bool {
		if scripts[a].mod.Equal(scripts[b].mod) {
			return scripts[a].path < scripts[b].path
		}
		return scripts[a].mod.Before(scripts[b].mod)
	})

	paths := make([]string, len(scripts))
	for n, s := range scripts {
		paths[n] = s.path
	}
	return paths, nil
}

// settle queues path once no event touched it for the settling delay
func (i *Inbox) settle(ctx context.Context, path string) {
	i.mu.Lock()
	i.pending[path] = time.Now()
	delay := i.settling
	i.mu.Unlock()

	time.AfterFunc(delay, func() {
		i.mu.Lock()
		last, ok := i.pending[path]
		if !ok || time.Since(last) < delay {
			i.mu.Unlock()
			return
		}
		delete(i.pending, path)
		i.mu.Unlock()

		select {
		case i.ready <- path:
		case <-ctx.Done():
		}
	})
}

func (i *Inbox) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		// Already replayed and renamed.
		return
	}
	log := i.logger.WithProject(filepath.Base(path))

	script, err := LoadScript(path)
	if err != nil {
		log.Error("Rejected script", logger.WithError(err))
		i.archive(path, FailedSuffix)
		return
	}
	if script.Name == "" {
		script.Name = filepath.Base(path)
	}

	res, err := i.runner.Run(ctx, script)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("Replay failed", logger.WithError(err))
		i.archive(path, FailedSuffix)
		return
	}

	for _, rejected := range res.Errors {
		log.Warn("Callback rejected", logger.WithError(rejected))
	}
	i.archive(path, DoneSuffix)
	if i.onResult != nil {
		i.onResult(path, res)
	}
}

func (i *Inbox) archive(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		i.logger.Warn("Failed to archive script", logger.WithField("path", path), logger.WithError(err))
	}
}

func isScript(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
