// Package daemon keeps a PID file in the state directory so that one serve
// process at a time owns the session state.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/process"
)

// PIDFileName is the lock file inside the state directory
const PIDFileName = "serve.pid"

// Status describes the process holding the lock
type Status struct {
	Running   bool
	PID       int
	StartTime time.Time
}

// Lock is the PID file of a serve process
type Lock struct {
	pidFile string
	logger  logger.Logger

	mu   sync.Mutex
	held bool
}

// NewLock creates a lock for stateDir
func NewLock(stateDir string, log logger.Logger) *Lock {
	return &Lock{
		pidFile: filepath.Join(stateDir, PIDFileName),
		logger:  log.WithComponent("daemon"),
	}
}

// Path returns the PID file path
func (l *Lock) Path() string {
	return l.pidFile
}

// Acquire writes the current PID. A file left by a dead process is
// replaced; a live owner makes Acquire fail with ErrDaemonAlreadyRunning.
func (l *Lock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	if pid, err := readPIDFile(l.pidFile); err == nil {
		if process.IsProcessAlive(pid) {
			return fmt.Errorf("%w (pid %d)", ErrDaemonAlreadyRunning, pid)
		}
		l.logger.Warn("Removing stale PID file", logger.WithField("pid", pid))
		if err := os.Remove(l.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}

	// O_EXCL loses the race against a concurrent starter instead of
	// overwriting its PID.
	f, err := os.OpenFile(l.pidFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		return ErrDaemonAlreadyRunning
	}
	if err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(l.pidFile)
		return fmt.Errorf("failed to write PID file: %w", werr)
	}

	l.held = true
	l.logger.Debug("Acquired serve lock", logger.WithField("path", l.pidFile))
	return nil
}

// Release removes the PID file if this lock wrote it
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return ErrDaemonNotRunning
	}
	l.held = false

	if pid, err := readPIDFile(l.pidFile); err != nil || pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(l.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// ReadStatus reports the serve process recorded in stateDir
func ReadStatus(stateDir string) (*Status, error) {
	path := filepath.Join(stateDir, PIDFileName)
	pid, err := readPIDFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Status{}, nil
	}
	if err != nil {
		return nil, err
	}

	status := &Status{PID: pid, Running: process.IsProcessAlive(pid)}
	if info, err := os.Stat(path); err == nil {
		status.StartTime = info.ModTime()
	}
	return status, nil
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed PID file %s: %w", path, err)
	}
	return pid, nil
}
