// Package process handles signals and ordered shutdown for long-running
// buildvision commands.
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/poltergeist/buildvision/pkg/logger"
)

type shutdownHandler struct {
	name string
	fn   func()
}

// Manager runs shutdown handlers once, in reverse registration order,
// when the context ends or a termination signal arrives.
type Manager struct {
	logger   logger.Logger
	handlers []shutdownHandler
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	signals  []os.Signal
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	return &Manager{
		logger:  log.WithComponent("process"),
		done:    make(chan struct{}),
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP},
	}
}

// RegisterShutdownHandler adds a named shutdown handler
func (m *Manager) RegisterShutdownHandler(name string, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, shutdownHandler{name: name, fn: fn})
}

// Start watches ctx and the termination signals. The returned context is
// cancelled as soon as shutdown begins.
func (m *Manager) Start(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		cancel()
		return ctx
	}
	m.running = true
	m.mu.Unlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, m.signals...)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer signal.Stop(sigChan)

		select {
		case <-ctx.Done():
		case sig := <-sigChan:
			m.logger.Info("Received signal", logger.WithField("signal", sig))
		}
		cancel()
		m.shutdown()
	}()
	return ctx
}

// Done is closed after every shutdown handler ran
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until shutdown completed
func (m *Manager) Wait() {
	m.wg.Wait()
}

// IsRunning reports whether the manager is watching for shutdown
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) shutdown() {
	m.logger.Info("Initiating graceful shutdown...")

	m.mu.Lock()
	handlers := make([]shutdownHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.running = false
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Shutdown handler panic recovered",
						logger.WithField("handler", h.name),
						logger.WithField("panic", r))
				}
			}()
			m.logger.Debug("Running shutdown handler", logger.WithField("handler", h.name))
			h.fn()
		}()
	}
	close(m.done)
}

// IsProcessAlive reports whether a process with pid exists
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
