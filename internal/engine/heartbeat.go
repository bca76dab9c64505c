package engine

import (
	"context"
	"sync"
	"time"
)

// Default heartbeat cadence: a tick roughly every 250ms, with teardown
// latency bounded by one 50ms quantum.
const (
	DefaultHeartbeatQuantum = 50 * time.Millisecond
	DefaultHeartbeatQuanta  = 5
)

// HeartbeatConfig controls the progress tick cadence
type HeartbeatConfig struct {
	Quantum time.Duration
	Quanta  int
}

func (c HeartbeatConfig) withDefaults() HeartbeatConfig {
	if c.Quantum <= 0 {
		c.Quantum = DefaultHeartbeatQuantum
	}
	if c.Quanta <= 0 {
		c.Quanta = DefaultHeartbeatQuanta
	}
	return c
}

// Heartbeat emits progress ticks while a build runs. Ticks and Stop are
// serialized by tickMu, so no tick fires once Stop has returned. The tick
// context is cancelled by Stop before it waits for tickMu.
type Heartbeat struct {
	cfg    HeartbeatConfig
	tick   func(context.Context, time.Time)
	ctx    context.Context
	cancel context.CancelFunc

	tickMu  sync.Mutex
	stopped bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartHeartbeat starts the tick loop
func StartHeartbeat(cfg HeartbeatConfig, tick func(context.Context, time.Time)) *Heartbeat {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Heartbeat{
		cfg:    cfg.withDefaults(),
		tick:   tick,
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Heartbeat) run() {
	defer close(h.done)

	timer := time.NewTimer(h.cfg.Quantum)
	defer timer.Stop()

	for {
		h.tickMu.Lock()
		if h.stopped {
			h.tickMu.Unlock()
			return
		}
		h.tick(h.ctx, time.Now())
		h.tickMu.Unlock()

		for i := 0; i < h.cfg.Quanta; i++ {
			timer.Reset(h.cfg.Quantum)
			select {
			case <-h.stop:
				return
			case <-timer.C:
			}
		}
	}
}

// Stop ends the loop and waits for it to exit. Safe to call repeatedly.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() {
		h.cancel()
		h.tickMu.Lock()
		h.stopped = true
		close(h.stop)
		h.tickMu.Unlock()
	})
	<-h.done
}
