// Package context carries build tracing metadata on context.Context
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type traceKey struct{}

// Trace identifies the build session and script a piece of work belongs to
type Trace struct {
	SessionID string
	Script    string
	Operation string
	Started   time.Time
}

// Elapsed returns the time since Started, or zero when it was never set
func (t Trace) Elapsed() time.Duration {
	if t.Started.IsZero() {
		return 0
	}
	return time.Since(t.Started)
}

// FromContext returns the trace stored in ctx. The zero Trace is returned
// when there is none.
func FromContext(ctx context.Context) Trace {
	if ctx == nil {
		return Trace{}
	}
	t, _ := ctx.Value(traceKey{}).(Trace)
	return t
}

func with(parent context.Context, update func(*Trace)) context.Context {
	t := FromContext(parent)
	update(&t)
	return context.WithValue(parent, traceKey{}, t)
}

// WithSession tags ctx with a build session id
func WithSession(parent context.Context, sessionID string) context.Context {
	return with(parent, func(t *Trace) { t.SessionID = sessionID })
}

// WithScript tags ctx with the engine script being replayed and starts its
// clock
func WithScript(parent context.Context, script string) context.Context {
	return with(parent, func(t *Trace) {
		t.Script = script
		t.Started = time.Now()
	})
}

// WithOperation names the transition or step in progress
func WithOperation(parent context.Context, operation string) context.Context {
	return with(parent, func(t *Trace) { t.Operation = operation })
}

// NewSessionID creates a unique build session id
func NewSessionID() string {
	return "bs_" + uuid.New().String()
}
