// Package sink forwards build lifecycle events to NATS subscribers outside
// the process.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/poltergeist/buildvision/pkg/events"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/types"
)

// ErrNotConnected is returned when forwarding without a connection
var ErrNotConnected = errors.New("nats connection not established")

// Publisher is the part of *nats.Conn the forwarder needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the JSON payload sent for every event
type Message struct {
	Event     string             `json:"event"`
	SessionID string             `json:"sessionId"`
	Time      time.Time          `json:"time,omitempty"`
	Action    types.BuildAction  `json:"action,omitempty"`
	Scope     types.BuildScope   `json:"scope,omitempty"`
	Project   string             `json:"project,omitempty"`
	State     types.ProjectState `json:"state,omitempty"`
	Outcome   string             `json:"outcome,omitempty"`
	Summary   string             `json:"summary,omitempty"`

	// Diagnostic is set for diagnostic.raised
	Diagnostic *types.Diagnostic `json:"diagnostic,omitempty"`
}

// NewMessage converts a bus event into its wire form
func NewMessage(evt events.Event) Message {
	msg := Message{Event: evt.Name(), SessionID: evt.Session()}
	switch e := evt.(type) {
	case events.BuildBegin:
		msg.Time, msg.Action, msg.Scope = e.Time, e.Action, e.Scope
	case events.BuildProcess:
		msg.Time = e.Time
	case events.BuildCancelled:
		msg.Time = e.Time
	case events.BuildDone:
		msg.Time = e.Time
		msg.Action, msg.Scope = e.Snapshot.Action, e.Snapshot.Scope
		msg.Outcome = e.Snapshot.Outcome()
		msg.Summary = e.Snapshot.Summary()
	case events.ProjectBegin:
		msg.Time, msg.Project, msg.State = e.Time, e.Project.UniqueName, e.State
	case events.ProjectDone:
		msg.Time, msg.Project, msg.State = e.Time, e.Project.UniqueName, e.State
	case events.DiagnosticRaised:
		d := e.Diagnostic
		msg.Diagnostic = &d
		msg.Project = d.ProjectName
	}
	return msg
}

// Options configures the forwarder
type Options struct {
	// Subject prefix; the event name is appended, e.g. "<prefix>.build.done"
	Subject string

	// Heartbeats forwards build.process ticks when set
	Heartbeats bool
}

// Forwarder publishes bus events to NATS
type Forwarder struct {
	pub    Publisher
	conn   *nats.Conn
	opts   Options
	logger logger.Logger
}

// Connect dials NATS and returns a forwarder owning the connection
func Connect(url string, opts Options, log logger.Logger) (*Forwarder, error) {
	conn, err := nats.Connect(url,
		nats.Name("buildvision"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	f := NewForwarder(conn, opts, log)
	f.conn = conn
	f.logger.Info("NATS forwarder connected",
		logger.WithField("url", url),
		logger.WithField("subject", opts.Subject))
	return f, nil
}

// NewForwarder creates a forwarder over an existing publisher
func NewForwarder(pub Publisher, opts Options, log logger.Logger) *Forwarder {
	if opts.Subject == "" {
		opts.Subject = "buildvision.events"
	}
	return &Forwarder{pub: pub, opts: opts, logger: log.WithComponent("nats")}
}

// Forward publishes one event
func (f *Forwarder) Forward(evt events.Event) error {
	if f.pub == nil {
		return ErrNotConnected
	}
	if _, ok := evt.(events.BuildProcess); ok && !f.opts.Heartbeats {
		return nil
	}

	data, err := json.Marshal(NewMessage(evt))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := f.opts.Subject + "." + evt.Name()
	if err := f.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Run forwards every bus event until ctx is done or the bus closes
func (f *Forwarder) Run(ctx context.Context, bus *events.Bus) error {
	ch, unsubscribe := events.Subscribe[events.Event](bus, 256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.Forward(evt); err != nil {
				f.logger.Warn("Event not forwarded", logger.WithError(err))
			}
		}
	}
}

// Close drains and closes an owned connection
func (f *Forwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	return f.conn.Drain()
}
