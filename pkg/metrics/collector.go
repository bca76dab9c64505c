package metrics

import (
	"context"

	"github.com/poltergeist/buildvision/pkg/events"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/types"
)

// Collector feeds bus events into a Recorder
type Collector struct {
	recorder Recorder
	logger   logger.Logger
	building map[*types.Project]struct{}
}

// NewCollector creates a collector. A nil recorder records nothing.
func NewCollector(rec Recorder, log logger.Logger) *Collector {
	if rec == nil {
		rec = NoopRecorder{}
	}
	return &Collector{
		recorder: rec,
		logger:   log.WithComponent("metrics"),
		building: make(map[*types.Project]struct{}),
	}
}

// Run consumes events until ctx is done or the bus closes
func (c *Collector) Run(ctx context.Context, bus *events.Bus) error {
	ch, unsubscribe := events.Subscribe[events.Event](bus, 128)
	defer unsubscribe()

	c.logger.Debug("Metrics collector subscribed")
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(evt)
		}
	}
}

// Observe records a single event
func (c *Collector) Observe(evt events.Event) {
	switch e := evt.(type) {
	case events.BuildBegin:
		clear(c.building)
		c.recorder.SetBuildingProjects(0)
	case events.BuildProcess:
		c.recorder.IncHeartbeat()
	case events.ProjectBegin:
		c.building[e.Project] = struct{}{}
		c.recorder.SetBuildingProjects(len(c.building))
	case events.ProjectDone:
		delete(c.building, e.Project)
		c.recorder.SetBuildingProjects(len(c.building))
		c.recorder.IncProjectState(e.State)
		if e.Result != nil {
			c.recorder.ObserveProjectDuration(e.State, e.Result.Duration())
		}
	case events.DiagnosticRaised:
		c.recorder.IncDiagnostic(e.Level)
	case events.BuildCancelled:
		c.recorder.IncCancellation()
	case events.BuildDone:
		clear(c.building)
		c.recorder.SetBuildingProjects(0)
		c.recorder.ObserveSessionDuration(e.Snapshot.Action, e.Snapshot.Duration())
		c.recorder.IncSessionOutcome(e.Snapshot.Outcome())
	}
}
