package history

import (
	"context"
	"time"

	"github.com/poltergeist/buildvision/pkg/events"
	"github.com/poltergeist/buildvision/pkg/logger"
)

// Recorder appends every finished session published on the bus
type Recorder struct {
	store   Store
	logger  logger.Logger
	timeout time.Duration
}

// NewRecorder creates a recorder writing to store
func NewRecorder(store Store, log logger.Logger) *Recorder {
	return &Recorder{
		store:   store,
		logger:  log.WithComponent("history"),
		timeout: 5 * time.Second,
	}
}

// Run records BuildDone events until ctx is done or the bus closes.
// Sessions already delivered when ctx ends are still written. Write
// failures are logged; the build is not affected.
func (r *Recorder) Run(ctx context.Context, bus *events.Bus) error {
	ch, unsubscribe := events.Subscribe[events.BuildDone](bus, 16)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			r.drain(ch)
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			r.record(ctx, evt)
		}
	}
}

func (r *Recorder) drain(ch <-chan events.BuildDone) {
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			r.record(context.Background(), evt)
		default:
			return
		}
	}
}

func (r *Recorder) record(ctx context.Context, evt events.BuildDone) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec, err := r.store.Append(ctx, evt.Snapshot)
	if err != nil {
		r.logger.Error("Failed to record build session",
			logger.WithField("session_id", evt.SessionID),
			logger.WithError(err))
		return
	}
	r.logger.Debug("Recorded build session",
		logger.WithField("id", rec.ID),
		logger.WithField("outcome", rec.Outcome))
}
