package sink_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/poltergeist/buildvision/pkg/events"
	"github.com/poltergeist/buildvision/pkg/logger"
	"github.com/poltergeist/buildvision/pkg/sink"
	"github.com/poltergeist/buildvision/pkg/types"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func (f *fakePublisher) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func TestForwarder_SubjectsAndPayload(t *testing.T) {
	pub := &fakePublisher{}
	f := sink.NewForwarder(pub, sink.Options{Subject: "ci.vs"}, logger.NewNopLogger())

	p := types.NewProject(types.ProjectInfo{UniqueName: "ProjA"})
	require.NoError(t, f.Forward(events.ProjectDone{SessionID: "bs_1", Project: p, State: types.ProjectStateBuildError}))
	require.NoError(t, f.Forward(events.DiagnosticRaised{
		SessionID:  "bs_1",
		Level:      types.LevelError,
		Diagnostic: types.Diagnostic{Level: types.LevelError, Code: "CS1002", ProjectName: "ProjA"},
	}))

	msgs := pub.all()
	require.Len(t, msgs, 2)
	require.Equal(t, "ci.vs.project.done", msgs[0].subject)
	require.Equal(t, "ci.vs.diagnostic.raised", msgs[1].subject)

	var m sink.Message
	require.NoError(t, json.Unmarshal(msgs[0].data, &m))
	require.Equal(t, "ProjA", m.Project)
	require.Equal(t, types.ProjectStateBuildError, m.State)

	require.NoError(t, json.Unmarshal(msgs[1].data, &m))
	require.NotNil(t, m.Diagnostic)
	require.Equal(t, "CS1002", m.Diagnostic.Code)
}

func TestForwarder_HeartbeatsOptional(t *testing.T) {
	pub := &fakePublisher{}
	f := sink.NewForwarder(pub, sink.Options{}, logger.NewNopLogger())
	require.NoError(t, f.Forward(events.BuildProcess{SessionID: "bs_1", Time: time.Now()}))
	require.Empty(t, pub.all())

	f = sink.NewForwarder(pub, sink.Options{Heartbeats: true}, logger.NewNopLogger())
	require.NoError(t, f.Forward(events.BuildProcess{SessionID: "bs_1", Time: time.Now()}))
	require.Equal(t, "buildvision.events.build.process", pub.all()[0].subject)
}

func TestForwarder_Errors(t *testing.T) {
	f := sink.NewForwarder(nil, sink.Options{}, logger.NewNopLogger())
	require.ErrorIs(t, f.Forward(events.BuildCancelled{SessionID: "bs_1"}), sink.ErrNotConnected)

	broken := errors.New("connection closed")
	f = sink.NewForwarder(&fakePublisher{err: broken}, sink.Options{}, logger.NewNopLogger())
	require.ErrorIs(t, f.Forward(events.BuildCancelled{SessionID: "bs_1"}), broken)
	require.NoError(t, f.Close())
}

func TestForwarder_RunForwardsBusEvents(t *testing.T) {
	pub := &fakePublisher{}
	f := sink.NewForwarder(pub, sink.Options{}, logger.NewNopLogger())
	bus := events.NewBus()

	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background(), bus) }()
	require.Eventually(t, func() bool {
		return events.SubscriberCount[events.Event](bus) == 1
	}, time.Second, 5*time.Millisecond)

	start := time.Now()
	snap := types.SessionSnapshot{SessionID: "bs_2", Action: types.BuildActionClean, Scope: types.BuildScopeSolution, StartTime: &start, FinishTime: &start}
	require.NoError(t, bus.Publish(context.Background(), events.BuildDone{SessionID: "bs_2", Snapshot: snap}))

	require.Eventually(t, func() bool { return len(pub.all()) == 1 }, time.Second, 5*time.Millisecond)
	var m sink.Message
	require.NoError(t, json.Unmarshal(pub.all()[0].data, &m))
	require.Equal(t, types.OutcomeSucceeded, m.Outcome)
	require.Equal(t, types.BuildActionClean, m.Action)

	bus.Close()
	require.NoError(t, <-done)
}
