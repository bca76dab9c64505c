package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsubscribe := Subscribe[BuildBegin](b, 1)
	defer unsubscribe()

	require.NoError(t, b.Publish(context.Background(), BuildBegin{SessionID: "bs_1"}))

	select {
	case got := <-ch:
		require.Equal(t, "bs_1", got.SessionID)
	case <-time.After(250 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_InterfaceSubscriptionReceivesAllEvents(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsubscribe := Subscribe[Event](b, 4)
	defer unsubscribe()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, BuildBegin{SessionID: "s"}))
	require.NoError(t, b.Publish(ctx, BuildProcess{SessionID: "s"}))
	require.NoError(t, b.Publish(ctx, BuildDone{SessionID: "s"}))

	var names []string
	for i := 0; i < 3; i++ {
		select {
		case evt := <-ch:
			names = append(names, evt.Name())
		case <-time.After(250 * time.Millisecond):
			t.Fatal("timed out waiting for event")
		}
	}
	require.Equal(t, []string{"build.begin", "build.process", "build.done"}, names)
}

func TestBus_ConcreteSubscriptionIgnoresOtherTypes(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsubscribe := Subscribe[BuildDone](b, 1)
	defer unsubscribe()

	require.NoError(t, b.Publish(context.Background(), BuildBegin{}))

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %+v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBus_PublishBackpressure(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_, unsubscribe := Subscribe[BuildProcess](b, 0)
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := b.Publish(ctx, BuildProcess{})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBus_Close(t *testing.T) {
	b := NewBus()

	ch, _ := Subscribe[BuildBegin](b, 1)
	b.Close()

	_, ok := <-ch
	require.False(t, ok, "channel must be closed on bus close")

	require.ErrorIs(t, b.Publish(context.Background(), BuildBegin{}), ErrBusClosed)

	late, _ := Subscribe[BuildBegin](b, 1)
	_, ok = <-late
	require.False(t, ok, "subscribing to a closed bus yields a closed channel")
}

func TestBus_PublishNil(t *testing.T) {
	b := NewBus()
	defer b.Close()
	require.ErrorIs(t, b.Publish(context.Background(), nil), ErrNilEvent)
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_, unsubscribe := Subscribe[BuildProcess](b, 0)
	require.Equal(t, 1, SubscriberCount[BuildProcess](b))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Publish(ctx, BuildProcess{})
	}()

	time.Sleep(10 * time.Millisecond)
	unsubscribe()
	wg.Wait()

	require.Equal(t, 0, SubscriberCount[BuildProcess](b))
}

func TestBus_StalledSubscriberDoesNotStarveOthers(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_, unsubscribeStalled := Subscribe[BuildDone](b, 0)
	defer unsubscribeStalled()
	healthy, unsubscribeHealthy := Subscribe[BuildDone](b, 1)
	defer unsubscribeHealthy()

	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		err := b.Publish(ctx, BuildDone{SessionID: "bs_1"})
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded, "the stalled subscriber is reported")

		select {
		case got := <-healthy:
			require.Equal(t, "bs_1", got.SessionID)
		default:
			t.Fatalf("healthy subscriber missed event %d", i)
		}
	}
}
