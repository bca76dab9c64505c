package events

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Bus is a typed, in-process event bus. Publish blocks until every matching
// subscriber accepted the event or ctx is done; Close closes all
// subscription channels.
type Bus struct {
	mu        sync.RWMutex
	subs      map[reflect.Type]map[uint64]*subscriber
	nextID    atomic.Uint64
	isClosed  atomic.Bool
	closeOnce sync.Once
}

type subscriber struct {
	send  func(ctx context.Context, evt any) error
	close func()
}

// NewBus creates an open bus with no subscribers
func NewBus() *Bus {
	return &Bus{
		subs: make(map[reflect.Type]map[uint64]*subscriber),
	}
}

// Subscribe registers a subscription for events of type T.
//
// If T is an interface, published events whose concrete type implements T
// are delivered. For concrete T only an exact type match is delivered.
func Subscribe[T any](b *Bus, buffer int) (<-chan T, func()) {
	eventType := reflect.TypeOf((*T)(nil)).Elem()
	ch := make(chan T, buffer)

	if b.isClosed.Load() {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID.Add(1)

	// done unblocks in-flight sends; the channel itself is closed only
	// once no send holds the read lock.
	var (
		chMu   sync.RWMutex
		closed bool
		done   = make(chan struct{})
		once   sync.Once
	)
	closeChannel := func() {
		once.Do(func() {
			close(done)
			chMu.Lock()
			closed = true
			close(ch)
			chMu.Unlock()
		})
	}

	var unsubOnce sync.Once
	unsubscribe := func() {
		unsubOnce.Do(func() {
			b.mu.Lock()
			if typeSubs, ok := b.subs[eventType]; ok {
				delete(typeSubs, id)
				if len(typeSubs) == 0 {
					delete(b.subs, eventType)
				}
			}
			b.mu.Unlock()

			closeChannel()
		})
	}

	sub := &subscriber{
		send: func(ctx context.Context, evt any) error {
			v, ok := evt.(T)
			if !ok {
				return fmt.Errorf("%w: expected %s, got %T", ErrTypeMismatch, eventType, evt)
			}

			chMu.RLock()
			defer chMu.RUnlock()
			if closed {
				return nil
			}

			select {
			case ch <- v:
				return nil
			default:
			}

			select {
			case ch <- v:
				return nil
			case <-done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("publish %s: %w", eventType, ctx.Err())
			}
		},
		close: closeChannel,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isClosed.Load() {
		closeChannel()
		return ch, func() {}
	}

	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[uint64]*subscriber)
	}
	b.subs[eventType][id] = sub

	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers for events of type T
func SubscriberCount[T any](b *Bus) int {
	if b == nil {
		return 0
	}

	eventType := reflect.TypeOf((*T)(nil)).Elem()

	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Publish delivers an event to all matching subscribers. Every subscriber
// is attempted; the failures are joined into the returned error.
func (b *Bus) Publish(ctx context.Context, evt any) error {
	if evt == nil {
		return ErrNilEvent
	}
	if ctx == nil {
		return ErrNilContext
	}
	if b.isClosed.Load() {
		return ErrBusClosed
	}

	evtType := reflect.TypeOf(evt)

	b.mu.RLock()
	var targets []*subscriber
	for subType, typeSubs := range b.subs {
		match := subType == evtType
		if !match && subType.Kind() == reflect.Interface {
			match = evtType.Implements(subType)
		}
		if !match {
			continue
		}
		for _, s := range typeSubs {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	if len(targets) == 1 {
		return targets[0].send(ctx, evt)
	}

	// Each subscriber gets the whole ctx budget, so a stalled one cannot
	// cost the others the event.
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, s := range targets {
		i, s := i, s
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.send(ctx, evt)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Close closes the bus and all subscription channels
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.isClosed.Store(true)

		b.mu.Lock()
		var toClose []*subscriber
		for _, typeSubs := range b.subs {
			for _, s := range typeSubs {
				toClose = append(toClose, s)
			}
		}
		b.subs = make(map[reflect.Type]map[uint64]*subscriber)
		b.mu.Unlock()

		for _, s := range toClose {
			s.close()
		}
	})
}
