package broker

import (
	"context"
	"sync"

	"mirror-control-plane/src/concurrency"
	"mirror-control-plane/src/logging"
	"mirror-control-plane/src/model"
)

// LocalBroker is an in-process, non-blocking fan-out broker: used when no
// external broker URL is configured, and as the fast default in tests. A
// patch that does not fit into a subscriber's buffered channel is dropped
// for that subscriber, so a stalled subscriber never blocks publishers.
type LocalBroker struct {
	mu     sync.Mutex
	subs   map[int]chan model.StatePatch
	nextID int
	closed bool
}

// NewLocal constructs a ready LocalBroker.
func NewLocal() *LocalBroker {
	return &LocalBroker{subs: make(map[int]chan model.StatePatch)}
}

// Publish delivers patch to every currently-subscribed handler channel.
// Slow subscribers have their delivery dropped rather than blocking the
// publisher, matching the at-most-once/best-effort contract of spec §4.3.
func (b *LocalBroker) Publish(ctx context.Context, patch model.StatePatch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- patch:
		default:
			logging.Log.WithField("subscriber", id).Warn("broker: dropping patch, subscriber channel full")
		}
	}
}

// Subscribe registers a channel and runs handler over it until ctx is
// cancelled or the broker is closed.
func (b *LocalBroker) Subscribe(ctx context.Context, handler func(model.StatePatch)) error {
	ch := make(chan model.StatePatch, 64)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case patch, ok := <-ch:
			if !ok {
				return nil
			}
			handler(patch)
		}
	}
}

// Close unblocks every active Subscribe call.
func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	return nil
}

// RunBackground wires a Subscribe loop onto a panic-isolated goroutine,
// used at startup to hand the hub's relay function to whichever Broker
// implementation was configured.
func RunBackground(ctx context.Context, b Broker, handler func(model.StatePatch)) {
	concurrency.GoSafe(func() {
		if err := b.Subscribe(ctx, handler); err != nil {
			logging.Log.WithError(err).Error("broker: subscribe loop exited")
		}
	})
}
