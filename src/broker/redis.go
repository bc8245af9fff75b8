package broker

import (
	"context"
	"encoding/json"
	"time"

	"mirror-control-plane/src/logging"
	"mirror-control-plane/src/model"

	"github.com/redis/go-redis/v9"
)

// Channel is the single pub/sub channel the control plane uses for state
// patches, the Go analogue of the original Python service's "mira:state".
const Channel = "mirror:state"

// reconnectDelay is the fixed backoff between subscribe retries, per spec
// §4.3/§5 ("initial 5s, fixed is acceptable").
const reconnectDelay = 5 * time.Second

// RedisBroker publishes and subscribes over a Redis pub/sub channel. It is
// the external broker described in spec §4.3: an outage must not stop the
// arbiter from mutating local state or persisting events, so Publish never
// blocks the caller on a slow/unreachable Redis, and Subscribe retries
// forever with a fixed delay until its context is cancelled.
type RedisBroker struct {
	client *redis.Client
}

// NewRedis constructs a RedisBroker against the given connection URL
// (e.g. "redis://localhost:6379").
func NewRedis(url string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisBroker{client: redis.NewClient(opts)}, nil
}

// Publish marshals patch and fires it at the Redis channel. Errors are
// logged and swallowed — spec §4.3 requires publish to be fire-and-forget.
func (b *RedisBroker) Publish(ctx context.Context, patch model.StatePatch) {
	data, err := json.Marshal(patch)
	if err != nil {
		logging.Log.WithError(err).Error("broker: marshal patch failed")
		return
	}
	if err := b.client.Publish(ctx, Channel, data).Err(); err != nil {
		logging.Log.WithError(err).Warn("broker: publish failed")
	}
}

// Subscribe listens on the Redis channel and invokes handler for every
// decoded patch. On any receive error it waits reconnectDelay and
// re-subscribes, forever, until ctx is cancelled — matching the "retry
// after fixed delay (5s) forever until shutdown" rule in spec §5.
func (b *RedisBroker) Subscribe(ctx context.Context, handler func(model.StatePatch)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := b.subscribeOnce(ctx, handler); err != nil {
			logging.Log.WithError(err).Warn("broker: subscription dropped, retrying")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (b *RedisBroker) subscribeOnce(ctx context.Context, handler func(model.StatePatch)) error {
	pubsub := b.client.Subscribe(ctx, Channel)
	defer pubsub.Close()

	// Confirm the subscription succeeded before entering the receive loop.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var patch model.StatePatch
			if err := json.Unmarshal([]byte(msg.Payload), &patch); err != nil {
				// Malformed or control frame; ignore and keep listening.
				logging.Log.WithError(err).Warn("broker: ignoring undecodable message")
				continue
			}
			handler(patch)
		}
	}
}

// Close releases the Redis client connection.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
