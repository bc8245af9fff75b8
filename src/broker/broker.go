// Package broker abstracts the publish/subscribe channel the arbiter uses
// to fan state patches out to the hub. The external implementation
// (RedisBroker) survives the arbiter and hub running in separate processes
// and reconnects on its own after an outage; LocalBroker is an in-process
// fallback used when no broker URL is configured, and doubles as the fast
// test double.
package broker

import (
	"context"

	"mirror-control-plane/src/model"
)

// Broker is the publish/subscribe abstraction described in spec §4.3.
type Broker interface {
	// Publish is fire-and-forget, non-blocking best effort; failures are
	// logged, never returned to the arbiter's caller.
	Publish(ctx context.Context, patch model.StatePatch)

	// Subscribe blocks, invoking handler once per decoded patch, until ctx
	// is cancelled. Implementations that talk to an external bus must
	// reconnect with bounded backoff on any connection error.
	Subscribe(ctx context.Context, handler func(model.StatePatch)) error

	// Close releases any held resources (connections, goroutines).
	Close() error
}
