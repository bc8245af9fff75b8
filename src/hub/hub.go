// Package hub implements the WebSocket fan-out endpoint: it subscribes to a
// Broker, relays every patch to every connected client as a JSON text
// frame, and isolates one slow or failed client from the rest. Adapted
// from this codebase's earlier gateway-style connection-set handling, with
// the opcode framing dropped in favor of the raw frame shapes spec §4.6/§6
// require.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"mirror-control-plane/src/broker"
	"mirror-control-plane/src/concurrency"
	"mirror-control-plane/src/logging"
	"mirror-control-plane/src/model"
	"mirror-control-plane/src/state"
	"mirror-control-plane/src/utils"

	"github.com/gorilla/websocket"
)

// sendTimeout bounds how long a single client write may take before the
// client is evicted (spec §4.6, "the Hub owns per-client send timeouts").
const sendTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// connState isolates one client connection's write path: a dedicated mutex
// serializes frames onto the socket so a patch relay and a control frame
// (e.g. close) never race each other.
type connState struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *connState) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	return c.conn.WriteJSON(v)
}

func (c *connState) close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.Close()
}

// Hub owns the live subscriber set and the single Broker subscription that
// feeds it. One Hub per arbiter process.
type Hub struct {
	State  *state.State
	Broker broker.Broker

	mu     sync.Mutex
	conns  map[int]*connState
	nextID int

	sendLatency utils.LatencyRing
}

// New constructs a Hub bound to st (for the initial_state frame) and b (the
// patch source).
func New(st *state.State, b broker.Broker) *Hub {
	return &Hub{State: st, Broker: b, conns: make(map[int]*connState)}
}

// Run subscribes to the Broker on a panic-isolated goroutine and relays
// every patch to every connected client until ctx is cancelled. Call once at
// startup.
func (h *Hub) Run(ctx context.Context) {
	broker.RunBackground(ctx, h.Broker, h.broadcast)
}

// broadcast relays one patch to every connected client, evicting any client
// whose send fails or exceeds sendTimeout. One bad client never blocks or
// corrupts delivery to the rest (spec §4.6.3).
func (h *Hub) broadcast(patch model.StatePatch) {
	h.mu.Lock()
	targets := make(map[int]*connState, len(h.conns))
	for id, c := range h.conns {
		targets[id] = c
	}
	h.mu.Unlock()

	for id, c := range targets {
		start := time.Now()
		err := c.writeJSON(patch)
		h.sendLatency.Record(time.Since(start))
		if err != nil {
			logging.Log.WithError(err).WithField("conn", id).Warn("hub: evicting client after failed send")
			h.removeConn(id)
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket, registers the client, sends
// the initial_state frame, and blocks reading (and discarding) frames
// until the client disconnects or sends a close control frame — this is a
// server-push protocol; the only inbound traffic expected is pings/closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.WithError(err).Warn("hub: upgrade failed")
		return
	}

	c := &connState{conn: conn}
	id := h.addConn(c)
	defer h.removeConn(id)

	if err := c.writeJSON(map[string]any{"type": "initial_state", "data": h.State.Get()}); err != nil {
		logging.Log.WithError(err).WithField("conn", id).Warn("hub: initial_state send failed")
		c.close()
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) addConn(c *connState) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.conns[id] = c
	return id
}

func (h *Hub) removeConn(id int) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// SendP99 returns the 99th percentile of recent per-client send latencies.
func (h *Hub) SendP99() time.Duration {
	return h.sendLatency.P99()
}
