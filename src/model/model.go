// Package model defines the wire types exchanged between producers, the
// arbiter, the event store, and the broker: Command (input), Event (the
// arbiter's record of what happened), and StatePatch (one mutation to
// UIState).
package model

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies which kind of producer submitted a Command.
type Source string

const (
	SourceVoice   Source = "voice"
	SourceGesture Source = "gesture"
	SourceSystem  Source = "system"
)

// EventType is the outcome classification of an arbitrated Command.
type EventType string

const (
	EventAccepted   EventType = "accepted"
	EventRejected   EventType = "rejected"
	EventStatePatch EventType = "state_patch"
)

// Command is an input intent from a producer. It is immutable once accepted;
// ID and Ts are generated server-side when absent from the wire payload.
type Command struct {
	ID      string         `json:"id"`
	Ts      string         `json:"ts"`
	Source  Source         `json:"source"`
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

// Normalize fills in a generated ID/Ts when the wire payload omitted them.
// It must run once, at ingress, before the Command reaches the arbiter.
func (c *Command) Normalize() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Ts == "" {
		c.Ts = nowISO()
	}
	if c.Payload == nil {
		c.Payload = map[string]any{}
	}
}

// Valid reports whether the Command has the minimum shape the wire format
// requires: a recognised source and a non-empty action.
func (c Command) Valid() bool {
	switch c.Source {
	case SourceVoice, SourceGesture, SourceSystem:
	default:
		return false
	}
	return c.Action != ""
}

// Event is the arbiter's record of what happened for a Command. Events are
// never mutated once constructed and are persisted to the event log.
type Event struct {
	ID        string         `json:"id"`
	Ts        string         `json:"ts"`
	CommandID string         `json:"commandId"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload"`
}

// StatePatch describes one mutation to UIState. Patches are self-describing:
// applying the same patch to the same prior state is deterministic.
type StatePatch struct {
	Ts    string `json:"ts"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NowISO is exported so other packages (state, and cmd's snapshot loop)
// stamp timestamps the same way the model package does.
func NowISO() string {
	return nowISO()
}
