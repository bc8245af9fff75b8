// Package eventstore persists the append-only Event log and periodic State
// snapshots to an embedded SQLite database. Event Store writes are the
// control plane's only disk resource; a write failure is logged and
// swallowed rather than propagated, per the degraded-availability policy in
// spec §4.1/§7 — a user-facing mirror stays responsive even if its disk is
// unhappy.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mirror-control-plane/src/logging"
	"mirror-control-plane/src/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  ts TEXT NOT NULL,
  commandId TEXT NOT NULL,
  type TEXT NOT NULL,
  payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts TEXT NOT NULL,
  state TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_commandId ON events(commandId);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts);
`

// Store wraps the SQLite connection backing the event log and snapshots.
type Store struct {
	db *sql.DB
}

// Open creates the data directory and database file if absent, applies the
// schema, and returns a ready Store. Path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("eventstore: create data dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open: %w", err)
	}
	// SQLite allows only one writer at a time; a single open connection
	// avoids "database is locked" errors under concurrent Append/Snapshot.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventstore: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append inserts one Event row. A duplicate ID is logged and treated as a
// no-op (idempotent append, per spec §4.1); any other write failure is
// logged and swallowed — it must never abort arbitration.
func (s *Store) Append(ctx context.Context, e model.Event) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		logging.Log.WithError(err).WithField("event_id", e.ID).Error("eventstore: marshal payload failed")
		return
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (id, ts, commandId, type, payload) VALUES (?, ?, ?, ?, ?)",
		e.ID, e.Ts, e.CommandID, string(e.Type), string(payload),
	)
	if err == nil {
		return
	}
	if isUniqueConstraintErr(err) {
		logging.Log.WithField("event_id", e.ID).Warn("eventstore: duplicate event id, ignoring")
		return
	}
	logging.Log.WithError(err).WithField("event_id", e.ID).Error("eventstore: append failed (degraded mode)")
}

// Snapshot inserts one full-state snapshot row.
func (s *Store) Snapshot(ctx context.Context, ts string, stateJSON []byte) {
	_, err := s.db.ExecContext(ctx, "INSERT INTO snapshots (ts, state) VALUES (?, ?)", ts, string(stateJSON))
	if err != nil {
		logging.Log.WithError(err).Error("eventstore: snapshot write failed")
	}
}

// Snap is one row of the snapshots table.
type Snap struct {
	ID    int64
	Ts    string
	State []byte
}

// LatestSnapshot returns the most recent snapshot row, or nil if none exist.
func (s *Store) LatestSnapshot(ctx context.Context) (*Snap, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, ts, state FROM snapshots ORDER BY id DESC LIMIT 1")
	var snap Snap
	var stateStr string
	if err := row.Scan(&snap.ID, &snap.Ts, &stateStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("eventstore: latest snapshot: %w", err)
	}
	snap.State = []byte(stateStr)
	return &snap, nil
}

// PruneSnapshots deletes all but the most recent keep snapshot rows. No
// retention policy is mandated by spec §9 ("Snapshot table growth") — this
// is exposed for an operator task to call on whatever cadence it chooses.
func (s *Store) PruneSnapshots(ctx context.Context, keep int) error {
	if keep < 0 {
		keep = 0
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`,
		keep,
	)
	return err
}

// EventsForCommand returns every event recorded for a given command id,
// ordered by their ts column. Used by replay/debugging tooling.
func (s *Store) EventsForCommand(ctx context.Context, commandID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, ts, commandId, type, payload FROM events WHERE commandId = ? ORDER BY ts ASC", commandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var typ, payload string
		if err := rows.Scan(&e.ID, &e.Ts, &e.CommandID, &typ, &payload); err != nil {
			return nil, err
		}
		e.Type = model.EventType(typ)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}
