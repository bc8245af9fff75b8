// Package ingress exposes the arbiter process's HTTP surface: health,
// current state, latest snapshot, and the single Command submission
// endpoint. It never blocks on Broker publication failure — the arbiter
// already treats that as a degraded-mode, logged-and-swallowed condition.
package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"mirror-control-plane/src/arbiter"
	"mirror-control-plane/src/eventstore"
	"mirror-control-plane/src/logging"
	"mirror-control-plane/src/model"
	"mirror-control-plane/src/state"
	"mirror-control-plane/src/utils"
	"mirror-control-plane/src/version"

	"github.com/go-chi/chi/v5"
)

// commandTimeout is the deadline on the context handed to Arbiter.Handle.
// The reducer does not check the context, so the deadline only cuts short
// the Event Store write and Broker publish inside it; the response is still
// 200 with the Event when it passes, and no 5xx is returned for a timeout.
const commandTimeout = 3 * time.Second

// Server wires the HTTP handlers to the Arbiter, State, and Store.
type Server struct {
	Arbiter *arbiter.Arbiter
	State   *state.State
	Store   *eventstore.Store
}

// Routes registers every Ingress endpoint on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/state", s.handleState)
	r.Post("/command", s.handleCommand)
	r.Get("/api/v1/state", s.handleLatestSnapshot)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "mirror-control-plane",
		"version": version.Version,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, s.State.Get())
}

// handleLatestSnapshot serves the most recent persisted snapshot row, for
// callers that only need a coarse view rather than the live head (spec §6).
func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Store.LatestSnapshot(r.Context())
	if err != nil {
		logging.Log.WithError(err).Error("ingress: latest snapshot lookup failed")
		utils.WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "snapshot unavailable"})
		return
	}
	if snap == nil {
		utils.WriteJSON(w, http.StatusOK, map[string]any{"snapshot": nil})
		return
	}
	var decoded any
	if err := json.Unmarshal(snap.State, &decoded); err != nil {
		logging.Log.WithError(err).Error("ingress: snapshot decode failed")
		utils.WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "snapshot undecodable"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"ts": snap.Ts, "state": decoded})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd model.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed json"})
		return
	}
	cmd.Normalize()
	if !cmd.Valid() {
		utils.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "missing source or action"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	event := s.Arbiter.Handle(ctx, cmd)
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   string(event.Type),
		"payload":  event.Payload,
		"event_id": event.ID,
	})
}
