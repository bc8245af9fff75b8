package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mirror-control-plane/src/arbiter"
	"mirror-control-plane/src/broker"
	"mirror-control-plane/src/concurrency"
	"mirror-control-plane/src/config"
	"mirror-control-plane/src/eventstore"
	"mirror-control-plane/src/hub"
	"mirror-control-plane/src/ingress"
	"mirror-control-plane/src/logging"
	"mirror-control-plane/src/middleware"
	"mirror-control-plane/src/model"
	"mirror-control-plane/src/state"
	"mirror-control-plane/src/utils"

	"github.com/go-chi/chi/v5"
)

func main() {
	cfg := config.Load()
	logging.Configure()

	store, err := eventstore.Open(cfg.DBPath)
	if err != nil {
		logging.Log.WithError(err).Fatal("failed to open event store")
	}
	defer store.Close()

	initial := loadInitialState(store)
	st := state.New(initial)

	msgBroker := newBroker(cfg.BrokerURL)
	a := arbiter.New(st, store, msgBroker, cfg.PrivateModeCode)
	h := hub.New(st, msgBroker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Run(ctx)
	runSnapshotLoop(ctx, store, st, cfg.SnapshotInterval)

	r := chi.NewRouter()
	middleware.Setup(r, cfg.BehindProxy)

	srvHandlers := &ingress.Server{Arbiter: a, State: st, Store: store}
	srvHandlers.Routes(r)
	r.Handle("/ws/state", h)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ListenPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logging.Log.WithField("addr", srv.Addr).Info("control plane listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Fatal("http server error")
		}
	}()

	waitForShutdown(srv, msgBroker)
}

// loadInitialState reconstructs UIState from the latest snapshot row if one
// exists, per spec §3 ("UIState is reconstructed at startup from the latest
// snapshot if present; otherwise it starts at defaults").
func loadInitialState(store *eventstore.Store) state.UIState {
	snap, err := store.LatestSnapshot(context.Background())
	if err != nil {
		logging.Log.WithError(err).Warn("failed to load latest snapshot, starting from defaults")
		return state.Default()
	}
	if snap == nil {
		return state.Default()
	}
	var restored state.UIState
	if err := json.Unmarshal(snap.State, &restored); err != nil {
		logging.Log.WithError(err).Warn("failed to decode latest snapshot, starting from defaults")
		return state.Default()
	}
	logging.Log.WithField("snapshot_ts", snap.Ts).Info("restored state from latest snapshot")
	return restored
}

// newBroker picks the Redis-backed Broker when a URL is configured, and
// falls back to the in-process LocalBroker otherwise (single-process
// deployments, and the default for local development).
func newBroker(url string) broker.Broker {
	if url == "" {
		logging.Log.Info("no broker URL configured, using in-process broker")
		return broker.NewLocal()
	}
	rb, err := broker.NewRedis(url)
	if err != nil {
		logging.Log.WithError(err).Fatal("failed to construct redis broker")
	}
	return rb
}

// runSnapshotLoop ticks every interval and writes a full-state snapshot, per
// spec §6's configured "Snapshot interval".
func runSnapshotLoop(ctx context.Context, store *eventstore.Store, st *state.State, interval time.Duration) {
	concurrency.GoSafe(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				data, err := json.Marshal(st.Get())
				if err != nil {
					logging.Log.WithError(err).Error("snapshot: encode failed")
					continue
				}
				store.Snapshot(ctx, model.NowISO(), data)
			}
		}
	})
}

func waitForShutdown(srv *http.Server, b broker.Broker) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logging.Log.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	_ = b.Close()
}
