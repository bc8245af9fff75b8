package arbiter

import (
	"context"
	"sync"
	"testing"

	"mirror-control-plane/src/broker"
	"mirror-control-plane/src/eventstore"
	"mirror-control-plane/src/model"
	"mirror-control-plane/src/state"
)

func newTestArbiter(t *testing.T) (*Arbiter, *broker.LocalBroker) {
	t.Helper()
	store, err := eventstore.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	b := broker.NewLocal()
	t.Cleanup(func() { b.Close() })

	st := state.New(state.Default())
	return New(st, store, b, "unlock"), b
}

func collectPatches(t *testing.T, b *broker.LocalBroker, n int) <-chan []model.StatePatch {
	t.Helper()
	out := make(chan []model.StatePatch, 1)
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		var got []model.StatePatch
		var mu sync.Mutex
		done := make(chan struct{})
		go func() {
			_ = b.Subscribe(ctx, func(p model.StatePatch) {
				mu.Lock()
				got = append(got, p)
				if len(got) >= n {
					close(done)
				}
				mu.Unlock()
			})
		}()
		<-done
		mu.Lock()
		out <- got
		mu.Unlock()
	}()
	return out
}

// S1: add_todo appends a todo and broadcasts the append patch.
func TestScenarioAddTodo(t *testing.T) {
	a, _ := newTestArbiter(t)
	cmd := model.Command{Source: model.SourceVoice, Action: "add_todo", Payload: map[string]any{"text": "Buy milk"}}
	cmd.Normalize()

	event := a.Handle(context.Background(), cmd)
	if event.Type != model.EventStatePatch {
		t.Fatalf("expected state_patch, got %s", event.Type)
	}

	got := a.State.Get()
	if len(got.Todos) != 1 {
		t.Fatalf("expected 1 todo, got %d", len(got.Todos))
	}
	todo := got.Todos[0]
	if todo.ID != 1 || todo.Text != "Buy milk" || todo.Completed || todo.CreatedAt != cmd.Ts {
		t.Fatalf("unexpected todo: %+v", todo)
	}
}

// S2: toggle_mic flips mic_enabled on each call.
func TestScenarioToggleMicTwice(t *testing.T) {
	a, _ := newTestArbiter(t)
	cmd := model.Command{Source: model.SourceGesture, Action: "toggle_mic"}
	cmd.Normalize()

	a.Handle(context.Background(), cmd)
	if !a.State.Get().MicEnabled {
		t.Fatal("expected mic_enabled true after first toggle")
	}

	cmd2 := model.Command{Source: model.SourceGesture, Action: "toggle_mic"}
	cmd2.Normalize()
	a.Handle(context.Background(), cmd2)
	if a.State.Get().MicEnabled {
		t.Fatal("expected mic_enabled false after second toggle")
	}
}

// S3: leaving private mode from a private-only app emits two patches in order
// and lands on mode=public, appRoute=home.
func TestScenarioSetModePrivateToPublicFromEmail(t *testing.T) {
	a, b := newTestArbiter(t)
	a.State.Apply("/ui/mode", "private")
	a.State.Apply("/ui/appRoute", "email")

	patches := collectPatches(t, b, 2)

	cmd := model.Command{Source: model.SourceVoice, Action: "system.setMode", Payload: map[string]any{"mode": "public"}}
	cmd.Normalize()
	event := a.Handle(context.Background(), cmd)

	if event.Type != model.EventStatePatch {
		t.Fatalf("expected state_patch, got %s", event.Type)
	}
	if event.Payload["path"] != "/ui/mode" {
		t.Fatalf("expected final event to carry the mode patch, got %+v", event.Payload)
	}

	got := <-patches
	if len(got) != 2 {
		t.Fatalf("expected 2 broadcast patches, got %d: %+v", len(got), got)
	}
	if got[0].Path != "/ui/appRoute" || got[0].Value != "home" {
		t.Fatalf("expected first patch to be appRoute->home, got %+v", got[0])
	}
	if got[1].Path != "/ui/mode" || got[1].Value != "public" {
		t.Fatalf("expected second patch to be mode->public, got %+v", got[1])
	}

	final := a.State.Get()
	if final.UI.Mode != "public" || final.UI.AppRoute != "home" {
		t.Fatalf("unexpected final state: %+v", final.UI)
	}
}

// S4: a wrong private-mode code rejects without mutating state or publishing.
func TestScenarioSetModeWrongCodeRejected(t *testing.T) {
	a, _ := newTestArbiter(t)
	before := a.State.Get()

	cmd := model.Command{Source: model.SourceSystem, Action: "system.setMode", Payload: map[string]any{"mode": "private", "code": "wrong"}}
	cmd.Normalize()
	event := a.Handle(context.Background(), cmd)

	if event.Type != model.EventRejected {
		t.Fatalf("expected rejected, got %s", event.Type)
	}
	if event.Payload["reason"] != "invalid_code" || event.Payload["action"] != "system.setMode" {
		t.Fatalf("unexpected reject payload: %+v", event.Payload)
	}

	after := a.State.Get()
	if after.UI.Mode != before.UI.Mode {
		t.Fatalf("state mutated on rejected command: before=%s after=%s", before.UI.Mode, after.UI.Mode)
	}
}

// S5: repeated nav.nextApp in public mode skips email/finance and wraps.
func TestScenarioNextAppSequenceSkipsPrivateOnly(t *testing.T) {
	a, _ := newTestArbiter(t)
	want := []string{"weather", "news", "todos", "calendar", "settings", "home", "weather"}

	for i, w := range want {
		cmd := model.Command{Source: model.SourceVoice, Action: "nav.nextApp"}
		cmd.Normalize()
		a.Handle(context.Background(), cmd)
		got := a.State.Get().UI.AppRoute
		if got != w {
			t.Fatalf("step %d: expected appRoute %q, got %q", i, w, got)
		}
	}
}

func TestVoiceOpenAppNotVisibleRejects(t *testing.T) {
	a, _ := newTestArbiter(t)
	cmd := model.Command{Source: model.SourceVoice, Action: "voice.openApp", Payload: map[string]any{"app": "email"}}
	cmd.Normalize()
	event := a.Handle(context.Background(), cmd)
	if event.Type != model.EventRejected || event.Payload["reason"] != "app_not_visible" {
		t.Fatalf("expected rejected/app_not_visible, got %+v", event)
	}
}

func TestNavBackOrHomeAtHomeIsNoopAccepted(t *testing.T) {
	a, _ := newTestArbiter(t)
	cmd := model.Command{Source: model.SourceVoice, Action: "nav.backOrHome"}
	cmd.Normalize()
	event := a.Handle(context.Background(), cmd)
	if event.Type != model.EventAccepted || event.Payload["noop"] != true {
		t.Fatalf("expected accepted/noop, got %+v", event)
	}
}

func TestUnknownActionRejected(t *testing.T) {
	a, _ := newTestArbiter(t)
	cmd := model.Command{Source: model.SourceSystem, Action: "totally.bogus"}
	cmd.Normalize()
	event := a.Handle(context.Background(), cmd)
	if event.Type != model.EventRejected || event.Payload["reason"] != "unknown_action" {
		t.Fatalf("expected rejected/unknown_action, got %+v", event)
	}
}

// Property 4: voice.nav translates to the equivalent canonical command.
func TestVoiceNavEquivalentToCanonicalNav(t *testing.T) {
	a1, _ := newTestArbiter(t)
	a2, _ := newTestArbiter(t)

	voiceCmd := model.Command{Source: model.SourceVoice, Action: "voice.nav", Payload: map[string]any{"action": "next"}}
	voiceCmd.Normalize()
	canonicalCmd := model.Command{ID: voiceCmd.ID, Ts: voiceCmd.Ts, Source: model.SourceVoice, Action: "nav.nextApp"}

	e1 := a1.Handle(context.Background(), voiceCmd)
	e2 := a2.Handle(context.Background(), canonicalCmd)

	if e1.Type != e2.Type {
		t.Fatalf("event type mismatch: %s vs %s", e1.Type, e2.Type)
	}
	if a1.State.Get().UI.AppRoute != a2.State.Get().UI.AppRoute {
		t.Fatalf("appRoute mismatch after equivalent commands")
	}
}

func TestVoiceNavUnrecognisedActionRejected(t *testing.T) {
	a, _ := newTestArbiter(t)
	cmd := model.Command{Source: model.SourceVoice, Action: "voice.nav", Payload: map[string]any{"action": "teleport"}}
	cmd.Normalize()
	event := a.Handle(context.Background(), cmd)
	if event.Type != model.EventRejected {
		t.Fatalf("expected rejected for unrecognised voice.nav action, got %+v", event)
	}
}

// Property 2 (serialisability): concurrent add_todo commands against one
// Arbiter never lose an update and never assign duplicate ids. Handle
// serializes the whole reduce on Arbiter.mu, so the end state must be
// equivalent to some sequential interleaving of all submitted commands.
func TestConcurrentAddTodoIsSerializable(t *testing.T) {
	a, _ := newTestArbiter(t)
	const n = 50

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			cmd := model.Command{Source: model.SourceSystem, Action: "add_todo", Payload: map[string]any{"text": "item"}}
			cmd.Normalize()
			a.Handle(context.Background(), cmd)
		}(i)
	}
	wg.Wait()

	got := a.State.Get()
	if len(got.Todos) != n {
		t.Fatalf("expected %d todos, got %d", n, len(got.Todos))
	}
	seen := map[int]bool{}
	for _, todo := range got.Todos {
		if seen[todo.ID] {
			t.Fatalf("duplicate todo id %d", todo.ID)
		}
		seen[todo.ID] = true
	}
}

// An even number of concurrent toggle_mic commands against one Arbiter
// must land back on the starting value: read-then-flip is serialized by
// Arbiter.Handle, so no concurrent pair can read the same prior value and
// both write the same new one (a lost update).
func TestConcurrentToggleMicIsSerializable(t *testing.T) {
	a, _ := newTestArbiter(t)
	const n = 40

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			cmd := model.Command{Source: model.SourceGesture, Action: "toggle_mic"}
			cmd.Normalize()
			a.Handle(context.Background(), cmd)
		}()
	}
	wg.Wait()

	if got := a.State.Get().MicEnabled; got != false {
		t.Fatalf("expected mic_enabled back at false after %d toggles, got %v", n, got)
	}
}

func TestAppNavigateIsAcceptedWithoutMutation(t *testing.T) {
	a, _ := newTestArbiter(t)
	before := a.State.Get()
	cmd := model.Command{Source: model.SourceSystem, Action: "app.navigate", Payload: map[string]any{"direction": "prev"}}
	cmd.Normalize()
	event := a.Handle(context.Background(), cmd)
	if event.Type != model.EventAccepted || event.Payload["direction"] != "prev" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if a.State.Get().UI.AppRoute != before.UI.AppRoute {
		t.Fatal("app.navigate must not mutate state")
	}
}
