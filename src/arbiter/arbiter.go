// Package arbiter implements the policy-driven reducer at the heart of the
// control plane: (Command, State) -> (Event, optional StatePatch). It is
// the sole mutator of State, persists every Event it produces, and
// publishes every patch it applies, in that order, within a single Handle
// call (spec §4.4 ordering rule).
package arbiter

import (
	"context"
	"sync"

	"mirror-control-plane/src/broker"
	"mirror-control-plane/src/eventstore"
	"mirror-control-plane/src/logging"
	"mirror-control-plane/src/model"
	"mirror-control-plane/src/state"
	"mirror-control-plane/src/utils"
)

// Arbiter reduces Commands against the single State instance, persisting
// Events to the Store and publishing StatePatches to the Broker. mu
// serializes the whole reduce-mutate-persist-publish sequence so that
// compound read-then-write policies (add_todo's id assignment, the
// toggles, nav's current-then-next lookup) are atomic across concurrently
// submitted Commands, matching spec §5's "single-threaded with respect to
// State" — per-Apply locking in the state package alone only guarantees
// that a single patch is applied atomically, not that a policy's read and
// its subsequent write happen without an interleaved Command in between.
type Arbiter struct {
	mu          sync.Mutex
	State       *state.State
	Store       *eventstore.Store
	Broker      broker.Broker
	PrivateCode string
}

// New constructs an Arbiter. privateCode is the value system.setMode
// requires in payload.code to transition into "private" mode (spec §9:
// "hardcoded in the source to unlock; treat as a required configuration
// value").
func New(st *state.State, store *eventstore.Store, b broker.Broker, privateCode string) *Arbiter {
	return &Arbiter{State: st, Store: store, Broker: b, PrivateCode: privateCode}
}

// Handle is the arbiter's single public entry point. It holds the
// Arbiter's mutex for the whole reduce, so Commands submitted concurrently
// from Ingress's per-request goroutines are serialized into some
// sequential order, satisfying the serialisability property in spec §8.
func (a *Arbiter) Handle(ctx context.Context, cmd model.Command) model.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle(ctx, cmd)
}

// handle runs the policy table without taking the lock; it must only be
// called while a.mu is already held, either by Handle or by a policy (like
// voice.nav) that re-dispatches into another policy within the same turn.
func (a *Arbiter) handle(ctx context.Context, cmd model.Command) model.Event {
	logging.Log.WithFields(map[string]any{
		"action": cmd.Action, "source": cmd.Source, "command_id": cmd.ID,
	}).Debug("arbiter: handling command")

	switch classify(cmd.Action) {
	case actionAddTodo:
		return a.handleAddTodo(ctx, cmd)
	case ActionToggleMic:
		return a.handleToggle(ctx, cmd, "/mic_enabled", a.State.Get().MicEnabled)
	case ActionToggleCam:
		return a.handleToggle(ctx, cmd, "/cam_enabled", a.State.Get().CamEnabled)
	case actionSetMode:
		return a.handleSetLegacyMode(ctx, cmd)
	case actionGesture:
		return a.handleGesture(ctx, cmd)
	case ActionSetGNArmed:
		return a.handleSetGNArmed(ctx, cmd)
	case ActionNavNextApp:
		return a.handleNav(ctx, cmd, state.NextApp)
	case ActionNavPrevApp:
		return a.handleNav(ctx, cmd, state.PrevApp)
	case ActionNavOpenFocused:
		return a.handleOpenAppFocused(ctx, cmd)
	case ActionNavBackOrHome:
		return a.handleBackOrHome(ctx, cmd)
	case ActionAppNavigate:
		direction, _ := cmd.Payload["direction"].(string)
		if direction == "" {
			direction = "next"
		}
		return a.accept(ctx, cmd, map[string]any{"action": cmd.Action, "direction": direction})
	case ActionAppSelectFocus, ActionAppQuickActions:
		return a.accept(ctx, cmd, map[string]any{"action": cmd.Action})
	case ActionVoiceOpenApp:
		return a.handleVoiceOpenApp(ctx, cmd)
	case ActionVoiceNav:
		return a.handleVoiceNav(ctx, cmd)
	case ActionSystemToggleDbg:
		return a.handleToggle(ctx, cmd, "/ui/debug/enabled", a.State.Get().UI.Debug.Enabled)
	case ActionSystemSetMode:
		return a.handleSystemSetMode(ctx, cmd)
	default:
		return a.reject(ctx, cmd, "unknown_action", nil)
	}
}

// handleAddTodo implements add_todo*: unconditionally appends a new todo.
func (a *Arbiter) handleAddTodo(ctx context.Context, cmd model.Command) model.Event {
	text := utils.GetString(cmd.Payload["text"])
	todo := state.Todo{
		ID:        a.State.TodoCount() + 1,
		Text:      text,
		Completed: false,
		CreatedAt: cmd.Ts,
	}
	return a.applyAndEmit(ctx, cmd, "/todos/+", todo)
}

// handleToggle flips a boolean field unconditionally (toggle_mic, toggle_cam,
// system.toggleDebug). Toggles are not idempotent by design: issuing the
// same command twice flips the flag back.
func (a *Arbiter) handleToggle(ctx context.Context, cmd model.Command, path string, current bool) model.Event {
	return a.applyAndEmit(ctx, cmd, path, !current)
}

// handleSetLegacyMode implements set_mode*: sets the legacy top-level mode
// field (idle|voice|gesture|settings), defaulting to "idle".
func (a *Arbiter) handleSetLegacyMode(ctx context.Context, cmd model.Command) model.Event {
	mode := utils.GetString(cmd.Payload["mode"])
	if mode == "" {
		mode = "idle"
	}
	return a.applyAndEmit(ctx, cmd, "/mode", mode)
}

// handleGesture implements gesture_*: records the last observed gesture.
func (a *Arbiter) handleGesture(ctx context.Context, cmd model.Command) model.Event {
	gesture := utils.GetString(cmd.Payload["gesture"])
	if gesture == "" {
		gesture = "idle"
	}
	return a.applyAndEmit(ctx, cmd, "/last_gesture", gesture)
}

// handleSetGNArmed implements set_gn_armed.
func (a *Arbiter) handleSetGNArmed(ctx context.Context, cmd model.Command) model.Event {
	armed := utils.GetBool(cmd.Payload["gnArmed"])
	return a.applyAndEmit(ctx, cmd, "/ui/gnArmed", armed)
}

// handleNav implements nav.nextApp/nav.prevApp using the supplied circular
// navigation function.
func (a *Arbiter) handleNav(ctx context.Context, cmd model.Command, nav func(current, mode string) string) model.Event {
	cur := a.State.Get()
	next := nav(cur.UI.AppRoute, cur.UI.Mode)
	return a.applyAndEmit(ctx, cmd, "/ui/appRoute", next)
}

// handleOpenAppFocused implements nav.openAppFocused: clears the focus path.
func (a *Arbiter) handleOpenAppFocused(ctx context.Context, cmd model.Command) model.Event {
	return a.applyAndEmit(ctx, cmd, "/ui/focusPath", []string{})
}

// handleBackOrHome implements nav.backOrHome. Per spec §9's Open Question
// decision, already being at "home" emits accepted{noop:true} rather than
// the source's silent no-event.
func (a *Arbiter) handleBackOrHome(ctx context.Context, cmd model.Command) model.Event {
	if a.State.Get().UI.AppRoute == "home" {
		return a.accept(ctx, cmd, map[string]any{"action": cmd.Action, "noop": true})
	}
	return a.applyAndEmit(ctx, cmd, "/ui/appRoute", "home")
}

// handleVoiceOpenApp implements voice.openApp. Per spec §9's Open Question
// decision, a target app that isn't visible emits
// rejected{reason:"app_not_visible"} rather than the source's silent
// no-event.
func (a *Arbiter) handleVoiceOpenApp(ctx context.Context, cmd model.Command) model.Event {
	appID := utils.GetString(cmd.Payload["app"])
	mode := a.State.Get().UI.Mode
	if appID == "" || !state.IsAppVisible(appID, mode) {
		return a.reject(ctx, cmd, "app_not_visible", map[string]any{"app": appID})
	}
	return a.applyAndEmit(ctx, cmd, "/ui/appRoute", appID)
}

// handleVoiceNav implements voice.nav by translating the voice payload into
// the canonical nav.*/app.selectFocus Command and dispatching it once more
// through the unlocked handle (the mutex is already held by the outer Handle
// call). The translated action is never voice.nav, so the re-dispatch is
// exactly one level deep.
func (a *Arbiter) handleVoiceNav(ctx context.Context, cmd model.Command) model.Event {
	navAction, ok := translateVoiceNav(utils.GetString(cmd.Payload["action"]))
	if !ok {
		return a.reject(ctx, cmd, "unknown_action", map[string]any{"action": cmd.Action})
	}
	translated := model.Command{
		ID:      cmd.ID,
		Ts:      cmd.Ts,
		Source:  cmd.Source,
		Action:  string(navAction),
		Payload: map[string]any{},
	}
	return a.handle(ctx, translated)
}

// translateVoiceNav maps a voice.nav payload.action value onto the
// canonical command it stands for.
func translateVoiceNav(navAction string) (Action, bool) {
	switch navAction {
	case "next":
		return ActionNavNextApp, true
	case "prev", "previous":
		return ActionNavPrevApp, true
	case "back":
		return ActionNavBackOrHome, true
	case "select":
		return ActionAppSelectFocus, true
	default:
		return ActionUnknown, false
	}
}

// handleSystemSetMode implements system.setMode, including the private-code
// guard and the appRoute-to-home hop when leaving a private-only app.
func (a *Arbiter) handleSystemSetMode(ctx context.Context, cmd model.Command) model.Event {
	newMode := utils.GetString(cmd.Payload["mode"])
	code := utils.GetString(cmd.Payload["code"])

	if newMode == "private" && code != a.PrivateCode {
		return a.reject(ctx, cmd, "invalid_code", map[string]any{"action": cmd.Action})
	}

	cur := a.State.Get()
	if cur.UI.Mode == "private" && newMode == "public" {
		if cur.UI.AppRoute == "email" || cur.UI.AppRoute == "finance" {
			// Publish-only: navigate home first without emitting a
			// separate Event for this intermediate patch, matching
			// spec §4.4/S3 ("two state_patch broadcasts; final Event
			// carries the mode patch").
			a.State.Apply("/ui/appRoute", "home")
			a.Broker.Publish(ctx, model.StatePatch{Ts: cmd.Ts, Path: "/ui/appRoute", Value: "home"})
		}
	}

	return a.applyAndEmit(ctx, cmd, "/ui/mode", newMode)
}

// applyAndEmit applies path<-value to State, builds the resulting
// state_patch Event, persists it, and publishes the patch — in that order,
// per spec §4.4's ordering rule.
func (a *Arbiter) applyAndEmit(ctx context.Context, cmd model.Command, path string, value any) model.Event {
	a.State.Apply(path, value)

	patch := model.StatePatch{Ts: cmd.Ts, Path: path, Value: value}
	event := model.Event{
		ID:        cmd.ID,
		Ts:        cmd.Ts,
		CommandID: cmd.ID,
		Type:      model.EventStatePatch,
		Payload:   map[string]any{"ts": patch.Ts, "path": patch.Path, "value": patch.Value},
	}

	a.Store.Append(ctx, event)
	a.Broker.Publish(ctx, patch)
	return event
}

// accept builds and persists an accepted Event with no state mutation.
func (a *Arbiter) accept(ctx context.Context, cmd model.Command, payload map[string]any) model.Event {
	event := model.Event{ID: cmd.ID, Ts: cmd.Ts, CommandID: cmd.ID, Type: model.EventAccepted, Payload: payload}
	a.Store.Append(ctx, event)
	return event
}

// reject builds and persists a rejected Event with no state mutation.
func (a *Arbiter) reject(ctx context.Context, cmd model.Command, reason string, extra map[string]any) model.Event {
	payload := map[string]any{"reason": reason, "action": cmd.Action}
	for k, v := range extra {
		payload[k] = v
	}
	event := model.Event{ID: cmd.ID, Ts: cmd.Ts, CommandID: cmd.ID, Type: model.EventRejected, Payload: payload}
	a.Store.Append(ctx, event)
	return event
}
