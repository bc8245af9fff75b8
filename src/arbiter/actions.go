package arbiter

import "strings"

// Action is the closed set of policy keys the arbiter recognises. Spec §9
// flags the original's free-string dispatch as worth tightening into a
// closed variant; payloads stay an open JSON map, only the dispatch key is
// closed.
type Action string

const (
	ActionToggleMic       Action = "toggle_mic"
	ActionToggleCam       Action = "toggle_cam"
	ActionSetGNArmed      Action = "set_gn_armed"
	ActionNavNextApp      Action = "nav.nextApp"
	ActionNavPrevApp      Action = "nav.prevApp"
	ActionNavOpenFocused  Action = "nav.openAppFocused"
	ActionNavBackOrHome   Action = "nav.backOrHome"
	ActionAppNavigate     Action = "app.navigate"
	ActionAppSelectFocus  Action = "app.selectFocus"
	ActionAppQuickActions Action = "app.quickActions"
	ActionVoiceOpenApp    Action = "voice.openApp"
	ActionVoiceNav        Action = "voice.nav"
	ActionSystemToggleDbg Action = "system.toggleDebug"
	ActionSystemSetMode   Action = "system.setMode"
	ActionUnknown         Action = ""

	prefixAddTodo  = "add_todo"
	prefixSetMode  = "set_mode"
	prefixGesture  = "gesture_"
)

// classify maps a raw wire action string onto the closed Action set,
// applying the documented prefix-match rules (add_todo*, set_mode*,
// gesture_*) before falling back to exact matches, and finally to
// ActionUnknown for anything the policy table doesn't recognise.
func classify(raw string) Action {
	switch {
	case strings.HasPrefix(raw, prefixAddTodo):
		return actionAddTodo
	case strings.HasPrefix(raw, prefixSetMode):
		return actionSetMode
	case strings.HasPrefix(raw, prefixGesture):
		return actionGesture
	}

	switch Action(raw) {
	case ActionToggleMic, ActionToggleCam, ActionSetGNArmed,
		ActionNavNextApp, ActionNavPrevApp, ActionNavOpenFocused, ActionNavBackOrHome,
		ActionAppNavigate, ActionAppSelectFocus, ActionAppQuickActions,
		ActionVoiceOpenApp, ActionVoiceNav,
		ActionSystemToggleDbg, ActionSystemSetMode:
		return Action(raw)
	default:
		return ActionUnknown
	}
}

// actionAddTodo, actionSetMode, and actionGesture are internal pseudo-actions
// representing the prefix-matched families; they are never compared against
// a raw wire string directly (classify already folded the prefix check in).
const (
	actionAddTodo Action = "add_todo"
	actionSetMode Action = "set_mode"
	actionGesture Action = "gesture"
)
