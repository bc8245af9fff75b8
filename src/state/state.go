// Package state holds the single authoritative UIState tree and the
// JSON-path patch engine that mutates it. There is exactly one State
// instance per running arbiter process; every mutation goes through Apply,
// and Get returns a deep copy so callers can never reach back into the
// internals and mutate them outside that entry point.
package state

import (
	"strconv"
	"strings"
	"sync"

	"mirror-control-plane/src/model"
)

// Todo is one entry in the todos list.
type Todo struct {
	ID        int    `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	CreatedAt string `json:"created_at"`
}

// HUD mirrors the always-on heads-up-display flags shown regardless of the
// current app route.
type HUD struct {
	MicOn       bool `json:"micOn"`
	CamOn       bool `json:"camOn"`
	WSConnected bool `json:"wsConnected"`
	Wake        bool `json:"wake"`
}

// Debug groups developer-only toggles.
type Debug struct {
	Enabled bool `json:"enabled"`
}

// UI holds the Phase A/B navigation and privacy state layered on top of the
// legacy top-level fields.
type UI struct {
	Mode      string   `json:"mode"`
	AppRoute  string   `json:"appRoute"`
	FocusPath []string `json:"focusPath"`
	GNArmed   bool     `json:"gnArmed"`
	Debug     Debug    `json:"debug"`
	HUD       HUD      `json:"hud"`
}

// UIState is the authoritative tree described in spec §3: legacy top-level
// fields kept for backward compatibility, plus the nested ui sub-tree.
type UIState struct {
	Mode         string `json:"mode"`
	Todos        []Todo `json:"todos"`
	MicEnabled   bool   `json:"mic_enabled"`
	CamEnabled   bool   `json:"cam_enabled"`
	LastGesture  string `json:"last_gesture"`
	LastUpdated  string `json:"last_updated"`
	UI           UI     `json:"ui"`
}

// Default returns a UIState populated with the documented defaults.
func Default() UIState {
	return UIState{
		Mode:        "idle",
		Todos:       []Todo{},
		MicEnabled:  false,
		CamEnabled:  false,
		LastGesture: "idle",
		LastUpdated: model.NowISO(),
		UI: UI{
			Mode:      "public",
			AppRoute:  "home",
			FocusPath: []string{},
			GNArmed:   false,
			Debug:     Debug{Enabled: false},
			HUD:       HUD{},
		},
	}
}

// State is the single-owner, mutex-guarded holder of the authoritative
// UIState tree.
type State struct {
	mu   sync.RWMutex
	tree UIState
}

// New constructs a State seeded with the given tree (defaults, or a tree
// restored from the latest snapshot).
func New(initial UIState) *State {
	return &State{tree: initial}
}

// Get returns a deep copy of the current tree. Mutating the returned value
// never affects the authoritative state.
func (s *State) Get() UIState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.tree)
}

// ToDict is the JSON-ready view of the current state, matching Get() but
// named to mirror the spec's toDict() operation.
func (s *State) ToDict() UIState {
	return s.Get()
}

// TodoCount returns len(todos), used by the arbiter to compute the next
// todo ID without needing to read and copy the whole tree.
func (s *State) TodoCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tree.Todos)
}

func deepCopy(t UIState) UIState {
	out := t
	out.Todos = make([]Todo, len(t.Todos))
	copy(out.Todos, t.Todos)
	out.UI.FocusPath = make([]string, len(t.UI.FocusPath))
	copy(out.UI.FocusPath, t.UI.FocusPath)
	return out
}

// Apply mutates the tree according to the path grammar in spec §4.2 and
// bumps last_updated. It reports whether path matched a recognised shape;
// unknown or malformed paths are silent no-ops, never errors — the patch
// engine must not be able to crash the arbiter.
func (s *State) Apply(path string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := s.apply(path, value)
	s.tree.LastUpdated = model.NowISO()
	return matched
}

func (s *State) apply(path string, value any) bool {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return false
	}

	if parts[0] == "ui" {
		return s.applyUI(parts[1:], value)
	}

	switch len(parts) {
	case 1:
		return s.applyTopLevel(parts[0], value)
	case 2:
		if parts[1] == "+" {
			return s.appendTopLevel(parts[0], value)
		}
		return s.applyIndexOrKey(parts[0], parts[1], value)
	default:
		return false
	}
}

func (s *State) applyTopLevel(field string, value any) bool {
	switch field {
	case "mode":
		v, ok := value.(string)
		if !ok {
			return false
		}
		s.tree.Mode = v
	case "mic_enabled":
		v, ok := value.(bool)
		if !ok {
			return false
		}
		s.tree.MicEnabled = v
	case "cam_enabled":
		v, ok := value.(bool)
		if !ok {
			return false
		}
		s.tree.CamEnabled = v
	case "last_gesture":
		v, ok := value.(string)
		if !ok {
			return false
		}
		s.tree.LastGesture = v
	case "last_updated":
		v, ok := value.(string)
		if !ok {
			return false
		}
		s.tree.LastUpdated = v
	default:
		return false
	}
	return true
}

func (s *State) appendTopLevel(field string, value any) bool {
	if field != "todos" {
		return false
	}
	todo, ok := toTodo(value)
	if !ok {
		return false
	}
	s.tree.Todos = append(s.tree.Todos, todo)
	return true
}

func (s *State) applyIndexOrKey(field, key string, value any) bool {
	if field != "todos" {
		return false
	}
	idx, err := strconv.Atoi(key)
	if err != nil {
		return false
	}
	if idx < 0 || idx >= len(s.tree.Todos) {
		// Out-of-range indexes are silently ignored, per spec §4.2.
		return false
	}
	todo, ok := toTodo(value)
	if !ok {
		return false
	}
	s.tree.Todos[idx] = todo
	return true
}

func (s *State) applyUI(parts []string, value any) bool {
	if len(parts) == 0 {
		return false
	}
	switch parts[0] {
	case "mode":
		v, ok := value.(string)
		if !ok {
			return false
		}
		s.tree.UI.Mode = v
	case "appRoute":
		v, ok := value.(string)
		if !ok {
			return false
		}
		s.tree.UI.AppRoute = v
	case "focusPath":
		list, ok := value.([]string)
		if !ok {
			list = toStringList(value)
		}
		s.tree.UI.FocusPath = list
	case "gnArmed":
		v, ok := value.(bool)
		if !ok {
			return false
		}
		s.tree.UI.GNArmed = v
	case "debug":
		if len(parts) < 2 || parts[1] != "enabled" {
			return false
		}
		v, ok := value.(bool)
		if !ok {
			return false
		}
		s.tree.UI.Debug.Enabled = v
	case "hud":
		if len(parts) < 2 {
			return false
		}
		return s.applyHUD(parts[1], value)
	default:
		return false
	}
	return true
}

func (s *State) applyHUD(key string, value any) bool {
	v, ok := value.(bool)
	if !ok {
		return false
	}
	switch key {
	case "micOn":
		s.tree.UI.HUD.MicOn = v
	case "camOn":
		s.tree.UI.HUD.CamOn = v
	case "wsConnected":
		s.tree.UI.HUD.WSConnected = v
	case "wake":
		s.tree.UI.HUD.Wake = v
	default:
		return false
	}
	return true
}

// toTodo accepts either a Todo value (used internally by the arbiter) or a
// map[string]any (the shape a patch replayed from the event log or decoded
// from JSON would carry) and normalizes it into a Todo.
func toTodo(value any) (Todo, bool) {
	switch v := value.(type) {
	case Todo:
		return v, true
	case map[string]any:
		t := Todo{}
		if id, ok := v["id"].(int); ok {
			t.ID = id
		} else if idf, ok := v["id"].(float64); ok {
			t.ID = int(idf)
		}
		if text, ok := v["text"].(string); ok {
			t.Text = text
		}
		if completed, ok := v["completed"].(bool); ok {
			t.Completed = completed
		}
		if createdAt, ok := v["created_at"].(string); ok {
			t.CreatedAt = createdAt
		}
		return t, true
	default:
		return Todo{}, false
	}
}

func toStringList(value any) []string {
	list, ok := value.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
