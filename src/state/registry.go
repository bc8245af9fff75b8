package state

// AppRegistry is the canonical, ordered list of apps the mirror can show.
// Both visibility filtering and next/prev navigation consume this single
// constant so the two never drift out of sync with each other.
var AppRegistry = []string{
	"home", "weather", "email", "finance", "news", "todos", "calendar", "settings",
}

// privateOnly holds the apps hidden from the visible set while ui.mode is
// "public".
var privateOnly = map[string]struct{}{
	"email":   {},
	"finance": {},
}

// VisibleApps returns the app registry filtered for the given privacy mode.
func VisibleApps(mode string) []string {
	if mode != "public" {
		out := make([]string, len(AppRegistry))
		copy(out, AppRegistry)
		return out
	}
	out := make([]string, 0, len(AppRegistry))
	for _, app := range AppRegistry {
		if _, hidden := privateOnly[app]; !hidden {
			out = append(out, app)
		}
	}
	return out
}

// IsAppVisible reports whether appID is visible under mode.
func IsAppVisible(appID, mode string) bool {
	for _, app := range VisibleApps(mode) {
		if app == appID {
			return true
		}
	}
	return false
}

// NextApp returns the next app after current in the visible set, wrapping
// around. If current is not in the visible set, the first visible app is
// returned; if the visible set is empty, "home" is returned.
func NextApp(current, mode string) string {
	visible := VisibleApps(mode)
	if len(visible) == 0 {
		return "home"
	}
	for i, app := range visible {
		if app == current {
			return visible[(i+1)%len(visible)]
		}
	}
	return visible[0]
}

// PrevApp returns the previous app before current in the visible set,
// wrapping around. If current is not in the visible set, the last visible
// app is returned; if the visible set is empty, "home" is returned.
func PrevApp(current, mode string) string {
	visible := VisibleApps(mode)
	if len(visible) == 0 {
		return "home"
	}
	for i, app := range visible {
		if app == current {
			return visible[(i-1+len(visible))%len(visible)]
		}
	}
	return visible[len(visible)-1]
}
