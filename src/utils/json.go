package utils

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes the payload as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// GetString safely extracts a string from a Command payload value. Required
// because JSON unmarshal into interface{} preserves concrete string types,
// but policy code needs safe extraction that won't panic on type mismatches.
func GetString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// GetFloat64 converts common JSON-decoded numeric types to float64. JSON
// numbers decoded into interface{} arrive as float64; this also accepts the
// narrower Go numeric types so callers don't have to care which one a
// payload happened to carry.
func GetFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return 0
}
