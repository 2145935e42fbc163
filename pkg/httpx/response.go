package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
)

// WriteJSON writes v as JSON with code. Responses are never cacheable,
// most of them carry tokens.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// ParseSpaceDelimitedFields splits a scope style list. Empty input gives nil.
func ParseSpaceDelimitedFields(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// ParseForm requires a urlencoded body (or none) and parses it.
func ParseForm(r *http.Request) error {
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		return ErrInvalidContentType
	}
	if err := r.ParseForm(); err != nil {
		return ErrInvalidFormBody
	}
	return nil
}
