package server

import (
	"encoding/json"
	"log"
	"net/http"
)

// writeJSON writes v as the JSON response body. Encode failures after the
// status line are logged; the client sees a truncated body either way.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: failed to encode response body: %v", err)
	}
}

// writeBadRequest writes a plain 400 with a short reason.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"errorKey":     "bad-request",
		"errorMessage": message,
	})
}
