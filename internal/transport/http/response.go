package httptransport

import (
	"encoding/json"
	"net/http"
)

// apiError mirrors the stream's error payload shape: a machine-readable code
// from the shared taxonomy plus a human message. Codeless validation errors
// omit the field.
type apiError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, apiError{Code: code, Message: msg})
}
