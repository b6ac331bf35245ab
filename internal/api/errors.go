package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes used in responses.
const (
	ErrCodeNotFound = "not_found"
	ErrCodeInternal = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // client may have gone away
		json.NewEncoder(w).Encode(v)
	}
}

// writeError derives the code from the status: 404 is not_found, 500 is
// internal_error, anything else is the snake-cased status text.
func writeError(w http.ResponseWriter, status int, message string) {
	code := ErrCodeInternal
	switch {
	case status == http.StatusNotFound:
		code = ErrCodeNotFound
	case status < http.StatusInternalServerError:
		code = strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
	}
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}
