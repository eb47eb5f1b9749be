package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/video-stream/subexplain/internal/apperr"
)

// StatusClientClosedRequest reports a request cancelled by the caller.
const StatusClientClosedRequest = 499

func jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	jsonResponse(w, map[string]any{"ok": false, "error": msg}, status)
}

// writeAppError maps the error kinds to HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case apperr.IsCancelled(err):
		jsonError(w, "request canceled", StatusClientClosedRequest)
	case errors.Is(err, apperr.ErrConfiguration):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperr.ErrTerminal),
		errors.Is(err, apperr.ErrTransient),
		errors.Is(err, apperr.ErrParse):
		jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

// decodeJSON reads the request body into v. It answers 400 (or 413 for an
// oversized body) and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		jsonError(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}
