package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/evcraddock/field-visits/internal/session"
)

// maxJSONBody bounds request bodies other than photo uploads.
const maxJSONBody = 4 << 20

// apiError writes a JSON error response.
func apiError(w http.ResponseWriter, msg string, code int) {
	apiJSON(w, map[string]string{"error": msg}, code)
}

// apiJSON writes a JSON response with the given status code.
func apiJSON(w http.ResponseWriter, data any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("encoding response", "err", err)
	}
}

// apiFail maps a service error onto a status code.
func apiFail(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		apiError(w, "session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrInvalid):
		apiError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error(action+" failed", "err", err)
		apiError(w, fmt.Sprintf("%s: %v", action, err), http.StatusInternalServerError)
	}
}

// decodeJSON reads a JSON body into v, reporting a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		apiError(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// repVar parses the {rep} path variable.
func repVar(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["rep"], 10, 64)
	if err != nil || id <= 0 {
		apiError(w, "invalid representative ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
