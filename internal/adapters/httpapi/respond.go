package httpapi

import (
	"encoding/json"
	"net/http"

	"dataportal/internal/apperr"
	"dataportal/internal/ctxlog"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeAppError maps err onto its HTTP status. Internal errors are logged
// and answered with a generic message.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.StatusOf(err)
	if status >= http.StatusInternalServerError {
		ctxlog.FromContext(r.Context()).Error("request failed", "error", err)
	}
	writeError(w, status, apperr.Message(err))
}
