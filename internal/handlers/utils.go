package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/peerhub/apiserver/internal/apperror"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeAppError maps a service error onto the HTTP response. Anything that
// is not a classified application error is logged and collapsed into a
// generic 500 so internals never leak to the client.
func writeAppError(w http.ResponseWriter, log *slog.Logger, err error) {
	if appErr, ok := apperror.FromError(err); ok {
		if appErr.Type == apperror.Internal {
			log.Error("internal error", "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeError(w, appErr.StatusCode(), appErr.Message)
		return
	}
	log.Error("unclassified error", "err", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
