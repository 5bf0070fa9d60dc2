package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/larder/internal/backup"
	"github.com/dukerupert/larder/internal/ledger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors to status codes. Only unexpected failures
// are logged; the rest are the caller's to fix.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		verr *ledger.ValidationError
		nerr *ledger.NotFoundError
		cerr *ledger.CapacityExceededError
		perr *ledger.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error(), "field": verr.Field})
	case errors.As(err, &nerr):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": nerr.Error()})
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     cerr.Error(),
			"item":      cerr.Item,
			"requested": cerr.Requested,
			"available": cerr.Available,
		})
	case errors.Is(err, backup.ErrNoPassphrase), errors.Is(err, backup.ErrDecrypt):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, backup.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, backup.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.As(err, &perr):
		logger.Error("storage failure", "op", perr.Op, "key", perr.Key, "error", perr.Err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage failure"})
	default:
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
