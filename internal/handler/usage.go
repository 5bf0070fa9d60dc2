package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/larder/internal/ledger"
	"github.com/dukerupert/larder/internal/usage"
)

type UsageHandler struct {
	acc    *usage.Accumulator
	logger *slog.Logger
}

func NewUsageHandler(acc *usage.Accumulator, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{acc: acc, logger: logger}
}

func (h *UsageHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.acc.Items()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// SetDay stores one cell of the usage sheet. The value is sent as text so
// "2,5" and "" behave as they do in the sheet.
func (h *UsageHandler) SetDay(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	day, err := strconv.Atoi(r.PathValue("day"))
	if err != nil {
		writeError(w, h.logger, &ledger.ValidationError{Field: "day", Reason: "must be a number"})
		return
	}

	var req struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	value, err := usage.ParseUsage(req.Value)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.acc.SetDailyUsage(name, day, value); err != nil {
		writeError(w, h.logger, err)
		return
	}
	days, err := h.acc.Days(name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "days": days, "total_used": days.Total()})
}

func (h *UsageHandler) Commit(w http.ResponseWriter, r *http.Request) {
	res, err := h.acc.Commit(r.PathValue("name"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *UsageHandler) Discard(w http.ResponseWriter, r *http.Request) {
	h.acc.Discard(r.PathValue("name"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *UsageHandler) Remaining(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	remaining, err := h.acc.Remaining(name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "remaining": remaining})
}
