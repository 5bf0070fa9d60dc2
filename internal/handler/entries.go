package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/larder/internal/catalog"
	"github.com/dukerupert/larder/internal/ledger"
	"github.com/dukerupert/larder/internal/model"
	"github.com/shopspring/decimal"
)

type EntryHandler struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

func NewEntryHandler(l *ledger.Ledger, logger *slog.Logger) *EntryHandler {
	return &EntryHandler{ledger: l, logger: logger}
}

type entryRequest struct {
	Name     string          `json:"name"`
	Unit     string          `json:"unit"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Date     string          `json:"date"`
}

// input converts the request, taking the unit from the catalog when the
// client left it blank.
func (req entryRequest) input() ledger.EntryInput {
	unit := strings.TrimSpace(req.Unit)
	if unit == "" {
		unit = catalog.UnitFor(req.Name)
	}
	return ledger.EntryInput{
		Name:     req.Name,
		Unit:     unit,
		Quantity: req.Quantity,
		Price:    req.Price,
		Date:     req.Date,
	}
}

type entryListResponse struct {
	Entries  []model.GroceryEntry `json:"entries"`
	Subtotal decimal.Decimal      `json:"subtotal"`
}

func (h *EntryHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.List()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	subtotal := decimal.Zero
	for _, e := range entries {
		subtotal = subtotal.Add(e.Amount)
	}
	if entries == nil {
		entries = []model.GroceryEntry{}
	}
	writeJSON(w, http.StatusOK, entryListResponse{Entries: entries, Subtotal: subtotal})
}

func (h *EntryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	entry, err := h.ledger.Add(req.input())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *EntryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	entry, err := h.ledger.Update(r.PathValue("id"), req.input())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *EntryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Delete(r.PathValue("id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
