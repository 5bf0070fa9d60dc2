package handler

import (
	"net/http"

	"github.com/dukerupert/larder/internal/catalog"
)

// Catalog answers name suggestions for the entry form; without a query it
// returns the whole catalog.
func Catalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusOK, catalog.Items())
		return
	}
	writeJSON(w, http.StatusOK, catalog.Suggest(q))
}
