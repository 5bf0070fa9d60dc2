// Package catalog is the static list of known items and their units, used
// to fill in the unit of a new entry and to suggest names while typing.
package catalog

import (
	"strings"

	"github.com/dukerupert/larder/internal/model"
)

// MinQueryLength is the shortest query Suggest answers.
const MinQueryLength = 2

var items = []model.CatalogItem{
	{ID: "1", Name: "Rice", Unit: "kg"},
	{ID: "2", Name: "Wheat Flour", Unit: "kg"},
	{ID: "3", Name: "Oil", Unit: "litre"},
	{ID: "4", Name: "Sugar", Unit: "kg"},
	{ID: "5", Name: "Salt", Unit: "kg"},
	{ID: "6", Name: "Basmati Rice", Unit: "kg"},
	{ID: "7", Name: "Sunflower Oil", Unit: "litre"},
	{ID: "8", Name: "Brown Sugar", Unit: "kg"},
	{ID: "9", Name: "Table Salt", Unit: "kg"},
	{ID: "10", Name: "All Purpose Flour", Unit: "kg"},
}

var byName = func() map[string]model.CatalogItem {
	m := make(map[string]model.CatalogItem, len(items))
	for _, it := range items {
		m[strings.ToLower(it.Name)] = it
	}
	return m
}()

// Items returns the whole catalog.
func Items() []model.CatalogItem {
	out := make([]model.CatalogItem, len(items))
	copy(out, items)
	return out
}

// Lookup finds an item by name, ignoring case and surrounding space.
func Lookup(name string) (model.CatalogItem, bool) {
	it, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	return it, ok
}

// UnitFor returns the catalog unit for name, or "" if the item is unknown.
func UnitFor(name string) string {
	it, _ := Lookup(name)
	return it.Unit
}

// Suggest returns catalog items whose name contains q, case-insensitively,
// in catalog order. Queries shorter than MinQueryLength return nothing.
func Suggest(q string) []model.CatalogItem {
	q = strings.ToLower(strings.TrimSpace(q))
	out := make([]model.CatalogItem, 0)
	if len(q) < MinQueryLength {
		return out
	}
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Name), q) {
			out = append(out, it)
		}
	}
	return out
}
