package ledger

import (
	"github.com/dukerupert/larder/internal/model"
	"github.com/shopspring/decimal"
)

// Groups is the per-name aggregation of a ledger, in first-seen order.
type Groups struct {
	Items []model.ItemAggregate
	index map[string]int
}

// Get returns the aggregate for name. Names match case-sensitively.
func (g Groups) Get(name string) (model.ItemAggregate, bool) {
	i, ok := g.index[name]
	if !ok {
		return model.ItemAggregate{}, false
	}
	return g.Items[i], true
}

// Len returns the number of distinct item names.
func (g Groups) Len() int {
	return len(g.Items)
}

// GroupByItem sums quantity and amount per item name. Unit, unit price and
// date come from the first entry seen for a name; later entries with a
// different unit or price only add to the totals.
func GroupByItem(entries []model.GroceryEntry) Groups {
	g := Groups{
		Items: make([]model.ItemAggregate, 0),
		index: make(map[string]int),
	}
	for _, e := range entries {
		i, ok := g.index[e.Name]
		if !ok {
			i = len(g.Items)
			g.index[e.Name] = i
			g.Items = append(g.Items, model.ItemAggregate{
				Name:          e.Name,
				Unit:          e.Unit,
				UnitPrice:     e.Price,
				TotalQuantity: decimal.Zero,
				TotalAmount:   decimal.Zero,
				FirstDate:     e.Date,
			})
		}
		agg := &g.Items[i]
		agg.TotalQuantity = agg.TotalQuantity.Add(e.Quantity)
		agg.TotalAmount = agg.TotalAmount.Add(e.Amount)
		agg.Entries++
	}
	return g
}

// ResolveRemaining returns the stored remaining quantity for name clamped to
// [0, total], or total when nothing was stored. The clamp covers entries
// edited down after usage was committed.
func ResolveRemaining(stored map[string]decimal.Decimal, name string, total decimal.Decimal) decimal.Decimal {
	v, ok := stored[name]
	if !ok {
		return total
	}
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(total) {
		return total
	}
	return v
}
