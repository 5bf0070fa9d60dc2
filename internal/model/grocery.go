package model

import "github.com/shopspring/decimal"

// GroceryEntry is a single purchase of an item.
type GroceryEntry struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Unit     string          `json:"unit"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"`
	Date     string          `json:"date"`
}

// ItemAggregate sums every entry that shares a name.
type ItemAggregate struct {
	Name          string          `json:"name"`
	Unit          string          `json:"unit"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	FirstDate     string          `json:"first_date"`
	Entries       int             `json:"entries"`
}

type CatalogItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Unit string `json:"unit"`
}
