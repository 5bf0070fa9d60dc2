package model

import "github.com/shopspring/decimal"

// ReportRow is the per-item summary line of the expenditure report.
type ReportRow struct {
	Name             string          `json:"name"`
	Unit             string          `json:"unit"`
	DailyUsage       Days            `json:"daily_usage"`
	TotalQuantity    decimal.Decimal `json:"total_quantity"`
	TotalUsed        decimal.Decimal `json:"total_used"`
	Remaining        decimal.Decimal `json:"remaining"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TotalAmountSpent decimal.Decimal `json:"total_amount_spent"`
	PurchasedAmount  decimal.Decimal `json:"purchased_amount"`
	FirstDate        string          `json:"first_date"`
}

type Report struct {
	Revision       int64           `json:"revision"`
	Rows           []ReportRow     `json:"rows"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	TotalPurchased decimal.Decimal `json:"total_purchased"`
}
