package model

import "github.com/shopspring/decimal"

// DaysInCycle is the number of daily usage slots tracked per item.
const DaysInCycle = 31

// Days holds daily consumed quantities; index 0 is day 1.
type Days [DaysInCycle]decimal.Decimal

// Total returns the sum of every slot.
func (d Days) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range d {
		total = total.Add(v)
	}
	return total
}

type UsageRecord struct {
	Days Days `json:"days"`
}
