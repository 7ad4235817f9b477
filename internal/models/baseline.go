package models

import "github.com/shopspring/decimal"

// UnitPriceBaseline is a precomputed historical statistic for one
// (org, vendor, sku[, desc]) key. Produced by the baseline store; read-only
// to the scoring engine.
type UnitPriceBaseline struct {
	OrgID           string
	VendorID        string
	SKU             string
	Desc            *string
	SampleSize      int
	MedianUnitPrice decimal.Decimal
	MeanUnitPrice   decimal.Decimal
}

// VendorSpendBaseline aggregates a vendor's recent invoice volume over
// trailing 30- and 90-day windows.
type VendorSpendBaseline struct {
	OrgID           string
	VendorID        string
	InvoiceCount30d int
	TotalSpend30d   decimal.Decimal
	InvoiceCount90d int
	TotalSpend90d   decimal.Decimal
}
