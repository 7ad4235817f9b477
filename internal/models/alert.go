package models

import "time"

// Severity classifies an alert's urgency. There is no "low" tier: a rule
// that finds nothing noteworthy emits no candidate at all.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Alert rule type tags.
const (
	AlertTypeUnitPriceDelta    = "unit_price_delta"
	AlertTypeVendorVolumeSpike = "vendor_volume_spike"
	AlertTypeDuplicateInvoice  = "duplicate_invoice"
)

// Alert status values.
const (
	AlertStatusOpen     = "open"
	AlertStatusAcked    = "acked"
	AlertStatusResolved = "resolved"
)

// AlertCandidate is an unsaved anomaly finding produced by a scoring rule.
// Meta carries the numeric evidence (ratios, baselines, matched duplicate
// rows) a reviewer needs to judge the alert.
type AlertCandidate struct {
	OrgID     string         `json:"org_id"`
	InvoiceID string         `json:"invoice_id"`
	VendorID  string         `json:"vendor_id"`
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Meta      map[string]any `json:"meta"`
}

// Alert is a persisted alert row.
type Alert struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"org_id"`
	VendorID  string         `json:"vendor_id"`
	InvoiceID string         `json:"invoice_id"`
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Meta      map[string]any `json:"meta"`
	CreatedAt time.Time      `json:"created_at"`
}
