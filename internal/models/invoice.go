package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice represents a schema-validated vendor invoice. Monetary header
// fields carry two decimal places, line-level amounts four.
type Invoice struct {
	ID          string          `json:"id,omitempty"`
	OrgID       string          `json:"org_id,omitempty"`
	VendorID    string          `json:"vendor_id,omitempty"`
	Vendor      string          `json:"vendor" validate:"required"`
	InvoiceNo   string          `json:"invoice_no" validate:"required"`
	InvoiceDate time.Time       `json:"invoice_date" validate:"required"`
	DueDate     *time.Time      `json:"due_date,omitempty"`
	Currency    string          `json:"currency" validate:"required,len=3,alpha"` // ISO 4217
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
	Status      string          `json:"status,omitempty"`
	RawDocID    string          `json:"raw_doc_id,omitempty"`
	Lines       []InvoiceLine   `json:"lines" validate:"dive"`
	CreatedAt   time.Time       `json:"created_at,omitempty"`
}

// InvoiceLine is a single line item. Qty and UnitPrice are nullable: an
// extraction may fail to produce them, and the reconciler flags such lines
// instead of rejecting the whole invoice up front.
type InvoiceLine struct {
	ID        string              `json:"id,omitempty"`
	SKU       *string             `json:"sku,omitempty"`
	Desc      string              `json:"desc" validate:"required"`
	Qty       decimal.NullDecimal `json:"qty"`
	UnitPrice decimal.NullDecimal `json:"unit_price"`
	LineTotal decimal.Decimal     `json:"line_total"`
}

// Clone returns a deep copy of the invoice so normalization can adjust
// values without mutating the caller's input.
func (inv Invoice) Clone() Invoice {
	out := inv
	if inv.DueDate != nil {
		d := *inv.DueDate
		out.DueDate = &d
	}
	out.Lines = make([]InvoiceLine, len(inv.Lines))
	for i, line := range inv.Lines {
		out.Lines[i] = line.Clone()
	}
	return out
}

// Clone returns a copy of the line with its own pointer fields.
func (l InvoiceLine) Clone() InvoiceLine {
	out := l
	if l.SKU != nil {
		s := *l.SKU
		out.SKU = &s
	}
	return out
}

// InvoiceFacts is the header-plus-lines shape the anomaly rules score. It is
// read back from the store after the invoice is committed, so fields that the
// schema requires at ingest time are still nullable here: historical rows may
// predate those constraints.
type InvoiceFacts struct {
	InvoiceID string
	OrgID     string
	VendorID  string
	InvoiceNo *string
	Total     *decimal.Decimal
	Lines     []LineFacts
}

// LineFacts mirrors a stored invoice line for scoring.
type LineFacts struct {
	LineID    string
	SKU       *string
	Desc      *string
	UnitPrice decimal.NullDecimal
}

// DuplicateMatch describes another stored invoice that collides with the one
// being scored on invoice number and/or total.
type DuplicateMatch struct {
	InvoiceID      string
	InvoiceNo      *string
	Total          *decimal.Decimal
	InvoiceDate    *time.Time
	MatchInvoiceNo bool
	MatchTotal     bool
}

// Invoice status values.
const (
	InvoiceStatusReceived    = "received"
	InvoiceStatusValidated   = "validated"
	InvoiceStatusNeedsReview = "needs_review"
	InvoiceStatusReviewed    = "reviewed"
)
