package models

import "github.com/shopspring/decimal"

// IssueCode identifies a reconciliation finding. The set is closed: callers
// can switch on it without worrying about ad hoc variants.
type IssueCode string

const (
	IssueLineTotalMismatch        IssueCode = "LINE_TOTAL_MISMATCH"
	IssueLineTotalRoundingAdjust  IssueCode = "LINE_TOTAL_ROUNDING_ADJUSTED"
	IssueLineCalculationError     IssueCode = "LINE_CALCULATION_ERROR"
	IssueSubtotalMismatch         IssueCode = "SUBTOTAL_MISMATCH"
	IssueSubtotalRoundingAdjusted IssueCode = "SUBTOTAL_ROUNDING_ADJUSTED"
	IssueTotalMismatch            IssueCode = "TOTAL_MISMATCH"
	IssueTotalRoundingAdjusted    IssueCode = "TOTAL_ROUNDING_ADJUSTED"
	IssueSchemaInvalid            IssueCode = "SCHEMA_INVALID"
)

// ValidationIssue is one reconciliation finding against a single field path
// such as "lines[3].line_total" or "subtotal".
type ValidationIssue struct {
	Field   string           `json:"field"`
	Code    IssueCode        `json:"code"`
	Message string           `json:"message"`
	Diff    *decimal.Decimal `json:"diff,omitempty"`
}

// ValidationReport aggregates reconciliation findings. NormalizedInvoice is
// the input with all in-tolerance auto-corrections applied; it equals the
// input when nothing needed fixing. The report is built once per validation
// call and not mutated afterwards.
type ValidationReport struct {
	Errors            []ValidationIssue `json:"errors"`
	Warnings          []ValidationIssue `json:"warnings"`
	NormalizedInvoice Invoice           `json:"normalized_invoice"`
}

// HasErrors reports whether the invoice must be rejected.
func (r *ValidationReport) HasErrors() bool { return len(r.Errors) > 0 }

// HasWarnings reports whether any auto-corrections were applied.
func (r *ValidationReport) HasWarnings() bool { return len(r.Warnings) > 0 }
