// Package validation reconciles the arithmetic of a schema-valid invoice:
// per-line qty × unit_price against the stated line total, subtotal against
// the sum of lines, and total against subtotal + tax. Small rounding
// differences are auto-corrected and surfaced as warnings; larger gaps become
// hard errors that block persistence.
package validation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/procuresight/procuresight/internal/models"
)

// Tolerances in invoice currency units. Up to two cents of rounding
// difference is acceptable as a warning; anything beyond is an error.
var (
	LineTolerance  = decimal.RequireFromString("0.02")
	TotalTolerance = decimal.RequireFromString("0.02")
)

// ValidateInvoice performs business-level validation on an invoice that has
// already passed schema validation. The input is never mutated: the returned
// report carries a normalized copy with any in-tolerance corrections applied.
// If the report has errors, the invoice must not be persisted; otherwise the
// normalized invoice, not the original, is the one to persist and score.
func ValidateInvoice(inv models.Invoice) models.ValidationReport {
	var errs, warns []models.ValidationIssue

	norm := inv.Clone()

	// Per-line reconciliation. A broken line never aborts the remaining
	// lines; every line is visited.
	for idx := range norm.Lines {
		reconcileLine(idx, &norm.Lines[idx], &errs, &warns)
	}

	// Subtotal vs sum of normalized line totals.
	computedSubtotal := decimal.Zero
	for _, line := range norm.Lines {
		computedSubtotal = computedSubtotal.Add(line.LineTotal)
	}
	computedSubtotal = computedSubtotal.Round(2)

	diffSubtotal := computedSubtotal.Sub(norm.Subtotal).Abs()
	switch {
	case diffSubtotal.GreaterThan(TotalTolerance):
		errs = append(errs, issue("subtotal", models.IssueSubtotalMismatch,
			fmt.Sprintf("subtotal differs from sum of line totals by %s (expected %s, got %s).",
				diffSubtotal.StringFixed(2), computedSubtotal.StringFixed(2), norm.Subtotal.StringFixed(2)),
			diffSubtotal))
	case diffSubtotal.IsPositive():
		warns = append(warns, issue("subtotal", models.IssueSubtotalRoundingAdjusted,
			fmt.Sprintf("subtotal adjusted from %s to %s due to minor rounding difference.",
				norm.Subtotal.StringFixed(2), computedSubtotal.StringFixed(2)),
			diffSubtotal))
		norm.Subtotal = computedSubtotal
	}

	// Total vs subtotal + tax. Uses the already-normalized subtotal so
	// corrections compose instead of double-flagging.
	expectedTotal := norm.Subtotal.Add(norm.Tax).Round(2)
	diffTotal := expectedTotal.Sub(norm.Total).Abs()
	switch {
	case diffTotal.GreaterThan(TotalTolerance):
		errs = append(errs, issue("total", models.IssueTotalMismatch,
			fmt.Sprintf("total differs from subtotal + tax by %s (expected %s, got %s).",
				diffTotal.StringFixed(2), expectedTotal.StringFixed(2), norm.Total.StringFixed(2)),
			diffTotal))
	case diffTotal.IsPositive():
		warns = append(warns, issue("total", models.IssueTotalRoundingAdjusted,
			fmt.Sprintf("total adjusted from %s to %s due to minor rounding difference.",
				norm.Total.StringFixed(2), expectedTotal.StringFixed(2)),
			diffTotal))
		norm.Total = expectedTotal
	}

	return models.ValidationReport{
		Errors:            errs,
		Warnings:          warns,
		NormalizedInvoice: norm,
	}
}

// reconcileLine checks qty × unit_price against the stated line total and
// adjusts the line in place when the difference is within tolerance.
func reconcileLine(idx int, line *models.InvoiceLine, errs, warns *[]models.ValidationIssue) {
	if !line.Qty.Valid || !line.UnitPrice.Valid {
		*errs = append(*errs, models.ValidationIssue{
			Field:   fmt.Sprintf("lines[%d]", idx),
			Code:    models.IssueLineCalculationError,
			Message: "Unable to compute line_total from qty and unit_price.",
		})
		return
	}

	expected := line.Qty.Decimal.Mul(line.UnitPrice.Decimal).Round(2)
	diff := expected.Sub(line.LineTotal).Abs()

	field := fmt.Sprintf("lines[%d].line_total", idx)
	switch {
	case diff.GreaterThan(LineTolerance):
		// Hard mismatch: likely a bad extraction. Do not silently fix.
		*errs = append(*errs, issue(field, models.IssueLineTotalMismatch,
			fmt.Sprintf("line_total differs from qty * unit_price by %s (expected %s, got %s).",
				diff.StringFixed(2), expected.StringFixed(2), line.LineTotal.StringFixed(2)),
			diff))
	case diff.IsPositive():
		*warns = append(*warns, issue(field, models.IssueLineTotalRoundingAdjust,
			fmt.Sprintf("line_total adjusted from %s to %s due to minor rounding difference.",
				line.LineTotal.StringFixed(2), expected.StringFixed(2)),
			diff))
		line.LineTotal = expected
	}
}

func issue(field string, code models.IssueCode, message string, diff decimal.Decimal) models.ValidationIssue {
	return models.ValidationIssue{Field: field, Code: code, Message: message, Diff: &diff}
}
