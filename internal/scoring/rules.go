package scoring

import (
	"context"
	"fmt"

	"github.com/procuresight/procuresight/internal/models"
)

// scoreUnitPriceDeltas flags line items whose unit price is significantly
// higher than the historical median for the same (org, vendor, sku[, desc]).
//
// The rule assumes stable SKU/description data and consistent units of
// measure; real invoice data is noisier than that (renamed SKUs, contract
// price changes, bulk pricing, unit-of-measure drift). Read its alerts as
// "unusually high compared to past patterns", not "this line is wrong".
func (e *Engine) scoreUnitPriceDeltas(ctx context.Context, facts *models.InvoiceFacts) ([]models.AlertCandidate, error) {
	var candidates []models.AlertCandidate

	for _, line := range facts.Lines {
		// Lines without a SKU or a price have nothing to compare.
		if line.SKU == nil || !line.UnitPrice.Valid {
			continue
		}
		sku := *line.SKU
		unitPrice := line.UnitPrice.Decimal

		baseline, err := e.baselines.UnitPriceBaseline(ctx, facts.OrgID, facts.VendorID, sku, line.Desc)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch unit price baseline: %w", err)
		}
		if baseline == nil {
			// No history for this key yet; nothing to compare against.
			continue
		}
		if baseline.SampleSize < MinSampleSizeForBaseline {
			// Not enough history to trust the baseline.
			continue
		}
		if !baseline.MedianUnitPrice.IsPositive() {
			// Guard against division by zero / bogus data.
			continue
		}

		ratio := unitPrice.InexactFloat64() / baseline.MedianUnitPrice.InexactFloat64()
		severity := ratioSeverity(ratio)
		if severity == "" {
			continue
		}

		message := fmt.Sprintf(
			"Unit price %s for SKU '%s' on invoice %s is %.2fx the historical median price (%s) for this vendor.",
			unitPrice.StringFixed(2), sku, displayNo(facts), ratio, baseline.MedianUnitPrice.StringFixed(2))

		meta := map[string]any{
			"rule":              "unit_price_delta_vs_median",
			"ratio":             ratio,
			"median_unit_price": baseline.MedianUnitPrice.InexactFloat64(),
			"unit_price":        unitPrice.InexactFloat64(),
			"sample_size":       baseline.SampleSize,
			"sku":               sku,
			"desc":              line.Desc,
			"invoice_no":        facts.InvoiceNo,
			"invoice_id":        facts.InvoiceID,
			"vendor_id":         facts.VendorID,
			"line_id":           line.LineID,
		}

		candidates = append(candidates, models.AlertCandidate{
			OrgID:     facts.OrgID,
			InvoiceID: facts.InvoiceID,
			VendorID:  facts.VendorID,
			Type:      models.AlertTypeUnitPriceDelta,
			Severity:  severity,
			Message:   message,
			Meta:      meta,
		})
	}

	return candidates, nil
}

// scoreVendorVolumeSpike flags invoices whose total is significantly higher
// than the vendor's average invoice total over a recent window.
//
// This is a coarse heuristic: it surfaces sudden billing jumps and obvious
// mistakes (extra zeros, wrong quantities) but will also fire on legitimate
// one-off purchases, seasonal spend, and annual renewals. The metadata
// records both windows' raw counts and spend so a reviewer can judge whether
// the spike is a contractual artifact rather than an error.
func (e *Engine) scoreVendorVolumeSpike(ctx context.Context, facts *models.InvoiceFacts) ([]models.AlertCandidate, error) {
	// Without an invoice total the rule has nothing to compare.
	if facts.Total == nil {
		return nil, nil
	}
	invoiceTotal := *facts.Total

	baseline, err := e.baselines.VendorSpendBaseline(ctx, facts.OrgID, facts.VendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vendor spend baseline: %w", err)
	}
	if baseline == nil {
		// No historical invoices for this vendor yet.
		return nil, nil
	}

	// Prefer the 90-day window when it has enough history; otherwise fall
	// back to 30 days. Insufficient history in both means no alert, and the
	// count minimum guarantees we never divide by zero.
	var (
		window   string
		avgTotal float64
	)
	switch {
	case baseline.InvoiceCount90d >= MinInvoicesForSpendBaseline && baseline.TotalSpend90d.IsPositive():
		window = "90d"
		avgTotal = baseline.TotalSpend90d.InexactFloat64() / float64(baseline.InvoiceCount90d)
	case baseline.InvoiceCount30d >= MinInvoicesForSpendBaseline && baseline.TotalSpend30d.IsPositive():
		window = "30d"
		avgTotal = baseline.TotalSpend30d.InexactFloat64() / float64(baseline.InvoiceCount30d)
	default:
		return nil, nil
	}
	if avgTotal <= 0 {
		return nil, nil
	}

	ratio := invoiceTotal.InexactFloat64() / avgTotal
	severity := ratioSeverity(ratio)
	if severity == "" {
		return nil, nil
	}

	message := fmt.Sprintf(
		"Invoice total %s on invoice %s is %.2fx the vendor's average invoice total over the last %s.",
		invoiceTotal.StringFixed(2), displayNo(facts), ratio, window)

	meta := map[string]any{
		"rule":               "vendor_volume_spike",
		"ratio":              ratio,
		"baseline_window":    window,
		"baseline_avg_total": avgTotal,
		"invoice_total":      invoiceTotal.InexactFloat64(),
		"invoice_no":         facts.InvoiceNo,
		"invoice_id":         facts.InvoiceID,
		"vendor_id":          facts.VendorID,
		"counts": map[string]any{
			"invoice_count_30d": baseline.InvoiceCount30d,
			"invoice_count_90d": baseline.InvoiceCount90d,
		},
		"spend": map[string]any{
			"total_spend_30d": baseline.TotalSpend30d.InexactFloat64(),
			"total_spend_90d": baseline.TotalSpend90d.InexactFloat64(),
		},
	}

	return []models.AlertCandidate{{
		OrgID:     facts.OrgID,
		InvoiceID: facts.InvoiceID,
		VendorID:  facts.VendorID,
		Type:      models.AlertTypeVendorVolumeSpike,
		Severity:  severity,
		Message:   message,
		Meta:      meta,
	}}, nil
}

// scoreDuplicateInvoices detects potential duplicates: other invoices for
// the same (org, vendor) matching on invoice number and/or exact total.
//
// Exact-total matching is intentionally conservative and will surface
// legitimate repeats such as monthly flat-fee subscriptions. The candidate
// set is meant for human disambiguation, never automatic rejection.
func (e *Engine) scoreDuplicateInvoices(ctx context.Context, facts *models.InvoiceFacts) ([]models.AlertCandidate, error) {
	// Without an invoice number or a total there is no meaningful search key.
	if facts.InvoiceNo == nil && facts.Total == nil {
		return nil, nil
	}

	matches, err := e.duplicates.FindPotentialDuplicates(ctx, facts.OrgID, facts.VendorID, facts.InvoiceID, facts.InvoiceNo, facts.Total)
	if err != nil {
		return nil, fmt.Errorf("failed to search duplicate invoices: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	summaries := make([]map[string]any, 0, len(matches))
	anyStrongMatch := false
	for _, dup := range matches {
		if dup.MatchInvoiceNo && dup.MatchTotal {
			anyStrongMatch = true
		}
		var total *float64
		if dup.Total != nil {
			v := dup.Total.InexactFloat64()
			total = &v
		}
		summaries = append(summaries, map[string]any{
			"invoice_id":   dup.InvoiceID,
			"invoice_no":   dup.InvoiceNo,
			"total":        total,
			"invoice_date": dup.InvoiceDate,
			"match_on": map[string]bool{
				"invoice_no": dup.MatchInvoiceNo,
				"total":      dup.MatchTotal,
			},
		})
	}

	// "high" when any duplicate matches both invoice_no and total;
	// otherwise "medium" for single-field matches.
	severity := models.SeverityMedium
	if anyStrongMatch {
		severity = models.SeverityHigh
	}

	message := fmt.Sprintf(
		"Invoice %s for vendor %s has %d potential duplicate(s) based on matching invoice number and/or total.",
		displayNo(facts), facts.VendorID, len(summaries))

	var candidateTotal *float64
	if facts.Total != nil {
		v := facts.Total.InexactFloat64()
		candidateTotal = &v
	}
	meta := map[string]any{
		"rule":                    "duplicate_invoice",
		"candidate_invoice_id":    facts.InvoiceID,
		"candidate_invoice_no":    facts.InvoiceNo,
		"candidate_invoice_total": candidateTotal,
		"duplicates":              summaries,
	}

	return []models.AlertCandidate{{
		OrgID:     facts.OrgID,
		InvoiceID: facts.InvoiceID,
		VendorID:  facts.VendorID,
		Type:      models.AlertTypeDuplicateInvoice,
		Severity:  severity,
		Message:   message,
		Meta:      meta,
	}}, nil
}
