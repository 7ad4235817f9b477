// Package scoring runs rule-based anomaly checks over a persisted invoice
// and its vendor's historical baselines. Each rule emits zero or more
// severity-tagged alert candidates; the rules are independent and a single
// invoice may trigger several of them at once.
package scoring

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/procuresight/procuresight/internal/models"
)

// Thresholds for rule-based scoring. These could become org-configurable
// later if needed.
const (
	MinSampleSizeForBaseline    = 5
	MinInvoicesForSpendBaseline = 3

	HighRatioThreshold   = 3.0
	MediumRatioThreshold = 2.0
)

// InvoiceSource loads the committed invoice header and lines to score.
type InvoiceSource interface {
	InvoiceFacts(ctx context.Context, orgID, invoiceID string) (*models.InvoiceFacts, error)
}

// BaselineSource answers read-only baseline queries. A nil record with a nil
// error means "no history yet" and is a normal outcome.
type BaselineSource interface {
	UnitPriceBaseline(ctx context.Context, orgID, vendorID, sku string, desc *string) (*models.UnitPriceBaseline, error)
	VendorSpendBaseline(ctx context.Context, orgID, vendorID string) (*models.VendorSpendBaseline, error)
}

// DuplicateSource searches other invoices of the same vendor that collide on
// invoice number and/or total.
type DuplicateSource interface {
	FindPotentialDuplicates(ctx context.Context, orgID, vendorID, excludeInvoiceID string, invoiceNo *string, total *decimal.Decimal) ([]models.DuplicateMatch, error)
}

// Engine scores one invoice at a time. It holds no mutable state, so a
// single Engine is safe to use concurrently for different invoices.
type Engine struct {
	invoices   InvoiceSource
	baselines  BaselineSource
	duplicates DuplicateSource
	logger     *zap.Logger
}

// NewEngine creates a scoring engine.
func NewEngine(invoices InvoiceSource, baselines BaselineSource, duplicates DuplicateSource, logger *zap.Logger) *Engine {
	return &Engine{
		invoices:   invoices,
		baselines:  baselines,
		duplicates: duplicates,
		logger:     logger,
	}
}

// ScoreInvoice runs all rules against a committed invoice and concatenates
// their alert candidates in rule order. The rules' baseline reads are
// independent, so they run concurrently; if the context is cancelled
// mid-flight the whole result is discarded rather than partially returned.
func (e *Engine) ScoreInvoice(ctx context.Context, orgID, invoiceID string) ([]models.AlertCandidate, error) {
	facts, err := e.invoices.InvoiceFacts(ctx, orgID, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice for scoring: %w", err)
	}
	if facts == nil {
		return nil, nil
	}

	var priceAlerts, spikeAlerts, dupAlerts []models.AlertCandidate

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		priceAlerts, err = e.scoreUnitPriceDeltas(gctx, facts)
		return err
	})
	g.Go(func() error {
		var err error
		spikeAlerts, err = e.scoreVendorVolumeSpike(gctx, facts)
		return err
	})
	g.Go(func() error {
		var err error
		dupAlerts, err = e.scoreDuplicateInvoices(gctx, facts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	alerts := make([]models.AlertCandidate, 0, len(priceAlerts)+len(spikeAlerts)+len(dupAlerts))
	alerts = append(alerts, priceAlerts...)
	alerts = append(alerts, spikeAlerts...)
	alerts = append(alerts, dupAlerts...)

	e.logger.Debug("Invoice scored",
		zap.String("org_id", orgID),
		zap.String("invoice_id", invoiceID),
		zap.Int("alert_count", len(alerts)))

	return alerts, nil
}

// ratioSeverity maps a value/baseline ratio to an alert severity. The empty
// string means the ratio is unremarkable.
func ratioSeverity(ratio float64) models.Severity {
	switch {
	case ratio >= HighRatioThreshold:
		return models.SeverityHigh
	case ratio >= MediumRatioThreshold:
		return models.SeverityMedium
	default:
		return ""
	}
}

// displayNo prefers the human-facing invoice number over the row id.
func displayNo(facts *models.InvoiceFacts) string {
	if facts.InvoiceNo != nil && *facts.InvoiceNo != "" {
		return *facts.InvoiceNo
	}
	return facts.InvoiceID
}
