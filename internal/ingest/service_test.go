package ingest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/models"
	"github.com/procuresight/procuresight/internal/repository"
	"github.com/procuresight/procuresight/internal/scoring"
)

type captureDispatcher struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (d *captureDispatcher) Dispatch(alerts ...models.Alert) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, alerts...)
}

func (d *captureDispatcher) all() []models.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Alert(nil), d.alerts...)
}

type pipeline struct {
	svc        *Service
	db         *sql.DB
	invoices   *repository.InvoiceRepository
	alerts     *repository.AlertRepository
	dispatched *captureDispatcher
}

func newTestPipeline(t *testing.T) *pipeline {
	t.Helper()

	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	// A single connection keeps every query on the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "001_initial_schema.sql"))
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	logger := zap.NewNop()
	vendors := repository.NewVendorRepository(db, logger)
	invoices := repository.NewInvoiceRepository(db, logger)
	alerts := repository.NewAlertRepository(db, logger)
	baselines := repository.NewBaselineRepository(db, logger)
	engine := scoring.NewEngine(invoices, baselines, invoices, logger)
	dispatched := &captureDispatcher{}

	return &pipeline{
		svc:        NewService(db, vendors, invoices, alerts, engine, dispatched, logger),
		db:         db,
		invoices:   invoices,
		alerts:     alerts,
		dispatched: dispatched,
	}
}

// parsedInvoice builds an invoice as the extractors hand it over, one line of
// 2 x 15.00 with the given declared amounts.
func parsedInvoice(no, lineTotal, subtotal, tax, total string) models.Invoice {
	sku := "SKU-1"
	return models.Invoice{
		Vendor:      "Acme Corp",
		InvoiceNo:   no,
		InvoiceDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Currency:    "USD",
		Subtotal:    decimal.RequireFromString(subtotal),
		Tax:         decimal.RequireFromString(tax),
		Total:       decimal.RequireFromString(total),
		Lines: []models.InvoiceLine{{
			SKU:       &sku,
			Desc:      "Widget",
			Qty:       decimal.NullDecimal{Decimal: decimal.NewFromInt(2), Valid: true},
			UnitPrice: decimal.NullDecimal{Decimal: decimal.RequireFromString("15.00"), Valid: true},
			LineTotal: decimal.RequireFromString(lineTotal),
		}},
	}
}

func invoiceCount(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM invoices`).Scan(&n))
	return n
}

func TestProcessInvoice_CleanInvoiceAccepted(t *testing.T) {
	p := newTestPipeline(t)

	res, err := p.svc.ProcessInvoice(context.Background(), "org-1",
		parsedInvoice("INV-1", "30.00", "30.00", "3.00", "33.00"), "")

	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1.0, res.Confidence.Overall)
	assert.Zero(t, res.AlertCount)

	stored, err := p.invoices.GetWithLines(context.Background(), "org-1", res.InvoiceID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.InvoiceStatusValidated, stored.Status)
	assert.Empty(t, p.dispatched.all())
}

func TestProcessInvoice_SchemaInvalidRejected(t *testing.T) {
	p := newTestPipeline(t)

	inv := parsedInvoice("INV-1", "30.00", "30.00", "3.00", "33.00")
	inv.Vendor = ""
	inv.Currency = "US" // not a 3-letter code

	res, err := p.svc.ProcessInvoice(context.Background(), "org-1", inv, "")

	require.NoError(t, err)
	assert.False(t, res.Accepted)
	require.Len(t, res.Errors, 2)
	for _, issue := range res.Errors {
		assert.Equal(t, models.IssueSchemaInvalid, issue.Code)
	}
	assert.True(t, res.Confidence.NeedsReview)
	assert.Zero(t, invoiceCount(t, p.db))
}

func TestProcessInvoice_ReconciliationErrorRejected(t *testing.T) {
	p := newTestPipeline(t)

	// Declared line total is 15.00 off from 2 x 15.00, far past tolerance.
	res, err := p.svc.ProcessInvoice(context.Background(), "org-1",
		parsedInvoice("INV-1", "45.00", "45.00", "3.00", "48.00"), "")

	require.NoError(t, err)
	assert.False(t, res.Accepted)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, models.IssueLineTotalMismatch, res.Errors[0].Code)
	assert.Zero(t, invoiceCount(t, p.db))
	assert.Empty(t, p.dispatched.all())
}

func TestProcessInvoice_RoundingWarningNormalizesStoredValues(t *testing.T) {
	p := newTestPipeline(t)

	// 30.01 declared against a computed 30.00 is within tolerance.
	res, err := p.svc.ProcessInvoice(context.Background(), "org-1",
		parsedInvoice("INV-1", "30.01", "30.00", "3.00", "33.00"), "")

	require.NoError(t, err)
	assert.True(t, res.Accepted)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, models.IssueLineTotalRoundingAdjust, res.Warnings[0].Code)
	assert.InDelta(t, 0.9, res.Confidence.Overall, 1e-9)

	stored, err := p.invoices.GetWithLines(context.Background(), "org-1", res.InvoiceID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.InvoiceStatusValidated, stored.Status)
	require.Len(t, stored.Lines, 1)
	assert.True(t, stored.Lines[0].LineTotal.Equal(decimal.RequireFromString("30.00")),
		"stored line total was %s", stored.Lines[0].LineTotal)
}

func TestProcessInvoice_ManyWarningsLandInNeedsReview(t *testing.T) {
	p := newTestPipeline(t)

	// Two line rounding warnings plus subtotal and total adjustments push
	// confidence below the review threshold without any hard error.
	sku2 := "SKU-2"
	inv := parsedInvoice("INV-1", "30.01", "40.02", "4.00", "44.02")
	inv.Lines = append(inv.Lines, models.InvoiceLine{
		SKU:       &sku2,
		Desc:      "Gadget",
		Qty:       decimal.NullDecimal{Decimal: decimal.NewFromInt(1), Valid: true},
		UnitPrice: decimal.NullDecimal{Decimal: decimal.RequireFromString("10.00"), Valid: true},
		LineTotal: decimal.RequireFromString("10.01"),
	})

	res, err := p.svc.ProcessInvoice(context.Background(), "org-1", inv, "")

	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Len(t, res.Warnings, 4)
	assert.True(t, res.Confidence.NeedsReview)

	stored, err := p.invoices.GetWithLines(context.Background(), "org-1", res.InvoiceID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.InvoiceStatusNeedsReview, stored.Status)
	assert.True(t, stored.Total.Equal(decimal.RequireFromString("44.00")))
}

func TestProcessInvoice_DuplicatePersistsAndDispatchesAlert(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.svc.ProcessInvoice(ctx, "org-1",
		parsedInvoice("INV-9", "30.00", "30.00", "3.00", "33.00"), "")
	require.NoError(t, err)
	require.True(t, first.Accepted)
	assert.Zero(t, first.AlertCount)

	second, err := p.svc.ProcessInvoice(ctx, "org-1",
		parsedInvoice("INV-9", "30.00", "30.00", "3.00", "33.00"), "")
	require.NoError(t, err)
	require.True(t, second.Accepted)
	require.Equal(t, 1, second.AlertCount)

	open, err := p.alerts.List(ctx, "org-1", repository.AlertFilter{Status: models.AlertStatusOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.AlertTypeDuplicateInvoice, open[0].Type)
	assert.Equal(t, models.SeverityHigh, open[0].Severity)
	assert.Equal(t, second.InvoiceID, open[0].InvoiceID)

	dispatched := p.dispatched.all()
	require.Len(t, dispatched, 1)
	assert.Equal(t, open[0].ID, dispatched[0].ID)
}

func TestProcessBatch_EachInvoiceStandsAlone(t *testing.T) {
	p := newTestPipeline(t)

	bad := parsedInvoice("INV-2", "45.00", "45.00", "3.00", "48.00")
	results, err := p.svc.ProcessBatch(context.Background(), "org-1", []models.Invoice{
		parsedInvoice("INV-1", "30.00", "30.00", "3.00", "33.00"),
		bad,
		parsedInvoice("INV-3", "30.00", "30.00", "3.00", "33.00"),
	}, "")

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Accepted)
	assert.False(t, results[1].Accepted)
	assert.True(t, results[2].Accepted)
	assert.Equal(t, 2, invoiceCount(t, p.db))
}

func TestRescoreInvoice(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.svc.ProcessInvoice(ctx, "org-1",
		parsedInvoice("INV-9", "30.00", "30.00", "3.00", "33.00"), "")
	require.NoError(t, err)

	// Scoring the first invoice again after a duplicate arrived now flags it.
	second, err := p.svc.ProcessInvoice(ctx, "org-1",
		parsedInvoice("INV-9", "30.00", "30.00", "3.00", "33.00"), "")
	require.NoError(t, err)
	require.True(t, second.Accepted)

	alerts, err := p.svc.RescoreInvoice(ctx, "org-1", first.InvoiceID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertTypeDuplicateInvoice, alerts[0].Type)
	assert.Equal(t, first.InvoiceID, alerts[0].InvoiceID)

	// Rescoring again within the same second inserts a second open alert on
	// the invoice; the call must return that fresh row, not the older one.
	again, err := p.svc.RescoreInvoice(ctx, "org-1", first.InvoiceID)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.NotEqual(t, alerts[0].ID, again[0].ID)
}
