// Package ingest runs the pipeline a parsed invoice goes through: schema
// validation, arithmetic reconciliation, persistence, anomaly scoring and
// alert fan-out.
package ingest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/models"
	"github.com/procuresight/procuresight/internal/repository"
	"github.com/procuresight/procuresight/internal/scoring"
	"github.com/procuresight/procuresight/internal/validation"
)

// Result is the outcome of processing one invoice through the pipeline.
type Result struct {
	InvoiceID  string                   `json:"invoice_id,omitempty"`
	InvoiceNo  string                   `json:"invoice_no"`
	Accepted   bool                     `json:"accepted"`
	Errors     []models.ValidationIssue `json:"errors,omitempty"`
	Warnings   []models.ValidationIssue `json:"warnings,omitempty"`
	Confidence validation.Confidence    `json:"confidence"`
	AlertCount int                      `json:"alert_count"`
}

// AlertDispatcher is the async fan-out the pipeline hands persisted alerts
// to. Satisfied by notification.Dispatcher.
type AlertDispatcher interface {
	Dispatch(alerts ...models.Alert)
}

// Service wires the invoice pipeline together.
type Service struct {
	db         *sql.DB
	vendors    *repository.VendorRepository
	invoices   *repository.InvoiceRepository
	alerts     *repository.AlertRepository
	engine     *scoring.Engine
	dispatcher AlertDispatcher
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewService creates the pipeline service.
func NewService(
	db *sql.DB,
	vendors *repository.VendorRepository,
	invoices *repository.InvoiceRepository,
	alerts *repository.AlertRepository,
	engine *scoring.Engine,
	dispatcher AlertDispatcher,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:         db,
		vendors:    vendors,
		invoices:   invoices,
		alerts:     alerts,
		engine:     engine,
		dispatcher: dispatcher,
		validate:   validator.New(),
		logger:     logger,
	}
}

// ProcessInvoice runs one parsed invoice through the full pipeline. Invoices
// failing schema validation or arithmetic reconciliation are rejected with
// structured issues and never persisted. Warnings auto-correct the stored
// values and lower confidence but do not block.
func (s *Service) ProcessInvoice(ctx context.Context, orgID string, inv models.Invoice, rawDocID string) (*Result, error) {
	result := &Result{InvoiceNo: inv.InvoiceNo}

	if issues := s.schemaIssues(inv); len(issues) > 0 {
		result.Errors = issues
		result.Confidence = validation.Confidence{NeedsReview: true}
		s.logger.Info("Invoice rejected by schema validation",
			zap.String("invoice_no", inv.InvoiceNo),
			zap.Int("issues", len(issues)))
		return result, nil
	}

	report := validation.ValidateInvoice(inv)
	result.Errors = report.Errors
	result.Warnings = report.Warnings
	result.Confidence = validation.ComputeConfidence(&report)

	if report.HasErrors() {
		s.logger.Info("Invoice rejected by reconciliation",
			zap.String("invoice_no", inv.InvoiceNo),
			zap.Int("errors", len(report.Errors)),
			zap.Int("warnings", len(report.Warnings)))
		return result, nil
	}

	normalized := report.NormalizedInvoice
	normalized.OrgID = orgID
	normalized.RawDocID = rawDocID
	if result.Confidence.NeedsReview {
		normalized.Status = models.InvoiceStatusNeedsReview
	} else {
		normalized.Status = models.InvoiceStatusValidated
	}

	invoiceID, err := s.persist(ctx, orgID, &normalized)
	if err != nil {
		return nil, err
	}
	result.InvoiceID = invoiceID
	result.Accepted = true

	candidates, err := s.engine.ScoreInvoice(ctx, orgID, invoiceID)
	if err != nil {
		// The invoice is committed; scoring problems must not undo that.
		s.logger.Error("Anomaly scoring failed, invoice kept without alerts",
			zap.String("invoice_id", invoiceID), zap.Error(err))
		return result, nil
	}

	persisted, err := s.persistAlerts(ctx, candidates)
	if err != nil {
		s.logger.Error("Failed to persist alerts",
			zap.String("invoice_id", invoiceID), zap.Error(err))
		return result, nil
	}
	result.AlertCount = len(persisted)
	if len(persisted) > 0 && s.dispatcher != nil {
		s.dispatcher.Dispatch(persisted...)
	}

	s.logger.Info("Invoice processed",
		zap.String("invoice_id", invoiceID),
		zap.String("invoice_no", normalized.InvoiceNo),
		zap.Int("warnings", len(report.Warnings)),
		zap.Int("alerts", len(persisted)),
		zap.Float64("confidence", result.Confidence.Overall))
	return result, nil
}

// ProcessBatch runs several invoices from one upload. Each invoice succeeds
// or fails on its own.
func (s *Service) ProcessBatch(ctx context.Context, orgID string, invoices []models.Invoice, rawDocID string) ([]Result, error) {
	results := make([]Result, 0, len(invoices))
	for _, inv := range invoices {
		res, err := s.ProcessInvoice(ctx, orgID, inv, rawDocID)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// RescoreInvoice re-runs anomaly scoring for a committed invoice and
// persists plus dispatches any new alerts. Used by the debug endpoint.
func (s *Service) RescoreInvoice(ctx context.Context, orgID, invoiceID string) ([]models.Alert, error) {
	candidates, err := s.engine.ScoreInvoice(ctx, orgID, invoiceID)
	if err != nil {
		return nil, err
	}
	persisted, err := s.persistAlerts(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if len(persisted) > 0 && s.dispatcher != nil {
		s.dispatcher.Dispatch(persisted...)
	}
	return persisted, nil
}

// schemaIssues maps struct tag violations onto the same issue shape the
// reconciler produces, so clients see one error format.
func (s *Service) schemaIssues(inv models.Invoice) []models.ValidationIssue {
	err := s.validate.Struct(inv)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []models.ValidationIssue{{
			Field:   "invoice",
			Code:    models.IssueSchemaInvalid,
			Message: err.Error(),
		}}
	}
	issues := make([]models.ValidationIssue, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, models.ValidationIssue{
			Field:   fe.Namespace(),
			Code:    models.IssueSchemaInvalid,
			Message: fmt.Sprintf("field failed %q validation", fe.Tag()),
		})
	}
	return issues
}

// persist writes the vendor, invoice header and lines in one transaction.
func (s *Service) persist(ctx context.Context, orgID string, inv *models.Invoice) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	vendorID, err := s.vendors.Ensure(ctx, tx, orgID, inv.Vendor)
	if err != nil {
		return "", err
	}
	inv.VendorID = vendorID

	invoiceID, err := s.invoices.Insert(ctx, tx, inv)
	if err != nil {
		return "", err
	}
	if err := s.invoices.ReplaceLines(ctx, tx, invoiceID, inv.Lines); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit invoice: %w", err)
	}
	return invoiceID, nil
}

// persistAlerts stores candidates and reloads exactly the inserted rows, in
// rule order, for dispatch.
func (s *Service) persistAlerts(ctx context.Context, candidates []models.AlertCandidate) ([]models.Alert, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids, err := s.alerts.InsertCandidates(ctx, tx, candidates)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit alerts: %w", err)
	}

	return s.alerts.GetByIDs(ctx, candidates[0].OrgID, ids)
}
