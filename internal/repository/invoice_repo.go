package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/models"
)

const dateLayout = "2006-01-02"

// InvoiceRepository handles invoice and invoice-line database operations.
type InvoiceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository.
func NewInvoiceRepository(db *sql.DB, logger *zap.Logger) *InvoiceRepository {
	return &InvoiceRepository{db: db, logger: logger}
}

// Insert writes a new invoice row and returns its id. Repeated invoice
// numbers are allowed on purpose: a vendor billing the same number twice
// must become a second row for the duplicate rule to flag. Re-uploads of the
// same file are deduplicated upstream on the raw document hash.
func (r *InvoiceRepository) Insert(ctx context.Context, tx *sql.Tx, inv *models.Invoice) (string, error) {
	var dueDate any
	if inv.DueDate != nil {
		dueDate = inv.DueDate.Format(dateLayout)
	}
	var rawDocID any
	if inv.RawDocID != "" {
		rawDocID = inv.RawDocID
	}

	status := inv.Status
	if status == "" {
		status = models.InvoiceStatusReceived
	}

	id := uuid.NewString()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, org_id, vendor_id, invoice_no, invoice_date, due_date,
			currency, subtotal, tax, total, status, raw_doc_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		inv.OrgID,
		inv.VendorID,
		inv.InvoiceNo,
		inv.InvoiceDate.Format(dateLayout),
		dueDate,
		inv.Currency,
		inv.Subtotal,
		inv.Tax,
		inv.Total,
		status,
		rawDocID,
	)
	if err != nil {
		r.logger.Error("Failed to insert invoice",
			zap.String("invoice_no", inv.InvoiceNo),
			zap.Error(err))
		return "", fmt.Errorf("failed to insert invoice: %w", err)
	}

	inv.ID = id
	return id, nil
}

// ReplaceLines deletes and re-inserts all line items for an invoice so the
// table always reflects the most recent extraction.
func (r *InvoiceRepository) ReplaceLines(ctx context.Context, tx *sql.Tx, invoiceID string, lines []models.InvoiceLine) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_lines WHERE invoice_id = ?`, invoiceID); err != nil {
		return fmt.Errorf("failed to delete invoice lines: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO invoice_lines (id, invoice_id, sku, "desc", qty, unit_price, line_total)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare line insert: %w", err)
	}
	defer stmt.Close()

	for i := range lines {
		line := &lines[i]
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx,
			line.ID, invoiceID, line.SKU, line.Desc, line.Qty, line.UnitPrice, line.LineTotal,
		); err != nil {
			return fmt.Errorf("failed to insert invoice line: %w", err)
		}
	}
	return nil
}

// List returns invoices for an org, newest first.
func (r *InvoiceRepository) List(ctx context.Context, orgID string, limit, offset int) ([]models.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, vendor_id, invoice_no, invoice_date, due_date,
		       currency, subtotal, tax, total, status, created_at
		FROM invoices
		WHERE org_id = ?
		ORDER BY invoice_date DESC, created_at DESC
		LIMIT ? OFFSET ?
	`, orgID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list invoices", zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// GetWithLines fetches a single invoice and its line items, or nil when the
// invoice does not exist.
func (r *InvoiceRepository) GetWithLines(ctx context.Context, orgID, invoiceID string) (*models.Invoice, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, org_id, vendor_id, invoice_no, invoice_date, due_date,
		       currency, subtotal, tax, total, status, created_at
		FROM invoices
		WHERE org_id = ? AND id = ?
	`, orgID, invoiceID)

	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get invoice", zap.String("invoice_id", invoiceID), zap.Error(err))
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sku, "desc", qty, unit_price, line_total
		FROM invoice_lines
		WHERE invoice_id = ?
		ORDER BY id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line models.InvoiceLine
		var sku, desc sql.NullString
		if err := rows.Scan(&line.ID, &sku, &desc, &line.Qty, &line.UnitPrice, &line.LineTotal); err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		if sku.Valid {
			line.SKU = &sku.String
		}
		line.Desc = desc.String
		inv.Lines = append(inv.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return inv, nil
}

// UpdateFields partially updates invoice scalar columns. Unknown keys are
// ignored. Returns false when no such invoice exists.
func (r *InvoiceRepository) UpdateFields(ctx context.Context, orgID, invoiceID string, fields map[string]any) (bool, error) {
	if len(fields) == 0 {
		return true, nil
	}

	allowed := map[string]bool{
		"vendor_id": true, "invoice_no": true, "invoice_date": true, "due_date": true,
		"currency": true, "subtotal": true, "tax": true, "total": true, "status": true,
	}

	var assignments []string
	var values []any
	for k, v := range fields {
		if allowed[k] {
			assignments = append(assignments, k+" = ?")
			values = append(values, v)
		}
	}
	if len(assignments) == 0 {
		return true, nil
	}

	values = append(values, orgID, invoiceID)
	res, err := r.db.ExecContext(ctx,
		"UPDATE invoices SET "+strings.Join(assignments, ", ")+" WHERE org_id = ? AND id = ?",
		values...)
	if err != nil {
		r.logger.Error("Failed to update invoice fields", zap.String("invoice_id", invoiceID), zap.Error(err))
		return false, fmt.Errorf("failed to update invoice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// InvoiceFacts loads the committed header and lines for scoring. Returns nil
// when the invoice does not exist. Historical rows may predate the current
// schema constraints, so header fields come back nullable.
func (r *InvoiceRepository) InvoiceFacts(ctx context.Context, orgID, invoiceID string) (*models.InvoiceFacts, error) {
	var (
		facts     models.InvoiceFacts
		invoiceNo sql.NullString
		total     decimal.NullDecimal
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, org_id, vendor_id, invoice_no, total
		FROM invoices
		WHERE org_id = ? AND id = ?
	`, orgID, invoiceID).Scan(&facts.InvoiceID, &facts.OrgID, &facts.VendorID, &invoiceNo, &total)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to load invoice facts", zap.String("invoice_id", invoiceID), zap.Error(err))
		return nil, fmt.Errorf("failed to load invoice facts: %w", err)
	}
	if invoiceNo.Valid {
		facts.InvoiceNo = &invoiceNo.String
	}
	if total.Valid {
		facts.Total = &total.Decimal
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sku, "desc", unit_price
		FROM invoice_lines
		WHERE invoice_id = ?
		ORDER BY id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load line facts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line models.LineFacts
		var sku, desc sql.NullString
		if err := rows.Scan(&line.LineID, &sku, &desc, &line.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan line facts: %w", err)
		}
		if sku.Valid {
			line.SKU = &sku.String
		}
		if desc.Valid {
			line.Desc = &desc.String
		}
		facts.Lines = append(facts.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &facts, nil
}

// FindPotentialDuplicates searches other invoices of the same (org, vendor)
// that match the given invoice number and/or exact total. The invoice being
// scored is excluded so it never matches itself.
func (r *InvoiceRepository) FindPotentialDuplicates(ctx context.Context, orgID, vendorID, excludeInvoiceID string, invoiceNo *string, total *decimal.Decimal) ([]models.DuplicateMatch, error) {
	if invoiceNo == nil && total == nil {
		return nil, nil
	}

	var matchClauses []string
	args := []any{orgID, vendorID, excludeInvoiceID}
	if invoiceNo != nil {
		matchClauses = append(matchClauses, "invoice_no = ?")
		args = append(args, *invoiceNo)
	}
	if total != nil {
		matchClauses = append(matchClauses, "total = ?")
		args = append(args, *total)
	}

	query := `
		SELECT id, invoice_no, total, invoice_date
		FROM invoices
		WHERE org_id = ? AND vendor_id = ? AND id <> ?
		  AND (` + strings.Join(matchClauses, " OR ") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to search duplicate invoices", zap.Error(err))
		return nil, fmt.Errorf("failed to search duplicates: %w", err)
	}
	defer rows.Close()

	var matches []models.DuplicateMatch
	for rows.Next() {
		var (
			m       models.DuplicateMatch
			no      sql.NullString
			dupTot  decimal.NullDecimal
			dateStr sql.NullString
		)
		if err := rows.Scan(&m.InvoiceID, &no, &dupTot, &dateStr); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate row: %w", err)
		}
		if no.Valid {
			m.InvoiceNo = &no.String
		}
		if dupTot.Valid {
			m.Total = &dupTot.Decimal
		}
		if dateStr.Valid {
			if d, err := time.Parse(dateLayout, dateStr.String); err == nil {
				m.InvoiceDate = &d
			}
		}
		m.MatchInvoiceNo = invoiceNo != nil && m.InvoiceNo != nil && *m.InvoiceNo == *invoiceNo
		m.MatchTotal = total != nil && m.Total != nil && m.Total.Equal(*total)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var (
		inv       models.Invoice
		invoiceNo sql.NullString
		dateStr   sql.NullString
		dueStr    sql.NullString
		currency  sql.NullString
	)
	err := row.Scan(
		&inv.ID, &inv.OrgID, &inv.VendorID, &invoiceNo, &dateStr, &dueStr,
		&currency, &inv.Subtotal, &inv.Tax, &inv.Total, &inv.Status, &inv.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}
	inv.InvoiceNo = invoiceNo.String
	inv.Currency = currency.String
	if dateStr.Valid {
		if d, perr := time.Parse(dateLayout, dateStr.String); perr == nil {
			inv.InvoiceDate = d
		}
	}
	if dueStr.Valid {
		if d, perr := time.Parse(dateLayout, dueStr.String); perr == nil {
			inv.DueDate = &d
		}
	}
	return &inv, nil
}
