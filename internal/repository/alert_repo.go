package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/models"
)

// AlertRepository persists scored alerts and serves the review API.
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository creates a new alert repository.
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{db: db, logger: logger}
}

// InsertCandidates stores freshly scored alert candidates and returns the
// generated alert ids in candidate order. A no-op for an empty slice.
func (r *AlertRepository) InsertCandidates(ctx context.Context, tx *sql.Tx, candidates []models.AlertCandidate) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alerts (id, org_id, vendor_id, invoice_id, type, severity, status, message, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare alert insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		metaJSON, err := json.Marshal(cand.Meta)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal alert meta: %w", err)
		}
		id := uuid.NewString()
		if _, err := stmt.ExecContext(ctx,
			id, cand.OrgID, cand.VendorID, cand.InvoiceID,
			cand.Type, string(cand.Severity), models.AlertStatusOpen, cand.Message, string(metaJSON),
		); err != nil {
			r.logger.Error("Failed to insert alert", zap.String("invoice_id", cand.InvoiceID), zap.Error(err))
			return nil, fmt.Errorf("failed to insert alert: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AlertFilter narrows List results. Zero values mean "no filter".
type AlertFilter struct {
	Severity  string
	Type      string
	Status    string
	InvoiceID string
	Limit     int
	Offset    int
}

// List returns persisted alerts for an org, newest first.
func (r *AlertRepository) List(ctx context.Context, orgID string, filter AlertFilter) ([]models.Alert, error) {
	conditions := []string{"org_id = ?"}
	args := []any{orgID}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.InvoiceID != "" {
		conditions = append(conditions, "invoice_id = ?")
		args = append(args, filter.InvoiceID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, vendor_id, invoice_id, type, severity, status, message, meta_json, created_at
		FROM alerts
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		r.logger.Error("Failed to list alerts", zap.Error(err))
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	return r.scanAlerts(rows)
}

// GetByIDs loads the given alerts for an org, returned in the order of ids.
// Ids that do not exist (or belong to another org) are silently skipped.
func (r *AlertRepository) GetByIDs(ctx context.Context, orgID string, ids []string) ([]models.Alert, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, orgID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, vendor_id, invoice_id, type, severity, status, message, meta_json, created_at
		FROM alerts
		WHERE org_id = ? AND id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		r.logger.Error("Failed to load alerts by id", zap.Error(err))
		return nil, fmt.Errorf("failed to load alerts by id: %w", err)
	}
	defer rows.Close()

	loaded, err := r.scanAlerts(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.Alert, len(loaded))
	for _, a := range loaded {
		byID[a.ID] = a
	}
	alerts := make([]models.Alert, 0, len(ids))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			alerts = append(alerts, a)
		}
	}
	return alerts, nil
}

func (r *AlertRepository) scanAlerts(rows *sql.Rows) ([]models.Alert, error) {
	var alerts []models.Alert
	for rows.Next() {
		var (
			a        models.Alert
			severity string
			metaJSON string
		)
		if err := rows.Scan(&a.ID, &a.OrgID, &a.VendorID, &a.InvoiceID, &a.Type,
			&severity, &a.Status, &a.Message, &metaJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Severity = models.Severity(severity)
		if err := json.Unmarshal([]byte(metaJSON), &a.Meta); err != nil {
			// Meta is advisory; a corrupt blob should not hide the alert.
			r.logger.Warn("Failed to decode alert meta", zap.String("alert_id", a.ID), zap.Error(err))
			a.Meta = map[string]any{"raw_meta": metaJSON}
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// UpdateStatus moves an alert through the review lifecycle
// (open → acked/resolved). Returns false when the alert does not exist.
func (r *AlertRepository) UpdateStatus(ctx context.Context, orgID, alertID, status string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET status = ? WHERE org_id = ? AND id = ?`,
		status, orgID, alertID)
	if err != nil {
		r.logger.Error("Failed to update alert status", zap.String("alert_id", alertID), zap.Error(err))
		return false, fmt.Errorf("failed to update alert status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}
