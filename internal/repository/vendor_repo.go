package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/models"
)

// VendorRepository handles vendor database operations.
type VendorRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewVendorRepository creates a new vendor repository.
func NewVendorRepository(db *sql.DB, logger *zap.Logger) *VendorRepository {
	return &VendorRepository{db: db, logger: logger}
}

// Ensure returns the vendor id for (org, name), creating the vendor row if
// it does not exist yet. The upsert keeps repeated ingests from creating
// duplicate vendors.
func (r *VendorRepository) Ensure(ctx context.Context, tx *sql.Tx, orgID, name string) (string, error) {
	query := `
		INSERT INTO vendors (id, org_id, name)
		VALUES (?, ?, ?)
		ON CONFLICT (org_id, name) DO UPDATE SET name = excluded.name
		RETURNING id
	`

	var id string
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, uuid.NewString(), orgID, name).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, uuid.NewString(), orgID, name).Scan(&id)
	}
	if err != nil {
		r.logger.Error("Failed to ensure vendor", zap.String("name", name), zap.Error(err))
		return "", fmt.Errorf("failed to ensure vendor: %w", err)
	}
	return id, nil
}

// List returns vendors for an org ordered by name.
func (r *VendorRepository) List(ctx context.Context, orgID string, limit, offset int) ([]models.Vendor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, name, created_at
		FROM vendors
		WHERE org_id = ?
		ORDER BY name ASC
		LIMIT ? OFFSET ?
	`, orgID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list vendors", zap.Error(err))
		return nil, fmt.Errorf("failed to list vendors: %w", err)
	}
	defer rows.Close()

	var vendors []models.Vendor
	for rows.Next() {
		var v models.Vendor
		if err := rows.Scan(&v.ID, &v.OrgID, &v.Name, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vendor: %w", err)
		}
		vendors = append(vendors, v)
	}
	return vendors, rows.Err()
}

// GetByID fetches a single vendor, returning nil when not found.
func (r *VendorRepository) GetByID(ctx context.Context, orgID, vendorID string) (*models.Vendor, error) {
	var v models.Vendor
	err := r.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, created_at
		FROM vendors
		WHERE org_id = ? AND id = ?
	`, orgID, vendorID).Scan(&v.ID, &v.OrgID, &v.Name, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get vendor", zap.String("vendor_id", vendorID), zap.Error(err))
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}
	return &v, nil
}
