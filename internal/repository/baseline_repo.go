package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/models"
)

// BaselineRepository answers the read-only aggregate queries the anomaly
// rules consume: per-(vendor, SKU) unit-price statistics and per-vendor
// spend over trailing windows. Absence of history is a normal outcome and is
// reported as a nil record, never as an error.
type BaselineRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBaselineRepository creates a new baseline repository.
func NewBaselineRepository(db *sql.DB, logger *zap.Logger) *BaselineRepository {
	return &BaselineRepository{db: db, logger: logger}
}

// UnitPriceBaseline returns the best unit-price statistic for
// (org, vendor, sku[, desc]). When several description variants exist for
// the same SKU, the group with the largest sample size wins.
func (r *BaselineRepository) UnitPriceBaseline(ctx context.Context, orgID, vendorID, sku string, desc *string) (*models.UnitPriceBaseline, error) {
	query := `
		SELECT il."desc", COUNT(*) AS sample_size, AVG(il.unit_price) AS mean_unit_price
		FROM invoice_lines AS il
		JOIN invoices AS i ON i.id = il.invoice_id
		WHERE i.org_id = ? AND i.vendor_id = ? AND il.sku = ? AND il.unit_price IS NOT NULL
	`
	args := []any{orgID, vendorID, sku}
	if desc != nil {
		query += ` AND il."desc" = ?`
		args = append(args, *desc)
	}
	query += ` GROUP BY il."desc" ORDER BY COUNT(*) DESC LIMIT 1`

	var (
		groupDesc  sql.NullString
		sampleSize int
		mean       decimal.Decimal
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&groupDesc, &sampleSize, &mean)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to query unit price baseline",
			zap.String("vendor_id", vendorID), zap.String("sku", sku), zap.Error(err))
		return nil, fmt.Errorf("failed to query unit price baseline: %w", err)
	}

	median, err := r.medianUnitPrice(ctx, orgID, vendorID, sku, groupDesc)
	if err != nil {
		return nil, err
	}

	baseline := &models.UnitPriceBaseline{
		OrgID:           orgID,
		VendorID:        vendorID,
		SKU:             sku,
		SampleSize:      sampleSize,
		MedianUnitPrice: median,
		MeanUnitPrice:   mean,
	}
	if groupDesc.Valid {
		baseline.Desc = &groupDesc.String
	}
	return baseline, nil
}

// medianUnitPrice computes the median over the chosen (sku, desc) group.
// SQLite has no percentile aggregate, so the prices are sorted here.
func (r *BaselineRepository) medianUnitPrice(ctx context.Context, orgID, vendorID, sku string, desc sql.NullString) (decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT il.unit_price
		FROM invoice_lines AS il
		JOIN invoices AS i ON i.id = il.invoice_id
		WHERE i.org_id = ? AND i.vendor_id = ? AND il.sku = ?
		  AND il."desc" IS ? AND il.unit_price IS NOT NULL
	`, orgID, vendorID, sku, desc)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query unit prices: %w", err)
	}
	defer rows.Close()

	var prices []decimal.Decimal
	for rows.Next() {
		var p decimal.Decimal
		if err := rows.Scan(&p); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan unit price: %w", err)
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, err
	}
	return median(prices), nil
}

// median returns the middle value of the set, averaging the two central
// values for even-sized sets. Zero for an empty set.
func median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sort.Slice(values, func(i, j int) bool { return values[i].LessThan(values[j]) })
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return values[mid-1].Add(values[mid]).Div(decimal.NewFromInt(2))
}

// VendorSpendBaseline aggregates invoice counts and total spend for a vendor
// over the trailing 30- and 90-day windows. Returns nil when the vendor has
// no dated invoices in the 90-day window.
func (r *BaselineRepository) VendorSpendBaseline(ctx context.Context, orgID, vendorID string) (*models.VendorSpendBaseline, error) {
	var (
		count30, count90 int
		spend30, spend90 decimal.Decimal
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN invoice_date >= date('now', '-30 day') THEN 1 END),
			COALESCE(SUM(CASE WHEN invoice_date >= date('now', '-30 day') THEN total END), 0),
			COUNT(CASE WHEN invoice_date >= date('now', '-90 day') THEN 1 END),
			COALESCE(SUM(CASE WHEN invoice_date >= date('now', '-90 day') THEN total END), 0)
		FROM invoices
		WHERE org_id = ? AND vendor_id = ? AND total IS NOT NULL
	`, orgID, vendorID).Scan(&count30, &spend30, &count90, &spend90)
	if err != nil {
		r.logger.Error("Failed to query vendor spend baseline",
			zap.String("vendor_id", vendorID), zap.Error(err))
		return nil, fmt.Errorf("failed to query vendor spend baseline: %w", err)
	}

	if count90 == 0 {
		return nil, nil
	}
	return &models.VendorSpendBaseline{
		OrgID:           orgID,
		VendorID:        vendorID,
		InvoiceCount30d: count30,
		TotalSpend30d:   spend30,
		InvoiceCount90d: count90,
		TotalSpend90d:   spend90,
	}, nil
}
