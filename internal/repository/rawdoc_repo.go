package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/procuresight/procuresight/internal/models"
)

// RawDocRepository tracks uploaded source files and their content hashes so
// re-uploads of the same bytes are detected before anything is stored twice.
type RawDocRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRawDocRepository creates a new raw document repository.
func NewRawDocRepository(db *sql.DB, logger *zap.Logger) *RawDocRepository {
	return &RawDocRepository{db: db, logger: logger}
}

// GetByHash looks up a previously uploaded document by its content hash.
// Returns nil when the hash has not been seen for this org.
func (r *RawDocRepository) GetByHash(ctx context.Context, orgID, sha256 string) (*models.RawDoc, error) {
	var doc models.RawDoc
	var uploadedBy sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, org_id, storage_key, filename, mime, bytes, sha256, uploaded_by, created_at
		FROM raw_docs
		WHERE org_id = ? AND sha256 = ?
		LIMIT 1
	`, orgID, sha256).Scan(&doc.ID, &doc.OrgID, &doc.StorageKey, &doc.Filename,
		&doc.Mime, &doc.Bytes, &doc.SHA256, &uploadedBy, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to look up raw doc by hash", zap.Error(err))
		return nil, fmt.Errorf("failed to look up raw doc: %w", err)
	}
	doc.UploadedBy = uploadedBy.String
	return &doc, nil
}

// Insert registers a stored upload and returns its id.
func (r *RawDocRepository) Insert(ctx context.Context, doc *models.RawDoc) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	var uploadedBy any
	if doc.UploadedBy != "" {
		uploadedBy = doc.UploadedBy
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO raw_docs (id, org_id, storage_key, filename, mime, bytes, sha256, uploaded_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.OrgID, doc.StorageKey, doc.Filename, doc.Mime, doc.Bytes, doc.SHA256, uploadedBy)
	if err != nil {
		r.logger.Error("Failed to insert raw doc", zap.String("filename", doc.Filename), zap.Error(err))
		return "", fmt.Errorf("failed to insert raw doc: %w", err)
	}
	return doc.ID, nil
}
