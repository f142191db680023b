package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/utldo-dev/im-review-api/internal/models"
)

// CertificateRepository persists certificates and their generation batches.
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository creates a new repository instance.
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// Create stores one certificate.
func (r *CertificateRepository) Create(ctx context.Context, cert *models.Certificate) error {
	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if cert.CreatedAt.IsZero() {
		cert.CreatedAt = now
	}
	if cert.DateIssued.IsZero() {
		cert.DateIssued = now
	}
	const query = `INSERT INTO certificates (id, qr_id, im_id, user_id, pdf_link, docx_link, date_issued, created_at) VALUES (:id, :qr_id, :im_id, :user_id, :pdf_link, :docx_link, :date_issued, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, cert); err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	return nil
}

// ListByIM returns active certificates for a material.
func (r *CertificateRepository) ListByIM(ctx context.Context, imID string) ([]models.Certificate, error) {
	const query = `SELECT id, qr_id, im_id, user_id, pdf_link, docx_link, date_issued, created_at, revoked_at FROM certificates WHERE im_id = $1 AND revoked_at IS NULL ORDER BY created_at`
	var certs []models.Certificate
	if err := r.db.SelectContext(ctx, &certs, query, imID); err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	return certs, nil
}

// FindByQRID resolves a certificate from its public QR identifier.
func (r *CertificateRepository) FindByQRID(ctx context.Context, qrID string) (*models.Certificate, error) {
	const query = `SELECT id, qr_id, im_id, user_id, pdf_link, docx_link, date_issued, created_at, revoked_at FROM certificates WHERE qr_id = $1 LIMIT 1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, qrID); err != nil {
		return nil, err
	}
	return &cert, nil
}

// RevokeByIM marks all existing certificates for a material as revoked.
// Regeneration replaces prior artifacts rather than accumulating them.
func (r *CertificateRepository) RevokeByIM(ctx context.Context, imID string, revokedAt time.Time) error {
	const query = `UPDATE certificates SET revoked_at = $2 WHERE im_id = $1 AND revoked_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, imID, revokedAt); err != nil {
		return fmt.Errorf("revoke certificates: %w", err)
	}
	return nil
}

// CreateBatch stores a generation batch record.
func (r *CertificateRepository) CreateBatch(ctx context.Context, batch *models.CertificateBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO certificate_batches (id, im_id, requested_by, status, success_count, failure_count, created_at) VALUES (:id, :im_id, :requested_by, :status, :success_count, :failure_count, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("create certificate batch: %w", err)
	}
	return nil
}

// CompleteBatch records the outcome of a generation run.
func (r *CertificateRepository) CompleteBatch(ctx context.Context, id string, status models.CertificateBatchStatus, successCount, failureCount int, completedAt time.Time) error {
	const query = `UPDATE certificate_batches SET status = $2, success_count = $3, failure_count = $4, completed_at = $5 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, status, successCount, failureCount, completedAt)
	if err != nil {
		return fmt.Errorf("complete certificate batch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete certificate batch: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// LatestBatch returns the most recent batch for a material, nil when none.
func (r *CertificateRepository) LatestBatch(ctx context.Context, imID string) (*models.CertificateBatch, error) {
	const query = `SELECT id, im_id, requested_by, status, success_count, failure_count, created_at, completed_at FROM certificate_batches WHERE im_id = $1 ORDER BY created_at DESC LIMIT 1`
	var batch models.CertificateBatch
	if err := r.db.GetContext(ctx, &batch, query, imID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load latest batch: %w", err)
	}
	return &batch, nil
}
