package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/utldo-dev/im-review-api/internal/dto"
	"github.com/utldo-dev/im-review-api/internal/models"
	"github.com/utldo-dev/im-review-api/pkg/export"
	appErrors "github.com/utldo-dev/im-review-api/pkg/errors"
)

type certificateStore interface {
	Create(ctx context.Context, cert *models.Certificate) error
	ListByIM(ctx context.Context, imID string) ([]models.Certificate, error)
	FindByQRID(ctx context.Context, qrID string) (*models.Certificate, error)
	RevokeByIM(ctx context.Context, imID string, revokedAt time.Time) error
	CreateBatch(ctx context.Context, batch *models.CertificateBatch) error
	CompleteBatch(ctx context.Context, id string, status models.CertificateBatchStatus, successCount, failureCount int, completedAt time.Time) error
	LatestBatch(ctx context.Context, imID string) (*models.CertificateBatch, error)
}

type certificateUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type certificateRenderer interface {
	Render(data export.CertificateData) ([]byte, error)
}

type certificateFileStore interface {
	Save(filename string, data []byte) (string, error)
}

// CertificateService generates per-author certificate artifacts for a
// material. Each run replaces all prior certificates; each certificate gets
// a fresh verification id so old QR codes stop resolving.
type CertificateService struct {
	repo     certificateStore
	ims      authorMaterialReader
	authors  imAuthorStore
	bases    imBaseRecordStore
	users    certificateUserReader
	renderer certificateRenderer
	storage  certificateFileStore
	audit    auditLogger
	logger   *zap.Logger
}

// NewCertificateService constructs the service. audit may be nil.
func NewCertificateService(repo certificateStore, ims authorMaterialReader, authors imAuthorStore, bases imBaseRecordStore, users certificateUserReader, renderer certificateRenderer, storage certificateFileStore, audit auditLogger, logger *zap.Logger) *CertificateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CertificateService{
		repo:     repo,
		ims:      ims,
		authors:  authors,
		bases:    bases,
		users:    users,
		renderer: renderer,
		storage:  storage,
		audit:    audit,
		logger:   logger,
	}
}

// Generate produces one certificate per author. Authors are processed
// independently: a failed render or save is reported per author and does not
// roll back the successful ones. Prior certificates are revoked up front so
// regeneration is a replacement, never an accumulation.
func (s *CertificateService) Generate(ctx context.Context, imID string, viewer models.Viewer) (*dto.GenerateCertificatesResponse, error) {
	if !viewer.HasRole(models.RoleUTLDOAdmin) && !viewer.HasRole(models.RoleTechnicalAdmin) {
		return nil, appErrors.ErrForbidden
	}
	im, err := s.ims.FindByID(ctx, imID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load material")
	}
	if im.Status != models.StatusForCertification && im.Status != models.StatusCertified {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("certificates cannot be generated while %q", im.Status))
	}
	authorIDs, err := s.authors.ListByIM(ctx, imID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list authors")
	}
	if len(authorIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "material has no authors")
	}
	title := s.materialTitle(ctx, im)

	batch := &models.CertificateBatch{
		IMID:        imID,
		RequestedBy: viewer.UserID,
		Status:      models.CertBatchPending,
	}
	if err := s.repo.CreateBatch(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record batch")
	}
	if err := s.repo.RevokeByIM(ctx, imID, time.Now().UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke prior certificates")
	}

	resp := &dto.GenerateCertificatesResponse{BatchID: batch.ID}
	for _, userID := range authorIDs {
		cert, err := s.generateOne(ctx, im.ID, title, userID)
		if err != nil {
			s.logger.Warn("certificate generation failed",
				zap.String("im_id", imID), zap.String("user_id", userID), zap.Error(err))
			resp.Failures = append(resp.Failures, dto.CertificateFailure{UserID: userID, Error: err.Error()})
			continue
		}
		resp.Certificates = append(resp.Certificates, *cert)
	}

	status := models.CertBatchCompleted
	if len(resp.Certificates) == 0 {
		status = models.CertBatchFailed
	}
	if err := s.repo.CompleteBatch(ctx, batch.ID, status, len(resp.Certificates), len(resp.Failures), time.Now().UTC()); err != nil {
		s.logger.Warn("failed to close certificate batch", zap.String("batch_id", batch.ID), zap.Error(err))
	}
	s.emitCertAudit(ctx, viewer.UserID, imID, len(resp.Certificates), len(resp.Failures))
	return resp, nil
}

// List returns the active certificates for a material.
func (s *CertificateService) List(ctx context.Context, imID string) ([]models.Certificate, error) {
	certs, err := s.repo.ListByIM(ctx, imID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
	}
	return certs, nil
}

// Verify resolves a certificate from its public verification id. Revoked
// certificates resolve as not found: the whole point of rotating QR ids on
// regeneration is that stale printouts stop verifying.
func (s *CertificateService) Verify(ctx context.Context, qrID string) (*models.Certificate, error) {
	cert, err := s.repo.FindByQRID(ctx, qrID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}
	if cert.RevokedAt != nil {
		return nil, appErrors.ErrNotFound
	}
	return cert, nil
}

// LatestBatch exposes the most recent generation outcome for review.
func (s *CertificateService) LatestBatch(ctx context.Context, imID string) (*models.CertificateBatch, error) {
	batch, err := s.repo.LatestBatch(ctx, imID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	return batch, nil
}

func (s *CertificateService) generateOne(ctx context.Context, imID, title, userID string) (*models.Certificate, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load author: %w", err)
	}
	qrID := uuid.NewString()
	pdfBytes, err := s.renderer.Render(export.CertificateData{
		AuthorName: user.FullName,
		Title:      title,
		QRID:       qrID,
		DateIssued: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	path, err := s.storage.Save(fmt.Sprintf("cert_%s_%s.pdf", imID, qrID), pdfBytes)
	if err != nil {
		return nil, fmt.Errorf("store certificate: %w", err)
	}
	cert := &models.Certificate{
		QRID:    qrID,
		IMID:    imID,
		UserID:  userID,
		PDFLink: &path,
	}
	if err := s.repo.Create(ctx, cert); err != nil {
		return nil, fmt.Errorf("persist certificate: %w", err)
	}
	return cert, nil
}

func (s *CertificateService) materialTitle(ctx context.Context, im *models.InstructionalMaterial) string {
	if base, err := s.bases.FindByID(ctx, im.BaseRecordID()); err == nil {
		return base.Title
	}
	return "Instructional Material"
}

func (s *CertificateService) emitCertAudit(ctx context.Context, actorID, imID string, succeeded, failed int) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionCertGenerate,
		Resource:   "certificate",
		ResourceID: &imID,
		NewValues:  []byte(fmt.Sprintf(`{"succeeded":%d,"failed":%d}`, succeeded, failed)),
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create certificate audit", zap.Error(err))
	}
}
