package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/utldo-dev/im-review-api/internal/dto"
	"github.com/utldo-dev/im-review-api/internal/models"
	"github.com/utldo-dev/im-review-api/internal/workflow"
	appErrors "github.com/utldo-dev/im-review-api/pkg/errors"
)

type imStore interface {
	FindByID(ctx context.Context, id string) (*models.InstructionalMaterial, error)
	List(ctx context.Context, filter models.IMFilter) ([]models.InstructionalMaterial, error)
	Create(ctx context.Context, im *models.InstructionalMaterial) error
	UpdateStatus(ctx context.Context, id string, from, to models.IMStatus, updatedBy string) error
	AttachFile(ctx context.Context, id, s3Link string, from, to models.IMStatus, updatedBy string) error
	Delete(ctx context.Context, id string) error
	CreateEvaluation(ctx context.Context, eval *models.Evaluation) error
}

type imAuthorStore interface {
	ListByIM(ctx context.Context, imID string) ([]string, error)
	ListByIMs(ctx context.Context, imIDs []string) (map[string][]string, error)
	Add(ctx context.Context, imID, userID string) (bool, error)
}

type imBaseRecordStore interface {
	FindByID(ctx context.Context, id string) (*models.BaseRecord, error)
}

type documentAnalyzer interface {
	AnalyzeDocument(ctx context.Context, filename string, content io.Reader) (workflow.AnalysisResult, error)
}

type documentStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (io.ReadCloser, error)
}

type downloadSigner interface {
	Generate(resourceID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (resourceID, relPath string, expiresAt time.Time, err error)
}

type certificateReader interface {
	ListByIM(ctx context.Context, imID string) ([]models.Certificate, error)
}

type directoryInvalidator interface {
	Invalidate(ctx context.Context, collegeID string)
}

// DocumentUpload carries one uploaded document and its stream.
type DocumentUpload struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

// IMService drives the review pipeline: creation, uploads, evaluation,
// approval and certification. Every transition goes through the workflow
// tables; there are no status writes outside this service.
type IMService struct {
	repo      imStore
	authors   imAuthorStore
	bases     imBaseRecordStore
	analyzer  documentAnalyzer
	storage   documentStorage
	certs     certificateReader
	signer    downloadSigner
	directory directoryInvalidator
	notifier  authorNotifier
	audit     auditLogger
	logger    *zap.Logger
	table     workflow.Table
}

// NewIMService constructs the service. analyzer and storage are required for
// uploads; certs, signer, directory, notifier and audit may be nil.
func NewIMService(repo imStore, authors imAuthorStore, bases imBaseRecordStore, analyzer documentAnalyzer, storage documentStorage, certs certificateReader, signer downloadSigner, directory directoryInvalidator, notifier authorNotifier, audit auditLogger, logger *zap.Logger, table workflow.Table) *IMService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IMService{
		repo:      repo,
		authors:   authors,
		bases:     bases,
		analyzer:  analyzer,
		storage:   storage,
		certs:     certs,
		signer:    signer,
		directory: directory,
		notifier:  notifier,
		audit:     audit,
		logger:    logger,
		table:     table,
	}
}

// Create registers a material wrapper in the assignment flow: no document
// yet, status starts at the faculty station. Author entries are created in
// the same call so the material is never ownerless.
func (s *IMService) Create(ctx context.Context, req dto.CreateIMRequest, viewer models.Viewer) (*models.InstructionalMaterial, error) {
	if !viewer.HasRole(models.RoleUTLDOAdmin) && !viewer.HasRole(models.RoleTechnicalAdmin) {
		return nil, appErrors.ErrForbidden
	}
	if (req.UniversityIMID == nil) == (req.ServiceIMID == nil) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exactly one of university_im_id and service_im_id is required")
	}
	baseID := ""
	if req.UniversityIMID != nil {
		baseID = *req.UniversityIMID
	} else {
		baseID = *req.ServiceIMID
	}
	base, err := s.bases.FindByID(ctx, baseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "base record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load base record")
	}
	if base.IMType != req.IMType {
		return nil, appErrors.Clone(appErrors.ErrValidation, "im_type does not match base record")
	}

	im := &models.InstructionalMaterial{
		IMType:         req.IMType,
		UniversityIMID: req.UniversityIMID,
		ServiceIMID:    req.ServiceIMID,
		Status:         s.table.InitialStatus(false, workflow.AnalysisResult{}),
		Validity:       req.Validity,
		Notes:          req.Notes,
		UpdatedBy:      viewer.UserID,
	}
	if err := s.repo.Create(ctx, im); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create material")
	}
	for _, userID := range req.AuthorIDs {
		inserted, err := s.authors.Add(ctx, im.ID, userID)
		if err != nil {
			s.logger.Warn("failed to add initial author",
				zap.String("im_id", im.ID), zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if inserted && s.notifier != nil {
			s.notifier.NotifyAuthorAdded(ctx, im.ID, userID)
		}
	}
	s.invalidateDirectory(ctx, base.CollegeID)
	s.emitIMAudit(ctx, viewer.UserID, models.AuditActionIMCreate, im.ID, fmt.Sprintf(`{"status":"%s"}`, im.Status))
	return im, nil
}

// Get returns the material detail with its base record, author set, resolved
// capabilities for the viewer and active certificates.
func (s *IMService) Get(ctx context.Context, id string, viewer models.Viewer) (*dto.IMResponse, error) {
	im, row, err := s.loadRow(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := &dto.IMResponse{
		InstructionalMaterial: *im,
		AuthorIDs:             sortedKeys(row.AuthorIDs),
		Capabilities:          workflow.Resolve(viewer, *row).List(),
	}
	if base, err := s.bases.FindByID(ctx, im.BaseRecordID()); err == nil {
		resp.BaseRecord = base
	}
	if s.certs != nil {
		if certs, err := s.certs.ListByIM(ctx, id); err == nil {
			resp.Certificates = certs
		}
	}
	return resp, nil
}

// List returns materials matching the filter, each with the viewer's
// resolved capabilities. Author sets are loaded in one batch.
func (s *IMService) List(ctx context.Context, filter models.IMFilter, viewer models.Viewer) ([]dto.IMListItem, error) {
	materials, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list materials")
	}
	ids := make([]string, len(materials))
	for i, im := range materials {
		ids[i] = im.ID
	}
	authorsByIM, err := s.authors.ListByIMs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list authors")
	}

	items := make([]dto.IMListItem, 0, len(materials))
	for _, im := range materials {
		authorIDs := authorsByIM[im.ID]
		row := s.buildRow(ctx, &im, authorIDs)
		sort.Strings(authorIDs)
		items = append(items, dto.IMListItem{
			InstructionalMaterial: im,
			AuthorIDs:             authorIDs,
			Capabilities:          workflow.Resolve(viewer, row).List(),
		})
	}
	return items, nil
}

// Upload attaches a document. The analyzer verdict decides the resulting
// status; an analyzer failure blocks the upload outright. First uploads and
// resubmissions share this path, the capability check distinguishes them.
func (s *IMService) Upload(ctx context.Context, id string, upload DocumentUpload, viewer models.Viewer) (*dto.UploadIMResponse, error) {
	im, row, err := s.loadRow(ctx, id)
	if err != nil {
		return nil, err
	}
	caps := workflow.Resolve(viewer, *row)
	if row.HasFile {
		if !caps.Has(workflow.CapUploadRevision) {
			return nil, appErrors.ErrForbidden
		}
	} else if !caps.Has(workflow.CapUpload) {
		return nil, appErrors.ErrForbidden
	}
	if !workflow.Allows(im.Status, models.ActionUpload) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("upload not allowed while %q", im.Status))
	}
	if upload.Content == nil || upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}

	analysis, err := s.analyzer.AnalyzeDocument(ctx, upload.Filename, upload.Content)
	if err != nil {
		return nil, err
	}
	next, err := s.table.NextOnUpload(im.Status, analysis)
	if err != nil {
		return nil, err
	}

	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	path, err := s.storage.SaveStream(s.documentFilename(im, upload.Filename), upload.Content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist document")
	}
	if err := s.repo.AttachFile(ctx, id, path, im.Status, next, viewer.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "material changed concurrently, reload and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach document")
	}

	im.S3Link = &path
	im.Status = next
	im.Version++
	im.UpdatedBy = viewer.UserID
	im.UpdatedAt = time.Now().UTC()
	s.invalidateDirectory(ctx, row.CollegeID)
	s.emitIMAudit(ctx, viewer.UserID, models.AuditActionIMUpload, id,
		fmt.Sprintf(`{"status":"%s","version":%d}`, next, im.Version))
	return &dto.UploadIMResponse{IM: *im, MissingSections: analysis.MissingSections}, nil
}

// DownloadLink issues a short-lived signed token for the stored document.
// The token itself authenticates the later fetch, so links can be handed to
// viewers without an API session.
func (s *IMService) DownloadLink(ctx context.Context, id string, viewer models.Viewer) (*dto.DownloadLinkResponse, error) {
	im, row, err := s.loadRow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !workflow.Resolve(viewer, *row).Has(workflow.CapDownload) {
		return nil, appErrors.ErrForbidden
	}
	if im.S3Link == nil || *im.S3Link == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no document uploaded")
	}
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download links not configured")
	}
	token, expiresAt, err := s.signer.Generate(im.ID, *im.S3Link)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &dto.DownloadLinkResponse{Token: token, ExpiresAt: expiresAt}, nil
}

// OpenDocument validates a signed token and opens the referenced document.
// The caller owns the returned reader.
func (s *IMService) OpenDocument(ctx context.Context, token string) (io.ReadCloser, string, error) {
	if s.signer == nil {
		return nil, "", appErrors.Clone(appErrors.ErrInternal, "download links not configured")
	}
	imID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	im, err := s.repo.FindByID(ctx, imID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.ErrNotFound
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load material")
	}
	if im.S3Link == nil || *im.S3Link != relPath {
		// Token refers to a superseded upload.
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	rc, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open document")
	}
	return rc, filepath.Base(relPath), nil
}

// Evaluate records a PIMEC rubric result and moves the material according to
// the inclusive passing threshold.
func (s *IMService) Evaluate(ctx context.Context, id string, req dto.EvaluateIMRequest, viewer models.Viewer) (*models.InstructionalMaterial, error) {
	im, row, err := s.loadRow(ctx, id)
	if err != nil {
		return nil, err
	}
	if !workflow.Resolve(viewer, *row).Has(workflow.CapEvaluate) {
		return nil, appErrors.ErrForbidden
	}
	next, err := s.table.NextOnEvaluate(im.Status, req.TotalScore)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateEvaluation(ctx, &models.Evaluation{
		IMID:        id,
		EvaluatorID: viewer.UserID,
		TotalScore:  req.TotalScore,
		Remarks:     req.Remarks,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record evaluation")
	}
	if err := s.transition(ctx, id, im.Status, next, viewer.UserID); err != nil {
		return nil, err
	}
	im.Status = next
	im.UpdatedBy = viewer.UserID
	s.invalidateDirectory(ctx, row.CollegeID)
	s.emitIMAudit(ctx, viewer.UserID, models.AuditActionIMEvaluate, id,
		fmt.Sprintf(`{"total_score":%.1f,"status":"%s"}`, req.TotalScore, next))
	return im, nil
}

// Review applies the UTLDO approve/reject decision.
func (s *IMService) Review(ctx context.Context, id string, req dto.ReviewIMRequest, viewer models.Viewer) (*models.InstructionalMaterial, error) {
	if !viewer.HasRole(models.RoleUTLDOAdmin) && !viewer.HasRole(models.RoleTechnicalAdmin) {
		return nil, appErrors.ErrForbidden
	}
	im, row, err := s.loadRow(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := s.table.NextOnApprove(im.Status, req.Approve)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, id, im.Status, next, viewer.UserID); err != nil {
		return nil, err
	}
	im.Status = next
	im.UpdatedBy = viewer.UserID
	s.invalidateDirectory(ctx, row.CollegeID)
	s.emitIMAudit(ctx, viewer.UserID, models.AuditActionIMApprove, id,
		fmt.Sprintf(`{"approved":%t,"status":"%s"}`, req.Approve, next))
	return im, nil
}

// Certify moves the material into its terminal status. A missing certificate
// artifact for any author produces a warning in the response, never a block;
// certification is an administrative act and artifacts can be regenerated.
func (s *IMService) Certify(ctx context.Context, id string, viewer models.Viewer) (*dto.CertifyIMResponse, error) {
	if !viewer.HasRole(models.RoleUTLDOAdmin) && !viewer.HasRole(models.RoleTechnicalAdmin) {
		return nil, appErrors.ErrForbidden
	}
	im, row, err := s.loadRow(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := s.table.NextOnCertify(im.Status)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, id, im.Status, next, viewer.UserID); err != nil {
		return nil, err
	}
	im.Status = next
	im.UpdatedBy = viewer.UserID
	s.invalidateDirectory(ctx, row.CollegeID)

	resp := &dto.CertifyIMResponse{IM: *im}
	if missing := s.authorsWithoutCertificate(ctx, id, row.AuthorIDs); len(missing) > 0 {
		resp.Warning = fmt.Sprintf("no certificate artifact for: %s", strings.Join(missing, ", "))
		s.logger.Warn("certified with missing certificate artifacts",
			zap.String("im_id", id), zap.Strings("user_ids", missing))
	}
	s.emitIMAudit(ctx, viewer.UserID, models.AuditActionIMCertify, id,
		fmt.Sprintf(`{"status":"%s"}`, next))
	return resp, nil
}

// Delete removes a material and its author entries. Technical admin only,
// enforced through the capability set.
func (s *IMService) Delete(ctx context.Context, id string, viewer models.Viewer) error {
	_, row, err := s.loadRow(ctx, id)
	if err != nil {
		return err
	}
	if !workflow.Resolve(viewer, *row).Has(workflow.CapDelete) {
		return appErrors.ErrForbidden
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete material")
	}
	s.invalidateDirectory(ctx, row.CollegeID)
	s.emitIMAudit(ctx, viewer.UserID, models.AuditActionIMDelete, id, "")
	return nil
}

// transition performs the optimistic status update; a concurrent writer who
// moved the row first surfaces as a conflict.
func (s *IMService) transition(ctx context.Context, id string, from, to models.IMStatus, updatedBy string) error {
	if err := s.repo.UpdateStatus(ctx, id, from, to, updatedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "material changed concurrently, reload and retry")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update status")
	}
	return nil
}

// invalidateDirectory drops the cached directory row set after a mutation so
// the next read re-assembles from the database.
func (s *IMService) invalidateDirectory(ctx context.Context, collegeID string) {
	if s.directory == nil || collegeID == "" {
		return
	}
	s.directory.Invalidate(ctx, collegeID)
}

func (s *IMService) loadRow(ctx context.Context, id string) (*models.InstructionalMaterial, *workflow.Row, error) {
	im, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.ErrNotFound
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load material")
	}
	authorIDs, err := s.authors.ListByIM(ctx, id)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list authors")
	}
	row := s.buildRow(ctx, im, authorIDs)
	return im, &row, nil
}

func (s *IMService) buildRow(ctx context.Context, im *models.InstructionalMaterial, authorIDs []string) workflow.Row {
	collegeID := ""
	if base, err := s.bases.FindByID(ctx, im.BaseRecordID()); err == nil {
		collegeID = base.CollegeID
	} else if !errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("failed to load base record", zap.String("im_id", im.ID), zap.Error(err))
	}
	authorSet := make(map[string]struct{}, len(authorIDs))
	for _, authorID := range authorIDs {
		authorSet[authorID] = struct{}{}
	}
	return workflow.Row{
		IMID:      im.ID,
		Status:    im.Status,
		CollegeID: collegeID,
		HasFile:   im.HasFile(),
		AuthorIDs: authorSet,
	}
}

func (s *IMService) authorsWithoutCertificate(ctx context.Context, imID string, authorIDs map[string]struct{}) []string {
	if s.certs == nil {
		return nil
	}
	certs, err := s.certs.ListByIM(ctx, imID)
	if err != nil {
		s.logger.Warn("failed to list certificates", zap.String("im_id", imID), zap.Error(err))
		return nil
	}
	covered := make(map[string]struct{}, len(certs))
	for _, cert := range certs {
		covered[cert.UserID] = struct{}{}
	}
	var missing []string
	for userID := range authorIDs {
		if _, ok := covered[userID]; !ok {
			missing = append(missing, userID)
		}
	}
	sort.Strings(missing)
	return missing
}

func (s *IMService) documentFilename(im *models.InstructionalMaterial, original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if ext == "" {
		ext = ".pdf"
	}
	return fmt.Sprintf("im_%s_v%d_%d%s", im.ID, im.Version+1, time.Now().Unix(), ext)
}

func (s *IMService) emitIMAudit(ctx context.Context, actorID, action, imID, newValues string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "instructional_material",
		ResourceID: &imID,
	}
	if newValues != "" {
		log.NewValues = []byte(newValues)
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create material audit", zap.Error(err))
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
