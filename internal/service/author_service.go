package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/utldo-dev/im-review-api/internal/dto"
	"github.com/utldo-dev/im-review-api/internal/models"
	"github.com/utldo-dev/im-review-api/internal/workflow"
	appErrors "github.com/utldo-dev/im-review-api/pkg/errors"
)

type authorStore interface {
	ListByIM(ctx context.Context, imID string) ([]string, error)
	Add(ctx context.Context, imID, userID string) (bool, error)
	Remove(ctx context.Context, imID, userID string) error
}

type authorMaterialReader interface {
	FindByID(ctx context.Context, id string) (*models.InstructionalMaterial, error)
}

type authorBaseRecordReader interface {
	FindByID(ctx context.Context, id string) (*models.BaseRecord, error)
}

type authorNotifier interface {
	NotifyAuthorAdded(ctx context.Context, imID, userID string)
}

// AuthorService manages the many-to-many author set of a material.
type AuthorService struct {
	authors   authorStore
	ims       authorMaterialReader
	bases     authorBaseRecordReader
	notifier  authorNotifier
	directory directoryInvalidator
	audit     auditLogger
	logger    *zap.Logger
}

// NewAuthorService constructs the service. notifier, directory and audit may
// be nil.
func NewAuthorService(authors authorStore, ims authorMaterialReader, bases authorBaseRecordReader, notifier authorNotifier, directory directoryInvalidator, audit auditLogger, logger *zap.Logger) *AuthorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthorService{
		authors:   authors,
		ims:       ims,
		bases:     bases,
		notifier:  notifier,
		directory: directory,
		audit:     audit,
		logger:    logger,
	}
}

// List returns the author ids for a material, sorted for stable output.
func (s *AuthorService) List(ctx context.Context, imID string) ([]string, error) {
	ids, err := s.authors.ListByIM(ctx, imID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list authors")
	}
	sort.Strings(ids)
	return ids, nil
}

// Add puts one user on the material's author set. Adding an existing member
// is a no-op, not an error. Requires the edit_authors capability.
func (s *AuthorService) Add(ctx context.Context, imID, userID string, viewer models.Viewer) error {
	row, err := s.capabilityRow(ctx, imID)
	if err != nil {
		return err
	}
	if !workflow.Resolve(viewer, *row).Has(workflow.CapEditAuthors) {
		return appErrors.ErrForbidden
	}
	inserted, err := s.authors.Add(ctx, imID, userID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add author")
	}
	if !inserted {
		return nil
	}
	if s.notifier != nil {
		s.notifier.NotifyAuthorAdded(ctx, imID, userID)
	}
	s.invalidateDirectory(ctx, row.CollegeID)
	s.emitAuthorAudit(ctx, viewer.UserID, models.AuditActionAuthorAdd, imID, userID)
	return nil
}

// Remove takes one user off the material's author set.
func (s *AuthorService) Remove(ctx context.Context, imID, userID string, viewer models.Viewer) error {
	row, err := s.capabilityRow(ctx, imID)
	if err != nil {
		return err
	}
	if !workflow.Resolve(viewer, *row).Has(workflow.CapEditAuthors) {
		return appErrors.ErrForbidden
	}
	if err := s.authors.Remove(ctx, imID, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove author")
	}
	s.invalidateDirectory(ctx, row.CollegeID)
	s.emitAuthorAudit(ctx, viewer.UserID, models.AuditActionAuthorRemove, imID, userID)
	return nil
}

// ApplyDiff reconciles the author set against the desired list. Each add and
// remove is attempted independently; one failure does not abort the rest, and
// the response reports every outcome.
func (s *AuthorService) ApplyDiff(ctx context.Context, imID string, desired []string, viewer models.Viewer) (*dto.AuthorDiffResponse, error) {
	row, err := s.capabilityRow(ctx, imID)
	if err != nil {
		return nil, err
	}
	if !workflow.Resolve(viewer, *row).Has(workflow.CapEditAuthors) {
		return nil, appErrors.ErrForbidden
	}

	current, err := s.authors.ListByIM(ctx, imID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list authors")
	}
	currentSet := make(map[string]struct{}, len(current))
	for _, id := range current {
		currentSet[id] = struct{}{}
	}
	desiredSet := make(map[string]struct{}, len(desired))
	for _, id := range desired {
		if id != "" {
			desiredSet[id] = struct{}{}
		}
	}

	resp := &dto.AuthorDiffResponse{}
	for id := range desiredSet {
		if _, ok := currentSet[id]; ok {
			continue
		}
		change := dto.AuthorChange{UserID: id, Op: "add", OK: true}
		inserted, err := s.authors.Add(ctx, imID, id)
		if err != nil {
			change.OK = false
			change.Error = err.Error()
			resp.Failed++
		} else if inserted {
			if s.notifier != nil {
				s.notifier.NotifyAuthorAdded(ctx, imID, id)
			}
			s.emitAuthorAudit(ctx, viewer.UserID, models.AuditActionAuthorAdd, imID, id)
		}
		resp.Applied = append(resp.Applied, change)
	}
	for id := range currentSet {
		if _, ok := desiredSet[id]; ok {
			continue
		}
		change := dto.AuthorChange{UserID: id, Op: "remove", OK: true}
		if err := s.authors.Remove(ctx, imID, id); err != nil {
			change.OK = false
			change.Error = err.Error()
			resp.Failed++
		} else {
			s.emitAuthorAudit(ctx, viewer.UserID, models.AuditActionAuthorRemove, imID, id)
		}
		resp.Applied = append(resp.Applied, change)
	}
	sort.Slice(resp.Applied, func(i, j int) bool {
		if resp.Applied[i].Op != resp.Applied[j].Op {
			return resp.Applied[i].Op < resp.Applied[j].Op
		}
		return resp.Applied[i].UserID < resp.Applied[j].UserID
	})
	if len(resp.Applied) > resp.Failed {
		s.invalidateDirectory(ctx, row.CollegeID)
	}
	return resp, nil
}

func (s *AuthorService) invalidateDirectory(ctx context.Context, collegeID string) {
	if s.directory == nil || collegeID == "" {
		return
	}
	s.directory.Invalidate(ctx, collegeID)
}

func (s *AuthorService) capabilityRow(ctx context.Context, imID string) (*workflow.Row, error) {
	im, err := s.ims.FindByID(ctx, imID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load material")
	}
	authorIDs, err := s.authors.ListByIM(ctx, imID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list authors")
	}
	collegeID := ""
	if base, err := s.bases.FindByID(ctx, im.BaseRecordID()); err == nil {
		collegeID = base.CollegeID
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load base record")
	}
	authorSet := make(map[string]struct{}, len(authorIDs))
	for _, id := range authorIDs {
		authorSet[id] = struct{}{}
	}
	return &workflow.Row{
		IMID:      im.ID,
		Status:    im.Status,
		CollegeID: collegeID,
		HasFile:   im.HasFile(),
		AuthorIDs: authorSet,
	}, nil
}

func (s *AuthorService) emitAuthorAudit(ctx context.Context, actorID, action, imID, userID string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "im_author",
		ResourceID: &imID,
		NewValues:  []byte(fmt.Sprintf(`{"user_id":"%s"}`, userID)),
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create author audit", zap.Error(err))
	}
}
