package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/utldo-dev/im-review-api/internal/models"
	"github.com/utldo-dev/im-review-api/pkg/readcache"
)

type metadataStore interface {
	FindDepartment(ctx context.Context, id string) (models.Department, error)
	FindSubject(ctx context.Context, id string) (models.Subject, error)
	ListColleges(ctx context.Context) ([]models.College, error)
}

// MetadataService serves department and subject lookups through read-through
// caches. Entries never expire; the organizational catalog changes only
// between terms, and a restart refreshes everything.
type MetadataService struct {
	departments *readcache.Cache[models.Department]
	subjects    *readcache.Cache[models.Subject]
	repo        metadataStore
	logger      *zap.Logger
}

// NewMetadataService constructs the service with its own cache instances.
// Callers share one service, never the caches directly.
func NewMetadataService(repo metadataStore, logger *zap.Logger) *MetadataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MetadataService{repo: repo, logger: logger}
	s.departments = readcache.New(func(ctx context.Context, id string) (models.Department, error) {
		return repo.FindDepartment(ctx, id)
	})
	s.subjects = readcache.New(func(ctx context.Context, id string) (models.Subject, error) {
		return repo.FindSubject(ctx, id)
	})
	return s
}

// WarmDepartments fetches the given department ids into the cache. Individual
// fetch failures are logged and skipped; a later call retries them.
func (s *MetadataService) WarmDepartments(ctx context.Context, ids []string) error {
	return s.departments.Ensure(ctx, ids)
}

// WarmSubjects fetches the given subject ids into the cache.
func (s *MetadataService) WarmSubjects(ctx context.Context, ids []string) error {
	return s.subjects.Ensure(ctx, ids)
}

// DepartmentLabel returns a display label for the department. Falls back to a
// placeholder when the entry is not cached so directory rows always render.
func (s *MetadataService) DepartmentLabel(id string) string {
	if dept, ok := s.departments.Get(id); ok {
		if dept.Abbreviation != "" {
			return dept.Abbreviation
		}
		return dept.Name
	}
	return fmt.Sprintf("Dept #%s", id)
}

// SubjectLabel returns a display label for the subject.
func (s *MetadataService) SubjectLabel(id string) string {
	if subject, ok := s.subjects.Get(id); ok {
		if subject.Abbreviation != "" {
			return subject.Abbreviation
		}
		return subject.Name
	}
	return fmt.Sprintf("Subject #%s", id)
}

// Department returns the cached department when present.
func (s *MetadataService) Department(id string) (models.Department, bool) {
	return s.departments.Get(id)
}

// Subject returns the cached subject when present.
func (s *MetadataService) Subject(id string) (models.Subject, bool) {
	return s.subjects.Get(id)
}

// ListColleges reads the college catalog directly; it is small and already
// served from one indexed table.
func (s *MetadataService) ListColleges(ctx context.Context) ([]models.College, error) {
	return s.repo.ListColleges(ctx)
}
