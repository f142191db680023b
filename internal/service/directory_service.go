package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/utldo-dev/im-review-api/internal/dto"
	"github.com/utldo-dev/im-review-api/internal/models"
	"github.com/utldo-dev/im-review-api/internal/workflow"
	appErrors "github.com/utldo-dev/im-review-api/pkg/errors"
	"github.com/utldo-dev/im-review-api/pkg/export"
)

type directoryBaseRecordLister interface {
	ListByCollege(ctx context.Context, collegeID string) ([]models.BaseRecord, error)
}

type directoryMaterialLister interface {
	ListByCollege(ctx context.Context, collegeID string) ([]models.InstructionalMaterial, error)
}

type directoryAuthorLister interface {
	ListByIMs(ctx context.Context, imIDs []string) (map[string][]string, error)
}

type directoryLabeler interface {
	WarmDepartments(ctx context.Context, ids []string) error
	WarmSubjects(ctx context.Context, ids []string) error
	DepartmentLabel(id string) string
	SubjectLabel(id string) string
}

type directoryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// DirectoryService assembles the college directory: every base record joined
// with its wrapper's workflow state, labeled and capability-resolved per
// viewer. The row set (without capabilities) is cached in Redis per college.
type DirectoryService struct {
	bases    directoryBaseRecordLister
	ims      directoryMaterialLister
	authors  directoryAuthorLister
	metadata directoryLabeler
	cache    directoryCache
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
	cacheTTL time.Duration

	// refreshSeq orders cache writes: an assembly that started earlier
	// must not overwrite the cache after a later one already has.
	refreshSeq atomic.Uint64
	lastStored atomic.Uint64
}

// NewDirectoryService constructs the service. cache may be nil, in which
// case every request assembles from the database.
func NewDirectoryService(bases directoryBaseRecordLister, ims directoryMaterialLister, authors directoryAuthorLister, metadata directoryLabeler, cache directoryCache, logger *zap.Logger, cacheTTL time.Duration) *DirectoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &DirectoryService{
		bases:    bases,
		ims:      ims,
		authors:  authors,
		metadata: metadata,
		cache:    cache,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
		cacheTTL: cacheTTL,
	}
}

type directoryRowSet struct {
	Rows      []dto.DirectoryRow  `json:"rows"`
	AuthorIDs map[string][]string `json:"author_ids"`
}

// Directory returns the assembled view for a college with the viewer's
// capabilities resolved onto each row. Capability resolution happens after
// the cache: the cached row set is viewer-independent.
func (s *DirectoryService) Directory(ctx context.Context, filter dto.DirectoryFilter, viewer models.Viewer) (*dto.DirectoryResponse, error) {
	if filter.CollegeID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "college_id is required")
	}
	set, fromCache, err := s.rowSet(ctx, filter.CollegeID)
	if err != nil {
		return nil, err
	}

	rows := make([]dto.DirectoryRow, 0, len(set.Rows))
	for _, row := range set.Rows {
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		if filter.IMType != "" && row.IMType != filter.IMType {
			continue
		}
		if filter.DepartmentID != "" && (row.DepartmentID == nil || *row.DepartmentID != filter.DepartmentID) {
			continue
		}
		if row.IMID != "" {
			authorIDs := set.AuthorIDs[row.IMID]
			authorSet := make(map[string]struct{}, len(authorIDs))
			for _, id := range authorIDs {
				authorSet[id] = struct{}{}
			}
			caps := workflow.Resolve(viewer, workflow.Row{
				IMID:      row.IMID,
				Status:    row.Status,
				CollegeID: row.CollegeID,
				HasFile:   row.HasFile,
				AuthorIDs: authorSet,
			})
			row.AuthorIDs = authorIDs
			row.Capabilities = caps.List()
		}
		rows = append(rows, row)
	}
	return &dto.DirectoryResponse{
		CollegeID: filter.CollegeID,
		Rows:      rows,
		Total:     len(rows),
		FromCache: fromCache,
	}, nil
}

// Export renders the directory as a downloadable table. Capabilities are a
// UI concern and are left out of exports.
func (s *DirectoryService) Export(ctx context.Context, filter dto.DirectoryFilter, viewer models.Viewer, format string) ([]byte, string, error) {
	resp, err := s.Directory(ctx, filter, viewer)
	if err != nil {
		return nil, "", err
	}
	dataset := export.Dataset{
		Headers: []string{"Title", "Type", "Department", "Subject", "Status", "Version", "Authors"},
	}
	for _, row := range resp.Rows {
		dataset.Rows = append(dataset.Rows, []string{
			row.Title,
			string(row.IMType),
			row.DepartmentLabel,
			row.SubjectLabel,
			string(row.Status),
			fmt.Sprintf("%d", row.Version),
			strings.Join(row.AuthorIDs, " "),
		})
	}
	switch strings.ToLower(format) {
	case "", "csv":
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return data, "text/csv", nil
	case "pdf":
		data, err := s.pdf.Render(dataset, fmt.Sprintf("Instructional Materials Directory %s", filter.CollegeID))
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return data, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

// Workload counts materials sitting in statuses a reviewer can act on.
func (s *DirectoryService) Workload(ctx context.Context, collegeID string) (*dto.WorkloadSummary, error) {
	set, _, err := s.rowSet(ctx, collegeID)
	if err != nil {
		return nil, err
	}
	summary := &dto.WorkloadSummary{
		PerDepartment:    map[string]int{},
		DepartmentLabels: map[string]string{},
	}
	for _, row := range set.Rows {
		actionable := true
		switch row.Status {
		case models.StatusForPIMECEvaluation:
			summary.ForPIMECEvaluation++
		case models.StatusForUTLDOEvaluation:
			summary.ForUTLDOEvaluation++
		case models.StatusForResubmission:
			summary.ForResubmission++
		case models.StatusForCertification:
			summary.ForCertification++
		default:
			actionable = false
		}
		if !actionable {
			continue
		}
		dept := "unassigned"
		if row.DepartmentID != nil {
			dept = *row.DepartmentID
			if row.DepartmentLabel != "" {
				summary.DepartmentLabels[dept] = row.DepartmentLabel
			}
		}
		summary.PerDepartment[dept]++
	}
	return summary, nil
}

// Invalidate drops the cached row set for a college, or all colleges when
// collegeID is empty. Call after any material mutation.
func (s *DirectoryService) Invalidate(ctx context.Context, collegeID string) {
	if s.cache == nil {
		return
	}
	pattern := "directory:*"
	if collegeID != "" {
		pattern = directoryCacheKey(collegeID)
	}
	if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("failed to invalidate directory cache", zap.String("college_id", collegeID), zap.Error(err))
	}
}

func (s *DirectoryService) rowSet(ctx context.Context, collegeID string) (*directoryRowSet, bool, error) {
	key := directoryCacheKey(collegeID)
	if s.cache != nil {
		var cached directoryRowSet
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return &cached, true, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("directory cache read failed", zap.String("college_id", collegeID), zap.Error(err))
		}
	}

	seq := s.refreshSeq.Add(1)
	set, err := s.assemble(ctx, collegeID)
	if err != nil {
		return nil, false, err
	}
	s.store(ctx, key, seq, set)
	return set, false, nil
}

// store writes the assembled set unless a later assembly already stored its
// result; last assembly wins, not last writer.
func (s *DirectoryService) store(ctx context.Context, key string, seq uint64, set *directoryRowSet) {
	if s.cache == nil {
		return
	}
	for {
		last := s.lastStored.Load()
		if seq <= last {
			return
		}
		if s.lastStored.CompareAndSwap(last, seq) {
			break
		}
	}
	if err := s.cache.Set(ctx, key, set, s.cacheTTL); err != nil {
		s.logger.Warn("directory cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *DirectoryService) assemble(ctx context.Context, collegeID string) (*directoryRowSet, error) {
	records, err := s.bases.ListByCollege(ctx, collegeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list base records")
	}
	materials, err := s.ims.ListByCollege(ctx, collegeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list materials")
	}

	byBase := make(map[string]*models.InstructionalMaterial, len(materials))
	imIDs := make([]string, 0, len(materials))
	for i := range materials {
		im := &materials[i]
		byBase[im.BaseRecordID()] = im
		imIDs = append(imIDs, im.ID)
	}
	authorsByIM, err := s.authors.ListByIMs(ctx, imIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list authors")
	}

	s.warmLabels(ctx, records)

	rows := make([]dto.DirectoryRow, 0, len(records))
	for _, record := range records {
		row := dto.DirectoryRow{
			BaseRecordID: record.ID,
			IMType:       record.IMType,
			Title:        record.Title,
			CollegeID:    record.CollegeID,
			DepartmentID: record.DepartmentID,
			SubjectID:    record.SubjectID,
			SubjectLabel: s.metadata.SubjectLabel(record.SubjectID),
			YearLevel:    record.YearLevel,
		}
		if record.DepartmentID != nil {
			row.DepartmentLabel = s.metadata.DepartmentLabel(*record.DepartmentID)
		}
		// Wrapper state overrides base identity where both carry a value.
		if im, ok := byBase[record.ID]; ok {
			row.IMID = im.ID
			row.Status = im.Status
			row.Version = im.Version
			row.HasFile = im.HasFile()
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Title < rows[j].Title })
	return &directoryRowSet{Rows: rows, AuthorIDs: authorsByIM}, nil
}

func (s *DirectoryService) warmLabels(ctx context.Context, records []models.BaseRecord) {
	var deptIDs, subjectIDs []string
	for _, record := range records {
		if record.DepartmentID != nil {
			deptIDs = append(deptIDs, *record.DepartmentID)
		}
		subjectIDs = append(subjectIDs, record.SubjectID)
	}
	if err := s.metadata.WarmDepartments(ctx, deptIDs); err != nil {
		s.logger.Warn("department warm cancelled", zap.Error(err))
	}
	if err := s.metadata.WarmSubjects(ctx, subjectIDs); err != nil {
		s.logger.Warn("subject warm cancelled", zap.Error(err))
	}
}

func directoryCacheKey(collegeID string) string {
	return fmt.Sprintf("directory:%s", collegeID)
}
