package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/utldo-dev/im-review-api/internal/dto"
	"github.com/utldo-dev/im-review-api/internal/models"
	"github.com/utldo-dev/im-review-api/internal/workflow"
	appErrors "github.com/utldo-dev/im-review-api/pkg/errors"
	"github.com/utldo-dev/im-review-api/pkg/storage"
)

type mockIMStore struct {
	materials map[string]*models.InstructionalMaterial
	evals     []models.Evaluation
	nextID    int
}

func (m *mockIMStore) FindByID(ctx context.Context, id string) (*models.InstructionalMaterial, error) {
	im, ok := m.materials[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *im
	return &cp, nil
}

func (m *mockIMStore) List(ctx context.Context, filter models.IMFilter) ([]models.InstructionalMaterial, error) {
	var out []models.InstructionalMaterial
	for _, im := range m.materials {
		if filter.Status != "" && im.Status != filter.Status {
			continue
		}
		out = append(out, *im)
	}
	return out, nil
}

func (m *mockIMStore) Create(ctx context.Context, im *models.InstructionalMaterial) error {
	if m.materials == nil {
		m.materials = make(map[string]*models.InstructionalMaterial)
	}
	m.nextID++
	im.ID = fmt.Sprintf("im-%d", m.nextID)
	cp := *im
	m.materials[im.ID] = &cp
	return nil
}

func (m *mockIMStore) UpdateStatus(ctx context.Context, id string, from, to models.IMStatus, updatedBy string) error {
	im, ok := m.materials[id]
	if !ok || im.Status != from {
		return sql.ErrNoRows
	}
	im.Status = to
	im.UpdatedBy = updatedBy
	return nil
}

func (m *mockIMStore) AttachFile(ctx context.Context, id, s3Link string, from, to models.IMStatus, updatedBy string) error {
	im, ok := m.materials[id]
	if !ok || im.Status != from {
		return sql.ErrNoRows
	}
	im.S3Link = &s3Link
	im.Status = to
	im.Version++
	im.UpdatedBy = updatedBy
	return nil
}

func (m *mockIMStore) Delete(ctx context.Context, id string) error {
	delete(m.materials, id)
	return nil
}

func (m *mockIMStore) CreateEvaluation(ctx context.Context, eval *models.Evaluation) error {
	m.evals = append(m.evals, *eval)
	return nil
}

type mockAuthorMemberships struct {
	byIM   map[string][]string
	addErr error
}

func (m *mockAuthorMemberships) ListByIM(ctx context.Context, imID string) ([]string, error) {
	return append([]string(nil), m.byIM[imID]...), nil
}

func (m *mockAuthorMemberships) ListByIMs(ctx context.Context, imIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, id := range imIDs {
		if ids, ok := m.byIM[id]; ok {
			out[id] = append([]string(nil), ids...)
		}
	}
	return out, nil
}

func (m *mockAuthorMemberships) Add(ctx context.Context, imID, userID string) (bool, error) {
	if m.addErr != nil {
		return false, m.addErr
	}
	for _, id := range m.byIM[imID] {
		if id == userID {
			return false, nil
		}
	}
	if m.byIM == nil {
		m.byIM = make(map[string][]string)
	}
	m.byIM[imID] = append(m.byIM[imID], userID)
	return true, nil
}

func (m *mockAuthorMemberships) Remove(ctx context.Context, imID, userID string) error {
	ids := m.byIM[imID]
	for i, id := range ids {
		if id == userID {
			m.byIM[imID] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	return nil
}

type mockBaseStore struct {
	records map[string]*models.BaseRecord
}

func (m *mockBaseStore) FindByID(ctx context.Context, id string) (*models.BaseRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *rec
	return &cp, nil
}

type mockAnalyzer struct {
	result workflow.AnalysisResult
	err    error
	calls  int
	// hook runs mid-upload, between the service's read and its write.
	hook func()
}

func (m *mockAnalyzer) AnalyzeDocument(ctx context.Context, filename string, content io.Reader) (workflow.AnalysisResult, error) {
	m.calls++
	if m.hook != nil {
		m.hook()
	}
	if m.err != nil {
		return workflow.AnalysisResult{}, m.err
	}
	return m.result, nil
}

type mockDocStorage struct {
	saved []string
	files map[string][]byte
	err   error
}

func (m *mockDocStorage) SaveStream(filename string, r io.Reader) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files["uploads/"+filename] = content
	m.saved = append(m.saved, filename)
	return "uploads/" + filename, nil
}

func (m *mockDocStorage) Open(filename string) (io.ReadCloser, error) {
	content, ok := m.files[filename]
	if !ok {
		return nil, errors.New("file not found")
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

type mockDirectoryPurge struct {
	colleges []string
}

func (m *mockDirectoryPurge) Invalidate(ctx context.Context, collegeID string) {
	m.colleges = append(m.colleges, collegeID)
}

type mockNotifier struct {
	added []string
}

func (m *mockNotifier) NotifyAuthorAdded(ctx context.Context, imID, userID string) {
	m.added = append(m.added, imID+":"+userID)
}

type mockCertReader struct {
	certs []models.Certificate
}

func (m *mockCertReader) ListByIM(ctx context.Context, imID string) ([]models.Certificate, error) {
	var out []models.Certificate
	for _, c := range m.certs {
		if c.IMID == imID && c.RevokedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

type imFixture struct {
	svc       *IMService
	store     *mockIMStore
	authors   *mockAuthorMemberships
	bases     *mockBaseStore
	analyzer  *mockAnalyzer
	storage   *mockDocStorage
	certs     *mockCertReader
	directory *mockDirectoryPurge
	notifier  *mockNotifier
}

func newIMFixture() *imFixture {
	f := &imFixture{
		store:     &mockIMStore{materials: map[string]*models.InstructionalMaterial{}},
		authors:   &mockAuthorMemberships{byIM: map[string][]string{}},
		bases:     &mockBaseStore{records: map[string]*models.BaseRecord{}},
		analyzer:  &mockAnalyzer{},
		storage:   &mockDocStorage{},
		certs:     &mockCertReader{},
		directory: &mockDirectoryPurge{},
		notifier:  &mockNotifier{},
	}
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	f.svc = NewIMService(f.store, f.authors, f.bases, f.analyzer, f.storage, f.certs, signer, f.directory, f.notifier, nil, zap.NewNop(), workflow.NewTable())
	return f
}

func (f *imFixture) seedBase(id string, imType models.IMType, collegeID string) {
	f.bases.records[id] = &models.BaseRecord{
		ID:        id,
		IMType:    imType,
		CollegeID: collegeID,
		SubjectID: "subj-1",
		Title:     "Calculus I Module",
	}
}

func refPtr(s string) *string { return &s }

func errCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return appErrors.FromError(err).Code
}

func TestIMServicePipeline(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")

	admin := models.NewViewer("admin-1", []models.UserRole{models.RoleUTLDOAdmin}, nil)
	faculty := models.NewViewer("fac-1", []models.UserRole{models.RoleFaculty}, []string{"col-1"})
	pimec := models.NewViewer("pim-1", []models.UserRole{models.RolePIMEC}, []string{"col-1"})

	baseID := "base-1"
	im, err := f.svc.Create(ctx, dto.CreateIMRequest{
		IMType:         models.IMTypeUniversity,
		UniversityIMID: &baseID,
		AuthorIDs:      []string{"fac-1", "fac-2"},
	}, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssignedToFaculty, im.Status)
	assert.ElementsMatch(t, []string{"fac-1", "fac-2"}, f.authors.byIM[im.ID])

	// Faculty author uploads a structurally complete document.
	uploadResp, err := f.svc.Upload(ctx, im.ID, DocumentUpload{
		Filename: "module.pdf",
		Size:     128,
		Content:  strings.NewReader("pdf bytes"),
	}, faculty)
	require.NoError(t, err)
	assert.Equal(t, models.StatusForPIMECEvaluation, uploadResp.IM.Status)
	assert.Equal(t, 1, uploadResp.IM.Version)
	assert.Empty(t, uploadResp.MissingSections)

	// PIMEC passes it at the threshold boundary.
	evaluated, err := f.svc.Evaluate(ctx, im.ID, dto.EvaluateIMRequest{TotalScore: 80}, pimec)
	require.NoError(t, err)
	assert.Equal(t, models.StatusForUTLDOEvaluation, evaluated.Status)
	require.Len(t, f.store.evals, 1)
	assert.Equal(t, "pim-1", f.store.evals[0].EvaluatorID)

	reviewed, err := f.svc.Review(ctx, im.ID, dto.ReviewIMRequest{Approve: true}, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusForCertification, reviewed.Status)

	certified, err := f.svc.Certify(ctx, im.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCertified, certified.IM.Status)
	// No artifacts were generated, so both authors appear in the warning.
	assert.Contains(t, certified.Warning, "fac-1")
	assert.Contains(t, certified.Warning, "fac-2")

	// Terminal status: no further uploads.
	_, err = f.svc.Upload(ctx, im.ID, DocumentUpload{
		Filename: "module-v2.pdf",
		Size:     64,
		Content:  strings.NewReader("more bytes"),
	}, faculty)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, errCode(t, err))
}

func TestIMServiceCreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	admin := models.NewViewer("admin-1", []models.UserRole{models.RoleUTLDOAdmin}, nil)
	baseID := "base-1"

	t.Run("faculty cannot create", func(t *testing.T) {
		faculty := models.NewViewer("fac-1", []models.UserRole{models.RoleFaculty}, nil)
		_, err := f.svc.Create(ctx, dto.CreateIMRequest{
			IMType:         models.IMTypeUniversity,
			UniversityIMID: &baseID,
			AuthorIDs:      []string{"fac-1"},
		}, faculty)
		assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
	})

	t.Run("both base ids rejected", func(t *testing.T) {
		other := "base-2"
		_, err := f.svc.Create(ctx, dto.CreateIMRequest{
			IMType:         models.IMTypeUniversity,
			UniversityIMID: &baseID,
			ServiceIMID:    &other,
			AuthorIDs:      []string{"fac-1"},
		}, admin)
		assert.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
	})

	t.Run("neither base id rejected", func(t *testing.T) {
		_, err := f.svc.Create(ctx, dto.CreateIMRequest{
			IMType:    models.IMTypeUniversity,
			AuthorIDs: []string{"fac-1"},
		}, admin)
		assert.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
	})

	t.Run("unknown base record", func(t *testing.T) {
		missing := "base-404"
		_, err := f.svc.Create(ctx, dto.CreateIMRequest{
			IMType:         models.IMTypeUniversity,
			UniversityIMID: &missing,
			AuthorIDs:      []string{"fac-1"},
		}, admin)
		assert.Equal(t, appErrors.ErrNotFound.Code, errCode(t, err))
	})

	t.Run("type mismatch with base record", func(t *testing.T) {
		_, err := f.svc.Create(ctx, dto.CreateIMRequest{
			IMType:         models.IMTypeService,
			UniversityIMID: &baseID,
			AuthorIDs:      []string{"fac-1"},
		}, admin)
		assert.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
	})
}

func TestIMServiceUploadAnalyzerFailureBlocks(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	f.store.materials["im-1"] = &models.InstructionalMaterial{
		ID:             "im-1",
		IMType:         models.IMTypeUniversity,
		UniversityIMID: refPtr("base-1"),
		Status:         models.StatusAssignedToFaculty,
	}
	f.authors.byIM["im-1"] = []string{"fac-1"}
	f.analyzer.err = appErrors.Clone(appErrors.ErrAnalysisFailed, "analyzer unreachable")

	faculty := models.NewViewer("fac-1", []models.UserRole{models.RoleFaculty}, []string{"col-1"})
	_, err := f.svc.Upload(ctx, "im-1", DocumentUpload{
		Filename: "module.pdf",
		Size:     32,
		Content:  strings.NewReader("bytes"),
	}, faculty)
	assert.Equal(t, appErrors.ErrAnalysisFailed.Code, errCode(t, err))
	// Nothing persisted, status untouched.
	assert.Empty(t, f.storage.saved)
	assert.Equal(t, models.StatusAssignedToFaculty, f.store.materials["im-1"].Status)
}

func TestIMServiceUploadIncompleteRoutesToResubmission(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	f.store.materials["im-1"] = &models.InstructionalMaterial{
		ID:             "im-1",
		IMType:         models.IMTypeUniversity,
		UniversityIMID: refPtr("base-1"),
		Status:         models.StatusAssignedToFaculty,
	}
	f.authors.byIM["im-1"] = []string{"fac-1"}
	f.analyzer.result = workflow.AnalysisResult{MissingSections: []string{"Rationale"}}

	faculty := models.NewViewer("fac-1", []models.UserRole{models.RoleFaculty}, []string{"col-1"})
	resp, err := f.svc.Upload(ctx, "im-1", DocumentUpload{
		Filename: "module.pdf",
		Size:     32,
		Content:  strings.NewReader("bytes"),
	}, faculty)
	require.NoError(t, err)
	assert.Equal(t, models.StatusForResubmission, resp.IM.Status)
	assert.Equal(t, []string{"Rationale"}, resp.MissingSections)
	// The incomplete document is still stored; the status records the verdict.
	assert.Len(t, f.storage.saved, 1)
}

func TestIMServiceUploadForbiddenForNonAuthor(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	f.store.materials["im-1"] = &models.InstructionalMaterial{
		ID:             "im-1",
		IMType:         models.IMTypeUniversity,
		UniversityIMID: refPtr("base-1"),
		Status:         models.StatusAssignedToFaculty,
	}
	f.authors.byIM["im-1"] = []string{"fac-1"}

	outsider := models.NewViewer("fac-9", []models.UserRole{models.RoleFaculty}, []string{"col-9"})
	_, err := f.svc.Upload(ctx, "im-1", DocumentUpload{
		Filename: "module.pdf",
		Size:     32,
		Content:  strings.NewReader("bytes"),
	}, outsider)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestIMServiceEvaluateThresholdInclusive(t *testing.T) {
	ctx := context.Background()
	pimec := models.NewViewer("pim-1", []models.UserRole{models.RolePIMEC}, []string{"col-1"})

	seed := func() *imFixture {
		f := newIMFixture()
		f.seedBase("base-1", models.IMTypeUniversity, "col-1")
		link := "uploads/module.pdf"
		f.store.materials["im-1"] = &models.InstructionalMaterial{
			ID:             "im-1",
			IMType:         models.IMTypeUniversity,
			UniversityIMID: refPtr("base-1"),
			Status:         models.StatusForPIMECEvaluation,
			S3Link:         &link,
			Version:        1,
		}
		f.authors.byIM["im-1"] = []string{"fac-1"}
		return f
	}

	f := seed()
	im, err := f.svc.Evaluate(ctx, "im-1", dto.EvaluateIMRequest{TotalScore: 75}, pimec)
	require.NoError(t, err)
	assert.Equal(t, models.StatusForUTLDOEvaluation, im.Status)

	f = seed()
	im, err = f.svc.Evaluate(ctx, "im-1", dto.EvaluateIMRequest{TotalScore: 74.9}, pimec)
	require.NoError(t, err)
	assert.Equal(t, models.StatusForResubmission, im.Status)
}

func TestIMServiceConcurrentTransitionConflict(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	link := "uploads/module.pdf"
	f.store.materials["im-1"] = &models.InstructionalMaterial{
		ID:             "im-1",
		IMType:         models.IMTypeUniversity,
		UniversityIMID: refPtr("base-1"),
		Status:         models.StatusForUTLDOEvaluation,
		S3Link:         &link,
		Version:        1,
	}
	f.authors.byIM["im-1"] = []string{"fac-1"}

	admin := models.NewViewer("admin-1", []models.UserRole{models.RoleUTLDOAdmin}, nil)

	// Another actor moves the row between our read and write.
	f.store.materials["im-1"].Status = models.StatusForCertification
	// Simulate by asking for a transition from the stale status.
	err := f.svc.transition(ctx, "im-1", models.StatusForUTLDOEvaluation, models.StatusForCertification, admin.UserID)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "concurrently")
}

func TestIMServiceCertifyRequiresAdminRole(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	f.store.materials["im-1"] = &models.InstructionalMaterial{
		ID:             "im-1",
		IMType:         models.IMTypeUniversity,
		UniversityIMID: refPtr("base-1"),
		Status:         models.StatusForCertification,
	}
	f.authors.byIM["im-1"] = []string{"fac-1"}

	pimec := models.NewViewer("pim-1", []models.UserRole{models.RolePIMEC}, []string{"col-1"})
	_, err := f.svc.Certify(ctx, "im-1", pimec)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestIMServiceCertifyNoWarningWhenArtifactsExist(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	f.store.materials["im-1"] = &models.InstructionalMaterial{
		ID:             "im-1",
		IMType:         models.IMTypeUniversity,
		UniversityIMID: refPtr("base-1"),
		Status:         models.StatusForCertification,
	}
	f.authors.byIM["im-1"] = []string{"fac-1"}
	f.certs.certs = []models.Certificate{{ID: "c1", QRID: "qr-1", IMID: "im-1", UserID: "fac-1"}}

	admin := models.NewViewer("admin-1", []models.UserRole{models.RoleUTLDOAdmin}, nil)
	resp, err := f.svc.Certify(ctx, "im-1", admin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCertified, resp.IM.Status)
	assert.Empty(t, resp.Warning)
}

func TestIMServiceDeleteRequiresTechnicalAdmin(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	f.store.materials["im-1"] = &models.InstructionalMaterial{
		ID:             "im-1",
		IMType:         models.IMTypeUniversity,
		UniversityIMID: refPtr("base-1"),
		Status:         models.StatusAssignedToFaculty,
	}
	f.authors.byIM["im-1"] = []string{"fac-1"}

	utldo := models.NewViewer("admin-1", []models.UserRole{models.RoleUTLDOAdmin}, nil)
	err := f.svc.Delete(ctx, "im-1", utldo)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))

	tech := models.NewViewer("tech-1", []models.UserRole{models.RoleTechnicalAdmin}, nil)
	require.NoError(t, f.svc.Delete(ctx, "im-1", tech))
	_, err = f.store.FindByID(ctx, "im-1")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestIMServiceGetResolvesCapabilities(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	f.store.materials["im-1"] = &models.InstructionalMaterial{
		ID:             "im-1",
		IMType:         models.IMTypeUniversity,
		UniversityIMID: refPtr("base-1"),
		Status:         models.StatusAssignedToFaculty,
	}
	f.authors.byIM["im-1"] = []string{"fac-1", "fac-2"}

	faculty := models.NewViewer("fac-1", []models.UserRole{models.RoleFaculty}, []string{"col-1"})
	resp, err := f.svc.Get(ctx, "im-1", faculty)
	require.NoError(t, err)
	assert.Equal(t, []string{"fac-1", "fac-2"}, resp.AuthorIDs)
	assert.Contains(t, resp.Capabilities, workflow.CapUpload)
	require.NotNil(t, resp.BaseRecord)
	assert.Equal(t, "col-1", resp.BaseRecord.CollegeID)
}

func TestIMServiceDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	f.store.materials["im-1"] = &models.InstructionalMaterial{
		ID:             "im-1",
		IMType:         models.IMTypeUniversity,
		UniversityIMID: refPtr("base-1"),
		Status:         models.StatusForPIMECEvaluation,
		S3Link:         refPtr("uploads/module.pdf"),
		Version:        1,
	}
	f.authors.byIM["im-1"] = []string{"fac-1"}
	f.storage.files = map[string][]byte{"uploads/module.pdf": []byte("%PDF-1.4 content")}

	faculty := models.NewViewer("fac-1", []models.UserRole{models.RoleFaculty}, []string{"col-1"})
	link, err := f.svc.DownloadLink(ctx, "im-1", faculty)
	require.NoError(t, err)
	require.NotEmpty(t, link.Token)
	assert.True(t, link.ExpiresAt.After(time.Now()))

	rc, filename, err := f.svc.OpenDocument(ctx, link.Token)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "module.pdf", filename)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 content", string(content))
}

func TestIMServiceDownloadRequiresDocument(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	f.store.materials["im-1"] = &models.InstructionalMaterial{
		ID:             "im-1",
		IMType:         models.IMTypeUniversity,
		UniversityIMID: refPtr("base-1"),
		Status:         models.StatusAssignedToFaculty,
	}
	f.authors.byIM["im-1"] = []string{"fac-1"}

	faculty := models.NewViewer("fac-1", []models.UserRole{models.RoleFaculty}, []string{"col-1"})
	_, err := f.svc.DownloadLink(ctx, "im-1", faculty)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(t, err))
}

func TestIMServiceDownloadTokenInvalidAfterReupload(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	f.store.materials["im-1"] = &models.InstructionalMaterial{
		ID:             "im-1",
		IMType:         models.IMTypeUniversity,
		UniversityIMID: refPtr("base-1"),
		Status:         models.StatusForPIMECEvaluation,
		S3Link:         refPtr("uploads/v1.pdf"),
		Version:        1,
	}
	f.authors.byIM["im-1"] = []string{"fac-1"}
	f.storage.files = map[string][]byte{"uploads/v1.pdf": []byte("v1")}

	faculty := models.NewViewer("fac-1", []models.UserRole{models.RoleFaculty}, []string{"col-1"})
	link, err := f.svc.DownloadLink(ctx, "im-1", faculty)
	require.NoError(t, err)

	// A later upload supersedes the document the token points at.
	f.store.materials["im-1"].S3Link = refPtr("uploads/v2.pdf")

	_, _, err = f.svc.OpenDocument(ctx, link.Token)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errCode(t, err))
}

func TestIMServiceCreateNotifiesInitialAuthors(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	admin := models.NewViewer("admin-1", []models.UserRole{models.RoleUTLDOAdmin}, nil)

	baseID := "base-1"
	im, err := f.svc.Create(ctx, dto.CreateIMRequest{
		IMType:         models.IMTypeUniversity,
		UniversityIMID: &baseID,
		AuthorIDs:      []string{"fac-1", "fac-2"},
	}, admin)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{im.ID + ":fac-1", im.ID + ":fac-2"}, f.notifier.added)

	// Re-running the assignment adds nobody and notifies nobody new.
	f.notifier.added = nil
	_, err = f.svc.Create(ctx, dto.CreateIMRequest{
		IMType:         models.IMTypeUniversity,
		UniversityIMID: &baseID,
		AuthorIDs:      []string{"fac-1"},
	}, admin)
	require.NoError(t, err)
	assert.Len(t, f.notifier.added, 1)
}

func TestIMServiceTransitionsInvalidateDirectory(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	f.store.materials["im-1"] = &models.InstructionalMaterial{
		ID:             "im-1",
		IMType:         models.IMTypeUniversity,
		UniversityIMID: refPtr("base-1"),
		Status:         models.StatusForUTLDOEvaluation,
		S3Link:         refPtr("uploads/module.pdf"),
		Version:        1,
	}
	f.authors.byIM["im-1"] = []string{"fac-1"}

	admin := models.NewViewer("admin-1", []models.UserRole{models.RoleUTLDOAdmin}, nil)
	reviewed, err := f.svc.Review(ctx, "im-1", dto.ReviewIMRequest{Approve: true}, admin)
	require.NoError(t, err)
	require.Equal(t, models.StatusForCertification, reviewed.Status)

	// A stale cached row set would keep serving the old status otherwise.
	assert.Equal(t, []string{"col-1"}, f.directory.colleges)

	_, err = f.svc.Certify(ctx, "im-1", admin)
	require.NoError(t, err)
	assert.Equal(t, []string{"col-1", "col-1"}, f.directory.colleges)
}

func TestIMServiceUploadConcurrentStatusChangeConflicts(t *testing.T) {
	ctx := context.Background()
	f := newIMFixture()
	f.seedBase("base-1", models.IMTypeUniversity, "col-1")
	f.store.materials["im-1"] = &models.InstructionalMaterial{
		ID:             "im-1",
		IMType:         models.IMTypeUniversity,
		UniversityIMID: refPtr("base-1"),
		Status:         models.StatusAssignedToFaculty,
	}
	f.authors.byIM["im-1"] = []string{"fac-1"}
	// Another writer moves the row between our read and our write.
	f.analyzer.hook = func() {
		f.store.materials["im-1"].Status = models.StatusForPIMECEvaluation
	}

	faculty := models.NewViewer("fac-1", []models.UserRole{models.RoleFaculty}, []string{"col-1"})
	_, err := f.svc.Upload(ctx, "im-1", DocumentUpload{
		Filename: "module.pdf",
		Size:     32,
		Content:  strings.NewReader("bytes"),
	}, faculty)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "concurrently")
	// The losing write never landed and nothing was purged.
	assert.Equal(t, 0, f.store.materials["im-1"].Version)
	assert.Empty(t, f.directory.colleges)
}
