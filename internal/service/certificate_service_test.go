package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/utldo-dev/im-review-api/internal/models"
	"github.com/utldo-dev/im-review-api/pkg/export"
	appErrors "github.com/utldo-dev/im-review-api/pkg/errors"
)

type mockCertStore struct {
	certs   map[string]*models.Certificate
	batches map[string]*models.CertificateBatch
	nextID  int
}

func (m *mockCertStore) Create(ctx context.Context, cert *models.Certificate) error {
	if m.certs == nil {
		m.certs = make(map[string]*models.Certificate)
	}
	m.nextID++
	cert.ID = fmt.Sprintf("cert-%d", m.nextID)
	cert.DateIssued = time.Now().UTC()
	cp := *cert
	m.certs[cert.ID] = &cp
	return nil
}

func (m *mockCertStore) ListByIM(ctx context.Context, imID string) ([]models.Certificate, error) {
	var out []models.Certificate
	for _, c := range m.certs {
		if c.IMID == imID && c.RevokedAt == nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockCertStore) FindByQRID(ctx context.Context, qrID string) (*models.Certificate, error) {
	for _, c := range m.certs {
		if c.QRID == qrID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockCertStore) RevokeByIM(ctx context.Context, imID string, revokedAt time.Time) error {
	for _, c := range m.certs {
		if c.IMID == imID && c.RevokedAt == nil {
			at := revokedAt
			c.RevokedAt = &at
		}
	}
	return nil
}

func (m *mockCertStore) CreateBatch(ctx context.Context, batch *models.CertificateBatch) error {
	if m.batches == nil {
		m.batches = make(map[string]*models.CertificateBatch)
	}
	m.nextID++
	batch.ID = fmt.Sprintf("batch-%d", m.nextID)
	cp := *batch
	m.batches[batch.ID] = &cp
	return nil
}

func (m *mockCertStore) CompleteBatch(ctx context.Context, id string, status models.CertificateBatchStatus, successCount, failureCount int, completedAt time.Time) error {
	batch, ok := m.batches[id]
	if !ok {
		return sql.ErrNoRows
	}
	batch.Status = status
	batch.SuccessCount = successCount
	batch.FailureCount = failureCount
	batch.CompletedAt = &completedAt
	return nil
}

func (m *mockCertStore) LatestBatch(ctx context.Context, imID string) (*models.CertificateBatch, error) {
	var latest *models.CertificateBatch
	for _, b := range m.batches {
		if b.IMID != imID {
			continue
		}
		if latest == nil || b.ID > latest.ID {
			latest = b
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

type mockCertUserReader struct {
	users   map[string]*models.User
	failFor string
}

func (m *mockCertUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if id == m.failFor {
		return nil, sql.ErrNoRows
	}
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *user
	return &cp, nil
}

type mockRenderer struct {
	err     error
	renders []export.CertificateData
}

func (m *mockRenderer) Render(data export.CertificateData) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.renders = append(m.renders, data)
	return []byte("%PDF-1.4"), nil
}

type mockCertFileStore struct {
	saved []string
	err   error
}

func (m *mockCertFileStore) Save(filename string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.saved = append(m.saved, filename)
	return "certs/" + filename, nil
}

type certFixture struct {
	svc      *CertificateService
	store    *mockCertStore
	ims      *mockIMStore
	authors  *mockAuthorMemberships
	bases    *mockBaseStore
	users    *mockCertUserReader
	renderer *mockRenderer
	files    *mockCertFileStore
}

func newCertFixture() *certFixture {
	f := &certFixture{
		store:   &mockCertStore{},
		ims:     &mockIMStore{materials: map[string]*models.InstructionalMaterial{}},
		authors: &mockAuthorMemberships{byIM: map[string][]string{}},
		bases:   &mockBaseStore{records: map[string]*models.BaseRecord{}},
		users: &mockCertUserReader{users: map[string]*models.User{
			"fac-1": {ID: "fac-1", FullName: "Alice dela Cruz"},
			"fac-2": {ID: "fac-2", FullName: "Bob Ramos"},
		}},
		renderer: &mockRenderer{},
		files:    &mockCertFileStore{},
	}
	f.svc = NewCertificateService(f.store, f.ims, f.authors, f.bases, f.users, f.renderer, f.files, nil, zap.NewNop())
	return f
}

func (f *certFixture) seedMaterial(status models.IMStatus, authorIDs ...string) {
	f.bases.records["base-1"] = &models.BaseRecord{
		ID:        "base-1",
		IMType:    models.IMTypeUniversity,
		CollegeID: "col-1",
		SubjectID: "subj-1",
		Title:     "Physics II Module",
	}
	f.ims.materials["im-1"] = &models.InstructionalMaterial{
		ID:             "im-1",
		IMType:         models.IMTypeUniversity,
		UniversityIMID: refPtr("base-1"),
		Status:         status,
	}
	f.authors.byIM["im-1"] = authorIDs
}

func TestCertificateServiceGenerate(t *testing.T) {
	ctx := context.Background()
	f := newCertFixture()
	f.seedMaterial(models.StatusForCertification, "fac-1", "fac-2")
	admin := models.NewViewer("admin-1", []models.UserRole{models.RoleUTLDOAdmin}, nil)

	resp, err := f.svc.Generate(ctx, "im-1", admin)
	require.NoError(t, err)
	require.Len(t, resp.Certificates, 2)
	assert.Empty(t, resp.Failures)
	assert.NotEqual(t, resp.Certificates[0].QRID, resp.Certificates[1].QRID)

	// Rendered with the base record title and author names.
	require.Len(t, f.renderer.renders, 2)
	assert.Equal(t, "Physics II Module", f.renderer.renders[0].Title)

	batch, err := f.svc.LatestBatch(ctx, "im-1")
	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, models.CertBatchCompleted, batch.Status)
	assert.Equal(t, 2, batch.SuccessCount)
	assert.Equal(t, 0, batch.FailureCount)
}

func TestCertificateServiceRegenerationRevokesPrior(t *testing.T) {
	ctx := context.Background()
	f := newCertFixture()
	f.seedMaterial(models.StatusForCertification, "fac-1")
	admin := models.NewViewer("admin-1", []models.UserRole{models.RoleUTLDOAdmin}, nil)

	first, err := f.svc.Generate(ctx, "im-1", admin)
	require.NoError(t, err)
	require.Len(t, first.Certificates, 1)
	oldQR := first.Certificates[0].QRID

	second, err := f.svc.Generate(ctx, "im-1", admin)
	require.NoError(t, err)
	require.Len(t, second.Certificates, 1)
	newQR := second.Certificates[0].QRID
	assert.NotEqual(t, oldQR, newQR)

	// Only the replacement remains active.
	active, err := f.svc.List(ctx, "im-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, newQR, active[0].QRID)

	// The stale QR code stops verifying; the new one resolves.
	_, err = f.svc.Verify(ctx, oldQR)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(t, err))
	cert, err := f.svc.Verify(ctx, newQR)
	require.NoError(t, err)
	assert.Equal(t, "fac-1", cert.UserID)
}

func TestCertificateServicePartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newCertFixture()
	f.seedMaterial(models.StatusForCertification, "fac-1", "fac-2")
	f.users.failFor = "fac-2"
	admin := models.NewViewer("admin-1", []models.UserRole{models.RoleUTLDOAdmin}, nil)

	resp, err := f.svc.Generate(ctx, "im-1", admin)
	require.NoError(t, err)
	require.Len(t, resp.Certificates, 1)
	assert.Equal(t, "fac-1", resp.Certificates[0].UserID)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "fac-2", resp.Failures[0].UserID)

	batch := f.store.batches[resp.BatchID]
	require.NotNil(t, batch)
	assert.Equal(t, models.CertBatchCompleted, batch.Status)
	assert.Equal(t, 1, batch.SuccessCount)
	assert.Equal(t, 1, batch.FailureCount)
}

func TestCertificateServiceTotalFailureMarksBatchFailed(t *testing.T) {
	ctx := context.Background()
	f := newCertFixture()
	f.seedMaterial(models.StatusForCertification, "fac-1")
	f.renderer.err = errors.New("font table corrupt")
	admin := models.NewViewer("admin-1", []models.UserRole{models.RoleUTLDOAdmin}, nil)

	resp, err := f.svc.Generate(ctx, "im-1", admin)
	require.NoError(t, err)
	assert.Empty(t, resp.Certificates)
	require.Len(t, resp.Failures, 1)

	batch := f.store.batches[resp.BatchID]
	require.NotNil(t, batch)
	assert.Equal(t, models.CertBatchFailed, batch.Status)
}

func TestCertificateServiceGenerateGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong status", func(t *testing.T) {
		f := newCertFixture()
		f.seedMaterial(models.StatusForPIMECEvaluation, "fac-1")
		admin := models.NewViewer("admin-1", []models.UserRole{models.RoleUTLDOAdmin}, nil)
		_, err := f.svc.Generate(ctx, "im-1", admin)
		assert.Equal(t, appErrors.ErrInvalidTransition.Code, errCode(t, err))
	})

	t.Run("non admin", func(t *testing.T) {
		f := newCertFixture()
		f.seedMaterial(models.StatusForCertification, "fac-1")
		pimec := models.NewViewer("pim-1", []models.UserRole{models.RolePIMEC}, []string{"col-1"})
		_, err := f.svc.Generate(ctx, "im-1", pimec)
		assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
	})

	t.Run("no authors", func(t *testing.T) {
		f := newCertFixture()
		f.seedMaterial(models.StatusForCertification)
		admin := models.NewViewer("admin-1", []models.UserRole{models.RoleUTLDOAdmin}, nil)
		_, err := f.svc.Generate(ctx, "im-1", admin)
		assert.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
	})

	t.Run("unknown material", func(t *testing.T) {
		f := newCertFixture()
		admin := models.NewViewer("admin-1", []models.UserRole{models.RoleUTLDOAdmin}, nil)
		_, err := f.svc.Generate(ctx, "im-404", admin)
		assert.Equal(t, appErrors.ErrNotFound.Code, errCode(t, err))
	})
}

func TestCertificateServiceVerifyUnknownQR(t *testing.T) {
	f := newCertFixture()
	_, err := f.svc.Verify(context.Background(), "qr-unknown")
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(t, err))
}
