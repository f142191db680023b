package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/utldo-dev/im-review-api/internal/models"
)

type mockMetadataStore struct {
	mu          sync.Mutex
	departments map[string]models.Department
	subjects    map[string]models.Subject
	colleges    []models.College
	deptFetches int
	subjFetches int
}

func (m *mockMetadataStore) FindDepartment(ctx context.Context, id string) (models.Department, error) {
	m.mu.Lock()
	m.deptFetches++
	m.mu.Unlock()
	dept, ok := m.departments[id]
	if !ok {
		return models.Department{}, sql.ErrNoRows
	}
	return dept, nil
}

func (m *mockMetadataStore) FindSubject(ctx context.Context, id string) (models.Subject, error) {
	m.mu.Lock()
	m.subjFetches++
	m.mu.Unlock()
	subject, ok := m.subjects[id]
	if !ok {
		return models.Subject{}, sql.ErrNoRows
	}
	return subject, nil
}

func (m *mockMetadataStore) ListColleges(ctx context.Context) ([]models.College, error) {
	return m.colleges, nil
}

func newMetadataFixture() (*MetadataService, *mockMetadataStore) {
	store := &mockMetadataStore{
		departments: map[string]models.Department{
			"dept-1": {ID: "dept-1", Name: "Mathematics", Abbreviation: "MATH", CollegeID: "col-1"},
			"dept-2": {ID: "dept-2", Name: "Philosophy", CollegeID: "col-1"},
		},
		subjects: map[string]models.Subject{
			"subj-1": {ID: "subj-1", Name: "Calculus I", Abbreviation: "MATH101"},
		},
		colleges: []models.College{{ID: "col-1", Name: "College of Science", Abbreviation: "COS"}},
	}
	return NewMetadataService(store, zap.NewNop()), store
}

func TestMetadataServiceLabels(t *testing.T) {
	ctx := context.Background()
	svc, _ := newMetadataFixture()

	require.NoError(t, svc.WarmDepartments(ctx, []string{"dept-1", "dept-2", "dept-404"}))
	require.NoError(t, svc.WarmSubjects(ctx, []string{"subj-1"}))

	// Abbreviation preferred, name as fallback, placeholder when absent.
	assert.Equal(t, "MATH", svc.DepartmentLabel("dept-1"))
	assert.Equal(t, "Philosophy", svc.DepartmentLabel("dept-2"))
	assert.Equal(t, "Dept #dept-404", svc.DepartmentLabel("dept-404"))
	assert.Equal(t, "MATH101", svc.SubjectLabel("subj-1"))
	assert.Equal(t, "Subject #subj-9", svc.SubjectLabel("subj-9"))
}

func TestMetadataServiceWarmFetchesOnlyMissing(t *testing.T) {
	ctx := context.Background()
	svc, store := newMetadataFixture()

	require.NoError(t, svc.WarmDepartments(ctx, []string{"dept-1", "dept-1", "dept-2"}))
	assert.Equal(t, 2, store.deptFetches)

	// Already cached: no new fetches.
	require.NoError(t, svc.WarmDepartments(ctx, []string{"dept-1", "dept-2"}))
	assert.Equal(t, 2, store.deptFetches)

	// A failed fetch stays absent and is retried on the next warm.
	require.NoError(t, svc.WarmDepartments(ctx, []string{"dept-404"}))
	require.NoError(t, svc.WarmDepartments(ctx, []string{"dept-404"}))
	assert.Equal(t, 4, store.deptFetches)
	_, ok := svc.Department("dept-404")
	assert.False(t, ok)
}

func TestMetadataServiceColleges(t *testing.T) {
	svc, _ := newMetadataFixture()
	colleges, err := svc.ListColleges(context.Background())
	require.NoError(t, err)
	require.Len(t, colleges, 1)
	assert.Equal(t, "COS", colleges[0].Abbreviation)
}
