package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/utldo-dev/im-review-api/internal/models"
)

// MetadataRepository reads the rarely changing organizational entities the
// directory views label rows with.
type MetadataRepository struct {
	db *sqlx.DB
}

// NewMetadataRepository creates a new repository instance.
func NewMetadataRepository(db *sqlx.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

// FindDepartment returns a department by id.
func (r *MetadataRepository) FindDepartment(ctx context.Context, id string) (models.Department, error) {
	const query = `SELECT id, name, abbreviation, college_id FROM departments WHERE id = $1`
	var dept models.Department
	if err := r.db.GetContext(ctx, &dept, query, id); err != nil {
		return models.Department{}, err
	}
	return dept, nil
}

// FindSubject returns a subject by id.
func (r *MetadataRepository) FindSubject(ctx context.Context, id string) (models.Subject, error) {
	const query = `SELECT id, name, abbreviation FROM subjects WHERE id = $1`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return models.Subject{}, err
	}
	return subject, nil
}

// ListColleges returns all colleges.
func (r *MetadataRepository) ListColleges(ctx context.Context) ([]models.College, error) {
	const query = `SELECT id, name, abbreviation FROM colleges ORDER BY name`
	var colleges []models.College
	if err := r.db.SelectContext(ctx, &colleges, query); err != nil {
		return nil, fmt.Errorf("list colleges: %w", err)
	}
	return colleges, nil
}

// ListDepartmentsByCollege returns departments under a college.
func (r *MetadataRepository) ListDepartmentsByCollege(ctx context.Context, collegeID string) ([]models.Department, error) {
	const query = `SELECT id, name, abbreviation, college_id FROM departments WHERE college_id = $1 ORDER BY name`
	var departments []models.Department
	if err := r.db.SelectContext(ctx, &departments, query, collegeID); err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return departments, nil
}
