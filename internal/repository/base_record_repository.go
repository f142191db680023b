package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/utldo-dev/im-review-api/internal/models"
)

// BaseRecordRepository reads the immutable identity anchors materials wrap.
// University and service records live in separate tables; this repository
// presents them as one shape.
type BaseRecordRepository struct {
	db *sqlx.DB
}

// NewBaseRecordRepository creates a new repository instance.
func NewBaseRecordRepository(db *sqlx.DB) *BaseRecordRepository {
	return &BaseRecordRepository{db: db}
}

const baseRecordUnion = `
SELECT id, 'UNIVERSITY' AS im_type, college_id, subject_id, department_id, year_level, title FROM university_ims
UNION ALL
SELECT id, 'SERVICE' AS im_type, college_id, subject_id, NULL AS department_id, NULL AS year_level, title FROM service_ims`

// ListByCollege returns every base record under the college.
func (r *BaseRecordRepository) ListByCollege(ctx context.Context, collegeID string) ([]models.BaseRecord, error) {
	query := fmt.Sprintf("SELECT * FROM (%s) b WHERE b.college_id = $1", baseRecordUnion)
	var records []models.BaseRecord
	if err := r.db.SelectContext(ctx, &records, query, collegeID); err != nil {
		return nil, fmt.Errorf("list base records: %w", err)
	}
	return records, nil
}

// FindByID returns a single base record of either kind.
func (r *BaseRecordRepository) FindByID(ctx context.Context, id string) (*models.BaseRecord, error) {
	query := fmt.Sprintf("SELECT * FROM (%s) b WHERE b.id = $1 LIMIT 1", baseRecordUnion)
	var record models.BaseRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}
