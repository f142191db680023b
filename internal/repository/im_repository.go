package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/utldo-dev/im-review-api/internal/models"
)

const imColumns = "id, im_type, university_im_id, service_im_id, status, validity, version, s3_link, notes, updated_by, created_at, updated_at"

// IMRepository handles persistence for instructional material wrappers.
type IMRepository struct {
	db *sqlx.DB
}

// NewIMRepository creates a new repository instance.
func NewIMRepository(db *sqlx.DB) *IMRepository {
	return &IMRepository{db: db}
}

// FindByID returns a material by id.
func (r *IMRepository) FindByID(ctx context.Context, id string) (*models.InstructionalMaterial, error) {
	query := fmt.Sprintf("SELECT %s FROM instructional_materials WHERE id = $1", imColumns)
	var im models.InstructionalMaterial
	if err := r.db.GetContext(ctx, &im, query, id); err != nil {
		return nil, err
	}
	return &im, nil
}

// List returns materials matching the filter.
func (r *IMRepository) List(ctx context.Context, filter models.IMFilter) ([]models.InstructionalMaterial, error) {
	base := "FROM instructional_materials im WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("im.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.IMType != "" {
		conditions = append(conditions, fmt.Sprintf("im.im_type = $%d", len(args)+1))
		args = append(args, filter.IMType)
	}
	if filter.AuthorID != "" {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM im_authors a WHERE a.im_id = im.id AND a.user_id = $%d)", len(args)+1))
		args = append(args, filter.AuthorID)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf("SELECT %s %s ORDER BY im.updated_at DESC",
		prefixColumns("im", imColumns), base)
	var materials []models.InstructionalMaterial
	if err := r.db.SelectContext(ctx, &materials, query, args...); err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	return materials, nil
}

// ListByCollege returns the material wrappers whose base record belongs to
// the college, of either kind.
func (r *IMRepository) ListByCollege(ctx context.Context, collegeID string) ([]models.InstructionalMaterial, error) {
	query := fmt.Sprintf(`SELECT %s FROM instructional_materials im
LEFT JOIN university_ims u ON u.id = im.university_im_id
LEFT JOIN service_ims s ON s.id = im.service_im_id
WHERE COALESCE(u.college_id, s.college_id) = $1
ORDER BY im.updated_at DESC`, prefixColumns("im", imColumns))
	var materials []models.InstructionalMaterial
	if err := r.db.SelectContext(ctx, &materials, query, collegeID); err != nil {
		return nil, fmt.Errorf("list materials by college: %w", err)
	}
	return materials, nil
}

// Create persists a new material wrapper. The exactly-one-base-record
// invariant is enforced here as the last line of defense; the service
// validates it earlier with a friendlier error.
func (r *IMRepository) Create(ctx context.Context, im *models.InstructionalMaterial) error {
	if (im.UniversityIMID == nil) == (im.ServiceIMID == nil) {
		return fmt.Errorf("material must reference exactly one base record")
	}
	if im.ID == "" {
		im.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if im.CreatedAt.IsZero() {
		im.CreatedAt = now
	}
	im.UpdatedAt = now
	if im.Version == 0 {
		im.Version = 1
	}

	const query = `INSERT INTO instructional_materials (id, im_type, university_im_id, service_im_id, status, validity, version, s3_link, notes, updated_by, created_at, updated_at)
VALUES (:id, :im_type, :university_im_id, :service_im_id, :status, :validity, :version, :s3_link, :notes, :updated_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, im); err != nil {
		return fmt.Errorf("create material: %w", err)
	}
	return nil
}

// UpdateStatus transitions a material, guarding against concurrent writers
// by matching the expected source status.
func (r *IMRepository) UpdateStatus(ctx context.Context, id string, from, to models.IMStatus, updatedBy string) error {
	const query = `UPDATE instructional_materials SET status = $3, updated_by = $4, updated_at = $5 WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, from, to, updatedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update material status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update material status: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AttachFile records a new uploaded document and its resulting status,
// bumping the version. An upload is a status transition, so it matches the
// expected source status the same way UpdateStatus does.
func (r *IMRepository) AttachFile(ctx context.Context, id, s3Link string, from, to models.IMStatus, updatedBy string) error {
	const query = `UPDATE instructional_materials SET s3_link = $3, status = $4, version = version + 1, updated_by = $5, updated_at = $6 WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, from, s3Link, to, updatedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("attach material file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("attach material file: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a material and its dependent rows.
func (r *IMRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM im_authors WHERE im_id = $1`, id); err != nil {
		return fmt.Errorf("delete material authors: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM instructional_materials WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete material: %w", err)
	}
	return nil
}

// CreateEvaluation stores a PIMEC rubric result.
func (r *IMRepository) CreateEvaluation(ctx context.Context, eval *models.Evaluation) error {
	if eval.ID == "" {
		eval.ID = uuid.NewString()
	}
	if eval.CreatedAt.IsZero() {
		eval.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO evaluations (id, im_id, evaluator_id, total_score, remarks, created_at) VALUES (:id, :im_id, :evaluator_id, :total_score, :remarks, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, eval); err != nil {
		return fmt.Errorf("create evaluation: %w", err)
	}
	return nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
