package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// AuthorRepository persists the many-to-many author set per material.
type AuthorRepository struct {
	db *sqlx.DB
}

// NewAuthorRepository creates a new repository instance.
func NewAuthorRepository(db *sqlx.DB) *AuthorRepository {
	return &AuthorRepository{db: db}
}

// ListByIM returns the author user ids for one material.
func (r *AuthorRepository) ListByIM(ctx context.Context, imID string) ([]string, error) {
	const query = `SELECT user_id FROM im_authors WHERE im_id = $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, imID); err != nil {
		return nil, fmt.Errorf("list authors: %w", err)
	}
	return ids, nil
}

// ListByIMs returns author id sets for many materials in one query.
func (r *AuthorRepository) ListByIMs(ctx context.Context, imIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(imIDs))
	if len(imIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT im_id, user_id FROM im_authors WHERE im_id IN (?)`, imIDs)
	if err != nil {
		return nil, fmt.Errorf("build author query: %w", err)
	}
	query = r.db.Rebind(query)
	rows := []struct {
		IMID   string `db:"im_id"`
		UserID string `db:"user_id"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list authors by materials: %w", err)
	}
	for _, row := range rows {
		result[row.IMID] = append(result[row.IMID], row.UserID)
	}
	return result, nil
}

// Add inserts a membership row. Idempotent: adding an existing member is a
// no-op and returns false.
func (r *AuthorRepository) Add(ctx context.Context, imID, userID string) (bool, error) {
	const query = `INSERT INTO im_authors (im_id, user_id, created_at) VALUES ($1, $2, $3) ON CONFLICT (im_id, user_id) DO NOTHING`
	result, err := r.db.ExecContext(ctx, query, imID, userID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("add author: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add author: %w", err)
	}
	return affected > 0, nil
}

// Remove deletes a membership row.
func (r *AuthorRepository) Remove(ctx context.Context, imID, userID string) error {
	const query = `DELETE FROM im_authors WHERE im_id = $1 AND user_id = $2`
	if _, err := r.db.ExecContext(ctx, query, imID, userID); err != nil {
		return fmt.Errorf("remove author: %w", err)
	}
	return nil
}
