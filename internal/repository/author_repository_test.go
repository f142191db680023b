package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorRepositoryAddIdempotent(t *testing.T) {
	db, mock, cleanup := newIMRepoMock(t)
	defer cleanup()
	repo := NewAuthorRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO im_authors")).
		WithArgs("im-1", "user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.Add(context.Background(), "im-1", "user-1")
	require.NoError(t, err)
	assert.True(t, inserted)

	// Conflict path: ON CONFLICT DO NOTHING affects zero rows.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO im_authors")).
		WithArgs("im-1", "user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err = repo.Add(context.Background(), "im-1", "user-1")
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestAuthorRepositoryListByIM(t *testing.T) {
	db, mock, cleanup := newIMRepoMock(t)
	defer cleanup()
	repo := NewAuthorRepository(db)

	rows := sqlmock.NewRows([]string{"user_id"}).
		AddRow("user-1").
		AddRow("user-2")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM im_authors WHERE im_id = $1")).
		WithArgs("im-1").
		WillReturnRows(rows)

	ids, err := repo.ListByIM(context.Background(), "im-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", "user-2"}, ids)
}

func TestAuthorRepositoryListByIMsEmpty(t *testing.T) {
	db, _, cleanup := newIMRepoMock(t)
	defer cleanup()
	repo := NewAuthorRepository(db)

	result, err := repo.ListByIMs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestAuthorRepositoryListByIMs(t *testing.T) {
	db, mock, cleanup := newIMRepoMock(t)
	defer cleanup()
	repo := NewAuthorRepository(db)

	rows := sqlmock.NewRows([]string{"im_id", "user_id"}).
		AddRow("im-1", "user-1").
		AddRow("im-1", "user-2").
		AddRow("im-2", "user-3")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT im_id, user_id FROM im_authors WHERE im_id IN")).
		WithArgs("im-1", "im-2").
		WillReturnRows(rows)

	result, err := repo.ListByIMs(context.Background(), []string{"im-1", "im-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1", "user-2"}, result["im-1"])
	assert.Equal(t, []string{"user-3"}, result["im-2"])
}

func TestAuthorRepositoryRemove(t *testing.T) {
	db, mock, cleanup := newIMRepoMock(t)
	defer cleanup()
	repo := NewAuthorRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM im_authors WHERE im_id = $1 AND user_id = $2")).
		WithArgs("im-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Remove(context.Background(), "im-1", "user-1"))
}
