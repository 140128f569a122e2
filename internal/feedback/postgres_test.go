package feedback

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admission-criteria-server/internal/domain"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing()
	store, err := NewPostgresStore(db)
	require.NoError(t, err)
	return store, mock
}

var feedbackColumns = []string{
	"id", "note_hash", "suggested_level", "user_level", "user_agreed",
	"score", "notes", "created_at", "updated_at",
}

func TestNewPostgresStore_NilDB(t *testing.T) {
	store, err := NewPostgresStore(nil)

	assert.Nil(t, store)
	assert.Error(t, err)
}

func TestNewPostgresStore_PingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	store, err := NewPostgresStore(db)

	assert.Nil(t, store)
	assert.ErrorContains(t, err, "failed to ping database")
}

func TestPostgresStore_Save(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	defer store.Close()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (note_hash) DO UPDATE SET")).
		WithArgs("hash-1", string(domain.STRONGLY_SUPPORTED), string(domain.POSSIBLY_SUPPORTED),
			false, 7, "Lactate normalized before admission order", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), created))

	fb := sampleFeedback("hash-1")
	err := store.Save(context.Background(), fb)

	require.NoError(t, err)
	assert.Equal(t, int64(42), fb.ID)
	assert.Equal(t, created, fb.CreatedAt)
	assert.False(t, fb.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save_Invalid(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	defer store.Close()

	err := store.Save(context.Background(), &Feedback{})

	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	defer store.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM feedback WHERE note_hash = $1")).
		WithArgs("hash-1").
		WillReturnRows(sqlmock.NewRows(feedbackColumns).AddRow(
			int64(3), "hash-1", string(domain.OBSERVATION_LIKELY), string(domain.OBSERVATION_LIKELY),
			true, 1, "", now, now))

	got, err := store.Get(context.Background(), "hash-1")

	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
	assert.Equal(t, domain.OBSERVATION_LIKELY, got.UserLevel)
	assert.True(t, got.UserAgreed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	defer store.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM feedback WHERE note_hash = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	got, err := store.Get(context.Background(), "missing")

	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrFeedbackNotFound)
}

func TestPostgresStore_List(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	defer store.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2")).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows(feedbackColumns).
			AddRow(int64(2), "b", string(domain.STRONGLY_SUPPORTED), string(domain.STRONGLY_SUPPORTED), true, 9, "", now, now).
			AddRow(int64(1), "a", string(domain.POSSIBLY_SUPPORTED), string(domain.OBSERVATION_LIKELY), false, 3, "x", now, now))

	list, err := store.List(context.Background(), 10, 0)

	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].NoteHash)
	assert.Equal(t, domain.OBSERVATION_LIKELY, list[1].UserLevel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	defer store.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM feedback")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))

	count, err := store.Count(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(12), count)
}

func TestPostgresStore_Delete(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	defer store.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM feedback WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete_Error(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	defer store.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM feedback")).
		WillReturnError(errors.New("boom"))

	err := store.Delete(context.Background(), 5)

	assert.ErrorContains(t, err, "failed to delete feedback")
}
