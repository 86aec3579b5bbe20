package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-registrar-api/internal/models"
)

func newWaitlistRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestWaitlistRepositoryListWaitingOrdersByArrival(t *testing.T) {
	db, mock, cleanup := newWaitlistRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "subject_id", "semester", "academic_year", "status", "section_id", "reason", "created_at", "resolved_at"}).
		AddRow("w1", "stu-1", "sub-1", 1, "2026/2027", models.WaitlistStatusWaiting, nil, nil, time.Now().Add(-time.Hour), nil).
		AddRow("w2", "stu-2", "sub-1", 1, "2026/2027", models.WaitlistStatusWaiting, nil, nil, time.Now(), nil)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at ASC")).
		WithArgs("sub-1", 1, "2026/2027", models.WaitlistStatusWaiting).
		WillReturnRows(rows)

	entries, err := repo.ListWaiting(context.Background(), "sub-1", 1, "2026/2027")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "w1", entries[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryResolve(t *testing.T) {
	db, mock, cleanup := newWaitlistRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	sectionID := "sec-1"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE waitlist_entries SET status = $2")).
		WithArgs("w1", models.WaitlistStatusEnrolled, sectionID, nil, sqlmock.AnyArg(), models.WaitlistStatusWaiting).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Resolve(context.Background(), "w1", models.WaitlistStatusEnrolled, &sectionID, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitlistRepositoryResolveAlreadyResolved(t *testing.T) {
	db, mock, cleanup := newWaitlistRepoMock(t)
	defer cleanup()
	repo := NewWaitlistRepository(db)

	reason := "cancelled by request"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE waitlist_entries SET status = $2")).
		WithArgs("w1", models.WaitlistStatusCancelled, nil, reason, sqlmock.AnyArg(), models.WaitlistStatusWaiting).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Resolve(context.Background(), "w1", models.WaitlistStatusCancelled, nil, &reason)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
