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

func newSectionRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSectionRepositoryTryReserveSeat(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sections SET current_enrollment = current_enrollment + 1, updated_at = NOW()")).
		WithArgs("sec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.TryReserveSeat(context.Background(), "sec-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryTryReserveSeatFull(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("current_enrollment < max_capacity")).
		WithArgs("sec-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.TryReserveSeat(context.Background(), "sec-1")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryReleaseSeatClampedAtZero(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("current_enrollment > 0")).
		WithArgs("sec-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.ReleaseSeat(context.Background(), "sec-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryListOpenBySubjectTerm(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	rows := sqlmock.NewRows([]string{
		"id", "code", "subject_id", "instructor_id", "max_capacity", "current_enrollment",
		"semester", "academic_year", "status", "legacy_room_id", "legacy_day_of_week",
		"legacy_start_period", "legacy_end_period", "created_at", "updated_at",
	}).AddRow("sec-1", "CS101-A", "sub-1", "ins-1", 30, 12, 1, "2026/2027",
		models.SectionStatusPublished, nil, nil, nil, nil, time.Now(), time.Now())

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY current_enrollment ASC, code ASC")).
		WithArgs("sub-1", 1, "2026/2027", models.SectionStatusPublished).
		WillReturnRows(rows)

	sections, err := repo.ListOpenBySubjectTerm(context.Background(), "sub-1", 1, "2026/2027")
	require.NoError(t, err)
	require.Len(t, sections, 1)
	require.Equal(t, "CS101-A", sections[0].Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryTransferEnrollments(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("current_enrollment + $2 <= max_capacity")).
		WithArgs("to-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE enrollments SET section_id").
		WithArgs("to-1", "e1", "e2").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("GREATEST(current_enrollment - $2, 0)")).
		WithArgs("from-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.TransferEnrollments(context.Background(), "from-1", "to-1", []string{"e1", "e2"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryTransferEnrollmentsRollsBackWhenFull(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("current_enrollment + $2 <= max_capacity")).
		WithArgs("to-1", 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.TransferEnrollments(context.Background(), "from-1", "to-1", []string{"e1", "e2", "e3"})
	require.ErrorIs(t, err, ErrSeatsUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryTransferEnrollmentsNoop(t *testing.T) {
	db, mock, cleanup := newSectionRepoMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	require.NoError(t, repo.TransferEnrollments(context.Background(), "from-1", "to-1", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
