package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-registrar-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryFindByPair(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "section_id", "student_id", "status", "grade", "enrolled_at", "dropped_at"}).
		AddRow("e1", "sec-1", "stu-1", models.EnrollmentStatusDropped, nil, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("WHERE section_id = $1 AND student_id = $2")).
		WithArgs("sec-1", "stu-1").
		WillReturnRows(rows)

	enrollment, err := repo.FindByPair(context.Background(), "sec-1", "stu-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusDropped, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateMapsDuplicateKey(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.Enrollment{SectionID: "sec-1", StudentID: "stu-1"})
	require.ErrorIs(t, err, ErrDuplicateKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryReactivate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("dropped_at = NULL")).
		WithArgs("e1", models.EnrollmentStatusEnrolled, now, models.EnrollmentStatusDropped).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Reactivate(context.Background(), "e1", now)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryReactivateLostRace(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("dropped_at = NULL")).
		WithArgs("e1", models.EnrollmentStatusEnrolled, now, models.EnrollmentStatusDropped).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Reactivate(context.Background(), "e1", now)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsActiveBySubject(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("JOIN sections s ON s.id = e.section_id")).
		WithArgs("stu-1", "sub-1", 1, "2026/2027", models.EnrollmentStatusEnrolled).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))

	exists, err := repo.ExistsActiveBySubject(context.Background(), "stu-1", "sub-1", 1, "2026/2027")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}
