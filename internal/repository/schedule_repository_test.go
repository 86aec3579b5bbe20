package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-registrar-api/internal/models"
)

func newScheduleRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestScheduleRepositoryListMeetingsUnifiesBothSources(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	rows := sqlmock.NewRows([]string{"section_id", "section_code", "room_id", "instructor_id", "day_of_week", "start_period", "end_period", "source"}).
		AddRow("sec-1", "CS101-A", "R101", "ins-1", 2, 1, 3, models.MeetingSourceAssignment).
		AddRow("sec-2", "CS101-B", "R102", "ins-2", 2, 4, 6, models.MeetingSourceLegacy)

	mock.ExpectQuery("UNION ALL").
		WithArgs(models.AssignmentStatusActive, 2, 1, "2026/2027", models.SectionStatusCancelled).
		WillReturnRows(rows)

	meetings, err := repo.ListMeetings(context.Background(), 1, "2026/2027", 2)
	require.NoError(t, err)
	require.Len(t, meetings, 2)
	require.Equal(t, models.MeetingSourceAssignment, meetings[0].Source)
	require.Equal(t, models.MeetingSourceLegacy, meetings[1].Source)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryCountEffectiveBySection(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM schedule_assignments")).
		WithArgs("sec-1", models.AssignmentStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountEffectiveBySection(context.Background(), "sec-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryCreateMapsExclusionViolation(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectExec("INSERT INTO schedule_assignments").
		WillReturnError(&pq.Error{Code: "23P01"})

	err := repo.Create(context.Background(), &models.ScheduleAssignment{
		SectionID:   "sec-1",
		RoomID:      "R101",
		DayOfWeek:   2,
		StartPeriod: 1,
		EndPeriod:   3,
	})
	require.ErrorIs(t, err, ErrAssignmentOverlap)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepositoryCreateMapsUniqueViolation(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewScheduleRepository(db)

	mock.ExpectExec("INSERT INTO schedule_assignments").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.ScheduleAssignment{SectionID: "sec-1", RoomID: "R101", DayOfWeek: 2, StartPeriod: 1, EndPeriod: 3})
	require.ErrorIs(t, err, ErrAssignmentOverlap)
	require.NoError(t, mock.ExpectationsWereMet())
}
