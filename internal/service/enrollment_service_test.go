package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-registrar-api/internal/models"
	"github.com/noah-isme/campus-registrar-api/internal/repository"
	appErrors "github.com/noah-isme/campus-registrar-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	enrollments map[string]models.Enrollment
	pairs       map[string]models.Enrollment
	created     *models.Enrollment
	createErr   error
	reactivated []string
	status      map[string]models.EnrollmentStatus
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) FindByPair(ctx context.Context, sectionID, studentID string) (*models.Enrollment, error) {
	if e, ok := m.pairs[sectionID+"/"+studentID]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if m.createErr != nil {
		return m.createErr
	}
	if enrollment.ID == "" {
		enrollment.ID = "new-enrollment"
	}
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.Enrollment)
	}
	m.enrollments[enrollment.ID] = *enrollment
	m.created = enrollment
	return nil
}

func (m *mockEnrollmentRepo) Reactivate(ctx context.Context, id string, enrolledAt time.Time) (bool, error) {
	m.reactivated = append(m.reactivated, id)
	return true, nil
}

func (m *mockEnrollmentRepo) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, grade *float64, droppedAt *time.Time) error {
	if m.status == nil {
		m.status = make(map[string]models.EnrollmentStatus)
	}
	m.status[id] = status
	return nil
}

type mockSeatLedger struct {
	sections map[string]models.Section
	free     map[string]int
	reserved int
	released int
}

func (m *mockSeatLedger) FindByID(ctx context.Context, id string) (*models.Section, error) {
	if s, ok := m.sections[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSeatLedger) TryReserveSeat(ctx context.Context, id string) (bool, error) {
	if m.free[id] <= 0 {
		return false, nil
	}
	m.free[id]--
	m.reserved++
	return true, nil
}

func (m *mockSeatLedger) ReleaseSeat(ctx context.Context, id string) error {
	m.free[id]++
	m.released++
	return nil
}

type mockStudentReader struct {
	students map[string]models.Student
}

func (m *mockStudentReader) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

type mockTrigger struct {
	fired []string
}

func (m *mockTrigger) TriggerPromotion(subjectID string, semester int, academicYear string) {
	m.fired = append(m.fired, subjectID)
}

func activeStudent(id string) models.Student {
	return models.Student{ID: id, Active: true, AcademicStatus: models.AcademicStatusActive}
}

func publishedSection(id string) models.Section {
	return models.Section{ID: id, SubjectID: "sub-1", Semester: 1, AcademicYear: "2026/2027", MaxCapacity: 30, Status: models.SectionStatusPublished}
}

func TestEnrollmentServiceEnroll(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	ledger := &mockSeatLedger{sections: map[string]models.Section{"sec-1": publishedSection("sec-1")}, free: map[string]int{"sec-1": 1}}
	students := &mockStudentReader{students: map[string]models.Student{"s1": activeStudent("s1")}}
	svc := NewEnrollmentService(repo, ledger, students, nil, nil, validator.New(), zap.NewNop())

	enrollment, err := svc.Enroll(context.Background(), "sec-1", EnrollRequest{StudentID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrollment.Status)
	assert.Equal(t, 1, ledger.reserved)
	assert.NotNil(t, repo.created)
}

func TestEnrollmentServiceEnrollCapacityExceeded(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	ledger := &mockSeatLedger{sections: map[string]models.Section{"sec-1": publishedSection("sec-1")}, free: map[string]int{"sec-1": 0}}
	students := &mockStudentReader{students: map[string]models.Student{"s1": activeStudent("s1")}}
	svc := NewEnrollmentService(repo, ledger, students, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.Enroll(context.Background(), "sec-1", EnrollRequest{StudentID: "s1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.created)
}

func TestEnrollmentServiceEnrollDuplicate(t *testing.T) {
	repo := &mockEnrollmentRepo{pairs: map[string]models.Enrollment{
		"sec-1/s1": {ID: "e1", SectionID: "sec-1", StudentID: "s1", Status: models.EnrollmentStatusEnrolled},
	}}
	ledger := &mockSeatLedger{sections: map[string]models.Section{"sec-1": publishedSection("sec-1")}, free: map[string]int{"sec-1": 5}}
	students := &mockStudentReader{students: map[string]models.Student{"s1": activeStudent("s1")}}
	svc := NewEnrollmentService(repo, ledger, students, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.Enroll(context.Background(), "sec-1", EnrollRequest{StudentID: "s1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, ledger.reserved)
}

func TestEnrollmentServiceEnrollReactivatesDroppedPair(t *testing.T) {
	repo := &mockEnrollmentRepo{pairs: map[string]models.Enrollment{
		"sec-1/s1": {ID: "e1", SectionID: "sec-1", StudentID: "s1", Status: models.EnrollmentStatusDropped},
	}}
	ledger := &mockSeatLedger{sections: map[string]models.Section{"sec-1": publishedSection("sec-1")}, free: map[string]int{"sec-1": 1}}
	students := &mockStudentReader{students: map[string]models.Student{"s1": activeStudent("s1")}}
	svc := NewEnrollmentService(repo, ledger, students, nil, nil, validator.New(), zap.NewNop())

	enrollment, err := svc.Enroll(context.Background(), "sec-1", EnrollRequest{StudentID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrollment.Status)
	assert.Nil(t, enrollment.DroppedAt)
	assert.Contains(t, repo.reactivated, "e1")
	assert.Nil(t, repo.created)
}

func TestEnrollmentServiceEnrollRequiresPublishedSection(t *testing.T) {
	section := publishedSection("sec-1")
	section.Status = models.SectionStatusDraft
	repo := &mockEnrollmentRepo{}
	ledger := &mockSeatLedger{sections: map[string]models.Section{"sec-1": section}, free: map[string]int{"sec-1": 5}}
	students := &mockStudentReader{students: map[string]models.Student{"s1": activeStudent("s1")}}
	svc := NewEnrollmentService(repo, ledger, students, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.Enroll(context.Background(), "sec-1", EnrollRequest{StudentID: "s1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidStatusTransition.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentServiceEnrollReleasesSeatOnCreateFailure(t *testing.T) {
	repo := &mockEnrollmentRepo{createErr: repository.ErrDuplicateKey}
	ledger := &mockSeatLedger{sections: map[string]models.Section{"sec-1": publishedSection("sec-1")}, free: map[string]int{"sec-1": 1}}
	students := &mockStudentReader{students: map[string]models.Student{"s1": activeStudent("s1")}}
	svc := NewEnrollmentService(repo, ledger, students, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.Enroll(context.Background(), "sec-1", EnrollRequest{StudentID: "s1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateEnrollment.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 1, ledger.released)
	assert.Equal(t, 1, ledger.free["sec-1"])
}

func TestEnrollmentServiceDrop(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", SectionID: "sec-1", StudentID: "s1", Status: models.EnrollmentStatusEnrolled},
	}}
	ledger := &mockSeatLedger{sections: map[string]models.Section{"sec-1": publishedSection("sec-1")}, free: map[string]int{"sec-1": 0}}
	trigger := &mockTrigger{}
	svc := NewEnrollmentService(repo, ledger, &mockStudentReader{}, trigger, nil, validator.New(), zap.NewNop())

	enrollment, err := svc.Drop(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusDropped, enrollment.Status)
	assert.NotNil(t, enrollment.DroppedAt)
	assert.Equal(t, 1, ledger.released)
	assert.Equal(t, []string{"sub-1"}, trigger.fired)
}

func TestEnrollmentServiceDropAlreadyResolved(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", SectionID: "sec-1", StudentID: "s1", Status: models.EnrollmentStatusDropped},
	}}
	ledger := &mockSeatLedger{sections: map[string]models.Section{}, free: map[string]int{}}
	svc := NewEnrollmentService(repo, ledger, &mockStudentReader{}, nil, nil, validator.New(), zap.NewNop())

	_, err := svc.Drop(context.Background(), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyResolved.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, ledger.released)
}

func TestEnrollmentServiceCompleteKeepsSeat(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", SectionID: "sec-1", StudentID: "s1", Status: models.EnrollmentStatusEnrolled},
	}}
	ledger := &mockSeatLedger{sections: map[string]models.Section{}, free: map[string]int{}}
	svc := NewEnrollmentService(repo, ledger, &mockStudentReader{}, nil, nil, validator.New(), zap.NewNop())

	grade := 8.5
	enrollment, err := svc.Complete(context.Background(), "e1", CompleteRequest{Grade: &grade})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, enrollment.Status)
	assert.Equal(t, 0, ledger.released)
}

func TestEnrollmentServiceCompleteRejectsOutOfRangeGrade(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	svc := NewEnrollmentService(repo, &mockSeatLedger{}, &mockStudentReader{}, nil, nil, validator.New(), zap.NewNop())

	grade := 11.0
	_, err := svc.Complete(context.Background(), "e1", CompleteRequest{Grade: &grade})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
