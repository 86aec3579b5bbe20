package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-registrar-api/internal/models"
	appErrors "github.com/noah-isme/campus-registrar-api/pkg/errors"
)

type mockSectionAdminRepo struct {
	sections      map[string]models.Section
	created       *models.Section
	statusUpdates map[string]models.SectionStatus
}

func (m *mockSectionAdminRepo) List(ctx context.Context, filter models.SectionFilter) ([]models.Section, int, error) {
	var list []models.Section
	for _, s := range m.sections {
		list = append(list, s)
	}
	return list, len(list), nil
}

func (m *mockSectionAdminRepo) FindByID(ctx context.Context, id string) (*models.Section, error) {
	if s, ok := m.sections[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSectionAdminRepo) Create(ctx context.Context, section *models.Section) error {
	section.ID = "sec-new"
	m.created = section
	return nil
}

func (m *mockSectionAdminRepo) UpdateStatus(ctx context.Context, id string, status models.SectionStatus) error {
	if m.statusUpdates == nil {
		m.statusUpdates = make(map[string]models.SectionStatus)
	}
	m.statusUpdates[id] = status
	if s, ok := m.sections[id]; ok {
		s.Status = status
		m.sections[id] = s
	}
	return nil
}

type mockRosterReader struct {
	details []models.EnrollmentDetail
}

func (m *mockRosterReader) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return m.details, len(m.details), nil
}

func newSectionFixture(repo *mockSectionAdminRepo, meetings *mockMeetingCounter, roster *mockRosterReader) *SectionService {
	if meetings == nil {
		meetings = &mockMeetingCounter{counts: map[string]int{}}
	}
	if roster == nil {
		roster = &mockRosterReader{}
	}
	subjects := &mockSubjectReader{subjects: map[string]models.Subject{"sub-1": {ID: "sub-1", Code: "CS101"}}}
	return NewSectionService(repo, meetings, subjects, roster, 100, validator.New(), zap.NewNop())
}

func TestSectionServiceCreateUppercasesCode(t *testing.T) {
	repo := &mockSectionAdminRepo{}
	svc := newSectionFixture(repo, nil, nil)

	section, err := svc.Create(context.Background(), CreateSectionRequest{
		Code: "cs101-a", SubjectID: "sub-1", InstructorID: "ins-1", MaxCapacity: 30, Semester: 1, AcademicYear: "2026/2027",
	})
	require.NoError(t, err)
	assert.Equal(t, "CS101-A", section.Code)
	assert.Equal(t, models.SectionStatusDraft, section.Status)
}

func TestSectionServicePublishRequiresSchedule(t *testing.T) {
	repo := &mockSectionAdminRepo{sections: map[string]models.Section{
		"sec-1": {ID: "sec-1", Status: models.SectionStatusScheduled},
	}}
	meetings := &mockMeetingCounter{counts: map[string]int{"sec-1": 0}}
	svc := newSectionFixture(repo, meetings, nil)

	_, err := svc.ChangeStatus(context.Background(), "sec-1", models.SectionStatusPublished)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMissingSchedule.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.statusUpdates)
}

func TestSectionServicePublishWithSchedule(t *testing.T) {
	repo := &mockSectionAdminRepo{sections: map[string]models.Section{
		"sec-1": {ID: "sec-1", Status: models.SectionStatusDraft},
	}}
	meetings := &mockMeetingCounter{counts: map[string]int{"sec-1": 2}}
	svc := newSectionFixture(repo, meetings, nil)

	section, err := svc.ChangeStatus(context.Background(), "sec-1", models.SectionStatusPublished)
	require.NoError(t, err)
	assert.Equal(t, models.SectionStatusPublished, section.Status)
	assert.Equal(t, models.SectionStatusPublished, repo.statusUpdates["sec-1"])
}

func TestSectionServiceRejectsIllegalTransition(t *testing.T) {
	repo := &mockSectionAdminRepo{sections: map[string]models.Section{
		"sec-1": {ID: "sec-1", Status: models.SectionStatusCompleted},
	}}
	svc := newSectionFixture(repo, nil, nil)

	_, err := svc.ChangeStatus(context.Background(), "sec-1", models.SectionStatusPublished)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidStatusTransition.Code, appErr.Code)
	assert.NotNil(t, appErr.Details)
}

func TestSectionServiceBulkStatusProcessesIndependently(t *testing.T) {
	repo := &mockSectionAdminRepo{sections: map[string]models.Section{
		"sec-1": {ID: "sec-1", Status: models.SectionStatusPublished},
		"sec-2": {ID: "sec-2", Status: models.SectionStatusCompleted},
		"sec-3": {ID: "sec-3", Status: models.SectionStatusPublished},
	}}
	svc := newSectionFixture(repo, nil, nil)

	result, err := svc.BulkStatus(context.Background(), BulkStatusRequest{
		SectionIDs: []string{"sec-1", "sec-2", "sec-3"},
		NewStatus:  models.SectionStatusLocked,
	})
	require.NoError(t, err)
	assert.Len(t, result.Success, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "sec-2", result.Failed[0].SectionID)
	assert.NotEmpty(t, result.Failed[0].Error)
}

func TestSectionServiceExportRosterCSV(t *testing.T) {
	repo := &mockSectionAdminRepo{sections: map[string]models.Section{
		"sec-1": {ID: "sec-1", Code: "CS101-A", Status: models.SectionStatusPublished},
	}}
	grade := 8.0
	roster := &mockRosterReader{details: []models.EnrollmentDetail{{
		Enrollment: models.Enrollment{
			ID: "e1", SectionID: "sec-1", StudentID: "s1",
			Status: models.EnrollmentStatusCompleted, Grade: &grade, EnrolledAt: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
		},
		StudentName: "Ana Putri",
		StudentNIM:  "2026001",
	}}}
	svc := newSectionFixture(repo, nil, roster)

	export, err := svc.ExportRoster(context.Background(), "sec-1", "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", export.ContentType)
	assert.Equal(t, "roster-CS101-A.csv", export.Filename)

	body := string(export.Body)
	assert.True(t, strings.HasPrefix(body, "NIM,Student,Status,Grade,Enrolled At"))
	assert.Contains(t, body, "2026001,Ana Putri,COMPLETED,8.00,2026-02-01 09:00")
}

func TestSectionServiceExportRosterUnknownFormat(t *testing.T) {
	repo := &mockSectionAdminRepo{sections: map[string]models.Section{
		"sec-1": {ID: "sec-1", Code: "CS101-A"},
	}}
	svc := newSectionFixture(repo, nil, nil)

	_, err := svc.ExportRoster(context.Background(), "sec-1", "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
