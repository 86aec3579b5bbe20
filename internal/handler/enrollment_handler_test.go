package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-registrar-api/internal/models"
	"github.com/noah-isme/campus-registrar-api/internal/service"
	"github.com/noah-isme/campus-registrar-api/pkg/response"
)

type stubEnrollmentRepo struct {
	created *models.Enrollment
}

func (s *stubEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (s *stubEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	return nil, sql.ErrNoRows
}

func (s *stubEnrollmentRepo) FindByPair(ctx context.Context, sectionID, studentID string) (*models.Enrollment, error) {
	return nil, sql.ErrNoRows
}

func (s *stubEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	enrollment.ID = "e-new"
	s.created = enrollment
	return nil
}

func (s *stubEnrollmentRepo) Reactivate(ctx context.Context, id string, enrolledAt time.Time) (bool, error) {
	return false, nil
}

func (s *stubEnrollmentRepo) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, grade *float64, droppedAt *time.Time) error {
	return nil
}

type stubSeatLedger struct {
	free int
}

func (s *stubSeatLedger) FindByID(ctx context.Context, id string) (*models.Section, error) {
	return &models.Section{ID: id, SubjectID: "sub-1", MaxCapacity: 30, Status: models.SectionStatusPublished}, nil
}

func (s *stubSeatLedger) TryReserveSeat(ctx context.Context, id string) (bool, error) {
	if s.free <= 0 {
		return false, nil
	}
	s.free--
	return true, nil
}

func (s *stubSeatLedger) ReleaseSeat(ctx context.Context, id string) error {
	s.free++
	return nil
}

type stubStudentReader struct{}

func (s *stubStudentReader) FindByID(ctx context.Context, id string) (*models.Student, error) {
	return &models.Student{ID: id, Active: true, AcademicStatus: models.AcademicStatusActive}, nil
}

func newEnrollmentRouter(free int) (*gin.Engine, *stubEnrollmentRepo) {
	gin.SetMode(gin.TestMode)
	repo := &stubEnrollmentRepo{}
	svc := service.NewEnrollmentService(repo, &stubSeatLedger{free: free}, &stubStudentReader{}, nil, nil, validator.New(), zap.NewNop())
	h := NewEnrollmentHandler(svc)

	r := gin.New()
	r.POST("/sections/:id/enroll", h.Enroll)
	return r, repo
}

func TestEnrollmentHandlerEnrollCreated(t *testing.T) {
	r, repo := newEnrollmentRouter(1)

	req := httptest.NewRequest(http.MethodPost, "/sections/sec-1/enroll", strings.NewReader(`{"student_id":"s1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, repo.created)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Nil(t, envelope.Error)
	assert.NotNil(t, envelope.Data)
}

func TestEnrollmentHandlerEnrollCapacityExceeded(t *testing.T) {
	r, repo := newEnrollmentRouter(0)

	req := httptest.NewRequest(http.MethodPost, "/sections/sec-1/enroll", strings.NewReader(`{"student_id":"s1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Nil(t, repo.created)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "CAPACITY_EXCEEDED", envelope.Error.Code)
}

func TestEnrollmentHandlerEnrollRejectsMalformedBody(t *testing.T) {
	r, _ := newEnrollmentRouter(1)

	req := httptest.NewRequest(http.MethodPost, "/sections/sec-1/enroll", strings.NewReader(`{`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
