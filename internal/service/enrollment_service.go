package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-registrar-api/internal/models"
	"github.com/noah-isme/campus-registrar-api/internal/repository"
	appErrors "github.com/noah-isme/campus-registrar-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByPair(ctx context.Context, sectionID, studentID string) (*models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Reactivate(ctx context.Context, id string, enrolledAt time.Time) (bool, error)
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, grade *float64, droppedAt *time.Time) error
}

type seatLedger interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
	TryReserveSeat(ctx context.Context, id string) (bool, error)
	ReleaseSeat(ctx context.Context, id string) error
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// promotionTrigger schedules a waitlist promotion pass for a subject/term.
// Nil means drops never trigger promotion (batch-only mode).
type promotionTrigger interface {
	TriggerPromotion(subjectID string, semester int, academicYear string)
}

// EnrollRequest describes an enrollment creation payload.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
}

// CompleteRequest carries the optional final grade.
type CompleteRequest struct {
	Grade *float64 `json:"grade" validate:"omitempty,gte=0,lte=10"`
}

// EnrollmentService owns the enrollment state machine. Every seat it takes or
// frees goes through the section repository's guarded counter updates.
type EnrollmentService struct {
	repo      enrollmentRepository
	sections  seatLedger
	students  studentReader
	trigger   promotionTrigger
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, sections seatLedger, students studentReader, trigger promotionTrigger, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, sections: sections, students: students, trigger: trigger, metrics: metrics, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return enrollments, pagination, nil
}

// Enroll registers a student into a section. The seat is claimed through the
// guarded counter before the relation is written; a duplicate-key insert
// releases the seat again so the counter never drifts.
func (s *EnrollmentService) Enroll(ctx context.Context, sectionID string, req EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	section, err := s.sections.FindByID(ctx, sectionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	if section.Status != models.SectionStatusPublished {
		return nil, appErrors.WithDetails(appErrors.ErrInvalidStatusTransition, "section is not open for enrollment",
			map[string]interface{}{"status": section.Status})
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Enrollable() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is not eligible to enroll")
	}

	existing, err := s.repo.FindByPair(ctx, sectionID, req.StudentID)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}

	if existing != nil {
		if existing.Status != models.EnrollmentStatusDropped {
			return nil, appErrors.Clone(appErrors.ErrDuplicateEnrollment, "")
		}
		return s.reenroll(ctx, sectionID, existing)
	}

	ok, err := s.sections.TryReserveSeat(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve seat")
	}
	if !ok {
		s.metrics.RecordCapacityRejected()
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "")
	}

	enrollment := &models.Enrollment{
		SectionID:  sectionID,
		StudentID:  req.StudentID,
		Status:     models.EnrollmentStatusEnrolled,
		EnrolledAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if releaseErr := s.sections.ReleaseSeat(ctx, sectionID); releaseErr != nil {
			s.logger.Error("failed to release seat after create failure",
				zap.String("section_id", sectionID), zap.Error(releaseErr))
		}
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateEnrollment, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	s.metrics.RecordSeatReserved()
	return enrollment, nil
}

// reenroll reactivates a previously dropped relation: the pair stays unique
// forever and the dropped row is the re-enrollment vehicle.
func (s *EnrollmentService) reenroll(ctx context.Context, sectionID string, existing *models.Enrollment) (*models.Enrollment, error) {
	ok, err := s.sections.TryReserveSeat(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve seat")
	}
	if !ok {
		s.metrics.RecordCapacityRejected()
		return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "")
	}

	now := time.Now().UTC()
	reactivated, err := s.repo.Reactivate(ctx, existing.ID, now)
	if err != nil {
		if releaseErr := s.sections.ReleaseSeat(ctx, sectionID); releaseErr != nil {
			s.logger.Error("failed to release seat after reactivate failure",
				zap.String("section_id", sectionID), zap.Error(releaseErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reactivate enrollment")
	}
	if !reactivated {
		// Another path re-enrolled the student between our read and write.
		if releaseErr := s.sections.ReleaseSeat(ctx, sectionID); releaseErr != nil {
			s.logger.Error("failed to release seat after reactivate race",
				zap.String("section_id", sectionID), zap.Error(releaseErr))
		}
		return nil, appErrors.Clone(appErrors.ErrDuplicateEnrollment, "")
	}

	s.metrics.RecordSeatReserved()
	result := *existing
	result.Status = models.EnrollmentStatusEnrolled
	result.EnrolledAt = now
	result.DroppedAt = nil
	result.Grade = nil
	return &result, nil
}

// Drop marks an enrollment dropped and frees its seat. Promotion is not run
// inline; when configured, a background promotion job is enqueued instead.
func (s *EnrollmentService) Drop(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusEnrolled {
		return nil, appErrors.Clone(appErrors.ErrAlreadyResolved, "enrollment already dropped or completed")
	}

	droppedAt := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, id, models.EnrollmentStatusDropped, nil, &droppedAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment status")
	}
	if err := s.sections.ReleaseSeat(ctx, enrollment.SectionID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release seat")
	}

	if s.trigger != nil {
		if section, err := s.sections.FindByID(ctx, enrollment.SectionID); err == nil {
			s.trigger.TriggerPromotion(section.SubjectID, section.Semester, section.AcademicYear)
		} else {
			s.logger.Warn("skipping promotion trigger, section lookup failed",
				zap.String("section_id", enrollment.SectionID), zap.Error(err))
		}
	}

	enrollment.Status = models.EnrollmentStatusDropped
	enrollment.DroppedAt = &droppedAt
	return enrollment, nil
}

// Complete closes an enrollment with an optional grade. The seat is not
// released; the student occupied it through the term.
func (s *EnrollmentService) Complete(ctx context.Context, id string, req CompleteRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "grade must be between 0 and 10")
	}

	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusEnrolled {
		return nil, appErrors.Clone(appErrors.ErrAlreadyResolved, "enrollment already dropped or completed")
	}

	if err := s.repo.UpdateStatus(ctx, id, models.EnrollmentStatusCompleted, req.Grade, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete enrollment")
	}

	enrollment.Status = models.EnrollmentStatusCompleted
	enrollment.Grade = req.Grade
	return enrollment, nil
}
