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

type waitlistRepository interface {
	FindByID(ctx context.Context, id string) (*models.WaitlistEntry, error)
	ListWaiting(ctx context.Context, subjectID string, semester int, academicYear string) ([]models.WaitlistEntry, error)
	HasWaiting(ctx context.Context, studentID, subjectID string) (bool, error)
	Create(ctx context.Context, entry *models.WaitlistEntry) error
	Resolve(ctx context.Context, id string, status models.WaitlistStatus, sectionID, reason *string) (bool, error)
}

type openSectionLister interface {
	ListOpenBySubjectTerm(ctx context.Context, subjectID string, semester int, academicYear string) ([]models.Section, error)
	TryReserveSeat(ctx context.Context, id string) (bool, error)
	ReleaseSeat(ctx context.Context, id string) error
}

type promotionEnroller interface {
	FindByPair(ctx context.Context, sectionID, studentID string) (*models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Reactivate(ctx context.Context, id string, enrolledAt time.Time) (bool, error)
	ExistsActiveBySubject(ctx context.Context, studentID, subjectID string, semester int, academicYear string) (bool, error)
}

// JoinWaitlistRequest creates a WAITING entry for a subject/term.
type JoinWaitlistRequest struct {
	StudentID    string `json:"student_id" validate:"required"`
	SubjectID    string `json:"subject_id" validate:"required"`
	Semester     int    `json:"semester" validate:"required,gte=1"`
	AcademicYear string `json:"academic_year" validate:"required"`
}

// WaitlistService owns waitlist entries and the FIFO promotion batch.
type WaitlistService struct {
	repo        waitlistRepository
	sections    openSectionLister
	enrollments promotionEnroller
	students    studentReader
	subjects    subjectReader
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewWaitlistService constructs WaitlistService.
func NewWaitlistService(repo waitlistRepository, sections openSectionLister, enrollments promotionEnroller, students studentReader, subjects subjectReader, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *WaitlistService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WaitlistService{
		repo:        repo,
		sections:    sections,
		enrollments: enrollments,
		students:    students,
		subjects:    subjects,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// Join registers a WAITING entry. A student may hold at most one WAITING entry
// per subject and must not already be enrolled in the subject for the term.
func (s *WaitlistService) Join(ctx context.Context, req JoinWaitlistRequest) (*models.WaitlistEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid waitlist payload")
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Enrollable() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student is not eligible to join a waitlist")
	}

	if _, err := s.subjects.FindByID(ctx, req.SubjectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}

	waiting, err := s.repo.HasWaiting(ctx, req.StudentID, req.SubjectID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check waitlist")
	}
	if waiting {
		return nil, appErrors.Clone(appErrors.ErrDuplicateEnrollment, "student is already waiting for this subject")
	}

	enrolled, err := s.enrollments.ExistsActiveBySubject(ctx, req.StudentID, req.SubjectID, req.Semester, req.AcademicYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollments")
	}
	if enrolled {
		return nil, appErrors.Clone(appErrors.ErrDuplicateEnrollment, "student is already enrolled in this subject")
	}

	entry := &models.WaitlistEntry{
		StudentID:    req.StudentID,
		SubjectID:    req.SubjectID,
		Semester:     req.Semester,
		AcademicYear: req.AcademicYear,
		Status:       models.WaitlistStatusWaiting,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateEnrollment, "student is already waiting for this subject")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create waitlist entry")
	}
	return entry, nil
}

// Cancel resolves a WAITING entry as CANCELLED.
func (s *WaitlistService) Cancel(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	entry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "waitlist entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load waitlist entry")
	}

	reason := "cancelled by request"
	ok, err := s.repo.Resolve(ctx, id, models.WaitlistStatusCancelled, nil, &reason)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel waitlist entry")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrAlreadyResolved, "waitlist entry already resolved")
	}

	now := time.Now().UTC()
	entry.Status = models.WaitlistStatusCancelled
	entry.Reason = &reason
	entry.ResolvedAt = &now
	return entry, nil
}

// Promote runs one promotion batch for a subject/term. Entries are processed
// in strict arrival order; each gets the emptiest open section with a free
// seat. Entries that find no seat stay WAITING, so the batch is idempotent and
// safe to re-run at any time.
func (s *WaitlistService) Promote(ctx context.Context, subjectID string, semester int, academicYear string) (*models.PromotionSummary, error) {
	entries, err := s.repo.ListWaiting(ctx, subjectID, semester, academicYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list waitlist")
	}

	summary := &models.PromotionSummary{Outcomes: []models.PromotionOutcome{}}
	if len(entries) == 0 {
		return summary, nil
	}

	sections, err := s.sections.ListOpenBySubjectTerm(ctx, subjectID, semester, academicYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list open sections")
	}

	for _, entry := range entries {
		outcome := s.promoteOne(ctx, entry, sections)
		summary.Processed++
		if outcome.Outcome == models.PromotionOutcomeEnrolled {
			summary.Enrolled++
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
		s.metrics.RecordPromotionOutcome(outcome.Outcome)
	}
	return summary, nil
}

// promoteOne settles one entry. The local CurrentEnrollment counters track
// seats this batch already took; the DB guard remains the source of truth.
func (s *WaitlistService) promoteOne(ctx context.Context, entry models.WaitlistEntry, sections []models.Section) models.PromotionOutcome {
	outcome := models.PromotionOutcome{EntryID: entry.ID, StudentID: entry.StudentID}

	student, err := s.students.FindByID(ctx, entry.StudentID)
	if err != nil || !student.Enrollable() {
		reason := "student is no longer eligible"
		if err != nil {
			reason = "student record unavailable"
		}
		return s.cancelEntry(ctx, outcome, entry.ID, reason)
	}

	enrolled, err := s.enrollments.ExistsActiveBySubject(ctx, entry.StudentID, entry.SubjectID, entry.Semester, entry.AcademicYear)
	if err != nil {
		s.logger.Error("promotion enrollment check failed", zap.String("entry_id", entry.ID), zap.Error(err))
		outcome.Outcome = models.PromotionOutcomeNoSlot
		outcome.Reason = "enrollment check failed"
		return outcome
	}
	if enrolled {
		return s.cancelEntry(ctx, outcome, entry.ID, "student already enrolled in subject")
	}

	for i := range sections {
		section := &sections[i]
		if section.CurrentEnrollment >= section.MaxCapacity {
			continue
		}
		if s.enrollStudent(ctx, section, entry.StudentID) {
			section.CurrentEnrollment++
			if ok, err := s.repo.Resolve(ctx, entry.ID, models.WaitlistStatusEnrolled, &section.ID, nil); err != nil || !ok {
				s.logger.Warn("promoted entry could not be resolved",
					zap.String("entry_id", entry.ID), zap.Error(err))
			}
			outcome.Outcome = models.PromotionOutcomeEnrolled
			outcome.SectionID = section.ID
			return outcome
		}
	}

	outcome.Outcome = models.PromotionOutcomeNoSlot
	outcome.Reason = "no section with free seats"
	return outcome
}

// enrollStudent claims a seat and writes the enrollment, reusing a dropped row
// when the pair already exists. Returns false when the section cannot take the
// student; the caller tries the next section.
func (s *WaitlistService) enrollStudent(ctx context.Context, section *models.Section, studentID string) bool {
	existing, err := s.enrollments.FindByPair(ctx, section.ID, studentID)
	if err != nil && err != sql.ErrNoRows {
		s.logger.Error("promotion pair lookup failed", zap.String("section_id", section.ID), zap.Error(err))
		return false
	}
	if existing != nil && existing.Status != models.EnrollmentStatusDropped {
		// Already holds a row here; another section must take them.
		return false
	}

	ok, err := s.sections.TryReserveSeat(ctx, section.ID)
	if err != nil {
		s.logger.Error("promotion seat reservation failed", zap.String("section_id", section.ID), zap.Error(err))
		return false
	}
	if !ok {
		s.metrics.RecordCapacityRejected()
		return false
	}

	now := time.Now().UTC()
	if existing != nil {
		reactivated, err := s.enrollments.Reactivate(ctx, existing.ID, now)
		if err != nil || !reactivated {
			s.releaseAfterFailure(ctx, section.ID, err)
			return false
		}
	} else {
		enrollment := &models.Enrollment{
			SectionID:  section.ID,
			StudentID:  studentID,
			Status:     models.EnrollmentStatusEnrolled,
			EnrolledAt: now,
		}
		if err := s.enrollments.Create(ctx, enrollment); err != nil {
			s.releaseAfterFailure(ctx, section.ID, err)
			return false
		}
	}

	s.metrics.RecordSeatReserved()
	return true
}

func (s *WaitlistService) releaseAfterFailure(ctx context.Context, sectionID string, cause error) {
	if cause != nil {
		s.logger.Error("promotion enrollment write failed", zap.String("section_id", sectionID), zap.Error(cause))
	}
	if err := s.sections.ReleaseSeat(ctx, sectionID); err != nil {
		s.logger.Error("failed to release seat after promotion failure",
			zap.String("section_id", sectionID), zap.Error(err))
	}
}

func (s *WaitlistService) cancelEntry(ctx context.Context, outcome models.PromotionOutcome, entryID, reason string) models.PromotionOutcome {
	if ok, err := s.repo.Resolve(ctx, entryID, models.WaitlistStatusCancelled, nil, &reason); err != nil || !ok {
		s.logger.Warn("failed to cancel waitlist entry during promotion",
			zap.String("entry_id", entryID), zap.Error(err))
	}
	outcome.Outcome = models.PromotionOutcomeCancelled
	outcome.Reason = reason
	return outcome
}
