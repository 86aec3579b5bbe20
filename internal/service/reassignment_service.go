package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-registrar-api/internal/models"
	"github.com/noah-isme/campus-registrar-api/internal/repository"
	appErrors "github.com/noah-isme/campus-registrar-api/pkg/errors"
)

type reassignmentSections interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
	TransferEnrollments(ctx context.Context, fromID, toID string, enrollmentIDs []string) error
	UpdateStatus(ctx context.Context, id string, status models.SectionStatus) error
	CountActiveEnrollments(ctx context.Context, id string) (int, error)
}

type reassignmentEnrollments interface {
	ListActiveBySection(ctx context.Context, sectionID string) ([]models.Enrollment, error)
	FindByPair(ctx context.Context, sectionID, studentID string) (*models.Enrollment, error)
}

// ReassignRequest moves enrollments between two sections of the same
// subject/term. An empty student list moves the whole active roster.
type ReassignRequest struct {
	ToSectionID        string   `json:"to_section_id" validate:"required"`
	StudentIDs         []string `json:"student_ids" validate:"omitempty,dive,required"`
	CloseSourceIfEmpty bool     `json:"close_source_if_empty"`
}

// ReassignmentService moves student cohorts between sections atomically.
type ReassignmentService struct {
	sections    reassignmentSections
	enrollments reassignmentEnrollments
	meetings    meetingCounter
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewReassignmentService constructs ReassignmentService.
func NewReassignmentService(sections reassignmentSections, enrollments reassignmentEnrollments, meetings meetingCounter, validate *validator.Validate, logger *zap.Logger) *ReassignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReassignmentService{
		sections:    sections,
		enrollments: enrollments,
		meetings:    meetings,
		validator:   validate,
		logger:      logger,
	}
}

// Reassign re-points enrollments from one section to another. The row updates
// and both seat counter adjustments commit as a single transaction; a guarded
// destination increment inside that transaction keeps the move all-or-nothing.
func (s *ReassignmentService) Reassign(ctx context.Context, fromID string, req ReassignRequest) (*models.ReassignmentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reassignment payload")
	}
	if fromID == req.ToSectionID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "source and destination sections are the same")
	}

	from, err := s.loadSection(ctx, fromID, "source section not found")
	if err != nil {
		return nil, err
	}
	to, err := s.loadSection(ctx, req.ToSectionID, "destination section not found")
	if err != nil {
		return nil, err
	}

	if from.SubjectID != to.SubjectID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sections teach different subjects")
	}
	if from.Semester != to.Semester || from.AcademicYear != to.AcademicYear {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sections belong to different terms")
	}

	meetings, err := s.meetings.CountEffectiveBySection(ctx, to.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count destination meetings")
	}
	if meetings == 0 {
		return nil, appErrors.Clone(appErrors.ErrMissingSchedule, "destination section has no active schedule")
	}

	active, err := s.enrollments.ListActiveBySection(ctx, fromID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list source enrollments")
	}

	candidates := active
	result := &models.ReassignmentResult{}
	if len(req.StudentIDs) > 0 {
		requested := make(map[string]bool, len(req.StudentIDs))
		for _, id := range req.StudentIDs {
			requested[id] = true
		}
		candidates = candidates[:0:0]
		for _, e := range active {
			if requested[e.StudentID] {
				candidates = append(candidates, e)
				delete(requested, e.StudentID)
			}
		}
		// Requested students without an active source enrollment are skipped.
		result.SkippedCount += len(requested)
	}

	moveIDs := make([]string, 0, len(candidates))
	for _, e := range candidates {
		existing, err := s.enrollments.FindByPair(ctx, to.ID, e.StudentID)
		if err != nil && err != sql.ErrNoRows {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check destination enrollment")
		}
		if existing != nil {
			// Any destination row, active or dropped, blocks the re-point.
			result.SkippedCount++
			continue
		}
		moveIDs = append(moveIDs, e.ID)
	}

	if len(moveIDs) > 0 {
		free := to.MaxCapacity - to.CurrentEnrollment
		if free < len(moveIDs) {
			return nil, appErrors.Clone(appErrors.ErrCapacityExceeded,
				fmt.Sprintf("destination has %d free seats, %d needed", free, len(moveIDs)))
		}

		if err := s.sections.TransferEnrollments(ctx, fromID, to.ID, moveIDs); err != nil {
			if errors.Is(err, repository.ErrSeatsUnavailable) {
				return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "destination filled up during reassignment")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transfer enrollments")
		}
		result.MovedCount = len(moveIDs)
	}

	if req.CloseSourceIfEmpty {
		closed, err := s.closeSourceIfEmpty(ctx, from)
		if err != nil {
			return nil, err
		}
		result.SourceClosed = closed
	}

	s.logger.Info("reassignment completed",
		zap.String("from_section_id", fromID),
		zap.String("to_section_id", to.ID),
		zap.Int("moved", result.MovedCount),
		zap.Int("skipped", result.SkippedCount),
		zap.Bool("source_closed", result.SourceClosed))
	return result, nil
}

func (s *ReassignmentService) loadSection(ctx context.Context, id, notFoundMsg string) (*models.Section, error) {
	section, err := s.sections.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, notFoundMsg)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	return section, nil
}

func (s *ReassignmentService) closeSourceIfEmpty(ctx context.Context, from *models.Section) (bool, error) {
	remaining, err := s.sections.CountActiveEnrollments(ctx, from.ID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count source enrollments")
	}
	if remaining > 0 {
		return false, nil
	}
	if !models.CanTransition(from.Status, models.SectionStatusCancelled) {
		s.logger.Warn("source section empty but not cancellable",
			zap.String("section_id", from.ID), zap.String("status", string(from.Status)))
		return false, nil
	}
	if err := s.sections.UpdateStatus(ctx, from.ID, models.SectionStatusCancelled); err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close source section")
	}
	return true, nil
}
