package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-registrar-api/internal/models"
	"github.com/noah-isme/campus-registrar-api/internal/repository"
	appErrors "github.com/noah-isme/campus-registrar-api/pkg/errors"
)

type scheduleRepository interface {
	FindByID(ctx context.Context, id string) (*models.ScheduleAssignment, error)
	ListBySection(ctx context.Context, sectionID string) ([]models.ScheduleAssignment, error)
	ListMeetings(ctx context.Context, semester int, academicYear string, dayOfWeek int) ([]models.Meeting, error)
	CountEffectiveBySection(ctx context.Context, sectionID string) (int, error)
	Create(ctx context.Context, assignment *models.ScheduleAssignment) error
	Cancel(ctx context.Context, id string) error
}

type sectionReader interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
}

type timetableCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateAssignmentRequest describes a prospective section placement.
type CreateAssignmentRequest struct {
	RoomID      string     `json:"room_id" validate:"required"`
	DayOfWeek   int        `json:"day_of_week" validate:"required,gte=1,lte=7"`
	StartPeriod int        `json:"start_period" validate:"required,gte=1"`
	EndPeriod   int        `json:"end_period" validate:"required,gtefield=StartPeriod"`
	ValidFrom   *time.Time `json:"valid_from"`
	ValidUntil  *time.Time `json:"valid_until"`
}

// CheckConflictRequest is the read-only pre-submit validation payload.
type CheckConflictRequest struct {
	RoomID           string `json:"room_id" validate:"required"`
	InstructorID     string `json:"instructor_id" validate:"required"`
	DayOfWeek        int    `json:"day_of_week" validate:"required,gte=1,lte=7"`
	StartPeriod      int    `json:"start_period" validate:"required,gte=1"`
	EndPeriod        int    `json:"end_period" validate:"required,gtefield=StartPeriod"`
	Semester         int    `json:"semester" validate:"required,gte=1"`
	AcademicYear     string `json:"academic_year" validate:"required"`
	ExcludeSectionID string `json:"exclude_section_id"`
}

// CheckConflictResult is returned by the pre-submit check endpoint.
type CheckConflictResult struct {
	HasConflict bool              `json:"has_conflict"`
	Conflicts   []models.Conflict `json:"conflicts"`
}

// Statuses in which a section's schedule may still be edited.
var scheduleEditableStatuses = map[models.SectionStatus]bool{
	models.SectionStatusDraft:     true,
	models.SectionStatusScheduled: true,
	models.SectionStatusPublished: true,
}

// ScheduleService detects room/instructor collisions over the unified meeting
// view and manages schedule assignments.
type ScheduleService struct {
	repo      scheduleRepository
	sections  sectionReader
	cache     timetableCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScheduleService instantiates ScheduleService.
func NewScheduleService(repo scheduleRepository, sections sectionReader, cache timetableCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{repo: repo, sections: sections, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// FindConflicts returns every existing occupancy colliding with the candidate:
// room collisions first, then instructor collisions, both over the same
// unified view so legacy embedded schedules are first-class data.
func (s *ScheduleService) FindConflicts(ctx context.Context, cand models.ConflictCandidate) ([]models.Conflict, error) {
	meetings, err := s.repo.ListMeetings(ctx, cand.Semester, cand.AcademicYear, cand.DayOfWeek)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load meetings")
	}

	var conflicts []models.Conflict
	for _, m := range meetings {
		if m.SectionID == cand.ExcludeSectionID {
			continue
		}
		if m.RoomID == cand.RoomID && m.Overlaps(cand.StartPeriod, cand.EndPeriod) {
			conflicts = append(conflicts, models.Conflict{Kind: models.ConflictKindRoom, Meeting: m})
		}
	}
	for _, m := range meetings {
		if m.SectionID == cand.ExcludeSectionID {
			continue
		}
		if m.InstructorID == cand.InstructorID && m.Overlaps(cand.StartPeriod, cand.EndPeriod) {
			conflicts = append(conflicts, models.Conflict{Kind: models.ConflictKindInstructor, Meeting: m})
		}
	}
	return conflicts, nil
}

// CheckConflict is the read-only validation used by interactive UIs.
func (s *ScheduleService) CheckConflict(ctx context.Context, req CheckConflictRequest) (*CheckConflictResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid conflict check payload")
	}
	conflicts, err := s.FindConflicts(ctx, models.ConflictCandidate{
		RoomID:           req.RoomID,
		InstructorID:     req.InstructorID,
		DayOfWeek:        req.DayOfWeek,
		StartPeriod:      req.StartPeriod,
		EndPeriod:        req.EndPeriod,
		Semester:         req.Semester,
		AcademicYear:     req.AcademicYear,
		ExcludeSectionID: req.ExcludeSectionID,
	})
	if err != nil {
		return nil, err
	}
	return &CheckConflictResult{HasConflict: len(conflicts) > 0, Conflicts: conflicts}, nil
}

// CreateAssignment places a section after conflict detection. The storage
// constraints re-check the overlap, so a concurrent writer that also passed
// the detector loses with ErrScheduleConflict instead of corrupting the grid.
func (s *ScheduleService) CreateAssignment(ctx context.Context, sectionID string, req CreateAssignmentRequest) (*models.ScheduleAssignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	section, err := s.sections.FindByID(ctx, sectionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	if !scheduleEditableStatuses[section.Status] {
		return nil, appErrors.WithDetails(appErrors.ErrInvalidStatusTransition, "section schedule can no longer be edited",
			map[string]interface{}{"status": section.Status})
	}

	conflicts, err := s.FindConflicts(ctx, models.ConflictCandidate{
		RoomID:           req.RoomID,
		InstructorID:     section.InstructorID,
		DayOfWeek:        req.DayOfWeek,
		StartPeriod:      req.StartPeriod,
		EndPeriod:        req.EndPeriod,
		Semester:         section.Semester,
		AcademicYear:     section.AcademicYear,
		ExcludeSectionID: sectionID,
	})
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrScheduleConflict, "", conflicts)
	}

	assignment := &models.ScheduleAssignment{
		SectionID:   sectionID,
		RoomID:      req.RoomID,
		DayOfWeek:   req.DayOfWeek,
		StartPeriod: req.StartPeriod,
		EndPeriod:   req.EndPeriod,
		ValidFrom:   req.ValidFrom,
		ValidUntil:  req.ValidUntil,
		Status:      models.AssignmentStatusActive,
	}
	if err := s.repo.Create(ctx, assignment); err != nil {
		if errors.Is(err, repository.ErrAssignmentOverlap) {
			return nil, appErrors.Clone(appErrors.ErrScheduleConflict, "assignment lost a concurrent placement race")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
	}

	s.invalidateTimetable(ctx, sectionID)
	return assignment, nil
}

// CancelAssignment removes a placement from the effective view.
func (s *ScheduleService) CancelAssignment(ctx context.Context, id string) error {
	assignment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	if assignment.Status == models.AssignmentStatusCancelled {
		return appErrors.Clone(appErrors.ErrAlreadyResolved, "assignment already cancelled")
	}
	if err := s.repo.Cancel(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel assignment")
	}
	s.invalidateTimetable(ctx, assignment.SectionID)
	return nil
}

// SectionTimetable returns the unified meeting list for one section, cached.
func (s *ScheduleService) SectionTimetable(ctx context.Context, sectionID string) ([]models.Meeting, error) {
	key := timetableCacheKey(sectionID)
	if s.cache != nil {
		var cached []models.Meeting
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	section, err := s.sections.FindByID(ctx, sectionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}

	assignments, err := s.repo.ListBySection(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}

	meetings := make([]models.Meeting, 0, len(assignments)+1)
	for _, a := range assignments {
		meetings = append(meetings, models.Meeting{
			SectionID:    section.ID,
			SectionCode:  section.Code,
			RoomID:       a.RoomID,
			InstructorID: section.InstructorID,
			DayOfWeek:    a.DayOfWeek,
			StartPeriod:  a.StartPeriod,
			EndPeriod:    a.EndPeriod,
			Source:       models.MeetingSourceAssignment,
		})
	}
	if section.LegacyRoomID != nil && section.LegacyDayOfWeek != nil && section.LegacyStartPeriod != nil && section.LegacyEndPeriod != nil {
		meetings = append(meetings, models.Meeting{
			SectionID:    section.ID,
			SectionCode:  section.Code,
			RoomID:       *section.LegacyRoomID,
			InstructorID: section.InstructorID,
			DayOfWeek:    *section.LegacyDayOfWeek,
			StartPeriod:  *section.LegacyStartPeriod,
			EndPeriod:    *section.LegacyEndPeriod,
			Source:       models.MeetingSourceLegacy,
		})
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, meetings, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache timetable", zap.String("section_id", sectionID), zap.Error(err))
		}
	}
	return meetings, nil
}

func (s *ScheduleService) invalidateTimetable(ctx context.Context, sectionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, timetableCacheKey(sectionID)); err != nil {
		s.logger.Warn("failed to invalidate timetable cache", zap.String("section_id", sectionID), zap.Error(err))
	}
}

func timetableCacheKey(sectionID string) string {
	return fmt.Sprintf("timetable:%s", sectionID)
}
