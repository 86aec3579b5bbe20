package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-registrar-api/internal/models"
	"github.com/noah-isme/campus-registrar-api/internal/repository"
	appErrors "github.com/noah-isme/campus-registrar-api/pkg/errors"
	"github.com/noah-isme/campus-registrar-api/pkg/export"
)

type sectionRepository interface {
	List(ctx context.Context, filter models.SectionFilter) ([]models.Section, int, error)
	FindByID(ctx context.Context, id string) (*models.Section, error)
	Create(ctx context.Context, section *models.Section) error
	UpdateStatus(ctx context.Context, id string, status models.SectionStatus) error
}

type meetingCounter interface {
	CountEffectiveBySection(ctx context.Context, sectionID string) (int, error)
}

type subjectReader interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
}

type rosterReader interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

// CreateSectionRequest describes section creation. The legacy schedule block
// exists for importing older records that predate normalized assignments.
type CreateSectionRequest struct {
	Code              string  `json:"code" validate:"required"`
	SubjectID         string  `json:"subject_id" validate:"required"`
	InstructorID      string  `json:"instructor_id" validate:"required"`
	MaxCapacity       int     `json:"max_capacity" validate:"required,gte=1"`
	Semester          int     `json:"semester" validate:"required,gte=1"`
	AcademicYear      string  `json:"academic_year" validate:"required"`
	LegacyRoomID      *string `json:"legacy_room_id"`
	LegacyDayOfWeek   *int    `json:"legacy_day_of_week" validate:"omitempty,gte=1,lte=7"`
	LegacyStartPeriod *int    `json:"legacy_start_period" validate:"omitempty,gte=1"`
	LegacyEndPeriod   *int    `json:"legacy_end_period" validate:"omitempty,gte=1"`
}

// BulkStatusRequest transitions several sections independently.
type BulkStatusRequest struct {
	SectionIDs []string             `json:"section_ids" validate:"required,min=1,dive,required"`
	NewStatus  models.SectionStatus `json:"new_status" validate:"required"`
}

// Export formats accepted by the roster endpoint.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

// RosterExport carries rendered roster bytes and response metadata.
type RosterExport struct {
	ContentType string
	Filename    string
	Body        []byte
}

// SectionService owns section administration and the status machine.
type SectionService struct {
	repo      sectionRepository
	meetings  meetingCounter
	subjects  subjectReader
	roster    rosterReader
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	maxRows   int
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSectionService constructs SectionService.
func NewSectionService(repo sectionRepository, meetings meetingCounter, subjects subjectReader, roster rosterReader, maxExportRows int, validate *validator.Validate, logger *zap.Logger) *SectionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxExportRows <= 0 {
		maxExportRows = 1000
	}
	return &SectionService{
		repo:      repo,
		meetings:  meetings,
		subjects:  subjects,
		roster:    roster,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		maxRows:   maxExportRows,
		validator: validate,
		logger:    logger,
	}
}

// List returns sections with pagination metadata.
func (s *SectionService) List(ctx context.Context, filter models.SectionFilter) ([]models.Section, *models.Pagination, error) {
	sections, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sections")
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
	return sections, pagination, nil
}

// Get returns one section.
func (s *SectionService) Get(ctx context.Context, id string) (*models.Section, error) {
	section, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	return section, nil
}

// Create registers a new section in DRAFT.
func (s *SectionService) Create(ctx context.Context, req CreateSectionRequest) (*models.Section, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid section payload")
	}
	if _, err := s.subjects.FindByID(ctx, req.SubjectID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}

	section := &models.Section{
		Code:              strings.ToUpper(req.Code),
		SubjectID:         req.SubjectID,
		InstructorID:      req.InstructorID,
		MaxCapacity:       req.MaxCapacity,
		Semester:          req.Semester,
		AcademicYear:      req.AcademicYear,
		Status:            models.SectionStatusDraft,
		LegacyRoomID:      req.LegacyRoomID,
		LegacyDayOfWeek:   req.LegacyDayOfWeek,
		LegacyStartPeriod: req.LegacyStartPeriod,
		LegacyEndPeriod:   req.LegacyEndPeriod,
	}
	if err := s.repo.Create(ctx, section); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "section code already in use")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create section")
	}
	return section, nil
}

// ChangeStatus moves one section through the lifecycle. Publishing requires at
// least one active meeting in either schedule representation.
func (s *SectionService) ChangeStatus(ctx context.Context, id string, newStatus models.SectionStatus) (*models.Section, error) {
	if !models.ValidSectionStatus(newStatus) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", newStatus))
	}

	section, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}

	if !models.CanTransition(section.Status, newStatus) {
		return nil, appErrors.WithDetails(appErrors.ErrInvalidStatusTransition, "",
			map[string]interface{}{"from": section.Status, "to": newStatus})
	}

	if newStatus == models.SectionStatusPublished {
		count, err := s.meetings.CountEffectiveBySection(ctx, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count meetings")
		}
		if count == 0 {
			return nil, appErrors.Clone(appErrors.ErrMissingSchedule, "")
		}
	}

	if err := s.repo.UpdateStatus(ctx, id, newStatus); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update status")
	}

	section.Status = newStatus
	return section, nil
}

// BulkStatus transitions each section independently; one failure never blocks
// the rest.
func (s *SectionService) BulkStatus(ctx context.Context, req BulkStatusRequest) (*models.BulkStatusResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk status payload")
	}

	result := &models.BulkStatusResult{
		Success: []models.BulkStatusOutcome{},
		Failed:  []models.BulkStatusOutcome{},
	}
	for _, id := range req.SectionIDs {
		if _, err := s.ChangeStatus(ctx, id, req.NewStatus); err != nil {
			result.Failed = append(result.Failed, models.BulkStatusOutcome{
				SectionID: id,
				Error:     appErrors.FromError(err).Message,
			})
			continue
		}
		result.Success = append(result.Success, models.BulkStatusOutcome{SectionID: id})
	}
	return result, nil
}

// ExportRoster renders the section's enrollments as CSV or PDF.
func (s *SectionService) ExportRoster(ctx context.Context, sectionID, format string) (*RosterExport, error) {
	section, err := s.Get(ctx, sectionID)
	if err != nil {
		return nil, err
	}

	enrollments, _, err := s.roster.List(ctx, models.EnrollmentFilter{
		SectionID: sectionID,
		PageSize:  s.maxRows,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	headers := []string{"NIM", "Student", "Status", "Grade", "Enrolled At"}
	rows := make([]map[string]string, 0, len(enrollments))
	for _, e := range enrollments {
		grade := ""
		if e.Grade != nil {
			grade = fmt.Sprintf("%.2f", *e.Grade)
		}
		rows = append(rows, map[string]string{
			"NIM":         e.StudentNIM,
			"Student":     e.StudentName,
			"Status":      string(e.Status),
			"Grade":       grade,
			"Enrolled At": e.EnrolledAt.Format("2006-01-02 15:04"),
		})
	}
	dataset := export.Dataset{Headers: headers, Rows: rows}

	switch strings.ToLower(format) {
	case ExportFormatCSV, "":
		body, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &RosterExport{
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("roster-%s.csv", section.Code),
			Body:        body,
		}, nil
	case ExportFormatPDF:
		body, err := s.pdf.Render(dataset, fmt.Sprintf("Roster %s", section.Code))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &RosterExport{
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("roster-%s.pdf", section.Code),
			Body:        body,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
}
