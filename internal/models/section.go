package models

import "time"

// SectionStatus represents the lifecycle state of a section.
type SectionStatus string

// Possible section statuses.
const (
	SectionStatusDraft     SectionStatus = "DRAFT"
	SectionStatusScheduled SectionStatus = "SCHEDULED"
	SectionStatusPublished SectionStatus = "PUBLISHED"
	SectionStatusLocked    SectionStatus = "LOCKED"
	SectionStatusCompleted SectionStatus = "COMPLETED"
	SectionStatusCancelled SectionStatus = "CANCELLED"
)

var sectionStatusTransitions = map[SectionStatus][]SectionStatus{
	SectionStatusDraft:     {SectionStatusScheduled, SectionStatusPublished, SectionStatusCancelled},
	SectionStatusScheduled: {SectionStatusPublished, SectionStatusCancelled},
	SectionStatusPublished: {SectionStatusLocked, SectionStatusCompleted, SectionStatusCancelled},
	SectionStatusLocked:    {SectionStatusCompleted, SectionStatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to SectionStatus) bool {
	for _, allowed := range sectionStatusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidSectionStatus reports whether the value is a known status.
func ValidSectionStatus(s SectionStatus) bool {
	switch s {
	case SectionStatusDraft, SectionStatusScheduled, SectionStatusPublished,
		SectionStatusLocked, SectionStatusCompleted, SectionStatusCancelled:
		return true
	}
	return false
}

// Section is one scheduled offering of a subject in a term.
// The legacy_* columns hold the embedded single-meeting schedule older
// records were created with; newer records use schedule_assignments rows.
type Section struct {
	ID                string        `db:"id" json:"id"`
	Code              string        `db:"code" json:"code"`
	SubjectID         string        `db:"subject_id" json:"subject_id"`
	InstructorID      string        `db:"instructor_id" json:"instructor_id"`
	MaxCapacity       int           `db:"max_capacity" json:"max_capacity"`
	CurrentEnrollment int           `db:"current_enrollment" json:"current_enrollment"`
	Semester          int           `db:"semester" json:"semester"`
	AcademicYear      string        `db:"academic_year" json:"academic_year"`
	Status            SectionStatus `db:"status" json:"status"`
	LegacyRoomID      *string       `db:"legacy_room_id" json:"legacy_room_id,omitempty"`
	LegacyDayOfWeek   *int          `db:"legacy_day_of_week" json:"legacy_day_of_week,omitempty"`
	LegacyStartPeriod *int          `db:"legacy_start_period" json:"legacy_start_period,omitempty"`
	LegacyEndPeriod   *int          `db:"legacy_end_period" json:"legacy_end_period,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// SectionFilter provides filters for listing sections.
type SectionFilter struct {
	SubjectID    string
	InstructorID string
	Semester     int
	AcademicYear string
	Status       SectionStatus
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// BulkStatusOutcome reports the per-section result of a bulk transition.
type BulkStatusOutcome struct {
	SectionID string `json:"section_id"`
	Error     string `json:"error,omitempty"`
}

// BulkStatusResult summarises a bulk status change.
type BulkStatusResult struct {
	Success []BulkStatusOutcome `json:"success"`
	Failed  []BulkStatusOutcome `json:"failed"`
}

// ReassignmentResult summarises a cohort move between sections.
type ReassignmentResult struct {
	MovedCount   int  `json:"moved_count"`
	SkippedCount int  `json:"skipped_count"`
	SourceClosed bool `json:"source_closed"`
}
