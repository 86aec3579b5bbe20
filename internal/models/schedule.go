package models

import "time"

// AssignmentStatus represents the state of a schedule assignment.
type AssignmentStatus string

// Possible assignment statuses.
const (
	AssignmentStatusActive    AssignmentStatus = "ACTIVE"
	AssignmentStatusCancelled AssignmentStatus = "CANCELLED"
)

// ScheduleAssignment places a section in a room for a weekly period range.
// A section may carry several assignments (one per weekly meeting).
type ScheduleAssignment struct {
	ID          string           `db:"id" json:"id"`
	SectionID   string           `db:"section_id" json:"section_id"`
	RoomID      string           `db:"room_id" json:"room_id"`
	DayOfWeek   int              `db:"day_of_week" json:"day_of_week"`
	StartPeriod int              `db:"start_period" json:"start_period"`
	EndPeriod   int              `db:"end_period" json:"end_period"`
	ValidFrom   *time.Time       `db:"valid_from" json:"valid_from,omitempty"`
	ValidUntil  *time.Time       `db:"valid_until" json:"valid_until,omitempty"`
	Status      AssignmentStatus `db:"status" json:"status"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// Meeting source markers for the unified schedule view.
const (
	MeetingSourceAssignment = "assignment"
	MeetingSourceLegacy     = "legacy"
)

// Meeting is one normalized room/time occupancy, regardless of whether it
// originates from a schedule_assignments row or from the legacy embedded
// fields on the section. Conflict detection only ever sees this shape.
type Meeting struct {
	SectionID    string `db:"section_id" json:"section_id"`
	SectionCode  string `db:"section_code" json:"section_code"`
	RoomID       string `db:"room_id" json:"room_id"`
	InstructorID string `db:"instructor_id" json:"instructor_id"`
	DayOfWeek    int    `db:"day_of_week" json:"day_of_week"`
	StartPeriod  int    `db:"start_period" json:"start_period"`
	EndPeriod    int    `db:"end_period" json:"end_period"`
	Source       string `db:"source" json:"source"`
}

// Overlaps reports whether the meeting's closed period interval intersects
// [startPeriod, endPeriod]. Periods sharing a boundary overlap.
func (m Meeting) Overlaps(startPeriod, endPeriod int) bool {
	return !(endPeriod < m.StartPeriod || startPeriod > m.EndPeriod)
}

// ConflictCandidate describes a prospective placement to validate.
type ConflictCandidate struct {
	RoomID           string `json:"room_id"`
	InstructorID     string `json:"instructor_id"`
	DayOfWeek        int    `json:"day_of_week"`
	StartPeriod      int    `json:"start_period"`
	EndPeriod        int    `json:"end_period"`
	Semester         int    `json:"semester"`
	AcademicYear     string `json:"academic_year"`
	ExcludeSectionID string `json:"exclude_section_id,omitempty"`
}

// ConflictKind distinguishes room from instructor collisions.
type ConflictKind string

// Possible conflict kinds.
const (
	ConflictKindRoom       ConflictKind = "ROOM"
	ConflictKindInstructor ConflictKind = "INSTRUCTOR"
)

// Conflict reports one colliding occupancy.
type Conflict struct {
	Kind    ConflictKind `json:"kind"`
	Meeting Meeting      `json:"meeting"`
}
