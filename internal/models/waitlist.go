package models

import "time"

// WaitlistStatus represents the state of a waitlist entry.
type WaitlistStatus string

// Possible waitlist statuses.
const (
	WaitlistStatusWaiting   WaitlistStatus = "WAITING"
	WaitlistStatusEnrolled  WaitlistStatus = "ENROLLED"
	WaitlistStatusCancelled WaitlistStatus = "CANCELLED"
)

// WaitlistEntry is a student's standing request to be auto-enrolled into a
// future section of a subject. At most one WAITING entry may exist per
// (student, subject).
type WaitlistEntry struct {
	ID           string         `db:"id" json:"id"`
	StudentID    string         `db:"student_id" json:"student_id"`
	SubjectID    string         `db:"subject_id" json:"subject_id"`
	Semester     int            `db:"semester" json:"semester"`
	AcademicYear string         `db:"academic_year" json:"academic_year"`
	Status       WaitlistStatus `db:"status" json:"status"`
	SectionID    *string        `db:"section_id" json:"section_id,omitempty"`
	Reason       *string        `db:"reason" json:"reason,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	ResolvedAt   *time.Time     `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Promotion outcome codes recorded per processed entry.
const (
	PromotionOutcomeEnrolled  = "ENROLLED"
	PromotionOutcomeCancelled = "CANCELLED"
	PromotionOutcomeNoSlot    = "NO_SLOT"
)

// PromotionOutcome records what happened to one waitlist entry.
type PromotionOutcome struct {
	EntryID   string `json:"entry_id"`
	StudentID string `json:"student_id"`
	Outcome   string `json:"outcome"`
	SectionID string `json:"section_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// PromotionSummary aggregates a promotion batch.
type PromotionSummary struct {
	Processed int                `json:"processed"`
	Enrolled  int                `json:"enrolled"`
	Outcomes  []PromotionOutcome `json:"outcomes"`
}
