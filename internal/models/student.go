package models

// AcademicStatus values the registrar considers enrollable.
const (
	AcademicStatusActive   = "ACTIVE"
	AcademicStatusOnLeave  = "ON_LEAVE"
	AcademicStatusExpelled = "EXPELLED"
)

// Student is the narrow view of the student directory this engine reads.
type Student struct {
	ID             string `db:"id" json:"id"`
	FullName       string `db:"full_name" json:"full_name"`
	NIM            string `db:"nim" json:"nim"`
	Active         bool   `db:"active" json:"active"`
	AcademicStatus string `db:"academic_status" json:"academic_status"`
}

// Enrollable reports whether the student may receive new enrollments.
func (s Student) Enrollable() bool {
	return s.Active && s.AcademicStatus == AcademicStatusActive
}
