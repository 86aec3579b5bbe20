package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/campus-registrar-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN students s ON s.id = e.student_id
LEFT JOIN sections sec ON sec.id = e.section_id`
	var conditions []string
	var args []interface{}

	if filter.SectionID != "" {
		conditions = append(conditions, fmt.Sprintf("e.section_id = $%d", len(args)+1))
		args = append(args, filter.SectionID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "s.full_name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.section_id, e.student_id, e.status, e.grade, e.enrolled_at, e.dropped_at,
        s.full_name AS student_name, s.nim AS student_nim, sec.code AS section_code
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, section_id, student_id, status, grade, enrolled_at, dropped_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByPair returns the enrollment row for a (section, student) pair if any.
func (r *EnrollmentRepository) FindByPair(ctx context.Context, sectionID, studentID string) (*models.Enrollment, error) {
	const query = `SELECT id, section_id, student_id, status, grade, enrolled_at, dropped_at FROM enrollments WHERE section_id = $1 AND student_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, sectionID, studentID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// Create persists a new enrollment. The unique (section_id, student_id) key
// turns a concurrent double-enroll into ErrDuplicateKey.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusEnrolled
	}
	const query = `INSERT INTO enrollments (id, section_id, student_id, status, grade, enrolled_at, dropped_at)
        VALUES (:id, :section_id, :student_id, :status, :grade, :enrolled_at, :dropped_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Reactivate flips a dropped row back to ENROLLED. The status guard makes the
// update a no-op if another path already reactivated it; callers check the
// returned flag.
func (r *EnrollmentRepository) Reactivate(ctx context.Context, id string, enrolledAt time.Time) (bool, error) {
	const query = `UPDATE enrollments SET status = $2, enrolled_at = $3, dropped_at = NULL, grade = NULL
        WHERE id = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusEnrolled, enrolledAt, models.EnrollmentStatusDropped)
	if err != nil {
		return false, fmt.Errorf("reactivate enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reactivate enrollment rows: %w", err)
	}
	return affected == 1, nil
}

// UpdateStatus updates status, grade and dropped_at for an enrollment.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, grade *float64, droppedAt *time.Time) error {
	const query = `UPDATE enrollments SET status = $2, grade = $3, dropped_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, grade, droppedAt); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return nil
}

// ListActiveBySection returns ENROLLED rows for a section.
func (r *EnrollmentRepository) ListActiveBySection(ctx context.Context, sectionID string) ([]models.Enrollment, error) {
	const query = `SELECT id, section_id, student_id, status, grade, enrolled_at, dropped_at FROM enrollments WHERE section_id = $1 AND status = $2 ORDER BY enrolled_at ASC`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, sectionID, models.EnrollmentStatusEnrolled); err != nil {
		return nil, fmt.Errorf("list section enrollments: %w", err)
	}
	return enrollments, nil
}

// ExistsActiveBySubject checks whether the student already holds an active
// enrollment in any section of the subject for the term, via any path.
func (r *EnrollmentRepository) ExistsActiveBySubject(ctx context.Context, studentID, subjectID string, semester int, academicYear string) (bool, error) {
	const query = `SELECT 1 FROM enrollments e
        JOIN sections s ON s.id = e.section_id
        WHERE e.student_id = $1 AND s.subject_id = $2 AND s.semester = $3 AND s.academic_year = $4 AND e.status = $5
        LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, subjectID, semester, academicYear, models.EnrollmentStatusEnrolled); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check subject enrollment: %w", err)
	}
	return true, nil
}
