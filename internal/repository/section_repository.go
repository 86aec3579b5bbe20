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

const pqUniqueViolation = "23505"

// ErrSeatsUnavailable signals a guarded capacity update that found no room.
var ErrSeatsUnavailable = errors.New("not enough free seats")

// ErrDuplicateKey signals a unique constraint violation on insert.
var ErrDuplicateKey = errors.New("duplicate key")

// SectionRepository manages persistence for sections, including the seat
// counter. All counter mutations go through TryReserveSeat/ReleaseSeat or the
// reassignment transaction; nothing else writes current_enrollment.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs the repository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

const sectionColumns = `id, code, subject_id, instructor_id, max_capacity, current_enrollment, semester, academic_year, status, legacy_room_id, legacy_day_of_week, legacy_start_period, legacy_end_period, created_at, updated_at`

// List returns sections matching filter criteria.
func (r *SectionRepository) List(ctx context.Context, filter models.SectionFilter) ([]models.Section, int, error) {
	base := "FROM sections WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.SubjectID != "" {
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.Semester > 0 {
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(code) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"code":               true,
		"status":             true,
		"current_enrollment": true,
		"created_at":         true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", sectionColumns, base, sortBy, order, size, offset)
	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sections: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sections: %w", err)
	}
	return sections, total, nil
}

// FindByID returns a section by ID.
func (r *SectionRepository) FindByID(ctx context.Context, id string) (*models.Section, error) {
	query := fmt.Sprintf("SELECT %s FROM sections WHERE id = $1", sectionColumns)
	var section models.Section
	if err := r.db.GetContext(ctx, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// Create persists a new section.
func (r *SectionRepository) Create(ctx context.Context, section *models.Section) error {
	if section.ID == "" {
		section.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if section.CreatedAt.IsZero() {
		section.CreatedAt = now
	}
	section.UpdatedAt = now
	if section.Status == "" {
		section.Status = models.SectionStatusDraft
	}

	const query = `INSERT INTO sections (id, code, subject_id, instructor_id, max_capacity, current_enrollment, semester, academic_year, status, legacy_room_id, legacy_day_of_week, legacy_start_period, legacy_end_period, created_at, updated_at)
        VALUES (:id, :code, :subject_id, :instructor_id, :max_capacity, :current_enrollment, :semester, :academic_year, :status, :legacy_room_id, :legacy_day_of_week, :legacy_start_period, :legacy_end_period, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, section); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create section: %w", err)
	}
	return nil
}

// TryReserveSeat atomically claims one seat if the section is below capacity.
// The guard lives in the WHERE clause so concurrent callers can never push
// current_enrollment past max_capacity.
func (r *SectionRepository) TryReserveSeat(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE sections SET current_enrollment = current_enrollment + 1, updated_at = NOW()
        WHERE id = $1 AND current_enrollment < max_capacity`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("reserve seat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve seat rows: %w", err)
	}
	return affected == 1, nil
}

// ReleaseSeat atomically frees one seat, clamped at zero.
func (r *SectionRepository) ReleaseSeat(ctx context.Context, id string) error {
	const query = `UPDATE sections SET current_enrollment = current_enrollment - 1, updated_at = NOW()
        WHERE id = $1 AND current_enrollment > 0`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	return nil
}

// UpdateStatus sets the lifecycle status of a section.
func (r *SectionRepository) UpdateStatus(ctx context.Context, id string, status models.SectionStatus) error {
	const query = `UPDATE sections SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update section status: %w", err)
	}
	return nil
}

// ListOpenBySubjectTerm returns published sections of a subject/term with free
// seats, emptiest first, for waitlist promotion.
func (r *SectionRepository) ListOpenBySubjectTerm(ctx context.Context, subjectID string, semester int, academicYear string) ([]models.Section, error) {
	query := fmt.Sprintf(`SELECT %s FROM sections
        WHERE subject_id = $1 AND semester = $2 AND academic_year = $3 AND status = $4 AND current_enrollment < max_capacity
        ORDER BY current_enrollment ASC, code ASC`, sectionColumns)
	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, query, subjectID, semester, academicYear, models.SectionStatusPublished); err != nil {
		return nil, fmt.Errorf("list open sections: %w", err)
	}
	return sections, nil
}

// TransferEnrollments re-points the given enrollments from one section to
// another and adjusts both seat counters as a single transaction. The
// destination increment is guarded by capacity; ErrSeatsUnavailable rolls the
// whole move back.
func (r *SectionRepository) TransferEnrollments(ctx context.Context, fromID, toID string, enrollmentIDs []string) error {
	if len(enrollmentIDs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	count := len(enrollmentIDs)

	res, execErr := tx.ExecContext(ctx, `UPDATE sections SET current_enrollment = current_enrollment + $2, updated_at = NOW()
        WHERE id = $1 AND current_enrollment + $2 <= max_capacity`, toID, count)
	if execErr != nil {
		err = fmt.Errorf("reserve destination seats: %w", execErr)
		return err
	}
	affected, raErr := res.RowsAffected()
	if raErr != nil {
		err = fmt.Errorf("reserve destination seats rows: %w", raErr)
		return err
	}
	if affected == 0 {
		err = ErrSeatsUnavailable
		return err
	}

	query, args, inErr := sqlx.In(`UPDATE enrollments SET section_id = ? WHERE id IN (?)`, toID, enrollmentIDs)
	if inErr != nil {
		err = fmt.Errorf("expand transfer ids: %w", inErr)
		return err
	}
	if _, execErr := tx.ExecContext(ctx, tx.Rebind(query), args...); execErr != nil {
		err = fmt.Errorf("transfer enrollments: %w", execErr)
		return err
	}

	if _, execErr := tx.ExecContext(ctx, `UPDATE sections SET current_enrollment = GREATEST(current_enrollment - $2, 0), updated_at = NOW()
        WHERE id = $1`, fromID, count); execErr != nil {
		err = fmt.Errorf("release source seats: %w", execErr)
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}
	return nil
}

// CountActiveEnrollments returns the number of ENROLLED rows for a section.
func (r *SectionRepository) CountActiveEnrollments(ctx context.Context, id string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE section_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, id, models.EnrollmentStatusEnrolled); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return count, nil
}
