package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/campus-registrar-api/internal/models"
)

const pqExclusionViolation = "23P01"

// ErrAssignmentOverlap signals the storage-layer overlap guard fired. The
// schedule_assignments table carries a GiST exclusion constraint over
// (room_id, day_of_week, period range) on ACTIVE rows, so when two
// conflict-checks pass concurrently only one insert wins.
var ErrAssignmentOverlap = errors.New("assignment overlaps existing occupancy")

// ScheduleRepository provides persistence for schedule assignments and the
// unified effective-meeting view.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const assignmentColumns = `id, section_id, room_id, day_of_week, start_period, end_period, valid_from, valid_until, status, created_at, updated_at`

// FindByID loads an assignment by id.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.ScheduleAssignment, error) {
	query := fmt.Sprintf("SELECT %s FROM schedule_assignments WHERE id = $1", assignmentColumns)
	var assignment models.ScheduleAssignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// ListBySection returns active assignments for a section ordered by day/period.
func (r *ScheduleRepository) ListBySection(ctx context.Context, sectionID string) ([]models.ScheduleAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedule_assignments WHERE section_id = $1 AND status = $2 ORDER BY day_of_week ASC, start_period ASC`, assignmentColumns)
	var assignments []models.ScheduleAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, sectionID, models.AssignmentStatusActive); err != nil {
		return nil, fmt.Errorf("list section assignments: %w", err)
	}
	return assignments, nil
}

// ListMeetings returns every occupancy for a term and day of week as one
// normalized list: active schedule_assignments rows unioned with the legacy
// embedded schedule fields still present on older sections. Cancelled
// sections contribute nothing from either representation.
func (r *ScheduleRepository) ListMeetings(ctx context.Context, semester int, academicYear string, dayOfWeek int) ([]models.Meeting, error) {
	const query = `SELECT sa.section_id, s.code AS section_code, sa.room_id, s.instructor_id,
        sa.day_of_week, sa.start_period, sa.end_period, 'assignment' AS source
        FROM schedule_assignments sa
        JOIN sections s ON s.id = sa.section_id
        WHERE sa.status = $1 AND sa.day_of_week = $2 AND s.semester = $3 AND s.academic_year = $4 AND s.status <> $5
        UNION ALL
        SELECT s.id, s.code, s.legacy_room_id, s.instructor_id,
        s.legacy_day_of_week, s.legacy_start_period, s.legacy_end_period, 'legacy'
        FROM sections s
        WHERE s.legacy_room_id IS NOT NULL AND s.legacy_day_of_week = $2 AND s.semester = $3 AND s.academic_year = $4 AND s.status <> $5`
	var meetings []models.Meeting
	if err := r.db.SelectContext(ctx, &meetings, query,
		models.AssignmentStatusActive, dayOfWeek, semester, academicYear, models.SectionStatusCancelled); err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	return meetings, nil
}

// CountEffectiveBySection counts a section's active meetings across both
// representations; publishing is gated on this being non-zero.
func (r *ScheduleRepository) CountEffectiveBySection(ctx context.Context, sectionID string) (int, error) {
	const query = `SELECT
        (SELECT COUNT(*) FROM schedule_assignments WHERE section_id = $1 AND status = $2)
        + (SELECT COUNT(*) FROM sections WHERE id = $1 AND legacy_room_id IS NOT NULL)`
	var count int
	if err := r.db.GetContext(ctx, &count, query, sectionID, models.AssignmentStatusActive); err != nil {
		return 0, fmt.Errorf("count effective meetings: %w", err)
	}
	return count, nil
}

// Create stores a new assignment. Constraint violations surface as
// ErrAssignmentOverlap so the losing writer of a concurrent pair fails
// deterministically.
func (r *ScheduleRepository) Create(ctx context.Context, assignment *models.ScheduleAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = now
	}
	assignment.UpdatedAt = now
	if assignment.Status == "" {
		assignment.Status = models.AssignmentStatusActive
	}

	const query = `INSERT INTO schedule_assignments (id, section_id, room_id, day_of_week, start_period, end_period, valid_from, valid_until, status, created_at, updated_at)
        VALUES (:id, :section_id, :room_id, :day_of_week, :start_period, :end_period, :valid_from, :valid_until, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch string(pqErr.Code) {
			case pqUniqueViolation, pqExclusionViolation:
				return ErrAssignmentOverlap
			}
		}
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// Cancel marks an assignment cancelled; cancelled rows leave the effective view.
func (r *ScheduleRepository) Cancel(ctx context.Context, id string) error {
	const query = `UPDATE schedule_assignments SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.AssignmentStatusCancelled); err != nil {
		return fmt.Errorf("cancel assignment: %w", err)
	}
	return nil
}
