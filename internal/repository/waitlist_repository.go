package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/campus-registrar-api/internal/models"
)

// WaitlistRepository handles persistence of waitlist entries.
type WaitlistRepository struct {
	db *sqlx.DB
}

// NewWaitlistRepository constructs the repository.
func NewWaitlistRepository(db *sqlx.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

const waitlistColumns = `id, student_id, subject_id, semester, academic_year, status, section_id, reason, created_at, resolved_at`

// FindByID returns a waitlist entry by ID.
func (r *WaitlistRepository) FindByID(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM waitlist_entries WHERE id = $1", waitlistColumns)
	var entry models.WaitlistEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListWaiting returns WAITING entries for a subject/term in strict arrival
// order; this ordering is the promotion queue.
func (r *WaitlistRepository) ListWaiting(ctx context.Context, subjectID string, semester int, academicYear string) ([]models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries
        WHERE subject_id = $1 AND semester = $2 AND academic_year = $3 AND status = $4
        ORDER BY created_at ASC`, waitlistColumns)
	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, query, subjectID, semester, academicYear, models.WaitlistStatusWaiting); err != nil {
		return nil, fmt.Errorf("list waiting entries: %w", err)
	}
	return entries, nil
}

// HasWaiting checks for an existing WAITING entry for the (student, subject) pair.
func (r *WaitlistRepository) HasWaiting(ctx context.Context, studentID, subjectID string) (bool, error) {
	const query = `SELECT 1 FROM waitlist_entries WHERE student_id = $1 AND subject_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, subjectID, models.WaitlistStatusWaiting); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check waiting entry: %w", err)
	}
	return true, nil
}

// Create persists a new WAITING entry. The partial unique index on
// (student_id, subject_id) WHERE status = 'WAITING' maps races to ErrDuplicateKey.
func (r *WaitlistRepository) Create(ctx context.Context, entry *models.WaitlistEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = models.WaitlistStatusWaiting
	}
	const query = `INSERT INTO waitlist_entries (id, student_id, subject_id, semester, academic_year, status, section_id, reason, created_at, resolved_at)
        VALUES (:id, :student_id, :subject_id, :semester, :academic_year, :status, :section_id, :reason, :created_at, :resolved_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create waitlist entry: %w", err)
	}
	return nil
}

// Resolve finalises an entry. The WAITING guard keeps resolution idempotent;
// an entry already resolved by a concurrent batch is left untouched.
func (r *WaitlistRepository) Resolve(ctx context.Context, id string, status models.WaitlistStatus, sectionID, reason *string) (bool, error) {
	const query = `UPDATE waitlist_entries SET status = $2, section_id = $3, reason = $4, resolved_at = $5
        WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, id, status, sectionID, reason, time.Now().UTC(), models.WaitlistStatusWaiting)
	if err != nil {
		return false, fmt.Errorf("resolve waitlist entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve waitlist entry rows: %w", err)
	}
	return affected == 1, nil
}
