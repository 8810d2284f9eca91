package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/persistence"
)

// EnrollmentRepository handles enrollment-related database operations. The
// optimistic version check is a conditional UPDATE, so concurrent writers
// of the same enrollment resolve inside the database.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEnrollmentRepository creates a new enrollment repository.
func NewEnrollmentRepository(db *sql.DB, logger *slog.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, logger: logger}
}

const enrollmentColumns = `
	id
  , automation_id
  , entity_id
  , triggered_by
  , status
  , current_action_id
  , resume_at
  , snapshot
  , version
  , termination_reason
  , enrolled_at
  , completed_at
`

func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	snapshot, err := json.Marshal(enrollment.Snapshot)
	if err != nil {
		return persistence.NewEnrollmentError("Create", enrollment.ID, err)
	}

	enrollment.Version = 1

	query := `
		INSERT INTO enrollments (
			id, automation_id, entity_id, triggered_by, status,
			current_action_id, resume_at, snapshot, version,
			termination_reason, enrolled_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.AutomationID,
		enrollment.EntityID,
		enrollment.TriggeredBy,
		string(enrollment.Status),
		enrollment.CurrentActionID,
		enrollment.ResumeAt,
		snapshot,
		enrollment.Version,
		enrollment.TerminationReason,
		enrollment.EnrolledAt,
		enrollment.CompletedAt,
	)
	if err != nil {
		return persistence.NewEnrollmentError("Create", enrollment.ID, err)
	}

	return nil
}

func (r *EnrollmentRepository) Save(ctx context.Context, enrollment *models.Enrollment) error {
	snapshot, err := json.Marshal(enrollment.Snapshot)
	if err != nil {
		return persistence.NewEnrollmentError("Save", enrollment.ID, err)
	}

	query := `
		UPDATE enrollments SET
			status = $3,
			current_action_id = $4,
			resume_at = $5,
			snapshot = $6,
			termination_reason = $7,
			completed_at = $8,
			version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.Version,
		string(enrollment.Status),
		enrollment.CurrentActionID,
		enrollment.ResumeAt,
		snapshot,
		enrollment.TerminationReason,
		enrollment.CompletedAt,
	)
	if err != nil {
		return persistence.NewEnrollmentError("Save", enrollment.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEnrollmentError("Save", enrollment.ID, err)
	}

	if affected == 0 {
		return persistence.NewEnrollmentError("Save", enrollment.ID, persistence.ErrVersionConflict)
	}

	enrollment.Version++

	return nil
}

func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`

	enrollment, err := scanEnrollment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrEnrollmentNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment %s: %w", id, err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) ListByAutomation(ctx context.Context, automationID string) ([]*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE automation_id = $1 ORDER BY enrolled_at DESC`

	return r.queryEnrollments(ctx, query, automationID)
}

func (r *EnrollmentRepository) ActiveByEntity(ctx context.Context, automationID, entityID string) (*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE automation_id = $1 AND entity_id = $2 AND status = 'active'
		LIMIT 1
	`

	enrollment, err := scanEnrollment(r.db.QueryRowContext(ctx, query, automationID, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get active enrollment: %w", err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) LatestEndedByEntity(ctx context.Context, automationID, entityID string) (*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE automation_id = $1 AND entity_id = $2
		  AND status <> 'active' AND completed_at IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT 1
	`

	enrollment, err := scanEnrollment(r.db.QueryRowContext(ctx, query, automationID, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get latest ended enrollment: %w", err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) CountByAutomation(ctx context.Context, automationID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE automation_id = $1`, automationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count enrollments: %w", err)
	}

	return count, nil
}

func (r *EnrollmentRepository) CountByEntity(ctx context.Context, automationID, entityID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE automation_id = $1 AND entity_id = $2`,
		automationID, entityID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count entity enrollments: %w", err)
	}

	return count, nil
}

func (r *EnrollmentRepository) FindDue(ctx context.Context, now time.Time) ([]*models.Enrollment, error) {
	query := `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE status = 'active' AND resume_at IS NOT NULL AND resume_at <= $1
		ORDER BY resume_at ASC
	`

	return r.queryEnrollments(ctx, query, now)
}

func (r *EnrollmentRepository) queryEnrollments(ctx context.Context, query string, args ...any) ([]*models.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

func scanEnrollment(row rowScanner) (*models.Enrollment, error) {
	var (
		enrollment        models.Enrollment
		triggeredBy       sql.NullString
		currentActionID   sql.NullString
		resumeAt          sql.NullTime
		snapshot          []byte
		terminationReason sql.NullString
		completedAt       sql.NullTime
	)

	err := row.Scan(
		&enrollment.ID,
		&enrollment.AutomationID,
		&enrollment.EntityID,
		&triggeredBy,
		&enrollment.Status,
		&currentActionID,
		&resumeAt,
		&snapshot,
		&enrollment.Version,
		&terminationReason,
		&enrollment.EnrolledAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	enrollment.TriggeredBy = triggeredBy.String
	enrollment.CurrentActionID = currentActionID.String
	enrollment.TerminationReason = terminationReason.String

	if resumeAt.Valid {
		enrollment.ResumeAt = &resumeAt.Time
	}

	if completedAt.Valid {
		enrollment.CompletedAt = &completedAt.Time
	}

	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &enrollment.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal enrollment snapshot: %w", err)
		}
	}

	return &enrollment, nil
}
