package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/persistence"
)

// RunLogRepository handles run log database operations, pruning each
// automation's window to models.RunLogRetention records on save.
type RunLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunLogRepository creates a new run log repository.
func NewRunLogRepository(db *sql.DB, logger *slog.Logger) *RunLogRepository {
	return &RunLogRepository{db: db, logger: logger}
}

const runLogColumns = `
	id
  , automation_id
  , enrollment_id
  , entity_id
  , status
  , started_at
  , ended_at
  , outcomes
  , error
`

func (r *RunLogRepository) Save(ctx context.Context, runLog *models.RunLog) error {
	outcomes, err := json.Marshal(runLog.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal run log outcomes: %w", err)
	}

	query := `
		INSERT INTO run_logs (
			id, automation_id, enrollment_id, entity_id, status,
			started_at, ended_at, outcomes, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			ended_at = EXCLUDED.ended_at,
			outcomes = EXCLUDED.outcomes,
			error = EXCLUDED.error
	`

	_, err = r.db.ExecContext(ctx, query,
		runLog.ID,
		runLog.AutomationID,
		runLog.EnrollmentID,
		runLog.EntityID,
		string(runLog.Status),
		runLog.StartedAt,
		runLog.EndedAt,
		outcomes,
		runLog.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save run log %s: %w", runLog.ID, err)
	}

	return r.prune(ctx, runLog.AutomationID)
}

func (r *RunLogRepository) GetByID(ctx context.Context, id string) (*models.RunLog, error) {
	query := `SELECT ` + runLogColumns + ` FROM run_logs WHERE id = $1`

	runLog, err := scanRunLog(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrRunLogNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get run log %s: %w", id, err)
	}

	return runLog, nil
}

func (r *RunLogRepository) OpenByEnrollment(ctx context.Context, enrollmentID string) (*models.RunLog, error) {
	query := `
		SELECT ` + runLogColumns + `
		FROM run_logs
		WHERE enrollment_id = $1 AND status = 'running'
		LIMIT 1
	`

	runLog, err := scanRunLog(r.db.QueryRowContext(ctx, query, enrollmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get open run log: %w", err)
	}

	return runLog, nil
}

func (r *RunLogRepository) ListByAutomation(ctx context.Context, automationID string, limit int) ([]*models.RunLog, error) {
	query := `
		SELECT ` + runLogColumns + `
		FROM run_logs
		WHERE automation_id = $1
		ORDER BY started_at DESC
	`
	args := []any{automationID}

	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query run logs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runLogs := make([]*models.RunLog, 0)

	for rows.Next() {
		runLog, err := scanRunLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run log: %w", err)
		}

		runLogs = append(runLogs, runLog)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run logs: %w", err)
	}

	return runLogs, nil
}

func (r *RunLogRepository) prune(ctx context.Context, automationID string) error {
	query := `
		DELETE FROM run_logs
		WHERE automation_id = $1
		  AND status <> 'running'
		  AND id NOT IN (
			SELECT id FROM run_logs
			WHERE automation_id = $1
			ORDER BY started_at DESC
			LIMIT $2
		  )
	`

	_, err := r.db.ExecContext(ctx, query, automationID, models.RunLogRetention)
	if err != nil {
		return fmt.Errorf("failed to prune run logs for automation %s: %w", automationID, err)
	}

	return nil
}

func scanRunLog(row rowScanner) (*models.RunLog, error) {
	var (
		runLog   models.RunLog
		endedAt  sql.NullTime
		outcomes []byte
		errText  sql.NullString
	)

	err := row.Scan(
		&runLog.ID,
		&runLog.AutomationID,
		&runLog.EnrollmentID,
		&runLog.EntityID,
		&runLog.Status,
		&runLog.StartedAt,
		&endedAt,
		&outcomes,
		&errText,
	)
	if err != nil {
		return nil, err
	}

	runLog.Error = errText.String

	if endedAt.Valid {
		runLog.EndedAt = &endedAt.Time
	}

	if len(outcomes) > 0 {
		if err := json.Unmarshal(outcomes, &runLog.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run log outcomes: %w", err)
		}
	}

	return &runLog, nil
}
