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

// AutomationRepository handles automation-related database operations.
// The trigger, action graph and settings live in a JSONB definition column;
// stats counters are dedicated columns so they can be incremented
// atomically instead of read-modify-write on the document.
type AutomationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAutomationRepository creates a new automation repository.
func NewAutomationRepository(db *sql.DB, logger *slog.Logger) *AutomationRepository {
	return &AutomationRepository{db: db, logger: logger}
}

type automationDefinition struct {
	Trigger  *models.Trigger  `json:"trigger"`
	Actions  []*models.Action `json:"actions"`
	Settings models.Settings  `json:"settings"`
}

const automationColumns = `
	id
  , name
  , description
  , status
  , definition
  , webhook_secret
  , runs
  , successes
  , failures
  , rejected
  , last_run_at
  , last_error
  , created_at
  , updated_at
  , published_at
`

func (r *AutomationRepository) List(ctx context.Context) ([]*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations ORDER BY created_at DESC`

	return r.queryAutomations(ctx, query)
}

func (r *AutomationRepository) ListByStatus(ctx context.Context, status models.AutomationStatus) ([]*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE status = $1 ORDER BY created_at DESC`

	return r.queryAutomations(ctx, query, string(status))
}

func (r *AutomationRepository) GetByID(ctx context.Context, id string) (*models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM automations WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)

	automation, err := scanAutomation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrAutomationNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get automation %s: %w", id, err)
	}

	return automation, nil
}

func (r *AutomationRepository) Save(ctx context.Context, automation *models.Automation) error {
	definition, err := json.Marshal(automationDefinition{
		Trigger:  automation.Trigger,
		Actions:  automation.Actions,
		Settings: automation.Settings,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal automation definition: %w", err)
	}

	query := `
		INSERT INTO automations (
			id, name, description, status, definition, webhook_secret,
			created_at, updated_at, published_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			definition = EXCLUDED.definition,
			webhook_secret = EXCLUDED.webhook_secret,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at
	`

	_, err = r.db.ExecContext(ctx, query,
		automation.ID,
		automation.Name,
		automation.Description,
		string(automation.Status),
		definition,
		automation.WebhookSecret,
		automation.CreatedAt,
		automation.UpdatedAt,
		automation.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save automation %s: %w", automation.ID, err)
	}

	return nil
}

func (r *AutomationRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM automations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete automation %s: %w", id, err)
	}

	return nil
}

// IncrementStats applies the delta with a single atomic UPDATE.
func (r *AutomationRepository) IncrementStats(ctx context.Context, id string, delta models.StatsDelta) error {
	query := `
		UPDATE automations SET
			runs = runs + $2,
			successes = successes + $3,
			failures = failures + $4,
			rejected = rejected + $5,
			last_run_at = COALESCE($6, last_run_at),
			last_error = CASE WHEN $7 <> '' THEN $7 ELSE last_error END
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		id, delta.Runs, delta.Successes, delta.Failures, delta.Rejected,
		delta.LastRunAt, delta.LastError)
	if err != nil {
		return fmt.Errorf("failed to increment stats for automation %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrAutomationNotFound
	}

	return nil
}

func (r *AutomationRepository) queryAutomations(ctx context.Context, query string, args ...any) ([]*models.Automation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	automations := make([]*models.Automation, 0)

	for rows.Next() {
		automation, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return automations, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row rowScanner) (*models.Automation, error) {
	var (
		automation    models.Automation
		description   sql.NullString
		definition    []byte
		webhookSecret sql.NullString
		lastRunAt     sql.NullTime
		lastError     sql.NullString
		publishedAt   sql.NullTime
	)

	err := row.Scan(
		&automation.ID,
		&automation.Name,
		&description,
		&automation.Status,
		&definition,
		&webhookSecret,
		&automation.Stats.Runs,
		&automation.Stats.Successes,
		&automation.Stats.Failures,
		&automation.Stats.Rejected,
		&lastRunAt,
		&lastError,
		&automation.CreatedAt,
		&automation.UpdatedAt,
		&publishedAt,
	)
	if err != nil {
		return nil, err
	}

	var def automationDefinition
	if err := json.Unmarshal(definition, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal automation definition: %w", err)
	}

	automation.Description = description.String
	automation.WebhookSecret = webhookSecret.String
	automation.Trigger = def.Trigger
	automation.Actions = def.Actions
	automation.Settings = def.Settings
	automation.Stats.LastError = lastError.String

	if lastRunAt.Valid {
		automation.Stats.LastRunAt = &lastRunAt.Time
	}

	if publishedAt.Valid {
		automation.PublishedAt = &publishedAt.Time
	}

	return &automation, nil
}
