package file

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/persistence"
)

// AutomationRepository stores automation definitions as JSON files.
type AutomationRepository struct {
	dir string
	mu  sync.Mutex
}

// NewAutomationRepository creates a new automation repository.
func NewAutomationRepository(root string) *AutomationRepository {
	return &AutomationRepository{dir: filepath.Join(root, "automations")}
}

func (r *AutomationRepository) List(ctx context.Context) ([]*models.Automation, error) {
	ids, err := listIDs(r.dir)
	if err != nil {
		return nil, err
	}

	automations := make([]*models.Automation, 0, len(ids))

	for _, id := range ids {
		automation, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		automations = append(automations, automation)
	}

	return automations, nil
}

func (r *AutomationRepository) ListByStatus(ctx context.Context, status models.AutomationStatus) ([]*models.Automation, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Automation, 0, len(all))

	for _, automation := range all {
		if automation.Status == status {
			filtered = append(filtered, automation)
		}
	}

	return filtered, nil
}

func (r *AutomationRepository) GetByID(_ context.Context, id string) (*models.Automation, error) {
	var automation models.Automation

	found, err := readJSON(r.dir, id, &automation)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrAutomationNotFound
	}

	return &automation, nil
}

func (r *AutomationRepository) Save(_ context.Context, automation *models.Automation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeJSON(r.dir, automation.ID, automation)
}

func (r *AutomationRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.dir, id+".json")

	return removeFile(path)
}

// IncrementStats applies the delta under the repository lock, which is the
// file store's equivalent of an atomic counter update.
func (r *AutomationRepository) IncrementStats(ctx context.Context, id string, delta models.StatsDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	automation, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	automation.Stats.Runs += delta.Runs
	automation.Stats.Successes += delta.Successes
	automation.Stats.Failures += delta.Failures
	automation.Stats.Rejected += delta.Rejected

	if delta.LastRunAt != nil {
		automation.Stats.LastRunAt = delta.LastRunAt
	}

	if delta.LastError != "" {
		automation.Stats.LastError = delta.LastError
	}

	return writeJSON(r.dir, automation.ID, automation)
}
