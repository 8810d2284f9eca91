package file

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/persistence"
)

// RunLogRepository stores run log records as JSON files and prunes each
// automation's window to models.RunLogRetention records on save.
type RunLogRepository struct {
	dir string
	mu  sync.Mutex
}

// NewRunLogRepository creates a new run log repository.
func NewRunLogRepository(root string) *RunLogRepository {
	return &RunLogRepository{dir: filepath.Join(root, "runlogs")}
}

func (r *RunLogRepository) Save(ctx context.Context, runLog *models.RunLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := writeJSON(r.dir, runLog.ID, runLog); err != nil {
		return err
	}

	return r.prune(ctx, runLog.AutomationID)
}

func (r *RunLogRepository) GetByID(_ context.Context, id string) (*models.RunLog, error) {
	var runLog models.RunLog

	found, err := readJSON(r.dir, id, &runLog)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrRunLogNotFound
	}

	return &runLog, nil
}

func (r *RunLogRepository) OpenByEnrollment(ctx context.Context, enrollmentID string) (*models.RunLog, error) {
	all, err := r.list(ctx)
	if err != nil {
		return nil, err
	}

	for _, runLog := range all {
		if runLog.EnrollmentID == enrollmentID && runLog.Status == models.RunStatusRunning {
			return runLog, nil
		}
	}

	return nil, nil
}

func (r *RunLogRepository) ListByAutomation(ctx context.Context, automationID string, limit int) ([]*models.RunLog, error) {
	all, err := r.list(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.RunLog, 0, len(all))

	for _, runLog := range all {
		if runLog.AutomationID == automationID {
			filtered = append(filtered, runLog)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].StartedAt.After(filtered[j].StartedAt)
	})

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}

	return filtered, nil
}

// prune drops the oldest records beyond the retention window. Open records
// are never pruned.
func (r *RunLogRepository) prune(ctx context.Context, automationID string) error {
	all, err := r.ListByAutomation(ctx, automationID, 0)
	if err != nil {
		return err
	}

	if len(all) <= models.RunLogRetention {
		return nil
	}

	for _, runLog := range all[models.RunLogRetention:] {
		if runLog.Status == models.RunStatusRunning {
			continue
		}

		if err := removeFile(filepath.Join(r.dir, runLog.ID+".json")); err != nil {
			return err
		}
	}

	return nil
}

func (r *RunLogRepository) list(_ context.Context) ([]*models.RunLog, error) {
	ids, err := listIDs(r.dir)
	if err != nil {
		return nil, err
	}

	runLogs := make([]*models.RunLog, 0, len(ids))

	for _, id := range ids {
		var runLog models.RunLog

		found, err := readJSON(r.dir, id, &runLog)
		if err != nil {
			return nil, err
		}

		if found {
			runLogs = append(runLogs, &runLog)
		}
	}

	return runLogs, nil
}
