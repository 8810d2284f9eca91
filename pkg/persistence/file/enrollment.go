package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/persistence"
)

// EnrollmentRepository stores enrollments as independent JSON records. The
// repository mutex makes the optimistic version check atomic; concurrent
// savers of the same enrollment see ErrVersionConflict.
type EnrollmentRepository struct {
	dir string
	mu  sync.Mutex
}

// NewEnrollmentRepository creates a new enrollment repository.
func NewEnrollmentRepository(root string) *EnrollmentRepository {
	return &EnrollmentRepository{dir: filepath.Join(root, "enrollments")}
}

func (r *EnrollmentRepository) Create(_ context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var existing models.Enrollment

	found, err := readJSON(r.dir, enrollment.ID, &existing)
	if err != nil {
		return persistence.NewEnrollmentError("Create", enrollment.ID, err)
	}

	if found {
		return persistence.NewEnrollmentError("Create", enrollment.ID, persistence.ErrAlreadyExists)
	}

	enrollment.Version = 1

	return writeJSON(r.dir, enrollment.ID, enrollment)
}

func (r *EnrollmentRepository) Save(_ context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stored models.Enrollment

	found, err := readJSON(r.dir, enrollment.ID, &stored)
	if err != nil {
		return persistence.NewEnrollmentError("Save", enrollment.ID, err)
	}

	if !found {
		return persistence.NewEnrollmentError("Save", enrollment.ID, persistence.ErrEnrollmentNotFound)
	}

	if stored.Version != enrollment.Version {
		return persistence.NewEnrollmentError("Save", enrollment.ID, persistence.ErrVersionConflict)
	}

	enrollment.Version++

	return writeJSON(r.dir, enrollment.ID, enrollment)
}

func (r *EnrollmentRepository) GetByID(_ context.Context, id string) (*models.Enrollment, error) {
	var enrollment models.Enrollment

	found, err := readJSON(r.dir, id, &enrollment)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrEnrollmentNotFound
	}

	return &enrollment, nil
}

func (r *EnrollmentRepository) ListByAutomation(ctx context.Context, automationID string) ([]*models.Enrollment, error) {
	all, err := r.list(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Enrollment, 0, len(all))

	for _, enrollment := range all {
		if enrollment.AutomationID == automationID {
			filtered = append(filtered, enrollment)
		}
	}

	return filtered, nil
}

func (r *EnrollmentRepository) ActiveByEntity(ctx context.Context, automationID, entityID string) (*models.Enrollment, error) {
	all, err := r.list(ctx)
	if err != nil {
		return nil, err
	}

	for _, enrollment := range all {
		if enrollment.AutomationID == automationID &&
			enrollment.EntityID == entityID &&
			enrollment.Status == models.EnrollmentStatusActive {
			return enrollment, nil
		}
	}

	return nil, nil
}

func (r *EnrollmentRepository) LatestEndedByEntity(ctx context.Context, automationID, entityID string) (*models.Enrollment, error) {
	all, err := r.list(ctx)
	if err != nil {
		return nil, err
	}

	var latest *models.Enrollment

	for _, enrollment := range all {
		if enrollment.AutomationID != automationID ||
			enrollment.EntityID != entityID ||
			!enrollment.Status.IsTerminal() ||
			enrollment.CompletedAt == nil {
			continue
		}

		if latest == nil || enrollment.CompletedAt.After(*latest.CompletedAt) {
			latest = enrollment
		}
	}

	return latest, nil
}

func (r *EnrollmentRepository) CountByAutomation(ctx context.Context, automationID string) (int, error) {
	all, err := r.ListByAutomation(ctx, automationID)
	if err != nil {
		return 0, err
	}

	return len(all), nil
}

func (r *EnrollmentRepository) CountByEntity(ctx context.Context, automationID, entityID string) (int, error) {
	all, err := r.list(ctx)
	if err != nil {
		return 0, err
	}

	count := 0

	for _, enrollment := range all {
		if enrollment.AutomationID == automationID && enrollment.EntityID == entityID {
			count++
		}
	}

	return count, nil
}

func (r *EnrollmentRepository) FindDue(ctx context.Context, now time.Time) ([]*models.Enrollment, error) {
	all, err := r.list(ctx)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Enrollment, 0)

	for _, enrollment := range all {
		if enrollment.Status != models.EnrollmentStatusActive || enrollment.ResumeAt == nil {
			continue
		}

		if !enrollment.ResumeAt.After(now) {
			due = append(due, enrollment)
		}
	}

	return due, nil
}

func (r *EnrollmentRepository) list(_ context.Context) ([]*models.Enrollment, error) {
	ids, err := listIDs(r.dir)
	if err != nil {
		return nil, err
	}

	enrollments := make([]*models.Enrollment, 0, len(ids))

	for _, id := range ids {
		var enrollment models.Enrollment

		found, err := readJSON(r.dir, id, &enrollment)
		if err != nil {
			return nil, err
		}

		if found {
			enrollments = append(enrollments, &enrollment)
		}
	}

	return enrollments, nil
}

func removeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}
