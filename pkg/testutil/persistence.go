// Package testutil provides in-memory test doubles shared across package
// tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/persistence"
)

// MemoryPersistence is a thread-safe in-memory persistence.Persistence,
// honoring the same optimistic-version and retention semantics as the real
// stores.
type MemoryPersistence struct {
	automations *memoryAutomationRepository
	enrollments *memoryEnrollmentRepository
	runLogs     *memoryRunLogRepository
}

// NewMemoryPersistence creates an empty in-memory persistence.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		automations: &memoryAutomationRepository{items: map[string]*models.Automation{}},
		enrollments: &memoryEnrollmentRepository{items: map[string]*models.Enrollment{}},
		runLogs:     &memoryRunLogRepository{items: map[string]*models.RunLog{}},
	}
}

func (p *MemoryPersistence) Automations() persistence.AutomationRepository { return p.automations }
func (p *MemoryPersistence) Enrollments() persistence.EnrollmentRepository { return p.enrollments }
func (p *MemoryPersistence) RunLogs() persistence.RunLogRepository         { return p.runLogs }
func (p *MemoryPersistence) HealthCheck(_ context.Context) error           { return nil }
func (p *MemoryPersistence) Close(_ context.Context) error                 { return nil }

type memoryAutomationRepository struct {
	mu    sync.Mutex
	items map[string]*models.Automation
}

func (r *memoryAutomationRepository) List(_ context.Context) ([]*models.Automation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Automation, 0, len(r.items))
	for _, a := range r.items {
		copied := *a
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (r *memoryAutomationRepository) ListByStatus(ctx context.Context, status models.AutomationStatus) ([]*models.Automation, error) {
	all, _ := r.List(ctx)

	out := make([]*models.Automation, 0, len(all))

	for _, a := range all {
		if a.Status == status {
			out = append(out, a)
		}
	}

	return out, nil
}

func (r *memoryAutomationRepository) GetByID(_ context.Context, id string) (*models.Automation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok {
		return nil, persistence.ErrAutomationNotFound
	}

	copied := *a

	return &copied, nil
}

func (r *memoryAutomationRepository) Save(_ context.Context, automation *models.Automation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *automation
	r.items[automation.ID] = &copied

	return nil
}

func (r *memoryAutomationRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return persistence.ErrAutomationNotFound
	}

	delete(r.items, id)

	return nil
}

func (r *memoryAutomationRepository) IncrementStats(_ context.Context, id string, delta models.StatsDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok {
		return persistence.ErrAutomationNotFound
	}

	a.Stats.Runs += delta.Runs
	a.Stats.Successes += delta.Successes
	a.Stats.Failures += delta.Failures
	a.Stats.Rejected += delta.Rejected

	if delta.LastRunAt != nil {
		a.Stats.LastRunAt = delta.LastRunAt
	}

	if delta.LastError != "" {
		a.Stats.LastError = delta.LastError
	}

	return nil
}

type memoryEnrollmentRepository struct {
	mu    sync.Mutex
	items map[string]*models.Enrollment
}

func (r *memoryEnrollmentRepository) Create(_ context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[enrollment.ID]; ok {
		return persistence.NewEnrollmentError("Create", enrollment.ID, persistence.ErrAlreadyExists)
	}

	enrollment.Version = 1
	copied := *enrollment
	r.items[enrollment.ID] = &copied

	return nil
}

func (r *memoryEnrollmentRepository) Save(_ context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.items[enrollment.ID]
	if !ok {
		return persistence.NewEnrollmentError("Save", enrollment.ID, persistence.ErrEnrollmentNotFound)
	}

	if stored.Version != enrollment.Version {
		return persistence.NewEnrollmentError("Save", enrollment.ID, persistence.ErrVersionConflict)
	}

	enrollment.Version++
	copied := *enrollment
	r.items[enrollment.ID] = &copied

	return nil
}

func (r *memoryEnrollmentRepository) GetByID(_ context.Context, id string) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.items[id]
	if !ok {
		return nil, persistence.ErrEnrollmentNotFound
	}

	copied := *e

	return &copied, nil
}

func (r *memoryEnrollmentRepository) ListByAutomation(_ context.Context, automationID string) ([]*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Enrollment, 0)

	for _, e := range r.items {
		if e.AutomationID == automationID {
			copied := *e
			out = append(out, &copied)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

func (r *memoryEnrollmentRepository) ActiveByEntity(_ context.Context, automationID, entityID string) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.items {
		if e.AutomationID == automationID && e.EntityID == entityID && e.Status == models.EnrollmentStatusActive {
			copied := *e

			return &copied, nil
		}
	}

	return nil, nil
}

func (r *memoryEnrollmentRepository) LatestEndedByEntity(_ context.Context, automationID, entityID string) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *models.Enrollment

	for _, e := range r.items {
		if e.AutomationID != automationID || e.EntityID != entityID ||
			!e.Status.IsTerminal() || e.CompletedAt == nil {
			continue
		}

		if latest == nil || e.CompletedAt.After(*latest.CompletedAt) {
			latest = e
		}
	}

	if latest == nil {
		return nil, nil
	}

	copied := *latest

	return &copied, nil
}

func (r *memoryEnrollmentRepository) CountByAutomation(ctx context.Context, automationID string) (int, error) {
	list, _ := r.ListByAutomation(ctx, automationID)

	return len(list), nil
}

func (r *memoryEnrollmentRepository) CountByEntity(_ context.Context, automationID, entityID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0

	for _, e := range r.items {
		if e.AutomationID == automationID && e.EntityID == entityID {
			count++
		}
	}

	return count, nil
}

func (r *memoryEnrollmentRepository) FindDue(_ context.Context, now time.Time) ([]*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Enrollment, 0)

	for _, e := range r.items {
		if e.Status == models.EnrollmentStatusActive && e.ResumeAt != nil && !e.ResumeAt.After(now) {
			copied := *e
			out = append(out, &copied)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ResumeAt.Before(*out[j].ResumeAt) })

	return out, nil
}

type memoryRunLogRepository struct {
	mu    sync.Mutex
	items map[string]*models.RunLog
}

func (r *memoryRunLogRepository) Save(_ context.Context, runLog *models.RunLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *runLog
	copied.Outcomes = append([]models.ActionOutcome(nil), runLog.Outcomes...)
	r.items[runLog.ID] = &copied

	r.prune(runLog.AutomationID)

	return nil
}

func (r *memoryRunLogRepository) GetByID(_ context.Context, id string) (*models.RunLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.items[id]
	if !ok {
		return nil, persistence.ErrRunLogNotFound
	}

	copied := *l

	return &copied, nil
}

func (r *memoryRunLogRepository) OpenByEnrollment(_ context.Context, enrollmentID string) (*models.RunLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.items {
		if l.EnrollmentID == enrollmentID && l.Status == models.RunStatusRunning {
			copied := *l
			copied.Outcomes = append([]models.ActionOutcome(nil), l.Outcomes...)

			return &copied, nil
		}
	}

	return nil, nil
}

func (r *memoryRunLogRepository) ListByAutomation(_ context.Context, automationID string, limit int) ([]*models.RunLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.byAutomation(automationID)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	copies := make([]*models.RunLog, 0, len(out))

	for _, l := range out {
		copied := *l
		copies = append(copies, &copied)
	}

	return copies, nil
}

func (r *memoryRunLogRepository) byAutomation(automationID string) []*models.RunLog {
	out := make([]*models.RunLog, 0)

	for _, l := range r.items {
		if l.AutomationID == automationID {
			out = append(out, l)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })

	return out
}

// prune drops closed records beyond the retention window, newest first.
func (r *memoryRunLogRepository) prune(automationID string) {
	all := r.byAutomation(automationID)
	if len(all) <= models.RunLogRetention {
		return
	}

	for _, l := range all[models.RunLogRetention:] {
		if l.Status != models.RunStatusRunning {
			delete(r.items, l.ID)
		}
	}
}
