// Package scheduler drives the clock side of the engine: resuming due
// waits and firing schedule triggers.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loopworks/cadence/pkg/engine"
	"github.com/loopworks/cadence/pkg/enrollment"
	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/persistence"
	"github.com/loopworks/cadence/pkg/protocol"
)

const defaultInterval = time.Minute

// Scheduler polls for due enrollments and due schedule triggers on a fixed
// tick. Resumption goes through the executor's lease, so running several
// scheduler instances only costs redundant polls, not double execution.
type Scheduler struct {
	persistence persistence.Persistence
	manager     *enrollment.Manager
	executor    *engine.Executor
	snapshots   protocol.SnapshotSource
	logger      *slog.Logger
	interval    time.Duration

	parser cron.Parser

	// nextRun tracks each schedule automation's next fire time in memory;
	// it is recomputed from the cron expression after a restart.
	nextRun map[string]time.Time

	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.Mutex
	now     func() time.Time
}

// New creates a scheduler. The snapshot source may be nil; schedule-trigger
// enrollments then start with an empty snapshot.
func New(
	store persistence.Persistence,
	manager *enrollment.Manager,
	executor *engine.Executor,
	snapshots protocol.SnapshotSource,
	logger *slog.Logger,
	interval time.Duration,
) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Scheduler{
		persistence: store,
		manager:     manager,
		executor:    executor,
		snapshots:   snapshots,
		logger:      logger.With("module", "scheduler"),
		interval:    interval,
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
		nextRun: make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithClock overrides the scheduler's clock, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now

	return s
}

// Start begins the polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info("Starting scheduler", "interval", s.interval)

	s.ticker = time.NewTicker(s.interval)
	s.done = make(chan bool)
	s.started = true

	go s.poll(ctx)

	return nil
}

// Stop gracefully shuts down the polling loop.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info("Stopping scheduler")

	if s.ticker != nil {
		s.ticker.Stop()
	}

	select {
	case s.done <- true:
	default:
	}

	s.started = false

	return nil
}

func (s *Scheduler) poll(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one polling pass: resume due enrollments, then fire due
// schedule triggers. Exported so tests and operators can drive it directly.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()

	s.resumeDue(ctx, now)
	s.fireSchedules(ctx, now)
}

func (s *Scheduler) resumeDue(ctx context.Context, now time.Time) {
	due, err := s.manager.FindDue(ctx, now)
	if err != nil {
		s.logger.Error("Failed to find due enrollments", "error", err)

		return
	}

	if len(due) > 0 {
		s.logger.Info("Resuming due enrollments", "count", len(due))
	}

	for _, enr := range due {
		if err := s.executor.Run(ctx, enr.ID); err != nil {
			s.logger.Error("Failed to resume enrollment",
				"enrollment_id", enr.ID, "error", err)
		}
	}
}

// fireSchedules evaluates every active schedule-triggered automation's cron
// expression. The first observation of an automation only records its next
// fire time; a freshly published or restarted schedule never fires
// retroactively.
func (s *Scheduler) fireSchedules(ctx context.Context, now time.Time) {
	active, err := s.persistence.Automations().ListByStatus(ctx, models.AutomationStatusActive)
	if err != nil {
		s.logger.Error("Failed to list active automations", "error", err)

		return
	}

	seen := make(map[string]bool, len(active))

	for _, automation := range active {
		if automation.Trigger == nil || !automation.Trigger.Kind.IsTimeBased() {
			continue
		}

		expression := automation.Trigger.ConfigString("cron")

		schedule, err := s.parser.Parse(expression)
		if err != nil {
			s.logger.Warn("Skipping automation with invalid cron expression",
				"automation_id", automation.ID, "cron", expression, "error", err)

			continue
		}

		seen[automation.ID] = true

		next, tracked := s.nextRun[automation.ID]
		if !tracked {
			s.nextRun[automation.ID] = schedule.Next(now)

			continue
		}

		if next.After(now) {
			continue
		}

		s.fire(ctx, automation)
		s.nextRun[automation.ID] = schedule.Next(now)
	}

	// Drop tracking for automations that are no longer active.
	for id := range s.nextRun {
		if !seen[id] {
			delete(s.nextRun, id)
		}
	}
}

// fire enrolls the schedule's configured audience and runs each enrollment
// immediately. The audience is the trigger's entity_ids list; re-entry
// policy still applies per entity.
func (s *Scheduler) fire(ctx context.Context, automation *models.Automation) {
	entityIDs := audience(automation.Trigger)
	if len(entityIDs) == 0 {
		s.logger.Warn("Schedule fired with no audience configured",
			"automation_id", automation.ID)

		return
	}

	s.logger.Info("Schedule fired",
		"automation_id", automation.ID, "audience", len(entityIDs))

	for _, entityID := range entityIDs {
		snapshot := s.snapshotFor(ctx, entityID)

		enr, reason, err := s.manager.Enroll(ctx, automation, entityID, string(models.TriggerKindSchedule), snapshot)
		if err != nil {
			s.logger.Error("Schedule enrollment failed",
				"automation_id", automation.ID, "entity_id", entityID, "error", err)

			continue
		}

		if reason != "" {
			continue
		}

		if err := s.executor.Run(ctx, enr.ID); err != nil {
			s.logger.Error("Schedule run failed",
				"enrollment_id", enr.ID, "error", err)
		}
	}
}

func (s *Scheduler) snapshotFor(ctx context.Context, entityID string) map[string]any {
	if s.snapshots == nil {
		return nil
	}

	snapshot, err := s.snapshots.Snapshot(ctx, entityID)
	if err != nil {
		s.logger.Warn("Failed to fetch entity snapshot for schedule enrollment",
			"entity_id", entityID, "error", err)

		return nil
	}

	return snapshot
}

func audience(trigger *models.Trigger) []string {
	raw, ok := trigger.Configuration["entity_ids"]
	if !ok {
		return nil
	}

	switch values := raw.(type) {
	case []string:
		return values
	case []any:
		out := make([]string, 0, len(values))

		for _, v := range values {
			if id, ok := v.(string); ok {
				out = append(out, id)
			}
		}

		return out
	default:
		return nil
	}
}
