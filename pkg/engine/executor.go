// Package engine walks enrollments through their automation's action graph:
// claim, execute, suspend or terminate, with an auditable trail per run.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loopworks/cadence/pkg/condition"
	"github.com/loopworks/cadence/pkg/enrollment"
	"github.com/loopworks/cadence/pkg/eventbus"
	"github.com/loopworks/cadence/pkg/events"
	"github.com/loopworks/cadence/pkg/lock"
	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/persistence"
	"github.com/loopworks/cadence/pkg/protocol"
	"github.com/loopworks/cadence/pkg/registry"
)

// HopBudget caps the actions executed per invocation. A graph that burns
// through it without suspending or ending is treated as an unbounded cycle
// and the enrollment is failed.
const HopBudget = 50

const (
	defaultLeaseTTL   = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// Config tunes one executor instance.
type Config struct {
	WorkerID   string
	LeaseTTL   time.Duration
	MaxRetries int // transient retries per mutating action
	RetryDelay time.Duration
}

// Executor advances one enrollment at a time under a lease, so two workers
// never race on the same cursor.
type Executor struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	manager     *enrollment.Manager
	locker      lock.Locker
	snapshots   protocol.SnapshotSource
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	config      Config
	now         func() time.Time
	sleep       func(time.Duration)
}

// NewExecutor creates a graph executor. The snapshot source and publisher
// may be nil; without a snapshot source, conditions evaluate against the
// enrollment-time snapshot.
func NewExecutor(
	store persistence.Persistence,
	reg *registry.Registry,
	manager *enrollment.Manager,
	locker lock.Locker,
	snapshots protocol.SnapshotSource,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	config Config,
) *Executor {
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaultLeaseTTL
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	} else if config.MaxRetries == 0 {
		config.MaxRetries = defaultMaxRetries
	}

	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}

	return &Executor{
		persistence: store,
		registry:    reg,
		manager:     manager,
		locker:      locker,
		snapshots:   snapshots,
		publisher:   publisher,
		logger:      logger.With("module", "graph_executor", "worker_id", config.WorkerID),
		config:      config,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// WithClock overrides the executor's clock and sleep, for tests.
func (e *Executor) WithClock(now func() time.Time, sleep func(time.Duration)) *Executor {
	e.now = now
	e.sleep = sleep

	return e
}

// Run claims the enrollment and advances it until it suspends, terminates,
// or exhausts the hop budget. Contention and stale versions are skips, not
// errors: whoever holds the lease wins and everyone else walks away.
func (e *Executor) Run(ctx context.Context, enrollmentID string) error {
	release, acquired, err := e.locker.Acquire(ctx, "enrollment:"+enrollmentID, e.config.LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire enrollment lease: %w", err)
	}

	if !acquired {
		e.logger.DebugContext(ctx, "Enrollment claimed by another worker", "enrollment_id", enrollmentID)

		return nil
	}

	defer release()

	enr, err := e.persistence.Enrollments().GetByID(ctx, enrollmentID)
	if err != nil {
		return fmt.Errorf("failed to load enrollment: %w", err)
	}

	if enr.Status.IsTerminal() {
		return nil
	}

	automation, err := e.persistence.Automations().GetByID(ctx, enr.AutomationID)
	if err != nil {
		return fmt.Errorf("failed to load automation: %w", err)
	}

	logger := e.logger.With("enrollment_id", enr.ID, "automation_id", automation.ID, "entity_id", enr.EntityID)

	runLog, err := e.openRunLog(ctx, enr, automation)
	if err != nil {
		return err
	}

	if automation.Status == models.AutomationStatusArchived {
		return e.cancel(ctx, enr, runLog, "automation_archived")
	}

	if !automation.IsRunnable() {
		logger.DebugContext(ctx, "Automation not runnable, holding position", "status", automation.Status)

		return nil
	}

	resuming := enr.ResumeAt != nil
	if resuming {
		if enr.ResumeAt.After(e.now()) {
			return nil
		}

		enr.ResumeAt = nil

		e.publishEvent(ctx, automation.ID, events.RunResumed{
			BaseEvent:    events.NewBaseEvent(events.RunResumedEvent, automation.ID),
			EnrollmentID: enr.ID,
			EntityID:     enr.EntityID,
			ActionID:     enr.CurrentActionID,
		})

		// A wait with no successor: the path ended at suspension time.
		if enr.CurrentActionID == "" {
			return e.complete(ctx, enr, runLog)
		}
	}

	if enr.CurrentActionID == "" {
		enr.CurrentActionID = automation.EntryActionID()
	}

	snapshot := e.refreshSnapshot(ctx, enr, logger)

	return e.advance(ctx, enr, automation, runLog, snapshot, logger)
}

// advance is the hop loop. The automation is re-fetched every hop so a
// pause or archive lands between actions, never mid-action.
func (e *Executor) advance(
	ctx context.Context,
	enr *models.Enrollment,
	automation *models.Automation,
	runLog *models.RunLog,
	snapshot map[string]any,
	logger *slog.Logger,
) error {
	index := automation.ActionIndex()

	for hop := 0; hop < HopBudget; hop++ {
		if hop > 0 {
			fresh, err := e.persistence.Automations().GetByID(ctx, automation.ID)
			if err != nil {
				return fmt.Errorf("failed to reload automation: %w", err)
			}

			if fresh.Status == models.AutomationStatusArchived {
				return e.cancel(ctx, enr, runLog, "automation_archived")
			}

			if !fresh.IsRunnable() {
				logger.InfoContext(ctx, "Automation deactivated mid-run, holding position",
					"status", fresh.Status, "action_id", enr.CurrentActionID)

				return e.hold(ctx, enr, runLog)
			}
		}

		if enr.CurrentActionID == "" {
			return e.complete(ctx, enr, runLog)
		}

		action, ok := index[enr.CurrentActionID]
		if !ok {
			runLog.Append(models.ActionOutcome{
				ActionID:  enr.CurrentActionID,
				Status:    models.OutcomeStatusFailed,
				Timestamp: e.now().UTC(),
				Error:     "action not found in graph",
			})

			return e.fail(ctx, enr, runLog, "unknown_action: "+enr.CurrentActionID)
		}

		logger.DebugContext(ctx, "Executing action", "action_id", action.ID, "kind", action.Kind, "hop", hop)

		switch action.Kind {
		case models.ActionKindWait:
			return e.suspend(ctx, enr, automation, runLog, action)
		case models.ActionKindCondition:
			enr.CurrentActionID = e.evaluateCondition(enr, action, snapshot, runLog)
		case models.ActionKindSplit:
			enr.CurrentActionID = e.evaluateSplit(enr, action, runLog)
		case models.ActionKindGoto:
			runLog.Append(models.ActionOutcome{
				ActionID:  action.ID,
				Kind:      action.Kind,
				Status:    models.OutcomeStatusSuccess,
				Timestamp: e.now().UTC(),
				Detail:    map[string]any{"target": action.Goto.Target},
			})
			enr.CurrentActionID = action.Goto.Target
		default:
			outcome, actionErr := e.executeMutating(ctx, enr, automation, action, snapshot, logger)
			runLog.Append(outcome)

			if actionErr != nil {
				if automation.Settings.FailurePolicy == models.FailurePolicySkip {
					logger.WarnContext(ctx, "Action failed, skipping per failure policy",
						"action_id", action.ID, "error", actionErr)
					enr.CurrentActionID = action.Next
				} else {
					return e.fail(ctx, enr, runLog, fmt.Sprintf("action %s failed: %v", action.ID, actionErr))
				}
			} else {
				enr.CurrentActionID = action.Next
			}
		}

		if err := e.saveRunLog(ctx, runLog); err != nil {
			logger.WarnContext(ctx, "Failed to save run log", "error", err)
		}
	}

	runLog.Append(models.ActionOutcome{
		ActionID:  enr.CurrentActionID,
		Status:    models.OutcomeStatusFailed,
		Timestamp: e.now().UTC(),
		Error:     fmt.Sprintf("hop budget of %d exceeded, likely an unbounded goto cycle", HopBudget),
	})

	return e.fail(ctx, enr, runLog, "hop_budget_exceeded")
}

// suspend parks the enrollment on the wait action. The cursor moves past
// the wait before suspension, so resumption starts at its successor.
func (e *Executor) suspend(
	ctx context.Context,
	enr *models.Enrollment,
	automation *models.Automation,
	runLog *models.RunLog,
	action *models.Action,
) error {
	resumeAt := enrollment.NextAllowed(e.now().Add(action.Wait.Duration).UTC(), automation.Settings).UTC()

	enr.ResumeAt = &resumeAt
	enr.CurrentActionID = action.Next

	runLog.Append(models.ActionOutcome{
		ActionID:  action.ID,
		Kind:      action.Kind,
		Status:    models.OutcomeStatusSuccess,
		Timestamp: e.now().UTC(),
		Detail:    map[string]any{"resume_at": resumeAt},
	})

	if err := e.saveEnrollment(ctx, enr); err != nil {
		return err
	}

	if err := e.saveRunLog(ctx, runLog); err != nil {
		return err
	}

	e.publishEvent(ctx, automation.ID, events.RunSuspended{
		BaseEvent:    events.NewBaseEvent(events.RunSuspendedEvent, automation.ID),
		EnrollmentID: enr.ID,
		EntityID:     enr.EntityID,
		ActionID:     action.ID,
		ResumeAt:     resumeAt,
	})

	return nil
}

func (e *Executor) evaluateCondition(
	enr *models.Enrollment,
	action *models.Action,
	snapshot map[string]any,
	runLog *models.RunLog,
) string {
	result := condition.Evaluate(action.Condition.Expression, snapshot)

	branch := action.Condition.FalseBranch
	if result.Match {
		branch = action.Condition.TrueBranch
	}

	next := ""
	if len(branch) > 0 {
		next = branch[0]
	}

	runLog.Append(models.ActionOutcome{
		ActionID:  action.ID,
		Kind:      action.Kind,
		Status:    models.OutcomeStatusSuccess,
		Timestamp: e.now().UTC(),
		Detail:    map[string]any{"match": result.Match, "next": next},
		Notes:     result.Notes,
	})

	return next
}

func (e *Executor) evaluateSplit(enr *models.Enrollment, action *models.Action, runLog *models.RunLog) string {
	branch := PickSplitBranch(enr.ID, action.Split)

	next := ""
	if len(branch.Actions) > 0 {
		next = branch.Actions[0]
	}

	runLog.Append(models.ActionOutcome{
		ActionID:  action.ID,
		Kind:      action.Kind,
		Status:    models.OutcomeStatusSuccess,
		Timestamp: e.now().UTC(),
		Detail:    map[string]any{"branch": branch.Name, "next": next},
	})

	return next
}

// executeMutating runs a collaborator with bounded retries. Only transient
// failures are retried; a permanent rejection fails immediately.
func (e *Executor) executeMutating(
	ctx context.Context,
	enr *models.Enrollment,
	automation *models.Automation,
	action *models.Action,
	snapshot map[string]any,
	logger *slog.Logger,
) (models.ActionOutcome, error) {
	collaborator, err := e.registry.CollaboratorFor(action.Kind)
	if err != nil {
		return models.ActionOutcome{
			ActionID:  action.ID,
			Kind:      action.Kind,
			Status:    models.OutcomeStatusFailed,
			Timestamp: e.now().UTC(),
			Error:     err.Error(),
		}, err
	}

	request := protocol.CollaboratorRequest{
		AutomationID: automation.ID,
		EnrollmentID: enr.ID,
		EntityID:     enr.EntityID,
		Action:       action,
		Snapshot:     snapshot,
		Logger:       logger,
	}

	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			e.sleep(e.config.RetryDelay * time.Duration(attempt))
			logger.InfoContext(ctx, "Retrying action",
				"action_id", action.ID, "attempt", attempt, "max_retries", e.config.MaxRetries)
		}

		result, err := collaborator.Execute(ctx, request)
		if err == nil {
			outcome := models.ActionOutcome{
				ActionID:  action.ID,
				Kind:      action.Kind,
				Status:    models.OutcomeStatusSuccess,
				Timestamp: e.now().UTC(),
			}
			if result != nil {
				outcome.Detail = result.Detail
			}

			return outcome, nil
		}

		lastErr = err

		if !protocol.IsTransient(err) {
			break
		}
	}

	return models.ActionOutcome{
		ActionID:  action.ID,
		Kind:      action.Kind,
		Status:    models.OutcomeStatusFailed,
		Timestamp: e.now().UTC(),
		Error:     lastErr.Error(),
	}, lastErr
}

func (e *Executor) complete(ctx context.Context, enr *models.Enrollment, runLog *models.RunLog) error {
	if err := e.manager.Terminate(ctx, enr, models.EnrollmentStatusCompleted, "path_end"); err != nil {
		return e.swallowConflict(ctx, err)
	}

	e.closeRunLog(ctx, runLog, models.RunStatusCompleted, "")

	now := e.now().UTC()
	e.incrementStats(ctx, enr.AutomationID, models.StatsDelta{Runs: 1, Successes: 1, LastRunAt: &now})

	e.publishEvent(ctx, enr.AutomationID, events.RunCompleted{
		BaseEvent:       events.NewBaseEvent(events.RunCompletedEvent, enr.AutomationID),
		EnrollmentID:    enr.ID,
		EntityID:        enr.EntityID,
		ActionsExecuted: len(runLog.Outcomes),
		DurationMs:      now.Sub(runLog.StartedAt).Milliseconds(),
	})

	return nil
}

func (e *Executor) fail(ctx context.Context, enr *models.Enrollment, runLog *models.RunLog, reason string) error {
	if err := e.manager.Terminate(ctx, enr, models.EnrollmentStatusFailed, reason); err != nil {
		return e.swallowConflict(ctx, err)
	}

	e.closeRunLog(ctx, runLog, models.RunStatusFailed, reason)

	now := e.now().UTC()
	e.incrementStats(ctx, enr.AutomationID, models.StatsDelta{
		Runs: 1, Failures: 1, LastRunAt: &now, LastError: reason,
	})

	e.publishEvent(ctx, enr.AutomationID, events.RunFailed{
		BaseEvent:    events.NewBaseEvent(events.RunFailedEvent, enr.AutomationID),
		EnrollmentID: enr.ID,
		EntityID:     enr.EntityID,
		ActionID:     enr.CurrentActionID,
		Error:        reason,
		DurationMs:   now.Sub(runLog.StartedAt).Milliseconds(),
	})

	return nil
}

func (e *Executor) cancel(ctx context.Context, enr *models.Enrollment, runLog *models.RunLog, reason string) error {
	if err := e.manager.Terminate(ctx, enr, models.EnrollmentStatusCancelled, reason); err != nil {
		return e.swallowConflict(ctx, err)
	}

	e.closeRunLog(ctx, runLog, models.RunStatusCancelled, reason)

	return nil
}

// hold persists the cursor without terminating, used when the automation is
// paused mid-run. ResumeAt is set to now so the scheduler keeps offering the
// enrollment; it stays parked until the automation is active again. The run
// log stays open for continuation.
func (e *Executor) hold(ctx context.Context, enr *models.Enrollment, runLog *models.RunLog) error {
	resumeAt := e.now().UTC()
	enr.ResumeAt = &resumeAt

	if err := e.saveEnrollment(ctx, enr); err != nil {
		return err
	}

	return e.saveRunLog(ctx, runLog)
}

func (e *Executor) openRunLog(ctx context.Context, enr *models.Enrollment, automation *models.Automation) (*models.RunLog, error) {
	open, err := e.persistence.RunLogs().OpenByEnrollment(ctx, enr.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open run log: %w", err)
	}

	if open != nil {
		return open, nil
	}

	return &models.RunLog{
		ID:           uuid.New().String(),
		AutomationID: automation.ID,
		EnrollmentID: enr.ID,
		EntityID:     enr.EntityID,
		Status:       models.RunStatusRunning,
		StartedAt:    e.now().UTC(),
	}, nil
}

func (e *Executor) closeRunLog(ctx context.Context, runLog *models.RunLog, status models.RunStatus, errMsg string) {
	now := e.now().UTC()
	runLog.Status = status
	runLog.EndedAt = &now
	runLog.Error = errMsg

	if err := e.saveRunLog(ctx, runLog); err != nil {
		e.logger.WarnContext(ctx, "Failed to close run log", "run_log_id", runLog.ID, "error", err)
	}
}

// refreshSnapshot prefers the entity's current attributes over the frozen
// enrollment snapshot, falling back when the record store is unreachable.
func (e *Executor) refreshSnapshot(ctx context.Context, enr *models.Enrollment, logger *slog.Logger) map[string]any {
	if e.snapshots == nil {
		return enr.Snapshot
	}

	snapshot, err := e.snapshots.Snapshot(ctx, enr.EntityID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to refresh entity snapshot, using enrollment snapshot", "error", err)

		return enr.Snapshot
	}

	return snapshot
}

func (e *Executor) saveEnrollment(ctx context.Context, enr *models.Enrollment) error {
	if err := e.persistence.Enrollments().Save(ctx, enr); err != nil {
		return e.swallowConflict(ctx, err)
	}

	return nil
}

// swallowConflict turns a lost optimistic-version race into a clean skip.
func (e *Executor) swallowConflict(ctx context.Context, err error) error {
	if persistence.IsVersionConflict(err) {
		e.logger.DebugContext(ctx, "Lost version race, skipping", "error", err)

		return nil
	}

	return err
}

func (e *Executor) saveRunLog(ctx context.Context, runLog *models.RunLog) error {
	return e.persistence.RunLogs().Save(ctx, runLog)
}

func (e *Executor) incrementStats(ctx context.Context, automationID string, delta models.StatsDelta) {
	if err := e.persistence.Automations().IncrementStats(ctx, automationID, delta); err != nil {
		e.logger.WarnContext(ctx, "Failed to increment automation stats",
			"automation_id", automationID, "error", err)
	}
}

func (e *Executor) publishEvent(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish run event",
			"event_type", event.GetType(), "error", err)
	}
}
