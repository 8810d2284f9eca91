package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loopworks/cadence/pkg/engine"
	"github.com/loopworks/cadence/pkg/enrollment"
	"github.com/loopworks/cadence/pkg/eventbus"
	"github.com/loopworks/cadence/pkg/events"
	"github.com/loopworks/cadence/pkg/lock"
	"github.com/loopworks/cadence/pkg/models"
	"github.com/loopworks/cadence/pkg/otelhelper"
	"github.com/loopworks/cadence/pkg/persistence"
	"github.com/loopworks/cadence/pkg/protocol"
	"github.com/loopworks/cadence/pkg/registry"
)

// WorkerManager drives enrollment execution off the event bus. The API runs
// enrollments inline on ingest; the worker is the backstop that picks up
// enrollments whose inline run was lost, and sweeps enrollments of archived
// automations. The execution lease makes the overlap safe.
type WorkerManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	executor    *engine.Executor
	tracer      trace.Tracer
}

func NewWorkerManager(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	locker lock.Locker,
	snapshots protocol.SnapshotSource,
	logger *slog.Logger,
	registry *registry.Registry,
) *WorkerManager {
	workerLogger := logger.With("module", "cadence-worker", "worker_id", id)

	manager := enrollment.NewManager(persistence, eventBus, workerLogger)
	executor := engine.NewExecutor(
		persistence, registry, manager, locker, snapshots, eventBus,
		workerLogger, engine.Config{WorkerID: id},
	)

	return &WorkerManager{
		id:          id,
		logger:      workerLogger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		executor:    executor,
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager", "worker_id", w.id)

	tracer, err := otelhelper.NewTracer(ctx, "cadence-worker")
	if err != nil {
		return err
	}

	w.tracer = tracer

	err = w.eventBus.Handle(events.EnrollmentCreatedEvent, w.handleEnrollmentCreated)
	if err != nil {
		return err
	}

	err = w.eventBus.Handle(events.AutomationArchivedEvent, w.handleAutomationArchived)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

func (w *WorkerManager) handleEnrollmentCreated(ctx context.Context, event any) error {
	createdEvent, ok := event.(*events.EnrollmentCreated)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for EnrollmentCreated")

		return nil
	}

	traceCtx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.enrollment run",
		attribute.String(otelhelper.AutomationIDKey, createdEvent.AutomationID),
		attribute.String(otelhelper.EnrollmentIDKey, createdEvent.EnrollmentID),
		attribute.String(otelhelper.EntityIDKey, createdEvent.EntityID),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	logger := w.logger.With(
		"automation_id", createdEvent.AutomationID,
		"enrollment_id", createdEvent.EnrollmentID,
	)
	logger.InfoContext(traceCtx, "Processing enrollment created event")

	if err := w.executor.Run(traceCtx, createdEvent.EnrollmentID); err != nil {
		logger.ErrorContext(traceCtx, "Failed to run enrollment", "error", err)
		otelhelper.SetError(span, err)

		return err
	}

	return nil
}

// handleAutomationArchived sweeps the archived automation's active
// enrollments so they cancel promptly instead of waiting for the next
// scheduler contact.
func (w *WorkerManager) handleAutomationArchived(ctx context.Context, event any) error {
	archivedEvent, ok := event.(*events.AutomationArchived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for AutomationArchived")

		return nil
	}

	traceCtx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.automation sweep",
		attribute.String(otelhelper.AutomationIDKey, archivedEvent.AutomationID),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	logger := w.logger.With("automation_id", archivedEvent.AutomationID)
	logger.InfoContext(traceCtx, "Sweeping enrollments of archived automation")

	enrollments, err := w.persistence.Enrollments().ListByAutomation(traceCtx, archivedEvent.AutomationID)
	if err != nil {
		logger.ErrorContext(traceCtx, "Failed to list enrollments", "error", err)
		otelhelper.SetError(span, err)

		return err
	}

	for _, enr := range enrollments {
		if enr.Status != models.EnrollmentStatusActive {
			continue
		}

		if err := w.executor.Run(traceCtx, enr.ID); err != nil {
			logger.ErrorContext(traceCtx, "Failed to cancel enrollment",
				"enrollment_id", enr.ID, "error", err)
			otelhelper.SetError(span, err)
		}
	}

	return nil
}
