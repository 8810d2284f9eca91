// Package main provides the Cadence API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/loopworks/cadence/pkg/automation"
	"github.com/loopworks/cadence/pkg/engine"
	"github.com/loopworks/cadence/pkg/enrollment"
	"github.com/loopworks/cadence/pkg/eventbus"
	"github.com/loopworks/cadence/pkg/lock"
	"github.com/loopworks/cadence/pkg/persistence"
	"github.com/loopworks/cadence/pkg/protocol"
	"github.com/loopworks/cadence/pkg/registry"
	"github.com/loopworks/cadence/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	snapshots   protocol.SnapshotSource
	eventBus    eventbus.EventBus
	locker      lock.Locker
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	snapshots protocol.SnapshotSource,
	eventBus eventbus.EventBus,
	locker lock.Locker,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		snapshots:   snapshots,
		eventBus:    eventBus,
		locker:      locker,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	automationService := automation.NewService(a.persistence, a.registry, a.eventBus, a.logger)
	manager := enrollment.NewManager(a.persistence, a.eventBus, a.logger)
	executor := engine.NewExecutor(
		a.persistence, a.registry, manager, a.locker, a.snapshots, a.eventBus,
		a.logger, engine.Config{WorkerID: "cadence-api"},
	)
	dispatcher := engine.NewDispatcher(
		a.persistence, automation.NewMatcher(a.logger), manager, executor, a.eventBus, a.logger,
	)

	handlers := web.NewAPIHandlers(automationService, dispatcher, a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Cadence API")
	})

	w := app.Group("/automations")
	w.Get("/", handlers.GetAutomations)
	w.Post("/", handlers.CreateAutomation)
	w.Get("/:id", handlers.GetAutomation)
	w.Patch("/:id", handlers.UpdateAutomation)
	w.Delete("/:id", handlers.DeleteAutomation)
	w.Post("/:id/publish", handlers.PublishAutomation)
	w.Post("/:id/pause", handlers.PauseAutomation)
	w.Post("/:id/resume", handlers.ResumeAutomation)
	w.Post("/:id/archive", handlers.ArchiveAutomation)
	w.Get("/:id/stats", handlers.GetAutomationStats)
	w.Get("/:id/runs", handlers.GetAutomationRuns)
	w.Get("/:id/enrollments", handlers.GetAutomationEnrollments)

	app.Post("/events", handlers.IngestEvent)
	app.Post("/hooks/:id", handlers.ReceiveWebhook)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
