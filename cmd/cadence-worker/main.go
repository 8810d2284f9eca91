package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/loopworks/cadence/pkg/cmd"
	"github.com/loopworks/cadence/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "cadence-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to execute automation enrollments",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the shared execution lease; empty uses an in-process lock",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "messaging-url",
				Usage:   "Base URL of the messaging service",
				Sources: cli.EnvVars("MESSAGING_URL"),
			},
			&cli.StringFlag{
				Name:    "records-url",
				Usage:   "Base URL of the contact/deal record store",
				Sources: cli.EnvVars("RECORDS_URL"),
			},
			&cli.StringFlag{
				Name:    "notify-url",
				Usage:   "Base URL of the internal notification service",
				Sources: cli.EnvVars("NOTIFY_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("cadence-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Cadence Worker")

			registry, snapshots := cmd.NewRegistry(logger, cmd.CollaboratorConfig{
				MessagingURL: command.String("messaging-url"),
				RecordsURL:   command.String("records-url"),
				NotifyURL:    command.String("notify-url"),
			})

			eventBus := cmd.NewEventBus(command.String("event-bus"), "cadence-worker", logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			locker := cmd.NewLocker(command.String("redis-url"), logger)

			worker := NewWorkerManager(
				workerID,
				persistence,
				eventBus,
				locker,
				snapshots,
				logger,
				registry,
			)

			err := worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start event-driven worker", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
