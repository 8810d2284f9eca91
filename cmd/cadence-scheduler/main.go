// Package main provides the Cadence scheduler service: it resumes due waits
// and fires schedule triggers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/loopworks/cadence/pkg/cmd"
	"github.com/loopworks/cadence/pkg/engine"
	"github.com/loopworks/cadence/pkg/enrollment"
	"github.com/loopworks/cadence/pkg/log"
	"github.com/loopworks/cadence/pkg/scheduler"
)

func main() {
	command := &cli.Command{
		Name:                  "cadence-scheduler",
		Usage:                 "Resume due waits and fire schedule triggers",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "scheduler-id",
				Aliases: []string{"id"},
				Usage:   "Custom scheduler ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SCHEDULER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
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
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "Polling interval for due enrollments and schedules",
				Value:   time.Minute,
				Sources: cli.EnvVars("POLL_INTERVAL"),
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

			schedulerID := command.String("scheduler-id")
			if schedulerID == "" {
				schedulerID = "scheduler-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("cadence-scheduler").With("scheduler_id", schedulerID)

			logger.InfoContext(ctx, "Initializing Cadence Scheduler")

			registry, snapshots := cmd.NewRegistry(logger, cmd.CollaboratorConfig{
				MessagingURL: command.String("messaging-url"),
				RecordsURL:   command.String("records-url"),
				NotifyURL:    command.String("notify-url"),
			})

			eventBus := cmd.NewEventBus(command.String("event-bus"), "cadence-scheduler", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			locker := cmd.NewLocker(command.String("redis-url"), logger)

			manager := enrollment.NewManager(persistence, eventBus, logger)
			executor := engine.NewExecutor(
				persistence, registry, manager, locker, snapshots, eventBus,
				logger, engine.Config{WorkerID: schedulerID},
			)

			sched := scheduler.New(
				persistence, manager, executor, snapshots, logger,
				command.Duration("interval"),
			)

			if err := sched.Start(ctx); err != nil {
				return err
			}

			logger.InfoContext(ctx, "Scheduler started successfully")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan
			logger.InfoContext(ctx, "Shutting down scheduler...")

			return sched.Stop(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
