package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/loopworks/cadence/pkg/cmd"
	"github.com/loopworks/cadence/pkg/log"
)

const defaultPort = 9090

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "cadence-api",
		Usage:                 "Create and manage automations, ingest entity events",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Cadence API")

			registry, snapshots := cmd.NewRegistry(logger, cmd.CollaboratorConfig{
				MessagingURL: command.String("messaging-url"),
				RecordsURL:   command.String("records-url"),
				NotifyURL:    command.String("notify-url"),
			})

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "cadence-api", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			locker := cmd.NewLocker(command.String("redis-url"), logger)

			api := NewAPI(logger, persistence, registry, snapshots, eventBus, locker)

			if err := api.Start(command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
