// Package main provides the Journey trigger dispatcher worker.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/bloomcrm/journey/pkg/cmd"
	"github.com/bloomcrm/journey/pkg/dispatcher"
	"github.com/bloomcrm/journey/pkg/log"
	"github.com/bloomcrm/journey/pkg/sources/schedule"
)

func main() {
	logger := log.WithModule("journey-dispatcher")

	command := &cli.Command{
		Name:                  "journey-dispatcher",
		Usage:                 "Match trigger events against active workflows and create enrollments",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.BoolFlag{
				Name:    "schedule-source",
				Usage:   "Run the cron schedule trigger source in this process",
				Value:   true,
				Sources: cli.EnvVars("SCHEDULE_SOURCE"),
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

			logger.InfoContext(ctx, "Initializing Journey Dispatcher")

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "journey-dispatcher", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			collaborators, store := cmd.NewCollaborators(logger)

			d := dispatcher.NewDispatcher(logger, persistence, collaborators.Profiles, eventBus)

			var source *schedule.Source
			if command.Bool("schedule-source") {
				source = schedule.NewSource(logger, persistence.Workflows(), store, eventBus)
			}

			manager := NewDispatcherManager(logger, d, eventBus, source)

			if err := manager.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to start dispatcher", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
