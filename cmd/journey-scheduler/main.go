// Package main provides the Journey stage scheduler worker.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/bloomcrm/journey/pkg/cmd"
	"github.com/bloomcrm/journey/pkg/executor"
	"github.com/bloomcrm/journey/pkg/log"
	"github.com/bloomcrm/journey/pkg/otelhelper"
	"github.com/bloomcrm/journey/pkg/scheduler"
)

const definitionCacheTTL = 30 * time.Second

func main() {
	command := &cli.Command{
		Name:                  "journey-scheduler",
		Usage:                 "Claim due enrollments and advance them through workflow stages",
		EnableShellCompletion: true,
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
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the shared definition cache (in-process cache when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often each worker polls for due enrollments",
				Value:   5 * time.Second,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum enrollments claimed per polling pass",
				Value:   25,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Number of concurrent scheduler workers",
				Value:   4,
				Sources: cli.EnvVars("WORKERS"),
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
				workerID = "scheduler-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("journey-scheduler").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Journey Scheduler")

			tracer, err := otelhelper.NewTracer(ctx, "journey-scheduler")
			if err != nil {
				return err
			}

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "journey-scheduler", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			collaborators, _ := cmd.NewCollaborators(logger)

			definitions := cmd.NewDefinitionCache(
				logger,
				command.String("redis-url"),
				persistence.Workflows(),
				definitionCacheTTL,
			)

			exec := executor.NewExecutor(logger, tracer, collaborators)

			sched := scheduler.NewScheduler(
				workerID,
				logger,
				tracer,
				persistence,
				definitions,
				collaborators.Profiles,
				exec,
				eventBus,
				scheduler.WithPollInterval(command.Duration("poll-interval")),
				scheduler.WithBatchSize(command.Int("batch-size")),
				scheduler.WithWorkers(command.Int("workers")),
			)

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := sched.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorContext(ctx, "Scheduler stopped with error", "error", err)

				return err
			}

			logger.InfoContext(ctx, "Shutting down scheduler...")

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
