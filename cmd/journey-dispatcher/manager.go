package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bloomcrm/journey/pkg/dispatcher"
	"github.com/bloomcrm/journey/pkg/eventbus"
	"github.com/bloomcrm/journey/pkg/events"
	"github.com/bloomcrm/journey/pkg/sources/schedule"
)

// DispatcherManager consumes submitted trigger events from the bus and
// hands them to the dispatcher. It optionally runs the cron schedule
// source in the same process.
type DispatcherManager struct {
	logger     *slog.Logger
	dispatcher *dispatcher.Dispatcher
	eventBus   eventbus.EventBus
	source     *schedule.Source
}

func NewDispatcherManager(
	logger *slog.Logger,
	d *dispatcher.Dispatcher,
	eventBus eventbus.EventBus,
	source *schedule.Source,
) *DispatcherManager {
	return &DispatcherManager{
		logger:     logger.With("module", "dispatcher_manager"),
		dispatcher: d,
		eventBus:   eventBus,
		source:     source,
	}
}

func (m *DispatcherManager) Start(ctx context.Context) error {
	if err := m.eventBus.Handle(events.TriggerSubmittedEvent, m.handleTriggerSubmitted); err != nil {
		return err
	}

	if err := m.eventBus.Subscribe(ctx); err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if m.source != nil {
		if err := m.source.Start(ctx); err != nil {
			return err
		}

		defer func() {
			if err := m.source.Stop(ctx); err != nil {
				m.logger.ErrorContext(ctx, "Failed to stop schedule source", "error", err)
			}
		}()
	}

	m.logger.InfoContext(ctx, "Dispatcher started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	m.logger.InfoContext(ctx, "Shutting down dispatcher...")

	return nil
}

func (m *DispatcherManager) handleTriggerSubmitted(ctx context.Context, event any) error {
	submitted, ok := event.(*events.TriggerSubmitted)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for TriggerSubmitted")

		return nil
	}

	logger := m.logger.With(
		"trigger_event_id", submitted.Event.ID,
		"trigger_type", submitted.Event.Type,
		"subject_id", submitted.Event.SubjectID,
	)

	result, err := m.dispatcher.Dispatch(ctx, submitted.Event)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to dispatch trigger event", "error", err)

		// Transient failures (profile backend down) are retried by the bus.
		return err
	}

	logger.InfoContext(ctx, "Dispatched trigger event",
		"matched", result.Matched,
		"enrolled", len(result.EnrollmentIDs),
		"skipped", len(result.Skipped),
	)

	return nil
}
