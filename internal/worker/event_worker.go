// Package worker consumes ledger events and fans them out to side-effect
// handlers: budget alerts and the spreadsheet mirror.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fintrack/internal/amqp"
)

// Handler reacts to one committed ledger event. Handlers must tolerate
// redelivery: a transient error from any handler retries the event for all
// of them. Errors wrapped with amqp.Permanent are not retried.
type Handler interface {
	Name() string
	Handle(ctx context.Context, ev *amqp.LedgerEvent) error
}

// Consumer is the subset of the AMQP client the worker needs.
type Consumer interface {
	ConsumeLedgerEvents(ctx context.Context, handler func(context.Context, *amqp.LedgerEvent) error) error
}

type EventWorker struct {
	handlers []Handler
}

func NewEventWorker(handlers ...Handler) *EventWorker {
	return &EventWorker{handlers: handlers}
}

// HandleLedgerEvent runs every handler even when an earlier one fails.
func (w *EventWorker) HandleLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	slog.DebugContext(ctx, "Processing ledger event",
		"event_id", ev.EventID,
		"kind", ev.Kind,
		"user_id", ev.UserID)

	var errs []error
	for _, h := range w.handlers {
		if err := h.Handle(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Run consumes until ctx is cancelled. Cancellation is a clean stop.
func (w *EventWorker) Run(ctx context.Context, consumer Consumer) error {
	names := make([]string, len(w.handlers))
	for i, h := range w.handlers {
		names[i] = h.Name()
	}
	slog.InfoContext(ctx, "Event worker started", "handlers", names)

	err := consumer.ConsumeLedgerEvents(ctx, w.HandleLedgerEvent)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
