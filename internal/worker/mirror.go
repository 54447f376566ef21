package worker

import (
	"context"
	"fmt"
	"log/slog"

	"fintrack/internal/amqp"
	"fintrack/internal/sheets"
)

// MirrorHandler appends every event to the spreadsheet audit log.
type MirrorHandler struct {
	mirror sheets.LedgerMirror
}

func NewMirrorHandler(mirror sheets.LedgerMirror) *MirrorHandler {
	return &MirrorHandler{mirror: mirror}
}

func (h *MirrorHandler) Name() string { return "sheets_mirror" }

func (h *MirrorHandler) Handle(ctx context.Context, ev *amqp.LedgerEvent) error {
	ref, err := h.mirror.AppendEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("append event %s: %w", ev.EventID, err)
	}
	slog.InfoContext(ctx, "Mirrored ledger event",
		"event_id", ev.EventID,
		"kind", ev.Kind,
		"transaction_id", ev.TransactionID,
		"sheets_ref", ref)
	return nil
}
