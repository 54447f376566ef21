// Package sheets mirrors committed ledger events into a spreadsheet-shaped
// audit log, one row per event.
package sheets

import (
	"context"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
)

// Ports for outbound adapters.
type (
	// LedgerMirror appends the event as a row. Appending the same event id
	// twice is a no-op that returns the original reference.
	LedgerMirror interface {
		AppendEvent(ctx context.Context, ev *amqp.LedgerEvent) (rowRef string, err error)
	}

	// RowLister reads back the rows mirrored for a calendar year, oldest first.
	RowLister interface {
		ListRows(ctx context.Context, year int) ([]Row, error)
	}
)

// Header is the first row of every mirror sheet.
var Header = []string{
	"Occurred At", "Event ID", "Kind", "User ID", "Transaction ID",
	"Type", "Amount", "Previous Type", "Previous Amount", "Balance", "Date",
}

const dateLayout = "2006-01-02"

// Row is one mirrored ledger event.
type Row struct {
	OccurredAt     time.Time
	EventID        string
	Kind           amqp.EventKind
	UserID         string
	TransactionID  string
	Type           core.TransactionType
	Amount         core.Money
	PreviousType   core.TransactionType
	PreviousAmount *core.Money
	Balance        core.Money
	Date           time.Time
}

func RowFromEvent(ev *amqp.LedgerEvent) Row {
	return Row{
		OccurredAt:     ev.OccurredAt.UTC(),
		EventID:        ev.EventID,
		Kind:           ev.Kind,
		UserID:         ev.UserID,
		TransactionID:  ev.TransactionID,
		Type:           ev.Type,
		Amount:         ev.Amount,
		PreviousType:   ev.PreviousType,
		PreviousAmount: ev.PreviousAmount,
		Balance:        ev.Balance,
		Date:           ev.Date.UTC(),
	}
}

// Values renders the row in Header order. Amounts are plain decimal strings so
// the sheet never reinterprets them with a locale.
func (r Row) Values() []any {
	prevAmount := ""
	if r.PreviousAmount != nil {
		prevAmount = r.PreviousAmount.String()
	}
	return []any{
		r.OccurredAt.Format(time.RFC3339),
		r.EventID,
		string(r.Kind),
		r.UserID,
		r.TransactionID,
		string(r.Type),
		r.Amount.String(),
		string(r.PreviousType),
		prevAmount,
		r.Balance.String(),
		r.Date.Format(dateLayout),
	}
}

// Year selects the sheet the row belongs to.
func (r Row) Year() int {
	return r.OccurredAt.Year()
}
