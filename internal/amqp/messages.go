package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
)

type EventKind string

const (
	TransactionCreated EventKind = "transaction.created"
	TransactionUpdated EventKind = "transaction.updated"
	TransactionDeleted EventKind = "transaction.deleted"
)

// LedgerEvent describes one committed ledger write. Balance is the owner's
// balance right after the commit.
type LedgerEvent struct {
	EventID        string               `json:"event_id"`
	Kind           EventKind            `json:"kind"`
	UserID         string               `json:"user_id"`
	TransactionID  string               `json:"transaction_id"`
	Type           core.TransactionType `json:"type"`
	Amount         core.Money           `json:"amount"`
	PreviousType   core.TransactionType `json:"previous_type,omitempty"`
	PreviousAmount *core.Money          `json:"previous_amount,omitempty"`
	Balance        core.Money           `json:"balance"`
	Date           time.Time            `json:"date"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

func NewLedgerEvent(kind EventKind, t core.Transaction, balance core.Money) *LedgerEvent {
	return &LedgerEvent{
		EventID:       uuid.NewString(),
		Kind:          kind,
		UserID:        t.UserID,
		TransactionID: t.ID,
		Type:          t.Type,
		Amount:        t.Amount,
		Balance:       balance,
		Date:          t.Date,
		OccurredAt:    time.Now().UTC(),
	}
}

// WithPrevious records the row as it was before an update.
func (e *LedgerEvent) WithPrevious(prev core.Transaction) *LedgerEvent {
	amount := prev.Amount
	e.PreviousType = prev.Type
	e.PreviousAmount = &amount
	return e
}

// ExpenseDelta is how much the event moved the owner's expenses.
func (e *LedgerEvent) ExpenseDelta() core.Money {
	var delta core.Money
	switch e.Kind {
	case TransactionCreated:
		if e.Type == core.Expense {
			delta = e.Amount
		}
	case TransactionDeleted:
		if e.Type == core.Expense {
			delta = e.Amount.Neg()
		}
	case TransactionUpdated:
		if e.Type == core.Expense {
			delta = e.Amount
		}
		if e.PreviousType == core.Expense && e.PreviousAmount != nil {
			delta = delta.Sub(*e.PreviousAmount)
		}
	}
	return delta
}

func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	switch e.Kind {
	case TransactionCreated, TransactionUpdated, TransactionDeleted:
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.UserID == "" || e.TransactionID == "" {
		return nil, fmt.Errorf("event %s is missing user or transaction id", e.EventID)
	}
	return &e, nil
}
